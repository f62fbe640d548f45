package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
)

// BackupPasswordEnv supplies the archive password when --password is not set.
const BackupPasswordEnv = "FACENOMAD_EXPORT_PASSWORD"

func backupFlags(name, pathFlag, pathUsage string) func() *pflag.FlagSet {
	return func() *pflag.FlagSet {
		fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
		fs.StringP(pathFlag, string(pathFlag[0]), "", pathUsage)
		fs.String("password", "", "archive password; defaults to $"+BackupPasswordEnv+", empty for none")
		return fs
	}
}

func backupPassword(flags *pflag.FlagSet) string {
	if p, _ := flags.GetString("password"); p != "" {
		return p
	}
	return os.Getenv(BackupPasswordEnv)
}

func (c *cli) exportCommand() *Command {
	return &Command{
		Name:    "export",
		Summary: "Write every local record to a backup archive",
		Usage:   "face-nomad export --out <file> [--password <pw>]",
		Flags:   backupFlags("export", "out", "archive file to create"),
		Run: func(flags *pflag.FlagSet, _ []string) error {
			path, _ := flags.GetString("out")
			if path == "" {
				return apperrors.New(apperrors.ErrInvalid, "--out is required")
			}
			a, err := c.core()
			if err != nil {
				return err
			}

			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrStorage, "could not create archive file", err)
			}
			result, err := a.Exporter.Export(c.ctx, f, backupPassword(flags))
			if cerr := f.Close(); err == nil && cerr != nil {
				err = apperrors.Wrap(apperrors.ErrStorage, "could not write archive file", cerr)
			}
			if err != nil {
				os.Remove(path)
				return err
			}
			return c.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "Exported %d record(s), %d pending, to %s\n",
					result.Manifest.RecordCount, result.Manifest.Pending, path)
			})
		},
	}
}

func (c *cli) importCommand() *Command {
	return &Command{
		Name:    "import",
		Summary: "Restore records from a backup archive",
		Usage:   "face-nomad import --in <file> [--password <pw>]",
		Flags:   backupFlags("import", "in", "archive file to read"),
		Run: func(flags *pflag.FlagSet, _ []string) error {
			path, _ := flags.GetString("in")
			if path == "" {
				return apperrors.New(apperrors.ErrInvalid, "--in is required")
			}
			a, err := c.core()
			if err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrNotFound, "could not open archive file", err)
			}
			defer f.Close()

			result, err := a.Exporter.Import(c.ctx, f, backupPassword(flags))
			if err != nil {
				return err
			}
			return c.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "Imported %d record(s), skipped %d already present\n",
					result.ImportedCount, result.SkippedCount)
			})
		},
	}
}
