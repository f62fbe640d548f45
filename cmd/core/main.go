// Package main is the face-nomad command line: capture check-ins, inspect
// the local ledger and drive the sync approval workflow.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/SrTcot/face-nomad/internal/app"
	"github.com/SrTcot/face-nomad/internal/config"
	"github.com/SrTcot/face-nomad/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "face-nomad:", err)
		os.Exit(1)
	}
}

// run parses the global flags, opens the core and executes one command.
func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	global := pflag.NewFlagSet("face-nomad", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(io.Discard)
	configPath := global.String("config", "", "path to the YAML config file")
	asJSON := global.Bool("json", false, "print results as JSON")
	version := global.Bool("version", false, "print the version and exit")
	if err := global.Parse(args); err != nil {
		return err
	}
	if *version {
		fmt.Fprintf(out, "face-nomad v%s\n", Version)
		return nil
	}

	c := &cli{ctx: ctx, in: in, out: out, json: *asJSON}
	c.open = func() (*app.App, error) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(errOut, logging.ParseLevel(cfg.LogLevel))
		return app.New(ctx, cfg, app.Options{})
	}
	defer c.close()

	return c.root().Execute(global.Args(), errOut)
}
