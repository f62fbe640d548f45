package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/SrTcot/face-nomad/internal/app"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/ledger"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/telemetry"
)

// cli carries the per-invocation state shared by every command.
type cli struct {
	ctx  context.Context
	in   io.Reader
	out  io.Writer
	json bool

	open func() (*app.App, error)
	app  *app.App
}

// core opens the application on first use.
func (c *cli) core() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.open()
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// print writes v as JSON with --json, otherwise calls text.
func (c *cli) print(v interface{}, text func(w io.Writer)) error {
	if c.json {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}

func (c *cli) root() *Command {
	return &Command{
		Name:    "face-nomad",
		Summary: "Offline-first attendance check-in client.",
		Subcommands: []*Command{
			c.loginCommand(),
			{Name: "logout", Summary: "Log out and discard stored credentials", Run: c.logout},
			{Name: "whoami", Summary: "Show the logged-in user", Run: c.whoami},
			c.captureCommand(),
			c.listCommand(),
			{Name: "pending", Summary: "List records not yet uploaded", Run: c.pending},
			{Name: "delete", Summary: "Delete a local record", Usage: "face-nomad delete <id>", Run: c.deleteRecord},
			{Name: "dedup", Summary: "Remove consecutive duplicate captures", Run: c.dedup},
			c.clearCommand(),
			c.exportCommand(),
			c.importCommand(),
			{Name: "request-approval", Summary: "Ask a supervisor to approve a sync", Run: c.requestApproval},
			{Name: "approval", Summary: "Refresh and show the approval state", Run: c.approval},
			{Name: "status", Summary: "Show sync status", Run: c.status},
			{Name: "sync", Summary: "Upload pending records", Run: c.sync},
			{Name: "download", Summary: "List records held by the authority", Run: c.download},
			{Name: "requests", Summary: "List pending approval requests (supervisors)", Run: c.requests},
			{Name: "decide", Summary: "Approve or reject a request (supervisors)", Usage: "face-nomad decide <id> approve|reject", Run: c.decide},
		},
	}
}

// ===== Session =====

func (c *cli) loginCommand() *Command {
	return &Command{
		Name:    "login",
		Summary: "Log in to the authority",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
			fs.StringP("username", "u", "", "username")
			fs.StringP("password", "p", "", "password; read from stdin when omitted")
			return fs
		},
		Run: func(flags *pflag.FlagSet, _ []string) error {
			username, _ := flags.GetString("username")
			password, _ := flags.GetString("password")
			if password == "" {
				line, err := bufio.NewReader(c.in).ReadString('\n')
				if err != nil && err != io.EOF {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}
			a, err := c.core()
			if err != nil {
				return err
			}
			user, err := a.Session.Login(c.ctx, username, password)
			if err != nil {
				return err
			}
			return c.print(user, func(w io.Writer) {
				fmt.Fprintf(w, "Logged in as %s (%s)\n", user.Username, user.RoleName())
			})
		},
	}
}

func (c *cli) logout(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	if err := a.Session.Logout(c.ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Logged out")
	return nil
}

func (c *cli) whoami(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	user := a.Session.CurrentUser(c.ctx)
	if user == nil {
		return apperrors.New(apperrors.ErrSessionExpired, "not logged in")
	}
	expiry := a.Session.TokenExpiry(c.ctx)
	return c.print(map[string]interface{}{"user": user, "token_expiry": expiry}, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s)\n", user.Username, user.RoleName())
		if expiry != nil {
			fmt.Fprintf(w, "access token expires %s\n", expiry.Local().Format(time.RFC3339))
		}
	})
}

// ===== Ledger =====

func (c *cli) captureCommand() *Command {
	return &Command{
		Name:    "capture",
		Summary: "Record an entry or exit",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("capture", pflag.ContinueOnError)
			fs.String("worker-id", "", "worker identifier")
			fs.String("worker-name", "", "worker display name")
			fs.String("type", "", "entry or exit")
			fs.Float64("confidence", -1, "recognition confidence in [0,1]")
			return fs
		},
		Run: func(flags *pflag.FlagSet, _ []string) error {
			rec := models.NewRecord{}
			rec.WorkerID, _ = flags.GetString("worker-id")
			rec.WorkerName, _ = flags.GetString("worker-name")
			typ, _ := flags.GetString("type")
			rec.Type = models.RecordType(typ)
			if flags.Changed("confidence") {
				confidence, _ := flags.GetFloat64("confidence")
				rec.Confidence = &confidence
			}

			a, err := c.core()
			if err != nil {
				return err
			}
			outcome, err := a.Recorder.Record(c.ctx, rec)
			if err != nil {
				return err
			}
			if outcome.Duplicate != nil {
				return apperrors.New(apperrors.ErrDuplicate, outcome.Duplicate.Message)
			}
			r := outcome.Record
			return c.print(r, func(w io.Writer) {
				fmt.Fprintf(w, "Recorded %s for %s at %s %s (id %d)\n", r.Type, r.WorkerID, r.Date, r.Time, r.ID)
			})
		},
	}
}

func (c *cli) listCommand() *Command {
	return &Command{
		Name:    "list",
		Summary: "List local records, newest first",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
			fs.String("worker-id", "", "only this worker's records")
			return fs
		},
		Run: func(flags *pflag.FlagSet, _ []string) error {
			a, err := c.core()
			if err != nil {
				return err
			}
			var records []models.AttendanceRecord
			if workerID, _ := flags.GetString("worker-id"); workerID != "" {
				records, err = a.Ledger.GetByWorker(c.ctx, workerID)
			} else {
				records, err = a.Ledger.GetAll(c.ctx)
			}
			if err != nil {
				return err
			}
			return c.printRecords(records)
		},
	}
}

func (c *cli) pending(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	records, err := a.Ledger.GetPending(c.ctx)
	if err != nil {
		return err
	}
	return c.printRecords(records)
}

func (c *cli) printRecords(records []models.AttendanceRecord) error {
	return c.print(records, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWORKER\tNAME\tTYPE\tDATE\tTIME\tSYNCED")
		for _, r := range records {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%t\n", r.ID, r.WorkerID, r.WorkerName, r.Type, r.Date, r.Time, r.Synced)
		}
		tw.Flush()
	})
}

func parseID(args []string) (int64, error) {
	if len(args) < 1 {
		return 0, apperrors.New(apperrors.ErrInvalid, "record id required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalid, "invalid id %q", args[0])
	}
	return id, nil
}

func (c *cli) deleteRecord(_ *pflag.FlagSet, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	a, err := c.core()
	if err != nil {
		return err
	}
	if err := a.Ledger.Delete(c.ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted record %d\n", id)
	return nil
}

func (c *cli) dedup(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	removed, err := ledger.CleanDuplicates(c.ctx, a.Ledger)
	if err != nil {
		return err
	}
	return c.print(map[string]int{"removed": removed}, func(w io.Writer) {
		fmt.Fprintf(w, "Removed %d duplicate record(s)\n", removed)
	})
}

func (c *cli) clearCommand() *Command {
	return &Command{
		Name:    "clear",
		Summary: "Delete every local record",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("clear", pflag.ContinueOnError)
			fs.Bool("yes", false, "confirm deleting unsynced records too")
			return fs
		},
		Run: func(flags *pflag.FlagSet, _ []string) error {
			if yes, _ := flags.GetBool("yes"); !yes {
				return apperrors.New(apperrors.ErrInvalid, "refusing to clear the ledger without --yes")
			}
			a, err := c.core()
			if err != nil {
				return err
			}
			if err := a.Ledger.Clear(c.ctx); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "Ledger cleared")
			return nil
		},
	}
}

// ===== Sync =====

func (c *cli) requestApproval(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	req, err := a.Workflow.RequestApproval(c.ctx)
	if err != nil {
		return err
	}
	return c.print(req, func(w io.Writer) {
		fmt.Fprintf(w, "Approval request %d submitted for %d record(s)\n", req.ID, req.RecordsCount)
	})
}

func (c *cli) approval(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	state, err := a.Workflow.ApprovalStatus(c.ctx)
	if err != nil {
		return err
	}
	return c.print(state, func(w io.Writer) {
		fmt.Fprintf(w, "approval: %s\n", state.Status)
		if state.ExpiresAt != nil {
			fmt.Fprintf(w, "expires:  %s\n", state.ExpiresAt.Local().Format(time.RFC3339))
		}
		fmt.Fprintf(w, "can sync: %t\n", state.CanSync)
	})
}

func (c *cli) status(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	pending, err := a.Workflow.PendingChanges(c.ctx)
	if err != nil {
		return err
	}
	status := map[string]interface{}{
		"status":       a.Workflow.Status(),
		"pending":      pending,
		"last_sync":    a.Workflow.LastSync(),
		"last_attempt": a.Workflow.LastAttempt(),
		"can_sync":     a.Workflow.CanSync(c.ctx),
		"approval":     a.Workflow.Approval().Status,
		"device_id":    a.Workflow.DeviceID(),
		"telemetry":    telemetry.GetSnapshot(),
	}
	return c.print(status, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "status:\t%s\n", status["status"])
		fmt.Fprintf(tw, "pending:\t%d\n", pending)
		fmt.Fprintf(tw, "last sync:\t%s\n", formatTime(a.Workflow.LastSync()))
		fmt.Fprintf(tw, "approval:\t%s\n", status["approval"])
		fmt.Fprintf(tw, "can sync:\t%t\n", status["can_sync"])
		fmt.Fprintf(tw, "device:\t%s\n", status["device_id"])
		if err := a.Workflow.LastError(); err != nil {
			fmt.Fprintf(tw, "last error:\t%s\n", err)
		}
		snap := telemetry.GetSnapshot()
		for _, name := range snap.Names() {
			fmt.Fprintf(tw, "%s:\t%d\n", name, snap.Counters[name])
		}
		tw.Flush()
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}

func (c *cli) sync(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	result, err := a.Scheduler.SyncNow(c.ctx)
	if result != nil {
		c.print(result, func(w io.Writer) {
			fmt.Fprintf(w, "Uploaded %d record(s) in %d batch(es), %d remaining\n",
				result.Uploaded, result.Batches, result.Remaining)
		})
	}
	return err
}

func (c *cli) download(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	records, err := a.Workflow.Download(c.ctx)
	if err != nil {
		return err
	}
	return c.print(records, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWORKER\tNAME\tTYPE\tTIMESTAMP")
		for _, r := range records {
			ts := ""
			if r.Timestamp != nil {
				ts = r.Timestamp.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, r.WorkerID, r.WorkerName, r.Type, ts)
		}
		tw.Flush()
	})
}

func (c *cli) requests(_ *pflag.FlagSet, _ []string) error {
	a, err := c.core()
	if err != nil {
		return err
	}
	requests, err := a.Workflow.ListPendingApprovalRequests(c.ctx)
	if err != nil {
		return err
	}
	return c.print(requests, func(w io.Writer) {
		tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREQUESTER\tRECORDS\tREQUESTED")
		for _, r := range requests {
			at := ""
			if r.RequestedAt != nil {
				at = r.RequestedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", r.ID, r.Requester, r.RecordsCount, at)
		}
		tw.Flush()
	})
}

func (c *cli) decide(_ *pflag.FlagSet, args []string) error {
	id, err := parseID(args)
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return apperrors.New(apperrors.ErrInvalid, "decision required: approve or reject")
	}
	a, err := c.core()
	if err != nil {
		return err
	}
	req, err := a.Workflow.Decide(c.ctx, id, models.Decision(args[1]))
	if err != nil {
		return err
	}
	return c.print(req, func(w io.Writer) {
		fmt.Fprintf(w, "Request %d is now %s\n", req.ID, req.Status)
	})
}
