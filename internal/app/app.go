// Package app wires the check-in core from a Config. Both the desktop
// server and the CLI start from New.
package app

import (
	"context"

	"github.com/SrTcot/face-nomad/internal/clock"
	"github.com/SrTcot/face-nomad/internal/config"
	"github.com/SrTcot/face-nomad/internal/crypto"
	"github.com/SrTcot/face-nomad/internal/db"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/export"
	"github.com/SrTcot/face-nomad/internal/ledger"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/remote"
	"github.com/SrTcot/face-nomad/internal/session"
	"github.com/SrTcot/face-nomad/internal/storage"
	syncpkg "github.com/SrTcot/face-nomad/internal/sync"
	"github.com/SrTcot/face-nomad/internal/sync/scheduler"
)

// App holds every wired component.
type App struct {
	Config    config.Config
	Clock     clock.Clock
	DB        *db.DB
	Ledger    *ledger.SQLiteStore
	Recorder  *ledger.Recorder
	Store     storage.Store
	Vault     *crypto.Vault
	Remote    *remote.Client
	Session   *session.Manager
	Workflow  *syncpkg.Workflow
	Scheduler *scheduler.Scheduler
	Exporter  *export.Service
}

// Options overrides parts of the wiring, as tests do.
type Options struct {
	Clock  clock.Clock
	Remote *remote.Client
	// Memory opens an in-memory database instead of the data directory.
	Memory bool
}

// New opens the database, applies migrations and wires the components.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var (
		database *db.DB
		err      error
	)
	if opts.Memory {
		database, err = db.OpenMemory()
	} else {
		database, err = db.Open(cfg.DataDir)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "could not open database", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, apperrors.Wrap(apperrors.ErrMigration, "could not migrate database", err)
	}

	a := &App{Config: cfg, Clock: clk, DB: database}
	a.Store = storage.NewSQLiteStore(database.DB)

	keys, err := keySource(cfg.Vault, a.Store)
	if err != nil {
		database.Close()
		return nil, err
	}
	a.Vault = crypto.NewVault(keys)

	a.Ledger = ledger.NewSQLiteStore(database.DB, clk, ledger.CaptureFormat{
		DateLayout: cfg.Capture.DateLayout,
		TimeLayout: cfg.Capture.TimeLayout,
		Location:   cfg.Capture.Loc(),
	})
	a.Recorder = ledger.NewRecorder(a.Ledger)

	a.Remote = opts.Remote
	if a.Remote == nil {
		a.Remote = remote.New(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	}
	a.Session = session.NewManager(a.Remote, a.Vault, a.Store, clk)

	a.Workflow, err = syncpkg.NewWorkflow(ctx, syncpkg.Deps{
		Ledger:    a.Ledger,
		Authority: a.Remote,
		Session:   a.Session,
		Store:     a.Store,
		Clock:     clk,
		BatchSize: cfg.Sync.BatchSize,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Scheduler = scheduler.NewScheduler(a.Workflow, a.Remote, clk, &scheduler.SchedulerConfig{
		SyncInterval: cfg.Sync.SyncInterval,
		PollInterval: cfg.Sync.PollInterval,
		AutoSync:     cfg.Sync.AutoSync,
	})

	a.Exporter = export.NewService(a.Ledger, clk, a.Workflow.DeviceID())

	logging.Info("core ready", map[string]interface{}{
		"data_dir":   cfg.DataDir,
		"remote":     cfg.Remote.BaseURL,
		"device_id":  a.Workflow.DeviceID(),
		"key_source": cfg.Vault.KeySource,
	})
	return a, nil
}

func keySource(cfg config.VaultConfig, store storage.Store) (crypto.KeySource, error) {
	if cfg.KeySource != config.KeySourcePassphrase {
		return crypto.NewStoredKey(store), nil
	}
	keys, err := crypto.NewPassphraseKey(store, cfg.Passphrase())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "vault passphrase missing; set "+cfg.PassphraseEnv, err)
	}
	return keys, nil
}

// Close stops the scheduler and releases the database.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Ledger != nil {
		a.Ledger.Close()
	}
	return a.DB.Close()
}
