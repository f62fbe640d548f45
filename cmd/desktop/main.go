// Package main runs the local check-in server for the desktop shell.
// The shell talks to it over REST and WebSocket on the loopback interface.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/pflag"

	"github.com/SrTcot/face-nomad/cmd/desktop/handlers"
	"github.com/SrTcot/face-nomad/internal/app"
	"github.com/SrTcot/face-nomad/internal/config"
	"github.com/SrTcot/face-nomad/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.String("config", "", "path to the YAML config file")
	listen := pflag.String("listen", "", "override desktop.listen_addr")
	pflag.Parse()

	if err := run(*configPath, *listen); err != nil {
		fmt.Fprintln(os.Stderr, "face-nomad-desktop:", err)
		os.Exit(1)
	}
}

func run(configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Desktop.ListenAddr = listen
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	hub := NewWSHub()
	defer hub.Close()
	a.Workflow.SetEventHandler(hub)
	a.Scheduler.Start(ctx)

	server := &http.Server{
		Addr:              cfg.Desktop.ListenAddr,
		Handler:           newRouter(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Desktop server listening", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down desktop server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newRouter registers every local API route.
func newRouter(a *app.App, hub *WSHub) http.Handler {
	sessions := handlers.NewSessionHandler(a.Session)
	records := handlers.NewRecordsHandler(a.Ledger, a.Recorder)
	syncs := handlers.NewSyncHandler(a.Workflow, a.Scheduler)
	backups := handlers.NewBackupHandler(a.Exporter)

	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/api/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","service":"face-nomad-desktop"}`))
	})

	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", sessions.Current)
		r.Post("/login", sessions.Login)
		r.Post("/logout", sessions.Logout)
	})

	r.Route("/api/records", func(r chi.Router) {
		r.Get("/", records.List)
		r.Post("/", records.Create)
		r.Get("/pending", records.Pending)
		r.Post("/dedup", records.Dedup)
		r.Get("/export", backups.Export)
		r.Post("/import", backups.Import)
		r.Delete("/{id}", records.Delete)
	})

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/", syncs.Sync)
		r.Get("/status", syncs.Status)
		r.Get("/approval-status", syncs.ApprovalStatus)
		r.Post("/request-approval", syncs.RequestApproval)
		r.Get("/download", syncs.Download)
		r.Get("/requests", syncs.Requests)
		r.Post("/requests/{id}", syncs.Decide)
	})

	r.Get("/ws", HandleWebSocket(hub))
	return r
}

// statusRecorder captures the status written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogger logs each API request at debug level. /ws is passed through
// untouched since the upgrader needs the original writer.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logging.Debug("Request handled", map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		})
	})
}
