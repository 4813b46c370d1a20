package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/qexec/internal/backend"
	"github.com/seantiz/qexec/internal/backend/remote"
	"github.com/seantiz/qexec/internal/backend/statevector"
	"github.com/seantiz/qexec/internal/config"
	"github.com/seantiz/qexec/internal/engine"
	"github.com/seantiz/qexec/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "qexec",
	Short: "Run quantum kernels on simulated and remote QPUs",
	Long: `qexec samples quantum kernels on a platform of QPUs. QPUs are local
state-vector simulators or remote qexec services, configured through
QEXEC_* environment variables or a YAML platform file.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatalf("qexec: %v", err)
	}
}

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	registry *backend.Registry
	engine   *engine.Engine
}

// newApp opens the run store and builds the platform. Logs go to w.
func newApp(w io.Writer) (*app, error) {
	cfg := config.Load()
	logger := config.NewLogger(w, cfg.LogLevel)

	specs, err := cfg.QPUSpecs()
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reg := backend.NewRegistry()
	reg.Register(statevector.BackendName,
		backend.Capabilities{Name: statevector.BackendName, MaxQudits: cfg.MaxQubits},
		statevector.Factory(logger))
	reg.Register(remote.BackendName,
		backend.Capabilities{Name: remote.BackendName, Remote: true},
		remote.Factory(logger))

	p, err := engine.NewPlatform(reg, specs, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build platform: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    db,
		registry: reg,
		engine:   engine.NewEngine(p, db, logger),
	}, nil
}

// Close waits for in-flight runs and closes the store.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Error("close engine", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store", "error", err)
	}
}

// openStore opens only the run store, for commands that do not sample.
func openStore() (store.Store, error) {
	cfg := config.Load()
	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func init() {
	rootCmd.AddCommand(serveCmd, sampleCmd, qpusCmd, runsCmd)
}
