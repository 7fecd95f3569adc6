// Package bootstrap wires configuration, logging, and the supervised
// goroutines (reconciliation loop, collector loop, background scheduler)
// into one process lifecycle, grounded on the teacher's App/Runner/
// errgroup shape (internal/bootstrap/app.go) adapted from slog to the
// zap-backed core.Logger used throughout this module.
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gridbot/internal/core"
)

// App holds the application's core dependencies, built once at startup.
type App struct {
	Cfg    *Config
	Logger core.Logger
}

// NewApp bootstraps configuration and logging.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := InitLogger(cfg)

	return &App{
		Cfg:    cfg,
		Logger: logger,
	}, nil
}

// Runner is any long-running component supervised by Run.
type Runner interface {
	Run(ctx context.Context) error
}

// Run starts every runner under one errgroup and a context cancelled on
// SIGINT/SIGTERM. The first runner to return an error cancels the rest.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("starting application")

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			a.Logger.Error("application stopped with error", "error", err)
			return err
		}
	}

	a.Logger.Info("application shut down gracefully")
	return nil
}

// Shutdown gives cleanup hooks a bounded window; currently a log line, held
// for callers that need a single place to add resource teardown.
func (a *App) Shutdown(timeout time.Duration) {
	a.Logger.Info("shutting down", "timeout", timeout)
}
