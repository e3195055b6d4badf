// Package app provides the top-level application lifecycle for the dexmetrics
// service. It wires together the chain reader, price resolver, aggregation
// pipeline, cache, stores, and read API, and starts the goroutines the
// configured operating mode requires.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/varalabs/dexmetrics/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. Callers should invoke Close afterwards.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "serve":
		return a.serveMode(ctx, deps)
	case "sync":
		return a.syncMode(ctx, deps)
	case "full":
		return a.fullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// serveMode runs only the read API against whatever snapshots are cached.
func (a *App) serveMode(ctx context.Context, deps *Dependencies) error {
	err := deps.Server.Run(ctx)
	if ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

// syncMode runs only the refresh pipeline.
func (a *App) syncMode(ctx context.Context, deps *Dependencies) error {
	err := deps.Orchestrator.Run(ctx)
	if ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

// fullMode runs the refresh pipeline and the read API concurrently.
func (a *App) fullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Orchestrator.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	g.Go(func() error {
		err := deps.Server.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
