package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"tradecore/internal/audit/journal"
	"tradecore/internal/audit/reportlog"
	"tradecore/internal/config"
	"tradecore/internal/conn"
	"tradecore/internal/execution"
	"tradecore/internal/gateway/sim"
	"tradecore/internal/instrument"
	"tradecore/internal/logger"
	"tradecore/internal/reconcile"
)

// App owns the daemon's wiring: load config, build the gateway stack,
// run the session and the reconcile loop until the context ends.
type App struct {
	cfg        *config.Config
	sup        *conn.Supervisor
	engine     *execution.Engine
	reconciler *reconcile.Reconciler
	registry   *instrument.Registry
	journal    *journal.Store
	reports    *reportlog.Store
	simServer  *sim.Server
	recOffset  time.Duration
	Summary    *StartupSummary
}

// NewApp builds the application object from config without starting it.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run connects the session and drives the background loops. Blocks
// until ctx is cancelled or a loop fails; cancellation is a clean stop.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.sup == nil || a.engine == nil {
		return fmt.Errorf("gateway stack not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	if err := a.sup.Connect(ctx); err != nil {
		a.Close()
		return fmt.Errorf("initial connect: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.reconciler != nil {
		group.Go(func() error {
			a.reconciler.Loop(ctx, a.recOffset, a.reports)
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := group.Wait()
	a.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close disconnects the session and releases stores. Safe to call more
// than once.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.sup != nil {
		if err := a.sup.Disconnect(); err != nil {
			logger.Warnf("[app] disconnect: %v", err)
		}
	}
	if a.simServer != nil {
		if err := a.simServer.Close(); err != nil {
			logger.Warnf("[app] close embedded venue: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Warnf("[app] close journal: %v", err)
		}
	}
	if a.reports != nil {
		if err := a.reports.Close(); err != nil {
			logger.Warnf("[app] close report log: %v", err)
		}
	}
}

// Engine exposes the execution engine (for testing/replay harnesses).
func (a *App) Engine() *execution.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Supervisor exposes the connection supervisor (for testing harnesses).
func (a *App) Supervisor() *conn.Supervisor {
	if a == nil {
		return nil
	}
	return a.sup
}

// Reconciler exposes the reconciler for manual range runs; nil when
// reconciliation is disabled.
func (a *App) Reconciler() *reconcile.Reconciler {
	if a == nil {
		return nil
	}
	return a.reconciler
}

// Registry exposes the live instrument registry.
func (a *App) Registry() *instrument.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}
