// Package bootstrap runs the long-lived components of the service under one lifecycle
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"signal_trader/internal/core"

	"golang.org/x/sync/errgroup"
)

// Runner is a component that runs until ctx is done
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Named attaches a name used in lifecycle logs
func Named(name string, r Runner) Runner {
	return namedRunner{name: name, Runner: r}
}

type namedRunner struct {
	Runner
	name string
}

// App owns the process lifecycle
type App struct {
	logger core.ILogger
	// closers run in reverse order after every runner has returned
	closers []func() error
}

// NewApp creates an App logging through logger
func NewApp(logger core.ILogger) *App {
	return &App{logger: logger.WithField("component", "bootstrap")}
}

// OnShutdown registers fn to run once all runners have stopped
func (a *App) OnShutdown(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Run starts every runner and blocks until SIGINT, SIGTERM or the first runner failure
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext is Run with a caller supplied parent context
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, gctx := errgroup.WithContext(ctx)

	a.logger.Info("Starting application", "components", len(runners))
	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			err := r.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("Component failed", "component", nameOf(r), "error", err)
				return err
			}
			a.logger.Debug("Component stopped", "component", nameOf(r))
			return nil
		})
	}

	err := g.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if cerr := a.closers[i](); cerr != nil {
			a.logger.Warn("Shutdown hook failed", "error", cerr)
		}
	}

	if err != nil {
		a.logger.Error("Application stopped with error", "error", err)
		return err
	}
	a.logger.Info("Application shut down gracefully")
	return nil
}

func nameOf(r Runner) string {
	if n, ok := r.(namedRunner); ok {
		return n.name
	}
	return "unnamed"
}
