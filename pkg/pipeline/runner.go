package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Runner drives one or more tasks concurrently to completion. It holds no
// state beyond the tasks it is given — purely an operational convenience.
type Runner struct {
	handleSignals bool
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithSignalHandler makes [Runner.Run] listen for SIGINT/SIGTERM and cancel
// every owned task when one arrives, then await their termination.
func WithSignalHandler() RunnerOption {
	return func(r *Runner) { r.handleSignals = true }
}

// NewRunner creates a runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes every task and blocks until all have terminated. A task
// finishing with [ErrCancelled] counts as a clean termination; the first
// other error is returned after the remaining tasks have been cancelled and
// awaited.
func (r *Runner) Run(ctx context.Context, tasks ...*Task) error {
	if len(tasks) == 0 {
		return nil
	}

	if r.handleSignals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	// External cancellation maps to Cancel on every owned task.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-gctx.Done():
			for _, t := range tasks {
				t.Cancel()
			}
		case <-finished:
		}
	}()

	for _, t := range tasks {
		g.Go(func() error {
			err := t.Run(gctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, ErrCancelled):
				slog.Info("task cancelled", "task_id", t.ID())
				return nil
			default:
				slog.Error("task failed", "task_id", t.ID(), "err", err)
				return err
			}
		})
	}

	return g.Wait()
}
