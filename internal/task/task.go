// Package task runs a single cancellable background loop, such as the serial
// drain reader, with cooperative stop semantics: Stop signals cancellation and
// then waits for the loop to return.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zenithtek/go-autostart/logger"
)

// ErrAlreadyRunning is returned by Start when the loop is still running.
var ErrAlreadyRunning = errors.New("task: already running")

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("task: stop timeout")

// Func is one iteration of a loop. It returns false to end the loop.
// Long blocking work inside Func must honour ctx.
type Func func(ctx context.Context) bool

// Runner owns at most one running loop.
type Runner struct {
	name   string
	logger logger.Logger

	mu     sync.Mutex // protects cancel and done
	cancel context.CancelFunc
	done   chan struct{}

	running    atomic.Bool
	iterations atomic.Uint64
}

// New creates a Runner. name is used in log messages.
func New(name string, l logger.Logger) *Runner {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Runner{name: name, logger: l}
}

// Start launches fn in a goroutine, calling it repeatedly until it returns
// false, it panics, or the loop is cancelled by Stop or by parent.
func (r *Runner) Start(parent context.Context, fn Func) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, r.name)
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	r.running.Store(true)

	started := make(chan struct{})

	go func() {
		defer func() {
			r.running.Store(false)
			cancel()
			close(done)
			r.logger.Debug("task: loop terminated", "name", r.name, "iterations", r.iterations.Load())
		}()

		close(started)
		r.runLoop(ctx, fn)
	}()

	<-started
	r.logger.Debug("task: loop started", "name", r.name)

	return nil
}

func (r *Runner) runLoop(ctx context.Context, fn Func) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("task: panic in loop", "name", r.name, "panic", rec)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.iterations.Add(1)
		if !fn(ctx) {
			return
		}
	}
}

// Stop cancels the loop and waits up to timeout for it to return.
// Stopping a Runner that is not running is a no-op.
func (r *Runner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s after %v", ErrStopTimeout, r.name, timeout)
	}
}

// Running reports whether the loop goroutine is alive.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Done returns a channel closed when the current loop exits. It returns nil if
// the Runner was never started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.done
}

// Iterations returns the total number of loop iterations run so far.
func (r *Runner) Iterations() uint64 {
	return r.iterations.Load()
}
