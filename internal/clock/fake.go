package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a Clock whose Sleep advances virtual time immediately.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

var _ Clock = (*Fake)(nil)

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.Advance(d)

	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()

	return nil
}

// Advance moves virtual time forward by d.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}

	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Sleeps returns every duration passed to Sleep, in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)

	return out
}

// Elapsed returns the virtual time passed since start.
func (f *Fake) Elapsed(start time.Time) time.Duration {
	return f.Now().Sub(start)
}
