// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/clock"
)

// Defaults used by Default.
const (
	DefaultMaxAttempts = 2
	DefaultDelay       = 4 * time.Second
)

// ErrInvalidPolicy is returned for a policy with MaxAttempts < 1.
var ErrInvalidPolicy = errors.New("retry: invalid policy")

// Policy controls Do.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Delay is waited before every retry.
	Delay time.Duration
	// Retryable reports whether an error should be retried. Nil retries nothing.
	Retryable func(error) bool
	// Clock is used for Delay; nil means the wall clock.
	Clock clock.Clock
}

// Default retries a device-lost error once after 4 s.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Delay:       DefaultDelay,
		Retryable:   command.IsDeviceLost,
	}
}

// Hook is called before each retry with the upcoming attempt number (2 for the
// first retry) and the error that caused it. A non-nil return aborts Do with
// that error.
type Hook func(ctx context.Context, attempt int, cause error) error

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made and the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onRetry Hook) (int, error) {
	if p.MaxAttempts < 1 {
		return 0, fmt.Errorf("%w: max attempts %d", ErrInvalidPolicy, p.MaxAttempts)
	}

	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if attempt >= p.MaxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}

		if sleepErr := clk.Sleep(ctx, p.Delay); sleepErr != nil {
			return attempt, errors.Join(err, sleepErr)
		}

		if onRetry != nil {
			if hookErr := onRetry(ctx, attempt+1, err); hookErr != nil {
				return attempt, errors.Join(err, hookErr)
			}
		}
	}
}
