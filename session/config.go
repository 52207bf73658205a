package session

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/clock"
	"github.com/zenithtek/go-autostart/logger"
	"github.com/zenithtek/go-autostart/profile"
)

// Default values.
const (
	DefaultDrainChunkSize    = 256
	DefaultDrainPollInterval = 100 * time.Millisecond
	DefaultDrainStopTimeout  = 2 * time.Second
	DefaultReadTimeout       = command.DefaultReadTimeout
)

// Range limits.
const (
	MinDrainPollInterval = 5 * time.Millisecond
	MaxDrainPollInterval = 5 * time.Second
	MaxDrainChunkSize    = 64 * 1024
)

// Config holds the session manager configuration.
type Config struct {
	opener       Opener
	logger       logger.Logger
	clock        clock.Clock
	defaultBaud  int
	allowedBauds []int

	drainChunkSize    int
	drainPollInterval time.Duration
	drainStopTimeout  time.Duration
	readTimeout       time.Duration
}

// NewConfig creates a session configuration.
// opts are functional options applied in order; see With* functions.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		opener:            SerialOpener,
		logger:            logger.GetLogger(),
		clock:             clock.Real(),
		defaultBaud:       profile.DefaultBaud,
		allowedBauds:      slices.Clone(profile.SupportedBauds),
		drainChunkSize:    DefaultDrainChunkSize,
		drainPollInterval: DefaultDrainPollInterval,
		drainStopTimeout:  DefaultDrainStopTimeout,
		readTimeout:       DefaultReadTimeout,
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if !slices.Contains(cfg.allowedBauds, cfg.defaultBaud) {
		return nil, fmt.Errorf("session: default baud %d not in allowed set %v", cfg.defaultBaud, cfg.allowedBauds)
	}
	if cfg.drainStopTimeout <= cfg.drainPollInterval {
		return nil, fmt.Errorf("session: drain stop timeout %v must exceed poll interval %v",
			cfg.drainStopTimeout, cfg.drainPollInterval)
	}

	return cfg, nil
}

// DefaultBaud returns the baud used when callers pass 0.
func (cfg *Config) DefaultBaud() int { return cfg.defaultBaud }

// AllowedBauds returns the accepted baud rates.
func (cfg *Config) AllowedBauds() []int { return slices.Clone(cfg.allowedBauds) }

// ReadTimeout returns the command response budget.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// Logger returns the configured logger.
func (cfg *Config) Logger() logger.Logger { return cfg.logger }

// --- Option ---

// Option is a functional option for configuring a Config.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithOpener sets the function used to open ports. Tests use it to plug in a simulator.
func WithOpener(opener Opener) Option {
	return optFunc(func(cfg *Config) error {
		if opener == nil {
			return errors.New("session: opener cannot be nil")
		}
		cfg.opener = opener

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("session: logger cannot be nil")
		}
		cfg.logger = l

		return nil
	})
}

// WithClock sets the clock handed to command channels.
func WithClock(clk clock.Clock) Option {
	return optFunc(func(cfg *Config) error {
		if clk == nil {
			return errors.New("session: clock cannot be nil")
		}
		cfg.clock = clk

		return nil
	})
}

// WithDefaultBaud sets the baud used when EnsureSession is called with 0.
func WithDefaultBaud(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return fmt.Errorf("session: invalid default baud %d", baud)
		}
		cfg.defaultBaud = baud

		return nil
	})
}

// WithAllowedBauds replaces the accepted baud set.
func WithAllowedBauds(bauds ...int) Option {
	return optFunc(func(cfg *Config) error {
		if len(bauds) == 0 {
			return errors.New("session: allowed bauds cannot be empty")
		}
		for _, b := range bauds {
			if b <= 0 {
				return fmt.Errorf("session: invalid baud %d", b)
			}
		}
		cfg.allowedBauds = slices.Clone(bauds)

		return nil
	})
}

// WithDrainChunkSize sets the drain read buffer size.
func WithDrainChunkSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n <= 0 || n > MaxDrainChunkSize {
			return fmt.Errorf("session: drain chunk size %d out of range (1..%d)", n, MaxDrainChunkSize)
		}
		cfg.drainChunkSize = n

		return nil
	})
}

// WithDrainPollInterval sets the drain read timeout, which bounds how long
// stopping the drain can take.
func WithDrainPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinDrainPollInterval || d > MaxDrainPollInterval {
			return fmt.Errorf("session: drain poll interval %v out of range (%v..%v)", d, MinDrainPollInterval, MaxDrainPollInterval)
		}
		cfg.drainPollInterval = d

		return nil
	})
}

// WithDrainStopTimeout sets how long to wait for the drain to stop.
func WithDrainStopTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid drain stop timeout %v", d)
		}
		cfg.drainStopTimeout = d

		return nil
	})
}

// WithReadTimeout sets the command response budget.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return fmt.Errorf("session: invalid read timeout %v", d)
		}
		cfg.readTimeout = d

		return nil
	})
}
