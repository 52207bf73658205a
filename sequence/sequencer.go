// Package sequence runs the Auto Start routines (configure, detect, exit auto
// mode, factory reset) against a sensor session.
//
// Each routine is a plan: an ordered list of typed steps (send, write, poll,
// verify, ...) executed inside one exclusive access window of the session.
// Routines never return errors; every outcome, including panics, becomes a
// Result with an ErrorKind.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/clock"
	"github.com/zenithtek/go-autostart/logger"
	"github.com/zenithtek/go-autostart/profile"
	"github.com/zenithtek/go-autostart/retry"
	"github.com/zenithtek/go-autostart/session"
)

// Session is the part of session.Manager the sequencer needs.
type Session interface {
	WithExclusiveAccess(ctx context.Context, fn session.Handler) error
	Reconnect(ctx context.Context) error
	Disconnect() error
}

var _ Session = (*session.Manager)(nil)

// Sequencer runs routines against one session.
type Sequencer struct {
	session  Session
	registry *profile.Registry
	timing   Timing
	retry    retry.Policy
	clock    clock.Clock
	logger   logger.Logger
}

// Option configures a Sequencer.
type Option interface {
	apply(*Sequencer) error
}

type optFunc func(*Sequencer) error

func (f optFunc) apply(s *Sequencer) error { return f(s) }

// WithTiming replaces the poll budgets and settle delays.
func WithTiming(t Timing) Option {
	return optFunc(func(s *Sequencer) error {
		if err := t.validate(); err != nil {
			return err
		}
		s.timing = t

		return nil
	})
}

// WithRetryPolicy replaces the device-lost retry policy used by Configure.
func WithRetryPolicy(p retry.Policy) Option {
	return optFunc(func(s *Sequencer) error {
		if p.MaxAttempts < 1 {
			return fmt.Errorf("%w: max attempts %d", retry.ErrInvalidPolicy, p.MaxAttempts)
		}
		s.retry = p

		return nil
	})
}

// WithClock sets the clock used for polls, delays and retries.
func WithClock(clk clock.Clock) Option {
	return optFunc(func(s *Sequencer) error {
		if clk == nil {
			return errors.New("sequence: clock cannot be nil")
		}
		s.clock = clk

		return nil
	})
}

// WithLogger sets the logger receiving milestone events.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(s *Sequencer) error {
		if l == nil {
			return errors.New("sequence: logger cannot be nil")
		}
		s.logger = l

		return nil
	})
}

func errInvalidTiming(name string, a, b time.Duration) error {
	return fmt.Errorf("sequence: invalid %s timing (%v, %v)", name, a, b)
}

// New creates a Sequencer. A nil registry selects profile.Default().
func New(sess Session, reg *profile.Registry, opts ...Option) (*Sequencer, error) {
	if sess == nil {
		return nil, errors.New("sequence: session cannot be nil")
	}
	if reg == nil {
		reg = profile.Default()
	}

	s := &Sequencer{
		session:  sess,
		registry: reg,
		timing:   DefaultTiming(),
		retry:    retry.Default(),
		clock:    clock.Real(),
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	if s.retry.Clock == nil {
		s.retry.Clock = s.clock
	}

	return s, nil
}

// Registry returns the profile registry in use.
func (s *Sequencer) Registry() *profile.Registry {
	return s.registry
}

// ConfigureIMU enables UART Auto Start on an IMU at rateSPS (0 selects the
// profile default) and saves it to flash.
func (s *Sequencer) ConfigureIMU(ctx context.Context, rateSPS float64) Result {
	var rate *float64
	if rateSPS != 0 {
		rate = &rateSPS
	}

	return s.configure(ctx, profile.IMU, rate)
}

// ConfigureVibration enables UART Auto Start on a vibration sensor, which
// has a fixed sampling rate, and saves it to flash.
func (s *Sequencer) ConfigureVibration(ctx context.Context) Result {
	return s.configure(ctx, profile.Vibration, nil)
}

func (s *Sequencer) configure(ctx context.Context, sensor profile.SensorType, rate *float64) Result {
	p, opt, err := s.resolveConfigure(sensor, rate)
	if err != nil {
		return s.rejected(OpConfigure, err)
	}

	res := s.execute(ctx, OpConfigure, s.retry, func(res *Result) plan {
		res.SensorType = p.Type
		if !p.FixedSampling() {
			res.SamplingRateSPS = opt.RateSPS
			res.FilterLabel = opt.FilterLabel
		}

		return s.configurePlan(p, opt)
	}, "sensor", sensor)

	if res.Success {
		res.RequiresRestart = true
		res.Message = "Sensor configured for UART Auto Start. Power-cycle the sensor to start streaming."
	}

	return res
}

func (s *Sequencer) resolveConfigure(sensor profile.SensorType, rate *float64) (*profile.Profile, profile.SamplingOption, error) {
	p, err := s.registry.Profile(sensor)
	if err != nil {
		return nil, profile.SamplingOption{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if p.FixedSampling() {
		if rate != nil {
			return nil, profile.SamplingOption{}, fmt.Errorf("%w: %s sensors do not accept a sampling rate", ErrInvalidRequest, sensor)
		}

		return p, profile.SamplingOption{}, nil
	}

	var opt profile.SamplingOption
	if rate == nil {
		opt, err = p.DefaultSamplingOption()
	} else {
		opt, err = p.SamplingOption(*rate)
	}
	if err != nil {
		return nil, profile.SamplingOption{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	return p, opt, nil
}

// Detect reads the sensor identity and resolves its type.
func (s *Sequencer) Detect(ctx context.Context) Result {
	res := s.execute(ctx, OpDetect, noRetry, func(*Result) plan { return s.detectPlan() })
	if res.Success {
		res.Message = "Sensor identity retrieved successfully."
	}

	return res
}

// ExitAutoMode returns the sensor to configuration mode with UART Auto Start
// disabled. With persist the disabled state is saved to flash.
func (s *Sequencer) ExitAutoMode(ctx context.Context, persist bool) Result {
	res := s.execute(ctx, OpExitAutoMode, noRetry, func(*Result) plan { return s.exitAutoPlan(persist) }, "persist", persist)
	if res.Success {
		res.Message = "Auto Start disabled."
		if persist {
			res.Message = "Auto Start disabled and saved to flash."
		}
	}

	return res
}

// FactoryReset disables Auto Start persistently, runs the flash self-test and
// reboots the sensor.
func (s *Sequencer) FactoryReset(ctx context.Context) Result {
	res := s.execute(ctx, OpFactoryReset, noRetry, func(*Result) plan { return s.factoryResetPlan() })
	if res.Success {
		res.Message = "Factory reset complete."
	}

	return res
}

// CheckAutoMode reports whether UART_AUTO and AUTO_START are set, without
// changing device state.
func (s *Sequencer) CheckAutoMode(ctx context.Context) Result {
	res := s.execute(ctx, OpCheckAutoMode, noRetry, func(*Result) plan { return s.checkAutoPlan() })
	if res.Success && res.AutoMode != nil {
		res.Message = "Auto Start is disabled."
		if *res.AutoMode {
			res.Message = "Auto Start is enabled."
		}
	}

	return res
}

// Run dispatches req to the matching routine.
func (s *Sequencer) Run(ctx context.Context, req Request) Result {
	switch req.Operation {
	case OpConfigure:
		return s.configure(ctx, req.Sensor, req.RateSPS)
	case OpDetect:
		return s.Detect(ctx)
	case OpExitAutoMode:
		return s.ExitAutoMode(ctx, req.Persist)
	case OpFactoryReset:
		return s.FactoryReset(ctx)
	case OpCheckAutoMode:
		return s.CheckAutoMode(ctx)
	default:
		return s.rejected(req.Operation, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, req.Operation))
	}
}

var noRetry = retry.Policy{MaxAttempts: 1}

func (s *Sequencer) rejected(op Operation, err error) Result {
	res := Result{RunID: uuid.NewString(), Operation: op}
	res.fail(err)
	s.logger.Error("sequence: request rejected", "operation", op, "run_id", res.RunID, "error", err)

	return res
}

// execute runs the plan built by build inside an exclusive access window,
// retrying per policy. build is called once per attempt with a fresh Result.
func (s *Sequencer) execute(ctx context.Context, op Operation, policy retry.Policy, build func(*Result) plan, kv ...any) (res Result) {
	runID := uuid.NewString()
	log := s.logger.With(append([]any{"operation", op, "run_id", runID}, kv...)...)

	if policy.Clock == nil {
		policy.Clock = s.clock
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{RunID: runID, Operation: op}
			res.fail(fmt.Errorf("%w: %v", ErrPanic, r))
			log.Error("sequence: routine panicked", "panic", r)
			s.closeAfterFailure(log)
		}
	}()

	log.Info("sequence: started")

	attempts, err := policy.Do(ctx,
		func(ctx context.Context, attempt int) error {
			res = Result{RunID: runID, Operation: op}
			p := build(&res)

			return s.session.WithExclusiveAccess(ctx, func(ctx context.Context, ch *command.Channel) error {
				rc := newRunContext(ch, s.clock, log.With("attempt", attempt), &res)
				return rc.run(ctx, p)
			})
		},
		func(ctx context.Context, attempt int, cause error) error {
			log.Warn("sequence: device lost, reconnecting and retrying", "attempt", attempt, "error", cause)
			return s.session.Reconnect(ctx)
		},
	)
	res.Attempts = attempts

	if err != nil {
		res.fail(err)
		log.Error("sequence: failed", "kind", res.ErrorKind, "attempts", attempts, "error", err)

		if isCatastrophic(err) {
			s.closeAfterFailure(log)
		}

		return res
	}

	res.Success = true
	log.Info("sequence: completed", "attempts", attempts, "warnings", len(res.Warnings))

	return res
}

// isCatastrophic reports failures after which the port state is unknown.
func isCatastrophic(err error) bool {
	return command.IsDeviceLost(err) || errors.Is(err, session.ErrHandlerPanic) || errors.Is(err, session.ErrOpen)
}

func (s *Sequencer) closeAfterFailure(log logger.Logger) {
	if err := s.session.Disconnect(); err != nil {
		log.Warn("sequence: close after failure", "error", err)
		return
	}
	log.Info("sequence: session closed after failure")
}
