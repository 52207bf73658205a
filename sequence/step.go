package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/clock"
	"github.com/zenithtek/go-autostart/logger"
)

// step is one unit of a plan.
type step interface {
	Name() string
	Run(ctx context.Context, rc *runContext) error
}

// plan is an ordered list of steps. Cleanup steps run after the steps on
// every exit path, best effort: their errors are logged, never returned.
type plan struct {
	name    string
	steps   []step
	cleanup []step
}

// runContext is the state shared by the steps of one run.
type runContext struct {
	ch     *command.Channel
	clock  clock.Clock
	logger logger.Logger
	result *Result

	captured map[string]uint16
}

func newRunContext(ch *command.Channel, clk clock.Clock, l logger.Logger, res *Result) *runContext {
	return &runContext{
		ch:       ch,
		clock:    clk,
		logger:   l,
		result:   res,
		captured: make(map[string]uint16),
	}
}

func (rc *runContext) run(ctx context.Context, p plan) (err error) {
	defer func() {
		if len(p.cleanup) == 0 {
			return
		}

		cctx := context.WithoutCancel(ctx)
		for _, st := range p.cleanup {
			if cerr := st.Run(cctx, rc); cerr != nil {
				rc.logger.Warn("sequence: cleanup step failed", "plan", p.name, "step", st.Name(), "error", cerr)
				continue
			}
			rc.logger.Debug("sequence: cleanup step done", "plan", p.name, "step", st.Name())
		}
	}()

	for _, st := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := st.Run(ctx, rc); err != nil {
			return fmt.Errorf("%s: %w", st.Name(), err)
		}

		if _, nested := st.(planStep); !nested {
			rc.logger.Info("sequence: "+st.Name(), "plan", p.name)
		}
	}

	return nil
}

// sendStep sends raw frames.
type sendStep struct {
	name string
	cmds []command.Command
}

func (s sendStep) Name() string { return s.name }

func (s sendStep) Run(ctx context.Context, rc *runContext) error {
	_, err := rc.ch.SendCommands(ctx, s.cmds)
	return err
}

// writeStep writes one register byte.
type writeStep struct {
	name  string
	reg   command.Register
	value byte
}

func (s writeStep) Name() string { return s.name }

func (s writeStep) Run(ctx context.Context, rc *runContext) error {
	return rc.ch.WriteRegister(ctx, s.reg, s.value)
}

// pollStep reads reg every interval until the masked bits clear. It fails with
// timeoutErr once the bits stayed set for the whole budget.
type pollStep struct {
	name       string
	reg        command.Register
	mask       uint16
	interval   time.Duration
	budget     time.Duration
	timeoutErr error
}

func (s pollStep) Name() string { return s.name }

func (s pollStep) Run(ctx context.Context, rc *runContext) error {
	start := rc.clock.Now()

	for polls := 1; ; polls++ {
		v, err := rc.ch.ReadRegister(ctx, s.reg)
		if err != nil {
			return err
		}

		if v&s.mask == 0 {
			rc.logger.Debug("sequence: poll cleared", "register", s.reg.Name, "value", fmt.Sprintf("0x%04X", v), "polls", polls)
			return nil
		}

		if elapsed := rc.clock.Now().Sub(start); elapsed >= s.budget {
			timeoutErr := s.timeoutErr
			if timeoutErr == nil {
				timeoutErr = command.ErrTimeout
			}

			return fmt.Errorf("%w: %s=0x%04X still busy (mask 0x%04X) after %v, %d polls",
				timeoutErr, s.reg.Name, v, s.mask, elapsed, polls)
		}

		if err := rc.clock.Sleep(ctx, s.interval); err != nil {
			return err
		}
	}
}

// verifyStep reads reg and hands the word to check.
type verifyStep struct {
	name  string
	reg   command.Register
	check func(v uint16) error
}

func (s verifyStep) Name() string { return s.name }

func (s verifyStep) Run(ctx context.Context, rc *runContext) error {
	v, err := rc.ch.ReadRegister(ctx, s.reg)
	if err != nil {
		return err
	}

	return s.check(v)
}

// captureStep reads reg and stores the word under key.
type captureStep struct {
	name string
	reg  command.Register
	key  string
}

func (s captureStep) Name() string { return s.name }

func (s captureStep) Run(ctx context.Context, rc *runContext) error {
	v, err := rc.ch.ReadRegister(ctx, s.reg)
	if err != nil {
		return err
	}

	rc.captured[s.key] = v
	rc.logger.Debug("sequence: captured register", "register", s.reg.Name, "value", fmt.Sprintf("0x%04X", v))

	return nil
}

// delayStep waits a fixed time.
type delayStep struct {
	name string
	d    time.Duration
}

func (s delayStep) Name() string { return s.name }

func (s delayStep) Run(ctx context.Context, rc *runContext) error {
	return rc.clock.Sleep(ctx, s.d)
}

// actionStep runs arbitrary logic against the run context.
type actionStep struct {
	name string
	fn   func(ctx context.Context, rc *runContext) error
}

func (s actionStep) Name() string { return s.name }

func (s actionStep) Run(ctx context.Context, rc *runContext) error {
	return s.fn(ctx, rc)
}

// warnStep runs inner and turns its failure into a result warning. Device
// loss and cancellation still fail the run.
type warnStep struct {
	inner   step
	warning string
}

func (s warnStep) Name() string { return s.inner.Name() }

func (s warnStep) Run(ctx context.Context, rc *runContext) error {
	err := s.inner.Run(ctx, rc)
	if err == nil {
		return nil
	}

	if command.IsDeviceLost(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	rc.logger.Warn("sequence: "+s.warning, "step", s.inner.Name(), "error", err)
	rc.result.warn(s.warning)

	return nil
}

// planStep runs a nested plan, including its cleanup.
type planStep struct {
	plan plan
}

func (s planStep) Name() string { return s.plan.name }

func (s planStep) Run(ctx context.Context, rc *runContext) error {
	return rc.run(ctx, s.plan)
}
