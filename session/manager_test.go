package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/simulator"
)

func simOpener(sim *simulator.Sensor) Opener {
	return func(name string, baud int) (Port, error) {
		p, err := sim.Open(name, baud)
		if err != nil {
			return nil, err
		}

		return p, nil
	}
}

func newTestManager(t *testing.T, sim *simulator.Sensor, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{
		WithOpener(simOpener(sim)),
		WithDrainPollInterval(10 * time.Millisecond),
		WithReadTimeout(200 * time.Millisecond),
	}, opts...)

	cfg, err := NewConfig(opts...)
	require.NoError(t, err)

	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Disconnect() })

	return m
}

func TestManager_EnsureSession(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := simulator.New(simulator.Config{})
	m := newTestManager(t, sim)

	require.False(m.IsConnected())
	require.NoError(m.EnsureSession(ctx, "/dev/ttyUSB0", 0))
	require.True(m.IsConnected())
	require.True(m.DrainRunning())
	require.Equal("/dev/ttyUSB0", m.PortName())
	require.Equal(460800, m.Baud())
	require.Equal(OpenedState, m.State())

	// same port and baud: no reopen, drain restarted
	require.NoError(m.EnsureSession(ctx, "/dev/ttyUSB0", 460800))
	require.Equal(1, sim.Stats().Opens)
	require.True(m.DrainRunning())

	// baud change reopens
	require.NoError(m.EnsureSession(ctx, "/dev/ttyUSB0", 921600))
	require.Equal(2, sim.Stats().Opens)
	require.Equal(921600, sim.Stats().LastBaud)

	// port change tears down first
	require.NoError(m.EnsureSession(ctx, "/dev/ttyUSB1", 921600))
	require.Equal(3, sim.Stats().Opens)
	require.Equal("/dev/ttyUSB1", m.PortName())
	require.Equal(uint64(3), m.GetMetrics().OpenCount.Load())
}

func TestManager_EnsureSession_Errors(t *testing.T) {
	ctx := context.Background()

	sim := simulator.New(simulator.Config{})
	m := newTestManager(t, sim)

	err := m.EnsureSession(ctx, "/dev/ttyUSB0", 115200)
	require.ErrorIs(t, err, ErrInvalidBaud)

	err = m.EnsureSession(ctx, "", 0)
	require.ErrorIs(t, err, ErrOpen)

	openErr := errors.New("permission denied")
	sim.SetBehavior(simulator.Behavior{OpenErr: openErr})

	err = m.EnsureSession(ctx, "/dev/ttyUSB0", 0)
	require.ErrorIs(t, err, ErrOpen)
	require.ErrorIs(t, err, openErr)
	require.False(t, m.IsConnected())
	require.Equal(t, ClosedState, m.State())
	require.Equal(t, uint64(1), m.GetMetrics().OpenErrCount.Load())

	// a later open succeeds from the closed state
	sim.SetBehavior(simulator.Behavior{})
	require.NoError(t, m.EnsureSession(ctx, "/dev/ttyUSB0", 0))
}

func TestManager_WithExclusiveAccess(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := simulator.New(simulator.Config{ProductID: "G365PDF1"})
	m := newTestManager(t, sim)
	require.NoError(m.EnsureSession(ctx, "sim", 0))

	var held *command.Channel
	err := m.WithExclusiveAccess(ctx, func(ctx context.Context, ch *command.Channel) error {
		held = ch
		require.False(m.DrainRunning())

		id, err := ch.ReadIdentityString(ctx, command.ProductIDRegisters)
		require.NoError(err)
		require.Equal("G365PDF1", id)

		return nil
	})
	require.NoError(err)
	require.True(m.DrainRunning())
	require.Equal(1, sim.Stats().InputResets)

	_, err = held.SendCommand(ctx, command.ResetFrame())
	require.ErrorIs(err, command.ErrChannelReleased)

	metrics := m.GetMetrics()
	require.Equal(uint64(1), metrics.ExclusiveRunCount.Load())
	require.Equal(uint64(8), metrics.CommandCount.Load())
	require.Zero(metrics.CommandErrCount.Load())
}

func TestManager_WithExclusiveAccess_NotConnected(t *testing.T) {
	m := newTestManager(t, simulator.New(simulator.Config{}))

	err := m.WithExclusiveAccess(context.Background(), func(context.Context, *command.Channel) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_WithExclusiveAccess_HandlerError(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t, simulator.New(simulator.Config{}))
	require.NoError(t, m.EnsureSession(ctx, "sim", 0))

	errBoom := errors.New("boom")
	err := m.WithExclusiveAccess(ctx, func(context.Context, *command.Channel) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.True(t, m.IsConnected())
	require.True(t, m.DrainRunning())
	require.Equal(t, uint64(1), m.GetMetrics().ExclusiveErrCount.Load())
}

func TestManager_WithExclusiveAccess_Panic(t *testing.T) {
	ctx := context.Background()

	m := newTestManager(t, simulator.New(simulator.Config{}))
	require.NoError(t, m.EnsureSession(ctx, "sim", 0))

	err := m.WithExclusiveAccess(ctx, func(context.Context, *command.Channel) error { panic("bad frame") })
	require.ErrorIs(t, err, ErrHandlerPanic)
	require.True(t, m.IsConnected())
	require.True(t, m.DrainRunning())
}

func TestManager_DeviceLostAndReconnect(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	sim := simulator.New(simulator.Config{})
	m := newTestManager(t, sim)
	require.NoError(m.EnsureSession(ctx, "sim", 460800))

	sim.SetBehavior(simulator.Behavior{DropAfterFrames: 1, Drops: 1})

	err := m.WithExclusiveAccess(ctx, func(ctx context.Context, ch *command.Channel) error {
		_, err := ch.SendCommands(ctx, command.ResetSequence())
		return err
	})
	require.ErrorIs(err, command.ErrDeviceLost)
	require.False(m.IsConnected())
	require.False(m.DrainRunning())
	require.Equal("sim", m.PortName())
	require.Equal(uint64(1), m.GetMetrics().DeviceLostCount.Load())

	require.NoError(m.Reconnect(ctx))
	require.True(m.IsConnected())
	require.True(m.DrainRunning())
	require.Equal(2, sim.Stats().Opens)
	require.Equal(460800, sim.Stats().LastBaud)
	require.Equal(uint64(1), m.GetMetrics().ReconnectCount.Load())
}

func TestManager_DrainConsumesStream(t *testing.T) {
	ctx := context.Background()

	sim := simulator.New(simulator.Config{AutoStart: true})
	m := newTestManager(t, sim)
	require.NoError(t, m.EnsureSession(ctx, "sim", 0))

	require.Eventually(t, func() bool {
		return m.GetMetrics().DrainedBytes.Load() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestManager_Disconnect(t *testing.T) {
	ctx := context.Background()

	sim := simulator.New(simulator.Config{})
	m := newTestManager(t, sim)
	require.NoError(t, m.EnsureSession(ctx, "sim", 0))

	require.NoError(t, m.Disconnect())
	require.False(t, m.IsConnected())
	require.False(t, m.DrainRunning())
	require.False(t, sim.IsOpen())
	require.Empty(t, m.PortName())

	require.ErrorIs(t, m.Reconnect(ctx), ErrNotConnected)
	require.NoError(t, m.Disconnect())
}

func TestNewConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"nil opener", []Option{WithOpener(nil)}},
		{"nil logger", []Option{WithLogger(nil)}},
		{"nil clock", []Option{WithClock(nil)}},
		{"bad default baud", []Option{WithDefaultBaud(-1)}},
		{"default not allowed", []Option{WithDefaultBaud(115200)}},
		{"empty bauds", []Option{WithAllowedBauds()}},
		{"chunk too big", []Option{WithDrainChunkSize(MaxDrainChunkSize + 1)}},
		{"poll too short", []Option{WithDrainPollInterval(time.Millisecond)}},
		{"stop below poll", []Option{WithDrainPollInterval(time.Second), WithDrainStopTimeout(500 * time.Millisecond)}},
		{"zero read timeout", []Option{WithReadTimeout(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfig(tt.opts...)
			require.Error(t, err)
		})
	}

	cfg, err := NewConfig(WithAllowedBauds(115200), WithDefaultBaud(115200))
	require.NoError(t, err)
	require.Equal(t, 115200, cfg.DefaultBaud())
	require.Equal(t, []int{115200}, cfg.AllowedBauds())
	require.Equal(t, DefaultReadTimeout, cfg.ReadTimeout())
}
