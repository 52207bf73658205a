// Package session owns the single serial connection to a sensor.
//
// A Manager opens the port, keeps a background drain reading (and discarding)
// unsolicited burst output while no command sequence is running, and hands a
// command.Channel to one foreground sequence at a time through
// WithExclusiveAccess. The drain is always stopped, and awaited, before a
// channel is handed out, so the stream is read from exactly one place.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/internal/task"
	"github.com/zenithtek/go-autostart/logger"
)

var (
	// ErrOpen indicates the port could not be opened.
	ErrOpen = errors.New("session: open failed")
	// ErrNotConnected indicates an operation that needs an open session.
	ErrNotConnected = errors.New("session: not connected")
	// ErrInvalidBaud indicates a baud rate outside the allowed set.
	ErrInvalidBaud = errors.New("session: invalid baud rate")
	// ErrHandlerPanic indicates the exclusive handler panicked.
	ErrHandlerPanic = errors.New("session: exclusive handler panic")
	// ErrDrainStuck indicates the drain reader did not return even after the
	// port was closed under it.
	ErrDrainStuck = errors.New("session: drain reader did not stop")
)

// Port is an open serial port. go.bug.st/serial ports satisfy it.
type Port interface {
	command.Port
	io.Closer
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener opens name at baud with 8-N-1 framing.
type Opener func(name string, baud int) (Port, error)

// SerialOpener opens a real serial port: 8 data bits, no parity, 1 stop bit,
// no flow control.
func SerialOpener(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// Handler runs a foreground sequence with exclusive use of the channel.
type Handler func(ctx context.Context, ch *command.Channel) error

// Manager owns one serial session.
type Manager struct {
	cfg    *Config
	logger logger.Logger

	// excl serialises every operation that touches the port: exclusive windows,
	// opens, reconnects and disconnects.
	excl sync.Mutex

	mu   sync.RWMutex // protects port, name and baud
	port Port
	name string
	baud int

	state   atomicState
	drain   *task.Runner
	metrics Metrics
}

// NewManager creates a Manager. The port is not opened until EnsureSession.
func NewManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &Manager{
		cfg:    cfg,
		logger: cfg.logger,
		drain:  task.New("serial-drain", cfg.logger),
	}
}

// EnsureSession makes sure name is open at baud (0 selects the default baud).
//
// A session on a different port is torn down first. The port is reopened only
// if it is not open yet or the baud differs. The drain is (re)started in every
// case.
func (m *Manager) EnsureSession(ctx context.Context, name string, baud int) error {
	if name == "" {
		return fmt.Errorf("%w: empty port name", ErrOpen)
	}
	if baud == 0 {
		baud = m.cfg.defaultBaud
	}
	if !slices.Contains(m.cfg.allowedBauds, baud) {
		return fmt.Errorf("%w: %d (allowed %v)", ErrInvalidBaud, baud, m.cfg.allowedBauds)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.excl.Lock()
	defer m.excl.Unlock()

	if err := m.stopDrain(); err != nil {
		return err
	}

	m.mu.RLock()
	curPort, curName, curBaud := m.port, m.name, m.baud
	m.mu.RUnlock()

	if curPort != nil && (curName != name || curBaud != baud) {
		m.logger.Info("session: closing previous session", "port", curName, "baud", curBaud)
		m.closePort()
		curPort = nil
	}

	if curPort == nil {
		if err := m.open(name, baud); err != nil {
			return err
		}
	}

	return m.startDrain()
}

// Reconnect closes and reopens the last used port at the last used baud.
func (m *Manager) Reconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.excl.Lock()
	defer m.excl.Unlock()

	m.mu.RLock()
	name, baud := m.name, m.baud
	m.mu.RUnlock()

	if name == "" {
		return ErrNotConnected
	}

	m.metrics.incReconnectCount()
	m.logger.Info("session: reconnecting", "port", name, "baud", baud)

	if err := m.stopDrain(); err != nil {
		return err
	}
	m.closePort()

	if err := m.open(name, baud); err != nil {
		return err
	}

	return m.startDrain()
}

// Disconnect stops the drain, closes the port and forgets the session.
// Disconnecting a closed manager is a no-op.
func (m *Manager) Disconnect() error {
	m.excl.Lock()
	defer m.excl.Unlock()

	stopErr := m.stopDrain()
	err := m.closePort()

	m.mu.Lock()
	m.name = ""
	m.baud = 0
	m.mu.Unlock()

	return errors.Join(stopErr, err)
}

// WithExclusiveAccess stops and awaits the drain, flushes the port buffers and
// runs fn with a fresh channel. When fn returns the channel is released and
// the drain restarted.
//
// If fn fails because the device was lost, the port is closed and the drain is
// not restarted; the port name and baud are kept for Reconnect.
func (m *Manager) WithExclusiveAccess(ctx context.Context, fn Handler) (err error) {
	m.excl.Lock()
	defer m.excl.Unlock()

	if !m.state.IsOpened() {
		return ErrNotConnected
	}

	if err := m.stopDrain(); err != nil {
		return fmt.Errorf("session: pause drain: %w", err)
	}

	// a drain stuck in Read is unblocked by closing the port
	m.mu.RLock()
	port, name := m.port, m.name
	m.mu.RUnlock()

	if port == nil {
		return fmt.Errorf("%w: port closed to stop the drain", ErrNotConnected)
	}

	if err := port.ResetInputBuffer(); err != nil {
		m.logger.Debug("session: reset input buffer failed", "port", name, "error", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		m.logger.Debug("session: reset output buffer failed", "port", name, "error", err)
	}

	ch := command.NewChannel(port,
		command.WithReadTimeout(m.cfg.readTimeout),
		command.WithClock(m.cfg.clock),
		command.WithLogger(m.logger),
		command.WithExchangeHook(m.metrics.observeCommand),
	)

	m.metrics.incExclusiveRunCount()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}

		ch.Release()

		if err != nil {
			m.metrics.incExclusiveErrCount()
		}

		if command.IsDeviceLost(err) {
			m.metrics.incDeviceLostCount()
			m.logger.Warn("session: device lost, closing port", "port", name, "error", err)
			m.closePort()

			return
		}

		if startErr := m.startDrain(); startErr != nil {
			m.logger.Warn("session: restart drain failed", "port", name, "error", startErr)
		}
	}()

	return fn(ctx, ch)
}

// IsConnected reports whether a port is open.
func (m *Manager) IsConnected() bool {
	return m.state.IsOpened()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	return m.state.Get()
}

// PortName returns the current (or last reconnectable) port name.
func (m *Manager) PortName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.name
}

// Baud returns the current (or last reconnectable) baud rate.
func (m *Manager) Baud() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.baud
}

// DrainRunning reports whether the background drain is active.
func (m *Manager) DrainRunning() bool {
	return m.drain.Running()
}

// GetMetrics returns the manager's metrics.
func (m *Manager) GetMetrics() *Metrics {
	return &m.metrics
}

// open must be called with excl held and no port open.
func (m *Manager) open(name string, baud int) error {
	if !m.state.ToOpening() {
		return fmt.Errorf("%w: %s: session is %s", ErrOpen, name, m.state.String())
	}

	port, err := m.cfg.opener(name, baud)
	if err != nil {
		m.state.ToClosing()
		m.state.ToClosed()
		m.metrics.incOpenErrCount()
		m.logger.Error("session: open failed", "port", name, "baud", baud, "error", err)

		return fmt.Errorf("%w: %s at %d baud: %w", ErrOpen, name, baud, err)
	}

	m.mu.Lock()
	m.port = port
	m.name = name
	m.baud = baud
	m.mu.Unlock()

	m.state.ToOpened()
	m.metrics.incOpenCount()
	m.logger.Info("session: port opened", "port", name, "baud", baud)

	return nil
}

// closePort must be called with excl held and the drain stopped.
// The port name and baud are kept.
func (m *Manager) closePort() error {
	m.mu.Lock()
	port := m.port
	m.port = nil
	m.mu.Unlock()

	if port == nil {
		return nil
	}

	m.state.ToClosing()
	err := port.Close()
	m.state.ToClosed()

	if err != nil && !command.IsDeviceLost(err) {
		m.logger.Warn("session: close failed", "port", m.PortName(), "error", err)
		return fmt.Errorf("session: close %s: %w", m.PortName(), err)
	}

	m.logger.Info("session: port closed", "port", m.PortName())

	return nil
}

// stopDrain cancels the drain and waits for it to return. A reader still
// blocked after the stop timeout is unblocked by closing the port; if it does
// not return within another stop timeout, ErrDrainStuck is returned and the
// port stays closed. Must be called with excl held.
func (m *Manager) stopDrain() error {
	err := m.drain.Stop(m.cfg.drainStopTimeout)
	if err == nil {
		return nil
	}

	m.logger.Warn("session: drain did not stop, closing port", "port", m.PortName(), "error", err)
	m.closePort()

	done := m.drain.Done()
	if done == nil {
		return nil
	}

	timer := time.NewTimer(m.cfg.drainStopTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrDrainStuck, m.PortName())
	}
}

// startDrain must be called with excl held.
func (m *Manager) startDrain() error {
	m.mu.RLock()
	port, name := m.port, m.name
	m.mu.RUnlock()

	if port == nil {
		return ErrNotConnected
	}

	return m.drain.Start(context.Background(), m.drainLoop(port, name))
}

// drainLoop reads and discards unsolicited bytes until cancelled or the
// reader fails.
func (m *Manager) drainLoop(port Port, name string) task.Func {
	buf := make([]byte, m.cfg.drainChunkSize)
	poll := m.cfg.drainPollInterval

	return func(ctx context.Context) bool {
		if err := port.SetReadTimeout(poll); err != nil {
			m.drainFailed(ctx, name, err)
			return false
		}

		n, err := port.Read(buf)
		m.metrics.addDrainedBytes(n)
		if n > 0 {
			m.logger.Debug("session: drained bytes", "port", name, "count", n)
		}

		if err != nil {
			m.drainFailed(ctx, name, err)
			return false
		}

		return true
	}
}

func (m *Manager) drainFailed(ctx context.Context, name string, err error) {
	if ctx.Err() != nil {
		return
	}

	m.metrics.incDrainErrCount()
	if command.IsDeviceLost(err) {
		m.metrics.incDeviceLostCount()
	}
	m.logger.Warn("session: drain reader stopped", "port", name, "error", err)
}

