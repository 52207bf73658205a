package command

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/zenithtek/go-autostart/internal/clock"
	"github.com/zenithtek/go-autostart/logger"
)

// DefaultReadTimeout bounds the wait for a complete response.
const DefaultReadTimeout = 3 * time.Second

// Port is the transport a Channel talks over. go.bug.st/serial ports satisfy it.
//
// Read must return (0, nil) once the read timeout elapses without data, the way
// serial ports do.
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
}

// ChannelOption configures a Channel.
type ChannelOption interface {
	apply(*Channel)
}

type channelOptFunc func(*Channel)

func (f channelOptFunc) apply(c *Channel) { f(c) }

// WithReadTimeout sets the response budget. Non-positive values are ignored.
func WithReadTimeout(d time.Duration) ChannelOption {
	return channelOptFunc(func(c *Channel) {
		if d > 0 {
			c.readTimeout = d
		}
	})
}

// WithLogger sets the logger used for frame traces.
func WithLogger(l logger.Logger) ChannelOption {
	return channelOptFunc(func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithClock sets the clock used for read deadlines.
func WithClock(clk clock.Clock) ChannelOption {
	return channelOptFunc(func(c *Channel) {
		if clk != nil {
			c.clock = clk
		}
	})
}

// WithExchangeHook registers fn to be called after every exchange with its
// outcome. Session metrics use it.
func WithExchangeHook(fn func(cmd Command, err error)) ChannelOption {
	return channelOptFunc(func(c *Channel) {
		c.hook = fn
	})
}

// Channel is a half-duplex command/response exchange over a Port.
//
// A Channel is handed out for the length of one exclusive access window and
// must not be used after it is released. It is not safe for concurrent use.
type Channel struct {
	port        Port
	readTimeout time.Duration
	clock       clock.Clock
	logger      logger.Logger
	hook        func(cmd Command, err error)

	released atomic.Bool
}

// NewChannel wraps port.
func NewChannel(port Port, opts ...ChannelOption) *Channel {
	c := &Channel{
		port:        port,
		readTimeout: DefaultReadTimeout,
		clock:       clock.Real(),
		logger:      logger.GetLogger(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	return c
}

// Release invalidates the channel. Later sends fail with ErrChannelReleased.
func (c *Channel) Release() {
	c.released.Store(true)
}

// Released reports whether Release was called.
func (c *Channel) Released() bool {
	return c.released.Load()
}

// ReadTimeout returns the response budget.
func (c *Channel) ReadTimeout() time.Duration {
	return c.readTimeout
}

// SendCommand writes cmd and, if it expects a response, reads exactly that
// many bytes. It returns nil for commands without a response.
func (c *Channel) SendCommand(ctx context.Context, cmd Command) ([]byte, error) {
	resp, err := c.exchange(ctx, cmd)
	if c.hook != nil {
		c.hook(cmd, err)
	}

	return resp, err
}

func (c *Channel) exchange(ctx context.Context, cmd Command) ([]byte, error) {
	if c.released.Load() {
		return nil, ErrChannelReleased
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debug("command: tx", "frame", fmt.Sprintf("% X", cmd.Payload))

	if err := c.writeAll(cmd.Payload); err != nil {
		return nil, err
	}

	if cmd.ExpectedResponseBytes == 0 {
		return nil, nil
	}

	resp, err := c.readExact(ctx, cmd.ExpectedResponseBytes)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("command: rx", "frame", fmt.Sprintf("% X", resp))

	return resp, nil
}

// SendCommands sends cmds in order and returns the concatenated responses.
// It stops at the first error, returning the responses collected so far.
func (c *Channel) SendCommands(ctx context.Context, cmds []Command) ([]byte, error) {
	var out []byte
	for _, cmd := range cmds {
		resp, err := c.SendCommand(ctx, cmd)
		if err != nil {
			return out, err
		}
		out = append(out, resp...)
	}

	return out, nil
}

// ReadRegister selects the register's window and returns its 16-bit word.
func (c *Channel) ReadRegister(ctx context.Context, reg Register) (uint16, error) {
	if _, err := c.SendCommand(ctx, SelectWindow(reg.Window)); err != nil {
		return 0, err
	}

	resp, err := c.SendCommand(ctx, reg.Read())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", reg.Name, err)
	}

	return ParseReadResponse(reg.Address&^0x01, resp)
}

// WriteRegister selects the register's window and writes value.
func (c *Channel) WriteRegister(ctx context.Context, reg Register, value byte) error {
	if _, err := c.SendCommand(ctx, SelectWindow(reg.Window)); err != nil {
		return err
	}

	if _, err := c.SendCommand(ctx, reg.Write(value)); err != nil {
		return fmt.Errorf("write %s: %w", reg.Name, err)
	}

	return nil
}

// DiscardInput drops bytes the sensor sent before now, such as burst packets
// that were in flight when sampling stopped. Ports without an input buffer
// reset are left alone.
func (c *Channel) DiscardInput() error {
	if c.released.Load() {
		return ErrChannelReleased
	}

	r, ok := c.port.(interface{ ResetInputBuffer() error })
	if !ok {
		return nil
	}
	if err := r.ResetInputBuffer(); err != nil {
		return classify("reset input buffer", err)
	}

	return nil
}

// ReadIdentityString reads regs and decodes them as packed ASCII.
func (c *Channel) ReadIdentityString(ctx context.Context, regs []Register) (string, error) {
	words := make([]uint16, 0, len(regs))
	for _, reg := range regs {
		w, err := c.ReadRegister(ctx, reg)
		if err != nil {
			return "", err
		}
		words = append(words, w)
	}

	return DecodePackedASCII(words), nil
}

func (c *Channel) writeAll(p []byte) error {
	for len(p) > 0 {
		n, err := c.port.Write(p)
		if err != nil {
			return classify("write", err)
		}
		if n == 0 {
			return classify("write", io.ErrShortWrite)
		}
		p = p[n:]
	}

	return nil
}

// readExact reads n bytes within the read timeout.
func (c *Channel) readExact(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	deadline := c.clock.Now().Add(c.readTimeout)

	for read < n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			break
		}

		if err := c.port.SetReadTimeout(remaining); err != nil {
			return nil, classify("set read timeout", err)
		}

		k, err := c.port.Read(buf[read:])
		read += k
		if err != nil {
			return nil, classify("read", err)
		}
		if k == 0 {
			// port read timeout elapsed
			break
		}
	}

	switch {
	case read == 0:
		return nil, fmt.Errorf("%w: no response within %v (expected %d bytes)", ErrTimeout, c.readTimeout, n)
	case read < n:
		return nil, fmt.Errorf("%w: short response, got %d of %d bytes: % X", ErrProtocolFraming, read, n, buf[:read])
	}

	return buf, nil
}
