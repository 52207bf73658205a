package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zenithtek/go-autostart/internal/clock"
)

// scriptPort answers each written frame with the next scripted reply.
type scriptPort struct {
	mu       sync.Mutex
	replies  [][]byte
	pending  bytes.Buffer
	written  [][]byte
	timeouts []time.Duration
	writeErr error
	readErr  error
	chunk    int // max bytes per Read, 0 = unlimited
	// clk, if set, is advanced by the read timeout on every empty Read,
	// the way a serial read blocks until its timeout.
	clk *clock.Fake

	inputResets int
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.writeErr != nil {
		return 0, p.writeErr
	}

	p.written = append(p.written, append([]byte(nil), b...))
	if len(p.replies) > 0 {
		p.pending.Write(p.replies[0])
		p.replies = p.replies[1:]
	}

	return len(b), nil
}

func (p *scriptPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readErr != nil {
		return 0, p.readErr
	}
	if p.chunk > 0 && len(b) > p.chunk {
		b = b[:p.chunk]
	}
	n, _ := p.pending.Read(b)
	if n == 0 && p.clk != nil && len(p.timeouts) > 0 {
		p.clk.Advance(p.timeouts[len(p.timeouts)-1])
	}

	return n, nil
}

func (p *scriptPort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending.Reset()
	p.inputResets++

	return nil
}

func (p *scriptPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeouts = append(p.timeouts, t)
	p.mu.Unlock()

	return nil
}

func TestChannel_SendCommand_NoResponse(t *testing.T) {
	require := require.New(t)

	port := &scriptPort{}
	ch := NewChannel(port)

	resp, err := ch.SendCommand(context.Background(), RegUARTCtrl.Write(UARTCtrlAutoStart))
	require.NoError(err)
	require.Nil(resp)
	require.Equal([][]byte{{0x88, 0x03, 0x0D}}, port.written)
}

func TestChannel_ReadRegister(t *testing.T) {
	require := require.New(t)

	port := &scriptPort{replies: [][]byte{nil, {0x08, 0x12, 0x03, 0x0D}}}
	ch := NewChannel(port, WithReadTimeout(time.Second))

	word, err := ch.ReadRegister(context.Background(), RegUARTCtrl)
	require.NoError(err)
	require.Equal(uint16(0x1203), word)
	require.Equal([][]byte{{0xFE, 0x01, 0x0D}, {0x08, 0x00, 0x0D}}, port.written)
	require.NotEmpty(port.timeouts)
	require.LessOrEqual(port.timeouts[0], time.Second)
}

func TestChannel_ReadRegister_ChunkedResponse(t *testing.T) {
	port := &scriptPort{replies: [][]byte{nil, {0x0A, 0x04, 0x00, 0x0D}}, chunk: 1}
	ch := NewChannel(port)

	word, err := ch.ReadRegister(context.Background(), RegGlobCmd)
	require.NoError(t, err)
	require.Equal(t, GlobNotReady, word)
}

func TestChannel_ReadRegister_WrongEcho(t *testing.T) {
	port := &scriptPort{replies: [][]byte{nil, {0x0A, 0x00, 0x00, 0x0D}}}
	ch := NewChannel(port)

	_, err := ch.ReadRegister(context.Background(), RegUARTCtrl)
	require.ErrorIs(t, err, ErrProtocolFraming)
}

func TestChannel_Timeout(t *testing.T) {
	require := require.New(t)

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	port := &scriptPort{clk: clk}
	ch := NewChannel(port, WithClock(clk))
	require.Equal(DefaultReadTimeout, ch.ReadTimeout())

	_, err := ch.SendCommand(context.Background(), Read(0x08))
	require.ErrorIs(err, ErrTimeout)
	require.NotErrorIs(err, ErrProtocolFraming)
	require.Contains(err.Error(), "3s")

	// one read armed with the whole 3 s budget, then nothing left to wait
	require.Equal([]time.Duration{3 * time.Second}, port.timeouts)
	require.Equal(3*time.Second, clk.Elapsed(start))
}

func TestChannel_Timeout_BudgetSpansPartialReads(t *testing.T) {
	require := require.New(t)

	start := time.Unix(1_700_000_000, 0)
	clk := clock.NewFake(start)
	port := &scriptPort{clk: clk, replies: [][]byte{{0x08}}, chunk: 1}
	ch := NewChannel(port, WithClock(clk), WithReadTimeout(2*time.Second))

	_, err := ch.SendCommand(context.Background(), Read(0x08))
	require.ErrorIs(err, ErrProtocolFraming)
	require.Equal([]time.Duration{2 * time.Second, 2 * time.Second}, port.timeouts)
	require.Equal(2*time.Second, clk.Elapsed(start))
}

func TestChannel_DiscardInput(t *testing.T) {
	require := require.New(t)

	port := &scriptPort{}
	port.pending.Write([]byte{0x80, 0x00, 0x11, 0x22})
	ch := NewChannel(port)

	require.NoError(ch.DiscardInput())
	require.Equal(1, port.inputResets)
	require.Zero(port.pending.Len())

	ch.Release()
	require.ErrorIs(ch.DiscardInput(), ErrChannelReleased)
	require.Equal(1, port.inputResets)
}

func TestChannel_ShortResponse(t *testing.T) {
	port := &scriptPort{replies: [][]byte{{0x08, 0x00}}}
	ch := NewChannel(port)

	_, err := ch.SendCommand(context.Background(), Read(0x08))
	require.ErrorIs(t, err, ErrProtocolFraming)
	require.Contains(t, err.Error(), "got 2 of 4 bytes")
}

func TestChannel_DeviceLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"eio", syscall.EIO},
		{"eof", io.EOF},
		{"closed pipe", io.ErrClosedPipe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &scriptPort{writeErr: tt.err}
			ch := NewChannel(port)

			_, err := ch.SendCommand(context.Background(), ResetFrame())
			require.ErrorIs(t, err, ErrDeviceLost)
			require.True(t, IsDeviceLost(err))
		})
	}
}

func TestChannel_ReadErrorIsClassified(t *testing.T) {
	port := &scriptPort{readErr: syscall.ENXIO}
	ch := NewChannel(port)

	_, err := ch.SendCommand(context.Background(), Read(0x02))
	require.ErrorIs(t, err, ErrDeviceLost)
	require.ErrorIs(t, err, syscall.ENXIO)

	port = &scriptPort{readErr: errors.New("framing glitch")}
	ch = NewChannel(port)

	_, err = ch.SendCommand(context.Background(), Read(0x02))
	require.Error(t, err)
	require.False(t, IsDeviceLost(err))
}

func TestChannel_Released(t *testing.T) {
	port := &scriptPort{}
	ch := NewChannel(port)
	ch.Release()

	_, err := ch.SendCommand(context.Background(), ResetFrame())
	require.ErrorIs(t, err, ErrChannelReleased)
	require.Empty(t, port.written)
	require.True(t, ch.Released())
}

func TestChannel_InvalidCommand(t *testing.T) {
	ch := NewChannel(&scriptPort{})

	_, err := ch.SendCommand(context.Background(), Command{Payload: []byte{0x80, 0x00}})
	require.ErrorIs(t, err, ErrInvalidCommand)

	_, err = ch.SendCommand(context.Background(), Command{})
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestChannel_CancelledContext(t *testing.T) {
	ch := NewChannel(&scriptPort{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ch.SendCommand(ctx, ResetFrame())
	require.ErrorIs(t, err, context.Canceled)
}

func TestChannel_SendCommands(t *testing.T) {
	assert := assert.New(t)

	port := &scriptPort{replies: [][]byte{nil, {0x02, 0x04, 0x00, 0x0D}, {0x04, 0x00, 0x00, 0x0D}}}
	var hooked []error
	ch := NewChannel(port, WithExchangeHook(func(_ Command, err error) { hooked = append(hooked, err) }))

	resp, err := ch.SendCommands(context.Background(), []Command{
		SelectWindow(ConfigWindow),
		RegModeCtrl.Read(),
		RegDiagStat.Read(),
	})
	assert.NoError(err)
	assert.Equal([]byte{0x02, 0x04, 0x00, 0x0D, 0x04, 0x00, 0x00, 0x0D}, resp)
	assert.Len(hooked, 3)
}

func TestChannel_WriteRegister(t *testing.T) {
	port := &scriptPort{}
	ch := NewChannel(port)

	require.NoError(t, ch.WriteRegister(context.Background(), RegModeCmd, ModeCmdConfiguration))
	require.Equal(t, [][]byte{{0xFE, 0x00, 0x0D}, {0x83, 0x02, 0x0D}}, port.written)
}

func TestChannel_ReadIdentityString(t *testing.T) {
	words := EncodePackedASCII("A352AD10", 4)
	var replies [][]byte
	for i, w := range words {
		replies = append(replies, nil, []byte{ProductIDRegisters[i].Address, byte(w >> 8), byte(w), 0x0D})
	}

	ch := NewChannel(&scriptPort{replies: replies})
	id, err := ch.ReadIdentityString(context.Background(), ProductIDRegisters)
	require.NoError(t, err)
	require.Equal(t, "A352AD10", id)
}
