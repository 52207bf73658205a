package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"go.bug.st/serial"
)

// Sentinel errors for command exchanges.
var (
	// ErrTimeout indicates a read or poll budget was exceeded.
	ErrTimeout = errors.New("command: timeout")
	// ErrProtocolFraming indicates a short or malformed response.
	ErrProtocolFraming = errors.New("command: protocol framing error")
	// ErrDeviceLost indicates the transport disappeared mid-exchange.
	ErrDeviceLost = errors.New("command: device lost")
	// ErrInvalidCommand indicates a command that cannot be framed.
	ErrInvalidCommand = errors.New("command: invalid command")
	// ErrChannelReleased indicates use of a channel after its exclusive window ended.
	ErrChannelReleased = errors.New("command: channel released")
)

// IsDeviceLost reports whether err means the serial device is gone.
func IsDeviceLost(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDeviceLost) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code() == serial.PortClosed
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO) ||
		errors.Is(err, syscall.ENXIO) ||
		errors.Is(err, syscall.ENODEV)
}

// classify wraps a raw transport error with the matching sentinel.
func classify(op string, err error) error {
	if IsDeviceLost(err) {
		if errors.Is(err, ErrDeviceLost) {
			return err
		}

		return fmt.Errorf("%w: %s: %w", ErrDeviceLost, op, err)
	}

	return fmt.Errorf("command: %s: %w", op, err)
}
