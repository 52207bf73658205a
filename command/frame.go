package command

import (
	"fmt"
)

const (
	// Terminator ends every frame.
	Terminator byte = 0x0D

	// WindowAddress selects the active register window.
	WindowAddress byte = 0xFE

	// ReadResponseSize is the size of a register read response [addr, msb, lsb, CR].
	ReadResponseSize = 4

	writeFlag byte = 0x80
	resetByte byte = 0xFF
)

// Window identifies one of the two register banks.
type Window byte

const (
	// ConfigWindow is window 0: mode, diagnostics and sampling control.
	ConfigWindow Window = 0x00
	// MetadataWindow is window 1: UART/burst control, commands and identity.
	MetadataWindow Window = 0x01
)

func (w Window) String() string {
	switch w {
	case ConfigWindow:
		return "config"
	case MetadataWindow:
		return "metadata"
	default:
		return fmt.Sprintf("window(%d)", byte(w))
	}
}

// Command is one frame plus the number of response bytes it produces.
type Command struct {
	// ExpectedResponseBytes is the exact response length; zero means no response.
	ExpectedResponseBytes int
	// Payload is the frame written to the wire, always ending in Terminator.
	Payload []byte
}

// Validate checks that the command can be framed.
func (c Command) Validate() error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidCommand)
	}
	if c.Payload[len(c.Payload)-1] != Terminator {
		return fmt.Errorf("%w: payload % X does not end in CR", ErrInvalidCommand, c.Payload)
	}
	if c.ExpectedResponseBytes < 0 {
		return fmt.Errorf("%w: negative response size %d", ErrInvalidCommand, c.ExpectedResponseBytes)
	}

	return nil
}

func (c Command) String() string {
	return fmt.Sprintf("[% X] expect=%d", c.Payload, c.ExpectedResponseBytes)
}

// Write builds a write frame. The write flag (bit7) is set on address.
func Write(address, value byte) Command {
	return Command{Payload: []byte{address | writeFlag, value, Terminator}}
}

// Read builds a read frame for the register word at address.
func Read(address byte) Command {
	return Command{
		ExpectedResponseBytes: ReadResponseSize,
		Payload:               []byte{address &^ writeFlag, 0x00, Terminator},
	}
}

// SelectWindow builds the window-select frame.
func SelectWindow(w Window) Command {
	return Command{Payload: []byte{WindowAddress, byte(w), Terminator}}
}

// ResetFrame builds one window-reset frame. Sensors expect three in a row.
func ResetFrame() Command {
	return Command{Payload: []byte{resetByte, resetByte, Terminator}}
}

// ResetSequence returns the three window-reset frames.
func ResetSequence() []Command {
	return []Command{ResetFrame(), ResetFrame(), ResetFrame()}
}

// ParseReadResponse validates a read response for address and returns the word.
func ParseReadResponse(address byte, resp []byte) (uint16, error) {
	if len(resp) != ReadResponseSize {
		return 0, fmt.Errorf("%w: register 0x%02X: got %d bytes, want %d", ErrProtocolFraming, address, len(resp), ReadResponseSize)
	}
	if resp[0] != address&^writeFlag || resp[3] != Terminator {
		return 0, fmt.Errorf("%w: register 0x%02X: unexpected echo % X", ErrProtocolFraming, address, resp)
	}

	return uint16(resp[1])<<8 | uint16(resp[2]), nil
}
