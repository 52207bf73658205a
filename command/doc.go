// Package command implements the byte-level command/response framing used by
// Epson UART sensors (vibration sensors and IMUs).
//
// # Wire format
//
// Every frame ends with CR (0x0D). A register write is three bytes,
//
//	[address|0x80, value, 0x0D]
//
// and a register read is
//
//	[address, 0x00, 0x0D]
//
// to which the sensor answers with the 16-bit register word,
//
//	[address, msb, lsb, 0x0D]
//
// Registers live in two windows selected by writing 0x00 or 0x01 to the window
// register 0xFE. The protocol is half-duplex: a Channel sends one frame, waits
// for its response (if any), and only then sends the next.
//
// # Timeouts
//
// A response must arrive in full within the read timeout (3 s by default).
// Nothing at all yields ErrTimeout; a partial or malformed response yields
// ErrProtocolFraming. Transport errors that mean the device went away (USB
// unplugged, port closed underneath us) yield ErrDeviceLost.
package command
