package simulator

import "github.com/zenithtek/go-autostart/command"

// Stats counts device-side events.
type Stats struct {
	Opens         int
	LastBaud      int
	FlashBackups  int
	SoftResets    int
	FlashTests    int
	InputResets   int
	StreamedBytes int
}

// Stats returns a snapshot of event counters.
func (s *Sensor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Opens:         s.opens,
		LastBaud:      s.lastBaud,
		FlashBackups:  s.backups,
		SoftResets:    s.softResets,
		FlashTests:    s.flashTests,
		InputResets:   s.inputResets,
		StreamedBytes: s.streamedByte,
	}
}

// Frames returns every complete frame written so far.
func (s *Sensor) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.frames))
	copy(out, s.frames)

	return out
}

// ClearFrames forgets the recorded frames.
func (s *Sensor) ClearFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames = nil
}

// Register returns the stored word at addr in window w.
func (s *Sensor) Register(w command.Window, addr byte) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.regs[byte(w)&0x01][addr&^0x01]
}

// SetRegister stores a word at addr in window w.
func (s *Sensor) SetRegister(w command.Window, addr byte, v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.regs[byte(w)&0x01][addr&^0x01] = v
}

// UARTCtrl returns the live UART_CTRL word.
func (s *Sensor) UARTCtrl() uint16 {
	return s.Register(command.MetadataWindow, command.RegUARTCtrl.Address)
}

// PersistedUARTCtrl returns the UART_CTRL value stored in flash.
func (s *Sensor) PersistedUARTCtrl() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flash[command.RegUARTCtrl.Address]
}

// Streaming reports whether the sensor is in sampling mode.
func (s *Sensor) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.streaming
}

// Window returns the selected register window.
func (s *Sensor) Window() byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.window
}

// IsOpen reports whether the port is open.
func (s *Sensor) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.open
}

// PowerCycle reloads persisted state.
func (s *Sensor) PowerCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.powerOn()
}
