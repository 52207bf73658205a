// Package simulator emulates an Epson UART sensor at the register level so
// session and sequence code can be tested without hardware.
//
// A Sensor parses the three-byte command frames written to it, keeps two
// register windows of 16-bit words, answers reads with [addr, msb, lsb, CR]
// and models the device side effects the configurator depends on. These are
// flash backup, flash self-test, filter settling, software reset and mode
// changes. While in sampling mode it streams burst packets, and register
// replies arrive mixed in with them.
package simulator

import (
	"bytes"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/zenithtek/go-autostart/command"
)

// burstFrame is a stand-in for one streamed burst packet.
var burstFrame = []byte{0x80, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0x0D}

// maxIdleWait bounds how long an empty Read blocks.
const maxIdleWait = 2 * time.Millisecond

// Behavior injects device conditions. Poll counts are the number of status
// reads that still report busy after the operation is triggered.
type Behavior struct {
	BackupBusyPolls    int
	BackupError        bool
	FilterBusyPolls    int
	FlashTestBusyPolls int
	FlashTestError     bool
	NotReadyPolls      int
	RefuseConfigMode   bool
	// Mute drops every response.
	Mute bool
	// DropAfterFrames makes the port fail with EIO once that many frames were
	// written since the last open, Drops times in total.
	DropAfterFrames int
	Drops           int
	// OpenErr is returned by Open.
	OpenErr error
}

// Config is the power-on state of a Sensor.
type Config struct {
	ProductID    string
	SerialNumber string
	// AutoStart powers the sensor up with UART_AUTO and AUTO_START set, streaming.
	AutoStart bool
}

// Sensor is a simulated sensor and its serial port.
type Sensor struct {
	mu sync.Mutex

	behavior Behavior
	regs     [2]map[byte]uint16
	flash    map[byte]uint16 // persisted window 1 UART_CTRL
	window   byte

	streaming bool
	open      bool
	lost      bool

	in      []byte
	out     bytes.Buffer
	frames  [][]byte
	sinceOp int

	backupBusy    int
	filterBusy    int
	flashTestBusy int
	notReady      int

	readTimeout time.Duration

	opens        int
	lastBaud     int
	backups      int
	softResets   int
	flashTests   int
	inputResets  int
	streamedByte int
}

// New creates a powered-on, closed Sensor.
func New(cfg Config) *Sensor {
	s := &Sensor{
		regs:        [2]map[byte]uint16{make(map[byte]uint16), make(map[byte]uint16)},
		flash:       make(map[byte]uint16),
		readTimeout: maxIdleWait,
	}

	for i, w := range command.EncodePackedASCII(cfg.ProductID, len(command.ProductIDRegisters)) {
		s.regs[1][command.ProductIDRegisters[i].Address] = w
	}
	for i, w := range command.EncodePackedASCII(cfg.SerialNumber, len(command.SerialRegisters)) {
		s.regs[1][command.SerialRegisters[i].Address] = w
	}

	if cfg.AutoStart {
		s.flash[command.RegUARTCtrl.Address] = uint16(command.UARTCtrlAutoStart)
	}
	s.powerOn()

	return s
}

// SetBehavior replaces the injected behavior.
func (s *Sensor) SetBehavior(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.behavior = b
}

// Open opens the simulated port. It fails with Behavior.OpenErr if set.
func (s *Sensor) Open(_ string, baud int) (*Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.behavior.OpenErr != nil {
		return nil, s.behavior.OpenErr
	}

	s.open = true
	s.lost = false
	s.sinceOp = 0
	s.in = s.in[:0]
	s.out.Reset()
	s.opens++
	s.lastBaud = baud

	return s, nil
}

func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return os.ErrClosed
	}
	s.open = false

	return nil
}

func (s *Sensor) SetReadTimeout(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readTimeout = t

	return nil
}

func (s *Sensor) ResetInputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.out.Reset()
	s.inputResets++

	return nil
}

func (s *Sensor) ResetOutputBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.in = s.in[:0]

	return nil
}

func (s *Sensor) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ioErr(); err != nil {
		return 0, err
	}

	for _, b := range p {
		s.in = append(s.in, b)
		if len(s.in) < 3 {
			continue
		}
		if s.in[2] != command.Terminator {
			// resynchronise on the next byte
			s.in = append(s.in[:0], s.in[1:]...)
			continue
		}

		frame := append([]byte(nil), s.in...)
		s.in = s.in[:0]
		s.frames = append(s.frames, frame)
		s.handle(frame)

		s.sinceOp++
		if s.behavior.DropAfterFrames > 0 && s.behavior.Drops > 0 && s.sinceOp >= s.behavior.DropAfterFrames {
			s.behavior.Drops--
			s.lost = true
			s.open = false

			return len(p), nil
		}
	}

	return len(p), nil
}

func (s *Sensor) Read(p []byte) (int, error) {
	s.mu.Lock()

	if err := s.ioErr(); err != nil {
		s.mu.Unlock()
		return 0, err
	}

	if s.out.Len() == 0 && s.streaming {
		s.out.Write(burstFrame)
		s.streamedByte += len(burstFrame)
	}

	if s.out.Len() > 0 {
		n, _ := s.out.Read(p)
		s.mu.Unlock()

		return n, nil
	}

	wait := min(s.readTimeout, maxIdleWait)
	s.mu.Unlock()

	time.Sleep(wait)

	return 0, nil
}

// ioErr must be called with mu held.
func (s *Sensor) ioErr() error {
	if s.lost {
		return syscall.EIO
	}
	if !s.open {
		return os.ErrClosed
	}

	return nil
}

// powerOn loads persisted state, as after a power cycle or software reset.
// Must be called with mu held.
func (s *Sensor) powerOn() {
	uart := s.flash[command.RegUARTCtrl.Address]
	s.regs[1][command.RegUARTCtrl.Address] = uart
	s.window = 0
	s.streaming = uart&command.AutoModeMask == command.AutoModeMask
	if s.streaming {
		s.regs[0][command.RegModeCtrl.Address] &^= command.ModeConfiguration
	} else {
		s.regs[0][command.RegModeCtrl.Address] |= command.ModeConfiguration
	}
}

func (s *Sensor) handle(frame []byte) {
	addr, value := frame[0], frame[1]

	switch {
	case addr == command.WindowAddress:
		s.window = value & 0x01
	case addr == 0xFF && value == 0xFF:
		// window state machine reset
	case addr&0x80 != 0:
		s.write(addr&^0x80, value)
	default:
		s.read(addr)
	}
}

func (s *Sensor) write(addr, value byte) {
	word := addr &^ 0x01
	cur := s.regs[s.window][word]
	if addr&0x01 == 1 {
		cur = cur&0x00FF | uint16(value)<<8
	} else {
		cur = cur&0xFF00 | uint16(value)
	}
	s.regs[s.window][word] = cur

	switch {
	case s.window == 0 && addr == command.RegModeCmd.Address:
		s.modeCommand(value)
	case s.window == 1 && addr == command.RegGlobCmd.Address:
		s.globCommand(value)
	case s.window == 1 && addr == command.RegMscCmd.Address && value&command.MscCmdFlashTest != 0:
		s.flashTests++
		s.flashTestBusy = s.behavior.FlashTestBusyPolls
		s.setDiag(command.DiagFlashErr, s.behavior.FlashTestError)
	case s.window == 1 && addr == command.RegFilterCtrl.Address:
		s.filterBusy = s.behavior.FilterBusyPolls
	}
}

func (s *Sensor) modeCommand(value byte) {
	switch value {
	case command.ModeCmdConfiguration:
		s.streaming = false
		if !s.behavior.RefuseConfigMode {
			s.regs[0][command.RegModeCtrl.Address] |= command.ModeConfiguration
		}
	case command.ModeCmdSampling:
		s.streaming = true
		s.regs[0][command.RegModeCtrl.Address] &^= command.ModeConfiguration
	}
	// MODE_CMD self-clears
	s.regs[0][command.RegModeCtrl.Address] &^= 0x0300
}

func (s *Sensor) globCommand(value byte) {
	switch {
	case value&command.GlobCmdSoftReset != 0:
		s.softResets++
		s.notReady = s.behavior.NotReadyPolls
		s.powerOn()
	case value&command.GlobCmdFlashBackup != 0:
		s.backups++
		s.backupBusy = s.behavior.BackupBusyPolls
		s.setDiag(command.DiagFlashBackupErr, s.behavior.BackupError)
		if !s.behavior.BackupError {
			s.flash[command.RegUARTCtrl.Address] = s.regs[1][command.RegUARTCtrl.Address] & 0x00FF
		}
	}
	s.regs[1][command.RegGlobCmd.Address] = 0
}

func (s *Sensor) setDiag(bit uint16, on bool) {
	if on {
		s.regs[0][command.RegDiagStat.Address] |= bit
	} else {
		s.regs[0][command.RegDiagStat.Address] &^= bit
	}
}

func (s *Sensor) read(addr byte) {
	word := addr &^ 0x01
	v := s.regs[s.window][word]

	if s.window == 1 {
		switch word {
		case command.RegGlobCmd.Address:
			if s.backupBusy > 0 {
				s.backupBusy--
				v |= command.GlobFlashBackup
			}
			if s.notReady > 0 {
				s.notReady--
				v |= command.GlobNotReady
			}
		case command.RegFilterCtrl.Address:
			if s.filterBusy > 0 {
				s.filterBusy--
				v |= command.FilterBusy
			}
		case command.RegMscCtrl.Address:
			if s.flashTestBusy > 0 {
				s.flashTestBusy--
				v |= command.MscFlashTest
			} else {
				v &^= command.MscFlashTest
			}
		}
	}

	if s.behavior.Mute {
		return
	}

	if s.streaming {
		// the reply lands behind whatever burst packet is on the wire
		s.out.Write(burstFrame)
		s.streamedByte += len(burstFrame)
	}

	s.out.Write([]byte{word, byte(v >> 8), byte(v), command.Terminator})
}
