package command

import "fmt"

// Register addresses a register byte or word inside a window.
type Register struct {
	Name    string
	Address byte
	Window  Window
	// WidthBytes is 2 for word registers and 1 for single byte write targets.
	WidthBytes int
}

func (r Register) String() string {
	return fmt.Sprintf("%s(0x%02X/w%d)", r.Name, r.Address, r.Window)
}

// Write builds the write frame storing value at this register's address.
func (r Register) Write(value byte) Command {
	return Write(r.Address, value)
}

// Read builds the read frame for the word containing this register.
func (r Register) Read() Command {
	return Read(r.Address &^ 0x01)
}

// Window 0 registers.
var (
	RegModeCtrl = Register{Name: "MODE_CTRL", Address: 0x02, Window: ConfigWindow, WidthBytes: 2}
	// RegModeCmd is the MODE_CTRL high byte holding MODE_CMD.
	RegModeCmd  = Register{Name: "MODE_CMD", Address: 0x03, Window: ConfigWindow, WidthBytes: 1}
	RegDiagStat = Register{Name: "DIAG_STAT1", Address: 0x04, Window: ConfigWindow, WidthBytes: 2}
)

// Window 1 registers.
var (
	RegMscCtrl = Register{Name: "MSC_CTRL", Address: 0x02, Window: MetadataWindow, WidthBytes: 2}
	// RegMscCmd is the MSC_CTRL high byte holding the self-test triggers.
	RegMscCmd     = Register{Name: "MSC_CMD", Address: 0x03, Window: MetadataWindow, WidthBytes: 1}
	RegDoutRate   = Register{Name: "SMPL_CTRL", Address: 0x05, Window: MetadataWindow, WidthBytes: 1}
	RegFilterCtrl = Register{Name: "FILTER", Address: 0x06, Window: MetadataWindow, WidthBytes: 2}
	RegUARTCtrl   = Register{Name: "UART_CTRL", Address: 0x08, Window: MetadataWindow, WidthBytes: 2}
	RegGlobCmd    = Register{Name: "GLOB_CMD", Address: 0x0A, Window: MetadataWindow, WidthBytes: 2}
	RegBurstCtrl1 = Register{Name: "BURST_CTRL1", Address: 0x0C, Window: MetadataWindow, WidthBytes: 1}
	RegBurstCtrl2 = Register{Name: "BURST_CTRL2", Address: 0x0D, Window: MetadataWindow, WidthBytes: 1}
	RegBurstCtrl3 = Register{Name: "BURST_CTRL3", Address: 0x0E, Window: MetadataWindow, WidthBytes: 1}
	RegBurstCtrl4 = Register{Name: "BURST_CTRL4", Address: 0x0F, Window: MetadataWindow, WidthBytes: 1}
)

// ProductIDRegisters hold the model name as packed ASCII words.
var ProductIDRegisters = []Register{
	{Name: "PROD_ID1", Address: 0x6A, Window: MetadataWindow, WidthBytes: 2},
	{Name: "PROD_ID2", Address: 0x6C, Window: MetadataWindow, WidthBytes: 2},
	{Name: "PROD_ID3", Address: 0x6E, Window: MetadataWindow, WidthBytes: 2},
	{Name: "PROD_ID4", Address: 0x70, Window: MetadataWindow, WidthBytes: 2},
}

// SerialRegisters hold the serial number as packed ASCII words.
var SerialRegisters = []Register{
	{Name: "SERIAL_NUM1", Address: 0x74, Window: MetadataWindow, WidthBytes: 2},
	{Name: "SERIAL_NUM2", Address: 0x76, Window: MetadataWindow, WidthBytes: 2},
	{Name: "SERIAL_NUM3", Address: 0x78, Window: MetadataWindow, WidthBytes: 2},
	{Name: "SERIAL_NUM4", Address: 0x7A, Window: MetadataWindow, WidthBytes: 2},
}

// Register word bits.
const (
	// UART_CTRL
	UARTAuto     uint16 = 1 << 0
	AutoStart    uint16 = 1 << 1
	AutoModeMask        = UARTAuto | AutoStart

	// GLOB_CMD
	GlobFlashBackup uint16 = 1 << 3
	GlobNotReady    uint16 = 1 << 10

	// DIAG_STAT1
	DiagFlashBackupErr uint16 = 1 << 0
	DiagFlashErr       uint16 = 1 << 2

	// MODE_CTRL: set while the sensor is in configuration mode.
	ModeConfiguration uint16 = 1 << 10

	// FILTER: set while a new filter setting is being applied.
	FilterBusy uint16 = 1 << 5

	// MSC_CTRL: set while the flash self-test runs.
	MscFlashTest uint16 = 1 << 11
)

// Register byte values.
const (
	// UARTCtrlAutoStart enables UART_AUTO and AUTO_START.
	UARTCtrlAutoStart byte = 0x03
	// GlobCmdFlashBackup triggers a flash backup.
	GlobCmdFlashBackup byte = 0x08
	// GlobCmdSoftReset triggers a software reset.
	GlobCmdSoftReset byte = 0x80
	// ModeCmdConfiguration stops sampling and enters configuration mode.
	ModeCmdConfiguration byte = 0x02
	// ModeCmdSampling starts sampling.
	ModeCmdSampling byte = 0x01
	// MscCmdFlashTest starts the flash self-test.
	MscCmdFlashTest byte = 0x08
)
