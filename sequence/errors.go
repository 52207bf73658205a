package sequence

import (
	"context"
	"errors"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/session"
)

var (
	// ErrFlashBackup indicates FLASH_BU_ERR was set after a flash backup.
	ErrFlashBackup = errors.New("sequence: flash backup error")
	// ErrConfigurationMode indicates the sensor did not confirm configuration mode.
	ErrConfigurationMode = errors.New("sequence: configuration mode not confirmed")
	// ErrReadinessTimeout indicates the sensor stayed not-ready after a software reset.
	ErrReadinessTimeout = errors.New("sequence: readiness timeout")
	// ErrFlashTest indicates FLASH_ERR was set after the flash self-test.
	ErrFlashTest = errors.New("sequence: flash self-test error")
	// ErrInvalidRequest indicates a request that cannot be run.
	ErrInvalidRequest = errors.New("sequence: invalid request")
	// ErrPanic indicates a routine panicked.
	ErrPanic = errors.New("sequence: panic")
)

// Error kind names reported in Result.ErrorKind.
const (
	KindTimeout           = "TimeoutError"
	KindFlashBackup       = "FlashBackupError"
	KindConfigurationMode = "ConfigurationModeError"
	KindReadinessTimeout  = "ReadinessTimeoutError"
	KindDeviceLost        = "DeviceLostError"
	KindOpen              = "OpenError"
	KindProtocolFraming   = "ProtocolFramingError"
	KindNotConnected      = "NotConnectedError"
	KindInvalidRequest    = "InvalidRequestError"
	KindCancelled         = "CancelledError"
	KindInternal          = "InternalError"
)

// kinds is checked in order, first match wins. A device lost mid-routine
// outranks the open and connection errors of the reconnect that followed it,
// so a joined "lost, then reopen failed" error is reported as DeviceLostError.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrFlashBackup, KindFlashBackup},
	{ErrConfigurationMode, KindConfigurationMode},
	{ErrReadinessTimeout, KindReadinessTimeout},
	{command.ErrDeviceLost, KindDeviceLost},
	{session.ErrOpen, KindOpen},
	{session.ErrInvalidBaud, KindOpen},
	{session.ErrNotConnected, KindNotConnected},
	{command.ErrProtocolFraming, KindProtocolFraming},
	{command.ErrTimeout, KindTimeout},
	{context.Canceled, KindCancelled},
	{context.DeadlineExceeded, KindCancelled},
}

// KindOf maps err to its kind name. It returns "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}

	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}

	if command.IsDeviceLost(err) {
		return KindDeviceLost
	}

	return KindInternal
}
