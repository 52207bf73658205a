package sequence

import "time"

// Timing holds the poll budgets and settle delays of the routines.
type Timing struct {
	FilterPollInterval time.Duration
	FilterBudget       time.Duration

	BackupPollInterval time.Duration
	BackupBudget       time.Duration

	FlashTestPollInterval time.Duration
	FlashTestBudget       time.Duration

	ReadyPollInterval time.Duration
	ReadyBudget       time.Duration

	// ExitSettle is waited after the stop-sampling command.
	ExitSettle time.Duration
	// Stabilize is waited after the sensor reports ready following a reset.
	Stabilize time.Duration
}

// Default timing values.
const (
	DefaultFilterPollInterval    = 50 * time.Millisecond
	DefaultFilterBudget          = 4 * time.Second
	DefaultBackupPollInterval    = 100 * time.Millisecond
	DefaultBackupBudget          = 5 * time.Second
	DefaultFlashTestPollInterval = 100 * time.Millisecond
	DefaultFlashTestBudget       = 5 * time.Second
	DefaultReadyPollInterval     = 50 * time.Millisecond
	DefaultReadyBudget           = 7 * time.Second
	DefaultExitSettle            = 200 * time.Millisecond
	DefaultStabilize             = 800 * time.Millisecond
)

// DefaultTiming returns the timing used by New.
func DefaultTiming() Timing {
	return Timing{
		FilterPollInterval:    DefaultFilterPollInterval,
		FilterBudget:          DefaultFilterBudget,
		BackupPollInterval:    DefaultBackupPollInterval,
		BackupBudget:          DefaultBackupBudget,
		FlashTestPollInterval: DefaultFlashTestPollInterval,
		FlashTestBudget:       DefaultFlashTestBudget,
		ReadyPollInterval:     DefaultReadyPollInterval,
		ReadyBudget:           DefaultReadyBudget,
		ExitSettle:            DefaultExitSettle,
		Stabilize:             DefaultStabilize,
	}
}

func (t Timing) validate() error {
	polls := []struct {
		name             string
		interval, budget time.Duration
	}{
		{"filter", t.FilterPollInterval, t.FilterBudget},
		{"backup", t.BackupPollInterval, t.BackupBudget},
		{"flash test", t.FlashTestPollInterval, t.FlashTestBudget},
		{"ready", t.ReadyPollInterval, t.ReadyBudget},
	}

	for _, p := range polls {
		if p.interval <= 0 || p.budget <= 0 {
			return errInvalidTiming(p.name, p.interval, p.budget)
		}
	}

	if t.ExitSettle < 0 || t.Stabilize < 0 {
		return errInvalidTiming("settle", t.ExitSettle, t.Stabilize)
	}

	return nil
}
