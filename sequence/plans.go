package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/zenithtek/go-autostart/command"
	"github.com/zenithtek/go-autostart/profile"
)

const keyUARTCtrl = "uart_ctrl"

func resetStep(p *profile.Profile) step {
	cmds := command.ResetSequence()
	if p != nil && len(p.Reset) > 0 {
		cmds = p.Reset
	}

	return sendStep{name: "reset windows", cmds: cmds}
}

// flashBackupPlan persists the registers and verifies FLASH_BU_ERR.
func (s *Sequencer) flashBackupPlan() plan {
	return plan{
		name: "flash backup",
		steps: []step{
			writeStep{name: "trigger flash backup", reg: command.RegGlobCmd, value: command.GlobCmdFlashBackup},
			pollStep{
				name:     "wait for flash backup",
				reg:      command.RegGlobCmd,
				mask:     command.GlobFlashBackup,
				interval: s.timing.BackupPollInterval,
				budget:   s.timing.BackupBudget,
			},
			verifyStep{
				name: "verify flash backup",
				reg:  command.RegDiagStat,
				check: func(v uint16) error {
					if v&command.DiagFlashBackupErr != 0 {
						return fmt.Errorf("%w: DIAG_STAT1=0x%04X", ErrFlashBackup, v)
					}
					return nil
				},
			},
		},
	}
}

// configurePlan enables UART Auto Start. opt is ignored for fixed-rate profiles.
func (s *Sequencer) configurePlan(p *profile.Profile, opt profile.SamplingOption) plan {
	steps := []step{resetStep(p), planStep{plan: s.stopSamplingPlan()}}

	if !p.FixedSampling() {
		steps = append(steps,
			sendStep{name: "program sampling rate and filter", cmds: p.SamplingCommands(opt)},
			pollStep{
				name:     "wait for filter setting",
				reg:      command.RegFilterCtrl,
				mask:     command.FilterBusy,
				interval: s.timing.FilterPollInterval,
				budget:   s.timing.FilterBudget,
			},
		)
	}

	steps = append(steps,
		sendStep{name: "enable auto start", cmds: p.AutoStart},
		planStep{plan: s.flashBackupPlan()},
	)

	return plan{name: "configure " + string(p.Type), steps: steps}
}

// stopSamplingPlan puts the sensor in configuration mode with write frames
// only, then drops any burst output still in the input buffer. Register reads
// are only reliable after it.
func (s *Sequencer) stopSamplingPlan() plan {
	return plan{
		name: "stop sampling",
		steps: []step{
			sendStep{name: "stop sampling", cmds: []command.Command{
				command.SelectWindow(command.ConfigWindow),
				command.RegModeCmd.Write(command.ModeCmdConfiguration),
			}},
			delayStep{name: "settle after stop", d: s.timing.ExitSettle},
			actionStep{name: "discard streamed output", fn: func(_ context.Context, rc *runContext) error {
				return rc.ch.DiscardInput()
			}},
		},
	}
}

// exitAutoPlan stops sampling, confirms configuration mode and clears
// UART_AUTO and AUTO_START, optionally saving that to flash. The UART_CTRL
// value found is kept under keyUARTCtrl. It leaves window 0 selected.
func (s *Sequencer) exitAutoPlan(persist bool) plan {
	steps := []step{
		planStep{plan: s.stopSamplingPlan()},
		verifyStep{
			name: "confirm configuration mode",
			reg:  command.RegModeCtrl,
			check: func(v uint16) error {
				if v&command.ModeConfiguration == 0 {
					return fmt.Errorf("%w: MODE_CTRL=0x%04X", ErrConfigurationMode, v)
				}
				return nil
			},
		},
		captureStep{name: "capture auto mode state", reg: command.RegUARTCtrl, key: keyUARTCtrl},
		actionStep{name: "clear auto start", fn: clearAutoStart},
		verifyStep{
			name: "confirm auto start cleared",
			reg:  command.RegUARTCtrl,
			check: func(v uint16) error {
				if v&command.AutoModeMask != 0 {
					return fmt.Errorf("%w: UART_CTRL=0x%04X still has auto bits set", ErrConfigurationMode, v)
				}
				return nil
			},
		},
	}

	if persist {
		steps = append(steps, planStep{plan: s.flashBackupPlan()})
	}

	steps = append(steps, sendStep{name: "select configuration window", cmds: []command.Command{
		command.SelectWindow(command.ConfigWindow),
	}})

	return plan{name: "exit auto mode", steps: steps}
}

func clearAutoStart(ctx context.Context, rc *runContext) error {
	v := rc.captured[keyUARTCtrl]

	return rc.ch.WriteRegister(ctx, command.RegUARTCtrl, byte(v)&^byte(command.AutoModeMask))
}

// detectPlan reads the identity registers from configuration mode and puts
// UART_CTRL back the way it was found. UART_CTRL is captured only after
// sampling stopped, since a streaming sensor interleaves burst packets with
// register replies.
func (s *Sequencer) detectPlan() plan {
	return plan{
		name: "detect",
		steps: []step{
			planStep{plan: s.exitAutoPlan(false)},
			actionStep{name: "read identity", fn: readIdentity},
			actionStep{name: "resolve identity", fn: s.resolveIdentity},
		},
		cleanup: []step{
			actionStep{name: "restore auto mode state", fn: restoreUARTCtrl},
			sendStep{name: "select configuration window", cmds: []command.Command{command.SelectWindow(command.ConfigWindow)}},
		},
	}
}

func readIdentity(ctx context.Context, rc *runContext) error {
	raw, err := rc.ch.ReadIdentityString(ctx, command.ProductIDRegisters)
	if err != nil {
		return err
	}

	serial, err := rc.ch.ReadIdentityString(ctx, command.SerialRegisters)
	if err != nil {
		return err
	}

	if len(raw) < 4 && len(serial) < 4 {
		return fmt.Errorf("%w: unable to determine sensor identity (product %q, serial %q)",
			command.ErrProtocolFraming, raw, serial)
	}

	rc.result.ProductIDRaw = raw
	rc.result.ProductID = raw
	rc.result.SerialNumber = serial
	rc.logger.Info("sequence: identity read", "product_id", raw, "serial_number", serial)

	return nil
}

func (s *Sequencer) resolveIdentity(_ context.Context, rc *runContext) error {
	id, ok := s.registry.Resolve(rc.result.ProductIDRaw)
	rc.result.ProductID = id.Model

	if !ok {
		rc.result.warn(fmt.Sprintf("unknown product id %q; sensor type not determined", id.Raw))
		rc.logger.Warn("sequence: unknown product id", "product_id", id.Raw)

		return nil
	}

	rc.result.SensorType = id.Sensor

	return nil
}

func restoreUARTCtrl(ctx context.Context, rc *runContext) error {
	prior, ok := rc.captured[keyUARTCtrl]
	if !ok || prior&command.AutoModeMask == 0 {
		return nil
	}

	rc.logger.Info("sequence: restoring UART_CTRL", "value", fmt.Sprintf("0x%02X", byte(prior)))

	return rc.ch.WriteRegister(ctx, command.RegUARTCtrl, byte(prior))
}

// flashTestPlan runs the flash self-test and checks FLASH_ERR.
func (s *Sequencer) flashTestPlan() plan {
	return plan{
		name: "flash self-test",
		steps: []step{
			writeStep{name: "start flash self-test", reg: command.RegMscCmd, value: command.MscCmdFlashTest},
			pollStep{
				name:     "wait for flash self-test",
				reg:      command.RegMscCtrl,
				mask:     command.MscFlashTest,
				interval: s.timing.FlashTestPollInterval,
				budget:   s.timing.FlashTestBudget,
			},
			verifyStep{
				name: "verify flash self-test",
				reg:  command.RegDiagStat,
				check: func(v uint16) error {
					if v&command.DiagFlashErr != 0 {
						return fmt.Errorf("%w: DIAG_STAT1=0x%04X", ErrFlashTest, v)
					}
					return nil
				},
			},
		},
	}
}

// factoryResetPlan disables auto start persistently, self-tests the flash and
// reboots the sensor.
func (s *Sequencer) factoryResetPlan() plan {
	return plan{
		name: "factory reset",
		steps: []step{
			planStep{plan: s.exitAutoPlan(true)},
			resetStep(nil),
			warnStep{
				inner:   planStep{plan: s.flashTestPlan()},
				warning: "flash self-test reported an error; configuration may not persist after reset",
			},
			writeStep{name: "software reset", reg: command.RegGlobCmd, value: command.GlobCmdSoftReset},
			pollStep{
				name:       "wait for ready",
				reg:        command.RegGlobCmd,
				mask:       command.GlobNotReady,
				interval:   s.timing.ReadyPollInterval,
				budget:     s.timing.ReadyBudget,
				timeoutErr: ErrReadinessTimeout,
			},
			delayStep{name: "stabilize after reset", d: s.timing.Stabilize},
		},
	}
}

// checkAutoPlan reads UART_CTRL without changing device state. A reply
// garbled by burst output means the sensor is streaming, which is reported as
// auto mode.
func (s *Sequencer) checkAutoPlan() plan {
	return plan{
		name: "check auto mode",
		steps: []step{
			actionStep{name: "read auto mode state", fn: func(ctx context.Context, rc *runContext) error {
				v, err := rc.ch.ReadRegister(ctx, command.RegUARTCtrl)
				if errors.Is(err, command.ErrProtocolFraming) {
					// only a sensor in sampling mode talks out of turn
					enabled := true
					rc.result.AutoMode = &enabled
					rc.result.warn("sensor is streaming; auto mode assumed")
					rc.logger.Warn("sequence: reply mixed with burst output, auto mode assumed", "error", err)

					return nil
				}
				if err != nil {
					return err
				}

				enabled := v&command.AutoModeMask == command.AutoModeMask
				rc.result.AutoMode = &enabled

				return nil
			}},
		},
	}
}
