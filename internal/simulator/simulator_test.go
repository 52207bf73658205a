package simulator

import (
	"context"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenithtek/go-autostart/command"
)

func openChannel(t *testing.T, s *Sensor) *command.Channel {
	t.Helper()

	port, err := s.Open("sim0", 460800)
	require.NoError(t, err)

	return command.NewChannel(port)
}

func TestSensor_Identity(t *testing.T) {
	s := New(Config{ProductID: "G365PDF1", SerialNumber: "W0000123"})
	ch := openChannel(t, s)

	id, err := ch.ReadIdentityString(context.Background(), command.ProductIDRegisters)
	require.NoError(t, err)
	require.Equal(t, "G365PDF1", id)

	serial, err := ch.ReadIdentityString(context.Background(), command.SerialRegisters)
	require.NoError(t, err)
	require.Equal(t, "W0000123", serial)
}

func TestSensor_FlashBackupPersistsUARTCtrl(t *testing.T) {
	require := require.New(t)

	s := New(Config{})
	s.SetBehavior(Behavior{BackupBusyPolls: 2})
	ch := openChannel(t, s)
	ctx := context.Background()

	require.NoError(ch.WriteRegister(ctx, command.RegUARTCtrl, command.UARTCtrlAutoStart))
	require.NoError(ch.WriteRegister(ctx, command.RegGlobCmd, command.GlobCmdFlashBackup))

	for i := 0; i < 2; i++ {
		v, err := ch.ReadRegister(ctx, command.RegGlobCmd)
		require.NoError(err)
		require.NotZero(v & command.GlobFlashBackup)
	}

	v, err := ch.ReadRegister(ctx, command.RegGlobCmd)
	require.NoError(err)
	require.Zero(v & command.GlobFlashBackup)
	require.Equal(uint16(0x03), s.PersistedUARTCtrl())

	s.PowerCycle()
	require.True(s.Streaming())
}

func TestSensor_ModeCommand(t *testing.T) {
	require := require.New(t)

	s := New(Config{AutoStart: true})
	require.True(s.Streaming())

	ch := openChannel(t, s)
	ctx := context.Background()

	// a read while streaming gets a burst packet in front of the reply
	_, err := ch.ReadRegister(ctx, command.RegModeCtrl)
	require.ErrorIs(err, command.ErrProtocolFraming)
	require.NotZero(s.Stats().StreamedBytes)

	require.NoError(ch.WriteRegister(ctx, command.RegModeCmd, command.ModeCmdConfiguration))
	require.False(s.Streaming())
	require.NoError(ch.DiscardInput())

	mode, err := ch.ReadRegister(ctx, command.RegModeCtrl)
	require.NoError(err)
	require.Equal(command.ModeConfiguration, mode)
}

func TestSensor_DropAfterFrames(t *testing.T) {
	s := New(Config{})
	s.SetBehavior(Behavior{DropAfterFrames: 1, Drops: 1})
	ch := openChannel(t, s)

	_, err := ch.SendCommand(context.Background(), command.ResetFrame())
	require.NoError(t, err)

	_, err = ch.SendCommand(context.Background(), command.ResetFrame())
	require.ErrorIs(t, err, command.ErrDeviceLost)
	require.ErrorIs(t, err, syscall.EIO)

	ch = openChannel(t, s)
	_, err = ch.SendCommand(context.Background(), command.ResetFrame())
	require.NoError(t, err)
	require.Equal(t, 2, s.Stats().Opens)
}

func TestSensor_MuteTimesOut(t *testing.T) {
	s := New(Config{})
	s.SetBehavior(Behavior{Mute: true})
	ch := openChannel(t, s)

	_, err := ch.ReadRegister(context.Background(), command.RegUARTCtrl)
	require.ErrorIs(t, err, command.ErrTimeout)
}

func TestSensor_Resync(t *testing.T) {
	s := New(Config{})
	_, err := s.Open("sim0", 460800)
	require.NoError(t, err)

	_, err = s.Write([]byte{0x00, 0xFE, 0x01, 0x0D})
	require.NoError(t, err)
	require.Equal(t, [][]byte{{0xFE, 0x01, 0x0D}}, s.Frames())
}
