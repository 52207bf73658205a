package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrames(t *testing.T) {
	require := require.New(t)

	require.Equal([]byte{0xFE, 0x01, 0x0D}, SelectWindow(MetadataWindow).Payload)
	require.Equal([]byte{0xFF, 0xFF, 0x0D}, ResetFrame().Payload)
	require.Len(ResetSequence(), 3)

	cmd := Read(0x0A)
	require.Equal(4, cmd.ExpectedResponseBytes)
	require.Equal([]byte{0x0A, 0x00, 0x0D}, cmd.Payload)

	require.Equal([]byte{0x8A, 0x08, 0x0D}, RegGlobCmd.Write(GlobCmdFlashBackup).Payload)
	require.Equal([]byte{0x85, 0x04, 0x0D}, RegDoutRate.Write(0x04).Payload)
	require.Equal([]byte{0x8F, 0x70, 0x0D}, RegBurstCtrl4.Write(0x70).Payload)
	require.Equal([]byte{0x02, 0x00, 0x0D}, RegModeCmd.Read().Payload)
}

func TestParseReadResponse(t *testing.T) {
	w, err := ParseReadResponse(0x04, []byte{0x04, 0x00, 0x05, 0x0D})
	require.NoError(t, err)
	require.Equal(t, uint16(0x0005), w)

	_, err = ParseReadResponse(0x04, []byte{0x04, 0x00, 0x05, 0x00})
	require.ErrorIs(t, err, ErrProtocolFraming)

	_, err = ParseReadResponse(0x04, []byte{0x04, 0x00})
	require.ErrorIs(t, err, ErrProtocolFraming)
}

func TestDecodePackedASCII(t *testing.T) {
	tests := []struct {
		name  string
		words []uint16
		want  string
	}{
		{"full", []uint16{0x3341, 0x3235, 0x4441, 0x3031}, "A352AD10"},
		{"nulls dropped", []uint16{0x3247, 0x0000, 0x0036, 0x0000}, "G26"},
		{"trailing spaces", []uint16{0x3158, 0x2020}, "X1"},
		{"empty", []uint16{0, 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, DecodePackedASCII(tt.words))
		})
	}

	require.Equal(t, "G365PDF1", DecodePackedASCII(EncodePackedASCII("G365PDF1", 4)))
}
