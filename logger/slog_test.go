package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlogLogger_JSONRecord(t *testing.T) {
	t.Setenv("ENV", "")
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWithWriter(&buf, InfoLevel, false)
	l.With("port", "/dev/ttyUSB0").Info("session: opened", "baud", 460800)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("session: opened", rec["msg"])
	require.Equal("/dev/ttyUSB0", rec["port"])
	require.EqualValues(460800, rec["baud"])
	require.Contains(rec, "ts")
	require.NotContains(rec, "time")
}

func TestSlogLogger_LevelSharedWithChildren(t *testing.T) {
	t.Setenv("ENV", "")
	require := require.New(t)

	var buf bytes.Buffer
	root := NewSlogWithWriter(&buf, WarnLevel, false)
	child := root.With("run_id", "r1")

	child.Info("hidden")
	require.Zero(buf.Len())

	root.SetLevel(DebugLevel)
	require.Equal(DebugLevel, child.Level())
	child.Debug("shown")
	require.Contains(buf.String(), "shown")

	for _, lv := range []Level{DebugLevel, InfoLevel, WarnLevel, ErrorLevel} {
		root.SetLevel(lv)
		require.Equal(lv, root.Level())
	}
}
