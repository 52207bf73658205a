package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zenithtek/go-autostart/logger"
	"github.com/zenithtek/go-autostart/profile"
	"github.com/zenithtek/go-autostart/sequence"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseArgs_Configure(t *testing.T) {
	require := require.New(t)

	opts, _, err := parseArgs([]string{"configure", "--port", "/dev/ttyUSB0", "--sensor", "IMU", "--rate", "250"}, envOf(nil))
	require.NoError(err)
	require.Equal("configure", opts.command)
	require.Equal(sequence.OpConfigure, opts.request.Operation)
	require.Equal(profile.IMU, opts.request.Sensor)
	require.NotNil(opts.request.RateSPS)
	require.InDelta(250.0, *opts.request.RateSPS, 1e-9)
	require.Equal(0, opts.baud)
	require.Equal(logger.InfoLevel, opts.logLevel)
}

func TestParseArgs_RateOmitted(t *testing.T) {
	require := require.New(t)

	opts, _, err := parseArgs([]string{"-p", "COM3", "-s", "vibration", "configure"}, envOf(nil))
	require.NoError(err)
	require.Equal(profile.Vibration, opts.request.Sensor)
	require.Nil(opts.request.RateSPS)
}

func TestParseArgs_EnvFallback(t *testing.T) {
	require := require.New(t)

	env := envOf(map[string]string{
		envPort:      "/dev/ttyS1",
		envBaud:      "921600",
		envLogLevel:  "debug",
		envLogFormat: "entry",
		envProfiles:  "/etc/autostart.yaml",
	})

	opts, _, err := parseArgs([]string{"detect"}, env)
	require.NoError(err)
	require.Equal("/dev/ttyS1", opts.port)
	require.Equal(921600, opts.baud)
	require.Equal(logger.DebugLevel, opts.logLevel)
	require.Equal(logFormatEntry, opts.logFormat)
	require.Equal("/etc/autostart.yaml", opts.profiles)

	// explicit flags win over the environment
	opts, _, err = parseArgs([]string{"detect", "--port", "COM7", "--baud", "230400", "--log-level", "warn"}, env)
	require.NoError(err)
	require.Equal("COM7", opts.port)
	require.Equal(230400, opts.baud)
	require.Equal(logger.WarnLevel, opts.logLevel)
}

func TestParseArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{"no command", []string{"--port", "COM1"}, nil},
		{"two commands", []string{"--port", "COM1", "detect", "reset"}, nil},
		{"unknown command", []string{"--port", "COM1", "flash"}, nil},
		{"missing port", []string{"detect"}, nil},
		{"missing sensor", []string{"--port", "COM1", "configure"}, nil},
		{"unknown sensor", []string{"--port", "COM1", "--sensor", "gyro", "configure"}, nil},
		{"rate outside configure", []string{"--port", "COM1", "--rate", "100", "detect"}, nil},
		{"persist outside exit-auto", []string{"--port", "COM1", "--persist", "reset"}, nil},
		{"bad baud env", []string{"--port", "COM1", "detect"}, map[string]string{envBaud: "fast"}},
		{"bad log level", []string{"--port", "COM1", "--log-level", "loud", "detect"}, nil},
		{"bad log format", []string{"--port", "COM1", "--log-format", "text", "detect"}, nil},
		{"unknown flag", []string{"--port", "COM1", "--verbose", "detect"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parseArgs(tt.args, envOf(tt.env))
			require.ErrorIs(t, err, errUsage)
		})
	}
}

func TestParseArgs_PortsNeedsNoPort(t *testing.T) {
	opts, _, err := parseArgs([]string{"ports"}, envOf(nil))
	require.NoError(t, err)
	require.Equal(t, cmdPorts, opts.command)
}

func TestParseArgs_ExitAutoPersist(t *testing.T) {
	opts, _, err := parseArgs([]string{"exit-auto", "--persist", "--port", "COM2"}, envOf(nil))
	require.NoError(t, err)
	require.Equal(t, sequence.OpExitAutoMode, opts.request.Operation)
	require.True(t, opts.request.Persist)
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run([]string{"--help"}, envOf(nil), &stdout, &stderr)
	require.NoError(t, err)
	require.Empty(t, stdout.String())
	require.Contains(t, stderr.String(), "check-auto")
	require.Contains(t, stderr.String(), "--port")
}

func TestRun_MissingProfiles(t *testing.T) {
	var stdout, stderr bytes.Buffer

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	err := run([]string{"--port", "COM1", "--profiles", missing, "detect"}, envOf(nil), &stdout, &stderr)
	require.Error(t, err)
	require.Empty(t, stdout.String())
}

func TestLoadRegistry_LogsConflicts(t *testing.T) {
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(os.WriteFile(path, []byte(
		"aliases:\n  - {code: A352AD10, sensor: vibration, model: M-A352AD10, revision: 0}\n"), 0o600))

	log := logger.NewMockLogger().Permissive()

	reg, err := loadRegistry(path, log)
	require.NoError(err)
	require.Len(reg.Conflicts(), 1)
	log.AssertNumberOfCalls(t, "Warn", 1)
	log.AssertCalled(t, "Warn", "product id alias conflict", mock.Anything)
	log.AssertCalled(t, "Info", "loaded sensor profiles", mock.Anything)
}

func TestLoadRegistry_DefaultsAreQuiet(t *testing.T) {
	log := logger.NewMockLogger().Permissive()

	reg, err := loadRegistry("", log)
	require.NoError(t, err)
	require.Empty(t, reg.Conflicts())
	log.AssertNotCalled(t, "Warn", mock.Anything, mock.Anything)
}

func TestNewLogger_EntryFormatKeepsEveryRecord(t *testing.T) {
	require := require.New(t)

	var stderr bytes.Buffer
	log := newLogger(&options{logFormat: logFormatEntry, logLevel: logger.InfoLevel}, &stderr)

	const n = 500
	for i := 0; i < n; i++ {
		log.Info("milestone", "i", i)
	}
	log.Debug("below level")

	lines := strings.Split(strings.TrimSpace(stderr.String()), "\n")
	require.Len(lines, n)

	var last logger.LogEntry
	require.NoError(json.Unmarshal([]byte(lines[n-1]), &last))
	require.Equal("milestone i=499", last.Message)
	require.Equal(logger.KindStdout, last.Kind)
}
