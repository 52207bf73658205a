package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/zenithtek/go-autostart/logger"
	"github.com/zenithtek/go-autostart/profile"
	"github.com/zenithtek/go-autostart/sequence"
)

// Environment variables consulted when the matching flag is not given.
const (
	envPort      = "AUTOSTART_PORT"
	envBaud      = "AUTOSTART_BAUD"
	envLogLevel  = "AUTOSTART_LOG_LEVEL"
	envLogFormat = "AUTOSTART_LOG_FORMAT"
	envProfiles  = "AUTOSTART_PROFILES"
)

const cmdPorts = "ports"

// Log formats. slog writes the process log records; entry writes one
// LogEntry JSON object per line, the form a front-end consumes.
const (
	logFormatSlog  = "slog"
	logFormatEntry = "entry"
)

var errUsage = errors.New("usage")

// commands maps CLI verbs to sequencer operations.
var commands = map[string]sequence.Operation{
	"detect":        sequence.OpDetect,
	"configure":     sequence.OpConfigure,
	"exit-auto":     sequence.OpExitAutoMode,
	"reset":         sequence.OpFactoryReset,
	"factory-reset": sequence.OpFactoryReset,
	"check-auto":    sequence.OpCheckAutoMode,
}

type options struct {
	command   string
	port      string
	baud      int
	logLevel  logger.LogLevel
	logFormat string
	profiles  string
	request   sequence.Request
	help      bool
}

func newFlagSet(opts *options, sensor *string, rate *float64) *pflag.FlagSet {
	fs := pflag.NewFlagSet("autostart", pflag.ContinueOnError)
	fs.StringVarP(&opts.port, "port", "p", "", "serial port name, e.g. /dev/ttyUSB0 or COM3 ($"+envPort+")")
	fs.IntVarP(&opts.baud, "baud", "b", 0, "baud rate, 0 selects the factory default ($"+envBaud+")")
	fs.String("log-level", "info", "log level: debug, info, warn, error ($"+envLogLevel+")")
	fs.StringVar(&opts.logFormat, "log-format", logFormatSlog, "log format on stderr: slog records or entry lines ($"+envLogFormat+")")
	fs.StringVar(&opts.profiles, "profiles", "", "YAML file overriding the built-in sensor profiles ($"+envProfiles+")")
	fs.StringVarP(sensor, "sensor", "s", "", "sensor type for configure: imu or vibration")
	fs.Float64VarP(rate, "rate", "r", 0, "IMU sampling rate in samples per second (configure only)")
	fs.BoolVar(&opts.request.Persist, "persist", false, "save the disabled auto start state to flash (exit-auto only)")
	fs.BoolVarP(&opts.help, "help", "h", false, "show help")
	fs.SortFlags = false

	return fs
}

// parseArgs parses the command line, falling back to getenv for flags that
// were not given explicitly.
func parseArgs(args []string, getenv func(string) string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	var sensor string
	var rate float64

	fs := newFlagSet(opts, &sensor, &rate)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.help = true
			return opts, fs, nil
		}

		return nil, fs, fmt.Errorf("%w: %w", errUsage, err)
	}
	if opts.help {
		return opts, fs, nil
	}

	if err := applyEnv(fs, opts, getenv); err != nil {
		return nil, fs, err
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return nil, fs, fmt.Errorf("%w: expected exactly one command, got %d", errUsage, len(rest))
	}
	opts.command = rest[0]
	if opts.command == cmdPorts {
		return opts, fs, nil
	}

	op, ok := commands[opts.command]
	if !ok {
		return nil, fs, fmt.Errorf("%w: unknown command %q", errUsage, opts.command)
	}
	opts.request.Operation = op

	if opts.port == "" {
		return nil, fs, fmt.Errorf("%w: --port or $%s is required", errUsage, envPort)
	}

	if op != sequence.OpConfigure {
		if sensor != "" || fs.Changed("rate") {
			return nil, fs, fmt.Errorf("%w: --sensor and --rate only apply to configure", errUsage)
		}
		if opts.request.Persist && op != sequence.OpExitAutoMode {
			return nil, fs, fmt.Errorf("%w: --persist only applies to exit-auto", errUsage)
		}

		return opts, fs, nil
	}

	t, err := profile.ParseSensorType(sensor)
	if err != nil {
		return nil, fs, fmt.Errorf("%w: --sensor: %w", errUsage, err)
	}
	opts.request.Sensor = t
	if fs.Changed("rate") {
		opts.request.RateSPS = &rate
	}

	return opts, fs, nil
}

func applyEnv(fs *pflag.FlagSet, opts *options, getenv func(string) string) error {
	if !fs.Changed("port") {
		opts.port = getenv(envPort)
	}

	if v := getenv(envBaud); v != "" && !fs.Changed("baud") {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: $%s: %w", errUsage, envBaud, err)
		}
		opts.baud = baud
	}

	if v := getenv(envLogFormat); v != "" && !fs.Changed("log-format") {
		opts.logFormat = v
	}
	if opts.logFormat != logFormatSlog && opts.logFormat != logFormatEntry {
		return fmt.Errorf("%w: unknown log format %q", errUsage, opts.logFormat)
	}

	if !fs.Changed("profiles") {
		opts.profiles = getenv(envProfiles)
	}

	level, _ := fs.GetString("log-level")
	if v := getenv(envLogLevel); v != "" && !fs.Changed("log-level") {
		level = v
	}
	lvl, ok := logger.ParseLevel(level)
	if !ok {
		return fmt.Errorf("%w: unknown log level %q", errUsage, level)
	}
	opts.logLevel = lvl

	return nil
}
