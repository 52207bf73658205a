// autostart configures Epson UART sensors (IMUs and vibration sensors) to
// stream on power-up, and takes them back out of that mode.
//
// Usage:
//
//	autostart [flags] <command>
//
// Commands:
//
//	ports       list serial ports
//	detect      read product id and serial number
//	configure   enable auto start (--sensor imu|vibration, --rate for IMUs)
//	exit-auto   disable auto start for this power cycle (--persist saves it)
//	reset       factory reset and flash self-test
//	check-auto  report whether auto start is enabled
//
// The routine result is printed to stdout as JSON. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/zenithtek/go-autostart/logger"
	"github.com/zenithtek/go-autostart/profile"
	"github.com/zenithtek/go-autostart/sequence"
	"github.com/zenithtek/go-autostart/session"
)

// exitError carries a process exit code without an extra error line.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) ExitCode() int { return e.code }

func main() {
	if err := run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	opts, fs, err := parseArgs(args, getenv)
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(stderr, fs)
		return nil
	}

	log := newLogger(opts, stderr)
	logger.SetLogger(log)

	if opts.command == cmdPorts {
		ports, err := session.ListPorts()
		if err != nil {
			return err
		}

		return writeJSON(stdout, ports)
	}

	reg, err := loadRegistry(opts.profiles, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := session.NewConfig(session.WithLogger(log))
	if err != nil {
		return err
	}
	mgr := session.NewManager(cfg)
	defer func() {
		if err := mgr.Disconnect(); err != nil {
			log.Warn("failed to close serial port", "error", err)
		}
		m := mgr.GetMetrics()
		log.Debug("session metrics",
			"opens", m.OpenCount.Load(),
			"reconnects", m.ReconnectCount.Load(),
			"commands", m.CommandCount.Load(),
			"commandErrors", m.CommandErrCount.Load(),
			"drainedBytes", m.DrainedBytes.Load(),
		)
	}()

	var res sequence.Result
	if err := mgr.EnsureSession(ctx, opts.port, opts.baud); err != nil {
		res = sequence.Result{
			Operation: opts.request.Operation,
			Message:   err.Error(),
			ErrorKind: sequence.KindOf(err),
		}
	} else {
		seq, err := sequence.New(mgr, reg, sequence.WithLogger(log))
		if err != nil {
			return err
		}
		res = seq.Run(ctx, opts.request)
	}

	if err := writeJSON(stdout, res); err != nil {
		return err
	}
	if !res.Success {
		return exitError{code: 1}
	}

	return nil
}

// newLogger builds the process logger. In entry format every record is
// written to w as one JSON LogEntry line before the logging call returns.
func newLogger(opts *options, w io.Writer) logger.Logger {
	if opts.logFormat != logFormatEntry {
		return logger.NewSlogWithWriter(w, opts.logLevel, false)
	}

	base := logger.NewSlogWithWriter(io.Discard, opts.logLevel, false)

	return logger.NewSinkLogger(base, logger.NewJSONSink(w))
}

func loadRegistry(path string, log logger.Logger) (*profile.Registry, error) {
	var reg *profile.Registry
	if path == "" {
		reg = profile.Default()
	} else {
		var err error
		if reg, err = profile.LoadFile(path); err != nil {
			return nil, err
		}
		log.Info("loaded sensor profiles", "path", path)
	}

	for _, c := range reg.Conflicts() {
		log.Warn("product id alias conflict", "conflict", c.String())
	}

	return reg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, `autostart configures Epson UART sensors to stream on power-up.

Usage:
  autostart [flags] <command>

Commands:
  ports       list serial ports
  detect      read product id and serial number
  configure   enable auto start (--sensor imu|vibration, --rate for IMUs)
  exit-auto   disable auto start for this power cycle (--persist saves it)
  reset       factory reset and flash self-test
  check-auto  report whether auto start is enabled

Flags:
`)
	fs.SetOutput(w)
	fs.PrintDefaults()
}
