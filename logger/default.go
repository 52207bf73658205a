package logger

import "os"

// defLogger writes to stderr: stdout is reserved for routine results.
var defLogger Logger = NewSlogWithWriter(os.Stderr, InfoLevel, false)

func Debug(msg string, keysAndValues ...any) {
	defLogger.Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	defLogger.Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	defLogger.Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	defLogger.Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	defLogger.Fatal(msg, keysAndValues...)
}

func SetLevel(level Level) {
	defLogger.SetLevel(level)
}

// GetLogger returns the package default logger, picked up by every component
// built without WithLogger.
func GetLogger() Logger {
	return defLogger
}

// SetLogger replaces the package default logger. A nil logger is ignored.
//
// Components capture the default when they are constructed, so call SetLogger
// before creating session managers and sequencers.
func SetLogger(l Logger) {
	if l != nil {
		defLogger = l
	}
}

func With(keyValues ...any) Logger {
	return defLogger.With(keyValues...)
}
