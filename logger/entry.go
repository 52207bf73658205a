package logger

import (
	"fmt"
	"strings"
	"time"
)

// LogKind classifies a LogEntry the way a console front-end splits its streams.
type LogKind string

const (
	// KindStdout carries debug and informational milestones.
	KindStdout LogKind = "stdout"
	// KindStderr carries warnings and errors.
	KindStderr LogKind = "stderr"
)

// LogEntry is a single transient log line streamed to an external sink.
// Entries are never persisted by the library.
type LogEntry struct {
	Kind      LogKind   `json:"kind"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives log entries. Implementations must not block for long: sinks are
// called synchronously from the routine that logs.
type Sink func(LogEntry)

// NewEntry builds a LogEntry for the given level, rendering key/value pairs
// after the message as "key=value".
func NewEntry(level LogLevel, ts time.Time, msg string, keysAndValues ...any) LogEntry {
	kind := KindStdout
	if level >= WarnLevel {
		kind = KindStderr
	}

	return LogEntry{
		Kind:      kind,
		Level:     levelName(level),
		Message:   renderMessage(msg, keysAndValues),
		Timestamp: ts,
	}
}

func levelName(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "fatal"
	}
}

func renderMessage(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}

	var sb strings.Builder
	sb.WriteString(msg)

	for i := 0; i < len(kv); i += 2 {
		sb.WriteByte(' ')
		if i+1 >= len(kv) {
			fmt.Fprintf(&sb, "!BADKEY=%v", kv[i])
			break
		}
		fmt.Fprintf(&sb, "%v=%v", kv[i], kv[i+1])
	}

	return sb.String()
}
