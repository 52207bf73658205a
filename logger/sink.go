package logger

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// sinkLogger writes every record to a base Logger and forwards enabled records
// to a Sink as LogEntry values.
type sinkLogger struct {
	base   Logger
	sink   Sink
	fields []any
	now    func() time.Time
}

var _ Logger = (*sinkLogger)(nil)

// NewSinkLogger returns a Logger that tees base into sink.
//
// Only records at or above base.Level() reach the sink, so the sink always sees
// the same stream the process log does. A nil sink makes the logger behave like base.
func NewSinkLogger(base Logger, sink Sink) Logger {
	if base == nil {
		base = GetLogger()
	}

	return &sinkLogger{base: base, sink: sink, now: time.Now}
}

func (s *sinkLogger) Debug(msg string, keysAndValues ...any) {
	s.base.Debug(msg, keysAndValues...)
	s.emit(DebugLevel, msg, keysAndValues)
}

func (s *sinkLogger) Info(msg string, keysAndValues ...any) {
	s.base.Info(msg, keysAndValues...)
	s.emit(InfoLevel, msg, keysAndValues)
}

func (s *sinkLogger) Warn(msg string, keysAndValues ...any) {
	s.base.Warn(msg, keysAndValues...)
	s.emit(WarnLevel, msg, keysAndValues)
}

func (s *sinkLogger) Error(msg string, keysAndValues ...any) {
	s.base.Error(msg, keysAndValues...)
	s.emit(ErrorLevel, msg, keysAndValues)
}

func (s *sinkLogger) Fatal(msg string, keysAndValues ...any) {
	s.emit(FatalLevel, msg, keysAndValues)
	s.base.Fatal(msg, keysAndValues...)
}

func (s *sinkLogger) With(keyValues ...any) Logger {
	fields := make([]any, 0, len(s.fields)+len(keyValues))
	fields = append(fields, s.fields...)
	fields = append(fields, keyValues...)

	return &sinkLogger{
		base:   s.base.With(keyValues...),
		sink:   s.sink,
		fields: fields,
		now:    s.now,
	}
}

func (s *sinkLogger) Level() LogLevel {
	return s.base.Level()
}

func (s *sinkLogger) SetLevel(level LogLevel) {
	s.base.SetLevel(level)
}

func (s *sinkLogger) emit(level LogLevel, msg string, kv []any) {
	if s.sink == nil || level < s.base.Level() {
		return
	}

	if len(s.fields) > 0 {
		all := make([]any, 0, len(s.fields)+len(kv))
		all = append(all, s.fields...)
		kv = append(all, kv...)
	}

	s.sink(NewEntry(level, s.now(), msg, kv...))
}

// NewJSONSink returns a Sink that writes each entry to w as one JSON line.
// Writes are serialized and happen before the logging call returns, so no
// entry is lost however fast records arrive. Encoding errors are dropped.
func NewJSONSink(w io.Writer) Sink {
	var mu sync.Mutex
	enc := json.NewEncoder(w)

	return func(e LogEntry) {
		mu.Lock()
		defer mu.Unlock()

		_ = enc.Encode(e)
	}
}
