package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// StdoutLogger is a tiny, structured logger that prints one JSON object per
// line. It is the default logger for the service binaries.
type StdoutLogger struct {
	mu     sync.Mutex
	out    io.Writer
	level  Level
	fields []Field
}

// NewStdoutLogger creates a StdoutLogger writing to stdout at the given level.
func NewStdoutLogger(level Level) *StdoutLogger {
	return &StdoutLogger{out: os.Stdout, level: level}
}

// NewWriterLogger creates a StdoutLogger writing to an arbitrary writer.
// Useful in tests that want to inspect output.
func NewWriterLogger(w io.Writer, level Level) *StdoutLogger {
	return &StdoutLogger{out: w, level: level}
}

func (s *StdoutLogger) log(level Level, msg string, fields ...Field) {
	if level < s.level {
		return
	}
	type outEntry struct {
		Time   string         `json:"ts"`
		Level  string         `json:"level"`
		Msg    string         `json:"msg"`
		Fields map[string]any `json:"fields,omitempty"`
	}
	m := make(map[string]any, len(s.fields)+len(fields))
	for _, f := range s.fields {
		m[f.Key] = f.Value
	}
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	entry := outEntry{
		Time:   time.Now().UTC().Format(time.RFC3339),
		Level:  level.String(),
		Msg:    msg,
		Fields: m,
	}
	enc, err := json.Marshal(entry)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Fallback to plain formatting if JSON marshal fails.
		fmt.Fprintf(s.out, "%s %s %v\n", level, msg, m)
		return
	}
	fmt.Fprintln(s.out, string(enc))
}

func (s *StdoutLogger) Debug(msg string, fields ...Field) { s.log(LevelDebug, msg, fields...) }
func (s *StdoutLogger) Info(msg string, fields ...Field)  { s.log(LevelInfo, msg, fields...) }
func (s *StdoutLogger) Warn(msg string, fields ...Field)  { s.log(LevelWarn, msg, fields...) }
func (s *StdoutLogger) Error(msg string, fields ...Field) { s.log(LevelError, msg, fields...) }

// With returns a child logger carrying the given fields on every entry.
func (s *StdoutLogger) With(fields ...Field) Logger {
	child := &StdoutLogger{out: s.out, level: s.level}
	child.fields = append(child.fields, s.fields...)
	child.fields = append(child.fields, fields...)
	return child
}

var _ Logger = (*StdoutLogger)(nil)

// NopLogger discards everything. Handy as a default when callers pass nil.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}
func (n NopLogger) With(...Field) Logger { return n }

var _ Logger = NopLogger{}

// OrNop returns l, or a NopLogger when l is nil. Components use it so a nil
// logger never panics deep in a pipeline.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger{}
	}
	return l
}
