// Package testutil holds helpers shared by package tests.
package testutil

import (
	"strings"
	"sync"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
)

// LogEntry is one record captured by RecordingLogger.
type LogEntry struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the last field named key.
func (e LogEntry) Field(key string) (interface{}, bool) {
	for i := len(e.Fields) - 1; i >= 0; i-- {
		if e.Fields[i].Key == key {
			return e.Fields[i].Value, true
		}
	}
	return nil, false
}

type journal struct {
	mu      sync.Mutex
	entries []LogEntry
}

// RecordingLogger implements logging.Logger and keeps every entry in memory.
// Children from With and Named write to the same journal.
type RecordingLogger struct {
	j      *journal
	name   string
	fields []logging.Field
}

// NewRecordingLogger returns an empty recorder.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{j: &journal{}}
}

func (l *RecordingLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(l.fields)+len(fields))
	all = append(all, l.fields...)
	all = append(all, fields...)
	l.j.mu.Lock()
	defer l.j.mu.Unlock()
	l.j.entries = append(l.j.entries, LogEntry{Level: level, Logger: l.name, Message: msg, Fields: all})
}

func (l *RecordingLogger) Debug(msg string, fields ...logging.Field) { l.log("debug", msg, fields) }
func (l *RecordingLogger) Info(msg string, fields ...logging.Field)  { l.log("info", msg, fields) }
func (l *RecordingLogger) Warn(msg string, fields ...logging.Field)  { l.log("warn", msg, fields) }
func (l *RecordingLogger) Error(msg string, fields ...logging.Field) { l.log("error", msg, fields) }

// Fatal records the entry without exiting.
func (l *RecordingLogger) Fatal(msg string, fields ...logging.Field) { l.log("fatal", msg, fields) }

func (l *RecordingLogger) With(fields ...logging.Field) logging.Logger {
	return &RecordingLogger{j: l.j, name: l.name, fields: append(append([]logging.Field(nil), l.fields...), fields...)}
}

func (l *RecordingLogger) Named(name string) logging.Logger {
	n := name
	if l.name != "" {
		n = l.name + "." + name
	}
	return &RecordingLogger{j: l.j, name: n, fields: l.fields}
}

// Entries returns a copy of the journal.
func (l *RecordingLogger) Entries() []LogEntry {
	l.j.mu.Lock()
	defer l.j.mu.Unlock()
	return append([]LogEntry(nil), l.j.entries...)
}

// Find returns the first entry at level whose message contains substr.
func (l *RecordingLogger) Find(level, substr string) (LogEntry, bool) {
	for _, e := range l.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Count returns the number of entries at level.
func (l *RecordingLogger) Count(level string) int {
	n := 0
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Reset empties the journal.
func (l *RecordingLogger) Reset() {
	l.j.mu.Lock()
	defer l.j.mu.Unlock()
	l.j.entries = nil
}
