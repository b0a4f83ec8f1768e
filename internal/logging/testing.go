package logging

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger whose output is kept in memory. Every level down to
// Trace is recorded and nothing is sampled.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger using the default configuration.
func NewTestLogger() *TestLogger {
	level := zap.NewAtomicLevelAt(TraceLevel)
	core, observed := observer.New(level)
	return &TestLogger{
		Logger: &Logger{
			zap:       zap.New(core),
			unsampled: zap.New(core),
			level:     level,
			config:    NewDefaultConfig(),
		},
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// Count returns the number of entries at level whose message contains
// msgContains.
func (t *TestLogger) Count(level zapcore.Level, msgContains string) int {
	return t.observed.FilterLevelExact(level).FilterMessageSnippet(msgContains).Len()
}

func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if t.Count(level, msgContains) == 0 {
		tb.Errorf("expected log at %v containing %q, got:\n%s", level, msgContains, t.dump())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if n := t.Count(level, msgContains); n > 0 {
		tb.Errorf("unexpected %d log(s) at %v containing %q", n, level, msgContains)
	}
}

// AssertField verifies that some entry whose message contains msg carries
// key with the expected value. Values are compared after decoding the
// fields into a map, so strings compare as strings and objects as maps.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	var seen []interface{}
	for _, entry := range t.FilterMessage(msg).All() {
		v, ok := entry.ContextMap()[key]
		if !ok {
			continue
		}
		if fmt.Sprint(v) == fmt.Sprint(expected) {
			return
		}
		seen = append(seen, v)
	}
	tb.Errorf("field %q=%v not found in message %q (seen %v)", key, expected, msg, seen)
}

// AssertCorrelated verifies that an entry whose message contains msg
// carries requestID and, when withTrace is set, a trace id.
func (t *TestLogger) AssertCorrelated(tb testing.TB, msg, requestID string, withTrace bool) {
	tb.Helper()
	for _, entry := range t.FilterMessage(msg).All() {
		fields := entry.ContextMap()
		if fields["request_id"] != requestID {
			continue
		}
		if _, ok := fields["trace_id"]; withTrace && !ok {
			continue
		}
		return
	}
	tb.Errorf("no %q entry correlated with request %q (trace=%v), got:\n%s", msg, requestID, withTrace, t.dump())
}

// AssertNoSecrets fails when any message or string field matches one of the
// logger's redaction patterns, or when a field named like a redacted key
// holds a value that was not masked.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	cfg := t.config.Redaction
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	leaks := func(s string) bool {
		for _, re := range patterns {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}

	for _, entry := range t.observed.All() {
		if leaks(entry.Message) {
			tb.Errorf("sensitive pattern in message: %q", entry.Message)
		}
		for _, field := range entry.Context {
			if field.Type != zapcore.StringType {
				continue
			}
			if leaks(field.String) {
				tb.Errorf("sensitive pattern in field %q: %q", field.Key, field.String)
			}
			if isSensitiveKey(field.Key, cfg.Fields) && field.String != "" && !strings.HasPrefix(field.String, "[REDACTED") {
				tb.Errorf("sensitive field %q not redacted: %q", field.Key, field.String)
			}
		}
	}
}

func isSensitiveKey(key string, names []string) bool {
	key = strings.ToLower(key)
	for _, name := range names {
		if strings.Contains(key, name) {
			return true
		}
	}
	return false
}

func (t *TestLogger) dump() string {
	var b strings.Builder
	for _, entry := range t.observed.All() {
		fmt.Fprintf(&b, "  %v %q %v\n", entry.Level, entry.Message, entry.ContextMap())
	}
	return b.String()
}
