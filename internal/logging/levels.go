package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug. Per-record telemetry output goes here.
const TraceLevel = zapcore.Level(-2)

// Level is a zapcore.Level that can be decoded from configuration,
// including the "trace" name zap does not know.
type Level zapcore.Level

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// LevelName is the inverse of ParseLevel.
func LevelName(l zapcore.Level) string {
	if l == TraceLevel {
		return "trace"
	}
	return l.String()
}

func (l *Level) UnmarshalText(text []byte) error {
	z, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = Level(z)
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(LevelName(l.Zap())), nil
}

func (l Level) String() string { return LevelName(l.Zap()) }

// Zap returns l as a zapcore.Level.
func (l Level) Zap() zapcore.Level { return zapcore.Level(l) }
