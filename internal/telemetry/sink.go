package telemetry

import (
	"context"
	"errors"
	"sort"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// ErrSinkClosed is returned by sinks after Close.
	ErrSinkClosed = errors.New("telemetry sink closed")

	// ErrSinkPanic wraps a panic recovered from a sink.
	ErrSinkPanic = errors.New("telemetry sink panicked")
)

// Sink receives telemetry envelopes. Implementations own their
// synchronization; Send must not block on remote delivery.
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// LogSink writes one structured log line per envelope. It is the fallback
// used in degraded mode and whenever a remote sink fails.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a LogSink writing through logger. Sampling is bypassed
// so records are never dropped.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LogSink{logger: logger.Named("telemetry").WithoutSampling()}
}

func (s *LogSink) Name() string { return "log" }

// Send logs env as "<kind>: <name>". Exceptions log at error, failed
// requests and dependencies at warn, everything else at info.
func (s *LogSink) Send(ctx context.Context, env Envelope) error {
	level := zapcore.InfoLevel
	switch {
	case env.Kind == KindException:
		level = zapcore.ErrorLevel
	case !env.Success():
		level = zapcore.WarnLevel
	}

	s.logger.Log(ctx, level, string(env.Kind)+": "+env.Name,
		zap.String("telemetry.kind", string(env.Kind)),
		zap.String("telemetry.name", env.Name),
		zap.Time("telemetry.time", env.Time),
		zap.Object("properties", stringMap(env.Properties)),
		zap.Object("measurements", floatMap(env.Measurements)),
	)
	return nil
}

func (s *LogSink) Flush(context.Context) error { return s.logger.Sync() }

func (s *LogSink) Close(ctx context.Context) error { return s.Flush(ctx) }

type stringMap map[string]string

func (m stringMap) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range sortedKeys(m) {
		enc.AddString(k, m[k])
	}
	return nil
}

type floatMap map[string]float64

func (m floatMap) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, k := range sortedKeys(m) {
		enc.AddFloat64(k, m[k])
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
