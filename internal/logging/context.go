package logging

import (
	"context"

	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields returns the correlation fields carried by ctx: the active
// span's trace and span ids, and the request id of the correlation context.
// Every level method prepends them, so call sites never add them by hand.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := correlation.RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

type loggerKey struct{}

// WithLogger returns ctx carrying l. Handlers retrieve it with FromContext
// instead of holding a logger of their own.
func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, _ := ctx.Value(loggerKey{}).(*Logger); l != nil {
		return l
	}
	return NewNop()
}
