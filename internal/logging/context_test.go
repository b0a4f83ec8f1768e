package logging

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	//nolint:staticcheck // nil context is tolerated
	assert.Nil(t, ContextFields(nil))
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	assertFieldExists(t, fields, "trace_id", "4bf92f3577b34da6a3ce929d0e0e4736")
	assertFieldExists(t, fields, "span_id", "00f067aa0ba902b7")

	var sampled bool
	for _, f := range fields {
		if f.Key == "trace_sampled" {
			sampled = true
		}
	}
	assert.True(t, sampled)
}

func TestContextFields_Correlation(t *testing.T) {
	cc := correlation.New("abc", "2.0.0", time.Now())
	fields := ContextFields(correlation.WithContext(context.Background(), cc))

	assert.Len(t, fields, 1)
	assertFieldExists(t, fields, "request_id", "abc")
}

func TestWithLogger_FromContext(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)

	assert.Same(t, tl.Logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
