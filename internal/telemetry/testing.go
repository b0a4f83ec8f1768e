package telemetry

import (
	"context"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// RecordingSink keeps envelopes in memory. It can be told to fail or panic.
type RecordingSink struct {
	mu        sync.Mutex
	envelopes []Envelope
	err       error
	panicWith any
	flushes   int
	closed    bool
}

// NewRecordingSink returns an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Name() string { return "recording" }

func (s *RecordingSink) Send(_ context.Context, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.panicWith != nil {
		panic(s.panicWith)
	}
	if s.err != nil {
		return s.err
	}
	s.envelopes = append(s.envelopes, env)
	return nil
}

func (s *RecordingSink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *RecordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailWith makes subsequent sends return err. A nil err restores success.
func (s *RecordingSink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// PanicWith makes subsequent sends panic with v. A nil v restores success.
func (s *RecordingSink) PanicWith(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panicWith = v
}

// Envelopes returns a copy of everything received.
func (s *RecordingSink) Envelopes() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.envelopes...)
}

// Find returns the envelopes of kind with the given name.
func (s *RecordingSink) Find(kind Kind, name string) []Envelope {
	var out []Envelope
	for _, env := range s.Envelopes() {
		if env.Kind == kind && env.Name == name {
			out = append(out, env)
		}
	}
	return out
}

// OfKind returns the envelopes of kind.
func (s *RecordingSink) OfKind(kind Kind) []Envelope {
	var out []Envelope
	for _, env := range s.Envelopes() {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

// Flushes returns how many times Flush was called.
func (s *RecordingSink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called.
func (s *RecordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset discards recorded envelopes.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = nil
}

// TestManager is a Manager wired to in-memory sinks for tests.
type TestManager struct {
	*Manager

	Sink         *RecordingSink
	Logs         *logging.TestLogger
	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
}

// NewTestManager returns a manager with a RecordingSink, a span recorder,
// a manual metric reader and an observed logger.
func NewTestManager(opts ...Option) *TestManager {
	sink := NewRecordingSink()
	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	logs := logging.NewTestLogger()

	base := []Option{
		WithSink(sink),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))),
		WithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))),
	}
	return &TestManager{
		Manager:      New(context.Background(), NewDefaultConfig(), logs.Logger, append(base, opts...)...),
		Sink:         sink,
		Logs:         logs,
		SpanRecorder: spans,
		MetricReader: reader,
	}
}

// NewDegradedTestManager returns a manager without a sink and an observed
// logger.
func NewDegradedTestManager(opts ...Option) *TestManager {
	logs := logging.NewTestLogger()
	return &TestManager{
		Manager: New(context.Background(), NewDefaultConfig(), logs.Logger, opts...),
		Logs:    logs,
	}
}

// Spans returns all ended spans.
func (t *TestManager) Spans() []sdktrace.ReadOnlySpan {
	if t.SpanRecorder == nil {
		return nil
	}
	return t.SpanRecorder.Ended()
}

// SpanByName finds an ended span by name, or nil if not found.
func (t *TestManager) SpanByName(name string) sdktrace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestManager) AssertSpanAttribute(tb testing.TB, spanName, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}
	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			if got := attrValue(attr.Value); got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// CollectMetrics reads the current metric state.
func (t *TestManager) CollectMetrics(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if t.MetricReader == nil {
		return rm, nil
	}
	err := t.MetricReader.Collect(ctx, &rm)
	return rm, err
}

func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
