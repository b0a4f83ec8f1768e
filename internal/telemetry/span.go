package telemetry

import (
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrOperationName  = "operation.name"
	AttrServiceVersion = "service.version"
	AttrRequestID      = "request.id"
	AttrErrorMessage   = "error.message"
)

// DefaultFailureMessage describes the status of spans ended as failed without a message.
const DefaultFailureMessage = "operation failed"

// SpanHandle is one traced operation started by StartOperation. A nil
// handle is valid and inert. A handle belongs to a single operation and is
// ended at most once.
type SpanHandle struct {
	span  trace.Span
	name  string
	ended atomic.Bool
}

// Name returns the operation name.
func (h *SpanHandle) Name() string {
	if h == nil {
		return ""
	}
	return h.name
}

// SpanContext returns the span's context, or an empty one for a nil handle.
func (h *SpanHandle) SpanContext() trace.SpanContext {
	if h == nil {
		return trace.SpanContext{}
	}
	return h.span.SpanContext()
}

// Ended reports whether EndOperation has closed the handle.
func (h *SpanHandle) Ended() bool {
	return h != nil && h.ended.Load()
}
