// Package correlation carries the identifier bundle that threads one logical
// operation through logs, traces and telemetry records.
package correlation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context identifies one inbound operation. It is a value type and is never
// mutated after New returns it.
type Context struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// New returns a Context for requestID, generating a fresh id when requestID
// is empty. now is the creation instant; a zero value uses time.Now.
func New(requestID, version string, now time.Time) Context {
	if requestID == "" {
		requestID = NewID()
	}
	if now.IsZero() {
		now = time.Now()
	}
	return Context{
		RequestID: requestID,
		Timestamp: now.UTC(),
		Version:   version,
	}
}

// NewID returns a random (v4) identifier.
func NewID() string {
	return uuid.NewString()
}

// IsZero reports whether c carries no request id.
func (c Context) IsZero() bool {
	return c.RequestID == ""
}

// Fields returns the context as string properties suitable for telemetry
// records.
func (c Context) Fields() map[string]string {
	if c.IsZero() {
		return nil
	}
	return map[string]string{
		"request_id":          c.RequestID,
		"correlation_time":    c.Timestamp.Format(time.RFC3339Nano),
		"correlation_version": c.Version,
	}
}

type ctxKey struct{}

// WithContext stores c in ctx.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the Context stored in ctx, if any.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok && !c.IsZero()
}

// RequestID returns the request id carried by ctx, or "".
func RequestID(ctx context.Context) string {
	c, _ := FromContext(ctx)
	return c.RequestID
}
