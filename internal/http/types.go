package http

import "github.com/fyrsmithlabs/insightd/internal/telemetry"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Telemetry telemetry.HealthStatus `json:"telemetry"`
}

// EventRequest is the request body for POST /api/v1/telemetry/events.
type EventRequest struct {
	Name         string             `json:"name"`
	Properties   map[string]string  `json:"properties,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// ExceptionRequest is the request body for POST /api/v1/telemetry/exceptions.
// Kind is the reported error type, e.g. "TimeoutError".
type ExceptionRequest struct {
	Kind       string            `json:"kind"`
	Message    string            `json:"message"`
	Properties map[string]string `json:"properties,omitempty"`
}

// DependencyRequest is the request body for POST /api/v1/telemetry/dependencies.
// A missing success field counts as success.
type DependencyRequest struct {
	Name       string            `json:"name"`
	Type       string            `json:"type"`
	Target     string            `json:"target"`
	Success    *bool             `json:"success,omitempty"`
	DurationMs float64           `json:"duration_ms"`
	Properties map[string]string `json:"properties,omitempty"`
}

// CorrelationRequest is the request body for POST /api/v1/telemetry/correlation.
type CorrelationRequest struct {
	RequestID string `json:"request_id,omitempty"`
}

// TrackResponse acknowledges an accepted telemetry record.
type TrackResponse struct {
	EventID          string  `json:"event_id,omitempty"`
	RequestID        string  `json:"request_id"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}
