package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the record category carried by every Envelope.
type Kind string

const (
	KindEvent      Kind = "event"
	KindRequest    Kind = "request"
	KindException  Kind = "exception"
	KindDependency Kind = "dependency"
)

// Property keys set by the manager.
const (
	PropTimestamp      = "timestamp"
	PropServiceVersion = "service_version"
	PropEnvironment    = "environment"
	PropRequestID      = "request_id"
	PropURL            = "url"
	PropSuccess        = "success"
	PropResponseCode   = "response_code"
	PropExceptionType  = "exception_type"
	PropMessage        = "message"
	PropDependencyType = "dependency_type"
	PropTarget         = "target"

	MeasureDuration = "duration_ms"
)

// Envelope is the wire shape handed to a Sink: a name, string properties,
// numeric measurements and a timestamp.
type Envelope struct {
	Kind         Kind               `json:"kind"`
	Name         string             `json:"name"`
	Time         time.Time          `json:"time"`
	Properties   map[string]string  `json:"properties,omitempty"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
}

// Success reports the success property, treating a missing value as true.
func (e Envelope) Success() bool {
	v, ok := e.Properties[PropSuccess]
	return !ok || v != "false"
}

// Event is a named occurrence with optional measurements.
type Event struct {
	Name         string
	Properties   map[string]string
	Measurements map[string]float64
}

// Request is one completed unit of inbound work.
type Request struct {
	Name         string
	Target       string
	Success      bool
	Duration     float64 // milliseconds
	ResponseCode int
	RequestID    string
	Properties   map[string]string
}

// Exception is a captured error.
type Exception struct {
	Kind       string
	Message    string
	Properties map[string]string
	Timestamp  time.Time
}

// Dependency is one outbound call to another system.
type Dependency struct {
	Name       string
	Type       string
	Target     string
	Success    bool
	Duration   float64 // milliseconds
	Properties map[string]string
}

func (e Event) envelope(at time.Time) Envelope {
	return Envelope{
		Kind:         KindEvent,
		Name:         e.Name,
		Time:         at,
		Properties:   e.Properties,
		Measurements: copyMeasurements(e.Measurements),
	}
}

func (r Request) envelope(at time.Time) Envelope {
	props := r.Properties
	props[PropURL] = r.Target
	props[PropSuccess] = strconv.FormatBool(r.Success)
	props[PropResponseCode] = strconv.Itoa(r.ResponseCode)
	props[PropRequestID] = r.RequestID
	return Envelope{
		Kind:         KindRequest,
		Name:         r.Name,
		Time:         at,
		Properties:   props,
		Measurements: map[string]float64{MeasureDuration: clampDuration(r.Duration)},
	}
}

func (x Exception) envelope() Envelope {
	props := x.Properties
	props[PropExceptionType] = x.Kind
	props[PropMessage] = x.Message
	return Envelope{
		Kind:       KindException,
		Name:       x.Kind,
		Time:       x.Timestamp,
		Properties: props,
	}
}

func (d Dependency) envelope(at time.Time) Envelope {
	props := d.Properties
	props[PropDependencyType] = d.Type
	props[PropTarget] = d.Target
	props[PropSuccess] = strconv.FormatBool(d.Success)
	return Envelope{
		Kind:         KindDependency,
		Name:         d.Name,
		Time:         at,
		Properties:   props,
		Measurements: map[string]float64{MeasureDuration: clampDuration(d.Duration)},
	}
}

// clampDuration maps negative and non-finite durations to zero.
func clampDuration(ms float64) float64 {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return 0
	}
	return ms
}

func copyMeasurements(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ErrorKind returns the category of err: the result of a Kind() string
// method anywhere in the chain, else the dynamic type of the innermost
// wrapped error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var k interface{ Kind() string }
	if errors.As(err, &k) {
		if s := k.Kind(); s != "" {
			return s
		}
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

// ReportedError is an error described by kind and message, for failures
// observed outside this process.
type ReportedError struct {
	Type    string
	Message string
}

func (e *ReportedError) Error() string { return e.Message }

// Kind implements the kind lookup used by ErrorKind.
func (e *ReportedError) Kind() string { return e.Type }

// PanicError wraps a value recovered from a panicking operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Kind implements the kind lookup used by ErrorKind.
func (e *PanicError) Kind() string { return "panic" }
