package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultVersion is the service version reported when none is configured.
const DefaultVersion = "1.0.0"

// Tracker is the surface collaborators use to report telemetry.
// *Manager implements it.
type Tracker interface {
	TrackEvent(ctx context.Context, name string, props map[string]string, measurements map[string]float64)
	TrackRequest(ctx context.Context, name, target string, success bool, durationMs float64, statusCode int, props map[string]string)
	TrackException(ctx context.Context, err error, props map[string]string)
	TrackDependency(ctx context.Context, name, depType, target string, success bool, durationMs float64, props map[string]string)
	StartOperation(ctx context.Context, name string) (context.Context, *SpanHandle)
	EndOperation(h *SpanHandle, success bool, errMsg string)
	CreateCorrelationContext(requestID string) correlation.Context
}

var _ Tracker = (*Manager)(nil)

// Manager emits telemetry records to a Sink and manages span lifecycle.
//
// A Manager without a sink runs in degraded mode: every record goes to the
// local log and StartOperation returns a nil handle. No method returns an
// error to the caller or panics because of telemetry.
type Manager struct {
	cfg      *Config
	logger   *logging.Logger
	fallback *LogSink
	sink     Sink
	reason   string

	ownedTracer   *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
	extMeter      metric.MeterProvider
	logProvider   otellog.LoggerProvider
	tracer        trace.Tracer

	now     func() time.Time
	limiter *rate.Limiter

	healthy atomic.Bool
	closed  atomic.Bool
}

// HealthStatus describes the manager's delivery state.
type HealthStatus struct {
	Sink     string `json:"sink"`
	Healthy  bool   `json:"healthy"`
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	sink           Sink
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
	limit          *rate.Limit
	burst          int
}

// WithSink attaches sink directly, skipping connection string handling.
func WithSink(sink Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithTracerProvider overrides the tracer provider used for operations.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider overrides the meter provider returned by Meter.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithFailureLimit overrides the rate of sink failure warnings.
func WithFailureLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		o.limit = &limit
		o.burst = burst
	}
}

// New creates a Manager. It never fails: an invalid config, a missing or
// malformed connection string, or a sink that cannot be opened all yield a
// degraded manager and a log line explaining why.
func New(ctx context.Context, cfg *Config, logger *logging.Logger, opts ...Option) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	cfgErr := cfg.Validate()
	if cfgErr != nil {
		cfg = NewDefaultConfig()
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("telemetry"),
		fallback: NewLogSink(logger),
		now:      time.Now,
		extMeter: o.meterProvider,
	}
	if o.now != nil {
		m.now = o.now
	}
	limit, burst := rate.Limit(cfg.FailureLog.PerSecond), cfg.FailureLog.Burst
	if o.limit != nil {
		limit, burst = *o.limit, o.burst
	}
	m.limiter = rate.NewLimiter(limit, burst)
	m.healthy.Store(true)

	switch {
	case cfgErr != nil:
		m.degrade(ctx, "invalid telemetry configuration", cfgErr)
	case o.sink != nil:
		m.attach(ctx, o.sink, nil, o.tracerProvider)
	case !cfg.ConnectionString.IsSet():
		m.degrade(ctx, "connection string not configured", nil)
	default:
		d, err := ParseDescriptor(cfg.ConnectionString.Value())
		if err != nil {
			m.degrade(ctx, "connection string rejected", err)
			break
		}
		sink, err := m.openSink(ctx, d)
		if err != nil {
			m.degrade(ctx, "telemetry sink unavailable", err)
			break
		}
		m.attach(ctx, sink, &d, o.tracerProvider)
	}

	return m
}

func (m *Manager) openSink(ctx context.Context, d Descriptor) (Sink, error) {
	switch d.Transport {
	case TransportNATS:
		return NewNATSSink(d, m.cfg.NATS, m.logger)
	case TransportOTLPGRPC, TransportOTLPHTTP:
		sink, err := NewOTLPSink(ctx, d, m.cfg, newResource(m.cfg))
		if err != nil {
			return nil, err
		}
		m.logProvider = sink.LoggerProvider()
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported transport %q", d.Transport)
	}
}

// degrade records that no remote sink is attached. A missing connection
// string is expected and logged at info; anything else is a warning.
func (m *Manager) degrade(ctx context.Context, reason string, err error) {
	m.reason = reason
	if err == nil {
		m.logger.Info(ctx, "telemetry running in degraded mode", zap.String("reason", reason))
		return
	}
	m.logger.Warn(ctx, "telemetry running in degraded mode", zap.String("reason", reason), zap.Error(err))
}

// attach wires sink and the tracing providers. d is nil for sinks supplied
// through WithSink.
func (m *Manager) attach(ctx context.Context, sink Sink, d *Descriptor, tp trace.TracerProvider) {
	m.sink = sink

	if tp == nil {
		res := newResource(m.cfg)
		var exporter sdktrace.SpanExporter
		if d != nil && d.Transport != TransportNATS {
			exp, err := newTraceExporter(ctx, *d)
			if err != nil {
				m.logger.Warn(ctx, "span export disabled", zap.Error(err))
			} else {
				exporter = exp
			}

			mp, err := newMeterProvider(ctx, m.cfg, *d, res)
			if err != nil {
				m.logger.Warn(ctx, "metric export disabled", zap.Error(err))
			} else if mp != nil {
				m.meterProvider = mp
			}
		}
		m.ownedTracer = newTracerProvider(m.cfg, res, exporter)
		tp = m.ownedTracer
		otel.SetTracerProvider(tp)
	}
	m.tracer = tp.Tracer(instrumentationName)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	fields := []zap.Field{zap.String("sink", sink.Name())}
	if d != nil {
		fields = append(fields,
			zap.Stringer("descriptor", d),
			logging.Secret("instrumentation_key", d.InstrumentationKey))
	}
	m.logger.Info(ctx, "telemetry sink attached", fields...)
}

// defaultProperties returns the properties present on every record.
func (m *Manager) defaultProperties(at time.Time) map[string]string {
	return map[string]string{
		PropTimestamp:      at.UTC().Format(time.RFC3339Nano),
		PropServiceVersion: m.cfg.ServiceVersion,
		PropEnvironment:    m.cfg.Environment,
	}
}

// mergeProperties overlays caller properties on the defaults.
func (m *Manager) mergeProperties(at time.Time, props map[string]string) map[string]string {
	merged := m.defaultProperties(at)
	for k, v := range props {
		merged[k] = v
	}
	return merged
}

// TrackEvent emits a named event.
func (m *Manager) TrackEvent(ctx context.Context, name string, props map[string]string, measurements map[string]float64) {
	if m == nil {
		return
	}
	at := m.now()
	m.emit(ctx, Event{
		Name:         name,
		Properties:   m.mergeProperties(at, props),
		Measurements: measurements,
	}.envelope(at), false)
}

// TrackRequest emits one completed unit of inbound work. A statusCode of 0
// means 200. The request id is taken from props, then from the correlation
// context in ctx, and generated otherwise.
func (m *Manager) TrackRequest(ctx context.Context, name, target string, success bool, durationMs float64, statusCode int, props map[string]string) {
	if m == nil {
		return
	}
	if statusCode == 0 {
		statusCode = 200
	}
	requestID := props[PropRequestID]
	if requestID == "" {
		requestID = correlation.RequestID(ctx)
	}
	if requestID == "" {
		requestID = correlation.NewID()
	}

	at := m.now()
	m.emit(ctx, Request{
		Name:         name,
		Target:       target,
		Success:      success,
		Duration:     durationMs,
		ResponseCode: statusCode,
		RequestID:    requestID,
		Properties:   m.mergeProperties(at, props),
	}.envelope(at), false)
}

// TrackException records err. The record is always written to the local
// log, and also sent to the sink when one is attached. A nil err is ignored.
func (m *Manager) TrackException(ctx context.Context, err error, props map[string]string) {
	if m == nil {
		return
	}
	if err == nil {
		m.logger.Debug(ctx, "TrackException called with nil error")
		return
	}
	at := m.now()
	env := Exception{
		Kind:       ErrorKind(err),
		Message:    err.Error(),
		Properties: m.mergeProperties(at, props),
		Timestamp:  at,
	}.envelope()

	_ = m.fallback.Send(safeContext(ctx), env)
	m.emit(ctx, env, true)
}

// TrackDependency emits one outbound call to another system.
func (m *Manager) TrackDependency(ctx context.Context, name, depType, target string, success bool, durationMs float64, props map[string]string) {
	if m == nil {
		return
	}
	at := m.now()
	m.emit(ctx, Dependency{
		Name:       name,
		Type:       depType,
		Target:     target,
		Success:    success,
		Duration:   durationMs,
		Properties: m.mergeProperties(at, props),
	}.envelope(at), false)
}

// emit hands env to the sink. loggedLocally marks records already written
// to the fallback log.
func (m *Manager) emit(ctx context.Context, env Envelope, loggedLocally bool) {
	ctx = safeContext(ctx)

	if m.sink == nil || m.closed.Load() {
		recordsTotal.WithLabelValues(string(env.Kind), m.fallback.Name()).Inc()
		if !loggedLocally {
			_ = m.fallback.Send(ctx, env)
		}
		return
	}

	name := m.sink.Name()
	if err := m.send(ctx, env); err != nil {
		m.healthy.Store(false)
		reason := "error"
		if errors.Is(err, ErrSinkPanic) {
			reason = "panic"
		}
		sinkFailuresTotal.WithLabelValues(name, reason).Inc()
		recordsTotal.WithLabelValues(string(env.Kind), m.fallback.Name()).Inc()
		if m.limiter.Allow() {
			m.logger.Warn(ctx, "telemetry sink send failed, falling back to log",
				zap.String("sink", name),
				zap.String("kind", string(env.Kind)),
				zap.String("record", env.Name),
				zap.Error(err),
			)
		}
		if !loggedLocally {
			_ = m.fallback.Send(ctx, env)
		}
		return
	}
	m.healthy.Store(true)
	recordsTotal.WithLabelValues(string(env.Kind), name).Inc()
}

// send calls the sink, converting a panic into an error.
func (m *Manager) send(ctx context.Context, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSinkPanic, r)
		}
	}()
	return m.sink.Send(ctx, env)
}

// StartOperation starts a span named name. It returns a nil handle in
// degraded mode; callers pass it to EndOperation regardless.
func (m *Manager) StartOperation(ctx context.Context, name string) (context.Context, *SpanHandle) {
	if ctx == nil {
		ctx = context.Background()
	}
	if m == nil || m.tracer == nil {
		return ctx, nil
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationName, name),
		attribute.String(AttrServiceVersion, m.cfg.ServiceVersion),
	}
	if id := correlation.RequestID(ctx); id != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, id))
	}

	ctx, span := m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &SpanHandle{span: span, name: name}
}

// EndOperation closes h with status OK, or ERROR described by errMsg
// (default "operation failed"). The error.message attribute is set only when
// errMsg is supplied. Nil and already ended handles are ignored.
func (m *Manager) EndOperation(h *SpanHandle, success bool, errMsg string) {
	if h == nil || !h.ended.CompareAndSwap(false, true) {
		return
	}
	if success {
		h.span.SetStatus(codes.Ok, "")
	} else if errMsg == "" {
		h.span.SetStatus(codes.Error, DefaultFailureMessage)
	} else {
		h.span.SetAttributes(attribute.String(AttrErrorMessage, errMsg))
		h.span.SetStatus(codes.Error, errMsg)
	}
	h.span.End()
}

// CreateCorrelationContext returns a new correlation context stamped with
// the service version. An empty requestID gets a fresh id.
func (m *Manager) CreateCorrelationContext(requestID string) correlation.Context {
	if m == nil {
		return correlation.New(requestID, DefaultVersion, time.Time{})
	}
	return correlation.New(requestID, m.cfg.ServiceVersion, m.now())
}

// Health returns the manager's delivery state. Safe to call at any time.
func (m *Manager) Health() HealthStatus {
	if m == nil {
		return HealthStatus{Sink: "none", Degraded: true, Reason: "no manager"}
	}
	if m.sink == nil {
		return HealthStatus{Sink: m.fallback.Name(), Healthy: true, Degraded: true, Reason: m.reason}
	}
	if m.closed.Load() {
		return HealthStatus{Sink: m.sink.Name(), Degraded: true, Reason: "shut down"}
	}
	return HealthStatus{Sink: m.sink.Name(), Healthy: m.healthy.Load()}
}

// HasSink reports whether a remote sink is attached.
func (m *Manager) HasSink() bool {
	return m != nil && m.sink != nil && !m.closed.Load()
}

// Config returns the effective configuration.
func (m *Manager) Config() *Config {
	if m == nil {
		return NewDefaultConfig()
	}
	return m.cfg
}

// Meter returns a meter for the given instrumentation scope.
func (m *Manager) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	switch {
	case m == nil:
		return otel.GetMeterProvider().Meter(name, opts...)
	case m.extMeter != nil:
		return m.extMeter.Meter(name, opts...)
	case m.meterProvider != nil:
		return m.meterProvider.Meter(name, opts...)
	default:
		return otel.GetMeterProvider().Meter(name, opts...)
	}
}

// LoggerProvider returns the OTLP log provider, or nil when the sink is not
// an OTLP sink.
func (m *Manager) LoggerProvider() otellog.LoggerProvider {
	if m == nil {
		return nil
	}
	return m.logProvider
}

// Flush asks the sink and owned providers to deliver pending data.
func (m *Manager) Flush(ctx context.Context) error {
	if m == nil || m.sink == nil || m.closed.Load() {
		return nil
	}
	ctx = safeContext(ctx)

	var errs []error
	if err := m.sink.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sink flush: %w", err))
	}
	if m.ownedTracer != nil {
		if err := m.ownedTracer.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown closes the sink and owned providers. The configured shutdown
// timeout applies when ctx has no deadline. Records emitted afterwards go to
// the local log.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx = safeContext(ctx)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Shutdown.Timeout.Duration())
		defer cancel()
	}

	var errs []error
	if m.sink != nil {
		if err := m.sink.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink close: %w", err))
		}
	}
	if m.ownedTracer != nil {
		if err := m.ownedTracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace provider shutdown: %w", err))
		}
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if err := m.fallback.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("log flush: %w", err))
	}
	return errors.Join(errs...)
}

// safeContext detaches ctx from cancellation so records are still emitted
// after the caller's context is done.
func safeContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
