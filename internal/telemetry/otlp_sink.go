package telemetry

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	"google.golang.org/grpc/credentials"
)

// instrumentationKeyHeader carries the descriptor's instrumentation key on
// every OTLP export request.
const instrumentationKeyHeader = "x-instrumentation-key"

// OTLPSink emits envelopes as OpenTelemetry log records through a batching
// LoggerProvider.
type OTLPSink struct {
	name     string
	provider *sdklog.LoggerProvider
	logger   otellog.Logger
	closed   atomic.Bool
}

// NewOTLPSink creates an OTLP log exporter for d and wraps it in a batching
// sink.
func NewOTLPSink(ctx context.Context, d Descriptor, cfg *Config, res *resource.Resource) (*OTLPSink, error) {
	exp, err := newLogExporter(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("creating log exporter: %w", err)
	}
	return newOTLPSink(string(d.Transport), exp, cfg, res), nil
}

func newOTLPSink(name string, exp sdklog.Exporter, cfg *Config, res *resource.Resource) *OTLPSink {
	processor := sdklog.NewBatchProcessor(exp,
		sdklog.WithExportInterval(cfg.Logs.ExportInterval.Duration()),
		sdklog.WithMaxQueueSize(cfg.Logs.MaxQueueSize),
		sdklog.WithExportMaxBatchSize(cfg.Logs.MaxBatchSize),
	)
	opts := []sdklog.LoggerProviderOption{sdklog.WithProcessor(processor)}
	if res != nil {
		opts = append(opts, sdklog.WithResource(res))
	}
	provider := sdklog.NewLoggerProvider(opts...)
	return &OTLPSink{
		name:     name,
		provider: provider,
		logger:   provider.Logger(instrumentationName),
	}
}

func newLogExporter(ctx context.Context, d Descriptor) (sdklog.Exporter, error) {
	headers := exportHeaders(d)

	switch d.Transport {
	case TransportOTLPHTTP:
		opts := []otlploghttp.Option{
			otlploghttp.WithEndpoint(d.Endpoint),
			otlploghttp.WithHeaders(headers),
		}
		if d.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		} else {
			opts = append(opts, otlploghttp.WithTLSClientConfig(tlsConfig()))
		}
		return otlploghttp.New(ctx, opts...)
	case TransportOTLPGRPC:
		opts := []otlploggrpc.Option{
			otlploggrpc.WithEndpoint(d.Endpoint),
			otlploggrpc.WithHeaders(headers),
		}
		if d.Insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		} else {
			opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(tlsConfig())))
		}
		return otlploggrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("transport %q is not an OTLP transport", d.Transport)
	}
}

func tlsConfig() *tls.Config {
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func (s *OTLPSink) Name() string { return s.name }

// Send hands env to the batch processor. Delivery happens asynchronously.
func (s *OTLPSink) Send(ctx context.Context, env Envelope) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}

	var rec otellog.Record
	rec.SetTimestamp(env.Time)
	rec.SetObservedTimestamp(time.Now())
	sev, text := severityFor(env)
	rec.SetSeverity(sev)
	rec.SetSeverityText(text)
	rec.SetBody(otellog.StringValue(env.Name))

	props := make([]otellog.KeyValue, 0, len(env.Properties))
	for _, k := range sortedKeys(env.Properties) {
		props = append(props, otellog.String(k, env.Properties[k]))
	}
	measures := make([]otellog.KeyValue, 0, len(env.Measurements))
	for _, k := range sortedKeys(env.Measurements) {
		measures = append(measures, otellog.Float64(k, env.Measurements[k]))
	}
	rec.AddAttributes(
		otellog.String("telemetry.kind", string(env.Kind)),
		otellog.Map("properties", props...),
		otellog.Map("measurements", measures...),
	)

	s.logger.Emit(ctx, rec)
	return nil
}

func (s *OTLPSink) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	return s.provider.ForceFlush(ctx)
}

// Close flushes pending records and shuts the provider down.
func (s *OTLPSink) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.provider.Shutdown(ctx)
}

// LoggerProvider exposes the sink's provider for the zap bridge.
func (s *OTLPSink) LoggerProvider() otellog.LoggerProvider {
	return s.provider
}

func severityFor(env Envelope) (otellog.Severity, string) {
	switch {
	case env.Kind == KindException:
		return otellog.SeverityError, "ERROR"
	case !env.Success():
		return otellog.SeverityWarn, "WARN"
	default:
		return otellog.SeverityInfo, "INFO"
	}
}
