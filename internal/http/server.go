// Package http exposes the telemetry manager over HTTP and instruments every
// inbound request with correlation, request telemetry and a span.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Telemetry is the subset of *telemetry.Manager the server needs.
type Telemetry interface {
	telemetry.Tracker
	Health() telemetry.HealthStatus
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

var _ Telemetry = (*telemetry.Manager)(nil)

// Server provides HTTP endpoints for insightd.
type Server struct {
	echo      *echo.Echo
	telemetry Telemetry
	logger    *logging.Logger
	config    config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(tm Telemetry, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if tm == nil {
		return nil, errors.New("telemetry manager cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == (config.ServerConfig{}) {
		cfg = config.NewDefaultConfig().Server
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		telemetry: tm,
		logger:    logger.Named("http"),
		config:    cfg,
	}

	metrics := NewHTTPMetrics(tm.Meter(httpInstrumentationName), s.logger)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: correlation.NewID,
	}))
	e.Use(s.requestTelemetry())
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.Recover())

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1/telemetry")
	v1.POST("/events", s.handleEvent)
	v1.POST("/exceptions", s.handleException)
	v1.POST("/dependencies", s.handleDependency)
	v1.POST("/correlation", s.handleCorrelation)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It blocks until the server stops and returns
// nil after a graceful shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Run starts the server and shuts it down when ctx is cancelled, waiting at
// most the configured shutdown timeout for in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
