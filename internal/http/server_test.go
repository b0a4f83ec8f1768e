package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := config.ServerConfig{Host: "localhost", Port: 9191}

		server, err := NewServer(telemetry.NewTestManager(), logging.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is empty", func(t *testing.T) {
		server, err := NewServer(telemetry.NewTestManager(), logging.NewNop(), config.ServerConfig{})
		require.NoError(t, err)
		assert.Equal(t, 9090, server.config.Port)
		assert.Equal(t, 10*time.Second, server.config.ShutdownTimeout.Duration())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(telemetry.NewTestManager(), nil, config.ServerConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when manager is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), config.ServerConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telemetry manager cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("reports attached sink", func(t *testing.T) {
		server, _ := setupTestServer(t)

		rec := serve(server, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "recording", resp.Telemetry.Sink)
		assert.True(t, resp.Telemetry.Healthy)
		assert.False(t, resp.Telemetry.Degraded)
	})

	t.Run("reports degraded mode", func(t *testing.T) {
		tm := telemetry.NewDegradedTestManager()
		server, err := NewServer(tm, tm.Logs.Logger, config.ServerConfig{})
		require.NoError(t, err)

		rec := serve(server, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "log", resp.Telemetry.Sink)
		assert.True(t, resp.Telemetry.Degraded)
		assert.Equal(t, "connection string not configured", resp.Telemetry.Reason)
	})

	t.Run("reports unhealthy sink after a failed send", func(t *testing.T) {
		server, tm := setupTestServer(t)
		tm.Sink.FailWith(errors.New("collector down"))

		serve(server, http.MethodPost, "/api/v1/telemetry/events", EventRequest{Name: "probe"})

		rec := serve(server, http.MethodGet, "/health", nil)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.False(t, resp.Telemetry.Healthy)
	})
}

func TestHandleEvent(t *testing.T) {
	t.Run("tracks event with properties and measurements", func(t *testing.T) {
		server, tm := setupTestServer(t)

		rec := serveWithID(server, http.MethodPost, "/api/v1/telemetry/events", EventRequest{
			Name:         "checkout_completed",
			Properties:   map[string]string{"cart": "c-1"},
			Measurements: map[string]float64{"items": 3},
		}, "req-events-1")
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp TrackResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.EventID)
		assert.Equal(t, "req-events-1", resp.RequestID)
		assert.GreaterOrEqual(t, resp.ProcessingTimeMs, 0.0)

		events := tm.Sink.Find(telemetry.KindEvent, "checkout_completed")
		require.Len(t, events, 1)
		assert.Equal(t, "c-1", events[0].Properties["cart"])
		assert.Equal(t, resp.EventID, events[0].Properties["event_id"])
		assert.Equal(t, "req-events-1", events[0].Properties[telemetry.PropRequestID])
		assert.Equal(t, 3.0, events[0].Measurements["items"])
	})

	t.Run("rejects missing name", func(t *testing.T) {
		server, tm := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/events", EventRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "name field is required")
		assert.Empty(t, tm.Sink.OfKind(telemetry.KindEvent))
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		server, _ := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry/events", bytes.NewReader([]byte("invalid json")))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("succeeds when the sink fails", func(t *testing.T) {
		server, tm := setupTestServer(t)
		tm.Sink.FailWith(errors.New("collector down"))

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/events", EventRequest{Name: "still_ok"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
		tm.Logs.AssertLogged(t, zapcore.WarnLevel, "falling back to log")
	})
}

func TestHandleException(t *testing.T) {
	t.Run("tracks reported exception and logs it locally", func(t *testing.T) {
		server, tm := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/exceptions", ExceptionRequest{
			Kind:       "TimeoutError",
			Message:    "upstream timed out",
			Properties: map[string]string{"upstream": "billing"},
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		recs := tm.Sink.Find(telemetry.KindException, "TimeoutError")
		require.Len(t, recs, 1)
		assert.Equal(t, "upstream timed out", recs[0].Properties[telemetry.PropMessage])
		assert.Equal(t, "billing", recs[0].Properties["upstream"])
		tm.Logs.AssertLogged(t, zapcore.ErrorLevel, "exception: TimeoutError")
	})

	t.Run("defaults the kind", func(t *testing.T) {
		server, tm := setupTestServer(t)

		serve(server, http.MethodPost, "/api/v1/telemetry/exceptions", ExceptionRequest{Message: "boom"})
		assert.Len(t, tm.Sink.Find(telemetry.KindException, defaultExceptionKind), 1)
	})

	t.Run("rejects missing message", func(t *testing.T) {
		server, _ := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/exceptions", ExceptionRequest{Kind: "X"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleDependency(t *testing.T) {
	t.Run("tracks dependency", func(t *testing.T) {
		server, tm := setupTestServer(t)
		failed := false

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/dependencies", DependencyRequest{
			Name:       "GET /accounts",
			Type:       "HTTP",
			Target:     "accounts.internal",
			Success:    &failed,
			DurationMs: 42.5,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		deps := tm.Sink.Find(telemetry.KindDependency, "GET /accounts")
		require.Len(t, deps, 1)
		assert.Equal(t, "HTTP", deps[0].Properties[telemetry.PropDependencyType])
		assert.Equal(t, "accounts.internal", deps[0].Properties[telemetry.PropTarget])
		assert.False(t, deps[0].Success())
		assert.Equal(t, 42.5, deps[0].Measurements[telemetry.MeasureDuration])
	})

	t.Run("missing success counts as success", func(t *testing.T) {
		server, tm := setupTestServer(t)

		serve(server, http.MethodPost, "/api/v1/telemetry/dependencies", DependencyRequest{Name: "query", Type: "SQL"})
		deps := tm.Sink.Find(telemetry.KindDependency, "query")
		require.Len(t, deps, 1)
		assert.True(t, deps[0].Success())
	})

	t.Run("rejects missing type", func(t *testing.T) {
		server, _ := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/dependencies", DependencyRequest{Name: "query"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCorrelation(t *testing.T) {
	t.Run("echoes supplied request id", func(t *testing.T) {
		server, _ := setupTestServer(t)

		rec := serve(server, http.MethodPost, "/api/v1/telemetry/correlation", CorrelationRequest{RequestID: "abc"})
		require.Equal(t, http.StatusOK, rec.Code)

		var cc correlation.Context
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cc))
		assert.Equal(t, "abc", cc.RequestID)
		assert.Equal(t, telemetry.DefaultVersion, cc.Version)
		assert.False(t, cc.Timestamp.IsZero())
	})

	t.Run("generates id for empty body", func(t *testing.T) {
		server, _ := setupTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry/correlation", nil)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var cc correlation.Context
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cc))
		assert.NotEmpty(t, cc.RequestID)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := setupTestServer(t)
	serve(server, http.MethodPost, "/api/v1/telemetry/events", EventRequest{Name: "scraped"})

	rec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "insightd_telemetry_records_total")
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: config.Duration(time.Second)}
		server, err := NewServer(telemetry.NewTestManager(), logging.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() { errChan <- server.Start() }()
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))

		select {
		case err := <-errChan:
			assert.NoError(t, err)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})

	t.Run("run stops on context cancellation", func(t *testing.T) {
		cfg := config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: config.Duration(time.Second)}
		server, err := NewServer(telemetry.NewTestManager(), logging.NewNop(), cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- server.Run(ctx) }()
		time.Sleep(100 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}

// setupTestServer creates a server backed by a recording test manager.
func setupTestServer(t *testing.T) (*Server, *telemetry.TestManager) {
	t.Helper()

	tm := telemetry.NewTestManager()
	server, err := NewServer(tm, tm.Logs.Logger, setupConfig())
	require.NoError(t, err)
	return server, tm
}

func setupConfig() config.ServerConfig {
	return config.ServerConfig{Host: "localhost", Port: 9090, ShutdownTimeout: config.Duration(time.Second)}
}

func serve(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	return serveWithID(s, method, path, body, "")
}

func serveWithID(s *Server, method, path string, body any, requestID string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if requestID != "" {
		req.Header.Set(echo.HeaderXRequestID, requestID)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
