package http

import (
	"net/http"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const defaultExceptionKind = "Error"

func (s *Server) handleHealth(c echo.Context) error {
	h := s.telemetry.Health()
	telemetry.ReportHealth(h)
	status := "ok"
	if !h.Healthy {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: status, Telemetry: h})
}

// handleEvent records a custom event. The response carries a fresh event id
// which is also attached to the record as the event_id property.
func (s *Server) handleEvent(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	var req EventRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn(ctx, "invalid event request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	eventID := correlation.NewID()
	requestID := correlation.RequestID(ctx)
	props := withRequestID(req.Properties, requestID)
	props["event_id"] = eventID

	s.telemetry.TrackEvent(ctx, req.Name, props, req.Measurements)

	return c.JSON(http.StatusAccepted, TrackResponse{
		EventID:          eventID,
		RequestID:        requestID,
		ProcessingTimeMs: sinceMillis(start),
	})
}

func (s *Server) handleException(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	var req ExceptionRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn(ctx, "invalid exception request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	if req.Kind == "" {
		req.Kind = defaultExceptionKind
	}

	requestID := correlation.RequestID(ctx)
	s.telemetry.TrackException(ctx,
		&telemetry.ReportedError{Type: req.Kind, Message: req.Message},
		withRequestID(req.Properties, requestID),
	)

	return c.JSON(http.StatusAccepted, TrackResponse{
		RequestID:        requestID,
		ProcessingTimeMs: sinceMillis(start),
	})
}

func (s *Server) handleDependency(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	var req DependencyRequest
	if err := c.Bind(&req); err != nil {
		logging.FromContext(ctx).Warn(ctx, "invalid dependency request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || req.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name and type fields are required")
	}
	success := req.Success == nil || *req.Success

	requestID := correlation.RequestID(ctx)
	s.telemetry.TrackDependency(ctx, req.Name, req.Type, req.Target, success, req.DurationMs,
		withRequestID(req.Properties, requestID))

	return c.JSON(http.StatusAccepted, TrackResponse{
		RequestID:        requestID,
		ProcessingTimeMs: sinceMillis(start),
	})
}

// handleCorrelation issues a correlation context. An empty body or request
// id yields a fresh id.
func (s *Server) handleCorrelation(c echo.Context) error {
	var req CorrelationRequest
	if err := c.Bind(&req); err != nil {
		ctx := c.Request().Context()
		logging.FromContext(ctx).Warn(ctx, "invalid correlation request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.JSON(http.StatusOK, s.telemetry.CreateCorrelationContext(req.RequestID))
}

// withRequestID copies props and adds the request id unless the caller
// supplied one.
func withRequestID(props map[string]string, requestID string) map[string]string {
	out := make(map[string]string, len(props)+2)
	for k, v := range props {
		out[k] = v
	}
	if _, ok := out[telemetry.PropRequestID]; !ok && requestID != "" {
		out[telemetry.PropRequestID] = requestID
	}
	return out
}

func sinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
