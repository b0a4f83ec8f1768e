package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/correlation"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// untrackedPaths are served without request telemetry.
var untrackedPaths = map[string]bool{
	"/metrics": true,
}

// requestTelemetry binds a correlation context to each request, runs the
// handler inside a span and emits one request record when it completes.
// The request id is the inbound X-Request-ID, or the id generated by the
// request id middleware.
func (s *Server) requestTelemetry() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if untrackedPaths[c.Path()] {
				return next(c)
			}

			start := time.Now()
			req := c.Request()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = req.Header.Get(echo.HeaderXRequestID)
			}

			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			cc := s.telemetry.CreateCorrelationContext(requestID)
			ctx = correlation.WithContext(ctx, cc)

			name := routeName(req.Method, c.Path())
			ctx, span := s.telemetry.StartOperation(ctx, name)
			ctx = logging.WithLogger(ctx, s.logger)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil && !c.Response().Committed {
				c.Error(err)
			}

			status := c.Response().Status
			elapsed := time.Since(start)
			success := status < http.StatusBadRequest

			s.telemetry.TrackRequest(ctx, name, req.URL.String(), success, float64(elapsed.Microseconds())/1000, status, map[string]string{
				telemetry.PropRequestID: cc.RequestID,
				"method":                req.Method,
				"route":                 c.Path(),
			})
			s.telemetry.EndOperation(span, success, failureMessage(status, err))

			s.logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
			)

			return err
		}
	}
}

// routeName names the request record and span after the matched route so
// that path parameters do not fan out into distinct names.
func routeName(method, path string) string {
	if path == "" {
		path = "unmatched"
	}
	return strings.TrimSpace(method + " " + path)
}

func failureMessage(status int, err error) string {
	if status < http.StatusBadRequest {
		return ""
	}
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return fmt.Sprintf("%d: %v", he.Code, he.Message)
		}
		return err.Error()
	}
	return http.StatusText(status)
}
