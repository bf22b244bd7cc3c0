package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mmynk/kettle/internal/metrics"
)

// RequestLogger returns a gin middleware that logs every request and records
// its status and latency. It logs the route, user ID, duration and status.
func RequestLogger(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, status, elapsed)

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"user_id", GetUserID(c), // zero if pre-auth
			"duration_ms", elapsed.Milliseconds(),
		}
		switch {
		case status >= 500:
			if len(c.Errors) > 0 {
				attrs = append(attrs, "error", c.Errors.String())
			}
			logger.Error("Request failed", attrs...)
		case status >= 400:
			logger.Warn("Request rejected", attrs...)
		default:
			logger.Info("Request ok", attrs...)
		}
	}
}
