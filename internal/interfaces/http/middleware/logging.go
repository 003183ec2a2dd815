// Package middleware holds gin middleware for the status server.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/prometheus"
)

type LoggingConfig struct {
	// SkipPaths are neither logged nor measured.
	SkipPaths     []string
	SlowThreshold time.Duration
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:     []string{"/healthz", "/readyz", "/metrics"},
		SlowThreshold: 3 * time.Second,
	}
}

// RequestLogging logs each request and records it in metrics when non-nil.
// Paths are the matched route template so label cardinality stays bounded.
func RequestLogging(logger logging.Logger, cfg LoggingConfig, metrics *prometheus.TrainingMetrics) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		if metrics != nil {
			prometheus.RecordHTTPRequest(metrics, c.Request.Method, route, status, duration)
		}

		fields := []logging.Field{
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
			logging.Int("status", status),
			logging.Duration("duration", duration),
			logging.Int("bytes", c.Writer.Size()),
			logging.String("remote_addr", c.ClientIP()),
		}
		switch {
		case status >= 500:
			logger.Error("HTTP request completed with server error", fields...)
		case status >= 400:
			logger.Warn("HTTP request completed with client error", fields...)
		case cfg.SlowThreshold > 0 && duration >= cfg.SlowThreshold:
			logger.Warn("HTTP request completed (slow)", fields...)
		default:
			logger.Info("HTTP request completed", fields...)
		}
	}
}
