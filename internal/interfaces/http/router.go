// Package http serves the trainer status API, health probes and metrics.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/molgfn/internal/interfaces/http/handlers"
	"github.com/turtacn/molgfn/internal/interfaces/http/middleware"
)

// RouterConfig gathers the route dependencies.  Nil handlers leave their
// routes unmounted.
type RouterConfig struct {
	Mode           string
	StatusHandler  *handlers.StatusHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler http.Handler
	Metrics        *prometheus.TrainingMetrics
	Logger         logging.Logger
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogging(logging.OrNop(cfg.Logger).Named("http"), middleware.DefaultLoggingConfig(), cfg.Metrics))

	if h := cfg.HealthHandler; h != nil {
		r.GET("/healthz", h.Liveness)
		r.GET("/readyz", h.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}
	if h := cfg.StatusHandler; h != nil {
		api := r.Group("/api/v1")
		api.GET("/status", h.Current)
		api.GET("/runs/:id", h.GetRun)
		api.GET("/runs/:id/samples", h.TopSamples)
	}
	return r
}
