package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkFunc struct {
	name string
	fn   func(context.Context) error
}

func (c checkFunc) Name() string                    { return c.name }
func (c checkFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// CheckFunc adapts fn to a HealthChecker.
func CheckFunc(name string, fn func(context.Context) error) HealthChecker {
	return checkFunc{name: name, fn: fn}
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
}

func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers, version: version, startAt: time.Now()}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type ReadinessResponse struct {
	Status     string                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
}

type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Liveness always answers 200 while the process runs.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness answers 503 when any dependency check fails.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := h.checkAll(ctx)
	resp := ReadinessResponse{Status: "ready", Components: components}
	code := http.StatusOK
	for _, cc := range components {
		if cc.Status != "healthy" {
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, resp)
}

func (h *HealthHandler) checkAll(ctx context.Context) map[string]ComponentCheck {
	if len(h.checkers) == 0 {
		return nil
	}
	results := make(map[string]ComponentCheck, len(h.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, checker := range h.checkers {
		wg.Add(1)
		go func(hc HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := hc.Check(ctx)
			cc := ComponentCheck{Status: "healthy", Latency: time.Since(start).Truncate(time.Microsecond).String()}
			if err != nil {
				cc.Status = "unhealthy"
				cc.Error = err.Error()
			}
			mu.Lock()
			results[hc.Name()] = cc
			mu.Unlock()
		}(checker)
	}
	wg.Wait()
	return results
}
