package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/molgfn/internal/application/training"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/pkg/errors"
)

const (
	defaultSampleLimit = 10
	maxSampleLimit     = 500
)

// StatusSource is satisfied by *training.StatusBoard.
type StatusSource interface {
	Snapshot() training.Status
}

// StatusHandler exposes the live run and, when a repository is configured,
// persisted runs and their best samples.
type StatusHandler struct {
	board StatusSource
	repo  experiment.Repository
}

func NewStatusHandler(board StatusSource, repo experiment.Repository) *StatusHandler {
	return &StatusHandler{board: board, repo: repo}
}

// Current handles GET /api/v1/status.
func (h *StatusHandler) Current(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Snapshot())
}

// GetRun handles GET /api/v1/runs/:id.
func (h *StatusHandler) GetRun(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}
	run, err := h.repo.GetRun(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// TopSamples handles GET /api/v1/runs/:id/samples?limit=n.
func (h *StatusHandler) TopSamples(c *gin.Context) {
	id, ok := h.runID(c)
	if !ok {
		return
	}
	limit := defaultSampleLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxSampleLimit {
			writeAppError(c, errors.InvalidParam("limit must be in [1, 500]").WithDetail(v))
			return
		}
		limit = n
	}
	samples, err := h.repo.TopSamples(c.Request.Context(), id, limit)
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "samples": samples})
}

func (h *StatusHandler) runID(c *gin.Context) (uuid.UUID, bool) {
	if h.repo == nil {
		writeAppError(c, errors.New(errors.CodeUnavailable, "results store disabled"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeAppError(c, errors.InvalidParam("invalid run id").WithDetail(c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}
