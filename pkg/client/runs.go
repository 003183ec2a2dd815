package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Status is the live state of the run served by a trainer.
type Status struct {
	RunID          string             `json:"run_id"`
	Task           string             `json:"task"`
	Algo           string             `json:"algo"`
	State          string             `json:"state"`
	Step           int                `json:"step"`
	TotalSteps     int                `json:"total_steps"`
	LastMetrics    map[string]float64 `json:"last_metrics,omitempty"`
	LastValidation map[string]float64 `json:"last_validation,omitempty"`
	LastCheckpoint string             `json:"last_checkpoint,omitempty"`
	Error          string             `json:"error,omitempty"`
	StartedAt      time.Time          `json:"started_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Progress is the completed fraction of the run in [0, 1].
func (s *Status) Progress() float64 {
	if s.TotalSteps <= 0 {
		return 0
	}
	p := float64(s.Step) / float64(s.TotalSteps)
	if p > 1 {
		return 1
	}
	return p
}

// Run is a persisted run record.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Task       string     `json:"task"`
	Algo       string     `json:"algo"`
	LogDir     string     `json:"log_dir"`
	Part       *int       `json:"part,omitempty"`
	Status     string     `json:"status"`
	Step       int        `json:"step"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Sample is one scored molecule of a run.
type Sample struct {
	Step        int       `json:"step"`
	Key         string    `json:"key"`
	Fragments   []int     `json:"fragments"`
	FlatRewards []float64 `json:"flat_rewards"`
	LogReward   float64   `json:"log_reward"`
	Preference  []float64 `json:"preference,omitempty"`
	Validation  bool      `json:"validation"`
}

// Health is the readiness report of a server.
type Health struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components,omitempty"`
}

type Component struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ready reports whether every component is healthy.
func (h *Health) Ready() bool { return h.Status == "ready" }

// Status returns the live run of the trainer.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/api/v1/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetRun returns a persisted run.
func (c *Client) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var r Run
	if err := c.get(ctx, "/api/v1/runs/"+id.String(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// TopSamples returns the limit highest-reward samples of a run.
func (c *Client) TopSamples(ctx context.Context, id uuid.UUID, limit int) ([]Sample, error) {
	if limit <= 0 {
		return nil, errors.InvalidParam("limit must be positive")
	}
	var out struct {
		Samples []Sample `json:"samples"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/api/v1/runs/"+id.String()+"/samples?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out.Samples, nil
}

// Ready calls the readiness probe.  A 503 report is returned as Health, not
// as an error.
func (c *Client) Ready(ctx context.Context) (*Health, error) {
	var h Health
	err := c.get(ctx, "/readyz", &h)
	if apiErr, ok := err.(*APIError); ok && apiErr.IsUnavailable() {
		if json.Unmarshal(apiErr.Body, &h) != nil || h.Status == "" {
			h = Health{Status: "not_ready"}
		}
		return &h, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}
