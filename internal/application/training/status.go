package training

import (
	"sync"
	"time"

	"github.com/turtacn/molgfn/internal/domain/experiment"
)

// Status is a point-in-time view of a run, served by the status API.
type Status struct {
	RunID          string               `json:"run_id"`
	Task           string               `json:"task"`
	Algo           string               `json:"algo"`
	State          experiment.RunStatus `json:"state"`
	Step           int                  `json:"step"`
	TotalSteps     int                  `json:"total_steps"`
	LastMetrics    map[string]float64   `json:"last_metrics,omitempty"`
	LastValidation map[string]float64   `json:"last_validation,omitempty"`
	LastCheckpoint string               `json:"last_checkpoint,omitempty"`
	Error          string               `json:"error,omitempty"`
	StartedAt      time.Time            `json:"started_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// StatusBoard guards the status of the current run.
type StatusBoard struct {
	mu sync.RWMutex
	s  Status
}

// NewStatusBoard returns an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{s: Status{State: experiment.RunPending}}
}

// Update applies fn under the write lock and stamps UpdatedAt.
func (b *StatusBoard) Update(fn func(*Status)) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
	b.s.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy safe to serialize.
func (b *StatusBoard) Snapshot() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := b.s
	s.LastMetrics = copyMetrics(b.s.LastMetrics)
	s.LastValidation = copyMetrics(b.s.LastValidation)
	return s
}

func copyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
