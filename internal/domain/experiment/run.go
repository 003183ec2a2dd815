// Package experiment models a training run and the records it produces:
// per-step metrics and sampled molecules.
package experiment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/molgfn/pkg/errors"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// allowedTransitions lists the states reachable from each status.
//
//	pending ──► running ──► completed
//	   │           ├──────► failed
//	   └──► failed └──────► cancelled
var allowedTransitions = map[RunStatus][]RunStatus{
	RunPending:   {RunRunning, RunFailed},
	RunRunning:   {RunCompleted, RunFailed, RunCancelled},
	RunCompleted: {},
	RunFailed:    {},
	RunCancelled: {},
}

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

// Run is one training run.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	Task       string     `json:"task"`
	Algo       string     `json:"algo"`
	LogDir     string     `json:"log_dir"`
	Part       *int       `json:"part,omitempty"`
	Status     RunStatus  `json:"status"`
	Step       int        `json:"step"`
	Error      string     `json:"error,omitempty"`
	HPS        []byte     `json:"hps"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// NewRun creates a pending run.  hps is the JSON form of the hyperparameters.
func NewRun(task, algo, logDir string, hps []byte) (*Run, error) {
	if task == "" || algo == "" {
		return nil, errors.InvalidParam("task and algo are required")
	}
	if logDir == "" {
		return nil, errors.InvalidParam("log_dir is required")
	}
	return &Run{
		ID:        uuid.New(),
		Task:      task,
		Algo:      algo,
		LogDir:    logDir,
		Status:    RunPending,
		HPS:       hps,
		StartedAt: time.Now().UTC(),
	}, nil
}

// Transition moves the run to status, enforcing allowedTransitions.
func (r *Run) Transition(status RunStatus) error {
	allowed, ok := allowedTransitions[r.Status]
	if !ok {
		return errors.New(errors.CodeInvalidParam, fmt.Sprintf("unknown run status %q", r.Status))
	}
	for _, s := range allowed {
		if s == status {
			r.Status = status
			if status.Terminal() {
				now := time.Now().UTC()
				r.FinishedAt = &now
			}
			return nil
		}
	}
	return errors.New(errors.CodeConflict,
		fmt.Sprintf("illegal run status transition %q → %q", r.Status, status))
}

// Fail records err and moves the run to RunFailed.
func (r *Run) Fail(err error) error {
	if err != nil {
		r.Error = err.Error()
	}
	return r.Transition(RunFailed)
}

// MetricPoint is one scalar logged at a step.
type MetricPoint struct {
	RunID uuid.UUID `json:"run_id"`
	Step  int       `json:"step"`
	Name  string    `json:"name"`
	Value float64   `json:"value"`
}

// Sample is a molecule produced during training or validation.
type Sample struct {
	RunID       uuid.UUID `json:"run_id"`
	Step        int       `json:"step"`
	Key         string    `json:"key"`
	Notation    string    `json:"notation"`
	Fragments   []int     `json:"fragments"`
	FlatRewards []float64 `json:"flat_rewards"`
	LogReward   float64   `json:"log_reward"`
	Preference  []float64 `json:"preference,omitempty"`
	Validation  bool      `json:"validation"`
	CreatedAt   time.Time `json:"created_at"`
}
