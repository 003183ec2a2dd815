package evaluation

import (
	"sync"

	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/pkg/errors"
)

// ReferenceDirections is the size of the reference front used for IGD and
// PC-entropy.
const ReferenceDirections = 64

// MultiObjectiveStats keeps the flat rewards of the last keep valid samples
// and reports the quality of their Pareto front after every batch.
type MultiObjectiveStats struct {
	keep      int
	objective int
	reference [][]float64
	origin    []float64

	mu     sync.Mutex
	window [][]float64
}

// NewMultiObjectiveStats builds the hook.  The reference front is
// ReferenceDirections unit-L2 directions of the positive orthant.
func NewMultiObjectiveStats(keep, objectives int, src rand.Source) (*MultiObjectiveStats, error) {
	if keep < 1 {
		return nil, errors.InvalidParam("keep must be >= 1")
	}
	if objectives < 1 {
		return nil, errors.New(errors.CodeInvalidObjectives, "stats need at least one objective")
	}
	ref, err := conditioning.PartitionHypersphere(objectives, ReferenceDirections, conditioning.NormL2, src)
	if err != nil {
		return nil, err
	}
	return &MultiObjectiveStats{
		keep:      keep,
		objective: objectives,
		reference: ref,
		origin:    make([]float64, objectives),
	}, nil
}

// Observe adds the valid rows of b and returns hypervolume, igd,
// pc_entropy and pareto_size over the window.
func (h *MultiObjectiveStats) Observe(b *Batch) (map[string]float64, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if b.FlatRewards == nil || b.FlatRewards.Cols != h.objective {
		return nil, errors.New(errors.CodeShapeMismatch, "stats need one flat reward column per objective")
	}
	h.mu.Lock()
	for i, ok := range b.Valid {
		if ok {
			h.window = append(h.window, append([]float64(nil), b.FlatRewards.Row(i)...))
		}
	}
	if over := len(h.window) - h.keep; over > 0 {
		h.window = append([][]float64(nil), h.window[over:]...)
	}
	window := h.window
	h.mu.Unlock()

	if len(window) == 0 {
		return nil, nil
	}
	front := ParetoFront(window)
	hv, err := Hypervolume(front, h.origin)
	if err != nil {
		return nil, err
	}
	igd, err := IGD(front, h.reference)
	if err != nil {
		return nil, err
	}
	pce, err := PCEntropy(front, h.reference)
	if err != nil {
		return nil, err
	}
	return map[string]float64{
		"hypervolume": hv,
		"igd":         igd,
		"pc_entropy":  pce,
		"pareto_size": float64(len(front)),
	}, nil
}

// Window returns a copy of the retained flat rewards.
func (h *MultiObjectiveStats) Window() [][]float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]float64, len(h.window))
	for i, r := range h.window {
		out[i] = append([]float64(nil), r...)
	}
	return out
}
