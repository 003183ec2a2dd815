package evaluation

import (
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Batch is one sampled batch as seen by the hooks.  Every slice and the
// rows of FlatRewards and Cond are aligned; FlatRewards rows of invalid
// molecules are placeholders.
type Batch struct {
	Graphs      []*molecule.Graph
	Valid       []bool
	LogRewards  reward.LogRewards
	FlatRewards *reward.FlatRewards
	Cond        *conditioning.Info
}

// Len returns the batch size.
func (b *Batch) Len() int { return len(b.Graphs) }

func (b *Batch) validate() error {
	n := len(b.Graphs)
	if len(b.Valid) != n || len(b.LogRewards) != n {
		return errors.New(errors.CodeShapeMismatch, "hook batch slices are not aligned").
			WithDetailf("graphs %d, valid %d, log rewards %d", n, len(b.Valid), len(b.LogRewards))
	}
	if b.FlatRewards != nil && b.FlatRewards.Rows != n {
		return errors.New(errors.CodeShapeMismatch, "hook batch flat rewards are not aligned").
			WithDetailf("%d rows for %d graphs", b.FlatRewards.Rows, n)
	}
	if b.Cond != nil && b.Cond.Len() != n {
		return errors.New(errors.CodeShapeMismatch, "hook batch conditioning is not aligned")
	}
	return nil
}

// Hook observes sampled batches and returns metrics to merge into the step
// record.  A nil map means nothing to report.
type Hook interface {
	Observe(b *Batch) (map[string]float64, error)
}

// Finalizer is a hook that accumulates over a whole validation pass.
type Finalizer interface {
	Hook
	// Finalize returns the pass metrics and resets the accumulated state.
	Finalize() (map[string]float64, error)
}

// RunHooks feeds b to every hook and merges their metrics into out.
func RunHooks(hooks []Hook, b *Batch, out map[string]float64) error {
	for _, h := range hooks {
		m, err := h.Observe(b)
		if err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	}
	return nil
}

// RepeatedPreferenceDataset serves every preference Repeat times in a row:
// item i is Prefs[i / Repeat].
type RepeatedPreferenceDataset struct {
	Prefs  [][]float64
	Repeat int
}

// NewRepeatedPreferenceDataset validates prefs and repeat.
func NewRepeatedPreferenceDataset(prefs [][]float64, repeat int) (*RepeatedPreferenceDataset, error) {
	if len(prefs) == 0 || repeat < 1 {
		return nil, errors.InvalidParam("need at least one preference and repeat >= 1")
	}
	return &RepeatedPreferenceDataset{Prefs: prefs, Repeat: repeat}, nil
}

// Len returns len(Prefs) × Repeat.
func (d *RepeatedPreferenceDataset) Len() int { return len(d.Prefs) * d.Repeat }

// Get returns item i.
func (d *RepeatedPreferenceDataset) Get(i int) ([]float64, error) {
	if i < 0 || i >= d.Len() {
		return nil, errors.New(errors.CodeNotFound, "preference index out of range").WithDetailf("%d of %d", i, d.Len())
	}
	return d.Prefs[i/d.Repeat], nil
}

// Slice returns items [lo, hi).
func (d *RepeatedPreferenceDataset) Slice(lo, hi int) ([][]float64, error) {
	if lo < 0 || hi > d.Len() || lo > hi {
		return nil, errors.New(errors.CodeNotFound, "preference range out of bounds").WithDetailf("[%d, %d) of %d", lo, hi, d.Len())
	}
	out := make([][]float64, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, d.Prefs[i/d.Repeat])
	}
	return out, nil
}
