// Package reward turns generated molecules into per-objective flat rewards
// and scalarizes them into the tempered log-rewards used by the training
// objectives.
package reward

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/pkg/errors"
)

// minReward is the floor applied before taking logs.
const minReward = 1e-30

// FlatRewards is a row-major batch × objectives matrix.  Zero rows are
// allowed.
type FlatRewards struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// NewFlatRewards returns a zeroed rows × cols matrix.
func NewFlatRewards(rows, cols int) *FlatRewards {
	return &FlatRewards{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// At returns entry (i, j).
func (f *FlatRewards) At(i, j int) float64 { return f.Data[i*f.Cols+j] }

// Set assigns entry (i, j).
func (f *FlatRewards) Set(i, j int, v float64) { f.Data[i*f.Cols+j] = v }

// Row returns a view of row i.
func (f *FlatRewards) Row(i int) []float64 { return f.Data[i*f.Cols : (i+1)*f.Cols] }

// Dense copies f into a gonum matrix; nil when f has no rows.
func (f *FlatRewards) Dense() *mat.Dense {
	if f.Rows == 0 || f.Cols == 0 {
		return nil
	}
	return mat.NewDense(f.Rows, f.Cols, append([]float64(nil), f.Data...))
}

// Expand scatters the rows of f (one per valid molecule, in order) into a
// len(valid) × Cols matrix with zero rows for invalid molecules.
func (f *FlatRewards) Expand(valid []bool) (*FlatRewards, error) {
	n := 0
	for _, v := range valid {
		if v {
			n++
		}
	}
	if n != f.Rows {
		return nil, errors.New(errors.CodeShapeMismatch, "flat rewards do not match the valid mask").
			WithDetailf("%d rows, %d valid", f.Rows, n)
	}
	out := NewFlatRewards(len(valid), f.Cols)
	r := 0
	for i, v := range valid {
		if v {
			copy(out.Row(i), f.Row(r))
			r++
		}
	}
	return out, nil
}

// LogRewards holds one finite tempered log-reward per sample.
type LogRewards []float64

// LogReward scalarizes flat rewards under info.  Single-objective:
// log(max(r, 1e-30))·β.  Multi-objective: log(max(Σ r·w, 1e-30))·β.  Any
// disagreement between the row count and len(β), or between the reward
// width and the preference width, is a shape error.
func LogReward(info *conditioning.Info, flat *FlatRewards) (LogRewards, error) {
	if info == nil || flat == nil {
		return nil, errors.New(errors.CodeShapeMismatch, "missing conditioning or rewards")
	}
	if flat.Rows != info.Len() {
		return nil, errors.New(errors.CodeShapeMismatch, "reward rows do not match conditioning").
			WithDetailf("%d rows vs %d betas", flat.Rows, info.Len())
	}
	out := make(LogRewards, flat.Rows)
	if info.Preferences == nil {
		if flat.Cols != 1 {
			return nil, errors.New(errors.CodeShapeMismatch, "single-objective rewards must have one column").
				WithDetailf("%d columns", flat.Cols)
		}
		for i := range out {
			out[i] = clampedLog(flat.Data[i]) * info.Beta[i]
		}
		return out, nil
	}
	if _, k := info.Preferences.Dims(); k != flat.Cols {
		return nil, errors.New(errors.CodeShapeMismatch, "reward width does not match preferences").
			WithDetailf("%d columns vs %d preferences", flat.Cols, k)
	}
	for i := range out {
		out[i] = clampedLog(floats.Dot(flat.Row(i), info.Preferences.RawRowView(i))) * info.Beta[i]
	}
	return out, nil
}

func clampedLog(x float64) float64 {
	if math.IsNaN(x) || x < minReward {
		x = minReward
	}
	return math.Log(x)
}
