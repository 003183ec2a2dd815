// Package policy holds the differentiable scorer used by the training
// objectives: tagged parameters, the Model interface with an explicit
// backward pass, and a dense MLP implementation on gonum.
package policy

import (
	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Parameter groups.  Every parameter belongs to exactly one; the trainer
// gives each group its own optimizer and schedule.
const (
	GroupZ      = "Z"
	GroupPolicy = "policy"
)

// Parameter is a rows × cols tensor (cols = 1 for biases) with its gradient
// accumulator.
type Parameter struct {
	Name  string    `json:"name"`
	Group string    `json:"group"`
	Rows  int       `json:"rows"`
	Cols  int       `json:"cols"`
	Data  []float64 `json:"data"`
	Grad  []float64 `json:"-"`
}

// NewParameter returns a zeroed parameter.
func NewParameter(name, group string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Group: group,
		Rows:  rows,
		Cols:  cols,
		Data:  make([]float64, rows*cols),
		Grad:  make([]float64, rows*cols),
	}
}

// Matrix views Data as a matrix.
func (p *Parameter) Matrix() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Data) }

// GradMatrix views Grad as a matrix.
func (p *Parameter) GradMatrix() *mat.Dense { return mat.NewDense(p.Rows, p.Cols, p.Grad) }

// ZeroGrad clears the gradient.
func (p *Parameter) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// Clone deep-copies the parameter with a zero gradient.
func (p *Parameter) Clone() *Parameter {
	c := NewParameter(p.Name, p.Group, p.Rows, p.Cols)
	copy(c.Data, p.Data)
	return c
}

// Group filters params by group tag.
func Group(params []*Parameter, group string) []*Parameter {
	var out []*Parameter
	for _, p := range params {
		if p.Group == group {
			out = append(out, p)
		}
	}
	return out
}

// ZeroGrads clears every gradient.
func ZeroGrads(params []*Parameter) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Snapshot copies parameter values keyed by name.
func Snapshot(params []*Parameter) map[string][]float64 {
	out := make(map[string][]float64, len(params))
	for _, p := range params {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// Restore loads values written by Snapshot.  Every parameter must be present
// with a matching size.
func Restore(params []*Parameter, state map[string][]float64) error {
	for _, p := range params {
		v, ok := state[p.Name]
		if !ok {
			return errors.New(errors.CodeCheckpointIO, "checkpoint is missing a parameter").WithDetail(p.Name)
		}
		if len(v) != len(p.Data) {
			return errors.New(errors.CodeCheckpointIO, "checkpoint parameter has the wrong size").
				WithDetailf("%s: %d vs %d", p.Name, len(v), len(p.Data))
		}
		copy(p.Data, v)
	}
	return nil
}
