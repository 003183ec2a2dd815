package policy

import (
	"github.com/turtacn/molgfn/pkg/errors"
)

// Spec sizes a model.
type Spec struct {
	InputDim    int `json:"input_dim"`
	CondDim     int `json:"cond_dim"`
	Hidden      int `json:"hidden"`
	Layers      int `json:"layers"`
	NumForward  int `json:"num_forward"`
	NumBackward int `json:"num_backward"`
	// OutputsPerAction is 1 except for vector-valued Q heads, where it is the
	// number of objectives.
	OutputsPerAction int `json:"outputs_per_action"`
}

// Validate checks that every dimension is usable.
func (s Spec) Validate() error {
	if s.InputDim < 1 || s.Hidden < 1 || s.Layers < 1 {
		return errors.InvalidConfig("model input, hidden and layer sizes must be >= 1")
	}
	if s.NumForward < 1 || s.NumBackward < 1 {
		return errors.InvalidConfig("action spaces must be non-empty")
	}
	if s.OutputsPerAction < 1 {
		return errors.InvalidConfig("outputs_per_action must be >= 1")
	}
	if s.CondDim < 1 {
		return errors.InvalidConfig("conditioning width must be >= 1")
	}
	return nil
}

// Pass holds the heads of one forward evaluation and what Backward needs.
type Pass struct {
	// Logits has NumForward × OutputsPerAction entries, action-major.
	Logits     []float64
	BackLogits []float64
	Value      float64

	inputs [][]float64
	pre    [][]float64
	hidden []float64
}

// HeadGrads are loss gradients with respect to the heads of a Pass.  Nil
// slices contribute nothing.
type HeadGrads struct {
	Logits     []float64
	BackLogits []float64
	Value      float64
}

// ZPass is one evaluation of the log-partition network.
type ZPass struct {
	Value float64

	cond   []float64
	pre    []float64
	hidden []float64
}

// Model is a differentiable scorer of featurized states with an analytic
// backward pass.  Backward accumulates into parameter gradients.
type Model interface {
	Spec() Spec
	Forward(x []float64) (*Pass, error)
	Backward(p *Pass, g *HeadGrads)
	LogZ(cond []float64) (*ZPass, error)
	BackwardZ(p *ZPass, d float64)
	Parameters() []*Parameter
	Clone() Model
}
