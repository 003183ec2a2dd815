// Package optim holds the parameter update machinery of the trainer: Adam,
// LambdaLR-style schedules, per-parameter gradient clipping and the EMA used
// to track the sampling model.
package optim

import (
	"math"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// AdamConfig holds the optimizer hyperparameters.  WeightDecay is the L2
// coefficient added to the gradient.
type AdamConfig struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// Adam is Adam with bias correction over a fixed parameter list.
type Adam struct {
	cfg    AdamConfig
	params []*policy.Parameter
	m, v   [][]float64
	t      int
}

// NewAdam validates cfg.
func NewAdam(params []*policy.Parameter, cfg AdamConfig) (*Adam, error) {
	if len(params) == 0 {
		return nil, errors.InvalidParam("optimizer needs parameters")
	}
	if cfg.LR <= 0 || cfg.Eps <= 0 {
		return nil, errors.InvalidConfig("learning rate and eps must be positive")
	}
	if cfg.Beta1 < 0 || cfg.Beta1 >= 1 || cfg.Beta2 < 0 || cfg.Beta2 >= 1 {
		return nil, errors.InvalidConfig("adam betas must be in [0, 1)")
	}
	a := &Adam{cfg: cfg, params: params}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p.Data)))
		a.v = append(a.v, make([]float64, len(p.Data)))
	}
	return a, nil
}

// LR is the current learning rate.
func (a *Adam) LR() float64 { return a.cfg.LR }

// SetLR replaces the learning rate.
func (a *Adam) SetLR(lr float64) { a.cfg.LR = lr }

// Steps is the number of updates applied.
func (a *Adam) Steps() int { return a.t }

// Step applies one update from the accumulated gradients.
func (a *Adam) Step() {
	a.t++
	c := a.cfg
	bc1 := 1 - math.Pow(c.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(c.Beta2, float64(a.t))
	for k, p := range a.params {
		m, v := a.m[k], a.v[k]
		for i, g := range p.Grad {
			if c.WeightDecay != 0 {
				g += c.WeightDecay * p.Data[i]
			}
			m[i] = c.Beta1*m[i] + (1-c.Beta1)*g
			v[i] = c.Beta2*v[i] + (1-c.Beta2)*g*g
			p.Data[i] -= c.LR * (m[i] / bc1) / (math.Sqrt(v[i]/bc2) + c.Eps)
		}
	}
}

// ZeroGrad clears the gradients of the optimized parameters.
func (a *Adam) ZeroGrad() { policy.ZeroGrads(a.params) }

// AdamState is the serializable optimizer state keyed by parameter name.
type AdamState struct {
	T  int                  `json:"t"`
	LR float64              `json:"lr"`
	M  map[string][]float64 `json:"m"`
	V  map[string][]float64 `json:"v"`
}

// State copies the moments.
func (a *Adam) State() *AdamState {
	s := &AdamState{T: a.t, LR: a.cfg.LR, M: map[string][]float64{}, V: map[string][]float64{}}
	for k, p := range a.params {
		s.M[p.Name] = append([]float64(nil), a.m[k]...)
		s.V[p.Name] = append([]float64(nil), a.v[k]...)
	}
	return s
}

// LoadState restores a State.
func (a *Adam) LoadState(s *AdamState) error {
	if s == nil {
		return errors.New(errors.CodeCheckpointIO, "missing optimizer state")
	}
	for k, p := range a.params {
		m, okm := s.M[p.Name]
		v, okv := s.V[p.Name]
		if !okm || !okv || len(m) != len(p.Data) || len(v) != len(p.Data) {
			return errors.New(errors.CodeCheckpointIO, "optimizer state does not match parameters").WithDetail(p.Name)
		}
		copy(a.m[k], m)
		copy(a.v[k], v)
	}
	a.t = s.T
	a.cfg.LR = s.LR
	return nil
}
