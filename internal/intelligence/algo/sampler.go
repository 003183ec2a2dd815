package algo

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Sampler rolls out trajectories under a model.
type Sampler struct {
	ctx              *env.Context
	maxLen           int
	randomActionProb float64
}

// NewSampler returns a sampler that truncates rollouts after maxLen steps
// and, with probability randomActionProb, takes a uniformly random legal
// action instead of sampling the policy.
func NewSampler(ctx *env.Context, maxLen int, randomActionProb float64) (*Sampler, error) {
	if ctx == nil {
		return nil, errors.InvalidParam("context is required")
	}
	if maxLen < 1 {
		return nil, errors.InvalidConfig("max_len must be >= 1")
	}
	if randomActionProb < 0 || randomActionProb > 1 {
		return nil, errors.InvalidConfig("random action probability must be in [0, 1]")
	}
	return &Sampler{ctx: ctx, maxLen: maxLen, randomActionProb: randomActionProb}, nil
}

// WithRandomActionProb returns a copy using p.
func (s *Sampler) WithRandomActionProb(p float64) *Sampler {
	c := *s
	c.randomActionProb = p
	return &c
}

// Sample draws one trajectory per conditioning row, in row order.
func (s *Sampler) Sample(m policy.Model, alg Algorithm, cond *conditioning.Info, rng *rand.Rand) ([]*Trajectory, error) {
	if cond == nil {
		return nil, errors.InvalidParam("sampling needs conditioning")
	}
	return s.SampleRange(m, alg, cond, 0, cond.Len(), rng)
}

// SampleRange draws one trajectory for each conditioning row in [lo, hi).
func (s *Sampler) SampleRange(m policy.Model, alg Algorithm, cond *conditioning.Info, lo, hi int, rng *rand.Rand) ([]*Trajectory, error) {
	if cond == nil || cond.Len() == 0 {
		return nil, errors.InvalidParam("sampling needs conditioning")
	}
	if lo < 0 || hi > cond.Len() || lo > hi {
		return nil, errors.InvalidParam("conditioning range out of bounds").WithDetailf("[%d, %d) of %d", lo, hi, cond.Len())
	}
	out := make([]*Trajectory, 0, hi-lo)
	for i := lo; i < hi; i++ {
		tr, err := s.rollout(m, alg, cond, i, rng)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

func (s *Sampler) rollout(m policy.Model, alg Algorithm, cond *conditioning.Info, row int, rng *rand.Rand) (*Trajectory, error) {
	e := s.ctx.Env()
	enc := cond.EncodingRow(row)
	pref := cond.PreferenceRow(row)
	tr := &Trajectory{CondIdx: row}
	state := e.Reset()
	for t := 0; t < s.maxLen; t++ {
		mask := e.ForwardMask(state)
		var a int
		if s.randomActionProb > 0 && rng.Float64() < s.randomActionProb {
			a = uniformLegal(mask, rng)
		} else {
			x, err := s.ctx.Featurize(state, enc)
			if err != nil {
				return nil, err
			}
			p, err := m.Forward(x)
			if err != nil {
				return nil, err
			}
			logits := alg.PolicyLogits(p, pref)
			if alg.Masked() {
				a = categorical(logSoftmax(logits, mask), rng)
			} else {
				a = categorical(logSoftmax(logits, nil), rng)
			}
		}
		if !mask[a] {
			// Unmasked policies may pick an illegal action; the rollout
			// ends there, invalid.
			tr.Steps = append(tr.Steps, Transition{State: state, Action: a, Next: state, Reverse: -1})
			tr.Graph = state
			return tr, nil
		}
		rev, err := e.Reverse(state, a)
		if err != nil {
			return nil, err
		}
		next, err := e.Step(state, a)
		if err != nil {
			return nil, err
		}
		tr.Steps = append(tr.Steps, Transition{State: state, Action: a, Next: next, Reverse: rev})
		state = next
		if e.IsTerminal(a) {
			tr.Graph = state
			tr.Valid = true
			return tr, nil
		}
	}
	tr.Graph = state
	tr.Truncated = true
	return tr, nil
}

// Transition is a forward step; see env.Transition.
type Transition = env.Transition

// categorical samples an index from log-probabilities.
func categorical(lp []float64, rng *rand.Rand) int {
	w := make([]float64, len(lp))
	for i, v := range lp {
		w[i] = math.Exp(v)
	}
	return int(distuv.NewCategorical(w, rng).Rand())
}

func uniformLegal(mask []bool, rng *rand.Rand) int {
	var legal []int
	for i, ok := range mask {
		if ok {
			legal = append(legal, i)
		}
	}
	return legal[rng.Intn(len(legal))]
}
