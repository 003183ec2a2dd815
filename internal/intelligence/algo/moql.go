package algo

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// MOQL is envelope multi-objective Q-learning.  The forward head holds one
// Q-vector per action; the policy logits are w·Q(s, a) for the sample's
// preference w.  Sampling is unmasked.
//
// The target of a non-final transition is the envelope
// Q(s', a*; w*) with (a*, w*) = argmax over legal a' and the first
// MOQLEnvelopeK batch preferences w' of w·Q(s', a'; w').  The final
// transition targets the flat reward vector, or IllegalActionLogReward in
// every component for invalid trajectories.
type MOQL struct{ base }

func (a *MOQL) Masked() bool          { return false }
func (a *MOQL) OutputsPerAction() int { return a.cfg.NumObjectives }

// PolicyLogits scalarizes the Q-vectors with pref.
func (a *MOQL) PolicyLogits(p *policy.Pass, pref []float64) []float64 {
	k := a.cfg.NumObjectives
	out := make([]float64, len(p.Logits)/k)
	for i := range out {
		out[i] = floats.Dot(p.Logits[i*k:(i+1)*k], pref)
	}
	return out
}

// ComputeLoss evaluates (1-λ)‖Q - y‖² + λ(w·Q - w·y)², averaged over
// transitions.
func (a *MOQL) ComputeLoss(m policy.Model, b *Batch) (*Loss, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	k := a.cfg.NumObjectives
	if b.Cond.Preferences == nil {
		return nil, errors.New(errors.CodeShapeMismatch, "MOQL needs preference conditioning")
	}
	if _, c := b.Cond.Preferences.Dims(); c != k {
		return nil, errors.New(errors.CodeShapeMismatch, "preference width does not match objectives").
			WithDetailf("%d vs %d", c, k)
	}
	if b.FlatRewards == nil || b.FlatRewards.Rows != len(b.Trajs) || b.FlatRewards.Cols != k {
		return nil, errors.New(errors.CodeShapeMismatch, "MOQL needs one flat reward row per trajectory")
	}
	envK := a.cfg.MOQLEnvelopeK
	if envK > b.Cond.Len() {
		envK = b.Cond.Len()
	}
	e := a.ctx.Env()

	type step struct {
		pass *policy.Pass
		act  int
		w    []float64
		diff []float64 // Q - y
		sd   float64   // w·Q - w·y
	}
	loss := newLoss()
	var steps []step
	for i, tr := range b.Trajs {
		if _, ok := a.effectiveLogReward(tr, 0); !ok {
			continue
		}
		w := b.Cond.PreferenceRow(tr.CondIdx)
		final := make([]float64, k)
		if tr.Valid {
			copy(final, b.FlatRewards.Row(i))
		} else {
			for j := range final {
				final[j] = a.cfg.IllegalActionLogReward
			}
		}
		for t, st := range tr.Steps {
			p, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, false)
			if err != nil {
				return nil, err
			}
			y := final
			if t < tr.Len()-1 {
				y, err = a.envelope(m, b, tr, t, w, e.ForwardMask(st.Next), envK)
				if err != nil {
					return nil, err
				}
			}
			q := p.Logits[st.Action*k : (st.Action+1)*k]
			diff := make([]float64, k)
			floats.SubTo(diff, q, y)
			steps = append(steps, step{pass: p, act: st.Action, w: w, diff: diff, sd: floats.Dot(w, diff)})
		}
	}

	lambda := a.cfg.MOQLLambda
	n := float64(len(steps))
	var vec, scal float64
	for _, s := range steps {
		vec += floats.Dot(s.diff, s.diff) / n
		scal += s.sd * s.sd / n
	}
	loss.Value = (1-lambda)*vec + lambda*scal
	loss.Info["loss"] = loss.Value
	loss.Info["vector_loss"] = vec
	loss.Info["scalar_loss"] = scal
	loss.record(func() {
		for _, s := range steps {
			g := make([]float64, len(s.pass.Logits))
			dq := g[s.act*k : (s.act+1)*k]
			for j := range dq {
				dq[j] = (2*(1-lambda)*s.diff[j] + 2*lambda*s.sd*s.w[j]) / n
			}
			m.Backward(s.pass, &policy.HeadGrads{Logits: g})
		}
	})
	return loss, nil
}

// envelope returns the detached target Q-vector of transition t.
func (a *MOQL) envelope(m policy.Model, b *Batch, tr *Trajectory, t int, w []float64, mask []bool, envK int) ([]float64, error) {
	k := a.cfg.NumObjectives
	best := math.Inf(-1)
	var y []float64
	for row := 0; row < envK; row++ {
		p, err := a.forward(m, b.Cond, row, tr, t, true)
		if err != nil {
			return nil, err
		}
		for act, ok := range mask {
			if !ok {
				continue
			}
			q := p.Logits[act*k : (act+1)*k]
			if v := floats.Dot(w, q); v > best {
				best = v
				y = append(y[:0], q...)
			}
		}
	}
	if y == nil {
		// Unreachable for non-empty s', where Stop is always legal.
		return make([]float64, k), nil
	}
	return y, nil
}
