package algo

import (
	"math"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
)

// A2C is advantage actor-critic on the policy and value heads.  Sampling is
// unmasked: an illegal action ends the trajectory, which is then invalid.
// Targets are Monte-Carlo returns γ^k·log R, or V(s') when bootstrapping.
type A2C struct{ base }

func (a *A2C) Masked() bool          { return false }
func (a *A2C) OutputsPerAction() int { return 1 }

func (a *A2C) PolicyLogits(p *policy.Pass, _ []float64) []float64 { return p.Logits }

// ComputeLoss evaluates -A·log π + c_v (V - target)² - c_H·H(π), averaged
// over transitions.
func (a *A2C) ComputeLoss(m policy.Model, b *Batch) (*Loss, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	// adv = target - V is -vErr.
	type step struct {
		pass    *policy.Pass
		lsm     []float64
		act     int
		vErr    float64
		entropy float64
	}
	loss := newLoss()
	var steps []step
	for i, tr := range b.Trajs {
		logR, ok := a.effectiveLogReward(tr, b.LogRewards[i])
		if !ok {
			continue
		}
		T := tr.Len()
		passes := make([]*policy.Pass, T)
		for t := range tr.Steps {
			p, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, false)
			if err != nil {
				return nil, err
			}
			passes[t] = p
		}
		for t, st := range tr.Steps {
			var target float64
			switch {
			case t == T-1:
				target = logR
			case a.cfg.A2CBootstrap:
				target = passes[t+1].Value
			default:
				target = math.Pow(a.cfg.A2CGamma, float64(T-1-t)) * logR
			}
			p := passes[t]
			lsm := logSoftmax(p.Logits, nil)
			h := 0.0
			for _, lp := range lsm {
				h -= math.Exp(lp) * lp
			}
			steps = append(steps, step{
				pass:    p,
				lsm:     lsm,
				act:     st.Action,
				vErr:    p.Value - target,
				entropy: h,
			})
		}
	}
	n := float64(len(steps))
	var pg, vl, ent float64
	for _, s := range steps {
		pg += s.vErr * s.lsm[s.act] / n
		vl += s.vErr * s.vErr / n
		ent += s.entropy / n
	}
	loss.Value = pg + a.cfg.A2CValueCoef*vl - a.cfg.A2CEntropy*ent
	loss.Info["loss"] = loss.Value
	loss.Info["policy_loss"] = pg
	loss.Info["value_loss"] = vl
	loss.Info["entropy"] = ent
	loss.record(func() {
		for _, s := range steps {
			g := logSoftmaxGrad(s.lsm, s.act, s.vErr/n)
			if a.cfg.A2CEntropy != 0 {
				for j, lp := range s.lsm {
					p := math.Exp(lp)
					g[j] += a.cfg.A2CEntropy * p * (lp + s.entropy) / n
				}
			}
			m.Backward(s.pass, &policy.HeadGrads{Logits: g, Value: 2 * a.cfg.A2CValueCoef * s.vErr / n})
		}
	})
	return loss, nil
}
