package algo

import (
	"github.com/turtacn/molgfn/internal/intelligence/policy"
)

// SQL is soft Q-learning with the policy logits as Q-values.  The target of
// a transition is the soft value logsumexp Q(s', ·) over legal actions, or
// log R on the last transition.
type SQL struct{ base }

func (a *SQL) Masked() bool          { return true }
func (a *SQL) OutputsPerAction() int { return 1 }

func (a *SQL) PolicyLogits(p *policy.Pass, _ []float64) []float64 { return p.Logits }

// ComputeLoss evaluates the mean squared soft TD error.
func (a *SQL) ComputeLoss(m policy.Model, b *Batch) (*Loss, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	type td struct {
		pass *policy.Pass
		act  int
		err  float64
	}
	e := a.ctx.Env()
	loss := newLoss()
	var tds []td
	var qs []float64
	for i, tr := range b.Trajs {
		logR, ok := a.effectiveLogReward(tr, b.LogRewards[i])
		if !ok {
			continue
		}
		passes := make([]*policy.Pass, tr.Len())
		for t := range tr.Steps {
			p, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, false)
			if err != nil {
				return nil, err
			}
			passes[t] = p
		}
		for t, st := range tr.Steps {
			target := logR
			if t < tr.Len()-1 {
				target = maskedLogSumExp(passes[t+1].Logits, e.ForwardMask(tr.Steps[t+1].State))
			}
			q := passes[t].Logits[st.Action]
			qs = append(qs, q)
			tds = append(tds, td{pass: passes[t], act: st.Action, err: q - target})
		}
	}
	n := float64(len(tds))
	for _, d := range tds {
		loss.Value += d.err * d.err / n
	}
	loss.Info["loss"] = loss.Value
	loss.Info["mean_q"] = mean(qs)
	loss.Info["n_transitions"] = n
	loss.record(func() {
		for _, d := range tds {
			g := make([]float64, len(d.pass.Logits))
			g[d.act] = 2 * d.err / n
			m.Backward(d.pass, &policy.HeadGrads{Logits: g})
		}
	})
	return loss, nil
}
