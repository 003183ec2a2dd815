package algo

import (
	"github.com/turtacn/molgfn/internal/intelligence/policy"
)

// MOREINFORCE is REINFORCE on the preference-scalarized log-reward:
// loss = -mean(log R · Σ log P_F).
type MOREINFORCE struct{ base }

func (a *MOREINFORCE) Masked() bool          { return true }
func (a *MOREINFORCE) OutputsPerAction() int { return 1 }

func (a *MOREINFORCE) PolicyLogits(p *policy.Pass, _ []float64) []float64 { return p.Logits }

// ComputeLoss evaluates the REINFORCE loss.
func (a *MOREINFORCE) ComputeLoss(m policy.Model, b *Batch) (*Loss, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	type traj struct {
		steps []*policy.Pass
		lsms  [][]float64
		acts  []int
		logR  float64
		sumPF float64
	}
	e := a.ctx.Env()
	loss := newLoss()
	var ts []traj
	for i, tr := range b.Trajs {
		logR, ok := a.effectiveLogReward(tr, b.LogRewards[i])
		if !ok {
			continue
		}
		tj := traj{logR: logR}
		for t, st := range tr.Steps {
			p, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, false)
			if err != nil {
				return nil, err
			}
			lsm := logSoftmax(p.Logits, e.ForwardMask(st.State))
			tj.sumPF += lsm[st.Action]
			tj.steps = append(tj.steps, p)
			tj.lsms = append(tj.lsms, lsm)
			tj.acts = append(tj.acts, st.Action)
		}
		ts = append(ts, tj)
	}
	n := float64(len(ts))
	logRs := make([]float64, len(ts))
	for i, tj := range ts {
		loss.Value -= tj.logR * tj.sumPF / n
		logRs[i] = tj.logR
	}
	loss.Info["loss"] = loss.Value
	loss.Info["mean_log_reward"] = mean(logRs)
	loss.record(func() {
		for _, tj := range ts {
			for s, p := range tj.steps {
				m.Backward(p, &policy.HeadGrads{Logits: logSoftmaxGrad(tj.lsms[s], tj.acts[s], -tj.logR/n)})
			}
		}
	})
	return loss, nil
}
