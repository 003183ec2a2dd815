package algo

import (
	"math"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
)

// TB is trajectory balance: δ = log Z(c) + Σ log P_F - log R - Σ log P_B,
// loss = mean δ².  P_B is uniform over legal backward actions unless the
// backward head is trained.
type TB struct{ base }

func (a *TB) Masked() bool          { return true }
func (a *TB) OutputsPerAction() int { return 1 }

func (a *TB) PolicyLogits(p *policy.Pass, _ []float64) []float64 { return p.Logits }

// ComputeLoss evaluates the trajectory balance loss.
func (a *TB) ComputeLoss(m policy.Model, b *Batch) (*Loss, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	type stepGrad struct {
		pass *policy.Pass
		lsm  []float64
		act  int
	}
	type trajTerms struct {
		z     *policy.ZPass
		fwd   []stepGrad
		bwd   []stepGrad
		numer float64
		denom float64
		delta float64
	}
	logEps := math.Inf(-1)
	if a.cfg.TBEpsilon > 0 {
		logEps = math.Log(a.cfg.TBEpsilon)
	}
	e := a.ctx.Env()
	loss := newLoss()
	var terms []*trajTerms
	var logZs, deltas []float64
	invalid := 0
	for i, tr := range b.Trajs {
		if !tr.Valid {
			invalid++
		}
		logR, ok := a.effectiveLogReward(tr, b.LogRewards[i])
		if !ok {
			continue
		}
		tt := &trajTerms{}
		z, err := m.LogZ(b.Cond.EncodingRow(tr.CondIdx))
		if err != nil {
			return nil, err
		}
		tt.z = z
		sumPF, sumPB := 0.0, 0.0
		for t, st := range tr.Steps {
			p, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, false)
			if err != nil {
				return nil, err
			}
			lsm := logSoftmax(p.Logits, e.ForwardMask(st.State))
			sumPF += lsm[st.Action]
			tt.fwd = append(tt.fwd, stepGrad{pass: p, lsm: lsm, act: st.Action})
			if st.Reverse < 0 {
				continue
			}
			if !a.cfg.TBPBParameterized {
				sumPB -= math.Log(float64(e.CountBackward(st.Next)))
				continue
			}
			pn, err := a.forward(m, b.Cond, tr.CondIdx, tr, t, true)
			if err != nil {
				return nil, err
			}
			blsm := logSoftmax(pn.BackLogits, e.BackwardMask(st.Next))
			sumPB += blsm[st.Reverse]
			tt.bwd = append(tt.bwd, stepGrad{pass: pn, lsm: blsm, act: st.Reverse})
		}
		tt.numer = z.Value + sumPF
		tt.denom = logR + sumPB
		num, den := tt.numer, tt.denom
		if a.cfg.TBEpsilon > 0 {
			num, den = logAddExp(num, logEps), logAddExp(den, logEps)
		}
		tt.delta = num - den
		terms = append(terms, tt)
		logZs = append(logZs, z.Value)
		deltas = append(deltas, tt.delta)
	}

	n := float64(len(terms))
	for _, tt := range terms {
		loss.Value += tt.delta * tt.delta / n
	}
	loss.Info["loss"] = loss.Value
	loss.Info["logZ"] = mean(logZs)
	loss.Info["invalid_fraction"] = 0
	if len(b.Trajs) > 0 {
		loss.Info["invalid_fraction"] = float64(invalid) / float64(len(b.Trajs))
	}
	loss.Info["n_included"] = n
	absd := make([]float64, len(deltas))
	for i, d := range deltas {
		absd[i] = math.Abs(d)
	}
	loss.Info["abs_delta"] = mean(absd)

	for _, tt := range terms {
		tt := tt
		loss.record(func() {
			dd := 2 * tt.delta / n
			dNum, dDen := dd, -dd
			if a.cfg.TBEpsilon > 0 {
				dNum *= sigmoid(tt.numer - logEps)
				dDen *= sigmoid(tt.denom - logEps)
			}
			m.BackwardZ(tt.z, dNum)
			for _, sg := range tt.fwd {
				m.Backward(sg.pass, &policy.HeadGrads{Logits: logSoftmaxGrad(sg.lsm, sg.act, dNum)})
			}
			for _, sg := range tt.bwd {
				m.Backward(sg.pass, &policy.HeadGrads{BackLogits: logSoftmaxGrad(sg.lsm, sg.act, dDen)})
			}
		})
	}
	return loss, nil
}
