package algo

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// logSoftmax normalizes logits over the entries allowed by mask (all
// entries when mask is nil).  Masked entries are -Inf.
func logSoftmax(logits []float64, mask []bool) []float64 {
	out := make([]float64, len(logits))
	var kept []float64
	for i, v := range logits {
		if mask == nil || mask[i] {
			kept = append(kept, v)
		}
	}
	lse := math.Inf(-1)
	if len(kept) > 0 {
		lse = floats.LogSumExp(kept)
	}
	for i, v := range logits {
		if mask != nil && !mask[i] {
			out[i] = math.Inf(-1)
			continue
		}
		out[i] = v - lse
	}
	return out
}

// logSoftmaxGrad is scale·∂ logsoftmax(l)[a] / ∂l given lsm = logsoftmax(l):
// scale·(1[j=a] - p_j).  Masked entries get zero.
func logSoftmaxGrad(lsm []float64, a int, scale float64) []float64 {
	g := make([]float64, len(lsm))
	for j, v := range lsm {
		if math.IsInf(v, -1) {
			continue
		}
		g[j] = -scale * math.Exp(v)
	}
	g[a] += scale
	return g
}

// maskedLogSumExp is log Σ exp over the allowed entries, -Inf when none is.
func maskedLogSumExp(x []float64, mask []bool) float64 {
	var kept []float64
	for i, v := range x {
		if mask[i] {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return math.Inf(-1)
	}
	return floats.LogSumExp(kept)
}

func logAddExp(a, b float64) float64 {
	m := math.Max(a, b)
	return m + math.Log1p(math.Exp(-math.Abs(a-b)))
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Sum(xs) / float64(len(xs))
}
