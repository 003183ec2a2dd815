package molecule

import (
	"math/bits"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Tanimoto returns |a ∧ b| / |a ∨ b|.  Two empty fingerprints are identical.
func Tanimoto(a, b *Fingerprint) (float64, error) {
	if a == nil || b == nil {
		return 0, errors.InvalidParam("fingerprint is nil")
	}
	if a.Length != b.Length {
		return 0, errors.InvalidParam("fingerprint length mismatch").WithDetailf("%d vs %d", a.Length, b.Length)
	}
	var inter, union int
	for i := range a.Bits {
		inter += bits.OnesCount8(a.Bits[i] & b.Bits[i])
		union += bits.OnesCount8(a.Bits[i] | b.Bits[i])
	}
	if union == 0 {
		return 1, nil
	}
	return float64(inter) / float64(union), nil
}

// MeanPairwiseTanimoto averages the similarity over all unordered pairs.
// It returns 0 for fewer than two fingerprints.
func MeanPairwiseTanimoto(fps []*Fingerprint) (float64, error) {
	if len(fps) < 2 {
		return 0, nil
	}
	var sum float64
	var n int
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			s, err := Tanimoto(fps[i], fps[j])
			if err != nil {
				return 0, err
			}
			sum += s
			n++
		}
	}
	return sum / float64(n), nil
}

// ClassifySimilarity buckets a Tanimoto score.
func ClassifySimilarity(score float64) string {
	switch {
	case score >= 0.85:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
