// Package evaluation computes the validation-time statistics of sampled
// molecules: top-k rewards and diversity per preference, and the
// multi-objective front quality (hypervolume, IGD, PC-entropy).
package evaluation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Dominates reports whether a is at least as good as b everywhere and
// strictly better somewhere.  All objectives are maximized.
func Dominates(a, b []float64) bool {
	strictly := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			strictly = true
		}
	}
	return strictly
}

// ParetoFront returns the non-dominated rows of points, deduplicated, in
// their original order.
func ParetoFront(points [][]float64) [][]float64 {
	var front [][]float64
	for i, p := range points {
		dominated := false
		for j, q := range points {
			if i == j {
				continue
			}
			if Dominates(q, p) || (j < i && floats.Equal(p, q)) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, p)
		}
	}
	return front
}

// Hypervolume is the volume dominated by points and bounded below by ref.
// Points not strictly above ref in every objective contribute nothing.
func Hypervolume(points [][]float64, ref []float64) (float64, error) {
	var kept [][]float64
	for i, p := range points {
		if len(p) != len(ref) {
			return 0, errors.New(errors.CodeShapeMismatch, "point width differs from reference").
				WithDetailf("point %d: %d vs %d", i, len(p), len(ref))
		}
		above := true
		for j := range p {
			if p[j] <= ref[j] {
				above = false
				break
			}
		}
		if above {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}
	return hvSlice(ParetoFront(kept), ref, len(ref)), nil
}

// hvSlice sweeps the last of d objectives and recurses on the slabs.
func hvSlice(points [][]float64, ref []float64, d int) float64 {
	if d == 1 {
		best := ref[0]
		for _, p := range points {
			best = math.Max(best, p[0])
		}
		return best - ref[0]
	}
	sorted := append([][]float64(nil), points...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i][d-1] > sorted[j][d-1] })
	vol := 0.0
	for i, p := range sorted {
		lower := ref[d-1]
		if i+1 < len(sorted) {
			lower = sorted[i+1][d-1]
		}
		depth := p[d-1] - lower
		if depth <= 0 {
			continue
		}
		vol += depth * hvSlice(ParetoFront(sorted[:i+1]), ref, d-1)
	}
	return vol
}

// IGD is the inverted generational distance: the mean, over reference
// points, of the Euclidean distance to the closest solution.
func IGD(solutions, reference [][]float64) (float64, error) {
	if len(solutions) == 0 || len(reference) == 0 {
		return 0, errors.InvalidParam("IGD needs solutions and reference points")
	}
	d := make([]float64, len(reference))
	for i, r := range reference {
		d[i] = math.Inf(1)
		for _, s := range solutions {
			if len(s) != len(r) {
				return 0, errors.New(errors.CodeShapeMismatch, "solution width differs from reference")
			}
			d[i] = math.Min(d[i], floats.Distance(r, s, 2))
		}
	}
	return stat.Mean(d, nil), nil
}

// PCEntropy assigns every solution to its nearest reference direction
// (after L2 normalization) and returns the entropy of the assignment
// histogram.  Uniform coverage of k directions gives log k.
func PCEntropy(solutions, reference [][]float64) (float64, error) {
	if len(solutions) == 0 || len(reference) == 0 {
		return 0, errors.InvalidParam("PC-entropy needs solutions and reference points")
	}
	counts := make([]float64, len(reference))
	for _, s := range solutions {
		u := append([]float64(nil), s...)
		if n := floats.Norm(u, 2); n > 0 {
			floats.Scale(1/n, u)
		}
		best, bestD := 0, math.Inf(1)
		for i, r := range reference {
			if len(r) != len(u) {
				return 0, errors.New(errors.CodeShapeMismatch, "solution width differs from reference")
			}
			if dd := floats.Distance(r, u, 2); dd < bestD {
				best, bestD = i, dd
			}
		}
		counts[best]++
	}
	floats.Scale(1/floats.Sum(counts), counts)
	return stat.Entropy(counts), nil
}
