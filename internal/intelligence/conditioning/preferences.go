package conditioning

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/intelligence/cluster"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Normalizations accepted by PartitionHypersphere.
const (
	NormL1 = "l1"
	NormL2 = "l2"
)

// ValidationSeedOffset is added to the run seed for seeded preferences.
const ValidationSeedOffset = 142857

// hypersphereSamples is the number of positive-orthant points clustered for
// d > 2.
const hypersphereSamples = 10000

// PartitionHypersphere spreads k directions over the positive orthant of the
// d-dimensional unit sphere.  d = 2 uses evenly spaced angles; d > 2 uses the
// k-means centroids of uniformly drawn directions.  Rows are rescaled to unit
// L1 or L2 norm.
func PartitionHypersphere(d, k int, norm string, src rand.Source) ([][]float64, error) {
	if d < 1 || k < 1 {
		return nil, errors.InvalidParam("dimension and count must be >= 1")
	}
	if norm != NormL1 && norm != NormL2 {
		return nil, errors.InvalidParam("unknown normalization").WithDetail(norm)
	}
	var rows [][]float64
	switch {
	case d == 1:
		for i := 0; i < k; i++ {
			rows = append(rows, []float64{1})
		}
		return rows, nil
	case d == 2:
		for i := 0; i < k; i++ {
			theta := 0.0
			if k > 1 {
				theta = math.Pi / 2 * float64(i) / float64(k-1)
			}
			rows = append(rows, []float64{math.Cos(theta), math.Sin(theta)})
		}
	default:
		normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		pts := make([][]float64, hypersphereSamples)
		for i := range pts {
			p := make([]float64, d)
			for j := range p {
				p[j] = math.Abs(normal.Rand())
			}
			floats.Scale(1/floats.Norm(p, 2), p)
			pts[i] = p
		}
		km, err := cluster.Fit(pts, k, 100, src)
		if err != nil {
			return nil, err
		}
		rows = km.Centroids
	}
	for _, r := range rows {
		switch norm {
		case NormL1:
			floats.Scale(1/floats.Sum(r), r)
		case NormL2:
			floats.Scale(1/floats.Norm(r, 2), r)
		}
	}
	return rows, nil
}

// ValidationPreferences builds the fixed preference set evaluated at every
// validation, and the preference to pin during training (nil unless
// seeded_single).
func ValidationPreferences(prefType string, objectives, n int, seed int64) ([][]float64, []float64, error) {
	if objectives < 1 || n < 1 {
		return nil, nil, errors.InvalidParam("objectives and preference count must be >= 1")
	}
	src := rand.NewSource(uint64(ValidationSeedOffset + seed))
	dirichlet := func(count int) [][]float64 {
		ones := make([]float64, objectives)
		for i := range ones {
			ones[i] = 1
		}
		out := make([][]float64, count)
		for i := range out {
			if objectives == 1 {
				out[i] = []float64{1}
				continue
			}
			out[i] = distmv.NewDirichlet(ones, src).Rand(nil)
		}
		return out
	}
	switch prefType {
	case config.PreferenceNone:
		out := make([][]float64, n)
		for i := range out {
			out[i] = make([]float64, objectives)
			for j := range out[i] {
				out[i][j] = 1
			}
		}
		return out, nil, nil
	case config.PreferenceDirichlet:
		rows, err := PartitionHypersphere(objectives, n, NormL1, src)
		return rows, nil, err
	case config.PreferenceSeededSingle:
		first := dirichlet(n)[0]
		return [][]float64{first}, append([]float64(nil), first...), nil
	case config.PreferenceSeededMany:
		return dirichlet(n), nil, nil
	default:
		return nil, nil, errors.New(errors.CodeUnsupportedPreference, "unsupported preference type").WithDetail(prefType)
	}
}
