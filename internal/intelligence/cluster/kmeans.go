// Package cluster provides Lloyd's k-means with k-means++ seeding, used for
// fingerprint partitioning and for spreading validation preferences.
package cluster

import (
	"encoding/json"
	"math"
	"os"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/molgfn/pkg/errors"
)

// KMeans holds fitted centroids.
type KMeans struct {
	K         int         `json:"k"`
	Centroids [][]float64 `json:"centroids"`
	Inertia   float64     `json:"inertia"`
}

// Fit clusters points into k groups.  Points must share one dimension.
func Fit(points [][]float64, k, maxIter int, src rand.Source) (*KMeans, error) {
	if k < 1 {
		return nil, errors.InvalidParam("k must be >= 1")
	}
	if len(points) < k {
		return nil, errors.InvalidParam("fewer points than clusters").WithDetailf("%d < %d", len(points), k)
	}
	dim := len(points[0])
	for i, p := range points {
		if len(p) != dim {
			return nil, errors.InvalidParam("inconsistent point dimension").WithDetailf("point %d", i)
		}
	}
	if maxIter < 1 {
		maxIter = 100
	}
	rng := rand.New(src)
	centroids := seedPlusPlus(points, k, rng)
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -1
	}
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			c, _ := nearest(centroids, p)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, p := range points {
			floats.Add(sums[assign[i]], p)
			counts[assign[i]]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster on a random point.
				copy(centroids[c], points[rng.Intn(len(points))])
				changed = true
				continue
			}
			floats.ScaleTo(centroids[c], 1/float64(counts[c]), sums[c])
		}
		if !changed {
			break
		}
	}
	km := &KMeans{K: k, Centroids: centroids}
	for _, p := range points {
		_, d := nearest(centroids, p)
		km.Inertia += d * d
	}
	return km, nil
}

func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := points[rng.Intn(len(points))]
	centroids = append(centroids, append([]float64(nil), first...))
	d2 := make([]float64, len(points))
	for len(centroids) < k {
		for i, p := range points {
			_, d := nearest(centroids, p)
			d2[i] = d * d
		}
		total := floats.Sum(d2)
		idx := rng.Intn(len(points))
		if total > 0 {
			r := rng.Float64() * total
			for i, w := range d2 {
				r -= w
				if r <= 0 {
					idx = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), points[idx]...))
	}
	return centroids
}

func nearest(centroids [][]float64, p []float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, ctr := range centroids {
		if d := floats.Distance(ctr, p, 2); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

// Predict returns the index of the nearest centroid.
func (km *KMeans) Predict(p []float64) (int, error) {
	if len(km.Centroids) == 0 {
		return -1, errors.New(errors.CodePartitionClassifyError, "k-means model has no centroids")
	}
	if len(p) != len(km.Centroids[0]) {
		return -1, errors.New(errors.CodePartitionClassifyError, "dimension mismatch").
			WithDetailf("%d vs %d", len(p), len(km.Centroids[0]))
	}
	c, _ := nearest(km.Centroids, p)
	return c, nil
}

// Save writes the model as JSON.
func (km *KMeans) Save(path string) error {
	b, err := json.Marshal(km)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode k-means model")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "write k-means model")
	}
	return nil
}

// Load reads a model written by Save.
func Load(path string) (*KMeans, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeOfflineDataLoad, "read k-means model")
	}
	km := &KMeans{}
	if err := json.Unmarshal(b, km); err != nil {
		return nil, errors.Wrap(err, errors.CodeSerialization, "decode k-means model")
	}
	if km.K != len(km.Centroids) || km.K == 0 {
		return nil, errors.New(errors.CodePartitionClassifyError, "k-means model is inconsistent").WithDetail(path)
	}
	return km, nil
}
