package reward

import (
	"fmt"
	"path/filepath"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/cluster"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Fingerprint settings of the partition classifier.
const (
	PartitionRadius = 2
	PartitionBits   = 1024
)

// KMeansModelPath is where `molgfn partition` stores the classifier for
// totalParts parts.
func KMeansModelPath(dataDir string, totalParts int) string {
	return filepath.Join(dataDir, fmt.Sprintf("%d_kmeans_model.json", totalParts))
}

// PartitionClassifier assigns molecules to data partitions by the nearest
// k-means centroid of their Morgan fingerprint.
type PartitionClassifier struct {
	km         *cluster.KMeans
	toolkit    molecule.Toolkit
	part       int
	totalParts int
}

// NewPartitionClassifier wraps a fitted model.  part is the partition this
// worker trains on.
func NewPartitionClassifier(km *cluster.KMeans, tk molecule.Toolkit, part, totalParts int) (*PartitionClassifier, error) {
	if km == nil || tk == nil {
		return nil, errors.InvalidParam("kmeans model and toolkit are required")
	}
	if km.K != totalParts || len(km.Centroids) != totalParts {
		return nil, errors.InvalidConfig("kmeans model does not match total_parts").
			WithDetailf("k=%d total_parts=%d", km.K, totalParts)
	}
	if part < 0 || part >= totalParts {
		return nil, errors.InvalidConfig("part out of range").WithDetailf("part=%d total_parts=%d", part, totalParts)
	}
	return &PartitionClassifier{km: km, toolkit: tk, part: part, totalParts: totalParts}, nil
}

// LoadPartitionClassifier reads the model written for totalParts from
// dataDir.
func LoadPartitionClassifier(dataDir string, tk molecule.Toolkit, part, totalParts int) (*PartitionClassifier, error) {
	km, err := cluster.Load(KMeansModelPath(dataDir, totalParts))
	if err != nil {
		return nil, err
	}
	return NewPartitionClassifier(km, tk, part, totalParts)
}

// Part is the assigned partition.
func (p *PartitionClassifier) Part() int { return p.part }

// TotalParts is the number of partitions.
func (p *PartitionClassifier) TotalParts() int { return p.totalParts }

// Classify returns the partition id of every graph, each in [0, TotalParts).
func (p *PartitionClassifier) Classify(graphs []*molecule.Graph) ([]int, error) {
	out := make([]int, len(graphs))
	for i, g := range graphs {
		fp, err := p.toolkit.Fingerprint(g, PartitionRadius, PartitionBits)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodePartitionClassifyError, "fingerprint for partitioning").
				WithDetailf("molecule %d", i)
		}
		id, err := p.km.Predict(fp.Dense())
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// Counts is the histogram of parts over [0, TotalParts).
func (p *PartitionClassifier) Counts(parts []int) []int {
	counts := make([]int, p.totalParts)
	for _, id := range parts {
		counts[id]++
	}
	return counts
}
