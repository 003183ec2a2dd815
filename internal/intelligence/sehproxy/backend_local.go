package sehproxy

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/common"
)

// surrogateWeights score the descriptor vector built by surrogateFeatures.
// Order: bias, aromatic rings, aliphatic rings, HBA, HBD, heavy atoms,
// |logP - 2.5|, alerts, rotatable bonds.
var surrogateWeights = []float64{1.0, 1.1, 0.45, 0.25, 0.35, 0.06, -0.4, -0.9, -0.12}

// Upper end of the surrogate's native scale.
const surrogateMax = 10.0

// LocalBackend is an in-process ModelBackend scoring graphs with a
// descriptor-based linear surrogate of the sEH binding proxy.  Its output
// scale matches the remote proxy: typical drug-like fragments land in [0, 8].
type LocalBackend struct {
	version string
	closed  atomic.Bool
}

// NewLocalBackend returns the surrogate backend.
func NewLocalBackend(version string) *LocalBackend {
	if version == "" {
		version = "surrogate-1"
	}
	return &LocalBackend{version: version}
}

// Predict scores every graph in the request.
func (b *LocalBackend) Predict(ctx context.Context, req *common.PredictRequest) (*common.PredictResponse, error) {
	if b.closed.Load() {
		return nil, common.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	graphs, err := DecodeGraphs(req)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(graphs))
	for i, g := range graphs {
		scores[i] = SurrogateScore(g)
	}
	out, err := EncodeScores(scores)
	if err != nil {
		return nil, err
	}
	return &common.PredictResponse{
		ModelName:       req.ModelName,
		ModelVersion:    b.version,
		Outputs:         map[string][]byte{OutputSEH: out},
		OutputFormat:    common.FormatJSON,
		InferenceTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// Healthy fails once the backend is closed.
func (b *LocalBackend) Healthy(context.Context) error {
	if b.closed.Load() {
		return common.ErrClosed
	}
	return nil
}

// Close marks the backend closed.
func (b *LocalBackend) Close() error {
	b.closed.Store(true)
	return nil
}

func surrogateFeatures(d *molecule.Descriptors) []float64 {
	aliphatic := d.Rings - d.AromaticRings
	if aliphatic < 0 {
		aliphatic = 0
	}
	return []float64{
		1,
		float64(d.AromaticRings),
		float64(aliphatic),
		math.Min(float64(d.HBA), 6),
		math.Min(float64(d.HBD), 3),
		float64(d.HeavyAtoms),
		math.Abs(d.LogP - 2.5),
		float64(d.Alerts),
		float64(d.RotBonds),
	}
}

// SurrogateScore is the surrogate's prediction for one graph; graphs without
// descriptors score NaN.
func SurrogateScore(g *molecule.MolecularGraph) float64 {
	if g == nil || g.Descriptors == nil {
		return math.NaN()
	}
	s := floats.Dot(surrogateWeights, surrogateFeatures(g.Descriptors))
	// Oversized molecules stop fitting the pocket.
	if over := float64(g.Descriptors.HeavyAtoms - 35); over > 0 {
		s -= 0.15 * over
	}
	return math.Max(0, math.Min(surrogateMax, s))
}
