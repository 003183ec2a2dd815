package training

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/intelligence/cluster"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/pkg/errors"
)

// PartitionOptions configures the data preparation of sharded runs.
type PartitionOptions struct {
	DataDir    string
	TotalParts int
	// NumMolecules is the size of the generated training set when data_dir
	// holds none yet.
	NumMolecules int
	MaxLen       int
	MaxIter      int
	Seed         uint64
}

// PartitionReport summarizes PreparePartitions.
type PartitionReport struct {
	Molecules int   `json:"molecules"`
	Generated bool  `json:"generated"`
	PartSizes []int `json:"part_sizes"`
}

// PreparePartitions fits the k-means partition classifier on the Morgan
// fingerprints of the offline training set and writes the classifier and
// part_idxs.json to data_dir.  When data_dir has no training set, one is
// generated from uniformly random rollouts scored by agg.
func PreparePartitions(ctx context.Context, opts PartitionOptions, e *env.Env, tk molecule.Toolkit, agg *reward.Aggregator, logger logging.Logger) (*PartitionReport, error) {
	logger = logging.OrNop(logger).Named("partition")
	if opts.DataDir == "" || opts.TotalParts < 2 {
		return nil, errors.InvalidConfig("partitioning needs data_dir and total_parts >= 2")
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 128
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	report := &PartitionReport{}

	var graphs []*molecule.Graph
	if _, err := os.Stat(filepath.Join(opts.DataDir, GraphsFile)); err == nil {
		ds, err := LoadTrainingDataset(opts.DataDir, 0, 1, agg.NumObjectives())
		if err != nil {
			return nil, err
		}
		graphs = ds.graphs
	} else {
		if opts.NumMolecules < opts.TotalParts {
			return nil, errors.InvalidConfig("need at least total_parts molecules to generate")
		}
		var rewards [][]float64
		graphs, rewards, err = generateTrainingSet(ctx, e, agg, opts.NumMolecules, opts.MaxLen, rng)
		if err != nil {
			return nil, err
		}
		if err := WriteTrainingSet(opts.DataDir, graphs, rewards); err != nil {
			return nil, err
		}
		report.Generated = true
		logger.Info("generated offline training set", logging.Int("molecules", len(graphs)))
	}
	if len(graphs) < opts.TotalParts {
		return nil, errors.New(errors.CodeOfflineDataLoad, "fewer molecules than parts").
			WithDetailf("%d molecules, %d parts", len(graphs), opts.TotalParts)
	}

	points := make([][]float64, len(graphs))
	for i, g := range graphs {
		fp, err := tk.Fingerprint(g, reward.PartitionRadius, reward.PartitionBits)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeFingerprintFailed, "fingerprint training molecule").WithDetailf("index %d", i)
		}
		points[i] = fp.Dense()
	}
	km, err := cluster.Fit(points, opts.TotalParts, opts.MaxIter, rand.NewSource(opts.Seed+1))
	if err != nil {
		return nil, err
	}
	if err := km.Save(reward.KMeansModelPath(opts.DataDir, opts.TotalParts)); err != nil {
		return nil, err
	}
	parts := make(map[int][]int, opts.TotalParts)
	report.PartSizes = make([]int, opts.TotalParts)
	for p := 0; p < opts.TotalParts; p++ {
		parts[p] = []int{}
	}
	for i, pt := range points {
		p, err := km.Predict(pt)
		if err != nil {
			return nil, err
		}
		parts[p] = append(parts[p], i)
		report.PartSizes[p]++
	}
	if err := WritePartIdxs(opts.DataDir, parts); err != nil {
		return nil, err
	}
	report.Molecules = len(graphs)
	logger.Info("partitions written",
		logging.Int("molecules", report.Molecules),
		logging.Int("total_parts", opts.TotalParts),
		logging.Any("part_sizes", report.PartSizes))
	return report, nil
}

// generateTrainingSet scores uniformly random molecules until n valid ones
// are collected.
func generateTrainingSet(ctx context.Context, e *env.Env, agg *reward.Aggregator, n, maxLen int, rng *rand.Rand) ([]*molecule.Graph, [][]float64, error) {
	var graphs []*molecule.Graph
	var rewards [][]float64
	for attempts := 0; len(graphs) < n; attempts++ {
		if attempts > 10*n {
			return nil, nil, errors.New(errors.CodeRewardComputation, "too few valid random molecules").
				WithDetailf("%d of %d after %d attempts", len(graphs), n, attempts)
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		batch := make([]*molecule.Graph, 0, n-len(graphs))
		for len(batch) < cap(batch) {
			g, err := randomMolecule(e, maxLen, rng)
			if err != nil {
				return nil, nil, err
			}
			batch = append(batch, g)
		}
		flat, valid, err := agg.ComputeFlatRewards(ctx, batch)
		if err != nil {
			return nil, nil, err
		}
		r := 0
		for i, ok := range valid {
			if !ok {
				continue
			}
			graphs = append(graphs, batch[i])
			rewards = append(rewards, append([]float64(nil), flat.Row(r)...))
			r++
		}
	}
	return graphs, rewards, nil
}

// randomMolecule follows uniformly random legal actions until Stop or
// maxLen steps.
func randomMolecule(e *env.Env, maxLen int, rng *rand.Rand) (*molecule.Graph, error) {
	g := e.Reset()
	for t := 0; t < maxLen; t++ {
		var legal []int
		for a, ok := range e.ForwardMask(g) {
			if ok {
				legal = append(legal, a)
			}
		}
		a := legal[rng.Intn(len(legal))]
		if e.IsTerminal(a) {
			return g, nil
		}
		next, err := e.Step(g, a)
		if err != nil {
			return nil, err
		}
		g = next
	}
	return g, nil
}
