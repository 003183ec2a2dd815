package training

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Offline data files under data_dir.
const (
	GraphsFile   = "training_set_graphs.json"
	RewardsFile  = "training_set_rewards.json"
	PartIdxsFile = "part_idxs.json"
)

// TrainingDataset is the offline set of scored molecules, restricted to the
// indices of one partition in sharded runs.
type TrainingDataset struct {
	graphs  []*molecule.Graph
	rewards [][]float64
	idxs    []int
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeOfflineDataLoad, "read offline data").WithDetail(path)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, errors.CodeOfflineDataLoad, "decode offline data").WithDetail(path)
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.CodeSerialization, "encode offline data")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "write offline data").WithDetail(path)
	}
	return nil
}

// LoadTrainingDataset reads the offline set from dataDir.  With
// totalParts > 1 only the indices listed for part in part_idxs.json are
// served.  Every reward row must have objectives columns.
func LoadTrainingDataset(dataDir string, part, totalParts, objectives int) (*TrainingDataset, error) {
	var ds TrainingDataset
	if err := readJSON(filepath.Join(dataDir, GraphsFile), &ds.graphs); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dataDir, RewardsFile), &ds.rewards); err != nil {
		return nil, err
	}
	if len(ds.graphs) != len(ds.rewards) {
		return nil, errors.New(errors.CodeOfflineDataLoad, "graphs and rewards differ in length").
			WithDetailf("%d graphs, %d rewards", len(ds.graphs), len(ds.rewards))
	}
	for i, r := range ds.rewards {
		if len(r) != objectives {
			return nil, errors.New(errors.CodeOfflineDataLoad, "reward row width does not match objectives").
				WithDetailf("row %d: %d vs %d", i, len(r), objectives)
		}
	}
	if totalParts > 1 {
		parts := map[string][]int{}
		if err := readJSON(filepath.Join(dataDir, PartIdxsFile), &parts); err != nil {
			return nil, err
		}
		idxs, ok := parts[strconv.Itoa(part)]
		if !ok {
			return nil, errors.New(errors.CodeOfflineDataLoad, "part missing from part_idxs").WithDetailf("part %d", part)
		}
		for _, i := range idxs {
			if i < 0 || i >= len(ds.graphs) {
				return nil, errors.New(errors.CodeOfflineDataLoad, "part index out of range").WithDetailf("%d", i)
			}
		}
		ds.idxs = idxs
	} else {
		ds.idxs = make([]int, len(ds.graphs))
		for i := range ds.idxs {
			ds.idxs[i] = i
		}
	}
	if len(ds.idxs) == 0 {
		return nil, errors.New(errors.CodeOfflineDataLoad, "offline dataset is empty")
	}
	return &ds, nil
}

// Len returns the number of served molecules.
func (d *TrainingDataset) Len() int { return len(d.idxs) }

// Get returns served item i.
func (d *TrainingDataset) Get(i int) (*molecule.Graph, []float64) {
	j := d.idxs[i]
	return d.graphs[j], d.rewards[j]
}

// WriteTrainingSet stores graphs and their flat reward rows in dataDir.
func WriteTrainingSet(dataDir string, graphs []*molecule.Graph, rewards [][]float64) error {
	if len(graphs) != len(rewards) {
		return errors.New(errors.CodeShapeMismatch, "graphs and rewards differ in length")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "create data_dir")
	}
	if err := writeJSON(filepath.Join(dataDir, GraphsFile), graphs); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dataDir, RewardsFile), rewards)
}

// WritePartIdxs stores the part → indices map in dataDir.
func WritePartIdxs(dataDir string, parts map[int][]int) error {
	out := make(map[string][]int, len(parts))
	for p, idxs := range parts {
		out[strconv.Itoa(p)] = idxs
	}
	return writeJSON(filepath.Join(dataDir, PartIdxsFile), out)
}

// ---------------------------------------------------------------------------
// Prefetching
// ---------------------------------------------------------------------------

// Example is an offline trajectory with its flat reward row.
type Example struct {
	Traj    *env.Trajectory
	Rewards []float64
}

type prefetched struct {
	ex  Example
	err error
}

// Prefetcher turns random offline molecules into trajectories.  With
// workers > 0 a pool of goroutines fills a bounded buffer; with 0 examples
// are built on demand.
type Prefetcher struct {
	ds  *TrainingDataset
	env *env.Env

	rng *rand.Rand // on-demand mode only

	out    chan prefetched
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPrefetcher starts the workers.  Worker i draws from seed+i+1.
func NewPrefetcher(ctx context.Context, ds *TrainingDataset, e *env.Env, workers, buffer int, seed uint64) *Prefetcher {
	p := &Prefetcher{ds: ds, env: e}
	if workers <= 0 {
		p.rng = rand.New(rand.NewSource(seed))
		return p
	}
	if buffer < workers {
		buffer = workers
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.out = make(chan prefetched, buffer)
	for i := 0; i < workers; i++ {
		rng := rand.New(rand.NewSource(seed + uint64(i) + 1))
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				ex, err := p.build(rng)
				select {
				case p.out <- prefetched{ex: ex, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return p
}

func (p *Prefetcher) build(rng *rand.Rand) (Example, error) {
	g, r := p.ds.Get(rng.Intn(p.ds.Len()))
	tr, err := p.env.TrajectoryFromGraph(g, rng)
	if err != nil {
		return Example{}, err
	}
	return Example{Traj: tr, Rewards: append([]float64(nil), r...)}, nil
}

// Next returns one example.
func (p *Prefetcher) Next(ctx context.Context) (Example, error) {
	if p.out == nil {
		return p.build(p.rng)
	}
	select {
	case it := <-p.out:
		return it.ex, it.err
	case <-ctx.Done():
		return Example{}, ctx.Err()
	}
}

// Close stops the workers.
func (p *Prefetcher) Close() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
}
