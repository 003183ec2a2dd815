package training

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
	"github.com/turtacn/molgfn/internal/intelligence/algo"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/optim"
	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

type constProxy struct{ score float64 }

func (p constProxy) Predict(_ context.Context, graphs []*molecule.MolecularGraph) ([]float64, error) {
	out := make([]float64, len(graphs))
	for i := range out {
		out[i] = p.score
	}
	return out, nil
}

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) CreateRun(ctx context.Context, r *experiment.Run) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepository) UpdateRun(ctx context.Context, r *experiment.Run) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRepository) GetRun(ctx context.Context, id uuid.UUID) (*experiment.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*experiment.Run), args.Error(1)
}

func (m *mockRepository) SaveMetrics(ctx context.Context, points []experiment.MetricPoint) error {
	return m.Called(ctx, points).Error(0)
}

func (m *mockRepository) SaveSamples(ctx context.Context, samples []experiment.Sample) error {
	return m.Called(ctx, samples).Error(0)
}

func (m *mockRepository) TopSamples(ctx context.Context, runID uuid.UUID, limit int) ([]experiment.Sample, error) {
	args := m.Called(ctx, runID, limit)
	return args.Get(0).([]experiment.Sample), args.Error(1)
}

func (m *mockRepository) Close() error { return m.Called().Error(0) }

func newMockRepository() *mockRepository {
	repo := &mockRepository{}
	repo.On("CreateRun", mock.Anything, mock.Anything).Return(nil)
	repo.On("UpdateRun", mock.Anything, mock.Anything).Return(nil)
	repo.On("SaveMetrics", mock.Anything, mock.Anything).Return(nil)
	repo.On("SaveSamples", mock.Anything, mock.Anything).Return(nil).Maybe()
	return repo
}

type recordingExporter struct {
	mu    sync.Mutex
	calls [][]experiment.Sample
}

func (e *recordingExporter) ExportSamples(_ context.Context, samples []experiment.Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, samples)
	return nil
}

func mol(frags ...int) *molecule.Graph {
	g := &molecule.Graph{}
	for i, f := range frags {
		g.AddNode(f, i-1)
	}
	return g
}

func smallConfig(t *testing.T) *config.Config {
	t.Helper()
	h := config.DefaultHyperparameters(config.TaskSEHFrag)
	h.NumTrainingSteps = 4
	h.ValidateEvery = 2
	h.GlobalBatchSize = 4
	h.NumEmb = 8
	h.NumLayers = 1
	h.NumThermometerDim = 4
	h.MaxNodes = 3
	h.MaxLen = 16
	h.NValidRepeatsPerPref = 4
	h.TopK = 2
	return &config.Config{
		Run: config.RunConfig{
			LogDir:   filepath.Join(t.TempDir(), "run"),
			Tracking: []string{"file"},
			Part:     -1,
		},
		HPS: h,
	}
}

func newTrainer(t *testing.T, cfg *config.Config, deps Deps) *Trainer {
	t.Helper()
	if deps.Proxy == nil {
		deps.Proxy = constProxy{score: 4}
	}
	tr, err := New(cfg, deps)
	require.NoError(t, err)
	require.NoError(t, tr.Setup(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// ---------------------------------------------------------------------------
// Experiment directory and checkpoints
// ---------------------------------------------------------------------------

func TestPrepareExperimentDir(t *testing.T) {
	root := t.TempDir()
	logDir := filepath.Join(root, "exp")
	dataDir := filepath.Join(root, "data")

	require.NoError(t, PrepareExperimentDir(logDir, dataDir, false))
	assert.DirExists(t, filepath.Join(logDir, CheckpointsDir))

	err := PrepareExperimentDir(logDir, dataDir, false)
	assert.True(t, errors.IsCode(err, errors.CodeExperimentDirExists))

	marker := filepath.Join(logDir, "stale.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))
	require.NoError(t, PrepareExperimentDir(logDir, dataDir, true))
	assert.NoFileExists(t, marker)

	err = PrepareExperimentDir(dataDir, dataDir, true)
	assert.True(t, errors.IsCode(err, errors.CodeExperimentDirUnsafe))
	err = PrepareExperimentDir(root, dataDir, true)
	assert.True(t, errors.IsCode(err, errors.CodeExperimentDirUnsafe))
	assert.Error(t, PrepareExperimentDir("", dataDir, false))
}

func TestHyperparametersRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := config.DefaultHyperparameters(config.TaskSEHFragMOO)
	h.Seed = 7
	_, err := WriteHyperparameters(dir, &h)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, HPSYAMLFile))

	got, err := ReadHyperparameters(dir)
	require.NoError(t, err)
	assert.Equal(t, h.Task, got.Task)
	assert.Equal(t, int64(7), got.Seed)
	assert.Equal(t, h.Objectives, got.Objectives)
}

func TestCheckpoints(t *testing.T) {
	dir := t.TempDir()
	path, err := LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Empty(t, path)

	state := &optim.AdamState{T: 3, LR: 0.1}
	for _, step := range []int{10, 200, 30} {
		_, err := SaveCheckpoint(dir, &Checkpoint{
			Step:      step,
			Params:    map[string][]float64{"w": {float64(step)}},
			PolicyOpt: state,
			ZOpt:      state,
		})
		require.NoError(t, err)
	}
	path, err = LatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, CheckpointPath(dir, 200), path)

	c, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 200, c.Step)
	assert.Equal(t, []float64{200}, c.Params["w"])
	assert.Equal(t, 3, c.PolicyOpt.T)

	_, err = LoadCheckpoint(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsCode(err, errors.CodeCheckpointIO))
}

// ---------------------------------------------------------------------------
// Offline data
// ---------------------------------------------------------------------------

func TestTrainingDataset(t *testing.T) {
	dir := t.TempDir()
	graphs := []*molecule.Graph{mol(10, 0), mol(11, 0), mol(15, 1)}
	rewards := [][]float64{{0.1}, {0.2}, {0.3}}

	err := WriteTrainingSet(dir, graphs, rewards[:2])
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
	require.NoError(t, WriteTrainingSet(dir, graphs, rewards))

	ds, err := LoadTrainingDataset(dir, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())
	g, r := ds.Get(2)
	assert.Equal(t, graphs[2].CanonicalKey(), g.CanonicalKey())
	assert.Equal(t, []float64{0.3}, r)

	_, err = LoadTrainingDataset(dir, 0, 1, 2)
	assert.True(t, errors.IsCode(err, errors.CodeOfflineDataLoad))

	_, err = LoadTrainingDataset(dir, 1, 2, 1)
	assert.True(t, errors.IsCode(err, errors.CodeOfflineDataLoad), "part_idxs missing")

	require.NoError(t, WritePartIdxs(dir, map[int][]int{0: {0, 2}, 1: {1}}))
	ds, err = LoadTrainingDataset(dir, 1, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())
	_, r = ds.Get(0)
	assert.Equal(t, []float64{0.2}, r)

	_, err = LoadTrainingDataset(dir, 5, 6, 1)
	assert.True(t, errors.IsCode(err, errors.CodeOfflineDataLoad))
}

func TestPrefetcher(t *testing.T) {
	dir := t.TempDir()
	graphs := []*molecule.Graph{mol(10, 0), mol(11, 0, 1)}
	require.NoError(t, WriteTrainingSet(dir, graphs, [][]float64{{0.5}, {0.7}}))
	ds, err := LoadTrainingDataset(dir, 0, 1, 1)
	require.NoError(t, err)
	e, err := env.New(molecule.DefaultVocabulary(), 3)
	require.NoError(t, err)

	keys := map[string]float64{graphs[0].CanonicalKey(): 0.5, graphs[1].CanonicalKey(): 0.7}
	for _, workers := range []int{0, 2} {
		p := NewPrefetcher(context.Background(), ds, e, workers, 4, 1)
		for i := 0; i < 6; i++ {
			ex, err := p.Next(context.Background())
			require.NoError(t, err)
			assert.True(t, ex.Traj.Valid)
			assert.True(t, ex.Traj.Offline)
			want, ok := keys[ex.Traj.Graph.CanonicalKey()]
			require.True(t, ok, "workers=%d", workers)
			assert.Equal(t, []float64{want}, ex.Rewards)
		}
		p.Close()
	}
}

func TestPreparePartitions(t *testing.T) {
	dir := t.TempDir()
	tk := molecule.NewDescriptorToolkit(nil)
	e, err := env.New(tk.Vocabulary(), 3)
	require.NoError(t, err)
	agg, err := reward.NewAggregator(tk, constProxy{score: 2}, reward.Options{})
	require.NoError(t, err)

	_, err = PreparePartitions(context.Background(), PartitionOptions{DataDir: dir, TotalParts: 1}, e, tk, agg, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))

	opts := PartitionOptions{DataDir: dir, TotalParts: 2, NumMolecules: 8, MaxLen: 16, Seed: 3}
	report, err := PreparePartitions(context.Background(), opts, e, tk, agg, nil)
	require.NoError(t, err)
	assert.True(t, report.Generated)
	assert.Equal(t, 8, report.Molecules)
	assert.Equal(t, 8, report.PartSizes[0]+report.PartSizes[1])
	assert.FileExists(t, reward.KMeansModelPath(dir, 2))
	assert.FileExists(t, filepath.Join(dir, PartIdxsFile))

	for part, size := range report.PartSizes {
		if size == 0 {
			continue
		}
		ds, err := LoadTrainingDataset(dir, part, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, size, ds.Len())
	}

	again, err := PreparePartitions(context.Background(), opts, e, tk, agg, nil)
	require.NoError(t, err)
	assert.False(t, again.Generated)
	assert.Equal(t, report.PartSizes, again.PartSizes)
}

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

func TestStatusBoard(t *testing.T) {
	var nilBoard *StatusBoard
	assert.NotPanics(t, func() { nilBoard.Update(func(s *Status) { s.Step = 1 }) })

	b := NewStatusBoard()
	assert.Equal(t, experiment.RunPending, b.Snapshot().State)
	b.Update(func(s *Status) {
		s.Step = 3
		s.LastMetrics = map[string]float64{"loss": 1}
	})
	snap := b.Snapshot()
	snap.LastMetrics["loss"] = 99
	assert.Equal(t, 3, b.Snapshot().Step)
	assert.Equal(t, 1.0, b.Snapshot().LastMetrics["loss"])
	assert.False(t, b.Snapshot().UpdatedAt.IsZero())
}

// ---------------------------------------------------------------------------
// Trainer
// ---------------------------------------------------------------------------

func TestTrainer_NotReady(t *testing.T) {
	tr, err := New(smallConfig(t), Deps{Proxy: constProxy{score: 1}})
	require.NoError(t, err)
	_, err = tr.TrainStep(context.Background(), 1)
	assert.True(t, errors.IsCode(err, errors.CodeTrainerNotReady))
	assert.True(t, errors.IsCode(tr.Run(context.Background()), errors.CodeTrainerNotReady))
	assert.Equal(t, uuid.Nil, tr.RunID())

	_, err = New(nil, Deps{})
	assert.Error(t, err)

	cfg := smallConfig(t)
	cfg.HPS.Algo = "ppo"
	_, err = New(cfg, Deps{})
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedAlgorithm))
}

func TestTrainer_SetupRejectsExistingDir(t *testing.T) {
	cfg := smallConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Run.LogDir, 0o755))
	tr, err := New(cfg, Deps{Proxy: constProxy{score: 1}})
	require.NoError(t, err)
	err = tr.Setup(context.Background())
	assert.True(t, errors.IsCode(err, errors.CodeExperimentDirExists))
}

func TestTrainer_Run(t *testing.T) {
	cfg := smallConfig(t)
	repo := newMockRepository()
	exporter := &recordingExporter{}
	board := NewStatusBoard()
	tr := newTrainer(t, cfg, Deps{Repository: repo, Exporters: []SampleExporter{exporter}, Status: board})

	require.NoError(t, tr.Run(context.Background()))

	snap := board.Snapshot()
	assert.Equal(t, experiment.RunCompleted, snap.State)
	assert.Equal(t, 4, snap.Step)
	assert.Equal(t, tr.RunID().String(), snap.RunID)
	assert.Contains(t, snap.LastMetrics, "loss")
	assert.Contains(t, snap.LastMetrics, "lr")
	assert.Contains(t, snap.LastValidation, "topk_rewards_0")
	assert.Equal(t, CheckpointPath(cfg.Run.LogDir, 4), snap.LastCheckpoint)

	assert.FileExists(t, CheckpointPath(cfg.Run.LogDir, 2))
	assert.FileExists(t, CheckpointPath(cfg.Run.LogDir, 4))
	assert.FileExists(t, filepath.Join(cfg.Run.LogDir, HPSJSONFile))
	assert.FileExists(t, filepath.Join(cfg.Run.LogDir, telemetry.EventsFile))

	repo.AssertCalled(t, "CreateRun", mock.Anything, mock.Anything)
	repo.AssertCalled(t, "SaveMetrics", mock.Anything, mock.Anything)
	for _, call := range exporter.calls {
		assert.LessOrEqual(t, len(call), cfg.HPS.TopK)
	}

	// A restored trainer continues from the checkpointed parameters.
	cfg2 := smallConfig(t)
	tr2 := newTrainer(t, cfg2, Deps{})
	require.NoError(t, tr2.Restore(snap.LastCheckpoint))
	assert.Equal(t, policy.Snapshot(tr.Model().Parameters()), policy.Snapshot(tr2.Model().Parameters()))
	require.NoError(t, tr2.Run(context.Background()))
}

func TestTrainer_Cancelled(t *testing.T) {
	board := NewStatusBoard()
	tr := newTrainer(t, smallConfig(t), Deps{Status: board})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tr.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, experiment.RunCancelled, board.Snapshot().State)
}

func TestTrainer_OfflineBatch(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Run.DataDir = filepath.Join(t.TempDir(), "data")
	require.NoError(t, WriteTrainingSet(cfg.Run.DataDir,
		[]*molecule.Graph{mol(10, 0), mol(11, 0), mol(15, 1)},
		[][]float64{{0.5}, {0.7}, {0.9}}))
	cfg.HPS.OfflineRatio = 0.5
	cfg.HPS.NumDataLoaderWorkers = 1
	tr := newTrainer(t, cfg, Deps{})

	info, err := tr.TrainStep(context.Background(), 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, info["offline_fraction"], 1e-12)
	assert.Contains(t, info, "loss")
}

func TestTrainer_MultiObjective(t *testing.T) {
	cfg := smallConfig(t)
	cfg.HPS = func() config.Hyperparameters {
		h := config.DefaultHyperparameters(config.TaskSEHFragMOO)
		h.Objectives = []string{"seh", "qed"}
		h.NValidPrefs = 2
		h.NValidRepeatsPerPref = 2
		h.GlobalBatchSize = 4
		h.NumEmb = 8
		h.NumLayers = 1
		h.NumThermometerDim = 4
		h.MaxNodes = 3
		h.MaxLen = 16
		h.TopK = 2
		h.StatsKeep = 16
		h.SamplingTau = 0.5
		return h
	}()
	tr := newTrainer(t, cfg, Deps{})

	info, err := tr.TrainStep(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, info, "loss")

	vinfo, err := tr.Validate(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, vinfo, "topk_rewards_0")
	assert.Contains(t, vinfo, "topk_rewards_1")

	path, err := tr.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	c, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.NotEmpty(t, c.SamplingParams)
}

func gradSnapshot(params []*policy.Parameter) map[string][]float64 {
	out := make(map[string][]float64, len(params))
	for _, p := range params {
		out[p.Name] = append([]float64(nil), p.Grad...)
	}
	return out
}

func TestTrainer_StepOrder(t *testing.T) {
	cfg := smallConfig(t)
	cfg.HPS.ClipGradType = optim.ClipValue
	cfg.HPS.ClipGradParam = 0.5
	cfg.HPS.WeightDecay = 0
	cfg.HPS.LearningRate = 1e-3
	cfg.HPS.ZLearningRate = 1e-2
	cfg.HPS.LRDecay = 10
	cfg.HPS.ZLRDecay = 20
	cfg.HPS.SamplingTau = 0.5
	tr := newTrainer(t, cfg, Deps{})

	params := tr.Model().Parameters()
	before := policy.Snapshot(params)
	samplingBefore := policy.Snapshot(tr.sampling.Parameters())
	for _, p := range params {
		for i := range p.Grad {
			p.Grad[i] = 10
		}
	}

	require.NoError(t, tr.Step(&algo.Loss{}))

	// Adam's first update moves every entry by lr·g/(|g|+eps) with the
	// clipped g and the learning rate in force before the schedule step.
	for _, p := range params {
		lr, eps := cfg.HPS.LearningRate, cfg.HPS.AdamEps
		if p.Group == policy.GroupZ {
			lr, eps = cfg.HPS.ZLearningRate, 1e-8
		}
		want := lr * 0.5 / (0.5 + eps)
		for i := range p.Data {
			assert.InDelta(t, before[p.Name][i]-want, p.Data[i], 1e-12, "%s[%d]", p.Name, i)
			assert.Equal(t, 0.0, p.Grad[i], "%s[%d] grad", p.Name, i)
		}
	}

	// Moments are built from the clipped gradient.
	for _, m := range tr.policyOpt.State().M {
		for _, v := range m {
			assert.InDelta(t, 0.05, v, 1e-12)
		}
	}
	assert.Equal(t, 1, tr.policyOpt.Steps())
	assert.Equal(t, 1, tr.zOpt.Steps())

	assert.InDelta(t, 1e-3*math.Pow(2, -1.0/10), tr.policyOpt.LR(), 1e-15)
	assert.InDelta(t, 1e-2*math.Pow(2, -1.0/20), tr.zOpt.LR(), 1e-15)
	assert.Equal(t, 1, tr.policySched.Epoch())
	assert.Equal(t, 1, tr.zSched.Epoch())

	// The sampling model tracks the updated parameters.
	after := policy.Snapshot(params)
	for _, p := range tr.sampling.Parameters() {
		for i, v := range p.Data {
			want := 0.5*samplingBefore[p.Name][i] + 0.5*after[p.Name][i]
			assert.InDelta(t, want, v, 1e-12, "%s[%d]", p.Name, i)
		}
	}
}

func TestTrainer_ValidateLeavesTrainingStateAlone(t *testing.T) {
	cfg := smallConfig(t)
	cfg.HPS.SamplingTau = 0.5
	tr := newTrainer(t, cfg, Deps{})

	_, err := tr.TrainStep(context.Background(), 1)
	require.NoError(t, err)

	params := tr.Model().Parameters()
	paramsBefore := policy.Snapshot(params)
	gradsBefore := gradSnapshot(params)
	samplingBefore := policy.Snapshot(tr.sampling.Parameters())
	policyState, zState := tr.policyOpt.State(), tr.zOpt.State()
	policyEpoch, zEpoch := tr.policySched.Epoch(), tr.zSched.Epoch()

	info, err := tr.Validate(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, info)

	assert.Equal(t, paramsBefore, policy.Snapshot(params))
	assert.Equal(t, gradsBefore, gradSnapshot(params))
	assert.Equal(t, samplingBefore, policy.Snapshot(tr.sampling.Parameters()))
	assert.Equal(t, policyState, tr.policyOpt.State())
	assert.Equal(t, zState, tr.zOpt.State())
	assert.Equal(t, policyEpoch, tr.policySched.Epoch())
	assert.Equal(t, zEpoch, tr.zSched.Epoch())
}
