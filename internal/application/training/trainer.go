// Package training drives GFlowNet training: it wires the environment,
// conditioning, rewards, model, objective and optimizers from the
// hyperparameters, runs the sample → reward → loss → update loop, validates
// on fixed preferences and persists the experiment.
package training

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/experiment"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
	"github.com/turtacn/molgfn/internal/intelligence/algo"
	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/evaluation"
	"github.com/turtacn/molgfn/internal/intelligence/optim"
	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Seed offsets of the independent random streams derived from hps.seed.
const (
	seedCond       = 1
	seedModel      = 2
	seedOffline    = 3
	seedStats      = 4
	seedValidation = 1000
)

// ArtifactMirror copies experiment files to remote storage.
type ArtifactMirror interface {
	MirrorFile(ctx context.Context, runID uuid.UUID, relPath string, data []byte) error
}

// SampleExporter publishes validation samples (graph store, search index).
type SampleExporter interface {
	ExportSamples(ctx context.Context, samples []experiment.Sample) error
}

// Deps are the collaborators of a Trainer.  Only Proxy is required, and
// only when the seh objective is trained.
type Deps struct {
	Logger     logging.Logger
	Sink       telemetry.Sink
	Toolkit    molecule.Toolkit
	Proxy      sehproxy.Proxy
	Repository experiment.Repository
	Mirror     ArtifactMirror
	Exporters  []SampleExporter
	Status     *StatusBoard
	// RunID pins the run id so that sinks built before Setup can carry it.
	// uuid.Nil draws a fresh id.
	RunID uuid.UUID
}

// Trainer owns one training run.
type Trainer struct {
	hps  config.Hyperparameters
	run  config.RunConfig
	deps Deps

	logger   logging.Logger
	sink     telemetry.Sink
	fileSink *telemetry.FileSink
	toolkit  molecule.Toolkit
	status   *StatusBoard

	env      *env.Env
	envCtx   *env.Context
	cond     *conditioning.Sampler
	agg      *reward.Aggregator
	model    policy.Model
	sampling policy.Model
	alg      algo.Algorithm
	sampler  *algo.Sampler

	policyOpt   *optim.Adam
	zOpt        *optim.Adam
	policySched *optim.LambdaLR
	zSched      *optim.LambdaLR
	clipper     optim.Clipper

	offline      *Prefetcher
	offlineCount int

	validData *evaluation.RepeatedPreferenceDataset
	hooks     []evaluation.Hook
	topk      *evaluation.TopK

	rng       *rand.Rand
	record    *experiment.Run
	startStep int
	ready     bool
}

// New validates cfg and returns an unconfigured trainer; call Setup next.
func New(cfg *config.Config, deps Deps) (*Trainer, error) {
	if cfg == nil {
		return nil, errors.InvalidParam("config is required")
	}
	hps := cfg.HPS
	if err := hps.Validate(); err != nil {
		return nil, err
	}
	hps.LogDir = cfg.Run.LogDir
	hps.DataDir = cfg.Run.DataDir
	if cfg.Run.Sharded() {
		part := cfg.Run.Part
		hps.Part = &part
		hps.TotalParts = cfg.Run.TotalParts
	}
	tk := deps.Toolkit
	if tk == nil {
		tk = molecule.NewDescriptorToolkit(nil)
	}
	return &Trainer{
		hps:     hps,
		run:     cfg.Run,
		deps:    deps,
		logger:  logging.OrNop(deps.Logger).Named("trainer"),
		toolkit: tk,
		status:  deps.Status,
	}, nil
}

// Hyperparameters returns the effective hyperparameters.
func (t *Trainer) Hyperparameters() config.Hyperparameters { return t.hps }

// RunID returns the run id, or uuid.Nil before Setup.
func (t *Trainer) RunID() uuid.UUID {
	if t.record == nil {
		return uuid.Nil
	}
	return t.record.ID
}

// Model returns the trained model.
func (t *Trainer) Model() policy.Model { return t.model }

// Setup prepares the experiment directory and builds every component.
// Configuration errors surface here, before any trajectory is sampled.
func (t *Trainer) Setup(ctx context.Context) error {
	h := &t.hps
	if err := PrepareExperimentDir(t.run.LogDir, t.run.DataDir, t.run.OverwriteExistingExp); err != nil {
		return err
	}
	hpsJSON, err := WriteHyperparameters(t.run.LogDir, h)
	if err != nil {
		return err
	}
	t.record, err = experiment.NewRun(h.Task, h.Algo, t.run.LogDir, hpsJSON)
	if err != nil {
		return err
	}
	if t.deps.RunID != uuid.Nil {
		t.record.ID = t.deps.RunID
	}
	t.record.Part = h.Part
	t.logger = t.logger.With(logging.String("run_id", t.record.ID.String()))
	t.logger.Info("hyperparameters", logging.Any("hps", h))

	sinks := []telemetry.Sink{t.deps.Sink}
	for _, dest := range t.run.Tracking {
		if dest == "file" {
			if t.fileSink, err = telemetry.NewFileSink(t.run.LogDir, t.record.ID.String()); err != nil {
				return err
			}
			sinks = append(sinks, t.fileSink)
		}
	}
	t.sink = telemetry.Fanout(sinks...)

	seed := uint64(h.Seed)
	t.rng = rand.New(rand.NewSource(seed))

	if t.env, err = env.New(t.toolkit.Vocabulary(), h.MaxNodes); err != nil {
		return err
	}
	if t.cond, err = conditioning.NewSampler(conditioning.ConfigFromHyperparameters(h), rand.NewSource(seed+seedCond)); err != nil {
		return err
	}
	if t.envCtx, err = env.NewContext(t.env, t.cond.NumCondDim()); err != nil {
		return err
	}
	if err := t.setupTask(); err != nil {
		return err
	}
	if t.alg, err = algo.New(algo.ConfigFromHyperparameters(h), t.envCtx); err != nil {
		return err
	}
	space := t.env.Space()
	if t.model, err = policy.NewMLP(policy.Spec{
		InputDim:         t.envCtx.Dim(),
		CondDim:          t.cond.NumCondDim(),
		Hidden:           h.NumEmb,
		Layers:           h.NumLayers,
		NumForward:       space.NumForward(),
		NumBackward:      space.NumBackward(),
		OutputsPerAction: t.alg.OutputsPerAction(),
	}, rand.NewSource(seed+seedModel)); err != nil {
		return err
	}
	if err := t.setupOptimizers(); err != nil {
		return err
	}
	t.sampling = t.model
	if h.SamplingTau > 0 {
		t.sampling = t.model.Clone()
	}
	if t.sampler, err = algo.NewSampler(t.envCtx, h.MaxLen, h.RandomActionProb); err != nil {
		return err
	}
	if err := t.setupOffline(ctx); err != nil {
		return err
	}
	if err := t.setupValidation(); err != nil {
		return err
	}

	if t.deps.Repository != nil {
		if err := t.deps.Repository.CreateRun(ctx, t.record); err != nil {
			return err
		}
	}
	t.mirror(ctx, HPSJSONFile, hpsJSON)
	if ys, err := os.ReadFile(filepath.Join(t.run.LogDir, HPSYAMLFile)); err == nil {
		t.mirror(ctx, HPSYAMLFile, ys)
	}
	t.status.Update(func(s *Status) {
		s.RunID = t.record.ID.String()
		s.Task, s.Algo = h.Task, h.Algo
		s.State = t.record.Status
		s.TotalSteps = h.NumTrainingSteps
		s.StartedAt = t.record.StartedAt
	})
	t.ready = true
	t.logger.Info("trainer ready",
		logging.Int("num_params", countParams(t.model.Parameters())),
		logging.Int("num_cond_dim", t.cond.NumCondDim()),
		logging.Int("num_forward_actions", space.NumForward()))
	return nil
}

func (t *Trainer) setupTask() error {
	h := &t.hps
	var part *reward.PartitionClassifier
	if t.run.Sharded() {
		var err error
		if part, err = reward.LoadPartitionClassifier(t.run.DataDir, t.toolkit, t.run.Part, t.run.TotalParts); err != nil {
			return err
		}
	}
	opts := reward.Options{Partition: part, Sink: t.sink, Logger: t.deps.Logger}
	if h.MultiObjective() {
		opts.Mode = reward.MultiObjective
		opts.Objectives = h.Objectives
	}
	var err error
	t.agg, err = reward.NewAggregator(t.toolkit, t.deps.Proxy, opts)
	return err
}

func (t *Trainer) setupOptimizers() error {
	h := &t.hps
	params := t.model.Parameters()
	var err error
	if t.policyOpt, err = optim.NewAdam(policy.Group(params, policy.GroupPolicy), optim.AdamConfig{
		LR: h.LearningRate, Beta1: h.Momentum, Beta2: 0.999, Eps: h.AdamEps, WeightDecay: h.WeightDecay,
	}); err != nil {
		return err
	}
	if t.zOpt, err = optim.NewAdam(policy.Group(params, policy.GroupZ), optim.AdamConfig{
		LR: h.ZLearningRate, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8,
	}); err != nil {
		return err
	}
	t.policySched = optim.NewLambdaLR(t.policyOpt, optim.HalvingDecay(h.LRDecay))
	t.zSched = optim.NewLambdaLR(t.zOpt, optim.HalvingDecay(h.ZLRDecay))
	t.clipper, err = optim.NewClipper(h.ClipGradType, h.ClipGradParam)
	return err
}

func (t *Trainer) setupOffline(ctx context.Context) error {
	h := &t.hps
	t.offlineCount = int(math.Round(float64(h.GlobalBatchSize) * h.OfflineRatio))
	if t.offlineCount == 0 {
		if t.run.Sharded() {
			t.logger.Warn("sharded run without offline data: hps.offline_ratio is 0, rewards come from partition-filtered online samples only")
		}
		return nil
	}
	if t.run.DataDir == "" {
		return errors.InvalidConfig("offline_ratio > 0 needs run.data_dir")
	}
	totalParts := 0
	if t.run.Sharded() {
		totalParts = t.run.TotalParts
	}
	ds, err := LoadTrainingDataset(t.run.DataDir, t.run.Part, totalParts, h.NumObjectives())
	if err != nil {
		return err
	}
	t.offline = NewPrefetcher(ctx, ds, t.env, h.NumDataLoaderWorkers, 2*h.GlobalBatchSize, uint64(h.Seed)+seedOffline)
	t.logger.Info("offline dataset loaded", logging.Int("molecules", ds.Len()), logging.Int("per_batch", t.offlineCount))
	return nil
}

func (t *Trainer) setupValidation() error {
	h := &t.hps
	var prefs [][]float64
	if h.MultiObjective() {
		var seeded []float64
		var err error
		prefs, seeded, err = conditioning.ValidationPreferences(h.PreferenceType, len(h.Objectives), h.NValidPrefs, h.Seed)
		if err != nil {
			return err
		}
		if seeded != nil {
			if err := t.cond.SetSeededPreference(seeded); err != nil {
				return err
			}
		}
		stats, err := evaluation.NewMultiObjectiveStats(h.StatsKeep, len(h.Objectives), rand.NewSource(uint64(h.Seed)+seedStats))
		if err != nil {
			return err
		}
		t.hooks = append(t.hooks, stats)
	} else {
		prefs = make([][]float64, h.NValidPrefs)
		for i := range prefs {
			prefs[i] = []float64{1}
		}
	}
	var err error
	if t.validData, err = evaluation.NewRepeatedPreferenceDataset(prefs, h.NValidRepeatsPerPref); err != nil {
		return err
	}
	t.topk, err = evaluation.NewTopK(h.TopK, h.NValidRepeatsPerPref, len(prefs), t.toolkit)
	return err
}

// ---------------------------------------------------------------------------
// Training
// ---------------------------------------------------------------------------

// scored is a batch with rewards attached.
type scored struct {
	trajs []*algo.Trajectory
	cond  *conditioning.Info
	flat  *reward.FlatRewards
	lr    reward.LogRewards
}

// score rewards the online trajectories (the first len(trajs)-len(offline))
// and appends the offline reward rows.  Online trajectories whose molecule
// fails validation become invalid.
func (t *Trainer) score(ctx context.Context, trajs []*algo.Trajectory, cond *conditioning.Info, offline []Example) (*scored, error) {
	nOnline := len(trajs) - len(offline)
	mols := make([]*molecule.Graph, nOnline)
	for i := range mols {
		mols[i] = &molecule.Graph{}
		if trajs[i].Valid {
			mols[i] = trajs[i].Graph
		}
	}
	flat, valid, err := t.agg.ComputeFlatRewards(ctx, mols)
	if err != nil {
		return nil, err
	}
	online, err := flat.Expand(valid)
	if err != nil {
		return nil, err
	}
	for i, ok := range valid {
		if !ok {
			trajs[i].Valid = false
		}
	}
	all := reward.NewFlatRewards(len(trajs), t.agg.NumObjectives())
	copy(all.Data, online.Data)
	for j, ex := range offline {
		copy(all.Row(nOnline+j), ex.Rewards)
	}
	lr, err := reward.LogReward(cond, all)
	if err != nil {
		return nil, err
	}
	return &scored{trajs: trajs, cond: cond, flat: all, lr: lr}, nil
}

// sampleBatch draws the online part with the sampling model and fills the
// rest from the offline dataset.
func (t *Trainer) sampleBatch(ctx context.Context) (*scored, int, error) {
	n := t.hps.GlobalBatchSize
	cond, err := t.cond.Sample(n)
	if err != nil {
		return nil, 0, err
	}
	nOnline := n - t.offlineCount
	trajs, err := t.sampler.SampleRange(t.sampling, t.alg, cond, 0, nOnline, t.rng)
	if err != nil {
		return nil, 0, err
	}
	var offline []Example
	for j := 0; j < t.offlineCount; j++ {
		ex, err := t.offline.Next(ctx)
		if err != nil {
			return nil, 0, err
		}
		ex.Traj.CondIdx = nOnline + j
		trajs = append(trajs, ex.Traj)
		offline = append(offline, ex)
	}
	s, err := t.score(ctx, trajs, cond, offline)
	return s, nOnline, err
}

// TrainStep samples, scores and trains on one batch and returns the step
// metrics.
func (t *Trainer) TrainStep(ctx context.Context, it int) (map[string]float64, error) {
	if !t.ready {
		return nil, errors.New(errors.CodeTrainerNotReady, "Setup has not completed")
	}
	t.agg.SetStep(it)
	s, nOnline, err := t.sampleBatch(ctx)
	if err != nil {
		return nil, err
	}
	loss, err := t.alg.ComputeLoss(t.model, &algo.Batch{Trajs: s.trajs, Cond: s.cond, LogRewards: s.lr, FlatRewards: s.flat})
	if err != nil {
		return nil, err
	}
	if math.IsNaN(loss.Value) || math.IsInf(loss.Value, 0) {
		return nil, errors.New(errors.CodeTrainingDiverged, "non-finite loss").WithDetailf("step %d: %v", it, loss.Value)
	}
	if err := t.Step(loss); err != nil {
		return nil, err
	}

	info := make(map[string]float64, len(loss.Info)+8)
	for k, v := range loss.Info {
		info[k] = v
	}
	rewardSum, validOnline := 0.0, 0
	graphs := make([]*molecule.Graph, nOnline)
	valid := make([]bool, nOnline)
	for i := 0; i < nOnline; i++ {
		graphs[i], valid[i] = s.trajs[i].Graph, s.trajs[i].Valid
		if valid[i] {
			rewardSum += math.Exp(s.lr[i])
			validOnline++
		}
	}
	if validOnline > 0 {
		info["sampled_reward_avg"] = rewardSum / float64(validOnline)
	}
	if nOnline > 0 {
		info["online_invalid_fraction"] = 1 - float64(validOnline)/float64(nOnline)
	}
	info["offline_fraction"] = float64(t.offlineCount) / float64(len(s.trajs))
	info["lr"] = t.policyOpt.LR()
	info["z_lr"] = t.zOpt.LR()
	if len(t.hooks) > 0 && nOnline > 0 {
		hb := &evaluation.Batch{
			Graphs:      graphs,
			Valid:       valid,
			LogRewards:  s.lr[:nOnline],
			FlatRewards: rowsPrefix(s.flat, nOnline),
		}
		if err := evaluation.RunHooks(t.hooks, hb, info); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func rowsPrefix(f *reward.FlatRewards, n int) *reward.FlatRewards {
	return &reward.FlatRewards{Rows: n, Cols: f.Cols, Data: f.Data[:n*f.Cols]}
}

// Step applies a computed loss: backward, per-parameter clipping, both
// optimizer and schedule steps, then the sampling-model EMA when
// sampling_tau > 0.
func (t *Trainer) Step(loss *algo.Loss) error {
	params := t.model.Parameters()
	loss.Backward()
	optim.ClipEach(t.clipper, params)
	t.policyOpt.Step()
	t.zOpt.Step()
	t.policyOpt.ZeroGrad()
	t.zOpt.ZeroGrad()
	t.policySched.Step()
	t.zSched.Step()
	if t.hps.SamplingTau > 0 {
		return optim.EMA(t.sampling.Parameters(), params, t.hps.SamplingTau)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate samples every validation preference n_valid_repeats_per_pref
// times with the training model and an isolated random stream.  No
// gradient or optimizer state is touched.
func (t *Trainer) Validate(ctx context.Context, it int) (map[string]float64, error) {
	if !t.ready {
		return nil, errors.New(errors.CodeTrainerNotReady, "Setup has not completed")
	}
	vrng := rand.New(rand.NewSource(uint64(t.hps.Seed) + seedValidation))
	sampler := t.sampler.WithRandomActionProb(t.hps.ValidRandomActionProb)
	sums := map[string]float64{}
	batches := 0
	var samples []experiment.Sample
	for lo := 0; lo < t.validData.Len(); lo += t.hps.GlobalBatchSize {
		hi := min(lo+t.hps.GlobalBatchSize, t.validData.Len())
		prefs, err := t.validData.Slice(lo, hi)
		if err != nil {
			return nil, err
		}
		info, err := t.cond.Encode(prefs)
		if err != nil {
			return nil, err
		}
		trajs, err := sampler.Sample(t.model, t.alg, info, vrng)
		if err != nil {
			return nil, err
		}
		s, err := t.score(ctx, trajs, info, nil)
		if err != nil {
			return nil, err
		}
		loss, err := t.alg.ComputeLoss(t.model, &algo.Batch{Trajs: s.trajs, Cond: info, LogRewards: s.lr, FlatRewards: s.flat})
		if err != nil {
			return nil, err
		}
		for k, v := range loss.Info {
			sums[k] += v
		}
		batches++

		hb := &evaluation.Batch{Graphs: make([]*molecule.Graph, len(trajs)), Valid: make([]bool, len(trajs)), LogRewards: s.lr, FlatRewards: s.flat, Cond: info}
		for i, tr := range trajs {
			hb.Graphs[i], hb.Valid[i] = tr.Graph, tr.Valid
			if tr.Valid {
				samples = append(samples, t.sample(it, tr, s, i, true))
			}
		}
		if _, err := t.topk.Observe(hb); err != nil {
			return nil, err
		}
	}
	metrics := make(map[string]float64, len(sums)+2*t.validData.Len())
	for k, v := range sums {
		metrics[k] = v / float64(batches)
	}
	top, err := t.topk.Finalize()
	if err != nil {
		return nil, err
	}
	for k, v := range top {
		metrics[k] = v
	}
	t.publishSamples(ctx, samples)
	return metrics, nil
}

func (t *Trainer) sample(it int, tr *algo.Trajectory, s *scored, i int, validation bool) experiment.Sample {
	return experiment.Sample{
		RunID:       t.record.ID,
		Step:        it,
		Key:         tr.Graph.CanonicalKey(),
		Notation:    tr.Graph.Notation(t.toolkit.Vocabulary()),
		Fragments:   append([]int(nil), tr.Graph.Nodes...),
		FlatRewards: append([]float64(nil), s.flat.Row(i)...),
		LogReward:   s.lr[i],
		Preference:  s.cond.PreferenceRow(tr.CondIdx),
		Validation:  validation,
		CreatedAt:   time.Now().UTC(),
	}
}

// publishSamples stores the validation samples and exports the best top_k
// of them.  Failures are logged; they never abort training.
func (t *Trainer) publishSamples(ctx context.Context, samples []experiment.Sample) {
	if len(samples) == 0 {
		return
	}
	if t.deps.Repository != nil {
		if err := t.deps.Repository.SaveSamples(ctx, samples); err != nil {
			t.logger.Warn("saving validation samples failed", logging.Err(err))
		}
	}
	if len(t.deps.Exporters) == 0 {
		return
	}
	best := append([]experiment.Sample(nil), samples...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].LogReward > best[j].LogReward })
	if len(best) > t.hps.TopK {
		best = best[:t.hps.TopK]
	}
	for _, ex := range t.deps.Exporters {
		if err := ex.ExportSamples(ctx, best); err != nil {
			t.logger.Warn("exporting samples failed", logging.Err(err))
		}
	}
}

// ---------------------------------------------------------------------------
// Checkpoints
// ---------------------------------------------------------------------------

// Checkpoint writes the training state of step it and mirrors it.
func (t *Trainer) Checkpoint(ctx context.Context, it int) (string, error) {
	c := &Checkpoint{
		Step:        it,
		Params:      policy.Snapshot(t.model.Parameters()),
		PolicyOpt:   t.policyOpt.State(),
		ZOpt:        t.zOpt.State(),
		PolicyEpoch: t.policySched.Epoch(),
		ZEpoch:      t.zSched.Epoch(),
	}
	if t.sampling != t.model {
		c.SamplingParams = policy.Snapshot(t.sampling.Parameters())
	}
	path, err := SaveCheckpoint(t.run.LogDir, c)
	if err != nil {
		return "", err
	}
	if t.deps.Mirror != nil {
		if b, err := os.ReadFile(path); err == nil {
			t.mirror(ctx, filepath.Join(CheckpointsDir, filepath.Base(path)), b)
		}
	}
	t.status.Update(func(s *Status) { s.LastCheckpoint = path })
	return path, nil
}

// Restore loads a checkpoint; Run resumes after its step.
func (t *Trainer) Restore(path string) error {
	if !t.ready {
		return errors.New(errors.CodeTrainerNotReady, "Setup has not completed")
	}
	c, err := LoadCheckpoint(path)
	if err != nil {
		return err
	}
	if err := policy.Restore(t.model.Parameters(), c.Params); err != nil {
		return err
	}
	if t.sampling != t.model {
		src := c.SamplingParams
		if src == nil {
			src = c.Params
		}
		if err := policy.Restore(t.sampling.Parameters(), src); err != nil {
			return err
		}
	}
	if err := t.policyOpt.LoadState(c.PolicyOpt); err != nil {
		return err
	}
	if err := t.zOpt.LoadState(c.ZOpt); err != nil {
		return err
	}
	t.policySched.SetEpoch(c.PolicyEpoch)
	t.zSched.SetEpoch(c.ZEpoch)
	t.startStep = c.Step
	t.logger.Info("restored checkpoint", logging.String("path", path), logging.Int("step", c.Step))
	return nil
}

func (t *Trainer) mirror(ctx context.Context, rel string, data []byte) {
	if t.deps.Mirror == nil {
		return
	}
	if err := t.deps.Mirror.MirrorFile(ctx, t.record.ID, rel, data); err != nil {
		t.logger.Warn("mirroring artifact failed", logging.String("file", rel), logging.Err(err))
	}
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run trains for num_training_steps, validating and checkpointing every
// validate_every steps.  Cancellation is honoured between steps.
func (t *Trainer) Run(ctx context.Context) error {
	if !t.ready {
		return errors.New(errors.CodeTrainerNotReady, "Setup has not completed")
	}
	if err := t.record.Transition(experiment.RunRunning); err != nil {
		return err
	}
	t.persistRun(ctx)
	t.status.Update(func(s *Status) { s.State = experiment.RunRunning })

	for it := t.startStep + 1; it <= t.hps.NumTrainingSteps; it++ {
		if err := ctx.Err(); err != nil {
			t.finish(experiment.RunCancelled, nil)
			return err
		}
		info, err := t.TrainStep(ctx, it)
		if err != nil {
			t.finish(experiment.RunFailed, err)
			return err
		}
		t.report(ctx, it, info, "")
		t.record.Step = it
		t.status.Update(func(s *Status) {
			s.Step = it
			s.LastMetrics = info
		})
		if t.hps.ValidateEvery > 0 && it%t.hps.ValidateEvery == 0 {
			vinfo, err := t.Validate(ctx, it)
			if err != nil {
				t.finish(experiment.RunFailed, err)
				return err
			}
			t.report(ctx, it, vinfo, "valid_")
			t.status.Update(func(s *Status) { s.LastValidation = vinfo })
			if _, err := t.Checkpoint(ctx, it); err != nil {
				t.finish(experiment.RunFailed, err)
				return err
			}
			t.logger.Info("validation", logging.Int("step", it), logging.Any("metrics", vinfo))
			t.persistRun(ctx)
		}
	}
	t.finish(experiment.RunCompleted, nil)
	return nil
}

// report forwards metrics to the sink and the repository.
func (t *Trainer) report(ctx context.Context, it int, info map[string]float64, prefix string) {
	out := info
	if prefix != "" {
		out = make(map[string]float64, len(info))
		for k, v := range info {
			out[prefix+k] = v
		}
	}
	if err := t.sink.LogScalars(ctx, it, out); err != nil {
		t.logger.Warn("telemetry failed", logging.Int("step", it), logging.Err(err))
	}
	t.logger.Debug("step", logging.Int("step", it), logging.Any("metrics", out))
	if t.deps.Repository == nil {
		return
	}
	points := make([]experiment.MetricPoint, 0, len(out))
	for k, v := range out {
		points = append(points, experiment.MetricPoint{RunID: t.record.ID, Step: it, Name: k, Value: v})
	}
	if err := t.deps.Repository.SaveMetrics(ctx, points); err != nil {
		t.logger.Warn("saving metrics failed", logging.Int("step", it), logging.Err(err))
	}
}

func (t *Trainer) persistRun(ctx context.Context) {
	if t.deps.Repository == nil {
		return
	}
	if err := t.deps.Repository.UpdateRun(ctx, t.record); err != nil {
		t.logger.Warn("updating run record failed", logging.Err(err))
	}
}

// finish records the terminal state.  It uses its own context so that a
// cancelled run is still recorded.
func (t *Trainer) finish(status experiment.RunStatus, cause error) {
	var err error
	if status == experiment.RunFailed {
		err = t.record.Fail(cause)
	} else {
		err = t.record.Transition(status)
	}
	if err != nil {
		t.logger.Warn("run status transition rejected", logging.String("status", string(status)), logging.Err(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	t.persistRun(ctx)
	t.status.Update(func(s *Status) {
		s.State = t.record.Status
		s.Error = t.record.Error
	})
	t.logger.Info("run finished", logging.String("status", string(t.record.Status)), logging.Int("step", t.record.Step))
}

// Close releases the offline workers and the sinks opened by Setup.
func (t *Trainer) Close() error {
	if t.offline != nil {
		t.offline.Close()
	}
	if t.fileSink != nil {
		return t.fileSink.Close()
	}
	return nil
}

func countParams(ps []*policy.Parameter) int {
	n := 0
	for _, p := range ps {
		n += len(p.Data)
	}
	return n
}

// String describes the trainer for logs.
func (t *Trainer) String() string {
	return fmt.Sprintf("trainer(task=%s algo=%s run=%s)", t.hps.Task, t.hps.Algo, t.RunID())
}
