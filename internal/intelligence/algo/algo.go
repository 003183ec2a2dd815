// Package algo implements the trajectory objectives trained by molgfn
// (trajectory balance, soft Q-learning, A2C, envelope multi-objective
// Q-learning and multi-objective REINFORCE) together with the rollout
// sampler that produces their trajectories.
package algo

import (
	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/intelligence/conditioning"
	"github.com/turtacn/molgfn/internal/intelligence/env"
	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/internal/intelligence/reward"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Trajectory is a forward rollout; see env.Trajectory.
type Trajectory = env.Trajectory

// Algorithm is a training objective over batches of trajectories.  The set
// of implementations is closed: New is the only constructor.
type Algorithm interface {
	Name() string
	// Masked reports whether sampling is restricted to legal actions.
	Masked() bool
	// OutputsPerAction is the width of the forward head per action.
	OutputsPerAction() int
	// PolicyLogits maps forward-head outputs to one logit per action; pref
	// is the sample's preference row, nil for single-objective tasks.
	PolicyLogits(p *policy.Pass, pref []float64) []float64
	ComputeLoss(m policy.Model, b *Batch) (*Loss, error)
}

// Config carries the objective hyperparameters.
type Config struct {
	Name                   string
	IllegalActionLogReward float64
	InvalidPolicy          string
	TBEpsilon              float64
	TBPBParameterized      bool
	A2CEntropy             float64
	A2CValueCoef           float64
	A2CGamma               float64
	A2CBootstrap           bool
	MOQLLambda             float64
	MOQLEnvelopeK          int
	NumObjectives          int
}

// ConfigFromHyperparameters maps the trainer hyperparameters.
func ConfigFromHyperparameters(h *config.Hyperparameters) Config {
	return Config{
		Name:                   h.Algo,
		IllegalActionLogReward: h.IllegalActionLogReward,
		InvalidPolicy:          h.InvalidTrajectories,
		TBEpsilon:              h.TBEpsilon,
		TBPBParameterized:      h.TBPBIsParameterized,
		A2CEntropy:             h.A2CEntropy,
		A2CValueCoef:           h.A2CValueCoef,
		A2CGamma:               h.A2CGamma,
		A2CBootstrap:           h.A2CBootstrap,
		MOQLLambda:             h.MOQLLambda,
		MOQLEnvelopeK:          h.MOQLEnvelopeK,
		NumObjectives:          h.NumObjectives(),
	}
}

// New builds the algorithm named cfg.Name over ctx.
func New(cfg Config, ctx *env.Context) (Algorithm, error) {
	if ctx == nil {
		return nil, errors.InvalidParam("context is required")
	}
	switch cfg.InvalidPolicy {
	case "":
		cfg.InvalidPolicy = config.InvalidPenalize
	case config.InvalidPenalize, config.InvalidExclude:
	default:
		return nil, errors.InvalidConfig("unsupported invalid trajectory policy").WithDetail(cfg.InvalidPolicy)
	}
	base := base{cfg: cfg, ctx: ctx}
	switch cfg.Name {
	case config.AlgoTB:
		if cfg.TBEpsilon < 0 {
			return nil, errors.InvalidConfig("tb_epsilon must be >= 0")
		}
		return &TB{base}, nil
	case config.AlgoSQL:
		return &SQL{base}, nil
	case config.AlgoA2C:
		return &A2C{base}, nil
	case config.AlgoMOQL:
		if cfg.NumObjectives < 1 {
			return nil, errors.New(errors.CodeInvalidObjectives, "MOQL needs at least one objective")
		}
		if cfg.MOQLLambda < 0 || cfg.MOQLLambda > 1 {
			return nil, errors.InvalidConfig("moql_lambda must be in [0, 1]")
		}
		if cfg.MOQLEnvelopeK < 1 {
			cfg.MOQLEnvelopeK = 1
			base.cfg = cfg
		}
		return &MOQL{base}, nil
	case config.AlgoMOREINFORCE:
		return &MOREINFORCE{base}, nil
	default:
		return nil, errors.New(errors.CodeUnsupportedAlgorithm, "unsupported algorithm").WithDetail(cfg.Name)
	}
}

// Batch is one training batch.  LogRewards and the rows of FlatRewards are
// aligned with Trajs; invalid trajectories carry placeholder values.
type Batch struct {
	Trajs       []*Trajectory
	Cond        *conditioning.Info
	LogRewards  reward.LogRewards
	FlatRewards *reward.FlatRewards
}

func (b *Batch) validate() error {
	if b == nil || b.Cond == nil {
		return errors.InvalidParam("batch without conditioning")
	}
	if len(b.LogRewards) != len(b.Trajs) {
		return errors.New(errors.CodeShapeMismatch, "log rewards do not match trajectories").
			WithDetailf("%d vs %d", len(b.LogRewards), len(b.Trajs))
	}
	for i, tr := range b.Trajs {
		if tr.CondIdx < 0 || tr.CondIdx >= b.Cond.Len() {
			return errors.New(errors.CodeShapeMismatch, "trajectory conditioning index out of range").
				WithDetailf("trajectory %d: %d", i, tr.CondIdx)
		}
		if tr.Len() == 0 {
			return errors.New(errors.CodeInvalidTrajectory, "empty trajectory").WithDetailf("trajectory %d", i)
		}
	}
	return nil
}

// Loss is a computed objective.  Backward accumulates its gradient into the
// model parameters exactly once.
type Loss struct {
	Value float64
	Info  map[string]float64
	ops   []func()
	done  bool
}

func newLoss() *Loss { return &Loss{Info: map[string]float64{}} }

func (l *Loss) record(f func()) { l.ops = append(l.ops, f) }

// Backward applies the recorded gradient operations.
func (l *Loss) Backward() {
	if l.done {
		return
	}
	l.done = true
	for _, op := range l.ops {
		op()
	}
}

// base holds what every objective shares.
type base struct {
	cfg Config
	ctx *env.Context
}

func (b base) Name() string { return b.cfg.Name }

// effectiveLogReward applies the invalid trajectory policy.  include is
// false for invalid trajectories under the exclude policy.
func (b base) effectiveLogReward(tr *Trajectory, lr float64) (v float64, include bool) {
	if tr.Valid {
		return lr, true
	}
	if b.cfg.InvalidPolicy == config.InvalidExclude {
		return 0, false
	}
	return b.cfg.IllegalActionLogReward, true
}

// forward featurizes state g under conditioning row c and evaluates m.
func (b base) forward(m policy.Model, cond *conditioning.Info, row int, tr *Trajectory, t int, next bool) (*policy.Pass, error) {
	g := tr.Steps[t].State
	if next {
		g = tr.Steps[t].Next
	}
	x, err := b.ctx.Featurize(g, cond.EncodingRow(row))
	if err != nil {
		return nil, err
	}
	return m.Forward(x)
}
