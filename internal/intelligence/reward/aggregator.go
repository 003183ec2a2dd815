package reward

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molgfn/internal/infrastructure/monitoring/telemetry"
	"github.com/turtacn/molgfn/internal/intelligence/sehproxy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Objective names.
const (
	ObjectiveSEH = "seh"
	ObjectiveQED = "qed"
	ObjectiveSA  = "sa"
	ObjectiveMW  = "mw"
)

// Values substituted when a descriptor cannot be computed, on the raw scale
// before the objective transform.
const (
	DefaultQED   = 0.0
	DefaultSA    = 10.0
	DefaultMolWt = 1000.0
)

// Telemetry keys and cadence of the partition report.
const (
	MetricPartFraction  = "Specified part fraction"
	ImagePartHistogram  = "Parts sampled from"
	histogramEverySteps = 250
)

// Proxy output range before and after scaling.
const (
	sehScale = 8.0
	clipLo   = 1e-4
	clipHi   = 100.0
)

// Mode selects single- or multi-objective scoring.
type Mode int

const (
	SingleObjective Mode = iota
	MultiObjective
)

// Options configures an Aggregator.
type Options struct {
	Mode Mode
	// Objectives are the flat reward columns in MultiObjective mode; ignored
	// otherwise.
	Objectives []string
	// Partition scores molecules outside the assigned part as exactly 0 on
	// the seh objective.
	Partition *PartitionClassifier
	// Sink receives the partition report; nil disables it.
	Sink   telemetry.Sink
	Logger logging.Logger
}

// Aggregator computes flat rewards for batches of molecules.
type Aggregator struct {
	toolkit    molecule.Toolkit
	proxy      sehproxy.Proxy
	mode       Mode
	objectives []string
	partition  *PartitionClassifier
	sink       telemetry.Sink
	logger     logging.Logger
	step       atomic.Int64
}

// NewAggregator validates opts.  The proxy may be nil only for a
// multi-objective task without the seh objective.
func NewAggregator(tk molecule.Toolkit, proxy sehproxy.Proxy, opts Options) (*Aggregator, error) {
	if tk == nil {
		return nil, errors.InvalidParam("toolkit is required")
	}
	a := &Aggregator{
		toolkit:   tk,
		proxy:     proxy,
		mode:      opts.Mode,
		partition: opts.Partition,
		sink:      telemetry.OrNop(opts.Sink),
		logger:    logging.OrNop(opts.Logger).Named("reward"),
	}
	switch opts.Mode {
	case SingleObjective:
		a.objectives = []string{ObjectiveSEH}
	case MultiObjective:
		if err := config.ValidateObjectives(opts.Objectives); err != nil {
			return nil, err
		}
		a.objectives = append([]string(nil), opts.Objectives...)
	default:
		return nil, errors.InvalidConfig("unknown reward mode")
	}
	if proxy == nil && a.hasObjective(ObjectiveSEH) {
		return nil, errors.InvalidConfig("the seh objective needs a proxy")
	}
	return a, nil
}

// Objectives returns the flat reward column names.
func (a *Aggregator) Objectives() []string { return append([]string(nil), a.objectives...) }

// NumObjectives is the flat reward width.
func (a *Aggregator) NumObjectives() int { return len(a.objectives) }

// SetStep sets the training step stamped on telemetry.
func (a *Aggregator) SetStep(step int) { a.step.Store(int64(step)) }

func (a *Aggregator) hasObjective(name string) bool {
	for _, o := range a.objectives {
		if o == name {
			return true
		}
	}
	return false
}

// ComputeFlatRewards scores mols.  The mask reports which molecules are
// valid; the result holds one row per valid molecule, in input order.  A
// batch without valid molecules yields a 0-row matrix and no error.
func (a *Aggregator) ComputeFlatRewards(ctx context.Context, mols []*molecule.Graph) (*FlatRewards, []bool, error) {
	valid := make([]bool, len(mols))
	var graphs []*molecule.MolecularGraph
	var kept []*molecule.Graph
	for i, m := range mols {
		mg, err := a.toolkit.ToGraph(m)
		if err != nil {
			continue
		}
		valid[i] = true
		graphs = append(graphs, mg)
		kept = append(kept, m)
	}
	k := len(graphs)
	flat := NewFlatRewards(k, len(a.objectives))
	if k == 0 {
		return flat, valid, nil
	}

	for j, obj := range a.objectives {
		switch obj {
		case ObjectiveSEH:
			preds, outside, err := a.predictSEH(ctx, kept, graphs)
			if err != nil {
				return nil, nil, err
			}
			for i, p := range preds {
				switch {
				case outside != nil && outside[i]:
					flat.Set(i, j, 0)
				case a.mode == SingleObjective:
					flat.Set(i, j, clip(p/sehScale, clipLo, clipHi))
				default:
					flat.Set(i, j, clip(p, clipLo, clipHi)/sehScale)
				}
			}
		case ObjectiveQED:
			for i, m := range kept {
				flat.Set(i, j, a.safe(m, a.toolkit.QED, DefaultQED, obj))
			}
		case ObjectiveSA:
			for i, m := range kept {
				flat.Set(i, j, TransformSA(a.safe(m, a.toolkit.SA, DefaultSA, obj)))
			}
		case ObjectiveMW:
			for i, m := range kept {
				flat.Set(i, j, TransformMolWt(a.safe(m, a.toolkit.MolWt, DefaultMolWt, obj)))
			}
		}
	}
	return flat, valid, nil
}

// predictSEH returns raw proxy predictions with NaN replaced by 0 and, in
// sharded mode, which molecules fall outside the assigned part.  Those are
// scored exactly 0 after the transform, bypassing the clip floor.
func (a *Aggregator) predictSEH(ctx context.Context, mols []*molecule.Graph, graphs []*molecule.MolecularGraph) ([]float64, []bool, error) {
	preds, err := a.proxy.Predict(ctx, graphs)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeRewardComputation, "proxy prediction failed")
	}
	if len(preds) != len(graphs) {
		return nil, nil, errors.New(errors.CodeShapeMismatch, "proxy returned wrong number of predictions").
			WithDetailf("%d vs %d", len(preds), len(graphs))
	}
	for i, p := range preds {
		if math.IsNaN(p) {
			preds[i] = 0
		}
	}
	if a.partition == nil {
		return preds, nil, nil
	}
	parts, err := a.partition.Classify(mols)
	if err != nil {
		return nil, nil, err
	}
	a.reportParts(ctx, a.partition.Counts(parts))
	outside := make([]bool, len(parts))
	for i, id := range parts {
		outside[i] = id != a.partition.Part()
	}
	return preds, outside, nil
}

func (a *Aggregator) reportParts(ctx context.Context, counts []int) {
	step := int(a.step.Load())
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return
	}
	frac := float64(counts[a.partition.Part()]) / float64(total)
	if err := a.sink.LogScalars(ctx, step, map[string]float64{MetricPartFraction: frac}); err != nil {
		a.logger.Warn("part fraction not recorded", logging.Err(err))
	}
	if step != 1 && step%histogramEverySteps != 0 {
		return
	}
	img, err := telemetry.RenderHistogram(counts, a.partition.Part(), 640, 400)
	if err != nil {
		a.logger.Warn("part histogram not rendered", logging.Err(err))
		return
	}
	if err := a.sink.LogImage(ctx, step, ImagePartHistogram, img); err != nil {
		a.logger.Warn("part histogram not recorded", logging.Err(err))
	}
}

// safe evaluates a descriptor, substituting def on failure.
func (a *Aggregator) safe(m *molecule.Graph, f func(*molecule.Graph) (float64, error), def float64, name string) float64 {
	v, err := f(m)
	if err != nil || math.IsNaN(v) {
		a.logger.Debug("descriptor substituted", logging.String("objective", name), logging.Err(err))
		return def
	}
	return v
}

// TransformSA maps an SA score in [1, 10] to a reward in [0, 1].
func TransformSA(sa float64) float64 { return (10 - sa) / 9 }

// TransformMolWt is 1 up to 300 Da, then decays linearly to 0 at 1000 Da.
func TransformMolWt(mw float64) float64 { return clip((300-mw)/700+1, 0, 1) }

// clip maps NaN to NaN, like a tensor clamp.
func clip(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return x
	}
	return math.Max(lo, math.Min(hi, x))
}
