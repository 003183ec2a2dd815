package conditioning

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/molgfn/internal/config"
	"github.com/turtacn/molgfn/pkg/errors"
)

// minConcentration floors the experimental Dirichlet concentration; gonum
// rejects non-positive parameters.
const minConcentration = 1e-3

// Info is the conditioning of one batch.  It is not mutated after
// construction.
type Info struct {
	// Beta holds the inverse temperature of every sample.
	Beta []float64
	// Encoding is N × NumCondDim.
	Encoding *mat.Dense
	// Preferences is N × objectives; nil for single-objective tasks.
	Preferences *mat.Dense
}

// Len returns the number of samples.
func (c *Info) Len() int { return len(c.Beta) }

// EncodingRow returns a copy of sample i's encoding.
func (c *Info) EncodingRow(i int) []float64 {
	return mat.Row(nil, i, c.Encoding)
}

// PreferenceRow returns a copy of sample i's preferences, or nil.
func (c *Info) PreferenceRow(i int) []float64 {
	if c.Preferences == nil {
		return nil
	}
	return mat.Row(nil, i, c.Preferences)
}

// Config selects the conditioning scheme.
type Config struct {
	Dist               string
	Params             []float64
	ThermometerDim     int
	Objectives         int // 0 for single-objective tasks
	UsePrefThermometer bool
	ExperimentalDir    bool
}

// ConfigFromHyperparameters maps the trainer hyperparameters.
func ConfigFromHyperparameters(h *config.Hyperparameters) Config {
	c := Config{
		Dist:               h.TemperatureSampleDist,
		Params:             append([]float64(nil), h.TemperatureDistParams...),
		ThermometerDim:     h.NumThermometerDim,
		UsePrefThermometer: h.UsePrefThermometer,
		ExperimentalDir:    h.ExperimentalDirichlet,
	}
	if h.MultiObjective() {
		c.Objectives = len(h.Objectives)
	}
	return c
}

// NumCondDim is the width of the encoding.
func (c Config) NumCondDim() int {
	switch {
	case c.Objectives == 0:
		return c.ThermometerDim
	case c.UsePrefThermometer:
		return c.ThermometerDim * (1 + c.Objectives)
	default:
		return c.ThermometerDim + c.Objectives
	}
}

// Sampler draws and encodes conditioning.
type Sampler struct {
	cfg    Config
	src    rand.Source
	upper  float64
	seeded []float64
}

// NewSampler validates cfg and builds a sampler drawing from src.
func NewSampler(cfg Config, src rand.Source) (*Sampler, error) {
	if err := config.ValidateTemperature(cfg.Dist, cfg.Params); err != nil {
		return nil, err
	}
	if cfg.ThermometerDim < 1 {
		return nil, errors.InvalidConfig("thermometer dimension must be >= 1")
	}
	if cfg.Objectives < 0 {
		return nil, errors.New(errors.CodeInvalidObjectives, "negative objective count")
	}
	s := &Sampler{cfg: cfg, src: src}
	p := cfg.Params
	switch cfg.Dist {
	case config.TemperatureGamma:
		if p[0] <= 0 || p[1] <= 0 {
			return nil, errors.New(errors.CodeUnsupportedDistribution, "gamma shape and scale must be positive")
		}
		s.upper = s.gamma(nil).Quantile(0.95)
	case config.TemperatureUniform, config.TemperatureLogUniform:
		s.upper = p[1]
	case config.TemperatureBeta:
		if p[0] <= 0 || p[1] <= 0 {
			return nil, errors.New(errors.CodeUnsupportedDistribution, "beta parameters must be positive")
		}
		s.upper = 1
	}
	return s, nil
}

// Config returns the sampler's configuration.
func (s *Sampler) Config() Config { return s.cfg }

// NumCondDim is the width of the encoding.
func (s *Sampler) NumCondDim() int { return s.cfg.NumCondDim() }

// WithSource returns a sampler sharing configuration and seeded preference
// but drawing from src.
func (s *Sampler) WithSource(src rand.Source) *Sampler {
	c := *s
	c.src = src
	return &c
}

// SetSeededPreference pins every sampled preference to p.  A nil p restores
// Dirichlet sampling.
func (s *Sampler) SetSeededPreference(p []float64) error {
	if p != nil && len(p) != s.cfg.Objectives {
		return errors.New(errors.CodeShapeMismatch, "seeded preference width").
			WithDetailf("%d vs %d objectives", len(p), s.cfg.Objectives)
	}
	s.seeded = append([]float64(nil), p...)
	return nil
}

func (s *Sampler) gamma(src rand.Source) distuv.Gamma {
	return distuv.Gamma{Alpha: s.cfg.Params[0], Beta: 1 / s.cfg.Params[1], Src: src}
}

// Sample draws n conditioning vectors.
func (s *Sampler) Sample(n int) (*Info, error) {
	if n < 1 {
		return nil, errors.InvalidParam("sample size must be >= 1")
	}
	beta := s.sampleBeta(n)
	if len(beta) != n {
		return nil, errors.New(errors.CodeShapeMismatch, "beta must have one entry per sample").
			WithDetailf("got %d, want %d", len(beta), n)
	}
	for i, b := range beta {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return nil, errors.New(errors.CodeRewardNonFinite, "non-finite beta").WithDetailf("index %d", i)
		}
	}
	td := s.cfg.ThermometerDim
	enc := mat.NewDense(n, s.NumCondDim(), nil)
	if s.cfg.Dist != config.TemperatureConstant {
		for i, b := range beta {
			ThermometerInto(enc.RawRowView(i)[:td], b, 0, s.upper)
		}
	}
	info := &Info{Beta: beta, Encoding: enc}
	if s.cfg.Objectives == 0 {
		return info, nil
	}
	prefs := mat.NewDense(n, s.cfg.Objectives, nil)
	for i := 0; i < n; i++ {
		copy(prefs.RawRowView(i), s.samplePreference())
	}
	s.encodePreferences(enc, prefs)
	info.Preferences = prefs
	return info, nil
}

func (s *Sampler) sampleBeta(n int) []float64 {
	p := s.cfg.Params
	beta := make([]float64, n)
	switch s.cfg.Dist {
	case config.TemperatureConstant:
		for i := range beta {
			beta[i] = p[0]
		}
	case config.TemperatureGamma:
		g := s.gamma(s.src)
		for i := range beta {
			beta[i] = g.Rand()
		}
	case config.TemperatureUniform:
		u := distuv.Uniform{Min: p[0], Max: p[1], Src: s.src}
		for i := range beta {
			beta[i] = u.Rand()
		}
	case config.TemperatureLogUniform:
		u := distuv.Uniform{Min: math.Log(p[0]), Max: math.Log(p[1]), Src: s.src}
		for i := range beta {
			beta[i] = math.Exp(u.Rand())
		}
	case config.TemperatureBeta:
		b := distuv.Beta{Alpha: p[0], Beta: p[1], Src: s.src}
		for i := range beta {
			beta[i] = b.Rand()
		}
	}
	return beta
}

func (s *Sampler) samplePreference() []float64 {
	k := s.cfg.Objectives
	if s.seeded != nil {
		return append([]float64(nil), s.seeded...)
	}
	if k == 1 {
		return []float64{1}
	}
	ones := make([]float64, k)
	for i := range ones {
		ones[i] = 1
	}
	if !s.cfg.ExperimentalDir {
		return distmv.NewDirichlet(ones, s.src).Rand(nil)
	}
	a := distmv.NewDirichlet(ones, s.src).Rand(nil)
	b := distuv.Exponential{Rate: 1, Src: s.src}.Rand()
	conc := make([]float64, k)
	for i := range conc {
		conc[i] = math.Max(a[i]*b, minConcentration)
	}
	p := distmv.NewDirichlet(conc, s.src).Rand(nil)
	if !onSimplex(p) {
		// All gamma draws underflowed; fall back to the normalized concentration.
		sum := 0.0
		for _, c := range conc {
			sum += c
		}
		for i := range p {
			p[i] = conc[i] / sum
		}
	}
	return p
}

func onSimplex(p []float64) bool {
	sum := 0.0
	for _, v := range p {
		if math.IsNaN(v) || v < 0 {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) < 1e-6
}

func (s *Sampler) encodePreferences(enc, prefs *mat.Dense) {
	td := s.cfg.ThermometerDim
	n, k := prefs.Dims()
	for i := 0; i < n; i++ {
		row := enc.RawRowView(i)[td:]
		for j := 0; j < k; j++ {
			w := prefs.At(i, j)
			if s.cfg.UsePrefThermometer {
				ThermometerInto(row[j*td:(j+1)*td], w, 0, 1)
			} else {
				row[j] = w
			}
		}
	}
}

// Encode builds the deterministic conditioning used at validation time for
// fixed preference rows.  Single-objective samplers ignore the row contents.
// Constant temperature yields β = params[0] with a zero β-encoding; every
// other family yields β = the last parameter with an all-ones β-encoding.
func (s *Sampler) Encode(prefs [][]float64) (*Info, error) {
	n := len(prefs)
	if n < 1 {
		return nil, errors.InvalidParam("encode needs at least one preference row")
	}
	td := s.cfg.ThermometerDim
	beta := make([]float64, n)
	enc := mat.NewDense(n, s.NumCondDim(), nil)
	for i := range beta {
		if s.cfg.Dist == config.TemperatureConstant {
			beta[i] = s.cfg.Params[0]
			continue
		}
		beta[i] = s.cfg.Params[len(s.cfg.Params)-1]
		row := enc.RawRowView(i)[:td]
		for j := range row {
			row[j] = 1
		}
	}
	info := &Info{Beta: beta, Encoding: enc}
	if s.cfg.Objectives == 0 {
		return info, nil
	}
	pm := mat.NewDense(n, s.cfg.Objectives, nil)
	for i, p := range prefs {
		if len(p) != s.cfg.Objectives {
			return nil, errors.New(errors.CodeShapeMismatch, "preference width").
				WithDetailf("row %d has %d entries, want %d", i, len(p), s.cfg.Objectives)
		}
		pm.SetRow(i, p)
	}
	s.encodePreferences(enc, pm)
	info.Preferences = pm
	return info, nil
}
