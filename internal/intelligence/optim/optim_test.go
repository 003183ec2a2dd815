package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

func param(name string, data, grad []float64) *policy.Parameter {
	p := policy.NewParameter(name, policy.GroupPolicy, len(data), 1)
	copy(p.Data, data)
	copy(p.Grad, grad)
	return p
}

func TestEMA(t *testing.T) {
	dst := []*policy.Parameter{param("a", []float64{1, 2}, nil)}
	src := []*policy.Parameter{param("a", []float64{11, 22}, nil)}
	require.NoError(t, EMA(dst, src, 0.9))
	assert.InDeltaSlice(t, []float64{2, 4}, dst[0].Data, 1e-12)
	assert.Equal(t, []float64{11, 22}, src[0].Data)

	require.NoError(t, EMA(dst, src, 0))
	assert.InDeltaSlice(t, []float64{11, 22}, dst[0].Data, 1e-12)

	assert.True(t, errors.IsCode(EMA(dst, nil, 0.9), errors.CodeShapeMismatch))
	assert.Error(t, EMA(dst, []*policy.Parameter{param("a", []float64{1}, nil)}, 0.9))
}

func TestClipper(t *testing.T) {
	tests := []struct {
		name  string
		kind  string
		param float64
		grads [][]float64
		want  [][]float64
	}{
		{"none", ClipNone, 0, [][]float64{{3, -4}}, [][]float64{{3, -4}}},
		{"value", ClipValue, 1, [][]float64{{3, -0.5, -2}}, [][]float64{{1, -0.5, -1}}},
		{"norm_per_parameter", ClipNorm, 1,
			[][]float64{{3, 4}, {0.3, 0.4}},
			[][]float64{{3 / (5 + 1e-6), 4 / (5 + 1e-6)}, {0.3, 0.4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClipper(tt.kind, tt.param)
			require.NoError(t, err)
			var ps []*policy.Parameter
			for _, g := range tt.grads {
				ps = append(ps, param("p", make([]float64, len(g)), g))
			}
			ClipEach(c, ps)
			for i, p := range ps {
				assert.InDeltaSlice(t, tt.want[i], p.Grad, 1e-12)
			}
		})
	}

	_, err := NewClipper("bogus", 1)
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedClipPolicy))
	_, err = NewClipper(ClipNorm, 0)
	assert.Error(t, err)
}

func TestAdam_FirstStepIsSignScaled(t *testing.T) {
	p := param("w", []float64{1, 1}, []float64{0.5, -2})
	a, err := NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 0.1, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8})
	require.NoError(t, err)
	a.Step()
	assert.InDeltaSlice(t, []float64{0.9, 1.1}, p.Data, 1e-6)
	assert.Equal(t, 1, a.Steps())
	a.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, p.Grad)
}

func TestAdam_MinimizesQuadratic(t *testing.T) {
	p := param("w", []float64{0}, nil)
	a, err := NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 0.05, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8, WeightDecay: 1e-8})
	require.NoError(t, err)
	for i := 0; i < 2000; i++ {
		p.Grad[0] = 2 * (p.Data[0] - 3)
		a.Step()
	}
	assert.InDelta(t, 3, p.Data[0], 0.05)
}

func TestAdam_Config(t *testing.T) {
	p := param("w", []float64{0}, nil)
	_, err := NewAdam(nil, AdamConfig{LR: 1, Eps: 1})
	assert.Error(t, err)
	_, err = NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 0, Eps: 1e-8})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
	_, err = NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 1, Eps: 1e-8, Beta1: 1})
	assert.Error(t, err)
}

func TestAdam_StateRoundTrip(t *testing.T) {
	p := param("w", []float64{1, 2}, []float64{0.1, 0.2})
	a, err := NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 0.01, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8})
	require.NoError(t, err)
	a.Step()
	st := a.State()

	q := param("w", []float64{1, 2}, nil)
	b, err := NewAdam([]*policy.Parameter{q}, AdamConfig{LR: 1, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8})
	require.NoError(t, err)
	require.NoError(t, b.LoadState(st))
	assert.Equal(t, a.Steps(), b.Steps())
	assert.Equal(t, a.LR(), b.LR())

	st.M["w"] = []float64{1}
	assert.True(t, errors.IsCode(b.LoadState(st), errors.CodeCheckpointIO))
	assert.Error(t, b.LoadState(nil))
}

func TestLambdaLR_Halving(t *testing.T) {
	p := param("w", []float64{0}, nil)
	a, err := NewAdam([]*policy.Parameter{p}, AdamConfig{LR: 1e-4, Beta1: 0.9, Beta2: 0.999, Eps: 1e-8})
	require.NoError(t, err)
	s := NewLambdaLR(a, HalvingDecay(10))
	assert.InDelta(t, 1e-4, a.LR(), 1e-18)
	for i := 0; i < 10; i++ {
		s.Step()
	}
	assert.Equal(t, 10, s.Epoch())
	assert.InDelta(t, 5e-5, a.LR(), 1e-18)
	s.SetEpoch(20)
	assert.InDelta(t, 2.5e-5, a.LR(), 1e-18)
	assert.InDelta(t, math.Pow(2, -0.5), HalvingDecay(2)(1), 1e-12)
}
