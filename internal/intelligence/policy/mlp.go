package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/molgfn/pkg/errors"
)

const leakySlope = 0.01

func leaky(x float64) float64 {
	if x > 0 {
		return x
	}
	return leakySlope * x
}

func leakyGrad(x float64) float64 {
	if x > 0 {
		return 1
	}
	return leakySlope
}

// linear is y = W x + b with W stored out × in.
type linear struct {
	w, b *Parameter
}

func (l linear) forward(x []float64) []float64 {
	out := make([]float64, l.w.Rows)
	mat.NewVecDense(len(out), out).MulVec(l.w.Matrix(), mat.NewVecDense(len(x), x))
	floats.Add(out, l.b.Data)
	return out
}

// backward accumulates dW += dz xᵀ, db += dz and returns Wᵀ dz.
func (l linear) backward(x, dz []float64) []float64 {
	dzv := mat.NewVecDense(len(dz), dz)
	gw := l.w.GradMatrix()
	gw.RankOne(gw, 1, dzv, mat.NewVecDense(len(x), x))
	floats.Add(l.b.Grad, dz)
	dx := make([]float64, l.w.Cols)
	mat.NewVecDense(len(dx), dx).MulVec(l.w.Matrix().T(), dzv)
	return dx
}

// MLP is a leaky-ReLU trunk shared by the forward-policy, backward-policy and
// value heads, plus a separate two-layer network for log Z(c).
type MLP struct {
	spec   Spec
	trunk  []linear
	fwd    linear
	bwd    linear
	val    linear
	z1, z2 linear
	params []*Parameter
}

var _ Model = (*MLP)(nil)

// NewMLP initializes weights uniformly in ±1/√fan_in from src.
func NewMLP(spec Spec, src rand.Source) (*MLP, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	params := layout(spec)
	for i := 0; i < len(params); i += 2 {
		bound := 1 / math.Sqrt(float64(params[i].Cols))
		u := distuv.Uniform{Min: -bound, Max: bound, Src: src}
		for _, p := range params[i : i+2] {
			for j := range p.Data {
				p.Data[j] = u.Rand()
			}
		}
	}
	return wire(spec, params), nil
}

func layout(spec Spec) []*Parameter {
	var ps []*Parameter
	add := func(name, group string, out, in int) {
		ps = append(ps,
			NewParameter(name+".weight", group, out, in),
			NewParameter(name+".bias", group, out, 1))
	}
	in := spec.InputDim
	for l := 0; l < spec.Layers; l++ {
		add(fmt.Sprintf("trunk.%d", l), GroupPolicy, spec.Hidden, in)
		in = spec.Hidden
	}
	add("head.forward", GroupPolicy, spec.NumForward*spec.OutputsPerAction, spec.Hidden)
	add("head.backward", GroupPolicy, spec.NumBackward, spec.Hidden)
	add("head.value", GroupPolicy, 1, spec.Hidden)
	add("logZ.0", GroupZ, 2*spec.Hidden, spec.CondDim)
	add("logZ.1", GroupZ, 1, 2*spec.Hidden)
	return ps
}

func wire(spec Spec, ps []*Parameter) *MLP {
	m := &MLP{spec: spec, params: ps}
	lin := func(i int) linear { return linear{w: ps[2*i], b: ps[2*i+1]} }
	for l := 0; l < spec.Layers; l++ {
		m.trunk = append(m.trunk, lin(l))
	}
	k := spec.Layers
	m.fwd, m.bwd, m.val = lin(k), lin(k+1), lin(k+2)
	m.z1, m.z2 = lin(k+3), lin(k+4)
	return m
}

// Spec returns the model dimensions.
func (m *MLP) Spec() Spec { return m.spec }

// Parameters returns every parameter in a fixed order.
func (m *MLP) Parameters() []*Parameter { return m.params }

// Clone deep-copies the weights.
func (m *MLP) Clone() Model {
	ps := make([]*Parameter, len(m.params))
	for i, p := range m.params {
		ps[i] = p.Clone()
	}
	return wire(m.spec, ps)
}

// Forward evaluates every head on x.
func (m *MLP) Forward(x []float64) (*Pass, error) {
	if len(x) != m.spec.InputDim {
		return nil, errors.New(errors.CodeShapeMismatch, "model input width").
			WithDetailf("got %d, want %d", len(x), m.spec.InputDim)
	}
	p := &Pass{}
	a := x
	for _, l := range m.trunk {
		pre := l.forward(a)
		p.inputs = append(p.inputs, a)
		p.pre = append(p.pre, pre)
		h := make([]float64, len(pre))
		for i, v := range pre {
			h[i] = leaky(v)
		}
		a = h
	}
	p.hidden = a
	p.Logits = m.fwd.forward(a)
	p.BackLogits = m.bwd.forward(a)
	p.Value = m.val.forward(a)[0]
	return p, nil
}

// Backward propagates g through the heads and the trunk.
func (m *MLP) Backward(p *Pass, g *HeadGrads) {
	if p == nil || g == nil {
		return
	}
	dh := make([]float64, m.spec.Hidden)
	touched := false
	if g.Logits != nil {
		floats.Add(dh, m.fwd.backward(p.hidden, g.Logits))
		touched = true
	}
	if g.BackLogits != nil {
		floats.Add(dh, m.bwd.backward(p.hidden, g.BackLogits))
		touched = true
	}
	if g.Value != 0 {
		floats.Add(dh, m.val.backward(p.hidden, []float64{g.Value}))
		touched = true
	}
	if !touched {
		return
	}
	for l := len(m.trunk) - 1; l >= 0; l-- {
		dz := make([]float64, len(dh))
		for i, v := range p.pre[l] {
			dz[i] = dh[i] * leakyGrad(v)
		}
		dh = m.trunk[l].backward(p.inputs[l], dz)
	}
}

// LogZ evaluates log Z(cond).
func (m *MLP) LogZ(cond []float64) (*ZPass, error) {
	if len(cond) != m.spec.CondDim {
		return nil, errors.New(errors.CodeShapeMismatch, "log Z conditioning width").
			WithDetailf("got %d, want %d", len(cond), m.spec.CondDim)
	}
	pre := m.z1.forward(cond)
	h := make([]float64, len(pre))
	for i, v := range pre {
		h[i] = leaky(v)
	}
	return &ZPass{Value: m.z2.forward(h)[0], cond: cond, pre: pre, hidden: h}, nil
}

// BackwardZ accumulates d·∂logZ/∂θ.
func (m *MLP) BackwardZ(p *ZPass, d float64) {
	if p == nil || d == 0 {
		return
	}
	dh := m.z2.backward(p.hidden, []float64{d})
	for i, v := range p.pre {
		dh[i] *= leakyGrad(v)
	}
	m.z1.backward(p.cond, dh)
}
