package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Clipping policies.
const (
	ClipNone  = "none"
	ClipValue = "value"
	ClipNorm  = "norm"
)

// Clipper rewrites the gradient of one parameter.
type Clipper interface {
	Clip(p *policy.Parameter)
}

// ClipperFunc adapts a function to Clipper.
type ClipperFunc func(p *policy.Parameter)

// Clip implements Clipper.
func (f ClipperFunc) Clip(p *policy.Parameter) { f(p) }

// NewClipper returns the policy named kind.  Unknown kinds are a CFG_005
// error.
func NewClipper(kind string, param float64) (Clipper, error) {
	switch kind {
	case ClipNone:
		return ClipperFunc(func(*policy.Parameter) {}), nil
	case ClipValue:
		if param <= 0 {
			return nil, errors.New(errors.CodeUnsupportedClipPolicy, "clip value must be positive")
		}
		return ClipperFunc(func(p *policy.Parameter) {
			for i, g := range p.Grad {
				p.Grad[i] = math.Max(-param, math.Min(param, g))
			}
		}), nil
	case ClipNorm:
		if param <= 0 {
			return nil, errors.New(errors.CodeUnsupportedClipPolicy, "clip norm must be positive")
		}
		return ClipperFunc(func(p *policy.Parameter) {
			n := floats.Norm(p.Grad, 2)
			if coef := param / (n + 1e-6); coef < 1 {
				floats.Scale(coef, p.Grad)
			}
		}), nil
	default:
		return nil, errors.New(errors.CodeUnsupportedClipPolicy, "unsupported gradient clipping policy").WithDetail(kind)
	}
}

// ClipEach clips every parameter independently.
func ClipEach(c Clipper, params []*policy.Parameter) {
	for _, p := range params {
		c.Clip(p)
	}
}
