package optim

import (
	"gonum.org/v1/gonum/floats"

	"github.com/turtacn/molgfn/internal/intelligence/policy"
	"github.com/turtacn/molgfn/pkg/errors"
)

// EMA moves dst towards src: dst = τ·dst + (1-τ)·src, parameter by
// parameter.
func EMA(dst, src []*policy.Parameter, tau float64) error {
	if len(dst) != len(src) {
		return errors.New(errors.CodeShapeMismatch, "ema parameter lists differ").
			WithDetailf("%d vs %d", len(dst), len(src))
	}
	for i, d := range dst {
		s := src[i]
		if len(d.Data) != len(s.Data) {
			return errors.New(errors.CodeShapeMismatch, "ema parameter sizes differ").WithDetail(d.Name)
		}
	}
	for i, d := range dst {
		floats.Scale(tau, d.Data)
		floats.AddScaled(d.Data, 1-tau, src[i].Data)
	}
	return nil
}
