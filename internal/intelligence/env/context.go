package env

import (
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Context turns (state, conditioning) pairs into fixed-width model inputs.
type Context struct {
	env     *Env
	condDim int
	slotDim int
}

// NewContext builds a context for conditioning encodings of width condDim.
func NewContext(e *Env, condDim int) (*Context, error) {
	if e == nil {
		return nil, errors.InvalidParam("environment is required")
	}
	if condDim < 0 {
		return nil, errors.InvalidParam("negative conditioning width")
	}
	return &Context{env: e, condDim: condDim, slotDim: e.space.F + 3}, nil
}

// Env returns the environment.
func (c *Context) Env() *Env { return c.env }

// CondDim is the conditioning width.
func (c *Context) CondDim() int { return c.condDim }

// Dim is the width of a featurized state.
func (c *Context) Dim() int {
	s := c.env.space
	return s.N*c.slotDim + s.NumPairs() + 1 + c.condDim
}

// Featurize encodes g under cond.  Each node slot holds a presence flag, the
// fragment one-hot, free stems and degree; bonds fill the upper triangle of
// the adjacency matrix; the conditioning encoding is appended last.
func (c *Context) Featurize(g *molecule.Graph, cond []float64) ([]float64, error) {
	if len(cond) != c.condDim {
		return nil, errors.New(errors.CodeShapeMismatch, "conditioning width").
			WithDetailf("got %d, want %d", len(cond), c.condDim)
	}
	s := c.env.space
	if g.NumNodes() > s.N {
		return nil, errors.New(errors.CodeInvalidTrajectory, "state exceeds max_nodes")
	}
	x := make([]float64, c.Dim())
	for n, id := range g.Nodes {
		row := x[n*c.slotDim : (n+1)*c.slotDim]
		row[0] = 1
		if id >= 0 && id < s.F {
			row[1+id] = 1
		}
		row[s.F+1] = float64(c.env.freeStems(g, n)) / 4
		row[s.F+2] = float64(g.Degree(n)) / 4
	}
	adj := x[s.N*c.slotDim:]
	for _, ed := range g.Edges {
		adj[s.pair(ed.U, ed.V)] = 1
	}
	x[s.N*c.slotDim+s.NumPairs()] = float64(g.NumNodes()) / float64(s.N)
	copy(x[len(x)-c.condDim:], cond)
	return x, nil
}
