package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/pkg/errors"
)

const (
	fragMethyl   = 0
	fragHydroxyl = 1
	fragFluoro   = 7
	fragBenzene  = 10
)

func newEnv(t *testing.T, maxNodes int) *Env {
	t.Helper()
	e, err := New(nil, maxNodes)
	require.NoError(t, err)
	return e
}

// ringWithMethyl is three bonded benzenes closed into a ring plus a methyl.
func ringWithMethyl() *molecule.Graph {
	g := &molecule.Graph{}
	g.AddNode(fragBenzene, -1)
	g.AddNode(fragBenzene, 0)
	g.AddNode(fragBenzene, 1)
	g.AddEdge(0, 2)
	g.AddNode(fragMethyl, 0)
	return g
}

func countTrue(m []bool) int {
	c := 0
	for _, ok := range m {
		if ok {
			c++
		}
	}
	return c
}

func TestSpace_RoundTrip(t *testing.T) {
	s := Space{N: 4, F: 3}
	assert.Equal(t, 19, s.NumForward())
	assert.Equal(t, 10, s.NumBackward())

	for i := 0; i < s.NumForward(); i++ {
		a, err := s.DecodeForward(i)
		require.NoError(t, err)
		j, err := s.Forward(a)
		require.NoError(t, err)
		assert.Equal(t, i, j, a.String())
	}
	for i := 0; i < s.NumBackward(); i++ {
		a, err := s.DecodeBackward(i)
		require.NoError(t, err)
		j, err := s.Backward(a)
		require.NoError(t, err)
		assert.Equal(t, i, j, a.String())
	}

	_, err := s.DecodeForward(s.NumForward())
	assert.True(t, errors.IsCode(err, errors.CodeActionOutOfRange))
	_, err = s.Forward(Action{Type: AddEdge, U: 2, V: 1})
	assert.True(t, errors.IsCode(err, errors.CodeActionOutOfRange))
	_, err = s.Backward(Action{Type: Stop})
	assert.Error(t, err)
}

func TestNew_RejectsZeroNodes(t *testing.T) {
	_, err := New(nil, 0)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
}

func TestForwardMask_EmptyGraph(t *testing.T) {
	e := newEnv(t, 9)
	mask := e.ForwardMask(e.Reset())
	require.Len(t, mask, e.Space().NumForward())
	assert.False(t, mask[0], "stop is illegal on the empty graph")
	assert.Equal(t, e.Space().F, countTrue(mask))

	_, err := e.Step(e.Reset(), 0)
	assert.True(t, errors.IsCode(err, errors.CodeIllegalAction))
}

func TestForwardMask_Limits(t *testing.T) {
	e := newEnv(t, 2)
	g := &molecule.Graph{}
	g.AddNode(fragBenzene, -1)
	g.AddNode(fragBenzene, 0)
	mask := e.ForwardMask(g)
	assert.True(t, mask[0])
	assert.Equal(t, 1, countTrue(mask), "no node may be added at max_nodes and the pair is bonded")

	e = newEnv(t, 9)
	g = &molecule.Graph{}
	g.AddNode(fragHydroxyl, -1)
	assert.Equal(t, 1+e.Space().F, countTrue(e.ForwardMask(g)))
	g.AddNode(fragFluoro, 0)
	mask = e.ForwardMask(g)
	assert.Equal(t, 1, countTrue(mask), "both stems are used")
	assert.True(t, mask[0])
}

func TestStep_DoesNotMutate(t *testing.T) {
	e := newEnv(t, 9)
	s0 := e.Reset()
	a, err := e.Space().Forward(Action{Type: AddNode, Frag: fragBenzene})
	require.NoError(t, err)
	s1, err := e.Step(s0, a)
	require.NoError(t, err)
	assert.True(t, s0.Empty())
	assert.Equal(t, []int{fragBenzene}, s1.Nodes)
	assert.Empty(t, s1.Edges)
	assert.True(t, e.IsTerminal(0))
	assert.False(t, e.IsTerminal(a))
}

func TestBackwardMask(t *testing.T) {
	e := newEnv(t, 9)
	g := ringWithMethyl()
	mask := e.BackwardMask(g)
	// The methyl is the only leaf; the three ring bonds are not bridges.
	assert.Equal(t, 4, countTrue(mask))
	assert.True(t, mask[3])
	assert.Equal(t, 4, e.CountBackward(g))

	chain := &molecule.Graph{}
	chain.AddNode(fragBenzene, -1)
	chain.AddNode(fragBenzene, 0)
	chain.AddNode(fragBenzene, 1)
	assert.Equal(t, 2, e.CountBackward(chain))

	single := &molecule.Graph{}
	single.AddNode(fragBenzene, -1)
	assert.Equal(t, 1, e.CountBackward(single))
}

func TestReverse_UndoesEveryStep(t *testing.T) {
	e := newEnv(t, 6)
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		state := e.Reset()
		for step := 0; step < 12; step++ {
			mask := e.ForwardMask(state)
			var legal []int
			for i, ok := range mask {
				if ok && i != 0 {
					legal = append(legal, i)
				}
			}
			if len(legal) == 0 {
				break
			}
			a := legal[rng.Intn(len(legal))]
			next, err := e.Step(state, a)
			require.NoError(t, err)
			rev, err := e.Reverse(state, a)
			require.NoError(t, err)
			require.True(t, e.BackwardMask(next)[rev])
			back, err := e.StepBackward(next, rev)
			require.NoError(t, err)
			assert.Equal(t, state.NumNodes(), back.NumNodes())
			assert.Equal(t, state.NumEdges(), back.NumEdges())
			assert.Equal(t, state.CanonicalKey(), back.CanonicalKey())
			state = next
		}
	}
}

func TestTrajectoryFromGraph(t *testing.T) {
	e := newEnv(t, 9)
	g := ringWithMethyl()
	for seed := uint64(0); seed < 10; seed++ {
		tr, err := e.TrajectoryFromGraph(g, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.True(t, tr.Valid)
		assert.True(t, tr.Offline)
		assert.True(t, tr.Stopped())
		// 4 nodes, 1 ring-closing bond, stop.
		assert.Equal(t, 6, tr.Len())
		assert.Equal(t, g.CanonicalKey(), tr.Graph.CanonicalKey())
		for i, st := range tr.Steps {
			assert.True(t, e.Legal(st.State, st.Action), "step %d", i)
			if i > 0 {
				assert.Same(t, tr.Steps[i-1].Next, st.State)
			}
		}
		assert.Equal(t, -1, tr.Steps[tr.Len()-1].Reverse)
	}

	_, err := e.TrajectoryFromGraph(&molecule.Graph{}, rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTrajectory))
	small := newEnv(t, 3)
	_, err = small.TrajectoryFromGraph(g, rand.New(rand.NewSource(1)))
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTrajectory))
}

func TestContext_Featurize(t *testing.T) {
	e := newEnv(t, 4)
	c, err := NewContext(e, 3)
	require.NoError(t, err)
	s := e.Space()
	assert.Equal(t, 4*(s.F+3)+6+1+3, c.Dim())

	g := &molecule.Graph{}
	g.AddNode(fragBenzene, -1)
	g.AddNode(fragMethyl, 0)
	x, err := c.Featurize(g, []float64{0.1, 0.2, 0.3})
	require.NoError(t, err)
	require.Len(t, x, c.Dim())
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, x[len(x)-3:])
	assert.Equal(t, 1.0, x[0])
	assert.Equal(t, 1.0, x[1+fragBenzene])
	assert.Equal(t, 0.5, x[4*(s.F+3)+6], "node fraction")
	assert.Equal(t, 1.0, x[4*(s.F+3)], "bond 0-1")

	_, err = c.Featurize(g, []float64{1})
	assert.True(t, errors.IsCode(err, errors.CodeShapeMismatch))
}
