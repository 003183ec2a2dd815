package env

import (
	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Env builds connected fragment graphs of at most MaxNodes fragments.  Graphs
// are never mutated in place: Step returns a new graph.
type Env struct {
	vocab *molecule.Vocabulary
	space Space
}

// New returns an environment over vocab (the default vocabulary when nil).
func New(vocab *molecule.Vocabulary, maxNodes int) (*Env, error) {
	if vocab == nil {
		vocab = molecule.DefaultVocabulary()
	}
	if maxNodes < 1 {
		return nil, errors.InvalidConfig("max_nodes must be >= 1")
	}
	return &Env{vocab: vocab, space: Space{N: maxNodes, F: vocab.Len()}}, nil
}

// Space returns the action indexing.
func (e *Env) Space() Space { return e.space }

// Vocabulary returns the fragment vocabulary.
func (e *Env) Vocabulary() *molecule.Vocabulary { return e.vocab }

// MaxNodes is the node limit.
func (e *Env) MaxNodes() int { return e.space.N }

// Reset returns the empty initial state.
func (e *Env) Reset() *molecule.Graph { return &molecule.Graph{} }

// IsTerminal reports whether forward index a ends the trajectory.
func (e *Env) IsTerminal(a int) bool { return a == 0 }

func (e *Env) freeStems(g *molecule.Graph, n int) int {
	f, ok := e.vocab.Get(g.Nodes[n])
	if !ok {
		return 0
	}
	return f.Stems - g.Degree(n)
}

// ForwardMask marks the legal forward actions of g.
func (e *Env) ForwardMask(g *molecule.Graph) []bool {
	s := e.space
	mask := make([]bool, s.NumForward())
	n := g.NumNodes()
	mask[0] = n > 0
	if n < s.N {
		if n == 0 {
			for f := 0; f < s.F; f++ {
				mask[1+f] = true
			}
		} else {
			for at := 0; at < n; at++ {
				if e.freeStems(g, at) <= 0 {
					continue
				}
				for f := 0; f < s.F; f++ {
					mask[1+at*s.F+f] = true
				}
			}
		}
	}
	for u := 0; u < n; u++ {
		if e.freeStems(g, u) <= 0 {
			continue
		}
		for v := u + 1; v < n; v++ {
			if e.freeStems(g, v) > 0 && !g.HasEdge(u, v) {
				mask[1+s.N*s.F+s.pair(u, v)] = true
			}
		}
	}
	return mask
}

// Legal reports whether forward index a is legal in g.
func (e *Env) Legal(g *molecule.Graph, a int) bool {
	if a < 0 || a >= e.space.NumForward() {
		return false
	}
	return e.ForwardMask(g)[a]
}

// Step applies forward action a to g.  Stop returns a copy of g.  Illegal
// actions return an ENV_001 error.
func (e *Env) Step(g *molecule.Graph, a int) (*molecule.Graph, error) {
	act, err := e.space.DecodeForward(a)
	if err != nil {
		return nil, err
	}
	if !e.Legal(g, a) {
		return nil, errors.New(errors.CodeIllegalAction, "illegal forward action").WithDetail(act.String())
	}
	next := g.Clone()
	switch act.Type {
	case AddNode:
		attach := act.Node
		if next.Empty() {
			attach = -1
		}
		next.AddNode(act.Frag, attach)
	case AddEdge:
		next.AddEdge(act.U, act.V)
	}
	return next, nil
}

// BackwardMask marks the legal backward actions of g: removing a leaf
// fragment, or removing a bond that is not a bridge.
func (e *Env) BackwardMask(g *molecule.Graph) []bool {
	s := e.space
	mask := make([]bool, s.NumBackward())
	n := g.NumNodes()
	for i := 0; i < n && i < s.N; i++ {
		if g.Degree(i) <= 1 {
			mask[i] = true
		}
	}
	for _, ed := range g.Edges {
		if ed.V < s.N && !g.IsBridge(ed.U, ed.V) {
			mask[s.N+s.pair(ed.U, ed.V)] = true
		}
	}
	return mask
}

// CountBackward is the number of legal backward actions of g.
func (e *Env) CountBackward(g *molecule.Graph) int {
	c := 0
	for _, ok := range e.BackwardMask(g) {
		if ok {
			c++
		}
	}
	return c
}

// StepBackward applies backward action b to g.
func (e *Env) StepBackward(g *molecule.Graph, b int) (*molecule.Graph, error) {
	act, err := e.space.DecodeBackward(b)
	if err != nil {
		return nil, err
	}
	if !e.BackwardMask(g)[b] {
		return nil, errors.New(errors.CodeIllegalAction, "illegal backward action").WithDetail(act.String())
	}
	prev := g.Clone()
	switch act.Type {
	case RemoveNode:
		prev.RemoveNode(act.Node)
	case RemoveEdge:
		prev.RemoveEdge(act.U, act.V)
	}
	return prev, nil
}

// Reverse returns the backward index that undoes forward action a taken in
// parent.  Stop has no reverse and yields -1.
func (e *Env) Reverse(parent *molecule.Graph, a int) (int, error) {
	act, err := e.space.DecodeForward(a)
	if err != nil {
		return -1, err
	}
	switch act.Type {
	case AddNode:
		return e.space.Backward(Action{Type: RemoveNode, Node: parent.NumNodes()})
	case AddEdge:
		return e.space.Backward(Action{Type: RemoveEdge, U: act.U, V: act.V})
	default:
		return -1, nil
	}
}
