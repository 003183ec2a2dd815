// Package env is the fragment graph construction environment: a fixed,
// enumerable forward action space over partial molecules, its masks, the
// backward action space used by trajectory balance and the featurization
// of states for the policy model.
package env

import (
	"fmt"

	"github.com/turtacn/molgfn/pkg/errors"
)

// ActionType tags forward and backward actions.
type ActionType int

const (
	Stop ActionType = iota
	AddNode
	AddEdge
	RemoveNode
	RemoveEdge
)

// String implements fmt.Stringer.
func (t ActionType) String() string {
	switch t {
	case Stop:
		return "Stop"
	case AddNode:
		return "AddNode"
	case AddEdge:
		return "AddEdge"
	case RemoveNode:
		return "RemoveNode"
	case RemoveEdge:
		return "RemoveEdge"
	default:
		return "Unknown"
	}
}

// Action is a decoded action.  AddNode uses Frag and Node (the attachment
// point, ignored on the empty graph); AddEdge and RemoveEdge use U < V;
// RemoveNode uses Node.
type Action struct {
	Type ActionType `json:"type"`
	Frag int        `json:"frag,omitempty"`
	Node int        `json:"node,omitempty"`
	U    int        `json:"u,omitempty"`
	V    int        `json:"v,omitempty"`
}

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a.Type {
	case AddNode:
		return fmt.Sprintf("AddNode(%d@%d)", a.Frag, a.Node)
	case AddEdge, RemoveEdge:
		return fmt.Sprintf("%s(%d,%d)", a.Type, a.U, a.V)
	case RemoveNode:
		return fmt.Sprintf("RemoveNode(%d)", a.Node)
	default:
		return a.Type.String()
	}
}

// Space indexes actions for graphs of at most N nodes over F fragments.
//
//	forward:  [Stop | AddNode(attach, frag): N·F | AddEdge(u<v): N(N-1)/2]
//	backward: [RemoveNode(n): N | RemoveEdge(u<v): N(N-1)/2]
type Space struct {
	N int
	F int
}

// NumPairs is the number of unordered node pairs.
func (s Space) NumPairs() int { return s.N * (s.N - 1) / 2 }

// NumForward is the size of the forward action space.
func (s Space) NumForward() int { return 1 + s.N*s.F + s.NumPairs() }

// NumBackward is the size of the backward action space.
func (s Space) NumBackward() int { return s.N + s.NumPairs() }

func (s Space) pair(u, v int) int {
	return u*(2*s.N-u-1)/2 + (v - u - 1)
}

func (s Space) unpair(p int) (int, int) {
	u := 0
	for p >= s.N-u-1 {
		p -= s.N - u - 1
		u++
	}
	return u, u + 1 + p
}

// Forward returns the forward index of a.
func (s Space) Forward(a Action) (int, error) {
	switch a.Type {
	case Stop:
		return 0, nil
	case AddNode:
		if a.Frag < 0 || a.Frag >= s.F || a.Node < 0 || a.Node >= s.N {
			return -1, errors.New(errors.CodeActionOutOfRange, "add-node action out of range").WithDetail(a.String())
		}
		return 1 + a.Node*s.F + a.Frag, nil
	case AddEdge:
		if a.U < 0 || a.U >= a.V || a.V >= s.N {
			return -1, errors.New(errors.CodeActionOutOfRange, "add-edge action out of range").WithDetail(a.String())
		}
		return 1 + s.N*s.F + s.pair(a.U, a.V), nil
	default:
		return -1, errors.New(errors.CodeActionOutOfRange, "not a forward action").WithDetail(a.String())
	}
}

// DecodeForward maps a forward index to its action.
func (s Space) DecodeForward(i int) (Action, error) {
	switch {
	case i == 0:
		return Action{Type: Stop}, nil
	case i > 0 && i <= s.N*s.F:
		i--
		return Action{Type: AddNode, Node: i / s.F, Frag: i % s.F}, nil
	case i > s.N*s.F && i < s.NumForward():
		u, v := s.unpair(i - 1 - s.N*s.F)
		return Action{Type: AddEdge, U: u, V: v}, nil
	default:
		return Action{}, errors.New(errors.CodeActionOutOfRange, "forward index out of range").WithDetailf("%d", i)
	}
}

// Backward returns the backward index of a.
func (s Space) Backward(a Action) (int, error) {
	switch a.Type {
	case RemoveNode:
		if a.Node < 0 || a.Node >= s.N {
			return -1, errors.New(errors.CodeActionOutOfRange, "remove-node action out of range").WithDetail(a.String())
		}
		return a.Node, nil
	case RemoveEdge:
		if a.U < 0 || a.U >= a.V || a.V >= s.N {
			return -1, errors.New(errors.CodeActionOutOfRange, "remove-edge action out of range").WithDetail(a.String())
		}
		return s.N + s.pair(a.U, a.V), nil
	default:
		return -1, errors.New(errors.CodeActionOutOfRange, "not a backward action").WithDetail(a.String())
	}
}

// DecodeBackward maps a backward index to its action.
func (s Space) DecodeBackward(i int) (Action, error) {
	switch {
	case i >= 0 && i < s.N:
		return Action{Type: RemoveNode, Node: i}, nil
	case i >= s.N && i < s.NumBackward():
		u, v := s.unpair(i - s.N)
		return Action{Type: RemoveEdge, U: u, V: v}, nil
	default:
		return Action{}, errors.New(errors.CodeActionOutOfRange, "backward index out of range").WithDetailf("%d", i)
	}
}
