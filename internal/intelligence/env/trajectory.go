package env

import (
	"golang.org/x/exp/rand"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/pkg/errors"
)

// Transition is one forward step.  Reverse is the backward index in Next
// that undoes Action, or -1 for Stop.
type Transition struct {
	State   *molecule.Graph `json:"state"`
	Action  int             `json:"action"`
	Next    *molecule.Graph `json:"next"`
	Reverse int             `json:"reverse"`
}

// Trajectory is a forward rollout.  A trajectory is Valid only when it ended
// with a legal Stop; Truncated trajectories hit the step limit first.
type Trajectory struct {
	Steps     []Transition    `json:"steps"`
	Graph     *molecule.Graph `json:"graph"`
	Valid     bool            `json:"valid"`
	Truncated bool            `json:"truncated,omitempty"`
	// CondIdx is the conditioning row the trajectory was sampled under.
	CondIdx int  `json:"cond_idx"`
	Offline bool `json:"offline,omitempty"`
}

// Len is the number of transitions.
func (t *Trajectory) Len() int { return len(t.Steps) }

// Stopped reports whether the last transition is Stop.
func (t *Trajectory) Stopped() bool {
	return len(t.Steps) > 0 && t.Steps[len(t.Steps)-1].Action == 0
}

// TrajectoryFromGraph rebuilds a forward trajectory ending in g: fragments are
// placed in a random connected order, each bonded to one already placed
// neighbour, then the remaining ring-closing bonds are added and the
// trajectory stops.  g must be a valid molecule within the node limit.
func (e *Env) TrajectoryFromGraph(g *molecule.Graph, rng *rand.Rand) (*Trajectory, error) {
	if g == nil || g.Empty() || !g.Connected() {
		return nil, errors.New(errors.CodeInvalidTrajectory, "offline graph is empty or disconnected")
	}
	if g.NumNodes() > e.space.N {
		return nil, errors.New(errors.CodeInvalidTrajectory, "offline graph exceeds max_nodes").
			WithDetailf("%d > %d", g.NumNodes(), e.space.N)
	}
	n := g.NumNodes()
	newIdx := make([]int, n)
	for i := range newIdx {
		newIdx[i] = -1
	}
	used := make(map[molecule.Edge]bool, g.NumEdges())

	tr := &Trajectory{}
	state := e.Reset()
	apply := func(a Action) error {
		idx, err := e.space.Forward(a)
		if err != nil {
			return err
		}
		rev, err := e.Reverse(state, idx)
		if err != nil {
			return err
		}
		next, err := e.Step(state, idx)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidTrajectory, "offline graph cannot be rebuilt")
		}
		tr.Steps = append(tr.Steps, Transition{State: state, Action: idx, Next: next, Reverse: rev})
		state = next
		return nil
	}

	start := rng.Intn(n)
	if err := apply(Action{Type: AddNode, Frag: g.Nodes[start]}); err != nil {
		return nil, err
	}
	newIdx[start] = 0
	for placed := 1; placed < n; placed++ {
		// Frontier edges join a placed node to an unplaced one.
		var frontier []molecule.Edge
		for _, ed := range g.Edges {
			if (newIdx[ed.U] >= 0) != (newIdx[ed.V] >= 0) {
				frontier = append(frontier, ed)
			}
		}
		ed := frontier[rng.Intn(len(frontier))]
		from, to := ed.U, ed.V
		if newIdx[from] < 0 {
			from, to = to, from
		}
		if err := apply(Action{Type: AddNode, Frag: g.Nodes[to], Node: newIdx[from]}); err != nil {
			return nil, err
		}
		newIdx[to] = placed
		used[ed] = true
	}

	var rest []molecule.Edge
	for _, ed := range g.Edges {
		if !used[ed] {
			rest = append(rest, ed)
		}
	}
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	for _, ed := range rest {
		m := molecule.NewEdge(newIdx[ed.U], newIdx[ed.V])
		if err := apply(Action{Type: AddEdge, U: m.U, V: m.V}); err != nil {
			return nil, err
		}
	}
	if err := apply(Action{Type: Stop}); err != nil {
		return nil, err
	}
	tr.Graph = state
	tr.Valid = true
	tr.Offline = true
	return tr, nil
}
