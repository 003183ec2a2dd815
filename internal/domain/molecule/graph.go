package molecule

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Edge is an undirected inter-fragment bond with U < V.
type Edge struct {
	U int `json:"u"`
	V int `json:"v"`
}

// NewEdge orders the endpoints.
func NewEdge(u, v int) Edge {
	if u > v {
		u, v = v, u
	}
	return Edge{U: u, V: v}
}

// Graph is a (partial) molecule: fragment ids on the nodes and single bonds
// between fragment stems on the edges.
type Graph struct {
	Nodes []int  `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	return &Graph{
		Nodes: append([]int(nil), g.Nodes...),
		Edges: append([]Edge(nil), g.Edges...),
	}
}

// NumNodes returns the number of fragments.
func (g *Graph) NumNodes() int { return len(g.Nodes) }

// NumEdges returns the number of inter-fragment bonds.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// Empty reports whether the graph has no fragment.
func (g *Graph) Empty() bool { return len(g.Nodes) == 0 }

// Degree returns the number of bonds at node n.
func (g *Graph) Degree(n int) int {
	d := 0
	for _, e := range g.Edges {
		if e.U == n || e.V == n {
			d++
		}
	}
	return d
}

// HasEdge reports whether u and v are bonded.
func (g *Graph) HasEdge(u, v int) bool {
	want := NewEdge(u, v)
	for _, e := range g.Edges {
		if e == want {
			return true
		}
	}
	return false
}

// Neighbors returns the nodes bonded to n in ascending order.
func (g *Graph) Neighbors(n int) []int {
	var out []int
	for _, e := range g.Edges {
		switch n {
		case e.U:
			out = append(out, e.V)
		case e.V:
			out = append(out, e.U)
		}
	}
	sort.Ints(out)
	return out
}

// AddNode appends fragment frag and, when attach >= 0, bonds it to attach.
// It returns the new node index.
func (g *Graph) AddNode(frag, attach int) int {
	g.Nodes = append(g.Nodes, frag)
	n := len(g.Nodes) - 1
	if attach >= 0 {
		g.Edges = append(g.Edges, NewEdge(attach, n))
	}
	return n
}

// AddEdge bonds u and v.
func (g *Graph) AddEdge(u, v int) {
	g.Edges = append(g.Edges, NewEdge(u, v))
}

// RemoveEdge drops the bond between u and v if present.
func (g *Graph) RemoveEdge(u, v int) {
	want := NewEdge(u, v)
	for i, e := range g.Edges {
		if e == want {
			g.Edges = append(g.Edges[:i], g.Edges[i+1:]...)
			return
		}
	}
}

// RemoveNode drops node n with its bonds and shifts higher indices down.
func (g *Graph) RemoveNode(n int) {
	if n < 0 || n >= len(g.Nodes) {
		return
	}
	g.Nodes = append(g.Nodes[:n], g.Nodes[n+1:]...)
	kept := g.Edges[:0]
	for _, e := range g.Edges {
		if e.U == n || e.V == n {
			continue
		}
		if e.U > n {
			e.U--
		}
		if e.V > n {
			e.V--
		}
		kept = append(kept, e)
	}
	g.Edges = kept
}

// Connected reports whether every node is reachable from node 0.  The empty
// graph is not connected.
func (g *Graph) Connected() bool {
	if len(g.Nodes) == 0 {
		return false
	}
	return g.reachableFrom(0, Edge{U: -1, V: -1}) == len(g.Nodes)
}

// IsBridge reports whether removing the bond (u, v) would disconnect the graph.
func (g *Graph) IsBridge(u, v int) bool {
	return g.reachableFrom(u, NewEdge(u, v)) < len(g.Nodes)
}

func (g *Graph) reachableFrom(start int, skip Edge) int {
	seen := make([]bool, len(g.Nodes))
	stack := []int{start}
	seen[start] = true
	count := 1
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Edges {
			if e == skip {
				continue
			}
			var m int
			switch n {
			case e.U:
				m = e.V
			case e.V:
				m = e.U
			default:
				continue
			}
			if !seen[m] {
				seen[m] = true
				count++
				stack = append(stack, m)
			}
		}
	}
	return count
}

// Cycles returns the number of independent inter-fragment cycles of a
// connected graph (edges - nodes + 1).
func (g *Graph) Cycles() int {
	if len(g.Nodes) == 0 {
		return 0
	}
	c := len(g.Edges) - len(g.Nodes) + 1
	if c < 0 {
		return 0
	}
	return c
}

// wlLabels runs iterations of Weisfeiler-Lehman label refinement starting
// from the fragment ids.
func (g *Graph) wlLabels(iterations int) [][]string {
	labels := make([]string, len(g.Nodes))
	for i, f := range g.Nodes {
		labels[i] = strconv.Itoa(f)
	}
	rounds := [][]string{append([]string(nil), labels...)}
	for it := 0; it < iterations; it++ {
		next := make([]string, len(labels))
		for n := range g.Nodes {
			nb := g.Neighbors(n)
			parts := make([]string, len(nb))
			for i, m := range nb {
				parts[i] = labels[m]
			}
			sort.Strings(parts)
			sum := sha256.Sum256([]byte(labels[n] + "(" + strings.Join(parts, ",") + ")"))
			next[n] = hex.EncodeToString(sum[:8])
		}
		labels = next
		rounds = append(rounds, append([]string(nil), labels...))
	}
	return rounds
}

// CanonicalKey returns an identifier that is invariant to node ordering.
// Isomorphic graphs always share a key; distinct graphs collide only in
// WL-indistinguishable corner cases.
func (g *Graph) CanonicalKey() string {
	rounds := g.wlLabels(3)
	h := sha256.New()
	for _, r := range rounds {
		sorted := append([]string(nil), r...)
		sort.Strings(sorted)
		h.Write([]byte(strings.Join(sorted, "|")))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "e%d", len(g.Edges))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Notation renders the graph as a fragment-level SMILES-like string: a DFS
// over fragment SMILES with branches in parentheses and ring-closing bonds
// listed after a '|'.
func (g *Graph) Notation(v *Vocabulary) string {
	if len(g.Nodes) == 0 {
		return ""
	}
	name := func(n int) string {
		if f, ok := v.Get(g.Nodes[n]); ok {
			return "[" + f.SMILES + "]"
		}
		return "[?]"
	}
	seen := make([]bool, len(g.Nodes))
	used := make(map[Edge]bool)
	var sb strings.Builder
	var walk func(n int)
	walk = func(n int) {
		seen[n] = true
		sb.WriteString(name(n))
		var children []int
		for _, m := range g.Neighbors(n) {
			if !seen[m] {
				children = append(children, m)
			}
		}
		for i, m := range children {
			if seen[m] {
				continue
			}
			used[NewEdge(n, m)] = true
			if i < len(children)-1 {
				sb.WriteString("(")
				walk(m)
				sb.WriteString(")")
			} else {
				walk(m)
			}
		}
	}
	for n := range g.Nodes {
		if !seen[n] {
			if n > 0 {
				sb.WriteString(".")
			}
			walk(n)
		}
	}
	var closures []string
	for _, e := range g.Edges {
		if !used[e] {
			closures = append(closures, fmt.Sprintf("%d-%d", e.U, e.V))
		}
	}
	if len(closures) > 0 {
		sb.WriteString("|")
		sb.WriteString(strings.Join(closures, ","))
	}
	return sb.String()
}
