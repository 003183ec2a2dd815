package molecule

import (
	"math"

	"github.com/turtacn/molgfn/pkg/errors"
)

// MolecularGraph is the validated, featurized form of a molecule consumed
// by proxies.  Edges appear in both directions in EdgeIndex.
type MolecularGraph struct {
	Key            string       `json:"key"`
	Notation       string       `json:"notation"`
	Fragments      []int        `json:"fragments"`
	NodeFeatures   [][]float32  `json:"node_features"`
	EdgeIndex      [][2]int     `json:"edge_index"`
	GlobalFeatures []float32    `json:"global_features"`
	Descriptors    *Descriptors `json:"descriptors"`
}

// Toolkit is the cheminformatics surface used by rewards and partitioning.
type Toolkit interface {
	// ToGraph validates a molecule and converts it; invalid molecules return
	// an error with code MOL_001.
	ToGraph(g *Graph) (*MolecularGraph, error)
	MolWt(g *Graph) (float64, error)
	QED(g *Graph) (float64, error)
	SA(g *Graph) (float64, error)
	Fingerprint(g *Graph, radius, nBits int) (*Fingerprint, error)
	Vocabulary() *Vocabulary
}

// DescriptorToolkit implements Toolkit with fragment-additive descriptors.
type DescriptorToolkit struct {
	vocab *Vocabulary
}

// NewDescriptorToolkit returns a toolkit over vocab (the default vocabulary
// when nil).
func NewDescriptorToolkit(vocab *Vocabulary) *DescriptorToolkit {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &DescriptorToolkit{vocab: vocab}
}

// Vocabulary returns the fragment vocabulary.
func (t *DescriptorToolkit) Vocabulary() *Vocabulary { return t.vocab }

// Validate reports why g is not a complete molecule: it must be non-empty and
// connected, reference known fragments, have no self or duplicate bonds and
// respect every fragment's stem count.
func (t *DescriptorToolkit) Validate(g *Graph) error {
	if g == nil || g.Empty() {
		return errors.New(errors.CodeMoleculeInvalid, "molecule is empty")
	}
	seen := make(map[Edge]bool, len(g.Edges))
	for _, e := range g.Edges {
		if e.U == e.V || e.U < 0 || e.V >= len(g.Nodes) || e.U > e.V {
			return errors.New(errors.CodeMoleculeInvalid, "malformed bond").WithDetailf("%d-%d", e.U, e.V)
		}
		if seen[e] {
			return errors.New(errors.CodeMoleculeInvalid, "duplicate bond").WithDetailf("%d-%d", e.U, e.V)
		}
		seen[e] = true
	}
	for n, id := range g.Nodes {
		f, ok := t.vocab.Get(id)
		if !ok {
			return errors.New(errors.CodeMoleculeInvalid, "unknown fragment").WithDetailf("node %d: %d", n, id)
		}
		if g.Degree(n) > f.Stems {
			return errors.New(errors.CodeMoleculeInvalid, "stem valence exceeded").WithDetailf("node %d (%s)", n, f.Name)
		}
	}
	if !g.Connected() {
		return errors.New(errors.CodeMoleculeInvalid, "molecule is disconnected")
	}
	return nil
}

// ToGraph validates and featurizes g.
func (t *DescriptorToolkit) ToGraph(g *Graph) (*MolecularGraph, error) {
	if err := t.Validate(g); err != nil {
		return nil, err
	}
	d, err := ComputeDescriptors(t.vocab, g)
	if err != nil {
		return nil, err
	}
	nf := t.vocab.Len()
	nodes := make([][]float32, len(g.Nodes))
	for n, id := range g.Nodes {
		f, _ := t.vocab.Get(id)
		row := make([]float32, nf+3)
		row[id] = 1
		deg := g.Degree(n)
		row[nf] = float32(deg) / 4
		row[nf+1] = float32(f.Stems-deg) / 4
		if f.AromaticRings > 0 {
			row[nf+2] = 1
		}
		nodes[n] = row
	}
	edges := make([][2]int, 0, 2*len(g.Edges))
	for _, e := range g.Edges {
		edges = append(edges, [2]int{e.U, e.V}, [2]int{e.V, e.U})
	}
	return &MolecularGraph{
		Key:          g.CanonicalKey(),
		Notation:     g.Notation(t.vocab),
		Fragments:    append([]int(nil), g.Nodes...),
		NodeFeatures: nodes,
		EdgeIndex:    edges,
		GlobalFeatures: []float32{
			float32(d.HeavyAtoms) / 50,
			float32(d.MolWt) / 1000,
			float32(d.LogP) / 5,
			float32(d.TPSA) / 150,
			float32(d.AromaticRings) / 4,
			float32(math.Log1p(float64(len(g.Nodes)))) / 3,
		},
		Descriptors: d,
	}, nil
}

// MolWt returns the average molecular weight.
func (t *DescriptorToolkit) MolWt(g *Graph) (float64, error) {
	d, err := ComputeDescriptors(t.vocab, g)
	if err != nil {
		return 0, err
	}
	return d.MolWt, nil
}

// QED returns the quantitative estimate of drug-likeness.
func (t *DescriptorToolkit) QED(g *Graph) (float64, error) {
	d, err := ComputeDescriptors(t.vocab, g)
	if err != nil {
		return 0, err
	}
	return QEDFromDescriptors(d), nil
}

// SA returns the synthetic accessibility score in [1, 10].
func (t *DescriptorToolkit) SA(g *Graph) (float64, error) {
	d, err := ComputeDescriptors(t.vocab, g)
	if err != nil {
		return 0, err
	}
	return SAFromDescriptors(t.vocab, g, d), nil
}

// Fingerprint returns the Morgan fingerprint of g.
func (t *DescriptorToolkit) Fingerprint(g *Graph, radius, nBits int) (*Fingerprint, error) {
	return MorganFingerprint(g, radius, nBits)
}
