package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molgfn/pkg/errors"
)

func fragID(t *testing.T, v *Vocabulary, name string) int {
	t.Helper()
	id, err := v.ID(name)
	require.NoError(t, err)
	return id
}

func benzoicAcid(t *testing.T, v *Vocabulary) *Graph {
	g := &Graph{}
	a := g.AddNode(fragID(t, v, "benzene"), -1)
	g.AddNode(fragID(t, v, "carboxyl"), a)
	return g
}

func TestNewVocabulary_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frags []Fragment
	}{
		{"empty", nil},
		{"no_name", []Fragment{{Atoms: map[string]int{ElemC: 1}, Hydrogens: 4, Stems: 1}}},
		{"too_many_stems", []Fragment{{Name: "x", Atoms: map[string]int{ElemC: 1}, Hydrogens: 1, Stems: 2}}},
		{"unknown_element", []Fragment{{Name: "x", Atoms: map[string]int{"Xe": 1}, Hydrogens: 1, Stems: 1}}},
		{"duplicate", []Fragment{
			{Name: "x", Atoms: map[string]int{ElemC: 1}, Hydrogens: 4, Stems: 1},
			{Name: "x", Atoms: map[string]int{ElemC: 1}, Hydrogens: 4, Stems: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVocabulary(tt.frags)
			assert.Error(t, err)
		})
	}
}

func TestVocabulary_Lookup(t *testing.T) {
	v := DefaultVocabulary()
	assert.Equal(t, len(DefaultFragments()), v.Len())
	assert.Equal(t, 3, v.MaxStems())

	_, ok := v.Get(-1)
	assert.False(t, ok)
	_, ok = v.Get(v.Len())
	assert.False(t, ok)

	_, err := v.ID("unobtainium")
	assert.True(t, errors.IsCode(err, errors.CodeUnknownFragment))
}

func TestGraph_Mutations(t *testing.T) {
	g := &Graph{}
	a := g.AddNode(0, -1)
	b := g.AddNode(0, a)
	c := g.AddNode(0, b)
	g.AddEdge(a, c)

	assert.Equal(t, 3, g.NumNodes())
	assert.Equal(t, 3, g.NumEdges())
	assert.Equal(t, 1, g.Cycles())
	assert.False(t, g.IsBridge(a, b))
	assert.Equal(t, []int{1, 2}, g.Neighbors(a))

	g.RemoveEdge(c, a)
	assert.Equal(t, 0, g.Cycles())
	assert.True(t, g.IsBridge(a, b))

	g.RemoveNode(0)
	require.Equal(t, 2, g.NumNodes())
	assert.Equal(t, []Edge{{U: 0, V: 1}}, g.Edges)
	assert.True(t, g.Connected())

	clone := g.Clone()
	clone.AddNode(1, 0)
	assert.Equal(t, 2, g.NumNodes())
}

func TestGraph_CanonicalKey_PermutationInvariant(t *testing.T) {
	v := DefaultVocabulary()
	g1 := benzoicAcid(t, v)
	g2 := &Graph{Nodes: []int{g1.Nodes[1], g1.Nodes[0]}, Edges: []Edge{NewEdge(1, 0)}}
	assert.Equal(t, g1.CanonicalKey(), g2.CanonicalKey())

	other := &Graph{Nodes: []int{g1.Nodes[0], fragID(t, v, "hydroxyl")}, Edges: []Edge{{U: 0, V: 1}}}
	assert.NotEqual(t, g1.CanonicalKey(), other.CanonicalKey())
}

func TestGraph_Notation(t *testing.T) {
	v := DefaultVocabulary()
	assert.Equal(t, "[c1ccccc1][C(=O)O]", benzoicAcid(t, v).Notation(v))
	assert.Equal(t, "", (&Graph{}).Notation(v))
}

func TestDescriptorToolkit_Validate(t *testing.T) {
	v := DefaultVocabulary()
	tk := NewDescriptorToolkit(v)
	methyl := fragID(t, v, "methyl")
	hydroxyl := fragID(t, v, "hydroxyl")

	tests := []struct {
		name string
		g    *Graph
		ok   bool
	}{
		{"benzoic_acid", benzoicAcid(t, v), true},
		{"empty", &Graph{}, false},
		{"disconnected", &Graph{Nodes: []int{methyl, methyl}}, false},
		{"valence", &Graph{Nodes: []int{hydroxyl, methyl, methyl}, Edges: []Edge{{0, 1}, {0, 2}}}, false},
		{"duplicate_bond", &Graph{Nodes: []int{methyl, methyl}, Edges: []Edge{{0, 1}, {0, 1}}}, false},
		{"unknown_fragment", &Graph{Nodes: []int{999}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mg, err := tk.ToGraph(tt.g)
			if tt.ok {
				require.NoError(t, err)
				assert.Len(t, mg.NodeFeatures, tt.g.NumNodes())
				assert.Len(t, mg.EdgeIndex, 2*tt.g.NumEdges())
				return
			}
			assert.True(t, errors.IsCode(err, errors.CodeMoleculeInvalid), "got %v", err)
		})
	}
}

func TestDescriptors_BenzoicAcid(t *testing.T) {
	v := DefaultVocabulary()
	tk := NewDescriptorToolkit(v)
	g := benzoicAcid(t, v)

	mw, err := tk.MolWt(g)
	require.NoError(t, err)
	assert.InDelta(t, 122.123, mw, 1e-3)

	d, err := ComputeDescriptors(v, g)
	require.NoError(t, err)
	assert.Equal(t, 9, d.HeavyAtoms)
	assert.Equal(t, 6, d.Hydrogens)
	assert.Equal(t, 1, d.HBD)
	assert.Equal(t, 2, d.HBA)
	assert.Equal(t, 1, d.AromaticRings)

	qed, err := tk.QED(g)
	require.NoError(t, err)
	assert.Greater(t, qed, 0.0)
	assert.LessOrEqual(t, qed, 1.0)

	sa, err := tk.SA(g)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sa, 1.0)
	assert.LessOrEqual(t, sa, 10.0)

	_, err = tk.QED(&Graph{})
	assert.True(t, errors.IsCode(err, errors.CodeDescriptorFailed))
}

func TestQED_PenalizesAlerts(t *testing.T) {
	base := &Descriptors{MolWt: 300, LogP: 2.5, HBA: 4, HBD: 1, TPSA: 60, RotBonds: 3, AromaticRings: 2}
	alerted := *base
	alerted.Alerts = 2
	assert.Greater(t, QEDFromDescriptors(base), QEDFromDescriptors(&alerted))
}

func TestMorganFingerprint(t *testing.T) {
	v := DefaultVocabulary()
	g := benzoicAcid(t, v)

	fp1, err := MorganFingerprint(g, DefaultMorganRadius, DefaultMorganBits)
	require.NoError(t, err)
	fp2, err := MorganFingerprint(&Graph{Nodes: []int{g.Nodes[1], g.Nodes[0]}, Edges: []Edge{{0, 1}}}, 2, 1024)
	require.NoError(t, err)
	assert.Equal(t, fp1.Bits, fp2.Bits)
	assert.Equal(t, 1024, fp1.Length)
	assert.Positive(t, fp1.NumOnBits())
	assert.Len(t, fp1.Dense(), 1024)

	_, err = MorganFingerprint(&Graph{}, 2, 1024)
	assert.True(t, errors.IsCode(err, errors.CodeFingerprintFailed))
	_, err = MorganFingerprint(g, -1, 1024)
	assert.Error(t, err)
}

func TestTanimoto(t *testing.T) {
	v := DefaultVocabulary()
	a, err := MorganFingerprint(benzoicAcid(t, v), 2, 1024)
	require.NoError(t, err)
	phenol := &Graph{Nodes: []int{fragID(t, v, "benzene"), fragID(t, v, "hydroxyl")}, Edges: []Edge{{0, 1}}}
	b, err := MorganFingerprint(phenol, 2, 1024)
	require.NoError(t, err)

	same, err := Tanimoto(a, a)
	require.NoError(t, err)
	assert.Equal(t, 1.0, same)

	diff, err := Tanimoto(a, b)
	require.NoError(t, err)
	assert.Less(t, diff, 1.0)
	assert.GreaterOrEqual(t, diff, 0.0)

	_, err = Tanimoto(a, NewFingerprint(512, 2))
	assert.Error(t, err)

	mean, err := MeanPairwiseTanimoto([]*Fingerprint{a, a, a})
	require.NoError(t, err)
	assert.Equal(t, 1.0, mean)

	assert.Equal(t, "high", ClassifySimilarity(same))
	assert.Equal(t, "low", ClassifySimilarity(0.1))
}
