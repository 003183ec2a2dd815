// Package molecule holds the fragment-level molecular domain: the fragment
// vocabulary, the fragment graph built by the environment, descriptor
// computation, circular fingerprints and Tanimoto similarity.
package molecule

import (
	"github.com/turtacn/molgfn/pkg/errors"
)

// Element symbols tracked in fragment compositions.
const (
	ElemC  = "C"
	ElemN  = "N"
	ElemO  = "O"
	ElemS  = "S"
	ElemF  = "F"
	ElemCl = "Cl"
)

// atomicMass holds standard atomic weights (IUPAC, abridged).
var atomicMass = map[string]float64{
	ElemC:  12.011,
	ElemN:  14.007,
	ElemO:  15.999,
	ElemS:  32.06,
	ElemF:  18.998,
	ElemCl: 35.45,
}

const hydrogenMass = 1.008

// Fragment is one building block of the vocabulary.  Counts describe the
// fragment with every stem capped by hydrogen; each bond formed at a stem
// removes one hydrogen on each side.
type Fragment struct {
	Name   string         `json:"name"`
	SMILES string         `json:"smiles"`
	Atoms  map[string]int `json:"atoms"`
	// Hydrogens counts implicit hydrogens of the capped fragment.
	Hydrogens int `json:"hydrogens"`
	// Stems is the maximum number of bonds to other fragments.
	Stems         int     `json:"stems"`
	Rings         int     `json:"rings"`
	AromaticRings int     `json:"aromatic_rings"`
	HBA           int     `json:"hba"`
	HBD           int     `json:"hbd"`
	TPSA          float64 `json:"tpsa"`
	LogP          float64 `json:"logp"`
	RotBonds      int     `json:"rot_bonds"`
	Alerts        int     `json:"alerts"`
	// Rarity in [0, 1] grows with how uncommon the fragment is in purchasable
	// compounds; it feeds the synthetic accessibility estimate.
	Rarity float64 `json:"rarity"`
}

// HeavyAtoms returns the number of non-hydrogen atoms.
func (f *Fragment) HeavyAtoms() int {
	n := 0
	for _, c := range f.Atoms {
		n += c
	}
	return n
}

// Mass returns the capped fragment's molecular weight.
func (f *Fragment) Mass() float64 {
	m := float64(f.Hydrogens) * hydrogenMass
	for el, c := range f.Atoms {
		m += atomicMass[el] * float64(c)
	}
	return m
}

// Vocabulary is an ordered fragment list.  Fragment ids are indices.
type Vocabulary struct {
	fragments []Fragment
	byName    map[string]int
}

// NewVocabulary validates and indexes fragments.
func NewVocabulary(fragments []Fragment) (*Vocabulary, error) {
	if len(fragments) == 0 {
		return nil, errors.InvalidParam("fragment vocabulary is empty")
	}
	v := &Vocabulary{fragments: fragments, byName: make(map[string]int, len(fragments))}
	for i, f := range fragments {
		if f.Name == "" {
			return nil, errors.InvalidParam("fragment without a name").WithDetailf("index %d", i)
		}
		if f.Stems < 1 || f.Stems > f.Hydrogens {
			return nil, errors.InvalidParam("fragment stems must be in [1, hydrogens]").WithDetail(f.Name)
		}
		if _, dup := v.byName[f.Name]; dup {
			return nil, errors.InvalidParam("duplicate fragment name").WithDetail(f.Name)
		}
		for el := range f.Atoms {
			if _, ok := atomicMass[el]; !ok {
				return nil, errors.InvalidParam("unknown element").WithDetailf("%s in %s", el, f.Name)
			}
		}
		v.byName[f.Name] = i
	}
	return v, nil
}

// Len returns the number of fragments.
func (v *Vocabulary) Len() int { return len(v.fragments) }

// Get returns fragment id.  ok is false for out-of-range ids.
func (v *Vocabulary) Get(id int) (*Fragment, bool) {
	if id < 0 || id >= len(v.fragments) {
		return nil, false
	}
	return &v.fragments[id], true
}

// ID looks a fragment up by name.
func (v *Vocabulary) ID(name string) (int, error) {
	id, ok := v.byName[name]
	if !ok {
		return -1, errors.New(errors.CodeUnknownFragment, "unknown fragment").WithDetail(name)
	}
	return id, nil
}

// MaxStems returns the largest stem count in the vocabulary.
func (v *Vocabulary) MaxStems() int {
	m := 0
	for i := range v.fragments {
		if v.fragments[i].Stems > m {
			m = v.fragments[i].Stems
		}
	}
	return m
}

// DefaultFragments is the built-in vocabulary.  Descriptor contributions are
// group-additive approximations (Crippen logP, Ertl TPSA).
func DefaultFragments() []Fragment {
	return []Fragment{
		{Name: "methyl", SMILES: "C", Atoms: map[string]int{ElemC: 1}, Hydrogens: 4, Stems: 3, LogP: 0.50},
		{Name: "hydroxyl", SMILES: "O", Atoms: map[string]int{ElemO: 1}, Hydrogens: 2, Stems: 1, HBA: 1, HBD: 1, TPSA: 20.23, LogP: -0.30, Rarity: 0.1},
		{Name: "amine", SMILES: "N", Atoms: map[string]int{ElemN: 1}, Hydrogens: 3, Stems: 2, HBA: 1, HBD: 1, TPSA: 26.02, LogP: -1.02, Rarity: 0.1},
		{Name: "carbonyl", SMILES: "C=O", Atoms: map[string]int{ElemC: 1, ElemO: 1}, Hydrogens: 2, Stems: 2, HBA: 1, TPSA: 17.07, LogP: -0.10, Rarity: 0.1},
		{Name: "amide", SMILES: "NC=O", Atoms: map[string]int{ElemC: 1, ElemN: 1, ElemO: 1}, Hydrogens: 3, Stems: 2, HBA: 1, HBD: 1, TPSA: 43.09, LogP: -0.90, RotBonds: 1, Rarity: 0.2},
		{Name: "carboxyl", SMILES: "C(=O)O", Atoms: map[string]int{ElemC: 1, ElemO: 2}, Hydrogens: 2, Stems: 1, HBA: 2, HBD: 1, TPSA: 37.30, LogP: 0.10, RotBonds: 1, Rarity: 0.2},
		{Name: "nitrile", SMILES: "C#N", Atoms: map[string]int{ElemC: 1, ElemN: 1}, Hydrogens: 1, Stems: 1, HBA: 1, TPSA: 23.79, LogP: 0.10, Rarity: 0.4},
		{Name: "fluoro", SMILES: "F", Atoms: map[string]int{ElemF: 1}, Hydrogens: 1, Stems: 1, LogP: 0.40, Rarity: 0.2},
		{Name: "chloro", SMILES: "Cl", Atoms: map[string]int{ElemCl: 1}, Hydrogens: 1, Stems: 1, LogP: 0.70, Rarity: 0.3},
		{Name: "thioether", SMILES: "S", Atoms: map[string]int{ElemS: 1}, Hydrogens: 2, Stems: 2, LogP: 0.60, Rarity: 0.5},
		{Name: "benzene", SMILES: "c1ccccc1", Atoms: map[string]int{ElemC: 6}, Hydrogens: 6, Stems: 3, Rings: 1, AromaticRings: 1, LogP: 1.69},
		{Name: "pyridine", SMILES: "c1ccncc1", Atoms: map[string]int{ElemC: 5, ElemN: 1}, Hydrogens: 5, Stems: 3, Rings: 1, AromaticRings: 1, HBA: 1, TPSA: 12.89, LogP: 1.08, Rarity: 0.3},
		{Name: "furan", SMILES: "c1ccoc1", Atoms: map[string]int{ElemC: 4, ElemO: 1}, Hydrogens: 4, Stems: 2, Rings: 1, AromaticRings: 1, HBA: 1, TPSA: 13.14, LogP: 1.28, Rarity: 0.6},
		{Name: "thiophene", SMILES: "c1ccsc1", Atoms: map[string]int{ElemC: 4, ElemS: 1}, Hydrogens: 4, Stems: 2, Rings: 1, AromaticRings: 1, HBA: 1, LogP: 1.75, Rarity: 0.5},
		{Name: "imidazole", SMILES: "c1cnc[nH]1", Atoms: map[string]int{ElemC: 3, ElemN: 2}, Hydrogens: 4, Stems: 2, Rings: 1, AromaticRings: 1, HBA: 1, HBD: 1, TPSA: 28.68, LogP: 0.36, Rarity: 0.6},
		{Name: "cyclohexane", SMILES: "C1CCCCC1", Atoms: map[string]int{ElemC: 6}, Hydrogens: 12, Stems: 3, Rings: 1, LogP: 2.34, Rarity: 0.3},
		{Name: "piperidine", SMILES: "C1CCNCC1", Atoms: map[string]int{ElemC: 5, ElemN: 1}, Hydrogens: 11, Stems: 3, Rings: 1, HBA: 1, HBD: 1, TPSA: 12.03, LogP: 0.85, Rarity: 0.4},
		{Name: "morpholine", SMILES: "C1COCCN1", Atoms: map[string]int{ElemC: 4, ElemN: 1, ElemO: 1}, Hydrogens: 9, Stems: 2, Rings: 1, HBA: 2, HBD: 1, TPSA: 21.26, LogP: -0.44, Rarity: 0.5},
		{Name: "nitro", SMILES: "[N+](=O)[O-]", Atoms: map[string]int{ElemN: 1, ElemO: 2}, Hydrogens: 1, Stems: 1, HBA: 2, TPSA: 43.14, LogP: -0.10, Alerts: 1, Rarity: 0.7},
	}
}

// DefaultVocabulary builds the built-in vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := NewVocabulary(DefaultFragments())
	if err != nil {
		panic(err)
	}
	return v
}
