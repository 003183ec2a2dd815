package molecule

import (
	"math"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Descriptors are molecule-level properties aggregated from fragment
// contributions and the inter-fragment bonds.
type Descriptors struct {
	HeavyAtoms    int     `json:"heavy_atoms"`
	Hydrogens     int     `json:"hydrogens"`
	MolWt         float64 `json:"mol_wt"`
	LogP          float64 `json:"logp"`
	HBA           int     `json:"hba"`
	HBD           int     `json:"hbd"`
	TPSA          float64 `json:"tpsa"`
	RotBonds      int     `json:"rot_bonds"`
	AromaticRings int     `json:"aromatic_rings"`
	Rings         int     `json:"rings"`
	Alerts        int     `json:"alerts"`
}

// ComputeDescriptors aggregates the descriptors of a valid graph.
func ComputeDescriptors(v *Vocabulary, g *Graph) (*Descriptors, error) {
	if g.Empty() {
		return nil, errors.New(errors.CodeDescriptorFailed, "empty molecule has no descriptors")
	}
	d := &Descriptors{}
	for n, id := range g.Nodes {
		f, ok := v.Get(id)
		if !ok {
			return nil, errors.New(errors.CodeUnknownFragment, "unknown fragment id").WithDetailf("node %d: %d", n, id)
		}
		d.HeavyAtoms += f.HeavyAtoms()
		d.Hydrogens += f.Hydrogens
		d.MolWt += f.Mass()
		d.LogP += f.LogP
		d.HBA += f.HBA
		d.TPSA += f.TPSA
		d.RotBonds += f.RotBonds
		d.AromaticRings += f.AromaticRings
		d.Rings += f.Rings
		d.Alerts += f.Alerts
		// A donor keeps its hydrogen only while a non-stem hydrogen is left.
		hbd := f.HBD
		if spare := f.Hydrogens - g.Degree(n); spare < hbd {
			hbd = spare
		}
		if hbd > 0 {
			d.HBD += hbd
		}
	}
	// Each bond replaces one hydrogen on each side.
	d.Hydrogens -= 2 * len(g.Edges)
	d.MolWt -= 2 * hydrogenMass * float64(len(g.Edges))
	for _, e := range g.Edges {
		if g.Degree(e.U) > 1 && g.Degree(e.V) > 1 {
			d.RotBonds++
		}
	}
	d.Rings += g.Cycles()
	if d.Hydrogens < 0 || math.IsNaN(d.MolWt) {
		return nil, errors.New(errors.CodeDescriptorFailed, "inconsistent hydrogen count")
	}
	return d, nil
}

// adsParams are the asymmetric double sigmoid parameters of one QED property.
type adsParams struct {
	a, b, c, d, e, f, dmax float64
}

// QED property order: MW, ALOGP, HBA, HBD, PSA, ROTB, AROM, ALERTS.
var qedParams = [8]adsParams{
	{2.817065973, 392.5754953, 290.7489764, 2.419764353, 49.22325677, 65.37051707, 104.9805561},
	{3.172690585, 137.8624751, 2.534937431, 4.581497897, 0.822739154, 0.576295591, 131.3186604},
	{2.948620388, 160.4605972, 3.615294657, 4.435986202, 0.290141953, 1.300669958, 148.7763046},
	{1.618662227, 1010.051101, 0.985094388, 0.000000001, 0.713820843, 0.920922555, 258.1632616},
	{1.876861559, 125.2232657, 62.90773554, 87.83366614, 12.01999824, 28.51324732, 104.5686167},
	{0.010000000, 272.4121427, 2.558379970, 1.565547684, 1.271567166, 2.758063707, 105.4420403},
	{3.217788970, 957.7374108, 2.274627939, 0.000000001, 1.317690384, 0.375760881, 312.3372610},
	{0.010000000, 1199.094025, -0.09002883, 0.000000001, 0.185904477, 0.875193782, 417.7253140},
}

// qedWeights are the mean weights of Bickerton et al.
var qedWeights = [8]float64{0.66, 0.46, 0.05, 0.61, 0.06, 0.65, 0.48, 0.95}

func ads(x float64, p adsParams) float64 {
	exp1 := 1 + math.Exp(-(x-p.c+p.d/2)/p.e)
	exp2 := 1 + math.Exp(-(x-p.c-p.d/2)/p.f)
	return (p.a + p.b/exp1*(1-1/exp2)) / p.dmax
}

// QEDFromDescriptors computes the weighted quantitative estimate of
// drug-likeness in (0, 1].
func QEDFromDescriptors(d *Descriptors) float64 {
	props := [8]float64{
		d.MolWt, d.LogP, float64(d.HBA), float64(d.HBD),
		d.TPSA, float64(d.RotBonds), float64(d.AromaticRings), float64(d.Alerts),
	}
	var num, den float64
	for i, x := range props {
		v := ads(x, qedParams[i])
		if v < 1e-12 {
			v = 1e-12
		}
		num += qedWeights[i] * math.Log(v)
		den += qedWeights[i]
	}
	return math.Exp(num / den)
}

// SAFromDescriptors estimates synthetic accessibility on the usual 1 (easy)
// to 10 (hard) scale from fragment rarity, size and ring complexity.
func SAFromDescriptors(v *Vocabulary, g *Graph, d *Descriptors) float64 {
	if g.Empty() {
		return 10
	}
	var rarity float64
	for _, id := range g.Nodes {
		if f, ok := v.Get(id); ok {
			rarity += f.Rarity
		}
	}
	rarity /= float64(len(g.Nodes))
	n := float64(d.HeavyAtoms)
	size := math.Pow(n, 1.005) - n
	macro := 0.0
	if c := g.Cycles(); c > 0 {
		macro = math.Log1p(float64(c)) * 1.5
	}
	branching := 0.0
	for i := range g.Nodes {
		if deg := g.Degree(i); deg > 2 {
			branching += 0.25 * float64(deg-2)
		}
	}
	sa := 1 + 3*rarity + size + macro + branching + 0.1*float64(len(g.Nodes)) + 0.5*float64(d.Alerts)
	return math.Max(1, math.Min(10, sa))
}
