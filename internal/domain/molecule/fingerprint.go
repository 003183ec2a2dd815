package molecule

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/turtacn/molgfn/pkg/errors"
)

// Morgan fingerprint defaults used by the partition classifier.
const (
	DefaultMorganRadius = 2
	DefaultMorganBits   = 1024
)

// Fingerprint is a packed bit vector.
type Fingerprint struct {
	Bits   []byte `json:"bits"`
	Length int    `json:"length"`
	Radius int    `json:"radius"`
}

// NewFingerprint allocates an all-zero fingerprint of nBits bits.
func NewFingerprint(nBits, radius int) *Fingerprint {
	return &Fingerprint{Bits: make([]byte, (nBits+7)/8), Length: nBits, Radius: radius}
}

// SetBit sets bit i.
func (fp *Fingerprint) SetBit(i int) {
	fp.Bits[i/8] |= 1 << uint(i%8)
}

// GetBit reports whether bit i is set.
func (fp *Fingerprint) GetBit(i int) bool {
	if i < 0 || i >= fp.Length {
		return false
	}
	return fp.Bits[i/8]&(1<<uint(i%8)) != 0
}

// NumOnBits returns the population count.
func (fp *Fingerprint) NumOnBits() int {
	n := 0
	for _, b := range fp.Bits {
		n += bits.OnesCount8(b)
	}
	return n
}

// Dense expands the fingerprint to a 0/1 float vector.
func (fp *Fingerprint) Dense() []float64 {
	out := make([]float64, fp.Length)
	for i := range out {
		if fp.GetBit(i) {
			out[i] = 1
		}
	}
	return out
}

// MorganFingerprint computes an extended-connectivity fingerprint over the
// fragment graph.  Node identifiers start from (fragment, degree) and are
// refined radius times with the sorted identifiers of the neighbours; every
// identifier at every iteration sets one bit.
func MorganFingerprint(g *Graph, radius, nBits int) (*Fingerprint, error) {
	if g == nil || g.Empty() {
		return nil, errors.New(errors.CodeFingerprintFailed, "cannot fingerprint an empty molecule")
	}
	if nBits < 8 {
		return nil, errors.InvalidParam("fingerprint length must be >= 8").WithDetailf("%d", nBits)
	}
	if radius < 0 {
		return nil, errors.InvalidParam("radius must be >= 0").WithDetailf("%d", radius)
	}
	fp := NewFingerprint(nBits, radius)
	ids := make([]uint64, len(g.Nodes))
	for n, frag := range g.Nodes {
		ids[n] = hashInvariant(fmt.Sprintf("f%d:d%d", frag, g.Degree(n)))
		fp.SetBit(int(ids[n] % uint64(nBits)))
	}
	for r := 1; r <= radius; r++ {
		next := make([]uint64, len(ids))
		for n := range g.Nodes {
			nb := g.Neighbors(n)
			env := make([]string, len(nb))
			for i, m := range nb {
				env[i] = fmt.Sprintf("%x", ids[m])
			}
			sort.Strings(env)
			next[n] = hashInvariant(fmt.Sprintf("%d:%x:%s", r, ids[n], strings.Join(env, ",")))
			fp.SetBit(int(next[n] % uint64(nBits)))
		}
		ids = next
	}
	return fp, nil
}

func hashInvariant(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}
