package evaluation

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/turtacn/molgfn/internal/domain/molecule"
	"github.com/turtacn/molgfn/pkg/errors"
)

const (
	fpRadius = 2
	fpBits   = 1024
)

type scored struct {
	g      *molecule.Graph
	reward float64
}

// TopK collects a validation pass laid out as nprefs consecutive blocks of
// repeats samples and reports, per block, the mean reward and the Tanimoto
// diversity of the k best distinct valid molecules.
type TopK struct {
	k, repeats, nprefs int
	tk                 molecule.Toolkit

	mu    sync.Mutex
	items []scored
}

// NewTopK builds the hook.  tk fingerprints molecules for diversity.
func NewTopK(k, repeats, nprefs int, tk molecule.Toolkit) (*TopK, error) {
	if k < 1 || repeats < 1 || nprefs < 1 {
		return nil, errors.InvalidParam("top-k sizes must be >= 1").WithDetailf("k=%d repeats=%d prefs=%d", k, repeats, nprefs)
	}
	if tk == nil {
		return nil, errors.InvalidParam("toolkit is required")
	}
	return &TopK{k: k, repeats: repeats, nprefs: nprefs, tk: tk}, nil
}

// Observe appends the batch.  Rewards are exp(log R); invalid molecules
// keep their slot with no reward.
func (h *TopK) Observe(b *Batch) (map[string]float64, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, g := range b.Graphs {
		s := scored{reward: math.Inf(-1)}
		if b.Valid[i] {
			s = scored{g: g, reward: math.Exp(b.LogRewards[i])}
		}
		h.items = append(h.items, s)
	}
	return nil, nil
}

// Finalize emits topk_rewards_<i> and topk_diversity_<i> for every
// preference block.
func (h *TopK) Finalize() (map[string]float64, error) {
	h.mu.Lock()
	items := h.items
	h.items = nil
	h.mu.Unlock()

	if want := h.repeats * h.nprefs; len(items) != want {
		return nil, errors.New(errors.CodeShapeMismatch, "validation pass size").
			WithDetailf("observed %d samples, want %d", len(items), want)
	}
	out := make(map[string]float64, 2*h.nprefs)
	for p := 0; p < h.nprefs; p++ {
		best := h.topDistinct(items[p*h.repeats : (p+1)*h.repeats])
		rew, div := 0.0, 0.0
		if len(best) > 0 {
			fps := make([]*molecule.Fingerprint, len(best))
			for i, s := range best {
				rew += s.reward / float64(len(best))
				fp, err := h.tk.Fingerprint(s.g, fpRadius, fpBits)
				if err != nil {
					return nil, errors.Wrap(err, errors.CodeFingerprintFailed, "top-k fingerprint")
				}
				fps[i] = fp
			}
			sim, err := molecule.MeanPairwiseTanimoto(fps)
			if err != nil {
				return nil, err
			}
			if len(fps) > 1 {
				div = 1 - sim
			}
		}
		out[fmt.Sprintf("topk_rewards_%d", p)] = rew
		out[fmt.Sprintf("topk_diversity_%d", p)] = div
	}
	return out, nil
}

func (h *TopK) topDistinct(block []scored) []scored {
	seen := map[string]bool{}
	var valid []scored
	for _, s := range block {
		if s.g == nil {
			continue
		}
		key := s.g.CanonicalKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		valid = append(valid, s)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].reward > valid[j].reward })
	if len(valid) > h.k {
		valid = valid[:h.k]
	}
	return valid
}
