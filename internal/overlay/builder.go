// Package overlay builds each peer's neighbor set from the authoritative
// peer list by Zipf-weighted sampling without replacement, so that a small
// number of peers end up with disproportionately many links while the
// overlay as a whole stays connected.
package overlay

import (
	"math"
	"math/rand"
	"sort"

	"github.com/gossipmesh/gossipmesh/internal/identity"
)

// Alpha is the fixed Zipf exponent used to rank-weight candidates.
const Alpha = 1.0

// NeighborCount returns k = min(floor(n/2)+1, n) for a candidate list of
// size n, where n already excludes self.
func NeighborCount(n int) int {
	if n <= 0 {
		return 0
	}
	k := n/2 + 1
	if k > n {
		k = n
	}
	return k
}

// Build selects neighbors for self out of the full peer list (which may or
// may not include self), deterministic given identical (peers, seed).
func Build(peers []identity.ID, self identity.ID, seed int64) []identity.ID {
	candidates := identity.Without(peers, self)
	return Select(candidates, seed)
}

// Select performs the Zipf-weighted sample without replacement over an
// already-self-excluded candidate list.
func Select(candidates []identity.ID, seed int64) []identity.ID {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	sorted := make([]identity.ID, n)
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	k := NeighborCount(n)
	if k >= n {
		return sorted
	}

	weights := make([]float64, n)
	for i := range sorted {
		weights[i] = 1.0 / math.Pow(float64(i+1), Alpha)
	}

	rng := rand.New(rand.NewSource(seed))

	chosen := make([]identity.ID, 0, k)
	remainingIdx := make([]int, n)
	for i := range remainingIdx {
		remainingIdx[i] = i
	}

	for len(chosen) < k && len(remainingIdx) > 0 {
		total := 0.0
		for _, idx := range remainingIdx {
			total += weights[idx]
		}

		r := rng.Float64() * total
		cum := 0.0
		pick := len(remainingIdx) - 1 // guards against float rounding landing past the end
		for pos, idx := range remainingIdx {
			cum += weights[idx]
			if r < cum {
				pick = pos
				break
			}
		}

		chosen = append(chosen, sorted[remainingIdx[pick]])
		remainingIdx = append(remainingIdx[:pick], remainingIdx[pick+1:]...)
	}

	return chosen
}
