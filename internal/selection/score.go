// Package selection implements executor selection of spec §4.10:
// deterministic multi-criteria bid scoring with reputation/reserve/
// federation filtering and an earliest-arrival tiebreak. Grounded on
// core/quorum_tracker.go and core/consensus.go's arithmetic-scoring
// style (no external library involved — selection is pure deterministic
// arithmetic, matching spec §9's "determinism boundary" note), enriched
// with a smart-routing hint shape from
// original_source/crates/icn-runtime/tests/smart_p2p_router_tests.rs.
package selection

import (
	"sort"

	"github.com/intercooperative/icn-core/internal/mesh"
)

// Weights parameterizes the scoring formula of spec §4.10:
//
//	score = w_p*price_factor + w_r*reputation_norm + w_t*trust
//	      + w_c*capability_match - w_f*failure_penalty
type Weights struct {
	Price        float64
	Reputation   float64
	Trust        float64
	Capability   float64
	FailurePenalty float64
}

// Policy bounds which bids are eligible before scoring.
type Policy struct {
	Weights         Weights
	ReputationFloor float64
	// AllowedFederations, when non-nil, restricts eligible executors to
	// those whose federation lookup returns a member. Nil allows any.
	AllowedFederations map[string]bool
}

// Candidate carries the per-bid inputs the score formula needs,
// snapshotted at selection time so scoring stays a pure function of its
// inputs per spec §9.
type Candidate struct {
	Bid              mesh.Bid
	MaxPrice         float64 // highest price among eligible bids, for normalizing price_factor
	ReputationNorm   float64 // executor reputation score, already in [0,1]
	Trust            float64 // effective trust toward the executor, in [0,1]
	CapabilityMatch  float64 // fraction of required capabilities the executor advertises, in [0,1]
	FailurePenalty   float64 // recent failure rate, in [0,1]
	ReserveMana      float64 // executor's currently available mana reserve
	RequiredReserve  float64
	Federation       string
}

// Score computes the deterministic score for one candidate. price_factor
// is 1 for the cheapest bid, degrading linearly toward 0 at MaxPrice, so
// lower bids always score at least as well as higher ones for identical
// other inputs.
func Score(c Candidate, w Weights) float64 {
	priceFactor := 1.0
	if c.MaxPrice > 0 {
		priceFactor = 1 - c.Bid.PriceMana/c.MaxPrice
	}
	return w.Price*priceFactor +
		w.Reputation*c.ReputationNorm +
		w.Trust*c.Trust +
		w.Capability*c.CapabilityMatch -
		w.FailurePenalty*c.FailurePenalty
}

// eligible reports whether a candidate clears the reputation floor,
// reserve mana requirement, and federation filter of policy.
func eligible(c Candidate, p Policy) bool {
	if c.ReputationNorm < p.ReputationFloor {
		return false
	}
	if c.ReserveMana < c.RequiredReserve {
		return false
	}
	if p.AllowedFederations != nil && !p.AllowedFederations[c.Federation] {
		return false
	}
	return true
}

// Select scores every eligible candidate and returns the winning bid.
// Ties in score are broken by earliest bid arrival, then by executor DID
// for full determinism given equal arrival times. ok is false if no
// candidate is eligible.
func Select(candidates []Candidate, policy Policy) (mesh.Bid, bool) {
	var pool []Candidate
	for _, c := range candidates {
		if eligible(c, policy) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return mesh.Bid{}, false
	}

	type scored struct {
		c     Candidate
		score float64
	}
	ranked := make([]scored, len(pool))
	for i, c := range pool {
		ranked[i] = scored{c: c, score: Score(c, policy.Weights)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		ai, aj := ranked[i].c.Bid.ArrivedAt, ranked[j].c.Bid.ArrivedAt
		if !ai.Equal(aj) {
			return ai.Before(aj)
		}
		return ranked[i].c.Bid.Executor < ranked[j].c.Bid.Executor
	})
	return ranked[0].c.Bid, true
}

// AsSelector adapts Select into a mesh.Selector by looking up each bid's
// Candidate snapshot from index, matched by executor DID. Bids without a
// snapshot in index are treated as ineligible.
func AsSelector(policy Policy, index map[string]Candidate) mesh.Selector {
	return func(bids []mesh.Bid) (mesh.Bid, bool) {
		var candidates []Candidate
		for _, b := range bids {
			c, ok := index[b.Executor]
			if !ok {
				continue
			}
			c.Bid = b
			candidates = append(candidates, c)
		}
		return Select(candidates, policy)
	}
}

// RoutingHint supplements selection with a smart-routing preference
// (original_source's smart_p2p_router_tests.rs): a latency or locality
// score added on top of Score when two candidates are otherwise close,
// used only to break near-ties explicitly rather than folding silently
// into the core formula (keeping the core formula's determinism
// contract simple and auditable).
type RoutingHint struct {
	Executor    string
	LatencyMs   float64
	SameRegion  bool
}

// ApplyRoutingHints re-scores candidates within epsilon of the top score
// using routing hints, preferring lower latency and same-region executors.
// Candidates outside epsilon of the leader are untouched.
func ApplyRoutingHints(candidates []Candidate, policy Policy, hints map[string]RoutingHint, epsilon float64) (mesh.Bid, bool) {
	var pool []Candidate
	for _, c := range candidates {
		if eligible(c, policy) {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return mesh.Bid{}, false
	}

	best := Score(pool[0], policy.Weights)
	for _, c := range pool[1:] {
		if s := Score(c, policy.Weights); s > best {
			best = s
		}
	}

	var contenders []Candidate
	for _, c := range pool {
		if best-Score(c, policy.Weights) <= epsilon {
			contenders = append(contenders, c)
		}
	}
	if len(contenders) == 1 {
		return contenders[0].Bid, true
	}

	sort.SliceStable(contenders, func(i, j int) bool {
		hi, hj := hints[contenders[i].Bid.Executor], hints[contenders[j].Bid.Executor]
		if hi.SameRegion != hj.SameRegion {
			return hi.SameRegion
		}
		if hi.LatencyMs != hj.LatencyMs {
			return hi.LatencyMs < hj.LatencyMs
		}
		return contenders[i].Bid.Executor < contenders[j].Bid.Executor
	})
	return contenders[0].Bid, true
}
