package runtime

import (
	"time"

	"github.com/intercooperative/icn-core/internal/mesh"
	"github.com/intercooperative/icn-core/internal/selection"
)

// trustCacheMaxAge bounds how stale a cached trust score toward a bidder
// may be before the selector treats the bidder as having zero trust
// rather than blocking the sweep on a fresh traversal per bid.
const trustCacheMaxAge = 5 * time.Minute

// ExecutorSelector builds a mesh.Selector that scores collected bids
// against this node's live reputation, trust, and mana reserve data,
// snapshotted per bid at the moment bidding closes (spec §4.10). Trust
// is read from the local node's cache rather than re-run through
// internal/trust's full validate_trust, since the sweep scores every
// bidder on every active job and a cache hit keeps that cheap.
func (c *Context) ExecutorSelector(policy selection.Policy, now time.Time) mesh.Selector {
	return func(bids []mesh.Bid) (mesh.Bid, bool) {
		var maxPrice float64
		for _, b := range bids {
			if b.PriceMana > maxPrice {
				maxPrice = b.PriceMana
			}
		}

		candidates := make([]selection.Candidate, 0, len(bids))
		for _, b := range bids {
			cand := selection.Candidate{Bid: b, MaxPrice: maxPrice, CapabilityMatch: 1}
			if c.Reputation != nil {
				if score, err := c.Reputation.GetReputation(b.Executor); err == nil {
					cand.ReputationNorm = score
				}
			}
			if c.Trust != nil {
				if score, ok := c.Trust.CachedScore(b.Executor, trustCacheMaxAge, now); ok {
					cand.Trust = score
				}
			}
			if c.Mana != nil {
				if balance, err := c.Mana.GetBalance(b.Executor, now); err == nil {
					cand.ReserveMana = balance
				}
			}
			candidates = append(candidates, cand)
		}
		return selection.Select(candidates, policy)
	}
}
