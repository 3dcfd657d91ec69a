package federation

import (
	"bytes"
	"sort"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/intercooperative/icn-core/internal/dag"
)

// ConflictKind names which of spec §4.7's two conflict shapes was
// detected.
type ConflictKind int

const (
	// MultipleRoots: two blocks with no parents.
	MultipleRoots ConflictKind = iota
	// ChainFork: two blocks share an ancestor and diverge.
	ChainFork
)

// Candidate is a conflicting block plus the externally-supplied metadata
// MultiCriteria resolution needs (reputation and subtree size require
// context the conflict resolver itself doesn't own).
type Candidate struct {
	Block            *dag.Block
	AuthorReputation float64
	SubtreeSize      int
	SignatureValid   bool
}

// Conflict pairs two candidate blocks with the taxonomy classification
// of why they conflict.
type Conflict struct {
	Kind ConflictKind
	A    Candidate
	B    Candidate
}

// DetectConflict classifies a pair of blocks per spec §4.7. Two blocks
// with no links in either direction and no shared ancestor hint are
// MultipleRoots; otherwise (caller has already established they share
// an ancestor and diverge) it's a ChainFork.
func DetectConflict(a, b Candidate, sharesAncestor bool) Conflict {
	if !sharesAncestor && len(a.Block.Links) == 0 && len(b.Block.Links) == 0 {
		return Conflict{Kind: MultipleRoots, A: a, B: b}
	}
	return Conflict{Kind: ChainFork, A: a, B: b}
}

// Strategy names a configurable resolution strategy.
type Strategy int

const (
	FirstWins Strategy = iota
	LastWins
	MultiCriteria
)

// MultiCriteriaWeights configures the MultiCriteria strategy's weighted
// sum (SPEC_FULL.md Open Question decision #1: conflict resolution
// weights are policy-configurable, not hardcoded).
type MultiCriteriaWeights struct {
	Timestamp      float64
	AuthorRep      float64
	SubtreeSize    float64
	SignatureValid float64
}

// Resolve picks a winner deterministically given the conflict and
// strategy. Ties are always broken by CID lexicographic order, per spec
// §4.7.
func Resolve(c Conflict, strategy Strategy, weights MultiCriteriaWeights) Candidate {
	switch strategy {
	case FirstWins:
		return tiebreak(c.A, c.B, func(x Candidate) time.Time { return x.Block.Timestamp }, true)
	case LastWins:
		return tiebreak(c.A, c.B, func(x Candidate) time.Time { return x.Block.Timestamp }, false)
	case MultiCriteria:
		scoreA := multiCriteriaScore(c.A, weights)
		scoreB := multiCriteriaScore(c.B, weights)
		if scoreA == scoreB {
			return cidTiebreak(c.A, c.B)
		}
		if scoreA > scoreB {
			return c.A
		}
		return c.B
	default:
		return cidTiebreak(c.A, c.B)
	}
}

func multiCriteriaScore(c Candidate, w MultiCriteriaWeights) float64 {
	sig := 0.0
	if c.SignatureValid {
		sig = 1.0
	}
	// Timestamp contributes inversely to age: earlier blocks score higher
	// under a positive weight, matching FirstWins intuition when timestamp
	// is weighted.
	ts := -float64(c.Block.Timestamp.UnixNano())
	return w.Timestamp*ts + w.AuthorRep*c.AuthorReputation +
		w.SubtreeSize*float64(c.SubtreeSize) + w.SignatureValid*sig
}

func tiebreak(a, b Candidate, at func(Candidate) time.Time, lowestWins bool) Candidate {
	ta, tb := at(a), at(b)
	if ta.Equal(tb) {
		return cidTiebreak(a, b)
	}
	if lowestWins {
		if ta.Before(tb) {
			return a
		}
		return b
	}
	if ta.After(tb) {
		return a
	}
	return b
}

func cidTiebreak(a, b Candidate) Candidate {
	if bytes.Compare(a.Block.CID.Bytes(), b.Block.CID.Bytes()) <= 0 {
		return a
	}
	return b
}

// SortByCID returns cids sorted in lexicographic order, used by callers
// that need a deterministic iteration order over a conflict set.
func SortByCID(cids []cid.Cid) []cid.Cid {
	out := append([]cid.Cid{}, cids...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}
