// Package crdt implements the conflict-free replicated data types ICN uses
// to let observers converge regardless of delivery order: vector clocks for
// causality tracking and grow-only counters for monotonic tallies (spec
// §4.3). Neither type is grounded on the teacher repo — a single-chain
// blockchain core has no CRDT layer — so both follow the original Rust
// workspace's semantics (icn-crdt/src/vector_clock.rs, g_counter.rs)
// reimplemented in the teacher's idiom: small mutex-guarded structs with
// deterministic JSON encoding, as in core/common_structs.go.
package crdt

import (
	"encoding/json"
	"sort"
	"sync"
)

// NodeID names a replica participating in a vector clock or counter.
type NodeID string

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Concurrent Ordering = iota
	Less
	Greater
	Equal
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	case Equal:
		return "equal"
	default:
		return "concurrent"
	}
}

// VectorClock maps NodeID to a monotonically increasing counter. It is
// safe for concurrent use.
type VectorClock struct {
	mu     sync.Mutex
	counts map[NodeID]uint64
}

// NewVectorClock returns an empty clock.
func NewVectorClock() *VectorClock {
	return &VectorClock{counts: make(map[NodeID]uint64)}
}

// Increment bumps node's counter by one and returns the new value.
func (v *VectorClock) Increment(node NodeID) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts[node]++
	return v.counts[node]
}

// Get returns the current counter for node (zero if never observed).
func (v *VectorClock) Get(node NodeID) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.counts[node]
}

// Snapshot returns a copy of the clock's entries.
func (v *VectorClock) Snapshot() map[NodeID]uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[NodeID]uint64, len(v.counts))
	for k, n := range v.counts {
		out[k] = n
	}
	return out
}

// Merge applies the pointwise max of v and other's entries onto v.
func (v *VectorClock) Merge(other *VectorClock) {
	snap := other.Snapshot()
	v.mu.Lock()
	defer v.mu.Unlock()
	for node, n := range snap {
		if n > v.counts[node] {
			v.counts[node] = n
		}
	}
}

// Compare returns how v relates to other: Less if v <= other pointwise with
// at least one strict inequality, Greater symmetrically, Equal if every
// entry matches, Concurrent otherwise. Exactly one of the four holds for
// any pair (spec §8).
func (v *VectorClock) Compare(other *VectorClock) Ordering {
	a := v.Snapshot()
	b := other.Snapshot()

	nodes := make(map[NodeID]struct{}, len(a)+len(b))
	for n := range a {
		nodes[n] = struct{}{}
	}
	for n := range b {
		nodes[n] = struct{}{}
	}

	aLessSomewhere, aGreaterSomewhere := false, false
	for n := range nodes {
		av, bv := a[n], b[n]
		switch {
		case av < bv:
			aLessSomewhere = true
		case av > bv:
			aGreaterSomewhere = true
		}
	}

	switch {
	case !aLessSomewhere && !aGreaterSomewhere:
		return Equal
	case aLessSomewhere && !aGreaterSomewhere:
		return Less
	case aGreaterSomewhere && !aLessSomewhere:
		return Greater
	default:
		return Concurrent
	}
}

// Dominates reports whether v strictly dominates other (v > other).
func (v *VectorClock) Dominates(other *VectorClock) bool {
	return v.Compare(other) == Greater
}

// MarshalJSON encodes entries sorted by NodeID so two clocks with identical
// contents always serialize to the same bytes.
func (v *VectorClock) MarshalJSON() ([]byte, error) {
	snap := v.Snapshot()
	keys := make([]NodeID, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	type entry struct {
		Node  NodeID `json:"node"`
		Count uint64 `json:"count"`
	}
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, entry{Node: k, Count: snap[k]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores a clock from the sorted-entries form produced by
// MarshalJSON.
func (v *VectorClock) UnmarshalJSON(data []byte) error {
	type entry struct {
		Node  NodeID `json:"node"`
		Count uint64 `json:"count"`
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.counts = make(map[NodeID]uint64, len(entries))
	for _, e := range entries {
		v.counts[e.Node] = e.Count
	}
	return nil
}
