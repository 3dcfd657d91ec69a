package crdt

import (
	"fmt"
	"sync"
)

// GCounter is a grow-only counter: each node owns a monotonically
// increasing per-node count, the total is the sum across nodes, and merge
// is a pointwise max — making merge idempotent, commutative, and
// associative by construction (spec §4.3, tested in crdt_test.go).
type GCounter struct {
	mu     sync.Mutex
	ID     string
	counts map[NodeID]uint64
	clock  *VectorClock
}

// NewGCounter returns an empty counter identified by id.
func NewGCounter(id string) *GCounter {
	return &GCounter{
		ID:     id,
		counts: make(map[NodeID]uint64),
		clock:  NewVectorClock(),
	}
}

// Increment adds amount to node's count. amount must be positive — a
// G-Counter can only grow, so a zero or negative increment is a misuse of
// the API rather than a no-op.
func (g *GCounter) Increment(node NodeID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("crdt: invalid operation: increment amount must be > 0")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counts[node] += amount
	g.clock.Increment(node)
	return nil
}

// Total returns the sum of all per-node counts.
func (g *GCounter) Total() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var total uint64
	for _, n := range g.counts {
		total += n
	}
	return total
}

// PerNode returns a copy of the per-node counts.
func (g *GCounter) PerNode() map[NodeID]uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[NodeID]uint64, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out
}

// Merge combines other into g by taking the pointwise max of each node's
// count. It mutates g and leaves other untouched.
func (g *GCounter) Merge(other *GCounter) {
	otherCounts := other.PerNode()
	g.mu.Lock()
	defer g.mu.Unlock()
	for node, n := range otherCounts {
		if n > g.counts[node] {
			g.counts[node] = n
		}
	}
	g.clock.Merge(other.clock)
}

// Clone returns an independent copy of g.
func (g *GCounter) Clone() *GCounter {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := NewGCounter(g.ID)
	for k, v := range g.counts {
		out.counts[k] = v
	}
	out.clock.Merge(g.clock)
	return out
}

// Equal reports whether g and other have identical per-node counts.
func (g *GCounter) Equal(other *GCounter) bool {
	a, b := g.PerNode(), other.PerNode()
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
