// Package reputation implements the reputation store of spec §4.5:
// per-DID execution tallies and a bounded score derived from them, behind
// a pluggable backend interface so a durable backend can be swapped in at
// startup per spec §6's "persistent backend adapters are external".
// Grounded on core/quorum_tracker.go's mutex-guarded counter pattern and
// original_source/crates/icn-reputation/src/trust_graph.rs for the
// tally/score shape.
package reputation

import "sync"

// Record is a DID's monotonic execution tally. Score is derived on read,
// never stored, per spec §3's "score derived, not stored raw".
type Record struct {
	Successes  uint64
	Failures   uint64
	TotalCPUMs uint64
}

// Score computes the single bounded reputation formula used uniformly
// across the codebase (SPEC_FULL.md Open Question decision #3):
// successes weighted against failures, with a recent-cpu_ms contribution
// that rewards executors who report real (non-zero) work.
//
//	score = successes / (successes + failures + 1)
//
// then nudged by a bounded cpu_ms factor so two executors with identical
// success/failure counts but different reported work are distinguishable.
func (r Record) Score() float64 {
	base := float64(r.Successes) / float64(r.Successes+r.Failures+1)
	if r.Successes+r.Failures == 0 {
		return base
	}
	avgCPU := float64(r.TotalCPUMs) / float64(r.Successes+r.Failures)
	cpuFactor := avgCPU / (avgCPU + 1000) // asymptotic toward 1, never exceeds it
	return base * (0.9 + 0.1*cpuFactor)
}

// Backend is the storage boundary a Store delegates to. Swapping backends
// at startup (memory vs. a durable KV) is the only place persistence
// policy is decided, per spec §6.
type Backend interface {
	Load(did string) (Record, bool, error)
	Save(did string, rec Record) error
	All() (map[string]Record, error)
}

// Store is the concurrency-safe façade operations in other components
// call. It never interprets scores itself beyond computing them.
type Store struct {
	mu      sync.RWMutex
	backend Backend
	cache   map[string]Record
}

// NewStore wraps backend with an in-memory read cache populated lazily.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, cache: make(map[string]Record)}
}

// RecordExecution increments the tally for did: one success or failure,
// plus cpuMs of reported work.
func (s *Store) RecordExecution(did string, success bool, cpuMs uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getLocked(did)
	if err != nil {
		return err
	}
	if success {
		rec.Successes++
	} else {
		rec.Failures++
	}
	rec.TotalCPUMs += cpuMs

	if err := s.backend.Save(did, rec); err != nil {
		return err
	}
	s.cache[did] = rec
	return nil
}

// GetReputation returns did's current bounded score.
func (s *Store) GetReputation(did string) (float64, error) {
	s.mu.RLock()
	rec, cached := s.cache[did]
	s.mu.RUnlock()
	if cached {
		return rec.Score(), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.getLocked(did)
	if err != nil {
		return 0, err
	}
	return rec.Score(), nil
}

// Snapshot returns did's raw tally, for callers that need the components
// of the score rather than the score itself (e.g. audit tooling).
func (s *Store) Snapshot(did string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(did)
}

// getLocked reads through cache to the backend on a miss. Caller holds
// s.mu (read or write lock either way, since a miss only adds to cache).
func (s *Store) getLocked(did string) (Record, error) {
	if rec, ok := s.cache[did]; ok {
		return rec, nil
	}
	rec, found, err := s.backend.Load(did)
	if err != nil {
		return Record{}, err
	}
	if found {
		s.cache[did] = rec
	}
	return rec, nil
}
