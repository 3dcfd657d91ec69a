package dag

import (
	"sort"
	"time"
)

// PruneConfig parameterizes the pruning algorithm of spec §4.2.
type PruneConfig struct {
	MaxAge                   time.Duration
	MaxTotalSize             uint64
	PreservePinnedReferences bool
	MinBlocksToKeep          int
	PreserveBlockTypes       map[string]bool // matched against Block.Scope
}

// PruneReport summarizes one Prune call.
type PruneReport struct {
	Examined   int
	Removed    int
	BytesFreed uint64
	Errors     []error
}

// Prune runs the four-step algorithm of spec §4.2:
//  1. seed the keep-set from pinned blocks and blocks newer than MaxAge.
//  2. if PreservePinnedReferences, transitively close the keep-set over
//     outgoing links.
//  3. if the keep-set is smaller than MinBlocksToKeep, top it up with the
//     newest remaining blocks by timestamp, descending.
//  4. delete everything else, trimming the survivors to MaxTotalSize
//     (oldest-first, never below MinBlocksToKeep, never a pinned block)
//     before reporting.
func (s *MemoryStore) Prune(cfg PruneConfig) (PruneReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := PruneReport{Examined: len(s.blocks)}
	now := time.Now()

	keep := make(map[string]bool, len(s.blocks))

	for key, b := range s.blocks {
		m := s.meta[key]
		if m.Pinned {
			keep[key] = true
			continue
		}
		if cfg.PreserveBlockTypes[b.Scope] {
			keep[key] = true
			continue
		}
		if cfg.MaxAge > 0 && now.Sub(b.Timestamp) <= cfg.MaxAge {
			keep[key] = true
		}
	}

	if cfg.PreservePinnedReferences {
		s.closeOverLinksLocked(keep)
	}

	if cfg.MinBlocksToKeep > 0 && len(keep) < cfg.MinBlocksToKeep {
		s.topUpByNewestLocked(keep, cfg.MinBlocksToKeep)
	}

	if cfg.MaxTotalSize > 0 {
		s.trimToSizeLocked(keep, cfg)
	}

	for key, b := range s.blocks {
		if keep[key] {
			continue
		}
		delete(s.blocks, key)
		delete(s.meta, key)
		report.Removed++
		report.BytesFreed += b.Size()
	}

	return report, nil
}

// closeOverLinksLocked transitively adds every block reachable via
// outgoing links from an already-kept block. Caller holds s.mu.
func (s *MemoryStore) closeOverLinksLocked(keep map[string]bool) {
	queue := make([]string, 0, len(keep))
	for k := range keep {
		queue = append(queue, k)
	}
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		b, ok := s.blocks[key]
		if !ok {
			continue
		}
		for _, l := range b.Links {
			lk := cidKey(l.CID)
			if keep[lk] {
				continue
			}
			if _, exists := s.blocks[lk]; !exists {
				continue
			}
			keep[lk] = true
			queue = append(queue, lk)
		}
	}
}

// topUpByNewestLocked adds the newest not-yet-kept blocks, by timestamp
// descending, until keep has at least min entries or every block is kept.
// If min exceeds the total block count, every block ends up kept and
// nothing is deleted (spec §8 boundary behavior).
func (s *MemoryStore) topUpByNewestLocked(keep map[string]bool, min int) {
	type candidate struct {
		key string
		ts  time.Time
	}
	var candidates []candidate
	for key, b := range s.blocks {
		if !keep[key] {
			candidates = append(candidates, candidate{key, b.Timestamp})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ts.After(candidates[j].ts) })

	for _, c := range candidates {
		if len(keep) >= min {
			break
		}
		keep[c.key] = true
	}
}

// trimToSizeLocked removes the oldest non-pinned kept blocks until the
// kept set's total size fits MaxTotalSize, never going below
// MinBlocksToKeep and never evicting a pinned block.
func (s *MemoryStore) trimToSizeLocked(keep map[string]bool, cfg PruneConfig) {
	total := func() uint64 {
		var sum uint64
		for key := range keep {
			sum += s.blocks[key].Size()
		}
		return sum
	}

	for total() > cfg.MaxTotalSize && len(keep) > cfg.MinBlocksToKeep {
		var oldestKey string
		var oldestTs time.Time
		first := true
		for key := range keep {
			if s.meta[key].Pinned {
				continue
			}
			b := s.blocks[key]
			if first || b.Timestamp.Before(oldestTs) {
				oldestKey, oldestTs, first = key, b.Timestamp, false
			}
		}
		if first {
			return // nothing evictable left (everything remaining is pinned)
		}
		delete(keep, oldestKey)
	}
}
