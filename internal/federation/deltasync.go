package federation

import (
	"github.com/ipfs/go-cid"

	"github.com/intercooperative/icn-core/internal/dag"
)

// ComputeDelta returns the blocks reachable from tips but not reachable
// from sinceRoot (or the whole reachable set, if hasSince is false),
// capped at maxBlocks. Truncated reports whether more blocks than the
// cap were available. The delta is sorted with SortByCID before the cap
// is applied, so the wire order is stable.
func ComputeDelta(store dag.BlockStore, tips []cid.Cid, sinceRoot cid.Cid, hasSince bool, maxBlocks int) (DeltaSyncResponse, error) {
	reachableFromTips, err := reachableSet(store, tips)
	if err != nil {
		return DeltaSyncResponse{}, err
	}

	excluded := make(map[string]bool)
	if hasSince {
		fromSince, err := reachableSet(store, []cid.Cid{sinceRoot})
		if err != nil {
			return DeltaSyncResponse{}, err
		}
		excluded = fromSince
	}

	var delta []cid.Cid
	for key, c := range reachableFromTips {
		if excluded[key] {
			continue
		}
		delta = append(delta, c)
	}
	delta = SortByCID(delta)

	truncated := false
	if maxBlocks > 0 && len(delta) > maxBlocks {
		delta = delta[:maxBlocks]
		truncated = true
	}

	resp := DeltaSyncResponse{Truncated: truncated}
	for _, c := range delta {
		b, err := store.Get(c)
		if err != nil {
			resp.Blocks = append(resp.Blocks, BlockResponse{CID: c, Found: false})
			continue
		}
		resp.Blocks = append(resp.Blocks, BlockResponse{CID: c, Data: b.Data, Found: true})
	}
	return resp, nil
}

// reachableSet walks outgoing links from each root, returning every
// reached CID keyed by its String() form, mapped back to the cid.Cid
// value.
func reachableSet(store dag.BlockStore, roots []cid.Cid) (map[string]cid.Cid, error) {
	seen := make(map[string]cid.Cid)
	queue := append([]cid.Cid{}, roots...)
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		key := c.String()
		if _, ok := seen[key]; ok {
			continue
		}
		b, err := store.Get(c)
		if err != nil {
			continue // unreachable/unknown root is not an error, just contributes nothing
		}
		seen[key] = c
		for _, l := range b.Links {
			queue = append(queue, l.CID)
		}
	}
	return seen, nil
}
