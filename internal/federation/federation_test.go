package federation

import (
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/intercooperative/icn-core/internal/dag"
)

func mustBlock(t *testing.T, data []byte, links []dag.Link, ts time.Time, author string) *dag.Block {
	t.Helper()
	b, err := dag.NewBlock(dag.RawCodec, data, links, ts, author, nil, "")
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	return b
}

func TestResolveFirstWinsPicksEarliest(t *testing.T) {
	early := mustBlock(t, []byte("a"), nil, time.Unix(100, 0), "x")
	late := mustBlock(t, []byte("b"), nil, time.Unix(200, 0), "x")
	c := Conflict{Kind: ChainFork, A: Candidate{Block: early}, B: Candidate{Block: late}}

	winner := Resolve(c, FirstWins, MultiCriteriaWeights{})
	if !winner.Block.CID.Equals(early.CID) {
		t.Fatalf("expected earliest block to win FirstWins")
	}
}

func TestResolveLastWinsPicksLatest(t *testing.T) {
	early := mustBlock(t, []byte("a"), nil, time.Unix(100, 0), "x")
	late := mustBlock(t, []byte("b"), nil, time.Unix(200, 0), "x")
	c := Conflict{Kind: ChainFork, A: Candidate{Block: early}, B: Candidate{Block: late}}

	winner := Resolve(c, LastWins, MultiCriteriaWeights{})
	if !winner.Block.CID.Equals(late.CID) {
		t.Fatalf("expected latest block to win LastWins")
	}
}

func TestResolveMultiCriteriaWeighsReputationHigher(t *testing.T) {
	a := mustBlock(t, []byte("a"), nil, time.Unix(100, 0), "x")
	b := mustBlock(t, []byte("b"), nil, time.Unix(100, 0), "y")
	c := Conflict{
		Kind: ChainFork,
		A:    Candidate{Block: a, AuthorReputation: 0.2},
		B:    Candidate{Block: b, AuthorReputation: 0.9},
	}
	winner := Resolve(c, MultiCriteria, MultiCriteriaWeights{AuthorRep: 1.0})
	if !winner.Block.CID.Equals(b.CID) {
		t.Fatalf("expected higher-reputation author to win")
	}
}

func TestResolveTieBreaksByCIDLexicographic(t *testing.T) {
	a := mustBlock(t, []byte("same-ts-a"), nil, time.Unix(100, 0), "x")
	b := mustBlock(t, []byte("same-ts-b"), nil, time.Unix(100, 0), "x")
	c := Conflict{Kind: ChainFork, A: Candidate{Block: a}, B: Candidate{Block: b}}

	got := Resolve(c, MultiCriteria, MultiCriteriaWeights{}) // all weights zero -> pure tiebreak
	want := cidTiebreak(Candidate{Block: a}, Candidate{Block: b})
	if !got.Block.CID.Equals(want.Block.CID) {
		t.Fatalf("expected deterministic CID tiebreak")
	}
}

func TestDetectConflictMultipleRoots(t *testing.T) {
	a := mustBlock(t, []byte("a"), nil, time.Unix(100, 0), "x")
	b := mustBlock(t, []byte("b"), nil, time.Unix(100, 0), "y")
	conflict := DetectConflict(Candidate{Block: a}, Candidate{Block: b}, false)
	if conflict.Kind != MultipleRoots {
		t.Fatalf("expected MultipleRoots, got %v", conflict.Kind)
	}
}

func TestDetectConflictChainFork(t *testing.T) {
	a := mustBlock(t, []byte("a"), nil, time.Unix(100, 0), "x")
	b := mustBlock(t, []byte("b"), nil, time.Unix(100, 0), "y")
	conflict := DetectConflict(Candidate{Block: a}, Candidate{Block: b}, true)
	if conflict.Kind != ChainFork {
		t.Fatalf("expected ChainFork, got %v", conflict.Kind)
	}
}

func TestComputeDeltaCapsAtMaxBlocks(t *testing.T) {
	store := dag.NewMemoryStore(zap.NewNop())
	ts := time.Unix(0, 0)

	var tip *dag.Block
	for i := 0; i < 5; i++ {
		var links []dag.Link
		if tip != nil {
			links = []dag.Link{{CID: tip.CID, Name: "prev", Size: tip.Size()}}
		}
		b := mustBlock(t, []byte{byte(i)}, links, ts, "x")
		if err := store.Put(b); err != nil {
			t.Fatalf("put: %v", err)
		}
		tip = b
	}

	resp, err := ComputeDelta(store, []cid.Cid{tip.CID}, cid.Cid{}, false, 2)
	if err != nil {
		t.Fatalf("compute delta: %v", err)
	}
	if len(resp.Blocks) != 2 {
		t.Fatalf("expected 2 blocks after cap, got %d", len(resp.Blocks))
	}
	if !resp.Truncated {
		t.Fatalf("expected Truncated=true when more blocks than cap exist")
	}
}

func TestComputeDeltaExcludesSinceRootAncestry(t *testing.T) {
	store := dag.NewMemoryStore(zap.NewNop())
	ts := time.Unix(0, 0)

	root := mustBlock(t, []byte("root"), nil, ts, "x")
	if err := store.Put(root); err != nil {
		t.Fatalf("put root: %v", err)
	}
	leaf := mustBlock(t, []byte("leaf"), []dag.Link{{CID: root.CID, Name: "prev", Size: root.Size()}}, ts, "x")
	if err := store.Put(leaf); err != nil {
		t.Fatalf("put leaf: %v", err)
	}

	resp, err := ComputeDelta(store, []cid.Cid{leaf.CID}, root.CID, true, 0)
	if err != nil {
		t.Fatalf("compute delta: %v", err)
	}
	if len(resp.Blocks) != 1 || !resp.Blocks[0].CID.Equals(leaf.CID) {
		t.Fatalf("expected only leaf in delta, got %+v", resp.Blocks)
	}
}

func TestRequestQueuePriorityOrdering(t *testing.T) {
	q := NewRequestQueue(10)
	now := time.Unix(0, 0)
	lowCID := mustBlock(t, []byte("low"), nil, now, "x").CID
	highCID := mustBlock(t, []byte("high"), nil, now, "x").CID

	q.Push(BlockRequest{CID: lowCID, Priority: 1}, now)
	q.Push(BlockRequest{CID: highCID, Priority: 10}, now.Add(time.Second))

	first, ok := q.Pop()
	if !ok || !first.CID.Equals(highCID) {
		t.Fatalf("expected higher-priority request first")
	}
	second, ok := q.Pop()
	if !ok || !second.CID.Equals(lowCID) {
		t.Fatalf("expected lower-priority request second")
	}
}

func TestRequestQueueDropsLowestPriorityWhenFull(t *testing.T) {
	q := NewRequestQueue(1)
	now := time.Unix(0, 0)
	lowCID := mustBlock(t, []byte("low"), nil, now, "x").CID
	highCID := mustBlock(t, []byte("high"), nil, now, "x").CID

	if !q.Push(BlockRequest{CID: lowCID, Priority: 1}, now) {
		t.Fatalf("expected first push to succeed")
	}
	if !q.Push(BlockRequest{CID: highCID, Priority: 10}, now.Add(time.Second)) {
		t.Fatalf("expected higher-priority push to evict the lower one")
	}
	if q.Len() != 1 {
		t.Fatalf("expected capacity to stay at 1, got %d", q.Len())
	}
	got, _ := q.Pop()
	if !got.CID.Equals(highCID) {
		t.Fatalf("expected only the high-priority request to survive")
	}
}

func TestRequestQueueRejectsLowerPriorityWhenFull(t *testing.T) {
	q := NewRequestQueue(1)
	now := time.Unix(0, 0)
	highCID := mustBlock(t, []byte("high"), nil, now, "x").CID
	lowCID := mustBlock(t, []byte("low"), nil, now, "x").CID

	q.Push(BlockRequest{CID: highCID, Priority: 10}, now)
	if q.Push(BlockRequest{CID: lowCID, Priority: 1}, now.Add(time.Second)) {
		t.Fatalf("expected lower-priority push to be rejected when queue is full")
	}
}
