package dag

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/intercooperative/icn-core/pkg/classify"
)

func mustBlock(t *testing.T, data []byte, links []Link, ts time.Time, author, scope string) *Block {
	t.Helper()
	b, err := NewBlock(RawCodec, data, links, ts, author, nil, scope)
	if err != nil {
		t.Fatalf("new block: %v", err)
	}
	return b
}

func TestComputeMerkleCIDDeterministic(t *testing.T) {
	ts := time.Unix(1000, 0)
	b1 := mustBlock(t, []byte("hello"), nil, ts, "did:key:abc", "")
	b2 := mustBlock(t, []byte("hello"), nil, ts, "did:key:abc", "")
	if !b1.CID.Equals(b2.CID) {
		t.Fatalf("expected identical CIDs for identical fields")
	}
	b3 := mustBlock(t, []byte("world"), nil, ts, "did:key:abc", "")
	if b1.CID.Equals(b3.CID) {
		t.Fatalf("expected different CIDs for different data")
	}
}

func TestComputeMerkleCIDLinkOrderInsensitive(t *testing.T) {
	ts := time.Unix(1000, 0)
	l1 := Link{CID: mustBlock(t, []byte("a"), nil, ts, "x", "").CID, Name: "a", Size: 1}
	l2 := Link{CID: mustBlock(t, []byte("b"), nil, ts, "x", "").CID, Name: "b", Size: 1}

	b1 := mustBlock(t, []byte("parent"), []Link{l1, l2}, ts, "x", "")
	b2 := mustBlock(t, []byte("parent"), []Link{l2, l1}, ts, "x", "")
	if !b1.CID.Equals(b2.CID) {
		t.Fatalf("expected link order not to affect CID")
	}
}

func TestBlockValidateDetectsMismatch(t *testing.T) {
	ts := time.Unix(1000, 0)
	b := mustBlock(t, []byte("hello"), nil, ts, "did:key:abc", "")
	b.Data = []byte("tampered")
	if err := b.Validate(); err == nil {
		t.Fatalf("expected validation error after tampering")
	} else if classify.Of(err) != classify.KindStorage {
		t.Fatalf("expected storage-kind error, got %v", err)
	}
}

func TestMemoryStorePutGetDelete(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	b := mustBlock(t, []byte("payload"), nil, time.Now(), "did:key:abc", "")

	if err := s.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}
	// idempotent re-put
	if err := s.Put(b); err != nil {
		t.Fatalf("idempotent re-put failed: %v", err)
	}

	got, err := s.Get(b.CID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Data) != "payload" {
		t.Fatalf("unexpected data: %s", got.Data)
	}

	if err := s.Delete(b.CID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(b.CID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreDeletePinnedFails(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	b := mustBlock(t, []byte("payload"), nil, time.Now(), "did:key:abc", "")
	if err := s.Put(b); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Pin(b.CID); err != nil {
		t.Fatalf("pin: %v", err)
	}
	if err := s.Delete(b.CID); !errors.Is(err, ErrPinned) {
		t.Fatalf("expected ErrPinned, got %v", err)
	}
	if err := s.Unpin(b.CID); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if err := s.Delete(b.CID); err != nil {
		t.Fatalf("delete after unpin: %v", err)
	}
}

func TestPruneKeepsPinnedAndReferences(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	old := time.Now().Add(-48 * time.Hour)

	child := mustBlock(t, []byte("child"), nil, old, "a", "")
	if err := s.Put(child); err != nil {
		t.Fatalf("put child: %v", err)
	}
	parent := mustBlock(t, []byte("parent"), []Link{{CID: child.CID, Name: "c", Size: uint64(len(child.Data))}}, old, "a", "")
	if err := s.Put(parent); err != nil {
		t.Fatalf("put parent: %v", err)
	}
	if err := s.Pin(parent.CID); err != nil {
		t.Fatalf("pin: %v", err)
	}

	stale := mustBlock(t, []byte("stale"), nil, old, "a", "")
	if err := s.Put(stale); err != nil {
		t.Fatalf("put stale: %v", err)
	}

	report, err := s.Prune(PruneConfig{
		MaxAge:                   time.Hour,
		PreservePinnedReferences: true,
		MinBlocksToKeep:          0,
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.Examined != 3 {
		t.Fatalf("expected 3 examined, got %d", report.Examined)
	}
	if report.Removed != 1 {
		t.Fatalf("expected 1 removed (stale), got %d", report.Removed)
	}
	if _, err := s.Get(child.CID); err != nil {
		t.Fatalf("expected child kept via reference closure: %v", err)
	}
	if _, err := s.Get(parent.CID); err != nil {
		t.Fatalf("expected pinned parent kept: %v", err)
	}
	if _, err := s.Get(stale.CID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale block removed")
	}
}

func TestPruneMinBlocksExceedsTotalDeletesNothing(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	old := time.Now().Add(-48 * time.Hour)
	for i := 0; i < 3; i++ {
		b := mustBlock(t, []byte{byte(i)}, nil, old, "a", "")
		if err := s.Put(b); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	report, err := s.Prune(PruneConfig{MaxAge: time.Hour, MinBlocksToKeep: 1000})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.Removed != 0 {
		t.Fatalf("expected nothing removed when min_blocks_to_keep exceeds total, got %d removed", report.Removed)
	}
}
