package reputation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestScoreBoundedAndMonotonicInSuccesses(t *testing.T) {
	low := Record{Successes: 1, Failures: 9}
	high := Record{Successes: 9, Failures: 1}
	if low.Score() >= high.Score() {
		t.Fatalf("expected more successes to score higher: low=%v high=%v", low.Score(), high.Score())
	}
	if high.Score() > 1.0 || high.Score() < 0 {
		t.Fatalf("expected score in [0,1], got %v", high.Score())
	}
}

func TestScoreZeroTalliesIsZero(t *testing.T) {
	r := Record{}
	if r.Score() != 0 {
		t.Fatalf("expected zero score for no tallies, got %v", r.Score())
	}
}

func TestStoreRecordExecutionAndGetReputation(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	if err := s.RecordExecution("did:key:a", true, 150); err != nil {
		t.Fatalf("record: %v", err)
	}
	score, err := s.GetReputation("did:key:a")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if score <= 0 {
		t.Fatalf("expected positive score after one success, got %v", score)
	}
}

func TestStoreUnknownDIDHasZeroScore(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	score, err := s.GetReputation("did:key:ghost")
	if err != nil {
		t.Fatalf("get reputation: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected zero score for unseen did, got %v", score)
	}
}

func TestFileBackendPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reputation.json")

	b1, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	s1 := NewStore(b1)
	if err := s1.RecordExecution("did:key:a", true, 100); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s1.RecordExecution("did:key:a", false, 0); err != nil {
		t.Fatalf("record: %v", err)
	}

	// simulate process restart: fresh backend + store over the same file.
	b2, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("reload file backend: %v", err)
	}
	s2 := NewStore(b2)
	rec, err := s2.Snapshot("did:key:a")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if rec.Successes != 1 || rec.Failures != 1 {
		t.Fatalf("expected tallies to survive restart, got %+v", rec)
	}
}

func TestFileBackendMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")
	b, err := NewFileBackend(path)
	if err != nil {
		t.Fatalf("new file backend: %v", err)
	}
	all, err := b.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty backend, got %v", all)
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected file not created until first Save")
	}
}
