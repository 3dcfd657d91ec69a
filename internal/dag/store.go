package dag

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"go.uber.org/zap"

	"github.com/intercooperative/icn-core/pkg/classify"
)

// Metadata is the mutable, pruning-relevant state attached to a block
// (spec §3). It never participates in CID computation.
type Metadata struct {
	Pinned         bool
	LastAccessed   time.Time
	Size           uint64
	ReferenceCount int
}

// BlockStore is the abstract contract spec §4.2/§6 describes: put, get,
// delete, pin/unpin, list, metadata, prune. The core calls only this
// interface; a production deployment backs it with an embedded KV store or
// SQL table. MemoryStore below is the in-memory reference implementation
// used by tests and single-node deployments.
type BlockStore interface {
	Put(b *Block) error
	Get(c cid.Cid) (*Block, error)
	Delete(c cid.Cid) error
	Pin(c cid.Cid) error
	Unpin(c cid.Cid) error
	ListBlocks() ([]cid.Cid, error)
	GetMetadata(c cid.Cid) (Metadata, error)
	Prune(cfg PruneConfig) (PruneReport, error)
}

// ErrNotFound is returned by Get/Delete/Pin/Unpin/GetMetadata for an
// absent CID.
var ErrNotFound = fmt.Errorf("dag: block not found")

// ErrAlreadyExists is returned by Put only in the (should be impossible
// for valid CIDs) case where a different block already occupies the same
// CID — i.e. a hash collision or a caller bug that mutated stored bytes.
var ErrAlreadyExists = fmt.Errorf("dag: a different block already exists at this cid")

// ErrPinned is returned by Delete when the target block is pinned.
var ErrPinned = fmt.Errorf("dag: block is pinned")

// MemoryStore is a mutex-guarded, map-backed BlockStore, the in-memory
// reference implementation spec §6 calls out for tests. Mirrors the
// mutex-per-collection style of core/virtual_machine.go's memState.
type MemoryStore struct {
	mu    sync.RWMutex
	blocks map[string]*Block
	meta   map[string]*Metadata
	log    *zap.Logger
}

// NewMemoryStore returns an empty store. A nil logger falls back to a
// no-op zap logger, matching core/storage.go's defensive nil handling.
func NewMemoryStore(log *zap.Logger) *MemoryStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		blocks: make(map[string]*Block),
		meta:   make(map[string]*Metadata),
		log:    log,
	}
}

func (s *MemoryStore) Put(b *Block) error {
	if err := b.Validate(); err != nil {
		return err
	}
	key := cidKey(b.CID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.blocks[key]; ok {
		if bytes.Equal(existing.Data, b.Data) && existing.AuthorDID == b.AuthorDID {
			return nil // idempotent re-put of identical content
		}
		return classify.Storage("put", ErrAlreadyExists)
	}

	s.blocks[key] = b
	s.meta[key] = &Metadata{
		Pinned:         false,
		LastAccessed:   time.Now(),
		Size:           b.Size(),
		ReferenceCount: 0,
	}
	for _, l := range b.Links {
		if m, ok := s.meta[cidKey(l.CID)]; ok {
			m.ReferenceCount++
		}
	}
	s.log.Debug("dag: block stored", zap.String("cid", b.CID.String()))
	return nil
}

func (s *MemoryStore) Get(c cid.Cid) (*Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cidKey(c)
	b, ok := s.blocks[key]
	if !ok {
		return nil, classify.Storage("get", ErrNotFound)
	}
	s.meta[key].LastAccessed = time.Now()
	return b, nil
}

func (s *MemoryStore) Delete(c cid.Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cidKey(c)
	m, ok := s.meta[key]
	if !ok {
		return classify.Storage("delete", ErrNotFound)
	}
	if m.Pinned {
		return classify.Policy("delete", ErrPinned)
	}
	delete(s.blocks, key)
	delete(s.meta, key)
	return nil
}

func (s *MemoryStore) Pin(c cid.Cid) error   { return s.setPinned(c, true) }
func (s *MemoryStore) Unpin(c cid.Cid) error { return s.setPinned(c, false) }

func (s *MemoryStore) setPinned(c cid.Cid, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[cidKey(c)]
	if !ok {
		return classify.Storage("pin", ErrNotFound)
	}
	m.Pinned = pinned
	return nil
}

func (s *MemoryStore) ListBlocks() ([]cid.Cid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]cid.Cid, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b.CID)
	}
	return out, nil
}

func (s *MemoryStore) GetMetadata(c cid.Cid) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[cidKey(c)]
	if !ok {
		return Metadata{}, classify.Storage("get-metadata", ErrNotFound)
	}
	return *m, nil
}
