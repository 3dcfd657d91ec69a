package reputation

import (
	"encoding/json"
	"os"
	"sync"
)

// MemoryBackend is the in-memory reference Backend. Nothing survives
// process restart; suitable for tests and ephemeral nodes.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func (m *MemoryBackend) Load(did string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[did]
	return rec, ok, nil
}

func (m *MemoryBackend) Save(did string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[did] = rec
	return nil
}

func (m *MemoryBackend) All() (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, nil
}

// FileBackend is the embedded-KV reference implementation spec §4.5
// requires ("persistence backends: in-memory, embedded KV, SQL"). No
// embedded-KV driver appears in the teacher's or pack's go.mod, so this
// is a JSON snapshot file under stdlib os/encoding-json rather than a
// fabricated dependency (see DESIGN.md). Every Save rewrites the whole
// snapshot; fine for reputation's small per-node record count.
type FileBackend struct {
	mu   sync.Mutex
	path string
	data map[string]Record
}

// NewFileBackend loads path if it exists, or starts empty. Tallies
// recorded before a restart are present in data immediately, satisfying
// spec §8's restart-persistence requirement.
func NewFileBackend(path string) (*FileBackend, error) {
	fb := &FileBackend{path: path, data: make(map[string]Record)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fb, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return fb, nil
	}
	if err := json.Unmarshal(b, &fb.data); err != nil {
		return nil, err
	}
	return fb, nil
}

func (f *FileBackend) Load(did string) (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[did]
	return rec, ok, nil
}

func (f *FileBackend) Save(did string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[did] = rec
	return f.flushLocked()
}

func (f *FileBackend) All() (map[string]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]Record, len(f.data))
	for k, v := range f.data {
		out[k] = v
	}
	return out, nil
}

func (f *FileBackend) flushLocked() error {
	b, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, b, 0o600)
}
