package store

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept entirely in memory. State is lost when the
// process exits; it backs one-shot uploads and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	settings map[string]string
	files    map[string]FileRecord
	closed   bool
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]string),
		files:    make(map[string]FileRecord),
	}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, ErrClosed
	}
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemoryStore) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.settings[key] = value
	return nil
}

func (m *MemoryStore) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(m.settings, k)
	}
	return nil
}

func (m *MemoryStore) GetFile(path string) (*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	r, ok := m.files[path]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *MemoryStore) SaveFile(record *FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	record.UpdatedAt = time.Now().UTC()
	m.files[record.Path] = *record
	return nil
}

func (m *MemoryStore) ListFilesByStatus(status FileStatus) ([]*FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var records []*FileRecord
	for _, r := range m.files {
		if r.Status == status {
			r := r
			records = append(records, &r)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UpdatedAt.Before(records[j].UpdatedAt) })
	return records, nil
}

func (m *MemoryStore) ResetFiles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.files = make(map[string]FileRecord)
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
