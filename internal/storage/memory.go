package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore keeps the snapshot in process. Snapshots are deep-copied
// through JSON so callers cannot alias stored data.
type MemoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return storageError(err, "encode snapshot")
	}
	s.mu.Lock()
	s.data = raw
	s.mu.Unlock()
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.RLock()
	raw := s.data
	s.mu.RUnlock()
	if raw == nil {
		return Snapshot{}, ErrNotFound
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, storageError(err, "decode snapshot")
	}
	return snap, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data != nil, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
