package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lumenreach/chatwidget/internal/domain"
)

// MemoryStore implements Repository with an in-process map. It round-trips
// snapshots through JSON so callers see the same serialization behavior as
// the SQLite store. Intended for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	updatedAt time.Time
}

// NewMemory creates a new in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// LoadSnapshot retrieves the stored snapshot for a visitor.
func (s *MemoryStore) LoadSnapshot(_ context.Context, visitorID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	entry, ok := s.entries[visitorID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(entry.payload, &snap); err != nil {
		return nil, nil
	}
	if snap.Empty() {
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot serializes and stores the snapshot.
func (s *MemoryStore) SaveSnapshot(_ context.Context, visitorID string, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entries[visitorID] = memoryEntry{payload: payload, updatedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

// DeleteSnapshot removes the stored snapshot for a visitor.
func (s *MemoryStore) DeleteSnapshot(_ context.Context, visitorID string) error {
	s.mu.Lock()
	delete(s.entries, visitorID)
	s.mu.Unlock()
	return nil
}

// PruneSnapshots removes snapshots older than maxAge.
func (s *MemoryStore) PruneSnapshots(_ context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, entry := range s.entries {
		if entry.updatedAt.Before(cutoff) {
			delete(s.entries, id)
			pruned++
		}
	}
	return pruned, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
