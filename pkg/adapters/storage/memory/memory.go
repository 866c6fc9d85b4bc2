package memory

import (
	"context"
	"sync"
)

// Store implements ports.StateStore using an in-memory map.
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewStore creates a new in-memory state store.
func NewStore() *Store {
	return &Store{
		records: make(map[string][]byte),
	}
}

// Save stores a record for an execution id.
func (s *Store) Save(ctx context.Context, executionID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.records[executionID] = buf
	return nil
}

// Load retrieves the record for an execution id, or nil when absent.
func (s *Store) Load(ctx context.Context, executionID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[executionID]
	if !ok {
		return nil, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Delete removes the record for an execution id.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, executionID)
	return nil
}

// List returns all execution ids that have stored records.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	return ids, nil
}
