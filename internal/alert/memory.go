package alert

import (
	"context"
	"sync"
)

// MemoryStore is an in-process StateStore with the same conditional-write
// contract as DynamoStore. It is intended for tests and local runs; state
// does not survive the invocation.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]State)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.entries[key]
	return state, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, state State, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.entries[key]; ok && current.Version != expectedVersion {
		return ErrConditionFailed
	} else if !ok && expectedVersion != 0 {
		return ErrConditionFailed
	}

	s.entries[key] = state
	return nil
}
