package idempotency

import (
	"context"
	"sync"
)

// MemoryStore keeps processing records in a process-local map. It is NOT
// durable: records are lost on restart and are invisible to other workers,
// so it is suitable only for tests and single-process experiments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Outcome
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Outcome)}
}

// Has reports whether the id has been marked processed.
func (s *MemoryStore) Has(_ context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// MarkProcessed records the id, returning ErrAlreadyProcessed when a record
// already exists.
func (s *MemoryStore) MarkProcessed(_ context.Context, id string, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; ok {
		return ErrAlreadyProcessed
	}
	s.records[id] = outcome
	return nil
}

// Outcome returns the stored outcome for an id, for tests.
func (s *MemoryStore) Outcome(id string) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.records[id]
	return o, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
