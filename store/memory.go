package store

import (
	"sync"

	"github.com/go-loom/loom/crdt"
)

// Structs

// MemoryStore keeps operation logs in process memory only. It
// backs tests and ephemeral replicas that do not need to survive
// a restart.
type MemoryStore struct {
	lock sync.Mutex
	logs map[string][]crdt.Operation
	seen map[string]map[crdt.LogicalId]struct{}
}

// Functions

// NewMemoryStore returns an empty initialized in-memory store.
func NewMemoryStore() *MemoryStore {

	return &MemoryStore{
		logs: make(map[string][]crdt.Operation),
		seen: make(map[string]map[crdt.LogicalId]struct{}),
	}
}

// LoadDocument implements Store.
func (s *MemoryStore) LoadDocument(docID string) ([]crdt.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	ops := make([]crdt.Operation, len(s.logs[docID]))
	copy(ops, s.logs[docID])

	return ops, nil
}

// StoreOperation implements Store.
func (s *MemoryStore) StoreOperation(docID string, op crdt.Operation) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.seen[docID] == nil {
		s.seen[docID] = make(map[crdt.LogicalId]struct{})
	}

	if _, found := s.seen[docID][op.ID]; found {
		return nil
	}

	s.seen[docID][op.ID] = struct{}{}
	s.logs[docID] = append(s.logs[docID], op)

	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
