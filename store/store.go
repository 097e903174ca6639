// Package store persists the operation logs of replicated documents.
// It is a boundary collaborator of the reconciliation core: the core
// calls it only to bootstrap a replica or to persist an accepted
// operation, never mid-apply.
package store

import (
	"github.com/go-loom/loom/crdt"
)

// Store defines the persistence interface a loom
// deployment provides per process.
type Store interface {

	// LoadDocument returns the full persisted operation log of
	// one document. An unknown document id yields an empty log,
	// not an error: every document starts out empty.
	LoadDocument(docID string) ([]crdt.Operation, error)

	// StoreOperation appends one accepted operation to the
	// persisted log of the supplied document. Storing the same
	// operation twice is a no-op.
	StoreOperation(docID string, op crdt.Operation) error

	// Close releases the underlying storage resources.
	Close() error
}
