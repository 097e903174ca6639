package store

import (
	"fmt"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

// Structs

// BoltStore keeps operation logs in a local bbolt file, one bucket
// per document. Operations are stored in their wire representation
// under actor:counter keys; counters are zero-padded so that bucket
// iteration yields per-actor ascending order, which minimizes
// causal buffering during bootstrap replay.
type BoltStore struct {
	db *bolt.DB
}

// Functions

// NewBoltStore opens (or creates) the bbolt file at path and
// returns a store backed by it.
func NewBoltStore(path string) (*BoltStore, error) {

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening bolt file at '%s' failed", path)
	}

	return &BoltStore{db: db}, nil
}

// LoadDocument implements Store.
func (s *BoltStore) LoadDocument(docID string) ([]crdt.Operation, error) {

	var ops []crdt.Operation

	err := s.db.View(func(tx *bolt.Tx) error {

		b := tx.Bucket([]byte(docID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k []byte, v []byte) error {

			op, err := comm.ParseOp(string(v))
			if err != nil {
				return errors.Wrapf(err, "corrupt operation under key '%s'", k)
			}

			ops = append(ops, op)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return ops, nil
}

// StoreOperation implements Store.
func (s *BoltStore) StoreOperation(docID string, op crdt.Operation) error {

	return s.db.Update(func(tx *bolt.Tx) error {

		b, err := tx.CreateBucketIfNotExists([]byte(docID))
		if err != nil {
			return errors.Wrap(err, "creating document bucket failed")
		}

		key := fmt.Sprintf("%s:%020d", op.ID.Actor, op.ID.Counter)

		return b.Put([]byte(key), []byte(comm.MarshalOp(op)))
	})
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
