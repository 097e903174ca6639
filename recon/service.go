package recon

import (
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
	"github.com/go-loom/loom/store"
)

// Structs

// Service defines the interface the synchronization manager of one
// document replica provides. It is the only API surface exposed to
// the networking and transport layer: inbound operations, peer
// digests and reconciliation requests all enter through it, and it
// is used identically for locally-originated edits to guarantee
// uniform causal bookkeeping.
type Service interface {

	// Bootstrap replays the persisted operation log of this
	// document from the configured store into the fresh replica.
	Bootstrap() error

	// HandleIncomingEvent feeds one operation into the replica,
	// buffering causally-unready operations transparently. Used
	// for both local and remote operations.
	HandleIncomingEvent(op crdt.Operation) error

	// ReconcileWithPeer computes the operations to ship to a peer
	// whose digest was received out-of-band.
	ReconcileWithPeer(digest comm.Digest) []crdt.Operation

	// HandleReconciliationRequest is the symmetric inbound variant
	// answering a peer's digest with its missing operations.
	HandleReconciliationRequest(digest comm.Digest) []crdt.Operation

	// MergeDelta applies a batch of operations received as the
	// answer to a reconciliation round through the identical
	// apply path single operations take, then joins the remote
	// peer's digest into our own.
	MergeDelta(remote comm.Digest, ops []crdt.Operation) error

	// Digest returns a copy of this replica's own digest.
	Digest() comm.Digest

	// Visible returns the renderable document projection.
	Visible() []crdt.Node

	// VisibleText returns the concatenated plain-text projection.
	VisibleText() string

	// Actor returns the stable name of this replica.
	Actor() string

	// Insert originates a local insert of value after node
	// posBefore (zero id for document head) and returns the
	// operation to broadcast to peers.
	Insert(posBefore crdt.LogicalId, value string) (crdt.Operation, error)

	// Delete originates a local tombstoning of node target.
	Delete(target crdt.LogicalId) (crdt.Operation, error)

	// Update originates a local value replacement on node target.
	Update(target crdt.LogicalId, value string) (crdt.Operation, error)

	// Format originates a local style merge on node target.
	Format(target crdt.LogicalId, style map[string]string) (crdt.Operation, error)
}

type service struct {
	lock   sync.Mutex
	logger log.Logger
	engine *Engine
	str    store.Store
	docID  string
}

// Functions

// NewService takes in all required parameters for managing one
// replicated document and returns a service wrapping a freshly
// initialized engine. The service holds the per-document single-
// writer lock for the duration of each call, including recursive
// buffer drains; concurrent documents each get their own service.
func NewService(logger log.Logger, actor string, docID string, str store.Store) Service {

	return &service{
		logger: logger,
		engine: InitEngine(logger, actor),
		str:    str,
		docID:  docID,
	}
}

func (s *service) Bootstrap() error {

	s.lock.Lock()
	defer s.lock.Unlock()

	ops, err := s.str.LoadDocument(s.docID)
	if err != nil {
		return errors.Wrap(err, "loading persisted operation log failed")
	}

	for _, op := range ops {

		// Rejections of persisted operations are deterministic
		// and were logged when first encountered; replay must
		// not abort on them.
		if _, err := s.engine.ApplyEvent(op); err != nil && errors.Cause(err) != ErrUnknownDependency {
			return err
		}
	}

	// A persisted log can end ahead of what this replica ever
	// applied, e.g. after sharing a store with other replicas.
	// Surface what the fresh replica is now waiting on peers for.
	if pending := s.engine.PendingDependencies(); len(pending) > 0 {
		level.Info(s.logger).Log(
			"msg", "bootstrap left operations waiting on unseen dependencies",
			"blockedOn", len(pending),
		)
	}

	return nil
}

func (s *service) HandleIncomingEvent(op crdt.Operation) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.apply(op)
}

// apply runs one operation through the engine and persists it if
// it was newly recorded. Callers hold the lock.
func (s *service) apply(op crdt.Operation) error {

	recorded, err := s.engine.ApplyEvent(op)
	if err != nil {
		return err
	}

	if recorded {

		if err := s.str.StoreOperation(s.docID, op); err != nil {
			return errors.Wrap(err, "persisting operation failed")
		}
	}

	return nil
}

func (s *service) ReconcileWithPeer(digest comm.Digest) []crdt.Operation {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.ComputeDelta(digest)
}

func (s *service) HandleReconciliationRequest(digest comm.Digest) []crdt.Operation {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.ComputeDelta(digest)
}

func (s *service) MergeDelta(remote comm.Digest, ops []crdt.Operation) error {

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, op := range ops {

		// A structurally invalid operation inside a delta is
		// dropped on its own; the remaining batch still merges.
		if err := s.apply(op); err != nil && errors.Cause(err) != ErrUnknownDependency {
			return err
		}
	}

	// The delta was computed against our digest and covered every
	// actor, so the local log now holds everything the remote held
	// and its digest may be adopted entry by entry.
	s.engine.JoinDigest(remote)

	return nil
}

func (s *service) Digest() comm.Digest {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.Digest()
}

func (s *service) Visible() []crdt.Node {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.Visible()
}

func (s *service) VisibleText() string {

	s.lock.Lock()
	defer s.lock.Unlock()

	return s.engine.VisibleText()
}

func (s *service) Actor() string {
	return s.engine.actor
}

func (s *service) Insert(posBefore crdt.LogicalId, value string) (crdt.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := crdt.InsertOp(s.engine.NextId(), posBefore, value)

	return op, s.apply(op)
}

func (s *service) Delete(target crdt.LogicalId) (crdt.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := crdt.DeleteOp(s.engine.NextId(), target)

	return op, s.apply(op)
}

func (s *service) Update(target crdt.LogicalId, value string) (crdt.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := crdt.UpdateOp(s.engine.NextId(), target, value)

	return op, s.apply(op)
}

func (s *service) Format(target crdt.LogicalId, style map[string]string) (crdt.Operation, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	op := crdt.FormatOp(s.engine.NextId(), target, style)

	return op, s.apply(op)
}
