package recon

import (
	"sort"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

// ErrUnknownDependency marks an operation whose declared dependency
// is proven to never become a node at this replica, e.g. because the
// operation carrying that id is known and is not an insert. Such
// operations are permanently rejected and dropped, never retried:
// retrying cannot make a non-existent dependency appear.
var ErrUnknownDependency = errors.New("operation references a dependency that can never exist")

// Structs

// Engine owns one document replica together with its causal buffer,
// the per-actor operation log and the replica's own digest. It is
// the single place combining "apply a remote or local operation"
// with delta computation for peer sync.
//
// Engine performs no locking of its own; the service wrapping it
// holds the per-document single-writer lock across every call.
type Engine struct {
	logger   log.Logger
	actor    string
	doc      *crdt.Document
	buf      *crdt.Buffer
	digest   comm.Digest
	oplog    map[string][]crdt.Operation
	known    map[crdt.LogicalId]crdt.Kind
	rejected map[crdt.LogicalId]struct{}
	maxSeen  uint64
}

// Functions

// InitEngine returns an initialized engine for an empty replica
// owned by the supplied actor.
func InitEngine(logger log.Logger, actor string) *Engine {

	return &Engine{
		logger:   logger,
		actor:    actor,
		doc:      crdt.InitDocument(),
		buf:      crdt.InitBuffer(),
		digest:   comm.InitDigest(),
		oplog:    make(map[string][]crdt.Operation),
		known:    make(map[crdt.LogicalId]crdt.Kind),
		rejected: make(map[crdt.LogicalId]struct{}),
	}
}

// NextId hands out the logical id for the next locally-originated
// operation. Counters advance Lamport-style: always past the
// highest counter observed from any actor, so that a new operation
// orders after every operation it could causally depend on.
func (e *Engine) NextId() crdt.LogicalId {

	e.maxSeen++

	return crdt.LogicalId{
		Actor:   e.actor,
		Counter: e.maxSeen,
	}
}

// ApplyEvent feeds one operation into the replica, buffering it if
// its causal dependency has not arrived yet and draining every
// operation the application unlocks until a fixed point is reached.
// The returned bool reports whether the operation was newly
// recorded into the log, so that the caller knows to persist it.
//
// Buffering and duplicate delivery are not errors. The only error
// condition is a structurally invalid operation whose dependency
// can never exist; it is logged and dropped.
func (e *Engine) ApplyEvent(op crdt.Operation) (bool, error) {

	// Deduplicate on the operation's own id, covering both
	// already-applied and currently-buffered operations.
	if _, found := e.known[op.ID]; found {
		return false, nil
	}
	if _, found := e.rejected[op.ID]; found {
		return false, nil
	}

	res := e.doc.Apply(op)

	switch res.Status {

	case crdt.Buffered:

		if e.neverResolves(res.Missing) {
			e.reject(op, res.Missing)
			return false, errors.Wrapf(ErrUnknownDependency, "dependency %v", res.Missing)
		}

		e.record(op)
		e.buf.Enqueue(op, res.Missing)

		return true, nil

	case crdt.AlreadyApplied:
		return false, nil
	}

	e.record(op)
	e.drainFrom(op.ID)

	return true, nil
}

// drainFrom releases every buffered operation waiting on the just
// applied id and feeds each one back through the replica, which may
// unlock further buffered operations in turn. This is a fixed-point
// loop over a work list, not a single pass.
func (e *Engine) drainFrom(id crdt.LogicalId) {

	work := e.buf.DependencyResolved(id)

	for len(work) > 0 {

		op := work[0]
		work = work[1:]

		res := e.doc.Apply(op)

		switch res.Status {

		case crdt.Applied:
			work = append(work, e.buf.DependencyResolved(op.ID)...)

		case crdt.Buffered:

			// A released operation can still block: its dependency
			// was an operation id, not a node id. Re-check whether
			// the dependency can resolve at all.
			if e.neverResolves(res.Missing) {
				e.reject(op, res.Missing)
				continue
			}

			e.buf.Enqueue(op, res.Missing)
		}
	}
}

// neverResolves reports whether the supplied dependency id is
// proven to never become a node at this replica: the operation
// carrying that id is known and is not an insert, or it was itself
// permanently rejected.
func (e *Engine) neverResolves(dep crdt.LogicalId) bool {

	if _, found := e.rejected[dep]; found {
		return true
	}

	kind, found := e.known[dep]

	return found && (kind != crdt.Insert)
}

// reject permanently drops an operation, logs it for observability
// and cascades to every buffered operation waiting on its id: those
// were waiting on a node that will now never be created.
func (e *Engine) reject(op crdt.Operation, missing crdt.LogicalId) {

	e.rejected[op.ID] = struct{}{}

	// Remove the operation from the log if it was buffered before
	// its dependency turned out to be permanently unknown.
	e.unrecord(op.ID)

	level.Warn(e.logger).Log(
		"msg", "permanently rejected operation with unresolvable dependency",
		"op", string(op.Kind),
		"id", op.ID.String(),
		"missing", missing.String(),
	)

	for _, waiter := range e.buf.DependencyResolved(op.ID) {
		e.reject(waiter, op.ID)
	}
}

// record inserts a newly received operation into the per-actor log
// at its counter position and advances digest and Lamport horizon.
func (e *Engine) record(op crdt.Operation) {

	e.known[op.ID] = op.Kind

	actorLog := e.oplog[op.ID.Actor]
	at := sort.Search(len(actorLog), func(i int) bool {
		return actorLog[i].ID.Counter >= op.ID.Counter
	})

	actorLog = append(actorLog, crdt.Operation{})
	copy(actorLog[(at+1):], actorLog[at:])
	actorLog[at] = op
	e.oplog[op.ID.Actor] = actorLog

	// Our own log is complete by construction, so the entry for
	// this replica's actor may jump straight to the latest counter
	// even across the gaps Lamport advancement leaves.
	if (op.ID.Actor == e.actor) && (op.ID.Counter > e.digest[e.actor]) {
		e.digest[e.actor] = op.ID.Counter
	} else {
		e.digest.Observe(op.ID, func(id crdt.LogicalId) bool {
			_, found := e.known[id]
			return found
		})
	}

	if op.ID.Counter > e.maxSeen {
		e.maxSeen = op.ID.Counter
	}
}

// unrecord removes an operation from log and known set again. Only
// used when a buffered operation is rejected after the fact.
func (e *Engine) unrecord(id crdt.LogicalId) {

	if _, found := e.known[id]; !found {
		return
	}

	delete(e.known, id)

	actorLog := e.oplog[id.Actor]
	for i, op := range actorLog {

		if op.ID == id {
			e.oplog[id.Actor] = append(actorLog[:i], actorLog[(i+1):]...)
			break
		}
	}
}

// ComputeDelta returns every locally-known operation whose counter
// exceeds the remote digest's entry for its actor, per actor in
// ascending counter order. Ascending order minimizes buffering on
// the receiving side; cross-actor order is irrelevant because the
// apply path is order-tolerant.
func (e *Engine) ComputeDelta(remote comm.Digest) []crdt.Operation {

	actors := make([]string, 0, len(e.oplog))
	for actor := range e.oplog {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	var delta []crdt.Operation

	for _, actor := range actors {

		actorLog := e.oplog[actor]

		// A remote covering the actor's newest operation misses
		// nothing from that actor.
		if (len(actorLog) == 0) || remote.Covers(actorLog[(len(actorLog)-1)].ID) {
			continue
		}

		at := sort.Search(len(actorLog), func(i int) bool {
			return actorLog[i].ID.Counter > remote[actor]
		})

		delta = append(delta, actorLog[at:]...)
	}

	return delta
}

// JoinDigest raises the replica's digest to cover everything the
// remote digest covers. Callers may only join after merging a full
// delta computed against our own digest: at that point the local
// log holds everything the remote held, and the join repairs the
// entries that contiguous advancement cannot cross because Lamport
// counters leave gaps no operation ever fills.
func (e *Engine) JoinDigest(remote comm.Digest) {
	e.digest.Join(remote)
}

// Digest returns a copy of the replica's own digest.
func (e *Engine) Digest() comm.Digest {
	return e.digest.Copy()
}

// Visible returns the replica's renderable node sequence.
func (e *Engine) Visible() []crdt.Node {
	return e.doc.VisibleSequence()
}

// VisibleText returns the concatenated plain-text projection.
func (e *Engine) VisibleText() string {
	return e.doc.VisibleString()
}

// BufferLen reports how many operations currently wait on missing
// dependencies.
func (e *Engine) BufferLen() int {
	return e.buf.Len()
}

// PendingDependencies returns the ids of the missing operations
// currently blocking at least one buffered operation, i.e. what
// this replica is waiting on its peers for.
func (e *Engine) PendingDependencies() []crdt.LogicalId {
	return e.buf.Pending()
}
