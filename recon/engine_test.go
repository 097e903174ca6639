package recon

import (
	"testing"

	"math/rand"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/go-loom/loom/comm"
	"github.com/go-loom/loom/crdt"
)

// Functions

func lid(actor string, counter uint64) crdt.LogicalId {
	return crdt.LogicalId{Actor: actor, Counter: counter}
}

// editScript returns a fixed three-actor operation history with
// causal dependencies crossing actor boundaries.
func editScript() []crdt.Operation {

	return []crdt.Operation{
		crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "w"),
		crdt.InsertOp(lid("A", 2), lid("A", 1), "o"),
		crdt.InsertOp(lid("B", 3), lid("A", 2), "v"),
		crdt.InsertOp(lid("C", 3), lid("A", 2), "e"),
		crdt.UpdateOp(lid("B", 4), lid("B", 3), "n"),
		crdt.DeleteOp(lid("C", 4), lid("A", 1)),
		crdt.FormatOp(lid("A", 5), lid("A", 2), map[string]string{"bold": "true"}),
	}
}

// TestApplyEventConvergence executes a white-box unit test on
// implemented ApplyEvent() function: every delivery order of the
// same operation set has to produce the identical replica.
func TestApplyEventConvergence(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	ops := editScript()

	// Establish the reference replica via in-order delivery.
	reference := InitEngine(logger, "ref")
	for _, op := range ops {

		_, err := reference.ApplyEvent(op)
		assert.Nilf(t, err, "expected nil error for in-order ApplyEvent() but received: %v", err)
	}

	assert.Equalf(t, 0, reference.BufferLen(), "expected empty buffer after in-order delivery but found %d waiting operations", reference.BufferLen())

	// Replay shuffled copies of the history against fresh replicas.
	rnd := rand.New(rand.NewSource(42))

	for run := 0; run < 25; run++ {

		shuffled := make([]crdt.Operation, len(ops))
		copy(shuffled, ops)
		rnd.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		e := InitEngine(logger, "replica")
		for _, op := range shuffled {

			_, err := e.ApplyEvent(op)
			assert.Nilf(t, err, "run %d: expected nil error for ApplyEvent() but received: %v", run, err)
		}

		assert.Equalf(t, reference.VisibleText(), e.VisibleText(), "run %d: expected converged text '%s' but found: '%s'", run, reference.VisibleText(), e.VisibleText())
		assert.Equalf(t, reference.Visible(), e.Visible(), "run %d: expected converged node sequences but they differ", run)
		assert.Equalf(t, 0, e.BufferLen(), "run %d: expected empty buffer after full delivery but found %d waiting operations", run, e.BufferLen())
		assert.Equalf(t, reference.Digest(), e.Digest(), "run %d: expected converged digests but they differ", run)
	}
}

// TestApplyEventBuffering checks that a causally unready operation
// stays invisible until its dependency arrives and that the drain
// releases chains of waiting operations.
func TestApplyEventBuffering(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")

	// Deliver a three-node chain in reverse order.
	recorded, err := e.ApplyEvent(crdt.InsertOp(lid("A", 3), lid("A", 2), "c"))
	assert.Nilf(t, err, "expected nil error for buffered ApplyEvent() but received: %v", err)
	assert.Equalf(t, true, recorded, "expected buffered operation to be recorded for persistence")

	_, err = e.ApplyEvent(crdt.InsertOp(lid("A", 2), lid("A", 1), "b"))
	assert.Nilf(t, err, "expected nil error for buffered ApplyEvent() but received: %v", err)

	assert.Equalf(t, 2, e.BufferLen(), "expected 2 waiting operations but found %d", e.BufferLen())
	assert.Equalf(t, "", e.VisibleText(), "expected buffered operations to stay invisible but found: '%s'", e.VisibleText())

	// The head insert unlocks the entire chain.
	_, err = e.ApplyEvent(crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "a"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	assert.Equalf(t, 0, e.BufferLen(), "expected drained buffer but found %d waiting operations", e.BufferLen())
	assert.Equalf(t, "abc", e.VisibleText(), "expected 'abc' after drain but found: '%s'", e.VisibleText())
	assert.Equalf(t, comm.Digest{"A": 3}, e.Digest(), "expected digest A:3 after drain but found: %v", e.Digest())
}

// TestApplyEventDuplicate checks engine-level deduplication across
// applied and buffered operations.
func TestApplyEventDuplicate(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")

	op := crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "x")

	recorded, err := e.ApplyEvent(op)
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)
	assert.Equalf(t, true, recorded, "expected first delivery to be recorded")

	recorded, err = e.ApplyEvent(op)
	assert.Nilf(t, err, "expected nil error for duplicate ApplyEvent() but received: %v", err)
	assert.Equalf(t, false, recorded, "expected duplicate delivery to not be recorded again")

	// A buffered operation is deduplicated as well.
	waiting := crdt.DeleteOp(lid("B", 2), lid("A", 9))

	recorded, err = e.ApplyEvent(waiting)
	assert.Nilf(t, err, "expected nil error for buffered ApplyEvent() but received: %v", err)
	assert.Equalf(t, true, recorded, "expected buffered operation to be recorded")

	recorded, err = e.ApplyEvent(waiting)
	assert.Nilf(t, err, "expected nil error for duplicate buffered ApplyEvent() but received: %v", err)
	assert.Equalf(t, false, recorded, "expected duplicate of buffered operation to not be recorded again")
	assert.Equalf(t, 1, e.BufferLen(), "expected single buffered instance but found %d", e.BufferLen())
}

// TestNextId checks the Lamport advancement of locally handed out
// ids past every observed remote counter.
func TestNextId(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "local")

	id := e.NextId()
	assert.Equalf(t, lid("local", 1), id, "expected first id local:1 but received: %v", id)

	// Observe a remote operation far ahead.
	_, err := e.ApplyEvent(crdt.InsertOp(lid("remote", 1), crdt.LogicalId{}, "x"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	_, err = e.ApplyEvent(crdt.InsertOp(lid("remote", 7), lid("remote", 1), "y"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	id = e.NextId()
	assert.Equalf(t, lid("local", 8), id, "expected next id to advance past remote:7 but received: %v", id)
}

// TestComputeDelta checks that exactly the operations the remote
// digest misses are returned, per actor in ascending counter order.
func TestComputeDelta(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")
	for _, op := range editScript() {

		_, err := e.ApplyEvent(op)
		assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)
	}

	// A remote peer that has seen nothing receives everything.
	delta := e.ComputeDelta(comm.InitDigest())
	assert.Equalf(t, len(editScript()), len(delta), "expected full history for empty digest but received %d operations", len(delta))

	// A remote peer missing the tail of A and all of C.
	delta = e.ComputeDelta(comm.Digest{"A": 2, "B": 4})

	expected := []crdt.LogicalId{lid("A", 5), lid("C", 3), lid("C", 4)}

	ids := make([]crdt.LogicalId, len(delta))
	for i, op := range delta {
		ids[i] = op.ID
	}

	assert.Equalf(t, expected, ids, "expected delta ids %v but received: %v", expected, ids)

	// A fully caught-up remote peer receives nothing.
	delta = e.ComputeDelta(comm.Digest{"A": 5, "B": 4, "C": 4})
	assert.Equalf(t, 0, len(delta), "expected empty delta for up-to-date peer but received %d operations", len(delta))
}

// TestJoinDigest checks that merging a full delta lets the digest
// adopt the remote's entries across the gaps Lamport counters
// leave in per-actor histories.
func TestJoinDigest(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	remote := InitEngine(logger, "remote")
	for _, op := range editScript() {

		_, err := remote.ApplyEvent(op)
		assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)
	}

	// The true coverage of the remote log: actor B's history
	// starts at counter 3, so contiguous advancement alone can
	// never claim it.
	remoteDigest := remote.Digest()
	remoteDigest.Join(comm.Digest{"A": 5, "B": 4, "C": 4})

	local := InitEngine(logger, "local")

	for _, op := range remote.ComputeDelta(local.Digest()) {

		_, err := local.ApplyEvent(op)
		assert.Nilf(t, err, "expected nil error for delta ApplyEvent() but received: %v", err)
	}

	local.JoinDigest(remoteDigest)

	assert.Equalf(t, remote.VisibleText(), local.VisibleText(), "expected replicas to agree after delta merge but found '%s' and '%s'", remote.VisibleText(), local.VisibleText())

	// After the join, a reconciliation round back carries nothing.
	back := remote.ComputeDelta(local.Digest())
	assert.Equalf(t, 0, len(back), "expected empty follow-up delta after digest join but received %d operations", len(back))
}

// TestDigestOwnActor checks that locally originated operations
// advance the replica's own digest entry even across Lamport
// counter jumps.
func TestDigestOwnActor(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "local")

	// Observe a remote head insert so the next local counter
	// jumps past it.
	_, err := e.ApplyEvent(crdt.InsertOp(lid("remote", 3), crdt.LogicalId{}, "x"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	op := crdt.InsertOp(e.NextId(), lid("remote", 3), "y")
	assert.Equalf(t, uint64(4), op.ID.Counter, "expected local counter to jump to 4 but received: %d", op.ID.Counter)

	_, err = e.ApplyEvent(op)
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	assert.Equalf(t, uint64(4), e.Digest()["local"], "expected own digest entry to jump to 4 but found: %d", e.Digest()["local"])
}

// TestApplyEventRejection checks permanent rejection of operations
// whose dependency is proven to never become a node, including the
// cascade onto operations waiting on the rejected one.
func TestApplyEventRejection(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")

	_, err := e.ApplyEvent(crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "x"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	del := crdt.DeleteOp(lid("A", 2), lid("A", 1))
	_, err = e.ApplyEvent(del)
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	// An insert naming the delete operation's id as its left
	// neighbor references something that is not a node.
	invalid := crdt.InsertOp(lid("B", 3), del.ID, "!")

	recorded, err := e.ApplyEvent(invalid)
	assert.Equalf(t, false, recorded, "expected rejected operation to not be recorded")
	assert.Equalf(t, ErrUnknownDependency, errors.Cause(err), "expected ErrUnknownDependency but received: %v", err)

	// A second delivery of the rejected operation stays dropped
	// without raising the error again.
	recorded, err = e.ApplyEvent(invalid)
	assert.Nilf(t, err, "expected nil error for duplicate of rejected operation but received: %v", err)
	assert.Equalf(t, false, recorded, "expected duplicate of rejected operation to not be recorded")

	// An operation depending on the rejected insert is rejected
	// immediately as well.
	dependent := crdt.UpdateOp(lid("B", 4), invalid.ID, "y")

	_, err = e.ApplyEvent(dependent)
	assert.Equalf(t, ErrUnknownDependency, errors.Cause(err), "expected cascading ErrUnknownDependency but received: %v", err)

	// Rejected operations never end up in deltas for peers.
	delta := e.ComputeDelta(comm.InitDigest())

	for _, op := range delta {
		assert.NotEqualf(t, invalid.ID, op.ID, "expected rejected operation to be absent from delta but found: %v", op.ID)
		assert.NotEqualf(t, dependent.ID, op.ID, "expected cascade-rejected operation to be absent from delta but found: %v", op.ID)
	}

	assert.Equalf(t, 0, e.BufferLen(), "expected no leaked buffer entries after rejection but found %d", e.BufferLen())

	// The delete legitimately tombstoned the only node; the
	// rejected operations must not have changed that.
	assert.Equalf(t, "", e.VisibleText(), "expected document to stay unchanged by rejected operations but found: '%s'", e.VisibleText())
}

// TestRejectionCascadeFromBuffer checks that an operation buffered
// on a dependency which later turns out to be rejected is dropped
// and unrecorded again.
func TestRejectionCascadeFromBuffer(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")

	// An update waiting on B:3 arrives first and is buffered.
	waiter := crdt.UpdateOp(lid("C", 4), lid("B", 3), "y")

	recorded, err := e.ApplyEvent(waiter)
	assert.Nilf(t, err, "expected nil error for buffered ApplyEvent() but received: %v", err)
	assert.Equalf(t, true, recorded, "expected waiting operation to be recorded while buffered")

	// Now B:3 materializes as an insert after a non-node id and
	// is rejected, which has to take the waiter down with it.
	_, err = e.ApplyEvent(crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "x"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	del := crdt.DeleteOp(lid("A", 2), lid("A", 1))
	_, err = e.ApplyEvent(del)
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	_, err = e.ApplyEvent(crdt.InsertOp(lid("B", 3), del.ID, "!"))
	assert.Equalf(t, ErrUnknownDependency, errors.Cause(err), "expected ErrUnknownDependency but received: %v", err)

	assert.Equalf(t, 0, e.BufferLen(), "expected cascade to clear the buffer but found %d waiting operations", e.BufferLen())

	// The unrecorded waiter is gone from deltas.
	delta := e.ComputeDelta(comm.InitDigest())

	for _, op := range delta {
		assert.NotEqualf(t, waiter.ID, op.ID, "expected cascade-rejected operation to be absent from delta but found: %v", op.ID)
	}
}

// TestDigestGapFill checks that the digest only advances over
// contiguously received counters and catches up once a gap closes.
func TestDigestGapFill(t *testing.T) {

	// Create logger.
	logger := log.NewNopLogger()

	e := InitEngine(logger, "replica")

	_, err := e.ApplyEvent(crdt.InsertOp(lid("A", 1), crdt.LogicalId{}, "a"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	// Counter 3 arrives before counter 2.
	_, err = e.ApplyEvent(crdt.InsertOp(lid("A", 3), lid("A", 1), "c"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	assert.Equalf(t, comm.Digest{"A": 1}, e.Digest(), "expected digest to hold at A:1 across the gap but found: %v", e.Digest())

	_, err = e.ApplyEvent(crdt.InsertOp(lid("A", 2), lid("A", 1), "b"))
	assert.Nilf(t, err, "expected nil error for ApplyEvent() but received: %v", err)

	assert.Equalf(t, comm.Digest{"A": 3}, e.Digest(), "expected digest to catch up to A:3 but found: %v", e.Digest())
}
