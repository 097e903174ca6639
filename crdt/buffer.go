package crdt

// Structs

// Buffer holds operations that arrived before their causal
// dependency and releases them the moment that dependency is
// applied. Operations are never dropped: they either wait or
// they are handed back exactly once via DependencyResolved.
type Buffer struct {
	waiting map[LogicalId][]Operation
	size    int
}

// Functions

// InitBuffer returns an empty initialized new causal buffer.
func InitBuffer() *Buffer {

	return &Buffer{
		waiting: make(map[LogicalId][]Operation),
	}
}

// Enqueue appends op to the queue of operations waiting on the
// supplied missing dependency.
func (b *Buffer) Enqueue(op Operation, missing LogicalId) {
	b.waiting[missing] = append(b.waiting[missing], op)
	b.size++
}

// DependencyResolved drains and returns every buffered operation
// that was waiting on id, in FIFO arrival order. The caller has to
// feed each returned operation back through Document.Apply, which
// may in turn unlock further buffered operations: releasing is a
// fixed-point loop, not a single pass.
func (b *Buffer) DependencyResolved(id LogicalId) []Operation {

	released, found := b.waiting[id]
	if !found {
		return nil
	}

	delete(b.waiting, id)
	b.size -= len(released)

	return released
}

// Waiting reports whether at least one operation is currently
// buffered on the supplied dependency.
func (b *Buffer) Waiting(id LogicalId) bool {
	return len(b.waiting[id]) > 0
}

// Len returns the total number of buffered operations.
func (b *Buffer) Len() int {
	return b.size
}

// Pending returns the set of dependencies currently blocking at
// least one operation. Callers use it to surface which missing
// operations a replica is waiting on its peers for.
func (b *Buffer) Pending() []LogicalId {

	pending := make([]LogicalId, 0, len(b.waiting))
	for id := range b.waiting {
		pending = append(pending, id)
	}

	return pending
}
