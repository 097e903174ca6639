package crdt

import (
	"strings"
)

// Structs

// ApplyStatus distinguishes the three regular outcomes of feeding
// an operation into a document replica. None of them is an error:
// buffering and duplicate suppression are expected control flow in
// a partially-connected network.
type ApplyStatus int

const (
	// Applied signals that the operation mutated the replica.
	Applied ApplyStatus = iota
	// Buffered signals that the operation's causal dependency is
	// not yet resolved locally and the caller is expected to route
	// the operation into a Buffer instead.
	Buffered
	// AlreadyApplied signals that an operation with the same
	// logical id was processed before and no mutation took place.
	AlreadyApplied
)

// ApplyResult is returned by Document.Apply. Missing names the
// unresolved dependency when Status is Buffered and is the zero
// id otherwise.
type ApplyResult struct {
	Status  ApplyStatus
	Missing LogicalId
}

// Node is one element of the visible document projection.
type Node struct {
	ID        LogicalId
	Value     string
	Tombstone bool
	Style     map[string]string
}

// node is the internal replica state per document element. On top
// of the projected fields it records the id of the last operation
// that wrote the value and each style attribute, which last-writer-
// wins resolution among concurrent updates is keyed by.
type node struct {
	id          LogicalId
	value       string
	tombstone   bool
	style       map[string]string
	valueWriter LogicalId
	styleWriter map[string]LogicalId
}

// Document is one replica of the replicated rich-text structure.
// It holds the causal-tree node sequence in weave order, that is,
// the order the visible projection reads in, tombstones included.
type Document struct {
	weave []*node
	nodes map[LogicalId]*node
	seen  map[LogicalId]struct{}
}

// Functions

// InitDocument returns an empty initialized new document replica.
func InitDocument() *Document {

	return &Document{
		weave: make([]*node, 0, 32),
		nodes: make(map[LogicalId]*node),
		seen:  make(map[LogicalId]struct{}),
	}
}

// Seen reports whether an operation with the supplied id has
// already been applied at this replica.
func (d *Document) Seen(id LogicalId) bool {
	_, found := d.seen[id]
	return found
}

// HasNode reports whether a node with the supplied id exists at
// this replica, tombstoned or not.
func (d *Document) HasNode(id LogicalId) bool {
	_, found := d.nodes[id]
	return found
}

// Apply feeds one operation into the replica. It is idempotent:
// a duplicate delivery of an operation already processed returns
// AlreadyApplied and performs no mutation. An operation whose
// declared dependency is not resolved locally returns Buffered
// together with the missing id and also performs no mutation.
func (d *Document) Apply(op Operation) ApplyResult {

	// Deduplicate on the operation's own id.
	if d.Seen(op.ID) {
		return ApplyResult{Status: AlreadyApplied}
	}

	// Enforce causal readiness: the declared dependency has to be
	// present as a node (tombstoned or not) before we may apply.
	if dep, ok := op.Dependency(); ok {

		if !d.HasNode(dep) {
			return ApplyResult{Status: Buffered, Missing: dep}
		}
	}

	switch op.Kind {
	case Insert:
		d.applyInsert(op)
	case Delete:
		// Deleting an already-tombstoned node is a no-op success.
		d.nodes[op.Target].tombstone = true
	case Update:
		d.applyUpdate(op)
	case Format:
		d.applyFormat(op)
	}

	d.seen[op.ID] = struct{}{}

	return ApplyResult{Status: Applied}
}

// applyInsert places the new node immediately after its left
// neighbor, behind every existing right-sibling that orders ahead
// of it. Concurrent inserts after the same left neighbor are
// ordered by descending logical id, so we skip over all nodes
// carrying a greater id than the new one: those are either greater
// concurrent siblings or part of their subtrees, whose members
// always carry counters above their root's.
func (d *Document) applyInsert(op Operation) {

	at := 0
	if !op.Target.IsZero() {
		at = d.indexOf(op.Target) + 1
	}

	for at < len(d.weave) {

		if !op.ID.Less(d.weave[at].id) {
			break
		}
		at++
	}

	n := &node{
		id:          op.ID,
		value:       op.Value,
		valueWriter: op.ID,
		styleWriter: make(map[string]LogicalId),
	}

	d.weave = append(d.weave, nil)
	copy(d.weave[(at+1):], d.weave[at:])
	d.weave[at] = n
	d.nodes[op.ID] = n
}

// applyUpdate replaces the node's value if the incoming operation
// out-orders the currently recorded last writer. A losing update
// is still a successfully processed operation.
func (d *Document) applyUpdate(op Operation) {

	n := d.nodes[op.Target]

	if n.valueWriter.Less(op.ID) {
		n.value = op.Value
		n.valueWriter = op.ID
	}
}

// applyFormat merges the operation's style attributes into the
// node, attribute by attribute, each one last-writer-wins against
// the id that wrote it previously.
func (d *Document) applyFormat(op Operation) {

	n := d.nodes[op.Target]

	for attr, value := range op.Style {

		writer, found := n.styleWriter[attr]
		if found && !writer.Less(op.ID) {
			continue
		}

		if n.style == nil {
			n.style = make(map[string]string)
		}
		n.style[attr] = value
		n.styleWriter[attr] = op.ID
	}
}

// indexOf searches the weave for the node carrying the supplied
// id. Callers have to ensure the node exists.
func (d *Document) indexOf(id LogicalId) int {

	for i, n := range d.weave {

		if n.id == id {
			return i
		}
	}

	return -1
}

// VisibleSequence produces the renderable document: the ordered
// projection of all non-tombstoned nodes. It is side-effect-free
// and hands out copies, so callers may not mutate replica state
// through the returned slice.
func (d *Document) VisibleSequence() []Node {

	visible := make([]Node, 0, len(d.weave))

	for _, n := range d.weave {

		if n.tombstone {
			continue
		}

		projected := Node{
			ID:    n.id,
			Value: n.value,
		}

		if len(n.style) > 0 {
			projected.Style = make(map[string]string, len(n.style))
			for attr, value := range n.style {
				projected.Style[attr] = value
			}
		}

		visible = append(visible, projected)
	}

	return visible
}

// VisibleString concatenates the values of the visible sequence.
// Convenience projection for plain-text consumers and tests.
func (d *Document) VisibleString() string {

	var b strings.Builder

	for _, n := range d.weave {

		if !n.tombstone {
			b.WriteString(n.value)
		}
	}

	return b.String()
}
