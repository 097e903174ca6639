package crdt

// Kind names one of the four mutation kinds that
// together form the op log of a loom document.
type Kind string

// The four update operations a loom document accepts.
const (
	Insert Kind = "ins"
	Delete Kind = "del"
	Update Kind = "upd"
	Format Kind = "fmt"
)

// Structs

// Operation represents one broadcast op-based update message to
// all replicas of a document. Every operation carries its own
// logical id, distinct from any target it references, which is
// used for idempotent deduplication and for determining the
// operation's causal position among concurrent updates.
//
// The meaning of Target depends on Kind: for Insert it is the id
// of the left-neighbor node at insertion time (zero for insert at
// document head), for the other three kinds it is the id of the
// node being mutated.
type Operation struct {
	Kind   Kind
	ID     LogicalId
	Target LogicalId
	Value  string
	Style  map[string]string
}

// Functions

// Dependency returns the causal dependency this operation declares
// and whether it declares one at all. An Insert at document head is
// the only operation without a dependency.
func (op Operation) Dependency() (LogicalId, bool) {

	if (op.Kind == Insert) && op.Target.IsZero() {
		return LogicalId{}, false
	}

	return op.Target, true
}

// InsertOp builds the operation creating a new node carrying value
// immediately after node posBefore. Supply the zero LogicalId as
// posBefore to insert at the document head.
func InsertOp(id LogicalId, posBefore LogicalId, value string) Operation {

	return Operation{
		Kind:   Insert,
		ID:     id,
		Target: posBefore,
		Value:  value,
	}
}

// DeleteOp builds the operation marking node target as a tombstone.
func DeleteOp(id LogicalId, target LogicalId) Operation {

	return Operation{
		Kind:   Delete,
		ID:     id,
		Target: target,
	}
}

// UpdateOp builds the operation replacing the value payload of
// node target.
func UpdateOp(id LogicalId, target LogicalId, value string) Operation {

	return Operation{
		Kind:   Update,
		ID:     id,
		Target: target,
		Value:  value,
	}
}

// FormatOp builds the operation merging the supplied style
// attributes into node target.
func FormatOp(id LogicalId, target LogicalId, style map[string]string) Operation {

	return Operation{
		Kind:   Format,
		ID:     id,
		Target: target,
		Style:  style,
	}
}
