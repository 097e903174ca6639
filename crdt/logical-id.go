package crdt

import (
	"fmt"
	"strconv"
	"strings"
)

// Structs

// LogicalId is the globally unique, totally-ordered identifier
// attached to every mutation in a loom system. It combines the
// stable name of the replica that originated the mutation with
// that replica's Lamport-style counter value at origination time.
type LogicalId struct {
	Actor   string
	Counter uint64
}

// Functions

// IsZero reports whether id is the zero identifier. The zero
// identifier never names an operation or node; it marks the
// absence of a position reference (insert at document head).
func (id LogicalId) IsZero() bool {
	return (id.Actor == "") && (id.Counter == 0)
}

// Less defines the total order over logical ids: primary key
// is the counter, ties are broken by lexicographic comparison
// of the actor names. This order drives both causal-delivery
// checks and deterministic conflict resolution among concurrent
// siblings, so it has to agree across all replicas.
func (id LogicalId) Less(other LogicalId) bool {

	if id.Counter != other.Counter {
		return id.Counter < other.Counter
	}

	return id.Actor < other.Actor
}

// String marshalls id into its textual actor:counter form used
// inside sync messages and digests.
func (id LogicalId) String() string {
	return fmt.Sprintf("%s:%d", id.Actor, id.Counter)
}

// ParseId takes in the textual actor:counter representation of
// a logical id taken from network communication and turns it
// back into the defined struct representation.
func ParseId(raw string) (LogicalId, error) {

	// Split at last colon so that actor names
	// containing colons keep working.
	i := strings.LastIndex(raw, ":")
	if i < 1 {
		return LogicalId{}, fmt.Errorf("invalid logical id representation found during parsing")
	}

	counter, err := strconv.ParseUint(raw[(i+1):], 10, 64)
	if err != nil {
		return LogicalId{}, fmt.Errorf("invalid counter as element in logical id")
	}

	return LogicalId{
		Actor:   raw[:i],
		Counter: counter,
	}, nil
}
