package comm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-loom/loom/crdt"
)

// Structs

// Digest is the compact reconciliation summary exchanged between
// peers: per actor the highest operation counter this replica has
// contiguously seen. Two peers handing each other their digests
// can compute the exact set of operations the other side misses
// without exchanging full histories.
type Digest map[string]uint64

// Functions

// InitDigest returns an empty initialized new digest.
func InitDigest() Digest {
	return make(Digest)
}

// Observe advances the digest entry for the actor of id if the
// id's counter extends it contiguously, and keeps advancing as
// long as the supplied known set covers the following counters.
// Contiguous advancement keeps the digest honest in face of
// operations arriving out of their per-actor order: a counter is
// only ever claimed once every counter below it has been received.
func (d Digest) Observe(id crdt.LogicalId, known func(crdt.LogicalId) bool) {

	next := d[id.Actor] + 1
	if id.Counter != next {
		return
	}

	d[id.Actor] = id.Counter

	// Fill the gap left by counters that arrived early.
	for known(crdt.LogicalId{Actor: id.Actor, Counter: d[id.Actor] + 1}) {
		d[id.Actor]++
	}
}

// Join raises every entry to the maximum of this digest and the
// supplied remote one. It is only sound after a full delta merge
// with that remote: the remote honestly held every operation up to
// its digest and has just shipped everything above ours, so the
// joined digest is covered by the local log again. Joining heals
// entries the contiguous per-operation advancement cannot reach,
// because Lamport counters leave gaps no operation ever fills.
func (d Digest) Join(remote Digest) {

	for actor, counter := range remote {

		if counter > d[actor] {
			d[actor] = counter
		}
	}
}

// Covers reports whether the digest claims to have seen the
// operation carrying the supplied id.
func (d Digest) Covers(id crdt.LogicalId) bool {
	return d[id.Actor] >= id.Counter
}

// Copy returns a deep copy of the digest so that callers can hand
// it across goroutine boundaries without sharing replica state.
func (d Digest) Copy() Digest {

	c := make(Digest, len(d))
	for actor, counter := range d {
		c[actor] = counter
	}

	return c
}

// String marshalls the digest into its actor:counter;actor:counter
// wire representation. Entries are emitted in sorted actor order so
// that the representation is deterministic. An empty digest is
// marshalled as a single dash.
func (d Digest) String() string {

	if len(d) == 0 {
		return "-"
	}

	actors := make([]string, 0, len(d))
	for actor := range d {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	entries := make([]string, 0, len(actors))
	for _, actor := range actors {
		entries = append(entries, fmt.Sprintf("%s:%d", actor, d[actor]))
	}

	return strings.Join(entries, ";")
}

// ParseDigest takes in the marshalled representation of a digest
// taken from network communication and turns it back into the
// defined map representation.
func ParseDigest(raw string) (Digest, error) {

	d := InitDigest()

	if raw == "-" {
		return d, nil
	}

	for _, pair := range strings.Split(raw, ";") {

		// Split at last colon, actors may contain colons.
		i := strings.LastIndex(pair, ":")
		if i < 1 {
			return nil, fmt.Errorf("invalid digest element")
		}

		counter, err := strconv.ParseUint(pair[(i+1):], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter as element in digest")
		}

		d[pair[:i]] = counter
	}

	return d, nil
}
