/*
Package comm implements the peer-to-peer synchronization layer of loom.
Peers exchange digests summarizing the operations they have seen and ship
each other the deltas the other side misses, so that replicas converge even
across a partially-connected, unreliable network. Message formats and the
required parses are provided to transform received marshalled operations
and digests into structured ones; the reconciliation core itself stays
behind the Reconciler interface and never touches the wire.
*/
package comm
