/*
Package recon combines a document replica and its causal buffer into one
coherent reconciliation engine and exposes it behind the per-document
synchronization service that transport layers talk to. The service applies
locally-originated and remote operations through one identical code path,
answers peer reconciliation requests with compact digests and operation
deltas, and guarantees single-writer access to the replica it owns.
*/
package recon
