/*
Package crdt implements the operation-based replicated document structure
(a causal tree over rich-text nodes) upon that the CmRDT parts of loom are
built, together with the causal buffer holding operations whose dependencies
have not yet arrived.

CAUTION! Consider these two requirements:
* For correct operation and results we expect every operation's causal
  dependency to be enforced before application, as provided by, for example,
  loom's package recon together with the Buffer of this package.
* Access to the functions this package provides is expected to be synchronized
  explicitly by some outside measures, e.g. by wrapping calls to this package
  with a mutex lock if concurrent access is possible. This package does not(!)
  synchronize access by itself.

The document implementation of this package is a practical derivation from
the replicated growable array structure by Roh, Jeon, Kim and Lee, resolving
order among concurrent siblings deterministically by their logical ids.
*/
package crdt
