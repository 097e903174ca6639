package comm

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-loom/loom/crdt"
)

// Structs

// Reconciler is the surface of the reconciliation core this
// package needs: one entry point for live operations, one for
// answering digests, one for merging reconciliation deltas, and
// access to the replica's own digest for initiating rounds.
type Reconciler interface {
	HandleIncomingEvent(op crdt.Operation) error
	HandleReconciliationRequest(digest Digest) []crdt.Operation
	MergeDelta(remote Digest, ops []crdt.Operation) error
	Digest() Digest
}

// Functions

// ReliableConnect attempts to establish a websocket connection to
// the defined remote peer, backing off exponentially between
// attempts until the connection succeeds or the supplied maximum
// elapsed time runs out. Pass zero to keep retrying indefinitely.
func ReliableConnect(remoteName string, remoteAddr string, logger log.Logger, maxElapsed time.Duration) (*websocket.Conn, error) {

	var c *websocket.Conn

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = maxElapsed

	err := backoff.Retry(func() error {

		var err error

		c, _, err = websocket.DefaultDialer.Dial(remoteAddr, nil)
		if err != nil {
			level.Debug(logger).Log(
				"msg", "connection attempt to peer failed, backing off",
				"peer", remoteName,
				"err", err,
			)
		}

		return err
	}, policy)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to peer '%s'", remoteName)
	}

	level.Info(logger).Log(
		"msg", "successfully connected to peer",
		"peer", remoteName,
	)

	return c, nil
}
