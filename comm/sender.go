package comm

import (
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"

	"github.com/go-loom/loom/crdt"
)

// Structs

// Sender bundles information needed for shipping locally
// originated operations to all configured peers and for driving
// periodic anti-entropy reconciliation rounds with them. Each
// peer is served by its own goroutine so that one slow or
// unreachable peer never stalls the others.
type Sender struct {
	lock         sync.Mutex
	logger       log.Logger
	name         string
	recon        Reconciler
	peers        map[string]string
	inc          chan crdt.Operation
	down         chan struct{}
	syncInterval time.Duration
}

// Functions

// InitSender initializes a sender for the supplied peer set and
// returns a channel local processes can put freshly originated
// operations into, so that those operations will be communicated
// to all connected peers. A reconciliation round runs against each
// peer on every (re)connect and then periodically per the supplied
// interval, repairing whatever live broadcast missed.
func InitSender(logger log.Logger, name string, recon Reconciler, peers map[string]string, syncInterval time.Duration, down chan struct{}) chan crdt.Operation {

	sender := &Sender{
		logger:       logger,
		name:         name,
		recon:        recon,
		peers:        peers,
		inc:          make(chan crdt.Operation, 256),
		down:         down,
		syncInterval: syncInterval,
	}

	outs := make(map[string]chan crdt.Operation, len(peers))
	for peerName, peerAddr := range peers {

		out := make(chan crdt.Operation, 256)
		outs[peerName] = out

		go sender.servePeer(peerName, peerAddr, out)
	}

	go sender.fanOut(outs)

	return sender.inc
}

// fanOut distributes every local operation to all per-peer queues.
// A full queue is skipped rather than blocked on: the dropped
// operation reaches that peer through the next reconciliation
// round instead.
func (sender *Sender) fanOut(outs map[string]chan crdt.Operation) {

	for {

		select {

		case <-sender.down:
			return

		case op := <-sender.inc:

			for peerName, out := range outs {

				select {
				case out <- op:
				default:
					level.Debug(sender.logger).Log(
						"msg", "peer queue full, deferring operation to reconciliation",
						"peer", peerName,
						"id", op.ID.String(),
					)
				}
			}
		}
	}
}

// servePeer maintains the long-lived connection to one peer:
// connect with backoff, reconcile, then forward operations until
// the connection drops, and start over.
func (sender *Sender) servePeer(peerName string, peerAddr string, out chan crdt.Operation) {

	for {

		select {
		case <-sender.down:
			return
		default:
		}

		conn, err := ReliableConnect(peerName, peerAddr, sender.logger, 0)
		if err != nil {
			level.Warn(sender.logger).Log(
				"msg", "giving up on peer",
				"peer", peerName,
				"err", err,
			)
			return
		}

		sender.syncLoop(peerName, conn, out)

		conn.Close()
	}
}

// syncLoop drives one established peer connection: an immediate
// reconciliation round, then operation forwarding interleaved with
// periodic anti-entropy rounds. It returns when the connection
// fails or the sender shuts down.
func (sender *Sender) syncLoop(peerName string, conn *websocket.Conn, out chan crdt.Operation) {

	logger := log.With(sender.logger, "peer", peerName)

	if err := sender.reconcileRound(conn); err != nil {
		level.Info(logger).Log(
			"msg", "reconciliation round with peer failed",
			"err", err,
		)
		return
	}

	ticker := time.NewTicker(sender.syncInterval)
	defer ticker.Stop()

	for {

		select {

		case <-sender.down:
			return

		case op := <-out:

			msg := &Message{
				Sender: sender.name,
				Type:   TypeUpdate,
				Digest: sender.recon.Digest(),
				Ops:    []crdt.Operation{op},
			}

			if err := sender.write(conn, msg); err != nil {
				level.Info(logger).Log(
					"msg", "sending operation to peer failed, reconnecting",
					"err", err,
				)
				return
			}

		case <-ticker.C:

			if err := sender.reconcileRound(conn); err != nil {
				level.Info(logger).Log(
					"msg", "periodic reconciliation with peer failed, reconnecting",
					"err", err,
				)
				return
			}
		}
	}
}

// reconcileRound sends this replica's digest to the peer and
// merges the delta the peer answers with. The round is idempotent
// end-to-end, so a timed-out or failed round is simply retried in
// full later.
func (sender *Sender) reconcileRound(conn *websocket.Conn) error {

	req := &Message{
		Sender: sender.name,
		Type:   TypeReconcile,
		Digest: sender.recon.Digest(),
	}

	if err := sender.write(conn, req); err != nil {
		return err
	}

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	reply, err := Parse(string(raw))
	if err != nil {
		return err
	}

	if reply.Type != TypeDelta {
		return nil
	}

	return sender.recon.MergeDelta(reply.Digest, reply.Ops)
}

// write serializes access to the connection: operation forwarding
// and periodic reconciliation share it.
func (sender *Sender) write(conn *websocket.Conn, msg *Message) error {

	sender.lock.Lock()
	defer sender.lock.Unlock()

	return conn.WriteMessage(websocket.TextMessage, []byte(msg.String()))
}
