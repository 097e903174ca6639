package comm

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/websocket"
)

// Structs

// Receiver terminates inbound peer connections for one document
// replica. Every connected peer pushes update and reconciliation
// messages over its websocket; the receiver decodes them, routes
// operations into the reconciliation core and answers digest
// requests with the computed deltas.
type Receiver struct {
	logger   log.Logger
	name     string
	recon    Reconciler
	upgrader websocket.Upgrader
}

// Functions

// InitReceiver initializes a receiver for inbound peer sync
// traffic addressed at this replica.
func InitReceiver(logger log.Logger, name string, recon Reconciler) *Receiver {

	return &Receiver{
		logger: logger,
		name:   name,
		recon:  recon,
		upgrader: websocket.Upgrader{
			// Peer identity is not derived from the HTTP origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades an inbound peer request to a websocket and
// serves sync messages on it until the peer disconnects.
func (recv *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {

	conn, err := recv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		level.Info(recv.logger).Log(
			"msg", "failed to upgrade inbound peer connection",
			"err", err,
		)
		return
	}
	defer conn.Close()

	for {

		_, raw, err := conn.ReadMessage()
		if err != nil {
			level.Debug(recv.logger).Log(
				"msg", "peer connection closed",
				"err", err,
			)
			return
		}

		recv.handleMessage(conn, string(raw))
	}
}

// handleMessage decodes and dispatches one inbound sync message.
// Malformed wire data is this layer's responsibility: it is logged
// and discarded without ever reaching the reconciliation core.
func (recv *Receiver) handleMessage(conn *websocket.Conn, raw string) {

	msg, err := Parse(raw)
	if err != nil {
		level.Warn(recv.logger).Log(
			"msg", "discarding malformed sync message",
			"err", err,
		)
		return
	}

	logger := log.With(recv.logger, "peer", msg.Sender)

	switch msg.Type {

	case TypeUpdate:

		// Live broadcast: feed each operation through the apply
		// path on its own. The sender's digest is not joined here,
		// a single forwarded operation proves nothing about what
		// else the sender holds.
		for _, op := range msg.Ops {

			if err := recv.recon.HandleIncomingEvent(op); err != nil {
				level.Warn(logger).Log(
					"msg", "failed to apply operation from peer",
					"id", op.ID.String(),
					"err", err,
				)
			}
		}

	case TypeDelta:

		if err := recv.recon.MergeDelta(msg.Digest, msg.Ops); err != nil {
			level.Warn(logger).Log(
				"msg", "failed to merge delta from peer",
				"err", err,
			)
		}

	case TypeReconcile:

		delta := recv.recon.HandleReconciliationRequest(msg.Digest)

		reply := &Message{
			Sender: recv.name,
			Type:   TypeDelta,
			Digest: recv.recon.Digest(),
			Ops:    delta,
		}

		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply.String())); err != nil {
			level.Info(logger).Log(
				"msg", "failed to answer reconciliation request",
				"err", err,
			)
		}
	}
}
