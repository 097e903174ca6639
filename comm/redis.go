package comm

import (
	"context"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-loom/loom/crdt"
)

// Structs

// RedisBroadcaster fans operations out over a redis pub/sub
// channel shared by all replicas of one document. It complements
// the direct peer mesh in deployments where replicas sit behind a
// common broker instead of dialing each other, and uses the exact
// same message format as the websocket path.
type RedisBroadcaster struct {
	logger  log.Logger
	name    string
	client  *redis.Client
	channel string
	recon   Reconciler
}

// Functions

// InitRedisBroadcaster connects to the supplied redis instance and
// returns a broadcaster publishing to and consuming from the
// channel of the supplied document.
func InitRedisBroadcaster(logger log.Logger, name string, addr string, password string, docID string, recon Reconciler) (*RedisBroadcaster, error) {

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis failed")
	}

	return &RedisBroadcaster{
		logger:  logger,
		name:    name,
		client:  client,
		channel: ("loom:" + docID),
		recon:   recon,
	}, nil
}

// Publish ships one locally originated operation to every replica
// subscribed to this document's channel.
func (b *RedisBroadcaster) Publish(op crdt.Operation) error {

	msg := &Message{
		Sender: b.name,
		Type:   TypeUpdate,
		Digest: b.recon.Digest(),
		Ops:    []crdt.Operation{op},
	}

	err := b.client.Publish(context.Background(), b.channel, msg.String()).Err()

	return errors.Wrap(err, "publishing operation to redis failed")
}

// Run consumes the document channel and merges every operation
// published by other replicas until the down channel closes.
func (b *RedisBroadcaster) Run(down chan struct{}) {

	pubsub := b.client.Subscribe(context.Background(), b.channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {

		select {

		case <-down:
			return

		case received, ok := <-ch:

			if !ok {
				return
			}

			msg, err := Parse(received.Payload)
			if err != nil {
				level.Warn(b.logger).Log(
					"msg", "discarding malformed broadcast message",
					"err", err,
				)
				continue
			}

			// Our own publications come back around.
			if msg.Sender == b.name {
				continue
			}

			// Broadcast operations take the live apply path; the
			// sender's digest is not joined, a single forwarded
			// operation proves nothing about what else it holds.
			for _, op := range msg.Ops {

				if err := b.recon.HandleIncomingEvent(op); err != nil {
					level.Warn(b.logger).Log(
						"msg", "failed to apply broadcast operation",
						"peer", msg.Sender,
						"id", op.ID.String(),
						"err", err,
					)
				}
			}
		}
	}
}

// Close tears down the redis connection.
func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
