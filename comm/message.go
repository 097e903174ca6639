package comm

import (
	"fmt"
	"strings"

	"encoding/base64"

	"github.com/go-loom/loom/crdt"
)

// Type names the purpose of a sync message exchanged
// between two loom peers.
type Type string

const (
	// TypeUpdate carries freshly originated operations
	// broadcast to all connected peers.
	TypeUpdate Type = "upd"
	// TypeReconcile requests the receiver to answer with
	// the delta of operations the sender's digest misses.
	TypeReconcile Type = "rec"
	// TypeDelta answers a reconcile request and carries
	// the computed missing operations.
	TypeDelta Type = "dlt"
)

// Structs

// Message represents one synchronization message between peers in
// a loom system. It consists of the originating peer's name, that
// peer's current digest and an optional batch of operations to
// apply at the receiver's replica.
type Message struct {
	Sender string
	Type   Type
	Digest Digest
	Ops    []crdt.Operation
}

// Functions

// InitMessage returns a fresh Message variable.
func InitMessage() *Message {

	return &Message{
		Digest: InitDigest(),
	}
}

// String marshalls given Message m into string representation so
// that we can send it out onto the peer connection. The layout is
// sender|type|digest|operations with operations separated by
// commas and a single dash standing in for an empty batch.
func (m *Message) String() string {

	ops := "-"

	if len(m.Ops) > 0 {

		marshalled := make([]string, len(m.Ops))
		for i, op := range m.Ops {
			marshalled[i] = MarshalOp(op)
		}

		ops = strings.Join(marshalled, ",")
	}

	return fmt.Sprintf("%s|%s|%s|%s", m.Sender, m.Type, m.Digest.String(), ops)
}

// Parse takes in supplied string representing a received message
// and parses it back into message struct form.
func Parse(msg string) (*Message, error) {

	m := InitMessage()

	// Remove attached newline symbol.
	msg = strings.TrimRight(msg, "\n")

	// Split message at pipe symbol at maximum three times.
	parts := strings.SplitN(msg, "|", 4)

	// Messages with less than four parts are discarded.
	if len(parts) < 4 {
		return nil, fmt.Errorf("invalid sync message")
	}

	// Check sender part of message.
	if len(parts[0]) < 1 {
		return nil, fmt.Errorf("invalid sync message because sender peer name is missing")
	}
	m.Sender = parts[0]

	switch Type(parts[1]) {
	case TypeUpdate, TypeReconcile, TypeDelta:
		m.Type = Type(parts[1])
	default:
		return nil, fmt.Errorf("unsupported type specified in sync message")
	}

	digest, err := ParseDigest(parts[2])
	if err != nil {
		return nil, err
	}
	m.Digest = digest

	if parts[3] != "-" {

		for _, rawOp := range strings.Split(parts[3], ",") {

			op, err := ParseOp(rawOp)
			if err != nil {
				return nil, err
			}

			m.Ops = append(m.Ops, op)
		}
	}

	return m, nil
}

// MarshalOp turns one operation into its wire representation:
// kind;id;target;value;style with value and style transported in
// base64 so that user payload can never collide with the framing
// symbols. A zero target and an empty style are both marshalled
// as a single dash.
func MarshalOp(op crdt.Operation) string {

	target := "-"
	if !op.Target.IsZero() {
		target = op.Target.String()
	}

	value := base64.StdEncoding.EncodeToString([]byte(op.Value))

	style := "-"
	if len(op.Style) > 0 {
		style = base64.StdEncoding.EncodeToString([]byte(marshalStyle(op.Style)))
	}

	return fmt.Sprintf("%s;%s;%s;%s;%s", op.Kind, op.ID.String(), target, value, style)
}

// ParseOp takes in the marshalled version of one operation taken
// from a sync message and turns it back into the defined struct
// representation.
func ParseOp(raw string) (crdt.Operation, error) {

	var op crdt.Operation

	parts := strings.Split(raw, ";")
	if len(parts) != 5 {
		return op, fmt.Errorf("invalid operation element: incorrect amount of semicola")
	}

	switch crdt.Kind(parts[0]) {
	case crdt.Insert, crdt.Delete, crdt.Update, crdt.Format:
		op.Kind = crdt.Kind(parts[0])
	default:
		return op, fmt.Errorf("unsupported update operation specified in operation element")
	}

	id, err := crdt.ParseId(parts[1])
	if err != nil {
		return op, err
	}
	op.ID = id

	if parts[2] != "-" {

		target, err := crdt.ParseId(parts[2])
		if err != nil {
			return op, err
		}
		op.Target = target
	}

	decValue, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return op, fmt.Errorf("decoding base64 value of operation element failed: %v", err)
	}
	op.Value = string(decValue)

	if parts[4] != "-" {

		decStyle, err := base64.StdEncoding.DecodeString(parts[4])
		if err != nil {
			return op, fmt.Errorf("decoding base64 style of operation element failed: %v", err)
		}

		style, err := parseStyle(string(decStyle))
		if err != nil {
			return op, err
		}
		op.Style = style
	}

	return op, nil
}

// marshalStyle flattens a style attribute map into attr=value
// pairs joined by newlines. Attribute names may not contain '='
// or newline symbols; values are base64-encoded individually.
func marshalStyle(style map[string]string) string {

	pairs := make([]string, 0, len(style))
	for attr, value := range style {
		pairs = append(pairs, fmt.Sprintf("%s=%s", attr, base64.StdEncoding.EncodeToString([]byte(value))))
	}

	return strings.Join(pairs, "\n")
}

// parseStyle turns the flattened style representation back into
// its map form.
func parseStyle(raw string) (map[string]string, error) {

	style := make(map[string]string)

	for _, pair := range strings.Split(raw, "\n") {

		i := strings.Index(pair, "=")
		if i < 1 {
			return nil, fmt.Errorf("invalid style element in operation")
		}

		value, err := base64.StdEncoding.DecodeString(pair[(i + 1):])
		if err != nil {
			return nil, fmt.Errorf("decoding base64 style value failed: %v", err)
		}

		style[pair[:i]] = string(value)
	}

	return style, nil
}
