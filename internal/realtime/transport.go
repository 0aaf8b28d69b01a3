// Package realtime maintains the push connection to the backend and
// dispatches inbound events to local subscribers.
//
// The Bridge owns the connection state machine
// (Disconnected, Connecting, Connected, Reconnecting) and the subscriber
// list. A Transport owns the wire: the websocket transport speaks a JSON
// envelope {"event": name, "data": payload}, the MQTT transport maps event
// names onto topic segments.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/tphakala/storefront/internal/errors"
)

// Event names pushed by the backend
const (
	EventOrderStatusUpdate = "orderStatusUpdate"
	EventNewOrder          = "newOrder"
	EventOrderCancelled    = "orderCancelled"
	EventNotification      = "notification"
)

var (
	// ErrNotConnected is returned by Emit on a closed connection.
	ErrNotConnected = errors.NewStd("realtime connection closed")
	// ErrSendQueueFull is returned by Emit when the outbound queue is full.
	ErrSendQueueFull = errors.NewStd("realtime send queue full")
)

// Credentials identify the user to the transport.
type Credentials struct {
	Token   string
	Subject string
}

// Handler receives callbacks from a live connection. OnEvent calls are
// sequential and in arrival order. OnClose is called at most once, when the
// connection drops for a reason other than a local Close.
type Handler struct {
	OnEvent func(event string, payload json.RawMessage)
	OnClose func(err error)
}

// Conn is one established connection.
type Conn interface {
	// Emit queues an outbound event without waiting for delivery.
	Emit(event string, payload any) error
	// Close shuts the connection down; OnClose is not called.
	Close() error
}

// Transport establishes connections.
type Transport interface {
	// Connect performs the handshake. It returns once the connection is
	// usable or ctx is done.
	Connect(ctx context.Context, creds Credentials, h Handler) (Conn, error)
	// Name identifies the transport in logs.
	Name() string
}

// Envelope is the websocket wire format.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}
