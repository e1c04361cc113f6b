// Package transport provides the point-to-point channel abstraction the
// replication drivers send over, a multi-client router built on it, and the
// concrete carriers (in-memory, TCP, WebSocket).
//
// Delivery is reliable and order-preserving per channel; channels are not
// ordered relative to each other. Send is fire-and-forget: a carrier is
// permitted to take ownership of the payload slice it is handed.
package transport

import "errors"

// ErrClosed is returned by operations on a channel or router that has been
// closed.
var ErrClosed = errors.New("transport: closed")

// ErrUnknownClient is returned when sending to a client id the router does
// not know.
var ErrUnknownClient = errors.New("transport: unknown client")

// MessageHandler receives one inbound message. The payload is only valid for
// the duration of the call unless the handler copies it.
type MessageHandler func(msgID byte, payload []byte)

// Channel is a reliable, ordered point-to-point message channel.
// Close and the unsubscribe funcs are idempotent; after Close no handler is
// invoked again.
type Channel interface {
	Send(msgID byte, payload []byte) error
	OnMessage(fn MessageHandler) (unsubscribe func())
	Close() error
}

// Multi is a multi-client transport: per-client addressed sends, broadcast,
// and connect/disconnect observation.
type Multi interface {
	Send(clientID string, msgID byte, payload []byte) error
	Broadcast(msgID byte, payload []byte)
	OnMessage(fn func(clientID string, msgID byte, payload []byte)) (unsubscribe func())
	OnConnect(fn func(clientID string)) (unsubscribe func())
	OnDisconnect(fn func(clientID string)) (unsubscribe func())
	Close() error
}
