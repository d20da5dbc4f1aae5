// Package transport defines the duplex, room-capable message channel
// spec.md §6 assumes as an external collaborator: a connection per
// client, FIFO-ordered message delivery, an optional ack callback per
// emitted message, and server-side room multicast.
//
// The core replicant packages (internal/server, internal/client) only
// ever see this interface — concrete transports live in
// internal/transport/local (an in-process pair, used by tests and
// single-process embedding) and internal/transport/ws (a WebSocket
// gateway for real client/server processes).
package transport

import "context"

// AckFunc is the optional trailing reply a message sender may supply;
// the receiver invokes it exactly once with reply values.
type AckFunc func(args ...any)

// Handler processes one inbound message. ack is non-nil only if the
// sender attached one.
type Handler func(args []any, ack AckFunc)

// Socket is one client's connection, seen from either end: the
// server's per-connection handle, or the client's handle to the
// server.
type Socket interface {
	// ID uniquely identifies this connection.
	ID() string

	// Emit sends a message with no ack expected.
	Emit(event string, args ...any)

	// EmitWithAck sends a message and blocks until the receiver's ack
	// fires or ctx is done.
	EmitWithAck(ctx context.Context, event string, args ...any) ([]any, error)

	// On registers the handler invoked for inbound messages named
	// event. Registering again for the same event replaces the
	// previous handler.
	On(event string, h Handler)

	// Join and Leave add/remove this socket from a broadcast room.
	Join(room string)
	Leave(room string)
}

// Broadcaster multicasts to every socket currently in a room, with no
// ack awaited — spec.md §4.6's "no acknowledgement is awaited on the
// multicast."
type Broadcaster interface {
	Emit(event string, args ...any)
}

// Namespace is the server-side sub-channel a set of connections share
// (spec.md §6's "namespace selects a sub-channel on the transport").
type Namespace interface {
	// OnConnect registers a callback invoked once per new connection,
	// synchronously from the connection's own event-processing
	// context.
	OnConnect(func(Socket))

	// OnDisconnect registers a callback invoked once a connection is
	// gone. Implementations call it with the same Socket value passed
	// to OnConnect.
	OnDisconnect(func(Socket))

	// To returns a Broadcaster multicasting to every socket currently
	// joined to room.
	To(room string) Broadcaster
}
