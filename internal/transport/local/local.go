// Package local implements an in-process transport.Namespace: client
// and server sockets are connected directly by Go function calls
// instead of a network round trip. It is used by the core's own
// tests (where spinning up a real WebSocket listener would add
// nothing but latency) and by anything embedding a server and its
// clients in one process.
//
// Delivery is synchronous and therefore trivially FIFO per socket,
// satisfying spec.md §5's ordering requirement by construction.
package local

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rcowham/replicant/internal/transport"
)

// Hub is the server side of an in-process namespace: it tracks
// connected sockets, room membership, and the OnConnect/OnDisconnect
// callbacks the server replicator registers.
type Hub struct {
	mu           sync.Mutex
	onConnect    []func(transport.Socket)
	onDisconnect []func(transport.Socket)
	rooms        map[string]map[string]*socket // room -> socket ID -> server-side socket
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: map[string]map[string]*socket{}}
}

func (h *Hub) OnConnect(fn func(transport.Socket))    { h.mu.Lock(); h.onConnect = append(h.onConnect, fn); h.mu.Unlock() }
func (h *Hub) OnDisconnect(fn func(transport.Socket)) { h.mu.Lock(); h.onDisconnect = append(h.onDisconnect, fn); h.mu.Unlock() }

func (h *Hub) To(room string) transport.Broadcaster {
	return &roomBroadcaster{hub: h, room: room}
}

// Connect simulates a new client connecting to the hub and returns
// the client-side transport.Socket the caller drives as "its"
// connection to the server.
func (h *Hub) Connect() transport.Socket {
	id := uuid.NewString()
	server := newSocket(id, h)
	client := newSocket(id, nil)
	server.peer = client
	client.peer = server

	for _, fn := range h.connectCallbacks() {
		fn(server)
	}
	return client
}

// Disconnect simulates the client side going away.
func (h *Hub) Disconnect(s transport.Socket) {
	sock, ok := s.(*socket)
	if !ok {
		return
	}
	h.mu.Lock()
	for room, members := range h.rooms {
		delete(members, sock.peer.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	callbacks := append([]func(transport.Socket){}, h.onDisconnect...)
	h.mu.Unlock()
	for _, fn := range callbacks {
		fn(sock.peer)
	}
}

func (h *Hub) connectCallbacks() []func(transport.Socket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]func(transport.Socket){}, h.onConnect...)
}

type roomBroadcaster struct {
	hub  *Hub
	room string
}

func (b *roomBroadcaster) Emit(event string, args ...any) {
	b.hub.mu.Lock()
	targets := make([]*socket, 0, len(b.hub.rooms[b.room]))
	for _, s := range b.hub.rooms[b.room] {
		targets = append(targets, s)
	}
	b.hub.mu.Unlock()
	for _, s := range targets {
		s.peer.deliver(event, args, nil)
	}
}

// socket is both the server- and client-side transport.Socket
// implementation; which role it plays is determined only by which end
// registered handlers and which end called Join/Leave.
type socket struct {
	id       string
	hub      *Hub // non-nil only for the server-side socket
	peer     *socket
	mu       sync.Mutex
	handlers map[string]transport.Handler
	ackSeq   int64
	pending  map[int64]chan []any
}

func newSocket(id string, hub *Hub) *socket {
	return &socket{
		id:       id,
		hub:      hub,
		handlers: map[string]transport.Handler{},
		pending:  map[int64]chan []any{},
	}
}

func (s *socket) ID() string { return s.id }

func (s *socket) On(event string, h transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

func (s *socket) Emit(event string, args ...any) {
	s.peer.deliver(event, args, nil)
}

func (s *socket) EmitWithAck(ctx context.Context, event string, args ...any) ([]any, error) {
	id := atomic.AddInt64(&s.ackSeq, 1)
	ch := make(chan []any, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	ack := func(reply ...any) {
		s.mu.Lock()
		waiter, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if ok {
			waiter <- reply
		}
	}
	s.peer.deliver(event, args, ack)

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("transport: ack for %q timed out: %w", event, ctx.Err())
	}
}

func (s *socket) deliver(event string, args []any, ack transport.AckFunc) {
	s.mu.Lock()
	h, ok := s.handlers[event]
	s.mu.Unlock()
	if !ok {
		return
	}
	h(args, ack)
}

func (s *socket) Join(room string) {
	if s.hub == nil {
		return // only the server-side socket is ever placed in a room
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	members, ok := s.hub.rooms[room]
	if !ok {
		members = map[string]*socket{}
		s.hub.rooms[room] = members
	}
	members[s.id] = s
}

func (s *socket) Leave(room string) {
	if s.hub == nil {
		return
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if members, ok := s.hub.rooms[room]; ok {
		delete(members, s.id)
		if len(members) == 0 {
			delete(s.hub.rooms, room)
		}
	}
}
