// Package ws implements a WebSocket-backed transport.Namespace (spec.md
// §6, SPEC_FULL.md §6.2): one HTTP mux entry accepting upgrades, a
// guarded room registry, and one outbound goroutine per socket so a
// slow client can never block multicast delivery to the rest of its
// room.
//
// Each socket runs three goroutines: writeLoop drains outbound
// messages, readLoop does nothing but read off the wire (resolving
// acks inline, queueing everything else), and handlerLoop drains that
// queue and calls into application handlers one at a time. Splitting
// the last two apart is what lets a handler make its own blocking
// EmitWithAck call — spec.md §4.7's resync path does exactly that —
// without ever deadlocking against the ack reply it's waiting for.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/replicant/internal/transport"
)

// envelope is the wire message spec.md §6.3/SPEC_FULL.md §6.3 defines:
// {"event", "args", "ackId"}. An ack reply reuses the same shape with
// Event == ackEvent to carry a reply back to the original sender.
type envelope struct {
	Event string `json:"event"`
	Args  []any  `json:"args"`
	AckID int64  `json:"ackId,omitempty"`
}

const ackEvent = "__ack"

// Options configures a Namespace.
type Options struct {
	// Path is the HTTP mux pattern this namespace is served on, e.g.
	// "/ws". SPEC_FULL.md §9 open question 3: a non-default
	// Config.Namespace is appended to Path by the caller before
	// passing it here.
	Path string

	// SendBufferSize bounds each socket's outbound queue; once it is
	// full, further messages to that socket are dropped rather than
	// blocking the sender. Default 64.
	SendBufferSize int

	// BroadcastWorkers sizes the worker pool used to fan multicast
	// emits out to room members concurrently. Default 4.
	BroadcastWorkers int

	Logger *logrus.Logger
}

// Namespace is the server side: it upgrades HTTP connections into
// sockets, tracks room membership, and fans out room broadcasts
// through a worker pool (grounded on the teacher's pond.WorkerPool
// usage for its own I/O-bound fan-out in SaveBlob/CreateArchiveFile).
type Namespace struct {
	upgrader websocket.Upgrader
	opts     Options
	log      *logrus.Logger
	pool     *pond.WorkerPool

	mu           sync.Mutex
	onConnect    []func(transport.Socket)
	onDisconnect []func(transport.Socket)
	rooms        map[string]map[string]*Socket
}

// NewNamespace creates a Namespace and registers its HTTP handler on
// mux at opts.Path.
func NewNamespace(mux *http.ServeMux, opts Options) *Namespace {
	if opts.Path == "" {
		opts.Path = "/ws"
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 64
	}
	if opts.BroadcastWorkers <= 0 {
		opts.BroadcastWorkers = 4
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	ns := &Namespace{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		opts:  opts,
		log:   opts.Logger,
		pool:  pond.New(opts.BroadcastWorkers, 0, pond.MinWorkers(1)),
		rooms: map[string]map[string]*Socket{},
	}
	mux.HandleFunc(opts.Path, ns.serveHTTP)
	return ns
}

// Close releases the broadcast worker pool. Call once the listener is
// shutting down.
func (ns *Namespace) Close() { ns.pool.StopAndWait() }

func (ns *Namespace) OnConnect(fn func(transport.Socket)) {
	ns.mu.Lock()
	ns.onConnect = append(ns.onConnect, fn)
	ns.mu.Unlock()
}

func (ns *Namespace) OnDisconnect(fn func(transport.Socket)) {
	ns.mu.Lock()
	ns.onDisconnect = append(ns.onDisconnect, fn)
	ns.mu.Unlock()
}

func (ns *Namespace) To(room string) transport.Broadcaster {
	return &roomBroadcaster{ns: ns, room: room}
}

// Dial connects to a server's ws.Namespace as a client and returns its
// transport.Socket. The returned socket's read/write loops run in
// background goroutines; Dial itself does not block past the initial
// handshake.
func Dial(url string, opts Options) (transport.Socket, error) {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}

	sock := newSocket(uuid.NewString(), conn, nil, opts.SendBufferSize, opts.Logger)
	go sock.writeLoop()
	go sock.handlerLoop()
	go sock.readLoop()
	return sock, nil
}

func (ns *Namespace) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ns.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ns.log.WithError(err).Error("ws: upgrade failed")
		return
	}

	sock := newSocket(uuid.NewString(), conn, ns, ns.opts.SendBufferSize, ns.opts.Logger)
	go sock.writeLoop()
	go sock.handlerLoop()

	ns.mu.Lock()
	callbacks := append([]func(transport.Socket){}, ns.onConnect...)
	ns.mu.Unlock()
	for _, fn := range callbacks {
		fn(sock)
	}

	sock.readLoop()
	ns.removeFromAllRooms(sock)

	ns.mu.Lock()
	disconnectCallbacks := append([]func(transport.Socket){}, ns.onDisconnect...)
	ns.mu.Unlock()
	for _, fn := range disconnectCallbacks {
		fn(sock)
	}
}

func (ns *Namespace) join(room string, s *Socket) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	members, ok := ns.rooms[room]
	if !ok {
		members = map[string]*Socket{}
		ns.rooms[room] = members
	}
	members[s.id] = s
}

func (ns *Namespace) leave(room string, s *Socket) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if members, ok := ns.rooms[room]; ok {
		delete(members, s.id)
		if len(members) == 0 {
			delete(ns.rooms, room)
		}
	}
}

func (ns *Namespace) removeFromAllRooms(s *Socket) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	for room, members := range ns.rooms {
		delete(members, s.id)
		if len(members) == 0 {
			delete(ns.rooms, room)
		}
	}
}

type roomBroadcaster struct {
	ns   *Namespace
	room string
}

// Emit fans the message out to every socket currently in the room
// through the namespace's worker pool, so one blocked connection's
// write never stalls delivery to the rest of the room.
func (b *roomBroadcaster) Emit(event string, args ...any) {
	b.ns.mu.Lock()
	targets := make([]*Socket, 0, len(b.ns.rooms[b.room]))
	for _, s := range b.ns.rooms[b.room] {
		targets = append(targets, s)
	}
	b.ns.mu.Unlock()
	for _, s := range targets {
		s := s
		b.ns.pool.Submit(func() {
			s.send(envelope{Event: event, Args: args})
		})
	}
}

// Socket is one client's WebSocket connection.
type Socket struct {
	id   string
	conn *websocket.Conn
	ns   *Namespace
	log  *logrus.Logger

	out chan envelope

	// inbound is the "small-buffered channel of inbound events that
	// the loop drains" SPEC_FULL.md §5 calls for: readLoop only ever
	// enqueues onto it and goes straight back to reading the socket,
	// so a handler that blocks on its own EmitWithAck (e.g. the
	// client's replicantChanged handler calling synchronize) never
	// stalls readLoop's ability to receive the very ack reply that
	// handler is waiting on. Ack envelopes bypass this queue entirely
	// and are resolved directly from readLoop.
	inbound chan envelope

	mu       sync.Mutex
	handlers map[string]transport.Handler

	ackSeq  int64
	pending sync.Map // int64 -> chan []any
}

func newSocket(id string, conn *websocket.Conn, ns *Namespace, bufSize int, log *logrus.Logger) *Socket {
	return &Socket{
		id:       id,
		conn:     conn,
		ns:       ns,
		log:      log,
		out:      make(chan envelope, bufSize),
		inbound:  make(chan envelope, bufSize),
		handlers: map[string]transport.Handler{},
	}
}

func (s *Socket) ID() string { return s.id }

func (s *Socket) On(event string, h transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = h
}

func (s *Socket) Emit(event string, args ...any) {
	s.send(envelope{Event: event, Args: args})
}

func (s *Socket) EmitWithAck(ctx context.Context, event string, args ...any) ([]any, error) {
	id := atomic.AddInt64(&s.ackSeq, 1)
	ch := make(chan []any, 1)
	s.pending.Store(id, ch)
	defer s.pending.Delete(id)

	s.send(envelope{Event: event, Args: args, AckID: id})

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("ws: ack for %q timed out: %w", event, ctx.Err())
	}
}

// Join and Leave are no-ops on a client-dialed socket (ns == nil):
// only the server side ever places a socket in a room, matching
// internal/transport/local's hub-nil guard.
func (s *Socket) Join(room string) {
	if s.ns != nil {
		s.ns.join(room, s)
	}
}

func (s *Socket) Leave(room string) {
	if s.ns != nil {
		s.ns.leave(room, s)
	}
}

// send enqueues env for the write loop. A full outbound queue drops
// the message rather than blocking the caller — the room broadcaster
// must never stall on one slow socket; a dropped replicantSet/Changed
// is recovered by the client's next synchronize.
func (s *Socket) send(env envelope) {
	select {
	case s.out <- env:
	default:
		s.log.Warnf("ws: socket %s outbound queue full, dropping %q", s.id, env.Event)
	}
}

func (s *Socket) writeLoop() {
	const pingPeriod = 30 * time.Second
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-s.out:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				s.log.WithError(err).Debug("ws: write failed, closing")
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

// readLoop only ever does two things with an incoming envelope:
// resolve a pending ack inline, or enqueue it for handlerLoop. It never
// calls a handler itself, so it can never be blocked by one.
func (s *Socket) readLoop() {
	defer s.conn.Close()
	defer close(s.inbound)
	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.log.WithError(err).Debug("ws: read failed, disconnecting")
			return
		}
		if env.Event == ackEvent {
			s.resolveAck(env)
			continue
		}
		s.inbound <- env
	}
}

func (s *Socket) resolveAck(env envelope) {
	waiter, ok := s.pending.Load(env.AckID)
	if !ok {
		return
	}
	s.pending.Delete(env.AckID)
	waiter.(chan []any) <- env.Args
}

// handlerLoop drains inbound in order, one event at a time, calling
// the registered handler for each. Handlers run off the read path, so
// a handler that itself blocks on EmitWithAck (awaiting an ack that
// readLoop will deliver directly via resolveAck) can still complete.
func (s *Socket) handlerLoop() {
	for env := range s.inbound {
		s.dispatch(env)
	}
}

func (s *Socket) dispatch(env envelope) {
	s.mu.Lock()
	h, ok := s.handlers[env.Event]
	s.mu.Unlock()
	if !ok {
		return
	}

	var ack transport.AckFunc
	if env.AckID != 0 {
		ackID := env.AckID
		ack = func(args ...any) {
			s.send(envelope{Event: ackEvent, Args: args, AckID: ackID})
		}
	}
	h(env.Args, ack)
}
