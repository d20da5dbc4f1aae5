// Package client implements the client-side mirror replicator of
// spec.md §4.7: one Replicant per name, registered with the server,
// kept in sync by mirroring server-driven updates and forwarding
// local edits.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/replicant/internal/change"
	"github.com/rcowham/replicant/internal/replicant"
	"github.com/rcowham/replicant/internal/transport"
	"github.com/rcowham/replicant/internal/value"
)

// Options configures a Client.
type Options struct {
	MaxHistory int // default 100
	AckTimeout time.Duration // default 5s
	Logger     *logrus.Logger
}

// Client is the mirror-side replicator: one per connection to a
// server.
type Client struct {
	sock       transport.Socket
	maxHistory int
	ackTimeout time.Duration
	log        *logrus.Logger

	mu         sync.Mutex
	replicants map[string]*mirror
}

type mirror struct {
	r     *replicant.Replicant
	ready chan struct{}
	once  sync.Once
}

// New creates a Client bound to sock. sock must not be nil — a
// missing transport is a construction error (spec.md §7).
func New(sock transport.Socket, opts Options) (*Client, error) {
	if sock == nil {
		return nil, errors.New("client: transport socket must not be nil")
	}
	if opts.MaxHistory < 2 {
		opts.MaxHistory = 100
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	c := &Client{
		sock:       sock,
		maxHistory: opts.MaxHistory,
		ackTimeout: opts.AckTimeout,
		log:        opts.Logger,
		replicants: map[string]*mirror{},
	}
	sock.On("replicantSet", c.onRemoteSet)
	sock.On("replicantChanged", c.onRemoteChanged)
	return c, nil
}

// GetReplicant returns the mirror replicant for name, creating and
// registering it on first reference (spec.md §4.7). Until the channel
// returned by Ready(name) closes, its value is nil/empty,
// matching spec.md scenario 1 ("until ready, local reads return
// undefined").
func (c *Client) GetReplicant(name string) *replicant.Replicant {
	c.mu.Lock()
	m, ok := c.replicants[name]
	if ok {
		c.mu.Unlock()
		return m.r
	}
	m = &mirror{ready: make(chan struct{})}
	c.replicants[name] = m
	c.mu.Unlock()

	m.r = replicant.New(name, &pusher{client: c, name: name}, c.maxHistory)

	go c.register(name, m)
	return m.r
}

// Ready returns a channel closed once name has completed registration
// and initial synchronization.
func (c *Client) Ready(name string) <-chan struct{} {
	c.mu.Lock()
	m, ok := c.replicants[name]
	c.mu.Unlock()
	if !ok {
		ch := make(chan struct{})
		return ch
	}
	return m.ready
}

func (c *Client) register(name string, m *mirror) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()
	if _, err := c.sock.EmitWithAck(ctx, "replicantRegister", name); err != nil {
		c.log.WithError(err).Errorf("replicant %q: register failed", name)
		return
	}
	c.synchronize(name, m)
	m.once.Do(func() { close(m.ready) })
}

// synchronize emits replicantGet and overwrites local state from the
// reply — spec.md §4.7's synchronize(), the recovery path used both at
// registration and whenever the client detects divergence.
func (c *Client) synchronize(name string, m *mirror) {
	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()
	reply, err := c.sock.EmitWithAck(ctx, "replicantGet", name)
	if err != nil {
		c.log.WithError(err).Errorf("replicant %q: synchronize failed", name)
		return
	}
	if len(reply) < 2 {
		return
	}
	history, _ := toStringSlice(reply[0])
	newValue := reply[1]
	m.r.ApplyAccepted(newValue, uint64(len(history)), history)
}

// Synchronize forces re-synchronization of an already-registered
// replicant, e.g. on reconnect (spec.md §5's "surface disconnection as
// a reset").
func (c *Client) Synchronize(name string) {
	c.mu.Lock()
	m, ok := c.replicants[name]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.synchronize(name, m)
}

// Reconnected re-synchronizes every replicant this client holds,
// matching spec.md §5's guidance for surfacing a transport
// reconnection as a reset.
func (c *Client) Reconnected() {
	c.mu.Lock()
	names := make([]string, 0, len(c.replicants))
	for name := range c.replicants {
		names = append(names, name)
	}
	c.mu.Unlock()
	for _, name := range names {
		c.Synchronize(name)
	}
}

// onRemoteSet handles an inbound replicantSet multicast: overwrite
// state unconditionally, with no comparison to local state (spec.md
// §4.7).
func (c *Client) onRemoteSet(args []any, _ transport.AckFunc) {
	if len(args) < 3 {
		return
	}
	name, ok := args[0].(string)
	if !ok {
		return
	}
	history, _ := toStringSlice(args[1])
	newValue := args[2]

	m := c.existing(name)
	if m == nil {
		return
	}
	m.r.ApplyAccepted(newValue, uint64(len(history)), history)
}

// onRemoteChanged handles an inbound replicantChanged multicast: apply
// if the server's edit extends the revision we currently hold,
// otherwise re-synchronize (spec.md §4.7, and scenario 5's "divergent
// change forces resync").
func (c *Client) onRemoteChanged(args []any, _ transport.AckFunc) {
	if len(args) < 3 {
		return
	}
	name, ok := args[0].(string)
	if !ok {
		return
	}
	serverHistory, ok := toStringSlice(args[1])
	if !ok || len(serverHistory) < 2 {
		return
	}
	changes, ok := change.DecodeArg(args[2])
	if !ok {
		return
	}

	m := c.existing(name)
	if m == nil {
		return
	}

	local := m.r.Revision()
	if serverHistory[0] == local {
		// Own echo: we already applied this edit locally before the
		// server's broadcast came back around. Spec §4.7 allows
		// short-circuiting here instead of resyncing on every own-edit
		// round-trip.
		return
	}
	if local != serverHistory[1] {
		c.log.Debugf("replicant %q: divergent parent (local %q, server wants %q), resyncing", name, local, serverHistory[1])
		c.synchronize(name, m)
		return
	}

	old := m.r.Value()
	newValue := change.Apply(old, changes)
	m.r.ApplyAccepted(newValue, uint64(len(serverHistory)), serverHistory)
}

func (c *Client) existing(name string) *mirror {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replicants[name]
}

// pusher is the client-side Pusher (spec.md §4.7's pushChanges).
type pusher struct {
	client *Client
	name   string
}

// PushChanges is spec.md §4.7's client pushChanges: advance local
// history, send the incremental replicantChanged, and fall back to the
// heavy replicantSet (and ultimately a full synchronize) if the server
// rejects it.
func (p *pusher) PushChanges(old, newValue value.Value, changes []change.Change) {
	c := p.client
	m := c.existing(p.name)
	if m == nil {
		return
	}

	// Step 1: advance sequence/history against the already-updated
	// value before sending.
	_, history := m.r.AdvanceLocal()

	ctx, cancel := context.WithTimeout(context.Background(), c.ackTimeout)
	defer cancel()

	reply, err := c.sock.EmitWithAck(ctx, "replicantChanged", p.name, history, changes)
	if err != nil {
		c.log.WithError(err).Errorf("replicant %q: replicantChanged failed", p.name)
		return
	}
	if ackedTrue(reply) {
		return
	}

	// Heavy fallback: ask the server to accept the whole value outright.
	reply, err = c.sock.EmitWithAck(ctx, "replicantSet", p.name, history, newValue)
	if err != nil {
		c.log.WithError(err).Errorf("replicant %q: fallback replicantSet failed", p.name)
		return
	}
	if !ackedTrue(reply) {
		// Both paths rejected: accept defeat and adopt server state.
		c.synchronize(p.name, m)
	}
}

func ackedTrue(reply []any) bool {
	if len(reply) == 0 {
		return false
	}
	ok, _ := reply[0].(bool)
	return ok
}

func toStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
