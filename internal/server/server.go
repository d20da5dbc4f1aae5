// Package server implements the authoritative server-side replicator
// of spec.md §4.6: one authoritative Replicant per name, the four
// inbound message handlers, and the parent-match validation that is
// "the linchpin that prevents accepting an edit built on a stale
// parent."
package server

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/rcowham/replicant/internal/change"
	"github.com/rcowham/replicant/internal/replicant"
	"github.com/rcowham/replicant/internal/transport"
	"github.com/rcowham/replicant/internal/value"
)

// Options configures a Server.
type Options struct {
	RoomPrefix string // default "replicants/"
	MaxHistory int    // default 100
	Logger     *logrus.Logger
}

// Server owns the authoritative replicant set.
type Server struct {
	ns         transport.Namespace
	roomPrefix string
	maxHistory int
	log        *logrus.Logger

	mu         sync.Mutex
	replicants map[string]*replicant.Replicant
}

// New creates a Server bound to ns. ns must not be nil — a missing
// transport is a construction error (spec.md §7), surfaced here as a
// returned error rather than a panic.
func New(ns transport.Namespace, opts Options) (*Server, error) {
	if ns == nil {
		return nil, errors.New("server: transport namespace must not be nil")
	}
	if opts.RoomPrefix == "" {
		opts.RoomPrefix = "replicants/"
	}
	if opts.MaxHistory < 2 {
		opts.MaxHistory = 100
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Server{
		ns:         ns,
		roomPrefix: opts.RoomPrefix,
		maxHistory: opts.MaxHistory,
		log:        opts.Logger,
		replicants: map[string]*replicant.Replicant{},
	}
	ns.OnConnect(s.handleConnect)
	return s, nil
}

func (s *Server) room(name string) string { return s.roomPrefix + name }

// lookupOrCreate returns the named replicant, creating it lazily
// (spec.md §3's "created lazily on first reference by name").
func (s *Server) lookupOrCreate(name string) *replicant.Replicant {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.replicants[name]
	if !ok {
		r = replicant.New(name, nil, s.maxHistory)
		s.replicants[name] = r
	}
	return r
}

func (s *Server) handleConnect(sock transport.Socket) {
	sock.On("replicantRegister", s.onRegister(sock))
	sock.On("replicantGet", s.onGet(sock))
	sock.On("replicantSet", s.onSet(sock))
	sock.On("replicantChanged", s.onChanged(sock))
}

func (s *Server) onRegister(sock transport.Socket) transport.Handler {
	return func(args []any, ack transport.AckFunc) {
		name, ok := argString(args, 0)
		if !ok {
			return
		}
		s.lookupOrCreate(name)
		sock.Join(s.room(name))
		if ack != nil {
			ack()
		}
	}
}

func (s *Server) onGet(sock transport.Socket) transport.Handler {
	return func(args []any, ack transport.AckFunc) {
		name, ok := argString(args, 0)
		if !ok {
			return
		}
		r := s.lookupOrCreate(name)
		if ack != nil {
			ack(r.History(), r.Value())
		}
	}
}

// onSet handles replicantSet: the heavy-hammer path that replaces the
// whole value, used by a client recovering from a stale sync.
func (s *Server) onSet(sock transport.Socket) transport.Handler {
	return func(args []any, ack transport.AckFunc) {
		name, ok := argString(args, 0)
		if !ok {
			return
		}
		clientHistory, ok := argStringSlice(args, 1)
		if !ok {
			return
		}
		newValue, _ := argValue(args, 2)

		r := s.lookupOrCreate(name)
		parent, hasParent := r.CurrentParent()
		accepted := !hasParent || contains(clientHistory, parent)
		if !accepted {
			s.log.Debugf("replicant %q: rejecting replicantSet, claimed history does not contain current head %q", name, parent)
			if ack != nil {
				ack(false)
			}
			return
		}
		if ack != nil {
			ack(true)
		}

		old := r.Value()
		if len(clientHistory) > 1 {
			r.SeedHistory(clientHistory[1:], uint64(len(clientHistory)-1))
		} else {
			r.SeedHistory(nil, 0)
		}
		s.pushChanges(name, old, newValue, nil, r)
	}
}

// onChanged handles replicantChanged: the incremental path, gated by
// the parent-match test (spec.md §4.6's "linchpin").
func (s *Server) onChanged(sock transport.Socket) transport.Handler {
	return func(args []any, ack transport.AckFunc) {
		name, ok := argString(args, 0)
		if !ok {
			return
		}
		clientHistory, ok := argStringSlice(args, 1)
		if !ok || len(clientHistory) < 2 {
			if ack != nil {
				ack(false)
			}
			return
		}
		changes, ok := argChanges(args, 2)
		if !ok {
			if ack != nil {
				ack(false)
			}
			return
		}

		r := s.lookupOrCreate(name)
		// Re-read live state at validation time (spec.md §5): never
		// trust a revision captured before this handler started.
		parent, _ := r.CurrentParent()
		if clientHistory[1] != parent {
			s.log.Debugf("replicant %q: rejecting replicantChanged, claimed parent %q != server head %q", name, clientHistory[1], parent)
			if ack != nil {
				ack(false)
			}
			return
		}
		if ack != nil {
			ack(true)
		}

		old := r.Value()
		newValue := change.Apply(old, changes)
		s.pushChanges(name, old, newValue, changes, r)
	}
}

// pushChanges is the generic procedure spec.md §4.6 describes: write
// the new value through the suppressed path, advance sequence/history,
// then multicast to the room without awaiting an ack.
func (s *Server) pushChanges(name string, old, newValue value.Value, changes []change.Change, r *replicant.Replicant) {
	_, history := r.PushAccepted(newValue)
	room := s.ns.To(s.room(name))
	if changes != nil {
		room.Emit("replicantChanged", name, history, changes)
	} else {
		room.Emit("replicantSet", name, history, newValue)
	}
}

// Get returns the current state of a replicant without going through
// the wire, useful for embedding a server in the same process as
// trusted application code.
func (s *Server) Get(ctx context.Context, name string) (value.Value, []string) {
	r := s.lookupOrCreate(name)
	return r.Value(), r.History()
}

func argString(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}

func argValue(args []any, i int) (value.Value, bool) {
	if i >= len(args) {
		return nil, false
	}
	return args[i], true
}

func argStringSlice(args []any, i int) ([]string, bool) {
	if i >= len(args) {
		return nil, false
	}
	switch s := args[i].(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, v := range s {
			str, ok := v.(string)
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

func argChanges(args []any, i int) ([]change.Change, bool) {
	if i >= len(args) {
		return nil, false
	}
	return change.DecodeArg(args[i])
}

// contains reports whether v appears anywhere in list — spec.md §4.6's
// replicantSet accept test, restricted to the server's current head
// (parent), not its whole history.
func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
