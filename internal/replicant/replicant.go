// Package replicant implements the shared replicant entity of spec.md
// §4.5: a named value, its sequence number, its revision history
// chain, and the suppress-observer discipline that keeps
// server/client-driven writes from echoing back out as local edits.
//
// The same Replicant type backs both the server's authoritative copy
// and a client's mirror; what differs is which methods each side
// calls: a client mirror is given a Pusher and is edited through
// Update, while the server creates its replicants with no Pusher and
// writes them through SeedHistory/PushAccepted.
package replicant

import (
	"sync"

	"github.com/rcowham/replicant/internal/change"
	"github.com/rcowham/replicant/internal/observer"
	"github.com/rcowham/replicant/internal/revision"
	"github.com/rcowham/replicant/internal/value"
)

// Pusher is the protocol-layer seam a Replicant calls into whenever
// its value changes through Update. The client replicator supplies an
// implementation (spec.md §4.7's pushChanges); the server replicator
// never calls Update and leaves its replicants on NopPusher.
type Pusher interface {
	PushChanges(old, new value.Value, changes []change.Change)
}

// NopPusher discards pushes; useful for a replicant under construction
// before its owner has wired a real Pusher, and in tests that only
// exercise local state.
type NopPusher struct{}

func (NopPusher) PushChanges(value.Value, value.Value, []change.Change) {}

// Replicant is a single named replicated value.
type Replicant struct {
	mu sync.Mutex

	name       string
	val        value.Value
	seq        uint64
	history    []string // most-recent first; history[0] is current, history[1] is parent
	suppress   bool
	maxHistory int
	pusher     Pusher
}

// New creates a replicant with an empty value, sequence 0, and empty
// history — the state a name has before it is ever set (spec.md
// scenario 1, "cold register").
func New(name string, pusher Pusher, maxHistory int) *Replicant {
	if pusher == nil {
		pusher = NopPusher{}
	}
	if maxHistory < 2 {
		maxHistory = 2
	}
	return &Replicant{
		name:       name,
		history:    []string{},
		maxHistory: maxHistory,
		pusher:     pusher,
	}
}

// Name returns the replicant's name.
func (r *Replicant) Name() string { return r.name }

// Value returns a deep copy of the current value.
func (r *Replicant) Value() value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return value.Copy(r.val)
}

// SequenceNumber returns the current sequence number.
func (r *Replicant) SequenceNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// History returns a copy of the revision history, most-recent first.
func (r *Replicant) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

// Revision is always computed on demand as revisionLabel(seq, value) —
// spec.md §4.5 deliberately gives it no independent storage so it can
// never drift from the pair it labels.
func (r *Replicant) Revision() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return revision.Label(r.seq, r.val)
}

// Update is the application-facing mutation entry point, the Go
// realization of spec.md §4.3/§4.5's observer callback: it reads the
// current value, lets fn mutate a private copy, diffs old against
// new, and pushes the coalesced change burst through the protocol
// layer. Calls made while suppress is set are dropped — spec.md's
// "callbacks occurring while suppressObserver is set are dropped."
func (r *Replicant) Update(fn func(value.Value) value.Value) {
	r.mu.Lock()
	if r.suppress {
		r.mu.Unlock()
		return
	}
	old := value.Copy(r.val)
	next := fn(value.Copy(r.val))
	r.val = next
	pusher := r.pusher
	r.mu.Unlock()

	raws := observer.Diff(old, next, next)
	if len(raws) == 0 {
		return
	}
	changes := change.FromRaw(next, raws)
	pusher.PushChanges(old, next, changes)
}

// SetSuppressed overwrites the value without emitting any protocol
// message and without touching the sequence number or history (the
// server and client handlers use ApplyAccepted/PushAccepted, which
// also update those). The suppress flag is set and cleared on
// every exit, success or failure, via defer, so a panic inside a
// caller's post-processing can never leave the replicant stuck
// suppressed (spec.md §9's flag-discipline requirement).
func (r *Replicant) SetSuppressed(v value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppress = true
	defer func() { r.suppress = false }()
	r.val = value.Copy(v)
}

// ApplyAccepted overwrites value, sequence number and history with the
// given ones under the suppress flag, trimming history to maxHistory;
// it computes no revision label itself. The client (§4.7) calls it to
// adopt server state from a synchronize reply or an inbound
// replicantSet/replicantChanged.
func (r *Replicant) ApplyAccepted(v value.Value, seq uint64, history []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppress = true
	defer func() { r.suppress = false }()
	r.val = value.Copy(v)
	r.seq = seq
	r.history = trimHistory(history, r.maxHistory)
}

// AdvanceLocal computes the next revision label against the
// already-updated value and prepends it to history, as spec.md §4.7's
// client pushChanges does "before sending." It returns the new
// sequence number and history so the caller can place them on the
// outbound wire message.
func (r *Replicant) AdvanceLocal() (seq uint64, history []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	label := revision.Label(r.seq, r.val)
	r.history = trimHistory(append([]string{label}, r.history...), r.maxHistory)
	return r.seq, append([]string(nil), r.history...)
}

// SeedHistory overwrites history and seq directly, without touching
// val or the suppress flag. The server's replicantSet handler
// (spec.md §4.6) uses this to adopt the client's historical trail
// (clientHistory[1:]) before recomputing its own head label via
// PushAccepted, exactly as spec.md's "set revisionHistory :=
// clientHistory.slice(1), sequenceNumber := len(revisionHistory)"
// step, which precedes that handler's call to the generic pushChanges.
func (r *Replicant) SeedHistory(history []string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = trimHistory(history, r.maxHistory)
	r.seq = seq
}

// PushAccepted is the generic pushChanges value-write step spec.md
// §4.6 describes (steps 1-4): enter suppress, write newVal, increment
// the sequence number, compute and prepend its revision label, exit
// suppress. It returns the resulting sequence number and history for
// the caller's multicast step (step 5).
func (r *Replicant) PushAccepted(newVal value.Value) (seq uint64, history []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.suppress = true
	defer func() { r.suppress = false }()
	r.val = value.Copy(newVal)
	r.seq++
	label := revision.Label(r.seq, r.val)
	r.history = trimHistory(append([]string{label}, r.history...), r.maxHistory)
	return r.seq, append([]string(nil), r.history...)
}

// CurrentParent returns history[0], the label a newly-arriving write
// must claim as its parent to be accepted (spec.md §4.6's parent-match
// test), re-read live at the moment of validation as spec.md §5
// requires ("re-read live state when the ack resumes, not capture it
// at emit time").
func (r *Replicant) CurrentParent() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return "", false
	}
	return r.history[0], true
}

// HistoryContains reports whether label appears anywhere in this
// replicant's own history. The server's replicantSet accept test does
// not use it; that test looks for the current head in the client's
// claimed history instead.
func (r *Replicant) HistoryContains(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.history {
		if h == label {
			return true
		}
	}
	return false
}

// trimHistory caps history length, trimming the tail. Positions 0 and
// 1 are load-bearing and are never trimmed (spec.md §9), which
// trimHistory's bound (maxHistory >= 2) guarantees by construction.
func trimHistory(history []string, maxHistory int) []string {
	if len(history) <= maxHistory {
		return history
	}
	return history[:maxHistory]
}
