package replicant

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/replicant/internal/change"
	"github.com/rcowham/replicant/internal/revision"
	"github.com/rcowham/replicant/internal/value"
)

type recordingPusher struct {
	calls int
	old   value.Value
	new   value.Value
	cs    []change.Change
}

func (p *recordingPusher) PushChanges(old, new value.Value, cs []change.Change) {
	p.calls++
	p.old = old
	p.new = new
	p.cs = cs
}

func TestColdReplicantIsEmpty(t *testing.T) {
	r := New("x", nil, 100)
	assert.Nil(t, r.Value())
	assert.Equal(t, uint64(0), r.SequenceNumber())
	assert.Empty(t, r.History())
}

// Invariant 1 from spec.md §8: revisionHistory[0] == revisionLabel(seq, value) at quiescence.
func TestQuiescentInvariantAfterPushAccepted(t *testing.T) {
	r := New("x", nil, 100)
	seq, history := r.PushAccepted(map[string]any{"a": 1})
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, revision.Label(seq, map[string]any{"a": 1}), history[0])
	assert.Equal(t, history[0], r.Revision())
	assert.Equal(t, uint64(len(history)), r.SequenceNumber()) // invariant 2 holds in this simple case too
}

func TestUpdateDiffsAndPushes(t *testing.T) {
	pusher := &recordingPusher{}
	r := New("x", pusher, 100)
	r.Update(func(value.Value) value.Value {
		return map[string]any{"a": 1}
	})
	assert.Equal(t, 1, pusher.calls)
	assert.Nil(t, pusher.old)
	assert.Equal(t, map[string]any{"a": 1}, pusher.new)
	assert.Len(t, pusher.cs, 1)
	assert.Equal(t, change.Add, pusher.cs[0].Type)
}

func TestUpdateNoOpProducesNoPush(t *testing.T) {
	pusher := &recordingPusher{}
	r := New("x", pusher, 100)
	r.Update(func(v value.Value) value.Value { return v })
	assert.Equal(t, 0, pusher.calls)
}

func TestSuppressedUpdateIsDropped(t *testing.T) {
	pusher := &recordingPusher{}
	r := New("x", pusher, 100)
	r.ApplyAccepted(map[string]any{"a": 1}, 1, []string{"L1"})
	// Simulate an inbound suppressed write racing with an attempted
	// local Update: by the time ApplyAccepted's defer clears suppress,
	// suppress is already false again, so this just demonstrates the
	// gate exists — force it directly for the drop behavior.
	r.mu.Lock()
	r.suppress = true
	r.mu.Unlock()
	r.Update(func(v value.Value) value.Value {
		m := v.(map[string]any)
		m["b"] = 2
		return m
	})
	assert.Equal(t, 0, pusher.calls)
}

func TestHistoryContainsAndCurrentParent(t *testing.T) {
	r := New("x", nil, 100)
	r.ApplyAccepted(map[string]any{"n": 2}, 2, []string{"L2", "L1"})
	parent, ok := r.CurrentParent()
	assert.True(t, ok)
	assert.Equal(t, "L2", parent)
	assert.True(t, r.HistoryContains("L1"))
	assert.False(t, r.HistoryContains("L0"))
}

func TestHistoryTrimsTailButKeepsLoadBearingPositions(t *testing.T) {
	r := New("x", nil, 3)
	r.ApplyAccepted(map[string]any{}, 5, []string{"a", "b", "c", "d", "e"})
	h := r.History()
	assert.Equal(t, []string{"a", "b", "c"}, h)
}

func TestSeedHistoryThenPushAcceptedRecomputesHead(t *testing.T) {
	r := New("x", nil, 100)
	r.SeedHistory([]string{"parent1"}, 1)
	seq, history := r.PushAccepted(map[string]any{"v": 1})
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, []string{revision.Label(2, map[string]any{"v": 1}), "parent1"}, history)
}

func TestAdvanceLocalComputesLabelAgainstCurrentValue(t *testing.T) {
	r := New("x", nil, 100)
	r.ApplyAccepted(map[string]any{"n": 1}, 1, []string{"L1"})
	r.Update(func(v value.Value) value.Value {
		m := v.(map[string]any)
		m["n"] = 2
		return m
	})
	seq, history := r.AdvanceLocal()
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, revision.Label(2, map[string]any{"n": 2}), history[0])
}
