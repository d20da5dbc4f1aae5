package change

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/replicant/internal/observer"
	"github.com/rcowham/replicant/internal/value"
)

func TestApplyAddUpdateDelete(t *testing.T) {
	var v value.Value = map[string]any{"n": 1}
	cs := []Change{
		{Type: Update, Path: "n", OldValue: 1, NewValue: 2},
		{Type: Add, Path: "m", NewValue: "hi"},
	}
	got := Apply(v, cs)
	assert.Equal(t, map[string]any{"n": 2, "m": "hi"}, got)

	got = Apply(got, []Change{{Type: Delete, Path: "m", OldValue: "hi"}})
	assert.Equal(t, map[string]any{"n": 2}, got)
}

// Scenario 4 from spec.md §8: splice round trip.
func TestSpliceRoundTrip(t *testing.T) {
	var v value.Value = []any{10, 20, 30}
	cs := []Change{
		{Type: Splice, Path: "", Index: 1, Removed: []value.Value{20}, RemovedCount: 1, Added: []value.Value{99}, AddedCount: 1},
	}
	applied := Apply(v, cs)
	assert.Equal(t, []any{10, 99, 30}, applied)

	reversed := Reverse(applied, cs)
	assert.Equal(t, []any{10, 20, 30}, reversed)
}

func TestSpliceOnMissingPathTreatedAsEmptySequence(t *testing.T) {
	var v value.Value = map[string]any{}
	cs := []Change{
		{Type: Splice, Path: "items", Index: 0, Added: []value.Value{"a", "b"}, AddedCount: 2},
	}
	got := Apply(v, cs)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, got)
}

func TestInverseLawAgainstObserverDiff(t *testing.T) {
	before := map[string]any{
		"name":  "alice",
		"score": 1.0,
		"tags":  []any{"a", "b", "c"},
	}
	after := map[string]any{
		"name":  "alice",
		"score": 2.0,
		"tags":  []any{"a", "x", "y", "c"},
		"extra": true,
	}

	raws := observer.Diff(before, after, after)
	cs := FromRaw(after, raws)

	applied := Apply(before, cs)
	assert.True(t, value.Equal(applied, after), "applyChanges(before, cs) should equal after")

	reversed := Reverse(applied, cs)
	assert.True(t, value.Equal(reversed, before), "reverseChanges(applyChanges(before,cs),cs) should equal before")
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	v := map[string]any{"n": 1}
	_ = Apply(v, []Change{{Type: Update, Path: "n", OldValue: 1, NewValue: 2}})
	assert.Equal(t, 1, v["n"])
}

func TestMalformedChangeDropped(t *testing.T) {
	var v value.Value = map[string]any{"n": 1}
	got := Apply(v, []Change{{Type: "bogus", Path: "n"}})
	assert.Equal(t, map[string]any{"n": 1}, got)
}
