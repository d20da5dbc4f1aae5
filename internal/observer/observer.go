// Package observer implements the Deep Observer described in spec.md
// §4.3, realized as the explicit update-fn redesign spec.md §9 offers
// as an alternative to in-place mutation interception: Go has no
// Proxy-like mechanism to watch arbitrary nested mutation, so instead
// of attaching to a live value and watching it change, callers produce
// a before/after pair (typically via Replicant.Update) and Diff walks
// both in lockstep to produce the same raw change stream spec.md
// describes.
package observer

import (
	"fmt"
	"sort"

	"github.com/rcowham/replicant/internal/value"
)

// RawChange is the observer's raw, unnormalized output: "/"-separated
// paths starting with "/", matching spec.md §4.3's wire shape before
// the Change Codec normalizes it to dotted form.
type RawChange struct {
	Type    string // "add", "update", "splice", "delete"
	Path    string // "/"-separated, leading "/"
	Root    value.Value
	OldValue value.Value

	// splice-only
	Index      int
	Removed    []value.Value
	AddedCount int

	// set when the position holds a mapping, mirrored from the
	// source library's "object" flag on raw change records
	Object bool
}

// Diff walks before and after in lockstep and returns the raw change
// burst that would turn before into after. Diffing two primitives (or
// a primitive against nil) yields a single root-level change rather
// than raising — "attaching" to a non-object must be a no-op, and here
// that means it still produces a valid (if trivial) diff instead of a
// panic.
func Diff(before, after value.Value, root value.Value) []RawChange {
	var out []RawChange
	diffAt("/", before, after, root, &out)
	return out
}

func diffAt(p string, before, after value.Value, root value.Value, out *[]RawChange) {
	beforeMap, beforeIsMap := value.AsMapping(before)
	afterMap, afterIsMap := value.AsMapping(after)
	if beforeIsMap && afterIsMap {
		diffMaps(p, beforeMap, afterMap, root, out)
		return
	}

	beforeSeq, beforeIsSeq := value.AsSequence(before)
	afterSeq, afterIsSeq := value.AsSequence(after)
	if beforeIsSeq && afterIsSeq {
		diffSequences(p, beforeSeq, afterSeq, root, out)
		return
	}

	if value.Equal(before, after) {
		return
	}

	switch {
	case before == nil && after != nil:
		*out = append(*out, RawChange{Type: "add", Path: p, Root: root, Object: afterIsMap})
	case before != nil && after == nil:
		*out = append(*out, RawChange{Type: "delete", Path: p, Root: root, OldValue: before})
	default:
		*out = append(*out, RawChange{Type: "update", Path: p, Root: root, OldValue: before, Object: afterIsMap})
	}
}

func diffMaps(p string, before, after map[string]any, root value.Value, out *[]RawChange) {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		bv, bok := before[k]
		av, aok := after[k]
		childPath := childPath(p, k)
		switch {
		case !bok && aok:
			_, isMap := value.AsMapping(av)
			*out = append(*out, RawChange{Type: "add", Path: childPath, Root: root, Object: isMap})
		case bok && !aok:
			*out = append(*out, RawChange{Type: "delete", Path: childPath, Root: root, OldValue: bv})
		default:
			diffAt(childPath, bv, av, root, out)
		}
	}
}

func childPath(p, seg string) string {
	if p == "/" {
		return "/" + seg
	}
	return p + "/" + seg
}

// diffSequences emits at most one splice per call, covering the
// smallest contiguous run that differs (by trimming equal prefix and
// suffix elements), matching spec.md's splice-as-a-run model instead
// of one change per element.
func diffSequences(p string, before, after []any, root value.Value, out *[]RawChange) {
	start := 0
	for start < len(before) && start < len(after) && value.Equal(before[start], after[start]) {
		start++
	}

	endBefore := len(before)
	endAfter := len(after)
	for endBefore > start && endAfter > start && value.Equal(before[endBefore-1], after[endAfter-1]) {
		endBefore--
		endAfter--
	}

	if start == endBefore && start == endAfter {
		return
	}

	removed := append([]any(nil), before[start:endBefore]...)
	added := after[start:endAfter]

	*out = append(*out, RawChange{
		Type:       "splice",
		Path:       p,
		Root:       root,
		Index:      start,
		Removed:    removed,
		AddedCount: len(added),
	})
}

// AddedAt re-derives the added elements for a splice RawChange against
// the after value, since RawChange itself only carries AddedCount
// (mirroring the source library's raw shape). Callers that need the
// actual added slice call this with the after value at Path.
func AddedAt(after value.Value, rc RawChange) []value.Value {
	seq, ok := value.AsSequence(after)
	if !ok {
		return nil
	}
	if rc.Index < 0 || rc.Index+rc.AddedCount > len(seq) {
		return nil
	}
	return append([]value.Value(nil), seq[rc.Index:rc.Index+rc.AddedCount]...)
}

// String implements fmt.Stringer for debug logging.
func (rc RawChange) String() string {
	return fmt.Sprintf("%s %s", rc.Type, rc.Path)
}
