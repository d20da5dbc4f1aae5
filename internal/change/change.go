// Package change implements the forward and reverse application of a
// change-list against a value.Value snapshot — the codec spec.md §4.1
// calls the hard engineering at the center of the replication
// protocol.
package change

import (
	"github.com/rcowham/replicant/internal/path"
	"github.com/rcowham/replicant/internal/value"
)

// Type tags a Change variant.
type Type string

const (
	Add    Type = "add"
	Update Type = "update"
	Splice Type = "splice"
	Delete Type = "delete"
)

// Change is a single tagged edit. Only the fields relevant to Type are
// meaningful; the zero value of the rest is ignored.
type Change struct {
	Type Type `json:"type"`

	Path string `json:"path"`

	// add / update / delete
	NewValue value.Value `json:"newValue,omitempty"`
	OldValue value.Value `json:"oldValue,omitempty"`

	// splice, inside the sequence at Path
	Index        int           `json:"index,omitempty"`
	Removed      []value.Value `json:"removed,omitempty"`
	RemovedCount int           `json:"removedCount,omitempty"`
	Added        []value.Value `json:"added,omitempty"`
	AddedCount   int           `json:"addedCount,omitempty"`
}

// Apply produces a deep copy of v with cs applied in order. It never
// mutates v.
func Apply(v value.Value, cs []Change) value.Value {
	cur := value.Copy(v)
	for _, c := range cs {
		cur = applyOne(cur, c)
	}
	return cur
}

func applyOne(cur value.Value, c Change) value.Value {
	p := path.Parse(c.Path)
	switch c.Type {
	case Add, Update:
		return path.Set(cur, p, value.Copy(c.NewValue))
	case Delete:
		return path.Delete(cur, p)
	case Splice:
		return applySplice(cur, p, c)
	default:
		// Malformed change records are dropped, not raised.
		return cur
	}
}

func applySplice(cur value.Value, p path.Path, c Change) value.Value {
	seq, ok := path.Get(cur, p)
	var elems []any
	if ok {
		elems, ok = value.AsSequence(seq)
	}
	if !ok {
		// Edge policy: a splice whose target does not resolve to a
		// sequence is treated as if the sequence were empty.
		elems = []any{}
	}

	idx := c.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(elems) {
		idx = len(elems)
	}
	removeCount := c.RemovedCount
	if idx+removeCount > len(elems) {
		removeCount = len(elems) - idx
	}

	added := make([]any, len(c.Added))
	for i, a := range c.Added {
		added[i] = value.Copy(a)
	}

	next := make([]any, 0, len(elems)-removeCount+len(added))
	next = append(next, elems[:idx]...)
	next = append(next, added...)
	next = append(next, elems[idx+removeCount:]...)

	return path.Set(cur, p, next)
}

// Reverse produces a deep copy of v with cs applied in reverse order,
// each change undone. reverse(apply(v, cs), cs) must deep-equal v.
func Reverse(v value.Value, cs []Change) value.Value {
	cur := value.Copy(v)
	for i := len(cs) - 1; i >= 0; i-- {
		cur = reverseOne(cur, cs[i])
	}
	return cur
}

func reverseOne(cur value.Value, c Change) value.Value {
	p := path.Parse(c.Path)
	switch c.Type {
	case Add:
		return path.Delete(cur, p)
	case Update, Delete:
		// Missing paths during inverse update/delete are tolerated:
		// they may occur during replay of partially-applied
		// histories.
		return path.Set(cur, p, value.Copy(c.OldValue))
	case Splice:
		return reverseSplice(cur, p, c)
	default:
		return cur
	}
}

func reverseSplice(cur value.Value, p path.Path, c Change) value.Value {
	seq, ok := path.Get(cur, p)
	var elems []any
	if ok {
		elems, ok = value.AsSequence(seq)
	}
	if !ok {
		elems = []any{}
	}

	idx := c.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(elems) {
		idx = len(elems)
	}
	addedCount := c.AddedCount
	if idx+addedCount > len(elems) {
		addedCount = len(elems) - idx
	}

	removed := make([]any, len(c.Removed))
	for i, r := range c.Removed {
		removed[i] = value.Copy(r)
	}

	next := make([]any, 0, len(elems)-addedCount+len(removed))
	next = append(next, elems[:idx]...)
	next = append(next, removed...)
	next = append(next, elems[idx+addedCount:]...)

	return path.Set(cur, p, next)
}
