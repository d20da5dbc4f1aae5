// Package value defines the free-form structured document that a
// replicant holds: nil, a primitive, an ordered sequence, or a mapping
// from string to Value. The shape matches what encoding/json decodes
// into, so the wire format stays JSON-shaped without a bespoke codec.
package value

import (
	"github.com/brunoga/deep"
)

// Value is a JSON-shaped document: nil, bool, float64/string, []any
// (sequence) or map[string]any (mapping).
type Value = any

// Copy returns a deep copy of v. Server and client state must never
// share backing arrays/maps with a value handed to application code or
// received off the wire, or one side's in-place edit would silently
// corrupt the other's view.
func Copy(v Value) Value {
	if v == nil {
		return nil
	}
	cp, err := deep.Copy(v)
	if err != nil {
		// deep.Copy only fails on unsupported kinds (chans, funcs);
		// a JSON-shaped Value never contains those.
		panic(errCopy{v, err})
	}
	return cp
}

type errCopy struct {
	v   Value
	err error
}

func (e errCopy) Error() string {
	return "value: unsupported value in replicant document: " + e.err.Error()
}

// IsSequence reports whether v is an ordered sequence.
func IsSequence(v Value) bool {
	_, ok := v.([]any)
	return ok
}

// IsMapping reports whether v is a string-keyed mapping.
func IsMapping(v Value) bool {
	_, ok := v.(map[string]any)
	return ok
}

// AsSequence returns v's backing slice and whether v is a sequence.
func AsSequence(v Value) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// AsMapping returns v's backing map and whether v is a mapping.
func AsMapping(v Value) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
