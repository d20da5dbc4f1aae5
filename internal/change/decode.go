package change

import "encoding/json"

// DecodeArg normalizes a wire-transport argument into a []Change.
// Over internal/transport/local, args are passed as live Go values and
// v is already []Change. Over internal/transport/ws, args have been
// through a JSON round trip and v arrives as []any of
// map[string]any — re-marshal/unmarshal is the simplest correct way to
// recover the typed form without hand-rolling a second decoder that
// could drift from the Change struct's json tags.
func DecodeArg(v any) ([]Change, bool) {
	if cs, ok := v.([]Change); ok {
		return cs, true
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var cs []Change
	if err := json.Unmarshal(b, &cs); err != nil {
		return nil, false
	}
	return cs, true
}
