// Package revision computes the content-hash revision label spec.md
// §4.4 defines: a deterministic fingerprint over (sequence number,
// value) used purely for equality, never decoded back into its parts.
package revision

import (
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"encoding/json"

	"github.com/rcowham/replicant/internal/value"
)

// Label computes the revision label for (seq, v). Two calls with
// deeply-equal values and equal sequence numbers always produce equal
// labels (spec.md §8 property 4): canonicalize normalizes map key
// order and numeric representation before hashing, so a value built
// with Go ints and the same value decoded from JSON (as float64s)
// label identically.
func Label(seq uint64, v value.Value) string {
	canon := canonicalize(map[string]any{"num": seq, "value": v})
	sum := sha1.Sum(canon) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// canonicalize renders v as JSON with map keys sorted and numbers
// normalized to float64, matching encoding/json's own decode target so
// round-tripping through the wire never changes a value's label.
func canonicalize(v any) []byte {
	normalized := normalize(v)
	// encoding/json already sorts map[string]any keys when marshaling,
	// so normalize only needs to fix up numeric representation.
	b, err := json.Marshal(normalized)
	if err != nil {
		// v is always a JSON-shaped Value plus a uint64 sequence
		// number; both marshal without error.
		panic(err)
	}
	return b
}

func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	case uint64:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return x
	}
}

