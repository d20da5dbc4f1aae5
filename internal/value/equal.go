package value

import "github.com/google/go-cmp/cmp"

// Equal reports whether a and b are deeply equal as structured
// documents. Numeric types are not distinguished beyond Go's own
// equality (callers normally compare values that both passed through
// the same JSON-decode boundary, so int-vs-float64 mismatches are
// treated as real differences, not noise).
func Equal(a, b Value) bool {
	return cmp.Equal(a, b)
}
