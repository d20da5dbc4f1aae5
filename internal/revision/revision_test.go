package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabelIsDeterministic(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": "x"}
	v2 := map[string]any{"b": "x", "a": 1} // different construction order
	assert.Equal(t, Label(3, v1), Label(3, v2))
}

func TestLabelDiffersOnSeq(t *testing.T) {
	v := map[string]any{"a": 1}
	assert.NotEqual(t, Label(1, v), Label(2, v))
}

func TestLabelDiffersOnValue(t *testing.T) {
	assert.NotEqual(t,
		Label(1, map[string]any{"a": 1}),
		Label(1, map[string]any{"a": 2}),
	)
}

func TestLabelStableAcrossNumericRepresentation(t *testing.T) {
	withInt := map[string]any{"n": int(5)}
	withFloat := map[string]any{"n": float64(5)}
	assert.Equal(t, Label(1, withInt), Label(1, withFloat))
}

func TestLabelLooksLikeHex(t *testing.T) {
	l := Label(0, nil)
	assert.Len(t, l, 40) // sha1 hex digest
}
