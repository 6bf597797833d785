package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergePayloadShallowMerge(t *testing.T) {
	current := map[string]any{"a": 1, "b": "keep"}
	patch := map[string]any{"a": 2, "c": true}

	out := MergePayload(current, patch, false)
	assert.Equal(t, map[string]any{"a": 2, "b": "keep", "c": true}, out)
	// The stored payload is never mutated in place.
	assert.Equal(t, 1, current["a"])
}

func TestMergePayloadReplace(t *testing.T) {
	current := map[string]any{"a": 1, "b": "drop"}
	out := MergePayload(current, map[string]any{"a": 2}, true)
	assert.Equal(t, map[string]any{"a": 2}, out)
}

func TestMergePayloadIncrement(t *testing.T) {
	current := map[string]any{"count": int64(5), "other": 1}

	out := MergePayload(current, map[string]any{"count": Inc(3)}, false)
	assert.Equal(t, int64(8), out["count"])

	// Replace still resolves the increment against the stored value.
	out = MergePayload(current, map[string]any{"count": Inc(-2)}, true)
	assert.Equal(t, int64(3), out["count"])

	// A missing or non-numeric base counts from zero.
	out = MergePayload(nil, map[string]any{"count": Inc(7)}, false)
	assert.Equal(t, int64(7), out["count"])
	out = MergePayload(map[string]any{"count": "nan"}, map[string]any{"count": Inc(7)}, false)
	assert.Equal(t, int64(7), out["count"])
}

func TestMergePayloadFloatBase(t *testing.T) {
	out := MergePayload(map[string]any{"count": 2.0}, map[string]any{"count": Inc(1)}, false)
	assert.Equal(t, int64(3), out["count"])
}
