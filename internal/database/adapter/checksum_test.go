package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumIgnoresKeyOrder(t *testing.T) {
	a := map[string]any{"name": "acme", "total": 42, "tags": []any{"x", "y"}}
	b := map[string]any{"tags": []any{"x", "y"}, "total": 42, "name": "acme"}
	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestChecksumDetectsContentChange(t *testing.T) {
	a := map[string]any{"name": "acme", "total": 42}
	b := map[string]any{"name": "acme", "total": 43}
	assert.NotEqual(t, Checksum(a), Checksum(b))
}

func TestChecksumEmptyAndNil(t *testing.T) {
	assert.Equal(t, Checksum(nil), Checksum(nil))
	assert.NotEqual(t, Checksum(map[string]any{}), Checksum(map[string]any{"a": 1}))
}
