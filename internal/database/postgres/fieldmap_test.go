package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldMapLookup(t *testing.T) {
	fields := DefaultFieldMap()

	spec, ok := fields.Lookup("entities", "ownerId")
	require.True(t, ok)
	assert.Equal(t, "owner_id", spec.Column)
	assert.Equal(t, "text", spec.Type)

	_, ok = fields.Lookup("entities", "unmapped")
	assert.False(t, ok)
	_, ok = fields.Lookup("unknown_collection", "name")
	assert.False(t, ok)
}

func TestFieldMapFieldsAreSorted(t *testing.T) {
	fields := DefaultFieldMap()
	assert.Equal(t, []string{"category", "name", "ownerId"}, fields.Fields("entities"))
	assert.Empty(t, fields.Fields("unknown_collection"))
}

func TestNewFieldMapNil(t *testing.T) {
	fields := NewFieldMap(nil)
	_, ok := fields.Lookup("any", "field")
	assert.False(t, ok)
}
