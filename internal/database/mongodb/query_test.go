package mongodb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/polystore/polystore/internal/database/adapter"
)

func TestTranslateFilters(t *testing.T) {
	query, err := translateFilters([]adapter.Filter{
		adapter.Where("status", adapter.OpEqual, "open"),
		adapter.Where("total", adapter.OpGreaterThan, 10),
		adapter.Where("kind", adapter.OpIn, []any{"a", "b"}),
	})
	require.NoError(t, err)
	require.Len(t, query, 3)

	assert.Equal(t, "data.status", query[0].Key)
	assert.Equal(t, bson.D{{Key: "$eq", Value: "open"}}, query[0].Value)
	assert.Equal(t, bson.D{{Key: "$gt", Value: 10}}, query[1].Value)
	assert.Equal(t, bson.D{{Key: "$in", Value: []any{"a", "b"}}}, query[2].Value)
}

func TestTranslateFiltersArrayOperators(t *testing.T) {
	// Equality on an array field already expresses containment in this
	// engine, so both containment forms reduce to $eq / $in.
	query, err := translateFilters([]adapter.Filter{
		adapter.Where("tags", adapter.OpArrayContains, "vip"),
		adapter.Where("tags", adapter.OpArrayContainsAny, []any{"a", "b"}),
	})
	require.NoError(t, err)
	assert.Equal(t, bson.D{{Key: "$eq", Value: "vip"}}, query[0].Value)
	assert.Equal(t, bson.D{{Key: "$in", Value: []any{"a", "b"}}}, query[1].Value)
}

func TestTranslateFiltersUnsupportedOperator(t *testing.T) {
	_, err := translateFilters([]adapter.Filter{
		adapter.Where("status", adapter.Operator("like"), "x"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrUnsupportedOperator)
}

func TestTranslateSort(t *testing.T) {
	sort := translateSort([]adapter.OrderBy{
		{Field: "total", Descending: true},
		{Field: "name"},
	})
	assert.Equal(t, bson.D{
		{Key: "data.total", Value: -1},
		{Key: "data.name", Value: 1},
	}, sort)
}

func TestSplitPatch(t *testing.T) {
	sets, incs := splitPatch(map[string]any{
		"name":  "acme",
		"count": adapter.Inc(3),
	})
	require.Len(t, sets, 1)
	require.Len(t, incs, 1)
	assert.Equal(t, bson.E{Key: "data.name", Value: "acme"}, sets[0])
	assert.Equal(t, bson.E{Key: "data.count", Value: int64(3)}, incs[0])
}

func TestChunkSlice(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	chunks := chunkSlice(items, 2)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2}, chunks[0])
	assert.Equal(t, []int{5}, chunks[2])

	assert.Len(t, chunkSlice(items, 0), 1)
	assert.Nil(t, chunkSlice([]int{}, 2))
}

func TestOperationsOnDisconnectedStore(t *testing.T) {
	s := New(Config{}, nil)

	r := s.Read(context.Background(), "users", "u-1")
	require.False(t, r.Success)
	assert.ErrorIs(t, r.Error, adapter.ErrConnectionClosed)
	assert.Equal(t, adapter.BackendMongoDB, r.Metadata.Backend)

	_, err := s.Subscribe(context.Background(), "users", nil, func(adapter.Change) {})
	assert.ErrorIs(t, err, adapter.ErrConnectionClosed)
}

func TestCapabilities(t *testing.T) {
	s := New(Config{}, nil)
	caps := s.Capabilities()
	assert.True(t, caps.SupportsSubscriptions)
	assert.Equal(t, 500, caps.MaxBatchSize)
	assert.Equal(t, adapter.BackendMongoDB, s.BackendType())
}
