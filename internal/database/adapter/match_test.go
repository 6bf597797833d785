package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesScalarOperators(t *testing.T) {
	data := map[string]any{"status": "open", "total": 10.5, "count": int64(3)}

	assert.True(t, Matches(data, Where("status", OpEqual, "open")))
	assert.False(t, Matches(data, Where("status", OpEqual, "closed")))
	assert.True(t, Matches(data, Where("status", OpNotEqual, "closed")))
	assert.True(t, Matches(data, Where("total", OpGreaterThan, 10)))
	assert.True(t, Matches(data, Where("total", OpLessThanOrEqual, 10.5)))
	assert.False(t, Matches(data, Where("total", OpLessThan, 10)))

	// Numeric coercion across Go types.
	assert.True(t, Matches(data, Where("count", OpEqual, 3)))
	assert.True(t, Matches(data, Where("count", OpEqual, 3.0)))
}

func TestMatchesMissingField(t *testing.T) {
	data := map[string]any{"status": "open"}

	assert.False(t, Matches(data, Where("missing", OpEqual, "x")))
	assert.True(t, Matches(data, Where("missing", OpNotEqual, "x")))
	assert.False(t, Matches(data, Where("missing", OpGreaterThan, 1)))
}

func TestMatchesDottedPath(t *testing.T) {
	data := map[string]any{"address": map[string]any{"city": "berlin"}}
	assert.True(t, Matches(data, Where("address.city", OpEqual, "berlin")))
	assert.False(t, Matches(data, Where("address.zip", OpEqual, "10999")))
}

func TestMatchesInAndArrayOperators(t *testing.T) {
	data := map[string]any{
		"status": "open",
		"tags":   []any{"red", "blue"},
	}

	assert.True(t, Matches(data, Where("status", OpIn, []any{"open", "closed"})))
	assert.False(t, Matches(data, Where("status", OpIn, []any{"closed"})))
	assert.True(t, Matches(data, Where("tags", OpArrayContains, "red")))
	assert.False(t, Matches(data, Where("tags", OpArrayContains, "green")))
	assert.True(t, Matches(data, Where("tags", OpArrayContainsAny, []any{"green", "blue"})))
	assert.False(t, Matches(data, Where("tags", OpArrayContainsAny, []any{"green"})))

	// Typed slices widen like []any.
	assert.True(t, Matches(data, Where("status", OpIn, []string{"open"})))
}

func TestMatchesAll(t *testing.T) {
	data := map[string]any{"status": "open", "total": 5}
	filters := []Filter{
		Where("status", OpEqual, "open"),
		Where("total", OpLessThan, 10),
	}
	assert.True(t, MatchesAll(data, filters))
	filters = append(filters, Where("total", OpGreaterThan, 10))
	assert.False(t, MatchesAll(data, filters))
	assert.True(t, MatchesAll(data, nil))
}

func TestSortDocuments(t *testing.T) {
	docs := []*Document{
		{ID: "a", Data: map[string]any{"rank": 3, "name": "c"}},
		{ID: "b", Data: map[string]any{"rank": 1, "name": "a"}},
		{ID: "c", Data: map[string]any{"rank": 1, "name": "b"}},
	}
	SortDocuments(docs, []OrderBy{
		{Field: "rank"},
		{Field: "name", Descending: true},
	})
	assert.Equal(t, []string{"c", "b", "a"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}
