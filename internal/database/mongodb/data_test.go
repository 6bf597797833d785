package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/polystore/polystore/internal/database/adapter"
)

func TestConvertBSONValues(t *testing.T) {
	oid := bson.NewObjectID()
	doc := map[string]any{
		"ref":  oid,
		"when": bson.DateTime(1700000000000),
		"nested": bson.D{
			{Key: "inner", Value: bson.D{{Key: "x", Value: int32(1)}}},
		},
		"list": bson.A{bson.D{{Key: "y", Value: "z"}}, "plain"},
	}
	convertBSONValues(doc)

	assert.Equal(t, oid.Hex(), doc["ref"])
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), doc["when"])

	nested, ok := doc["nested"].(map[string]any)
	require.True(t, ok)
	inner, ok := nested["inner"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int32(1), inner["x"])

	list, ok := doc["list"].([]any)
	require.True(t, ok)
	first, ok := list[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "z", first["y"])
	assert.Equal(t, "plain", list[1])
}

func TestMongoDocRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := newMongoDoc("d-1", map[string]any{"name": "acme"}, adapter.DocumentMetadata{
		CreatedAt: now, UpdatedAt: now, Version: 3,
	})

	out := doc.toDocument()
	assert.Equal(t, "d-1", out.ID)
	assert.Equal(t, "acme", out.Data["name"])
	assert.Equal(t, int64(3), out.Metadata.Version)
	assert.Equal(t, now, out.Metadata.CreatedAt)
}

func TestToChange(t *testing.T) {
	full := newMongoDoc("d-1", map[string]any{"status": "open"}, adapter.DocumentMetadata{Version: 1})

	evt := changeEvent{OperationType: "insert", FullDocument: &full}
	change, ok := toChange("orders", evt, nil)
	require.True(t, ok)
	assert.Equal(t, adapter.SyncCreate, change.Operation)
	assert.Equal(t, "d-1", change.Document.ID)

	// Filters apply to the full document.
	_, ok = toChange("orders", evt, []adapter.Filter{
		adapter.Where("status", adapter.OpEqual, "closed"),
	})
	assert.False(t, ok)

	// Deletes carry only the id and bypass filtering.
	del := changeEvent{OperationType: "delete"}
	del.DocumentKey.ID = "d-2"
	change, ok = toChange("orders", del, []adapter.Filter{
		adapter.Where("status", adapter.OpEqual, "closed"),
	})
	require.True(t, ok)
	assert.Equal(t, adapter.SyncDelete, change.Operation)
	assert.Equal(t, "d-2", change.Document.ID)

	// An update whose document vanished before the lookup is skipped.
	_, ok = toChange("orders", changeEvent{OperationType: "update"}, nil)
	assert.False(t, ok)
}
