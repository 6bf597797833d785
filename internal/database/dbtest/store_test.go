package dbtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystore/polystore/internal/database/adapter"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(adapter.BackendPostgres)
	require.NoError(t, s.Connect(context.Background()))
	return s
}

func TestCreateReadUpdateDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created := s.Create(ctx, "users", map[string]any{"email": "a@b.c"}, nil)
	require.True(t, created.Success)
	assert.Equal(t, int64(1), created.Document.Metadata.Version)

	dup := s.Create(ctx, "users", nil, &adapter.CreateOptions{ID: created.Document.ID})
	require.False(t, dup.Success)
	assert.ErrorIs(t, dup.Error, adapter.ErrDuplicateID)

	updated := s.Update(ctx, "users", created.Document.ID,
		map[string]any{"visits": adapter.Inc(2)}, nil)
	require.True(t, updated.Success)
	assert.Equal(t, int64(2), updated.Document.Data["visits"])
	assert.Equal(t, int64(2), updated.Document.Metadata.Version)

	require.True(t, s.Delete(ctx, "users", created.Document.ID).Success)
	assert.True(t, adapter.IsNotFound(s.Read(ctx, "users", created.Document.ID).Error))
	assert.False(t, s.Delete(ctx, "users", created.Document.ID).Success)
}

func TestQueryFilterSortPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, status := range []string{"open", "open", "closed", "open"} {
		r := s.Create(ctx, "orders", map[string]any{"status": status, "total": i * 10}, nil)
		require.True(t, r.Success)
	}

	r := s.Query(ctx, adapter.Query{
		Collection: "orders",
		Filters:    []adapter.Filter{adapter.Where("status", adapter.OpEqual, "open")},
		OrderBy:    []adapter.OrderBy{{Field: "total", Descending: true}},
		Limit:      2,
		Offset:     1,
	})
	require.True(t, r.Success)
	require.Len(t, r.Documents, 2)
	assert.Equal(t, 10, r.Documents[0].Data["total"])
	assert.Equal(t, 0, r.Documents[1].Data["total"])

	count := s.Count(ctx, "orders", []adapter.Filter{adapter.Where("status", adapter.OpEqual, "open")})
	assert.Equal(t, int64(3), count.Count)
}

func TestRunTransactionAbort(t *testing.T) {
	s := newStore(t)
	boom := errors.New("boom")

	r := s.RunTransaction(context.Background(), func(context.Context, adapter.Tx) error {
		return boom
	})
	require.False(t, r.Success)
	assert.ErrorIs(t, r.Error, adapter.ErrTransactionAborted)
	assert.ErrorIs(t, r.Error, boom)
}

func TestSubscribeFiltersAndUnsubscribe(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var changes []adapter.Change
	sub, err := s.Subscribe(ctx, "orders",
		[]adapter.Filter{adapter.Where("status", adapter.OpEqual, "open")},
		func(c adapter.Change) { changes = append(changes, c) })
	require.NoError(t, err)

	s.Create(ctx, "orders", map[string]any{"status": "open"}, nil)
	s.Create(ctx, "orders", map[string]any{"status": "closed"}, nil)
	require.Len(t, changes, 1)

	sub.Unsubscribe()
	s.Create(ctx, "orders", map[string]any{"status": "open"}, nil)
	assert.Len(t, changes, 1)
}

func TestMigrateData(t *testing.T) {
	src := newStore(t)
	dst := New(adapter.BackendMongoDB)
	require.NoError(t, dst.Connect(context.Background()))
	ctx := context.Background()

	created := src.Create(ctx, "users", map[string]any{"email": "a@b.c"}, nil)
	require.True(t, created.Success)

	r := src.MigrateData(ctx, "users", dst)
	require.True(t, r.Success)

	copied := dst.Read(ctx, "users", created.Document.ID)
	require.True(t, copied.Success)
	assert.Equal(t, created.Document.Metadata.Version, copied.Document.Metadata.Version)
	assert.Equal(t, created.Document.Metadata.CreatedAt, copied.Document.Metadata.CreatedAt)
}
