package dbsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/internal/database/dbtest"
)

type fixture struct {
	pg    *dbtest.Store
	mongo *dbtest.Store
	svc   *Service
}

func newFixture(t *testing.T, resolver Resolver, opts Options) *fixture {
	t.Helper()
	pg := dbtest.New(adapter.BackendPostgres)
	mongo := dbtest.New(adapter.BackendMongoDB)
	registry := adapter.NewRegistry()
	registry.Register(pg)
	registry.Register(mongo)
	require.NoError(t, pg.Connect(context.Background()))
	require.NoError(t, mongo.Connect(context.Background()))
	return &fixture{pg: pg, mongo: mongo, svc: New(registry, resolver, opts, nil)}
}

func makeEvent(op adapter.SyncOperation, id string, data map[string]any, version int64, updatedAt time.Time) adapter.SyncEvent {
	return adapter.SyncEvent{
		ID:         adapter.NewID(),
		Collection: "users",
		Operation:  op,
		DocumentID: id,
		Data:       data,
		Metadata: adapter.DocumentMetadata{
			CreatedAt: updatedAt.Add(-time.Minute),
			UpdatedAt: updatedAt,
			Version:   version,
		},
		SourceBackend: adapter.BackendPostgres,
		Timestamp:     time.Now().UTC(),
		Version:       version,
		Checksum:      adapter.Checksum(data),
	}
}

func TestCloseWithoutStart(t *testing.T) {
	f := newFixture(t, nil, Options{})
	done := make(chan struct{})
	go func() {
		f.svc.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked without a prior Start")
	}
}

func TestConflictFreePropagation(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	data := map[string]any{"email": "a@b.c"}
	f.svc.Submit(makeEvent(adapter.SyncCreate, "u-1", data, 1, time.Now().UTC()))
	f.svc.Flush(ctx)

	r := f.mongo.Read(ctx, "users", "u-1")
	require.True(t, r.Success)
	assert.Equal(t, "a@b.c", r.Document.Data["email"])
	assert.Equal(t, int64(1), r.Document.Metadata.Version, "replication preserves the source version")

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Zero(t, stats.ConflictsDetected)
	assert.Zero(t, stats.QueueDepth)
}

func TestConvergedTargetIsSkipped(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	data := map[string]any{"email": "a@b.c"}
	now := time.Now().UTC()
	f.mongo.Create(ctx, "users", data, &adapter.CreateOptions{
		ID:       "u-1",
		Metadata: &adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 4},
	})

	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1", data, 4, now))
	f.svc.Flush(ctx)

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Zero(t, stats.ConflictsDetected)
}

func TestConflictSourceNewerWins(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	f.mongo.Create(ctx, "users", map[string]any{"email": "old@b.c"}, &adapter.CreateOptions{
		ID:       "u-1",
		Metadata: &adapter.DocumentMetadata{CreatedAt: old, UpdatedAt: old, Version: 1},
	})

	newer := map[string]any{"email": "new@b.c"}
	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1", newer, 2, time.Now().UTC()))
	f.svc.Flush(ctx)

	r := f.mongo.Read(ctx, "users", "u-1")
	require.True(t, r.Success)
	assert.Equal(t, "new@b.c", r.Document.Data["email"])
	assert.Equal(t, int64(2), r.Document.Metadata.Version)

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.ConflictsDetected)
	assert.Equal(t, uint64(1), stats.ConflictsResolved)
}

func TestConflictTargetNewerStands(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	now := time.Now().UTC()
	f.mongo.Create(ctx, "users", map[string]any{"email": "target@b.c"}, &adapter.CreateOptions{
		ID:       "u-1",
		Metadata: &adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 5},
	})

	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1",
		map[string]any{"email": "stale@b.c"}, 2, now.Add(-time.Hour)))
	f.svc.Flush(ctx)

	r := f.mongo.Read(ctx, "users", "u-1")
	require.True(t, r.Success)
	assert.Equal(t, "target@b.c", r.Document.Data["email"])
	assert.Equal(t, int64(5), r.Document.Metadata.Version)

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.ConflictsDetected)
	assert.Equal(t, uint64(1), stats.ConflictsResolved)
}

func TestChecksumMismatchAloneIsAConflict(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	now := time.Now().UTC()
	f.mongo.Create(ctx, "users", map[string]any{"email": "drift@b.c"}, &adapter.CreateOptions{
		ID:       "u-1",
		Metadata: &adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 3},
	})

	// Same version, different content.
	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1",
		map[string]any{"email": "source@b.c"}, 3, now.Add(time.Minute)))
	f.svc.Flush(ctx)

	assert.Equal(t, uint64(1), f.svc.Stats().ConflictsDetected)
	r := f.mongo.Read(ctx, "users", "u-1")
	assert.Equal(t, "source@b.c", r.Document.Data["email"])
}

func TestDeletePropagation(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	f.mongo.Create(ctx, "users", map[string]any{"email": "a@b.c"}, &adapter.CreateOptions{ID: "u-1"})
	f.svc.Submit(adapter.SyncEvent{
		ID:            adapter.NewID(),
		Collection:    "users",
		Operation:     adapter.SyncDelete,
		DocumentID:    "u-1",
		SourceBackend: adapter.BackendPostgres,
	})
	f.svc.Flush(ctx)

	assert.False(t, f.mongo.Exists(ctx, "users", "u-1").Exists)
	assert.Equal(t, uint64(1), f.svc.Stats().Succeeded)
}

func TestDeleteOfMissingDocumentSucceeds(t *testing.T) {
	f := newFixture(t, nil, Options{})
	f.svc.Submit(adapter.SyncEvent{
		ID:            adapter.NewID(),
		Collection:    "users",
		Operation:     adapter.SyncDelete,
		DocumentID:    "ghost",
		SourceBackend: adapter.BackendPostgres,
	})
	f.svc.Flush(context.Background())

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.Succeeded)
	assert.Zero(t, stats.Failed)
}

func TestManualResolverParksConflict(t *testing.T) {
	parking := dbtest.New(adapter.BackendPostgres)
	require.NoError(t, parking.Connect(context.Background()))
	f := newFixture(t, Manual{Store: parking}, Options{})
	ctx := context.Background()

	now := time.Now().UTC()
	f.mongo.Create(ctx, "users", map[string]any{"email": "target@b.c"}, &adapter.CreateOptions{
		ID:       "u-1",
		Metadata: &adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 1},
	})
	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1", map[string]any{"email": "source@b.c"}, 2, now))
	f.svc.Flush(ctx)

	// Both copies stand; the conflict is recorded on the side.
	r := f.mongo.Read(ctx, "users", "u-1")
	assert.Equal(t, "target@b.c", r.Document.Data["email"])
	assert.Equal(t, 1, parking.Len(ConflictCollection))

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.ConflictsDetected)
	assert.Zero(t, stats.ConflictsResolved)
}

func TestRetryDeadLettersAtCap(t *testing.T) {
	f := newFixture(t, nil, Options{MaxAttempts: 3})

	event := makeEvent(adapter.SyncUpdate, "u-1", map[string]any{"a": 1}, 1, time.Now().UTC())
	event.Attempts = 2
	f.svc.retry(event, errors.New("target down"))

	letters := f.svc.DeadLetters()
	require.Len(t, letters, 1)
	assert.Equal(t, "u-1", letters[0].DocumentID)
	assert.Equal(t, 3, letters[0].Attempts)
	assert.Equal(t, uint64(1), f.svc.Stats().DeadLettered)
}

func TestFailedDispatchCountsAndRequeues(t *testing.T) {
	f := newFixture(t, nil, Options{MaxAttempts: 5})
	ctx := context.Background()

	f.mongo.FailOp("read", errors.New("io timeout"))
	f.svc.Submit(makeEvent(adapter.SyncUpdate, "u-1", map[string]any{"a": 1}, 1, time.Now().UTC()))
	f.svc.Flush(ctx)

	stats := f.svc.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Zero(t, stats.Succeeded)
	assert.Empty(t, f.svc.DeadLetters())
}

func TestQueueCapacityDropsOverflow(t *testing.T) {
	f := newFixture(t, nil, Options{QueueCapacity: 2})

	for i := 0; i < 3; i++ {
		f.svc.Submit(makeEvent(adapter.SyncCreate, adapter.NewID(), map[string]any{"a": i}, 1, time.Now().UTC()))
	}

	stats := f.svc.Stats()
	assert.Equal(t, uint64(3), stats.TotalEvents)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 2, stats.QueueDepth)
}

func TestBatchSizeBoundsDrain(t *testing.T) {
	f := newFixture(t, nil, Options{BatchSize: 2})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.svc.Submit(makeEvent(adapter.SyncCreate, adapter.NewID(), map[string]any{"n": i}, 1, time.Now().UTC()))
	}
	f.svc.Flush(ctx)
	assert.Equal(t, 3, f.svc.Stats().QueueDepth)
	f.svc.Flush(ctx)
	f.svc.Flush(ctx)
	assert.Zero(t, f.svc.Stats().QueueDepth)
	assert.Equal(t, 5, f.mongo.Len("users"))
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 2*time.Second, backoffDelay(1))
	assert.Equal(t, 4*time.Second, backoffDelay(2))
	assert.Equal(t, 16*time.Second, backoffDelay(4))
	assert.Equal(t, 30*time.Second, backoffDelay(5))
	assert.Equal(t, 30*time.Second, backoffDelay(9))
}

func TestStartDrainsOnDeleteImmediately(t *testing.T) {
	f := newFixture(t, nil, Options{SyncInterval: time.Hour})
	ctx := context.Background()
	f.mongo.Create(ctx, "users", map[string]any{"a": 1}, &adapter.CreateOptions{ID: "u-1"})

	f.svc.Start(ctx)
	defer f.svc.Close()

	f.svc.Submit(adapter.SyncEvent{
		ID:            adapter.NewID(),
		Collection:    "users",
		Operation:     adapter.SyncDelete,
		DocumentID:    "u-1",
		SourceBackend: adapter.BackendPostgres,
	})

	require.Eventually(t, func() bool {
		return !f.mongo.Exists(ctx, "users", "u-1").Exists
	}, 2*time.Second, 10*time.Millisecond)
}
