package selector

import (
	"context"
	"errors"
	"time"

	"github.com/polystore/polystore/internal/database/adapter"
)

// Connect connects every registered backend. Backends that fail to connect
// stay registered and unhealthy; the error reports the first failure only
// when no backend came up at all.
func (s *Selector) Connect(ctx context.Context) error {
	var firstErr error
	connected := 0
	s.registry.Each(func(backend adapter.BackendType, store adapter.Store) {
		if err := store.Connect(ctx); err != nil {
			s.log.Error("backend %s failed to connect: %v", backend, err)
			s.health.RecordFailure(string(backend), err)
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		connected++
	})
	if connected == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// Disconnect disconnects every registered backend, returning the first error.
func (s *Selector) Disconnect(ctx context.Context) error {
	var firstErr error
	s.registry.Each(func(backend adapter.BackendType, store adapter.Store) {
		if err := store.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

// HealthCheck probes every backend and succeeds while at least one is
// reachable. The returned duration is the slowest successful probe.
func (s *Selector) HealthCheck(ctx context.Context) (time.Duration, error) {
	var (
		slowest time.Duration
		anyUp   bool
		lastErr error
	)
	s.registry.Each(func(backend adapter.BackendType, store adapter.Store) {
		rtt, err := store.HealthCheck(ctx)
		if err != nil {
			s.health.RecordFailure(string(backend), err)
			lastErr = err
			return
		}
		s.health.RecordSuccess(string(backend), rtt)
		anyUp = true
		if rtt > slowest {
			slowest = rtt
		}
	})
	if !anyUp {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, adapter.ErrNoHealthyBackend
	}
	return slowest, nil
}

// BackendType returns the empty type: the selector is not a concrete engine.
// The engine that served a call is reported in its Result metadata.
func (s *Selector) BackendType() adapter.BackendType {
	return ""
}

// Capabilities aggregates the registered backends: a feature is advertised
// when any backend provides it, and the batch cap is the tightest one.
func (s *Selector) Capabilities() adapter.Capability {
	agg := adapter.Capability{Name: "selector"}
	s.registry.Each(func(_ adapter.BackendType, store adapter.Store) {
		c := store.Capabilities()
		agg.SupportsSubscriptions = agg.SupportsSubscriptions || c.SupportsSubscriptions
		agg.SupportsManualRollback = agg.SupportsManualRollback || c.SupportsManualRollback
		if c.MaxBatchSize > 0 && (agg.MaxBatchSize == 0 || c.MaxBatchSize < agg.MaxBatchSize) {
			agg.MaxBatchSize = c.MaxBatchSize
		}
	})
	return agg
}

// Create routes the write and emits a change event on success.
func (s *Selector) Create(ctx context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("create", "", started, err)
	}
	r := store.Create(ctx, collection, data, opts)
	s.emitDocument(route, collection, adapter.SyncCreate, r)
	return r
}

// Read routes the lookup to the resolved backend.
func (s *Selector) Read(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("read", "", started, err)
	}
	return store.Read(ctx, collection, id)
}

// ReadAll routes the scan to the resolved backend.
func (s *Selector) ReadAll(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("read_all", "", started, err)
	}
	return store.ReadAll(ctx, collection)
}

// Update routes the write and emits a change event on success.
func (s *Selector) Update(ctx context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("update", "", started, err)
	}
	r := store.Update(ctx, collection, id, data, opts)
	s.emitDocument(route, collection, adapter.SyncUpdate, r)
	return r
}

// Delete routes the delete and emits a change event on success.
func (s *Selector) Delete(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("delete", "", started, err)
	}
	r := store.Delete(ctx, collection, id)
	if r.Success {
		s.emitDelete(route, collection, id, r.Metadata.Backend)
	}
	return r
}

// Exists routes the existence check.
func (s *Selector) Exists(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("exists", "", started, err)
	}
	return store.Exists(ctx, collection, id)
}

// Count routes the count.
func (s *Selector) Count(ctx context.Context, collection string, filters []adapter.Filter) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("count", "", started, err)
	}
	return store.Count(ctx, collection, filters)
}

// Query routes the query by its collection.
func (s *Selector) Query(ctx context.Context, q adapter.Query) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(q.Collection)
	if err != nil {
		return adapter.FailedResult("query", "", started, err)
	}
	return store.Query(ctx, q)
}

// FindByField routes the single-equality query.
func (s *Selector) FindByField(ctx context.Context, collection, field string, value any) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("find_by_field", "", started, err)
	}
	return store.FindByField(ctx, collection, field, value)
}

// BatchCreate routes the batch and emits one change event per document.
func (s *Selector) BatchCreate(ctx context.Context, collection string, items []map[string]any) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("batch_create", "", started, err)
	}
	r := store.BatchCreate(ctx, collection, items)
	s.emitDocuments(route, collection, adapter.SyncCreate, r)
	return r
}

// BatchUpdate routes the batch and emits one change event per document.
func (s *Selector) BatchUpdate(ctx context.Context, collection string, updates []adapter.BatchUpdate) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("batch_update", "", started, err)
	}
	r := store.BatchUpdate(ctx, collection, updates)
	s.emitDocuments(route, collection, adapter.SyncUpdate, r)
	return r
}

// BatchDelete routes the batch and emits one delete event per id.
func (s *Selector) BatchDelete(ctx context.Context, collection string, ids []string) *adapter.Result {
	started := time.Now()
	store, route, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("batch_delete", "", started, err)
	}
	r := store.BatchDelete(ctx, collection, ids)
	if r.Success {
		for _, id := range ids {
			s.emitDelete(route, collection, id, r.Metadata.Backend)
		}
	}
	return r
}

// RunTransaction routes the transaction to the resolved backend. Writes made
// inside the transaction body are not individually propagated; transactional
// collections should disable sync on their route.
func (s *Selector) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve("")
	if err != nil {
		return adapter.FailedResult("run_transaction", "", started, err)
	}
	return store.RunTransaction(ctx, fn)
}

// Subscribe routes to the resolved backend when it supports live queries,
// otherwise to any healthy backend that does.
func (s *Selector) Subscribe(ctx context.Context, collection string, filters []adapter.Filter, fn adapter.Callback) (adapter.Subscription, error) {
	store, _, err := s.resolve(collection)
	if err != nil {
		return nil, err
	}
	if store.Capabilities().SupportsSubscriptions {
		return store.Subscribe(ctx, collection, filters, fn)
	}
	var alt adapter.Store
	s.registry.Each(func(backend adapter.BackendType, candidate adapter.Store) {
		if alt == nil && candidate.Capabilities().SupportsSubscriptions &&
			s.health.IsHealthy(string(backend)) {
			alt = candidate
		}
	})
	if alt == nil {
		return nil, adapter.NewUnsupportedOperationError(store.BackendType(), "subscribe",
			"no healthy backend supports subscriptions")
	}
	return alt.Subscribe(ctx, collection, filters, fn)
}

// CreateCollection provisions the collection on every backend so failover
// and replication always have a landing place.
func (s *Selector) CreateCollection(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	var failure error
	s.registry.Each(func(_ adapter.BackendType, store adapter.Store) {
		if r := store.CreateCollection(ctx, collection); !r.Success && failure == nil {
			if !errors.Is(r.Error, adapter.ErrConnectionClosed) {
				failure = r.Error
			}
		}
	})
	if failure != nil {
		return adapter.FailedResult("create_collection", "", started, failure)
	}
	return adapter.NewResult("create_collection", "", started)
}

// MigrateData copies the collection from its resolved backend into target.
func (s *Selector) MigrateData(ctx context.Context, collection string, target adapter.Store) *adapter.Result {
	started := time.Now()
	store, _, err := s.resolve(collection)
	if err != nil {
		return adapter.FailedResult("migrate_data", "", started, err)
	}
	return store.MigrateData(ctx, collection, target)
}

// emitDocument submits a change event for the result's single document.
func (s *Selector) emitDocument(route Route, collection string, op adapter.SyncOperation, r *adapter.Result) {
	if !r.Success || r.Document == nil {
		return
	}
	s.emit(route, collection, op, r.Document, r.Metadata.Backend)
}

// emitDocuments submits one change event per result document.
func (s *Selector) emitDocuments(route Route, collection string, op adapter.SyncOperation, r *adapter.Result) {
	if !r.Success {
		return
	}
	for _, doc := range r.Documents {
		s.emit(route, collection, op, doc, r.Metadata.Backend)
	}
}

func (s *Selector) emit(route Route, collection string, op adapter.SyncOperation, doc *adapter.Document, source adapter.BackendType) {
	if s.sink == nil || !route.SyncEnabled {
		return
	}
	s.sink.Submit(adapter.SyncEvent{
		ID:            adapter.NewID(),
		Collection:    collection,
		Operation:     op,
		DocumentID:    doc.ID,
		Data:          doc.Data,
		Metadata:      doc.Metadata,
		SourceBackend: source,
		Timestamp:     time.Now().UTC(),
		Version:       doc.Metadata.Version,
		Checksum:      adapter.Checksum(doc.Data),
	})
}

func (s *Selector) emitDelete(route Route, collection, id string, source adapter.BackendType) {
	if s.sink == nil || !route.SyncEnabled {
		return
	}
	s.sink.Submit(adapter.SyncEvent{
		ID:            adapter.NewID(),
		Collection:    collection,
		Operation:     adapter.SyncDelete,
		DocumentID:    id,
		SourceBackend: source,
		Timestamp:     time.Now().UTC(),
	})
}
