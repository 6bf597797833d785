// Package dbtest provides an in-memory adapter.Store for tests. It follows
// the reference semantics of the neutral query AST and supports fault
// injection for routing and retry scenarios.
package dbtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/polystore/polystore/internal/database/adapter"
)

// Store is an in-memory backend. The zero value is not usable; construct
// with New.
type Store struct {
	backend adapter.BackendType
	caps    adapter.Capability

	mu          sync.RWMutex
	connected   bool
	collections map[string]map[string]*adapter.Document
	subs        []*subscription

	healthErr     error
	healthLatency time.Duration
	opErr         map[string]error
}

// New creates a disconnected in-memory store posing as backend.
func New(backend adapter.BackendType) *Store {
	return &Store{
		backend: backend,
		caps: adapter.Capability{
			Name:                  string(backend),
			SupportsSubscriptions: true,
		},
		collections: make(map[string]map[string]*adapter.Document),
		opErr:       make(map[string]error),
	}
}

// SetCapabilities overrides the advertised capability metadata.
func (s *Store) SetCapabilities(caps adapter.Capability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps = caps
}

// SetHealth injects the next HealthCheck outcome.
func (s *Store) SetHealth(latency time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthLatency = latency
	s.healthErr = err
}

// FailOp makes the named operation fail with err until cleared with nil.
func (s *Store) FailOp(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.opErr, op)
		return
	}
	s.opErr[op] = err
}

// Len reports the number of documents in collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *Store) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *Store) HealthCheck(context.Context) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.healthErr != nil {
		return 0, s.healthErr
	}
	return s.healthLatency, nil
}

func (s *Store) BackendType() adapter.BackendType {
	return s.backend
}

func (s *Store) Capabilities() adapter.Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *Store) fail(op string, started time.Time) *adapter.Result {
	s.mu.RLock()
	err := s.opErr[op]
	s.mu.RUnlock()
	if err != nil {
		return adapter.FailedResult(op, s.backend, started, err)
	}
	return nil
}

func (s *Store) Create(_ context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	started := time.Now()
	if r := s.fail("create", started); r != nil {
		return r
	}
	if opts == nil {
		opts = &adapter.CreateOptions{}
	}
	id := opts.ID
	if id == "" {
		id = adapter.NewID()
	}

	s.mu.Lock()
	docs := s.collection(collection)
	existing, exists := docs[id]

	var doc *adapter.Document
	now := time.Now().UTC()
	switch {
	case exists && !opts.Merge:
		s.mu.Unlock()
		return adapter.FailedResult("create", s.backend, started,
			fmt.Errorf("%w: collection %s", adapter.ErrDuplicateID, collection))
	case exists:
		doc = &adapter.Document{ID: id, Data: adapter.MergePayload(existing.Data, data, false)}
		if opts.Metadata != nil {
			doc.Metadata = *opts.Metadata
		} else {
			doc.Metadata = existing.Metadata
			doc.Metadata.UpdatedAt = now
			doc.Metadata.Version++
		}
	default:
		doc = &adapter.Document{ID: id, Data: adapter.MergePayload(nil, data, true)}
		if opts.Metadata != nil {
			doc.Metadata = *opts.Metadata
		} else {
			doc.Metadata = adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 1}
		}
	}
	docs[id] = doc
	s.mu.Unlock()

	s.notify(collection, adapter.SyncCreate, doc)
	r := adapter.NewResult("create", s.backend, started)
	r.Document = doc.Clone()
	return r
}

func (s *Store) Read(_ context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.fail("read", started); r != nil {
		return r
	}
	s.mu.RLock()
	doc, ok := s.collections[collection][id]
	s.mu.RUnlock()
	if !ok {
		return adapter.FailedResult("read", s.backend, started,
			adapter.NewNotFoundError(s.backend, collection, id))
	}
	r := adapter.NewResult("read", s.backend, started)
	r.Document = doc.Clone()
	return r
}

func (s *Store) ReadAll(_ context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.fail("read_all", started); r != nil {
		return r
	}
	s.mu.RLock()
	out := make([]*adapter.Document, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		out = append(out, doc.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Metadata.CreatedAt.Equal(out[j].Metadata.CreatedAt) {
			return out[i].Metadata.CreatedAt.Before(out[j].Metadata.CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	r := adapter.NewResult("read_all", s.backend, started)
	r.Documents = out
	r.Count = int64(len(out))
	return r
}

func (s *Store) Update(_ context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	started := time.Now()
	if r := s.fail("update", started); r != nil {
		return r
	}
	if opts == nil {
		opts = &adapter.UpdateOptions{}
	}

	s.mu.Lock()
	existing, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return adapter.FailedResult("update", s.backend, started,
			adapter.NewNotFoundError(s.backend, collection, id))
	}
	doc := &adapter.Document{
		ID:   id,
		Data: adapter.MergePayload(existing.Data, data, opts.Replace),
	}
	if opts.Metadata != nil {
		doc.Metadata = *opts.Metadata
	} else {
		doc.Metadata = existing.Metadata
		doc.Metadata.UpdatedAt = time.Now().UTC()
		doc.Metadata.Version++
	}
	s.collections[collection][id] = doc
	s.mu.Unlock()

	s.notify(collection, adapter.SyncUpdate, doc)
	r := adapter.NewResult("update", s.backend, started)
	r.Document = doc.Clone()
	return r
}

func (s *Store) Delete(_ context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.fail("delete", started); r != nil {
		return r
	}
	s.mu.Lock()
	doc, ok := s.collections[collection][id]
	if ok {
		delete(s.collections[collection], id)
	}
	s.mu.Unlock()
	if !ok {
		return adapter.FailedResult("delete", s.backend, started,
			adapter.NewNotFoundError(s.backend, collection, id))
	}

	s.notify(collection, adapter.SyncDelete, doc)
	r := adapter.NewResult("delete", s.backend, started)
	r.Count = 1
	return r
}

func (s *Store) Exists(_ context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.fail("exists", started); r != nil {
		return r
	}
	s.mu.RLock()
	_, ok := s.collections[collection][id]
	s.mu.RUnlock()
	r := adapter.NewResult("exists", s.backend, started)
	r.Exists = ok
	return r
}

func (s *Store) Count(_ context.Context, collection string, filters []adapter.Filter) *adapter.Result {
	started := time.Now()
	if r := s.fail("count", started); r != nil {
		return r
	}
	s.mu.RLock()
	var count int64
	for _, doc := range s.collections[collection] {
		if adapter.MatchesAll(doc.Data, filters) {
			count++
		}
	}
	s.mu.RUnlock()
	r := adapter.NewResult("count", s.backend, started)
	r.Count = count
	return r
}

func (s *Store) Query(_ context.Context, q adapter.Query) *adapter.Result {
	started := time.Now()
	if r := s.fail("query", started); r != nil {
		return r
	}
	if err := q.Validate(); err != nil {
		return adapter.FailedResult("query", s.backend, started, err)
	}

	s.mu.RLock()
	var out []*adapter.Document
	for _, doc := range s.collections[q.Collection] {
		if adapter.MatchesAll(doc.Data, q.Filters) {
			out = append(out, doc.Clone())
		}
	}
	s.mu.RUnlock()

	adapter.SortDocuments(out, q.OrderBy)
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = nil
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	r := adapter.NewResult("query", s.backend, started)
	r.Documents = out
	r.Count = int64(len(out))
	return r
}

func (s *Store) FindByField(ctx context.Context, collection, field string, value any) *adapter.Result {
	r := s.Query(ctx, adapter.Query{
		Collection: collection,
		Filters:    []adapter.Filter{adapter.Where(field, adapter.OpEqual, value)},
	})
	r.Metadata.Operation = "find_by_field"
	return r
}

func (s *Store) BatchCreate(ctx context.Context, collection string, items []map[string]any) *adapter.Result {
	started := time.Now()
	if r := s.fail("batch_create", started); r != nil {
		return r
	}
	docs := make([]*adapter.Document, 0, len(items))
	for _, item := range items {
		r := s.Create(ctx, collection, item, nil)
		if !r.Success {
			return adapter.FailedResult("batch_create", s.backend, started, r.Error)
		}
		docs = append(docs, r.Document)
	}
	r := adapter.NewResult("batch_create", s.backend, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

func (s *Store) BatchUpdate(ctx context.Context, collection string, updates []adapter.BatchUpdate) *adapter.Result {
	started := time.Now()
	if r := s.fail("batch_update", started); r != nil {
		return r
	}
	docs := make([]*adapter.Document, 0, len(updates))
	for _, u := range updates {
		r := s.Update(ctx, collection, u.ID, u.Data, nil)
		if !r.Success {
			return adapter.FailedResult("batch_update", s.backend, started, r.Error)
		}
		docs = append(docs, r.Document)
	}
	r := adapter.NewResult("batch_update", s.backend, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

func (s *Store) BatchDelete(ctx context.Context, collection string, ids []string) *adapter.Result {
	started := time.Now()
	if r := s.fail("batch_delete", started); r != nil {
		return r
	}
	var count int64
	for _, id := range ids {
		if r := s.Delete(ctx, collection, id); r.Success {
			count += r.Count
		}
	}
	r := adapter.NewResult("batch_delete", s.backend, started)
	r.Count = count
	return r
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) *adapter.Result {
	started := time.Now()
	if r := s.fail("run_transaction", started); r != nil {
		return r
	}
	if err := fn(ctx, &txView{store: s}); err != nil {
		return adapter.FailedResult("run_transaction", s.backend, started,
			fmt.Errorf("%w: %w", adapter.ErrTransactionAborted, err))
	}
	return adapter.NewResult("run_transaction", s.backend, started)
}

func (s *Store) CreateCollection(_ context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.fail("create_collection", started); r != nil {
		return r
	}
	s.mu.Lock()
	s.collection(collection)
	s.mu.Unlock()
	return adapter.NewResult("create_collection", s.backend, started)
}

func (s *Store) MigrateData(ctx context.Context, collection string, target adapter.Store) *adapter.Result {
	return adapter.Migrate(ctx, s, collection, target)
}

// collection returns the mutable document map; callers hold the write lock.
func (s *Store) collection(name string) map[string]*adapter.Document {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]*adapter.Document)
		s.collections[name] = docs
	}
	return docs
}

// txView reuses the store directly: the in-memory backend has no rollback,
// which tests of abort behavior account for.
type txView struct {
	store *Store
}

func (v *txView) Create(ctx context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	return v.store.Create(ctx, collection, data, opts)
}

func (v *txView) Read(ctx context.Context, collection, id string) *adapter.Result {
	return v.store.Read(ctx, collection, id)
}

func (v *txView) Update(ctx context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	return v.store.Update(ctx, collection, id, data, opts)
}

func (v *txView) Delete(ctx context.Context, collection, id string) *adapter.Result {
	return v.store.Delete(ctx, collection, id)
}
