package adapter

import (
	"context"
	"time"
)

// Store is the unified data contract. Both adapters and the Selector
// implement it with identical semantics, enabling transparent substitution.
//
// Every data operation returns a Result; adapter-level failures are carried
// in Result.Error and never returned as Go errors. See the package
// documentation for the full propagation policy.
type Store interface {
	// Lifecycle.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// HealthCheck probes the backend and returns the observed round-trip time.
	HealthCheck(ctx context.Context) (time.Duration, error)

	// BackendType identifies the concrete engine (or, for the selector, the
	// engine a given call would route to is reported per-result instead).
	BackendType() BackendType

	// Capabilities returns the capability metadata for this backend.
	Capabilities() Capability

	// Single-document operations.
	Create(ctx context.Context, collection string, data map[string]any, opts *CreateOptions) *Result
	Read(ctx context.Context, collection, id string) *Result
	ReadAll(ctx context.Context, collection string) *Result
	Update(ctx context.Context, collection, id string, data map[string]any, opts *UpdateOptions) *Result
	Delete(ctx context.Context, collection, id string) *Result
	Exists(ctx context.Context, collection, id string) *Result
	Count(ctx context.Context, collection string, filters []Filter) *Result

	// Query translates the backend-neutral AST into the engine's native
	// query language.
	Query(ctx context.Context, q Query) *Result

	// FindByField is shorthand for a single equality query.
	FindByField(ctx context.Context, collection, field string, value any) *Result

	// Batch operations. Oversized batches are chunked to the engine's cap.
	BatchCreate(ctx context.Context, collection string, items []map[string]any) *Result
	BatchUpdate(ctx context.Context, collection string, updates []BatchUpdate) *Result
	BatchDelete(ctx context.Context, collection string, ids []string) *Result

	// RunTransaction executes fn against a transaction-scoped view. Any error
	// from fn aborts the transaction before the failure is reported in the
	// Result.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) *Result

	// Subscribe registers a live-change callback. Only backends whose
	// Capabilities report SupportsSubscriptions implement it; others return
	// an UnsupportedOperationError.
	Subscribe(ctx context.Context, collection string, filters []Filter, fn Callback) (Subscription, error)

	// CreateCollection provisions the collection's storage (table or
	// collection) if it does not already exist.
	CreateCollection(ctx context.Context, collection string) *Result

	// MigrateData copies every document in collection into target,
	// preserving ids, versions and timestamps.
	MigrateData(ctx context.Context, collection string, target Store) *Result
}

// Tx is the transaction-scoped view handed to RunTransaction bodies.
// Commit and rollback are owned by the adapter: returning nil commits,
// returning an error rolls back (where the engine permits it).
type Tx interface {
	Create(ctx context.Context, collection string, data map[string]any, opts *CreateOptions) *Result
	Read(ctx context.Context, collection, id string) *Result
	Update(ctx context.Context, collection, id string, data map[string]any, opts *UpdateOptions) *Result
	Delete(ctx context.Context, collection, id string) *Result
}

// Change is one live-update notification delivered to subscribers.
type Change struct {
	Collection string
	Operation  SyncOperation
	Document   *Document
}

// Callback receives subscription changes. It is invoked from the
// subscription's own goroutine and must not block for long.
type Callback func(Change)

// Subscription is a handle on a live-change feed.
type Subscription interface {
	// Unsubscribe stops the feed and releases its resources.
	Unsubscribe()
}
