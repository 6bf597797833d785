package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/polystore/polystore/internal/database/adapter"
)

// RunTransaction runs fn inside a native session transaction. The session is
// carried in the context, so the transaction view can reuse the plain CRUD
// paths. Any error from fn aborts the transaction.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) *adapter.Result {
	started := time.Now()
	if r := s.guard("run_transaction", started); r != nil {
		return r
	}

	session, err := s.client.StartSession()
	if err != nil {
		return adapter.FailedResult("run_transaction", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "run_transaction", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx, &txView{store: s})
	})
	if err != nil {
		return adapter.FailedResult("run_transaction", adapter.BackendMongoDB, started,
			fmt.Errorf("%w: %w", adapter.ErrTransactionAborted, err))
	}
	return adapter.NewResult("run_transaction", adapter.BackendMongoDB, started)
}

// txView implements adapter.Tx by delegating to the store; the session in
// the context scopes every operation to the open transaction.
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
