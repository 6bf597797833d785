package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/polystore/polystore/internal/database/adapter"
)

// RunTransaction opens a native transaction and hands fn a transaction-
// scoped view. Any error from fn triggers ROLLBACK before the failure is
// reported; a nil return commits.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx adapter.Tx) error) *adapter.Result {
	started := time.Now()
	if r := s.guard("run_transaction", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return adapter.FailedResult("run_transaction", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "run_transaction", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txView{tx: tx, fields: s.fields}); err != nil {
		return adapter.FailedResult("run_transaction", adapter.BackendPostgres, started,
			fmt.Errorf("%w: %w", adapter.ErrTransactionAborted, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return adapter.FailedResult("run_transaction", adapter.BackendPostgres, started,
			fmt.Errorf("%w: %w", adapter.ErrTransactionAborted, err))
	}
	return adapter.NewResult("run_transaction", adapter.BackendPostgres, started)
}

// txView implements adapter.Tx on an open pgx transaction. Operations share
// the CRUD core with the pool paths; only the executor differs.
type txView struct {
	tx     pgx.Tx
	fields *FieldMap
}

func (v *txView) Create(ctx context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	started := time.Now()
	doc, err := createDoc(ctx, v.tx, v.fields, collection, data, opts)
	if err != nil {
		return adapter.FailedResult("create", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("create", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

func (v *txView) Read(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	doc, err := readDoc(ctx, v.tx, collection, id)
	if err != nil {
		return adapter.FailedResult("read", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("read", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

func (v *txView) Update(ctx context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	started := time.Now()
	doc, err := updateDoc(ctx, v.tx, v.fields, collection, id, data, opts)
	if err != nil {
		return adapter.FailedResult("update", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("update", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

func (v *txView) Delete(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if err := deleteDoc(ctx, v.tx, collection, id); err != nil {
		return adapter.FailedResult("delete", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("delete", adapter.BackendPostgres, started)
	r.Count = 1
	return r
}
