package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/polystore/polystore/internal/database/adapter"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the CRUD core can
// run inside and outside explicit transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StatementTimeout)
}

func (s *Store) guard(op string, started time.Time) *adapter.Result {
	if !s.IsConnected() {
		return adapter.FailedResult(op, adapter.BackendPostgres, started, adapter.ErrConnectionClosed)
	}
	return nil
}

// Create persists a new document, generating an id when none is supplied.
// With Merge, an existing id turns into a merge write instead of failing.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	started := time.Now()
	if r := s.guard("create", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc, err := createDoc(ctx, s.pool, s.fields, collection, data, opts)
	if err != nil {
		return adapter.FailedResult("create", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("create", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

// Read fetches one document by id.
func (s *Store) Read(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("read", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc, err := readDoc(ctx, s.pool, collection, id)
	if err != nil {
		return adapter.FailedResult("read", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("read", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

// ReadAll fetches every document of a collection in creation order.
func (s *Store) ReadAll(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.guard("read_all", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at", docColumns, quoteIdent(collection))
	docs, err := queryDocs(ctx, s.pool, sql)
	if err != nil {
		return adapter.FailedResult("read_all", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("read_all", adapter.BackendPostgres, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// Update merges a partial payload into the stored document (or replaces it
// with Replace), re-stamps updatedAt and increments the version, all inside
// one native transaction.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	started := time.Now()
	if r := s.guard("update", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return adapter.FailedResult("update", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "update", err))
	}
	defer tx.Rollback(ctx)

	doc, err := updateDoc(ctx, tx, s.fields, collection, id, data, opts)
	if err != nil {
		return adapter.FailedResult("update", adapter.BackendPostgres, started, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return adapter.FailedResult("update", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "update", err))
	}
	r := adapter.NewResult("update", adapter.BackendPostgres, started)
	r.Document = doc
	return r
}

// Delete removes one document by id, failing NotFound when it is missing.
func (s *Store) Delete(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("delete", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := deleteDoc(ctx, s.pool, collection, id); err != nil {
		return adapter.FailedResult("delete", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("delete", adapter.BackendPostgres, started)
	r.Count = 1
	return r
}

// Exists reports whether a document id is present.
func (s *Store) Exists(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("exists", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", quoteIdent(collection))
	var exists bool
	if err := s.pool.QueryRow(ctx, sql, id).Scan(&exists); err != nil {
		return adapter.FailedResult("exists", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "exists", err))
	}
	r := adapter.NewResult("exists", adapter.BackendPostgres, started)
	r.Exists = exists
	return r
}

// Count counts documents matching the filters.
func (s *Store) Count(ctx context.Context, collection string, filters []adapter.Filter) *adapter.Result {
	started := time.Now()
	if r := s.guard("count", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	b := &sqlBuilder{}
	where, err := compileFilters(s.fields, collection, filters, b)
	if err != nil {
		return adapter.FailedResult("count", adapter.BackendPostgres, started, err)
	}
	sql := fmt.Sprintf("SELECT count(*) FROM %s", quoteIdent(collection))
	if where != "" {
		sql += " WHERE " + where
	}
	var count int64
	if err := s.pool.QueryRow(ctx, sql, b.args...).Scan(&count); err != nil {
		return adapter.FailedResult("count", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "count", err))
	}
	r := adapter.NewResult("count", adapter.BackendPostgres, started)
	r.Count = count
	return r
}

// Query compiles the neutral AST to SQL and executes it.
func (s *Store) Query(ctx context.Context, q adapter.Query) *adapter.Result {
	started := time.Now()
	if r := s.guard("query", started); r != nil {
		return r
	}
	if err := q.Validate(); err != nil {
		return adapter.FailedResult("query", adapter.BackendPostgres, started, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql, args, err := compileSelect(s.fields, q)
	if err != nil {
		return adapter.FailedResult("query", adapter.BackendPostgres, started, err)
	}
	docs, err := queryDocs(ctx, s.pool, sql, args...)
	if err != nil {
		return adapter.FailedResult("query", adapter.BackendPostgres, started, err)
	}
	r := adapter.NewResult("query", adapter.BackendPostgres, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// FindByField is a single-equality query.
func (s *Store) FindByField(ctx context.Context, collection, field string, value any) *adapter.Result {
	r := s.Query(ctx, adapter.Query{
		Collection: collection,
		Filters:    []adapter.Filter{adapter.Where(field, adapter.OpEqual, value)},
	})
	r.Metadata.Operation = "find_by_field"
	return r
}

// BatchCreate inserts documents through one pipelined batch inside a
// transaction, so a mid-batch failure leaves nothing behind.
func (s *Store) BatchCreate(ctx context.Context, collection string, items []map[string]any) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_create", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, item := range items {
		sql, args, err := insertStatement(s.fields, collection, item, nil)
		if err != nil {
			return adapter.FailedResult("batch_create", adapter.BackendPostgres, started, err)
		}
		batch.Queue(sql, args...)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return adapter.FailedResult("batch_create", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_create", err))
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	docs := make([]*adapter.Document, 0, len(items))
	for range items {
		doc, err := scanDoc(br.QueryRow())
		if err != nil {
			br.Close()
			return adapter.FailedResult("batch_create", adapter.BackendPostgres, started,
				adapter.WrapError(adapter.BackendPostgres, "batch_create", err))
		}
		docs = append(docs, doc)
	}
	if err := br.Close(); err != nil {
		return adapter.FailedResult("batch_create", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_create", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return adapter.FailedResult("batch_create", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_create", err))
	}
	r := adapter.NewResult("batch_create", adapter.BackendPostgres, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// BatchUpdate applies each partial update inside one transaction.
func (s *Store) BatchUpdate(ctx context.Context, collection string, updates []adapter.BatchUpdate) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_update", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return adapter.FailedResult("batch_update", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_update", err))
	}
	defer tx.Rollback(ctx)

	docs := make([]*adapter.Document, 0, len(updates))
	for _, u := range updates {
		doc, err := updateDoc(ctx, tx, s.fields, collection, u.ID, u.Data, nil)
		if err != nil {
			return adapter.FailedResult("batch_update", adapter.BackendPostgres, started, err)
		}
		docs = append(docs, doc)
	}
	if err := tx.Commit(ctx); err != nil {
		return adapter.FailedResult("batch_update", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_update", err))
	}
	r := adapter.NewResult("batch_update", adapter.BackendPostgres, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// BatchDelete removes all listed ids; missing ids are skipped, not errors.
func (s *Store) BatchDelete(ctx context.Context, collection string, ids []string) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_delete", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	sql := fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", quoteIdent(collection))
	tag, err := s.pool.Exec(ctx, sql, ids)
	if err != nil {
		return adapter.FailedResult("batch_delete", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "batch_delete", err))
	}
	r := adapter.NewResult("batch_delete", adapter.BackendPostgres, started)
	r.Count = tag.RowsAffected()
	return r
}

// createDoc builds and runs the hybrid-schema INSERT: full payload into the
// JSONB column, mapped fields duplicated into their promoted columns.
func createDoc(ctx context.Context, q querier, fields *FieldMap, collection string, data map[string]any, opts *adapter.CreateOptions) (*adapter.Document, error) {
	sql, args, err := insertStatement(fields, collection, data, opts)
	if err != nil {
		return nil, err
	}
	doc, err := scanDoc(q.QueryRow(ctx, sql, args...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: collection %s", adapter.ErrDuplicateID, collection)
		}
		return nil, adapter.WrapError(adapter.BackendPostgres, "create", err)
	}
	return doc, nil
}

func insertStatement(fields *FieldMap, collection string, data map[string]any, opts *adapter.CreateOptions) (string, []any, error) {
	if opts == nil {
		opts = &adapter.CreateOptions{}
	}
	id := opts.ID
	if id == "" {
		id = adapter.NewID()
	}
	payload := adapter.MergePayload(nil, data, true)
	now := time.Now().UTC()
	meta := adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 1}
	if opts.Metadata != nil {
		meta = *opts.Metadata
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", nil, adapter.WrapError(adapter.BackendPostgres, "create",
			fmt.Errorf("encoding document payload: %w", err))
	}

	cols := []string{"id", "data", "created_at", "updated_at", "version"}
	args := []any{id, raw, meta.CreatedAt, meta.UpdatedAt, meta.Version}
	promoted := fields.Fields(collection)
	for _, field := range promoted {
		spec, _ := fields.Lookup(collection, field)
		cols = append(cols, spec.Column)
		args = append(args, payload[field])
	}

	placeholders := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		quoted[i] = quoteIdent(col)
	}

	sql := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s)",
		quoteIdent(collection),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))

	if opts.Merge {
		if opts.Metadata != nil {
			// Replicated write: the source already resolved the final state,
			// overwrite verbatim.
			sets := []string{
				"data = EXCLUDED.data",
				"created_at = EXCLUDED.created_at",
				"updated_at = EXCLUDED.updated_at",
				"version = EXCLUDED.version",
			}
			for _, field := range promoted {
				spec, _ := fields.Lookup(collection, field)
				sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(spec.Column), quoteIdent(spec.Column)))
			}
			sql += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
		} else {
			sets := []string{
				"data = t.data || EXCLUDED.data",
				"updated_at = EXCLUDED.updated_at",
				"version = t.version + 1",
			}
			for _, field := range promoted {
				spec, _ := fields.Lookup(collection, field)
				sets = append(sets, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)",
					quoteIdent(spec.Column), quoteIdent(spec.Column), quoteIdent(spec.Column)))
			}
			sql += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
		}
	}

	sql += " RETURNING " + docColumns
	return sql, args, nil
}

func readDoc(ctx context.Context, q querier, collection, id string) (*adapter.Document, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", docColumns, quoteIdent(collection))
	doc, err := scanDoc(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, adapter.NewNotFoundError(adapter.BackendPostgres, collection, id)
		}
		return nil, adapter.WrapError(adapter.BackendPostgres, "read", err)
	}
	return doc, nil
}

// updateDoc is the read-merge-write core shared by Update, BatchUpdate and
// transaction bodies. It must run inside a transaction: the row is locked
// for the duration so version increments never interleave.
func updateDoc(ctx context.Context, tx querier, fields *FieldMap, collection, id string, patch map[string]any, opts *adapter.UpdateOptions) (*adapter.Document, error) {
	if opts == nil {
		opts = &adapter.UpdateOptions{}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 FOR UPDATE", docColumns, quoteIdent(collection))
	current, err := scanDoc(tx.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, adapter.NewNotFoundError(adapter.BackendPostgres, collection, id)
		}
		return nil, adapter.WrapError(adapter.BackendPostgres, "update", err)
	}

	merged := adapter.MergePayload(current.Data, patch, opts.Replace)
	meta := current.Metadata
	meta.UpdatedAt = time.Now().UTC()
	meta.Version++
	if opts.Metadata != nil {
		meta = *opts.Metadata
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, adapter.WrapError(adapter.BackendPostgres, "update",
			fmt.Errorf("encoding document payload: %w", err))
	}

	sets := []string{"data = $1", "updated_at = $2", "version = $3"}
	args := []any{raw, meta.UpdatedAt, meta.Version}
	for _, field := range fields.Fields(collection) {
		spec, _ := fields.Lookup(collection, field)
		args = append(args, merged[field])
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(spec.Column), len(args)))
	}
	args = append(args, id)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d",
		quoteIdent(collection), strings.Join(sets, ", "), len(args))
	if _, err := tx.Exec(ctx, updateSQL, args...); err != nil {
		return nil, adapter.WrapError(adapter.BackendPostgres, "update", err)
	}

	return &adapter.Document{ID: id, Data: merged, Metadata: meta}, nil
}

func deleteDoc(ctx context.Context, q querier, collection, id string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE id = $1", quoteIdent(collection))
	tag, err := q.Exec(ctx, sql, id)
	if err != nil {
		return adapter.WrapError(adapter.BackendPostgres, "delete", err)
	}
	if tag.RowsAffected() == 0 {
		return adapter.NewNotFoundError(adapter.BackendPostgres, collection, id)
	}
	return nil
}

func queryDocs(ctx context.Context, q querier, sql string, args ...any) ([]*adapter.Document, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, adapter.WrapError(adapter.BackendPostgres, "query", err)
	}
	defer rows.Close()

	var docs []*adapter.Document
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, adapter.WrapError(adapter.BackendPostgres, "query", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, adapter.WrapError(adapter.BackendPostgres, "query", err)
	}
	return docs, nil
}

func scanDoc(row pgx.Row) (*adapter.Document, error) {
	var (
		id      string
		raw     []byte
		created time.Time
		updated time.Time
		version int64
	)
	if err := row.Scan(&id, &raw, &created, &updated, &version); err != nil {
		return nil, err
	}
	data := make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decoding document payload: %w", err)
		}
	}
	return &adapter.Document{
		ID:   id,
		Data: data,
		Metadata: adapter.DocumentMetadata{
			CreatedAt: created,
			UpdatedAt: updated,
			Version:   version,
		},
	}, nil
}

