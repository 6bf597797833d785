package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polystore/polystore/internal/database/adapter"
)

// CreateCollection provisions the collection's table if it does not exist:
// the JSONB payload column, the metadata columns, any promoted columns the
// field map declares, and a GIN index over the payload.
func (s *Store) CreateCollection(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.guard("create_collection", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cols := []string{
		"id TEXT PRIMARY KEY",
		"data JSONB NOT NULL DEFAULT '{}'::jsonb",
		"created_at TIMESTAMPTZ NOT NULL",
		"updated_at TIMESTAMPTZ NOT NULL",
		"version BIGINT NOT NULL DEFAULT 1",
	}
	for _, field := range s.fields.Fields(collection) {
		spec, _ := s.fields.Lookup(collection, field)
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(spec.Column), spec.Type))
	}

	createTable := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		quoteIdent(collection), strings.Join(cols, ", "))
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return adapter.FailedResult("create_collection", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "create_collection", err))
	}

	createIndex := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (data)",
		quoteIdent(collection+"_data_idx"), quoteIdent(collection))
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return adapter.FailedResult("create_collection", adapter.BackendPostgres, started,
			adapter.WrapError(adapter.BackendPostgres, "create_collection", err))
	}

	s.log.Debug("ensured table for collection %s", collection)
	return adapter.NewResult("create_collection", adapter.BackendPostgres, started)
}
