package adapter

import (
	"context"
	"fmt"
	"time"
)

// Migrate copies every document of collection from source into target,
// preserving ids, versions and timestamps. Both adapters implement their
// MigrateData operation with it.
func Migrate(ctx context.Context, source Store, collection string, target Store) *Result {
	started := time.Now()
	backend := source.BackendType()

	all := source.ReadAll(ctx, collection)
	if !all.Success {
		return FailedResult("migrate_data", backend, started, all.Error)
	}

	if ensure := target.CreateCollection(ctx, collection); !ensure.Success {
		return FailedResult("migrate_data", backend, started, ensure.Error)
	}

	var copied int64
	for _, doc := range all.Documents {
		meta := doc.Metadata
		res := target.Create(ctx, collection, doc.Data, &CreateOptions{
			ID:       doc.ID,
			Merge:    true,
			Metadata: &meta,
		})
		if !res.Success {
			return FailedResult("migrate_data", backend, started,
				fmt.Errorf("migrating %s/%s to %s: %w", collection, doc.ID, target.BackendType(), res.Error))
		}
		copied++
	}

	out := NewResult("migrate_data", backend, started)
	out.Count = copied
	return out
}
