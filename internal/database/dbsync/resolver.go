package dbsync

import (
	"context"
	"time"

	"github.com/polystore/polystore/internal/database/adapter"
)

// ConflictCollection is the side collection where deferred conflicts are
// persisted for out-of-band resolution.
const ConflictCollection = "_sync_conflicts"

// Conflict describes a divergence found while applying a change event: the
// target already holds the document with a different version or checksum.
type Conflict struct {
	Collection     string
	DocumentID     string
	Event          adapter.SyncEvent
	Target         *adapter.Document
	TargetBackend  adapter.BackendType
	TargetChecksum string
	DetectedAt     time.Time
}

// Resolution is a resolver's verdict. ApplySource replaces the target
// document with the event payload; otherwise the target copy stands.
// Deferred marks the conflict as parked rather than resolved.
type Resolution struct {
	ApplySource bool
	Deferred    bool
	Reason      string
}

// Resolver decides the outcome of a conflict.
type Resolver interface {
	Resolve(ctx context.Context, c Conflict) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, c Conflict) (Resolution, error)

func (f ResolverFunc) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	return f(ctx, c)
}

// LatestWins resolves in favor of the most recent update timestamp. On a
// tie the target copy stands, keeping the resolution idempotent.
type LatestWins struct{}

func (LatestWins) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	if c.Event.Metadata.UpdatedAt.After(c.Target.Metadata.UpdatedAt) {
		return Resolution{ApplySource: true, Reason: "source is newer"}, nil
	}
	return Resolution{ApplySource: false, Reason: "target is newer or equal"}, nil
}

// Manual parks every conflict in the target's conflict collection and leaves
// both copies untouched until an operator intervenes.
type Manual struct {
	Store adapter.Store
}

func (m Manual) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	record := map[string]any{
		"collection":     c.Collection,
		"documentId":     c.DocumentID,
		"sourceBackend":  string(c.Event.SourceBackend),
		"targetBackend":  string(c.TargetBackend),
		"sourceVersion":  c.Event.Version,
		"targetVersion":  c.Target.Metadata.Version,
		"sourceChecksum": c.Event.Checksum,
		"targetChecksum": c.TargetChecksum,
		"sourceData":     c.Event.Data,
		"targetData":     c.Target.Data,
		"detectedAt":     c.DetectedAt,
	}
	if r := m.Store.Create(ctx, ConflictCollection, record, nil); !r.Success {
		return Resolution{}, r.Error
	}
	return Resolution{Deferred: true, Reason: "parked for manual resolution"}, nil
}
