package adapter

import (
	"time"

	"github.com/google/uuid"
)

// BackendType identifies one concrete storage engine behind the unified
// contract. The set is closed: adding a backend means adding a constant here,
// one adapter package, and a routing-table entry.
type BackendType string

const (
	// BackendPostgres is the relational engine (hybrid JSONB + promoted columns).
	BackendPostgres BackendType = "postgres"

	// BackendMongoDB is the schemaless document store.
	BackendMongoDB BackendType = "mongodb"
)

// Valid reports whether b names a known backend.
func (b BackendType) Valid() bool {
	switch b {
	case BackendPostgres, BackendMongoDB:
		return true
	default:
		return false
	}
}

// DocumentMetadata carries the bookkeeping fields stamped on every stored
// document. Version starts at 1 on creation and increments exactly once per
// successful update.
type DocumentMetadata struct {
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
}

// Document is the unit of storage shared by both backends. ID is immutable
// after creation.
type Document struct {
	ID       string           `json:"id"`
	Data     map[string]any   `json:"data"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Clone returns a copy of the document with its own top-level data map.
// Nested values are shared; callers that mutate nested structures must copy
// them first.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	data := make(map[string]any, len(d.Data))
	for k, v := range d.Data {
		data[k] = v
	}
	return &Document{ID: d.ID, Data: data, Metadata: d.Metadata}
}

// Metadata describes which adapter executed an operation and how long it
// took. Backend always names the adapter that actually ran the operation,
// never the selector that routed it.
type Metadata struct {
	Operation string        `json:"operation"`
	Backend   BackendType   `json:"backend"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Result is the uniform return value of every data operation. Exactly one of
// the payload fields is meaningful for a given operation; Success == false
// always carries a non-nil Error.
type Result struct {
	Success   bool        `json:"success"`
	Document  *Document   `json:"document,omitempty"`
	Documents []*Document `json:"documents,omitempty"`
	Count     int64       `json:"count,omitempty"`
	Exists    bool        `json:"exists,omitempty"`
	Error     error       `json:"-"`
	Metadata  Metadata    `json:"metadata"`
}

// NewResult builds a successful Result stamped with operation metadata.
func NewResult(operation string, backend BackendType, started time.Time) *Result {
	return &Result{
		Success: true,
		Metadata: Metadata{
			Operation: operation,
			Backend:   backend,
			Duration:  time.Since(started),
			Timestamp: time.Now().UTC(),
		},
	}
}

// FailedResult builds a failed Result carrying err.
func FailedResult(operation string, backend BackendType, started time.Time, err error) *Result {
	r := NewResult(operation, backend, started)
	r.Success = false
	r.Error = err
	return r
}

// CreateOptions tunes Create. A non-empty ID overrides id generation. Merge
// turns an existing-id collision into a merge write instead of a duplicate
// error. A non-nil Metadata bypasses stamping entirely so replication and
// migration can preserve source versions and timestamps.
type CreateOptions struct {
	ID       string
	Merge    bool
	Metadata *DocumentMetadata
}

// UpdateOptions tunes Update. The default is a shallow merge into the stored
// payload; Replace swaps the payload wholesale. A non-nil Metadata bypasses
// stamping, as for CreateOptions.
type UpdateOptions struct {
	Replace  bool
	Metadata *DocumentMetadata
}

// BatchUpdate pairs a document id with the partial payload to merge into it.
type BatchUpdate struct {
	ID   string
	Data map[string]any
}

// Increment is an atomic field increment usable as a value in update
// payloads. Each backend resolves it natively: MongoDB with $inc, PostgreSQL
// inside its read-merge-write update transaction.
type Increment struct {
	Delta int64
}

// Inc is shorthand for building an Increment value.
func Inc(delta int64) Increment {
	return Increment{Delta: delta}
}

// SyncOperation names the mutation class a sync event replicates.
type SyncOperation string

const (
	SyncCreate SyncOperation = "create"
	SyncUpdate SyncOperation = "update"
	SyncDelete SyncOperation = "delete"
)

// SyncEvent is the unit of cross-backend change propagation: both a work
// queue item and the basis of conflict comparison at the target.
type SyncEvent struct {
	ID            string           `json:"id"`
	Collection    string           `json:"collection"`
	Operation     SyncOperation    `json:"operation"`
	DocumentID    string           `json:"documentId"`
	Data          map[string]any   `json:"data,omitempty"`
	Metadata      DocumentMetadata `json:"metadata"`
	SourceBackend BackendType      `json:"sourceBackend"`
	Timestamp     time.Time        `json:"timestamp"`
	Version       int64            `json:"version"`
	Checksum      string           `json:"checksum"`

	// Attempts counts how many times delivery of this event has failed.
	// It drives the retry backoff and the dead-letter cutoff.
	Attempts int `json:"attempts"`
}

// EventSink receives change events emitted after successful writes.
// Submit must not block the caller.
type EventSink interface {
	Submit(event SyncEvent)
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}
