package adapter

// Capability describes what a backend type can and cannot do. Callers that
// need cross-backend portability must consult it instead of assuming the
// union of both engines' features.
type Capability struct {
	Name string

	// SupportsSubscriptions reports whether the backend can deliver live
	// change notifications. Only the document store can; this asymmetry is a
	// contract fact, not a gap.
	SupportsSubscriptions bool

	// SupportsManualRollback reports whether transactions expose an explicit
	// rollback. The document store's native transaction primitive
	// auto-commits; callers must not rely on manual rollback cross-backend.
	SupportsManualRollback bool

	// MaxBatchSize is the engine-imposed cap on items per batch operation.
	// Larger batches are chunked by the adapter. Zero means unbounded.
	MaxBatchSize int
}

var capabilities = map[BackendType]Capability{
	BackendPostgres: {
		Name:                   "PostgreSQL",
		SupportsSubscriptions:  false,
		SupportsManualRollback: true,
		MaxBatchSize:           0,
	},
	BackendMongoDB: {
		Name:                   "MongoDB",
		SupportsSubscriptions:  true,
		SupportsManualRollback: false,
		MaxBatchSize:           500,
	},
}

// CapabilityOf returns the capability metadata for a backend type.
func CapabilityOf(backend BackendType) Capability {
	return capabilities[backend]
}
