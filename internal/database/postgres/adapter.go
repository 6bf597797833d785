// Package postgres implements the unified data contract on PostgreSQL.
//
// Documents live in one table per collection using a hybrid schema: the full
// payload in a JSONB column plus selected fields promoted to dedicated
// columns (see FieldMap). The query compiler consults the field map for
// every filter and order field.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/pkg/logger"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool
	SSLMode  string

	PoolSize         int
	StatementTimeout time.Duration

	// Fields overrides the promoted-field map; nil selects the default.
	Fields *FieldMap
}

// Store implements adapter.Store for PostgreSQL.
type Store struct {
	cfg       Config
	fields    *FieldMap
	log       *logger.Logger
	pool      *pgxpool.Pool
	connected int32
}

// New creates a disconnected PostgreSQL store.
func New(cfg Config, log *logger.Logger) *Store {
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}
	fields := cfg.Fields
	if fields == nil {
		fields = DefaultFieldMap()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		cfg:    cfg,
		fields: fields,
		log:    log.WithField("backend", string(adapter.BackendPostgres)),
	}
}

// BackendType returns the backend identifier.
func (s *Store) BackendType() adapter.BackendType {
	return adapter.BackendPostgres
}

// Capabilities returns the PostgreSQL capability metadata.
func (s *Store) Capabilities() adapter.Capability {
	return adapter.CapabilityOf(adapter.BackendPostgres)
}

// Connect establishes the connection pool and verifies it with a ping.
// Connection failures are reported immediately, never retried here.
func (s *Store) Connect(ctx context.Context) error {
	var connString strings.Builder
	fmt.Fprintf(&connString, "postgres://%s:%s@%s:%d/%s",
		s.cfg.Username,
		s.cfg.Password,
		s.cfg.Host,
		s.cfg.Port,
		s.cfg.Database)

	if s.cfg.SSL {
		mode := s.cfg.SSLMode
		if mode == "" {
			mode = "verify-full"
		}
		fmt.Fprintf(&connString, "?sslmode=%s", mode)
	} else {
		connString.WriteString("?sslmode=disable")
	}
	if s.cfg.PoolSize > 0 {
		fmt.Fprintf(&connString, "&pool_max_conns=%d", s.cfg.PoolSize)
	}

	pool, err := pgxpool.New(ctx, connString.String())
	if err != nil {
		return adapter.NewConnectionError(adapter.BackendPostgres, s.cfg.Host, s.cfg.Port,
			fmt.Errorf("error connecting to database: %w", err))
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return adapter.NewConnectionError(adapter.BackendPostgres, s.cfg.Host, s.cfg.Port,
			fmt.Errorf("error pinging database: %w", err))
	}

	s.pool = pool
	atomic.StoreInt32(&s.connected, 1)
	s.log.Info("connected to %s:%d/%s", s.cfg.Host, s.cfg.Port, s.cfg.Database)
	return nil
}

// Disconnect closes the connection pool.
func (s *Store) Disconnect(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		s.pool.Close()
		s.log.Info("disconnected")
	}
	return nil
}

// IsConnected reports whether the store is connected.
func (s *Store) IsConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// HealthCheck pings the engine and returns the observed round-trip time.
func (s *Store) HealthCheck(ctx context.Context) (time.Duration, error) {
	if !s.IsConnected() {
		return 0, adapter.ErrConnectionClosed
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StatementTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return 0, adapter.NewConnectionError(adapter.BackendPostgres, s.cfg.Host, s.cfg.Port, err)
	}
	return time.Since(started), nil
}

// Subscribe is not available on the relational engine. The asymmetry with
// the document store is a contract fact; callers needing cross-backend
// consistency must not rely on subscriptions.
func (s *Store) Subscribe(ctx context.Context, collection string, filters []adapter.Filter, fn adapter.Callback) (adapter.Subscription, error) {
	return nil, adapter.NewUnsupportedOperationError(adapter.BackendPostgres, "subscribe",
		"relational engine has no live query support")
}

// MigrateData copies collection into target, preserving document metadata.
func (s *Store) MigrateData(ctx context.Context, collection string, target adapter.Store) *adapter.Result {
	return adapter.Migrate(ctx, s, collection, target)
}
