// Package mongodb implements the unified data contract on MongoDB.
//
// Documents are stored as {_id, data, metadata} with the payload nested
// under data. Merges and version increments are delegated to the engine's
// native $set/$inc primitives rather than read-modify-write cycles.
package mongodb

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/pkg/logger"
)

// Config holds the MongoDB connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSL      bool

	PoolSize  int
	OpTimeout time.Duration
}

// Store implements adapter.Store for MongoDB.
type Store struct {
	cfg       Config
	log       *logger.Logger
	client    *mongo.Client
	db        *mongo.Database
	connected int32
}

// New creates a disconnected MongoDB store.
func New(cfg Config, log *logger.Logger) *Store {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{
		cfg: cfg,
		log: log.WithField("backend", string(adapter.BackendMongoDB)),
	}
}

// BackendType returns the backend identifier.
func (s *Store) BackendType() adapter.BackendType {
	return adapter.BackendMongoDB
}

// Capabilities returns the MongoDB capability metadata.
func (s *Store) Capabilities() adapter.Capability {
	return adapter.CapabilityOf(adapter.BackendMongoDB)
}

// Connect establishes the client and verifies it with a ping.
func (s *Store) Connect(ctx context.Context) error {
	var connString strings.Builder
	if s.cfg.Username != "" {
		fmt.Fprintf(&connString, "mongodb://%s:%s@%s:%d/%s?authSource=admin",
			s.cfg.Username, s.cfg.Password, s.cfg.Host, s.cfg.Port, s.cfg.Database)
	} else {
		fmt.Fprintf(&connString, "mongodb://%s:%d/%s?authSource=admin",
			s.cfg.Host, s.cfg.Port, s.cfg.Database)
	}
	fmt.Fprintf(&connString, "&tls=%t", s.cfg.SSL)

	clientOptions := options.Client().ApplyURI(connString.String())
	if s.cfg.PoolSize > 0 {
		clientOptions.SetMaxPoolSize(uint64(s.cfg.PoolSize))
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return adapter.NewConnectionError(adapter.BackendMongoDB, s.cfg.Host, s.cfg.Port,
			fmt.Errorf("error connecting to database: %w", err))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return adapter.NewConnectionError(adapter.BackendMongoDB, s.cfg.Host, s.cfg.Port,
			fmt.Errorf("error pinging database: %w", err))
	}

	s.client = client
	s.db = client.Database(s.cfg.Database)
	atomic.StoreInt32(&s.connected, 1)
	s.log.Info("connected to %s:%d/%s", s.cfg.Host, s.cfg.Port, s.cfg.Database)
	return nil
}

// Disconnect closes the client.
func (s *Store) Disconnect(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&s.connected, 1, 0) {
		if err := s.client.Disconnect(ctx); err != nil {
			return adapter.WrapError(adapter.BackendMongoDB, "disconnect", err)
		}
		s.log.Info("disconnected")
	}
	return nil
}

// IsConnected reports whether the store is connected.
func (s *Store) IsConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

// HealthCheck pings the primary and returns the observed round-trip time.
func (s *Store) HealthCheck(ctx context.Context) (time.Duration, error) {
	if !s.IsConnected() {
		return 0, adapter.ErrConnectionClosed
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return 0, adapter.NewConnectionError(adapter.BackendMongoDB, s.cfg.Host, s.cfg.Port, err)
	}
	return time.Since(started), nil
}

// CreateCollection provisions the collection; an already existing namespace
// is not an error.
func (s *Store) CreateCollection(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.guard("create_collection", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.db.CreateCollection(ctx, collection); err != nil {
		var cmdErr mongo.CommandError
		// 48: NamespaceExists.
		if !(isCommandError(err, &cmdErr) && cmdErr.Code == 48) {
			return adapter.FailedResult("create_collection", adapter.BackendMongoDB, started,
				adapter.WrapError(adapter.BackendMongoDB, "create_collection", err))
		}
	}
	s.log.Debug("ensured collection %s", collection)
	return adapter.NewResult("create_collection", adapter.BackendMongoDB, started)
}

// MigrateData copies collection into target, preserving document metadata.
func (s *Store) MigrateData(ctx context.Context, collection string, target adapter.Store) *adapter.Result {
	return adapter.Migrate(ctx, s, collection, target)
}

func (s *Store) guard(op string, started time.Time) *adapter.Result {
	if !s.IsConnected() {
		return adapter.FailedResult(op, adapter.BackendMongoDB, started, adapter.ErrConnectionClosed)
	}
	return nil
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}
