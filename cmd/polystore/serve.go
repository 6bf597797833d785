package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polystore/polystore/internal/config"
	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/internal/database/dbsync"
	"github.com/polystore/polystore/internal/database/mongodb"
	"github.com/polystore/polystore/internal/database/postgres"
	"github.com/polystore/polystore/internal/database/selector"
	"github.com/polystore/polystore/pkg/logger"
)

var metricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect the configured backends and run the sync service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "metrics listen address")
}

func serve(parent context.Context) error {
	// Local overrides for credentials; a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	log := logger.New("polystore", Version).SetLevel(cfg.LogLevel)

	registry := adapter.NewRegistry()
	for _, b := range cfg.Backends {
		store, err := buildBackend(b, log)
		if err != nil {
			return err
		}
		registry.Register(store)
	}

	routes := make(map[string]selector.Route, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes[r.Collection] = selector.Route{
			Backend:     adapter.BackendType(r.Backend),
			SyncEnabled: r.SyncEnabled,
		}
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		sink   adapter.EventSink
		syncer *dbsync.Service
	)
	if cfg.Sync.Enabled {
		syncer = dbsync.New(registry, buildResolver(cfg, registry, log), dbsync.Options{
			SyncInterval:  cfg.Sync.SyncInterval,
			BatchSize:     cfg.Sync.BatchSize,
			MaxAttempts:   cfg.Sync.MaxAttempts,
			QueueCapacity: cfg.Sync.QueueCapacity,
		}, log)
		sink = syncer
	}

	sel := selector.New(registry, routes, sink, selector.Options{
		ProbeInterval:          cfg.Selector.ProbeInterval,
		RouteCacheTTL:          cfg.Selector.RouteCacheTTL,
		MaxConsecutiveFailures: cfg.Selector.MaxConsecutiveFailures,
	}, log)

	if err := sel.Connect(ctx); err != nil {
		return fmt.Errorf("connecting backends: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := sel.Disconnect(shutdownCtx); err != nil {
			log.Error("disconnecting backends: %v", err)
		}
	}()

	for _, r := range cfg.Routes {
		if res := sel.CreateCollection(ctx, r.Collection); !res.Success {
			return fmt.Errorf("provisioning collection %s: %w", r.Collection, res.Error)
		}
	}

	sel.Start(ctx)
	defer sel.Close()
	if syncer != nil {
		syncer.Start(ctx)
		defer func() {
			flushCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			syncer.Flush(flushCtx)
			syncer.Close()
		}()
	}

	go serveMetrics(metricsAddr, syncer, log)

	log.Info("polystore up: %d backends, %d routes", registry.Len(), len(routes))
	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func buildBackend(b config.BackendConfig, log *logger.Logger) (adapter.Store, error) {
	switch adapter.BackendType(b.Type) {
	case adapter.BackendPostgres:
		return postgres.New(postgres.Config{
			Host:             b.Connection.Host,
			Port:             b.Connection.Port,
			Database:         b.Connection.Database,
			Username:         b.Connection.Username,
			Password:         b.Connection.Password,
			SSL:              b.Connection.SSL,
			SSLMode:          b.Connection.SSLMode,
			PoolSize:         b.Options.PoolSize,
			StatementTimeout: b.Options.Timeout,
		}, log), nil
	case adapter.BackendMongoDB:
		return mongodb.New(mongodb.Config{
			Host:      b.Connection.Host,
			Port:      b.Connection.Port,
			Database:  b.Connection.Database,
			Username:  b.Connection.Username,
			Password:  b.Connection.Password,
			SSL:       b.Connection.SSL,
			PoolSize:  b.Options.PoolSize,
			OpTimeout: b.Options.Timeout,
		}, log), nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", b.Type)
	}
}

// buildResolver maps the configured strategy to a Resolver. Manual parks
// conflicts on the first declared backend; the custom strategy is only
// reachable programmatically and falls back to latest-wins here.
func buildResolver(cfg *config.Config, registry *adapter.Registry, log *logger.Logger) dbsync.Resolver {
	switch cfg.Sync.ConflictResolution {
	case "manual":
		store, err := registry.Get(adapter.BackendType(cfg.Backends[0].Type))
		if err == nil {
			return dbsync.Manual{Store: store}
		}
		log.Warn("manual resolution unavailable: %v; using latest-wins", err)
	case "custom":
		log.Warn("custom resolution has no registered resolver; using latest-wins")
	}
	return dbsync.LatestWins{}
}

func serveMetrics(addr string, syncer *dbsync.Service, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
		if syncer != nil {
			syncer.Metrics().WritePrometheus(w)
		}
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server: %v", err)
	}
}
