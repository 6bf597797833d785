// Package selector routes data operations to a healthy backend.
//
// The Selector implements the same contract as the concrete adapters, so
// callers are oblivious to which engine served them; the engine that handled
// a call is reported in the Result metadata. Routing follows the static
// per-collection routes, falls back to the healthiest alternative when the
// preferred backend is down, and remembers resolutions in a TTL cache.
package selector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/pkg/health"
	"github.com/polystore/polystore/pkg/logger"
)

// Route assigns a collection to its preferred backend.
type Route struct {
	Backend     adapter.BackendType
	SyncEnabled bool
}

// Options tunes routing and health probing. Zero values select defaults.
type Options struct {
	ProbeInterval          time.Duration
	RouteCacheTTL          time.Duration
	MaxConsecutiveFailures int

	// DefaultRoute optionally pins collections with no declared route to a
	// fixed backend. Left zero, such collections go to the healthy backend
	// with the lowest probe latency.
	DefaultRoute Route
}

func (o *Options) applyDefaults() {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 30 * time.Second
	}
	if o.RouteCacheTTL <= 0 {
		o.RouteCacheTTL = 30 * time.Minute
	}
}

type cacheEntry struct {
	backend adapter.BackendType
	expires time.Time
}

// Selector is the health-aware routing facade over the registered backends.
type Selector struct {
	registry *adapter.Registry
	routes   map[string]Route
	opts     Options
	health   *health.Tracker
	cache    *xsync.MapOf[string, cacheEntry]
	sink     adapter.EventSink
	log      *logger.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Selector over the registered backends. sink may be nil, in
// which case no change events are emitted.
func New(registry *adapter.Registry, routes map[string]Route, sink adapter.EventSink, opts Options, log *logger.Logger) *Selector {
	opts.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	if routes == nil {
		routes = map[string]Route{}
	}
	return &Selector{
		registry: registry,
		routes:   routes,
		opts:     opts,
		health:   health.NewTracker(opts.MaxConsecutiveFailures),
		cache:    xsync.NewMapOf[string, cacheEntry](),
		sink:     sink,
		log:      log.WithField("component", "selector"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Health exposes the tracker for status reporting.
func (s *Selector) Health() *health.Tracker {
	return s.health
}

// Start probes every backend once, then keeps probing on the configured
// interval until Close is called.
func (s *Selector) Start(ctx context.Context) {
	s.ProbeOnce(ctx)
	s.started.Store(true)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.opts.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.ProbeOnce(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the probe loop. Safe to call without a prior Start.
func (s *Selector) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// ProbeOnce health-checks every registered backend and records the results.
func (s *Selector) ProbeOnce(ctx context.Context) {
	s.registry.Each(func(backend adapter.BackendType, store adapter.Store) {
		rtt, err := store.HealthCheck(ctx)
		if err != nil {
			wasHealthy := s.health.IsHealthy(string(backend))
			s.health.RecordFailure(string(backend), err)
			if wasHealthy && !s.health.IsHealthy(string(backend)) {
				s.log.Warn("backend %s demoted: %v", backend, err)
			}
			return
		}
		if !s.health.IsHealthy(string(backend)) {
			s.log.Info("backend %s healthy (%s)", backend, rtt)
		}
		s.health.RecordSuccess(string(backend), rtt)
	})
}

// routeFor returns the declared route for collection, or the default route.
// A zero-backend result means no preference: pick the healthiest.
func (s *Selector) routeFor(collection string) Route {
	if r, ok := s.routes[collection]; ok {
		return r
	}
	return s.opts.DefaultRoute
}

// resolve picks the backend that will serve collection: a still-valid cached
// resolution whose backend remains healthy, the preferred route target when
// healthy, or the healthiest alternative. Collections without a route (and
// no DefaultRoute) go straight to the healthy backend with the lowest probe
// latency. With no healthy backend at all it returns ErrNoHealthyBackend.
func (s *Selector) resolve(collection string) (adapter.Store, Route, error) {
	route := s.routeFor(collection)

	if entry, ok := s.cache.Load(collection); ok {
		if time.Now().Before(entry.expires) && s.health.IsHealthy(string(entry.backend)) {
			if store, err := s.registry.Get(entry.backend); err == nil {
				return store, route, nil
			}
		}
		s.cache.Delete(collection)
	}

	if route.Backend == "" {
		best, ok := s.healthiest("")
		if !ok {
			return nil, route, adapter.ErrNoHealthyBackend
		}
		store, _ := s.registry.Get(best)
		s.cacheRoute(collection, best)
		return store, route, nil
	}

	if s.health.IsHealthy(string(route.Backend)) {
		if store, err := s.registry.Get(route.Backend); err == nil {
			s.cacheRoute(collection, route.Backend)
			return store, route, nil
		}
	}

	fallback, ok := s.healthiest(route.Backend)
	if !ok {
		return nil, route, adapter.ErrNoHealthyBackend
	}
	store, _ := s.registry.Get(fallback)
	s.log.Warn("collection %s failing over from %s to %s", collection, route.Backend, fallback)
	s.cacheRoute(collection, fallback)
	return store, route, nil
}

func (s *Selector) cacheRoute(collection string, backend adapter.BackendType) {
	s.cache.Store(collection, cacheEntry{
		backend: backend,
		expires: time.Now().Add(s.opts.RouteCacheTTL),
	})
}

// healthiest returns the healthy backend with the lowest probe latency,
// excluding the one that just failed.
func (s *Selector) healthiest(exclude adapter.BackendType) (adapter.BackendType, bool) {
	var (
		best    adapter.BackendType
		bestRTT time.Duration
		found   bool
	)
	s.registry.Each(func(backend adapter.BackendType, _ adapter.Store) {
		if backend == exclude || !s.health.IsHealthy(string(backend)) {
			return
		}
		rtt := s.health.ResponseTime(string(backend))
		if !found || rtt < bestRTT {
			best, bestRTT, found = backend, rtt, true
		}
	})
	return best, found
}
