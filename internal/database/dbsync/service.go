// Package dbsync propagates change events between backends.
//
// The Selector submits a SyncEvent after every successful write on a
// sync-enabled route. The service queues events, drains them in batches on
// an interval (deletes immediately), and applies each to every backend other
// than the one that produced it. A target document whose version or checksum
// diverges from the event is a conflict, settled by the configured Resolver.
// Failed deliveries retry with exponential backoff until the attempt cap,
// then land in the dead-letter list.
package dbsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/polystore/polystore/internal/database/adapter"
	"github.com/polystore/polystore/pkg/logger"
)

// Options tunes the service. Zero values select defaults.
type Options struct {
	SyncInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	QueueCapacity int
}

func (o *Options) applyDefaults() {
	if o.SyncInterval <= 0 {
		o.SyncInterval = 5 * time.Minute
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 4096
	}
}

// Stats is a point-in-time snapshot of the service counters.
type Stats struct {
	TotalEvents       uint64
	Succeeded         uint64
	Failed            uint64
	Dropped           uint64
	ConflictsDetected uint64
	ConflictsResolved uint64
	DeadLettered      uint64
	QueueDepth        int
	LastSync          time.Time
	AvgLatency        time.Duration
}

// Service is the asynchronous synchronizer. It implements adapter.EventSink.
type Service struct {
	registry *adapter.Registry
	resolver Resolver
	opts     Options
	log      *logger.Logger

	mu    sync.Mutex
	queue []adapter.SyncEvent

	dlMu        sync.Mutex
	deadLetters []adapter.SyncEvent

	inflight *xsync.MapOf[string, chan struct{}]
	notify   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	totalEvents       atomic.Uint64
	succeeded         atomic.Uint64
	failed            atomic.Uint64
	dropped           atomic.Uint64
	conflictsDetected atomic.Uint64
	conflictsResolved atomic.Uint64
	deadLettered      atomic.Uint64
	latencyNanos      atomic.Int64
	lastSyncUnix      atomic.Int64

	metricSet *metrics.Set
}

// New creates the service. A nil resolver selects LatestWins.
func New(registry *adapter.Registry, resolver Resolver, opts Options, log *logger.Logger) *Service {
	opts.applyDefaults()
	if resolver == nil {
		resolver = LatestWins{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		registry:  registry,
		resolver:  resolver,
		opts:      opts,
		log:       log.WithField("component", "dbsync"),
		inflight:  xsync.NewMapOf[string, chan struct{}](),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		metricSet: metrics.NewSet(),
	}
}

// Metrics exposes the service's metric set for scraping.
func (s *Service) Metrics() *metrics.Set {
	return s.metricSet
}

// Submit enqueues a change event without blocking. Deletes wake the drain
// loop immediately; other operations wait for the next interval. A full
// queue drops the event.
func (s *Service) Submit(event adapter.SyncEvent) {
	s.totalEvents.Add(1)
	s.metricSet.GetOrCreateCounter("polystore_sync_events_total").Inc()

	s.mu.Lock()
	if len(s.queue) >= s.opts.QueueCapacity {
		s.mu.Unlock()
		s.dropped.Add(1)
		s.metricSet.GetOrCreateCounter("polystore_sync_events_dropped_total").Inc()
		s.log.Warn("queue full, dropping %s event for %s/%s: %v",
			event.Operation, event.Collection, event.DocumentID, adapter.ErrQueueFull)
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	if event.Operation == adapter.SyncDelete {
		s.wake()
	}
}

func (s *Service) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start launches the drain loop.
func (s *Service) Start(ctx context.Context) {
	s.started.Store(true)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.opts.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.drain(ctx)
			case <-s.notify:
				s.drain(ctx)
			case <-s.stop:
				s.drain(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close drains once more and stops the loop. Safe to call without a prior
// Start.
func (s *Service) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

// Flush drains the queue synchronously. Intended for shutdown and tests.
func (s *Service) Flush(ctx context.Context) {
	s.drain(ctx)
}

// drain pops up to one batch off the queue and dispatches each event.
func (s *Service) drain(ctx context.Context) {
	s.mu.Lock()
	n := len(s.queue)
	if n > s.opts.BatchSize {
		n = s.opts.BatchSize
	}
	if n == 0 {
		s.mu.Unlock()
		return
	}
	batch := make([]adapter.SyncEvent, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	s.mu.Unlock()

	for _, event := range batch {
		s.dispatch(ctx, event)
	}
	s.lastSyncUnix.Store(time.Now().UnixNano())
}

// dispatch applies one event to every backend except its source, serialized
// per document so concurrent events for the same id cannot interleave.
func (s *Service) dispatch(ctx context.Context, event adapter.SyncEvent) {
	unlock := s.lockDocument(event.Collection + ":" + event.DocumentID)
	defer unlock()

	started := time.Now()
	var firstErr error
	s.registry.Each(func(backend adapter.BackendType, store adapter.Store) {
		if backend == event.SourceBackend {
			return
		}
		if err := s.applyTo(ctx, store, event); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("applying to %s: %w", backend, err)
		}
	})

	if firstErr != nil {
		s.failed.Add(1)
		s.metricSet.GetOrCreateCounter("polystore_sync_events_failed_total").Inc()
		s.retry(event, firstErr)
		return
	}
	s.succeeded.Add(1)
	s.latencyNanos.Add(int64(time.Since(started)))
	s.metricSet.GetOrCreateCounter("polystore_sync_events_succeeded_total").Inc()
}

// applyTo applies one event to one target backend with conflict detection.
func (s *Service) applyTo(ctx context.Context, target adapter.Store, event adapter.SyncEvent) error {
	if event.Operation == adapter.SyncDelete {
		if r := target.Delete(ctx, event.Collection, event.DocumentID); !r.Success {
			// Already gone on the target is the desired end state.
			if adapter.IsNotFound(r.Error) {
				return nil
			}
			return r.Error
		}
		return nil
	}

	read := target.Read(ctx, event.Collection, event.DocumentID)
	if !read.Success {
		if !adapter.IsNotFound(read.Error) {
			return read.Error
		}
		// Absent on the target: conflict-free first replication.
		r := target.Create(ctx, event.Collection, event.Data, &adapter.CreateOptions{
			ID:       event.DocumentID,
			Merge:    true,
			Metadata: &event.Metadata,
		})
		if !r.Success {
			return r.Error
		}
		return nil
	}

	current := read.Document
	currentChecksum := adapter.Checksum(current.Data)
	if current.Metadata.Version == event.Version && currentChecksum == event.Checksum {
		// Already converged.
		return nil
	}

	s.conflictsDetected.Add(1)
	s.metricSet.GetOrCreateCounter("polystore_sync_conflicts_detected_total").Inc()
	resolution, err := s.resolver.Resolve(ctx, Conflict{
		Collection:     event.Collection,
		DocumentID:     event.DocumentID,
		Event:          event,
		Target:         current,
		TargetBackend:  target.BackendType(),
		TargetChecksum: currentChecksum,
		DetectedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", adapter.ErrSyncConflict, err)
	}
	if resolution.Deferred {
		s.log.Info("conflict on %s/%s deferred: %s",
			event.Collection, event.DocumentID, resolution.Reason)
		return nil
	}
	s.conflictsResolved.Add(1)
	s.metricSet.GetOrCreateCounter("polystore_sync_conflicts_resolved_total").Inc()
	if !resolution.ApplySource {
		s.log.Debug("conflict on %s/%s kept target copy: %s",
			event.Collection, event.DocumentID, resolution.Reason)
		return nil
	}
	r := target.Update(ctx, event.Collection, event.DocumentID, event.Data, &adapter.UpdateOptions{
		Replace:  true,
		Metadata: &event.Metadata,
	})
	if !r.Success {
		return r.Error
	}
	return nil
}

// retry requeues the event after backoff, or dead-letters it at the cap.
// The requeue lands at the tail, not the head: per-document locks already
// keep same-document events ordered, and a head insert would let one
// persistently failing event starve everything behind it.
func (s *Service) retry(event adapter.SyncEvent, cause error) {
	event.Attempts++
	if event.Attempts >= s.opts.MaxAttempts {
		s.deadLettered.Add(1)
		s.metricSet.GetOrCreateCounter("polystore_sync_events_dead_lettered_total").Inc()
		s.dlMu.Lock()
		s.deadLetters = append(s.deadLetters, event)
		s.dlMu.Unlock()
		s.log.Error("dead-lettering %s event for %s/%s after %d attempts: %v",
			event.Operation, event.Collection, event.DocumentID, event.Attempts, cause)
		return
	}

	delay := backoffDelay(event.Attempts)
	s.log.Warn("retrying %s event for %s/%s in %s (attempt %d): %v",
		event.Operation, event.Collection, event.DocumentID, delay, event.Attempts, cause)
	time.AfterFunc(delay, func() {
		select {
		case <-s.stop:
			return
		default:
		}
		s.mu.Lock()
		s.queue = append(s.queue, event)
		s.mu.Unlock()
		s.wake()
	})
}

// backoffDelay doubles per attempt, capped at 30 seconds.
func backoffDelay(attempts int) time.Duration {
	const maxDelay = 30 * time.Second
	if attempts >= 5 {
		return maxDelay
	}
	d := time.Duration(1<<uint(attempts)) * time.Second
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// lockDocument serializes dispatch per document key.
func (s *Service) lockDocument(key string) func() {
	for {
		ch := make(chan struct{})
		if actual, loaded := s.inflight.LoadOrStore(key, ch); loaded {
			<-actual
			continue
		}
		return func() {
			s.inflight.Delete(key)
			close(ch)
		}
	}
}

// DeadLetters returns a copy of the dead-letter list.
func (s *Service) DeadLetters() []adapter.SyncEvent {
	s.dlMu.Lock()
	defer s.dlMu.Unlock()
	out := make([]adapter.SyncEvent, len(s.deadLetters))
	copy(out, s.deadLetters)
	return out
}

// Stats returns a snapshot of the service counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	depth := len(s.queue)
	s.mu.Unlock()

	st := Stats{
		TotalEvents:       s.totalEvents.Load(),
		Succeeded:         s.succeeded.Load(),
		Failed:            s.failed.Load(),
		Dropped:           s.dropped.Load(),
		ConflictsDetected: s.conflictsDetected.Load(),
		ConflictsResolved: s.conflictsResolved.Load(),
		DeadLettered:      s.deadLettered.Load(),
		QueueDepth:        depth,
	}
	if n := s.succeeded.Load(); n > 0 {
		st.AvgLatency = time.Duration(uint64(s.latencyNanos.Load()) / n)
	}
	if ts := s.lastSyncUnix.Load(); ts > 0 {
		st.LastSync = time.Unix(0, ts)
	}
	return st
}
