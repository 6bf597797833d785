// Package health tracks per-backend availability from periodic probe
// results. A backend is demoted after a run of consecutive probe failures
// and promoted again by a single successful probe.
package health

import (
	"sync"
	"time"
)

// DefaultMaxConsecutiveFailures is the probe-failure run that demotes a
// backend to unhealthy.
const DefaultMaxConsecutiveFailures = 3

// Status is a backend's current health classification.
type Status struct {
	Healthy             bool
	ResponseTime        time.Duration
	LastChecked         time.Time
	ErrorCount          int
	ConsecutiveFailures int
	LastError           string
}

// Tracker maintains health status per probe target. Mutation happens only
// from the prober's own loop; everything else reads snapshots.
type Tracker struct {
	mu          sync.RWMutex
	maxFailures int
	statuses    map[string]*Status
}

// NewTracker creates a tracker. maxFailures <= 0 selects the default.
func NewTracker(maxFailures int) *Tracker {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxConsecutiveFailures
	}
	return &Tracker{
		maxFailures: maxFailures,
		statuses:    make(map[string]*Status),
	}
}

// RecordSuccess registers a successful probe. One success is sufficient to
// promote an unhealthy target.
func (t *Tracker) RecordSuccess(name string, responseTime time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status(name)
	s.Healthy = true
	s.ResponseTime = responseTime
	s.LastChecked = time.Now()
	s.ConsecutiveFailures = 0
	s.LastError = ""
}

// RecordFailure registers a failed probe. The target is demoted once its
// consecutive-failure run reaches the tracker's threshold.
func (t *Tracker) RecordFailure(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.status(name)
	s.LastChecked = time.Now()
	s.ErrorCount++
	s.ConsecutiveFailures++
	if err != nil {
		s.LastError = err.Error()
	}
	if s.ConsecutiveFailures >= t.maxFailures {
		s.Healthy = false
	}
}

// IsHealthy reports whether name is currently classified healthy. Unknown
// targets are not healthy; they stay unknown until their first probe.
func (t *Tracker) IsHealthy(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[name]
	return ok && s.Healthy
}

// ResponseTime returns the last successful probe latency for name.
func (t *Tracker) ResponseTime(name string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if s, ok := t.statuses[name]; ok {
		return s.ResponseTime
	}
	return 0
}

// Get returns a copy of the status for name.
func (t *Tracker) Get(name string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}

// Snapshot returns a copy of every tracked status.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Status, len(t.statuses))
	for name, s := range t.statuses {
		out[name] = *s
	}
	return out
}

// status returns the mutable entry for name, creating it on first use.
// Callers must hold the write lock. New targets start unknown: the Healthy
// flag flips only on the first successful probe.
func (t *Tracker) status(name string) *Status {
	s, ok := t.statuses[name]
	if !ok {
		s = &Status{}
		t.statuses[name] = s
	}
	return s
}
