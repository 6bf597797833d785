package dbtest

import (
	"context"

	"github.com/polystore/polystore/internal/database/adapter"
)

type subscription struct {
	store      *Store
	collection string
	filters    []adapter.Filter
	callback   adapter.Callback
	active     bool
}

func (sub *subscription) Unsubscribe() {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()
	sub.active = false
}

// Subscribe registers a callback invoked synchronously on every matching
// change, which keeps tests deterministic.
func (s *Store) Subscribe(_ context.Context, collection string, filters []adapter.Filter, callback adapter.Callback) (adapter.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.caps.SupportsSubscriptions {
		return nil, adapter.NewUnsupportedOperationError(s.backend, "subscribe", "")
	}
	sub := &subscription{
		store:      s,
		collection: collection,
		filters:    filters,
		callback:   callback,
		active:     true,
	}
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *Store) notify(collection string, op adapter.SyncOperation, doc *adapter.Document) {
	s.mu.RLock()
	var targets []*subscription
	for _, sub := range s.subs {
		if !sub.active || sub.collection != collection {
			continue
		}
		if op != adapter.SyncDelete && !adapter.MatchesAll(doc.Data, sub.filters) {
			continue
		}
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.callback(adapter.Change{
			Collection: collection,
			Operation:  op,
			Document:   doc.Clone(),
		})
	}
}
