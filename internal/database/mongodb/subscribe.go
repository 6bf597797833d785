package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/polystore/polystore/internal/database/adapter"
)

// changeEvent is the slice of a change stream document we care about.
type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument *mongoDoc `bson:"fullDocument"`
}

// Subscribe opens a change stream on the collection and invokes callback for
// every matching change until Unsubscribe is called. Filters are applied
// client-side against the full document; deletes carry only the id, so they
// always pass.
func (s *Store) Subscribe(ctx context.Context, collection string, filters []adapter.Filter, callback adapter.Callback) (adapter.Subscription, error) {
	if !s.IsConnected() {
		return nil, adapter.ErrConnectionClosed
	}

	pipeline := []bson.D{{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: bson.D{{Key: "$in",
			Value: bson.A{"insert", "update", "replace", "delete"}}}},
	}}}}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := s.db.Collection(collection).Watch(streamCtx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, adapter.WrapError(adapter.BackendMongoDB, "subscribe", err)
	}

	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer stream.Close(streamCtx)
		for stream.Next(streamCtx) {
			var evt changeEvent
			if err := stream.Decode(&evt); err != nil {
				s.log.Warn("subscribe: decoding change on %s: %v", collection, err)
				continue
			}
			change, ok := toChange(collection, evt, filters)
			if !ok {
				continue
			}
			callback(change)
		}
		if err := stream.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Error("subscribe: change stream on %s closed: %v", collection, err)
		}
	}()
	s.log.Debug("subscribed to collection %s", collection)
	return sub, nil
}

func toChange(collection string, evt changeEvent, filters []adapter.Filter) (adapter.Change, bool) {
	change := adapter.Change{Collection: collection}
	switch evt.OperationType {
	case "insert":
		change.Operation = adapter.SyncCreate
	case "update", "replace":
		change.Operation = adapter.SyncUpdate
	case "delete":
		change.Operation = adapter.SyncDelete
		change.Document = &adapter.Document{ID: evt.DocumentKey.ID}
		return change, true
	default:
		return adapter.Change{}, false
	}
	if evt.FullDocument == nil {
		// fullDocument can be absent when the document was deleted between
		// the update and the lookup.
		return adapter.Change{}, false
	}
	doc := evt.FullDocument.toDocument()
	if !adapter.MatchesAll(doc.Data, filters) {
		return adapter.Change{}, false
	}
	change.Document = doc
	return change, true
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Unsubscribe stops the stream and waits for the delivery loop to drain.
func (sub *subscription) Unsubscribe() {
	sub.cancel()
	select {
	case <-sub.done:
	case <-time.After(5 * time.Second):
	}
}
