package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/polystore/polystore/internal/database/adapter"
)

// mongoDoc is the stored document shape: payload under data, bookkeeping
// under metadata, the document id as _id.
type mongoDoc struct {
	ID       string         `bson:"_id"`
	Data     map[string]any `bson:"data"`
	Metadata struct {
		CreatedAt time.Time `bson:"createdAt"`
		UpdatedAt time.Time `bson:"updatedAt"`
		Version   int64     `bson:"version"`
	} `bson:"metadata"`
}

func (m *mongoDoc) toDocument() *adapter.Document {
	data := m.Data
	if data == nil {
		data = map[string]any{}
	}
	convertBSONValues(data)
	return &adapter.Document{
		ID:   m.ID,
		Data: data,
		Metadata: adapter.DocumentMetadata{
			CreatedAt: m.Metadata.CreatedAt,
			UpdatedAt: m.Metadata.UpdatedAt,
			Version:   m.Metadata.Version,
		},
	}
}

func newMongoDoc(id string, payload map[string]any, meta adapter.DocumentMetadata) mongoDoc {
	doc := mongoDoc{ID: id, Data: payload}
	doc.Metadata.CreatedAt = meta.CreatedAt
	doc.Metadata.UpdatedAt = meta.UpdatedAt
	doc.Metadata.Version = meta.Version
	return doc
}

// Create inserts a new document. With Merge the write becomes a native
// upsert: $set per field, $inc on the version, createdAt only on insert.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any, opts *adapter.CreateOptions) *adapter.Result {
	started := time.Now()
	if r := s.guard("create", started); r != nil {
		return r
	}
	if opts == nil {
		opts = &adapter.CreateOptions{}
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	id := opts.ID
	if id == "" {
		id = adapter.NewID()
	}

	if opts.Merge {
		doc, err := s.mergeWrite(ctx, collection, id, data, opts.Metadata)
		if err != nil {
			return adapter.FailedResult("create", adapter.BackendMongoDB, started, err)
		}
		r := adapter.NewResult("create", adapter.BackendMongoDB, started)
		r.Document = doc
		return r
	}

	payload := adapter.MergePayload(nil, data, true)
	now := time.Now().UTC()
	meta := adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 1}
	if opts.Metadata != nil {
		meta = *opts.Metadata
	}

	if _, err := s.db.Collection(collection).InsertOne(ctx, newMongoDoc(id, payload, meta)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return adapter.FailedResult("create", adapter.BackendMongoDB, started,
				fmt.Errorf("%w: collection %s", adapter.ErrDuplicateID, collection))
		}
		return adapter.FailedResult("create", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "create", err))
	}

	r := adapter.NewResult("create", adapter.BackendMongoDB, started)
	r.Document = &adapter.Document{ID: id, Data: payload, Metadata: meta}
	return r
}

// mergeWrite is the native upsert shared by merge-creates and replication
// writes. A verbatim metadata block (replication) suppresses the $inc.
func (s *Store) mergeWrite(ctx context.Context, collection, id string, data map[string]any, meta *adapter.DocumentMetadata) (*adapter.Document, error) {
	now := time.Now().UTC()
	sets, incs := splitPatch(data)

	var update bson.D
	if meta != nil {
		sets = append(sets,
			bson.E{Key: "metadata.createdAt", Value: meta.CreatedAt},
			bson.E{Key: "metadata.updatedAt", Value: meta.UpdatedAt},
			bson.E{Key: "metadata.version", Value: meta.Version})
		update = bson.D{{Key: "$set", Value: sets}}
		if len(incs) > 0 {
			update = append(update, bson.E{Key: "$inc", Value: incs})
		}
	} else {
		sets = append(sets, bson.E{Key: "metadata.updatedAt", Value: now})
		incs = append(incs, bson.E{Key: "metadata.version", Value: int64(1)})
		update = bson.D{
			{Key: "$set", Value: sets},
			{Key: "$inc", Value: incs},
			{Key: "$setOnInsert", Value: bson.D{{Key: "metadata.createdAt", Value: now}}},
		}
	}

	coll := s.db.Collection(collection)
	if _, err := coll.UpdateByID(ctx, id, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return nil, adapter.WrapError(adapter.BackendMongoDB, "create", err)
	}
	return s.fetchDoc(ctx, collection, id)
}

// Read fetches one document by id.
func (s *Store) Read(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("read", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc, err := s.fetchDoc(ctx, collection, id)
	if err != nil {
		return adapter.FailedResult("read", adapter.BackendMongoDB, started, err)
	}
	r := adapter.NewResult("read", adapter.BackendMongoDB, started)
	r.Document = doc
	return r
}

// ReadAll fetches every document of a collection in creation order.
func (s *Store) ReadAll(ctx context.Context, collection string) *adapter.Result {
	started := time.Now()
	if r := s.guard("read_all", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	findOpts := options.Find().SetSort(bson.D{{Key: "metadata.createdAt", Value: 1}})
	docs, err := s.findDocs(ctx, collection, bson.D{}, findOpts)
	if err != nil {
		return adapter.FailedResult("read_all", adapter.BackendMongoDB, started, err)
	}
	r := adapter.NewResult("read_all", adapter.BackendMongoDB, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// Update applies a partial payload with the engine's native primitives:
// $set for plain fields, $inc for Increment values and the version bump.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any, opts *adapter.UpdateOptions) *adapter.Result {
	started := time.Now()
	if r := s.guard("update", started); r != nil {
		return r
	}
	if opts == nil {
		opts = &adapter.UpdateOptions{}
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	var update bson.D
	if opts.Replace {
		payload := adapter.MergePayload(nil, data, true)
		sets := bson.D{{Key: "data", Value: payload}}
		if opts.Metadata != nil {
			sets = append(sets,
				bson.E{Key: "metadata.createdAt", Value: opts.Metadata.CreatedAt},
				bson.E{Key: "metadata.updatedAt", Value: opts.Metadata.UpdatedAt},
				bson.E{Key: "metadata.version", Value: opts.Metadata.Version})
			update = bson.D{{Key: "$set", Value: sets}}
		} else {
			sets = append(sets, bson.E{Key: "metadata.updatedAt", Value: now})
			update = bson.D{
				{Key: "$set", Value: sets},
				{Key: "$inc", Value: bson.D{{Key: "metadata.version", Value: int64(1)}}},
			}
		}
	} else {
		sets, incs := splitPatch(data)
		if opts.Metadata != nil {
			sets = append(sets,
				bson.E{Key: "metadata.createdAt", Value: opts.Metadata.CreatedAt},
				bson.E{Key: "metadata.updatedAt", Value: opts.Metadata.UpdatedAt},
				bson.E{Key: "metadata.version", Value: opts.Metadata.Version})
			update = bson.D{{Key: "$set", Value: sets}}
			if len(incs) > 0 {
				update = append(update, bson.E{Key: "$inc", Value: incs})
			}
		} else {
			sets = append(sets, bson.E{Key: "metadata.updatedAt", Value: now})
			incs = append(incs, bson.E{Key: "metadata.version", Value: int64(1)})
			update = bson.D{
				{Key: "$set", Value: sets},
				{Key: "$inc", Value: incs},
			}
		}
	}

	res, err := s.db.Collection(collection).UpdateByID(ctx, id, update)
	if err != nil {
		return adapter.FailedResult("update", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "update", err))
	}
	if res.MatchedCount == 0 {
		return adapter.FailedResult("update", adapter.BackendMongoDB, started,
			adapter.NewNotFoundError(adapter.BackendMongoDB, collection, id))
	}

	doc, err := s.fetchDoc(ctx, collection, id)
	if err != nil {
		return adapter.FailedResult("update", adapter.BackendMongoDB, started, err)
	}
	r := adapter.NewResult("update", adapter.BackendMongoDB, started)
	r.Document = doc
	return r
}

// Delete removes one document by id, failing NotFound when it is missing.
func (s *Store) Delete(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("delete", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.Collection(collection).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return adapter.FailedResult("delete", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "delete", err))
	}
	if res.DeletedCount == 0 {
		return adapter.FailedResult("delete", adapter.BackendMongoDB, started,
			adapter.NewNotFoundError(adapter.BackendMongoDB, collection, id))
	}
	r := adapter.NewResult("delete", adapter.BackendMongoDB, started)
	r.Count = res.DeletedCount
	return r
}

// Exists reports whether a document id is present.
func (s *Store) Exists(ctx context.Context, collection, id string) *adapter.Result {
	started := time.Now()
	if r := s.guard("exists", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := s.db.Collection(collection).
		FindOne(ctx, bson.D{{Key: "_id", Value: id}},
			options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 1}})).
		Err()
	r := adapter.NewResult("exists", adapter.BackendMongoDB, started)
	switch {
	case err == nil:
		r.Exists = true
	case errors.Is(err, mongo.ErrNoDocuments):
		r.Exists = false
	default:
		return adapter.FailedResult("exists", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "exists", err))
	}
	return r
}

// Count counts documents matching the filters.
func (s *Store) Count(ctx context.Context, collection string, filters []adapter.Filter) *adapter.Result {
	started := time.Now()
	if r := s.guard("count", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query, err := translateFilters(filters)
	if err != nil {
		return adapter.FailedResult("count", adapter.BackendMongoDB, started, err)
	}
	count, err := s.db.Collection(collection).CountDocuments(ctx, query)
	if err != nil {
		return adapter.FailedResult("count", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "count", err))
	}
	r := adapter.NewResult("count", adapter.BackendMongoDB, started)
	r.Count = count
	return r
}

// Query translates the neutral AST into a native find.
func (s *Store) Query(ctx context.Context, q adapter.Query) *adapter.Result {
	started := time.Now()
	if r := s.guard("query", started); r != nil {
		return r
	}
	if err := q.Validate(); err != nil {
		return adapter.FailedResult("query", adapter.BackendMongoDB, started, err)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	query, err := translateFilters(q.Filters)
	if err != nil {
		return adapter.FailedResult("query", adapter.BackendMongoDB, started, err)
	}
	findOpts := options.Find()
	if len(q.OrderBy) > 0 {
		findOpts.SetSort(translateSort(q.OrderBy))
	}
	if q.Limit > 0 {
		findOpts.SetLimit(int64(q.Limit))
	}
	if q.Offset > 0 {
		findOpts.SetSkip(int64(q.Offset))
	}

	docs, err := s.findDocs(ctx, q.Collection, query, findOpts)
	if err != nil {
		return adapter.FailedResult("query", adapter.BackendMongoDB, started, err)
	}
	r := adapter.NewResult("query", adapter.BackendMongoDB, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// FindByField is a single-equality query.
func (s *Store) FindByField(ctx context.Context, collection, field string, value any) *adapter.Result {
	r := s.Query(ctx, adapter.Query{
		Collection: collection,
		Filters:    []adapter.Filter{adapter.Where(field, adapter.OpEqual, value)},
	})
	r.Metadata.Operation = "find_by_field"
	return r
}

// BatchCreate inserts documents in chunks bounded by the engine's batch cap.
func (s *Store) BatchCreate(ctx context.Context, collection string, items []map[string]any) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_create", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	docs := make([]*adapter.Document, 0, len(items))
	rows := make([]any, 0, len(items))
	for _, item := range items {
		payload := adapter.MergePayload(nil, item, true)
		meta := adapter.DocumentMetadata{CreatedAt: now, UpdatedAt: now, Version: 1}
		id := adapter.NewID()
		docs = append(docs, &adapter.Document{ID: id, Data: payload, Metadata: meta})
		rows = append(rows, newMongoDoc(id, payload, meta))
	}

	coll := s.db.Collection(collection)
	for _, chunk := range chunkSlice(rows, s.Capabilities().MaxBatchSize) {
		if _, err := coll.InsertMany(ctx, chunk); err != nil {
			return adapter.FailedResult("batch_create", adapter.BackendMongoDB, started,
				adapter.WrapError(adapter.BackendMongoDB, "batch_create", err))
		}
	}

	r := adapter.NewResult("batch_create", adapter.BackendMongoDB, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// BatchUpdate applies partial updates through chunked bulk writes.
func (s *Store) BatchUpdate(ctx context.Context, collection string, updates []adapter.BatchUpdate) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_update", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(updates))
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		sets, incs := splitPatch(u.Data)
		sets = append(sets, bson.E{Key: "metadata.updatedAt", Value: now})
		incs = append(incs, bson.E{Key: "metadata.version", Value: int64(1)})
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "_id", Value: u.ID}}).
			SetUpdate(bson.D{
				{Key: "$set", Value: sets},
				{Key: "$inc", Value: incs},
			}))
		ids = append(ids, u.ID)
	}

	coll := s.db.Collection(collection)
	for _, chunk := range chunkSlice(models, s.Capabilities().MaxBatchSize) {
		opts := options.BulkWrite().SetOrdered(false)
		if _, err := coll.BulkWrite(ctx, chunk, opts); err != nil {
			return adapter.FailedResult("batch_update", adapter.BackendMongoDB, started,
				adapter.WrapError(adapter.BackendMongoDB, "batch_update", err))
		}
	}

	docs, err := s.findDocs(ctx, collection,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}, options.Find())
	if err != nil {
		return adapter.FailedResult("batch_update", adapter.BackendMongoDB, started, err)
	}
	r := adapter.NewResult("batch_update", adapter.BackendMongoDB, started)
	r.Documents = docs
	r.Count = int64(len(docs))
	return r
}

// BatchDelete removes all listed ids; missing ids are skipped, not errors.
func (s *Store) BatchDelete(ctx context.Context, collection string, ids []string) *adapter.Result {
	started := time.Now()
	if r := s.guard("batch_delete", started); r != nil {
		return r
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.Collection(collection).
		DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return adapter.FailedResult("batch_delete", adapter.BackendMongoDB, started,
			adapter.WrapError(adapter.BackendMongoDB, "batch_delete", err))
	}
	r := adapter.NewResult("batch_delete", adapter.BackendMongoDB, started)
	r.Count = res.DeletedCount
	return r
}

func (s *Store) fetchDoc(ctx context.Context, collection, id string) (*adapter.Document, error) {
	var doc mongoDoc
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, adapter.NewNotFoundError(adapter.BackendMongoDB, collection, id)
		}
		return nil, adapter.WrapError(adapter.BackendMongoDB, "read", err)
	}
	return doc.toDocument(), nil
}

func (s *Store) findDocs(ctx context.Context, collection string, query bson.D, opts *options.FindOptionsBuilder) ([]*adapter.Document, error) {
	cursor, err := s.db.Collection(collection).Find(ctx, query, opts)
	if err != nil {
		return nil, adapter.WrapError(adapter.BackendMongoDB, "query", err)
	}
	defer cursor.Close(ctx)

	var rows []mongoDoc
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, adapter.WrapError(adapter.BackendMongoDB, "query", err)
	}
	docs := make([]*adapter.Document, len(rows))
	for i := range rows {
		docs[i] = rows[i].toDocument()
	}
	return docs, nil
}

func chunkSlice[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) <= size {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

func isCommandError(err error, target *mongo.CommandError) bool {
	return errors.As(err, target)
}

// convertBSONValues rewrites driver-specific BSON types into plain Go values
// so payloads serialize the same regardless of which backend produced them.
func convertBSONValues(doc map[string]any) {
	for k, v := range doc {
		switch val := v.(type) {
		case bson.ObjectID:
			doc[k] = val.Hex()
		case bson.DateTime:
			doc[k] = time.UnixMilli(int64(val)).UTC()
		case bson.D:
			nested := make(map[string]any, len(val))
			for _, elem := range val {
				nested[elem.Key] = elem.Value
			}
			convertBSONValues(nested)
			doc[k] = nested
		case bson.A:
			arr := make([]any, len(val))
			for i, item := range val {
				arr[i] = item
				if d, ok := item.(bson.D); ok {
					nested := make(map[string]any, len(d))
					for _, elem := range d {
						nested[elem.Key] = elem.Value
					}
					convertBSONValues(nested)
					arr[i] = nested
				}
			}
			doc[k] = arr
		case map[string]any:
			convertBSONValues(val)
		}
	}
}
