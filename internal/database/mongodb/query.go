package mongodb

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/polystore/polystore/internal/database/adapter"
)

// dataField prefixes a payload field for the stored document shape.
func dataField(field string) string {
	return "data." + field
}

// translateFilters renders the neutral filter set as a MongoDB query
// document. Payload fields live under data; operators map onto their native
// counterparts ($eq on an array field already expresses containment, so
// array-contains needs no special form).
func translateFilters(filters []adapter.Filter) (bson.D, error) {
	query := bson.D{}
	for _, f := range filters {
		var predicate bson.D
		switch f.Operator {
		case adapter.OpEqual, adapter.OpArrayContains:
			predicate = bson.D{{Key: "$eq", Value: f.Value}}
		case adapter.OpNotEqual:
			predicate = bson.D{{Key: "$ne", Value: f.Value}}
		case adapter.OpLessThan:
			predicate = bson.D{{Key: "$lt", Value: f.Value}}
		case adapter.OpLessThanOrEqual:
			predicate = bson.D{{Key: "$lte", Value: f.Value}}
		case adapter.OpGreaterThan:
			predicate = bson.D{{Key: "$gt", Value: f.Value}}
		case adapter.OpGreaterThanOrEqual:
			predicate = bson.D{{Key: "$gte", Value: f.Value}}
		case adapter.OpIn, adapter.OpArrayContainsAny:
			predicate = bson.D{{Key: "$in", Value: f.Value}}
		default:
			return nil, adapter.NewUnsupportedOperatorError(adapter.BackendMongoDB, f.Operator)
		}
		query = append(query, bson.E{Key: dataField(f.Field), Value: predicate})
	}
	return query, nil
}

// translateSort renders the order-by terms as a MongoDB sort document.
func translateSort(orderBy []adapter.OrderBy) bson.D {
	sort := bson.D{}
	for _, o := range orderBy {
		direction := 1
		if o.Descending {
			direction = -1
		}
		sort = append(sort, bson.E{Key: dataField(o.Field), Value: direction})
	}
	return sort
}

// splitPatch divides an update payload into $set entries and native $inc
// entries, both addressed under the data prefix.
func splitPatch(patch map[string]any) (sets bson.D, incs bson.D) {
	for k, v := range patch {
		if inc, ok := v.(adapter.Increment); ok {
			incs = append(incs, bson.E{Key: dataField(k), Value: inc.Delta})
			continue
		}
		sets = append(sets, bson.E{Key: dataField(k), Value: v})
	}
	return sets, incs
}
