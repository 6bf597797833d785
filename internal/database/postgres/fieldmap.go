package postgres

import "sort"

// FieldSpec describes one promoted column: a payload field lifted out of the
// JSONB document into a dedicated, indexable table column.
type FieldSpec struct {
	Column string
	Type   string // SQL column type: text, numeric, boolean, timestamptz
}

// FieldMap is the adapter's schema knowledge: the static per-collection map
// deciding, for every filter and order field, whether to reference a
// promoted column or fall back to a JSONB payload lookup.
type FieldMap struct {
	promoted map[string]map[string]FieldSpec
}

// NewFieldMap builds a FieldMap from a collection -> field -> spec table.
func NewFieldMap(promoted map[string]map[string]FieldSpec) *FieldMap {
	if promoted == nil {
		promoted = map[string]map[string]FieldSpec{}
	}
	return &FieldMap{promoted: promoted}
}

// DefaultFieldMap covers the platform's built-in collections.
func DefaultFieldMap() *FieldMap {
	return NewFieldMap(map[string]map[string]FieldSpec{
		"users": {
			"email": {Column: "email", Type: "text"},
			"role":  {Column: "role", Type: "text"},
		},
		"entities": {
			"name":     {Column: "name", Type: "text"},
			"category": {Column: "category", Type: "text"},
			"ownerId":  {Column: "owner_id", Type: "text"},
		},
		"opportunities": {
			"entityId": {Column: "entity_id", Type: "text"},
			"status":   {Column: "status", Type: "text"},
			"deadline": {Column: "deadline", Type: "text"},
		},
		"orders": {
			"userId": {Column: "user_id", Type: "text"},
			"status": {Column: "status", Type: "text"},
			"total":  {Column: "total", Type: "numeric"},
		},
		"notifications": {
			"userId": {Column: "user_id", Type: "text"},
			"read":   {Column: "read", Type: "boolean"},
		},
	})
}

// Lookup returns the promoted column spec for a collection field.
func (f *FieldMap) Lookup(collection, field string) (FieldSpec, bool) {
	spec, ok := f.promoted[collection][field]
	return spec, ok
}

// Fields returns the promoted field names of a collection in deterministic
// order, so generated SQL is stable.
func (f *FieldMap) Fields(collection string) []string {
	specs := f.promoted[collection]
	fields := make([]string, 0, len(specs))
	for field := range specs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
