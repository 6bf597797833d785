package adapter

import "fmt"

// Operator is a backend-neutral filter operator. The set is fixed; an
// adapter must reject any operator it cannot express in its native query
// language.
type Operator string

const (
	OpEqual              Operator = "=="
	OpNotEqual           Operator = "!="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpIn                 Operator = "in"
	OpArrayContains      Operator = "array-contains"
	OpArrayContainsAny   Operator = "array-contains-any"
)

// Valid reports whether op belongs to the fixed operator set.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual,
		OpGreaterThan, OpGreaterThanOrEqual, OpIn,
		OpArrayContains, OpArrayContainsAny:
		return true
	default:
		return false
	}
}

// Filter is one (field, operator, value) predicate.
type Filter struct {
	Field    string
	Operator Operator
	Value    any
}

// Where is shorthand for building a Filter.
func Where(field string, op Operator, value any) Filter {
	return Filter{Field: field, Operator: op, Value: value}
}

// OrderBy names a sort field and direction.
type OrderBy struct {
	Field      string
	Descending bool
}

// Query is the backend-neutral query AST translated by each adapter into its
// engine's native form. A zero Limit means no limit.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []OrderBy
	Limit      int
	Offset     int
}

// Validate checks structural soundness: a collection name and only operators
// from the fixed set. Operator violations surface as ErrUnsupportedOperator
// so callers can distinguish them from malformed queries.
func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: query has no collection", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if f.Field == "" {
			return fmt.Errorf("%w: filter has no field", ErrInvalidQuery)
		}
		if !f.Operator.Valid() {
			return NewUnsupportedOperatorError("", f.Operator)
		}
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return fmt.Errorf("%w: order-by has no field", ErrInvalidQuery)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}
	return nil
}
