package postgres

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/polystore/polystore/internal/database/adapter"
)

// docColumns is the column list of every collection table, in scan order.
const docColumns = "id, data, created_at, updated_at, version"

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteJSONKey(field string) string {
	return "'" + strings.ReplaceAll(field, "'", "''") + "'"
}

// sqlBuilder accumulates SQL text and positional arguments.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

var scalarOps = map[adapter.Operator]string{
	adapter.OpEqual:              "=",
	adapter.OpNotEqual:           "<>",
	adapter.OpLessThan:           "<",
	adapter.OpLessThanOrEqual:    "<=",
	adapter.OpGreaterThan:        ">",
	adapter.OpGreaterThanOrEqual: ">=",
}

// compileSelect translates the neutral query AST into a SELECT statement.
func compileSelect(fields *FieldMap, q adapter.Query) (string, []any, error) {
	b := &sqlBuilder{}
	var sql strings.Builder
	fmt.Fprintf(&sql, "SELECT %s FROM %s", docColumns, quoteIdent(q.Collection))

	where, err := compileFilters(fields, q.Collection, q.Filters, b)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			expr := orderExpr(fields, q.Collection, o.Field)
			if o.Descending {
				expr += " DESC"
			} else {
				expr += " ASC"
			}
			terms[i] = expr
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(terms, ", "))
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sql, " LIMIT %s", b.arg(q.Limit))
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sql, " OFFSET %s", b.arg(q.Offset))
	}

	return sql.String(), b.args, nil
}

// compileFilters renders the conjunction of all filters. The field map is
// consulted per field: promoted fields become bare column references,
// everything else a JSONB payload lookup with a cast matched to the
// comparison value.
func compileFilters(fields *FieldMap, collection string, filters []adapter.Filter, b *sqlBuilder) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		clause, err := compileFilter(fields, collection, f, b)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

func compileFilter(fields *FieldMap, collection string, f adapter.Filter, b *sqlBuilder) (string, error) {
	if op, ok := scalarOps[f.Operator]; ok {
		expr := scalarExpr(fields, collection, f.Field, f.Value)
		return fmt.Sprintf("%s %s %s", expr, op, b.arg(f.Value)), nil
	}

	switch f.Operator {
	case adapter.OpIn:
		values := valueList(f.Value)
		if len(values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.arg(v)
		}
		expr := scalarExpr(fields, collection, f.Field, values[0])
		return fmt.Sprintf("%s IN (%s)", expr, strings.Join(placeholders, ", ")), nil

	case adapter.OpArrayContains:
		// Array fields are never promoted; containment always runs against
		// the JSONB payload.
		return fmt.Sprintf("data->%s @> %s::jsonb",
			quoteJSONKey(f.Field), b.arg(mustJSON([]any{f.Value}))), nil

	case adapter.OpArrayContainsAny:
		values := valueList(f.Value)
		if len(values) == 0 {
			return "FALSE", nil
		}
		clauses := make([]string, len(values))
		for i, v := range values {
			clauses[i] = fmt.Sprintf("data->%s @> %s::jsonb",
				quoteJSONKey(f.Field), b.arg(mustJSON([]any{v})))
		}
		return "(" + strings.Join(clauses, " OR ") + ")", nil

	default:
		return "", adapter.NewUnsupportedOperatorError(adapter.BackendPostgres, f.Operator)
	}
}

// scalarExpr resolves a field to SQL for scalar comparison.
func scalarExpr(fields *FieldMap, collection, field string, value any) string {
	if spec, ok := fields.Lookup(collection, field); ok {
		return quoteIdent(spec.Column)
	}
	lookup := fmt.Sprintf("data->>%s", quoteJSONKey(field))
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return "(" + lookup + ")::numeric"
	case bool:
		return "(" + lookup + ")::boolean"
	default:
		return lookup
	}
}

// orderExpr resolves a field to SQL for ordering. Payload fields sort as
// text; promoted fields sort with their column type.
func orderExpr(fields *FieldMap, collection, field string) string {
	if spec, ok := fields.Lookup(collection, field); ok {
		return quoteIdent(spec.Column)
	}
	return fmt.Sprintf("data->>%s", quoteJSONKey(field))
}

func valueList(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
