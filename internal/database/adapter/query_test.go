package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryValidate(t *testing.T) {
	valid := Query{
		Collection: "orders",
		Filters:    []Filter{Where("status", OpEqual, "open")},
		OrderBy:    []OrderBy{{Field: "total", Descending: true}},
		Limit:      10,
		Offset:     5,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		q    Query
	}{
		{"no collection", Query{}},
		{"empty filter field", Query{Collection: "orders", Filters: []Filter{Where("", OpEqual, 1)}}},
		{"empty order field", Query{Collection: "orders", OrderBy: []OrderBy{{}}}},
		{"negative limit", Query{Collection: "orders", Limit: -1}},
		{"negative offset", Query{Collection: "orders", Offset: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			assert.ErrorIs(t, err, ErrInvalidQuery)
		})
	}
}

func TestQueryValidateUnknownOperator(t *testing.T) {
	q := Query{
		Collection: "orders",
		Filters:    []Filter{Where("status", Operator("like"), "x")},
	}
	err := q.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)
}

func TestOperatorValid(t *testing.T) {
	for _, op := range []Operator{
		OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual,
		OpGreaterThan, OpGreaterThanOrEqual, OpIn,
		OpArrayContains, OpArrayContainsAny,
	} {
		assert.True(t, op.Valid(), string(op))
	}
	assert.False(t, Operator("like").Valid())
	assert.False(t, Operator("").Valid())
}
