package hydrate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/schema"
)

func TestDecodeValue(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := []struct {
		name string
		col  schema.Column
		in   any
		want any
	}{
		{name: "null", col: schema.Column{Type: schema.TypeInt}, in: nil, want: nil},
		{name: "int from text", col: schema.Column{Type: schema.TypeInt}, in: []byte("42"), want: int64(42)},
		{name: "bigint from float", col: schema.Column{Type: schema.TypeBigInt}, in: float64(7), want: int64(7)},
		{name: "float", col: schema.Column{Type: schema.TypeFloat}, in: "1.5", want: 1.5},
		{name: "bool from int", col: schema.Column{Type: schema.TypeBool}, in: int64(0), want: false},
		{name: "decimal", col: schema.Column{Type: schema.TypeDecimal}, in: []byte("10.25"), want: decimal.RequireFromString("10.25")},
		{name: "uuid text", col: schema.Column{Type: schema.TypeUUID}, in: id.String(), want: id},
		{name: "uuid binary", col: schema.Column{Type: schema.TypeUUID}, in: id[:], want: id},
		{name: "date", col: schema.Column{Type: schema.TypeDate}, in: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), want: "2024-01-02"},
		{name: "time", col: schema.Column{Type: schema.TypeTime}, in: time.Date(0, 1, 1, 13, 4, 5, 0, time.UTC), want: "13:04:05"},
		{name: "json", col: schema.Column{Type: schema.TypeJSON}, in: `{"a":[1,2]}`, want: map[string]any{"a": []any{1.0, 2.0}}},
		{name: "simple array", col: schema.Column{Type: schema.TypeSimpleArray}, in: "a,b", want: []string{"a", "b"}},
		{name: "empty simple array", col: schema.Column{Type: schema.TypeSimpleArray}, in: "", want: []string{}},
		{name: "string enum", col: schema.Column{Type: schema.TypeEnum, Enum: []any{"admin", "user"}}, in: []byte("admin"), want: "admin"},
		{name: "numeric enum", col: schema.Column{Type: schema.TypeEnum, Enum: []any{1, 2}}, in: "2", want: int64(2)},
		{name: "bytes", col: schema.Column{Type: schema.TypeBytes}, in: []byte{1, 2}, want: []byte{1, 2}},
		{name: "string from number", col: schema.Column{Type: schema.TypeString}, in: int64(5), want: "5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(&tt.col, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeValueTransformer(t *testing.T) {
	c := &schema.Column{Property: "name", Type: schema.TypeString, Transformer: schema.TransformerFuncs{
		FromFunc: func(v any) (any, error) { return strings.ToUpper(v.(string)), nil },
	}}
	got, err := DecodeValue(c, []byte("ann"))
	require.NoError(t, err)
	assert.Equal(t, "ANN", got)

	got, err = DecodeValue(c, nil)
	require.NoError(t, err)
	assert.Nil(t, got, "NULL is not transformed")

	c.Transformer = schema.TransformerFuncs{FromFunc: func(any) (any, error) { return nil, errors.New("boom") }}
	_, err = DecodeValue(c, "x")
	assert.ErrorContains(t, err, "boom")
}

func TestDecodeValueErrors(t *testing.T) {
	for _, tt := range []struct {
		col schema.Column
		in  any
	}{
		{schema.Column{Type: schema.TypeInt}, "x"},
		{schema.Column{Type: schema.TypeInt}, 1.5},
		{schema.Column{Type: schema.TypeUUID}, "not-a-uuid"},
		{schema.Column{Type: schema.TypeDateTime}, "yesterday"},
		{schema.Column{Type: schema.TypeJSON}, "{"},
		{schema.Column{Type: schema.TypeBool}, struct{}{}},
	} {
		_, err := DecodeValue(&tt.col, tt.in)
		assert.Error(t, err, "%s %v", tt.col.Type, tt.in)
	}
}
