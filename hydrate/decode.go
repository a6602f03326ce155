package hydrate

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/loom/schema"
)

// Layouts accepted when a driver returns date and time values as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DecodeValue converts a raw driver value into the Go value of the column
// type, then applies the column transformer. NULL stays nil.
func DecodeValue(c *schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := decodeType(c, v)
	if err != nil {
		return nil, fmt.Errorf("hydrate: column %s: %w", c, err)
	}
	if c.Transformer != nil {
		if out, err = c.Transformer.From(out); err != nil {
			return nil, fmt.Errorf("hydrate: column %s: transform: %w", c, err)
		}
	}
	return out, nil
}

func decodeType(c *schema.Column, v any) (any, error) {
	if b, ok := v.([]byte); ok && c.Type != schema.TypeBytes && c.Type != schema.TypeUUID {
		v = string(b)
	}
	switch c.Type {
	case schema.TypeBool:
		return toBool(v)
	case schema.TypeInt, schema.TypeBigInt:
		return toInt(v)
	case schema.TypeFloat:
		return toFloat(v)
	case schema.TypeDecimal:
		return toDecimal(v)
	case schema.TypeUUID:
		return toUUID(v)
	case schema.TypeDateTime:
		return toTime(v)
	case schema.TypeDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		return t.Format(time.DateOnly), nil
	case schema.TypeTime:
		switch v := v.(type) {
		case time.Time:
			return v.Format(time.TimeOnly), nil
		case string:
			return v, nil
		}
		return nil, fmt.Errorf("unexpected time value %T", v)
	case schema.TypeJSON, schema.TypeSimpleJSON:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		var out any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	case schema.TypeSimpleArray:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		if s == "" {
			return []string{}, nil
		}
		return strings.Split(s, ","), nil
	case schema.TypeEnum:
		if numericEnum(c.Enum) {
			return toInt(v)
		}
		return fmt.Sprint(v), nil
	case schema.TypeBytes:
		switch v := v.(type) {
		case []byte:
			return append([]byte(nil), v...), nil
		case string:
			return []byte(v), nil
		}
		return nil, fmt.Errorf("unexpected bytes value %T", v)
	case schema.TypeString, schema.TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
	return v, nil
}

func toBool(v any) (any, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		return strconv.ParseBool(v)
	}
	return nil, fmt.Errorf("unexpected bool value %T", v)
}

func toInt(v any) (any, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	}
	return nil, fmt.Errorf("unexpected integer value %T", v)
}

func toFloat(v any) (any, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	return nil, fmt.Errorf("unexpected float value %T", v)
}

func toDecimal(v any) (any, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	}
	return nil, fmt.Errorf("unexpected decimal value %T", v)
}

func toUUID(v any) (any, error) {
	switch v := v.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return uuid.Parse(v)
	case []byte:
		if len(v) == 16 {
			return uuid.FromBytes(v)
		}
		return uuid.ParseBytes(v)
	}
	return nil, fmt.Errorf("unexpected uuid value %T", v)
}

func toTime(v any) (time.Time, error) {
	switch v := v.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unexpected time value %T", v)
}

func numericEnum(values []any) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		switch v.(type) {
		case int, int64, float64:
		default:
			return false
		}
	}
	return true
}
