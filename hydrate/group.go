package hydrate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyFunc extracts a key from a value.
type KeyFunc[K comparable, V any] func(V) K

// KeyOf builds a comparable key from column values. Values equal in SQL
// produce equal keys regardless of the Go type a driver scanned them into,
// e.g. int64(1), 1, float64(1) and []byte("1").
func KeyOf(vs ...any) string {
	var b strings.Builder
	for i, v := range vs {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(keyPart(v))
	}
	return b.String()
}

func keyPart(v any) string {
	switch v := v.(type) {
	case nil:
		return "\x01null"
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return v.String()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

// GroupByKey groups values by key, keeping the order of first appearance
// of each key in keys.
//
// Example:
//
//	// Attach loaded posts to their authors.
//	keys, grouped := GroupByKey(posts, func(p *Entity) string { return KeyOf(p.Get("authorId")) })
func GroupByKey[K comparable, V any](values []V, keyFn KeyFunc[K, V]) ([]K, map[K][]V) {
	var keys []K
	result := make(map[K][]V)
	for _, v := range values {
		key := keyFn(v)
		if _, ok := result[key]; !ok {
			keys = append(keys, key)
		}
		result[key] = append(result[key], v)
	}
	return keys, result
}

// OrderGroupsByKeys reorders grouped values to match the order of requested keys.
// Returns a slice of slices where each inner slice contains values for that key.
func OrderGroupsByKeys[K comparable, V any](keys []K, groups map[K][]V) [][]V {
	result := make([][]V, len(keys))
	for i, key := range keys {
		result[i] = groups[key]
	}
	return result
}
