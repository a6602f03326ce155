package cache

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MarshalRows encodes raw result rows for storage in a cache entry.
func MarshalRows(rows []map[string]any) ([]byte, error) {
	b, err := msgpack.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("cache: encode rows: %w", err)
	}
	return b, nil
}

// UnmarshalRows decodes rows encoded by MarshalRows. Integers decode as
// int64 and floats as float64, the way database/sql drivers scan them.
func UnmarshalRows(b []byte) ([]map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("cache: decode rows: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}
