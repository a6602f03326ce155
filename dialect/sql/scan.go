package sql

import (
	"fmt"
)

// ScanMaps reads all remaining rows into maps keyed by column name and
// closes the rows. Driver values are kept as returned by the driver, except
// that []byte values are copied because the driver may reuse the buffer.
func ScanMaps(rows ColumnScanner) (_ []map[string]any, rerr error) {
	defer func() {
		if err := rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: scan columns: %w", err)
	}
	var (
		result = make([]map[string]any, 0, 8)
		values = make([]any, len(columns))
		ptrs   = make([]any, len(columns))
	)
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("dialect/sql: scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			if b, ok := values[i].([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
			row[c] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialect/sql: iterate rows: %w", err)
	}
	return result, nil
}
