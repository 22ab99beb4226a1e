package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Column is one value of a row. Null is set for SQL NULL.
type Column struct {
	Name  string
	Value string
	Null  bool
}

// Row keeps columns in select order
type Row []Column

// Get returns a column value; ok is false when the column is missing or NULL
func (r Row) Get(name string) (string, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, !c.Null
		}
	}
	return "", false
}

// First returns the first column value
func (r Row) First() (string, bool) {
	if len(r) == 0 {
		return "", false
	}
	return r[0].Value, !r[0].Null
}

// Map renders the row as a map; NULL columns are omitted
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r))
	for _, c := range r {
		if !c.Null {
			m[c.Name] = c.Value
		}
	}
	return m
}

func queryRows(ctx context.Context, db *sql.DB, query string) ([]Row, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(columns))
		for i, name := range columns {
			row[i] = Column{Name: name}
			if values[i] == nil {
				row[i].Null = true
				continue
			}
			row[i].Value = formatValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return out, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
