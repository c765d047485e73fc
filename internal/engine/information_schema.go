package engine

import (
	"context"
	"database/sql"
	"fmt"
)

// InformationSchema resolves table and column existence through the
// connection's information_schema views. It is the registry's
// SchemaProvider for live registrations.
type InformationSchema struct {
	DB *sql.DB
}

// TableExists reports whether a table or view with the given name is
// visible on the connection.
func (s *InformationSchema) TableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE lower(table_name) = lower(?)`,
		table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query information_schema.tables: %w", err)
	}
	return count > 0, nil
}

// Columns returns the column names of a table.
func (s *InformationSchema) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns WHERE lower(table_name) = lower(?) ORDER BY ordinal_position`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("query information_schema.columns: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}
