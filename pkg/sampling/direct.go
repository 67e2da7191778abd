package sampling

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"
)

// DirectSampler samples straight from the source database when no
// Text-to-SQL service is deployed. Postgres goes through pgx; SQL Server
// through database/sql with the mssql driver.
type DirectSampler struct {
	driver string
	pool   *pgxpool.Pool // postgres only
	db     *sql.DB       // sqlserver only
	logger *zap.Logger
}

var _ Sampler = (*DirectSampler)(nil)

// NewDirectSampler opens a connection for the configured driver.
func NewDirectSampler(driver, dsn string, logger *zap.Logger) (*DirectSampler, error) {
	s := &DirectSampler{driver: driver, logger: logger.Named("direct-sampler")}

	switch driver {
	case "postgres":
		pool, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres sampler: %w", err)
		}
		s.pool = pool
	case "sqlserver":
		db, err := sql.Open("sqlserver", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlserver sampler: %w", err)
		}
		s.db = db
	default:
		return nil, fmt.Errorf("unsupported sampler driver %q", driver)
	}

	return s, nil
}

// Ping verifies the connection.
func (s *DirectSampler) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	return s.db.PingContext(ctx)
}

// Close releases the connection.
func (s *DirectSampler) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
		return nil
	}
	return s.db.Close()
}

// SampleRows returns up to limit rows of a table.
func (s *DirectSampler) SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error) {
	if err := safeIdent(schema); err != nil {
		return nil, err
	}
	if err := safeIdent(table); err != nil {
		return nil, err
	}

	if s.pool != nil {
		query := fmt.Sprintf(`SELECT * FROM "%s"."%s" LIMIT %d`, schema, table, limit)
		return s.pgxRows(ctx, query)
	}

	query := fmt.Sprintf(`SELECT TOP (%d) * FROM [%s].[%s]`, limit, schema, table)
	return s.sqlRows(ctx, query)
}

// SampleColumn returns up to limit distinct non-null values of one column.
func (s *DirectSampler) SampleColumn(ctx context.Context, schema, table, column string, limit int) ([]any, error) {
	if err := safeIdent(schema); err != nil {
		return nil, err
	}
	if err := safeIdent(table); err != nil {
		return nil, err
	}
	if err := safeIdent(column); err != nil {
		return nil, err
	}

	var rows []map[string]any
	var err error
	if s.pool != nil {
		query := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s" WHERE "%s" IS NOT NULL LIMIT %d`,
			column, schema, table, column, limit)
		rows, err = s.pgxRows(ctx, query)
	} else {
		query := fmt.Sprintf(`SELECT DISTINCT TOP (%d) [%s] FROM [%s].[%s] WHERE [%s] IS NOT NULL`,
			limit, column, schema, table, column)
		rows, err = s.sqlRows(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			values = append(values, v)
		}
	}
	return values, nil
}

func (s *DirectSampler) pgxRows(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *DirectSampler) sqlRows(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sample query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
