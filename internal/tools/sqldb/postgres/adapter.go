package postgres

import (
	"context"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dialect = "postgres"

// Adapter reads a PostgreSQL database inside read-only transactions
type Adapter struct {
	pool *pgxpool.Pool
}

func NewAdapter() sqldb.Adapter {
	return &Adapter{}
}

func (a *Adapter) Dialect() string { return dialect }

func (a *Adapter) Connect(ctx context.Context, dsn string) error {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse dsn: %w", err)
	}
	cfg.MaxConns = 5
	cfg.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	a.pool = pool
	return nil
}

func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return nil
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("not connected")
	}
	return a.pool.Ping(ctx)
}

func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan table names: %w", err)
	}
	return tables, nil
}

func (a *Adapter) DescribeTable(ctx context.Context, table string) (*sqldb.TableInfo, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			EXISTS (
				SELECT 1
				FROM information_schema.key_column_usage kcu
				JOIN information_schema.table_constraints tc
				  ON kcu.constraint_name = tc.constraint_name
				 AND kcu.table_schema = tc.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
				  AND kcu.table_schema = c.table_schema
				  AND kcu.table_name = c.table_name
				  AND kcu.column_name = c.column_name
			)
		FROM information_schema.columns c
		WHERE c.table_schema = current_schema() AND c.table_name = $1
		ORDER BY c.ordinal_position
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	info := &sqldb.TableInfo{Name: table}
	for rows.Next() {
		var col sqldb.ColumnInfo
		if err := rows.Scan(&col.Name, &col.DataType, &col.Nullable, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	var estimate int64
	err = a.pool.QueryRow(ctx, `SELECT reltuples::bigint FROM pg_class WHERE relname = $1`, table).Scan(&estimate)
	if err == nil && estimate >= 0 {
		info.RowCount = &estimate
	}
	return info, nil
}

func (a *Adapter) ExecuteQuery(ctx context.Context, query string, opts sqldb.QueryOptions) (*sqldb.QueryResult, error) {
	if err := sqldb.ValidateSQL(query, dialect); err != nil {
		return nil, err
	}
	query = sqldb.EnforceLimit(query, opts.MaxRows)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	result := &sqldb.QueryResult{Rows: [][]any{}}
	for _, fd := range rows.FieldDescriptions() {
		result.Columns = append(result.Columns, fd.Name)
	}
	for rows.Next() {
		if len(result.Rows) == opts.MaxRows {
			result.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}
