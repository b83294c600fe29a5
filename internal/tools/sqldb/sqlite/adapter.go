package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	_ "modernc.org/sqlite"
)

const dialect = "sqlite"

// Adapter reads a sqlite database file opened in read-only mode
type Adapter struct {
	db *sql.DB
}

func NewAdapter() sqldb.Adapter {
	return &Adapter{}
}

func (a *Adapter) Dialect() string { return dialect }

// Connect opens the database file named by dsn
func (a *Adapter) Connect(ctx context.Context, dsn string) error {
	if dsn == "" {
		return fmt.Errorf("database file path is required")
	}
	path := strings.TrimPrefix(dsn, "file:")
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	a.db = db
	return nil
}

func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("not connected")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (a *Adapter) DescribeTable(ctx context.Context, table string) (*sqldb.TableInfo, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name, type, "notnull", pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to describe table: %w", err)
	}
	defer rows.Close()

	info := &sqldb.TableInfo{Name: table}
	for rows.Next() {
		var (
			col         sqldb.ColumnInfo
			notNull, pk int
		)
		if err := rows.Scan(&col.Name, &col.DataType, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = notNull == 0
		col.PrimaryKey = pk > 0
		info.Columns = append(info.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(info.Columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	var count int64
	quoted := `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoted).Scan(&count); err == nil {
		info.RowCount = &count
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

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return sqldb.CollectRows(rows, opts.MaxRows)
}
