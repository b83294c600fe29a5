package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	"github.com/go-sql-driver/mysql"
)

const dialect = "mysql"

// Adapter reads a MySQL database inside read-only transactions
type Adapter struct {
	db       *sql.DB
	database string
}

func NewAdapter() sqldb.Adapter {
	return &Adapter{}
}

func (a *Adapter) Dialect() string { return dialect }

// Connect opens the database named by a go-sql-driver DSN
func (a *Adapter) Connect(ctx context.Context, dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("failed to create connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	a.db = db
	a.database = cfg.DBName
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
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`, a.database)
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
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name, column_type, is_nullable = 'YES', column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position
	`, a.database, table)
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

	var count sql.NullInt64
	err = a.db.QueryRowContext(ctx, `
		SELECT table_rows FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?
	`, a.database, table).Scan(&count)
	if err == nil && count.Valid {
		info.RowCount = &count.Int64
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

	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	return sqldb.CollectRows(rows, opts.MaxRows)
}
