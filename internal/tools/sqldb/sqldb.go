// Package sqldb gives agent tools read-only access to configured SQL databases.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Rrens/agent-bridge/internal/config"
)

type TableInfo struct {
	Name     string       `json:"name"`
	Columns  []ColumnInfo `json:"columns"`
	RowCount *int64       `json:"row_count,omitempty"`
}

type ColumnInfo struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

type QueryResult struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

type QueryOptions struct {
	MaxRows int
	Timeout time.Duration
}

// Adapter is a read-only connection to one database
type Adapter interface {
	Dialect() string
	Connect(ctx context.Context, dsn string) error
	Close() error
	HealthCheck(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*TableInfo, error)
	ExecuteQuery(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error)
}

type AdapterFactory func() Adapter

// DatabaseInfo describes a configured database
type DatabaseInfo struct {
	Name    string `json:"name"`
	Dialect string `json:"dialect"`
}

// Pool lazily connects to the configured databases and keeps one healthy
// adapter per database name.
type Pool struct {
	factories map[string]AdapterFactory
	conns     map[string]config.DatabaseConnection
	open      map[string]Adapter
	mu        sync.RWMutex
}

func NewPool(databases []config.DatabaseConnection) *Pool {
	p := &Pool{
		factories: make(map[string]AdapterFactory),
		conns:     make(map[string]config.DatabaseConnection),
		open:      make(map[string]Adapter),
	}
	for _, db := range databases {
		p.conns[db.Name] = db
	}
	return p
}

// RegisterAdapter registers an adapter factory for a driver name
func (p *Pool) RegisterAdapter(driver string, factory AdapterFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[driver] = factory
}

// Databases lists the configured databases sorted by name
func (p *Pool) Databases() []DatabaseInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]DatabaseInfo, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, DatabaseInfo{Name: c.Name, Dialect: c.Driver})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns a connected adapter for the named database
func (p *Pool) Get(ctx context.Context, name string) (Adapter, error) {
	p.mu.RLock()
	adapter, ok := p.open[name]
	p.mu.RUnlock()
	if ok && adapter.HealthCheck(ctx) == nil {
		return adapter, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if adapter, ok := p.open[name]; ok {
		if err := adapter.HealthCheck(ctx); err == nil {
			return adapter, nil
		}
		adapter.Close()
		delete(p.open, name)
	}

	conn, ok := p.conns[name]
	if !ok {
		return nil, fmt.Errorf("unknown database %q", name)
	}
	factory, ok := p.factories[conn.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", conn.Driver)
	}

	adapter = factory()
	if err := adapter.Connect(ctx, conn.DSN); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", name, err)
	}
	p.open[name] = adapter
	return adapter, nil
}

// Close closes every open connection
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for name, a := range p.open {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.open, name)
	}
	return firstErr
}

// CollectRows reads at most maxRows rows, reporting whether more were available
func CollectRows(rows *sql.Rows, maxRows int) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if len(result.Rows) == maxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	result.RowCount = len(result.Rows)
	return result, nil
}
