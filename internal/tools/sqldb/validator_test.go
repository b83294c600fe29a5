package sqldb_test

import (
	"testing"

	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	"github.com/stretchr/testify/assert"
)

func TestValidateSQL(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		dialect string
		wantErr error
	}{
		{"simple select", "SELECT * FROM users", "postgres", nil},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", "postgres", nil},
		{"trailing semicolon", "SELECT 1;", "sqlite", nil},
		{"comment with keyword", "SELECT 1 -- DROP TABLE x", "sqlite", nil},
		{"empty", "   ", "sqlite", sqldb.ErrEmptyQuery},
		{"only comment", "/* nothing */", "sqlite", sqldb.ErrEmptyQuery},
		{"multiple statements", "SELECT 1; SELECT 2", "mysql", sqldb.ErrMultipleQueries},
		{"insert", "INSERT INTO users VALUES (1)", "postgres", sqldb.ErrNotSelect},
		{"delete in cte", "WITH d AS (DELETE FROM users RETURNING *) SELECT * FROM d", "postgres", sqldb.ErrBlockedStatement},
		{"outfile", "SELECT * FROM users INTO OUTFILE '/tmp/x'", "mysql", sqldb.ErrBlockedStatement},
		{"pg read file", "SELECT pg_read_file('/etc/passwd')", "postgres", sqldb.ErrBlockedStatement},
		{"sqlite pragma", "SELECT * FROM pragma_table_info('x') WHERE 1 AND PRAGMA", "sqlite", sqldb.ErrBlockedStatement},
		{"dialect pattern not applied elsewhere", "SELECT pg_ls_dir FROM t", "mysql", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sqldb.ValidateSQL(tt.sql, tt.dialect)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEnforceLimit(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t LIMIT 11", sqldb.EnforceLimit("SELECT * FROM t;", 10))
	assert.Equal(t, "SELECT * FROM t LIMIT 5", sqldb.EnforceLimit("SELECT * FROM t LIMIT 5", 10))
}
