package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Rrens/agent-bridge/internal/tools/sqldb"
	"github.com/google/generative-ai-go/genai"
)

func toJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(b), nil
}

type listDatabases struct{}

func (listDatabases) Name() string { return "list_databases" }

func (listDatabases) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "list_databases",
		Description: "Lists the databases available to query_database, with their SQL dialect.",
		Parameters:  objectSchema(nil, map[string]*genai.Schema{}),
	}
}

func (listDatabases) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	dbs := env.DB.Databases()
	content, err := toJSON(dbs)
	if err != nil {
		return Output{}, err
	}
	return Output{Content: content, Display: fmt.Sprintf("%d databases", len(dbs))}, nil
}

type describeDatabase struct{}

func (describeDatabase) Name() string { return "describe_database" }

func (describeDatabase) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "describe_database",
		Description: "Lists the tables of a database, or the columns of one table when 'table' is given.",
		Parameters: objectSchema([]string{"database"}, map[string]*genai.Schema{
			"database": stringProp("Database name as returned by list_databases."),
			"table":    stringProp("Optional table to describe."),
		}),
	}
}

func (describeDatabase) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	name, err := stringArg(args, "database", true)
	if err != nil {
		return Output{}, err
	}
	table, err := stringArg(args, "table", false)
	if err != nil {
		return Output{}, err
	}

	adapter, err := env.DB.Get(ctx, name)
	if err != nil {
		return Output{}, err
	}

	if table == "" {
		tables, err := adapter.ListTables(ctx)
		if err != nil {
			return Output{}, err
		}
		content, err := toJSON(map[string]any{"dialect": adapter.Dialect(), "tables": tables})
		if err != nil {
			return Output{}, err
		}
		return Output{Content: content, Display: fmt.Sprintf("%d tables in %s", len(tables), name)}, nil
	}

	info, err := adapter.DescribeTable(ctx, table)
	if err != nil {
		return Output{}, err
	}
	content, err := toJSON(info)
	if err != nil {
		return Output{}, err
	}
	return Output{Content: content, Display: fmt.Sprintf("%s: %d columns", table, len(info.Columns))}, nil
}

type queryDatabase struct{}

func (queryDatabase) Name() string { return "query_database" }

func (queryDatabase) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        "query_database",
		Description: "Runs one read-only SELECT statement against a database and returns the rows as JSON.",
		Parameters: objectSchema([]string{"database", "sql"}, map[string]*genai.Schema{
			"database": stringProp("Database name as returned by list_databases."),
			"sql":      stringProp("A single SELECT statement in the database's dialect."),
		}),
	}
}

func (queryDatabase) Run(ctx context.Context, env *Env, args map[string]any) (Output, error) {
	name, err := stringArg(args, "database", true)
	if err != nil {
		return Output{}, err
	}
	query, err := stringArg(args, "sql", true)
	if err != nil {
		return Output{}, err
	}

	adapter, err := env.DB.Get(ctx, name)
	if err != nil {
		return Output{}, err
	}
	res, err := adapter.ExecuteQuery(ctx, query, sqldb.QueryOptions{
		MaxRows: env.Limits.MaxRows,
		Timeout: env.Limits.QueryTimeout,
	})
	if err != nil {
		return Output{}, err
	}

	content, err := toJSON(res)
	if err != nil {
		return Output{}, err
	}
	display := fmt.Sprintf("%d rows", res.RowCount)
	if res.Truncated {
		display += " (truncated)"
	}
	return Output{Content: content, Display: display}, nil
}
