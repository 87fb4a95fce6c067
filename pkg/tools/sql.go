package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Tool names understood by the workflow stages.
const (
	ListTablesName = "sql_db_list_tables"
	SchemaName     = "sql_db_schema"
	QueryName      = "sql_db_query"
)

// Database is the relational store capability the SQL tools run against.
type Database interface {
	Dialect() string
	TableNames(ctx context.Context) ([]string, error)
	// TableInfo returns DDL and sample rows for each named table.
	TableInfo(ctx context.Context, tables []string) (string, error)
	// Run executes query and renders the result rows as text.
	Run(ctx context.Context, query string) (string, error)
}

// SQLTools returns the list-tables, schema and query tools over db.
func SQLTools(db Database) []tool.InvokableTool {
	return []tool.InvokableTool{
		&listTablesTool{db: db},
		&schemaTool{db: db},
		&queryTool{db: db},
	}
}

type listTablesTool struct {
	db Database
}

func (t *listTablesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        ListTablesName,
		Desc:        "Input is an empty string, output is a comma-separated list of tables in the database.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *listTablesTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	names, err := t.db.TableNames(ctx)
	if err != nil {
		return "", err
	}
	return strings.Join(names, ", "), nil
}

type schemaTool struct {
	db Database
}

type schemaArgs struct {
	TableNames string `json:"table_names"`
}

func (t *schemaTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: SchemaName,
		Desc: "Input is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
			"Call " + ListTablesName + " first to make sure the tables exist. Example input: table1, table2, table3",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"table_names": {
				Type:     schema.String,
				Desc:     "Comma-separated list of table names.",
				Required: true,
			},
		}),
	}, nil
}

func (t *schemaTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args schemaArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	var tables []string
	for _, name := range strings.Split(args.TableNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("table_names is empty")
	}
	return t.db.TableInfo(ctx, tables)
}

type queryTool struct {
	db Database
}

type queryArgs struct {
	Query string `json:"query"`
}

func (t *queryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: QueryName,
		Desc: "Input is a detailed and correct SQL query, output is a result from the database. " +
			"If the query is not correct an error message is returned; rewrite the query and try again. " +
			"If a column is unknown, use " + SchemaName + " to look up the correct table fields.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A detailed and correct SQL query.",
				Required: true,
			},
		}),
	}, nil
}

func (t *queryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args queryArgs
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is empty")
	}
	return t.db.Run(ctx, args.Query)
}

// QueryArgument extracts the query argument of an sql_db_query call.
func QueryArgument(call schema.ToolCall) (string, bool) {
	var args queryArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Query == "" {
		return "", false
	}
	return args.Query, true
}
