package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	tables  []string
	info    map[string]string
	queries []string
	result  string
	err     error
}

func (f *fakeDB) Dialect() string { return "sqlite" }

func (f *fakeDB) TableNames(_ context.Context) ([]string, error) {
	return f.tables, f.err
}

func (f *fakeDB) TableInfo(_ context.Context, tables []string) (string, error) {
	out := ""
	for _, t := range tables {
		ddl, ok := f.info[t]
		if !ok {
			return "", errors.New("table not found: " + t)
		}
		out += ddl
	}
	return out, nil
}

func (f *fakeDB) Run(_ context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func sqlRegistry(t *testing.T, db Database) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, tl := range SQLTools(db) {
		require.NoError(t, r.Register(context.Background(), tl))
	}
	return r
}

func TestSQLTools_Names(t *testing.T) {
	r := sqlRegistry(t, &fakeDB{})
	assert.Equal(t, []string{ListTablesName, QueryName, SchemaName}, r.Names())
}

func TestSQLTools_ListTables(t *testing.T) {
	r := sqlRegistry(t, &fakeDB{tables: []string{"sales_1a2b3c4d", "users_00ff00ff"}})

	msg, err := r.Invoke(context.Background(), call("list_tables_call", ListTablesName, ""), nil)

	require.NoError(t, err)
	assert.Equal(t, "sales_1a2b3c4d, users_00ff00ff", msg.Content)
}

func TestSQLTools_Schema(t *testing.T) {
	db := &fakeDB{info: map[string]string{"a": "CREATE TABLE a;", "b": "CREATE TABLE b;"}}
	r := sqlRegistry(t, db)

	msg, err := r.Invoke(context.Background(), call("c1", SchemaName, `{"table_names":" a, b ,"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE a;CREATE TABLE b;", msg.Content)

	msg, err = r.Invoke(context.Background(), call("c2", SchemaName, `{"table_names":""}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "Error: table_names is empty", msg.Content)

	msg, err = r.Invoke(context.Background(), call("c3", SchemaName, `{"table_names":"zzz"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "Error: table not found: zzz", msg.Content)
}

func TestSQLTools_Query(t *testing.T) {
	db := &fakeDB{result: "[(42,)]"}
	r := sqlRegistry(t, db)

	msg, err := r.Invoke(context.Background(), call("c1", QueryName, `{"query":"SELECT max(revenue) FROM sales"}`), nil)

	require.NoError(t, err)
	assert.Equal(t, "[(42,)]", msg.Content)
	assert.Equal(t, []string{"SELECT max(revenue) FROM sales"}, db.queries)
}

func TestSQLTools_QueryErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("near \"SELEC\": syntax error")}
	r := sqlRegistry(t, db)

	msg, err := r.Invoke(context.Background(), call("c1", QueryName, `{"query":"SELEC 1"}`), nil)
	require.NoError(t, err)
	assert.Equal(t, `Error: near "SELEC": syntax error`, msg.Content)

	msg, err = r.Invoke(context.Background(), call("c2", QueryName, `not json`), nil)
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "Error: invalid arguments")
}

func TestQueryArgument(t *testing.T) {
	q, ok := QueryArgument(call("c", QueryName, `{"query":"SELECT 1"}`))
	assert.True(t, ok)
	assert.Equal(t, "SELECT 1", q)

	_, ok = QueryArgument(call("c", QueryName, `{}`))
	assert.False(t, ok)
}
