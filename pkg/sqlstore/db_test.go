package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func exec(t *testing.T, db *DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.db.Exec(s)
		require.NoError(t, err, s)
	}
}

func TestDB_TableNames(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	names, err := db.TableNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	exec(t, db, `CREATE TABLE b (x INTEGER)`, `CREATE TABLE a (x INTEGER)`)

	names, err = db.TableNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, "sqlite", db.Dialect())
}

func TestDB_Run(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	exec(t, db,
		`CREATE TABLE sales (state TEXT, revenue REAL, units INTEGER)`,
		`INSERT INTO sales VALUES ('CA', 10.5, 3), ('NY', 20, NULL), ('O''Hare', 1.25, 1)`,
	)

	out, err := db.Run(ctx, `SELECT state, revenue, units FROM sales ORDER BY revenue DESC`)
	require.NoError(t, err)
	assert.Equal(t, `[('NY', 20.0, None), ('CA', 10.5, 3), ('O\'Hare', 1.25, 1)]`, out)

	out, err = db.Run(ctx, `SELECT max(units) FROM sales`)
	require.NoError(t, err)
	assert.Equal(t, "[(3,)]", out)

	out, err = db.Run(ctx, `SELECT * FROM sales WHERE state = 'TX'`)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = db.Run(ctx, `SELEC 1`)
	assert.Error(t, err)
}

func TestDB_TableInfo(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	exec(t, db,
		`CREATE TABLE items (name TEXT, qty INTEGER)`,
		`INSERT INTO items VALUES ('a', 1), ('b', 2), ('c', 3), ('d', 4)`,
	)

	info, err := db.TableInfo(ctx, []string{"items"})
	require.NoError(t, err)
	assert.Contains(t, info, "CREATE TABLE items (name TEXT, qty INTEGER)")
	assert.Contains(t, info, "3 rows from items table:\nname\tqty\na\t1\nb\t2\nc\t3\n*/")
	assert.NotContains(t, info, "d\t4")

	_, err = db.TableInfo(ctx, []string{"items", "ghost"})
	assert.EqualError(t, err, "table_names {ghost} not found in database")
}

func TestDB_DropAll(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.DropAll(ctx), "empty store is a no-op")

	exec(t, db, `CREATE TABLE a (x)`, `CREATE TABLE b (x)`)
	require.NoError(t, db.DropAll(ctx))

	names, err := db.TableNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestHandle_OpensOnce(t *testing.T) {
	dir := t.TempDir()
	h := NewHandle(filepath.Join(dir, "lazy.db"), nil)

	_, err := os.Stat(filepath.Join(dir, "lazy.db"))
	assert.True(t, os.IsNotExist(err), "nothing opened before first use")

	var wg sync.WaitGroup
	dbs := make([]*DB, 8)
	for i := range dbs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := h.Get()
			assert.NoError(t, err)
			dbs[i] = db
		}(i)
	}
	wg.Wait()

	for _, db := range dbs {
		assert.Same(t, dbs[0], db)
	}

	names, err := h.TableNames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	_, err = h.Get()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHandle_CloseBeforeUse(t *testing.T) {
	h := NewHandle(filepath.Join(t.TempDir(), "never.db"), nil)
	require.NoError(t, h.Close())

	_, err := h.Run(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrClosed)
}
