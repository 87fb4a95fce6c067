// Package sqlstore is the relational store that uploaded tables are
// ingested into and the SQL tools query.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrClosed is returned by a DB or Handle used after Close.
var ErrClosed = errors.New("sqlstore: closed")

// sampleRows is the number of rows TableInfo shows per table.
const sampleRows = 3

// DB is an open SQLite database.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the database at dsn, a file path or ":memory:".
func Open(dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// Dialect names the SQL dialect for prompt construction.
func (d *DB) Dialect() string {
	return "sqlite"
}

// TableNames lists user tables, sorted.
func (d *DB) TableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// TableInfo returns the CREATE statement and the first rows of each table.
func (d *DB) TableInfo(ctx context.Context, tables []string) (string, error) {
	known, err := d.TableNames(ctx)
	if err != nil {
		return "", err
	}
	existing := make(map[string]bool, len(known))
	for _, n := range known {
		existing[n] = true
	}

	var missing []string
	for _, t := range tables {
		if !existing[t] {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("table_names {%s} not found in database", strings.Join(missing, ", "))
	}

	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		part, err := d.describe(ctx, t)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "\n\n"), nil
}

func (d *DB) describe(ctx context.Context, table string) (string, error) {
	var ddl string
	err := d.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&ddl)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", table, err)
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), sampleRows))
	if err != nil {
		return "", fmt.Errorf("sample %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(ddl)
	fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n%s\n", sampleRows, table, strings.Join(cols, "\t"))
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return "", err
		}
		cells := make([]string, len(vals))
		for i, v := range vals {
			cells[i] = plainValue(v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	b.WriteString("*/")
	return b.String(), nil
}

// Run executes query and renders its rows as a list of tuples, e.g.
// [(1, 'a'), (2, None)]. A statement without rows renders as "".
func (d *DB) Run(ctx context.Context, query string) (string, error) {
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var tuples []string
	for rows.Next() {
		vals, err := scanRow(rows, len(cols))
		if err != nil {
			return "", err
		}
		tuples = append(tuples, tuple(vals))
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(tuples) == 0 {
		return "", nil
	}
	return "[" + strings.Join(tuples, ", ") + "]", nil
}

// DropAll drops every user table. An empty database is left untouched.
func (d *DB) DropAll(ctx context.Context) error {
	names, err := d.TableNames(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, name := range names {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	d.logger.Info("tables dropped", "count", len(names))
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return vals, nil
}

func tuple(vals []any) string {
	cells := make([]string, len(vals))
	for i, v := range vals {
		cells[i] = literal(v)
	}
	if len(cells) == 1 {
		return "(" + cells[0] + ",)"
	}
	return "(" + strings.Join(cells, ", ") + ")"
}

// literal renders v the way the model expects to read a result cell.
func literal(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case []byte:
		return quote(string(x))
	case string:
		return quote(x)
	case time.Time:
		return quote(x.Format(time.RFC3339))
	default:
		return quote(fmt.Sprint(x))
	}
}

func plainValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case float64:
		return formatFloat(x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEn") {
		s += ".0"
	}
	return s
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
