package sqlstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var errNoColumns = errors.New("no columns to parse from file")

// IngestionError is a failed load of an uploaded file. Status is 400 when
// the file could not be parsed and 500 when the table could not be written.
type IngestionError struct {
	Status int
	File   string
	Err    error
}

func (e *IngestionError) Error() string {
	if e.Status == http.StatusBadRequest {
		return fmt.Sprintf("Unable to parse %s: %v", e.File, e.Err)
	}
	return "Failed to write data to the database."
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

// Result describes a table created from an upload.
type Result struct {
	TableName string   `json:"tableName"`
	Rows      int      `json:"rows"`
	Columns   []string `json:"columns"`
}

type table struct {
	columns []string
	rows    [][]string
}

// Ingest loads the CSV or XLSX file at path into a new table named after
// originalName.
func (d *DB) Ingest(ctx context.Context, path, originalName string) (*Result, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, &IngestionError{Status: http.StatusBadRequest, File: originalName, Err: err}
	}

	stem := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	name := SanitizeTableName(stem)

	if err := d.writeTable(ctx, name, t); err != nil {
		d.logger.Error("ingestion write failed", "file", originalName, "table", name, "error", err)
		return nil, &IngestionError{Status: http.StatusInternalServerError, File: originalName, Err: err}
	}

	d.logger.Info("file ingested", "file", originalName, "table", name, "rows", len(t.rows))
	return &Result{TableName: name, Rows: len(t.rows), Columns: t.columns}, nil
}

func readTable(path string) (*table, error) {
	var (
		records [][]string
		err     error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		records, err = readCSV(path)
	case ".xlsx":
		records, err = readXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported spreadsheet format %q", ext)
	}
	if err != nil {
		return nil, err
	}

	for len(records) > 0 && blank(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, errNoColumns
	}

	t := &table{columns: headerNames(records[0])}
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		if len(rec) > len(t.columns) {
			return nil, fmt.Errorf("row %d: expected %d fields, saw %d", i+2, len(t.columns), len(rec))
		}
		row := make([]string, len(t.columns))
		copy(row, rec)
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func readCSV(path string) ([][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errNoColumns
	}
	return f.GetRows(sheets[0])
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// headerNames fills blank headers with "Unnamed: i" and suffixes repeats
// with ".n".
func headerNames(header []string) []string {
	names := make([]string, len(header))
	used := make(map[string]bool, len(header))
	repeats := make(map[string]int)
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		base := h
		for used[h] {
			repeats[base]++
			h = base + "." + strconv.Itoa(repeats[base])
		}
		used[h] = true
		names[i] = h
	}
	return names
}

// columnType picks the narrowest SQLite affinity holding every non-blank value.
func columnType(rows [][]string, col int) string {
	kind := "INTEGER"
	nonBlank := false
	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		nonBlank = true
		if kind == "INTEGER" {
			if _, err := strconv.ParseInt(v, 10, 64); err == nil {
				continue
			}
			kind = "REAL"
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return "TEXT"
		}
	}
	if !nonBlank {
		return "TEXT"
	}
	return kind
}

func convert(v, kind string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch kind {
	case "INTEGER":
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case "REAL":
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return v
}

func (d *DB) writeTable(ctx context.Context, name string, t *table) error {
	kinds := make([]string, len(t.columns))
	defs := make([]string, len(t.columns))
	for i, c := range t.columns {
		kinds[i] = columnType(t.rows, i)
		defs[i] = quoteIdent(c) + " " + kinds[i]
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("drop existing: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(name), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			args[i] = convert(v, kinds[i])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}
