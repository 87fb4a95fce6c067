// Package upload stores user files and ingests tabular ones into the
// relational store.
package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/sqlchat/pkg/sqlstore"
)

var (
	allowedExtensions = map[string]bool{".xls": true, ".xlsx": true, ".csv": true, ".json": true, ".txt": true}
	tabularExtensions = map[string]bool{".xls": true, ".xlsx": true, ".csv": true}
)

// ValidationError rejects an upload before anything is written.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// File is one uploaded payload.
type File struct {
	Name string
	Data []byte
}

// Record describes a stored file and, for tabular files, its table.
type Record struct {
	OriginalName string   `json:"originalName"`
	StoredName   string   `json:"storedName"`
	Size         int      `json:"size"`
	TableName    string   `json:"tableName,omitempty"`
	Rows         *int     `json:"rows,omitempty"`
	Columns      []string `json:"columns,omitempty"`
}

// Store is the relational store side of an upload.
type Store interface {
	Ingest(ctx context.Context, path, originalName string) (*sqlstore.Result, error)
	DropAll(ctx context.Context) error
}

// Service handles uploads into dir.
type Service struct {
	dir    string
	store  Store
	logger *slog.Logger
}

// NewService creates dir if needed.
func NewService(dir string, store Store, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Service{dir: dir, store: store, logger: logger}, nil
}

// IsTabular reports whether name is ingested on upload. The match is
// case-insensitive.
func IsTabular(name string) bool {
	return tabularExtensions[strings.ToLower(filepath.Ext(name))]
}

// Upload validates every file, then stores each in order and ingests the
// tabular ones. An ingestion failure stops the upload; files already
// stored stay in place.
func (s *Service) Upload(ctx context.Context, files []File) ([]Record, error) {
	if len(files) == 0 {
		return nil, &ValidationError{Message: "No files provided."}
	}
	for _, f := range files {
		if !allowedExtensions[strings.ToLower(filepath.Ext(f.Name))] {
			return nil, &ValidationError{Message: fmt.Sprintf("Unsupported file type for %s.", f.Name)}
		}
	}

	records := make([]Record, 0, len(files))
	for _, f := range files {
		rec, err := s.save(ctx, f)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Service) save(ctx context.Context, f File) (Record, error) {
	base := filepath.Base(f.Name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stored := stem + "_" + strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ToLower(ext)
	dest := filepath.Join(s.dir, stored)

	if err := os.WriteFile(dest, f.Data, 0o644); err != nil {
		return Record{}, fmt.Errorf("store %s: %w", f.Name, err)
	}

	rec := Record{OriginalName: f.Name, StoredName: stored, Size: len(f.Data)}
	if IsTabular(f.Name) {
		res, err := s.store.Ingest(ctx, dest, f.Name)
		if err != nil {
			return Record{}, err
		}
		rows := res.Rows
		rec.TableName = res.TableName
		rec.Rows = &rows
		rec.Columns = res.Columns
	}

	s.logger.Info("file uploaded", "file", f.Name, "stored", stored, "size", len(f.Data), "table", rec.TableName)
	return rec, nil
}

// ClearTables drops every table in the relational store.
func (s *Service) ClearTables(ctx context.Context) error {
	if err := s.store.DropAll(ctx); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	return nil
}
