package sqlstore

import (
	"context"
	"log/slog"
	"sync"
)

// Handle opens the database on first use and hands out the same *DB to
// every caller. It is safe for concurrent use.
type Handle struct {
	dsn    string
	logger *slog.Logger

	once sync.Once
	db   *DB
	err  error

	mu     sync.Mutex
	closed bool
}

// NewHandle returns a Handle for dsn. Nothing is opened until Get.
func NewHandle(dsn string, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handle{dsn: dsn, logger: logger}
}

// Get returns the database, opening it on the first call. A failed open is
// not retried.
func (h *Handle) Get() (*DB, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	h.once.Do(func() {
		h.db, h.err = Open(h.dsn, h.logger)
		if h.err == nil {
			h.logger.Info("database opened", "dialect", h.db.Dialect())
		}
	})
	return h.db, h.err
}

// Close closes the database if it was opened. Later Get calls fail.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	// Blocks a concurrent first Get until it finishes, and prevents a later one.
	h.once.Do(func() { h.err = ErrClosed })
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

// Dialect names the SQL dialect.
func (h *Handle) Dialect() string {
	return "sqlite"
}

// TableNames lists user tables.
func (h *Handle) TableNames(ctx context.Context) ([]string, error) {
	db, err := h.Get()
	if err != nil {
		return nil, err
	}
	return db.TableNames(ctx)
}

// TableInfo describes the named tables.
func (h *Handle) TableInfo(ctx context.Context, tables []string) (string, error) {
	db, err := h.Get()
	if err != nil {
		return "", err
	}
	return db.TableInfo(ctx, tables)
}

// Run executes a query.
func (h *Handle) Run(ctx context.Context, query string) (string, error) {
	db, err := h.Get()
	if err != nil {
		return "", err
	}
	return db.Run(ctx, query)
}

// DropAll drops every user table.
func (h *Handle) DropAll(ctx context.Context) error {
	db, err := h.Get()
	if err != nil {
		return err
	}
	return db.DropAll(ctx)
}

// Ingest loads a tabular file into a new table.
func (h *Handle) Ingest(ctx context.Context, path, originalName string) (*Result, error) {
	db, err := h.Get()
	if err != nil {
		return nil, &IngestionError{Status: 500, File: originalName, Err: err}
	}
	return db.Ingest(ctx, path, originalName)
}
