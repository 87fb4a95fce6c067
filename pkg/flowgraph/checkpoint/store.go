// Package checkpoint persists conversation state snapshots keyed by thread.
package checkpoint

import (
	"errors"
	"time"
)

// Store persists the latest checkpoint of each conversation thread.
// Implementations must be safe for concurrent use. Writes to the same
// thread are last-writer-wins.
type Store interface {
	// Save stores the checkpoint for a thread, replacing any previous one.
	Save(threadID string, data []byte) error

	// Load retrieves the latest checkpoint for a thread.
	// Returns ErrNotFound if the thread has never been committed.
	Load(threadID string) ([]byte, error)

	// List returns metadata for every stored thread, ordered by thread ID.
	// Returns empty slice (not error) if the store is empty.
	List() ([]Info, error)

	// Delete removes a thread's checkpoint.
	// Returns nil if the thread doesn't exist.
	Delete(threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	Sequence  int // number of commits for the thread
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
