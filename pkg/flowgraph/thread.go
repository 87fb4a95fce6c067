package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
)

// LoadState restores the last committed state for a thread.
// The boolean is false, with a zero state, when the thread has no checkpoint.
func LoadState[S any](store checkpoint.Store, threadID string) (S, bool, error) {
	var zero S
	if threadID == "" {
		return zero, false, ErrThreadIDRequired
	}

	data, err := store.Load(threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, &CheckpointError{ThreadID: threadID, Op: "load", Err: err}
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return zero, false, &CheckpointError{ThreadID: threadID, Op: "decode", Err: err}
	}
	if cp.Version != checkpoint.Version {
		return zero, false, &CheckpointError{
			ThreadID: threadID,
			Op:       "decode",
			Err:      fmt.Errorf("%w: got %d, want %d", ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version),
		}
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return zero, false, &CheckpointError{
			ThreadID: threadID,
			Op:       "decode",
			Err:      fmt.Errorf("%w: %v", ErrDeserializeState, err),
		}
	}
	return state, true, nil
}
