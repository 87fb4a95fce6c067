package flowgraph

import (
	"errors"
	"fmt"
)

// Graph shape errors, joined and returned by Compile.
var (
	ErrNoEntryPoint  = errors.New("entry point not set")
	ErrEntryNotFound = errors.New("entry point node not found")
	ErrNodeNotFound  = errors.New("node not found")
	ErrNoPathToEnd   = errors.New("no path to END from entry")

	// ErrRouterTargetNotFound is a declared router target that is not a node.
	ErrRouterTargetNotFound = errors.New("router target not found")
)

// Run errors.
var (
	ErrNilContext    = errors.New("context cannot be nil")
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	ErrInvalidRouterResult    = errors.New("router returned empty string")
	ErrRouterTargetUndeclared = errors.New("router returned undeclared target")
)

// Thread state errors.
var (
	ErrThreadIDRequired          = errors.New("thread ID required for checkpointing")
	ErrSerializeState            = errors.New("failed to serialize state")
	ErrDeserializeState          = errors.New("failed to deserialize state")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// CheckpointError is a failed load or commit of a thread's state.
type CheckpointError struct {
	ThreadID string
	// Op is one of "load", "decode", "serialize", "save".
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s for thread %s: %v", e.Op, e.ThreadID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// NodeError is a failure inside a node or its routing.
type NodeError struct {
	NodeID string
	// Op is one of "lookup", "execute", "routing".
	Op  string
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is a recovered panic from a node, with its stack.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports a run stopped by its context before NodeID
// executed. State is the state at that point.
type CancellationError struct {
	NodeID string
	State  any
	Cause  error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// RouterError is a conditional edge that chose an invalid next node.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// MaxIterationsError stops a run that keeps cycling, such as a query
// review loop the model never leaves.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }
