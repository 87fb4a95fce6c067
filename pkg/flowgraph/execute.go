package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END,
// and commits it when checkpointing is enabled. On error, returns the state
// at the point of failure and commits nothing.
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Execute the current node
//  4. Determine the next node (via simple or conditional edge)
//  5. Repeat until END is reached or an error occurs
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (result S, runErr error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.checkpointStore != nil && cfg.threadID == "" {
		return state, ErrThreadIDRequired
	}

	runID := ctx.RunID()
	startTime := time.Now()
	observability.LogRunStart(cfg.logger, runID)

	execCtx := ctx
	if cfg.tracingEnabled {
		var runSpan trace.Span
		var spanCtx context.Context
		spanCtx, runSpan = cfg.spans.StartRunSpan(ctx, "sqlchat", runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
		if ec, ok := ctx.(*executionContext); ok {
			execCtx = ec.withBase(spanCtx)
		}
	}

	var nodeCount int
	var lastNode string
	result, lastNode, nodeCount, runErr = cg.runLoop(execCtx, state, &cfg)

	if runErr == nil && cfg.checkpointStore != nil {
		runErr = cg.commit(execCtx, &cfg, lastNode, result)
	}

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(execCtx, runErr == nil, duration)

	if runErr != nil {
		observability.LogRunError(cfg.logger, runID, runErr, observability.Millis(duration), failedNode(runErr, lastNode))
	} else {
		observability.LogRunComplete(cfg.logger, runID, observability.Millis(duration), nodeCount)
	}

	return result, runErr
}

// failedNode extracts the node a run error points at.
func failedNode(err error, fallback string) string {
	var nodeErr *NodeError
	var panicErr *PanicError
	var maxErr *MaxIterationsError
	var cancelErr *CancellationError
	var routerErr *RouterError
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	}
	return fallback
}

// runLoop drives the single cursor from the entry point to END.
// Returns the final state, the last node executed, and the node count.
func (cg *CompiledGraph[S]) runLoop(ctx Context, state S, cfg *runConfig) (S, string, int, error) {
	current := cg.entryPoint
	lastNode := ""
	iterations := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, lastNode, iterations - 1, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		select {
		case <-ctx.Done():
			return state, lastNode, iterations - 1, &CancellationError{
				NodeID: current,
				State:  state,
				Cause:  ctx.Err(),
			}
		default:
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeCtx := ctx
		var nodeSpan trace.Span
		if cfg.tracingEnabled {
			var spanCtx context.Context
			spanCtx, nodeSpan = cfg.spans.StartNodeSpan(ctx, current)
			if ec, ok := ctx.(*executionContext); ok {
				nodeCtx = ec.withBase(spanCtx)
			}
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(nodeCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeCtx, current, nodeDuration, nodeErr)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			return state, current, iterations - 1, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, observability.Millis(nodeDuration))

		next, err := cg.nextNode(ctx, state, current)
		if err != nil {
			return state, current, iterations, err
		}

		lastNode = current
		current = next
	}

	return state, lastNode, iterations, nil
}

// commit saves the final state under the configured thread.
func (cg *CompiledGraph[S]) commit(ctx Context, cfg *runConfig, lastNode string, state S) error {
	stateBytes, err := json.Marshal(state)
	if err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, "serialize", err)
		return &CheckpointError{ThreadID: cfg.threadID, Op: "serialize", Err: fmt.Errorf("%w: %v", ErrSerializeState, err)}
	}

	data, err := checkpoint.New(cfg.threadID, lastNode, stateBytes).WithRunID(ctx.RunID()).Marshal()
	if err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, "serialize", err)
		return &CheckpointError{ThreadID: cfg.threadID, Op: "serialize", Err: err}
	}

	if err := cfg.checkpointStore.Save(cfg.threadID, data); err != nil {
		observability.LogCheckpointError(cfg.logger, cfg.threadID, "save", err)
		return &CheckpointError{ThreadID: cfg.threadID, Op: "save", Err: err}
	}

	observability.LogCheckpoint(cfg.logger, cfg.threadID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, lastNode, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.nodes[nodeID]
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	nodeCtx := ctx
	if ec, ok := ctx.(*executionContext); ok {
		nodeCtx = ec.withNodeID(nodeID)
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	nodeCtx.Emit(Event{Kind: EventNodeStart})
	result, err = fn(nodeCtx, state)
	if err != nil {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}
	nodeCtx.Emit(Event{Kind: EventNodeEnd})

	return result, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.routers[current]; exists {
		routerCtx := ctx
		if ec, ok := ctx.(*executionContext); ok {
			routerCtx = ec.withNodeID(current)
		}

		next := router(routerCtx, state)

		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if !cg.routeTargets[current][next] {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetUndeclared}
		}
		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}

	// Single cursor: the first simple edge wins.
	return edges[0], nil
}
