package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
)

// Context provides execution context to nodes.
// It extends context.Context with the run's logger, identifiers, and
// event emitter.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with run and node context.
	// Never returns nil - defaults to slog.Default() if not configured.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	RunID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// Emit publishes a run event. Events are dropped when no emitter is
	// configured. RunID and NodeID are filled in when empty.
	Emit(ev Event)
}

type executionContext struct {
	context.Context

	logger  *slog.Logger
	emitter Emitter
	runID   string
	nodeID  string
}

func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

func (c *executionContext) RunID() string {
	return c.runID
}

func (c *executionContext) NodeID() string {
	return c.nodeID
}

func (c *executionContext) Emit(ev Event) {
	if c.emitter == nil {
		return
	}
	if ev.RunID == "" {
		ev.RunID = c.runID
	}
	if ev.NodeID == "" {
		ev.NodeID = c.nodeID
	}
	c.emitter(ev)
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with run_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEmitter installs the receiver for run events.
func WithEmitter(emitter Emitter) ContextOption {
	return func(c *executionContext) {
		c.emitter = emitter
	}
}

// WithContextRunID sets the run identifier for the context.
// If not set, a UUID will be auto-generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// NewContext creates an execution context from a standard context.
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(myLogger),
//	    flowgraph.WithEmitter(events))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}

	for _, opt := range opts {
		opt(ec)
	}

	return ec
}

// withNodeID returns a new context with the given node ID set.
func (c *executionContext) withNodeID(nodeID string) *executionContext {
	return &executionContext{
		Context: c.Context,
		logger:  observability.EnrichLogger(c.logger, c.runID, nodeID),
		emitter: c.emitter,
		runID:   c.runID,
		nodeID:  nodeID,
	}
}

// withBase returns a copy bound to a different underlying context,
// used to carry span context into nodes.
func (c *executionContext) withBase(base context.Context) *executionContext {
	cp := *c
	cp.Context = base
	return &cp
}
