package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
)

// ErrEmptyMessage rejects a turn without text.
var ErrEmptyMessage = errors.New("message is empty")

// Service runs conversation turns through a compiled workflow and keeps
// each conversation's state in a checkpoint store.
type Service struct {
	graph *flowgraph.CompiledGraph[State]
	store checkpoint.Store

	logger        *slog.Logger
	spans         observability.SpanManager
	metrics       observability.MetricsRecorder
	maxIterations int
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracing records spans for each run.
func WithTracing(spans observability.SpanManager) ServiceOption {
	return func(s *Service) { s.spans = spans }
}

// WithMetrics records run metrics.
func WithMetrics(metrics observability.MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithMaxIterations bounds node executions per run.
func WithMaxIterations(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxIterations = n
		}
	}
}

// NewService creates a Service.
func NewService(graph *flowgraph.CompiledGraph[State], store checkpoint.Store, opts ...ServiceOption) *Service {
	s := &Service{
		graph:         graph,
		store:         store,
		logger:        slog.Default(),
		maxIterations: 50,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("workflow ready", "entry", graph.EntryPoint(), "nodes", graph.NodeIDs())
	return s
}

// Run is one turn in progress.
type Run struct {
	id       string
	threadID string
	isNew    bool
	events   chan flowgraph.Event
	done     chan struct{}

	mu    sync.Mutex
	err   error
	final State
}

// ID identifies this turn's graph run in logs and checkpoints.
func (r *Run) ID() string { return r.id }

// ThreadID identifies the conversation.
func (r *Run) ThreadID() string { return r.threadID }

// IsNew reports whether the conversation id was allocated for this turn.
func (r *Run) IsNew() bool { return r.isNew }

// Events delivers run events in order and is closed when the run ends.
func (r *Run) Events() <-chan flowgraph.Event { return r.events }

// Wait blocks until the run ends and returns its error.
func (r *Run) Wait() error {
	<-r.done
	return r.Err()
}

// Err returns the run error once Events is closed.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the final state once Events is closed.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

// Start begins a turn. An empty threadID starts a new conversation. The
// run proceeds on its own goroutine; the caller must drain Events or
// cancel ctx, after which remaining events are discarded.
func (s *Service) Start(ctx context.Context, threadID, message string) (*Run, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	isNew := threadID == ""
	var state State
	if isNew {
		threadID = uuid.NewString()
	} else {
		loaded, found, err := flowgraph.LoadState[State](s.store, threadID)
		if err != nil {
			return nil, err
		}
		if found {
			state = loaded
		}
	}

	state = State{Messages: state.Messages}.Apply(Delta{Messages: []*schema.Message{schema.UserMessage(message)}})

	run := &Run{
		id:       uuid.NewString(),
		threadID: threadID,
		isNew:    isNew,
		events:   make(chan flowgraph.Event),
		done:     make(chan struct{}),
	}

	emit := func(ev flowgraph.Event) {
		select {
		case run.events <- ev:
		case <-ctx.Done():
		}
	}

	opts := []flowgraph.RunOption{
		flowgraph.WithCheckpointing(s.store),
		flowgraph.WithThreadID(threadID),
		flowgraph.WithMaxIterations(s.maxIterations),
		flowgraph.WithObservabilityLogger(s.logger),
	}
	if s.spans != nil {
		opts = append(opts, flowgraph.WithTracing(s.spans))
	}
	if s.metrics != nil {
		opts = append(opts, flowgraph.WithMetrics(s.metrics))
	}

	fctx := flowgraph.NewContext(ctx,
		flowgraph.WithLogger(s.logger.With("thread_id", threadID)),
		flowgraph.WithEmitter(emit),
		flowgraph.WithContextRunID(run.id),
	)

	go func() {
		final, err := s.graph.Run(fctx, state, opts...)
		if err != nil {
			s.logger.Error("conversation turn failed", "thread_id", threadID, "run_id", run.id, "error", err)
		}

		run.mu.Lock()
		run.err = err
		run.final = final
		run.mu.Unlock()

		close(run.events)
		close(run.done)
	}()

	return run, nil
}

// History returns the committed transcript of a conversation.
func (s *Service) History(threadID string) ([]*schema.Message, error) {
	state, found, err := flowgraph.LoadState[State](s.store, threadID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, checkpoint.ErrNotFound
	}
	return state.Messages, nil
}
