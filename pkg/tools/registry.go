// Package tools invokes named capabilities on behalf of the model.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
)

// Observer is notified around each tool execution.
type Observer interface {
	OnToolStart(call schema.ToolCall)
	OnToolEnd(call schema.ToolCall, result *schema.Message)
}

// Registry is a fixed set of tools addressable by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
	order []string

	logger  *slog.Logger
	spans   observability.SpanManager
	metrics observability.MetricsRecorder
}

type entry struct {
	info *schema.ToolInfo
	impl tool.InvokableTool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracing records a span per tool call.
func WithTracing(spans observability.SpanManager) Option {
	return func(r *Registry) {
		if spans != nil {
			r.spans = spans
		}
	}
}

// WithMetrics records invocation counts and latency.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tools:   make(map[string]entry),
		logger:  slog.Default(),
		spans:   observability.NoopSpanManager{},
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds t under the name reported by its Info.
func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info: empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool %q already registered", info.Name)
	}
	r.tools[info.Name] = entry{info: info, impl: t}
	r.order = append(r.order, info.Name)
	return nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Infos returns the specs for names, in the order given. With no names it
// returns every tool in registration order.
func (r *Registry) Infos(names ...string) ([]*schema.ToolInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = r.order
	}
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			return nil, &ConfigurationError{Tool: name}
		}
		infos = append(infos, e.info)
	}
	return infos, nil
}

// Invoke executes call and returns the Tool message answering it.
//
// An unregistered name returns a *ConfigurationError. A capability failure
// does not: it becomes the message content so the model can react to it.
func (r *Registry) Invoke(ctx context.Context, call schema.ToolCall, obs Observer) (*schema.Message, error) {
	name := call.Function.Name

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{Tool: name}
	}

	if obs != nil {
		obs.OnToolStart(call)
	}

	elapsed := observability.TimedOperation()
	spanCtx, span := r.spans.StartToolSpan(ctx, name, call.ID)

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}
	output, err := e.impl.InvokableRun(spanCtx, args)

	duration := elapsed()
	r.spans.EndSpanWithError(span, err)
	r.metrics.RecordToolInvocation(ctx, name, duration, err)

	content := output
	if err != nil {
		execErr := &ToolExecutionError{Tool: name, CallID: call.ID, Err: err}
		observability.LogToolError(r.logger, name, call.ID, execErr)
		content = execErr.Content()
	} else {
		observability.LogToolCall(r.logger, name, call.ID, observability.Millis(duration))
	}

	msg := schema.ToolMessage(content, call.ID)
	msg.ToolName = name

	if obs != nil {
		obs.OnToolEnd(call, msg)
	}
	return msg, nil
}
