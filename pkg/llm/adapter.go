// Package llm invokes a tool-calling chat model on behalf of workflow stages.
//
// The Adapter binds an optional tool set, optionally forces a tool call,
// streams fragments to an Observer, and retries transient provider failures.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	fgerrors "github.com/randalmurphal/sqlchat/pkg/flowgraph/errors"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/observability"
)

// ForceAny forces a call to any of the offered tools.
const ForceAny = "any"

var (
	// ErrEmptyResponse indicates the model stream closed without a fragment.
	ErrEmptyResponse = errors.New("model returned no message")

	// ErrInvalidRequest indicates a Request that cannot be satisfied as given.
	ErrInvalidRequest = errors.New("invalid model request")
)

// ToolChoiceError reports a forced invocation the model did not honour.
type ToolChoiceError struct {
	Force string
	Got   []string
}

func (e *ToolChoiceError) Error() string {
	if len(e.Got) == 0 {
		return fmt.Sprintf("model ignored forced tool %q: no tool call returned", e.Force)
	}
	return fmt.Sprintf("model ignored forced tool %q: called %s", e.Force, strings.Join(e.Got, ", "))
}

// Observer receives a streamed model turn.
type Observer interface {
	// OnFragment is called for each non-empty text fragment, in order.
	OnFragment(chunk *schema.Message)
	// OnTurnEnd is called once with the completed message.
	OnTurnEnd(msg *schema.Message)
}

// Request describes one model invocation.
type Request struct {
	// Tools offered to the model. Empty means a plain completion.
	Tools []*schema.ToolInfo
	// Force is empty, ForceAny, or the name of one offered tool.
	Force string
	// Observer switches the call to streaming when set.
	Observer Observer
}

// Adapter wraps a ToolCallingChatModel.
type Adapter struct {
	model   model.ToolCallingChatModel
	retry   fgerrors.RetryConfig
	logger  *slog.Logger
	spans   observability.SpanManager
	metrics observability.MetricsRecorder
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRetry sets the retry policy for transient provider errors.
func WithRetry(cfg fgerrors.RetryConfig) Option {
	return func(a *Adapter) { a.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTracing records a span per invocation.
func WithTracing(spans observability.SpanManager) Option {
	return func(a *Adapter) {
		if spans != nil {
			a.spans = spans
		}
	}
}

// WithMetrics records invocation counts and latency.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(a *Adapter) {
		if metrics != nil {
			a.metrics = metrics
		}
	}
}

// New creates an Adapter for m.
func New(m model.ToolCallingChatModel, opts ...Option) *Adapter {
	a := &Adapter{
		model:   m,
		retry:   fgerrors.DefaultRetry,
		logger:  slog.Default(),
		spans:   observability.NoopSpanManager{},
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Invoke sends history to the model and returns its single reply.
//
// When req.Force is set the reply is guaranteed to carry at least one tool
// call, each naming an offered tool; otherwise a *ToolChoiceError is returned.
func (a *Adapter) Invoke(ctx context.Context, history []*schema.Message, req Request) (msg *schema.Message, err error) {
	elapsed := observability.TimedOperation()
	streamed := req.Observer != nil

	ctx, span := a.spans.StartModelSpan(ctx, len(req.Tools), req.Force)
	defer func() {
		a.spans.EndSpanWithError(span, err)
		a.metrics.RecordModelInvocation(ctx, streamed, elapsed(), err)
	}()

	bound, allowed, err := a.bind(req)
	if err != nil {
		return nil, err
	}

	var opts []model.Option
	if req.Force != "" {
		opts = append(opts, model.WithToolChoice(schema.ToolChoiceForced))
	}

	if streamed {
		msg, err = a.stream(ctx, bound, history, opts, req.Observer)
	} else {
		msg, err = a.generate(ctx, bound, history, opts)
	}
	if err != nil {
		return nil, err
	}

	if req.Force != "" {
		if err := checkForced(msg, allowed, req.Force); err != nil {
			return nil, err
		}
	}

	observability.LogModelCall(a.logger, observability.Millis(elapsed()), len(msg.ToolCalls), streamed)
	return msg, nil
}

// bind returns the model to call and the names it may invoke.
func (a *Adapter) bind(req Request) (model.BaseChatModel, map[string]bool, error) {
	tools := req.Tools
	if req.Force != "" && req.Force != ForceAny {
		tools = nil
		for _, info := range req.Tools {
			if info.Name == req.Force {
				tools = []*schema.ToolInfo{info}
				break
			}
		}
		if tools == nil {
			return nil, nil, fmt.Errorf("%w: forced tool %q is not offered", ErrInvalidRequest, req.Force)
		}
	}

	if len(tools) == 0 {
		if req.Force != "" {
			return nil, nil, fmt.Errorf("%w: tool call forced with no tools", ErrInvalidRequest)
		}
		return a.model, nil, nil
	}

	allowed := make(map[string]bool, len(tools))
	for _, info := range tools {
		allowed[info.Name] = true
	}

	bound, err := a.model.WithTools(tools)
	if err != nil {
		return nil, nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, allowed, nil
}

func (a *Adapter) generate(ctx context.Context, m model.BaseChatModel, history []*schema.Message, opts []model.Option) (*schema.Message, error) {
	result := fgerrors.WithRetryContext(ctx, a.retry, func(ctx context.Context) (*schema.Message, error) {
		msg, err := m.Generate(ctx, history, opts...)
		if err == nil && msg == nil {
			return nil, fgerrors.Transient(ErrEmptyResponse, "generate")
		}
		return msg, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("generate: %w", result.Err)
	}
	return result.Value, nil
}

// stream forwards text fragments as they arrive and concatenates the turn.
func (a *Adapter) stream(ctx context.Context, m model.BaseChatModel, history []*schema.Message, opts []model.Option, obs Observer) (*schema.Message, error) {
	result := fgerrors.WithRetryContext(ctx, a.retry, func(ctx context.Context) (*schema.StreamReader[*schema.Message], error) {
		return m.Stream(ctx, history, opts...)
	})
	if result.Err != nil {
		return nil, fmt.Errorf("stream: %w", result.Err)
	}
	sr := result.Value
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream recv: %w", err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			obs.OnFragment(chunk)
		}
	}

	if len(chunks) == 0 {
		return nil, ErrEmptyResponse
	}

	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("concat stream: %w", err)
	}
	obs.OnTurnEnd(msg)
	return msg, nil
}

func checkForced(msg *schema.Message, allowed map[string]bool, force string) error {
	if len(msg.ToolCalls) == 0 {
		return &ToolChoiceError{Force: force}
	}
	for _, call := range msg.ToolCalls {
		if !allowed[call.Function.Name] {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, c := range msg.ToolCalls {
				names = append(names, c.Function.Name)
			}
			return &ToolChoiceError{Force: force, Got: names}
		}
	}
	return nil
}

// HasToolCalls reports whether msg requests any tool invocation.
func HasToolCalls(msg *schema.Message) bool {
	return msg != nil && len(msg.ToolCalls) > 0
}
