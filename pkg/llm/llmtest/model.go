// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrScriptExhausted is returned when the model is called more often than scripted.
var ErrScriptExhausted = errors.New("llmtest: no scripted turns left")

// Turn is one scripted reply.
type Turn struct {
	Message *schema.Message
	Err     error
}

// Call records one Generate or Stream invocation.
type Call struct {
	History  []*schema.Message
	Tools    []string
	Streamed bool
	Options  int
}

// Model replays scripted turns in order. Copies returned by WithTools share
// the script and the call log.
type Model struct {
	shared *script
	tools  []*schema.ToolInfo
}

type script struct {
	mu    sync.Mutex
	turns []Turn
	calls []Call
}

// New creates a Model that returns turns in order.
func New(turns ...Turn) *Model {
	return &Model{shared: &script{turns: turns}}
}

// Reply is a Turn carrying an assistant text message.
func Reply(content string) Turn {
	return Turn{Message: schema.AssistantMessage(content, nil)}
}

// ToolCall is a Turn carrying a single tool call.
func ToolCall(id, name, args string) Turn {
	return Turn{Message: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: args},
	}})}
}

// Fail is a Turn returning err.
func Fail(err error) Turn {
	return Turn{Err: err}
}

// Push appends turns to the script.
func (m *Model) Push(turns ...Turn) {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.turns = append(m.shared.turns, turns...)
}

// Calls returns the recorded invocations.
func (m *Model) Calls() []Call {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	out := make([]Call, len(m.shared.calls))
	copy(out, m.shared.calls)
	return out
}

// Remaining returns the number of unused turns.
func (m *Model) Remaining() int {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	return len(m.shared.turns)
}

// Generate implements model.BaseChatModel.
func (m *Model) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := m.next(input, false, len(opts))
	if err != nil {
		return nil, err
	}
	return turn.Message, nil
}

// Stream implements model.BaseChatModel. Content is split into word
// fragments; tool calls arrive in the final chunk.
func (m *Model) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	turn, err := m.next(input, true, len(opts))
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray(Fragments(turn.Message)), nil
}

// WithTools implements model.ToolCallingChatModel.
func (m *Model) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &Model{shared: m.shared, tools: tools}, nil
}

func (m *Model) next(input []*schema.Message, streamed bool, opts int) (Turn, error) {
	s := m.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]*schema.Message, len(input))
	copy(history, input)
	names := make([]string, 0, len(m.tools))
	for _, t := range m.tools {
		names = append(names, t.Name)
	}
	s.calls = append(s.calls, Call{History: history, Tools: names, Streamed: streamed, Options: opts})

	if len(s.turns) == 0 {
		return Turn{}, ErrScriptExhausted
	}
	turn := s.turns[0]
	s.turns = s.turns[1:]
	if turn.Err != nil {
		return Turn{}, turn.Err
	}
	return turn, nil
}

// Fragments splits msg into the chunks a streaming provider would send.
func Fragments(msg *schema.Message) []*schema.Message {
	var chunks []*schema.Message
	rest := msg.Content
	for rest != "" {
		i := strings.IndexByte(rest, ' ')
		var word string
		if i < 0 {
			word, rest = rest, ""
		} else {
			word, rest = rest[:i+1], rest[i+1:]
		}
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: word})
	}
	if len(msg.ToolCalls) > 0 || len(chunks) == 0 {
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, ToolCalls: msg.ToolCalls})
	}
	return chunks
}

var _ model.ToolCallingChatModel = (*Model)(nil)
