package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/randalmurphal/sqlchat/pkg/config"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
	"github.com/randalmurphal/sqlchat/pkg/llm"
	"github.com/randalmurphal/sqlchat/pkg/tools"
)

// ListTablesCallID identifies the synthetic list-tables call.
const ListTablesCallID = "list_tables_call"

// ErrNoToolCalls is returned by a tool stage reached without a pending call.
var ErrNoToolCalls = errors.New("last message has no tool calls")

// StageFunc computes a stage's additions to the state.
type StageFunc func(ctx flowgraph.Context, s State) (Delta, error)

// Stage adapts fn to a graph node. A stage must add at least one message.
func Stage(name string, fn StageFunc) flowgraph.NodeFunc[State] {
	return func(ctx flowgraph.Context, s State) (State, error) {
		d, err := fn(ctx, s)
		if err != nil {
			return s, err
		}
		if len(d.Messages) == 0 {
			return s, fmt.Errorf("%s: %w", name, ErrEmptyDelta)
		}
		return s.Apply(d), nil
	}
}

// Model invokes the chat model.
type Model interface {
	Invoke(ctx context.Context, history []*schema.Message, req llm.Request) (*schema.Message, error)
}

// Tools executes tool calls.
type Tools interface {
	Infos(names ...string) ([]*schema.ToolInfo, error)
	Invoke(ctx context.Context, call schema.ToolCall, obs tools.Observer) (*schema.Message, error)
}

// Limits bounds the tool-using stages.
type Limits struct {
	// TopK is the row limit suggested to the model.
	TopK int
	// MaxToolRounds caps model turns that may call tools within one stage.
	MaxToolRounds int
	// MaxQueryAttempts caps query reviews per turn in the guarded variant.
	MaxQueryAttempts int
}

// Stages holds the dependencies of every stage function.
type Stages struct {
	model   Model
	tools   Tools
	dialect string
	prompts config.Prompts
	limits  Limits
	search  string
}

// NewStages wires the stage functions.
func NewStages(model Model, registry Tools, dialect string, prompts config.Prompts, limits Limits) *Stages {
	if limits.TopK < 1 {
		limits.TopK = 5
	}
	if limits.MaxToolRounds < 1 {
		limits.MaxToolRounds = 1
	}
	if limits.MaxQueryAttempts < 1 {
		limits.MaxQueryAttempts = 1
	}
	return &Stages{model: model, tools: registry, dialect: dialect, prompts: prompts, limits: limits}
}

// IntentDetection classifies the latest message. A summary request is
// rewritten into a summarization instruction; anything else gets a
// routing notice.
func (st *Stages) IntentDetection(ctx flowgraph.Context, s State) (Delta, error) {
	last := s.Last()
	if last == nil {
		return Delta{}, fmt.Errorf("intent detection: empty conversation")
	}

	intent := DetectIntent(last.Content)
	if intent == IntentSummarize {
		text, err := render(ctx, st.prompts.Summarize, map[string]any{"additional_user_query": last.Content})
		if err != nil {
			return Delta{}, err
		}
		return Delta{Messages: []*schema.Message{schema.UserMessage(text)}, Intent: intent}, nil
	}
	return Delta{Messages: []*schema.Message{schema.AssistantMessage(st.prompts.IntentNotice, nil)}, Intent: intent}, nil
}

// ListTables calls the list-tables tool directly, without the model.
func (st *Stages) ListTables(ctx flowgraph.Context, _ State) (Delta, error) {
	call := schema.ToolCall{
		ID:       ListTablesCallID,
		Type:     "function",
		Function: schema.FunctionCall{Name: tools.ListTablesName, Arguments: "{}"},
	}
	result, err := st.tools.Invoke(ctx, call, runObserver{ctx: ctx})
	if err != nil {
		return Delta{}, err
	}
	summary, err := render(ctx, st.prompts.ListTablesSummary, map[string]any{"tables": result.Content})
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: []*schema.Message{
		schema.AssistantMessage("", []schema.ToolCall{call}),
		result,
		schema.AssistantMessage(summary, nil),
	}}, nil
}

// CallGetSchema forces the model to request the schema tool.
func (st *Stages) CallGetSchema(ctx flowgraph.Context, s State) (Delta, error) {
	infos, err := st.tools.Infos(tools.SchemaName)
	if err != nil {
		return Delta{}, err
	}
	msg, err := st.model.Invoke(ctx, s.Messages, llm.Request{
		Tools:    infos,
		Force:    llm.ForceAny,
		Observer: runObserver{ctx: ctx},
	})
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: []*schema.Message{msg}}, nil
}

// ToolNode executes every call on the last message, answering calls
// outside allowed with an error message.
func (st *Stages) ToolNode(allowed ...string) StageFunc {
	return func(ctx flowgraph.Context, s State) (Delta, error) {
		last := s.Last()
		if !llm.HasToolCalls(last) {
			return Delta{}, ErrNoToolCalls
		}
		var out []*schema.Message
		for _, call := range last.ToolCalls {
			msg, err := st.invokeAllowed(ctx, call, allowed)
			if err != nil {
				return Delta{}, err
			}
			out = append(out, msg)
		}
		return Delta{Messages: out}, nil
	}
}

// GenerateQuery lets the model query the database until it answers.
func (st *Stages) GenerateQuery(ctx flowgraph.Context, s State) (Delta, error) {
	instruction, err := st.queryInstruction(ctx, st.prompts.GenerateQuery)
	if err != nil {
		return Delta{}, err
	}
	msgs, err := st.react(ctx, s, instruction, tools.QueryName)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: msgs}, nil
}

// DraftQuery is the single-shot query step of the guarded variant. The
// graph drives the loop; once the review budget is spent the model is
// called without tools so the loop ends.
func (st *Stages) DraftQuery(ctx flowgraph.Context, s State) (Delta, error) {
	instruction, err := st.queryInstruction(ctx, st.prompts.GenerateQuery)
	if err != nil {
		return Delta{}, err
	}

	req := llm.Request{Observer: runObserver{ctx: ctx}}
	if s.QueryAttempts < st.limits.MaxQueryAttempts {
		if req.Tools, err = st.tools.Infos(tools.QueryName); err != nil {
			return Delta{}, err
		}
	}

	msg, err := st.model.Invoke(ctx, withInstruction(instruction, s.Messages), req)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: []*schema.Message{msg}}, nil
}

// CheckQuery has the model review the drafted query in isolation. The
// draft's calls are closed with tool messages and the reviewed call is
// appended, so the transcript stays append-only.
func (st *Stages) CheckQuery(ctx flowgraph.Context, s State) (Delta, error) {
	last := s.Last()
	if !llm.HasToolCalls(last) {
		return Delta{}, ErrNoToolCalls
	}

	instruction, err := render(ctx, st.prompts.CheckQuery, map[string]any{"dialect": st.dialect})
	if err != nil {
		return Delta{}, err
	}
	draft := last.ToolCalls[0]
	query, ok := tools.QueryArgument(draft)
	if !ok {
		query = draft.Function.Arguments
	}

	infos, err := st.tools.Infos(tools.QueryName)
	if err != nil {
		return Delta{}, err
	}
	reviewed, err := st.model.Invoke(ctx,
		[]*schema.Message{schema.SystemMessage(instruction), schema.UserMessage(query)},
		llm.Request{Tools: infos, Force: llm.ForceAny, Observer: runObserver{ctx: ctx}},
	)
	if err != nil {
		return Delta{}, err
	}

	msgs := make([]*schema.Message, 0, len(last.ToolCalls)+1)
	for _, call := range last.ToolCalls {
		closed := schema.ToolMessage("Query submitted for review.", call.ID)
		closed.ToolName = call.Function.Name
		msgs = append(msgs, closed)
	}
	msgs = append(msgs, reviewed)
	return Delta{Messages: msgs, CountAttempt: true}, nil
}

// DataExtraction retrieves the rows that answer the question.
func (st *Stages) DataExtraction(ctx flowgraph.Context, s State) (Delta, error) {
	instruction, err := st.queryInstruction(ctx, st.prompts.DataExtraction)
	if err != nil {
		return Delta{}, err
	}
	msgs, err := st.react(ctx, s, instruction, tools.QueryName)
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: msgs}, nil
}

// Validate writes the final answer from the transcript, without tools.
func (st *Stages) Validate(ctx flowgraph.Context, s State) (Delta, error) {
	msg, err := st.model.Invoke(ctx, withInstruction(st.prompts.ValidateAnswer, s.Messages),
		llm.Request{Observer: runObserver{ctx: ctx}})
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: []*schema.Message{msg}}, nil
}

// EnableSearch offers the named web search tool to DirectModel.
func (st *Stages) EnableSearch(name string) {
	st.search = name
}

// DirectModel answers from the transcript, searching the web when a
// search tool is enabled.
func (st *Stages) DirectModel(ctx flowgraph.Context, s State) (Delta, error) {
	if st.search != "" {
		msgs, err := st.react(ctx, s, "", st.search)
		if err != nil {
			return Delta{}, err
		}
		return Delta{Messages: msgs}, nil
	}

	msg, err := st.model.Invoke(ctx, s.Messages, llm.Request{Observer: runObserver{ctx: ctx}})
	if err != nil {
		return Delta{}, err
	}
	return Delta{Messages: []*schema.Message{msg}}, nil
}

// react alternates model turns and tool execution until the model answers
// without a tool call. After MaxToolRounds tool turns the model is called
// without tools, and any calls it still makes are dropped from the reply.
// A non-empty instruction is sent as a system prefix and is not part of
// the returned messages.
func (st *Stages) react(ctx flowgraph.Context, s State, instruction string, allowed ...string) ([]*schema.Message, error) {
	infos, err := st.tools.Infos(allowed...)
	if err != nil {
		return nil, err
	}
	obs := runObserver{ctx: ctx}

	var added []*schema.Message
	for round := 0; ; round++ {
		req := llm.Request{Observer: obs}
		if round < st.limits.MaxToolRounds {
			req.Tools = infos
		}

		history := withInstruction(instruction, s.Messages, added...)
		msg, err := st.model.Invoke(ctx, history, req)
		if err != nil {
			return nil, err
		}
		if req.Tools == nil {
			return append(added, withoutToolCalls(msg)), nil
		}
		added = append(added, msg)

		if !llm.HasToolCalls(msg) {
			return added, nil
		}
		for _, call := range msg.ToolCalls {
			result, err := st.invokeAllowed(ctx, call, allowed)
			if err != nil {
				return nil, err
			}
			added = append(added, result)
		}
	}
}

// withoutToolCalls returns msg with its tool calls removed. Calls left
// unanswered would make the transcript invalid for later model turns.
func withoutToolCalls(msg *schema.Message) *schema.Message {
	if !llm.HasToolCalls(msg) {
		return msg
	}
	stripped := *msg
	stripped.ToolCalls = nil
	return &stripped
}

func (st *Stages) invokeAllowed(ctx flowgraph.Context, call schema.ToolCall, allowed []string) (*schema.Message, error) {
	for _, name := range allowed {
		if call.Function.Name == name {
			return st.tools.Invoke(ctx, call, runObserver{ctx: ctx})
		}
	}
	msg := schema.ToolMessage(
		fmt.Sprintf("Error: %s is not a valid tool, try one of %v.", call.Function.Name, allowed),
		call.ID,
	)
	msg.ToolName = call.Function.Name
	return msg, nil
}

func (st *Stages) queryInstruction(ctx context.Context, tmpl string) (string, error) {
	return render(ctx, tmpl, map[string]any{"dialect": st.dialect, "top_k": st.limits.TopK})
}

func withInstruction(instruction string, history []*schema.Message, more ...*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+len(more)+1)
	if instruction != "" {
		out = append(out, schema.SystemMessage(instruction))
	}
	out = append(out, history...)
	return append(out, more...)
}

// render fills a {name} template.
func render(ctx context.Context, tmpl string, vars map[string]any) (string, error) {
	msgs, err := prompt.FromMessages(schema.FString, schema.SystemMessage(tmpl)).Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return msgs[0].Content, nil
}
