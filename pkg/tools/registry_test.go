package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct {
	name string
	out  string
	err  error
	args []string
}

func (s *stubTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: s.name, Desc: s.name}, nil
}

func (s *stubTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	s.args = append(s.args, args)
	return s.out, s.err
}

type observed struct {
	starts []string
	ends   []string
}

func (o *observed) OnToolStart(call schema.ToolCall) { o.starts = append(o.starts, call.ID) }
func (o *observed) OnToolEnd(call schema.ToolCall, msg *schema.Message) {
	o.ends = append(o.ends, call.ID+":"+msg.Content)
}

func call(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func TestRegistry_RegisterAndInfos(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, &stubTool{name: "b"}))
	require.NoError(t, r.Register(ctx, &stubTool{name: "a"}))

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))

	all, err := r.Infos()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Name)

	one, err := r.Infos("a")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "a", one[0].Name)

	_, err = r.Infos("missing")
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing", cfgErr.Tool)
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, &stubTool{name: "a"}))
	assert.Error(t, r.Register(ctx, &stubTool{name: "a"}))
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	ctx := context.Background()
	stub := &stubTool{name: "echo", out: "pong"}
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, stub))
	obs := &observed{}

	msg, err := r.Invoke(ctx, call("c1", "echo", `{"x":1}`), obs)

	require.NoError(t, err)
	assert.Equal(t, schema.Tool, msg.Role)
	assert.Equal(t, "pong", msg.Content)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, "echo", msg.ToolName)
	assert.Equal(t, []string{`{"x":1}`}, stub.args)
	assert.Equal(t, []string{"c1"}, obs.starts)
	assert.Equal(t, []string{"c1:pong"}, obs.ends)
}

func TestRegistry_InvokeEmptyArgumentsBecomeObject(t *testing.T) {
	ctx := context.Background()
	stub := &stubTool{name: "echo"}
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, stub))

	_, err := r.Invoke(ctx, call("c1", "echo", ""), nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"{}"}, stub.args)
}

func TestRegistry_InvokeFailureBecomesContent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register(ctx, &stubTool{name: "broken", err: errors.New("no such column: revnue")}))

	msg, err := r.Invoke(ctx, call("c9", "broken", "{}"), nil)

	require.NoError(t, err)
	assert.Equal(t, "Error: no such column: revnue", msg.Content)
	assert.Equal(t, "c9", msg.ToolCallID)
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	obs := &observed{}

	msg, err := r.Invoke(context.Background(), call("c1", "nope", "{}"), obs)

	assert.Nil(t, msg)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "nope", cfgErr.Tool)
	assert.Empty(t, obs.starts)
}

func TestToolExecutionError(t *testing.T) {
	inner := errors.New("boom")
	err := &ToolExecutionError{Tool: "t", CallID: "c", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "Error: boom", err.Content())
	assert.Contains(t, err.Error(), "tool t (call c)")
}
