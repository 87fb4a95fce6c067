package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
)

const searchName = "tavily_search_results_json"

type fakeRun struct {
	id     string
	isNew  bool
	events chan flowgraph.Event
	err    error
}

func newFakeRun(isNew bool, err error, events ...flowgraph.Event) *fakeRun {
	ch := make(chan flowgraph.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &fakeRun{id: "thread-1", isNew: isNew, events: ch, err: err}
}

func (r *fakeRun) ThreadID() string               { return r.id }
func (r *fakeRun) IsNew() bool                    { return r.isNew }
func (r *fakeRun) Events() <-chan flowgraph.Event { return r.events }
func (r *fakeRun) Err() error                     { return r.err }

func fragment(text string) flowgraph.Event {
	return flowgraph.Event{Kind: flowgraph.EventModelFragment, Payload: &schema.Message{Role: schema.Assistant, Content: text}}
}

func collect(t *testing.T, p *Projector, run Source) ([]Event, error) {
	t.Helper()
	var got []Event
	err := p.Project(context.Background(), run, func(e Event) error {
		got = append(got, e)
		return nil
	})
	return got, err
}

func TestProject_NewConversation(t *testing.T) {
	run := newFakeRun(true, nil,
		flowgraph.Event{Kind: flowgraph.EventNodeStart, NodeID: "model"},
		fragment("Hello"),
		fragment(" there"),
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("Hello there", nil)},
		flowgraph.Event{Kind: flowgraph.EventNodeEnd, NodeID: "model"},
	)

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)

	want := []Event{Checkpoint("thread-1"), Content("Hello"), Content(" there"), End()}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_ContinuedConversationHasNoCheckpoint(t *testing.T) {
	run := newFakeRun(false, nil, fragment("ok"))

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)
	assert.Equal(t, []Event{Content("ok"), End()}, got)
}

func TestProject_SearchEvents(t *testing.T) {
	call := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"weather in Paris"}`}}
	other := schema.ToolCall{ID: "c2", Function: schema.FunctionCall{Name: "sql_db_query", Arguments: `{"query":"SELECT 1"}`}}

	run := newFakeRun(false, nil,
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("", []schema.ToolCall{call, other})},
		flowgraph.Event{Kind: flowgraph.EventToolStart, Name: searchName, CallID: "c1", Payload: call.Function.Arguments},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, CallID: "c1",
			Payload: `[{"url":"https://a"},{"title":"no url"},{"url":"https://b"}]`},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: "sql_db_query", CallID: "c2", Payload: "[(1,)]"},
		fragment("Sunny."),
	)

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)

	want := []Event{
		SearchStart("weather in Paris"),
		SearchResults([]string{"https://a", "https://b"}),
		Content("Sunny."),
		End(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_OneSearchStartPerTurn(t *testing.T) {
	paris := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"weather in Paris"}`}}
	rome := schema.ToolCall{ID: "c2", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"weather in Rome"}`}}

	run := newFakeRun(false, nil,
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("", []schema.ToolCall{paris, rome})},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, CallID: "c1", Payload: `[{"url":"https://paris"}]`},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, CallID: "c2", Payload: `[{"url":"https://rome"}]`},
		fragment("Mild in both."),
	)

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)

	want := []Event{
		SearchStart("weather in Paris"),
		SearchResults([]string{"https://paris"}),
		Content("Mild in both."),
		End(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestProject_SearchResultsSkipNonObjects(t *testing.T) {
	call := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"q"}`}}
	run := newFakeRun(false, nil,
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("", []schema.ToolCall{call})},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, CallID: "c1",
			Payload: `[{"url":"a.com"},"stray string",{"title":"no url"},{"url":"b.com"}]`},
	)

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)
	assert.Equal(t, []Event{SearchStart("q"), SearchResults([]string{"a.com", "b.com"}), End()}, got)
}

func TestProject_UnparseableSearchOutputIsSkipped(t *testing.T) {
	call := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"q"}`}}
	run := newFakeRun(false, nil,
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("", []schema.ToolCall{call})},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, CallID: "c1", Payload: "Error: boom"},
	)

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.NoError(t, err)
	assert.Equal(t, []Event{SearchStart("q"), End()}, got)
}

func TestProject_SearchDisabled(t *testing.T) {
	call := schema.ToolCall{ID: "c1", Function: schema.FunctionCall{Name: searchName, Arguments: `{"query":"x"}`}}
	run := newFakeRun(false, nil,
		flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: schema.AssistantMessage("", []schema.ToolCall{call})},
		flowgraph.Event{Kind: flowgraph.EventToolEnd, Name: searchName, Payload: `[{"url":"https://a"}]`},
	)

	got, err := collect(t, NewProjector("", nil), run)
	require.NoError(t, err)
	assert.Equal(t, []Event{End()}, got)
}

func TestProject_FailedRunHasNoEnd(t *testing.T) {
	boom := errors.New("model unavailable")
	run := newFakeRun(true, boom, fragment("partial"))

	got, err := collect(t, NewProjector(searchName, nil), run)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []Event{Checkpoint("thread-1"), Content("partial")}, got)
}

func TestProject_SerializationError(t *testing.T) {
	tests := []struct {
		name    string
		payload any
	}{
		{"string payload", "text"},
		{"tool message", schema.ToolMessage("rows", "c1")},
		{"nil payload", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := newFakeRun(false, nil,
				fragment("first"),
				flowgraph.Event{Kind: flowgraph.EventModelFragment, Payload: tt.payload},
				fragment("never sent"),
			)

			got, err := collect(t, NewProjector(searchName, nil), run)
			var serr *SerializationError
			require.ErrorAs(t, err, &serr)
			assert.Contains(t, serr.Error(), "is not correctly formatted for serialisation")
			assert.Equal(t, []Event{Content("first")}, got)
		})
	}
}

func TestProject_SendFailureStopsProjection(t *testing.T) {
	events := make(chan flowgraph.Event)
	run := &fakeRun{id: "t", events: events}
	gone := errors.New("client gone")

	done := make(chan error, 1)
	go func() {
		done <- NewProjector(searchName, nil).Project(context.Background(), run, func(Event) error { return gone })
	}()

	events <- fragment("a")
	// The producer is never blocked once the consumer stops.
	events <- fragment("b")
	events <- fragment("c")
	close(events)

	assert.ErrorIs(t, <-done, gone)
}

func TestProject_ContextCancelled(t *testing.T) {
	run := &fakeRun{id: "t", events: make(chan flowgraph.Event)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewProjector(searchName, nil).Project(ctx, run, func(Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFrame(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"checkpoint", Checkpoint("abc"), "data: {\"type\":\"checkpoint\",\"checkpoint_id\":\"abc\"}\n\n"},
		{"content", Content("a <b> & ü"), "data: {\"type\":\"content\",\"content\":\"a <b> & ü\"}\n\n"},
		{"search start", SearchStart("weather in Paris"), "data: {\"type\":\"search_start\",\"query\":\"weather in Paris\"}\n\n"},
		{"search results", SearchResults([]string{"https://a"}), "data: {\"type\":\"search_results\",\"urls\":[\"https://a\"]}\n\n"},
		{"empty results", SearchResults(nil), "data: {\"type\":\"search_results\",\"urls\":[]}\n\n"},
		{"end", End(), "data: {\"type\":\"end\"}\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Frame(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestFrame_UnknownType(t *testing.T) {
	_, err := Frame(Event{Type: "bogus"})
	assert.Error(t, err)
}
