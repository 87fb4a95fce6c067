package flowgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRun_LinearFlow tests a simple linear graph execution.
func TestRun_LinearFlow(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("inc1", increment).
		AddNode("inc2", increment).
		AddNode("inc3", increment).
		AddEdge("inc1", "inc2").
		AddEdge("inc2", "inc3").
		AddEdge("inc3", END).
		SetEntry("inc1").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{Value: 0})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Value)
}

// TestRun_ConditionalEdge tests both router branches.
func TestRun_ConditionalEdge(t *testing.T) {
	var tracker []string
	router := func(ctx Context, s State) string {
		if s.GoLeft {
			return "left"
		}
		return "right"
	}

	compiled, err := NewGraph[State]().
		AddNode("start", makeTrackingNode("start", &tracker)).
		AddNode("left", makeTrackingNode("left", &tracker)).
		AddNode("right", makeTrackingNode("right", &tracker)).
		AddConditionalEdge("start", router, "left", "right").
		AddEdge("left", END).
		AddEdge("right", END).
		SetEntry("start").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{GoLeft: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "left"}, result.Progress)

	result, err = compiled.Run(testCtx(), State{GoLeft: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "right"}, result.Progress)
}

// TestRun_Loop tests a loop that exits through the router.
func TestRun_Loop(t *testing.T) {
	router := func(ctx Context, s Counter) string {
		if s.Value >= 5 {
			return END
		}
		return "loop"
	}

	compiled, err := NewGraph[Counter]().
		AddNode("loop", increment).
		AddConditionalEdge("loop", router, "loop", END).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{})

	require.NoError(t, err)
	assert.Equal(t, 5, result.Value)
}

// TestRun_NodeError_WrapsWithNodeID tests error wrapping and state preservation.
func TestRun_NodeError_WrapsWithNodeID(t *testing.T) {
	var tracker []string
	underlying := errors.New("database down")

	compiled, err := NewGraph[State]().
		AddNode("first", makeTrackingNode("first", &tracker)).
		AddNode("fail", makeFailingNode(underlying)).
		AddNode("never", makeTrackingNode("never", &tracker)).
		AddEdge("first", "fail").
		AddEdge("fail", "never").
		AddEdge("never", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), State{})

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "fail", nodeErr.NodeID)
	assert.Equal(t, "execute", nodeErr.Op)
	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, []string{"first"}, result.Progress)
	assert.Equal(t, []string{"first"}, tracker)
}

// TestRun_PanicRecovery tests that panics become PanicError.
func TestRun_PanicRecovery(t *testing.T) {
	compiled, err := NewGraph[State]().
		AddNode("crash", makePanicNode("nil map")).
		AddEdge("crash", END).
		SetEntry("crash").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), State{})

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "crash", panicErr.NodeID)
	assert.Equal(t, "nil map", panicErr.Value)
	assert.NotEmpty(t, panicErr.Stack)
}

// TestRun_CancellationBetweenNodes tests cancellation checks before each node.
func TestRun_CancellationBetweenNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	compiled, err := NewGraph[Counter]().
		AddNode("first", func(fctx Context, s Counter) (Counter, error) {
			cancel()
			s.Value++
			return s, nil
		}).
		AddNode("second", increment).
		AddEdge("first", "second").
		AddEdge("second", END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(NewContext(ctx), Counter{})

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "second", cancelErr.NodeID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Value)
}

// TestRun_MaxIterations_PreventsInfiniteLoop tests the iteration guard.
func TestRun_MaxIterations_PreventsInfiniteLoop(t *testing.T) {
	router := func(ctx Context, s Counter) string {
		if s.Value < 0 {
			return END
		}
		return "loop"
	}

	compiled, err := NewGraph[Counter]().
		AddNode("loop", increment).
		AddConditionalEdge("loop", router, "loop", END).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Run(testCtx(), Counter{}, WithMaxIterations(10))

	var maxErr *MaxIterationsError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 10, maxErr.Max)
	assert.Equal(t, "loop", maxErr.LastNodeID)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 10, result.Value)
}

func TestRun_MaxIterations_DefaultValue(t *testing.T) {
	assert.Equal(t, 100, defaultRunConfig().maxIterations)
}

func TestRun_NilContext_Error(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("a", increment).
		AddEdge("a", END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(nil, Counter{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestRun_RouterErrors(t *testing.T) {
	tests := []struct {
		name     string
		returned string
		want     error
	}{
		{"empty", "", ErrInvalidRouterResult},
		{"undeclared existing node", "other", ErrRouterTargetUndeclared},
		{"unknown node", "ghost", ErrRouterTargetUndeclared},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := NewGraph[Counter]().
				AddNode("route", increment).
				AddNode("next", increment).
				AddNode("other", increment).
				AddConditionalEdge("route", func(Context, Counter) string { return tt.returned }, "next", END).
				AddEdge("next", END).
				AddEdge("other", END).
				SetEntry("route").
				Compile()
			require.NoError(t, err)

			_, err = compiled.Run(testCtx(), Counter{})

			var routerErr *RouterError
			require.ErrorAs(t, err, &routerErr)
			assert.Equal(t, "route", routerErr.FromNode)
			assert.Equal(t, tt.returned, routerErr.Returned)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestRun_ContextPropagated tests node context metadata.
func TestRun_ContextPropagated(t *testing.T) {
	var gotRunID, gotNodeID string
	compiled, err := NewGraph[Counter]().
		AddNode("inspect", func(ctx Context, s Counter) (Counter, error) {
			gotRunID = ctx.RunID()
			gotNodeID = ctx.NodeID()
			assert.NotNil(t, ctx.Logger())
			return s, nil
		}).
		AddEdge("inspect", END).
		SetEntry("inspect").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background(), WithContextRunID("run-42")), Counter{})

	require.NoError(t, err)
	assert.Equal(t, "run-42", gotRunID)
	assert.Equal(t, "inspect", gotNodeID)
}

// TestRun_NodeLoggerCarriesIDs tests the node logger is tagged with the run and node.
func TestRun_NodeLoggerCarriesIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	compiled, err := NewGraph[Counter]().
		AddNode("speak", func(ctx Context, s Counter) (Counter, error) {
			ctx.Logger().Info("hello")
			return s, nil
		}).
		AddEdge("speak", END).
		SetEntry("speak").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithLogger(logger), WithContextRunID("run-7"))
	_, err = compiled.Run(ctx, Counter{})
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "run-7", rec["run_id"])
	assert.Equal(t, "speak", rec["node_id"])
}

// TestRun_EventsEmitted tests engine and node events reach the emitter in order.
func TestRun_EventsEmitted(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	emitter := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	compiled, err := NewGraph[Counter]().
		AddNode("call", func(ctx Context, s Counter) (Counter, error) {
			ctx.Emit(Event{Kind: EventToolStart, Name: "sql_db_query", CallID: "c1", Payload: `{"query":"SELECT 1"}`})
			ctx.Emit(Event{Kind: EventToolEnd, Name: "sql_db_query", CallID: "c1", Payload: "[(1,)]"})
			return s, nil
		}).
		AddEdge("call", END).
		SetEntry("call").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithContextRunID("run-1"), WithEmitter(emitter))
	_, err = compiled.Run(ctx, Counter{})
	require.NoError(t, err)

	require.Len(t, events, 4)
	kinds := []EventKind{events[0].Kind, events[1].Kind, events[2].Kind, events[3].Kind}
	assert.Equal(t, []EventKind{EventNodeStart, EventToolStart, EventToolEnd, EventNodeEnd}, kinds)
	for _, ev := range events {
		assert.Equal(t, "run-1", ev.RunID)
		assert.Equal(t, "call", ev.NodeID)
	}
	assert.Equal(t, "[(1,)]", events[2].Payload)
}

// TestRun_FailedNodeEmitsNoNodeEnd tests the end event only follows success.
func TestRun_FailedNodeEmitsNoNodeEnd(t *testing.T) {
	var kinds []EventKind
	compiled, err := NewGraph[State]().
		AddNode("fail", makeFailingNode(errors.New("boom"))).
		AddEdge("fail", END).
		SetEntry("fail").
		Compile()
	require.NoError(t, err)

	ctx := NewContext(context.Background(), WithEmitter(func(ev Event) { kinds = append(kinds, ev.Kind) }))
	_, err = compiled.Run(ctx, State{})

	require.Error(t, err)
	assert.Equal(t, []EventKind{EventNodeStart}, kinds)
}

func TestRun_EmitWithoutEmitterIsNoop(t *testing.T) {
	ctx := NewContext(context.Background())
	assert.NotPanics(t, func() {
		ctx.Emit(Event{Kind: EventModelFragment, Payload: "x"})
	})
}

// TestRun_InitialStateNotMutated tests value semantics of state.
func TestRun_InitialStateNotMutated(t *testing.T) {
	compiled, err := NewGraph[Counter]().
		AddNode("inc", increment).
		AddEdge("inc", END).
		SetEntry("inc").
		Compile()
	require.NoError(t, err)

	initial := Counter{Value: 10}
	result, err := compiled.Run(testCtx(), initial)

	require.NoError(t, err)
	assert.Equal(t, 10, initial.Value)
	assert.Equal(t, 11, result.Value)
}

func TestRun_Timeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	compiled, err := NewGraph[Counter]().
		AddNode("slow", func(ctx Context, s Counter) (Counter, error) {
			select {
			case <-ctx.Done():
				return s, ctx.Err()
			case <-time.After(time.Second):
				return s, nil
			}
		}).
		AddEdge("slow", END).
		SetEntry("slow").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(ctx), Counter{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "model_fragment", EventModelFragment.String())
	assert.Equal(t, "tool_end", EventToolEnd.String())
	assert.Equal(t, "event(42)", EventKind(42).String())
}
