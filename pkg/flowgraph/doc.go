/*
Package flowgraph runs typed state through a directed graph of nodes.

A graph is built with NewGraph, validated by Compile, and executed with
CompiledGraph.Run. Execution follows a single cursor: one node runs at a
time, its returned state is what the next node observes, and the run stops
when the cursor reaches END.

# Basic Usage

	graph := flowgraph.NewGraph[State]().
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Input: "hello"})

# Conditional Branching

A conditional edge names the closed set of nodes its router may select.
Compile checks the set, and Run rejects anything outside it:

	graph.AddConditionalEdge("review", func(ctx flowgraph.Context, s State) string {
	    if s.Approved {
	        return flowgraph.END
	    }
	    return "revise"
	}, "revise", flowgraph.END)

# Threads and Checkpoints

Conversation-style workloads keep one state per thread. LoadState restores
the last committed state for a thread; Run with WithCheckpointing and
WithThreadID commits the final state once the cursor reaches END. A failed
run commits nothing, so the next run resumes from the last clean state.

# Run Events

Nodes publish progress through Context.Emit. The events are delivered to the
Emitter installed with WithEmitter, stamped with the run and node ids. The
engine itself emits EventNodeStart and EventNodeEnd.
*/
package flowgraph
