package flowgraph

import "fmt"

// EventKind identifies a run event. The set is closed; consumers should
// ignore kinds they do not handle.
type EventKind int

const (
	// EventNodeStart is emitted by the engine before a node runs.
	EventNodeStart EventKind = iota + 1
	// EventNodeEnd is emitted by the engine after a node returns without error.
	EventNodeEnd
	// EventModelFragment carries one streamed fragment of a model turn.
	EventModelFragment
	// EventModelEnd carries the completed model message.
	EventModelEnd
	// EventToolStart is emitted before a tool call executes.
	EventToolStart
	// EventToolEnd carries the tool's output.
	EventToolEnd
)

func (k EventKind) String() string {
	switch k {
	case EventNodeStart:
		return "node_start"
	case EventNodeEnd:
		return "node_end"
	case EventModelFragment:
		return "model_fragment"
	case EventModelEnd:
		return "model_end"
	case EventToolStart:
		return "tool_start"
	case EventToolEnd:
		return "tool_end"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one observation from a running graph.
type Event struct {
	Kind   EventKind
	RunID  string
	NodeID string

	// Name is the tool name for tool events.
	Name string
	// CallID is the tool call identifier for tool events.
	CallID string

	// Payload depends on Kind: the fragment or completed message for model
	// events, the argument JSON for EventToolStart, the output for EventToolEnd.
	Payload any
}

// Emitter receives run events. It is called synchronously from the node
// that produced the event.
type Emitter func(Event)
