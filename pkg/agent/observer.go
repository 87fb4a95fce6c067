package agent

import (
	"github.com/cloudwego/eino/schema"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
)

// runObserver forwards model and tool activity to the run's emitter.
type runObserver struct {
	ctx flowgraph.Context
}

func (o runObserver) OnFragment(chunk *schema.Message) {
	o.ctx.Emit(flowgraph.Event{Kind: flowgraph.EventModelFragment, Payload: chunk})
}

func (o runObserver) OnTurnEnd(msg *schema.Message) {
	o.ctx.Emit(flowgraph.Event{Kind: flowgraph.EventModelEnd, Payload: msg})
}

func (o runObserver) OnToolStart(call schema.ToolCall) {
	o.ctx.Emit(flowgraph.Event{
		Kind:    flowgraph.EventToolStart,
		Name:    call.Function.Name,
		CallID:  call.ID,
		Payload: call.Function.Arguments,
	})
}

func (o runObserver) OnToolEnd(call schema.ToolCall, result *schema.Message) {
	o.ctx.Emit(flowgraph.Event{
		Kind:    flowgraph.EventToolEnd,
		Name:    call.Function.Name,
		CallID:  call.ID,
		Payload: result.Content,
	})
}
