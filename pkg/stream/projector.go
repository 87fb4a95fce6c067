package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/schema"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
	"github.com/randalmurphal/sqlchat/pkg/tools"
)

// SerializationError reports a fragment of unexpected shape on the
// content path.
type SerializationError struct {
	Value any
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("Object of type %T is not correctly formatted for serialisation", e.Value)
}

// Source is a run whose events can be projected.
type Source interface {
	ThreadID() string
	IsNew() bool
	Events() <-chan flowgraph.Event
	Err() error
}

// Projector maps workflow events onto client events.
type Projector struct {
	searchTool string
	logger     *slog.Logger
}

// NewProjector creates a projector that reports calls to searchTool as
// search events.
func NewProjector(searchTool string, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{searchTool: searchTool, logger: logger}
}

// Project forwards the run's events to send as they arrive. It sends end
// only after the run finished without error. On any failure the run's
// remaining events are discarded in the background and the error is
// returned.
func (p *Projector) Project(ctx context.Context, run Source, send func(Event) error) (err error) {
	events := run.Events()
	defer func() {
		if err != nil {
			go discard(events)
		}
	}()

	if run.IsNew() {
		if err := send(Checkpoint(run.ThreadID())); err != nil {
			return err
		}
	}

	var search pendingSearch
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := run.Err(); err != nil {
					return err
				}
				return send(End())
			}
			out, err := p.project(ev, &search)
			if err != nil {
				return err
			}
			for _, e := range out {
				if err := send(e); err != nil {
					return err
				}
			}
		}
	}
}

// pendingSearch is the search call announced for the current model turn.
type pendingSearch struct {
	callID string
	open   bool
}

func (p *Projector) project(ev flowgraph.Event, search *pendingSearch) ([]Event, error) {
	switch ev.Kind {
	case flowgraph.EventModelFragment:
		chunk, ok := ev.Payload.(*schema.Message)
		if !ok || chunk == nil || (chunk.Role != schema.Assistant && chunk.Role != "") {
			return nil, &SerializationError{Value: ev.Payload}
		}
		return []Event{Content(chunk.Content)}, nil

	case flowgraph.EventModelEnd:
		msg, ok := ev.Payload.(*schema.Message)
		if !ok || msg == nil || p.searchTool == "" {
			return nil, nil
		}
		// One search_start per turn; further parallel search calls still
		// run but are not announced.
		for _, call := range msg.ToolCalls {
			if call.Function.Name != p.searchTool {
				continue
			}
			*search = pendingSearch{callID: call.ID, open: true}
			query, _ := tools.SearchQuery(call)
			return []Event{SearchStart(query)}, nil
		}
		return nil, nil

	case flowgraph.EventToolEnd:
		if p.searchTool == "" || ev.Name != p.searchTool {
			return nil, nil
		}
		if !search.open || ev.CallID != search.callID {
			return nil, nil
		}
		search.open = false
		content, _ := ev.Payload.(string)
		urls, err := tools.ResultURLs(content)
		if err != nil {
			p.logger.Warn("search output not parseable", "call_id", ev.CallID, "error", err)
			return nil, nil
		}
		return []Event{SearchResults(urls)}, nil

	default:
		return nil, nil
	}
}

func discard(events <-chan flowgraph.Event) {
	for range events {
	}
}
