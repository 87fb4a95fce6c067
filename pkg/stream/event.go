// Package stream projects workflow run events onto the client event
// vocabulary.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type tags a client event.
type Type string

const (
	TypeCheckpoint    Type = "checkpoint"
	TypeContent       Type = "content"
	TypeSearchStart   Type = "search_start"
	TypeSearchResults Type = "search_results"
	TypeEnd           Type = "end"
)

// Event is one client notification. Only the field belonging to Type is
// serialized.
type Event struct {
	Type         Type
	CheckpointID string
	Content      string
	Query        string
	URLs         []string
}

func Checkpoint(id string) Event        { return Event{Type: TypeCheckpoint, CheckpointID: id} }
func Content(text string) Event         { return Event{Type: TypeContent, Content: text} }
func SearchStart(query string) Event    { return Event{Type: TypeSearchStart, Query: query} }
func SearchResults(urls []string) Event { return Event{Type: TypeSearchResults, URLs: urls} }
func End() Event                        { return Event{Type: TypeEnd} }

// MarshalJSON renders the event with its type-specific field.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeCheckpoint:
		return encode(struct {
			Type         Type   `json:"type"`
			CheckpointID string `json:"checkpoint_id"`
		}{e.Type, e.CheckpointID})
	case TypeContent:
		return encode(struct {
			Type    Type   `json:"type"`
			Content string `json:"content"`
		}{e.Type, e.Content})
	case TypeSearchStart:
		return encode(struct {
			Type  Type   `json:"type"`
			Query string `json:"query"`
		}{e.Type, e.Query})
	case TypeSearchResults:
		urls := e.URLs
		if urls == nil {
			urls = []string{}
		}
		return encode(struct {
			Type Type     `json:"type"`
			URLs []string `json:"urls"`
		}{e.Type, urls})
	case TypeEnd:
		return encode(struct {
			Type Type `json:"type"`
		}{e.Type})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON reads any client event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         Type     `json:"type"`
		CheckpointID string   `json:"checkpoint_id"`
		Content      string   `json:"content"`
		Query        string   `json:"query"`
		URLs         []string `json:"urls"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{Type: raw.Type, CheckpointID: raw.CheckpointID, Content: raw.Content, Query: raw.Query, URLs: raw.URLs}
	return nil
}

// Encode returns the event's JSON payload. Non-ASCII text is kept as is.
func Encode(e Event) ([]byte, error) {
	return e.MarshalJSON()
}

// Frame returns the event as an SSE data frame: "data: <json>\n\n".
func Frame(e Event) ([]byte, error) {
	payload, err := Encode(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, "\n\n"...), nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
