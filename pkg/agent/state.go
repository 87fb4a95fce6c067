// Package agent implements the SQL conversation workflow: its state, the
// stages that extend it, the graph variants that sequence them, and the
// Service that runs one turn of a conversation.
package agent

import (
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Intents set by the intent detection stage.
const (
	IntentQnA       = "qna"
	IntentSummarize = "summarize"
)

// ErrEmptyDelta is returned when a stage produces no message.
var ErrEmptyDelta = errors.New("stage produced no messages")

// State is the conversation carried through a run and checkpointed between
// turns. Messages is append-only.
type State struct {
	Messages []*schema.Message `json:"messages"`
	Intent   string            `json:"intent,omitempty"`

	// QueryAttempts counts query reviews in the current turn.
	QueryAttempts int `json:"query_attempts,omitempty"`
}

// Delta is what a stage adds to the State.
type Delta struct {
	Messages []*schema.Message
	// Intent replaces the current intent when non-empty.
	Intent string
	// CountAttempt increments QueryAttempts.
	CountAttempt bool
}

// Apply returns s extended by d. The receiver's message slice is not shared
// with the result.
func (s State) Apply(d Delta) State {
	msgs := make([]*schema.Message, 0, len(s.Messages)+len(d.Messages))
	msgs = append(msgs, s.Messages...)
	msgs = append(msgs, d.Messages...)

	out := State{Messages: msgs, Intent: s.Intent, QueryAttempts: s.QueryAttempts}
	if d.Intent != "" {
		out.Intent = d.Intent
	}
	if d.CountAttempt {
		out.QueryAttempts++
	}
	return out
}

// Last returns the most recent message, or nil.
func (s State) Last() *schema.Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}

// DetectIntent classifies a user message.
func DetectIntent(text string) string {
	if strings.Contains(strings.ToLower(text), "summarize") {
		return IntentSummarize
	}
	return IntentQnA
}
