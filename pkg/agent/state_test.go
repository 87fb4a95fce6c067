package agent

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
)

func TestState_ApplyAppends(t *testing.T) {
	first := schema.UserMessage("hi")
	s := State{Messages: []*schema.Message{first}, Intent: IntentQnA}

	next := s.Apply(Delta{Messages: []*schema.Message{schema.AssistantMessage("hello", nil)}})

	require.Len(t, next.Messages, 2)
	assert.Same(t, first, next.Messages[0])
	assert.Equal(t, IntentQnA, next.Intent, "empty delta intent keeps the current one")
	assert.Len(t, s.Messages, 1, "receiver is unchanged")

	next = next.Apply(Delta{Messages: []*schema.Message{schema.UserMessage("x")}, Intent: IntentSummarize, CountAttempt: true})
	assert.Equal(t, IntentSummarize, next.Intent)
	assert.Equal(t, 1, next.QueryAttempts)
	assert.Equal(t, "x", next.Last().Content)
}

func TestState_ApplyDoesNotAlias(t *testing.T) {
	base := State{Messages: make([]*schema.Message, 1, 4)}
	base.Messages[0] = schema.UserMessage("q")

	a := base.Apply(Delta{Messages: []*schema.Message{schema.AssistantMessage("a", nil)}})
	b := base.Apply(Delta{Messages: []*schema.Message{schema.AssistantMessage("b", nil)}})

	assert.Equal(t, "a", a.Last().Content)
	assert.Equal(t, "b", b.Last().Content)
}

func TestState_Last(t *testing.T) {
	assert.Nil(t, State{}.Last())
}

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{text: "Summarize the dataset", want: IntentSummarize},
		{text: "please SUMMARIZE sales", want: IntentSummarize},
		{text: "can you summarize?", want: IntentSummarize},
		{text: "What is the max revenue?", want: IntentQnA},
		{text: "", want: IntentQnA},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectIntent(tt.text))
		})
	}
}

func TestStage_RejectsEmptyDelta(t *testing.T) {
	node := Stage("noop", func(_ flowgraph.Context, _ State) (Delta, error) {
		return Delta{Intent: IntentQnA}, nil
	})

	s := State{Messages: []*schema.Message{schema.UserMessage("q")}}
	out, err := node(testContext(), s)

	assert.ErrorIs(t, err, ErrEmptyDelta)
	assert.ErrorContains(t, err, "noop")
	assert.Equal(t, s, out)
}
