package agent

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/sqlchat/pkg/config"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/sqlchat/pkg/flowgraph/errors"
	"github.com/randalmurphal/sqlchat/pkg/llm"
	"github.com/randalmurphal/sqlchat/pkg/llm/llmtest"
	"github.com/randalmurphal/sqlchat/pkg/sqlstore"
	"github.com/randalmurphal/sqlchat/pkg/tools"
)

const maxRevenueQuery = `{"query":"SELECT max(revenue) FROM sales"}`

type harness struct {
	model    *llmtest.Model
	registry *tools.Registry
	stages   *Stages
	store    *checkpoint.MemoryStore
}

func newHarness(t *testing.T, limits Limits, turns ...llmtest.Turn) *harness {
	t.Helper()

	db, err := sqlstore.Open(filepath.Join(t.TempDir(), "data.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	_, err = db.Run(ctx, `CREATE TABLE sales (state TEXT, revenue REAL)`)
	require.NoError(t, err)
	_, err = db.Run(ctx, `INSERT INTO sales VALUES ('CA', 10.5), ('NY', 20)`)
	require.NoError(t, err)

	registry := tools.NewRegistry()
	for _, tl := range tools.SQLTools(db) {
		require.NoError(t, registry.Register(ctx, tl))
	}

	m := llmtest.New(turns...)
	adapter := llm.New(m, llm.WithRetry(fgerrors.NoRetry))

	return &harness{
		model:    m,
		registry: registry,
		stages:   NewStages(adapter, registry, db.Dialect(), config.DefaultPrompts(), limits),
		store:    checkpoint.NewMemoryStore(),
	}
}

func (h *harness) service(t *testing.T, variant string) *Service {
	t.Helper()
	graph, err := BuildGraph(variant, h.stages)
	require.NoError(t, err)
	return NewService(graph, h.store)
}

func defaultLimits() Limits {
	return Limits{TopK: 5, MaxToolRounds: 3, MaxQueryAttempts: 2}
}

// drain collects every event of a run.
func drain(run *Run) []flowgraph.Event {
	var events []flowgraph.Event
	for ev := range run.Events() {
		events = append(events, ev)
	}
	return events
}

func nodeSequence(events []flowgraph.Event) []string {
	var nodes []string
	for _, ev := range events {
		if ev.Kind == flowgraph.EventNodeStart {
			nodes = append(nodes, ev.NodeID)
		}
	}
	return nodes
}

func fragments(events []flowgraph.Event) string {
	var out string
	for _, ev := range events {
		if ev.Kind == flowgraph.EventModelFragment {
			out += ev.Payload.(*schema.Message).Content
		}
	}
	return out
}

func roles(msgs []*schema.Message) []schema.RoleType {
	out := make([]schema.RoleType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func testContext() flowgraph.Context {
	return flowgraph.NewContext(context.Background())
}
