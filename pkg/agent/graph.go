package agent

import (
	"fmt"

	"github.com/randalmurphal/sqlchat/pkg/config"
	"github.com/randalmurphal/sqlchat/pkg/flowgraph"
	"github.com/randalmurphal/sqlchat/pkg/llm"
	"github.com/randalmurphal/sqlchat/pkg/tools"
)

// Node identifiers.
const (
	NodeIntentDetection = "intent_detection"
	NodeListTables      = "list_tables"
	NodeCallGetSchema   = "call_get_schema"
	NodeGetSchema       = "get_schema"
	NodeGenerateQuery   = "generate_query"
	NodeCheckQuery      = "check_query"
	NodeRunQuery        = "run_query"
	NodeDataExtraction  = "data_extraction"
	NodeValidate        = "validate"
	NodeModel           = "model"
)

// BuildGraph compiles the named workflow variant.
func BuildGraph(variant string, st *Stages) (*flowgraph.CompiledGraph[State], error) {
	switch variant {
	case config.VariantLinear:
		return BuildLinear(st)
	case config.VariantGuarded:
		return BuildGuarded(st)
	default:
		return nil, fmt.Errorf("unknown workflow variant %q", variant)
	}
}

// BuildLinear compiles intent_detection → generate_query → data_extraction
// → validate.
func BuildLinear(st *Stages) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		AddNode(NodeIntentDetection, Stage(NodeIntentDetection, st.IntentDetection)).
		AddNode(NodeGenerateQuery, Stage(NodeGenerateQuery, st.GenerateQuery)).
		AddNode(NodeDataExtraction, Stage(NodeDataExtraction, st.DataExtraction)).
		AddNode(NodeValidate, Stage(NodeValidate, st.Validate)).
		AddEdge(NodeIntentDetection, NodeGenerateQuery).
		AddEdge(NodeGenerateQuery, NodeDataExtraction).
		AddEdge(NodeDataExtraction, NodeValidate).
		AddEdge(NodeValidate, flowgraph.END).
		SetEntry(NodeIntentDetection).
		Compile()
}

// BuildGuarded compiles the variant with schema discovery and a reviewed
// query loop. Summary requests go straight to the model.
func BuildGuarded(st *Stages) (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		AddNode(NodeIntentDetection, Stage(NodeIntentDetection, st.IntentDetection)).
		AddNode(NodeModel, Stage(NodeModel, st.DirectModel)).
		AddNode(NodeListTables, Stage(NodeListTables, st.ListTables)).
		AddNode(NodeCallGetSchema, Stage(NodeCallGetSchema, st.CallGetSchema)).
		AddNode(NodeGetSchema, Stage(NodeGetSchema, st.ToolNode(tools.SchemaName))).
		AddNode(NodeGenerateQuery, Stage(NodeGenerateQuery, st.DraftQuery)).
		AddNode(NodeCheckQuery, Stage(NodeCheckQuery, st.CheckQuery)).
		AddNode(NodeRunQuery, Stage(NodeRunQuery, st.ToolNode(tools.QueryName))).
		AddNode(NodeDataExtraction, Stage(NodeDataExtraction, st.DataExtraction)).
		AddNode(NodeValidate, Stage(NodeValidate, st.Validate)).
		AddConditionalEdge(NodeIntentDetection, RouteIntent, NodeModel, NodeListTables).
		AddEdge(NodeModel, flowgraph.END).
		AddEdge(NodeListTables, NodeCallGetSchema).
		AddEdge(NodeCallGetSchema, NodeGetSchema).
		AddEdge(NodeGetSchema, NodeGenerateQuery).
		AddConditionalEdge(NodeGenerateQuery, RouteQuery, NodeCheckQuery, NodeDataExtraction).
		AddEdge(NodeCheckQuery, NodeRunQuery).
		AddEdge(NodeRunQuery, NodeGenerateQuery).
		AddEdge(NodeDataExtraction, NodeValidate).
		AddEdge(NodeValidate, flowgraph.END).
		SetEntry(NodeIntentDetection).
		Compile()
}

// RouteIntent sends summary requests to the model and questions to schema
// discovery.
func RouteIntent(_ flowgraph.Context, s State) string {
	if s.Intent == IntentSummarize {
		return NodeModel
	}
	return NodeListTables
}

// RouteQuery reviews a pending query call, otherwise moves on to extraction.
func RouteQuery(_ flowgraph.Context, s State) string {
	if llm.HasToolCalls(s.Last()) {
		return NodeCheckQuery
	}
	return NodeDataExtraction
}
