package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/mark3labs/mcp-go/mcp"
)

// DefaultSearchName is the name the model sees for the web search tool.
const DefaultSearchName = "tavily_search_results_json"

// MCPClient is the subset of an MCP client used by SearchTool.
type MCPClient interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// SearchConfig selects the remote tool and the name it is exposed under.
type SearchConfig struct {
	// Name offered to the model. Defaults to DefaultSearchName.
	Name string
	// RemoteTool is the tool name on the MCP server.
	RemoteTool string
}

// SearchTool exposes an MCP server's search tool. Its output is always a
// JSON array of result objects.
type SearchTool struct {
	client MCPClient
	name   string
	remote string
	desc   string
	params *schema.ParamsOneOf
}

// NewSearchTool looks up cfg.RemoteTool on the server and wraps it.
func NewSearchTool(ctx context.Context, c MCPClient, cfg SearchConfig) (*SearchTool, error) {
	if cfg.RemoteTool == "" {
		return nil, fmt.Errorf("search: remote tool name is required")
	}
	name := cfg.Name
	if name == "" {
		name = DefaultSearchName
	}

	resp, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("search: list tools: %w", err)
	}

	for _, remote := range resp.Tools {
		if remote.Name != cfg.RemoteTool {
			continue
		}
		params, err := convertInputSchema(remote.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("search: %s: %w", remote.Name, err)
		}
		desc := remote.Description
		if desc == "" {
			desc = "Search the web. Input should be a search query."
		}
		return &SearchTool{client: c, name: name, remote: remote.Name, desc: desc, params: params}, nil
	}
	return nil, fmt.Errorf("search: tool %q not offered by MCP server", cfg.RemoteTool)
}

// Info implements tool.BaseTool.
func (t *SearchTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: t.desc, ParamsOneOf: t.params}, nil
}

// InvokableRun implements tool.InvokableTool.
func (t *SearchTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.remote
	req.Params.Arguments = args

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call %s: %w", t.remote, err)
	}

	text := contentText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("mcp tool %s: %s", t.remote, text)
	}
	return normalizeResults(text)
}

// Name is the name the model calls this tool by.
func (t *SearchTool) Name() string {
	return t.name
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// normalizeResults turns search output into a JSON array. Accepted shapes are
// a bare array, an object with a "results" array, or plain text.
func normalizeResults(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "[]", nil
	}

	var list []json.RawMessage
	if err := json.Unmarshal([]byte(text), &list); err == nil {
		return text, nil
	}

	var wrapped struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &wrapped); err == nil && wrapped.Results != nil {
		out, err := json.Marshal(wrapped.Results)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}

	out, err := json.Marshal([]map[string]string{{"content": text}})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// SearchQuery extracts the query argument of a search call.
func SearchQuery(call schema.ToolCall) (string, bool) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || args.Query == "" {
		return "", false
	}
	return args.Query, true
}

// ResultURLs returns the url field of each result object in a search tool
// output, in order. Entries that are not objects or have no url are
// skipped; only output that is not a JSON array is an error.
func ResultURLs(content string) ([]string, error) {
	var results []json.RawMessage
	if err := json.Unmarshal([]byte(content), &results); err != nil {
		return nil, fmt.Errorf("search results: %w", err)
	}
	urls := make([]string, 0, len(results))
	for _, raw := range results {
		var r map[string]any
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if u, ok := r["url"].(string); ok && u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// convertInputSchema maps an MCP input schema onto eino params through
// an OpenAPI v3 schema. Missing types default to object at the root and
// string for properties.
func convertInputSchema(in mcp.ToolInputSchema) (*schema.ParamsOneOf, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}

	if _, ok := m["type"]; !ok {
		if _, ok := m["anyOf"]; !ok {
			m["type"] = "object"
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		for _, p := range props {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := pm["type"]; !ok {
				if _, ok := pm["anyOf"]; !ok {
					pm["type"] = "string"
				}
			}
		}
	}

	fixed, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal fixed schema: %w", err)
	}

	var s openapi3.Schema
	if err := json.Unmarshal(fixed, &s); err != nil {
		return nil, fmt.Errorf("decode openapi schema: %w", err)
	}
	return schema.NewParamsOneOfByOpenAPIV3(&s), nil
}

var _ tool.InvokableTool = (*SearchTool)(nil)
