package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/config"
)

const (
	searchToolsName = "search_tools"
	callToolName    = "call_tool"

	defaultSearchK   = 10
	defaultThreshold = 0.7
)

// smartTools builds the two meta-tools the $smart group exposes: search_tools
// (vector search over the visible catalog) and call_tool (dispatches to any
// catalog tool visible to this scope, by upstream/tool name rather than the
// name search_tools happened to surface it under), per spec §6.
func (r *Router) smartTools(resolved access.Result, settings *config.Settings) []server.ServerTool {
	visible := r.resolveToolList(resolved, settings, true)

	return []server.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        searchToolsName,
				Description: "Search the visible tool catalog by natural-language query and return candidate tools.",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"query":     map[string]any{"type": "string"},
						"k":         map[string]any{"type": "integer"},
						"threshold": map[string]any{"type": "number"},
					},
					Required: []string{"query"},
				},
			},
			Handler: r.searchToolsHandler(visible),
		},
		{
			Tool: mcp.Tool{
				Name:        callToolName,
				Description: "Invoke a tool by upstream and tool name.",
				InputSchema: mcp.ToolInputSchema{
					Type: "object",
					Properties: map[string]any{
						"upstreamName": map[string]any{"type": "string"},
						"toolName":     map[string]any{"type": "string"},
						"arguments":    map[string]any{"type": "object"},
					},
					Required: []string{"upstreamName", "toolName"},
				},
			},
			Handler: r.callToolHandler(resolved, settings),
		},
	}
}

func (r *Router) searchToolsHandler(visible []resolvedTool) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if r.index == nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: smart routing is not configured", apierrors.ErrEmbedderUnavailable)), nil
		}
		query := req.GetString("query", "")
		if query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}
		k := req.GetInt("k", defaultSearchK)
		if k <= 0 {
			k = defaultSearchK
		}
		threshold := req.GetFloat("threshold", defaultThreshold)

		matches, err := r.index.Search(ctx, query, k, threshold)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", apierrors.ErrEmbedderUnavailable, err)), nil
		}

		descByKey := make(map[string]resolvedTool, len(visible))
		for _, e := range visible {
			descByKey[e.descriptor.UpstreamName+"/"+e.descriptor.ToolName] = e
		}

		type candidate struct {
			UpstreamName string  `json:"upstreamName"`
			ToolName     string  `json:"toolName"`
			Description  string  `json:"description"`
			Confidence   float64 `json:"confidence"`
		}
		var candidates []candidate
		for _, m := range matches {
			e, ok := descByKey[m.UpstreamName+"/"+m.ToolName]
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{
				UpstreamName: e.descriptor.UpstreamName,
				ToolName:     e.descriptor.ToolName,
				Description:  e.descriptor.Description,
				Confidence:   m.Similarity,
			})
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Confidence > candidates[j].Confidence
		})

		payload, err := json.Marshal(candidates)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encoding search results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func (r *Router) callToolHandler(resolved access.Result, settings *config.Settings) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		upstreamName := req.GetString("upstreamName", "")
		toolName := req.GetString("toolName", "")
		if upstreamName == "" || toolName == "" {
			return mcp.NewToolResultError("upstreamName and toolName are required"), nil
		}

		var ru *access.ResolvedUpstream
		for i := range resolved.Upstreams {
			if resolved.Upstreams[i].UpstreamName == upstreamName {
				ru = &resolved.Upstreams[i]
				break
			}
		}
		// Per spec §6, both "not in the catalog" and "filtered by scope"
		// collapse to a single ToolNotAllowed here, unlike the non-smart
		// tools/call path.
		if ru == nil || !ru.AllowedTools.Allows(toolName) {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s/%s", apierrors.ErrToolNotAllowed, upstreamName, toolName)), nil
		}
		var found bool
		for _, d := range r.catalog.ListByUpstream(upstreamName) {
			if d.ToolName == toolName && d.Enabled {
				found = true
				break
			}
		}
		if !found {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %s/%s", apierrors.ErrToolNotAllowed, upstreamName, toolName)), nil
		}

		arguments, _ := req.GetArguments()["arguments"].(map[string]any)
		forward := r.forwardHandler(upstreamName, toolName)
		inner := mcp.CallToolRequest{}
		inner.Params.Name = toolName
		inner.Params.Arguments = arguments
		return forward(ctx, inner)
	}
}
