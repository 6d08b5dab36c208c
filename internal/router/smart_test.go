package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/config"
)

func TestSmartToolsSchemaMatchesSpec(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	tools := r.smartTools(access.Result{IsSmart: true}, &config.Settings{})
	require.Len(t, tools, 2)

	search := tools[0]
	require.Equal(t, searchToolsName, search.Tool.Name)
	require.Contains(t, search.Tool.InputSchema.Properties, "query")
	require.Contains(t, search.Tool.InputSchema.Properties, "k")
	require.Contains(t, search.Tool.InputSchema.Properties, "threshold")
	require.Equal(t, []string{"query"}, search.Tool.InputSchema.Required)

	call := tools[1]
	require.Equal(t, callToolName, call.Tool.Name)
	require.Contains(t, call.Tool.InputSchema.Properties, "upstreamName")
	require.Contains(t, call.Tool.InputSchema.Properties, "toolName")
	require.Contains(t, call.Tool.InputSchema.Properties, "arguments")
	require.ElementsMatch(t, []string{"upstreamName", "toolName"}, call.Tool.InputSchema.Required)
}

func TestSearchToolsDefaults(t *testing.T) {
	require.Equal(t, 10, defaultSearchK)
	require.Equal(t, 0.7, defaultThreshold)
}

func TestSearchToolsHandlerRequiresEmbedderWhenIndexNil(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	handler := r.searchToolsHandler(nil)
	res, err := handler(context.Background(), mcpCallReq(map[string]any{"query": "weather"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, toolResultText(res), apierrors.ErrEmbedderUnavailable.Error())
}

func TestCallToolHandlerRejectsUpstreamOutOfScope(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	resolved := access.Result{Upstreams: []access.ResolvedUpstream{{UpstreamName: "a"}}}
	handler := r.callToolHandler(resolved, &config.Settings{})

	res, err := handler(context.Background(), mcpCallReq(map[string]any{"upstreamName": "b", "toolName": "ping"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, toolResultText(res), apierrors.ErrToolNotAllowed.Error())
}

func TestCallToolHandlerRejectsFilteredTool(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	resolved := access.Result{Upstreams: []access.ResolvedUpstream{
		{UpstreamName: "a", AllowedTools: access.AllowedTools{Allowed: map[string]bool{"ping": true}}},
	}}
	handler := r.callToolHandler(resolved, &config.Settings{})

	res, err := handler(context.Background(), mcpCallReq(map[string]any{"upstreamName": "a", "toolName": "nuke"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, toolResultText(res), apierrors.ErrToolNotAllowed.Error())
}

func TestCallToolHandlerRequiresBothNames(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	handler := r.callToolHandler(access.Result{}, &config.Settings{})

	res, err := handler(context.Background(), mcpCallReq(map[string]any{"upstreamName": "a"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}
