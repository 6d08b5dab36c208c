package transport

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/tests/server2"
)

// TestHTTPStreamClientAgainstLiveFixture drives the http-stream adapter
// against a real upstream MCP server (internal/tests/server2, the pack's own
// basics.mdx-derived fixture) instead of a mock, exercising Dial/ListTools/
// CallTool end to end the way the teacher's own e2e suite drives its test
// servers.
func TestHTTPStreamClientAgainstLiveFixture(t *testing.T) {
	const port = "18199"
	start, shutdown, err := server2.RunServer("http", port)
	require.NoError(t, err)

	go func() {
		_ = start()
	}()
	t.Cleanup(func() { _ = shutdown() })

	spec := &config.UpstreamSpec{
		Name:    "server2-fixture",
		Kind:    config.KindHTTPStream,
		Enabled: true,
		URL:     "http://localhost:" + port + "/mcp",
	}

	var client UpstreamClient
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		c, _, dialErr := Dial(ctx, spec)
		if dialErr != nil {
			return false
		}
		client = c
		return true
	}, 5*time.Second, 50*time.Millisecond, "server2 fixture never became reachable")
	require.NotNil(t, client)
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	require.Contains(t, names, "hello_world")
	require.Contains(t, names, "time")

	res, err := client.CallTool(ctx, "hello_world", map[string]any{"name": "Hub"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.IsType(t, mcp.TextContent{}, res.Content[0])
	require.Equal(t, "Hello, Hub!", res.Content[0].(mcp.TextContent).Text)
}
