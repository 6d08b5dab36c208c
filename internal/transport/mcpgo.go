package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// mcpgoClient wraps a github.com/mark3labs/mcp-go/client.Client and adapts
// it to UpstreamClient. stdio, sse, and http-stream adapters all produce one
// of these; only construction differs, following the teacher's
// createMCPClient pattern of a single initialize call shared across client
// kinds.
type mcpgoClient struct {
	name string
	c    *client.Client
}

func (a *mcpgoClient) Initialize(ctx context.Context) (*mcp.InitializeResult, error) {
	res, err := a.c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities: mcp.ClientCapabilities{
				Roots: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{ListChanged: true},
			},
			ClientInfo: mcp.Implementation{
				Name:    clientName,
				Version: clientVersion,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return res, nil
}

func (a *mcpgoClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := a.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listTools: %w", err)
	}
	return res.Tools, nil
}

func (a *mcpgoClient) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments
	res, err := a.c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("callTool %s: %w", name, err)
	}
	return res, nil
}

func (a *mcpgoClient) Ping(ctx context.Context) error {
	if err := a.c.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", a.name, err)
	}
	return nil
}

func (a *mcpgoClient) Close() error {
	return a.c.Close()
}

func (a *mcpgoClient) OnToolsChanged(cb func()) {
	a.c.OnNotification(func(notification mcp.JSONRPCNotification) {
		if notification.Method == "notifications/tools/list_changed" {
			cb()
		}
	})
}
