// Package transport provides the four Upstream Client adapter variants
// (stdio, sse, http-stream, openapi) behind one uniform contract, per the
// hub's C2 component.
package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/config"
)

// UpstreamClient is the uniform contract every transport adapter variant
// implements, mirroring the teacher's createMCPClient/discoverTools call
// shape over github.com/mark3labs/mcp-go/client.
type UpstreamClient interface {
	// Initialize performs the MCP handshake and returns the upstream's
	// reported server info and capabilities.
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)
	// ListTools returns the upstream's currently advertised tools.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool forwards a tool invocation verbatim and returns its result.
	CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error)
	// Ping checks liveness; the supervisor's keep-alive calls it for every kind.
	Ping(ctx context.Context) error
	// Close releases the underlying transport (child process, HTTP
	// connection, SSE stream).
	Close() error
	// OnToolsChanged registers a callback invoked when the upstream emits
	// notifications/tools/list_changed. The openapi adapter has no
	// notification channel and never calls it.
	OnToolsChanged(cb func())
}

// Dial constructs the appropriate adapter for spec's kind, performs
// Initialize, and returns both the live client and its InitializeResult so
// the caller (the upstream supervisor) never has to special-case kinds
// itself — the switch lives here, once, the way spec §4.C2 describes a
// "tagged union whose discriminator is kind".
func Dial(ctx context.Context, spec *config.UpstreamSpec) (UpstreamClient, *mcp.InitializeResult, error) {
	var (
		c   UpstreamClient
		err error
	)
	switch spec.Kind {
	case config.KindStdio:
		c, err = newStdioClient(spec)
	case config.KindSSE:
		c, err = newSSEClient(spec)
	case config.KindHTTPStream:
		c, err = newHTTPStreamClient(spec)
	case config.KindOpenAPI:
		c, err = newOpenAPIClient(ctx, spec)
	default:
		return nil, nil, fmt.Errorf("unsupported upstream kind %q", spec.Kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("constructing %s client for %q: %w", spec.Kind, spec.Name, err)
	}

	initResult, err := c.Initialize(ctx)
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("initializing %q: %w", spec.Name, err)
	}
	return c, initResult, nil
}

const clientName = "mcp-hub"

// clientName and clientVersion form the Implementation block every adapter
// reports to its upstream, mirroring the teacher's createMCPClient clientName/version pair.
var clientVersion = "0.1.0"
