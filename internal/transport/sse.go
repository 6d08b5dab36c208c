package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	mcpTransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/kagenti/mcp-hub/internal/config"
)

// newSSEClient opens an SSE stream to spec.URL, posting client→server
// messages to the sibling "messages" endpoint the mcp-go SSE transport
// manages internally, per spec §4.C2's sse adapter.
func newSSEClient(spec *config.UpstreamSpec) (UpstreamClient, error) {
	opts := headerOptions(spec)
	c, err := client.NewSSEMCPClient(spec.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sse client: %w", err)
	}
	if err := c.Start(context.Background()); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("starting sse client: %w", err)
	}
	return &mcpgoClient{name: spec.Name, c: c}, nil
}

func headerOptions(spec *config.UpstreamSpec) []mcpTransport.ClientOption {
	headers := make(map[string]string, len(spec.Headers)+1)
	for k, v := range spec.Headers {
		headers[k] = v
	}
	if cred := spec.Credential(); cred != "" {
		headers["Authorization"] = cred
	}
	if len(headers) == 0 {
		return nil
	}
	return []mcpTransport.ClientOption{mcpTransport.WithHeaders(headers)}
}
