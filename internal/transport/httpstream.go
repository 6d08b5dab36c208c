package transport

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	mcpTransport "github.com/mark3labs/mcp-go/client/transport"

	"github.com/kagenti/mcp-hub/internal/config"
)

// newHTTPStreamClient builds a request/response JSON-RPC-over-HTTP adapter,
// grounded on the teacher's createMCPClient/NewStreamableHttpClient
// construction. WithContinuousListening keeps the connection open so
// upstream-initiated notifications (tools/list_changed) still arrive even
// though this transport has no persistent channel per call.
func newHTTPStreamClient(spec *config.UpstreamSpec) (UpstreamClient, error) {
	var opts []mcpTransport.StreamableHTTPCOption
	opts = append(opts, mcpTransport.WithContinuousListening())

	headers := make(map[string]string, len(spec.Headers)+1)
	for k, v := range spec.Headers {
		headers[k] = v
	}
	if cred := spec.Credential(); cred != "" {
		headers["Authorization"] = cred
	}
	if len(headers) > 0 {
		opts = append(opts, mcpTransport.WithHTTPHeaders(headers))
	}

	c, err := client.NewStreamableHttpClient(spec.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating http-stream client: %w", err)
	}
	if err := c.Start(context.Background()); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("starting http-stream client: %w", err)
	}
	return &mcpgoClient{name: spec.Name, c: c}, nil
}
