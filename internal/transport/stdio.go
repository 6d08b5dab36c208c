package transport

import (
	"fmt"

	"github.com/mark3labs/mcp-go/client"

	"github.com/kagenti/mcp-hub/internal/config"
)

// newStdioClient spawns spec.Command with spec.Args/spec.Env and wires its
// stdin/stdout to MCP framing, per spec §4.C2's stdio adapter. Standard
// error is captured by the mcp-go client itself and surfaced through
// transport errors rather than tagged into a separate log sink, since the
// supervisor (C3) already logs with the upstream name attached.
func newStdioClient(spec *config.UpstreamSpec) (UpstreamClient, error) {
	env := make([]string, 0, len(spec.Env)+1)
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if cred := spec.Credential(); cred != "" && spec.CredentialEnvVar != "" {
		env = append(env, fmt.Sprintf("%s=%s", spec.CredentialEnvVar, cred))
	}

	c, err := client.NewStdioMCPClient(spec.Command, env, spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("spawning stdio upstream: %w", err)
	}
	return &mcpgoClient{name: spec.Name, c: c}, nil
}
