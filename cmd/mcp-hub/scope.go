package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/config"
)

// parseScope decodes the path segment after /mcp/ or /sse/ into an
// access.Scope, per spec §6's "/mcp/:scope?" and "/sse/:scope?" endpoints.
// The convention is: empty -> global, "$smart" -> smart, "upstream/<name>"
// -> that upstream, "group/<name-or-id>" -> that group.
func parseScope(tail string) (access.Scope, error) {
	tail = strings.Trim(tail, "/")
	switch {
	case tail == "":
		return access.Scope{Kind: access.ScopeGlobal}, nil
	case tail == config.SmartGroupName:
		return access.Scope{Kind: access.ScopeSmart}, nil
	case strings.HasPrefix(tail, "upstream/"):
		name := strings.TrimPrefix(tail, "upstream/")
		if name == "" {
			return access.Scope{}, fmt.Errorf("empty upstream name in scope path")
		}
		return access.Scope{Kind: access.ScopeUpstream, Name: name}, nil
	case strings.HasPrefix(tail, "group/"):
		name := strings.TrimPrefix(tail, "group/")
		if name == "" {
			return access.Scope{}, fmt.Errorf("empty group name in scope path")
		}
		return access.Scope{Kind: access.ScopeGroup, Name: name}, nil
	default:
		return access.Scope{}, fmt.Errorf("unrecognized scope path %q", tail)
	}
}

// principalFromRequest extracts the calling principal. Bearer-token/OIDC
// verification is out of scope (spec §1 Non-goals: auth internals); the hub
// trusts an upstream authenticating proxy to set these headers, falling back
// to the anonymous principal for unauthenticated local use.
func principalFromRequest(r *http.Request) *config.Principal {
	id := r.Header.Get("X-Principal-Id")
	if id == "" {
		return config.AnonymousPrincipal()
	}
	return &config.Principal{
		ID:          id,
		DisplayName: r.Header.Get("X-Principal-Name"),
		IsAdmin:     r.Header.Get("X-Principal-Admin") == "true",
	}
}
