package main

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
)

// oauthProtectedResource is the discovery document spec §6's supplemented
// /.well-known/oauth-protected-resource endpoint serves, grounded on the
// teacher's cmd/mcp-broker-router/main.go OAuthProtectedResource/
// oauthProtectedResourceHandler. Verifying tokens is out of scope (§1
// Non-goals); this only advertises where a client should go to get one.
type oauthProtectedResource struct {
	ResourceName           string   `json:"resource_name"`
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported"`
}

func oauthConfigFromEnv() *oauthProtectedResource {
	cfg := &oauthProtectedResource{
		ResourceName:           "mcp-hub",
		Resource:               "/mcp",
		AuthorizationServers:   []string{},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        []string{"basic"},
	}
	if v := os.Getenv("OAUTH_RESOURCE_NAME"); v != "" {
		cfg.ResourceName = v
	}
	if v := os.Getenv("OAUTH_RESOURCE"); v != "" {
		cfg.Resource = v
	}
	if v := os.Getenv("OAUTH_AUTHORIZATION_SERVERS"); v != "" {
		cfg.AuthorizationServers = splitTrim(v)
	}
	if v := os.Getenv("OAUTH_BEARER_METHODS_SUPPORTED"); v != "" {
		cfg.BearerMethodsSupported = splitTrim(v)
	}
	if v := os.Getenv("OAUTH_SCOPES_SUPPORTED"); v != "" {
		cfg.ScopesSupported = splitTrim(v)
	}
	return cfg
}

func splitTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func oauthProtectedResourceHandler(cfg *oauthProtectedResource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(cfg)
	}
}
