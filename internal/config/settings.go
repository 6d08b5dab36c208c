// Package config holds the hub's authoritative configuration: the set of
// declared upstream MCP servers, the named groups that curate subsets of
// them, and the system flags that govern routing.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/credentials"
)

// UpstreamKind is the transport family an upstream is reached over.
type UpstreamKind string

const (
	// KindStdio spawns a child process and speaks MCP over its stdin/stdout.
	KindStdio UpstreamKind = "stdio"
	// KindSSE opens a server-sent-events stream plus a sibling POST endpoint.
	KindSSE UpstreamKind = "sse"
	// KindHTTPStream speaks request/response (optionally chunked) JSON-RPC over HTTP.
	KindHTTPStream UpstreamKind = "http-stream"
	// KindOpenAPI synthesizes MCP tools from an OpenAPI document.
	KindOpenAPI UpstreamKind = "openapi"
)

// ToolOverlay is the operator-supplied overlay for a single upstream tool.
type ToolOverlay struct {
	// Enabled defaults to true when nil; see Catalog overlay rules.
	Enabled             *bool  `json:"enabled,omitempty"             yaml:"enabled,omitempty"`
	DescriptionOverride string `json:"descriptionOverride,omitempty" yaml:"descriptionOverride,omitempty"`
}

// IsEnabled reports whether the overlay allows the tool through.
func (o *ToolOverlay) IsEnabled() bool {
	if o == nil || o.Enabled == nil {
		return true
	}
	return *o.Enabled
}

// OpenAPISecurity describes how the openapi adapter authenticates outbound calls.
type OpenAPISecurity struct {
	Type             string `json:"type,omitempty"             yaml:"type,omitempty"` // apiKey | bearer | basic | none
	In               string `json:"in,omitempty"               yaml:"in,omitempty"`    // header | query, for apiKey
	Name             string `json:"name,omitempty"              yaml:"name,omitempty"`
	CredentialEnvVar string `json:"credentialEnvVar,omitempty" yaml:"credentialEnvVar,omitempty"`
}

// UpstreamSpec is the declarative, operator-authored description of one upstream.
type UpstreamSpec struct {
	Name    string       `json:"name"              yaml:"name"`
	Kind    UpstreamKind `json:"kind"              yaml:"kind"`
	Enabled bool         `json:"enabled"           yaml:"enabled"`

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty"    yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"     yaml:"env,omitempty"`

	// sse / http-stream
	URL     string            `json:"url,omitempty"     yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// openapi
	OpenAPIDocument string           `json:"openapiDocument,omitempty" yaml:"openapiDocument,omitempty"`
	OpenAPISecurity *OpenAPISecurity `json:"openapiSecurity,omitempty" yaml:"openapiSecurity,omitempty"`

	// common
	CredentialEnvVar    string                 `json:"credentialEnvVar,omitempty"    yaml:"credentialEnvVar,omitempty"`
	CredentialSecret    string                 `json:"credentialSecret,omitempty"    yaml:"credentialSecret,omitempty"`
	KeepAliveIntervalMs int64                  `json:"keepAliveIntervalMs,omitempty" yaml:"keepAliveIntervalMs,omitempty"`
	Tools               map[string]ToolOverlay `json:"tools,omitempty"               yaml:"tools,omitempty"`
	Owner               string                 `json:"owner,omitempty"               yaml:"owner,omitempty"`
}

// ID returns a stable identifier for the upstream: its name. Names must be
// unique within a Settings snapshot; Settings.validate enforces this.
func (u *UpstreamSpec) ID() string {
	return u.Name
}

// Credential resolves the upstream's outbound credential, preferring a
// mounted secret (for cluster deployments) and falling back to an
// environment variable (for local/dev use).
func (u *UpstreamSpec) Credential() string {
	if u.CredentialSecret != "" {
		if v, err := credentials.Get(u.CredentialSecret); err == nil && v != "" {
			return v
		}
	}
	if u.CredentialEnvVar != "" {
		return os.Getenv(u.CredentialEnvVar)
	}
	return ""
}

// Path returns the path component of the upstream's URL, for kinds that have one.
func (u *UpstreamSpec) Path() (string, error) {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return "", fmt.Errorf("parsing upstream URL: %w", err)
	}
	return parsed.Path, nil
}

// connectionRelevantEqual reports whether two specs differ in a way that
// requires tearing down and recreating the transport, as opposed to a pure
// tool-overlay change which can be applied in place (spec §4.C3 rule 4).
func (u *UpstreamSpec) connectionRelevantEqual(other *UpstreamSpec) bool {
	if u.Kind != other.Kind || u.Enabled != other.Enabled {
		return false
	}
	switch u.Kind {
	case KindStdio:
		if u.Command != other.Command || !stringsEqual(u.Args, other.Args) || !mapsEqual(u.Env, other.Env) {
			return false
		}
	case KindSSE, KindHTTPStream:
		if u.URL != other.URL || !mapsEqual(u.Headers, other.Headers) {
			return false
		}
	case KindOpenAPI:
		if u.OpenAPIDocument != other.OpenAPIDocument {
			return false
		}
	}
	return u.CredentialEnvVar == other.CredentialEnvVar &&
		u.CredentialSecret == other.CredentialSecret &&
		u.KeepAliveIntervalMs == other.KeepAliveIntervalMs
}

func (u *UpstreamSpec) clone() *UpstreamSpec {
	if u == nil {
		return nil
	}
	c := *u
	c.Args = append([]string(nil), u.Args...)
	c.Env = cloneMap(u.Env)
	c.Headers = cloneMap(u.Headers)
	c.Tools = make(map[string]ToolOverlay, len(u.Tools))
	for k, v := range u.Tools {
		c.Tools[k] = v
	}
	if u.OpenAPISecurity != nil {
		sec := *u.OpenAPISecurity
		c.OpenAPISecurity = &sec
	}
	return &c
}

// GroupServer is one upstream entry within a Group, with an optional allowlist.
type GroupServer struct {
	UpstreamName  string   `json:"upstreamName"            yaml:"upstreamName"`
	SelectedTools []string `json:"selectedTools,omitempty" yaml:"selectedTools,omitempty"`
}

// Group is a named, curated subset of upstreams with per-upstream tool allowlists.
type Group struct {
	ID          string        `json:"id"                    yaml:"id"`
	Name        string        `json:"name"                  yaml:"name"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Servers     []GroupServer `json:"servers"                yaml:"servers"`
	Owner       string        `json:"owner,omitempty"        yaml:"owner,omitempty"`
}

func (g *Group) clone() *Group {
	if g == nil {
		return nil
	}
	c := *g
	c.Servers = append([]GroupServer(nil), g.Servers...)
	for i := range c.Servers {
		c.Servers[i].SelectedTools = append([]string(nil), g.Servers[i].SelectedTools...)
	}
	return &c
}

// SmartGroupName is the reserved, never-stored symbolic group resolved by C6.
const SmartGroupName = "$smart"

// Flags are the system-wide routing/behavior toggles (spec §6).
type Flags struct {
	SmartRoutingEnabled           bool   `json:"smartRoutingEnabled"           yaml:"smartRoutingEnabled"`
	SmartRoutingEmbedModel        string `json:"smartRoutingEmbedModel"        yaml:"smartRoutingEmbedModel"`
	AllowGlobal                   bool   `json:"allowGlobal"                   yaml:"allowGlobal"`
	DefaultGroup                  string `json:"defaultGroup,omitempty"        yaml:"defaultGroup,omitempty"`
	KeepAliveIntervalMs           int64  `json:"keepAliveIntervalMs"           yaml:"keepAliveIntervalMs"`
	CallTimeoutMs                 int64  `json:"callTimeoutMs"                 yaml:"callTimeoutMs"`
	IdleSessionTimeoutMs          int64  `json:"idleSessionTimeoutMs"          yaml:"idleSessionTimeoutMs"`
	HideDegradedUpstreamsFromList bool   `json:"hideDegradedUpstreamsFromList" yaml:"hideDegradedUpstreamsFromList"`
	EnforceToolFilter             bool   `json:"enforceToolFilter"             yaml:"enforceToolFilter"`
	TrustedHeadersPublicKey       string `json:"trustedHeadersPublicKey,omitempty" yaml:"trustedHeadersPublicKey,omitempty"`
}

// DefaultFlags mirrors the defaults named in spec §6.
func DefaultFlags() Flags {
	return Flags{
		SmartRoutingEnabled:  false,
		AllowGlobal:          true,
		KeepAliveIntervalMs:  60_000,
		CallTimeoutMs:        60_000,
		IdleSessionTimeoutMs: 30 * 60_000,
	}
}

// Settings is the immutable, authoritative configuration snapshot (C1).
type Settings struct {
	Upstreams []*UpstreamSpec `json:"upstreams" yaml:"upstreams"`
	Groups    []*Group        `json:"groups"    yaml:"groups"`
	Flags     Flags           `json:"flags"     yaml:"flags"`
}

// Empty returns a Settings with sane defaults and nothing configured.
func Empty() *Settings {
	return &Settings{Flags: DefaultFlags()}
}

func (s *Settings) clone() *Settings {
	if s == nil {
		return Empty()
	}
	out := &Settings{Flags: s.Flags}
	out.Upstreams = make([]*UpstreamSpec, len(s.Upstreams))
	for i, u := range s.Upstreams {
		out.Upstreams[i] = u.clone()
	}
	out.Groups = make([]*Group, len(s.Groups))
	for i, g := range s.Groups {
		out.Groups[i] = g.clone()
	}
	return out
}

// Upstream looks up an upstream by name.
func (s *Settings) Upstream(name string) *UpstreamSpec {
	for _, u := range s.Upstreams {
		if u.Name == name {
			return u
		}
	}
	return nil
}

// Group looks up a group by id or name.
func (s *Settings) Group(idOrName string) *Group {
	for _, g := range s.Groups {
		if g.ID == idOrName || g.Name == idOrName {
			return g
		}
	}
	return nil
}

// AddUpstream appends a new upstream spec; used by Mutate callbacks.
func (s *Settings) AddUpstream(u *UpstreamSpec) {
	s.Upstreams = append(s.Upstreams, u)
}

// RemoveUpstream removes an upstream by name.
func (s *Settings) RemoveUpstream(name string) {
	out := s.Upstreams[:0]
	for _, u := range s.Upstreams {
		if u.Name != name {
			out = append(out, u)
		}
	}
	s.Upstreams = out
}

// validate rejects settings a reconciler could not act on: this is
// ConfigurationError in spec §7 terms, and never escapes the Settings Store.
func (s *Settings) validate() error {
	seen := make(map[string]bool, len(s.Upstreams))
	for _, u := range s.Upstreams {
		if u.Name == "" {
			return fmt.Errorf("%w: upstream has no name", apierrors.ErrConfigurationError)
		}
		if seen[u.Name] {
			return fmt.Errorf("%w: duplicate upstream name %q", apierrors.ErrConfigurationError, u.Name)
		}
		seen[u.Name] = true
		switch u.Kind {
		case KindStdio:
			if u.Command == "" {
				return fmt.Errorf("%w: stdio upstream %q missing command", apierrors.ErrConfigurationError, u.Name)
			}
		case KindSSE, KindHTTPStream:
			if u.URL == "" {
				return fmt.Errorf("%w: %s upstream %q missing url", apierrors.ErrConfigurationError, u.Kind, u.Name)
			}
		case KindOpenAPI:
			if u.OpenAPIDocument == "" {
				return fmt.Errorf("%w: openapi upstream %q missing document reference", apierrors.ErrConfigurationError, u.Name)
			}
		default:
			return fmt.Errorf("%w: upstream %q has unknown kind %q", apierrors.ErrConfigurationError, u.Name, u.Kind)
		}
	}
	groupIDs := make(map[string]bool, len(s.Groups))
	for _, g := range s.Groups {
		if g.ID == "" {
			return fmt.Errorf("%w: group %q has no id", apierrors.ErrConfigurationError, g.Name)
		}
		if groupIDs[g.ID] {
			return fmt.Errorf("%w: duplicate group id %q", apierrors.ErrConfigurationError, g.ID)
		}
		groupIDs[g.ID] = true
		refs := make(map[string]bool, len(g.Servers))
		for _, gs := range g.Servers {
			if refs[gs.UpstreamName] {
				return fmt.Errorf("%w: group %q references upstream %q more than once", apierrors.ErrConfigurationError, g.Name, gs.UpstreamName)
			}
			refs[gs.UpstreamName] = true
		}
	}
	return nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// toolOverlaysEqual compares two tool overlay maps for the reconciliation
// rule "only tool overlay changed → re-overlay, don't restart" (spec §4.C3).
func toolOverlaysEqual(a, b map[string]ToolOverlay) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok {
			return false
		}
		if v.DescriptionOverride != ov.DescriptionOverride {
			return false
		}
		if v.IsEnabled() != ov.IsEnabled() {
			return false
		}
	}
	return true
}
