// Package access implements the C6 Group & Access Resolver: a pure function
// from (scope, principal, settings, catalog) to the ordered list of
// reachable upstreams and their allowed tool sets.
package access

import (
	"sort"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/config"
)

// ScopeKind discriminates the four routing scopes spec §3 defines.
type ScopeKind string

const (
	ScopeGlobal   ScopeKind = "global"
	ScopeUpstream ScopeKind = "upstream"
	ScopeGroup    ScopeKind = "group"
	ScopeSmart    ScopeKind = "smart"
)

// Scope identifies a session's routing target. Name holds the upstream or
// group identifier for the Upstream/Group kinds; it is empty for Global and
// Smart.
type Scope struct {
	Kind ScopeKind
	Name string
}

// AllowedTools is either a fixed allowlist or the sentinel "all tools" value.
type AllowedTools struct {
	All     bool
	Allowed map[string]bool
}

// Allows reports whether a tool name is permitted.
func (a AllowedTools) Allows(toolName string) bool {
	if a.All {
		return true
	}
	return a.Allowed[toolName]
}

func allTools() AllowedTools { return AllowedTools{All: true} }

// ResolvedUpstream is one entry of a Resolve result.
type ResolvedUpstream struct {
	UpstreamName string
	AllowedTools AllowedTools
}

// Result is spec §4.C6's output: the ordered upstream list plus the
// isSmart flag.
type Result struct {
	Upstreams []ResolvedUpstream
	IsSmart   bool
}

// Resolve is the pure function spec §4.C6 requires: deterministic given its
// inputs, no side effects.
func Resolve(scope Scope, principal *config.Principal, settings *config.Settings, cat *catalog.Catalog) Result {
	switch scope.Kind {
	case ScopeUpstream:
		return resolveUpstream(scope.Name, principal, settings)
	case ScopeGroup:
		return resolveGroup(scope.Name, principal, settings)
	case ScopeSmart:
		return resolveSmart(principal, settings)
	default:
		return resolveGlobal(principal, settings)
	}
}

func resolveUpstream(name string, principal *config.Principal, settings *config.Settings) Result {
	u := settings.Upstream(name)
	if u == nil || !u.Enabled || !visibleUpstream(u, principal) {
		return Result{}
	}
	return Result{Upstreams: []ResolvedUpstream{{UpstreamName: u.Name, AllowedTools: allTools()}}}
}

func resolveGroup(idOrName string, principal *config.Principal, settings *config.Settings) Result {
	g := settings.Group(idOrName)
	if g == nil || !visibleGroup(g, principal) {
		return Result{}
	}
	var out []ResolvedUpstream
	for _, gs := range g.Servers {
		u := settings.Upstream(gs.UpstreamName)
		if u == nil || !u.Enabled || !visibleUpstream(u, principal) {
			continue
		}
		allowed := allTools()
		if len(gs.SelectedTools) > 0 {
			m := make(map[string]bool, len(gs.SelectedTools))
			for _, t := range gs.SelectedTools {
				m[t] = true
			}
			allowed = AllowedTools{Allowed: m}
		}
		out = append(out, ResolvedUpstream{UpstreamName: u.Name, AllowedTools: allowed})
	}
	return Result{Upstreams: out}
}

func resolveGlobal(principal *config.Principal, settings *config.Settings) Result {
	if !settings.Flags.AllowGlobal && (principal == nil || !principal.IsAdmin) {
		return Result{}
	}
	var out []ResolvedUpstream
	for _, u := range settings.Upstreams {
		if !u.Enabled || !visibleUpstream(u, principal) {
			continue
		}
		out = append(out, ResolvedUpstream{UpstreamName: u.Name, AllowedTools: allTools()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpstreamName < out[j].UpstreamName })
	return Result{Upstreams: out}
}

func resolveSmart(principal *config.Principal, settings *config.Settings) Result {
	if !settings.Flags.SmartRoutingEnabled {
		return Result{IsSmart: true}
	}
	res := resolveGlobal(principal, settings)
	res.IsSmart = true
	return res
}

// visibleUpstream implements spec §3's multi-tenancy rule: non-admins see
// only upstreams they own, plus unowned (public) ones.
func visibleUpstream(u *config.UpstreamSpec, principal *config.Principal) bool {
	if principal == nil || principal.IsAdmin {
		return true
	}
	return u.Owner == "" || u.Owner == principal.ID
}

func visibleGroup(g *config.Group, principal *config.Principal) bool {
	if principal == nil || principal.IsAdmin {
		return true
	}
	return g.Owner == "" || g.Owner == principal.ID
}
