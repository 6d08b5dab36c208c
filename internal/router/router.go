// Package router implements the C8 Request Router: it computes each
// session's filtered, namespaced tool view and installs it on that session's
// MCP server, and builds the per-tool Handler that forwards a call to its
// owning upstream.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/session"
	"github.com/kagenti/mcp-hub/internal/upstream"
	"github.com/kagenti/mcp-hub/internal/vectorindex"
)

// Router wires C3/C4/C5/C6 together into the view each session sees, per
// spec §4.C8.
type Router struct {
	settings   *config.Store
	catalog    *catalog.Catalog
	supervisor *upstream.Supervisor
	sessions   *session.Manager
	index      *vectorindex.Index // nil makes $smart's search_tools report the embedder unavailable
	logger     *slog.Logger
}

// New builds a Router. index may be nil if smart routing is not configured;
// the $smart scope still exposes search_tools and call_tool, but search_tools
// then fails with ErrEmbedderUnavailable while call_tool keeps working.
func New(settingsStore *config.Store, cat *catalog.Catalog, sup *upstream.Supervisor, sessions *session.Manager, index *vectorindex.Index, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		settings:   settingsStore,
		catalog:    cat,
		supervisor: sup,
		sessions:   sessions,
		index:      index,
		logger:     logger.With("component", "router.Router"),
	}
	sessions.SetApplier(r)
	sessions.SetListToolsHook(r.filterListTools)
	sessions.SetCallToolHook(r.annotateCallToolResult)
	return r
}

// Start subscribes to catalog version bumps so every live session's view is
// recomputed when the tool projection changes, coalescing bursts within
// coalesceWindow into a single reapply pass.
func (r *Router) Start(ctx context.Context) {
	coalescer := r.startNotifyCoalescer(ctx)
	r.catalog.Subscribe(func(oldVersion, newVersion uint64, _ catalog.Diff) {
		r.logger.Debug("catalog changed, scheduling session view reapply", "old", oldVersion, "new", newVersion)
		coalescer.Trigger()
	})
}

// NewSession resolves scope against current settings and asks the Session
// Manager to create a session for it, returning ErrScopeNotFound/
// ErrUnauthorized per spec §4.C6/§4.C8's resolution rules.
func (r *Router) NewSession(ctx context.Context, scope access.Scope, principal *config.Principal) (*session.Session, error) {
	settings := r.settings.Snapshot()
	if err := r.checkScopeVisible(scope, principal, settings); err != nil {
		return nil, err
	}
	return r.sessions.NewSession(ctx, scope, principal)
}

func (r *Router) checkScopeVisible(scope access.Scope, principal *config.Principal, settings *config.Settings) error {
	switch scope.Kind {
	case access.ScopeUpstream:
		if settings.Upstream(scope.Name) == nil {
			return fmt.Errorf("%w: upstream %q", apierrors.ErrScopeNotFound, scope.Name)
		}
	case access.ScopeGroup:
		if settings.Group(scope.Name) == nil {
			return fmt.Errorf("%w: group %q", apierrors.ErrScopeNotFound, scope.Name)
		}
	case access.ScopeGlobal:
		if !settings.Flags.AllowGlobal && (principal == nil || !principal.IsAdmin) {
			return fmt.Errorf("%w: global scope disabled", apierrors.ErrUnauthorized)
		}
	}
	resolved := access.Resolve(scope, principal, settings, r.catalog)
	if len(resolved.Upstreams) == 0 && scope.Kind != access.ScopeSmart {
		if scope.Kind == access.ScopeUpstream || scope.Kind == access.ScopeGroup {
			return fmt.Errorf("%w: %s %q not visible to this principal", apierrors.ErrUnauthorized, scope.Kind, scope.Name)
		}
	}
	return nil
}

// ApplyView implements session.ViewApplier: recompute sess's allowed tool
// set and diff it against what's currently installed, only touching the
// session's MCP server (and thus only triggering a tools/list_changed
// notification) when the view actually changed.
func (r *Router) ApplyView(ctx context.Context, sess *session.Session) error {
	settings := r.settings.Snapshot()
	resolved := access.Resolve(sess.Scope, sess.Principal, settings, r.catalog)

	var tools []server.ServerTool
	if resolved.IsSmart {
		tools = r.smartTools(resolved, settings)
	} else {
		tools = r.buildTools(resolved, settings)
	}

	newNames := make(map[string]bool, len(tools))
	newByName := make(map[string]server.ServerTool, len(tools))
	for _, t := range tools {
		newNames[t.Tool.Name] = true
		newByName[t.Tool.Name] = t
	}
	oldNames := sess.ViewNames()

	var toRemove []string
	for name := range oldNames {
		if !newNames[name] {
			toRemove = append(toRemove, name)
		}
	}
	var toAdd []server.ServerTool
	for name := range newNames {
		if !oldNames[name] {
			toAdd = append(toAdd, newByName[name])
		}
	}

	if len(toRemove) == 0 && len(toAdd) == 0 {
		return nil
	}
	if len(toRemove) > 0 {
		sess.Server.DeleteTools(toRemove...)
	}
	for i := range toAdd {
		h := toAdd[i].Handler
		toAdd[i].Handler = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()
			defer context.AfterFunc(sess.Context(), cancel)()
			return h(ctx, req)
		}
	}
	if len(toAdd) > 0 {
		sess.Server.AddTools(toAdd...)
	}
	sess.SetViewNames(newNames)
	r.logger.Debug("session view applied", "session", sess.ID, "added", len(toAdd), "removed", len(toRemove))
	return nil
}

// resolvedTool is one entry of a session's effective tool list: a catalog
// descriptor plus the name this session will see it under.
type resolvedTool struct {
	descriptor    catalog.Descriptor
	effectiveName string
}

// resolveToolList flattens resolved upstreams into descriptors, applying
// C6's per-upstream allowlist (unless enforceAllowlist is false), the
// hideDegradedUpstreamsFromList flag, and C8's disambiguation rule: a bare
// tool name is used unless two upstreams in this resolved set expose the
// same name, in which case both are exposed under "<upstream>__<tool>"
// (spec §3/§4.C8).
//
// enforceAllowlist is false only when computing the scope's full catalog
// footprint for diagnosing a tools/call on a name this session doesn't
// currently have installed (see resolveCallFailure): that check needs to
// know whether the name exists anywhere in scope at all, so both the
// allowlist and the hideDegradedUpstreamsFromList flag are skipped.
func (r *Router) resolveToolList(resolved access.Result, settings *config.Settings, enforceAllowlist bool) []resolvedTool {
	var entries []resolvedTool
	counts := make(map[string]int)
	for _, ru := range resolved.Upstreams {
		for _, d := range r.catalog.ListByUpstream(ru.UpstreamName) {
			if !d.Enabled || (enforceAllowlist && !ru.AllowedTools.Allows(d.ToolName)) {
				continue
			}
			if enforceAllowlist && d.UpstreamDegraded && settings.Flags.HideDegradedUpstreamsFromList {
				continue
			}
			counts[d.ToolName]++
			entries = append(entries, resolvedTool{descriptor: d})
		}
	}
	for i := range entries {
		d := entries[i].descriptor
		if counts[d.ToolName] > 1 {
			entries[i].effectiveName = globalName(d.UpstreamName, d.ToolName)
		} else {
			entries[i].effectiveName = d.ToolName
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].descriptor.UpstreamName != entries[j].descriptor.UpstreamName {
			return entries[i].descriptor.UpstreamName < entries[j].descriptor.UpstreamName
		}
		return entries[i].descriptor.ToolName < entries[j].descriptor.ToolName
	})
	return entries
}

func (r *Router) buildTools(resolved access.Result, settings *config.Settings) []server.ServerTool {
	entries := r.resolveToolList(resolved, settings, true)
	out := make([]server.ServerTool, 0, len(entries))
	for _, e := range entries {
		out = append(out, r.serverTool(e.effectiveName, e.descriptor))
	}
	return out
}

// resolveCallFailure classifies a tools/call naming a tool not currently
// installed on sess's server: ErrToolNotAllowed if the name exists in the
// scope's catalog footprint but is filtered out by the allowlist (or the
// hideDegradedUpstreamsFromList flag), ErrToolNotFound if it doesn't map to
// anything in scope at all (spec §7/§8 scenarios 2-3). Installed tools never
// reach this path; their own forwardHandler answers the call directly.
func (r *Router) resolveCallFailure(sess *session.Session, name string) error {
	settings := r.settings.Snapshot()
	resolved := access.Resolve(sess.Scope, sess.Principal, settings, r.catalog)
	for _, e := range r.resolveToolList(resolved, settings, false) {
		if e.effectiveName == name {
			return fmt.Errorf("%w: %q", apierrors.ErrToolNotAllowed, name)
		}
	}
	return fmt.Errorf("%w: %q", apierrors.ErrToolNotFound, name)
}

// annotateCallToolResult is wired as the session's AfterCallTool hook. It
// only has work to do for names the session's own forwardHandler didn't
// install (smart-scope tools and every installed non-smart tool already
// answer for themselves), rewriting mcp-go's generic unknown-tool result
// into the stable ToolNotFound/ToolNotAllowed sentinel spec §7 requires.
func (r *Router) annotateCallToolResult(sess *session.Session, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
	if res == nil {
		return
	}
	name := req.Params.Name
	if sess.ViewNames()[name] {
		return
	}
	err := r.resolveCallFailure(sess, name)
	*res = *mcp.NewToolResultError(err.Error())
}

func (r *Router) serverTool(effectiveName string, d catalog.Descriptor) server.ServerTool {
	tool := mcp.Tool{Name: effectiveName, Description: d.Description}
	if schema, ok := d.InputSchema.(mcp.ToolInputSchema); ok {
		tool.InputSchema = schema
	}
	upstreamName, toolName := d.UpstreamName, d.ToolName
	return server.ServerTool{
		Tool:    tool,
		Handler: r.forwardHandler(upstreamName, toolName),
	}
}

// globalName is the stable, collision-proof name for (upstream, tool).
func globalName(upstreamName, toolName string) string {
	return upstreamName + "__" + toolName
}

// forwardHandler returns the mcp-go ToolHandlerFunc that forwards a call to
// its owning upstream, translating failures into spec §7's taxonomy.
func (r *Router) forwardHandler(upstreamName, toolName string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		client := r.supervisor.Client(upstreamName)
		if client == nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: upstream %q is not ready", apierrors.ErrUpstreamUnavailable, upstreamName)), nil
		}

		timeout := r.callTimeout()
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res, err := client.CallTool(callCtx, toolName, req.GetArguments())
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return mcp.NewToolResultError(fmt.Sprintf("%s: %s.%s did not respond within %s", apierrors.ErrUpstreamTimeout, upstreamName, toolName, timeout)), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", apierrors.ErrUpstreamProtocolError, err)), nil
		}
		return res, nil
	}
}

func (r *Router) callTimeout() time.Duration {
	ms := r.settings.Snapshot().Flags.CallTimeoutMs
	if ms <= 0 {
		return 60 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

var _ session.ViewApplier = (*Router)(nil)
