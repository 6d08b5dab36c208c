// Package apierrors collects the MCP-wire-visible error taxonomy spec §7
// defines. Every sentinel here is a stable "kind" a downstream client can
// match on; wrapping with fmt.Errorf("...: %w", ErrX) keeps errors.Is working
// while still letting callers attach a human-readable detail message.
package apierrors

import "errors"

var (
	// ErrConfigurationError is raised from the Settings Store back to the
	// mutator that submitted a rejected edit; it never reaches downstream
	// clients directly.
	ErrConfigurationError = errors.New("configuration error")
	// ErrUpstreamUnavailable is returned as the result of tools/call when the
	// requested upstream is not in the ready state.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamTimeout is returned when the per-call deadline elapses.
	ErrUpstreamTimeout = errors.New("upstream timeout")
	// ErrUpstreamProtocolError is returned when an upstream responds with
	// malformed MCP; it also counts toward degradation.
	ErrUpstreamProtocolError = errors.New("upstream protocol error")
	// ErrToolNotFound means effectiveName does not map in the current
	// session view.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolNotAllowed means the mapping exists but is filtered out by the
	// current scope/principal.
	ErrToolNotAllowed = errors.New("tool not allowed")
	// ErrScopeNotFound means the requested group/upstream does not exist or
	// is invisible to the principal.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrSessionNotFound means a stale or unknown session id was presented.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnauthorized means the principal lacks permission for the scope.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEmbedderUnavailable means search_tools failed because the Embedder
	// collaborator is down. The hub never falls back to lexical search
	// within this core.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
)
