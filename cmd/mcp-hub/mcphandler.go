package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/router"
	"github.com/kagenti/mcp-hub/internal/session"
)

// mcpSessionIDHeader is the header mcp-go's streamable-HTTP transport uses to
// carry a session id once established, per spec §6 and the teacher's
// mcp-router request handling.
const mcpSessionIDHeader = "Mcp-Session-Id"

// fixedSessionIDManager pins an mcp-go transport to exactly one hub session
// id. Each of our sessions owns a dedicated *server.MCPServer (spec §4.C7's
// per-session isolation), so its paired transport never needs to mint an id
// of its own: Generate always returns the id the Session Manager already
// assigned, keeping mcp-go's notion of "this connection's session" identical
// to ours instead of layering a second, independently-minted id underneath.
type fixedSessionIDManager struct {
	id      string
	manager *session.Manager
}

func (f fixedSessionIDManager) Generate() string { return f.id }

func (f fixedSessionIDManager) Validate(token string) (bool, error) {
	if token != f.id {
		return true, fmt.Errorf("%s: %q", "session id mismatch", token)
	}
	return false, nil
}

func (f fixedSessionIDManager) Terminate(id string) (bool, error) {
	if err := f.manager.DeleteSessions(context.Background(), id); err != nil {
		return false, err
	}
	return false, nil
}

// mcpMount is the pair of transports bound to one session's dedicated
// *server.MCPServer.
type mcpMount struct {
	streamable *server.StreamableHTTPServer
	sse        *server.SSEServer
}

// sessionRegistry lazily builds and caches the HTTP transports for each live
// session, so a session establishing its connection once via an initialize
// call reuses the same transports for every later request.
type sessionRegistry struct {
	router   *router.Router
	sessions *session.Manager
	logger   *slog.Logger

	mu     sync.Mutex
	mounts map[string]*mcpMount
}

func newSessionRegistry(r *router.Router, sessions *session.Manager, logger *slog.Logger) *sessionRegistry {
	return &sessionRegistry{
		router:   r,
		sessions: sessions,
		logger:   logger.With("component", "mcpHandler"),
		mounts:   make(map[string]*mcpMount),
	}
}

func (reg *sessionRegistry) mountFor(sess *session.Session) *mcpMount {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if m, ok := reg.mounts[sess.ID]; ok {
		return m
	}
	idManager := fixedSessionIDManager{id: sess.ID, manager: reg.sessions}
	m := &mcpMount{
		streamable: server.NewStreamableHTTPServer(sess.Server, server.WithSessionIdManager(idManager)),
		sse:        server.NewSSEServer(sess.Server),
	}
	reg.mounts[sess.ID] = m
	return m
}

func (reg *sessionRegistry) drop(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.mounts, id)
}

// mcpStreamHandler implements spec §6's "/mcp/:scope?" endpoint: a request
// carrying an established Mcp-Session-Id is routed straight to that
// session's own transport; one without it is treated as a new connection,
// scoped by the URL's trailing path segment.
type mcpStreamHandler struct {
	prefix   string
	router   *router.Router
	sessions *session.Manager
	registry *sessionRegistry
	logger   *slog.Logger
}

func (h *mcpStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := r.Header.Get(mcpSessionIDHeader); id != "" {
		sess, ok := h.sessions.Get(id)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		sess.Touch()
		h.registry.mountFor(sess).streamable.ServeHTTP(w, r)
		return
	}

	tail := strings.TrimPrefix(r.URL.Path, h.prefix)
	scope, err := parseScope(tail)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	principal := principalFromRequest(r)
	sess, err := h.router.NewSession(r.Context(), scope, principal)
	if err != nil {
		writeScopeError(w, err)
		return
	}
	h.registry.mountFor(sess).streamable.ServeHTTP(w, r)
}

// sseHandler implements spec §6's "/sse/:scope?" endpoint: the initial GET
// opens the event stream for a freshly created session.
type sseHandler struct {
	prefix   string
	router   *router.Router
	registry *sessionRegistry
}

func (h *sseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, h.prefix)
	scope, err := parseScope(tail)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	principal := principalFromRequest(r)
	sess, err := h.router.NewSession(r.Context(), scope, principal)
	if err != nil {
		writeScopeError(w, err)
		return
	}
	h.registry.mountFor(sess).sse.ServeHTTP(w, r)
}

// messagesHandler implements spec §6's "/messages?sessionId=..." endpoint,
// the POST sibling of an open SSE stream.
type messagesHandler struct {
	sessions *session.Manager
	registry *sessionRegistry
}

func (h *messagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	sess, ok := h.sessions.Get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	sess.Touch()
	h.registry.mountFor(sess).sse.ServeHTTP(w, r)
}

func writeScopeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case isErr(err, "scope not found"):
		status = http.StatusNotFound
	case isErr(err, "unauthorized"):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}

func isErr(err error, substr string) bool {
	return strings.Contains(err.Error(), substr)
}
