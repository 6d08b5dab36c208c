package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/config"
)

// ViewApplier installs the tools a session is currently allowed to see onto
// its MCP server instance. The Router (C8) implements this; Manager (C7)
// calls it at session creation and whenever the catalog changes, without
// importing the router package itself.
type ViewApplier interface {
	ApplyView(ctx context.Context, sess *Session) error
}

// Session is spec §3's DownstreamSession: one principal's view of one scope,
// live for as long as the underlying MCP connection is open. It owns its own
// *server.MCPServer, per spec §4.C7, so tools/list and tools/call dispatch
// for this session only ever sees the tools Router installed on it.
type Session struct {
	ID        string
	Scope     access.Scope
	Principal *config.Principal
	Server    *server.MCPServer
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	lastSeen  time.Time
	viewNames map[string]bool
}

// Context is cancelled when the session is closed, so any tools/call
// forwarding still in flight is cancelled too (spec §4.C7 "closing a session
// cancels in-flight calls it originated").
func (s *Session) Context() context.Context { return s.ctx }

// Touch records activity, resetting the idle-timeout clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// ViewNames returns the set of tool names currently installed on this
// session's server, as of the last ApplyView.
func (s *Session) ViewNames() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.viewNames))
	for k, v := range s.viewNames {
		out[k] = v
	}
	return out
}

// SetViewNames records the tool names Router just installed, for the next
// ApplyView's diff.
func (s *Session) SetViewNames(names map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewNames = names
}

// Manager implements the C7 Downstream Session Manager: it creates,
// tracks, idle-sweeps, and terminates Sessions. Its JWTManager, exposed
// through IDManager, satisfies server.SessionIdManager so mcp-go's own
// transports generate/validate ids the same way.
type Manager struct {
	jwt           *JWTManager
	store         *Store
	applier       ViewApplier
	listToolsHook func(sess *Session, req *mcp.ListToolsRequest, res *mcp.ListToolsResult)
	callToolHook  func(sess *Session, req *mcp.CallToolRequest, res *mcp.CallToolResult)
	onDeleted     func(id string)
	logger        *slog.Logger

	idleTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager. applier may be nil at construction time and
// set later via SetApplier, to break the natural router<->session
// construction cycle (Router needs a Manager, Manager needs a ViewApplier
// that is the Router).
func NewManager(jwtManager *JWTManager, store *Store, idleTimeout time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultSessionDuration
	}
	m := &Manager{
		jwt:         jwtManager,
		store:       store,
		idleTimeout: idleTimeout,
		logger:      logger.With("component", "session.Manager"),
		sessions:    make(map[string]*Session),
	}
	jwtManager.SetDeleter(m)
	return m
}

// IDManager exposes the Manager's JWTManager so the composition root can pass
// the same instance to mcp-go's transport constructors
// (server.WithSessionIdManager), keeping the hub's notion of a session id
// identical to mcp-go's.
func (m *Manager) IDManager() server.SessionIdManager {
	return m.jwt
}

// SetApplier wires the Router in after both are constructed.
func (m *Manager) SetApplier(applier ViewApplier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applier = applier
}

// SetListToolsHook wires the trusted-header tool-filter overlay (spec §4
// supplemented feature) into every session's MCP server. Called once from
// Router.New, before any session exists.
func (m *Manager) SetListToolsHook(hook func(sess *Session, req *mcp.ListToolsRequest, res *mcp.ListToolsResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listToolsHook = hook
}

// SetCallToolHook wires the router's tools/call result annotator (spec
// §7's ToolNotFound/ToolNotAllowed taxonomy for names this session has no
// handler installed for) into every session's MCP server. Called once from
// Router.New, before any session exists.
func (m *Manager) SetCallToolHook(hook func(sess *Session, req *mcp.CallToolRequest, res *mcp.CallToolResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callToolHook = hook
}

// NewSession creates a session scoped to scope/principal, installs hooks for
// lifecycle logging, and applies its initial tool view.
func (m *Manager) NewSession(ctx context.Context, scope access.Scope, principal *config.Principal) (*Session, error) {
	id := m.jwt.Generate()
	if id == "" {
		return nil, fmt.Errorf("%w: failed to mint session id", apierrors.ErrConfigurationError)
	}

	hooks := &server.Hooks{}
	hooks.AddOnError(func(_ context.Context, _ any, method mcp.MCPMethod, _ any, err error) {
		m.logger.Warn("session mcp error", "session", id, "method", method, "error", err)
	})

	var sess *Session
	m.mu.RLock()
	listToolsHook := m.listToolsHook
	callToolHook := m.callToolHook
	m.mu.RUnlock()
	if listToolsHook != nil {
		hooks.AddAfterListTools(func(_ context.Context, _ any, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
			listToolsHook(sess, req, res)
		})
	}
	if callToolHook != nil {
		hooks.AddAfterCallTool(func(_ context.Context, _ any, req *mcp.CallToolRequest, res *mcp.CallToolResult) {
			callToolHook(sess, req, res)
		})
	}

	srv := server.NewMCPServer(
		"mcp-hub",
		hubVersion,
		server.WithHooks(hooks),
		server.WithToolCapabilities(true),
	)

	sctx, cancel := context.WithCancel(context.Background())
	sess = &Session{
		ID:        id,
		Scope:     scope,
		Principal: principal,
		Server:    srv,
		CreatedAt: time.Now(),
		ctx:       sctx,
		cancel:    cancel,
		lastSeen:  time.Now(),
		viewNames: map[string]bool{},
	}

	m.mu.Lock()
	m.sessions[id] = sess
	applier := m.applier
	m.mu.Unlock()

	rec := Record{
		ID:          id,
		ScopeKind:   scope.Kind,
		ScopeName:   scope.Name,
		PrincipalID: principal.ID,
		IsAdmin:     principal.IsAdmin,
		CreatedAt:   sess.CreatedAt,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn("persisting session record", "session", id, "error", err)
	}

	if applier != nil {
		if err := applier.ApplyView(ctx, sess); err != nil {
			m.logger.Warn("applying initial session view", "session", id, "error", err)
		}
	}

	m.logger.Info("session created", "session", id, "scope", scope.Kind, "name", scope.Name)
	return sess, nil
}

// Get returns the live session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Sessions returns a snapshot of all live sessions, used by the Router to
// reapply views after a catalog version bump.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// DeleteSessions implements Deleter for the JWTManager, and is also the
// Manager's own close path: it cancels the session's context (aborting any
// in-flight forwarded call) and drops its record.
func (m *Manager) DeleteSessions(ctx context.Context, ids ...string) error {
	m.mu.Lock()
	onDeleted := m.onDeleted
	for _, id := range ids {
		if sess, ok := m.sessions[id]; ok {
			sess.cancel()
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()
	if err := m.store.DeleteSessions(ctx, ids...); err != nil {
		return fmt.Errorf("deleting session records: %w", err)
	}
	for _, id := range ids {
		m.logger.Info("session closed", "session", id)
		if onDeleted != nil {
			onDeleted(id)
		}
	}
	return nil
}

// SetOnDeleted wires a callback invoked after a session is closed, so an
// HTTP-layer transport cache can drop its entry for that id.
func (m *Manager) SetOnDeleted(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDeleted = fn
}

// SweepIdle closes every session that has been idle past the configured
// timeout (spec §4.C7's idle-session reaper).
func (m *Manager) SweepIdle(ctx context.Context) {
	now := time.Now()
	var stale []string
	m.mu.RLock()
	for id, sess := range m.sessions {
		if sess.idleSince(now) > m.idleTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	if len(stale) == 0 {
		return
	}
	if err := m.DeleteSessions(ctx, stale...); err != nil {
		m.logger.Warn("sweeping idle sessions", "error", err)
	}
}

// RunIdleSweep runs SweepIdle on a ticker until ctx is cancelled.
func (m *Manager) RunIdleSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepIdle(ctx)
		}
	}
}

// ReapplyAll recomputes every live session's tool view; called after a
// catalog version bump so each session's AddTools/DeleteTools diff (and thus
// whether it receives a tools/list_changed notification) reflects the new
// catalog.
func (m *Manager) ReapplyAll(ctx context.Context) {
	m.mu.RLock()
	applier := m.applier
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()
	if applier == nil {
		return
	}
	for _, sess := range sessions {
		if err := applier.ApplyView(ctx, sess); err != nil {
			m.logger.Warn("reapplying session view", "session", sess.ID, "error", err)
		}
	}
}

const hubVersion = "0.1.0"
