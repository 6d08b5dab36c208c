package router

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/apierrors"
	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/session"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// mcpCallReq builds a CallToolRequest carrying arguments, as a test stand-in
// for what mcp-go's transport decodes off the wire.
func mcpCallReq(arguments map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = arguments
	return req
}

// toolResultText returns the text of a CallToolResult's first content item.
func toolResultText(res *mcp.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(mcp.TextContent); ok {
		return tc.Text
	}
	return ""
}

func newTestRouter(t *testing.T, settings *config.Settings) *Router {
	t.Helper()
	store := config.NewStore(settings, nil)
	sup := upstream.NewSupervisor(nil)
	cat := catalog.New(sup, nil)
	sessionStore, err := session.NewStore(context.Background(), "")
	require.NoError(t, err)
	jwtManager, err := session.NewJWTManager("test-signing-key", 0, nil, nil)
	require.NoError(t, err)
	sessions := session.NewManager(jwtManager, sessionStore, 0, nil)
	return New(store, cat, sup, sessions, nil, nil)
}

func TestNewSessionRejectsUnknownUpstreamScope(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	_, err := r.NewSession(context.Background(), access.Scope{Kind: access.ScopeUpstream, Name: "missing"}, config.AnonymousPrincipal())
	require.ErrorIs(t, err, apierrors.ErrScopeNotFound)
}

func TestNewSessionRejectsUnknownGroupScope(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	_, err := r.NewSession(context.Background(), access.Scope{Kind: access.ScopeGroup, Name: "missing"}, config.AnonymousPrincipal())
	require.ErrorIs(t, err, apierrors.ErrScopeNotFound)
}

func TestNewSessionRejectsGlobalScopeForNonAdminWhenDisallowed(t *testing.T) {
	settings := &config.Settings{Flags: config.Flags{AllowGlobal: false}}
	r := newTestRouter(t, settings)
	_, err := r.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, &config.Principal{ID: "bob"})
	require.ErrorIs(t, err, apierrors.ErrUnauthorized)
}

func TestNewSessionAllowsGlobalScopeForAdminEvenWhenDisallowed(t *testing.T) {
	settings := &config.Settings{Flags: config.Flags{AllowGlobal: false}}
	r := newTestRouter(t, settings)
	sess, err := r.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, &config.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)
	require.NotNil(t, sess)
}

func TestNewSessionAcceptsKnownUpstreamScope(t *testing.T) {
	settings := &config.Settings{
		Upstreams: []*config.UpstreamSpec{
			{Name: "a", Kind: config.KindStdio, Command: "echo", Enabled: true},
		},
	}
	r := newTestRouter(t, settings)
	sess, err := r.NewSession(context.Background(), access.Scope{Kind: access.ScopeUpstream, Name: "a"}, &config.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)
	require.Equal(t, access.ScopeUpstream, sess.Scope.Kind)
}

func TestGlobalNameIsStableAndCollisionProof(t *testing.T) {
	require.Equal(t, "weather__forecast", globalName("weather", "forecast"))
	require.NotEqual(t, globalName("a", "b__c"), globalName("a__b", "c"))
}

func TestApplyViewIsNoOpWhenViewUnchanged(t *testing.T) {
	settings := &config.Settings{}
	r := newTestRouter(t, settings)
	sess, err := r.sessions.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, config.AnonymousPrincipal())
	require.NoError(t, err)

	require.NoError(t, r.ApplyView(context.Background(), sess))
	require.Empty(t, sess.ViewNames())
}

func TestResolveCallFailureNotFoundWhenNameUnknownToScope(t *testing.T) {
	settings := &config.Settings{Flags: config.Flags{AllowGlobal: true}}
	r := newTestRouter(t, settings)
	sess, err := r.sessions.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, &config.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)

	err = r.resolveCallFailure(sess, "ping")
	require.ErrorIs(t, err, apierrors.ErrToolNotFound)
}

func TestAnnotateCallToolResultLeavesInstalledToolsAlone(t *testing.T) {
	settings := &config.Settings{}
	r := newTestRouter(t, settings)
	sess, err := r.sessions.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, config.AnonymousPrincipal())
	require.NoError(t, err)
	sess.SetViewNames(map[string]bool{"ping": true})

	req := &mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "ping"}}
	res := mcp.NewToolResultText("pong")
	r.annotateCallToolResult(sess, req, res)
	require.Equal(t, "pong", toolResultText(res))
}

func TestAnnotateCallToolResultRewritesUnknownToolAsNotFound(t *testing.T) {
	settings := &config.Settings{Flags: config.Flags{AllowGlobal: true}}
	r := newTestRouter(t, settings)
	sess, err := r.sessions.NewSession(context.Background(), access.Scope{Kind: access.ScopeGlobal}, &config.Principal{ID: "admin", IsAdmin: true})
	require.NoError(t, err)

	req := &mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "nuke"}}
	res := mcp.NewToolResultText("should be overwritten")
	r.annotateCallToolResult(sess, req, res)
	require.True(t, res.IsError)
	require.Contains(t, toolResultText(res), apierrors.ErrToolNotFound.Error())
}
