package router

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/session"
)

func generateTestKeyPair(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return priv, string(pem.EncodeToMemory(block))
}

func signAllowedTools(t *testing.T, priv *ecdsa.PrivateKey, allowedToolsJSON string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		allowedToolsClaimKey: allowedToolsJSON,
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestFilterListToolsNoopWhenNoPublicKeyConfigured(t *testing.T) {
	r := newTestRouter(t, &config.Settings{})
	sess := &session.Session{ID: "s1"}
	req := &mcp.ListToolsRequest{}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "a"}}}

	r.filterListTools(sess, req, res)
	require.Len(t, res.Tools, 1)
}

func TestFilterListToolsEnforcedWithNoHeaderClearsTools(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	settings := &config.Settings{Flags: config.Flags{TrustedHeadersPublicKey: pub, EnforceToolFilter: true}}
	r := newTestRouter(t, settings)
	sess := &session.Session{ID: "s1"}
	req := &mcp.ListToolsRequest{}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "a"}}}

	r.filterListTools(sess, req, res)
	require.Empty(t, res.Tools)
}

func TestFilterListToolsNotEnforcedWithNoHeaderLeavesToolsAlone(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	settings := &config.Settings{Flags: config.Flags{TrustedHeadersPublicKey: pub, EnforceToolFilter: false}}
	r := newTestRouter(t, settings)
	sess := &session.Session{ID: "s1"}
	req := &mcp.ListToolsRequest{}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "a"}}}

	r.filterListTools(sess, req, res)
	require.Len(t, res.Tools, 1)
}

func TestFilterListToolsValidTokenFiltersByAllowlist(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	settings := &config.Settings{Flags: config.Flags{TrustedHeadersPublicKey: pub}}
	r := newTestRouter(t, settings)
	sess := &session.Session{ID: "s1"}

	signed := signAllowedTools(t, priv, `{"weather":["forecast"]}`)
	req := &mcp.ListToolsRequest{}
	req.Header = http.Header{authorizedToolsHeader: []string{signed}}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{
		{Name: "forecast"},
		{Name: "weather__forecast"},
		{Name: "nuke"},
	}}

	r.filterListTools(sess, req, res)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(t, []string{"forecast", "weather__forecast"}, names)
}

func TestFilterListToolsMalformedHeaderClearsTools(t *testing.T) {
	_, pub := generateTestKeyPair(t)
	settings := &config.Settings{Flags: config.Flags{TrustedHeadersPublicKey: pub}}
	r := newTestRouter(t, settings)
	sess := &session.Session{ID: "s1"}

	req := &mcp.ListToolsRequest{}
	req.Header = http.Header{authorizedToolsHeader: []string{"not-a-jwt"}}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "a"}}}

	r.filterListTools(sess, req, res)
	require.Empty(t, res.Tools)
}

func TestFilterListToolsWrongKeyRejected(t *testing.T) {
	priv, _ := generateTestKeyPair(t)
	_, otherPub := generateTestKeyPair(t)
	settings := &config.Settings{Flags: config.Flags{TrustedHeadersPublicKey: otherPub}}
	r := newTestRouter(t, settings)
	sess := &session.Session{ID: "s1"}

	signed := signAllowedTools(t, priv, `{"weather":["forecast"]}`)
	req := &mcp.ListToolsRequest{}
	req.Header = http.Header{authorizedToolsHeader: []string{signed}}
	res := &mcp.ListToolsResult{Tools: []mcp.Tool{{Name: "forecast"}}}

	r.filterListTools(sess, req, res)
	require.Empty(t, res.Tools)
}
