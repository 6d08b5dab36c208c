package router

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/session"
)

// authorizedToolsHeader is set by a trusted upstream proxy that has already
// computed a tool allowlist for this request, per spec §4's supplemented
// trusted-header overlay. It is layered on top of, never instead of, C6/C8's
// own scope/principal filtering.
var authorizedToolsHeader = http.CanonicalHeaderKey("x-authorized-tools")

const allowedToolsClaimKey = "allowed-tools"

// filterListTools is registered as every session's AfterListTools hook. When
// settings.Flags.TrustedHeadersPublicKey is empty the hook is a no-op; the
// overlay only activates once an operator configures a verification key.
func (r *Router) filterListTools(sess *session.Session, req *mcp.ListToolsRequest, res *mcp.ListToolsResult) {
	settings := r.settings.Snapshot()
	if settings.Flags.TrustedHeadersPublicKey == "" {
		return
	}

	values, ok := req.Header[authorizedToolsHeader]
	if !ok {
		r.logger.Debug("no trusted tool-filter header present", "session", sess.ID, "enforced", settings.Flags.EnforceToolFilter)
		if settings.Flags.EnforceToolFilter {
			res.Tools = nil
		}
		return
	}
	if len(values) != 1 || values[0] == "" {
		r.logger.Warn("trusted tool-filter header malformed", "session", sess.ID)
		res.Tools = nil
		return
	}

	parsed, err := validateTrustedHeaderJWT(values[0], settings.Flags.TrustedHeadersPublicKey)
	if err != nil {
		r.logger.Warn("trusted tool-filter header failed validation", "session", sess.ID, "error", err)
		res.Tools = nil
		return
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		res.Tools = nil
		return
	}
	raw, ok := claims[allowedToolsClaimKey].(string)
	if !ok {
		res.Tools = nil
		return
	}

	var allowed map[string][]string
	if err := json.Unmarshal([]byte(raw), &allowed); err != nil {
		r.logger.Warn("trusted tool-filter claim is not valid JSON", "session", sess.ID, "error", err)
		res.Tools = nil
		return
	}

	var kept []mcp.Tool
	for _, tool := range res.Tools {
		for upstreamName, names := range allowed {
			matched := false
			for _, n := range names {
				if tool.Name == n || tool.Name == globalName(upstreamName, n) {
					matched = true
					break
				}
			}
			if matched {
				kept = append(kept, tool)
				break
			}
		}
	}
	res.Tools = kept
}

// validateTrustedHeaderJWT validates an ES256-signed JWT against a PEM
// public key.
func validateTrustedHeaderJWT(token string, publicKeyPEM string) (*jwt.Token, error) {
	return jwt.Parse(token, func(_ *jwt.Token) (any, error) {
		block, _ := pem.Decode([]byte(publicKeyPEM))
		if block == nil {
			return nil, fmt.Errorf("trusted header public key is not valid PEM")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("trusted header public key is not an ECDSA key")
		}
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
}
