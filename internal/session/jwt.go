// Package session implements the C7 Downstream Session Manager: a JWT-backed
// server.SessionIdManager, a field-cache-backed record Store, and the
// Manager that ties a session's lifecycle to its catalog-driven tool view.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// DefaultSessionDuration is the default lifetime of a session id JWT,
	// independent of the Manager's own idle-timeout sweep.
	DefaultSessionDuration = 24 * time.Hour
	issuer                 = "mcp-hub"
)

// Deleter lets the JWTManager evict a session's recorded state when mcp-go
// terminates it (DELETE on the streamable-http transport, or idle cleanup).
// *Manager implements this.
type Deleter interface {
	DeleteSessions(ctx context.Context, key ...string) error
}

var _ server.SessionIdManager = &JWTManager{}

// Claims represents the claims in a session JWT
type Claims struct {
	jwt.RegisteredClaims
}

// JWTManager handles JWT generation and validation for session IDs
type JWTManager struct {
	signingKey     []byte
	duration       time.Duration
	logger         *slog.Logger
	sessionDeleter Deleter
}

// NewJWTManager creates a new JWT manager with the provided signing key
func NewJWTManager(signingKey string, sessionLength int64, logger *slog.Logger, sessionHandler Deleter) (*JWTManager, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("no signing key provided")
	}
	var sessionDuration = DefaultSessionDuration
	if sessionLength != 0 {
		sessionDuration = time.Duration(sessionLength) * time.Minute
	}

	return &JWTManager{
		signingKey:     []byte(signingKey),
		duration:       sessionDuration,
		logger:         logger,
		sessionDeleter: sessionHandler,
	}, nil
}

// generateSessionJWT creates a JWT token
func (m *JWTManager) generateSessionJWT() (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.duration)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{issuer},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.signingKey)
}

// Generate returns a fresh session id JWT, satisfying server.SessionIdManager.
func (m *JWTManager) Generate() string {
	sessID, err := m.generateSessionJWT()
	if err != nil {
		m.logger.Error("failed to generate session id", "error", err)
		return ""
	}
	return sessID
}

// Validate checks a presented session id JWT, satisfying
// server.SessionIdManager. The bool return is "isInvalid", matching mcp-go's
// convention, not "isValid".
func (m *JWTManager) Validate(tokenValue string) (bool, error) {
	token, err := jwt.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// verify signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil

	})
	if err != nil {
		return true, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return true, nil
	}
	return false, nil
}

// GetExpiresIn returns the time a token will expire
func (m *JWTManager) GetExpiresIn(tokenValue string) (time.Time, error) {
	token, err := jwt.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// verify signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.signingKey, nil

	})
	if err != nil {
		return time.Now(), fmt.Errorf("failed to parse token: %w", err)
	}
	nd, err := token.Claims.GetExpirationTime()
	if err != nil {
		return time.Now(), fmt.Errorf("failed to parse token: %w", err)
	}
	return nd.Time, nil
}

// SetDeleter wires the session deleter after construction, breaking the
// natural construction cycle between JWTManager and Manager (Manager embeds
// a JWTManager it needs at construction time; the JWTManager's deleter is
// that same Manager).
func (m *JWTManager) SetDeleter(d Deleter) {
	m.sessionDeleter = d
}

// Terminate satisfies server.SessionIdManager: mcp-go calls this on an
// explicit DELETE against the streamable-http transport, giving the Manager
// a chance to drop the session's record and cancel its in-flight calls.
func (m *JWTManager) Terminate(sessionID string) (isNotAllowed bool, err error) {
	if m.sessionDeleter != nil {
		if err := m.sessionDeleter.DeleteSessions(context.Background(), sessionID); err != nil {
			return false, fmt.Errorf("clearing session state for %q: %w", sessionID, err)
		}
	}
	return false, nil
}
