package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kagenti/mcp-hub/internal/access"
	"github.com/kagenti/mcp-hub/internal/config"
)

// Record is the persisted half of a session: enough to reconstruct which
// scope and principal a session id maps to, without the live *server.MCPServer
// that Manager keeps in memory only.
type Record struct {
	ID          string
	ScopeKind   access.ScopeKind
	ScopeName   string
	PrincipalID string
	IsAdmin     bool
	CreatedAt   time.Time
}

// Store persists session records in the field cache (Redis, or in-memory for
// a single-process deployment), so a restart doesn't silently orphan every
// live client.
type Store struct {
	cache *fieldCache
}

// NewStore opens a Store. connString is a redis:// URL, or empty for the
// in-memory fallback.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	opts := []func(*fieldCache){}
	if connString != "" {
		opts = append(opts, withConnectionString(connString))
	}
	c, err := newFieldCache(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return &Store{cache: c}, nil
}

// Save writes rec's fields under rec.ID.
func (s *Store) Save(ctx context.Context, rec Record) error {
	fields := map[string]string{
		"scopeKind":   string(rec.ScopeKind),
		"scopeName":   rec.ScopeName,
		"principalID": rec.PrincipalID,
		"isAdmin":     strconv.FormatBool(rec.IsAdmin),
		"createdAt":   strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
	}
	for field, value := range fields {
		if err := s.cache.SetField(ctx, rec.ID, field, value); err != nil {
			return fmt.Errorf("saving session %q: %w", rec.ID, err)
		}
	}
	return nil
}

// Load reads back a previously saved Record.
func (s *Store) Load(ctx context.Context, id string) (Record, bool, error) {
	exists, err := s.cache.KeyExists(ctx, id)
	if err != nil || !exists {
		return Record{}, false, err
	}
	fields, err := s.cache.Fields(ctx, id)
	if err != nil {
		return Record{}, false, err
	}
	rec := Record{
		ID:          id,
		ScopeKind:   access.ScopeKind(fields["scopeKind"]),
		ScopeName:   fields["scopeName"],
		PrincipalID: fields["principalID"],
		IsAdmin:     fields["isAdmin"] == "true",
	}
	if nanos, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(0, nanos)
	}
	return rec, true, nil
}

// DeleteSessions satisfies Deleter; Manager.DeleteSessions (the JWTManager's
// deleter and the idle sweep's close path) calls it to evict session records
// in one call.
func (s *Store) DeleteSessions(ctx context.Context, key ...string) error {
	if len(key) == 0 {
		return nil
	}
	return s.cache.Delete(ctx, key...)
}

// Close releases the underlying connection, if any.
func (s *Store) Close() error {
	return s.cache.Close()
}

// principalFromRecord rebuilds the config.Principal a resolved scope needs
// from what was persisted.
func principalFromRecord(rec Record) *config.Principal {
	if rec.PrincipalID == "" && !rec.IsAdmin {
		return config.AnonymousPrincipal()
	}
	return &config.Principal{ID: rec.PrincipalID, IsAdmin: rec.IsAdmin}
}
