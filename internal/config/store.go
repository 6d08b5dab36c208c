package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Persister is the optional collaborator that durably records a Settings
// snapshot (to disk, to a config-map, wherever). Per spec §4.C1, persistence
// is a collaborator, not the Store's own responsibility: a Persister failure
// is logged but never rolls back the in-memory mutation.
type Persister interface {
	Persist(ctx context.Context, s *Settings) error
}

// Observer is notified after every successful, non-empty Mutate call, mirroring
// the teacher's config.Observer/Notify pattern in spirit but carrying a typed diff.
type Observer interface {
	OnSettingsChanged(ctx context.Context, next *Settings, diff *SettingsDiff)
}

// ObserverFunc adapts a plain function to an Observer.
type ObserverFunc func(ctx context.Context, next *Settings, diff *SettingsDiff)

// OnSettingsChanged implements Observer.
func (f ObserverFunc) OnSettingsChanged(ctx context.Context, next *Settings, diff *SettingsDiff) {
	f(ctx, next, diff)
}

// Store is the C1 Settings Store: a copy-on-write holder of the authoritative
// Settings snapshot. Reads are lock-free via atomic.Pointer; writes are
// serialized through a single mutex so two concurrent Mutate calls never
// interleave their clone-modify-validate-publish cycle (spec §5 concurrency
// model, §4.C1).
type Store struct {
	current atomic.Pointer[Settings]

	mu         sync.Mutex // serializes Mutate calls
	persister  Persister
	logger     *slog.Logger
	observers  []Observer
	obsMu      sync.RWMutex
}

// NewStore creates a Store seeded with the given initial settings (or an
// empty one if nil).
func NewStore(initial *Settings, logger *slog.Logger) *Store {
	if initial == nil {
		initial = Empty()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{logger: logger.With("component", "config.Store")}
	s.current.Store(initial.clone())
	return s
}

// SetPersister installs the durability collaborator. Not safe to call
// concurrently with Mutate.
func (s *Store) SetPersister(p Persister) {
	s.persister = p
}

// Subscribe registers an observer that is notified, in registration order,
// after every successful Mutate that produces a non-empty diff.
func (s *Store) Subscribe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Snapshot returns the current Settings. The returned value must be treated
// as read-only by callers; it is shared across goroutines.
func (s *Store) Snapshot() *Settings {
	return s.current.Load()
}

// Mutate applies fn to a private clone of the current settings, validates the
// result, and — if anything actually changed — publishes it as the new
// current snapshot and notifies observers. fn mutating the clone and
// returning nil is how callers express an edit; returning an error aborts
// without publishing anything (spec §4.C1's "idempotent, observable" mutation
// contract, and §8's idempotence testable property).
func (s *Store) Mutate(ctx context.Context, fn func(*Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()
	next := prev.clone()

	if err := fn(next); err != nil {
		return fmt.Errorf("mutating settings: %w", err)
	}
	if err := next.validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	diff := diffSettings(prev, next)
	if diff.Empty() {
		return nil
	}

	s.current.Store(next)

	if s.persister != nil {
		if err := s.persister.Persist(ctx, next); err != nil {
			s.logger.Error("persisting settings failed", "error", err)
		}
	}

	s.obsMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.OnSettingsChanged(ctx, next, diff)
	}
	return nil
}

// NewGroupID mints a fresh UUIDv4 group identifier, per spec §3's
// "id (UUIDv4)" field.
func NewGroupID() string {
	return uuid.NewString()
}
