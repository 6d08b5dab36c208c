package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/transport"
)

const defaultKeepAliveInterval = 60 * time.Second

// Supervisor owns one Runtime per enabled UpstreamSpec and drives each
// through the state machine in spec §4.C3, reconciling on every
// settings-changed event. It implements config.Observer so it can be wired
// directly into a config.Store's Subscribe call, mirroring the teacher's
// MCPBroker (a config.Observer too).
type Supervisor struct {
	mu       sync.Mutex
	entries  map[string]*entry
	logger   *slog.Logger
	notifyMu sync.RWMutex
	notify   []func(upstreamName string)
}

type entry struct {
	runtime *Runtime
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor constructs an empty Supervisor.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "upstream.Supervisor"),
	}
}

// Subscribe registers a callback invoked whenever a runtime's observable
// state (connection state or tool list) may have changed, so the Tool
// Catalog can recompute its projection for that upstream.
func (s *Supervisor) Subscribe(cb func(upstreamName string)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notify = append(s.notify, cb)
}

func (s *Supervisor) fireChanged(name string) {
	s.notifyMu.RLock()
	cbs := append([]func(string){}, s.notify...)
	s.notifyMu.RUnlock()
	for _, cb := range cbs {
		cb(name)
	}
}

// Bootstrap reconciles the supervisor against an initial settings snapshot;
// callers should use this once at startup before subscribing to further
// changes via OnSettingsChanged.
func (s *Supervisor) Bootstrap(ctx context.Context, settings *config.Settings) {
	for _, u := range settings.Upstreams {
		if !u.Enabled {
			continue
		}
		s.start(ctx, u)
	}
}

// OnSettingsChanged implements config.Observer, applying reconciliation
// rules 1-4 from spec §4.C3.
func (s *Supervisor) OnSettingsChanged(ctx context.Context, next *config.Settings, diff *config.SettingsDiff) {
	for _, u := range diff.AddedUpstreams {
		if u.Enabled {
			s.start(ctx, u)
		}
	}
	for _, u := range diff.RemovedUpstreams {
		s.stop(u.Name)
	}
	for _, u := range diff.RestartedUpstreams {
		s.stop(u.Name)
		if u.Enabled {
			s.start(ctx, u)
		}
	}
	for _, u := range diff.ReoverlaidUpstreams {
		s.reoverlay(u)
	}

	// An upstream whose Enabled flag flipped to false lands in
	// RestartedUpstreams (connectionRelevantEqual compares Enabled), where it
	// is stopped and not restarted; this loop also stops any disabled
	// upstream that is still running.
	for _, u := range next.Upstreams {
		if !u.Enabled {
			s.stop(u.Name)
		}
	}
}

func (s *Supervisor) start(ctx context.Context, spec *config.UpstreamSpec) {
	s.mu.Lock()
	if _, exists := s.entries[spec.Name]; exists {
		s.mu.Unlock()
		return
	}
	runtime := newRuntime(spec)
	runCtx, cancel := context.WithCancel(ctx)
	e := &entry{runtime: runtime, cancel: cancel, done: make(chan struct{})}
	s.entries[spec.Name] = e
	s.mu.Unlock()

	go s.manage(runCtx, e)
}

func (s *Supervisor) stop(name string) {
	s.mu.Lock()
	e, exists := s.entries[name]
	if exists {
		delete(s.entries, name)
	}
	s.mu.Unlock()
	if !exists {
		return
	}
	e.cancel()
	<-e.done
	e.runtime.setState(StateClosed)
	s.fireChanged(name)
}

// reoverlay applies a tool-overlay-only settings change in place, without
// tearing down the transport, per spec §4.C3 rule 4.
func (s *Supervisor) reoverlay(spec *config.UpstreamSpec) {
	s.mu.Lock()
	e, exists := s.entries[spec.Name]
	s.mu.Unlock()
	if !exists {
		return
	}
	e.runtime.mu.Lock()
	e.runtime.spec = spec
	e.runtime.mu.Unlock()
	s.fireChanged(spec.Name)
}

// Snapshot returns the current observable state of one upstream.
func (s *Supervisor) Snapshot(name string) (Snapshot, bool) {
	s.mu.Lock()
	e, exists := s.entries[name]
	s.mu.Unlock()
	if !exists {
		return Snapshot{}, false
	}
	return e.runtime.Snapshot(), true
}

// Snapshots returns the current observable state of every supervised upstream.
func (s *Supervisor) Snapshots() []Snapshot {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Snapshot, len(entries))
	for i, e := range entries {
		out[i] = e.runtime.Snapshot()
	}
	return out
}

// Client returns the live UpstreamClient for a ready upstream, or nil.
func (s *Supervisor) Client(name string) transport.UpstreamClient {
	s.mu.Lock()
	e, exists := s.entries[name]
	s.mu.Unlock()
	if !exists {
		return nil
	}
	return e.runtime.Client()
}

// manage runs the per-upstream state machine loop until ctx is cancelled.
// Different upstreams' manage loops run fully in parallel; within one loop,
// operations are strictly serial, satisfying spec §4.C3's concurrency rule.
func (s *Supervisor) manage(ctx context.Context, e *entry) {
	defer close(e.done)
	r := e.runtime
	logger := s.logger.With("upstream", r.name)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r.setState(StateConnecting)
		s.fireChanged(r.name)

		spec := r.currentSpec()
		client, initResult, err := transport.Dial(ctx, spec)
		if err != nil {
			s.degrade(ctx, e, logger, err)
			if s.waitRetry(ctx, r) {
				return
			}
			continue
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			_ = client.Close()
			s.degrade(ctx, e, logger, err)
			if s.waitRetry(ctx, r) {
				return
			}
			continue
		}

		r.mu.Lock()
		r.client = client
		r.serverInfo = initResult
		r.tools = tools
		r.state = StateReady
		r.lastError = nil
		r.lastProbe = monotonicNow()
		r.mu.Unlock()
		r.backoff.reset()
		s.fireChanged(r.name)
		logger.Info("upstream ready", "tools", len(tools))

		client.OnToolsChanged(func() {
			s.refreshTools(ctx, e, logger)
		})

		if !s.keepAlive(ctx, e, logger) {
			return
		}
		// keepAlive returned because the connection degraded; loop back
		// around to reconnect.
	}
}

func (s *Supervisor) refreshTools(ctx context.Context, e *entry, logger *slog.Logger) {
	r := e.runtime
	client := r.Client()
	if client == nil {
		return
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		logger.Warn("refreshing tool list failed", "error", err)
		return
	}
	r.mu.Lock()
	r.tools = tools
	r.mu.Unlock()
	s.fireChanged(r.name)
}

// keepAlive pings the upstream every keepAliveIntervalMs; two consecutive
// failures degrade the runtime (spec §4.C3). Returns false if ctx was
// cancelled (caller should stop entirely), true if it degraded and the
// caller should attempt to reconnect.
func (s *Supervisor) keepAlive(ctx context.Context, e *entry, logger *slog.Logger) bool {
	r := e.runtime
	interval := defaultKeepAliveInterval
	if ms := r.currentSpec().KeepAliveIntervalMs; ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			client := r.Client()
			if client != nil {
				_ = client.Close()
			}
			return false
		case <-ticker.C:
			client := r.Client()
			if client == nil {
				return true
			}
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				logger.Warn("keep-alive ping failed", "error", err, "consecutive", failures)
				if failures >= 2 {
					_ = client.Close()
					s.degrade(ctx, e, logger, err)
					return true
				}
				continue
			}
			failures = 0
			r.mu.Lock()
			r.lastProbe = monotonicNow()
			r.mu.Unlock()
		}
	}
}

func (s *Supervisor) degrade(ctx context.Context, e *entry, logger *slog.Logger, cause error) {
	r := e.runtime
	r.mu.Lock()
	r.state = StateDegraded
	r.lastError = cause
	r.mu.Unlock()
	s.fireChanged(r.name)
	logger.Warn("upstream degraded", "error", cause)
}

// waitRetry blocks until the backoff delay elapses or ctx is cancelled;
// returns true if the caller should stop (ctx cancelled).
func (s *Supervisor) waitRetry(ctx context.Context, r *Runtime) bool {
	delay := r.backoff.next()
	r.mu.Lock()
	r.nextRetry = monotonicNow().Add(delay)
	r.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

func monotonicNow() time.Time {
	return time.Now()
}
