// Package upstream implements the C3 Upstream Supervisor: one record per
// configured upstream, advancing through the state machine spec §4.C3
// describes, and reconciling with the Settings Store on every change.
package upstream

import (
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/transport"
)

// State is one of the five lifecycle states an UpstreamRuntime occupies.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateDegraded     State = "degraded"
	StateClosed       State = "closed"
)

// Runtime is the mutable counterpart to a config.UpstreamSpec, maintained
// exclusively by its Supervisor goroutine (spec §3 "UpstreamRuntime").
type Runtime struct {
	mu sync.RWMutex

	name       string
	spec       *config.UpstreamSpec
	state      State
	client     transport.UpstreamClient
	serverInfo *mcp.InitializeResult
	tools      []mcp.Tool
	lastError  error
	nextRetry  time.Time
	lastProbe  time.Time

	backoff *backoffState
}

func newRuntime(spec *config.UpstreamSpec) *Runtime {
	return &Runtime{
		name:    spec.Name,
		spec:    spec,
		state:   StateDisconnected,
		backoff: newBackoffState(),
	}
}

// Snapshot is an immutable, point-in-time view of a Runtime, safe to hand to
// other components (catalog, status endpoint) without a lock. It carries the
// upstream's current tool overlay too, so the Tool Catalog (C4) can apply
// spec §4.C4's overlay rules without a direct dependency on the Settings
// Store — it depends only on C3, per spec's component table.
type Snapshot struct {
	Name                string
	State               State
	Enabled             bool
	ServerInfo          *mcp.InitializeResult
	Tools               []mcp.Tool
	ToolOverlays        map[string]config.ToolOverlay
	LastError           error
	ConsecutiveFailures int
	LastProbe           time.Time
	NextRetryAt         time.Time
}

// Snapshot returns a copy of the runtime's current observable state.
func (r *Runtime) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]mcp.Tool, len(r.tools))
	copy(tools, r.tools)
	overlays := make(map[string]config.ToolOverlay, len(r.spec.Tools))
	for k, v := range r.spec.Tools {
		overlays[k] = v
	}
	return Snapshot{
		Name:                r.name,
		State:               r.state,
		Enabled:             r.spec.Enabled,
		ServerInfo:          r.serverInfo,
		Tools:               tools,
		ToolOverlays:        overlays,
		LastError:           r.lastError,
		ConsecutiveFailures: r.backoff.consecutiveFailures(),
		LastProbe:           r.lastProbe,
		NextRetryAt:         r.nextRetry,
	}
}

// Client returns the live UpstreamClient if the runtime is ready, else nil.
func (r *Runtime) Client() transport.UpstreamClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateReady {
		return nil
	}
	return r.client
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

func (r *Runtime) currentSpec() *config.UpstreamSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.spec
}
