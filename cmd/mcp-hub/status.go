package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kagenti/mcp-hub/internal/catalog"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

// upstreamStatus is one upstream's entry in the /status report, grounded on
// the teacher's internal/broker/status.go ServerValidationStatus shape.
type upstreamStatus struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Enabled             bool      `json:"enabled"`
	IsReachable         bool      `json:"isReachable"`
	LastError           string    `json:"lastError,omitempty"`
	ToolCount           int       `json:"toolCount"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastProbe           time.Time `json:"lastProbe"`
	NextRetryAt         time.Time `json:"nextRetryAt,omitempty"`
}

type statusResponse struct {
	Upstreams        []upstreamStatus `json:"upstreams"`
	TotalUpstreams   int              `json:"totalUpstreams"`
	HealthyUpstreams int              `json:"healthyUpstreams"`
	ToolConflicts    []toolConflict   `json:"toolConflicts"`
	CatalogVersion   uint64           `json:"catalogVersion"`
	Timestamp        time.Time        `json:"timestamp"`
}

type toolConflict struct {
	ToolName      string   `json:"toolName"`
	ConflictsWith []string `json:"conflictsWith"`
}

// statusHandler implements the supplemented /status endpoint (SPEC_FULL.md
// §4), reporting reachability and tool-name conflicts across all upstreams.
type statusHandler struct {
	supervisor *upstream.Supervisor
	catalog    *catalog.Catalog
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	snaps := h.supervisor.Snapshots()
	resp := statusResponse{
		Timestamp:      time.Now(),
		CatalogVersion: h.catalog.Version(),
	}
	for _, snap := range snaps {
		resp.Upstreams = append(resp.Upstreams, upstreamStatus{
			Name:                snap.Name,
			State:               string(snap.State),
			Enabled:             snap.Enabled,
			IsReachable:         snap.State == upstream.StateReady || snap.State == upstream.StateDegraded,
			LastError:           errString(snap.LastError),
			ToolCount:           len(snap.Tools),
			ConsecutiveFailures: snap.ConsecutiveFailures,
			LastProbe:           snap.LastProbe,
			NextRetryAt:         snap.NextRetryAt,
		})
		if snap.State == upstream.StateReady || snap.State == upstream.StateDegraded {
			resp.HealthyUpstreams++
		}
	}
	resp.TotalUpstreams = len(resp.Upstreams)
	resp.ToolConflicts = findToolConflicts(h.catalog.List())

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode status", http.StatusInternalServerError)
	}
}

// findToolConflicts reports every tool name exposed by more than one
// upstream, the set the disambiguation rule in spec §3/§4.C8 resolves at
// session view construction time.
func findToolConflicts(descriptors []catalog.Descriptor) []toolConflict {
	byName := make(map[string][]string)
	for _, d := range descriptors {
		byName[d.ToolName] = append(byName[d.ToolName], d.UpstreamName)
	}
	var conflicts []toolConflict
	for name, upstreams := range byName {
		if len(upstreams) > 1 {
			conflicts = append(conflicts, toolConflict{ToolName: name, ConflictsWith: upstreams})
		}
	}
	return conflicts
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
