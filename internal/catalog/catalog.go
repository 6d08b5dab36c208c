// Package catalog implements the C4 Tool Catalog: an in-memory projection
// (upstreamName, toolName) -> EffectiveToolDescriptor, refreshed whenever the
// Upstream Supervisor reports a change, with a strictly monotonic version
// counter per spec §4.C4.
package catalog

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/kagenti/mcp-hub/internal/upstream"
)

// Descriptor is spec §3's EffectiveToolDescriptor.
type Descriptor struct {
	UpstreamName  string
	ToolName      string
	EffectiveName string
	Description   string
	InputSchema   any
	Enabled       bool
	// UpstreamDegraded mirrors the owning upstream's runtime state at the
	// time this descriptor was computed. The catalog keeps serving a
	// degraded upstream's last-known tools (spec §8 scenario 6: "tools/list
	// ... continues to include A's tools ... if hideDegradedUpstreamsFromList
	// is false"); callers that need to hide them filter on this field.
	UpstreamDegraded bool
}

// Diff describes what changed between two catalog versions, delivered to
// subscribers (spec §4.C4 "subscribe(cb) delivers (oldVersion, newVersion, diff)").
type Diff struct {
	Added   []Descriptor
	Removed []Descriptor
	Changed []Descriptor
}

func (d Diff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Subscriber is notified after a version bump.
type Subscriber func(oldVersion, newVersion uint64, diff Diff)

// Catalog holds the current effective tool projection. It subscribes to an
// upstream.Supervisor and recomputes its projection for the affected
// upstream on every notification, per spec's C4-depends-on-C3-only
// dependency.
type Catalog struct {
	mu         sync.RWMutex
	supervisor *upstream.Supervisor
	logger     *slog.Logger

	version     uint64
	byUpstream  map[string]map[string]Descriptor // upstreamName -> toolName -> descriptor

	subMu sync.RWMutex
	subs  []Subscriber
}

// New constructs a Catalog bound to the given supervisor. Callers must call
// Start to begin receiving updates.
func New(supervisor *upstream.Supervisor, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		supervisor: supervisor,
		logger:     logger.With("component", "catalog.Catalog"),
		byUpstream: make(map[string]map[string]Descriptor),
	}
	return c
}

// Start registers the catalog as a supervisor subscriber. Safe to call once.
func (c *Catalog) Start() {
	c.supervisor.Subscribe(c.onUpstreamChanged)
}

func (c *Catalog) onUpstreamChanged(upstreamName string) {
	snap, exists := c.supervisor.Snapshot(upstreamName)
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.byUpstream[upstreamName]
	var next map[string]Descriptor
	switch {
	case !exists || !snap.Enabled:
		// Removed from settings or administratively disabled: drop entirely.
		next = nil
	case snap.State == upstream.StateReady:
		next = computeDescriptors(snap, false)
	case snap.State == upstream.StateDegraded:
		// Keep serving the last tool list the upstream reported while ready;
		// scenario 6 requires tools/list to keep listing it unless the
		// operator opted into hideDegradedUpstreamsFromList.
		next = computeDescriptors(snap, true)
	default:
		// Connecting/closed/disconnected: nothing to serve yet.
		next = nil
	}

	diff := diffUpstreamDescriptors(old, next)
	if diff.empty() {
		return
	}

	if len(next) == 0 {
		delete(c.byUpstream, upstreamName)
	} else {
		c.byUpstream[upstreamName] = next
	}

	oldVersion := c.version
	c.version++
	newVersion := c.version
	c.logger.Info("catalog version bumped", "upstream", upstreamName, "old", oldVersion, "new", newVersion)

	c.notify(oldVersion, newVersion, diff)
}

func (c *Catalog) notify(oldVersion, newVersion uint64, diff Diff) {
	c.subMu.RLock()
	subs := append([]Subscriber{}, c.subs...)
	c.subMu.RUnlock()
	for _, s := range subs {
		s(oldVersion, newVersion, diff)
	}
}

// Subscribe registers a callback for future version bumps.
func (c *Catalog) Subscribe(s Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = append(c.subs, s)
}

// Version returns the current monotonic catalog version.
func (c *Catalog) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// List returns all descriptors across all upstreams, ordered by
// (upstreamName, toolName) per spec §4.C4.
func (c *Catalog) List() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listLocked(nil)
}

// ListByUpstream returns descriptors for a single upstream only.
func (c *Catalog) ListByUpstream(name string) []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	toolMap, ok := c.byUpstream[name]
	if !ok {
		return nil
	}
	out := make([]Descriptor, 0, len(toolMap))
	for _, d := range toolMap {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolName < out[j].ToolName })
	return out
}

func (c *Catalog) listLocked(filterUpstreams map[string]bool) []Descriptor {
	var out []Descriptor
	for upstreamName, toolMap := range c.byUpstream {
		if filterUpstreams != nil && !filterUpstreams[upstreamName] {
			continue
		}
		for _, d := range toolMap {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpstreamName != out[j].UpstreamName {
			return out[i].UpstreamName < out[j].UpstreamName
		}
		return out[i].ToolName < out[j].ToolName
	})
	return out
}

func computeDescriptors(snap upstream.Snapshot, degraded bool) map[string]Descriptor {
	out := make(map[string]Descriptor, len(snap.Tools))
	for _, t := range snap.Tools {
		overlay := snap.ToolOverlays[t.Name]
		d := Descriptor{
			UpstreamName:     snap.Name,
			ToolName:         t.Name,
			EffectiveName:    t.Name,
			Description:      t.Description,
			InputSchema:      t.InputSchema,
			Enabled:          overlay.IsEnabled(),
			UpstreamDegraded: degraded,
		}
		if overlay.DescriptionOverride != "" {
			d.Description = overlay.DescriptionOverride
		}
		out[t.Name] = d
	}
	return out
}

// diffUpstreamDescriptors compares the previous and next tool map for one
// upstream, per spec §4.C4's version-bump trigger: added, removed,
// enabled-flag flip, or description-overlay change. A mere unchanged refresh
// produces an empty diff and must not bump the version.
func diffUpstreamDescriptors(old, next map[string]Descriptor) Diff {
	var diff Diff
	for name, nd := range next {
		od, existed := old[name]
		if !existed {
			diff.Added = append(diff.Added, nd)
			continue
		}
		if od.Enabled != nd.Enabled || od.Description != nd.Description || od.UpstreamDegraded != nd.UpstreamDegraded || !schemaEqual(od.InputSchema, nd.InputSchema) {
			diff.Changed = append(diff.Changed, nd)
		}
	}
	for name, od := range old {
		if _, stillExists := next[name]; !stillExists {
			diff.Removed = append(diff.Removed, od)
		}
	}
	return diff
}

func schemaEqual(a, b any) bool {
	aj, aerr := json.Marshal(a)
	bj, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return string(aj) == string(bj)
}
