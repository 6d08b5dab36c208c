package catalog

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/config"
	"github.com/kagenti/mcp-hub/internal/upstream"
)

func TestComputeDescriptorsAppliesOverlay(t *testing.T) {
	snap := upstream.Snapshot{
		Name: "weather",
		Tools: []mcp.Tool{
			{Name: "forecast", Description: "raw description"},
		},
		ToolOverlays: map[string]config.ToolOverlay{
			"forecast": {DescriptionOverride: "overridden"},
		},
	}

	out := computeDescriptors(snap, false)
	require.Len(t, out, 1)
	d := out["forecast"]
	require.Equal(t, "overridden", d.Description)
	require.True(t, d.Enabled)
	require.False(t, d.UpstreamDegraded)
}

func TestComputeDescriptorsDisabledOverlay(t *testing.T) {
	disabled := false
	snap := upstream.Snapshot{
		Name: "weather",
		Tools: []mcp.Tool{
			{Name: "forecast", Description: "d"},
		},
		ToolOverlays: map[string]config.ToolOverlay{
			"forecast": {Enabled: &disabled},
		},
	}

	out := computeDescriptors(snap, true)
	require.False(t, out["forecast"].Enabled)
	require.True(t, out["forecast"].UpstreamDegraded)
}

func TestDiffUpstreamDescriptorsAddedRemovedChanged(t *testing.T) {
	old := map[string]Descriptor{
		"a": {ToolName: "a", Description: "old", Enabled: true},
		"b": {ToolName: "b", Description: "same", Enabled: true},
	}
	next := map[string]Descriptor{
		"a": {ToolName: "a", Description: "new", Enabled: true},
		"b": {ToolName: "b", Description: "same", Enabled: true},
		"c": {ToolName: "c", Description: "fresh", Enabled: true},
	}

	diff := diffUpstreamDescriptors(old, next)
	require.Len(t, diff.Added, 1)
	require.Equal(t, "c", diff.Added[0].ToolName)
	require.Len(t, diff.Changed, 1)
	require.Equal(t, "a", diff.Changed[0].ToolName)
	require.Empty(t, diff.Removed)
}

func TestDiffUpstreamDescriptorsNoChangeIsEmpty(t *testing.T) {
	m := map[string]Descriptor{"a": {ToolName: "a", Description: "x", Enabled: true}}
	diff := diffUpstreamDescriptors(m, m)
	require.True(t, diff.empty())
}

func TestDiffUpstreamDescriptorsRemoved(t *testing.T) {
	old := map[string]Descriptor{"a": {ToolName: "a"}}
	diff := diffUpstreamDescriptors(old, nil)
	require.Len(t, diff.Removed, 1)
	require.Empty(t, diff.Added)
}

func TestCatalogOnUpstreamChangedIgnoresUnknownUpstream(t *testing.T) {
	sup := upstream.NewSupervisor(nil)
	cat := New(sup, nil)
	cat.Start()

	var gotOld, gotNew uint64
	var gotDiff Diff
	notified := 0
	cat.Subscribe(func(oldVersion, newVersion uint64, diff Diff) {
		notified++
		gotOld, gotNew, gotDiff = oldVersion, newVersion, diff
	})

	require.Equal(t, uint64(0), cat.Version())
	require.Empty(t, cat.List())

	cat.onUpstreamChanged("missing-upstream")
	require.Equal(t, 0, notified, "an upstream with no snapshot must not bump the version")
	require.Equal(t, uint64(0), cat.Version())
	_ = gotOld
	_ = gotNew
	_ = gotDiff
}
