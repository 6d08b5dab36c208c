package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSettingsValidate(t *testing.T) {
	t.Run("duplicate upstream name rejected", func(t *testing.T) {
		s := &Settings{
			Upstreams: []*UpstreamSpec{
				{Name: "a", Kind: KindStdio, Command: "echo"},
				{Name: "a", Kind: KindStdio, Command: "echo"},
			},
		}
		require.Error(t, s.validate())
	})

	t.Run("stdio upstream requires command", func(t *testing.T) {
		s := &Settings{Upstreams: []*UpstreamSpec{{Name: "a", Kind: KindStdio}}}
		require.Error(t, s.validate())
	})

	t.Run("sse upstream requires url", func(t *testing.T) {
		s := &Settings{Upstreams: []*UpstreamSpec{{Name: "a", Kind: KindSSE}}}
		require.Error(t, s.validate())
	})

	t.Run("group referencing same upstream twice rejected", func(t *testing.T) {
		s := &Settings{
			Groups: []*Group{{
				ID:   "g1",
				Name: "dev",
				Servers: []GroupServer{
					{UpstreamName: "a"},
					{UpstreamName: "a"},
				},
			}},
		}
		require.Error(t, s.validate())
	})

	t.Run("valid settings pass", func(t *testing.T) {
		s := &Settings{
			Upstreams: []*UpstreamSpec{
				{Name: "a", Kind: KindStdio, Command: "echo"},
				{Name: "b", Kind: KindSSE, URL: "http://localhost:9000/sse"},
			},
			Groups: []*Group{{
				ID:   "g1",
				Name: "dev",
				Servers: []GroupServer{
					{UpstreamName: "a"},
					{UpstreamName: "b", SelectedTools: []string{"hello_world"}},
				},
			}},
		}
		require.NoError(t, s.validate())
	})
}

func TestUpstreamSpecClone(t *testing.T) {
	u := &UpstreamSpec{
		Name: "a",
		Kind: KindStdio,
		Args: []string{"--foo"},
		Env:  map[string]string{"X": "1"},
		Tools: map[string]ToolOverlay{
			"t": {DescriptionOverride: "d"},
		},
	}
	c := u.clone()
	c.Args[0] = "--bar"
	c.Env["X"] = "2"
	c.Tools["t"] = ToolOverlay{DescriptionOverride: "changed"}

	require.Equal(t, "--foo", u.Args[0])
	require.Equal(t, "1", u.Env["X"])
	require.Equal(t, "d", u.Tools["t"].DescriptionOverride)
}

func TestToolOverlayIsEnabled(t *testing.T) {
	var nilOverlay *ToolOverlay
	require.True(t, nilOverlay.IsEnabled())

	disabled := false
	o := &ToolOverlay{Enabled: &disabled}
	require.False(t, o.IsEnabled())

	o2 := &ToolOverlay{}
	require.True(t, o2.IsEnabled())
}

func TestConnectionRelevantEqual(t *testing.T) {
	a := &UpstreamSpec{Name: "a", Kind: KindHTTPStream, URL: "http://x", Tools: map[string]ToolOverlay{}}
	b := a.clone()
	require.True(t, a.connectionRelevantEqual(b))

	b.Tools["t"] = ToolOverlay{DescriptionOverride: "new"}
	require.True(t, a.connectionRelevantEqual(b), "tool overlay changes must not count as connection-relevant")

	b2 := a.clone()
	b2.URL = "http://y"
	require.False(t, a.connectionRelevantEqual(b2))
}
