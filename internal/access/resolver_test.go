package access

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-hub/internal/config"
)

func settingsFixture() *config.Settings {
	return &config.Settings{
		Upstreams: []*config.UpstreamSpec{
			{Name: "a", Kind: config.KindStdio, Command: "echo", Enabled: true},
			{Name: "b", Kind: config.KindStdio, Command: "echo", Enabled: true, Owner: "alice"},
			{Name: "c", Kind: config.KindStdio, Command: "echo", Enabled: false},
		},
		Groups: []*config.Group{
			{
				ID:   "g1",
				Name: "dev",
				Servers: []config.GroupServer{
					{UpstreamName: "a"},
					{UpstreamName: "b", SelectedTools: []string{"ping"}},
				},
			},
			{ID: "g2", Name: "alice-private", Owner: "alice", Servers: []config.GroupServer{{UpstreamName: "b"}}},
		},
		Flags: config.Flags{AllowGlobal: true},
	}
}

func TestResolveUpstreamScope(t *testing.T) {
	s := settingsFixture()
	admin := &config.Principal{ID: "admin", IsAdmin: true}

	res := Resolve(Scope{Kind: ScopeUpstream, Name: "a"}, admin, s, nil)
	require.Len(t, res.Upstreams, 1)
	require.True(t, res.Upstreams[0].AllowedTools.All)

	res = Resolve(Scope{Kind: ScopeUpstream, Name: "c"}, admin, s, nil)
	require.Empty(t, res.Upstreams, "disabled upstream must resolve empty")
}

func TestResolveGroupScopeAllowlist(t *testing.T) {
	s := settingsFixture()
	admin := &config.Principal{ID: "admin", IsAdmin: true}

	res := Resolve(Scope{Kind: ScopeGroup, Name: "dev"}, admin, s, nil)
	require.Len(t, res.Upstreams, 2)
	for _, u := range res.Upstreams {
		if u.UpstreamName == "b" {
			require.False(t, u.AllowedTools.All)
			require.True(t, u.AllowedTools.Allows("ping"))
			require.False(t, u.AllowedTools.Allows("nuke"))
		} else {
			require.True(t, u.AllowedTools.All)
		}
	}
}

func TestResolveGroupVisibilityNonAdmin(t *testing.T) {
	s := settingsFixture()
	bob := &config.Principal{ID: "bob"}

	res := Resolve(Scope{Kind: ScopeGroup, Name: "alice-private"}, bob, s, nil)
	require.Empty(t, res.Upstreams, "non-owner must not see another principal's private group")

	alice := &config.Principal{ID: "alice"}
	res = Resolve(Scope{Kind: ScopeGroup, Name: "alice-private"}, alice, s, nil)
	require.Len(t, res.Upstreams, 1)
}

func TestResolveGlobalScope(t *testing.T) {
	s := settingsFixture()
	bob := &config.Principal{ID: "bob"}

	res := Resolve(Scope{Kind: ScopeGlobal}, bob, s, nil)
	// bob sees only unowned enabled upstreams: "a" (b is owned by alice, c disabled)
	require.Len(t, res.Upstreams, 1)
	require.Equal(t, "a", res.Upstreams[0].UpstreamName)
}

func TestResolveGlobalDisallowedForNonAdmin(t *testing.T) {
	s := settingsFixture()
	s.Flags.AllowGlobal = false
	bob := &config.Principal{ID: "bob"}

	res := Resolve(Scope{Kind: ScopeGlobal}, bob, s, nil)
	require.Empty(t, res.Upstreams)

	admin := &config.Principal{ID: "admin", IsAdmin: true}
	res = Resolve(Scope{Kind: ScopeGlobal}, admin, s, nil)
	require.NotEmpty(t, res.Upstreams)
}

func TestResolveSmartScope(t *testing.T) {
	s := settingsFixture()
	s.Flags.SmartRoutingEnabled = false
	admin := &config.Principal{ID: "admin", IsAdmin: true}

	res := Resolve(Scope{Kind: ScopeSmart}, admin, s, nil)
	require.True(t, res.IsSmart)
	require.Empty(t, res.Upstreams, "smart routing disabled must resolve empty")

	s.Flags.SmartRoutingEnabled = true
	res = Resolve(Scope{Kind: ScopeSmart}, admin, s, nil)
	require.True(t, res.IsSmart)
	require.NotEmpty(t, res.Upstreams)
}
