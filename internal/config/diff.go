package config

// SettingsDiff describes what changed between two Settings snapshots, at the
// granularity C3 (Upstream Supervisor) and C4 (Tool Catalog) need to react
// correctly without over-reacting (spec §4.C3 reconciliation rules).
type SettingsDiff struct {
	AddedUpstreams     []*UpstreamSpec
	RemovedUpstreams   []*UpstreamSpec
	RestartedUpstreams []*UpstreamSpec // connection-relevant fields changed
	ReoverlaidUpstreams []*UpstreamSpec // only Tools overlay changed
	GroupsChanged      bool
	FlagsChanged       bool
}

// Empty reports whether the diff carries no changes at all, used by Store.Mutate
// to short-circuit no-op writes (spec §8 idempotence property).
func (d *SettingsDiff) Empty() bool {
	if d == nil {
		return true
	}
	return len(d.AddedUpstreams) == 0 &&
		len(d.RemovedUpstreams) == 0 &&
		len(d.RestartedUpstreams) == 0 &&
		len(d.ReoverlaidUpstreams) == 0 &&
		!d.GroupsChanged &&
		!d.FlagsChanged
}

// diffSettings computes the diff a Mutate call produces going from prev to next.
func diffSettings(prev, next *Settings) *SettingsDiff {
	d := &SettingsDiff{}

	prevByName := make(map[string]*UpstreamSpec, len(prev.Upstreams))
	for _, u := range prev.Upstreams {
		prevByName[u.Name] = u
	}
	nextByName := make(map[string]*UpstreamSpec, len(next.Upstreams))
	for _, u := range next.Upstreams {
		nextByName[u.Name] = u
	}

	for name, nu := range nextByName {
		pu, existed := prevByName[name]
		if !existed {
			d.AddedUpstreams = append(d.AddedUpstreams, nu)
			continue
		}
		if !pu.connectionRelevantEqual(nu) {
			d.RestartedUpstreams = append(d.RestartedUpstreams, nu)
		} else if !toolOverlaysEqual(pu.Tools, nu.Tools) {
			d.ReoverlaidUpstreams = append(d.ReoverlaidUpstreams, nu)
		}
	}
	for name, pu := range prevByName {
		if _, stillExists := nextByName[name]; !stillExists {
			d.RemovedUpstreams = append(d.RemovedUpstreams, pu)
		}
	}

	d.GroupsChanged = !groupsEqual(prev.Groups, next.Groups)
	d.FlagsChanged = prev.Flags != next.Flags

	return d
}

func groupsEqual(a, b []*Group) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]*Group, len(a))
	for _, g := range a {
		byID[g.ID] = g
	}
	for _, g := range b {
		prev, ok := byID[g.ID]
		if !ok {
			return false
		}
		if prev.Name != g.Name || prev.Description != g.Description || prev.Owner != g.Owner {
			return false
		}
		if len(prev.Servers) != len(g.Servers) {
			return false
		}
		for i := range g.Servers {
			if prev.Servers[i].UpstreamName != g.Servers[i].UpstreamName {
				return false
			}
			if !stringsEqual(prev.Servers[i].SelectedTools, g.Servers[i].SelectedTools) {
				return false
			}
		}
	}
	return true
}
