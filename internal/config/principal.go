package config

// Principal is the authenticated identity driving a request (spec §3),
// supplied by the AuthContext collaborator — authentication itself is out
// of scope for this core.
type Principal struct {
	ID          string
	DisplayName string
	IsAdmin     bool
	Permissions []string
}

// AnonymousPrincipal is used when anonymous auth is configured: an
// unauthenticated caller treated as a full admin, per spec §4.C7 "if
// anonymous auth is configured, an anonymous principal with admin privilege
// is used".
func AnonymousPrincipal() *Principal {
	return &Principal{ID: "anonymous", DisplayName: "anonymous", IsAdmin: true}
}

// HasPermission reports whether the principal carries the named permission,
// admins implicitly having every permission.
func (p *Principal) HasPermission(name string) bool {
	if p == nil {
		return false
	}
	if p.IsAdmin {
		return true
	}
	for _, perm := range p.Permissions {
		if perm == name {
			return true
		}
	}
	return false
}
