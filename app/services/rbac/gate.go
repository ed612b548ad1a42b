package rbac

import (
	"sync"

	"fleetward/faults"
)

// Actor is the caller identity the engine trusts: the role arrives
// already assigned, authentication happened somewhere upstream.
type Actor struct {
	Name   string
	Role   string
	Source string // address or subsystem the call originated from
}

// SystemActor is used for engine-internal mutations (retries, scoring,
// auto-resolution) so the audit trail still names a principal.
var SystemActor = Actor{Name: "system", Role: RoleAdmin, Source: "engine"}

// Gate answers permission checks against the role map.
type Gate struct {
	mu    sync.RWMutex
	roles map[string][]string
}

func NewGate(roles map[string][]string) *Gate {
	if roles == nil {
		roles = BuiltinRoles()
	}
	return &Gate{roles: roles}
}

// SetRoles replaces the role map (hot-reload path).
func (g *Gate) SetRoles(roles map[string][]string) {
	g.mu.Lock()
	g.roles = roles
	g.mu.Unlock()
}

// Assert returns an AccessDenied fault when the role's permission set
// holds neither the permission nor the all-wildcard.
func (g *Gate) Assert(permission, role string) error {
	g.mu.RLock()
	perms, ok := g.roles[role]
	g.mu.RUnlock()
	if !ok {
		return faults.Newf(faults.KindAccessDenied, "unknown role %q", role)
	}
	for _, p := range perms {
		if p == permission || p == PermAll {
			return nil
		}
	}
	return faults.Newf(faults.KindAccessDenied, "role %q lacks permission %q", role, permission)
}
