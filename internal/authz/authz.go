package authz

import (
	"fmt"
	"sync"

	"goldsynth/internal/domain"
)

// Role names a capability class. The set is fixed at compile time; membership
// is mutable at runtime through Grant/Revoke.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleOperator       Role = "operator"
	RolePauser         Role = "pauser"
	RoleUpgrader       Role = "upgrader"
	RoleCircuitManager Role = "circuit-manager"
)

// Authorizer is an explicit role table consulted by every gated operation.
// Components hold a reference and call Require; no inheritance involved.
type Authorizer struct {
	mu    sync.RWMutex
	roles map[Role]map[domain.Address]struct{}
}

// New seeds the table with an initial admin, who also receives every other
// role so a fresh deployment is operable before delegation.
func New(admin domain.Address) *Authorizer {
	a := &Authorizer{roles: make(map[Role]map[domain.Address]struct{})}
	for _, r := range []Role{RoleAdmin, RoleOperator, RolePauser, RoleUpgrader, RoleCircuitManager} {
		a.roles[r] = map[domain.Address]struct{}{admin: {}}
	}
	return a
}

// Has reports whether principal holds role.
func (a *Authorizer) Has(role Role, principal domain.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.roles[role][principal]
	return ok
}

// Require returns ErrUnauthorized unless principal holds role.
func (a *Authorizer) Require(principal domain.Address, role Role) error {
	if !a.Has(role, principal) {
		return fmt.Errorf("%w: %s lacks role %s", domain.ErrUnauthorized, principal, role)
	}
	return nil
}

// Grant adds principal to role. Caller must be an admin.
func (a *Authorizer) Grant(caller domain.Address, role Role, principal domain.Address) error {
	if err := a.Require(caller, RoleAdmin); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	members, ok := a.roles[role]
	if !ok {
		members = make(map[domain.Address]struct{})
		a.roles[role] = members
	}
	members[principal] = struct{}{}
	return nil
}

// Revoke removes principal from role. Caller must be an admin.
func (a *Authorizer) Revoke(caller domain.Address, role Role, principal domain.Address) error {
	if err := a.Require(caller, RoleAdmin); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.roles[role], principal)
	return nil
}
