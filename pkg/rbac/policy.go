package rbac

import (
	"fmt"
	"sync"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
)

func perms(module catalog.ModuleID, actions ...catalog.ActionID) []catalog.Permission {
	out := make([]catalog.Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, catalog.Permission{Module: module, Action: a})
	}
	return out
}

func concat(groups ...[]catalog.Permission) []catalog.Permission {
	var out []catalog.Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// BuiltInDefaults returns the shipped default policy of every editable role
func BuiltInDefaults() map[Role][]catalog.Permission {
	const (
		view   = catalog.ActionView
		create = catalog.ActionCreate
		edit   = catalog.ActionEdit
		export = catalog.ActionExport
	)
	return map[Role][]catalog.Permission{
		RoleSchool: concat(
			perms(catalog.ModuleStudents, view, create, edit),
			perms(catalog.ModuleOccurrences, view, create, edit),
			perms(catalog.ModuleReferrals, view, create),
			perms(catalog.ModuleMedications, view),
			perms(catalog.ModuleDashboard, view),
		),
		RoleCounselor: concat(
			perms(catalog.ModuleStudents, view),
			perms(catalog.ModuleOccurrences, view),
			perms(catalog.ModuleReferrals, view, create, edit, export),
			perms(catalog.ModuleReports, view, export),
			perms(catalog.ModuleDashboard, view),
		),
		RoleProsecutor: concat(
			perms(catalog.ModuleStudents, view),
			perms(catalog.ModuleReferrals, view, export),
			perms(catalog.ModuleReports, view, create, export),
			perms(catalog.ModuleSchools, view),
			perms(catalog.ModuleDashboard, view),
		),
		RoleTeacher: concat(
			perms(catalog.ModuleStudents, view),
			perms(catalog.ModuleOccurrences, view, create),
			perms(catalog.ModuleDashboard, view),
		),
	}
}

// Policy holds the default grant set of every role. The admin role is not
// stored: its defaults are always the full catalog.
type Policy struct {
	mu       sync.RWMutex
	defaults map[Role]PermissionSet
}

// NewPolicy creates a policy from the given defaults. Editable roles missing
// from defaults start with an empty set; admin and unknown keys are ignored.
func NewPolicy(defaults map[Role][]catalog.Permission) *Policy {
	p := &Policy{defaults: make(map[Role]PermissionSet)}
	for _, r := range Roles() {
		if r.Editable() {
			p.defaults[r] = NewPermissionSet(defaults[r]...)
		}
	}
	return p
}

// Defaults returns a copy of the default grants for role
func (p *Policy) Defaults(role Role) PermissionSet {
	if role == RoleAdmin {
		return NewPermissionSet(catalog.All()...)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaults[role].Clone()
}

// SetDefaults replaces the default grants of role and returns the previous set
func (p *Policy) SetDefaults(role Role, perms []catalog.Permission) (PermissionSet, error) {
	if !role.Editable() {
		return PermissionSet{}, fmt.Errorf("%w: %s", ErrRoleNotEditable, role)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.defaults[role]
	p.defaults[role] = NewPermissionSet(perms...)
	return old, nil
}

// All returns a copy of every editable role's defaults
func (p *Policy) All() map[Role]PermissionSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Role]PermissionSet, len(p.defaults))
	for r, s := range p.defaults {
		out[r] = s.Clone()
	}
	return out
}

// replace swaps every stored default; callers hold p.mu
func (p *Policy) replace(defaults map[Role]PermissionSet) {
	next := make(map[Role]PermissionSet)
	for _, r := range Roles() {
		if r.Editable() {
			next[r] = defaults[r].Clone()
		}
	}
	p.defaults = next
}
