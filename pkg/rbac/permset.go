package rbac

import (
	"encoding/json"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
)

// PermissionSet is an insertion-ordered set of grants. The zero value is an
// empty set ready to use. It is not safe for concurrent mutation.
type PermissionSet struct {
	items []catalog.Permission
	index map[catalog.Permission]struct{}
}

// NewPermissionSet builds a set, dropping duplicates
func NewPermissionSet(perms ...catalog.Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s.Add(p)
	}
	return s
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p catalog.Permission) bool {
	_, ok := s.index[p]
	return ok
}

// Add inserts p and reports whether the set changed
func (s *PermissionSet) Add(p catalog.Permission) bool {
	if s.Has(p) {
		return false
	}
	if s.index == nil {
		s.index = make(map[catalog.Permission]struct{})
	}
	s.index[p] = struct{}{}
	s.items = append(s.items, p)
	return true
}

// Remove deletes p and reports whether the set changed
func (s *PermissionSet) Remove(p catalog.Permission) bool {
	if !s.Has(p) {
		return false
	}
	delete(s.index, p)
	for i, item := range s.items {
		if item == p {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

// Toggle flips membership of p and reports whether p is now present
func (s *PermissionSet) Toggle(p catalog.Permission) bool {
	if s.Remove(p) {
		return false
	}
	s.Add(p)
	return true
}

// Clone returns an independent copy
func (s PermissionSet) Clone() PermissionSet {
	return NewPermissionSet(s.items...)
}

// Slice returns the grants in insertion order
func (s PermissionSet) Slice() []catalog.Permission {
	out := make([]catalog.Permission, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of grants
func (s PermissionSet) Len() int {
	return len(s.items)
}

// Equal reports whether both sets hold the same grants, ignoring order
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s.items) != len(other.items) {
		return false
	}
	for _, p := range s.items {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// ForModule returns the actions granted on module, in insertion order
func (s PermissionSet) ForModule(module catalog.ModuleID) []catalog.ActionID {
	var out []catalog.ActionID
	for _, p := range s.items {
		if p.Module == module {
			out = append(out, p.Action)
		}
	}
	return out
}

// ReplaceModule drops every grant on module and adds exactly actions. It
// reports whether the set changed.
func (s *PermissionSet) ReplaceModule(module catalog.ModuleID, actions []catalog.ActionID) bool {
	before := s.Clone()
	for _, a := range s.ForModule(module) {
		s.Remove(catalog.Permission{Module: module, Action: a})
	}
	for _, a := range actions {
		s.Add(catalog.Permission{Module: module, Action: a})
	}
	return !before.Equal(*s)
}

// MarshalJSON encodes the set as an array of {module, action}
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes an array, rejecting unknown ids and dropping duplicates
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var perms []catalog.Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	*s = NewPermissionSet(perms...)
	return nil
}
