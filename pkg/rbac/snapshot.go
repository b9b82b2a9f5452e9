package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

const (
	snapshotUsersKey    = "userPermissions"
	snapshotDefaultsKey = "defaultPermissionsByRole"
)

// Snapshot is the serialized form of the whole permission state
type Snapshot struct {
	UserPermissions          []SnapshotUser                `json:"userPermissions"`
	DefaultPermissionsByRole map[Role][]catalog.Permission `json:"defaultPermissionsByRole"`
}

// SnapshotUser is one user's grants inside a snapshot
type SnapshotUser struct {
	UserID      string               `json:"userId"`
	Role        Role                 `json:"role,omitempty"`
	Permissions []catalog.Permission `json:"permissions"`
}

// SnapshotFilename returns the date-stamped download name for a snapshot
func SnapshotFilename(t time.Time) string {
	return storage.BackupName(t)
}

// ExportSnapshot captures the current store and policy. It waits for any
// in-flight mutation so the two halves always belong together.
func (s *Service) ExportSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportSnapshot()
}

// exportSnapshot builds the snapshot. Callers hold s.mu.
func (s *Service) exportSnapshot() Snapshot {
	snap := Snapshot{
		UserPermissions:          make([]SnapshotUser, 0),
		DefaultPermissionsByRole: make(map[Role][]catalog.Permission),
	}
	for _, up := range s.store.List() {
		snap.UserPermissions = append(snap.UserPermissions, SnapshotUser{
			UserID:      up.UserID,
			Role:        up.Role,
			Permissions: up.Permissions.Slice(),
		})
	}
	for role, set := range s.policy.All() {
		snap.DefaultPermissionsByRole[role] = set.Slice()
	}
	return snap
}

// MarshalSnapshot renders a snapshot as indented JSON
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// ParseSnapshot decodes and validates a snapshot. Both top-level keys must be
// present and non-null; unknown module, action or role ids fail decoding.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	for _, key := range []string{snapshotUsersKey, snapshotDefaultsKey} {
		v, ok := raw[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidSnapshot, key)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	seen := make(map[string]struct{}, len(snap.UserPermissions))
	for _, u := range snap.UserPermissions {
		if u.UserID == "" {
			return nil, fmt.Errorf("%w: user entry without userId", ErrInvalidSnapshot)
		}
		if _, dup := seen[u.UserID]; dup {
			return nil, fmt.Errorf("%w: duplicate user %q", ErrInvalidSnapshot, u.UserID)
		}
		seen[u.UserID] = struct{}{}
	}
	return &snap, nil
}

// ImportSnapshot replaces the store and the policy with the snapshot content.
// On any error nothing changes. Users without a role keep their current role;
// a new user without a role is rejected. Defaults for the admin role are
// ignored.
func (s *Service) ImportSnapshot(ctx context.Context, data []byte) error {
	snap, err := ParseSnapshot(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.apply(snap); err != nil {
		return err
	}

	s.commit(ctx, "import", audit.KindUpdate, "*",
		fmt.Sprintf("Permissões importadas: %d usuários, %d perfis", len(snap.UserPermissions), len(snap.DefaultPermissionsByRole)))
	return nil
}

// Restore loads the last persisted snapshot without recording an audit entry.
// It returns storage.ErrNoSnapshot when nothing was saved yet.
func (s *Service) Restore(ctx context.Context) error {
	if s.persister == nil {
		return storage.ErrNoSnapshot
	}
	data, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	snap, err := ParseSnapshot(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apply(snap); err != nil {
		return err
	}
	s.generation.Add(1)
	s.metrics.SetUsers(s.store.Len())
	return nil
}

// apply validates snap against the current store and swaps both the policy
// and the store. Callers hold s.mu.
func (s *Service) apply(snap *Snapshot) error {
	defaults := make(map[Role]PermissionSet)
	for role, perms := range snap.DefaultPermissionsByRole {
		if role.Editable() {
			defaults[role] = NewPermissionSet(perms...)
		}
	}

	s.policy.mu.Lock()
	defer s.policy.mu.Unlock()
	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	users := make([]*UserPermissions, 0, len(snap.UserPermissions))
	for _, u := range snap.UserPermissions {
		role := u.Role
		if role == "" {
			existing, ok := s.store.users[u.UserID]
			if !ok {
				return fmt.Errorf("%w: user %q has no role", ErrInvalidSnapshot, u.UserID)
			}
			role = existing.Role
		}

		set := NewPermissionSet(u.Permissions...)
		var def PermissionSet
		if role == RoleAdmin {
			def = NewPermissionSet(catalog.All()...)
		} else {
			def = defaults[role]
		}
		users = append(users, &UserPermissions{
			UserID:      u.UserID,
			Role:        role,
			Permissions: set,
			Customized:  !set.Equal(def),
		})
	}

	s.policy.replace(defaults)
	s.store.replace(users)
	return nil
}

// ResetAll puts every user back on the current default of their role
func (s *Service) ResetAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.mu.Lock()
	n := 0
	for _, id := range s.store.order {
		up := s.store.users[id]
		up.Permissions = s.policy.Defaults(up.Role)
		up.Customized = false
		n++
	}
	s.store.mu.Unlock()

	s.commit(ctx, "reset_all", audit.KindReset, "*",
		fmt.Sprintf("Permissões de todos os usuários redefinidas para o padrão (%d usuários)", n))
	return n, nil
}

