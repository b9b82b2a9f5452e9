package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
)

func TestSnapshotFilename(t *testing.T) {
	ts := time.Date(2024, 3, 7, 22, 10, 0, 0, time.UTC)
	assert.Equal(t, "permissoes-backup-2024-03-07.json", SnapshotFilename(ts))
}

func TestExportSnapshot_Shape(t *testing.T) {
	svc, _ := newTestService(t)
	provision(t, svc, "u1", RoleSchool)

	data, err := MarshalSnapshot(svc.ExportSnapshot())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "userPermissions")
	assert.Contains(t, raw, "defaultPermissionsByRole")

	var doc struct {
		UserPermissions []struct {
			UserID      string `json:"userId"`
			Permissions []struct {
				Module string `json:"module"`
				Action string `json:"action"`
			} `json:"permissions"`
		} `json:"userPermissions"`
		DefaultPermissionsByRole map[string]json.RawMessage `json:"defaultPermissionsByRole"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.UserPermissions, 1)
	assert.Equal(t, "u1", doc.UserPermissions[0].UserID)
	assert.Equal(t, "students", doc.UserPermissions[0].Permissions[0].Module)
	assert.Equal(t, "view", doc.UserPermissions[0].Permissions[0].Action)
	assert.NotContains(t, doc.DefaultPermissionsByRole, "admin")
	assert.Contains(t, doc.DefaultPermissionsByRole, "school")
}

func TestImportSnapshot_RoundTrip(t *testing.T) {
	src, _ := newTestService(t)
	ctx := context.Background()
	provision(t, src, "u1", RoleSchool)
	provision(t, src, "u2", RoleTeacher)
	_, err := src.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)
	_, err = src.SetRoleDefaults(ctx, RoleCounselor, []catalog.Permission{reportsView})
	require.NoError(t, err)

	data, err := MarshalSnapshot(src.ExportSnapshot())
	require.NoError(t, err)

	dst, log := newTestService(t)
	require.NoError(t, dst.ImportSnapshot(ctx, data))
	assert.Equal(t, 1, log.Len())
	e := lastEntry(t, log)
	assert.Equal(t, audit.KindUpdate, e.Kind)
	assert.Equal(t, "*", e.Subject)

	assert.Equal(t, src.ListUsers(), dst.ListUsers())
	assert.True(t, dst.Policy().Defaults(RoleCounselor).Equal(NewPermissionSet(reportsView)))

	u1, _ := dst.UserPermissions("u1")
	assert.True(t, u1.Customized)
	u2, _ := dst.UserPermissions("u2")
	assert.False(t, u2.Customized)
}

func TestImportSnapshot_RejectsAndLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{"userPermissions": [`},
		{"not an object", `[]`},
		{"missing defaults", `{"userPermissions": []}`},
		{"missing users", `{"defaultPermissionsByRole": {}}`},
		{"null defaults", `{"userPermissions": [], "defaultPermissionsByRole": null}`},
		{"unknown module", `{"userPermissions": [{"userId": "u1", "role": "school", "permissions": [{"module": "grades", "action": "view"}]}], "defaultPermissionsByRole": {}}`},
		{"unknown action", `{"userPermissions": [], "defaultPermissionsByRole": {"school": [{"module": "students", "action": "approve"}]}}`},
		{"unknown role key", `{"userPermissions": [], "defaultPermissionsByRole": {"principal": []}}`},
		{"unknown user role", `{"userPermissions": [{"userId": "u1", "role": "principal", "permissions": []}], "defaultPermissionsByRole": {}}`},
		{"duplicate user", `{"userPermissions": [{"userId": "u1", "role": "school", "permissions": []}, {"userId": "u1", "role": "school", "permissions": []}], "defaultPermissionsByRole": {}}`},
		{"missing user id", `{"userPermissions": [{"role": "school", "permissions": []}], "defaultPermissionsByRole": {}}`},
		{"new user without role", `{"userPermissions": [{"userId": "newbie", "permissions": []}], "defaultPermissionsByRole": {}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, log := newTestService(t)
			provision(t, svc, "u1", RoleSchool)
			_, err := svc.TogglePermission(context.Background(), "u1", catalog.ModuleStudents, catalog.ActionEdit)
			require.NoError(t, err)

			before, err := MarshalSnapshot(svc.ExportSnapshot())
			require.NoError(t, err)
			entries := log.Len()

			err = svc.ImportSnapshot(context.Background(), []byte(tt.data))
			assert.ErrorIs(t, err, ErrInvalidSnapshot)

			after, err := MarshalSnapshot(svc.ExportSnapshot())
			require.NoError(t, err)
			assert.Equal(t, string(before), string(after))
			assert.Equal(t, entries, log.Len())
		})
	}
}

func TestImportSnapshot_UserWithoutRoleKeepsCurrentRole(t *testing.T) {
	svc, _ := newTestService(t)
	provision(t, svc, "u1", RoleTeacher)

	data := `{
		"userPermissions": [{"userId": "u1", "permissions": [{"module": "schools", "action": "view"}]}],
		"defaultPermissionsByRole": {"school": [], "admin": [{"module": "students", "action": "view"}]}
	}`
	require.NoError(t, svc.ImportSnapshot(context.Background(), []byte(data)))

	up, err := svc.UserPermissions("u1")
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, up.Role)
	assert.Equal(t, []catalog.Permission{{Module: catalog.ModuleSchools, Action: catalog.ActionView}}, up.Permissions.Slice())

	// admin stays "everything"; roles absent from the snapshot end up empty
	assert.Equal(t, len(catalog.All()), svc.Policy().Defaults(RoleAdmin).Len())
	assert.Equal(t, 0, svc.Policy().Defaults(RoleTeacher).Len())
}

func TestResetAll(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	provision(t, svc, "u2", RoleTeacher)
	_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)
	_, err = svc.TogglePermission(ctx, "u2", catalog.ModuleReports, catalog.ActionView)
	require.NoError(t, err)
	before := log.Len()

	n, err := svc.ResetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before+1, log.Len())
	assert.Equal(t, audit.KindReset, lastEntry(t, log).Kind)

	for _, up := range svc.ListUsers() {
		assert.True(t, up.Permissions.Equal(svc.Policy().Defaults(up.Role)), "user %s", up.UserID)
		assert.False(t, up.Customized)
	}
}

func TestExportSnapshot_ConsistentDuringImports(t *testing.T) {
	svc, _ := newTestService(t)
	provision(t, svc, "u1", RoleSchool)
	ctx := context.Background()

	encode := func(p catalog.Permission) []byte {
		data, err := MarshalSnapshot(Snapshot{
			UserPermissions: []SnapshotUser{{UserID: "u1", Role: RoleSchool, Permissions: []catalog.Permission{p}}},
			DefaultPermissionsByRole: map[Role][]catalog.Permission{
				RoleSchool: {p},
			},
		})
		require.NoError(t, err)
		return data
	}
	versions := [][]byte{encode(studentsView), encode(reportsView)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if err := svc.ImportSnapshot(ctx, versions[i%2]); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		snap := svc.ExportSnapshot()
		require.Len(t, snap.UserPermissions, 1)
		assert.Equal(t, snap.DefaultPermissionsByRole[RoleSchool], snap.UserPermissions[0].Permissions)
	}
	<-done
}
