package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/notify"
	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

func testPolicy() *Policy {
	return NewPolicy(map[Role][]catalog.Permission{
		RoleSchool:  {studentsView},
		RoleTeacher: {studentsView, reportsView},
	})
}

func newTestService(t *testing.T, opts ...Option) (*Service, *audit.MemoryLog) {
	t.Helper()
	log := audit.NewMemoryLog()
	opts = append([]Option{WithAuditLogger(log)}, opts...)
	return NewService(testPolicy(), opts...), log
}

func provision(t *testing.T, svc *Service, id string, role Role) {
	t.Helper()
	_, err := svc.ProvisionUser(context.Background(), User{ID: id, Role: role})
	require.NoError(t, err)
}

func lastEntry(t *testing.T, log *audit.MemoryLog) *audit.Entry {
	t.Helper()
	entries, err := log.Query(context.Background(), audit.Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, data []byte) error { return errors.New("disk full") }

func (failingStore) Load(ctx context.Context) ([]byte, error) { return nil, storage.ErrNoSnapshot }

func TestService_EndToEndScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)

	assert.True(t, svc.HasPermission("u1", catalog.ModuleStudents, catalog.ActionView))
	assert.False(t, svc.HasPermission("u1", catalog.ModuleStudents, catalog.ActionEdit))

	granted, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.True(t, svc.HasPermission("u1", catalog.ModuleStudents, catalog.ActionView))
	assert.True(t, svc.HasPermission("u1", catalog.ModuleStudents, catalog.ActionEdit))

	require.NoError(t, svc.ResetToRoleDefault(ctx, "u1"))
	up, err := svc.UserPermissions("u1")
	require.NoError(t, err)
	assert.Equal(t, []catalog.Permission{studentsView}, up.Permissions.Slice())
	assert.False(t, up.Customized)
}

func TestService_ToggleIsIdempotentInPairs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleTeacher)

	for _, p := range []catalog.Permission{studentsView, studentsEdit} {
		before, _ := svc.UserPermissions("u1")
		_, err := svc.TogglePermission(ctx, "u1", p.Module, p.Action)
		require.NoError(t, err)
		_, err = svc.TogglePermission(ctx, "u1", p.Module, p.Action)
		require.NoError(t, err)
		after, _ := svc.UserPermissions("u1")
		assert.True(t, before.Permissions.Equal(after.Permissions), "toggle twice of %s", p)
		assert.False(t, after.Customized)
	}
}

func TestService_ResetToRoleDefaultMatchesPolicy(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleTeacher)

	require.NoError(t, svc.SetModulePermissions(ctx, "u1", catalog.ModuleMedications, []catalog.ActionID{catalog.ActionView, catalog.ActionDelete}, true))
	_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleReports, catalog.ActionView)
	require.NoError(t, err)
	require.NoError(t, svc.ResetToRoleDefault(ctx, "u1"))

	def := svc.Policy().Defaults(RoleTeacher)
	for _, p := range catalog.All() {
		assert.Equal(t, def.Has(p), svc.HasPermission("u1", p.Module, p.Action), "permission %s", p)
	}
}

func TestService_SetModulePermissionsIsFullReplace(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	err = svc.SetModulePermissions(ctx, "u1", catalog.ModuleStudents, []catalog.ActionID{catalog.ActionCreate}, true)
	require.NoError(t, err)
	up, _ := svc.UserPermissions("u1")
	assert.Equal(t, []catalog.ActionID{catalog.ActionCreate}, up.Permissions.ForModule(catalog.ModuleStudents))
	assert.Equal(t, audit.KindUpdate, lastEntry(t, log).Kind)

	err = svc.SetModulePermissions(ctx, "u1", catalog.ModuleStudents, []catalog.ActionID{catalog.ActionCreate}, false)
	require.NoError(t, err)
	up, _ = svc.UserPermissions("u1")
	assert.Empty(t, up.Permissions.ForModule(catalog.ModuleStudents))

	err = svc.SetModulePermissions(ctx, "u1", catalog.ModuleID("grades"), nil, true)
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, catalog.ErrUnknownModule)
}

func TestService_CopyFromIsPointInTime(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	provision(t, svc, "u2", RoleTeacher)

	require.NoError(t, svc.CopyFrom(ctx, "u1", "u2"))
	assert.Equal(t, audit.KindUpdate, lastEntry(t, log).Kind)
	u1, _ := svc.UserPermissions("u1")
	assert.True(t, u1.Has(reportsView))
	assert.True(t, u1.Customized)

	_, err := svc.TogglePermission(ctx, "u2", catalog.ModuleReports, catalog.ActionView)
	require.NoError(t, err)
	assert.True(t, svc.HasPermission("u1", catalog.ModuleReports, catalog.ActionView))

	assert.ErrorIs(t, svc.CopyFrom(ctx, "u1", "ghost"), ErrUserNotFound)
	assert.ErrorIs(t, svc.CopyFrom(ctx, "ghost", "u1"), ErrUserNotFound)
}

func TestService_UnknownUser(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()

	assert.False(t, svc.HasPermission("ghost", catalog.ModuleStudents, catalog.ActionView))
	_, err := svc.UserPermissions("ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = svc.TogglePermission(ctx, "ghost", catalog.ModuleStudents, catalog.ActionView)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, svc.ResetToRoleDefault(ctx, "ghost"), ErrUserNotFound)
	assert.ErrorIs(t, svc.RemoveUser(ctx, "ghost"), ErrUserNotFound)
	assert.Equal(t, 0, log.Len())
}

func TestService_ProvisionUser(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()

	up, err := svc.ProvisionUser(ctx, User{ID: "u1", Name: "Maria", Role: RoleSchool})
	require.NoError(t, err)
	assert.Equal(t, []catalog.Permission{studentsView}, up.Permissions.Slice())
	assert.Equal(t, audit.KindAdd, lastEntry(t, log).Kind)
	assert.Contains(t, lastEntry(t, log).Details, "Maria (u1)")

	_, err = svc.ProvisionUser(ctx, User{ID: "u1", Role: RoleSchool})
	assert.ErrorIs(t, err, ErrUserExists)

	_, err = svc.ProvisionUser(ctx, User{ID: " ", Role: RoleSchool})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ProvisionUser(ctx, User{ID: "u2", Role: Role("principal")})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrUnknownRole)

	admin, err := svc.ProvisionUser(ctx, User{ID: "a1", Role: RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, len(catalog.All()), admin.Permissions.Len())

	assert.Equal(t, 2, log.Len())
}

func TestService_RemoveUser(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	provision(t, svc, "u2", RoleSchool)

	require.NoError(t, svc.RemoveUser(ctx, "u1"))
	assert.Equal(t, audit.KindRemove, lastEntry(t, log).Kind)
	assert.False(t, svc.Store().Exists("u1"))
	require.Len(t, svc.ListUsers(), 1)
	assert.Equal(t, "u2", svc.ListUsers()[0].UserID)
}

func TestService_EveryMutationAppendsOneEntry(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	provision(t, svc, "u2", RoleTeacher)

	tests := []struct {
		name string
		kind audit.Kind
		run  func() error
	}{
		{"toggle on", audit.KindAdd, func() error {
			_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
			return err
		}},
		{"toggle off", audit.KindRemove, func() error {
			_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
			return err
		}},
		{"set module", audit.KindUpdate, func() error {
			return svc.SetModulePermissions(ctx, "u1", catalog.ModuleReports, []catalog.ActionID{catalog.ActionView}, true)
		}},
		{"reset", audit.KindReset, func() error {
			return svc.ResetToRoleDefault(ctx, "u1")
		}},
		{"copy", audit.KindUpdate, func() error {
			return svc.CopyFrom(ctx, "u1", "u2")
		}},
		{"bulk add", audit.KindAdd, func() error {
			_, err := svc.AddPermissionToUsers(ctx, catalog.ModuleSchools, catalog.ActionView, []string{"u1", "u2"})
			return err
		}},
		{"bulk remove", audit.KindRemove, func() error {
			_, err := svc.RemovePermissionFromUsers(ctx, catalog.ModuleSchools, catalog.ActionView, []string{"u1", "u2"})
			return err
		}},
		{"role defaults", audit.KindUpdate, func() error {
			_, err := svc.SetRoleDefaults(ctx, RoleSchool, []catalog.Permission{studentsView, reportsView})
			return err
		}},
		{"reset all", audit.KindReset, func() error {
			_, err := svc.ResetAll(ctx)
			return err
		}},
		{"import", audit.KindUpdate, func() error {
			data, err := MarshalSnapshot(svc.ExportSnapshot())
			if err != nil {
				return err
			}
			return svc.ImportSnapshot(ctx, data)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := log.Len()
			require.NoError(t, tt.run())
			assert.Equal(t, before+1, log.Len())
			assert.Equal(t, tt.kind, lastEntry(t, log).Kind)
		})
	}
}

func TestService_FailedMutationAppendsNothing(t *testing.T) {
	svc, log := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	before := log.Len()

	_, err := svc.SetRoleDefaults(ctx, RoleAdmin, []catalog.Permission{studentsView})
	assert.ErrorIs(t, err, ErrRoleNotEditable)
	_, err = svc.TogglePermission(ctx, "u1", catalog.ModuleID("grades"), catalog.ActionView)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddPermissionToUsers(ctx, "", catalog.ActionView, []string{"u1"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Error(t, svc.ImportSnapshot(ctx, []byte(`{"userPermissions": []}`)))

	assert.Equal(t, before, log.Len())
}

func TestService_AuditActorFromContext(t *testing.T) {
	svc, log := newTestService(t)
	provision(t, svc, "u1", RoleSchool)
	assert.Equal(t, audit.SystemActor.UserID, lastEntry(t, log).ActorUserID)

	ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "adm", Name: "Ana", Email: "ana@escola.br"})
	_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	e := lastEntry(t, log)
	assert.Equal(t, "adm", e.ActorUserID)
	assert.Equal(t, "Ana", e.ActorName)
	assert.Equal(t, "ana@escola.br", e.ActorEmail)
	assert.Equal(t, "u1", e.Subject)
	assert.Contains(t, e.Details, "Alunos / Editar")
}

func TestService_SetRoleDefaultsCascadeUncustomized(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	provision(t, svc, "plain", RoleSchool)
	provision(t, svc, "custom", RoleSchool)
	provision(t, svc, "other", RoleTeacher)
	_, err := svc.TogglePermission(ctx, "custom", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	cascaded, err := svc.SetRoleDefaults(ctx, RoleSchool, []catalog.Permission{studentsView, reportsView})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, cascaded)

	assert.True(t, svc.HasPermission("plain", catalog.ModuleReports, catalog.ActionView))
	assert.False(t, svc.HasPermission("custom", catalog.ModuleReports, catalog.ActionView))
	assert.True(t, svc.HasPermission("custom", catalog.ModuleStudents, catalog.ActionEdit))

	other, _ := svc.UserPermissions("other")
	assert.Equal(t, []catalog.Permission{studentsView, reportsView}, other.Permissions.Slice())

	custom, _ := svc.UserPermissions("custom")
	assert.True(t, custom.Customized)
	plain, _ := svc.UserPermissions("plain")
	assert.False(t, plain.Customized)
}

func TestService_SetRoleDefaultsCascadeAll(t *testing.T) {
	svc, _ := newTestService(t, WithCascadeMode(CascadeAll))
	ctx := context.Background()
	provision(t, svc, "plain", RoleSchool)
	provision(t, svc, "custom", RoleSchool)
	_, err := svc.TogglePermission(ctx, "custom", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	cascaded, err := svc.SetRoleDefaults(ctx, RoleSchool, []catalog.Permission{reportsView})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"plain", "custom"}, cascaded)
	assert.False(t, svc.HasPermission("custom", catalog.ModuleStudents, catalog.ActionEdit))
	assert.True(t, svc.HasPermission("custom", catalog.ModuleReports, catalog.ActionView))
}

func TestParseCascadeMode(t *testing.T) {
	m, err := ParseCascadeMode("")
	require.NoError(t, err)
	assert.Equal(t, CascadeUncustomized, m)

	m, err = ParseCascadeMode("all")
	require.NoError(t, err)
	assert.Equal(t, CascadeAll, m)

	_, err = ParseCascadeMode("some")
	assert.Error(t, err)
}

func TestService_PublishesChangeEvents(t *testing.T) {
	hub := notify.NewHub()
	defer hub.Close()
	events, cancel := hub.Subscribe()
	defer cancel()

	svc, _ := newTestService(t, WithNotifier(hub))
	provision(t, svc, "u1", RoleSchool)

	select {
	case e := <-events:
		assert.Equal(t, "provision", e.Reason)
		assert.Equal(t, "u1", e.Subject)
		assert.Empty(t, e.Origin)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	_, err := svc.TogglePermission(context.Background(), "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)
	select {
	case e := <-events:
		assert.Equal(t, "toggle", e.Reason)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}
}

func TestService_WriteThroughPersistence(t *testing.T) {
	fs, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	svc, _ := newTestService(t, WithSnapshotStore(fs))
	ctx := context.Background()
	provision(t, svc, "u1", RoleSchool)
	_, err = svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	data, err := fs.Load(ctx)
	require.NoError(t, err)
	snap, err := ParseSnapshot(data)
	require.NoError(t, err)
	require.Len(t, snap.UserPermissions, 1)
	assert.ElementsMatch(t, []catalog.Permission{studentsView, studentsEdit}, snap.UserPermissions[0].Permissions)

	restored := NewService(testPolicy(), WithSnapshotStore(fs))
	require.NoError(t, restored.Restore(ctx))
	assert.True(t, restored.HasPermission("u1", catalog.ModuleStudents, catalog.ActionEdit))
}

func TestService_PersistenceFailureKeepsMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc, log := newTestService(t, WithSnapshotStore(failingStore{}), WithMetrics(metrics))

	provision(t, svc, "u1", RoleSchool)
	assert.True(t, svc.Store().Exists("u1"))
	assert.Equal(t, 1, log.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SnapshotSavesTotal.WithLabelValues("error")))
}

func TestService_RestoreWithoutStore(t *testing.T) {
	svc, _ := newTestService(t)
	assert.ErrorIs(t, svc.Restore(context.Background()), storage.ErrNoSnapshot)

	empty, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	svc, _ = newTestService(t, WithSnapshotStore(empty))
	assert.ErrorIs(t, svc.Restore(context.Background()), storage.ErrNoSnapshot)
}

func TestService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc, _ := newTestService(t, WithMetrics(metrics))
	ctx := context.Background()

	provision(t, svc, "u1", RoleSchool)
	_, err := svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionMutationsTotal.WithLabelValues("toggle", "add")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UsersTotal))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.AuditAppendsTotal.WithLabelValues("add", "success")))
}
