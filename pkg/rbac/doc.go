// Package rbac holds the permission model of the dashboard: the default
// policy of every role, the grant set of every user, and the operations that
// change them.
//
// # Overview
//
// A Policy maps each editable role to its default grants; the admin role
// always has the whole catalog. A Store keeps one UserPermissions per
// provisioned user, seeded from the role default. The Service is the only
// writer of both:
//
//	policy := rbac.NewPolicy(rbac.BuiltInDefaults())
//	svc := rbac.NewService(policy,
//		rbac.WithAuditLogger(auditLog),
//		rbac.WithNotifier(hub),
//		rbac.WithSnapshotStore(store),
//	)
//
//	svc.ProvisionUser(ctx, rbac.User{ID: "u1", Role: rbac.RoleSchool})
//	svc.TogglePermission(ctx, "u1", catalog.ModuleStudents, catalog.ActionEdit)
//	svc.ResetToRoleDefault(ctx, "u1")
//
// Every successful mutation appends one audit entry, publishes one
// notify.Event and writes the snapshot through to the configured store.
//
// # Role defaults
//
// SetRoleDefaults cascades the new default to existing users of the role.
// With CascadeUncustomized only users whose grants equal the old default
// follow; with CascadeAll every user of the role is overwritten.
//
// # Snapshots
//
// ExportSnapshot and ImportSnapshot move the whole state as JSON:
//
//	{
//	  "userPermissions": [{"userId": "u1", "role": "school", "permissions": [...]}],
//	  "defaultPermissionsByRole": {"school": [{"module": "students", "action": "view"}]}
//	}
//
// An import missing either key, or naming an unknown module, action or role,
// is rejected and leaves the state untouched.
//
// # Checks
//
// Checker caches HasPermission results in an expiring LRU and purges it on
// every hub event. RequirePermission wraps handlers with a check against the
// X-User-ID header.
package rbac
