package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/notify"
	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/storage"
)

// CascadeMode selects which users follow a role default change
type CascadeMode string

const (
	// CascadeUncustomized updates only users whose grants equal the old default
	CascadeUncustomized CascadeMode = "uncustomized"
	// CascadeAll overwrites every user of the role
	CascadeAll CascadeMode = "all"
)

// ParseCascadeMode validates a cascade mode; empty means CascadeUncustomized
func ParseCascadeMode(s string) (CascadeMode, error) {
	switch CascadeMode(s) {
	case "", CascadeUncustomized:
		return CascadeUncustomized, nil
	case CascadeAll:
		return CascadeAll, nil
	default:
		return "", fmt.Errorf("unknown cascade mode: %q", s)
	}
}

// Service owns the permission store and the role policy. Every successful
// mutation appends exactly one audit entry, publishes one change event and,
// when a snapshot store is configured, writes the new state through.
type Service struct {
	// mu serializes mutations so audit order matches store order
	mu sync.Mutex

	store     *Store
	policy    *Policy
	auditLog  audit.Logger
	hub       *notify.Hub
	persister storage.SnapshotStore
	metrics   *observability.Metrics
	logger    *observability.Logger
	cascade   CascadeMode

	// generation is bumped on every state change; cached checks taken at an
	// older generation are stale
	generation atomic.Uint64
}

// Option configures a Service
type Option func(*Service)

// WithAuditLogger sets the audit sink
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Service) { s.auditLog = l }
}

// WithNotifier sets the hub change events are published to
func WithNotifier(h *notify.Hub) Option {
	return func(s *Service) { s.hub = h }
}

// WithSnapshotStore enables write-through persistence
func WithSnapshotStore(st storage.SnapshotStore) Option {
	return func(s *Service) { s.persister = st }
}

// WithMetrics sets the metrics collector
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger
func WithLogger(l *observability.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCascadeMode sets how role default changes reach existing users
func WithCascadeMode(m CascadeMode) Option {
	return func(s *Service) { s.cascade = m }
}

// NewService creates a service over an empty store
func NewService(policy *Policy, opts ...Option) *Service {
	if policy == nil {
		policy = NewPolicy(BuiltInDefaults())
	}
	s := &Service{
		store:    NewStore(),
		policy:   policy,
		auditLog: audit.NopLogger(),
		logger:   observability.NopLogger(),
		cascade:  CascadeUncustomized,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the role policy
func (s *Service) Policy() *Policy {
	return s.policy
}

// Store returns the permission store
func (s *Service) Store() *Store {
	return s.store
}

// CascadeMode returns the configured cascade mode
func (s *Service) CascadeMode() CascadeMode {
	return s.cascade
}

// Generation returns a counter that changes whenever users or role defaults
// change
func (s *Service) Generation() uint64 {
	return s.generation.Load()
}

// HasPermission reports whether the user holds the grant. Unknown users hold
// nothing.
func (s *Service) HasPermission(userID string, module catalog.ModuleID, action catalog.ActionID) bool {
	up, err := s.store.Get(userID)
	if err != nil {
		return false
	}
	return up.Has(catalog.Permission{Module: module, Action: action})
}

// UserPermissions returns a copy of the user's grants
func (s *Service) UserPermissions(userID string) (*UserPermissions, error) {
	return s.store.Get(userID)
}

// ListUsers returns a copy of every user's grants
func (s *Service) ListUsers() []*UserPermissions {
	return s.store.List()
}

// ProvisionUser creates the user's grant set from the current role default
func (s *Service) ProvisionUser(ctx context.Context, user User) (*UserPermissions, error) {
	if strings.TrimSpace(user.ID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !user.Role.Valid() {
		return nil, invalid(fmt.Errorf("%w: %q", ErrUnknownRole, user.Role))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	up := &UserPermissions{
		UserID:      user.ID,
		Role:        user.Role,
		Permissions: s.policy.Defaults(user.Role),
	}
	if err := s.store.put(up); err != nil {
		return nil, err
	}

	name := user.ID
	if user.Name != "" {
		name = fmt.Sprintf("%s (%s)", user.Name, user.ID)
	}
	s.commit(ctx, "provision", audit.KindAdd, user.ID,
		fmt.Sprintf("Usuário %s provisionado com perfil %s (%d permissões)", name, user.Role.Label(), up.Permissions.Len()))
	return up.Clone(), nil
}

// RemoveUser discards the user's grant set
func (s *Service) RemoveUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.delete(userID); err != nil {
		return err
	}
	s.commit(ctx, "remove_user", audit.KindRemove, userID,
		fmt.Sprintf("Permissões do usuário %s removidas", userID))
	return nil
}

// TogglePermission flips one grant and reports whether the user now holds it
func (s *Service) TogglePermission(ctx context.Context, userID string, module catalog.ModuleID, action catalog.ActionID) (bool, error) {
	p, err := validPermission(module, action)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var granted bool
	err = s.store.update(userID, func(up *UserPermissions) {
		granted = up.Permissions.Toggle(p)
		s.markCustomized(up)
	})
	if err != nil {
		return false, err
	}

	kind, verb := audit.KindRemove, "revogada do"
	if granted {
		kind, verb = audit.KindAdd, "concedida ao"
	}
	s.commit(ctx, "toggle", kind, userID,
		fmt.Sprintf("Permissão %s %s usuário %s", p.Label(), verb, userID))
	return granted, nil
}

// SetModulePermissions replaces the user's grants on module with exactly
// actions when enabled, or removes every grant on module otherwise
func (s *Service) SetModulePermissions(ctx context.Context, userID string, module catalog.ModuleID, actions []catalog.ActionID, enabled bool) error {
	if !module.Valid() {
		return invalid(fmt.Errorf("%w: %q", catalog.ErrUnknownModule, module))
	}
	for _, a := range actions {
		if !a.Valid() {
			return invalid(fmt.Errorf("%w: %q", catalog.ErrUnknownAction, a))
		}
	}
	if !enabled {
		actions = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.store.update(userID, func(up *UserPermissions) {
		up.Permissions.ReplaceModule(module, actions)
		s.markCustomized(up)
	})
	if err != nil {
		return err
	}

	var details string
	if enabled {
		labels := make([]string, 0, len(actions))
		for _, a := range actions {
			labels = append(labels, catalog.ActionLabel(a))
		}
		details = fmt.Sprintf("Permissões do módulo %s do usuário %s definidas como: %s",
			catalog.ModuleLabel(module), userID, strings.Join(labels, ", "))
	} else {
		details = fmt.Sprintf("Permissões do módulo %s removidas do usuário %s", catalog.ModuleLabel(module), userID)
	}
	s.commit(ctx, "set_module", audit.KindUpdate, userID, details)
	return nil
}

// ResetToRoleDefault replaces the user's grants with the current role default
func (s *Service) ResetToRoleDefault(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var role Role
	err := s.store.update(userID, func(up *UserPermissions) {
		role = up.Role
		up.Permissions = s.policy.Defaults(up.Role)
		up.Customized = false
	})
	if err != nil {
		return err
	}

	s.commit(ctx, "reset", audit.KindReset, userID,
		fmt.Sprintf("Permissões do usuário %s redefinidas para o padrão do perfil %s", userID, role.Label()))
	return nil
}

// CopyFrom replaces the user's grants with a point-in-time copy of another
// user's grants
func (s *Service) CopyFrom(ctx context.Context, userID, sourceUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, err := s.store.Get(sourceUserID)
	if err != nil {
		return err
	}
	err = s.store.update(userID, func(up *UserPermissions) {
		up.Permissions = source.Permissions.Clone()
		s.markCustomized(up)
	})
	if err != nil {
		return err
	}

	s.commit(ctx, "copy", audit.KindUpdate, userID,
		fmt.Sprintf("Permissões do usuário %s copiadas para o usuário %s", sourceUserID, userID))
	return nil
}

// SetRoleDefaults replaces a role's default grants and cascades the change to
// existing users of that role according to the cascade mode. It returns the
// ids of the users whose grants were replaced.
func (s *Service) SetRoleDefaults(ctx context.Context, role Role, perms []catalog.Permission) ([]string, error) {
	for _, p := range perms {
		if _, err := validPermission(p.Module, p.Action); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.policy.SetDefaults(role, perms)
	if err != nil {
		return nil, err
	}
	next := s.policy.Defaults(role)

	cascaded := make([]string, 0)
	s.store.mu.Lock()
	for _, id := range s.store.order {
		up := s.store.users[id]
		if up.Role != role {
			continue
		}
		if s.cascade == CascadeAll || up.Permissions.Equal(old) {
			up.Permissions = next.Clone()
			cascaded = append(cascaded, id)
		}
		up.Customized = !up.Permissions.Equal(next)
	}
	s.store.mu.Unlock()

	s.commit(ctx, "set_role_defaults", audit.KindUpdate, string(role),
		fmt.Sprintf("Permissões padrão do perfil %s atualizadas (%d permissões, %d usuários atualizados)",
			role.Label(), next.Len(), len(cascaded)))
	return cascaded, nil
}

// markCustomized recomputes the customized flag against the role default
func (s *Service) markCustomized(up *UserPermissions) {
	def := s.policy.Defaults(up.Role)
	up.Customized = !up.Permissions.Equal(def)
}

// commit records a successful mutation: one audit entry, metrics, the
// write-through snapshot and then one change event. Callers hold s.mu.
func (s *Service) commit(ctx context.Context, operation string, kind audit.Kind, subject, details string) {
	s.generation.Add(1)

	ctx, span := observability.Tracer().Start(ctx, "rbac."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("rbac.operation", operation),
		attribute.String("rbac.subject", subject),
	)

	logger := observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithFields(map[string]interface{}{
		"operation": operation,
		"kind":      string(kind),
		"subject":   subject,
	})

	entry := audit.NewEntry(ctx, kind, subject, details)
	err := s.auditLog.Append(ctx, entry)
	s.metrics.RecordAuditAppend(string(kind), err)
	if err != nil {
		span.RecordError(err)
		logger.WithError(err).Error("Failed to append audit entry")
	}

	s.metrics.RecordMutation(operation, string(kind))
	s.metrics.SetUsers(s.store.Len())

	// persist before publishing: other processes reload the snapshot when
	// the event reaches them
	s.persist(ctx, logger)

	if s.hub != nil {
		s.hub.Publish(notify.Event{Reason: operation, Subject: subject})
	}
	logger.Debug(details)
}

// persist writes the current snapshot to the configured store. Failures are
// logged; the in-memory state stays authoritative.
func (s *Service) persist(ctx context.Context, logger *observability.Logger) {
	if s.persister == nil {
		return
	}
	start := time.Now()
	data, err := MarshalSnapshot(s.exportSnapshot())
	if err == nil {
		err = s.persister.Save(ctx, data)
	}
	s.metrics.RecordSnapshotSave(time.Since(start), err)
	if err != nil {
		logger.WithError(err).Error("Failed to persist permission snapshot")
	}
}

func validPermission(module catalog.ModuleID, action catalog.ActionID) (catalog.Permission, error) {
	if !module.Valid() {
		return catalog.Permission{}, invalid(fmt.Errorf("%w: %q", catalog.ErrUnknownModule, module))
	}
	if !action.Valid() {
		return catalog.Permission{}, invalid(fmt.Errorf("%w: %q", catalog.ErrUnknownAction, action))
	}
	return catalog.Permission{Module: module, Action: action}, nil
}

// invalid marks err as a validation failure, keeping it in the chain
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
