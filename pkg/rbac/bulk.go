package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/schoolwelfare/caseboard/pkg/audit"
	"github.com/schoolwelfare/caseboard/pkg/catalog"
)

// BulkResult lists which users a bulk action changed
type BulkResult struct {
	Affected  []string `json:"affected"`
	Unchanged []string `json:"unchanged"`
}

// AddPermissionToUsers grants (module, action) to every listed user
func (s *Service) AddPermissionToUsers(ctx context.Context, module catalog.ModuleID, action catalog.ActionID, userIDs []string) (*BulkResult, error) {
	return s.bulk(ctx, module, action, userIDs, true)
}

// RemovePermissionFromUsers revokes (module, action) from every listed user
func (s *Service) RemovePermissionFromUsers(ctx context.Context, module catalog.ModuleID, action catalog.ActionID, userIDs []string) (*BulkResult, error) {
	return s.bulk(ctx, module, action, userIDs, false)
}

func (s *Service) bulk(ctx context.Context, module catalog.ModuleID, action catalog.ActionID, userIDs []string, grant bool) (*BulkResult, error) {
	if module == "" {
		return nil, fmt.Errorf("%w: module is required", ErrValidation)
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", ErrValidation)
	}
	p, err := validPermission(module, action)
	if err != nil {
		return nil, err
	}
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one user is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject the whole call before touching any user
	var missing []string
	for _, id := range ids {
		if !s.store.Exists(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown users: %s", ErrValidation, strings.Join(missing, ", "))
	}

	result := &BulkResult{Affected: make([]string, 0), Unchanged: make([]string, 0)}
	for _, id := range ids {
		var changed bool
		err := s.store.update(id, func(up *UserPermissions) {
			if grant {
				changed = up.Permissions.Add(p)
			} else {
				changed = up.Permissions.Remove(p)
			}
			s.markCustomized(up)
		})
		if err != nil {
			return nil, err
		}
		if changed {
			result.Affected = append(result.Affected, id)
		} else {
			result.Unchanged = append(result.Unchanged, id)
		}
	}

	kind, operation, verb, direction := audit.KindAdd, "bulk_add", "adicionada a", "add"
	if !grant {
		kind, operation, verb, direction = audit.KindRemove, "bulk_remove", "removida de", "remove"
	}
	s.metrics.RecordBulk(direction, len(result.Affected))
	s.commit(ctx, operation, kind, strings.Join(ids, ","),
		fmt.Sprintf("Permissão %s %s %d usuário(s) em lote (%d selecionados)",
			p.Label(), verb, len(result.Affected), len(ids)))
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
