package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/schoolwelfare/caseboard/pkg/catalog"
	"github.com/schoolwelfare/caseboard/pkg/observability"
	"github.com/schoolwelfare/caseboard/pkg/rbac"
)

// PolicyFile is the YAML form of the role policy:
//
//	roles:
//	  school:
//	    - students:view
//	    - occurrences:create
//	  teacher:
//	    - students:view
type PolicyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadPolicyFile reads and parses a policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses YAML policy content and validates every id
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if _, err := pf.Defaults(); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Defaults converts the file into role defaults. The admin role may not be
// listed.
func (pf *PolicyFile) Defaults() (map[rbac.Role][]catalog.Permission, error) {
	out := make(map[rbac.Role][]catalog.Permission, len(pf.Roles))
	for rawRole, rawPerms := range pf.Roles {
		role, err := rbac.ParseRole(rawRole)
		if err != nil {
			return nil, err
		}
		if !role.Editable() {
			return nil, fmt.Errorf("%w: %s", rbac.ErrRoleNotEditable, role)
		}
		perms := make([]catalog.Permission, 0, len(rawPerms))
		for _, raw := range rawPerms {
			p, err := catalog.ParsePermission(raw)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", role, err)
			}
			perms = append(perms, p)
		}
		out[role] = perms
	}
	return out, nil
}

// Apply sets the defaults of every listed role whose grants differ from the
// service's current policy. It returns the roles it changed.
func (pf *PolicyFile) Apply(ctx context.Context, svc *rbac.Service) ([]rbac.Role, error) {
	defaults, err := pf.Defaults()
	if err != nil {
		return nil, err
	}

	roles := make([]rbac.Role, 0, len(defaults))
	for role := range defaults {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })

	changed := make([]rbac.Role, 0)
	for _, role := range roles {
		next := rbac.NewPermissionSet(defaults[role]...)
		if next.Equal(svc.Policy().Defaults(role)) {
			continue
		}
		if _, err := svc.SetRoleDefaults(ctx, role, defaults[role]); err != nil {
			return changed, err
		}
		changed = append(changed, role)
	}
	return changed, nil
}

// PolicyWatcher reloads a policy file when it changes on disk
type PolicyWatcher struct {
	path     string
	onChange func(*PolicyFile)
	logger   *observability.Logger
	debounce time.Duration
}

// NewPolicyWatcher creates a watcher calling onChange with every valid
// version of the file written after Run starts
func NewPolicyWatcher(path string, onChange func(*PolicyFile), logger *observability.Logger) *PolicyWatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PolicyWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger.WithField("policy_file", path),
		debounce: 100 * time.Millisecond,
	}
}

// Run watches until ctx is done. The parent directory is watched so that
// editors replacing the file by rename are seen.
func (w *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			pending = timer.C
		case <-pending:
			pending = nil
			w.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Policy watcher error")
		}
	}
}

func (w *PolicyWatcher) reload() {
	pf, err := LoadPolicyFile(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring invalid policy file")
		return
	}
	w.logger.Info("Policy file reloaded")
	w.onChange(pf)
}
