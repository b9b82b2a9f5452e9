// Package catalog enumerates the modules and actions that permissions are
// scoped to. The sets are closed: every string entering the system is parsed
// through this package, so an unknown module or action never reaches a store.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownModule = errors.New("unknown module")
	ErrUnknownAction = errors.New("unknown action")
)

// ModuleID identifies a functional area of the dashboard
type ModuleID string

const (
	ModuleStudents    ModuleID = "students"
	ModuleOccurrences ModuleID = "occurrences"
	ModuleReferrals   ModuleID = "referrals"
	ModuleReports     ModuleID = "reports"
	ModuleSettings    ModuleID = "settings"
	ModuleMedications ModuleID = "medications"
	ModuleSchools     ModuleID = "schools"
	ModuleUsers       ModuleID = "users"
	ModuleDashboard   ModuleID = "dashboard"
)

// ActionID identifies an operation type; every module supports every action
type ActionID string

const (
	ActionView   ActionID = "view"
	ActionCreate ActionID = "create"
	ActionEdit   ActionID = "edit"
	ActionDelete ActionID = "delete"
	ActionExport ActionID = "export"
)

// ModuleInfo is a module with its display label
type ModuleInfo struct {
	ID    ModuleID `json:"id"`
	Label string   `json:"label"`
}

// ActionInfo is an action with its display label
type ActionInfo struct {
	ID    ActionID `json:"id"`
	Label string   `json:"label"`
}

var modules = []ModuleInfo{
	{ID: ModuleStudents, Label: "Alunos"},
	{ID: ModuleOccurrences, Label: "Ocorrências"},
	{ID: ModuleReferrals, Label: "Encaminhamentos"},
	{ID: ModuleReports, Label: "Relatórios"},
	{ID: ModuleSettings, Label: "Configurações"},
	{ID: ModuleMedications, Label: "Medicamentos"},
	{ID: ModuleSchools, Label: "Escolas"},
	{ID: ModuleUsers, Label: "Usuários"},
	{ID: ModuleDashboard, Label: "Painel"},
}

var actions = []ActionInfo{
	{ID: ActionView, Label: "Visualizar"},
	{ID: ActionCreate, Label: "Criar"},
	{ID: ActionEdit, Label: "Editar"},
	{ID: ActionDelete, Label: "Excluir"},
	{ID: ActionExport, Label: "Exportar"},
}

// Modules returns every module in display order
func Modules() []ModuleInfo {
	out := make([]ModuleInfo, len(modules))
	copy(out, modules)
	return out
}

// Actions returns every action in display order
func Actions() []ActionInfo {
	out := make([]ActionInfo, len(actions))
	copy(out, actions)
	return out
}

// ModuleLabel returns the display label for a module
func ModuleLabel(id ModuleID) string {
	for _, m := range modules {
		if m.ID == id {
			return m.Label
		}
	}
	return string(id)
}

// ActionLabel returns the display label for an action
func ActionLabel(id ActionID) string {
	for _, a := range actions {
		if a.ID == id {
			return a.Label
		}
	}
	return string(id)
}

// ParseModule validates a module identifier
func ParseModule(s string) (ModuleID, error) {
	for _, m := range modules {
		if string(m.ID) == s {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModule, s)
}

// ParseAction validates an action identifier
func ParseAction(s string) (ActionID, error) {
	for _, a := range actions {
		if string(a.ID) == s {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Valid reports whether the module is part of the catalog
func (m ModuleID) Valid() bool {
	_, err := ParseModule(string(m))
	return err == nil
}

// Valid reports whether the action is part of the catalog
func (a ActionID) Valid() bool {
	_, err := ParseAction(string(a))
	return err == nil
}

// UnmarshalText rejects identifiers outside the catalog
func (m *ModuleID) UnmarshalText(text []byte) error {
	id, err := ParseModule(string(text))
	if err != nil {
		return err
	}
	*m = id
	return nil
}

// UnmarshalText rejects identifiers outside the catalog
func (a *ActionID) UnmarshalText(text []byte) error {
	id, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// Permission is a single grantable (module, action) pair
type Permission struct {
	Module ModuleID `json:"module"`
	Action ActionID `json:"action"`
}

// String returns the "module:action" form
func (p Permission) String() string {
	return string(p.Module) + ":" + string(p.Action)
}

// Label returns a human readable form, e.g. "Alunos / Visualizar"
func (p Permission) Label() string {
	return ModuleLabel(p.Module) + " / " + ActionLabel(p.Action)
}

// NewPermission builds a permission from raw identifiers
func NewPermission(module, action string) (Permission, error) {
	m, err := ParseModule(module)
	if err != nil {
		return Permission{}, err
	}
	a, err := ParseAction(action)
	if err != nil {
		return Permission{}, err
	}
	return Permission{Module: m, Action: a}, nil
}

// ParsePermission parses the "module:action" form
func ParsePermission(s string) (Permission, error) {
	module, action, ok := strings.Cut(s, ":")
	if !ok {
		return Permission{}, fmt.Errorf("invalid permission %q: expected module:action", s)
	}
	return NewPermission(module, action)
}

// All returns every (module, action) combination in catalog order
func All() []Permission {
	out := make([]Permission, 0, len(modules)*len(actions))
	for _, m := range modules {
		for _, a := range actions {
			out = append(out, Permission{Module: m.ID, Action: a.ID})
		}
	}
	return out
}
