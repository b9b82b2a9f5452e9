package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModule(t *testing.T) {
	m, err := ParseModule("referrals")
	require.NoError(t, err)
	assert.Equal(t, ModuleReferrals, m)

	_, err = ParseModule("grades")
	assert.True(t, errors.Is(err, ErrUnknownModule))
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("export")
	require.NoError(t, err)
	assert.Equal(t, ActionExport, a)

	_, err = ParseAction("approve")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("students:view")
	require.NoError(t, err)
	assert.Equal(t, Permission{Module: ModuleStudents, Action: ActionView}, p)
	assert.Equal(t, "students:view", p.String())
	assert.Equal(t, "Alunos / Visualizar", p.Label())

	_, err = ParsePermission("students")
	assert.Error(t, err)

	_, err = ParsePermission("students:fly")
	assert.True(t, errors.Is(err, ErrUnknownAction))
}

func TestPermissionJSONRejectsUnknownIDs(t *testing.T) {
	var p Permission
	require.NoError(t, json.Unmarshal([]byte(`{"module":"reports","action":"edit"}`), &p))
	assert.Equal(t, ModuleReports, p.Module)
	assert.Equal(t, ActionEdit, p.Action)

	err := json.Unmarshal([]byte(`{"module":"reports","action":"approve"}`), &p)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"module":"grades","action":"view"}`), &p)
	assert.Error(t, err)
}

func TestAll(t *testing.T) {
	all := All()
	assert.Len(t, all, len(Modules())*len(Actions()))

	seen := make(map[Permission]bool)
	for _, p := range all {
		assert.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}
	assert.Equal(t, Permission{Module: ModuleStudents, Action: ActionView}, all[0])
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Encaminhamentos", ModuleLabel(ModuleReferrals))
	assert.Equal(t, "Excluir", ActionLabel(ActionDelete))
	assert.Equal(t, "unknown", ModuleLabel("unknown"))
	assert.True(t, ModuleMedications.Valid())
	assert.False(t, ActionID("fly").Valid())
}

func TestModulesReturnsCopy(t *testing.T) {
	ms := Modules()
	ms[0].Label = "changed"
	assert.Equal(t, "Alunos", ModuleLabel(ModuleStudents))
}
