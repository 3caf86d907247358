package permission_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/domain"
	"mapline/internal/lifecycle"
	"mapline/internal/permission"
)

var (
	roles     = []domain.Role{domain.RoleAdmin, domain.RoleGestor, domain.RoleChefe, domain.RoleServidor}
	positions = []permission.Position{
		{Relation: permission.RelationUnrelated},
		{Relation: permission.RelationOwn},
		{Relation: permission.RelationOwn, Custodian: true},
		{Relation: permission.RelationImmediateSuperior},
		{Relation: permission.RelationImmediateSuperior, Custodian: true},
		{Relation: permission.RelationSuperior},
		{Relation: permission.RelationSuperior, Custodian: true},
	}
)

func TestAdminIsSupersetOfEveryRole(t *testing.T) {
	for _, s := range lifecycle.AllSituations() {
		admin := permission.Resolve(domain.RoleAdmin, s, permission.Position{})
		for _, role := range roles {
			for _, pos := range positions {
				for action := range permission.Resolve(role, s, pos) {
					assert.Truef(t, admin.Has(action), "%s at %s/%v has %s but admin does not", role, s, pos, action)
				}
			}
		}
	}
}

func TestOnlyAdminHomologatesAndReopens(t *testing.T) {
	for _, s := range lifecycle.AllSituations() {
		for _, role := range []domain.Role{domain.RoleGestor, domain.RoleChefe, domain.RoleServidor} {
			for _, pos := range positions {
				set := permission.Resolve(role, s, pos)
				assert.False(t, set.Has(domain.ActionHomologate), "%s %s", role, s)
				assert.False(t, set.Has(domain.ActionReopen), "%s %s", role, s)
			}
		}
	}
}

func TestEnabledTransitionsAreLegal(t *testing.T) {
	transitional := map[domain.Action]bool{}
	for _, a := range lifecycle.TransitionActions() {
		transitional[a] = true
	}
	for _, s := range lifecycle.AllSituations() {
		legal := map[domain.Action]bool{}
		for _, a := range lifecycle.Legal(s) {
			legal[a] = true
		}
		for _, role := range roles {
			for _, pos := range positions {
				for action := range permission.Resolve(role, s, pos) {
					if transitional[action] {
						assert.Truef(t, legal[action], "%s enabled %s from %s", role, action, s)
					}
				}
			}
		}
	}
}

func TestChefeOwnUnitOnly(t *testing.T) {
	own := permission.Resolve(domain.RoleChefe, domain.CadastroInProgress, permission.Position{Relation: permission.RelationOwn})
	assert.Equal(t, []domain.Action{domain.ActionDisponibilize, domain.ActionEditCadastro, domain.ActionView}, own.List())

	above := permission.Resolve(domain.RoleChefe, domain.CadastroInProgress, permission.Position{Relation: permission.RelationImmediateSuperior})
	assert.Equal(t, []domain.Action{domain.ActionView}, above.List())

	available := permission.Resolve(domain.RoleChefe, domain.CadastroAvailable, permission.Position{Relation: permission.RelationOwn})
	assert.False(t, available.Has(domain.ActionDisponibilize))
	assert.False(t, available.Has(domain.ActionEditCadastro))
}

func TestGestorNeedsCustodyAndSuperiority(t *testing.T) {
	cases := []struct {
		name string
		pos  permission.Position
		want bool
	}{
		{"immediate superior with custody", permission.Position{Relation: permission.RelationImmediateSuperior, Custodian: true}, true},
		{"transitive superior with custody", permission.Position{Relation: permission.RelationSuperior, Custodian: true}, true},
		{"superior without custody", permission.Position{Relation: permission.RelationImmediateSuperior}, false},
		{"own unit", permission.Position{Relation: permission.RelationOwn, Custodian: true}, false},
		{"unrelated", permission.Position{Relation: permission.RelationUnrelated, Custodian: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			set := permission.Resolve(domain.RoleGestor, domain.CadastroAvailable, tc.pos)
			assert.Equal(t, tc.want, set.Has(domain.ActionAccept))
			assert.Equal(t, tc.want, set.Has(domain.ActionReturn))
		})
	}
	inProgress := permission.Resolve(domain.RoleGestor, domain.CadastroInProgress,
		permission.Position{Relation: permission.RelationImmediateSuperior, Custodian: true})
	assert.False(t, inProgress.Has(domain.ActionAccept))
}

func TestViewAccess(t *testing.T) {
	for _, role := range roles {
		unrelated := permission.Resolve(role, domain.MapAvailable, permission.Position{Relation: permission.RelationUnrelated})
		assert.Equal(t, role == domain.RoleAdmin, unrelated.Has(domain.ActionView), role)
		above := permission.Resolve(role, domain.MapAvailable, permission.Position{Relation: permission.RelationSuperior})
		assert.True(t, above.Has(domain.ActionView), role)
	}
}

func TestAuthorize(t *testing.T) {
	err := permission.Authorize(domain.RoleChefe, domain.CadastroAvailable, permission.Position{Relation: permission.RelationOwn}, domain.ActionHomologate)
	var forbidden permission.ForbiddenError
	require.True(t, errors.As(err, &forbidden))
	assert.Equal(t, domain.ActionHomologate, forbidden.Action)
	assert.Equal(t, domain.CadastroAvailable, forbidden.Situation)

	require.NoError(t, permission.Authorize(domain.RoleAdmin, domain.CadastroAvailable, permission.Position{}, domain.ActionHomologate))
}

func TestTreeRelate(t *testing.T) {
	root, mid := "root", "mid"
	tree := permission.NewTree([]domain.Unit{
		{ID: root, Sigla: "ROOT"},
		{ID: mid, Sigla: "MID", ParentID: &root},
		{ID: "leaf", Sigla: "LEAF", ParentID: &mid},
		{ID: "other", Sigla: "OTHER"},
	})
	assert.Equal(t, permission.RelationOwn, tree.Relate("leaf", "leaf"))
	assert.Equal(t, permission.RelationImmediateSuperior, tree.Relate("mid", "leaf"))
	assert.Equal(t, permission.RelationSuperior, tree.Relate("root", "leaf"))
	assert.Equal(t, permission.RelationUnrelated, tree.Relate("leaf", "mid"))
	assert.Equal(t, permission.RelationUnrelated, tree.Relate("other", "leaf"))
	assert.Equal(t, []string{"mid", "root"}, tree.Superiors("leaf"))
}
