package lifecycle_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/domain"
	"mapline/internal/lifecycle"
)

var kinds = []domain.ProcessKind{domain.KindMapping, domain.KindRevision, domain.KindDiagnosis}

func TestEdgesStayInsideTheirKind(t *testing.T) {
	for _, kind := range kinds {
		for _, tr := range lifecycle.Edges(kind) {
			assert.Truef(t, lifecycle.BelongsTo(kind, tr.From), "%s: from %s", kind, tr.From)
			assert.Truef(t, lifecycle.BelongsTo(kind, tr.To), "%s: to %s", kind, tr.To)
			if tr.ToWhenNoImpact != "" {
				assert.Truef(t, lifecycle.BelongsTo(kind, tr.ToWhenNoImpact), "%s: no-impact target %s", kind, tr.ToWhenNoImpact)
			}
			assert.NotEmptyf(t, tr.Movement, "%s %s/%s has no movement description", kind, tr.From, tr.Action)
		}
	}
}

func TestEveryTransitionActionIsUsed(t *testing.T) {
	used := map[domain.Action]bool{}
	for _, kind := range kinds {
		for _, tr := range lifecycle.Edges(kind) {
			used[tr.Action] = true
		}
	}
	for _, action := range lifecycle.TransitionActions() {
		assert.Truef(t, used[action], "action %s has no edge", action)
	}
}

func TestLookupRejectsUnknownPairs(t *testing.T) {
	for _, kind := range kinds {
		legal := map[lifecycle.Key]bool{}
		for _, tr := range lifecycle.Edges(kind) {
			legal[lifecycle.Key{From: tr.From, Action: tr.Action}] = true
		}
		for _, s := range lifecycle.AllSituations() {
			for _, a := range lifecycle.TransitionActions() {
				_, err := lifecycle.Lookup(kind, s, a)
				if legal[lifecycle.Key{From: s, Action: a}] {
					assert.NoError(t, err)
					continue
				}
				var invalid *lifecycle.InvalidTransitionError
				require.Truef(t, errors.As(err, &invalid), "%s %s/%s: expected invalid transition, got %v", kind, s, a, err)
				assert.Equal(t, s, invalid.From)
				assert.Equal(t, a, invalid.Action)
			}
		}
	}
}

func TestReopenOnlyFromHomologatedBackToInProgress(t *testing.T) {
	for _, kind := range kinds {
		for _, tr := range lifecycle.Edges(kind) {
			if tr.Action != domain.ActionReopen {
				continue
			}
			assert.True(t, lifecycle.Homologated(tr.From), tr.From)
			assert.True(t, lifecycle.InProgress(tr.To), tr.To)
			assert.Equal(t, lifecycle.GateJustification, tr.Gate)
			assert.True(t, strings.HasPrefix(tr.Movement, "Reabertura de "))
		}
	}
}

func TestCadastroChain(t *testing.T) {
	steps := []struct {
		action domain.Action
		to     domain.Situation
	}{
		{domain.ActionStart, domain.CadastroInProgress},
		{domain.ActionDisponibilize, domain.CadastroAvailable},
		{domain.ActionAccept, domain.CadastroAccepted},
		{domain.ActionAccept, domain.CadastroAccepted},
		{domain.ActionHomologate, domain.CadastroHomologated},
		{domain.ActionCreateMap, domain.MapCreated},
		{domain.ActionDisponibilize, domain.MapAvailable},
		{domain.ActionValidate, domain.MapValidated},
		{domain.ActionHomologate, domain.MapHomologated},
	}
	current := domain.NotStarted
	for _, step := range steps {
		tr, err := lifecycle.Lookup(domain.KindMapping, current, step.action)
		require.NoError(t, err)
		require.Equal(t, step.to, tr.To)
		current = tr.To
	}
}

func TestHomologateSkipsAvailableGate(t *testing.T) {
	_, err := lifecycle.Lookup(domain.KindMapping, domain.CadastroInProgress, domain.ActionHomologate)
	require.Error(t, err)
	_, err = lifecycle.Lookup(domain.KindMapping, domain.MapAvailable, domain.ActionHomologate)
	require.Error(t, err)
}

func TestRevisionHomologationShortCircuit(t *testing.T) {
	tr, err := lifecycle.Lookup(domain.KindRevision, domain.RevisionCadastroAvailable, domain.ActionHomologate)
	require.NoError(t, err)
	assert.Equal(t, domain.RevisionCadastroHomologated, tr.To)
	assert.Equal(t, domain.RevisionMapHomologated, tr.ToWhenNoImpact)
}

func TestLegalUnionsKinds(t *testing.T) {
	assert.Equal(t, []domain.Action{domain.ActionStart}, lifecycle.Legal(domain.NotStarted))
	assert.Equal(t,
		[]domain.Action{domain.ActionAccept, domain.ActionHomologate, domain.ActionReturn},
		lifecycle.Legal(domain.CadastroAvailable))
	assert.Empty(t, lifecycle.Legal(domain.DiagnosisConcluded))
}

func TestPredicates(t *testing.T) {
	for _, s := range lifecycle.AllSituations() {
		if lifecycle.AwaitingAnalysis(s) {
			assert.Contains(t, lifecycle.Legal(s), domain.ActionAccept, s)
			assert.Contains(t, lifecycle.Legal(s), domain.ActionReturn, s)
		}
		if lifecycle.Final(s) {
			assert.NotContains(t, lifecycle.Legal(s), domain.ActionAccept, s)
		}
	}
	assert.Equal(t, lifecycle.PhaseMap, lifecycle.PhaseOf(domain.MapAvailable))
	assert.Equal(t, lifecycle.PhaseCadastro, lifecycle.PhaseOf(domain.RevisionCadastroReturned))
	assert.Equal(t, lifecycle.PhaseNone, lifecycle.PhaseOf(domain.MapHomologated))
}

func TestMapLeavesSuggestionsOnlyThroughTheMapGate(t *testing.T) {
	cases := []struct {
		kind domain.ProcessKind
		from domain.Situation
		to   map[domain.Action]domain.Situation
	}{
		{domain.KindMapping, domain.MapWithSuggestions, map[domain.Action]domain.Situation{
			domain.ActionDisponibilize: domain.MapAvailable,
			domain.ActionReturn:        domain.MapAvailable,
			domain.ActionHomologate:    domain.MapHomologated,
		}},
		{domain.KindRevision, domain.RevisionMapWithSuggestions, map[domain.Action]domain.Situation{
			domain.ActionDisponibilize: domain.RevisionMapAvailable,
			domain.ActionReturn:        domain.RevisionMapAvailable,
			domain.ActionHomologate:    domain.RevisionMapHomologated,
		}},
	}
	for _, tc := range cases {
		for action, to := range tc.to {
			tr, err := lifecycle.Lookup(tc.kind, tc.from, action)
			require.NoError(t, err, "%s/%s", tc.from, action)
			assert.Equal(t, to, tr.To)
			assert.Equal(t, lifecycle.GateMap, tr.Gate, "%s/%s", tc.from, action)
		}
	}
}

func TestEveryMapExitIsGated(t *testing.T) {
	for _, kind := range []domain.ProcessKind{domain.KindMapping, domain.KindRevision} {
		for _, tr := range lifecycle.Edges(kind) {
			entersAvailable := tr.To == domain.MapAvailable || tr.To == domain.RevisionMapAvailable
			mapHomologation := lifecycle.PhaseOf(tr.From) == lifecycle.PhaseMap && tr.Action == domain.ActionHomologate
			if lifecycle.MapEditable(tr.From) && (entersAvailable || mapHomologation) {
				assert.Equal(t, lifecycle.GateMap, tr.Gate, "%s %s/%s", kind, tr.From, tr.Action)
			}
		}
	}
}

func TestDisponibilizeMapFromHomologatedCadastro(t *testing.T) {
	for kind, pair := range map[domain.ProcessKind][2]domain.Situation{
		domain.KindMapping:  {domain.CadastroHomologated, domain.MapAvailable},
		domain.KindRevision: {domain.RevisionCadastroHomologated, domain.RevisionMapAvailable},
	} {
		tr, err := lifecycle.Lookup(kind, pair[0], domain.ActionDisponibilize)
		require.NoError(t, err)
		assert.Equal(t, pair[1], tr.To)
		assert.Equal(t, lifecycle.GateMap, tr.Gate)
	}
}
