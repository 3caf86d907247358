package impact_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapline/internal/domain"
	"mapline/internal/impact"
)

func act(id, desc string, knowledge ...string) domain.Activity {
	a := domain.Activity{ID: id, Description: desc}
	for i, k := range knowledge {
		a.Knowledge = append(a.Knowledge, domain.Knowledge{ID: id + "-k" + string(rune('0'+i)), ActivityID: id, Description: k})
	}
	return a
}

func baseline() impact.Baseline {
	return impact.Baseline{
		Competencies: []domain.Competency{
			{ID: "C1", Description: "Gestão de contratos", ActivityIDs: []string{"A1"}},
			{ID: "C2", Description: "Atendimento", ActivityIDs: []string{"A2", "A3"}},
		},
		Activities: []domain.Activity{
			act("A1", "Fiscalizar contratos", "Lei 14.133"),
			act("A2", "Atender usuários", "Comunicação"),
			act("A3", "Registrar chamados", "Sistema de chamados"),
		},
	}
}

func TestIdenticalSnapshotsHaveNoImpact(t *testing.T) {
	base := baseline()
	rep := impact.Analyze(base, impact.Candidate{Activities: base.Activities})
	assert.False(t, rep.HasImpact)
	assert.Empty(t, rep.Inserted)
	assert.Empty(t, rep.Removed)
	assert.Empty(t, rep.Altered)
	assert.Empty(t, rep.ImpactedCompetencies)
}

func TestRemoveAndInsert(t *testing.T) {
	base := impact.Baseline{
		Competencies: []domain.Competency{{ID: "C1", Description: "C1", ActivityIDs: []string{"A1"}}},
		Activities:   []domain.Activity{act("A1", "one", "k")},
	}
	rep := impact.Analyze(base, impact.Candidate{Activities: []domain.Activity{act("A2", "two", "k")}})

	require.True(t, rep.HasImpact)
	require.Len(t, rep.Removed, 1)
	assert.Equal(t, "A1", rep.Removed[0].ID)
	require.Len(t, rep.Inserted, 1)
	assert.Equal(t, "A2", rep.Inserted[0].ID)
	assert.Empty(t, rep.Altered)
	require.Len(t, rep.ImpactedCompetencies, 1)
	assert.Equal(t, "C1", rep.ImpactedCompetencies[0].ID)
	assert.Equal(t, []impact.Kind{impact.ActivityRemoved}, rep.ImpactedCompetencies[0].Kinds)
	require.Len(t, rep.Removed[0].AffectedCompetencies, 1)
	assert.True(t, rep.Removed[0].AffectedCompetencies[0].LostOnlySupport)
}

func TestSameIDDifferentTextIsAltered(t *testing.T) {
	base := baseline()
	cand := append([]domain.Activity(nil), base.Activities...)
	cand[1] = act("A2", "Atender usuários internos", "Comunicação")

	rep := impact.Analyze(base, impact.Candidate{Activities: cand})
	assert.Empty(t, rep.Inserted)
	assert.Empty(t, rep.Removed)
	require.Len(t, rep.Altered, 1)
	alt := rep.Altered[0]
	assert.Equal(t, "A2", alt.ID)
	assert.True(t, alt.DescriptionChanged)
	assert.Equal(t, "Atender usuários", alt.DescriptionBefore)
	assert.Equal(t, "Atender usuários internos", alt.DescriptionAfter)
	require.Len(t, rep.ImpactedCompetencies, 1)
	assert.Equal(t, "C2", rep.ImpactedCompetencies[0].ID)
	assert.Equal(t, []impact.Kind{impact.ActivityAltered}, rep.ImpactedCompetencies[0].Kinds)
}

func TestRenameAndKnowledgeChangeCountOnce(t *testing.T) {
	base := baseline()
	cand := append([]domain.Activity(nil), base.Activities...)
	renamed := act("A3", "Registrar e classificar chamados")
	renamed.Knowledge = []domain.Knowledge{{ID: "A3-new", ActivityID: "A3", Description: "ITIL"}}
	cand[2] = renamed

	rep := impact.Analyze(base, impact.Candidate{Activities: cand})
	require.Len(t, rep.Altered, 1)
	assert.Equal(t, 1, rep.TotalAltered)
	alt := rep.Altered[0]
	assert.True(t, alt.DescriptionChanged)
	assert.Equal(t, []string{"ITIL"}, alt.KnowledgeAdded)
	assert.Equal(t, []string{"Sistema de chamados"}, alt.KnowledgeRemoved)
	require.Len(t, rep.ImpactedCompetencies, 1)
	assert.Equal(t, []string{"A3"}, rep.ImpactedCompetencies[0].ActivityIDs)
}

func TestKnowledgeOnlyChangeIsAltered(t *testing.T) {
	base := baseline()
	cand := append([]domain.Activity(nil), base.Activities...)
	changed := cand[0]
	changed.Knowledge = []domain.Knowledge{{ID: changed.Knowledge[0].ID, ActivityID: "A1", Description: "Lei 8.666"}}
	cand[0] = changed

	rep := impact.Analyze(base, impact.Candidate{Activities: cand})
	require.Len(t, rep.Altered, 1)
	assert.False(t, rep.Altered[0].DescriptionChanged)
	assert.Equal(t, []string{"Lei 8.666"}, rep.Altered[0].KnowledgeChanged)
}

func TestUnionOfKindsAndOrphanCandidates(t *testing.T) {
	base := baseline()
	base.Competencies = append(base.Competencies, domain.Competency{ID: "C0", Description: "Sem atividades"})
	cand := []domain.Activity{
		act("A2", "Atender usuários", "Comunicação", "Empatia"),
		act("A4", "Nova atividade", "x"),
	}

	rep := impact.Analyze(base, impact.Candidate{Activities: cand})
	require.Len(t, rep.Inserted, 1)
	assert.Equal(t, []impact.CompetencyRef{{ID: "C0", Description: "Sem atividades"}}, rep.Inserted[0].CandidateCompetencies)

	byID := map[string]impact.ImpactedCompetency{}
	for _, ic := range rep.ImpactedCompetencies {
		byID[ic.ID] = ic
	}
	assert.Equal(t, []impact.Kind{impact.ActivityInserted}, byID["C0"].Kinds)
	assert.Equal(t, []impact.Kind{impact.ActivityRemoved}, byID["C1"].Kinds)
	assert.Equal(t, []impact.Kind{impact.ActivityAltered, impact.ActivityRemoved}, byID["C2"].Kinds)
	assert.Equal(t, []string{"A2", "A3"}, byID["C2"].ActivityIDs)
}

func TestAnalyzeIsOrderStable(t *testing.T) {
	base := baseline()
	cand := []domain.Activity{act("Z9", "z"), act("B1", "b"), act("A2", "changed")}
	first := impact.Analyze(base, impact.Candidate{Activities: cand})

	reversed := []domain.Activity{cand[2], cand[1], cand[0]}
	base.Competencies = []domain.Competency{base.Competencies[1], base.Competencies[0]}
	second := impact.Analyze(base, impact.Candidate{Activities: reversed})

	assert.Equal(t, first, second)
	require.Len(t, first.Inserted, 2)
	assert.Equal(t, "B1", first.Inserted[0].ID)
	assert.Equal(t, "Z9", first.Inserted[1].ID)
}

func TestAnalyzeDoesNotMutateInputs(t *testing.T) {
	base := baseline()
	cand := []domain.Activity{act("A1", "renamed")}
	impact.Analyze(base, impact.Candidate{Activities: cand})
	assert.Equal(t, baseline(), base)
	assert.Equal(t, "renamed", cand[0].Description)
}
