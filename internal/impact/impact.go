// Package impact diffs a unit's working activity catalogue against its
// vigente competency map.
package impact

import (
	"sort"

	"mapline/internal/domain"
)

type Kind string

const (
	ActivityInserted Kind = "ACTIVITY_INSERTED"
	ActivityRemoved  Kind = "ACTIVITY_REMOVED"
	ActivityAltered  Kind = "ACTIVITY_ALTERED"
)

// Baseline is the vigente map: its competencies and the activity universe
// they were built from.
type Baseline struct {
	Competencies []domain.Competency
	Activities   []domain.Activity
}

// Candidate is the working catalogue under revision.
type Candidate struct {
	Activities []domain.Activity
}

type CompetencyRef struct {
	ID          string `json:"id"`
	Description string `json:"descricao"`
}

type InsertedActivity struct {
	ID          string   `json:"id"`
	Description string   `json:"descricao"`
	Knowledge   []string `json:"conhecimentos"`
	// CandidateCompetencies are baseline competencies with no supporting
	// activity left; association stays a human decision.
	CandidateCompetencies []CompetencyRef `json:"competenciasCandidatas"`
}

type AffectedCompetency struct {
	CompetencyRef
	LostOnlySupport bool `json:"perdeUnicoSuporte"`
}

type RemovedActivity struct {
	ID                   string               `json:"id"`
	Description          string               `json:"descricao"`
	Knowledge            []string             `json:"conhecimentos"`
	AffectedCompetencies []AffectedCompetency `json:"competenciasAfetadas"`
}

type AlteredActivity struct {
	ID                 string   `json:"id"`
	DescriptionBefore  string   `json:"descricaoAnterior"`
	DescriptionAfter   string   `json:"descricaoAtual"`
	DescriptionChanged bool     `json:"descricaoAlterada"`
	KnowledgeAdded     []string `json:"conhecimentosAdicionados"`
	KnowledgeRemoved   []string `json:"conhecimentosRemovidos"`
	KnowledgeChanged   []string `json:"conhecimentosAlterados"`
}

type ImpactedCompetency struct {
	ID          string   `json:"id"`
	Description string   `json:"descricao"`
	Kinds       []Kind   `json:"tiposImpacto"`
	ActivityIDs []string `json:"atividadesAfetadas"`
}

type Report struct {
	HasImpact            bool                 `json:"temImpactos"`
	Inserted             []InsertedActivity   `json:"inseridas"`
	Removed              []RemovedActivity    `json:"removidas"`
	Altered              []AlteredActivity    `json:"alteradas"`
	ImpactedCompetencies []ImpactedCompetency `json:"competenciasImpactadas"`
	TotalInserted        int                  `json:"totalInseridas"`
	TotalRemoved         int                  `json:"totalRemovidas"`
	TotalAltered         int                  `json:"totalAlteradas"`
	TotalImpacted        int                  `json:"totalCompetenciasImpactadas"`
}

// Analyze classifies every activity by stable id. It reads its arguments only.
func Analyze(base Baseline, cand Candidate) Report {
	before := byID(base.Activities)
	after := byID(cand.Activities)

	rep := Report{
		Inserted:             []InsertedActivity{},
		Removed:              []RemovedActivity{},
		Altered:              []AlteredActivity{},
		ImpactedCompetencies: []ImpactedCompetency{},
	}
	acc := newAccumulator(base.Competencies)

	var orphans []CompetencyRef
	for _, c := range sortedCompetencies(base.Competencies) {
		if len(c.ActivityIDs) == 0 {
			orphans = append(orphans, CompetencyRef{ID: c.ID, Description: c.Description})
		}
	}

	for _, id := range sortedKeys(after) {
		a := after[id]
		if _, ok := before[id]; ok {
			continue
		}
		rep.Inserted = append(rep.Inserted, InsertedActivity{
			ID:                    a.ID,
			Description:           a.Description,
			Knowledge:             knowledgeDescriptions(a),
			CandidateCompetencies: append([]CompetencyRef{}, orphans...),
		})
		for _, o := range orphans {
			acc.mark(o.ID, ActivityInserted, a.ID)
		}
	}

	for _, id := range sortedKeys(before) {
		b := before[id]
		a, ok := after[id]
		if !ok {
			removed := RemovedActivity{
				ID:                   b.ID,
				Description:          b.Description,
				Knowledge:            knowledgeDescriptions(b),
				AffectedCompetencies: []AffectedCompetency{},
			}
			for _, c := range acc.supportedBy(id) {
				acc.mark(c.ID, ActivityRemoved, id)
				removed.AffectedCompetencies = append(removed.AffectedCompetencies, AffectedCompetency{
					CompetencyRef:   CompetencyRef{ID: c.ID, Description: c.Description},
					LostOnlySupport: len(c.ActivityIDs) == 1,
				})
			}
			rep.Removed = append(rep.Removed, removed)
			continue
		}
		if alt, changed := compare(b, a); changed {
			rep.Altered = append(rep.Altered, alt)
			for _, c := range acc.supportedBy(id) {
				acc.mark(c.ID, ActivityAltered, id)
			}
		}
	}

	rep.ImpactedCompetencies = acc.result()
	rep.TotalInserted = len(rep.Inserted)
	rep.TotalRemoved = len(rep.Removed)
	rep.TotalAltered = len(rep.Altered)
	rep.TotalImpacted = len(rep.ImpactedCompetencies)
	rep.HasImpact = rep.TotalInserted+rep.TotalRemoved+rep.TotalAltered+rep.TotalImpacted > 0
	return rep
}

// compare yields at most one entry per activity, however many things changed.
func compare(before, after domain.Activity) (AlteredActivity, bool) {
	alt := AlteredActivity{
		ID:                 before.ID,
		DescriptionBefore:  before.Description,
		DescriptionAfter:   after.Description,
		DescriptionChanged: before.Description != after.Description,
		KnowledgeAdded:     []string{},
		KnowledgeRemoved:   []string{},
		KnowledgeChanged:   []string{},
	}
	prev := knowledgeByID(before)
	next := knowledgeByID(after)
	for _, id := range sortedKeys(next) {
		old, ok := prev[id]
		switch {
		case !ok:
			alt.KnowledgeAdded = append(alt.KnowledgeAdded, next[id].Description)
		case old.Description != next[id].Description:
			alt.KnowledgeChanged = append(alt.KnowledgeChanged, next[id].Description)
		}
	}
	for _, id := range sortedKeys(prev) {
		if _, ok := next[id]; !ok {
			alt.KnowledgeRemoved = append(alt.KnowledgeRemoved, prev[id].Description)
		}
	}
	changed := alt.DescriptionChanged || len(alt.KnowledgeAdded) > 0 || len(alt.KnowledgeRemoved) > 0 || len(alt.KnowledgeChanged) > 0
	return alt, changed
}

type accumulator struct {
	competencies map[string]domain.Competency
	bySupport    map[string][]domain.Competency
	kinds        map[string]map[Kind]struct{}
	activities   map[string]map[string]struct{}
}

func newAccumulator(comps []domain.Competency) *accumulator {
	acc := &accumulator{
		competencies: make(map[string]domain.Competency, len(comps)),
		bySupport:    map[string][]domain.Competency{},
		kinds:        map[string]map[Kind]struct{}{},
		activities:   map[string]map[string]struct{}{},
	}
	for _, c := range sortedCompetencies(comps) {
		acc.competencies[c.ID] = c
		for _, aid := range c.ActivityIDs {
			acc.bySupport[aid] = append(acc.bySupport[aid], c)
		}
	}
	return acc
}

func (a *accumulator) supportedBy(activityID string) []domain.Competency {
	return a.bySupport[activityID]
}

func (a *accumulator) mark(competencyID string, kind Kind, activityID string) {
	if a.kinds[competencyID] == nil {
		a.kinds[competencyID] = map[Kind]struct{}{}
		a.activities[competencyID] = map[string]struct{}{}
	}
	a.kinds[competencyID][kind] = struct{}{}
	a.activities[competencyID][activityID] = struct{}{}
}

func (a *accumulator) result() []ImpactedCompetency {
	out := []ImpactedCompetency{}
	for _, id := range sortedKeys(a.kinds) {
		c := a.competencies[id]
		ic := ImpactedCompetency{ID: id, Description: c.Description}
		for k := range a.kinds[id] {
			ic.Kinds = append(ic.Kinds, k)
		}
		sort.Slice(ic.Kinds, func(i, j int) bool { return ic.Kinds[i] < ic.Kinds[j] })
		ic.ActivityIDs = sortedKeys(a.activities[id])
		out = append(out, ic)
	}
	return out
}

func byID(acts []domain.Activity) map[string]domain.Activity {
	out := make(map[string]domain.Activity, len(acts))
	for _, a := range acts {
		out[a.ID] = a
	}
	return out
}

func knowledgeByID(a domain.Activity) map[string]domain.Knowledge {
	out := make(map[string]domain.Knowledge, len(a.Knowledge))
	for _, k := range a.Knowledge {
		out[k.ID] = k
	}
	return out
}

func knowledgeDescriptions(a domain.Activity) []string {
	out := make([]string, 0, len(a.Knowledge))
	known := knowledgeByID(a)
	for _, id := range sortedKeys(known) {
		out = append(out, known[id].Description)
	}
	return out
}

func sortedCompetencies(comps []domain.Competency) []domain.Competency {
	out := append([]domain.Competency(nil), comps...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
