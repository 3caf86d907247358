package lifecycle

import "mapline/internal/domain"

// Phase groups situações into the stage whose deadline applies to them.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCadastro
	PhaseMap
	PhaseDiagnosis
)

var situationsByKind = map[domain.ProcessKind][]domain.Situation{
	domain.KindMapping: {
		domain.NotStarted,
		domain.CadastroInProgress, domain.CadastroAvailable, domain.CadastroAccepted, domain.CadastroReturned, domain.CadastroHomologated,
		domain.MapCreated, domain.MapAvailable, domain.MapWithSuggestions, domain.MapValidated, domain.MapHomologated,
	},
	domain.KindRevision: {
		domain.NotStarted,
		domain.RevisionCadastroInProgress, domain.RevisionCadastroAvailable, domain.RevisionCadastroAccepted, domain.RevisionCadastroReturned, domain.RevisionCadastroHomologated,
		domain.RevisionMapAdjusted, domain.RevisionMapAvailable, domain.RevisionMapWithSuggestions, domain.RevisionMapValidated, domain.RevisionMapHomologated,
	},
	domain.KindDiagnosis: {
		domain.NotStarted,
		domain.DiagnosisInProgress, domain.DiagnosisConcluded,
	},
}

// Situations returns the closed set of situações for a process kind.
func Situations(kind domain.ProcessKind) []domain.Situation {
	return append([]domain.Situation(nil), situationsByKind[kind]...)
}

// AllSituations returns every situação once.
func AllSituations() []domain.Situation {
	seen := map[domain.Situation]struct{}{}
	var out []domain.Situation
	for _, kind := range []domain.ProcessKind{domain.KindMapping, domain.KindRevision, domain.KindDiagnosis} {
		for _, s := range situationsByKind[kind] {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// BelongsTo reports whether s is part of the lifecycle of kind.
func BelongsTo(kind domain.ProcessKind, s domain.Situation) bool {
	for _, candidate := range situationsByKind[kind] {
		if candidate == s {
			return true
		}
	}
	return false
}

// TransitionActions lists every action that can appear in a transition table.
func TransitionActions() []domain.Action {
	return []domain.Action{
		domain.ActionStart, domain.ActionDisponibilize, domain.ActionAccept, domain.ActionReturn,
		domain.ActionHomologate, domain.ActionReopen, domain.ActionSuggest, domain.ActionValidate,
		domain.ActionCreateMap, domain.ActionAdjustMap, domain.ActionConclude,
	}
}

// AwaitingAnalysis reports situações sitting with a superior for accept/return.
func AwaitingAnalysis(s domain.Situation) bool {
	switch s {
	case domain.CadastroAvailable, domain.CadastroAccepted,
		domain.MapWithSuggestions, domain.MapValidated,
		domain.RevisionCadastroAvailable, domain.RevisionCadastroAccepted,
		domain.RevisionMapWithSuggestions, domain.RevisionMapValidated:
		return true
	}
	return false
}

func Homologated(s domain.Situation) bool {
	switch s {
	case domain.CadastroHomologated, domain.MapHomologated,
		domain.RevisionCadastroHomologated, domain.RevisionMapHomologated:
		return true
	}
	return false
}

func InProgress(s domain.Situation) bool {
	switch s {
	case domain.CadastroInProgress, domain.RevisionCadastroInProgress, domain.DiagnosisInProgress:
		return true
	}
	return false
}

// CadastroEditable reports whether the activity catalogue may change.
func CadastroEditable(s domain.Situation) bool {
	switch s {
	case domain.NotStarted,
		domain.CadastroInProgress, domain.CadastroReturned,
		domain.RevisionCadastroInProgress, domain.RevisionCadastroReturned:
		return true
	}
	return false
}

// MapEditable reports whether competencies may change.
func MapEditable(s domain.Situation) bool {
	switch s {
	case domain.CadastroHomologated, domain.MapCreated, domain.MapWithSuggestions,
		domain.RevisionCadastroHomologated, domain.RevisionMapAdjusted, domain.RevisionMapWithSuggestions:
		return true
	}
	return false
}

// Final reports the situações a process needs from every subprocess to finish.
func Final(s domain.Situation) bool {
	switch s {
	case domain.MapHomologated, domain.RevisionMapHomologated, domain.DiagnosisConcluded:
		return true
	}
	return false
}

// Revision reports situações that belong only to revision processes.
func Revision(s domain.Situation) bool {
	return s != domain.NotStarted && BelongsTo(domain.KindRevision, s)
}

func PhaseOf(s domain.Situation) Phase {
	switch s {
	case domain.NotStarted,
		domain.CadastroInProgress, domain.CadastroAvailable, domain.CadastroAccepted, domain.CadastroReturned,
		domain.RevisionCadastroInProgress, domain.RevisionCadastroAvailable, domain.RevisionCadastroAccepted, domain.RevisionCadastroReturned:
		return PhaseCadastro
	case domain.CadastroHomologated, domain.MapCreated, domain.MapAvailable, domain.MapWithSuggestions, domain.MapValidated,
		domain.RevisionCadastroHomologated, domain.RevisionMapAdjusted, domain.RevisionMapAvailable,
		domain.RevisionMapWithSuggestions, domain.RevisionMapValidated:
		return PhaseMap
	case domain.DiagnosisInProgress:
		return PhaseDiagnosis
	}
	return PhaseNone
}
