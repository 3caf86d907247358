package lifecycle

import (
	"fmt"
	"sort"

	"mapline/internal/domain"
)

// Custody says where a subprocess physically sits after a transition.
type Custody int

const (
	// CustodyKeep leaves the subprocess with its current custodian.
	CustodyKeep Custody = iota
	// CustodyUp hands the subprocess to the superior of the current custodian.
	CustodyUp
	// CustodyToUnit sends the subprocess back to its own unit.
	CustodyToUnit
	// CustodyToAdmin parks the subprocess at the admin unit.
	CustodyToAdmin
)

// Gate is the business check a transition must pass before it mutates anything.
type Gate int

const (
	GateNone Gate = iota
	GateCatalogue
	GateMap
	GateJustification
)

// Audience selects who is alerted once a transition commits.
type Audience int

const (
	AudienceNone Audience = iota
	AudienceCustodian
	AudienceUnit
	AudienceUnitAndSuperiors
)

// Key indexes the transition table.
type Key struct {
	From   domain.Situation
	Action domain.Action
}

// Transition is a single legal edge of the lifecycle.
type Transition struct {
	From   domain.Situation
	Action domain.Action
	To     domain.Situation
	// ToWhenNoImpact replaces To when the impact analysis comes back clean.
	ToWhenNoImpact  domain.Situation
	Custody         Custody
	RecordsAnalysis bool
	Gate            Gate
	Movement        string
	Notify          Audience
}

var mappingEdges = []Transition{
	// Cadastro
	{From: domain.NotStarted, Action: domain.ActionStart, To: domain.CadastroInProgress, Movement: "Início do cadastro de atividades"},
	{From: domain.CadastroReturned, Action: domain.ActionStart, To: domain.CadastroInProgress, Movement: "Retomada do cadastro de atividades"},
	{From: domain.CadastroInProgress, Action: domain.ActionDisponibilize, To: domain.CadastroAvailable, Custody: CustodyUp, Gate: GateCatalogue,
		Movement: "Disponibilização do cadastro de atividades", Notify: AudienceCustodian},
	{From: domain.CadastroAvailable, Action: domain.ActionAccept, To: domain.CadastroAccepted, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Cadastro de atividades e conhecimentos aceito", Notify: AudienceCustodian},
	{From: domain.CadastroAccepted, Action: domain.ActionAccept, To: domain.CadastroAccepted, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Cadastro de atividades e conhecimentos aceito", Notify: AudienceCustodian},
	{From: domain.CadastroAvailable, Action: domain.ActionReturn, To: domain.CadastroReturned, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução do cadastro de atividades", Notify: AudienceUnit},
	{From: domain.CadastroAccepted, Action: domain.ActionReturn, To: domain.CadastroReturned, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução do cadastro de atividades", Notify: AudienceUnit},
	{From: domain.CadastroAvailable, Action: domain.ActionHomologate, To: domain.CadastroHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true,
		Movement: "Cadastro de atividades e conhecimentos homologado", Notify: AudienceUnit},
	{From: domain.CadastroAccepted, Action: domain.ActionHomologate, To: domain.CadastroHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true,
		Movement: "Cadastro de atividades e conhecimentos homologado", Notify: AudienceUnit},
	{From: domain.CadastroHomologated, Action: domain.ActionReopen, To: domain.CadastroInProgress, Custody: CustodyToUnit, RecordsAnalysis: true,
		Gate: GateJustification, Movement: "Reabertura de cadastro", Notify: AudienceUnitAndSuperiors},

	// Mapa
	{From: domain.CadastroHomologated, Action: domain.ActionCreateMap, To: domain.MapCreated, Movement: "Criação do mapa de competências"},
	{From: domain.CadastroHomologated, Action: domain.ActionDisponibilize, To: domain.MapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências", Notify: AudienceUnitAndSuperiors},
	{From: domain.MapCreated, Action: domain.ActionDisponibilize, To: domain.MapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências", Notify: AudienceUnitAndSuperiors},
	{From: domain.MapWithSuggestions, Action: domain.ActionDisponibilize, To: domain.MapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências após sugestões", Notify: AudienceUnitAndSuperiors},
	{From: domain.MapAvailable, Action: domain.ActionSuggest, To: domain.MapWithSuggestions, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Sugestões apresentadas para o mapa de competências", Notify: AudienceCustodian},
	{From: domain.MapAvailable, Action: domain.ActionValidate, To: domain.MapValidated, Custody: CustodyUp,
		Movement: "Validação do mapa de competências", Notify: AudienceCustodian},
	{From: domain.MapWithSuggestions, Action: domain.ActionAccept, To: domain.MapWithSuggestions, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Sugestões do mapa de competências encaminhadas", Notify: AudienceCustodian},
	{From: domain.MapValidated, Action: domain.ActionAccept, To: domain.MapValidated, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Validação do mapa de competências aceita", Notify: AudienceCustodian},
	{From: domain.MapWithSuggestions, Action: domain.ActionReturn, To: domain.MapAvailable, Custody: CustodyToUnit, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Devolução da validação do mapa de competências", Notify: AudienceUnit},
	{From: domain.MapValidated, Action: domain.ActionReturn, To: domain.MapAvailable, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução da validação do mapa de competências", Notify: AudienceUnit},
	{From: domain.MapWithSuggestions, Action: domain.ActionHomologate, To: domain.MapHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Mapa de competências homologado", Notify: AudienceUnit},
	{From: domain.MapValidated, Action: domain.ActionHomologate, To: domain.MapHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Mapa de competências homologado", Notify: AudienceUnit},
	{From: domain.MapHomologated, Action: domain.ActionReopen, To: domain.CadastroInProgress, Custody: CustodyToUnit, RecordsAnalysis: true,
		Gate: GateJustification, Movement: "Reabertura de cadastro", Notify: AudienceUnitAndSuperiors},
}

var revisionEdges = []Transition{
	// Cadastro
	{From: domain.NotStarted, Action: domain.ActionStart, To: domain.RevisionCadastroInProgress, Movement: "Início da revisão do cadastro de atividades"},
	{From: domain.RevisionCadastroReturned, Action: domain.ActionStart, To: domain.RevisionCadastroInProgress, Movement: "Retomada da revisão do cadastro de atividades"},
	{From: domain.RevisionCadastroInProgress, Action: domain.ActionDisponibilize, To: domain.RevisionCadastroAvailable, Custody: CustodyUp, Gate: GateCatalogue,
		Movement: "Disponibilização da revisão do cadastro de atividades", Notify: AudienceCustodian},
	{From: domain.RevisionCadastroAvailable, Action: domain.ActionAccept, To: domain.RevisionCadastroAccepted, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Revisão do cadastro de atividades e conhecimentos aceita", Notify: AudienceCustodian},
	{From: domain.RevisionCadastroAccepted, Action: domain.ActionAccept, To: domain.RevisionCadastroAccepted, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Revisão do cadastro de atividades e conhecimentos aceita", Notify: AudienceCustodian},
	{From: domain.RevisionCadastroAvailable, Action: domain.ActionReturn, To: domain.RevisionCadastroReturned, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução da revisão do cadastro de atividades", Notify: AudienceUnit},
	{From: domain.RevisionCadastroAccepted, Action: domain.ActionReturn, To: domain.RevisionCadastroReturned, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução da revisão do cadastro de atividades", Notify: AudienceUnit},
	{From: domain.RevisionCadastroAvailable, Action: domain.ActionHomologate, To: domain.RevisionCadastroHomologated, ToWhenNoImpact: domain.RevisionMapHomologated,
		Custody: CustodyToAdmin, RecordsAnalysis: true, Movement: "Revisão do cadastro de atividades e conhecimentos homologada", Notify: AudienceUnit},
	{From: domain.RevisionCadastroAccepted, Action: domain.ActionHomologate, To: domain.RevisionCadastroHomologated, ToWhenNoImpact: domain.RevisionMapHomologated,
		Custody: CustodyToAdmin, RecordsAnalysis: true, Movement: "Revisão do cadastro de atividades e conhecimentos homologada", Notify: AudienceUnit},
	{From: domain.RevisionCadastroHomologated, Action: domain.ActionReopen, To: domain.RevisionCadastroInProgress, Custody: CustodyToUnit, RecordsAnalysis: true,
		Gate: GateJustification, Movement: "Reabertura de revisão de cadastro", Notify: AudienceUnitAndSuperiors},

	// Mapa
	{From: domain.RevisionCadastroHomologated, Action: domain.ActionAdjustMap, To: domain.RevisionMapAdjusted, Movement: "Ajuste do mapa de competências"},
	{From: domain.RevisionCadastroHomologated, Action: domain.ActionDisponibilize, To: domain.RevisionMapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências ajustado", Notify: AudienceUnitAndSuperiors},
	{From: domain.RevisionMapAdjusted, Action: domain.ActionDisponibilize, To: domain.RevisionMapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências ajustado", Notify: AudienceUnitAndSuperiors},
	{From: domain.RevisionMapWithSuggestions, Action: domain.ActionDisponibilize, To: domain.RevisionMapAvailable, Custody: CustodyToUnit, Gate: GateMap,
		Movement: "Disponibilização do mapa de competências após sugestões", Notify: AudienceUnitAndSuperiors},
	{From: domain.RevisionMapAvailable, Action: domain.ActionSuggest, To: domain.RevisionMapWithSuggestions, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Sugestões apresentadas para o mapa de competências", Notify: AudienceCustodian},
	{From: domain.RevisionMapAvailable, Action: domain.ActionValidate, To: domain.RevisionMapValidated, Custody: CustodyUp,
		Movement: "Validação do mapa de competências", Notify: AudienceCustodian},
	{From: domain.RevisionMapWithSuggestions, Action: domain.ActionAccept, To: domain.RevisionMapWithSuggestions, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Sugestões do mapa de competências encaminhadas", Notify: AudienceCustodian},
	{From: domain.RevisionMapValidated, Action: domain.ActionAccept, To: domain.RevisionMapValidated, Custody: CustodyUp, RecordsAnalysis: true,
		Movement: "Validação do mapa de competências aceita", Notify: AudienceCustodian},
	{From: domain.RevisionMapWithSuggestions, Action: domain.ActionReturn, To: domain.RevisionMapAvailable, Custody: CustodyToUnit, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Devolução da validação do mapa de competências", Notify: AudienceUnit},
	{From: domain.RevisionMapValidated, Action: domain.ActionReturn, To: domain.RevisionMapAvailable, Custody: CustodyToUnit, RecordsAnalysis: true,
		Movement: "Devolução da validação do mapa de competências", Notify: AudienceUnit},
	{From: domain.RevisionMapWithSuggestions, Action: domain.ActionHomologate, To: domain.RevisionMapHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Mapa de competências homologado", Notify: AudienceUnit},
	{From: domain.RevisionMapValidated, Action: domain.ActionHomologate, To: domain.RevisionMapHomologated, Custody: CustodyToAdmin, RecordsAnalysis: true, Gate: GateMap,
		Movement: "Mapa de competências homologado", Notify: AudienceUnit},
	{From: domain.RevisionMapHomologated, Action: domain.ActionReopen, To: domain.RevisionCadastroInProgress, Custody: CustodyToUnit, RecordsAnalysis: true,
		Gate: GateJustification, Movement: "Reabertura de revisão de cadastro", Notify: AudienceUnitAndSuperiors},
}

var diagnosisEdges = []Transition{
	{From: domain.NotStarted, Action: domain.ActionStart, To: domain.DiagnosisInProgress, Movement: "Início do diagnóstico"},
	{From: domain.DiagnosisInProgress, Action: domain.ActionConclude, To: domain.DiagnosisConcluded, Custody: CustodyToAdmin,
		Movement: "Conclusão do diagnóstico", Notify: AudienceUnit},
}

var tables = map[domain.ProcessKind]map[Key]Transition{
	domain.KindMapping:   index(mappingEdges),
	domain.KindRevision:  index(revisionEdges),
	domain.KindDiagnosis: index(diagnosisEdges),
}

func index(edges []Transition) map[Key]Transition {
	out := make(map[Key]Transition, len(edges))
	for _, tr := range edges {
		key := Key{From: tr.From, Action: tr.Action}
		if _, dup := out[key]; dup {
			panic(fmt.Sprintf("lifecycle: duplicate edge %s/%s", tr.From, tr.Action))
		}
		out[key] = tr
	}
	return out
}

// InvalidTransitionError reports an action that is not legal from a situação.
type InvalidTransitionError struct {
	Kind   domain.ProcessKind
	From   domain.Situation
	Action domain.Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s not allowed from %s (%s process)", e.Action, e.From, e.Kind)
}

// Lookup returns the edge for (from, action) in the table of the given kind.
func Lookup(kind domain.ProcessKind, from domain.Situation, action domain.Action) (Transition, error) {
	if tr, ok := tables[kind][Key{From: from, Action: action}]; ok {
		return tr, nil
	}
	return Transition{}, &InvalidTransitionError{Kind: kind, From: from, Action: action}
}

// Edges returns a copy of every edge of a process kind.
func Edges(kind domain.ProcessKind) []Transition {
	table := tables[kind]
	out := make([]Transition, 0, len(table))
	for _, tr := range table {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Legal returns the transition actions leaving a situação, across all kinds.
func Legal(from domain.Situation) []domain.Action {
	seen := map[domain.Action]struct{}{}
	for _, table := range tables {
		for key := range table {
			if key.From == from {
				seen[key.Action] = struct{}{}
			}
		}
	}
	out := make([]domain.Action, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
