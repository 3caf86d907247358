// Package permission decides which actions a role may invoke on a subprocess.
// Everything here is pure: callers must resolve again after every transition.
package permission

import (
	"fmt"
	"sort"

	"mapline/internal/domain"
	"mapline/internal/lifecycle"
)

// ForbiddenError indicates the role/position may not perform the action.
type ForbiddenError struct {
	Role      domain.Role
	Action    domain.Action
	Situation domain.Situation
}

func (e ForbiddenError) Error() string {
	if e.Situation == "" {
		return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
	}
	return fmt.Sprintf("role %s may not %s in situation %s", e.Role, e.Action, e.Situation)
}

// Relation is where the acting unit sits relative to the subprocess's unit.
type Relation int

const (
	RelationUnrelated Relation = iota
	RelationOwn
	RelationImmediateSuperior
	RelationSuperior
)

func (r Relation) String() string {
	switch r {
	case RelationOwn:
		return "OWN"
	case RelationImmediateSuperior:
		return "IMMEDIATE_SUPERIOR"
	case RelationSuperior:
		return "SUPERIOR"
	}
	return "UNRELATED"
}

// Position is the ownership input of the resolver.
type Position struct {
	Relation Relation
	// Custodian is set when the acting unit currently holds the subprocess.
	Custodian bool
}

func (p Position) above() bool {
	return p.Relation == RelationImmediateSuperior || p.Relation == RelationSuperior
}

// ActionSet is the resolver output.
type ActionSet map[domain.Action]struct{}

func (s ActionSet) Has(a domain.Action) bool {
	_, ok := s[a]
	return ok
}

func (s ActionSet) add(actions ...domain.Action) {
	for _, a := range actions {
		s[a] = struct{}{}
	}
}

// List returns the actions sorted by name.
func (s ActionSet) List() []domain.Action {
	out := make([]domain.Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve returns the actions enabled for role at situação s from position pos.
func Resolve(role domain.Role, s domain.Situation, pos Position) ActionSet {
	set := ActionSet{}
	switch role {
	case domain.RoleAdmin:
		set.add(domain.ActionView)
		set.add(lifecycle.Legal(s)...)
		if lifecycle.CadastroEditable(s) {
			set.add(domain.ActionEditCadastro)
		}
		if lifecycle.MapEditable(s) {
			set.add(domain.ActionEditMap)
		}
		if lifecycle.Revision(s) {
			set.add(domain.ActionViewImpact)
		}
	case domain.RoleChefe:
		if pos.Relation == RelationOwn || pos.above() {
			set.add(domain.ActionView)
		}
		if pos.Relation != RelationOwn {
			break
		}
		legal := lifecycle.Legal(s)
		for _, a := range legal {
			if a == domain.ActionStart || a == domain.ActionConclude {
				set.add(a)
			}
		}
		if lifecycle.CadastroEditable(s) {
			set.add(domain.ActionEditCadastro)
		}
		switch s {
		case domain.CadastroInProgress:
			set.add(domain.ActionDisponibilize)
		case domain.RevisionCadastroInProgress:
			set.add(domain.ActionDisponibilize, domain.ActionViewImpact)
		case domain.MapAvailable, domain.RevisionMapAvailable:
			set.add(domain.ActionSuggest, domain.ActionValidate)
		}
	case domain.RoleGestor:
		if pos.Relation == RelationOwn || pos.above() {
			set.add(domain.ActionView)
		}
		if pos.above() && pos.Custodian && lifecycle.AwaitingAnalysis(s) {
			set.add(domain.ActionAccept, domain.ActionReturn)
			if lifecycle.Revision(s) && lifecycle.PhaseOf(s) == lifecycle.PhaseCadastro {
				set.add(domain.ActionViewImpact)
			}
		}
	case domain.RoleServidor:
		if pos.Relation == RelationOwn || pos.above() {
			set.add(domain.ActionView)
		}
	}
	return set
}

// Authorize returns ForbiddenError unless Resolve enables action.
func Authorize(role domain.Role, s domain.Situation, pos Position, action domain.Action) error {
	if Resolve(role, s, pos).Has(action) {
		return nil
	}
	return ForbiddenError{Role: role, Action: action, Situation: s}
}
