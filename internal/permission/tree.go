package permission

import "mapline/internal/domain"

// Tree is a read-only snapshot of the unit hierarchy.
type Tree struct {
	units   map[string]domain.Unit
	parents map[string]string
}

func NewTree(units []domain.Unit) Tree {
	t := Tree{units: make(map[string]domain.Unit, len(units)), parents: make(map[string]string, len(units))}
	for _, u := range units {
		t.units[u.ID] = u
		if u.ParentID != nil && *u.ParentID != "" {
			t.parents[u.ID] = *u.ParentID
		}
	}
	return t
}

func (t Tree) Unit(id string) (domain.Unit, bool) {
	u, ok := t.units[id]
	return u, ok
}

func (t Tree) Parent(id string) (string, bool) {
	p, ok := t.parents[id]
	return p, ok
}

// Superiors returns the chain above id, nearest first.
func (t Tree) Superiors(id string) []string {
	var out []string
	seen := map[string]bool{id: true}
	for {
		p, ok := t.parents[id]
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		id = p
	}
}

// Relate places acting relative to target.
func (t Tree) Relate(acting, target string) Relation {
	if acting == target {
		return RelationOwn
	}
	for i, sup := range t.Superiors(target) {
		if sup == acting {
			if i == 0 {
				return RelationImmediateSuperior
			}
			return RelationSuperior
		}
	}
	return RelationUnrelated
}
