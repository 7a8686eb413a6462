package model

import "errors"

// cascade prunes rows that reference a row removed from a top-level
// collection. It runs synchronously and in arena walk order.
func (a *Arena) cascade(from *Collection, removed *Model) {
	top := a.Top()
	if top == nil || from.handler != top.id {
		return
	}
	type target struct {
		coll *Collection
		row  *Model
	}
	var targets []target
	a.eachCollection(func(c *Collection) {
		for _, r := range c.def.refs {
			if r.ref.Collection != from.attr {
				continue
			}
			want := removed.Get(r.ref.Target())
			for _, row := range c.Models() {
				if SameValue(row.Get(r.attr), want) {
					targets = append(targets, target{coll: c, row: row})
				}
			}
		}
	})
	for _, t := range targets {
		if _, live := a.colls[t.coll.id]; !live || !t.coll.Contains(t.row) {
			continue
		}
		_ = t.coll.Remove(t.row)
		a.pruneEmpty(t.coll)
	}
}

// pruneEmpty removes the owner of c when c became empty and is declared
// remove_when_empty.
func (a *Arena) pruneEmpty(c *Collection) {
	if c.Len() > 0 || !c.field.RemoveWhenEmpty {
		return
	}
	owner := c.Handler()
	if owner == nil {
		return
	}
	if oc := owner.OwnerCollection(); oc != nil {
		_ = oc.Remove(owner)
	}
}

// propagateRename rewrites references when the referenced attribute of a
// top-level row changes and the reference opts in. A reference that cannot
// follow keeps its value and carries the reason as an input error.
func (a *Arena) propagateRename(m *Model, attr string, old, next any) {
	c := m.OwnerCollection()
	top := a.Top()
	if c == nil || top == nil || c.handler != top.id || old == nil {
		return
	}
	a.eachCollection(func(rc *Collection) {
		for _, r := range rc.def.refs {
			if !r.ref.Rename || r.ref.Collection != c.attr || r.ref.Target() != attr {
				continue
			}
			for _, row := range rc.Models() {
				if !SameValue(row.Get(r.attr), old) {
					continue
				}
				if err := row.Set(r.attr, next); err != nil && !errors.Is(err, ErrDuplicate) {
					row.errors.SetInput(r.attr, err.Error())
				}
			}
		}
	})
}
