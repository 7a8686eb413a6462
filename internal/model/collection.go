package model

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/schema"
)

// Collection is an ordered list of child models. When key attributes are
// declared no two members may share the same key projection.
type Collection struct {
	arena   *Arena
	id      ID
	attr    string
	handler ID
	field   *schema.Descriptor
	def     *Definition
	keys    []string
	members []ID
	orig    map[ID]bool
	deleted []ID
	events  Emitter
}

func (a *Arena) newCollection(handler *Model, attr string, field *schema.Descriptor, def *Definition) *Collection {
	keys := field.UniqueCol
	if len(keys) == 0 {
		keys = def.Node.Keys
	}
	c := &Collection{
		arena:   a,
		id:      a.nextID(),
		attr:    attr,
		handler: handler.id,
		field:   field,
		def:     def,
		keys:    keys,
		orig:    make(map[ID]bool),
	}
	a.colls[c.id] = c
	return c
}

// ID returns the arena ID of the collection.
func (c *Collection) ID() ID { return c.id }

// Attr returns the attribute name of the collection on its handler.
func (c *Collection) Attr() string { return c.attr }

// Field returns the schema entry declaring the collection.
func (c *Collection) Field() *schema.Descriptor { return c.field }

// Definition returns the node type of the rows.
func (c *Collection) Definition() *Definition { return c.def }

// Keys returns the unique key attributes.
func (c *Collection) Keys() []string { return c.keys }

// Handler returns the model owning the collection.
func (c *Collection) Handler() *Model { return c.arena.items[c.handler] }

// On subscribes to add, remove and change events of the rows.
func (c *Collection) On(name string, fn Listener) Subscription {
	return c.events.On(name, fn)
}

// ListenerCount returns the number of listeners on the collection.
func (c *Collection) ListenerCount() int { return c.events.Count() }

// Len returns the number of rows.
func (c *Collection) Len() int { return len(c.members) }

// Models returns the rows in order.
func (c *Collection) Models() []*Model {
	out := make([]*Model, 0, len(c.members))
	for _, id := range c.members {
		out = append(out, c.arena.items[id])
	}
	return out
}

// At returns the row at index i.
func (c *Collection) At(i int) *Model {
	if i < 0 || i >= len(c.members) {
		return nil
	}
	return c.arena.items[c.members[i]]
}

// Get returns the row with arena ID id.
func (c *Collection) Get(id ID) *Model {
	if c.indexOf(id) < 0 {
		return nil
	}
	return c.arena.items[id]
}

func (c *Collection) indexOf(id ID) int {
	for i, m := range c.members {
		if m == id {
			return i
		}
	}
	return -1
}

// Contains reports whether m is a row of the collection.
func (c *Collection) Contains(m *Model) bool {
	return m != nil && c.indexOf(m.id) >= 0
}

func (c *Collection) isKey(attr string) bool {
	for _, k := range c.keys {
		if k == attr {
			return true
		}
	}
	return false
}

func (c *Collection) projection(get func(string) any) []any {
	out := make([]any, len(c.keys))
	for i, k := range c.keys {
		out[i] = get(k)
	}
	return out
}

// findByKey returns a row other than skip whose key projection equals proj.
// An all-empty projection never collides when the field allows several
// empty rows.
func (c *Collection) findByKey(proj []any, skip *Model) *Model {
	if len(c.keys) == 0 {
		return nil
	}
	if c.field != nil && c.field.AllowMultipleEmptyRows && emptyProjection(proj) {
		return nil
	}
	for _, m := range c.Models() {
		if m == skip {
			continue
		}
		if sameProjection(proj, c.projection(m.Get)) {
			return m
		}
	}
	return nil
}

func emptyProjection(proj []any) bool {
	for _, v := range proj {
		if !schema.IsEmpty(v) {
			return false
		}
	}
	return true
}

func sameProjection(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !SameValue(a[i], b[i]) {
			return false
		}
	}
	return true
}

// HasEmptyRow reports whether a row has nothing but falsy values.
func (c *Collection) HasEmptyRow() bool {
	for _, m := range c.Models() {
		if m.AllEmpty() {
			return true
		}
	}
	return false
}

// Add appends a row built from values. A row repeating the key projection
// of an existing row is rejected with ErrDuplicate and the message is
// recorded on the handler's error model. Adding back a row that was
// deleted in this session restores it.
func (c *Collection) Add(values map[string]any) (*Model, error) {
	h := c.Handler()
	if h.state.Closed() {
		return nil, ErrClosed
	}
	if restored := c.restore(values); restored != nil {
		c.added(h, restored)
		return restored, nil
	}
	m, err := c.arena.build(c.def, values, c.id, false)
	if err != nil {
		return nil, err
	}
	if c.findByKey(c.projection(m.Get), nil) != nil {
		c.arena.drop(m)
		h.errors.SetInput(c.attr, DuplicateMessage)
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, c.attr)
	}
	c.members = append(c.members, m.id)
	c.added(h, m)
	return m, nil
}

func (c *Collection) added(h *Model, m *Model) {
	h.errors.ClearInput(c.attr)
	h.touch()
	c.events.Emit(Event{Name: EventAdd, Model: h, Attr: c.attr, Row: m})
	h.changed(c.attr, nil, nil)
}

// restore moves a row deleted in this session back into the collection
// when values carry its key.
func (c *Collection) restore(values map[string]any) *Model {
	if len(c.keys) == 0 || len(c.deleted) == 0 {
		return nil
	}
	proj := c.projection(func(k string) any { return values[k] })
	for i, id := range c.deleted {
		m := c.arena.items[id]
		if !sameProjection(proj, c.projection(m.Get)) {
			continue
		}
		if c.findByKey(proj, nil) != nil {
			return nil
		}
		c.deleted = append(c.deleted[:i:i], c.deleted[i+1:]...)
		c.members = append(c.members, id)
		m.detached = false
		for k, v := range values {
			if m.Collection(k) == nil && !SameValue(m.attrs[k], v) {
				m.attrs[k] = clone(v)
			}
		}
		return m
	}
	return nil
}

// Remove deletes a row and runs the reference cascade: rows elsewhere in
// the session that reference the removed row are pruned, and owners left
// with an empty collection declared remove_when_empty are removed too.
func (c *Collection) Remove(m *Model) error {
	h := c.Handler()
	if h.state.Closed() {
		return ErrClosed
	}
	i := -1
	if m != nil {
		i = c.indexOf(m.id)
	}
	if i < 0 {
		return ErrNotMember
	}
	c.members = append(c.members[:i:i], c.members[i+1:]...)
	if c.orig[m.id] {
		m.detached = true
		c.deleted = append(c.deleted, m.id)
	} else {
		c.arena.drop(m)
	}
	h.errors.ClearInput(c.attr)
	h.touch()
	c.events.Emit(Event{Name: EventRemove, Model: h, Attr: c.attr, Row: m})
	h.changed(c.attr, nil, nil)
	c.arena.cascade(c, m)
	return nil
}

// Reset removes every row.
func (c *Collection) Reset() error {
	for _, m := range c.Models() {
		if err := c.Remove(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) memberChanged(m *Model, attr string) {
	c.events.Emit(Event{Name: EventChange, Model: c.Handler(), Attr: attr, Row: m})
	c.Handler().changed(c.attr, nil, nil)
}

// ToJSON returns the rows as plain objects.
func (c *Collection) ToJSON() []any {
	out := make([]any, 0, len(c.members))
	for _, m := range c.Models() {
		out = append(out, m.ToJSON())
	}
	return out
}

// SessionChanged reports whether rows were added, changed or deleted.
func (c *Collection) SessionChanged() bool {
	return c.SessionJSON() != nil
}

// SessionJSON returns {added, changed, deleted}, omitting empty lists, or
// nil when the collection is unchanged.
func (c *Collection) SessionJSON() map[string]any {
	var added, changed, deleted []any
	for _, m := range c.Models() {
		switch {
		case !c.orig[m.id]:
			added = append(added, m.ToJSON())
		case m.SessionChanged():
			changed = append(changed, m.SessionJSON())
		}
	}
	for _, id := range c.deleted {
		deleted = append(deleted, c.arena.items[id].ToJSON())
	}
	out := make(map[string]any)
	if len(added) > 0 {
		out["added"] = added
	}
	if len(changed) > 0 {
		out["changed"] = changed
	}
	if len(deleted) > 0 {
		out["deleted"] = deleted
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
