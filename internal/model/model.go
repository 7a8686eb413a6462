// Package model provides the editable data behind a dialog: models with
// attributes and an error model, uniqueness constrained collections of
// child models, validation, change tracking and serialization.
//
// Models live in an Arena and refer to their top model and owning
// collection by ID. All mutation goes through Set and SetPath, which
// deliver change events synchronously.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matthewbaird/pgform/internal/keypath"
	"github.com/matthewbaird/pgform/internal/schema"
)

// State is the lifecycle stage of a model. Validity is derived and not a
// stored state.
type State int

const (
	StateNew State = iota
	StateEditing
	StateSaved
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateEditing:
		return "editing"
	case StateSaved:
		return "saved"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Closed reports whether the state is terminal.
func (s State) Closed() bool { return s == StateSaved || s == StateDiscarded }

// Model is one editable entity.
type Model struct {
	arena      *Arena
	id         ID
	def        *Definition
	attrs      map[string]any
	colls      map[string]ID
	orig       map[string]any
	errors     *ErrorModel
	collection ID
	detached   bool
	onServer   bool
	state      State
	events     Emitter
}

// ID returns the arena ID of the model.
func (m *Model) ID() ID { return m.id }

// Definition returns the node type of the model.
func (m *Model) Definition() *Definition { return m.def }

// Arena returns the arena owning the model.
func (m *Model) Arena() *Arena { return m.arena }

// Errors returns the error model.
func (m *Model) Errors() *ErrorModel { return m.errors }

// State returns the lifecycle state.
func (m *Model) State() State { return m.state }

// NodeInfo returns the object tree context of the session.
func (m *Model) NodeInfo() *schema.NodeInfo { return m.arena.info }

// TopModel returns the top model of the session.
func (m *Model) TopModel() *Model { return m.arena.Top() }

// Top implements schema.Values.
func (m *Model) Top() schema.Values {
	if top := m.arena.Top(); top != nil {
		return top
	}
	return m
}

// IsTop reports whether m is the top model.
func (m *Model) IsTop() bool { return m.arena.top == m.id }

// OwnerCollection returns the collection holding m, or nil for the top model.
func (m *Model) OwnerCollection() *Collection {
	if m.collection == 0 || m.detached {
		return nil
	}
	return m.arena.colls[m.collection]
}

// Handler returns the model owning the collection m belongs to.
func (m *Model) Handler() *Model {
	if c := m.OwnerCollection(); c != nil {
		return c.Handler()
	}
	return nil
}

// IsNew reports whether the record has never been saved: it was not
// fetched from the server and carries no id.
func (m *Model) IsNew() bool {
	if m.onServer {
		return false
	}
	return schema.IsEmpty(m.attrs[m.def.Node.IDAttr()])
}

// On subscribes to model events.
func (m *Model) On(name string, fn Listener) Subscription {
	return m.events.On(name, fn)
}

// ListenerCount returns the listeners registered on the model and its
// error model.
func (m *Model) ListenerCount() int {
	return m.events.Count() + m.errors.ListenerCount()
}

// Notify emits a model level notification such as fetch:error.
func (m *Model) Notify(name, msg string) {
	m.events.Emit(Event{Name: name, Model: m, Message: msg})
}

// Get reads a value by dotted path. Collections read as their JSON form.
func (m *Model) Get(path string) any {
	if !strings.Contains(path, ".") {
		if c := m.Collection(path); c != nil {
			return c.ToJSON()
		}
		return m.attrs[path]
	}
	p, err := keypath.Parse(path)
	if err != nil {
		return nil
	}
	return m.GetPath(p)
}

// GetPath reads a value by typed path.
func (m *Model) GetPath(p keypath.Path) any {
	var root any
	if c := m.Collection(p.Head()); c != nil {
		root = c.ToJSON()
	} else {
		root = m.attrs[p.Head()]
	}
	v, _ := keypath.Lookup(root, p.Tail())
	return v
}

// Has reports whether attr is set.
func (m *Model) Has(attr string) bool {
	_, ok := m.attrs[attr]
	return ok
}

// Attributes returns a copy of the plain attributes.
func (m *Model) Attributes() map[string]any { return cloneMap(m.attrs) }

// Collection returns the collection attribute name, or nil.
func (m *Model) Collection(name string) *Collection {
	id, ok := m.colls[name]
	if !ok {
		return nil
	}
	return m.arena.colls[id]
}

// Set writes one attribute.
func (m *Model) Set(attr string, value any) error {
	return m.SetPath(keypath.Path{{Key: attr}}, value)
}

// SetPath writes the value at p. For nested paths the addressed
// sub-object is copied so sibling keys are preserved. Writing an equal
// value is a no-op and fires no events.
func (m *Model) SetPath(p keypath.Path, value any) error {
	if len(p) == 0 {
		return keypath.ErrInvalidPath
	}
	if m.state.Closed() {
		return ErrClosed
	}
	head := p.Head()
	if m.Collection(head) != nil {
		return fmt.Errorf("%w: %q", ErrNotAttribute, head)
	}
	path := p.String()
	old := m.attrs[head]
	next := clone(value)
	if !p.IsSimple() {
		var err error
		next, err = keypath.Assign(old, p.Tail(), value)
		if err != nil {
			return err
		}
	}
	if SameValue(old, next) {
		m.errors.ClearInput(path)
		return nil
	}
	if err := m.checkUnique(head, next); err != nil {
		m.errors.SetInput(path, DuplicateMessage)
		return err
	}
	m.attrs[head] = next
	m.errors.ClearInput(path)
	m.touch()
	m.changed(head, next, old)
	m.arena.propagateRename(m, head, old, next)
	return nil
}

// Unset removes an attribute.
func (m *Model) Unset(attr string) error {
	if m.state.Closed() {
		return ErrClosed
	}
	old, ok := m.attrs[attr]
	if !ok {
		return nil
	}
	delete(m.attrs, attr)
	m.touch()
	m.changed(attr, nil, old)
	return nil
}

// setSilent writes without events. Used for defaults.
func (m *Model) setSilent(attr string, value any) {
	m.attrs[attr] = clone(value)
}

func (m *Model) applyDefaults(empty bool) {
	for k, v := range m.def.Node.Defaults {
		if _, ok := m.attrs[k]; !ok {
			m.setSilent(k, v)
		}
	}
	for _, d := range m.def.fields {
		if d.Value == nil || strings.Contains(d.ID, ".") {
			continue
		}
		if _, ok := m.attrs[d.ID]; !ok {
			m.setSilent(d.ID, d.Value)
		}
	}
	if empty && !m.onServer && m.def.initialize != nil {
		for k, v := range m.def.initialize(m, m.arena.info) {
			if _, ok := m.attrs[k]; !ok {
				m.setSilent(k, v)
			}
		}
	}
}

func (m *Model) touch() {
	if m.state == StateNew {
		m.state = StateEditing
		m.events.Emit(Event{Name: EventStateChange, Model: m, Value: m.state})
	}
}

// changed emits change events and bubbles them to the owning collection.
func (m *Model) changed(attr string, value, previous any) {
	m.events.Emit(Event{Name: ChangeEvent(attr), Model: m, Attr: attr, Value: value, Previous: previous})
	m.events.Emit(Event{Name: EventChange, Model: m, Attr: attr, Value: value, Previous: previous})
	if c := m.OwnerCollection(); c != nil {
		c.memberChanged(m, attr)
	}
}

func (m *Model) checkUnique(attr string, next any) error {
	c := m.OwnerCollection()
	if c == nil || !c.isKey(attr) {
		return nil
	}
	proj := make([]any, len(c.keys))
	for i, k := range c.keys {
		if k == attr {
			proj[i] = next
		} else {
			proj[i] = m.Get(k)
		}
	}
	if c.findByKey(proj, m) != nil {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.attr)
	}
	return nil
}

// MarkSaved closes the session after a successful save.
func (m *Model) MarkSaved() { m.close(StateSaved) }

// Discard closes the session when the dialog is cancelled.
func (m *Model) Discard() { m.close(StateDiscarded) }

func (m *Model) close(s State) {
	if m.state.Closed() {
		return
	}
	m.state = s
	for _, name := range m.def.CollectionNames() {
		for _, child := range m.Collection(name).Models() {
			child.close(s)
		}
	}
	m.events.Emit(Event{Name: EventStateChange, Model: m, Value: s})
}

// AllEmpty reports whether every attribute of the row is falsy.
func (m *Model) AllEmpty() bool {
	for _, v := range m.attrs {
		if !falsy(v) {
			return false
		}
	}
	for _, name := range m.def.CollectionNames() {
		if m.Collection(name).Len() > 0 {
			return false
		}
	}
	return true
}

// ToJSON returns a plain value of the model with collections serialized
// as arrays of plain objects.
func (m *Model) ToJSON() map[string]any {
	out := cloneMap(m.attrs)
	for _, name := range m.def.CollectionNames() {
		out[name] = m.Collection(name).ToJSON()
	}
	return out
}

// SessionChanged reports whether anything changed since the model was
// created, rows included.
func (m *Model) SessionChanged() bool {
	if len(m.changedAttrs()) > 0 {
		return true
	}
	for _, name := range m.def.CollectionNames() {
		if m.Collection(name).SessionChanged() {
			return true
		}
	}
	return false
}

func (m *Model) changedAttrs() []string {
	var out []string
	for k, v := range m.attrs {
		if o, ok := m.orig[k]; !ok || !SameValue(o, v) {
			out = append(out, k)
		}
	}
	for k := range m.orig {
		if _, ok := m.attrs[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// SessionJSON returns the delta of the session: the id, changed attributes
// and, per collection, the added, changed and deleted rows. New records
// serialize fully.
func (m *Model) SessionJSON() map[string]any {
	if m.IsNew() {
		return m.ToJSON()
	}
	out := make(map[string]any)
	idAttr := m.def.Node.IDAttr()
	if v, ok := m.attrs[idAttr]; ok {
		out[idAttr] = clone(v)
	}
	for _, k := range m.changedAttrs() {
		out[k] = clone(m.attrs[k])
	}
	for _, name := range m.def.CollectionNames() {
		if delta := m.Collection(name).SessionJSON(); delta != nil {
			out[name] = delta
		}
	}
	return out
}
