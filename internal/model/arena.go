package model

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/schema"
)

// ID addresses a model or collection inside its arena.
type ID uint64

// Arena owns every model and collection of one dialog session. Children
// hold the IDs of their top model and owning collection, never pointers,
// so the object graph has no cycles.
type Arena struct {
	defs  *Definitions
	info  *schema.NodeInfo
	mode  string
	next  ID
	top   ID
	items map[ID]*Model
	colls map[ID]*Collection
}

// NewArena returns an empty arena for a dialog opened in mode.
func NewArena(defs *Definitions, info *schema.NodeInfo, mode string) *Arena {
	return &Arena{
		defs:  defs,
		info:  info,
		mode:  mode,
		items: make(map[ID]*Model),
		colls: make(map[ID]*Collection),
	}
}

// NodeInfo returns the object tree context of the session.
func (a *Arena) NodeInfo() *schema.NodeInfo { return a.info }

// Mode returns the dialog mode the arena was created for.
func (a *Arena) Mode() string { return a.mode }

// Definitions returns the node type registry.
func (a *Arena) Definitions() *Definitions { return a.defs }

// Top returns the top model, or nil before NewTop.
func (a *Arena) Top() *Model {
	return a.items[a.top]
}

// Model returns the model with id.
func (a *Arena) Model(id ID) (*Model, bool) {
	m, ok := a.items[id]
	return m, ok
}

// Collection returns the collection with id.
func (a *Arena) Collection(id ID) (*Collection, bool) {
	c, ok := a.colls[id]
	return c, ok
}

// Len returns the number of live models, detached ones included.
func (a *Arena) Len() int { return len(a.items) }

// NewTop creates the top model of the session. Records fetched from the
// server are created in edit and properties modes; create mode builds a
// new record and runs the node's initializer when attrs is empty.
func (a *Arena) NewTop(nodeType string, attrs map[string]any) (*Model, error) {
	if a.top != 0 {
		return nil, ErrRootExists
	}
	def, ok := a.defs.Lookup(nodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, nodeType)
	}
	m, err := a.build(def, attrs, 0, a.mode != schema.ModeCreate)
	if err != nil {
		a.items = make(map[ID]*Model)
		a.colls = make(map[ID]*Collection)
		a.top = 0
		return nil, err
	}
	return m, nil
}

func (a *Arena) nextID() ID {
	a.next++
	return a.next
}

// build creates a model and, recursively, its collections. The model is
// registered before its rows so they can reach it as their top.
func (a *Arena) build(def *Definition, attrs map[string]any, collection ID, onServer bool) (*Model, error) {
	members := make(map[string]*Definition, len(def.collections))
	for name, field := range def.collections {
		md, err := a.defs.member(def, field)
		if err != nil {
			return nil, err
		}
		members[name] = md
	}

	m := &Model{
		arena:      a,
		id:         a.nextID(),
		def:        def,
		attrs:      make(map[string]any, len(attrs)),
		colls:      make(map[string]ID, len(members)),
		errors:     newErrorModel(),
		collection: collection,
		onServer:   onServer,
	}
	a.items[m.id] = m
	if a.top == 0 {
		a.top = m.id
	}

	for k, v := range attrs {
		if _, ok := def.collections[k]; ok {
			continue
		}
		m.attrs[k] = clone(v)
	}
	m.applyDefaults(len(attrs) == 0)

	for _, name := range def.CollectionNames() {
		md := members[name]
		c := a.newCollection(m, name, def.collections[name], md)
		m.colls[name] = c.id
		rows, _ := attrs[name].([]any)
		for _, row := range rows {
			values, _ := row.(map[string]any)
			child, err := a.build(md, values, c.id, onServer)
			if err != nil {
				return nil, err
			}
			c.members = append(c.members, child.id)
			if onServer {
				c.orig[child.id] = true
			}
		}
	}
	m.orig = cloneMap(m.attrs)
	return m, nil
}

// drop forgets a model and everything below it.
func (a *Arena) drop(m *Model) {
	for _, cid := range m.colls {
		c, ok := a.colls[cid]
		if !ok {
			continue
		}
		for _, id := range c.members {
			if child, ok := a.items[id]; ok {
				a.drop(child)
			}
		}
		for _, id := range c.deleted {
			if child, ok := a.items[id]; ok {
				a.drop(child)
			}
		}
		delete(a.colls, cid)
	}
	delete(a.items, m.id)
}

// Walk visits the top model and every attached descendant, depth first,
// collections in attribute order.
func (a *Arena) Walk(fn func(m *Model)) {
	if top := a.Top(); top != nil {
		a.walk(top, fn)
	}
}

func (a *Arena) walk(m *Model, fn func(m *Model)) {
	fn(m)
	for _, name := range m.def.CollectionNames() {
		c := a.colls[m.colls[name]]
		for _, child := range c.Models() {
			a.walk(child, fn)
		}
	}
}

func (a *Arena) eachCollection(fn func(c *Collection)) {
	a.Walk(func(m *Model) {
		for _, name := range m.def.CollectionNames() {
			fn(a.colls[m.colls[name]])
		}
	})
}
