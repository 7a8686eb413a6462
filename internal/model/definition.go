package model

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matthewbaird/pgform/internal/keypath"
	"github.com/matthewbaird/pgform/internal/schema"
)

// Rule is a model level check. It returns the offending path and message,
// or an empty message when the model passes.
type Rule func(m *Model) (path, msg string)

// Initializer fills context derived defaults on a brand-new empty model.
type Initializer func(m *Model, info *schema.NodeInfo) map[string]any

// Definition is the compiled model shape of one node type.
type Definition struct {
	Node       *schema.Node
	rules      []Rule
	initialize Initializer

	fields      []*schema.Descriptor
	collections map[string]*schema.Descriptor
	inline      map[string]*Definition
	refs        []refDecl
}

type refDecl struct {
	attr string
	ref  *schema.Reference
}

// Name returns the node type name.
func (d *Definition) Name() string { return d.Node.Name }

// Fields returns the value fields in schema order.
func (d *Definition) Fields() []*schema.Descriptor { return d.fields }

// CollectionField returns the descriptor of the collection attribute attr.
func (d *Definition) CollectionField(attr string) (*schema.Descriptor, bool) {
	f, ok := d.collections[attr]
	return f, ok
}

// CollectionNames returns the collection attributes, sorted.
func (d *Definition) CollectionNames() []string {
	out := make([]string, 0, len(d.collections))
	for name := range d.collections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func compile(n *schema.Node) (*Definition, error) {
	d := &Definition{
		Node:        n,
		collections: make(map[string]*schema.Descriptor),
		inline:      make(map[string]*Definition),
	}
	var err error
	schema.Walk(n.Schema, func(desc *schema.Descriptor) {
		if err != nil || desc.Type == schema.TypeGroup {
			return
		}
		p, perr := keypath.Parse(desc.ID)
		if perr != nil {
			err = fmt.Errorf("model: %s.%s: %w", n.Name, desc.ID, perr)
			return
		}
		if desc.IsCollection() {
			if !p.IsSimple() {
				err = fmt.Errorf("model: %s.%s: collection must be a top-level attribute", n.Name, desc.ID)
				return
			}
			d.collections[desc.ID] = desc
			if desc.Model == "" {
				inner, ierr := compile(&schema.Node{Name: n.Name + "." + desc.ID, Schema: desc.Schema})
				if ierr != nil {
					err = ierr
					return
				}
				d.inline[desc.ID] = inner
			}
			return
		}
		if desc.Type == schema.TypeNested {
			return
		}
		d.fields = append(d.fields, desc)
		if desc.Ref != nil {
			d.refs = append(d.refs, refDecl{attr: p.Head(), ref: desc.Ref})
		}
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Definitions holds the compiled node types of an application.
type Definitions struct {
	mu    sync.RWMutex
	defs  map[string]*Definition
	preds *schema.Predicates
}

// NewDefinitions returns an empty set bound to a predicate registry.
func NewDefinitions(preds *schema.Predicates) *Definitions {
	if preds == nil {
		preds = schema.NewPredicates()
	}
	return &Definitions{defs: make(map[string]*Definition), preds: preds}
}

// Predicates returns the predicate registry used by validation.
func (ds *Definitions) Predicates() *schema.Predicates { return ds.preds }

// Add compiles and registers a node. A node of the same name is replaced.
func (ds *Definitions) Add(n *schema.Node) (*Definition, error) {
	d, err := compile(n)
	if err != nil {
		return nil, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if prev, ok := ds.defs[n.Name]; ok {
		d.rules = prev.rules
		d.initialize = prev.initialize
	}
	ds.defs[n.Name] = d
	return d, nil
}

// Lookup returns the definition registered under name.
func (ds *Definitions) Lookup(name string) (*Definition, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	d, ok := ds.defs[name]
	return d, ok
}

// Names returns the registered node type names, sorted.
func (ds *Definitions) Names() []string {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]string, 0, len(ds.defs))
	for name := range ds.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddRule appends a validation rule to a node type. Rules run in the order
// they were added, after the schema driven checks.
func (ds *Definitions) AddRule(name string, r Rule) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}
	d.rules = append(d.rules, r)
	return nil
}

// SetInitializer installs the new-record defaulting hook of a node type.
func (ds *Definitions) SetInitializer(name string, fn Initializer) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.defs[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}
	d.initialize = fn
	return nil
}

// member returns the definition of the rows of a collection field. Fields
// without a model name use their inline schema.
func (ds *Definitions) member(owner *Definition, field *schema.Descriptor) (*Definition, error) {
	if field.Model != "" {
		d, ok := ds.Lookup(field.Model)
		if !ok {
			return nil, fmt.Errorf("%w: %q (collection %s.%s)", ErrUnknownDefinition, field.Model, owner.Name(), field.ID)
		}
		return d, nil
	}
	d, ok := owner.inline[field.ID]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s.%s has no model", ErrUnknownDefinition, owner.Name(), field.ID)
	}
	return d, nil
}
