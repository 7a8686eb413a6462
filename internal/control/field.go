// Package control turns schema entries into Fields and Fields into live
// controls bound to a model. Controls render into ui nodes, read user input
// back through a formatter, and show the model's error messages inline.
package control

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewbaird/pgform/internal/formatter"
	"github.com/matthewbaird/pgform/internal/keypath"
	"github.com/matthewbaird/pgform/internal/schema"
)

var (
	// ErrUnknownControl is returned when a control name has no factory.
	ErrUnknownControl = errors.New("control: unknown control")
	// ErrInvalidField is returned for schema entries that cannot be
	// turned into a working control.
	ErrInvalidField = errors.New("control: invalid field")
	// ErrNotPermitted is returned for edits the field does not allow.
	ErrNotPermitted = errors.New("control: not permitted")
	// ErrEmptyRow is returned when adding a second empty row to a
	// collection that does not allow it.
	ErrEmptyRow = errors.New("control: empty row already present")
)

// Field is a schema entry resolved for one dialog mode. Fields are
// immutable once resolved.
type Field struct {
	Desc *schema.Descriptor
	Path keypath.Path
	// Name is the dotted path of the bound attribute.
	Name    string
	Label   string
	Group   string
	Control string
	Cell    string
	Mode    string

	Formatter formatter.Formatter
	Disabled  schema.Predicate
	Visible   schema.Predicate
	Required  schema.Predicate
	// Deps are the attributes whose change re-renders the control. A
	// "$top." prefix names an attribute of the top model.
	Deps []string
	// ReadOnly is set in properties mode and for entries marked not
	// editable.
	ReadOnly bool
	Children []*Field

	factory Factory
}

// Head returns the attribute the field is bound to.
func (f *Field) Head() string { return f.Path.Head() }

// Factory returns the factory that builds the field's control.
func (f *Field) Factory() Factory { return f.factory }

// Applies reports whether the field takes part in a dialog opened in mode
// against the server described by info.
func (f *Field) Applies(mode string, info *schema.NodeInfo) bool {
	d := f.Desc
	return d.InMode(mode) && d.InVersion(info.Version()) && d.ForServerType(info.ServerType())
}

// IsCollection reports whether the field edits a collection of rows.
func (f *Field) IsCollection() bool { return f.Desc.IsCollection() }

// Resolve turns a schema entry into a Field for mode. Missing predicates
// default to visible, enabled and optional. An unknown control, formatter,
// predicate or options source is a configuration error.
func (r *Registry) Resolve(desc *schema.Descriptor, mode string) (*Field, error) {
	if desc == nil || desc.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidField)
	}
	p, err := keypath.Parse(desc.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, desc.ID, err)
	}
	f := &Field{
		Desc:     desc,
		Path:     p,
		Name:     p.String(),
		Label:    desc.Label,
		Group:    desc.Group,
		Mode:     mode,
		Disabled: desc.Disabled,
		Visible:  desc.VisiblePredicate(),
		Required: desc.Required,
		ReadOnly: mode == schema.ModeProperties || (desc.Editable != nil && !*desc.Editable),
	}
	if f.Group == "" {
		f.Group = schema.DefaultGroup
	}
	if !f.Disabled.IsSet() {
		f.Disabled = schema.Static(false)
	}
	if !f.Visible.IsSet() {
		f.Visible = schema.Static(true)
	}
	if !f.Required.IsSet() {
		f.Required = schema.Static(false)
	}
	for _, pred := range []schema.Predicate{f.Disabled, f.Visible, f.Required, desc.CanAdd, desc.CanEdit, desc.CanDelete} {
		if err := pred.Check(r.preds); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, desc.ID, err)
		}
	}

	for _, dep := range desc.Deps {
		attr := strings.TrimPrefix(dep, "$top.")
		dp, err := keypath.Parse(attr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: dep %q: %v", ErrInvalidField, desc.ID, dep, err)
		}
		if strings.HasPrefix(dep, "$top.") {
			f.Deps = append(f.Deps, "$top."+dp.Head())
		} else {
			f.Deps = append(f.Deps, dp.Head())
		}
	}

	m := r.mapping(desc.Type)
	f.Control = desc.Control
	if f.Control == "" {
		f.Control = m.control(mode)
	}
	f.Cell = desc.Cell
	if f.Cell == "" {
		f.Cell = m.Cell
	}
	if f.factory, err = r.Lookup(f.Control); err != nil {
		return nil, fmt.Errorf("%s: %w", desc.ID, err)
	}

	fname := desc.Formatter
	if fname == "" {
		fname = m.Formatter
	}
	if f.Formatter, err = r.formatters.Lookup(fname); err != nil {
		return nil, fmt.Errorf("%s: %w", desc.ID, err)
	}

	if desc.OptionsFrom != "" {
		if _, ok := r.OptionsSource(desc.OptionsFrom); !ok {
			return nil, fmt.Errorf("%w: %s: unknown options source %q", ErrInvalidField, desc.ID, desc.OptionsFrom)
		}
	}
	if desc.Transform != "" {
		if _, ok := r.Transform(desc.Transform); !ok {
			return nil, fmt.Errorf("%w: %s: unknown transform %q", ErrInvalidField, desc.ID, desc.Transform)
		}
	}
	if desc.CacheLevel != "" && !schema.KnownLevel(desc.CacheLevel) {
		return nil, fmt.Errorf("%w: %s: unknown cache level %q", ErrInvalidField, desc.ID, desc.CacheLevel)
	}

	if desc.Type == schema.TypeNested || desc.Type == schema.TypeGroup {
		for i := range desc.Schema {
			child, err := r.Resolve(&desc.Schema[i], mode)
			if err != nil {
				return nil, err
			}
			if child.Desc.Group == "" {
				child.Group = f.Group
			}
			f.Children = append(f.Children, child)
		}
	}
	return f, nil
}

// ResolveAll resolves a list of entries in order.
func (r *Registry) ResolveAll(entries []schema.Descriptor, mode string) ([]*Field, error) {
	out := make([]*Field, 0, len(entries))
	for i := range entries {
		f, err := r.Resolve(&entries[i], mode)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
