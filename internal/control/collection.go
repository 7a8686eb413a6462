package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/ui"
)

// Collection is the grid editing the rows of a collection attribute.
type Collection struct {
	base
	unique  bool
	coll    *model.Collection
	columns []*Field
	editors map[model.ID][]Control
	open    []model.ID
}

func newCollectionKind(unique bool) Factory {
	return func(env *Env, f *Field, m *model.Model) (Control, error) {
		coll := m.Collection(f.Head())
		if coll == nil {
			return nil, fmt.Errorf("%w: %s is not a collection of %s", ErrInvalidField, f.Name, m.Definition().Name())
		}
		member, err := env.Registry.ResolveAll(coll.Definition().Node.Schema, f.Mode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		known := make(map[string]*Field)
		walkFields(member, func(mf *Field) { known[mf.Name] = mf })
		if unique {
			if len(f.Desc.UniqueCol) == 0 {
				return nil, fmt.Errorf("%w: %s: unique_col is required", ErrInvalidField, f.Name)
			}
			for _, k := range f.Desc.UniqueCol {
				if known[k] == nil {
					return nil, fmt.Errorf("%w: %s: unique column %q is not a field of %s", ErrInvalidField, f.Name, k, coll.Definition().Name())
				}
			}
		}
		c := &Collection{
			base:    newBase(env, f, m),
			unique:  unique,
			coll:    coll,
			editors: make(map[model.ID][]Control),
		}
		if len(f.Desc.Columns) > 0 {
			for _, name := range f.Desc.Columns {
				col := known[name]
				if col == nil {
					return nil, fmt.Errorf("%w: %s: column %q is not a field of %s", ErrInvalidField, f.Name, name, coll.Definition().Name())
				}
				c.columns = append(c.columns, col)
			}
		} else {
			info := m.NodeInfo()
			for _, mf := range member {
				if mf.Control == NameFieldset || mf.Control == NameTab || mf.Control == NameHelp || mf.Control == NameSpacer {
					continue
				}
				if mf.Applies(f.Mode, info) {
					c.columns = append(c.columns, mf)
				}
			}
		}
		return c, nil
	}
}

var (
	newCollection = newCollectionKind(false)
	newUniqueCol  = newCollectionKind(true)
)

func walkFields(fields []*Field, fn func(f *Field)) {
	for _, f := range fields {
		fn(f)
		walkFields(f.Children, fn)
	}
}

// Collection returns the bound collection.
func (c *Collection) Collection() *model.Collection { return c.coll }

// Columns returns the fields shown as grid columns.
func (c *Collection) Columns() []*Field { return c.columns }

// Rows returns the rows in order.
func (c *Collection) Rows() []*model.Model { return c.coll.Models() }

// CanAdd reports whether rows may be added now.
func (c *Collection) CanAdd() bool {
	if c.disabled() {
		return false
	}
	return c.field.Desc.CanAdd.Eval(c.model, c.preds(), false)
}

// CanEdit reports whether row may be edited now.
func (c *Collection) CanEdit(row *model.Model) bool {
	if c.disabled() {
		return false
	}
	return c.field.Desc.CanEdit.Eval(row, c.preds(), false)
}

// CanDelete reports whether row may be deleted now.
func (c *Collection) CanDelete(row *model.Model) bool {
	if c.disabled() {
		return false
	}
	return c.field.Desc.CanDelete.Eval(row, c.preds(), false)
}

// AddRow appends a row. Rows repeating the key of an existing row are
// never inserted: the collection reports model.ErrDuplicate and the
// message lands on the error model at the collection's path.
func (c *Collection) AddRow(values map[string]any) (*model.Model, error) {
	if c.removed {
		return nil, fmt.Errorf("%w: %s is closed", ErrNotPermitted, c.field.Name)
	}
	if !c.CanAdd() {
		return nil, fmt.Errorf("%w: cannot add rows to %s", ErrNotPermitted, c.field.Name)
	}
	if c.unique && !c.field.Desc.AllowMultipleEmptyRows && emptyValues(values) && c.coll.HasEmptyRow() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyRow, c.field.Name)
	}
	return c.coll.Add(values)
}

// RemoveRow deletes a row, running the reference cascade.
func (c *Collection) RemoveRow(id model.ID) error {
	row := c.coll.Get(id)
	if row == nil {
		return fmt.Errorf("%w: row %d of %s", model.ErrNotMember, id, c.field.Name)
	}
	if !c.CanDelete(row) {
		return fmt.Errorf("%w: cannot delete row %d of %s", ErrNotPermitted, id, c.field.Name)
	}
	c.CloseRow(id)
	return c.coll.Remove(row)
}

// EditRow opens the row editor and returns its controls. The controls are
// handed to the host through Env.Bind.
func (c *Collection) EditRow(id model.ID) ([]Control, error) {
	row := c.coll.Get(id)
	if row == nil {
		return nil, fmt.Errorf("%w: row %d of %s", model.ErrNotMember, id, c.field.Name)
	}
	if ctrls, ok := c.editors[id]; ok {
		return ctrls, nil
	}
	if c.field.Mode != schema.ModeProperties && !c.CanEdit(row) {
		return nil, fmt.Errorf("%w: cannot edit row %d of %s", ErrNotPermitted, id, c.field.Name)
	}
	mode := c.field.Mode
	if mode != schema.ModeProperties {
		mode = schema.ModeEdit
		if row.IsNew() {
			mode = schema.ModeCreate
		}
	}
	fields, err := c.env.Registry.ResolveAll(c.coll.Definition().Node.Schema, mode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.field.Name, err)
	}
	info := row.NodeInfo()
	seen := make(map[string]bool)
	var ctrls []Control
	for _, f := range fields {
		if !f.Applies(mode, info) || seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		ctrl, err := New(c.env, f, row)
		if err != nil {
			for _, made := range ctrls {
				made.Remove()
			}
			return nil, fmt.Errorf("%s: %w", c.field.Name, err)
		}
		ctrls = append(ctrls, ctrl)
	}
	c.editors[id] = ctrls
	c.open = append(c.open, id)
	for _, ctrl := range ctrls {
		c.env.bind(ctrl)
	}
	return ctrls, nil
}

// CloseRow closes the row editor, releasing its controls.
func (c *Collection) CloseRow(id model.ID) {
	ctrls, ok := c.editors[id]
	if !ok {
		return
	}
	delete(c.editors, id)
	for i, open := range c.open {
		if open == id {
			c.open = append(c.open[:i:i], c.open[i+1:]...)
			break
		}
	}
	for _, ctrl := range ctrls {
		c.env.unbind(ctrl)
		ctrl.Remove()
	}
}

// Controls implements Parent with the controls of the open row editors.
func (c *Collection) Controls() []Control {
	var out []Control
	for _, id := range c.open {
		out = append(out, c.editors[id]...)
	}
	return out
}

// sweep closes editors of rows that left the collection, e.g. through a
// cascade started elsewhere.
func (c *Collection) sweep() {
	for _, id := range append([]model.ID(nil), c.open...) {
		if c.coll.Get(id) == nil {
			c.CloseRow(id)
		}
	}
}

func (c *Collection) Render() *ui.Node {
	c.sweep()
	n := ui.El("div", "grid").Set("data-field", c.field.Name).Set("data-control", c.field.Control)
	n.Hidden = !c.visible()
	n.Flag("disabled", c.disabled())
	label := c.field.Label
	if label == "" {
		label = c.field.Name
	}
	n.Append(ui.Text("label", "control-label", label))
	n.Append(ui.El("div", "grid-toolbar").Append(
		ui.Text("button", "add-row", "Add").Set("type", "button").Flag("disabled", !c.CanAdd()),
	))

	head := ui.El("div", "grid-header")
	for _, col := range c.columns {
		text := col.Label
		if text == "" {
			text = col.Name
		}
		head.Append(ui.Text("span", "grid-header-cell", text).Set("data-column", col.Name))
	}
	n.Append(head)

	body := ui.El("div", "grid-body")
	for _, row := range c.coll.Models() {
		id := strconv.FormatUint(uint64(row.ID()), 10)
		r := ui.El("div", "grid-row").Set("data-row", id)
		r.Flag("invalid", !row.Errors().Empty())
		for _, col := range c.columns {
			r.Append(ui.Text("span", "grid-cell", c.cellText(col, row)).Set("data-cell", col.Cell))
		}
		r.Append(ui.Text("button", "edit-row", "Edit").Set("type", "button").Flag("disabled", !c.CanEdit(row)))
		r.Append(ui.Text("button", "delete-row", "Delete").Set("type", "button").Flag("disabled", !c.CanDelete(row)))
		if ctrls, ok := c.editors[row.ID()]; ok {
			ed := ui.El("div", "row-editor").Set("data-row", id)
			for _, ctrl := range ctrls {
				ed.Append(ctrl.Render())
			}
			r.Append(ed)
		}
		body.Append(r)
	}
	n.Append(body)
	n.Append(errorNode(c.model.Errors().Get(c.field.Name)))
	c.node = n
	return n
}

func (c *Collection) cellText(col *Field, row *model.Model) string {
	if col.IsCollection() {
		inner := row.Collection(col.Head())
		if inner == nil {
			return ""
		}
		keys := inner.Keys()
		if len(keys) == 0 {
			if fs := inner.Definition().Fields(); len(fs) > 0 {
				keys = []string{fs[0].ID}
			}
		}
		parts := make([]string, 0, inner.Len())
		for _, m := range inner.Models() {
			var vals []string
			for _, k := range keys {
				vals = append(vals, Display(m.Get(k)))
			}
			parts = append(parts, strings.Join(vals, " "))
		}
		return strings.Join(parts, ", ")
	}
	v := row.GetPath(col.Path)
	for _, o := range col.Desc.Options {
		if v != nil && model.SameValue(o.Value, v) {
			return o.Label
		}
	}
	return Display(col.Formatter.FromRaw(v, row))
}

func (c *Collection) ValueFromInput() (any, error) { return c.coll.ToJSON(), nil }

func (c *Collection) OnChange(Event) error {
	return fmt.Errorf("%w: rows of %s change through AddRow and RemoveRow", ErrNotPermitted, c.field.Name)
}

func (c *Collection) UpdateInvalid() {
	if c.node == nil {
		return
	}
	setError(c.node, c.model.Errors().Get(c.field.Name))
	if body := c.node.FindClass("grid-body"); body != nil {
		for _, r := range body.Children {
			if row := c.rowOf(r); row != nil {
				delete(r.Attrs, "invalid")
				r.Flag("invalid", !row.Errors().Empty())
			}
		}
	}
	for _, ctrl := range c.Controls() {
		ctrl.UpdateInvalid()
	}
}

func (c *Collection) rowOf(n *ui.Node) *model.Model {
	id, err := strconv.ParseUint(n.Attr("data-row"), 10, 64)
	if err != nil {
		return nil
	}
	return c.coll.Get(model.ID(id))
}

func (c *Collection) Remove() {
	for _, id := range append([]model.ID(nil), c.open...) {
		c.CloseRow(id)
	}
	c.removed = true
}

func emptyValues(values map[string]any) bool {
	for _, v := range values {
		switch x := v.(type) {
		case nil:
		case bool:
			if x {
				return false
			}
		case float64:
			if x != 0 {
				return false
			}
		case int:
			if x != 0 {
				return false
			}
		default:
			if !schema.IsEmpty(v) {
				return false
			}
		}
	}
	return true
}
