package control

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/ui"
)

// fieldset groups the controls of a nested entry. Children that do not
// apply to the dialog's mode or server get no control.
type fieldset struct {
	base
	class    string
	children []Control
}

func newFieldsetKind(class string) Factory {
	return func(env *Env, f *Field, m *model.Model) (Control, error) {
		fs := &fieldset{base: newBase(env, f, m), class: class}
		info := m.NodeInfo()
		seen := make(map[string]bool)
		for _, child := range f.Children {
			if !child.Applies(f.Mode, info) {
				continue
			}
			if !child.IsCollection() && child.Control != NameFieldset && child.Control != NameTab {
				if seen[child.Name] {
					continue
				}
				seen[child.Name] = true
			}
			c, err := New(env, child, m)
			if err != nil {
				fs.Remove()
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			fs.children = append(fs.children, c)
		}
		return fs, nil
	}
}

var (
	newFieldset = newFieldsetKind("fieldset")
	newTab      = newFieldsetKind("tab-panel")
)

// Controls implements Parent.
func (c *fieldset) Controls() []Control { return c.children }

func (c *fieldset) Render() *ui.Node {
	tag := "fieldset"
	if c.class == "tab-panel" {
		tag = "div"
	}
	n := ui.El(tag, c.class).Set("data-field", c.field.Name)
	n.Hidden = !c.visible()
	n.Flag("disabled", c.disabled())
	if c.field.Label != "" {
		n.Append(ui.Text("legend", "form-group", "").Set("data-label", c.field.Label))
	}
	for _, child := range c.children {
		n.Append(child.Render())
	}
	c.node = n
	return n
}

func (c *fieldset) ValueFromInput() (any, error) { return nil, nil }

func (c *fieldset) OnChange(Event) error {
	return fmt.Errorf("%w: %s takes no input", ErrNotPermitted, c.field.Name)
}

func (c *fieldset) UpdateInvalid() {
	for _, child := range c.children {
		child.UpdateInvalid()
	}
}

func (c *fieldset) Remove() {
	c.removed = true
	for _, child := range c.children {
		child.Remove()
	}
}
