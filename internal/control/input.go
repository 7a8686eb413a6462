package control

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/ui"
)

// input covers the single value controls that differ only in the widget
// they draw.
type input struct {
	base
	widget func(c *input, value any) *ui.Node
}

func (c *input) Render() *ui.Node {
	c.node = c.frame(c.widget(c, c.display()))
	return c.node
}

func textWidget(typ string) func(c *input, value any) *ui.Node {
	return func(c *input, value any) *ui.Node {
		w := ui.El("input", "form-control").
			Set("type", typ).
			Set("name", c.field.Name).
			Set("value", Display(value))
		if p := c.field.Desc.Placeholder; p != "" {
			w.Set("placeholder", p)
		}
		return w.Flag("disabled", c.disabled())
	}
}

func newInput(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: textWidget("text")}, nil
}

func newDatePicker(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: textWidget("date")}, nil
}

func newUneditable(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: func(c *input, value any) *ui.Node {
		return ui.El("input", "form-control-plaintext").
			Set("type", "text").
			Set("name", c.field.Name).
			Set("value", Display(value)).
			Flag("readonly", true)
	}}, nil
}

func newTextarea(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: func(c *input, value any) *ui.Node {
		w := ui.Text("textarea", "form-control", Display(value)).Set("name", c.field.Name)
		if p := c.field.Desc.Placeholder; p != "" {
			w.Set("placeholder", p)
		}
		return w.Flag("disabled", c.disabled()).Flag("readonly", c.field.ReadOnly)
	}}, nil
}

// newFile draws a path input with a browse button. Picking the file is
// left to the host's file manager, which reports the path as input.
func newFile(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: func(c *input, value any) *ui.Node {
		w := ui.El("div", "input-group")
		w.Append(textWidget("text")(c, value).Set("data-picker", "file"))
		w.Append(ui.Text("button", "browse", "Browse").Set("type", "button").Flag("disabled", c.disabled()))
		return w
	}}, nil
}

func checkWidget(class string) func(c *input, value any) *ui.Node {
	return func(c *input, value any) *ui.Node {
		on, _ := value.(bool)
		return ui.El("input", class).
			Set("type", "checkbox").
			Set("name", c.field.Name).
			Set("value", Display(on)).
			Flag("checked", on).
			Flag("disabled", c.disabled())
	}
}

func newCheckbox(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: checkWidget("form-check-input")}, nil
}

func newSwitch(env *Env, f *Field, m *model.Model) (Control, error) {
	return &input{base: newBase(env, f, m), widget: checkWidget("switch")}, nil
}

// static controls draw text only and take no input.
type static struct {
	base
	class string
}

func (c *static) Render() *ui.Node {
	n := ui.El("div", c.class).Set("data-field", c.field.Name)
	n.Hidden = !c.visible()
	if c.class == "help" {
		text := c.field.Desc.HelpMessage
		if text == "" {
			text = c.field.Label
		}
		n.Append(ui.Text("p", "help-block", text))
	}
	c.node = n
	return n
}

func (c *static) ValueFromInput() (any, error) { return nil, nil }

func (c *static) OnChange(Event) error {
	return fmt.Errorf("%w: %s takes no input", ErrNotPermitted, c.field.Name)
}

func (c *static) UpdateInvalid() {}

func newHelp(env *Env, f *Field, m *model.Model) (Control, error) {
	return &static{base: newBase(env, f, m), class: "help"}, nil
}

func newSpacer(env *Env, f *Field, m *model.Model) (Control, error) {
	return &static{base: newBase(env, f, m), class: "spacer"}, nil
}
