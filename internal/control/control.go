package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/formatter"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/ui"
)

// Control is the live view of one field bound to one model.
type Control interface {
	Field() *Field
	Model() *model.Model
	// Render rebuilds the view from the current field and model state.
	Render() *ui.Node
	// Node returns the last rendered view.
	Node() *ui.Node
	// ValueFromInput returns the raw value of the pending user input.
	ValueFromInput() (any, error)
	// OnChange takes new user input and writes it back to the model.
	OnChange(ev Event) error
	// UpdateInvalid refreshes the inline error from the error model.
	UpdateInvalid()
	// Remove releases everything the control holds.
	Remove()
	// Writing reports whether the control is writing to its model.
	Writing() bool
}

// Parent is implemented by controls that own child controls.
type Parent interface {
	Controls() []Control
}

// Event carries user input to a control.
type Event struct {
	Value any
}

// Env is what controls need from the dialog hosting them.
type Env struct {
	Registry *Registry
	Options  options.Loader
	// Post schedules fn on the dialog's loop. Async completions go
	// through it so models are only touched from that loop.
	Post      func(fn func())
	Publisher event.Publisher
	Dialog    string
	Context   context.Context
	Log       *logrus.Entry
	// Bind and Unbind tell the host about controls a parent creates or
	// drops after the form was built, such as row editors.
	Bind   func(c Control)
	Unbind func(c Control)
}

func (e *Env) ctx() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

func (e *Env) log() *logrus.Entry {
	if e.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return e.Log
}

func (e *Env) bind(c Control) {
	if e.Bind != nil {
		e.Bind(c)
	}
}

func (e *Env) unbind(c Control) {
	if e.Unbind != nil {
		e.Unbind(c)
	}
}

func (e *Env) publish(n event.Notification) {
	if e.Publisher != nil {
		e.Publisher.Publish(e.ctx(), n)
	}
}

// New builds the control of f bound to m.
func New(env *Env, f *Field, m *model.Model) (Control, error) {
	if f.factory == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, f.Control)
	}
	return f.factory(env, f, m)
}

// base carries the state every control shares: the pending input, the
// last view and the writing flag.
type base struct {
	env     *Env
	field   *Field
	model   *model.Model
	node    *ui.Node
	input   any
	dirty   bool
	writing bool
	removed bool
}

func newBase(env *Env, f *Field, m *model.Model) base {
	return base{env: env, field: f, model: m}
}

func (b *base) Field() *Field { return b.field }

func (b *base) Model() *model.Model { return b.model }

func (b *base) Node() *ui.Node { return b.node }

func (b *base) Writing() bool { return b.writing }

func (b *base) Remove() { b.removed = true }

func (b *base) preds() *schema.Predicates { return b.env.Registry.preds }

func (b *base) visible() bool {
	return b.field.Visible.Eval(b.model, b.preds(), true)
}

func (b *base) disabled() bool {
	return b.field.ReadOnly || b.field.Disabled.Eval(b.model, b.preds(), false)
}

func (b *base) required() bool {
	return b.field.Required.Eval(b.model, b.preds(), false)
}

// display returns the shown value: the pending input when the last write
// was rejected, the formatted model value otherwise.
func (b *base) display() any {
	if b.dirty {
		return b.input
	}
	return b.field.Formatter.FromRaw(b.model.GetPath(b.field.Path), b.model)
}

func (b *base) ValueFromInput() (any, error) {
	return b.field.Formatter.ToRaw(b.input, b.model)
}

// write runs the change path shared by value controls: convert the input,
// record a conversion failure on the error model, or write the value at
// the field's path.
func (b *base) write(ev Event) error {
	if b.removed {
		return nil
	}
	if b.disabled() {
		return fmt.Errorf("%w: %s is read only", ErrNotPermitted, b.field.Name)
	}
	b.input = ev.Value
	b.dirty = true
	raw, err := b.ValueFromInput()
	if err != nil {
		b.model.Errors().SetInput(b.field.Name, inputMessage(b.field, err))
		return nil
	}
	b.writing = true
	err = b.model.SetPath(b.field.Path, raw)
	b.writing = false
	switch {
	case errors.Is(err, model.ErrDuplicate):
		return nil
	case err != nil:
		return err
	}
	b.dirty = false
	return nil
}

func (b *base) OnChange(ev Event) error { return b.write(ev) }

func (b *base) UpdateInvalid() {
	if b.node == nil {
		return
	}
	setError(b.node, b.model.Errors().Get(b.field.Name))
}

// frame builds the wrapper shared by value controls.
func (b *base) frame(widget ...*ui.Node) *ui.Node {
	n := ui.El("div", "control").Set("data-field", b.field.Name).Set("data-control", b.field.Control)
	n.Hidden = !b.visible()
	n.Flag("disabled", b.disabled())
	n.Flag("required", b.required())
	label := b.field.Label
	if label == "" {
		label = b.field.Name
	}
	n.Append(ui.Text("label", "control-label", label).Set("for", b.field.Name))
	n.Append(widget...)
	if h := b.field.Desc.HelpMessage; h != "" {
		n.Append(ui.Text("p", "help-block", h))
	}
	n.Append(errorNode(b.model.Errors().Get(b.field.Name)))
	return n
}

func errorNode(msg string) *ui.Node {
	e := ui.Text("div", "error-message", msg)
	e.Hidden = msg == ""
	return e
}

func setError(n *ui.Node, msg string) {
	e := n.FindClass("error-message")
	if e == nil {
		n.Append(errorNode(msg))
		return
	}
	e.Text = msg
	e.Hidden = msg == ""
}

func inputMessage(f *Field, err error) string {
	detail := strings.TrimPrefix(err.Error(), formatter.ErrInvalid.Error()+": ")
	label := f.Label
	if label == "" {
		label = f.Name
	}
	return fmt.Sprintf("'%s' %s.", label, strings.TrimSuffix(detail, "."))
}

// Display formats a raw or formatted value as text.
func Display(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Display(e)
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	}
	return fmt.Sprint(v)
}
