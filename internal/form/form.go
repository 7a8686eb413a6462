package form

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/ui"
)

// Form is one open dialog. All methods must be called from the dialog's
// loop; async option fetches come back through Pending and Flush.
type Form struct {
	id        string
	mode      string
	model     *model.Model
	layout    *Layout
	env       *control.Env
	queue     *Queue
	publisher event.Publisher
	controls  []control.Control
	subs      map[control.Control][]model.Subscription
	keys      map[control.Control]string
	valid     bool
	message   string
	closed    bool
	log       *logrus.Entry
	ctx       context.Context
}

// ID returns the dialog id.
func (f *Form) ID() string { return f.id }

// Mode returns the dialog mode.
func (f *Form) Mode() string { return f.mode }

// Model returns the top model.
func (f *Form) Model() *model.Model { return f.model }

// Layout returns the compiled layout.
func (f *Form) Layout() *Layout { return f.layout }

// Controls returns the top level controls in schema order.
func (f *Form) Controls() []control.Control { return f.controls }

// Closed reports whether the form was closed.
func (f *Form) Closed() bool { return f.closed }

// Valid reports whether the form may be saved.
func (f *Form) Valid() bool { return f.valid }

// Message returns the first validation message, if any.
func (f *Form) Message() string { return f.message }

// Key returns the address of a control: its field name for controls of
// the top model, "<collection>/<row>/<field>" for row editors.
func (f *Form) Key(c control.Control) string { return f.keys[c] }

func keyOf(c control.Control) string {
	m := c.Model()
	if m.IsTop() {
		return c.Field().Name
	}
	return rowKey(m) + "/" + c.Field().Name
}

func rowKey(m *model.Model) string {
	prefix := ""
	if coll := m.OwnerCollection(); coll != nil {
		prefix = coll.Attr()
		if h := coll.Handler(); h != nil && !h.IsTop() {
			prefix = rowKey(h) + "/" + prefix
		}
	}
	return prefix + "/" + strconv.FormatUint(uint64(m.ID()), 10)
}

// bind subscribes c, and any children it has, to the model events that
// re-render it: changes of its own attribute and of its dependencies, and
// changes of its error messages.
func (f *Form) bind(c control.Control) {
	if _, ok := f.subs[c]; ok {
		return
	}
	field := c.Field()
	m := c.Model()
	rerender := func(model.Event) {
		if f.closed || c.Writing() {
			return
		}
		c.Render()
	}
	var subs []model.Subscription
	_, parent := c.(control.Parent)
	_, grid := c.(*control.Collection)
	if !parent || grid {
		subs = append(subs,
			m.On(model.ChangeEvent(field.Head()), rerender),
			m.Errors().On(model.ChangeEvent(field.Head()), func(model.Event) {
				if !f.closed {
					c.UpdateInvalid()
				}
			}),
		)
	}
	for _, dep := range field.Deps {
		if attr, ok := strings.CutPrefix(dep, "$top."); ok {
			subs = append(subs, m.TopModel().On(model.ChangeEvent(attr), rerender))
			continue
		}
		subs = append(subs, m.On(model.ChangeEvent(dep), rerender))
	}
	f.subs[c] = subs
	f.keys[c] = keyOf(c)
	if p, ok := c.(control.Parent); ok && !grid {
		for _, child := range p.Controls() {
			f.bind(child)
		}
	}
}

// unbind releases the subscriptions of c and its children.
func (f *Form) unbind(c control.Control) {
	if p, ok := c.(control.Parent); ok {
		for _, child := range p.Controls() {
			f.unbind(child)
		}
	}
	for _, s := range f.subs[c] {
		s.Unsubscribe()
	}
	delete(f.subs, c)
	delete(f.keys, c)
}

// Bound returns the number of controls holding subscriptions.
func (f *Form) Bound() int { return len(f.subs) }

// Control returns the control addressed by key.
func (f *Form) Control(key string) (control.Control, error) {
	for c, k := range f.keys {
		if k == key {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownControl, key)
}

func (f *Form) grid(key string) (*control.Collection, error) {
	c, err := f.Control(key)
	if err != nil {
		return nil, err
	}
	g, ok := c.(*control.Collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a collection", ErrUnknownControl, key)
	}
	return g, nil
}

// Change feeds user input to the control at key and revalidates the
// form. Rejected input lands on the error model and is not an error.
func (f *Form) Change(key string, value any) error {
	if f.closed {
		return ErrClosed
	}
	c, err := f.Control(key)
	if err != nil {
		return err
	}
	if err := c.OnChange(control.Event{Value: value}); err != nil {
		return err
	}
	c.Render()
	f.revalidate()
	return nil
}

// AddRow adds a row to the collection control at key.
func (f *Form) AddRow(key string, values map[string]any) (*model.Model, error) {
	if f.closed {
		return nil, ErrClosed
	}
	g, err := f.grid(key)
	if err != nil {
		return nil, err
	}
	row, err := g.AddRow(values)
	f.revalidate()
	return row, err
}

// RemoveRow removes a row from the collection control at key.
func (f *Form) RemoveRow(key string, id model.ID) error {
	if f.closed {
		return ErrClosed
	}
	g, err := f.grid(key)
	if err != nil {
		return err
	}
	err = g.RemoveRow(id)
	f.revalidate()
	f.Render()
	return err
}

// EditRow opens the editor of a row and returns the keys of its controls.
func (f *Form) EditRow(key string, id model.ID) ([]string, error) {
	if f.closed {
		return nil, ErrClosed
	}
	g, err := f.grid(key)
	if err != nil {
		return nil, err
	}
	ctrls, err := g.EditRow(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ctrls))
	for i, c := range ctrls {
		out[i] = f.keys[c]
	}
	g.Render()
	return out, nil
}

// CloseRow closes the editor of a row.
func (f *Form) CloseRow(key string, id model.ID) error {
	g, err := f.grid(key)
	if err != nil {
		return err
	}
	g.CloseRow(id)
	g.Render()
	return nil
}

// revalidate runs the validation of the top model and of every collection
// row and refreshes every inline error.
func (f *Form) revalidate() {
	f.valid, f.message = f.model.Arena().Valid()
	for c := range f.subs {
		c.UpdateInvalid()
	}
}

// Validate revalidates and reports validity.
func (f *Form) Validate() (bool, string) {
	f.revalidate()
	return f.valid, f.message
}

// Render re-renders every control and returns the dialog view.
func (f *Form) Render() *ui.Node {
	for _, c := range f.controls {
		c.Render()
	}
	return f.View()
}

// View composes the last rendered control views, grouped by group label
// in order of first appearance.
func (f *Form) View() *ui.Node {
	title := f.model.Definition().Node.Label
	if title == "" {
		title = f.model.Definition().Name()
	}
	root := ui.El("form", "dialog").
		Set("data-dialog", f.id).
		Set("data-node", f.model.Definition().Name()).
		Set("data-mode", f.mode)
	root.Append(ui.Text("div", "form-title", title))

	groups := make(map[string]*ui.Node)
	for _, c := range f.controls {
		name := c.Field().Group
		g, ok := groups[name]
		if !ok {
			label := name
			if l, ok := f.layout.Groups[name]; ok {
				label = l
			}
			g = ui.El("div", "form-group").Set("data-group", name).Set("data-label", label)
			groups[name] = g
			root.Append(g)
		}
		g.Append(c.Node())
	}
	for _, g := range groups {
		g.Hidden = allHidden(g.Children)
	}

	footer := ui.El("div", "form-footer")
	footer.Append(ui.Text("div", "form-message", f.message))
	save := ui.Text("button", "save", "Save").Set("type", "submit")
	save.Flag("disabled", !f.valid || f.mode == schema.ModeProperties || f.closed)
	footer.Append(save, ui.Text("button", "cancel", "Cancel").Set("type", "button"))
	root.Append(footer)
	return root
}

func allHidden(nodes []*ui.Node) bool {
	for _, n := range nodes {
		if n != nil && !n.Hidden {
			return false
		}
	}
	return true
}

// Payload returns what Save hands to the persistence provider: the whole
// model for a new record, only the session's changes for an existing one.
func (f *Form) Payload() map[string]any {
	if f.mode == schema.ModeCreate {
		return f.model.ToJSON()
	}
	return f.model.SessionJSON()
}

// Save validates and hands the payload to p. On success the model is
// marked saved and the form closed. On failure the form stays usable.
func (f *Form) Save(ctx context.Context, p persist.Provider) (persist.Result, error) {
	if f.closed {
		return persist.Result{}, ErrClosed
	}
	if f.mode == schema.ModeProperties {
		return persist.Result{}, fmt.Errorf("%w: properties are read only", control.ErrNotPermitted)
	}
	if ok, msg := f.Validate(); !ok {
		return persist.Result{}, fmt.Errorf("%w: %s", ErrInvalidForm, msg)
	}
	node := f.model.Definition().Name()
	req := persist.Request{
		Dialog:   f.id,
		Node:     node,
		Mode:     f.mode,
		ObjectID: f.model.Get(f.model.Definition().Node.IDAttr()),
		Payload:  f.Payload(),
	}
	res, err := p.Save(ctx, req)
	switch {
	case err != nil:
		f.log.WithError(err).Warn("save failed")
		f.notify(event.NewSaveFailed(f.id, node, err.Error()))
		return res, err
	case !res.Success:
		f.log.WithField("errormsg", res.ErrorMsg).Info("save rejected")
		f.notify(event.NewSaveFailed(f.id, node, res.ErrorMsg))
		return res, fmt.Errorf("%w: %s", ErrSaveRejected, res.ErrorMsg)
	}
	f.model.MarkSaved()
	f.notify(event.NewSaved(f.id, node, savedID(res)))
	f.Close()
	return res, nil
}

func savedID(res persist.Result) string {
	if data, ok := res.Data.(map[string]any); ok {
		for _, k := range []string{"id", "oid"} {
			if v, ok := data[k]; ok {
				return control.Display(v)
			}
		}
	}
	return ""
}

// Cancel discards the session and closes the form.
func (f *Form) Cancel() {
	if f.closed {
		return
	}
	f.model.Discard()
	f.notify(event.NewLifecycle(event.TypeCancelled, f.id, f.model.Definition().Name()))
	f.Close()
}

// Close removes every control and releases every subscription. Pending
// async completions are dropped.
func (f *Form) Close() {
	if f.closed {
		return
	}
	f.closed = true
	for _, c := range f.controls {
		f.unbind(c)
		c.Remove()
	}
	for c := range f.subs {
		f.unbind(c)
		c.Remove()
	}
	f.queue.Drain()
}

// Pending returns a channel that is ready when async completions wait to
// be applied.
func (f *Form) Pending() <-chan struct{} { return f.queue.Ready() }

// Flush applies the queued async completions and returns how many ran.
func (f *Form) Flush() int {
	if f.closed {
		f.queue.Drain()
		return 0
	}
	n := f.queue.Flush()
	if n > 0 {
		f.revalidate()
	}
	return n
}

// Wait blocks until at least one async completion arrives or ctx ends,
// then flushes.
func (f *Form) Wait(ctx context.Context) error {
	select {
	case <-f.queue.Ready():
		f.Flush()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Form) notify(n event.Notification) {
	if f.publisher != nil {
		f.publisher.Publish(f.ctx, n)
	}
}

// IsNotPermitted reports whether err is a refused edit.
func IsNotPermitted(err error) bool { return errors.Is(err, control.ErrNotPermitted) }
