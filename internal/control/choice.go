package control

import (
	"fmt"

	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/ui"
)

// choice is the select family: select, multiselect, radio and the read
// only option used in properties mode. Options come from the field's
// static list, a named source evaluated against the model, or the options
// loader for fields with a url.
type choice struct {
	base
	kind string

	fetched []schema.Option
	loaded  bool
	pending bool
	gen     uint64
	failure string
}

const (
	kindSelect   = "select"
	kindMulti    = "multiselect"
	kindRadio    = "radio"
	kindReadOnly = "readonly"
)

func newChoice(kind string) Factory {
	return func(env *Env, f *Field, m *model.Model) (Control, error) {
		return &choice{base: newBase(env, f, m), kind: kind}, nil
	}
}

var (
	newSelect         = newChoice(kindSelect)
	newMultiSelect    = newChoice(kindMulti)
	newRadio          = newChoice(kindRadio)
	newReadOnlyOption = newChoice(kindReadOnly)
)

// Options returns the choice list as of now. Async lists are empty until
// the fetch completes.
func (c *choice) Options() []schema.Option {
	d := c.field.Desc
	var opts []schema.Option
	switch {
	case d.URL != "":
		opts = options.Clone(c.fetched)
	case d.OptionsFrom != "":
		if fn, ok := c.env.Registry.OptionsSource(d.OptionsFrom); ok {
			opts = fn(c.model)
		}
	default:
		opts = options.Clone(d.Options)
	}
	if d.Transform != "" && d.URL == "" {
		if fn, ok := c.env.Registry.Transform(d.Transform); ok {
			opts = fn(opts, c.model)
		}
	}
	return opts
}

// Pending reports whether an options fetch is in flight.
func (c *choice) Pending() bool { return c.pending }

func (c *choice) request() options.Request {
	node := c.field.Desc.CacheNode
	if node == "" {
		node = c.model.Definition().Name()
	}
	return options.Request{
		Node:  node,
		URL:   c.field.Desc.URL,
		Level: c.field.Desc.CacheLevel,
		Info:  c.model.NodeInfo(),
	}
}

// load starts the fetch once. With a Post hook the fetch runs in the
// background and its result is applied on the dialog loop, only while this
// control is alive and the fetch is the latest one. Without one the fetch
// completes before load returns.
func (c *choice) load() {
	if c.field.Desc.URL == "" || c.loaded || c.pending || c.env.Options == nil {
		return
	}
	c.pending = true
	c.gen++
	gen := c.gen
	req := c.request()
	loader := c.env.Options
	ctx := c.env.ctx()
	c.model.Notify(model.EventFetching, c.field.Name)
	if c.env.Post == nil {
		opts, err := loader.Load(ctx, req)
		c.apply(gen, opts, err)
		return
	}
	go func() {
		opts, err := loader.Load(ctx, req)
		c.env.Post(func() { c.apply(gen, opts, err) })
	}()
}

func (c *choice) apply(gen uint64, opts []schema.Option, err error) {
	if c.removed || gen != c.gen || c.model.State().Closed() {
		return
	}
	c.pending = false
	c.loaded = true
	if err != nil {
		c.fetched = nil
		c.failure = err.Error()
		c.env.log().WithError(err).WithField("field", c.field.Name).Warn("options fetch failed")
		c.model.Notify(model.EventFetchError, err.Error())
		c.env.publish(event.NewFetchError(c.env.Dialog, c.model.Definition().Name(), c.field.Name, err))
	} else {
		if t := c.field.Desc.Transform; t != "" {
			if fn, ok := c.env.Registry.Transform(t); ok {
				opts = fn(opts, c.model)
			}
		}
		c.fetched = opts
		c.failure = ""
		c.model.Notify(model.EventFetched, c.field.Name)
	}
	if c.env.Post != nil {
		c.Render()
	}
}

// Reload drops the fetched list and fetches again.
func (c *choice) Reload() {
	c.loaded = false
	c.pending = false
	c.load()
}

func (c *choice) Remove() {
	c.removed = true
	c.gen++
}

func (c *choice) selected(o schema.Option, value any) bool {
	if c.kind == kindMulti {
		if list, ok := value.([]any); ok {
			for _, v := range list {
				if model.SameValue(v, o.Value) {
					return true
				}
			}
		}
		return false
	}
	return value != nil && model.SameValue(value, o.Value)
}

func (c *choice) Render() *ui.Node {
	c.load()
	value := c.display()
	opts := c.Options()
	var w *ui.Node
	switch c.kind {
	case kindReadOnly:
		text := Display(value)
		for _, o := range opts {
			if c.selected(o, value) {
				text = o.Label
				break
			}
		}
		w = ui.El("input", "form-control-plaintext").
			Set("type", "text").
			Set("name", c.field.Name).
			Set("value", text).
			Flag("readonly", true)
	case kindRadio:
		w = ui.El("div", "radio-group")
		for _, o := range opts {
			w.Append(ui.Text("label", "radio", o.Label).Append(
				ui.El("input", "").
					Set("type", "radio").
					Set("name", c.field.Name).
					Set("value", Display(o.Value)).
					Flag("checked", c.selected(o, value)).
					Flag("disabled", c.disabled() || o.Disabled),
			))
		}
	default:
		w = ui.El("select", "form-control").Set("name", c.field.Name)
		w.Flag("multiple", c.kind == kindMulti)
		w.Flag("disabled", c.disabled())
		if c.kind == kindSelect && !c.required() {
			w.Append(ui.El("option", "").Set("value", ""))
		}
		for _, o := range opts {
			opt := ui.Text("option", "", o.Label).
				Set("value", Display(o.Value)).
				Flag("selected", c.selected(o, value)).
				Flag("disabled", o.Disabled)
			if o.Image != "" {
				opt.Set("data-image", o.Image)
			}
			w.Append(opt)
		}
	}
	var extra []*ui.Node
	if c.pending {
		extra = append(extra, ui.Text("span", "pending", "Loading..."))
	}
	if c.failure != "" {
		extra = append(extra, ui.Text("span", "fetch-error", c.failure))
	}
	c.node = c.frame(append([]*ui.Node{w}, extra...)...)
	return c.node
}

// OnChange maps an option label or value to the option's value before
// writing.
func (c *choice) OnChange(ev Event) error {
	if c.kind == kindReadOnly {
		return fmt.Errorf("%w: %s is read only", ErrNotPermitted, c.field.Name)
	}
	return c.write(Event{Value: c.normalize(ev.Value)})
}

func (c *choice) normalize(v any) any {
	opts := c.Options()
	match := func(x any) any {
		for _, o := range opts {
			if model.SameValue(o.Value, x) {
				return o.Value
			}
		}
		s := Display(x)
		for _, o := range opts {
			if Display(o.Value) == s {
				return o.Value
			}
		}
		return x
	}
	if c.kind == kindMulti {
		switch list := v.(type) {
		case []any:
			out := make([]any, len(list))
			for i, x := range list {
				out[i] = match(x)
			}
			return out
		case []string:
			out := make([]any, len(list))
			for i, x := range list {
				out[i] = match(x)
			}
			return out
		case nil:
			return []any{}
		default:
			return []any{match(v)}
		}
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return match(v)
}
