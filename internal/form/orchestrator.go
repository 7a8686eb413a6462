// Package form builds dialogs: it compiles a node's schema into the fields
// of a mode, instantiates one control per field, owns every subscription
// between controls and models, and gates saving on validity.
package form

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
)

var (
	// ErrInvalidForm is returned when saving a form that does not validate.
	ErrInvalidForm = errors.New("form: invalid")
	// ErrClosed is returned by operations on a closed form.
	ErrClosed = errors.New("form: closed")
	// ErrSaveRejected is returned when the persistence provider refuses a
	// save.
	ErrSaveRejected = errors.New("form: save rejected")
	// ErrUnknownControl is returned when no control matches a key.
	ErrUnknownControl = errors.New("form: no such control")
)

const fieldCacheSize = 256

// Orchestrator builds forms. It is safe for concurrent use; the forms it
// builds are not.
type Orchestrator struct {
	registry  *control.Registry
	defs      *model.Definitions
	options   options.Loader
	publisher event.Publisher
	compiled  *lru.Cache[compileKey, *Layout]
}

type compileKey struct {
	node       string
	mode       string
	version    int
	serverType string
}

// Layout is a compiled field list with the labels of its groups.
type Layout struct {
	Fields []*control.Field
	// Groups maps group ids to labels.
	Groups map[string]string
	// Skipped lists fields dropped because an earlier field of the mode
	// bound the same path.
	Skipped []string
}

// NewOrchestrator returns an orchestrator.
func NewOrchestrator(registry *control.Registry, defs *model.Definitions, loader options.Loader, publisher event.Publisher) *Orchestrator {
	cache, err := lru.New[compileKey, *Layout](fieldCacheSize)
	if err != nil {
		panic(err)
	}
	return &Orchestrator{
		registry:  registry,
		defs:      defs,
		options:   loader,
		publisher: publisher,
		compiled:  cache,
	}
}

// Registry returns the control registry.
func (o *Orchestrator) Registry() *control.Registry { return o.registry }

// Definitions returns the node definitions.
func (o *Orchestrator) Definitions() *model.Definitions { return o.defs }

// Compile filters entries for a dialog opened in mode against the server
// described by info, before any control exists. Fields outside the mode,
// the server version range or the server type are dropped, and of several
// fields bound to the same path only the first is kept.
func (o *Orchestrator) Compile(entries []schema.Descriptor, mode string, info *schema.NodeInfo) (*Layout, error) {
	l := &Layout{Groups: make(map[string]string)}
	seen := make(map[string]bool)
	// prune drops nested children that do not apply or whose path an
	// earlier field of the mode already binds.
	var prune func(f *control.Field)
	prune = func(f *control.Field) {
		if len(f.Children) == 0 {
			return
		}
		kept := make([]*control.Field, 0, len(f.Children))
		for _, child := range f.Children {
			if !child.Applies(mode, info) {
				continue
			}
			if child.Control == control.NameFieldset || child.Control == control.NameTab {
				prune(child)
				kept = append(kept, child)
				continue
			}
			if seen[child.Name] {
				l.Skipped = append(l.Skipped, child.Name)
				continue
			}
			seen[child.Name] = true
			prune(child)
			kept = append(kept, child)
		}
		f.Children = kept
	}
	var add func(entries []schema.Descriptor, group string) error
	add = func(entries []schema.Descriptor, group string) error {
		for i := range entries {
			d := &entries[i]
			if d.Type == schema.TypeGroup {
				if !d.InMode(mode) || !d.InVersion(info.Version()) || !d.ForServerType(info.ServerType()) {
					continue
				}
				label := d.Label
				if label == "" {
					label = d.ID
				}
				l.Groups[d.ID] = label
				if err := add(d.Schema, d.ID); err != nil {
					return err
				}
				continue
			}
			f, err := o.registry.Resolve(d, mode)
			if err != nil {
				return err
			}
			if d.Group == "" && group != "" {
				f.Group = group
			}
			if !f.Applies(mode, info) {
				continue
			}
			if seen[f.Name] {
				l.Skipped = append(l.Skipped, f.Name)
				continue
			}
			seen[f.Name] = true
			prune(f)
			l.Fields = append(l.Fields, f)
		}
		return nil
	}
	if err := add(entries, ""); err != nil {
		return nil, err
	}
	return l, nil
}

// Layout returns the compiled layout of a node type, cached per mode and
// server.
func (o *Orchestrator) Layout(node, mode string, info *schema.NodeInfo) (*Layout, error) {
	key := compileKey{node: node, mode: mode, version: info.Version(), serverType: info.ServerType()}
	if l, ok := o.compiled.Get(key); ok {
		return l, nil
	}
	def, ok := o.defs.Lookup(node)
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownDefinition, node)
	}
	l, err := o.Compile(def.Node.Schema, mode, info)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", node, err)
	}
	o.compiled.Add(key, l)
	return l, nil
}

// Purge drops every compiled layout. Call it after definitions change.
func (o *Orchestrator) Purge() { o.compiled.Purge() }

// Open builds the form of m's node type in the mode of m's session.
func (o *Orchestrator) Open(ctx context.Context, m *model.Model) (*Form, error) {
	mode := m.Arena().Mode()
	l, err := o.Layout(m.Definition().Name(), mode, m.NodeInfo())
	if err != nil {
		return nil, err
	}
	return o.build(ctx, l, m, mode)
}

// Build builds a form for an explicit schema. A configuration error in
// any entry aborts the build; no partial form is returned.
func (o *Orchestrator) Build(ctx context.Context, entries []schema.Descriptor, m *model.Model, mode string) (*Form, error) {
	l, err := o.Compile(entries, mode, m.NodeInfo())
	if err != nil {
		return nil, err
	}
	return o.build(ctx, l, m, mode)
}

func (o *Orchestrator) build(ctx context.Context, l *Layout, m *model.Model, mode string) (*Form, error) {
	id := uuid.New().String()
	ctx, log := logger.ContextWithDialog(ctx, id)
	log = log.WithFields(logrus.Fields{"node": m.Definition().Name(), "mode": mode})
	for _, name := range l.Skipped {
		log.WithField("field", name).Debug("field bound twice for the mode, keeping the first")
	}

	f := &Form{
		id:        id,
		mode:      mode,
		model:     m,
		layout:    l,
		queue:     newQueue(),
		publisher: o.publisher,
		subs:      make(map[control.Control][]model.Subscription),
		keys:      make(map[control.Control]string),
		log:       log,
		ctx:       ctx,
	}
	f.env = &control.Env{
		Registry:  o.registry,
		Options:   o.options,
		Post:      f.queue.Post,
		Publisher: o.publisher,
		Dialog:    id,
		Context:   ctx,
		Log:       log,
		Bind:      f.bind,
		Unbind:    f.unbind,
	}
	for _, field := range l.Fields {
		c, err := control.New(f.env, field, m)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%s: %w", m.Definition().Name(), err)
		}
		f.controls = append(f.controls, c)
		f.bind(c)
	}
	f.revalidate()
	f.Render()
	if o.publisher != nil {
		o.publisher.Publish(ctx, event.NewLifecycle(event.TypeOpened, id, m.Definition().Name()))
	}
	return f, nil
}
