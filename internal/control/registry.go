package control

import (
	"fmt"
	"sort"
	"sync"

	"github.com/matthewbaird/pgform/internal/formatter"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/schema"
)

// Factory builds the control of a field bound to a model.
type Factory func(env *Env, f *Field, m *model.Model) (Control, error)

// OptionsFunc computes a choice list from the current model.
type OptionsFunc func(m *model.Model) []schema.Option

// TransformFunc rewrites a fetched choice list before it is shown.
type TransformFunc func(opts []schema.Option, m *model.Model) []schema.Option

// Mapping names the controls used for a value type: one for properties
// mode, one for create and edit, and the grid cell.
type Mapping struct {
	Properties string
	Edit       string
	Cell       string
	Formatter  string
}

func (m Mapping) control(mode string) string {
	if mode == schema.ModeProperties && m.Properties != "" {
		return m.Properties
	}
	return m.Edit
}

// Built-in control names.
const (
	NameUneditable  = "uneditable-input"
	NameInput       = "input"
	NameTextarea    = "textarea"
	NameSelect      = "select"
	NameMultiSelect = "multiselect"
	NameReadOnlyOpt = "readonly-option"
	NameRadio       = "radio"
	NameBoolean     = "boolean"
	NameCheckbox    = "checkbox"
	NameSwitch      = "switch"
	NameDatePicker  = "datepicker"
	NameFile        = "file"
	NameFieldset    = "fieldset"
	NameTab         = "tab"
	NameCollection  = "sub-node-collection"
	NameUniqueCol   = "unique-col-collection"
	NameHelp        = "help"
	NameSpacer      = "spacer"
)

var defaultMappings = map[string]Mapping{
	"":            {Properties: NameUneditable, Edit: NameInput, Cell: "string"},
	"text":        {Properties: NameUneditable, Edit: NameInput, Cell: "string"},
	"int":         {Properties: NameUneditable, Edit: NameInput, Cell: "integer", Formatter: "integer"},
	"numeric":     {Properties: NameUneditable, Edit: NameInput, Cell: "numeric", Formatter: "numeric"},
	"multiline":   {Properties: NameTextarea, Edit: NameTextarea, Cell: "string"},
	"date":        {Properties: NameUneditable, Edit: NameDatePicker, Cell: "date", Formatter: "date"},
	"boolean":     {Edit: NameBoolean, Cell: "boolean", Formatter: "boolean"},
	"switch":      {Edit: NameSwitch, Cell: "boolean", Formatter: "boolean"},
	"options":     {Properties: NameReadOnlyOpt, Edit: NameSelect, Cell: "select"},
	"multiselect": {Properties: NameReadOnlyOpt, Edit: NameMultiSelect, Cell: "select"},
	"radio":       {Properties: NameReadOnlyOpt, Edit: NameRadio, Cell: "select"},
	"file":        {Properties: NameUneditable, Edit: NameFile, Cell: "string"},
	"json":        {Properties: NameTextarea, Edit: NameTextarea, Cell: "string", Formatter: "json"},
	"csv":         {Properties: NameUneditable, Edit: NameInput, Cell: "string", Formatter: "csv"},
	"note":        {Edit: NameHelp},
	"spacer":      {Edit: NameSpacer},

	schema.TypeNested:     {Edit: NameFieldset},
	schema.TypeGroup:      {Edit: NameFieldset},
	schema.TypeCollection: {Edit: NameCollection, Cell: "collection"},
	schema.TypeUniqueCol:  {Edit: NameUniqueCol, Cell: "collection"},
}

// Registry maps control names to factories together with the named
// options sources and transforms fields may refer to. Build one per
// application; there is no package level registry.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	mappings   map[string]Mapping
	sources    map[string]OptionsFunc
	transforms map[string]TransformFunc
	formatters *formatter.Registry
	preds      *schema.Predicates
}

// NewRegistry returns a registry holding the built-in controls. Nil
// arguments get the default formatter and predicate registries.
func NewRegistry(formatters *formatter.Registry, preds *schema.Predicates) *Registry {
	if formatters == nil {
		formatters = formatter.NewRegistry()
	}
	if preds == nil {
		preds = schema.NewPredicates()
	}
	r := &Registry{
		factories:  make(map[string]Factory),
		mappings:   make(map[string]Mapping, len(defaultMappings)),
		sources:    make(map[string]OptionsFunc),
		transforms: make(map[string]TransformFunc),
		formatters: formatters,
		preds:      preds,
	}
	for k, v := range defaultMappings {
		r.mappings[k] = v
	}
	r.Register(NameUneditable, newUneditable)
	r.Register(NameInput, newInput)
	r.Register(NameTextarea, newTextarea)
	r.Register(NameDatePicker, newDatePicker)
	r.Register(NameFile, newFile)
	r.Register(NameBoolean, newCheckbox)
	r.Register(NameCheckbox, newCheckbox)
	r.Register(NameSwitch, newSwitch)
	r.Register(NameSelect, newSelect)
	r.Register(NameMultiSelect, newMultiSelect)
	r.Register(NameReadOnlyOpt, newReadOnlyOption)
	r.Register(NameRadio, newRadio)
	r.Register(NameFieldset, newFieldset)
	r.Register(NameTab, newTab)
	r.Register(NameCollection, newCollection)
	r.Register(NameUniqueCol, newUniqueCol)
	r.Register(NameHelp, newHelp)
	r.Register(NameSpacer, newSpacer)
	return r
}

// Formatters returns the formatter registry.
func (r *Registry) Formatters() *formatter.Registry { return r.formatters }

// Predicates returns the predicate registry.
func (r *Registry) Predicates() *schema.Predicates { return r.preds }

// Register adds or replaces a control factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, name)
	}
	return f, nil
}

// Names returns the registered control names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Map sets the controls used for a value type.
func (r *Registry) Map(typ string, m Mapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mappings[typ] = m
}

func (r *Registry) mapping(typ string) Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.mappings[typ]; ok {
		return m
	}
	return r.mappings[""]
}

// RegisterOptions adds a named options source.
func (r *Registry) RegisterOptions(name string, fn OptionsFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = fn
}

// OptionsSource returns the options source registered under name.
func (r *Registry) OptionsSource(name string) (OptionsFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.sources[name]
	return fn, ok
}

// RegisterTransform adds a named options transform.
func (r *Registry) RegisterTransform(name string, fn TransformFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
}

// Transform returns the transform registered under name.
func (r *Registry) Transform(name string) (TransformFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.transforms[name]
	return fn, ok
}
