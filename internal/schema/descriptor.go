// Package schema provides the declarative descriptions that drive dialogs:
// field descriptors, node definitions, predicates and the object tree
// context, plus loaders for JSON, YAML and CUE schema files.
package schema

// Dialog modes.
const (
	ModeCreate     = "create"
	ModeEdit       = "edit"
	ModeProperties = "properties"
)

// Structural descriptor types. Everything else is a value type.
const (
	TypeGroup      = "group"
	TypeNested     = "nested"
	TypeCollection = "collection"
	TypeUniqueCol  = "uniqueColCollection"
)

// DefaultGroup is the group label of fields that declare none.
const DefaultGroup = "General"

// Option is one entry of a choice list.
type Option struct {
	Label    string `json:"label"`
	Value    any    `json:"value"`
	Disabled bool   `json:"disabled,omitempty"`
	Image    string `json:"image,omitempty"`
}

// Reference declares that an attribute holds the value of an attribute of
// the rows of a top-level collection, e.g. a constraint column naming a
// table column.
type Reference struct {
	// Collection is the top-level collection attribute being referenced.
	Collection string `json:"collection"`
	// Attr is the attribute of the referenced rows, "name" by default.
	Attr string `json:"attr,omitempty"`
	// Rename propagates renames of the referenced attribute.
	Rename bool `json:"rename,omitempty"`
}

// Target returns the referenced attribute name.
func (r *Reference) Target() string {
	if r.Attr == "" {
		return "name"
	}
	return r.Attr
}

// Descriptor is one schema entry.
type Descriptor struct {
	ID      string   `json:"id"`
	Label   string   `json:"label,omitempty"`
	Type    string   `json:"type,omitempty"`
	Control string   `json:"control,omitempty"`
	Cell    string   `json:"cell,omitempty"`
	Group   string   `json:"group,omitempty"`
	Mode    []string `json:"mode,omitempty"`

	Disabled Predicate `json:"disabled,omitempty"`
	Visible  Predicate `json:"visible,omitempty"`
	Show     Predicate `json:"show,omitempty"`
	Required Predicate `json:"required,omitempty"`
	Deps     []string  `json:"deps,omitempty"`

	Options     []Option `json:"options,omitempty"`
	OptionsFrom string   `json:"options_from,omitempty"`
	URL         string   `json:"url,omitempty"`
	CacheLevel  string   `json:"cache_level,omitempty"`
	CacheNode   string   `json:"cache_node,omitempty"`
	Transform   string   `json:"transform,omitempty"`
	Multiple    bool     `json:"multiple,omitempty"`

	Formatter   string   `json:"formatter,omitempty"`
	MinVersion  int      `json:"min_version,omitempty"`
	MaxVersion  int      `json:"max_version,omitempty"`
	ServerType  []string `json:"server_type,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	HelpMessage string   `json:"help_message,omitempty"`
	Value       any      `json:"value,omitempty"`
	Editable    *bool    `json:"editable,omitempty"`

	// Collection entries.
	Model                  string    `json:"model,omitempty"`
	Columns                []string  `json:"columns,omitempty"`
	UniqueCol              []string  `json:"unique_col,omitempty"`
	CanAdd                 Predicate `json:"can_add,omitempty"`
	CanEdit                Predicate `json:"can_edit,omitempty"`
	CanDelete              Predicate `json:"can_delete,omitempty"`
	AllowMultipleEmptyRows bool      `json:"allow_multiple_empty_rows,omitempty"`
	RemoveWhenEmpty        bool      `json:"remove_when_empty,omitempty"`

	Ref *Reference `json:"ref,omitempty"`

	// Schema holds the children of nested entries.
	Schema []Descriptor `json:"schema,omitempty"`
}

// IsCollection reports whether the entry binds a collection of rows.
func (d *Descriptor) IsCollection() bool {
	return d.Type == TypeCollection || d.Type == TypeUniqueCol
}

// VisiblePredicate returns Visible, falling back to the "show" alias.
func (d *Descriptor) VisiblePredicate() Predicate {
	if d.Visible.IsSet() {
		return d.Visible
	}
	return d.Show
}

// InMode reports whether the entry applies to mode. An empty list applies
// to every mode.
func (d *Descriptor) InMode(mode string) bool {
	if len(d.Mode) == 0 {
		return true
	}
	for _, m := range d.Mode {
		if m == mode {
			return true
		}
	}
	return false
}

// InVersion reports whether version lies within the entry's gates. A zero
// version (unknown server) passes every gate.
func (d *Descriptor) InVersion(version int) bool {
	if version == 0 {
		return true
	}
	if d.MinVersion > 0 && version < d.MinVersion {
		return false
	}
	if d.MaxVersion > 0 && version > d.MaxVersion {
		return false
	}
	return true
}

// ForServerType reports whether the entry applies to the server flavour.
func (d *Descriptor) ForServerType(typ string) bool {
	if len(d.ServerType) == 0 || typ == "" {
		return true
	}
	for _, t := range d.ServerType {
		if t == typ {
			return true
		}
	}
	return false
}

// Node is the definition of one object type: its model shape and the
// schema its dialog is built from.
type Node struct {
	Name        string         `json:"name"`
	Label       string         `json:"label,omitempty"`
	IDAttribute string         `json:"id_attribute,omitempty"`
	Keys        []string       `json:"keys,omitempty"`
	Defaults    map[string]any `json:"defaults,omitempty"`
	Schema      []Descriptor   `json:"schema"`
}

// IDAttr returns the id attribute, "oid" when not declared.
func (n *Node) IDAttr() string {
	if n.IDAttribute == "" {
		return "oid"
	}
	return n.IDAttribute
}

// Walk calls fn for every descriptor in the schema, depth first. Group and
// nested children are visited; collection member schemas are not, since
// they belong to another node.
func Walk(entries []Descriptor, fn func(d *Descriptor)) {
	for i := range entries {
		d := &entries[i]
		fn(d)
		if !d.IsCollection() && len(d.Schema) > 0 {
			Walk(d.Schema, fn)
		}
	}
}
