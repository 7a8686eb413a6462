// Package catalog holds the built-in PostgreSQL node types: their schema
// documents plus the validation rules, named predicates, initializers,
// option sources and transforms written in Go.
package catalog

import (
	"embed"
	"fmt"
	"strings"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/schema"
)

//go:embed nodes/*.yaml
var nodesFS embed.FS

// Nodes decodes the built-in node documents.
func Nodes(l *schema.Loader) ([]*schema.Node, error) {
	return l.LoadFS(nodesFS, "nodes")
}

// Install registers the built-in nodes in defs and their Go behaviour in
// defs and reg. reg must share the predicate registry of defs.
func Install(l *schema.Loader, defs *model.Definitions, reg *control.Registry) error {
	RegisterPredicates(defs.Predicates())
	nodes, err := Nodes(l)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if _, err := defs.Add(n); err != nil {
			return fmt.Errorf("catalog: %s: %w", n.Name, err)
		}
	}
	for name, rs := range rules {
		for _, r := range rs {
			if err := defs.AddRule(name, r); err != nil {
				return err
			}
		}
	}
	for name, fn := range initializers {
		if err := defs.SetInitializer(name, fn); err != nil {
			return err
		}
	}
	reg.RegisterOptions("table_columns", tableColumns)
	reg.RegisterTransform("without_system_roles", withoutSystemRoles)
	reg.RegisterTransform("with_public", withPublic)
	return nil
}

// RegisterPredicates adds the named predicates used by the built-in nodes.
func RegisterPredicates(p *schema.Predicates) {
	p.Register("new_object", func(v schema.Values) bool { return v.IsNew() })
	p.Register("typmod_allowed", func(v schema.Values) bool {
		_, ok := typmods[baseType(v.Get("cltype"))]
		return ok
	})
	p.Register("scale_allowed", func(v schema.Values) bool {
		return typmods[baseType(v.Get("cltype"))]
	})
	p.Register("single_primary_key", func(v schema.Values) bool {
		m, ok := v.(*model.Model)
		if !ok {
			return false
		}
		c := m.Collection("primary_key")
		return c == nil || c.Len() == 0
	})
}

// typmods lists the types that take a length; the value tells whether
// they also take a scale.
var typmods = map[string]bool{
	"bit":                         false,
	"bit varying":                 false,
	"character":                   false,
	"character varying":           false,
	"char":                        false,
	"varchar":                     false,
	"interval":                    false,
	"time":                        false,
	"time with time zone":         false,
	"time without time zone":      false,
	"timestamp":                   false,
	"timestamp with time zone":    false,
	"timestamp without time zone": false,
	"numeric":                     true,
	"decimal":                     true,
}

func baseType(v any) string {
	s, _ := v.(string)
	return strings.TrimSuffix(strings.TrimSpace(strings.ToLower(s)), "[]")
}

func notEmpty(attr, msg string) model.Rule {
	return func(m *model.Model) (string, string) {
		if schema.IsEmpty(m.Get(attr)) {
			return attr, msg
		}
		return "", ""
	}
}

var rules = map[string][]model.Rule{
	"column": {
		notEmpty("name", "Column name cannot be empty."),
		notEmpty("cltype", "Column type cannot be empty."),
		func(m *model.Model) (string, string) {
			length, ok := number(m.Get("attlen"))
			if !ok {
				return "", ""
			}
			if scale, ok := number(m.Get("attprecision")); ok && scale > length {
				return "attprecision", "Scale must not be greater than the length."
			}
			return "", ""
		},
	},
	"index_constraint": {
		func(m *model.Model) (string, string) {
			if c := m.Collection("columns"); c != nil && c.Len() == 0 {
				return "columns", "Please specify columns for " + m.Definition().Node.Label + "."
			}
			return "", ""
		},
	},
	"privilege": {
		notEmpty("grantee", "Grantee cannot be empty."),
	},
	"variable": {
		notEmpty("name", "Please select a parameter."),
		notEmpty("value", "Please enter some value!"),
	},
}

var initializers = map[string]model.Initializer{
	"table": func(_ *model.Model, info *schema.NodeInfo) map[string]any {
		out := owner(info, "relowner")
		if info != nil && info.Schema != nil {
			out["schema"] = info.Schema.Name
		}
		return out
	},
	"database": func(_ *model.Model, info *schema.NodeInfo) map[string]any {
		return owner(info, "datowner")
	},
	"privilege": func(_ *model.Model, info *schema.NodeInfo) map[string]any {
		return owner(info, "grantor")
	},
}

func owner(info *schema.NodeInfo, attr string) map[string]any {
	out := make(map[string]any)
	if info != nil && info.Server != nil && info.Server.User.Name != "" {
		out[attr] = info.Server.User.Name
	}
	return out
}

// tableColumns lists the columns of the table being edited.
func tableColumns(m *model.Model) []schema.Option {
	c := m.TopModel().Collection("columns")
	if c == nil {
		return nil
	}
	var out []schema.Option
	for _, col := range c.Models() {
		name, _ := col.Get("name").(string)
		if name == "" {
			continue
		}
		out = append(out, schema.Option{Label: name, Value: name})
	}
	return out
}

func withoutSystemRoles(opts []schema.Option, _ *model.Model) []schema.Option {
	out := make([]schema.Option, 0, len(opts))
	for _, o := range opts {
		if s, ok := o.Value.(string); ok && strings.HasPrefix(s, "pg_") {
			continue
		}
		out = append(out, o)
	}
	return out
}

func withPublic(opts []schema.Option, _ *model.Model) []schema.Option {
	for _, o := range opts {
		if o.Value == "PUBLIC" {
			return opts
		}
	}
	return append([]schema.Option{{Label: "PUBLIC", Value: "PUBLIC"}}, opts...)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
