package form

import (
	"fmt"
	"sort"
	"strings"

	"github.com/matthewbaird/pgform/internal/keypath"
	"github.com/matthewbaird/pgform/internal/schema"
)

// Issue severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is one problem found by Lint.
type Issue struct {
	Node     string `json:"node"`
	Mode     string `json:"mode,omitempty"`
	Field    string `json:"field,omitempty"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

func (i Issue) String() string {
	where := i.Node
	if i.Field != "" {
		where += "." + i.Field
	}
	if i.Mode != "" {
		where += " [" + i.Mode + "]"
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, where, i.Message)
}

var lintModes = []string{schema.ModeCreate, schema.ModeEdit, schema.ModeProperties}

// Lint checks every node definition the way opening it would, in every
// mode, and also reports problems that would only show at run time:
// dependencies on unknown attributes, predicates reading attributes missing
// from deps, and collections whose member type or unique columns do not
// exist.
func (o *Orchestrator) Lint() []Issue {
	var issues []Issue
	info := &schema.NodeInfo{}
	collections := make(map[string]bool)
	for _, name := range o.defs.Names() {
		def, _ := o.defs.Lookup(name)
		for _, attr := range def.CollectionNames() {
			collections[attr] = true
		}
	}
	for _, name := range o.defs.Names() {
		def, _ := o.defs.Lookup(name)
		known := attributes(def.Node.Schema)
		for _, mode := range lintModes {
			l, err := o.Compile(def.Node.Schema, mode, info)
			if err != nil {
				issues = append(issues, Issue{Node: name, Mode: mode, Severity: SeverityError, Message: err.Error()})
				continue
			}
			for _, dup := range l.Skipped {
				issues = append(issues, Issue{Node: name, Mode: mode, Field: dup, Severity: SeverityWarning,
					Message: "bound by more than one field in this mode; only the first is used"})
			}
		}
		schema.Walk(def.Node.Schema, func(d *schema.Descriptor) {
			issues = append(issues, o.lintEntry(name, d, known)...)
			if d.Ref != nil && !collections[d.Ref.Collection] {
				issues = append(issues, Issue{Node: name, Field: d.ID, Severity: SeverityError,
					Message: fmt.Sprintf("references unknown collection %q", d.Ref.Collection)})
			}
		})
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Node != issues[j].Node {
			return issues[i].Node < issues[j].Node
		}
		return issues[i].Field < issues[j].Field
	})
	return issues
}

func (o *Orchestrator) lintEntry(node string, d *schema.Descriptor, known map[string]bool) []Issue {
	var issues []Issue
	report := func(sev, format string, args ...any) {
		issues = append(issues, Issue{Node: node, Field: d.ID, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}
	if d.Type == schema.TypeGroup {
		return nil
	}
	deps := make(map[string]bool)
	for _, dep := range d.Deps {
		if strings.HasPrefix(dep, "$top.") {
			deps[dep] = true
			continue
		}
		p, err := keypath.Parse(dep)
		if err != nil {
			continue
		}
		deps[p.Head()] = true
		if !known[p.Head()] {
			report(SeverityError, "depends on unknown attribute %q", dep)
		}
	}
	own := ""
	if p, err := keypath.Parse(d.ID); err == nil {
		own = p.Head()
	}
	for _, pred := range []schema.Predicate{d.Disabled, d.VisiblePredicate(), d.Required} {
		for _, read := range pred.Fields() {
			p, err := keypath.Parse(read)
			if err != nil {
				report(SeverityError, "predicate reads invalid path %q", read)
				continue
			}
			if p.Head() != own && !deps[p.Head()] {
				report(SeverityWarning, "predicate reads %q which is not listed in deps", read)
			}
		}
	}
	if d.IsCollection() {
		issues = append(issues, o.lintCollection(node, d)...)
	}
	return issues
}

func (o *Orchestrator) lintCollection(node string, d *schema.Descriptor) []Issue {
	var issues []Issue
	report := func(format string, args ...any) {
		issues = append(issues, Issue{Node: node, Field: d.ID, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
	}
	member := d.Schema
	if d.Model != "" {
		def, ok := o.defs.Lookup(d.Model)
		if !ok {
			report("collection of unknown node type %q", d.Model)
			return issues
		}
		member = def.Node.Schema
	}
	fields := attributes(member)
	for _, k := range d.UniqueCol {
		if !fields[k] {
			report("unique column %q is not a field of the rows", k)
		}
	}
	if d.Type == schema.TypeUniqueCol && len(d.UniqueCol) == 0 {
		report("unique_col is required")
	}
	for _, c := range d.Columns {
		if !fields[c] {
			report("column %q is not a field of the rows", c)
		}
	}
	if d.Model == "" {
		for _, mode := range lintModes {
			if _, err := o.registry.ResolveAll(member, mode); err != nil {
				report("rows [%s]: %v", mode, err)
			}
		}
	}
	return issues
}

// attributes returns the attribute names and dotted paths an entry list
// binds.
func attributes(entries []schema.Descriptor) map[string]bool {
	out := make(map[string]bool)
	schema.Walk(entries, func(d *schema.Descriptor) {
		if d.Type == schema.TypeGroup || d.ID == "" {
			return
		}
		out[d.ID] = true
		if p, err := keypath.Parse(d.ID); err == nil {
			out[p.Head()] = true
		}
	})
	return out
}
