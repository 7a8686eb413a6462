package schema

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
)

// ErrUnknownPredicate is returned when a schema names a predicate that is
// not registered.
var ErrUnknownPredicate = errors.New("schema: unknown predicate")

// Values is the read side of a model as seen by predicates.
type Values interface {
	Get(path string) any
	Top() Values
	NodeInfo() *NodeInfo
	IsNew() bool
}

// PredicateFunc is a predicate implemented in Go and referenced by name.
type PredicateFunc func(v Values) bool

// Predicates is a name to PredicateFunc registry.
type Predicates struct {
	mu    sync.RWMutex
	funcs map[string]PredicateFunc
}

// NewPredicates returns a registry holding the built-in predicates.
func NewPredicates() *Predicates {
	p := &Predicates{funcs: make(map[string]PredicateFunc)}
	p.Register("isNew", func(v Values) bool { return v.IsNew() })
	p.Register("isNotNew", func(v Values) bool { return !v.IsNew() })
	p.Register("always", func(Values) bool { return true })
	p.Register("never", func(Values) bool { return false })
	return p
}

// Register adds or replaces a named predicate.
func (p *Predicates) Register(name string, fn PredicateFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[name] = fn
}

// Lookup returns the predicate registered under name.
func (p *Predicates) Lookup(name string) (PredicateFunc, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.funcs[name]
	return fn, ok
}

// Names returns the registered predicate names, sorted.
func (p *Predicates) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.funcs))
	for n := range p.funcs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Rule compares one attribute against a value.
type Rule struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Values   []any  `json:"values,omitempty"`
}

var ruleOperators = map[string]bool{
	"eq": true, "neq": true, "in": true, "not_in": true,
	"empty": true, "not_empty": true, "truthy": true, "falsy": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
}

// Predicate is a boolean that may depend on the current model. The zero
// value is unset and evaluates to the caller's default.
type Predicate struct {
	set    bool
	static bool
	name   string
	rule   *Rule
	all    []Predicate
	any    []Predicate
	not    *Predicate
	fn     PredicateFunc
}

// Static returns a constant predicate.
func Static(b bool) Predicate { return Predicate{set: true, static: b} }

// Named returns a predicate resolved by name at evaluation time.
func Named(name string) Predicate { return Predicate{set: true, name: name} }

// When returns a rule predicate.
func When(r Rule) Predicate { return Predicate{set: true, rule: &r} }

// Func wraps a Go function.
func Func(fn PredicateFunc) Predicate { return Predicate{set: true, fn: fn} }

// All is true when every member is true.
func All(ps ...Predicate) Predicate { return Predicate{set: true, all: ps} }

// Any is true when at least one member is true.
func Any(ps ...Predicate) Predicate { return Predicate{set: true, any: ps} }

// Not negates p.
func Not(p Predicate) Predicate { return Predicate{set: true, not: &p} }

// IsSet reports whether the predicate was declared.
func (p Predicate) IsSet() bool { return p.set }

// IsStatic reports whether the predicate does not depend on the model.
func (p Predicate) IsStatic() bool {
	return p.set && p.name == "" && p.rule == nil && p.all == nil && p.any == nil && p.not == nil && p.fn == nil
}

// Eval evaluates the predicate against v, returning def when unset.
// Names missing from reg evaluate to false.
func (p Predicate) Eval(v Values, reg *Predicates, def bool) bool {
	if !p.set {
		return def
	}
	switch {
	case p.fn != nil:
		return p.fn(v)
	case p.name != "":
		fn, ok := reg.Lookup(p.name)
		if !ok {
			return false
		}
		return fn(v)
	case p.rule != nil:
		return p.rule.eval(v)
	case p.all != nil:
		for _, c := range p.all {
			if !c.Eval(v, reg, def) {
				return false
			}
		}
		return true
	case p.any != nil:
		for _, c := range p.any {
			if c.Eval(v, reg, def) {
				return true
			}
		}
		return false
	case p.not != nil:
		return !p.not.Eval(v, reg, def)
	}
	return p.static
}

// Check verifies every named predicate and rule operator is resolvable.
func (p Predicate) Check(reg *Predicates) error {
	switch {
	case p.name != "":
		if _, ok := reg.Lookup(p.name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPredicate, p.name)
		}
	case p.rule != nil:
		if !ruleOperators[p.rule.Operator] {
			return fmt.Errorf("schema: unknown operator %q on %q", p.rule.Operator, p.rule.Field)
		}
		if p.rule.Field == "" {
			return errors.New("schema: rule without field")
		}
	case p.not != nil:
		return p.not.Check(reg)
	}
	for _, c := range append(append([]Predicate{}, p.all...), p.any...) {
		if err := c.Check(reg); err != nil {
			return err
		}
	}
	return nil
}

// Fields returns the model attributes read by rule predicates. Named and
// Go predicates are opaque and contribute nothing.
func (p Predicate) Fields() []string {
	var out []string
	if p.rule != nil && !strings.HasPrefix(p.rule.Field, "$") {
		out = append(out, p.rule.Field)
	}
	if p.not != nil {
		out = append(out, p.not.Fields()...)
	}
	for _, c := range p.all {
		out = append(out, c.Fields()...)
	}
	for _, c := range p.any {
		out = append(out, c.Fields()...)
	}
	return out
}

func (r *Rule) eval(v Values) bool {
	actual := resolveField(v, r.Field)
	switch r.Operator {
	case "eq":
		return valueEquals(actual, r.Value)
	case "neq":
		return !valueEquals(actual, r.Value)
	case "in":
		return containsValue(r.Values, actual)
	case "not_in":
		return !containsValue(r.Values, actual)
	case "empty":
		return IsEmpty(actual)
	case "not_empty":
		return !IsEmpty(actual)
	case "truthy":
		return truthy(actual)
	case "falsy":
		return !truthy(actual)
	case "gt":
		c, ok := valueCompare(actual, r.Value)
		return ok && c > 0
	case "gte":
		c, ok := valueCompare(actual, r.Value)
		return ok && c >= 0
	case "lt":
		c, ok := valueCompare(actual, r.Value)
		return ok && c < 0
	case "lte":
		c, ok := valueCompare(actual, r.Value)
		return ok && c <= 0
	}
	return false
}

// resolveField reads a rule field. "$top." reads the top model and
// "$node." reads the node info.
func resolveField(v Values, field string) any {
	switch {
	case strings.HasPrefix(field, "$top."):
		top := v.Top()
		if top == nil {
			top = v
		}
		return top.Get(strings.TrimPrefix(field, "$top."))
	case strings.HasPrefix(field, "$node."):
		val, _ := v.NodeInfo().Lookup(strings.TrimPrefix(field, "$node."))
		return val
	}
	return v.Get(field)
}

// IsEmpty reports whether a model value counts as empty: nil, "", an empty
// list or an empty object.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case nil:
		return false
	case string:
		return x != "" && x != "false"
	}
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	return !IsEmpty(v)
}

func containsValue(list []any, v any) bool {
	for _, x := range list {
		if valueEquals(v, x) {
			return true
		}
	}
	return false
}

func valueEquals(actual, expected any) bool {
	if af, ok := toFloat(actual); ok {
		if ef, ok := toFloat(expected); ok {
			return af == ef
		}
	}
	switch a := actual.(type) {
	case string:
		switch e := expected.(type) {
		case string:
			return a == e
		case bool:
			return strconv.FormatBool(e) == a
		}
		return false
	case bool:
		switch e := expected.(type) {
		case bool:
			return a == e
		case string:
			return strconv.FormatBool(a) == e
		}
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// valueCompare returns -1, 0 or 1 comparing actual to threshold numerically.
func valueCompare(actual, threshold any) (int, bool) {
	av, ok := toFloat(actual)
	if !ok {
		return 0, false
	}
	tv, ok := toFloat(threshold)
	if !ok {
		return 0, false
	}
	switch {
	case av < tv:
		return -1, true
	case av > tv:
		return 1, true
	}
	return 0, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

type predicateJSON struct {
	Rule
	All []Predicate `json:"all,omitempty"`
	Any []Predicate `json:"any,omitempty"`
	Not *Predicate  `json:"not,omitempty"`
}

// UnmarshalJSON accepts a boolean, a predicate name, a rule object or an
// all/any/not combinator.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = Predicate{}
		return nil
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("schema: predicate: %w", err)
		}
		*p = Static(b)
		return nil
	case '"':
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return fmt.Errorf("schema: predicate: %w", err)
		}
		*p = Named(name)
		return nil
	case '{':
		var raw predicateJSON
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("schema: predicate: %w", err)
		}
		switch {
		case raw.All != nil:
			*p = All(raw.All...)
		case raw.Any != nil:
			*p = Any(raw.Any...)
		case raw.Not != nil:
			*p = Not(*raw.Not)
		default:
			*p = When(raw.Rule)
		}
		return nil
	}
	return fmt.Errorf("schema: predicate: unsupported value %s", data)
}

// MarshalJSON renders the declarative form. Go predicates render as true.
func (p Predicate) MarshalJSON() ([]byte, error) {
	switch {
	case !p.set:
		return []byte("null"), nil
	case p.fn != nil:
		return []byte("true"), nil
	case p.name != "":
		return json.Marshal(p.name)
	case p.rule != nil:
		return json.Marshal(p.rule)
	case p.all != nil:
		return json.Marshal(map[string]any{"all": p.all})
	case p.any != nil:
		return json.Marshal(map[string]any{"any": p.any})
	case p.not != nil:
		return json.Marshal(map[string]any{"not": p.not})
	}
	return json.Marshal(p.static)
}
