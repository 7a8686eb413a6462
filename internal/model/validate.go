package model

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/matthewbaird/pgform/internal/schema"
)

// Messages produced by the schema driven checks.
const (
	MsgCannotBeEmpty = "'%s' cannot be empty."
	MsgMustBeInteger = "'%s' must be an integer."
	MsgMustBeNumeric = "'%s' must be a numeric."
	MsgMustBeGreater = "'%s' must be greater than or equal to %v."
	MsgMustBeLess    = "'%s' must be less than or equal to %v."
)

var (
	integerPattern = regexp.MustCompile(`^-?[0-9]*$`)
	numericPattern = regexp.MustCompile(`^-?[0-9]+(\.?[0-9]*)?$`)
)

// Validate recomputes the validation layer of the error model and returns
// the first failing message, or "" when the model is valid. Checks run in
// order: required fields and numeric checks in schema order, then the
// node's rules in the order they were added.
func (m *Model) Validate() string {
	prev := m.errors.clearValidation()
	first := ""
	fail := func(path, msg string) {
		if first == "" {
			first = msg
		}
		if path == "" {
			return
		}
		if _, set := m.errors.validation[path]; !set {
			m.errors.validation[path] = msg
		}
	}

	preds := m.arena.defs.preds
	for _, d := range m.def.fields {
		if !m.applies(d) {
			continue
		}
		v := m.Get(d.ID)
		if schema.IsEmpty(v) {
			if d.Required.Eval(m, preds, false) {
				fail(d.ID, fmt.Sprintf(MsgCannotBeEmpty, label(d)))
			}
			continue
		}
		if msg := checkNumber(d, v); msg != "" {
			fail(d.ID, msg)
		}
	}
	for _, r := range m.def.rules {
		if path, msg := r(m); msg != "" {
			fail(path, msg)
		}
	}

	for path, msg := range prev {
		if m.errors.validation[path] != msg {
			m.errors.notify(path, m.errors.Get(path))
		}
	}
	for path := range m.errors.validation {
		if _, ok := prev[path]; !ok {
			m.errors.notify(path, m.errors.Get(path))
		}
	}
	return first
}

// applies reports whether a field takes part in validation for the
// session's mode, server and current visibility.
func (m *Model) applies(d *schema.Descriptor) bool {
	info := m.arena.info
	if !d.InMode(m.arena.mode) || !d.InVersion(info.Version()) || !d.ForServerType(info.ServerType()) {
		return false
	}
	return d.VisiblePredicate().Eval(m, m.arena.defs.preds, true)
}

func label(d *schema.Descriptor) string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID
}

func checkNumber(d *schema.Descriptor, v any) string {
	var pattern *regexp.Regexp
	var msg string
	switch d.Type {
	case "int":
		pattern, msg = integerPattern, MsgMustBeInteger
	case "numeric":
		pattern, msg = numericPattern, MsgMustBeNumeric
	default:
		return ""
	}
	s := fmt.Sprint(normalize(v))
	if f, ok := normalize(v).(float64); ok {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if !pattern.MatchString(s) {
		return fmt.Sprintf(msg, label(d))
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Sprintf(msg, label(d))
	}
	if d.Min != nil && f < *d.Min {
		return fmt.Sprintf(MsgMustBeGreater, label(d), *d.Min)
	}
	if d.Max != nil && f > *d.Max {
		return fmt.Sprintf(MsgMustBeLess, label(d), *d.Max)
	}
	return ""
}

// Valid reports whether the whole session is valid: the top model's
// Validate passes and no model in the tree carries an error message.
// It revalidates every attached model.
func (a *Arena) Valid() (bool, string) {
	top := a.Top()
	if top == nil {
		return false, ""
	}
	msg := ""
	a.Walk(func(m *Model) {
		if m == top {
			return
		}
		if got := m.Validate(); got != "" && msg == "" {
			msg = got
		}
	})
	rootMsg := top.Validate()
	if rootMsg != "" {
		msg = rootMsg
	}
	valid := rootMsg == ""
	a.Walk(func(m *Model) {
		if !m.errors.Empty() {
			valid = false
		}
	})
	if !valid && msg == "" {
		for _, p := range top.errors.Paths() {
			msg = top.errors.Get(p)
			break
		}
	}
	return valid, msg
}
