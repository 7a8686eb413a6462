// Package formatter converts between the raw values stored on a model and
// the values shown by a control.
package formatter

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

var (
	// ErrInvalid marks a display value that cannot be converted back into a
	// raw value. The write is blocked and the message shown on the field.
	ErrInvalid = errors.New("invalid value")
	// ErrUnknownFormatter is returned when a schema names an unregistered
	// formatter.
	ErrUnknownFormatter = errors.New("formatter: unknown formatter")
)

// Model is the part of a model a formatter may consult.
type Model interface {
	Get(path string) any
}

// Formatter converts a raw model value to its display form and back.
type Formatter interface {
	FromRaw(raw any, m Model) any
	ToRaw(display any, m Model) (any, error)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Identity passes values through unchanged.
type Identity struct{}

func (Identity) FromRaw(raw any, _ Model) any { return raw }
func (Identity) ToRaw(display any, _ Model) (any, error) { return display, nil }

// JSON shows structured values as JSON text.
type JSON struct{}

func (JSON) FromRaw(raw any, _ Model) any {
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func (JSON) ToRaw(display any, _ Model) (any, error) {
	s, ok := display.(string)
	if !ok {
		return display, nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, invalid("not valid JSON")
	}
	return out, nil
}

// CSV shows a list of strings as comma separated text.
type CSV struct{}

func (CSV) FromRaw(raw any, _ Model) any {
	switch v := raw.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(v))
		for i, x := range v {
			parts[i] = fmt.Sprint(x)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	}
	return fmt.Sprint(raw)
}

func (CSV) ToRaw(display any, _ Model) (any, error) {
	switch v := display.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return v, nil
	case string:
		out := []any{}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}
	return nil, invalid("expected a comma separated list")
}

// Integer accepts whole numbers typed as text.
type Integer struct{}

func (Integer) FromRaw(raw any, _ Model) any {
	if raw == nil {
		return ""
	}
	if f, ok := raw.(float64); ok && f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(raw)
}

func (Integer) ToRaw(display any, _ Model) (any, error) {
	switch v := display.(type) {
	case nil:
		return nil, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return nil, invalid("must be an integer")
		}
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, invalid("must be an integer")
		}
		return n, nil
	}
	return nil, invalid("must be an integer")
}

// Numeric accepts decimal numbers typed as text.
type Numeric struct{}

func (Numeric) FromRaw(raw any, _ Model) any {
	if raw == nil {
		return ""
	}
	if f, ok := raw.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(raw)
}

func (Numeric) ToRaw(display any, _ Model) (any, error) {
	switch v := display.(type) {
	case nil:
		return nil, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, invalid("must be a number")
		}
		return f, nil
	}
	return nil, invalid("must be a number")
}

// Boolean accepts booleans and their text forms.
type Boolean struct{}

func (Boolean) FromRaw(raw any, _ Model) any {
	b, _ := raw.(bool)
	return b
}

func (Boolean) ToRaw(display any, _ Model) (any, error) {
	switch v := display.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			if v == "on" {
				return true, nil
			}
			return nil, invalid("must be true or false")
		}
		return b, nil
	}
	return nil, invalid("must be true or false")
}

// DateLayout is the display layout of the date formatter.
const DateLayout = "2006-01-02"

// Date keeps dates as YYYY-MM-DD strings and rejects anything else.
type Date struct{}

func (Date) FromRaw(raw any, _ Model) any {
	switch v := raw.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(DateLayout)
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.Format(DateLayout)
		}
		return v
	}
	return fmt.Sprint(raw)
}

func (Date) ToRaw(display any, _ Model) (any, error) {
	s, ok := display.(string)
	if !ok {
		return nil, invalid("must be a date")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, invalid("must be a date in YYYY-MM-DD format")
	}
	return t.Format(DateLayout), nil
}

// Registry maps formatter names to implementations.
type Registry struct {
	byName map[string]Formatter
}

// NewRegistry returns a registry holding the built-in formatters.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Formatter{
		"":         Identity{},
		"identity": Identity{},
		"json":     JSON{},
		"csv":      CSV{},
		"integer":  Integer{},
		"numeric":  Numeric{},
		"boolean":  Boolean{},
		"date":     Date{},
	}}
}

// Register adds a formatter under name.
func (r *Registry) Register(name string, f Formatter) {
	r.byName[name] = f
}

// Lookup resolves a formatter name.
func (r *Registry) Lookup(name string) (Formatter, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormatter, name)
	}
	return f, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		if n != "" {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
