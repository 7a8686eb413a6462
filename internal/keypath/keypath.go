// Package keypath provides typed attribute paths such as "columns.0.datatype".
//
// A Path is parsed once when a schema is loaded, so a malformed path is a
// configuration error instead of a render-time failure.
package keypath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned when a dotted path cannot be parsed.
var ErrInvalidPath = errors.New("keypath: invalid path")

// Segment addresses one level of a nested value: a map key or a slice index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path is an ordered list of segments. The first segment is always a key
// naming a top-level model attribute.
type Path []Segment

// Parse splits a dotted path. Purely numeric segments become indexes.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(raw, ".")
	p := make(Path, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, raw)
		}
		if n, err := strconv.Atoi(part); err == nil {
			if i == 0 {
				return nil, fmt.Errorf("%w: %q must start with an attribute name", ErrInvalidPath, raw)
			}
			if n < 0 {
				return nil, fmt.Errorf("%w: %q has a negative index", ErrInvalidPath, raw)
			}
			p = append(p, Segment{Index: n, IsIndex: true})
			continue
		}
		p = append(p, Segment{Key: part})
	}
	return p, nil
}

// MustParse is like Parse but panics on error. Intended for literals.
func MustParse(raw string) Path {
	p, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String joins the path back into dotted form.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, ".")
}

// Head returns the name of the top-level attribute.
func (p Path) Head() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Key
}

// Tail returns the path below the top-level attribute.
func (p Path) Tail() Path {
	if len(p) < 2 {
		return nil
	}
	return p[1:]
}

// IsSimple reports whether the path names a single attribute.
func (p Path) IsSimple() bool { return len(p) == 1 }

// Lookup walks value along the path. Missing keys and out of range indexes
// report ok=false.
func Lookup(value any, p Path) (any, bool) {
	cur := value
	for _, seg := range p {
		switch v := cur.(type) {
		case map[string]any:
			if seg.IsIndex {
				next, ok := v[seg.String()]
				if !ok {
					return nil, false
				}
				cur = next
				continue
			}
			next, ok := v[seg.Key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if !seg.IsIndex || seg.Index >= len(v) {
				return nil, false
			}
			cur = v[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Assign returns a copy of root with the value at p replaced. Every map and
// slice along the path is cloned so the caller's value and all sibling keys
// stay untouched. Missing intermediate objects are created as maps.
func Assign(root any, p Path, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	seg := p[0]
	switch v := root.(type) {
	case nil:
		if seg.IsIndex {
			return nil, fmt.Errorf("%w: index %d into missing list", ErrInvalidPath, seg.Index)
		}
		child, err := Assign(nil, p[1:], value)
		if err != nil {
			return nil, err
		}
		return map[string]any{seg.Key: child}, nil
	case map[string]any:
		out := make(map[string]any, len(v)+1)
		for k, x := range v {
			out[k] = x
		}
		key := seg.String()
		child, err := Assign(v[key], p[1:], value)
		if err != nil {
			return nil, err
		}
		out[key] = child
		return out, nil
	case []any:
		if !seg.IsIndex {
			return nil, fmt.Errorf("%w: key %q into list", ErrInvalidPath, seg.Key)
		}
		if seg.Index > len(v) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, seg.Index)
		}
		out := make([]any, len(v), len(v)+1)
		copy(out, v)
		if seg.Index == len(v) {
			out = append(out, nil)
		}
		child, err := Assign(out[seg.Index], p[1:], value)
		if err != nil {
			return nil, err
		}
		out[seg.Index] = child
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %T at %q", ErrInvalidPath, root, seg.String())
	}
}
