package model

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrRootExists is returned when a second top model is created in an arena.
	ErrRootExists = errors.New("model: arena already has a top model")
	// ErrNoRoot is returned when a collection member is created before the top model.
	ErrNoRoot = errors.New("model: arena has no top model")
	// ErrClosed is returned for writes after the session was saved or discarded.
	ErrClosed = errors.New("model: session is closed")
	// ErrDuplicate is returned when a row would repeat the unique key of another row.
	ErrDuplicate = errors.New("model: duplicate rows")
	// ErrNotAttribute is returned when a plain write targets a collection.
	ErrNotAttribute = errors.New("model: not a plain attribute")
	// ErrNotMember is returned when removing a model that is not in the collection.
	ErrNotMember = errors.New("model: not a member of the collection")
	// ErrUnknownDefinition is returned for an unregistered node type.
	ErrUnknownDefinition = errors.New("model: unknown definition")
)

// DuplicateMessage is the message shown for rejected duplicate rows.
const DuplicateMessage = "Duplicate rows."

// ErrorModel maps attribute paths to messages. It keeps two layers: the
// validation layer is recomputed by Validate, the input layer holds
// rejected writes and is cleared by the next accepted write to the path.
type ErrorModel struct {
	validation map[string]string
	input      map[string]string
	events     Emitter
}

func newErrorModel() *ErrorModel {
	return &ErrorModel{
		validation: make(map[string]string),
		input:      make(map[string]string),
	}
}

// On subscribes to "change:<attribute>" notifications.
func (e *ErrorModel) On(name string, fn Listener) Subscription {
	return e.events.On(name, fn)
}

// ListenerCount returns the number of listeners on the error model.
func (e *ErrorModel) ListenerCount() int { return e.events.Count() }

// Get returns the message at path, input errors first.
func (e *ErrorModel) Get(path string) string {
	if msg := e.input[path]; msg != "" {
		return msg
	}
	return e.validation[path]
}

// SetInput records a rejected write at path. An empty message clears it.
func (e *ErrorModel) SetInput(path, msg string) {
	if msg == "" {
		e.ClearInput(path)
		return
	}
	if e.input[path] == msg {
		return
	}
	e.input[path] = msg
	e.notify(path, msg)
}

// ClearInput clears the rejected write at path.
func (e *ErrorModel) ClearInput(path string) {
	if _, ok := e.input[path]; !ok {
		return
	}
	delete(e.input, path)
	e.notify(path, e.Get(path))
}

// clearValidation drops the validation layer and returns the paths that
// were set, so callers can notify only what actually changed.
func (e *ErrorModel) clearValidation() map[string]string {
	prev := e.validation
	e.validation = make(map[string]string)
	return prev
}

// Empty reports whether no message is recorded in either layer.
func (e *ErrorModel) Empty() bool {
	return len(e.validation) == 0 && len(e.input) == 0
}

// All returns every message keyed by path, input errors first.
func (e *ErrorModel) All() map[string]string {
	out := make(map[string]string, len(e.validation)+len(e.input))
	for k, v := range e.validation {
		out[k] = v
	}
	for k, v := range e.input {
		out[k] = v
	}
	return out
}

// Paths returns the paths holding a message, sorted.
func (e *ErrorModel) Paths() []string {
	all := e.All()
	out := make([]string, 0, len(all))
	for k := range all {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (e *ErrorModel) notify(path, msg string) {
	head := path
	if i := strings.IndexByte(path, '.'); i >= 0 {
		head = path[:i]
	}
	e.events.Emit(Event{Name: ChangeEvent(head), Attr: path, Value: msg})
}
