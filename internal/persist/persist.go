// Package persist hands serialized dialogs to whatever stores them. The
// form engine only reads the success flag of a result; everything else is
// passed through to the client.
package persist

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a stored save does not exist.
var ErrNotFound = errors.New("persist: not found")

// Request is one save of a dialog.
type Request struct {
	Dialog   string         `json:"dialog,omitempty"`
	Node     string         `json:"node"`
	Mode     string         `json:"mode"`
	ObjectID any            `json:"object_id,omitempty"`
	Payload  map[string]any `json:"payload"`
}

// Result is the answer of a persistence provider.
type Result struct {
	Success  bool   `json:"success"`
	Data     any    `json:"data,omitempty"`
	ErrorMsg string `json:"errormsg,omitempty"`
}

// Provider saves serialized dialogs. A transport failure is returned as an
// error; a rejected save is a Result with Success false.
type Provider interface {
	Save(ctx context.Context, req Request) (Result, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (Result, error)

func (f ProviderFunc) Save(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
