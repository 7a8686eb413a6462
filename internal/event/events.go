package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	TypeFetchError = "fetch_error"
	TypeSaveFailed = "save_failed"
	TypeSaved      = "saved"
	TypeCancelled  = "cancelled"
	TypeOpened     = "opened"
)

// Levels of a notification as shown to the user.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is a dismissible, user facing message raised by a dialog.
type Notification struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Level      string    `json:"level"`
	Dialog     string    `json:"dialog,omitempty"`
	Node       string    `json:"node,omitempty"`
	Field      string    `json:"field,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newID() string { return uuid.New().String() }

// NewFetchError reports a failed options fetch for a field.
func NewFetchError(dialog, node, field string, err error) Notification {
	return Notification{
		ID:         newID(),
		Type:       TypeFetchError,
		Level:      LevelWarning,
		Dialog:     dialog,
		Node:       node,
		Field:      field,
		Message:    fmt.Sprintf("Could not load options for %s: %v", field, err),
		OccurredAt: time.Now(),
	}
}

// NewSaveFailed reports a rejected or failed save.
func NewSaveFailed(dialog, node, msg string) Notification {
	return Notification{
		ID:         newID(),
		Type:       TypeSaveFailed,
		Level:      LevelError,
		Dialog:     dialog,
		Node:       node,
		Message:    msg,
		OccurredAt: time.Now(),
	}
}

// NewSaved reports a successful save.
func NewSaved(dialog, node, id string) Notification {
	return Notification{
		ID:         newID(),
		Type:       TypeSaved,
		Level:      LevelInfo,
		Dialog:     dialog,
		Node:       node,
		Message:    fmt.Sprintf("%s saved (%s)", node, id),
		OccurredAt: time.Now(),
	}
}

// NewLifecycle reports a dialog being opened or cancelled.
func NewLifecycle(typ, dialog, node string) Notification {
	return Notification{
		ID:         newID(),
		Type:       typ,
		Level:      LevelInfo,
		Dialog:     dialog,
		Node:       node,
		Message:    fmt.Sprintf("%s dialog %s", node, typ),
		OccurredAt: time.Now(),
	}
}
