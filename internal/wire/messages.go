// Package wire defines the WebSocket protocol that drives a live dialog.
package wire

import (
	json "github.com/goccy/go-json"

	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/schema"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "open", "change", "add_row", "remove_row", "edit_row", "close_row", "save", "cancel", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// OpenData is the payload for "open" messages.
type OpenData struct {
	Node string           `json:"node"`
	Mode string           `json:"mode"`
	Data map[string]any   `json:"data,omitempty"`
	Info *schema.NodeInfo `json:"info,omitempty"`
}

// ChangeData is the payload for "change" messages.
type ChangeData struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// RowData is the payload of the row messages. Values is used by "add_row",
// Row by the others.
type RowData struct {
	Key    string         `json:"key"`
	Row    model.ID       `json:"row,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "view", "row", "saved", "notification", "closed", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// SessionData describes the dialog opened on the connection.
type SessionData struct {
	DialogID string `json:"dialog_id"`
	Node     string `json:"node"`
	Mode     string `json:"mode"`
}

// ViewData carries the rendered dialog and its validity.
type ViewData struct {
	HTML    string `json:"html"`
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

// RowResult answers "add_row" and "edit_row": the row and, for an open
// row editor, the keys of its controls.
type RowResult struct {
	Row  model.ID `json:"row"`
	Keys []string `json:"keys,omitempty"`
}

// SavedData carries the persistence result.
type SavedData struct {
	Result persist.Result `json:"result"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
