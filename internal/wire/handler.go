package wire

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/eventbus"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/session"
)

// Opener opens a dialog session.
type Opener interface {
	Open(ctx context.Context, req OpenData) (*session.Session, error)
}

// Handler manages WebSocket connections. Each connection drives at most
// one dialog at a time.
type Handler struct {
	opener   Opener
	sessions *session.Manager
	saver    persist.Provider
	bus      *eventbus.Bus
}

// NewHandler creates a WebSocket handler. bus may be nil, in which case
// notifications are not forwarded to the client.
func NewHandler(opener Opener, sessions *session.Manager, saver persist.Provider, bus *eventbus.Bus) *Handler {
	return &Handler{
		opener:   opener,
		sessions: sessions,
		saver:    saver,
		bus:      bus,
	}
}

type connection struct {
	h     *Handler
	conn  *websocket.Conn
	log   *logrus.Entry
	sess  *session.Session
	notes chan event.Notification
}

// ServeHTTP upgrades to WebSocket and runs the message loop. Client
// messages, async completions of the dialog and its notifications are
// all handled on this goroutine.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Warn("wire: websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx, log := logger.ContextWithLogger(r.Context())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgs := make(chan ClientMessage)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg ClientMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	c := &connection{h: h, conn: conn, log: log, notes: make(chan event.Notification, 16)}
	defer c.detach()

	for {
		var pending <-chan struct{}
		if c.sess != nil {
			pending = c.sess.Pending()
		}
		select {
		case msg := <-msgs:
			c.handle(ctx, msg)
		case <-pending:
			c.refresh(ctx, "")
		case n := <-c.notes:
			c.send(ctx, ServerMessage{Type: "notification", Data: n})
		case err := <-readErr:
			if status := websocket.CloseStatus(err); status != -1 {
				log.WithField("status", status).Debug("wire: connection closed")
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *connection) handle(ctx context.Context, msg ClientMessage) {
	if msg.Type == "ping" {
		c.send(ctx, ServerMessage{Type: "pong", RequestID: msg.ID})
		return
	}
	if msg.Type == "open" {
		c.open(ctx, msg)
		return
	}
	if c.sess == nil {
		c.sendError(ctx, msg.ID, "no_dialog", "no dialog is open on this connection")
		return
	}

	switch msg.Type {
	case "change":
		var data ChangeData
		if !c.decode(ctx, msg, &data) {
			return
		}
		err := c.sess.Do(func(f *form.Form) error { return f.Change(data.Key, data.Value) })
		c.result(ctx, msg.ID, err)
	case "add_row":
		var data RowData
		if !c.decode(ctx, msg, &data) {
			return
		}
		var row *model.Model
		err := c.sess.Do(func(f *form.Form) (err error) {
			row, err = f.AddRow(data.Key, data.Values)
			return err
		})
		if err == nil {
			c.send(ctx, ServerMessage{Type: "row", RequestID: msg.ID, Data: RowResult{Row: row.ID()}})
		}
		c.result(ctx, msg.ID, err)
	case "remove_row":
		var data RowData
		if !c.decode(ctx, msg, &data) {
			return
		}
		err := c.sess.Do(func(f *form.Form) error { return f.RemoveRow(data.Key, data.Row) })
		c.result(ctx, msg.ID, err)
	case "edit_row":
		var data RowData
		if !c.decode(ctx, msg, &data) {
			return
		}
		var keys []string
		err := c.sess.Do(func(f *form.Form) (err error) {
			keys, err = f.EditRow(data.Key, data.Row)
			return err
		})
		if err == nil {
			c.send(ctx, ServerMessage{Type: "row", RequestID: msg.ID, Data: RowResult{Row: data.Row, Keys: keys}})
		}
		c.result(ctx, msg.ID, err)
	case "close_row":
		var data RowData
		if !c.decode(ctx, msg, &data) {
			return
		}
		err := c.sess.Do(func(f *form.Form) error { return f.CloseRow(data.Key, data.Row) })
		c.result(ctx, msg.ID, err)
	case "save":
		c.save(ctx, msg)
	case "cancel":
		id := c.sess.ID
		c.detach()
		c.send(ctx, ServerMessage{Type: "closed", RequestID: msg.ID, Data: SessionData{DialogID: id}})
	default:
		c.sendError(ctx, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (c *connection) open(ctx context.Context, msg ClientMessage) {
	if c.sess != nil {
		c.sendError(ctx, msg.ID, "already_open", "a dialog is already open on this connection")
		return
	}
	var data OpenData
	if !c.decode(ctx, msg, &data) {
		return
	}
	sess, err := c.h.opener.Open(ctx, data)
	if err != nil {
		c.sendError(ctx, msg.ID, "open_error", err.Error())
		return
	}
	c.sess = sess
	c.log = c.log.WithField("dialog", sess.ID)
	if c.h.bus != nil {
		id := sess.ID
		c.h.bus.Subscribe("wire:"+id, eventbus.HandlerFunc(func(_ context.Context, n event.Notification) error {
			if n.Dialog != id {
				return nil
			}
			select {
			case c.notes <- n:
			default:
			}
			return nil
		}))
	}
	c.send(ctx, ServerMessage{Type: "session", RequestID: msg.ID, Data: SessionData{
		DialogID: sess.ID,
		Node:     sess.Node,
		Mode:     sess.Mode,
	}})
	c.refresh(ctx, msg.ID)
}

func (c *connection) save(ctx context.Context, msg ClientMessage) {
	var res persist.Result
	err := c.sess.Do(func(f *form.Form) (err error) {
		res, err = f.Save(ctx, c.h.saver)
		return err
	})
	if err != nil {
		c.result(ctx, msg.ID, err)
		return
	}
	id := c.sess.ID
	c.send(ctx, ServerMessage{Type: "saved", RequestID: msg.ID, Data: SavedData{Result: res}})
	c.detach()
	c.send(ctx, ServerMessage{Type: "closed", RequestID: msg.ID, Data: SessionData{DialogID: id}})
}

// detach releases the dialog of the connection, cancelling it if it is
// still open.
func (c *connection) detach() {
	if c.sess == nil {
		return
	}
	if c.h.bus != nil {
		c.h.bus.Unsubscribe("wire:" + c.sess.ID)
	}
	c.h.sessions.Remove(c.sess.ID)
	c.sess = nil
}

// result reports err, if any, and sends the refreshed view.
func (c *connection) result(ctx context.Context, requestID string, err error) {
	if err != nil {
		c.sendError(ctx, requestID, errorCode(err), err.Error())
	}
	if c.sess != nil {
		c.refresh(ctx, requestID)
	}
}

func (c *connection) refresh(ctx context.Context, requestID string) {
	var view ViewData
	err := c.sess.Do(func(f *form.Form) error {
		view = ViewData{HTML: f.View().HTML(), Valid: f.Valid(), Message: f.Message()}
		return nil
	})
	if err != nil {
		c.sendError(ctx, requestID, errorCode(err), err.Error())
		return
	}
	c.send(ctx, ServerMessage{Type: "view", RequestID: requestID, Data: view})
}

func (c *connection) decode(ctx context.Context, msg ClientMessage, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.sendError(ctx, msg.ID, "invalid_data", fmt.Sprintf("invalid %s data", msg.Type))
		return false
	}
	return true
}

func (c *connection) send(ctx context.Context, msg ServerMessage) {
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		c.log.WithError(err).Debug("wire: write error")
	}
}

func (c *connection) sendError(ctx context.Context, requestID, code, message string) {
	c.send(ctx, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}

func errorCode(err error) string {
	switch {
	case form.IsNotPermitted(err):
		return "not_permitted"
	case errors.Is(err, model.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, form.ErrInvalidForm):
		return "invalid_form"
	case errors.Is(err, form.ErrSaveRejected):
		return "save_rejected"
	case errors.Is(err, form.ErrUnknownControl):
		return "unknown_control"
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, form.ErrClosed):
		return "closed"
	}
	return "error"
}
