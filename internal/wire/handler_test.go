package wire

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/eventbus"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/session"
)

type testOpener struct {
	orch     *form.Orchestrator
	sessions *session.Manager
}

func (o *testOpener) Open(ctx context.Context, req OpenData) (*session.Session, error) {
	m, err := model.NewArena(o.orch.Definitions(), req.Info, req.Mode).NewTop(req.Node, req.Data)
	if err != nil {
		return nil, err
	}
	f, err := o.orch.Open(ctx, m)
	if err != nil {
		return nil, err
	}
	return o.sessions.Add(f), nil
}

type harness struct {
	sessions *session.Manager
	mu       sync.Mutex
	saved    []persist.Request
	conn     *websocket.Conn
	ctx      context.Context
}

func newHarness(t *testing.T, bus *eventbus.Bus, result persist.Result) *harness {
	t.Helper()
	defs := model.NewDefinitions(nil)
	_, err := defs.Add(&schema.Node{Name: "grant", Keys: []string{"grantee"}, Schema: []schema.Descriptor{
		{ID: "grantee", Label: "Grantee", Type: "text"},
	}})
	require.NoError(t, err)
	_, err = defs.Add(&schema.Node{Name: "schema", Label: "Schema", Schema: []schema.Descriptor{
		{ID: "name", Label: "Name", Type: "text", Required: schema.Static(true)},
		{ID: "acl", Label: "Privileges", Type: schema.TypeCollection, Model: "grant",
			CanAdd: schema.Static(true), CanDelete: schema.Static(true), CanEdit: schema.Static(true)},
	}})
	require.NoError(t, err)

	h := &harness{sessions: session.NewManager(time.Hour, time.Hour)}
	orch := form.NewOrchestrator(control.NewRegistry(nil, defs.Predicates()), defs, options.NewCache(options.Static{}, 0), bus)
	saver := persist.ProviderFunc(func(_ context.Context, req persist.Request) (persist.Result, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.saved = append(h.saved, req)
		return result, nil
	})
	srv := httptest.NewServer(NewHandler(&testOpener{orch: orch, sessions: h.sessions}, h.sessions, saver, bus))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	h.conn, h.ctx = conn, ctx
	return h
}

func (h *harness) send(t *testing.T, typ, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(h.ctx, h.conn, ClientMessage{Type: typ, ID: id, Data: raw}))
}

type received struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

// next reads messages until one of type typ arrives.
func (h *harness) next(t *testing.T, typ string) received {
	t.Helper()
	for {
		var msg received
		require.NoError(t, wsjson.Read(h.ctx, h.conn, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func decode[T any](t *testing.T, msg received) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

func TestWire_DialogRoundTrip(t *testing.T) {
	h := newHarness(t, nil, persist.Result{Success: true, Data: map[string]any{"id": "01J"}})

	h.send(t, "open", "1", OpenData{Node: "schema", Mode: schema.ModeCreate, Info: &schema.NodeInfo{}})
	sess := decode[SessionData](t, h.next(t, "session"))
	assert.Equal(t, "schema", sess.Node)
	view := decode[ViewData](t, h.next(t, "view"))
	assert.False(t, view.Valid)
	assert.Equal(t, "'Name' cannot be empty.", view.Message)
	assert.Contains(t, view.HTML, `data-field="name"`)

	h.send(t, "change", "2", ChangeData{Key: "name", Value: "sales"})
	view = decode[ViewData](t, h.next(t, "view"))
	assert.True(t, view.Valid)

	h.send(t, "add_row", "3", RowData{Key: "acl", Values: map[string]any{"grantee": "alice"}})
	row := decode[RowResult](t, h.next(t, "row"))
	assert.NotZero(t, row.Row)
	h.next(t, "view")

	h.send(t, "add_row", "4", RowData{Key: "acl", Values: map[string]any{"grantee": "alice"}})
	errData := decode[ErrorData](t, h.next(t, "error"))
	assert.Equal(t, "duplicate", errData.Code)
	view = decode[ViewData](t, h.next(t, "view"))
	assert.Contains(t, view.HTML, model.DuplicateMessage)

	h.send(t, "save", "5", nil)
	saved := decode[SavedData](t, h.next(t, "saved"))
	assert.True(t, saved.Result.Success)
	h.next(t, "closed")

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.saved, 1)
	assert.Equal(t, "sales", h.saved[0].Payload["name"])
	assert.Zero(t, h.sessions.Len())
}

func TestWire_RequiresOpenDialog(t *testing.T) {
	h := newHarness(t, nil, persist.Result{Success: true})
	h.send(t, "change", "1", ChangeData{Key: "name", Value: "x"})
	assert.Equal(t, "no_dialog", decode[ErrorData](t, h.next(t, "error")).Code)

	h.send(t, "open", "2", OpenData{Node: "nope", Mode: schema.ModeCreate})
	assert.Equal(t, "open_error", decode[ErrorData](t, h.next(t, "error")).Code)

	h.send(t, "ping", "3", nil)
	assert.Equal(t, "3", h.next(t, "pong").RequestID)
}

func TestWire_SaveRejectedForwardsNotification(t *testing.T) {
	bus := eventbus.New(16)
	bus.Start(context.Background())
	t.Cleanup(bus.Stop)
	h := newHarness(t, bus, persist.Result{Success: false, ErrorMsg: "schema \"sales\" already exists"})

	h.send(t, "open", "1", OpenData{Node: "schema", Mode: schema.ModeCreate, Data: map[string]any{"name": "sales"}})
	h.next(t, "view")
	h.send(t, "save", "2", nil)
	assert.Equal(t, "save_rejected", decode[ErrorData](t, h.next(t, "error")).Code)

	var n event.Notification
	for n.Type != event.TypeSaveFailed {
		n = decode[event.Notification](t, h.next(t, "notification"))
	}
	assert.Equal(t, "schema \"sales\" already exists", n.Message)
	assert.Equal(t, 1, h.sessions.Len(), "the dialog stays open after a failed save")

	h.send(t, "cancel", "3", nil)
	h.next(t, "closed")
	assert.Zero(t, h.sessions.Len())
}
