package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/session"
	"github.com/matthewbaird/pgform/internal/ui"
	"github.com/matthewbaird/pgform/internal/wire"
)

var errInvalidMode = errors.New("server: invalid dialog mode")

// Dialogs opens dialogs and serves them over REST. It is also the opener
// of the websocket protocol.
type Dialogs struct {
	orch     *form.Orchestrator
	sessions *session.Manager
	saver    persist.Provider
}

// NewDialogs returns a dialog service.
func NewDialogs(orch *form.Orchestrator, sessions *session.Manager, saver persist.Provider) *Dialogs {
	return &Dialogs{orch: orch, sessions: sessions, saver: saver}
}

// Open builds the model and form of a dialog and registers its session.
func (d *Dialogs) Open(ctx context.Context, req wire.OpenData) (*session.Session, error) {
	mode := req.Mode
	switch mode {
	case "":
		mode = schema.ModeCreate
	case schema.ModeCreate, schema.ModeEdit, schema.ModeProperties:
	default:
		return nil, fmt.Errorf("%w: %q", errInvalidMode, req.Mode)
	}
	m, err := model.NewArena(d.orch.Definitions(), req.Info, mode).NewTop(req.Node, req.Data)
	if err != nil {
		return nil, err
	}
	f, err := d.orch.Open(ctx, m)
	if err != nil {
		return nil, err
	}
	return d.sessions.Add(f), nil
}

type dialogView struct {
	ID      string   `json:"id"`
	Node    string   `json:"node"`
	Mode    string   `json:"mode"`
	Valid   bool     `json:"valid"`
	Message string   `json:"message,omitempty"`
	View    *ui.Node `json:"view,omitempty"`
}

func (d *Dialogs) view(s *session.Session, withTree bool) (dialogView, error) {
	v := dialogView{ID: s.ID, Node: s.Node, Mode: s.Mode}
	err := s.Do(func(f *form.Form) error {
		v.Valid, v.Message = f.Valid(), f.Message()
		if withTree {
			v.View = f.View()
		}
		return nil
	})
	return v, err
}

func (d *Dialogs) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := d.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, r, err)
		return nil, false
	}
	return s, true
}

// create handles POST /v1/dialogs.
func (d *Dialogs) create(w http.ResponseWriter, r *http.Request) {
	var req wire.OpenData
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	s, err := d.Open(r.Context(), req)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	v, err := d.view(s, false)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, v)
}

// get handles GET /v1/dialogs/{id}. With format=html the rendered dialog
// is returned as HTML.
func (d *Dialogs) get(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	v, err := d.view(s, true)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := v.View.WriteHTML(w); err != nil {
			logger.FromContext(r.Context()).WithError(err).Warn("write dialog html")
		}
		return
	}
	writeJSON(w, r, http.StatusOK, v)
}

// change handles POST /v1/dialogs/{id}/changes.
func (d *Dialogs) change(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var req wire.ChangeData
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.Do(func(f *form.Form) error { return f.Change(req.Key, req.Value) }); err != nil {
		errorToHTTP(w, r, err)
		return
	}
	d.respond(w, r, s, http.StatusOK)
}

// addRow handles POST /v1/dialogs/{id}/rows.
func (d *Dialogs) addRow(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var req wire.RowData
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	var row *model.Model
	err := s.Do(func(f *form.Form) (err error) {
		row, err = f.AddRow(req.Key, req.Values)
		return err
	})
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, wire.RowResult{Row: row.ID()})
}

// removeRow handles DELETE /v1/dialogs/{id}/rows/{key}/{row}.
func (d *Dialogs) removeRow(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "row")
	row, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ID", "invalid row id: "+raw)
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.Do(func(f *form.Form) error { return f.RemoveRow(key, model.ID(row)) }); err != nil {
		errorToHTTP(w, r, err)
		return
	}
	d.respond(w, r, s, http.StatusOK)
}

// save handles POST /v1/dialogs/{id}/save.
func (d *Dialogs) save(w http.ResponseWriter, r *http.Request) {
	if d.saver == nil {
		writeError(w, r, http.StatusServiceUnavailable, "NO_SAVER", "no persistence provider configured")
		return
	}
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	var res persist.Result
	err := s.Do(func(f *form.Form) (err error) {
		res, err = f.Save(r.Context(), d.saver)
		return err
	})
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	d.sessions.Remove(s.ID)
	writeJSON(w, r, http.StatusOK, res)
}

// cancel handles DELETE /v1/dialogs/{id}.
func (d *Dialogs) cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := d.session(w, r)
	if !ok {
		return
	}
	d.sessions.Remove(s.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dialogs) respond(w http.ResponseWriter, r *http.Request, s *session.Session, status int) {
	v, err := d.view(s, false)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, status, v)
}
