// Package server assembles all HTTP handlers and starts the server.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/eventbus"
	"github.com/matthewbaird/pgform/internal/form"
	"github.com/matthewbaird/pgform/internal/logger"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/reference"
	"github.com/matthewbaird/pgform/internal/schema"
	"github.com/matthewbaird/pgform/internal/session"
	"github.com/matthewbaird/pgform/internal/wire"
)

// Config holds server configuration.
type Config struct {
	Addr         string
	Orchestrator *form.Orchestrator
	Sessions     *session.Manager
	// Saver receives dialog saves. It defaults to Store.
	Saver   persist.Provider
	Store   *persist.Store
	Catalog *reference.Catalog
	Bus     *eventbus.Bus
}

// NewRouter registers every route of the service.
func NewRouter(cfg Config) http.Handler {
	saver := cfg.Saver
	if saver == nil && cfg.Store != nil {
		saver = cfg.Store
	}
	dialogs := NewDialogs(cfg.Orchestrator, cfg.Sessions, saver)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		nodes := &nodeHandler{orch: cfg.Orchestrator}
		r.Get("/nodes", nodes.list)
		r.Get("/nodes/{node}/layout", nodes.layout)
		r.Get("/lint", nodes.lint)

		if cfg.Catalog != nil {
			r.Get("/options/{catalog}", optionsHandler(cfg.Catalog))
		}

		r.Post("/dialogs", dialogs.create)
		r.Get("/dialogs/{id}", dialogs.get)
		r.Delete("/dialogs/{id}", dialogs.cancel)
		r.Post("/dialogs/{id}/changes", dialogs.change)
		r.Post("/dialogs/{id}/rows", dialogs.addRow)
		r.Delete("/dialogs/{id}/rows/{key}/{row}", dialogs.removeRow)
		r.Post("/dialogs/{id}/save", dialogs.save)

		if cfg.Store != nil {
			saves := &saveHandler{store: cfg.Store}
			r.Post("/persist", saves.persist)
			r.Get("/saves", saves.list)
			r.Get("/saves/{id}", saves.get)
		}
	})

	r.Handle("/ws", wire.NewHandler(dialogs, cfg.Sessions, saver, cfg.Bus))
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Default().WithField("addr", cfg.Addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type nodeHandler struct {
	orch *form.Orchestrator
}

type nodeView struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	IDAttribute string `json:"id_attribute"`
}

func (h *nodeHandler) list(w http.ResponseWriter, r *http.Request) {
	defs := h.orch.Definitions()
	out := make([]nodeView, 0)
	for _, name := range defs.Names() {
		d, _ := defs.Lookup(name)
		out = append(out, nodeView{Name: name, Label: d.Node.Label, IDAttribute: d.Node.IDAttr()})
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"data": out})
}

type fieldView struct {
	Name     string      `json:"name"`
	Label    string      `json:"label,omitempty"`
	Group    string      `json:"group,omitempty"`
	Control  string      `json:"control"`
	ReadOnly bool        `json:"read_only,omitempty"`
	Children []fieldView `json:"children,omitempty"`
}

func fieldViews(fields []*control.Field) []fieldView {
	out := make([]fieldView, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldView{
			Name:     f.Name,
			Label:    f.Label,
			Group:    f.Group,
			Control:  f.Control,
			ReadOnly: f.ReadOnly,
			Children: fieldViews(f.Children),
		})
	}
	return out
}

// layout handles GET /v1/nodes/{node}/layout. The mode, version and
// server_type query parameters select the compiled layout.
func (h *nodeHandler) layout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("mode")
	if mode == "" {
		mode = schema.ModeCreate
	}
	info := &schema.NodeInfo{Server: &schema.Server{Type: q.Get("server_type")}}
	if v := q.Get("version"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_VERSION", "invalid version: "+v)
			return
		}
		info.Server.Version = n
	}
	l, err := h.orch.Layout(chi.URLParam(r, "node"), mode, info)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"fields":  fieldViews(l.Fields),
		"groups":  l.Groups,
		"skipped": l.Skipped,
	})
}

func (h *nodeHandler) lint(w http.ResponseWriter, r *http.Request) {
	issues := h.orch.Lint()
	if issues == nil {
		issues = []form.Issue{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"data": issues})
}

func optionsHandler(c *reference.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := c.Fetch(r.Context(), chi.URLParam(r, "catalog"), nil)
		if err != nil {
			if errors.Is(err, options.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			errorToHTTP(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"data": opts})
	}
}

type saveHandler struct {
	store *persist.Store
}

// persist handles POST /v1/persist. It is the save endpoint of a remote
// HTTP persistence provider.
func (h *saveHandler) persist(w http.ResponseWriter, r *http.Request) {
	var req persist.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Node == "" {
		writeJSON(w, r, http.StatusBadRequest, persist.Result{ErrorMsg: "node is required"})
		return
	}
	res, err := h.store.Save(r.Context(), req)
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *saveHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

func (h *saveHandler) list(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.List(r.Context(), r.URL.Query().Get("node"), parseLimit(r))
	if err != nil {
		errorToHTTP(w, r, err)
		return
	}
	if recs == nil {
		recs = []persist.Record{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"data": recs})
}
