package persist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Save(ctx, Request{
		Dialog:  "d1",
		Node:    "table",
		Mode:    "create",
		Payload: map[string]any{"name": "orders", "columns": []any{map[string]any{"attname": "id"}}},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	id := res.Data.(map[string]any)["id"].(string)
	assert.Len(t, id, 26)

	rec, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "table", rec.Node)
	assert.Equal(t, "d1", rec.Dialog)
	assert.Equal(t, "orders", rec.Payload["name"])
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReopenKeepsSaves(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "saves.db")

	s, err := Open(ctx, "sqlite", dsn)
	require.NoError(t, err)
	res, err := s.Save(ctx, Request{Node: "column", Mode: "create", Payload: map[string]any{"attname": "id"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "sqlite", dsn)
	require.NoError(t, err, "creating the table twice")
	defer s.Close()
	rec, err := s.Get(ctx, res.Data.(map[string]any)["id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "id", rec.Payload["attname"])
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	for _, node := range []string{"table", "column", "table"} {
		_, err := s.Save(ctx, Request{Node: node, Mode: "edit", ObjectID: 16384, Payload: map[string]any{}})
		require.NoError(t, err)
	}
	all, err := s.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "table", all[0].Node)
	assert.Equal(t, "16384", all[0].ObjectID)

	tables, err := s.List(ctx, "table", 1)
	require.NoError(t, err)
	assert.Len(t, tables, 1)
}

func TestHTTPProvider(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		switch got.Node {
		case "table":
			_, _ = w.Write([]byte(`{"success":true,"data":{"oid":16384}}`))
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`oops`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"errormsg":"relation already exists"}`))
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, srv.Client())
	res, err := p.Save(context.Background(), Request{Node: "table", Mode: "create", Payload: map[string]any{"name": "t"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "t", got.Payload["name"])

	res, err = p.Save(context.Background(), Request{Node: "index", Mode: "create"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "relation already exists", res.ErrorMsg)

	_, err = p.Save(context.Background(), Request{Node: "broken", Mode: "create"})
	assert.Error(t, err)
}
