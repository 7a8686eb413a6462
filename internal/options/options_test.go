package options

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/pgform/internal/schema"
)

func testInfo() *schema.NodeInfo {
	return &schema.NodeInfo{
		Server:   &schema.Server{ID: 1, Version: 160000, Type: "pg"},
		Database: &schema.Object{ID: 5, Name: "postgres"},
		Schema:   &schema.Object{ID: 2200, Name: "public"},
	}
}

func TestCacheKey(t *testing.T) {
	req := Request{Node: "table", URL: "get_roles", Level: schema.LevelDatabase, Info: testInfo()}
	assert.Equal(t, "table#get_roles/server/1/database/5", req.CacheKey())

	req.Params = map[string]string{"b": "2", "a": "1"}
	assert.Equal(t, "table#get_roles/server/1/database/5?a=1&b=2", req.CacheKey())

	req.Level = schema.LevelServer
	req.Params = nil
	assert.Equal(t, "table#get_roles/server/1", req.CacheKey())

	// Without a level the list is scoped to the whole node info.
	req.Level = ""
	assert.Equal(t, "table#get_roles/server/1/database/5/schema/2200", req.CacheKey())
}

func TestScopeParams(t *testing.T) {
	req := Request{Level: schema.LevelSchema, Info: testInfo(), Params: map[string]string{"x": "y"}}
	assert.Equal(t, map[string]string{"server": "1", "database": "5", "schema": "2200", "x": "y"}, req.ScopeParams())
}

func TestStatic(t *testing.T) {
	s := Static{"roles": {{Label: "postgres", Value: "postgres"}}}
	opts, err := s.Fetch(context.Background(), "roles", nil)
	require.NoError(t, err)
	require.Len(t, opts, 1)

	opts[0].Label = "changed"
	again, _ := s.Fetch(context.Background(), "roles", nil)
	assert.Equal(t, "postgres", again[0].Label)

	_, err = s.Fetch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecode(t *testing.T) {
	opts, err := Decode([]byte(`[{"label":"A","value":1},{"name":"b"}]`))
	require.NoError(t, err)
	assert.Equal(t, []schema.Option{{Label: "A", Value: float64(1)}, {Label: "b", Value: "b"}}, opts)

	opts, err = Decode([]byte(`{"data":[{"label":"X","value":"x","disabled":true}]}`))
	require.NoError(t, err)
	assert.Equal(t, []schema.Option{{Label: "X", Value: "x", Disabled: true}}, opts)

	_, err = Decode([]byte(`"nope"`))
	assert.Error(t, err)
}

func TestHTTPProvider(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/roles":
			assert.Equal(t, "5", r.URL.Query().Get("database"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":[{"label":"postgres","value":"postgres"}]}`))
		case "/flaky":
			if calls.Load() == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte(`[{"label":"ok","value":"ok"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, WithClient(srv.Client()))
	opts, err := p.Fetch(context.Background(), "roles", map[string]string{"database": "5"})
	require.NoError(t, err)
	assert.Equal(t, []schema.Option{{Label: "postgres", Value: "postgres"}}, opts)

	calls.Store(0)
	opts, err = p.Fetch(context.Background(), "/flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", opts[0].Label)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	_, err = p.Fetch(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestCacheReusesWithinScope(t *testing.T) {
	p := Static{"roles": {{Label: "postgres", Value: "postgres"}}}
	c := NewCache(p, time.Minute)
	req := Request{Node: "table", URL: "roles", Level: schema.LevelDatabase, Info: testInfo()}

	_, err := c.Load(context.Background(), req)
	require.NoError(t, err)
	_, err = c.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Fetches())

	other := testInfo()
	other.Database.ID = 6
	req.Info = other
	_, err = c.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Fetches())

	c.Invalidate(req)
	_, _ = c.Load(context.Background(), req)
	assert.Equal(t, int64(3), c.Fetches())

	c.Purge()
	_, _ = c.Load(context.Background(), req)
	assert.Equal(t, int64(4), c.Fetches())
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	p := ProviderFunc(func(context.Context, string, map[string]string) ([]schema.Option, error) {
		if fail.Load() {
			return nil, errors.New("boom")
		}
		return []schema.Option{{Label: "a", Value: "a"}}, nil
	})
	c := NewCache(p, 0)
	req := Request{Node: "n", URL: "u", Info: testInfo()}

	_, err := c.Load(context.Background(), req)
	require.Error(t, err)

	fail.Store(false)
	opts, err := c.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, opts, 1)
}

func TestCacheCoalesces(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, string, map[string]string) ([]schema.Option, error) {
		calls.Add(1)
		<-release
		return []schema.Option{{Label: "a", Value: "a"}}, nil
	})
	c := NewCache(p, time.Minute)
	req := Request{Node: "n", URL: "u", Info: testInfo()}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts, err := c.Load(context.Background(), req)
			assert.NoError(t, err)
			assert.Len(t, opts, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(5))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	_, err := c.Load(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(calls.Load()), c.Fetches())
}
