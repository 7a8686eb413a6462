package reference

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/schema"
)

func TestBuiltin(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	assert.Equal(t, []string{"datatypes", "encodings", "roles", "schemas", "tablespaces", "variables"}, c.Names())

	opts, err := c.Fetch(context.Background(), "/v1/options/encodings", nil)
	require.NoError(t, err)
	assert.Equal(t, "UTF8", opts[0].Value)

	opts, err = c.Fetch(context.Background(), "tablespaces", nil)
	require.NoError(t, err)
	assert.Equal(t, []schema.Option{
		{Label: "pg_default", Value: "pg_default"},
		{Label: "pg_global", Value: "pg_global", Disabled: true},
	}, opts)
}

func TestFetchUnknown(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "collations", nil)
	assert.ErrorIs(t, err, options.ErrNotFound)
}

func TestLoadAndMerge(t *testing.T) {
	fsys := fstest.MapFS{
		"ref/roles.yml": {Data: []byte(`
items:
  - {code: app, name: Application, order: 2}
  - {code: admin, name: Administrator, order: 1}
  - {code: guest}
`)},
		"ref/readme.txt": {Data: []byte("ignored")},
	}
	extra, err := Load(fsys, "ref")
	require.NoError(t, err)
	assert.Equal(t, []string{"roles"}, extra.Names())

	c, err := Builtin()
	require.NoError(t, err)
	c.Merge(extra)
	d, ok := c.Lookup("roles")
	require.True(t, ok)
	assert.Equal(t, []schema.Option{
		{Label: "Administrator", Value: "admin"},
		{Label: "Application", Value: "app"},
		{Label: "guest", Value: "guest"},
	}, d.Options())
}

func TestCatalogBehindCache(t *testing.T) {
	c, err := Builtin()
	require.NoError(t, err)
	cache := options.NewCache(c, 0)
	req := options.Request{Node: "column", URL: "datatypes", Level: schema.LevelDatabase,
		Info: &schema.NodeInfo{Server: &schema.Server{ID: 1}, Database: &schema.Object{ID: 5}}}
	first, err := cache.Load(context.Background(), req)
	require.NoError(t, err)
	_, err = cache.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.EqualValues(t, 1, cache.Fetches())
}
