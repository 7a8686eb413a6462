package form

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/pgform/internal/control"
	"github.com/matthewbaird/pgform/internal/event"
	"github.com/matthewbaird/pgform/internal/model"
	"github.com/matthewbaird/pgform/internal/options"
	"github.com/matthewbaird/pgform/internal/persist"
	"github.com/matthewbaird/pgform/internal/schema"
)

func testNodes() []*schema.Node {
	all := schema.Static(true)
	return []*schema.Node{
		{
			Name:     "column",
			Label:    "Column",
			Keys:     []string{"attname"},
			Defaults: map[string]any{"attnotnull": false},
			Schema: []schema.Descriptor{
				{ID: "attname", Label: "Name", Type: "text"},
				{ID: "datatype", Label: "Data type", Type: "options", Options: []schema.Option{
					{Label: "integer", Value: "integer"},
					{Label: "text", Value: "text"},
				}},
				{ID: "attnotnull", Label: "Not NULL?", Type: "switch"},
			},
		},
		{
			Name: "constraint_column",
			Keys: []string{"column"},
			Schema: []schema.Descriptor{
				{ID: "column", Label: "Column", Type: "text", Ref: &schema.Reference{Collection: "columns", Attr: "attname", Rename: true}},
			},
		},
		{
			Name: "index_constraint",
			Schema: []schema.Descriptor{
				{ID: "name", Label: "Name", Type: "text"},
				{ID: "columns", Label: "Columns", Type: schema.TypeCollection, Model: "constraint_column",
					RemoveWhenEmpty: true, CanAdd: all, CanDelete: all},
			},
		},
		{
			Name:  "table",
			Label: "Table",
			Schema: []schema.Descriptor{
				{ID: "advanced", Label: "Advanced", Type: schema.TypeGroup},
				{ID: "name", Label: "Name", Type: "text", Required: all},
				{ID: "relowner", Label: "Owner", Type: "options", URL: "roles", CacheLevel: schema.LevelDatabase},
				{ID: "like_relation", Label: "Like", Type: "text", Mode: []string{schema.ModeCreate}},
				{ID: "is_partitioned", Label: "Partitioned", Type: "switch"},
				{ID: "spcname", Label: "Tablespace", Type: "text", Group: "advanced",
					Disabled: schema.When(schema.Rule{Field: "is_partitioned", Operator: "truthy"}),
					Deps:     []string{"is_partitioned"}},
				{ID: "fillfactor", Label: "Fill factor", Type: "int", Group: "advanced", MinVersion: 90500},
				{ID: "columns", Label: "Columns", Type: schema.TypeCollection, Model: "column",
					CanAdd: all, CanEdit: all, CanDelete: all, Columns: []string{"attname", "datatype"}},
				{ID: "unique_constraint", Label: "Unique constraints", Type: schema.TypeCollection, Model: "index_constraint",
					CanAdd: all, CanEdit: all, CanDelete: all},
			},
		},
	}
}

func testDefinitions(t *testing.T) *model.Definitions {
	t.Helper()
	defs := model.NewDefinitions(schema.NewPredicates())
	for _, n := range testNodes() {
		_, err := defs.Add(n)
		require.NoError(t, err)
	}
	require.NoError(t, defs.AddRule("column", func(m *model.Model) (string, string) {
		if schema.IsEmpty(m.Get("attname")) {
			return "attname", "Column name cannot be empty."
		}
		return "", ""
	}))
	require.NoError(t, defs.AddRule("column", func(m *model.Model) (string, string) {
		if schema.IsEmpty(m.Get("datatype")) {
			return "datatype", "Column type cannot be empty."
		}
		return "", ""
	}))
	return defs
}

func testInfo() *schema.NodeInfo {
	return &schema.NodeInfo{
		Server:   &schema.Server{ID: 1, Version: 90400, Type: "pg", User: schema.User{Name: "postgres"}},
		Database: &schema.Object{ID: 5, Name: "app"},
	}
}

type fixture struct {
	orch *Orchestrator
	defs *model.Definitions
	rec  *event.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	defs := testDefinitions(t)
	reg := control.NewRegistry(nil, defs.Predicates())
	loader := options.NewCache(options.Static{"roles": {{Label: "alice", Value: "alice"}}}, time.Minute)
	rec := &event.Recorder{}
	return &fixture{orch: NewOrchestrator(reg, defs, loader, rec), defs: defs, rec: rec}
}

func (fx *fixture) open(t *testing.T, mode string, attrs map[string]any) *Form {
	t.Helper()
	a := model.NewArena(fx.defs, testInfo(), mode)
	m, err := a.NewTop("table", attrs)
	require.NoError(t, err)
	f, err := fx.orch.Open(context.Background(), m)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func keys(f *Form) []string {
	var out []string
	for _, c := range f.Controls() {
		out = append(out, f.Key(c))
	}
	return out
}

func TestOpen_FiltersByModeAndVersion(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeEdit, map[string]any{"oid": float64(1), "name": "t"})

	assert.NotContains(t, keys(f), "like_relation")
	assert.NotContains(t, keys(f), "fillfactor", "requires a newer server")
	assert.Contains(t, keys(f), "spcname")

	create := fx.open(t, schema.ModeCreate, nil)
	assert.Contains(t, keys(create), "like_relation")
}

func TestBuild_ExcludedFieldRegistersNoListeners(t *testing.T) {
	fx := newFixture(t)
	entries := func(withCreateOnly bool) []schema.Descriptor {
		out := []schema.Descriptor{{ID: "name", Label: "Name", Type: "text"}}
		if withCreateOnly {
			out = append(out, schema.Descriptor{ID: "like_relation", Type: "text", Mode: []string{schema.ModeCreate}})
		}
		return out
	}
	count := func(withCreateOnly bool) int {
		a := model.NewArena(fx.defs, testInfo(), schema.ModeEdit)
		m, err := a.NewTop("table", map[string]any{"oid": float64(1)})
		require.NoError(t, err)
		f, err := fx.orch.Build(context.Background(), entries(withCreateOnly), m, schema.ModeEdit)
		require.NoError(t, err)
		defer f.Close()
		assert.Len(t, f.Controls(), 1)
		return m.ListenerCount()
	}
	assert.Equal(t, count(false), count(true))
}

func TestBuild_DuplicatePathFirstWins(t *testing.T) {
	fx := newFixture(t)
	a := model.NewArena(fx.defs, testInfo(), schema.ModeEdit)
	m, err := a.NewTop("table", map[string]any{"oid": float64(1)})
	require.NoError(t, err)
	f, err := fx.orch.Build(context.Background(), []schema.Descriptor{
		{ID: "name", Label: "Name (properties)", Type: "text", Mode: []string{schema.ModeProperties}},
		{ID: "name", Label: "Name", Type: "text"},
		{ID: "name", Label: "Again", Type: "text"},
	}, m, schema.ModeEdit)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, f.Controls(), 1)
	assert.Equal(t, "Name", f.Controls()[0].Field().Label)
	assert.Equal(t, []string{"name"}, f.Layout().Skipped)
}

func TestBuild_DuplicatePathAcrossNestedFieldset(t *testing.T) {
	fx := newFixture(t)
	a := model.NewArena(fx.defs, testInfo(), schema.ModeEdit)
	m, err := a.NewTop("table", map[string]any{"oid": float64(1)})
	require.NoError(t, err)
	f, err := fx.orch.Build(context.Background(), []schema.Descriptor{
		{ID: "name", Label: "Name", Type: "text"},
		{ID: "extra", Label: "Extra", Type: schema.TypeNested, Schema: []schema.Descriptor{
			{ID: "name", Label: "Nested name", Type: "text"},
			{ID: "fillfactor", Label: "Fill factor", Type: "int"},
		}},
	}, m, schema.ModeEdit)
	require.NoError(t, err)
	defer f.Close()

	bound := 0
	for c := range f.keys {
		if c.Field().Name == "name" {
			bound++
			assert.Equal(t, "Name", c.Field().Label)
		}
	}
	assert.Equal(t, 1, bound)
	assert.Equal(t, []string{"name"}, f.Layout().Skipped)
	_, err = f.Control("fillfactor")
	assert.NoError(t, err)
}

func TestBuild_UnknownControlAbortsWithoutLeaks(t *testing.T) {
	fx := newFixture(t)
	a := model.NewArena(fx.defs, testInfo(), schema.ModeCreate)
	m, err := a.NewTop("table", nil)
	require.NoError(t, err)
	f, err := fx.orch.Build(context.Background(), []schema.Descriptor{
		{ID: "name", Type: "text"},
		{ID: "spcname", Control: "tablespace-picker"},
	}, m, schema.ModeCreate)
	assert.ErrorIs(t, err, control.ErrUnknownControl)
	assert.Nil(t, f)
	assert.Zero(t, m.ListenerCount())
}

func TestForm_DependencyReRender(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, nil)
	c, err := f.Control("spcname")
	require.NoError(t, err)
	assert.False(t, c.Node().Has("disabled"))

	require.NoError(t, f.Model().Set("is_partitioned", true))
	assert.True(t, c.Node().Has("disabled"), "re-rendered on change of a declared dependency")
}

func TestForm_ValidityGatesSave(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, nil)
	assert.False(t, f.Valid())
	assert.Equal(t, "'Name' cannot be empty.", f.Message())
	assert.True(t, f.View().FindClass("save").Has("disabled"))

	saved := false
	p := persist.ProviderFunc(func(context.Context, persist.Request) (persist.Result, error) {
		saved = true
		return persist.Result{Success: true}, nil
	})
	_, err := f.Save(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidForm)
	assert.False(t, saved)

	require.NoError(t, f.Change("name", "orders"))
	assert.True(t, f.Valid())
	assert.False(t, f.View().FindClass("save").Has("disabled"))
	c, _ := f.Control("name")
	assert.Equal(t, "orders", c.Node().FindAttr("name", "name").Attr("value"))
}

func TestForm_EndToEndColumns(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{"name": "orders"})

	row, err := f.AddRow("columns", map[string]any{"attname": "id", "datatype": "integer"})
	require.NoError(t, err)
	require.Len(t, f.Model().Collection("columns").Models(), 1)
	assert.Empty(t, row.Validate())
	assert.True(t, f.Valid())

	var got persist.Request
	res, err := f.Save(context.Background(), persist.ProviderFunc(func(_ context.Context, req persist.Request) (persist.Result, error) {
		got = req
		return persist.Result{Success: true, Data: map[string]any{"oid": 16384}}, nil
	}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []any{map[string]any{"attname": "id", "datatype": "integer", "attnotnull": false}}, got.Payload["columns"])
	assert.Equal(t, model.StateSaved, f.Model().State())
	assert.True(t, f.Closed())
	assert.Zero(t, f.Model().ListenerCount())
	assert.Len(t, fx.rec.OfType(event.TypeSaved), 1)
}

func TestForm_RowValidationBlocksSave(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{"name": "orders"})

	_, err := f.AddRow("columns", map[string]any{})
	require.NoError(t, err)
	assert.False(t, f.Valid())
	assert.Equal(t, "Column name cannot be empty.", f.Message())
}

func TestForm_DuplicateRowRejected(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{"name": "orders"})

	_, err := f.AddRow("columns", map[string]any{"attname": "id", "datatype": "integer"})
	require.NoError(t, err)
	_, err = f.AddRow("columns", map[string]any{"attname": "id", "datatype": "text"})
	assert.ErrorIs(t, err, model.ErrDuplicate)
	assert.Equal(t, 1, f.Model().Collection("columns").Len())

	c, _ := f.Control("columns")
	assert.Equal(t, model.DuplicateMessage, c.Node().FindClass("error-message").Text)
}

func TestForm_RemoveRowCascades(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{
		"name": "orders",
		"columns": []any{
			map[string]any{"attname": "id", "datatype": "integer"},
			map[string]any{"attname": "code", "datatype": "text"},
		},
		"unique_constraint": []any{
			map[string]any{"name": "orders_pk", "columns": []any{map[string]any{"column": "id"}}},
		},
	})
	id := f.Model().Collection("columns").At(0)
	require.NoError(t, f.RemoveRow("columns", id.ID()))
	assert.Equal(t, 0, f.Model().Collection("unique_constraint").Len())
	assert.Equal(t, 1, f.Model().Collection("columns").Len())
}

func TestForm_EditRow(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{"name": "orders"})
	row, err := f.AddRow("columns", map[string]any{"attname": "id"})
	require.NoError(t, err)

	ks, err := f.EditRow("columns", row.ID())
	require.NoError(t, err)
	require.NotEmpty(t, ks)
	before := f.Bound()

	require.NoError(t, f.Change(ks[1], "text"))
	assert.Equal(t, "text", row.Get("datatype"))
	assert.True(t, f.Valid())

	require.NoError(t, f.RemoveRow("columns", row.ID()))
	assert.Less(t, f.Bound(), before)
	_, err = f.Control(ks[0])
	assert.ErrorIs(t, err, ErrUnknownControl)
}

func TestForm_AsyncOptions(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, nil)
	c, err := f.Control("relowner")
	require.NoError(t, err)
	assert.NotNil(t, c.Node().FindClass("pending"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	assert.Nil(t, c.Node().FindClass("pending"))
	assert.NotNil(t, c.Node().FindAttr("value", "alice"))
}

func TestForm_SaveFailureKeepsFormUsable(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, map[string]any{"name": "orders"})

	_, err := f.Save(context.Background(), persist.ProviderFunc(func(context.Context, persist.Request) (persist.Result, error) {
		return persist.Result{}, errors.New("connection reset")
	}))
	require.Error(t, err)
	res, err := f.Save(context.Background(), persist.ProviderFunc(func(context.Context, persist.Request) (persist.Result, error) {
		return persist.Result{Success: false, ErrorMsg: "relation \"orders\" already exists"}, nil
	}))
	assert.ErrorIs(t, err, ErrSaveRejected)
	assert.False(t, res.Success)
	assert.Len(t, fx.rec.OfType(event.TypeSaveFailed), 2)

	assert.False(t, f.Closed())
	require.NoError(t, f.Change("name", "orders2"))
	assert.Equal(t, "orders2", f.Model().Get("name"))
}

func TestForm_EditModeSendsChangesOnly(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeEdit, map[string]any{"oid": float64(16384), "name": "orders", "spcname": "pg_default"})
	require.NoError(t, f.Change("name", "orders_v2"))

	var got persist.Request
	_, err := f.Save(context.Background(), persist.ProviderFunc(func(_ context.Context, req persist.Request) (persist.Result, error) {
		got = req
		return persist.Result{Success: true}, nil
	}))
	require.NoError(t, err)
	assert.Equal(t, "orders_v2", got.Payload["name"])
	assert.NotContains(t, got.Payload, "spcname")
	assert.Equal(t, float64(16384), got.ObjectID)
}

func TestForm_PropertiesCannotSave(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeProperties, map[string]any{"oid": float64(1), "name": "orders"})
	_, err := f.Save(context.Background(), persist.ProviderFunc(func(context.Context, persist.Request) (persist.Result, error) {
		return persist.Result{Success: true}, nil
	}))
	assert.True(t, IsNotPermitted(err))
	assert.ErrorIs(t, f.Change("name", "x"), control.ErrNotPermitted)
}

func TestForm_CancelReleasesEverything(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, nil)
	assert.NotZero(t, f.Model().ListenerCount())

	f.Cancel()
	assert.Equal(t, model.StateDiscarded, f.Model().State())
	assert.Zero(t, f.Model().ListenerCount())
	assert.Zero(t, f.Bound())
	assert.ErrorIs(t, f.Change("name", "x"), ErrClosed)
	assert.Len(t, fx.rec.OfType(event.TypeCancelled), 1)
}

func TestForm_ViewGroups(t *testing.T) {
	fx := newFixture(t)
	f := fx.open(t, schema.ModeCreate, nil)
	v := f.Render()

	assert.Equal(t, "Table", v.FindClass("form-title").Text)
	adv := v.FindAttr("data-group", "advanced")
	require.NotNil(t, adv)
	assert.Equal(t, "Advanced", adv.Attr("data-label"))
	general := v.FindAttr("data-group", schema.DefaultGroup)
	require.NotNil(t, general)
	assert.NotNil(t, general.FindAttr("data-field", "name"))
}

func TestOrchestrator_LayoutCached(t *testing.T) {
	fx := newFixture(t)
	l1, err := fx.orch.Layout("table", schema.ModeEdit, testInfo())
	require.NoError(t, err)
	l2, err := fx.orch.Layout("table", schema.ModeEdit, testInfo())
	require.NoError(t, err)
	assert.Same(t, l1, l2)

	_, err = fx.orch.Layout("nope", schema.ModeEdit, testInfo())
	assert.ErrorIs(t, err, model.ErrUnknownDefinition)
}

func TestLint(t *testing.T) {
	fx := newFixture(t)
	assert.Empty(t, fx.orch.Lint())

	_, err := fx.defs.Add(&schema.Node{
		Name: "broken",
		Schema: []schema.Descriptor{
			{ID: "a", Type: "text", Deps: []string{"missing"}},
			{ID: "b", Type: "text", Disabled: schema.When(schema.Rule{Field: "a", Operator: "empty"})},
			{ID: "c", Control: "nope"},
			{ID: "acl", Type: schema.TypeUniqueCol, Model: "column", UniqueCol: []string{"grantee"}},
			{ID: "ref", Type: "text", Ref: &schema.Reference{Collection: "nowhere"}},
		},
	})
	require.NoError(t, err)
	issues := fx.orch.Lint()
	var msgs []string
	for _, i := range issues {
		msgs = append(msgs, i.String())
	}
	assert.Contains(t, msgs, `error: broken.a: depends on unknown attribute "missing"`)
	assert.Contains(t, msgs, `warning: broken.b: predicate reads "a" which is not listed in deps`)
	assert.Contains(t, msgs, `error: broken.acl: unique column "grantee" is not a field of the rows`)
	assert.Contains(t, msgs, `error: broken.ref: references unknown collection "nowhere"`)
	assert.Contains(t, msgs, `error: broken [create]: c: control: unknown control: "nope"`)
}

func TestQueue(t *testing.T) {
	q := newQueue()
	var ran []int
	q.Post(func() {
		ran = append(ran, 1)
		q.Post(func() { ran = append(ran, 2) })
	})
	<-q.Ready()
	assert.Equal(t, 2, q.Flush())
	assert.Equal(t, []int{1, 2}, ran)

	q.Post(func() { ran = append(ran, 3) })
	q.Drain()
	assert.Zero(t, q.Flush())
}
