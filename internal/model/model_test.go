package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/pgform/internal/keypath"
	"github.com/matthewbaird/pgform/internal/schema"
)

func ptr(f float64) *float64 { return &f }

func testDefinitions(t *testing.T) *Definitions {
	t.Helper()
	defs := NewDefinitions(nil)
	nodes := []*schema.Node{
		{
			Name:        "column",
			IDAttribute: "attnum",
			Keys:        []string{"attname"},
			Defaults:    map[string]any{"attnotnull": false},
			Schema: []schema.Descriptor{
				{ID: "attname", Label: "Name", Type: "text"},
				{ID: "datatype", Label: "Data type", Type: "options"},
				{ID: "attlen", Label: "Length", Type: "int", Min: ptr(1), Max: ptr(1000)},
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
				{ID: "columns", Type: schema.TypeCollection, Model: "constraint_column", RemoveWhenEmpty: true},
			},
		},
		{
			Name: "privilege",
			Keys: []string{"grantee", "grantor"},
			Schema: []schema.Descriptor{
				{ID: "grantee", Type: "text"},
				{ID: "grantor", Type: "text"},
			},
		},
		{
			Name:        "table",
			IDAttribute: "oid",
			Schema: []schema.Descriptor{
				{ID: "name", Label: "Name", Type: "text", Required: schema.Static(true)},
				{ID: "relowner", Label: "Owner", Type: "text"},
				{ID: "fillfactor", Label: "Fill factor", Type: "int", Min: ptr(10), Max: ptr(100), Mode: []string{schema.ModeEdit}},
				{ID: "autovacuum", Label: "Autovacuum", Type: "nested", Schema: []schema.Descriptor{
					{ID: "autovacuum.enabled", Type: "switch"},
				}},
				{ID: "columns", Type: schema.TypeCollection, Model: "column"},
				{ID: "unique_constraint", Type: schema.TypeCollection, Model: "index_constraint"},
				{ID: "acl", Type: schema.TypeUniqueCol, Model: "privilege"},
			},
		},
	}
	for _, n := range nodes {
		_, err := defs.Add(n)
		require.NoError(t, err)
	}
	require.NoError(t, defs.AddRule("column", func(m *Model) (string, string) {
		if schema.IsEmpty(m.Get("attname")) {
			return "attname", "Column name cannot be empty."
		}
		return "", ""
	}))
	require.NoError(t, defs.AddRule("column", func(m *Model) (string, string) {
		if schema.IsEmpty(m.Get("datatype")) {
			return "datatype", "Column type cannot be empty."
		}
		return "", ""
	}))
	require.NoError(t, defs.SetInitializer("table", func(_ *Model, info *schema.NodeInfo) map[string]any {
		return map[string]any{"relowner": info.Server.User.Name}
	}))
	return defs
}

func testInfo() *schema.NodeInfo {
	return &schema.NodeInfo{
		Server: &schema.Server{ID: 1, Version: 120000, Type: "pg", User: schema.User{Name: "postgres"}},
		Schema: &schema.Object{ID: 2200, Name: "public"},
	}
}

func newTable(t *testing.T, mode string, attrs map[string]any) *Model {
	t.Helper()
	a := NewArena(testDefinitions(t), testInfo(), mode)
	m, err := a.NewTop("table", attrs)
	require.NoError(t, err)
	return m
}

func TestArena_SingleTop(t *testing.T) {
	a := NewArena(testDefinitions(t), testInfo(), schema.ModeCreate)
	top, err := a.NewTop("table", nil)
	require.NoError(t, err)
	assert.True(t, top.IsTop())

	_, err = a.NewTop("table", nil)
	assert.ErrorIs(t, err, ErrRootExists)

	row, err := top.Collection("columns").Add(map[string]any{"attname": "id"})
	require.NoError(t, err)
	assert.Same(t, top, row.TopModel())
	assert.Same(t, top, row.Handler())
	assert.False(t, row.IsTop())
}

func TestArena_UnknownNode(t *testing.T) {
	a := NewArena(testDefinitions(t), testInfo(), schema.ModeCreate)
	_, err := a.NewTop("view", nil)
	assert.ErrorIs(t, err, ErrUnknownDefinition)
}

func TestModel_NewRecordDefaults(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	assert.Equal(t, "postgres", m.Get("relowner"))
	assert.Equal(t, StateNew, m.State())
	assert.True(t, m.IsNew())

	// Defaults are not applied over provided attributes and do not run
	// for non-empty input.
	m = newTable(t, schema.ModeCreate, map[string]any{"name": "t1"})
	assert.Nil(t, m.Get("relowner"))
}

func TestModel_DefaultsAreSilent(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	events := 0
	m.On(EventChange, func(Event) { events++ })
	row, err := m.Collection("columns").Add(map[string]any{"attname": "id"})
	require.NoError(t, err)
	assert.Equal(t, false, row.Get("attnotnull"))
	// One change for the collection itself, none for defaults.
	assert.Equal(t, 1, events)
}

func TestModel_SetNoopWhenUnchanged(t *testing.T) {
	m := newTable(t, schema.ModeCreate, map[string]any{"name": "t1"})
	calls := 0
	m.On(ChangeEvent("name"), func(Event) { calls++ })

	require.NoError(t, m.Set("name", "t1"))
	assert.Equal(t, 0, calls)
	require.NoError(t, m.Set("name", "t2"))
	assert.Equal(t, 1, calls)
}

func TestModel_SetPathPreservesSiblings(t *testing.T) {
	m := newTable(t, schema.ModeCreate, map[string]any{
		"autovacuum": map[string]any{"enabled": true, "threshold": 50.0},
	})
	require.NoError(t, m.SetPath(keypath.MustParse("autovacuum.threshold"), 10.0))
	assert.Equal(t, true, m.Get("autovacuum.enabled"))
	assert.Equal(t, 10.0, m.Get("autovacuum.threshold"))
}

func TestModel_ReentrantWriteTerminates(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	calls := 0
	m.On(ChangeEvent("name"), func(ev Event) {
		calls++
		_ = m.Set("name", ev.Value)
	})
	require.NoError(t, m.Set("name", "t1"))
	assert.Equal(t, 1, calls)
}

func TestModel_NoWritesAfterClose(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	require.NoError(t, m.Set("name", "t1"))
	assert.Equal(t, StateEditing, m.State())

	m.MarkSaved()
	assert.Equal(t, StateSaved, m.State())
	assert.ErrorIs(t, m.Set("name", "t2"), ErrClosed)
	_, err := m.Collection("columns").Add(map[string]any{"attname": "id"})
	assert.ErrorIs(t, err, ErrClosed)

	d := newTable(t, schema.ModeCreate, nil)
	d.Discard()
	assert.ErrorIs(t, d.Set("name", "x"), ErrClosed)
}

func TestCollection_Uniqueness(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	acl := m.Collection("acl")

	_, err := acl.Add(map[string]any{"grantee": "alice", "grantor": "bob"})
	require.NoError(t, err)
	_, err = acl.Add(map[string]any{"grantee": "alice", "grantor": "bob"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, acl.Len())
	assert.Equal(t, DuplicateMessage, m.Errors().Get("acl"))

	// A distinct row clears the rejected-add message.
	_, err = acl.Add(map[string]any{"grantee": "alice", "grantor": "carol"})
	require.NoError(t, err)
	assert.Equal(t, "", m.Errors().Get("acl"))
}

func TestCollection_KeyEditCannotDuplicate(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	cols := m.Collection("columns")
	_, err := cols.Add(map[string]any{"attname": "id"})
	require.NoError(t, err)
	second, err := cols.Add(map[string]any{"attname": "name"})
	require.NoError(t, err)

	err = second.Set("attname", "id")
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "name", second.Get("attname"))
	assert.Equal(t, DuplicateMessage, second.Errors().Get("attname"))

	require.NoError(t, second.Set("attname", "label"))
	assert.Equal(t, "", second.Errors().Get("attname"))
}

func TestCollection_UniquenessAcrossSequences(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	acl := m.Collection("acl")
	ops := []struct {
		add     bool
		grantee string
	}{
		{true, "a"}, {true, "b"}, {true, "a"}, {false, "a"}, {true, "a"}, {true, "b"}, {false, "b"}, {true, "b"},
	}
	for _, op := range ops {
		if op.add {
			_, _ = acl.Add(map[string]any{"grantee": op.grantee, "grantor": "x"})
			continue
		}
		for _, row := range acl.Models() {
			if row.Get("grantee") == op.grantee {
				require.NoError(t, acl.Remove(row))
			}
		}
	}
	seen := map[any]bool{}
	for _, row := range acl.Models() {
		key := row.Get("grantee")
		assert.False(t, seen[key], "duplicate grantee %v", key)
		seen[key] = true
	}
	assert.Equal(t, 2, acl.Len())
}

func TestCollection_CascadeOnRemove(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	cols := m.Collection("columns")
	id, err := cols.Add(map[string]any{"attname": "id", "datatype": "integer"})
	require.NoError(t, err)

	uc, err := m.Collection("unique_constraint").Add(map[string]any{"name": "uq_id"})
	require.NoError(t, err)
	_, err = uc.Collection("columns").Add(map[string]any{"column": "id"})
	require.NoError(t, err)

	require.NoError(t, cols.Remove(id))
	assert.Equal(t, 0, cols.Len())
	assert.Equal(t, 0, m.Collection("unique_constraint").Len())
}

func TestCollection_CascadeKeepsPartiallyReferencedRows(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	cols := m.Collection("columns")
	a, _ := cols.Add(map[string]any{"attname": "a"})
	_, _ = cols.Add(map[string]any{"attname": "b"})

	uc, _ := m.Collection("unique_constraint").Add(map[string]any{"name": "uq_ab"})
	_, _ = uc.Collection("columns").Add(map[string]any{"column": "a"})
	_, _ = uc.Collection("columns").Add(map[string]any{"column": "b"})

	require.NoError(t, cols.Remove(a))
	require.Equal(t, 1, m.Collection("unique_constraint").Len())
	remaining := uc.Collection("columns").ToJSON()
	assert.Equal(t, []any{map[string]any{"column": "b"}}, remaining)
}

func TestCollection_RenamePropagates(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	col, _ := m.Collection("columns").Add(map[string]any{"attname": "id"})
	uc, _ := m.Collection("unique_constraint").Add(map[string]any{"name": "uq"})
	_, _ = uc.Collection("columns").Add(map[string]any{"column": "id"})

	require.NoError(t, col.Set("attname", "ident"))
	assert.Equal(t, "ident", uc.Collection("columns").At(0).Get("column"))
}

func TestCollection_RenameCollisionFlagsReference(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	col, _ := m.Collection("columns").Add(map[string]any{"attname": "a"})
	uc, _ := m.Collection("unique_constraint").Add(map[string]any{"name": "uq"})
	refs := uc.Collection("columns")
	ref, err := refs.Add(map[string]any{"column": "a"})
	require.NoError(t, err)
	_, err = refs.Add(map[string]any{"column": "x"})
	require.NoError(t, err)

	require.NoError(t, col.Set("attname", "x"))
	assert.Equal(t, "a", ref.Get("column"))
	assert.Equal(t, DuplicateMessage, ref.Errors().Get("column"))
	assert.Equal(t, 2, refs.Len())
}

func TestCollection_ChangeBubblesToTop(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	col, _ := m.Collection("columns").Add(map[string]any{"attname": "id"})
	fired := 0
	m.On(ChangeEvent("columns"), func(Event) { fired++ })
	require.NoError(t, col.Set("datatype", "text"))
	assert.Equal(t, 1, fired)
}

func TestModel_ValidationOrdering(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	col, err := m.Collection("columns").Add(map[string]any{"attlen": 10})
	require.NoError(t, err)

	msg := col.Validate()
	assert.Equal(t, "Column name cannot be empty.", msg)
	assert.Equal(t, "Column type cannot be empty.", col.Errors().Get("datatype"))

	require.NoError(t, col.Set("attname", "id"))
	assert.Equal(t, "Column type cannot be empty.", col.Validate())
	require.NoError(t, col.Set("datatype", "integer"))
	assert.Equal(t, "", col.Validate())
	assert.True(t, col.Errors().Empty())
}

func TestModel_NumericValidation(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	col, _ := m.Collection("columns").Add(map[string]any{"attname": "id", "datatype": "varchar"})

	require.NoError(t, col.Set("attlen", "abc"))
	assert.Equal(t, "'Length' must be an integer.", col.Validate())
	require.NoError(t, col.Set("attlen", int64(0)))
	assert.Equal(t, "'Length' must be greater than or equal to 1.", col.Validate())
	require.NoError(t, col.Set("attlen", 5000.0))
	assert.Equal(t, "'Length' must be less than or equal to 1000.", col.Validate())
	require.NoError(t, col.Set("attlen", 32.0))
	assert.Equal(t, "", col.Validate())
}

func TestModel_RequiredAndModeFiltering(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	assert.Equal(t, "'Name' cannot be empty.", m.Validate())

	// fillfactor only applies in edit mode and is ignored here.
	require.NoError(t, m.Set("name", "t1"))
	require.NoError(t, m.Set("fillfactor", 5.0))
	assert.Equal(t, "", m.Validate())

	e := newTable(t, schema.ModeEdit, map[string]any{"oid": 1, "name": "t1", "fillfactor": 5.0})
	assert.Equal(t, "'Fill factor' must be greater than or equal to 10.", e.Validate())
}

func TestModel_ValidationNotifiesErrorListeners(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	var got []string
	m.Errors().On(ChangeEvent("name"), func(ev Event) { got = append(got, ev.Value.(string)) })

	m.Validate()
	m.Validate()
	require.NoError(t, m.Set("name", "t1"))
	m.Validate()
	assert.Equal(t, []string{"'Name' cannot be empty.", ""}, got)
}

func TestArena_Valid(t *testing.T) {
	m := newTable(t, schema.ModeCreate, map[string]any{"name": "t1"})
	valid, _ := m.Arena().Valid()
	assert.True(t, valid)

	_, err := m.Collection("columns").Add(map[string]any{"attname": "id"})
	require.NoError(t, err)
	valid, msg := m.Arena().Valid()
	assert.False(t, valid)
	assert.Equal(t, "Column type cannot be empty.", msg)
}

func TestModel_ToJSON(t *testing.T) {
	m := newTable(t, schema.ModeCreate, map[string]any{"name": "t1"})
	_, err := m.Collection("columns").Add(map[string]any{"attname": "id", "datatype": "integer"})
	require.NoError(t, err)

	out := m.ToJSON()
	assert.Equal(t, "t1", out["name"])
	assert.Equal(t, []any{map[string]any{"attname": "id", "datatype": "integer", "attnotnull": false}}, out["columns"])
	assert.Equal(t, []any{}, out["acl"])
	for _, k := range []string{"top", "collection", "handler"} {
		_, ok := out[k]
		assert.False(t, ok, k)
	}
}

func TestModel_SessionJSON(t *testing.T) {
	m := newTable(t, schema.ModeEdit, map[string]any{
		"oid":  16400.0,
		"name": "t1",
		"columns": []any{
			map[string]any{"attnum": 1.0, "attname": "id", "datatype": "integer"},
			map[string]any{"attnum": 2.0, "attname": "note", "datatype": "text"},
		},
	})
	assert.False(t, m.IsNew())
	assert.False(t, m.SessionChanged())

	cols := m.Collection("columns")
	require.NoError(t, m.Set("name", "t2"))
	require.NoError(t, cols.At(0).Set("datatype", "bigint"))
	require.NoError(t, cols.Remove(cols.At(1)))
	_, err := cols.Add(map[string]any{"attname": "created", "datatype": "date"})
	require.NoError(t, err)

	delta := m.SessionJSON()
	assert.Equal(t, 16400.0, delta["oid"])
	assert.Equal(t, "t2", delta["name"])
	colDelta := delta["columns"].(map[string]any)
	assert.Len(t, colDelta["added"], 1)
	assert.Equal(t, []any{map[string]any{"attnum": 1.0, "datatype": "bigint"}}, colDelta["changed"])
	assert.Len(t, colDelta["deleted"], 1)
	_, hasACL := delta["acl"]
	assert.False(t, hasACL)
}

func TestCollection_RemoveThenAddRestores(t *testing.T) {
	m := newTable(t, schema.ModeEdit, map[string]any{
		"oid":     1.0,
		"columns": []any{map[string]any{"attnum": 1.0, "attname": "id", "datatype": "integer"}},
	})
	cols := m.Collection("columns")
	row := cols.At(0)
	require.NoError(t, cols.Remove(row))
	back, err := cols.Add(map[string]any{"attname": "id"})
	require.NoError(t, err)
	assert.Same(t, row, back)
	assert.Nil(t, cols.SessionJSON())
}

func TestCollection_HasEmptyRow(t *testing.T) {
	m := newTable(t, schema.ModeCreate, nil)
	acl := m.Collection("acl")
	assert.False(t, acl.HasEmptyRow())
	_, err := acl.Add(nil)
	require.NoError(t, err)
	assert.True(t, acl.HasEmptyRow())
}

func TestCollection_MultipleEmptyRowsAllowed(t *testing.T) {
	defs := NewDefinitions(nil)
	_, err := defs.Add(&schema.Node{
		Name:   "privilege",
		Schema: []schema.Descriptor{{ID: "grantee", Type: "text"}, {ID: "grantor", Type: "text"}},
	})
	require.NoError(t, err)
	_, err = defs.Add(&schema.Node{
		Name: "role",
		Schema: []schema.Descriptor{
			{ID: "acl", Type: schema.TypeUniqueCol, Model: "privilege",
				UniqueCol: []string{"grantee", "grantor"}, AllowMultipleEmptyRows: true},
		},
	})
	require.NoError(t, err)
	m, err := NewArena(defs, testInfo(), schema.ModeCreate).NewTop("role", nil)
	require.NoError(t, err)
	acl := m.Collection("acl")

	first, err := acl.Add(nil)
	require.NoError(t, err)
	second, err := acl.Add(map[string]any{"grantee": ""})
	require.NoError(t, err)
	assert.Equal(t, 2, acl.Len())
	assert.Equal(t, "", m.Errors().Get("acl"))

	require.NoError(t, second.Set("grantee", "alice"))
	require.NoError(t, second.Set("grantee", ""), "clearing a key back to empty is allowed")

	require.NoError(t, first.Set("grantee", "bob"))
	_, err = acl.Add(map[string]any{"grantee": "bob"})
	assert.ErrorIs(t, err, ErrDuplicate, "non-empty keys stay unique")
}

func TestErrorModel_EmptyInputMessageClears(t *testing.T) {
	errs := newErrorModel()
	var got []string
	errs.On(ChangeEvent("name"), func(ev Event) { got = append(got, ev.Attr) })

	errs.SetInput("name", "bad")
	assert.False(t, errs.Empty())
	errs.SetInput("name", "")
	assert.True(t, errs.Empty())
	assert.Equal(t, "", errs.Get("name"))
	assert.Len(t, got, 2)

	errs.SetInput("other", "")
	assert.True(t, errs.Empty())
}

func TestEmitter_Unsubscribe(t *testing.T) {
	var e Emitter
	calls := 0
	sub := e.On("x", func(Event) { calls++ })
	e.On("x", func(Event) { sub.Unsubscribe() })
	e.Emit(Event{Name: "x"})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, e.Count())
	e.Emit(Event{Name: "x"})
	assert.Equal(t, 1, calls)
	sub.Unsubscribe()
}
