package bulkmap

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type taLine struct {
	SKU   string
	Qty   int
	Price *float64
}

type taOrder struct {
	ID   int64
	Note string
	Line taLine
}

var taCols = []Column{
	{Ordinal: 0, Name: "id"},
	{Ordinal: 1, Name: "created_at", ReadOnly: true},
	{Ordinal: 2, Name: "note"},
	{Ordinal: 3, Name: "sku"},
	{Ordinal: 4, Name: "spare"},
	{Ordinal: 5, Name: "qty"},
}

// TestTypeAccessor_Lookups covers the offset and name indexes.
func TestTypeAccessor_Lookups(t *testing.T) {
	ta := mustBuild[taOrder](t, nil, taCols)

	require.Equal(t, reflect.TypeOf(taOrder{}), ta.Type())
	require.Equal(t, testTarget, ta.Target())
	require.Equal(t, 4, ta.FieldCount())

	name, ok := ta.NameForOffset(3)
	require.True(t, ok)
	require.Equal(t, "sku", name)
	_, ok = ta.NameForOffset(1)
	require.False(t, ok, "read-only column is never mapped")

	off, ok := ta.OffsetForName("QTY")
	require.True(t, ok)
	require.Equal(t, 5, off)
	off, ok = ta.OffsetForName("spare")
	require.False(t, ok)
	require.Equal(t, Unresolved, off)

	m, ok := ta.Mapping(5)
	require.True(t, ok)
	require.Equal(t, ColumnMapping{Name: "qty", Offset: 5, Optionality: Optional, Path: "Line.Qty", Implicit: true}, m)
	_, ok = ta.Mapping(4)
	require.False(t, ok)
}

// TestTypeAccessor_AccessorNotMapped is an error, not a nil accessor.
func TestTypeAccessor_AccessorNotMapped(t *testing.T) {
	ta := mustBuild[taOrder](t, nil, taCols)
	acc, err := ta.Accessor(4)
	require.Nil(t, acc)
	require.ErrorIs(t, err, ErrOffsetNotMapped)
	require.ErrorContains(t, err, "offset 4")
}

// TestTypeAccessor_RowsAndValues reads records both densely and by offset.
func TestTypeAccessor_RowsAndValues(t *testing.T) {
	ta := mustBuild[taOrder](t, nil, taCols)
	o := taOrder{ID: 1, Note: "n", Line: taLine{SKU: "s", Qty: 2}}

	require.Equal(t, []string{"id", "note", "sku", "qty"}, ta.ColumnNames())

	vals, err := ta.Values(o)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), "n", "s", 2}, vals)

	row, err := ta.Row(&o)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), nil, "n", "s", nil, 2}, row)

	require.Equal(t, []CopyMapping{{0, 0}, {2, 2}, {3, 3}, {5, 5}}, ta.CopyMappings())

	_, err = ta.Values("not an order")
	require.ErrorIs(t, err, ErrInstanceType)
	_, err = ta.Row(42)
	require.ErrorIs(t, err, ErrInstanceType)
}

// TestTypeAccessor_ReturnsCopies keeps the accessor immutable.
func TestTypeAccessor_ReturnsCopies(t *testing.T) {
	ta := mustBuild[taOrder](t, nil, taCols)

	ms := ta.Mappings()
	ms[0].Name = "mutated"
	require.Equal(t, "id", ta.Mappings()[0].Name)

	ds := ta.Diagnostics()
	require.NotEmpty(t, ds)
	ds[0].Path = "mutated"
	require.NotEqual(t, "mutated", ta.Diagnostics()[0].Path)
}

// TestTypeAccessor_SchemaFetchedOnce shares the build-time schema fetch with
// later Schema calls.
func TestTypeAccessor_SchemaFetchedOnce(t *testing.T) {
	p := &countingProvider{cols: taCols}
	c := NewCache(p, WithRegistry(NewRegistry()))
	ta, err := Get[taOrder](context.Background(), c, testTarget)
	require.NoError(t, err)
	require.EqualValues(t, 1, p.calls.Load())

	cols, err := ta.Schema(context.Background())
	require.NoError(t, err)
	require.Equal(t, taCols, cols)
	cols[0].Name = "mutated"

	cols, err = ta.Schema(context.Background())
	require.NoError(t, err)
	require.Equal(t, "id", cols[0].Name)
	require.EqualValues(t, 1, p.calls.Load())
}

// TestTypeAccessor_SchemaFailureRemembered does not retry within one accessor.
func TestTypeAccessor_SchemaFailureRemembered(t *testing.T) {
	boom := errors.New("boom")
	p := &countingProvider{err: boom}
	ta := &TypeAccessor{typ: reflect.TypeOf(taOrder{}), target: testTarget, provider: p}

	for i := 0; i < 3; i++ {
		_, err := ta.Schema(context.Background())
		require.ErrorIs(t, err, ErrSchemaUnavailable)
		require.ErrorIs(t, err, boom)
	}
	require.EqualValues(t, 1, p.calls.Load())

	var sue *SchemaUnavailableError
	_, err := ta.Schema(context.Background())
	require.True(t, errors.As(err, &sue))
	require.Equal(t, testTarget, sue.Table)
	require.Equal(t, reflect.TypeOf(taOrder{}), sue.Type)
	require.ErrorContains(t, err, "bulkmap.taOrder -> t: boom")
}

// TestTypeAccessor_Deterministic builds identical mappings from identical input.
func TestTypeAccessor_Deterministic(t *testing.T) {
	reg := NewRegistry()
	reg.Register(PathOf[taOrder]("Line", "Price"), MapName("price").WithDefault(0.0).AsOptional())
	cols := append(append([]Column(nil), taCols...), Column{Ordinal: 6, Name: "price"})

	a := mustBuild[taOrder](t, reg, cols)
	b := mustBuild[taOrder](t, reg, cols)
	if diff := cmp.Diff(a.Mappings(), b.Mappings()); diff != "" {
		t.Fatalf("mappings differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.Diagnostics(), b.Diagnostics()); diff != "" {
		t.Fatalf("diagnostics differ (-a +b):\n%s", diff)
	}
	require.Equal(t, []string{"price"}, a.ColumnNames())
	require.Equal(t, 0.0, mustRead(t, a, 6, taOrder{}))
}
