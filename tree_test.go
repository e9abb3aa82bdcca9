package bulkmap

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------
// Tag parsing
// --------------------------------

// TestParseFieldTag covers names, options and malformed tags.
func TestParseFieldTag(t *testing.T) {
	ft, err := parseFieldTag("")
	require.NoError(t, err)
	require.False(t, ft.declares)

	ft, err = parseFieldTag("-")
	require.NoError(t, err)
	require.True(t, ft.skip)

	ft, err = parseFieldTag("city, offset=4 ,optional,label=eu")
	require.NoError(t, err)
	require.True(t, ft.declares)
	require.Equal(t, "city", ft.name)
	require.Equal(t, 4, ft.offset)
	require.True(t, ft.optional)
	require.Equal(t, "eu", ft.label)

	d, ok := ft.declaration()
	require.True(t, ok)
	require.Equal(t, Optional, d.optionality)
	require.Equal(t, "eu", d.label)

	ft, err = parseFieldTag(",noexpand,notnull")
	require.NoError(t, err)
	require.False(t, ft.declares, "traversal options alone declare no mapping")
	require.True(t, ft.noExpand)
	require.True(t, ft.noNullCheck)
	require.Equal(t, Unresolved, ft.offset)

	_, err = parseFieldTag("x,offset=abc")
	require.ErrorContains(t, err, "invalid offset")
	_, err = parseFieldTag("x,offset=-2")
	require.ErrorContains(t, err, "invalid offset")
	_, err = parseFieldTag("x,bogus")
	require.ErrorContains(t, err, "unknown tag option")
}

// --------------------------------
// Leaf classification
// --------------------------------

type scanOnly struct{ s string }

func (v *scanOnly) Scan(any) error { return nil }

// TestIsLeafType checks which types terminate mapping.
func TestIsLeafType(t *testing.T) {
	leaves := []any{
		true, int8(1), 1, uint64(1), 1.5, "s", []byte("b"), time.Time{},
		sql.NullString{}, new(int), new(string), new(time.Time), new(sql.NullInt64),
	}
	for _, v := range leaves {
		assert.True(t, isLeafType(reflect.TypeOf(v)), "%T should be a leaf", v)
	}

	nonLeaves := []any{
		struct{ A int }{}, &struct{ A int }{}, []int{}, map[string]int{}, [4]int{}, scanOnly{},
	}
	for _, v := range nonLeaves {
		assert.False(t, isLeafType(reflect.TypeOf(v)), "%T should not be a leaf", v)
	}
}

// TestIsNullableLeaf decides which leaves accept a default.
func TestIsNullableLeaf(t *testing.T) {
	assert.True(t, isNullableLeaf(reflect.TypeOf(new(int))))
	assert.True(t, isNullableLeaf(reflect.TypeOf("")))
	assert.True(t, isNullableLeaf(reflect.TypeOf([]byte(nil))))
	assert.False(t, isNullableLeaf(reflect.TypeOf(0)))
	assert.False(t, isNullableLeaf(reflect.TypeOf(false)))
	assert.False(t, isNullableLeaf(reflect.TypeOf(time.Time{})))
	assert.False(t, isNullableLeaf(reflect.TypeOf(sql.NullString{})))
}

// --------------------------------
// Traversal
// --------------------------------

type treeGeo struct {
	Lat, Lng float64
}

type treeAddress struct {
	Street string
	City   string
	Geo    *treeGeo
}

type treeCustomer struct {
	ID       int64
	Name     string
	Address  treeAddress
	Tags     []string
	Attrs    map[string]string
	Any      any
	OnChange func()
	secret   string
	Ignored  string `db:"-"`
}

// TestBuildTree_BreadthFirstOrderAndDepth verifies BFS over declaration order,
// depths, and that collections, funcs, unexported and ignored fields are skipped.
func TestBuildTree_BreadthFirstOrderAndDepth(t *testing.T) {
	diags := &diagnostics{}
	tree, err := buildTree(reflect.TypeOf(treeCustomer{}), testTarget, NewRegistry(), diags)
	require.NoError(t, err)

	var paths []string
	var depths []int
	for _, l := range tree.leaves {
		paths = append(paths, l.path.String())
		depths = append(depths, l.depth)
	}
	require.Equal(t, []string{"ID", "Name", "Address.Street", "Address.City", "Address.Geo.Lat", "Address.Geo.Lng"}, paths)
	require.Equal(t, []int{1, 1, 2, 2, 3, 3}, depths)
	require.Empty(t, diags.list)

	typ := reflect.TypeOf(treeCustomer{})
	for _, skipped := range []string{"secret", "OnChange", "Ignored", "Tags", "Attrs", "Any"} {
		_, ok := typ.FieldByName(skipped)
		require.True(t, ok, "treeCustomer.%s must exist", skipped)
		for _, p := range paths {
			require.NotContains(t, strings.Split(p, "."), skipped)
		}
	}
}

// TestBuildTree_PointerRoot normalizes pointer record types.
func TestBuildTree_PointerRoot(t *testing.T) {
	tree, err := buildTree(reflect.TypeOf(&treeAddress{}), testTarget, NewRegistry(), &diagnostics{})
	require.NoError(t, err)
	require.Equal(t, reflect.TypeOf(treeAddress{}), tree.typ)
	require.Len(t, tree.leaves, 4)
}

// TestBuildTree_NotStruct rejects non-struct record types.
func TestBuildTree_NotStruct(t *testing.T) {
	_, err := buildTree(reflect.TypeOf(42), testTarget, NewRegistry(), &diagnostics{})
	require.ErrorIs(t, err, ErrNotStruct)
}

type cycleNode struct {
	Name string
	Next *cycleNode
	Meta cycleMeta
}

type cycleMeta struct {
	Tag   string
	Owner *cycleNode
}

// TestBuildTree_CycleTruncated drops branches whose type already appears on
// the path instead of expanding them forever.
func TestBuildTree_CycleTruncated(t *testing.T) {
	diags := &diagnostics{}
	tree, err := buildTree(reflect.TypeOf(cycleNode{}), testTarget, NewRegistry(), diags)
	require.NoError(t, err)
	require.Len(t, tree.leaves, 2)
	require.Equal(t, "Name", tree.leaves[0].path.String())
	require.Equal(t, "Meta.Tag", tree.leaves[1].path.String())

	require.Equal(t, 2, diags.count(CycleTruncated))
	require.Equal(t, "Next", diags.list[0].Path)
	require.Equal(t, "Meta.Owner", diags.list[1].Path)
}

type noExpandInner struct{ X int }

type noExpandOuter struct {
	A noExpandInner `db:",noexpand"`
	B noExpandInner
	C *noExpandInner
}

// TestBuildTree_NoExpand honors the tag and registry options.
func TestBuildTree_NoExpand(t *testing.T) {
	reg := NewRegistry()
	reg.SetOptions(PathOf[noExpandOuter]("C"), PathOptions{NoExpand: true})

	tree, err := buildTree(reflect.TypeOf(noExpandOuter{}), testTarget, reg, &diagnostics{})
	require.NoError(t, err)
	require.Len(t, tree.leaves, 1)
	require.Equal(t, "B.X", tree.leaves[0].path.String())
}

// TestBuildTree_RootNoExpand yields no leaves when the root is not expandable.
func TestBuildTree_RootNoExpand(t *testing.T) {
	reg := NewRegistry()
	reg.SetOptions(PathOf[noExpandOuter](), PathOptions{NoExpand: true})
	tree, err := buildTree(reflect.TypeOf(noExpandOuter{}), testTarget, reg, &diagnostics{})
	require.NoError(t, err)
	require.Empty(t, tree.leaves)
}

type candOrder struct {
	City string `db:"city_tag"`
}

// TestBuildTree_CandidatesOverridesFirst puts registry overrides ahead of the
// tag declaration and filters by label.
func TestBuildTree_CandidatesOverridesFirst(t *testing.T) {
	reg := NewRegistry()
	reg.Register(PathOf[candOrder]("City"), MapName("city_override"))
	reg.Register(PathOf[candOrder]("City"), MapName("city_eu").ForLabel("eu"))

	tree, err := buildTree(reflect.TypeOf(candOrder{}), testTarget, reg, &diagnostics{})
	require.NoError(t, err)
	require.Len(t, tree.leaves, 1)
	var names []string
	for _, c := range tree.leaves[0].candidates {
		names = append(names, c.name)
	}
	require.Equal(t, []string{"city_override", "city_tag"}, names)

	tree, err = buildTree(reflect.TypeOf(candOrder{}), TargetTable{Label: "eu", Table: testTable}, reg, &diagnostics{})
	require.NoError(t, err)
	names = names[:0]
	for _, c := range tree.leaves[0].candidates {
		names = append(names, c.name)
	}
	require.Equal(t, []string{"city_override", "city_eu", "city_tag"}, names)
}

type labelledTag struct {
	A int `db:"a,label=archive"`
}

// TestBuildTree_TagLabel applies labelled tags only to matching targets.
func TestBuildTree_TagLabel(t *testing.T) {
	tree, err := buildTree(reflect.TypeOf(labelledTag{}), testTarget, NewRegistry(), &diagnostics{})
	require.NoError(t, err)
	require.Empty(t, tree.leaves[0].candidates)

	tree, err = buildTree(reflect.TypeOf(labelledTag{}), TargetTable{Label: "archive", Table: testTable}, NewRegistry(), &diagnostics{})
	require.NoError(t, err)
	require.Len(t, tree.leaves[0].candidates, 1)
}

// --------------------------------
// Declaration validation
// --------------------------------

type declScalar struct {
	N     int
	P     *int
	S     string
	B     []byte
	T     time.Time
	Inner *struct{ Q *int64 }
}

// TestNormalizeDefault accepts defaults for nullable leaves of a compatible
// type and rejects everything else.
func TestNormalizeDefault(t *testing.T) {
	typ := reflect.TypeOf(declScalar{})
	field := func(name string) reflect.Type {
		f, _ := typ.FieldByName(name)
		return f.Type
	}

	v, err := normalizeDefault(field("P"), 7)
	require.NoError(t, err)
	require.Equal(t, 7, v)

	v, err = normalizeDefault(field("P"), ptr(8))
	require.NoError(t, err)
	require.Equal(t, 8, v)

	v, err = normalizeDefault(field("P"), (*int)(nil))
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = normalizeDefault(field("S"), "n/a")
	require.NoError(t, err)
	require.Equal(t, "n/a", v)

	v, err = normalizeDefault(field("B"), []byte{1})
	require.NoError(t, err)
	require.Equal(t, []byte{1}, v)

	_, err = normalizeDefault(field("N"), 3)
	require.ErrorContains(t, err, "non-nullable")
	_, err = normalizeDefault(field("T"), time.Now())
	require.ErrorContains(t, err, "non-nullable")
	_, err = normalizeDefault(field("P"), "seven")
	require.ErrorContains(t, err, "not assignable")
	_, err = normalizeDefault(field("P"), int64(7))
	require.ErrorContains(t, err, "not assignable")
}

// TestBuildTree_InvalidDefault fails eagerly, before any schema access.
func TestBuildTree_InvalidDefault(t *testing.T) {
	reg := NewRegistry()
	reg.Register(PathOf[declScalar]("Inner", "Q"), MapName("q").WithDefault("wrong"))

	p := &countingProvider{cols: ColumnsOf("q")}
	c := NewCache(p, WithRegistry(reg))
	_, err := Get[declScalar](context.Background(), c, testTarget)
	require.ErrorIs(t, err, ErrMappingDeclaration)

	var mde *MappingDeclarationError
	require.True(t, errors.As(err, &mde))
	require.Equal(t, "Inner.Q", mde.Path)
	require.Contains(t, err.Error(), "declScalar")
	require.Contains(t, err.Error(), testTable)
	require.EqualValues(t, 0, p.calls.Load(), "schema must not be fetched")
}

type badTag struct {
	A int `db:"a,offset=x"`
}

// TestBuildTree_BadTag reports malformed tags as declaration errors.
func TestBuildTree_BadTag(t *testing.T) {
	_, err := buildTree(reflect.TypeOf(badTag{}), testTarget, NewRegistry(), &diagnostics{})
	require.ErrorIs(t, err, ErrMappingDeclaration)
	require.ErrorContains(t, err, "invalid offset")
}
