package bulkmap

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	valuerIface = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

// pathNode is one of *rootNode, *intermediateNode or *leafNode.
type pathNode interface {
	header() *nodeHeader
}

// nodeHeader holds the fields shared by every node variant.
type nodeHeader struct {
	typ            reflect.Type // declared result type, pointers included
	parent         pathNode     // nil for the root
	path           Path
	index          int // field index within the parent struct
	depth          int
	expandable     bool
	elideNullCheck bool
}

type rootNode struct{ nodeHeader }

type intermediateNode struct{ nodeHeader }

type leafNode struct {
	nodeHeader
	fieldName  string
	candidates []*mapping
}

func (n *rootNode) header() *nodeHeader         { return &n.nodeHeader }
func (n *intermediateNode) header() *nodeHeader { return &n.nodeHeader }
func (n *leafNode) header() *nodeHeader         { return &n.nodeHeader }

// mapping is a candidate column mapping owned by a leaf. It is mutated by the
// resolver and either finalized (offset >= 0, name set) or discarded.
type mapping struct {
	label       string
	name        string
	offset      int
	def         any
	optionality Optionality
	implicit    bool
	leaf        *leafNode
	seq         int // global discovery order, used for conflict tie-breaks
}

func (m *mapping) resolved() bool { return m.offset >= 0 && m.name != "" }

func (m *mapping) finalize() ColumnMapping {
	return ColumnMapping{
		Label:       m.label,
		Name:        m.name,
		Offset:      m.offset,
		Default:     m.def,
		Optionality: m.optionality,
		Path:        m.leaf.path.String(),
		Implicit:    m.implicit,
	}
}

// propertyTree is the scratch result of traversing a record type. It is only
// alive while a TypeAccessor is being built.
type propertyTree struct {
	typ    reflect.Type
	target TargetTable
	leaves []*leafNode // BFS discovery order
	nextID int
}

// buildTree walks t breadth-first and collects every reachable leaf with its
// candidate mappings (registry overrides first, then the `db` tag).
// Declarations are validated here, before any schema access.
func buildTree(t reflect.Type, target TargetTable, reg *Registry, diags *diagnostics) (*propertyTree, error) {
	t = canonicalStructType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %v", ErrNotStruct, t)
	}

	rootPath := NewPath(t)
	root := &rootNode{nodeHeader{
		typ:            t,
		path:           rootPath,
		index:          -1,
		expandable:     !reg.Options(rootPath).NoExpand,
		elideNullCheck: true,
	}}
	tree := &propertyTree{typ: t, target: target}

	queue := []pathNode{root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		h := n.header()
		if !h.expandable {
			continue
		}
		st := canonicalStructType(h.typ)

		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if !f.IsExported() {
				continue
			}
			tag, err := parseFieldTag(f.Tag.Get("db"))
			if err != nil {
				return nil, &MappingDeclarationError{Type: t, Table: target, Path: h.path.Child(f.Name).String(), Reason: err.Error()}
			}
			if tag.skip || ignoredType(f.Type) {
				continue
			}

			childPath := h.path.Child(f.Name)
			opts := reg.Options(childPath)
			base := nodeHeader{
				typ:            f.Type,
				parent:         n,
				path:           childPath,
				index:          i,
				depth:          h.depth + 1,
				elideNullCheck: opts.NoNullCheck || tag.noNullCheck,
			}

			if isLeafType(f.Type) {
				leaf := &leafNode{nodeHeader: base, fieldName: f.Name}
				if err := tree.collectCandidates(leaf, tag, reg); err != nil {
					return nil, err
				}
				tree.leaves = append(tree.leaves, leaf)
				continue
			}

			base.expandable = isExpandable(f.Type) && !opts.NoExpand && !tag.noExpand
			if !base.expandable {
				continue
			}
			if ancestorHasType(n, f.Type) {
				diags.add(CycleTruncated, childPath.String(), Unresolved,
					"type %s already appears on the path, not expanded", canonicalStructType(f.Type))
				continue
			}
			queue = append(queue, &intermediateNode{base})
		}
	}
	return tree, nil
}

// collectCandidates attaches the overrides and the tag declaration that apply
// to leaf for the tree's target label.
func (tree *propertyTree) collectCandidates(leaf *leafNode, tag fieldTag, reg *Registry) error {
	decls := reg.Lookup(tree.target.Label, leaf.path)
	if d, ok := tag.declaration(); ok && (d.label == "" || d.label == tree.target.Label) {
		decls = append(decls, d)
	}
	for _, d := range decls {
		def, err := normalizeDefault(leaf.typ, d.def)
		if err != nil {
			return &MappingDeclarationError{Type: tree.typ, Table: tree.target, Path: leaf.path.String(), Reason: err.Error()}
		}
		leaf.candidates = append(leaf.candidates, tree.newMapping(leaf, d, def))
	}
	return nil
}

func (tree *propertyTree) newMapping(leaf *leafNode, d Declaration, def any) *mapping {
	m := &mapping{
		label:       d.label,
		name:        d.name,
		offset:      d.offset,
		def:         def,
		optionality: d.optionality,
		leaf:        leaf,
		seq:         tree.nextID,
	}
	if m.offset < 0 {
		m.offset = Unresolved
	}
	tree.nextID++
	return m
}

// ancestorHasType reports whether t (pointers stripped) is the type of n or of
// any of its ancestors.
func ancestorHasType(n pathNode, t reflect.Type) bool {
	t = canonicalStructType(t)
	for n != nil {
		h := n.header()
		if canonicalStructType(h.typ) == t {
			return true
		}
		n = h.parent
	}
	return false
}

// ignoredType reports types that are never properties for mapping purposes.
func ignoredType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Uintptr:
		return true
	}
	return false
}

// isLeafType reports whether t terminates mapping: scalars, text, raw bytes,
// time.Time and driver.Valuer implementations, or a pointer to one of them.
func isLeafType(t reflect.Type) bool {
	if t.Implements(valuerIface) {
		return true
	}
	if t.Kind() == reflect.Pointer {
		return isScalarType(t.Elem())
	}
	return isScalarType(t)
}

func isScalarType(t reflect.Type) bool {
	if t == timeType || t.Implements(valuerIface) || reflect.PointerTo(t).Implements(valuerIface) {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// isExpandable decides whether traversal may descend into t (struct or
// pointer to struct). Collections and interfaces are never expanded.
func isExpandable(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// isNullableLeaf reports whether a leaf of type t can be NULL and therefore
// accepts a default value.
func isNullableLeaf(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.String:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8
	}
	return false
}

// normalizeDefault checks def against the leaf type and returns it in the
// form the accessor emits (pointer defaults are dereferenced).
func normalizeDefault(leafT reflect.Type, def any) (any, error) {
	if def == nil {
		return nil, nil
	}
	if !isNullableLeaf(leafT) {
		return nil, fmt.Errorf("default %v (%T) given for non-nullable %s", def, def, leafT)
	}
	dv := reflect.ValueOf(def)
	want := leafT
	if leafT.Kind() == reflect.Pointer {
		want = leafT.Elem()
	}
	switch {
	case dv.Type().AssignableTo(want):
		return def, nil
	case leafT.Kind() == reflect.Pointer && dv.Type().AssignableTo(leafT):
		if dv.IsNil() {
			return nil, nil
		}
		return dv.Elem().Interface(), nil
	}
	return nil, fmt.Errorf("default of type %T is not assignable to %s", def, leafT)
}

// fieldTag is the parsed form of a `db:"name,offset=N,optional,label=L,noexpand,notnull"` tag.
type fieldTag struct {
	skip        bool
	name        string
	offset      int
	optional    bool
	label       string
	noExpand    bool
	noNullCheck bool
	declares    bool
}

func parseFieldTag(tag string) (fieldTag, error) {
	ft := fieldTag{offset: Unresolved}
	if tag == "" {
		return ft, nil
	}
	if tag == "-" {
		ft.skip = true
		return ft, nil
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		ft.name = strings.TrimSpace(parts[0])
		ft.declares = true
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		key, val, _ := strings.Cut(p, "=")
		switch key {
		case "":
		case "offset":
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return ft, fmt.Errorf("invalid offset %q in tag", val)
			}
			ft.offset = n
			ft.declares = true
		case "optional":
			ft.optional = true
			ft.declares = true
		case "label":
			ft.label = val
			ft.declares = true
		case "noexpand":
			ft.noExpand = true
		case "notnull":
			ft.noNullCheck = true
		default:
			return ft, fmt.Errorf("unknown tag option %q", key)
		}
	}
	return ft, nil
}

// declaration converts the tag into a Declaration, if it declares one.
func (ft fieldTag) declaration() (Declaration, bool) {
	if !ft.declares {
		return Declaration{}, false
	}
	d := Declaration{label: ft.label, name: ft.name, offset: ft.offset}
	if ft.optional {
		d.optionality = Optional
	}
	return d, true
}
