package bulkmap

import (
	"fmt"
	"reflect"
)

// Accessor reads the value of one destination column from a record. It
// accepts either a value or a pointer of the record type, never mutates it and
// is safe for concurrent use.
type Accessor func(instance any) (any, error)

// stepOp is one instruction of a compiled access program.
type stepOp uint8

const (
	opMember stepOp = iota // select struct field at index
	opGuard                // nil pointer short-circuits the program, else dereference
	opDeref                // dereference a pointer asserted non-nil
)

type step struct {
	op    stepOp
	index int
}

// program is the compiled form of a Root -> ... -> Leaf walk. It is built once
// per finalized mapping and evaluated for every row.
type program struct {
	rootType reflect.Type
	rootPtr  reflect.Type
	path     string
	steps    []step

	leafKind   reflect.Kind
	leafType   reflect.Type
	addrValuer bool // value receiver lacks Value(); emit a pointer copy
	onBroken   any  // result when a guarded link is nil
	onNil      any  // result when the leaf itself is nil
}

// compileAccessor builds the access program for leaf, substituting def (which
// has already been validated against the leaf type) for nil values.
func compileAccessor(root reflect.Type, leaf *leafNode, def any) Accessor {
	p := &program{
		rootType: root,
		rootPtr:  reflect.PointerTo(root),
		path:     leaf.path.String(),
		leafType: leaf.typ,
		leafKind: leaf.typ.Kind(),
		onNil:    def,
		onBroken: def,
	}
	if def == nil && !isNullableLeaf(leaf.typ) {
		p.onBroken = reflect.Zero(leaf.typ).Interface()
	}

	// Collect the chain leaf -> root, then emit it root-first.
	var chain []pathNode
	for n := pathNode(leaf); n != nil; n = n.header().parent {
		if _, isRoot := n.(*rootNode); isRoot {
			break
		}
		chain = append(chain, n)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		switch n := chain[i].(type) {
		case *intermediateNode:
			p.steps = append(p.steps, step{op: opMember, index: n.index})
			if n.typ.Kind() == reflect.Pointer {
				if n.elideNullCheck {
					p.steps = append(p.steps, step{op: opDeref})
				} else {
					p.steps = append(p.steps, step{op: opGuard})
				}
			}
		case *leafNode:
			p.steps = append(p.steps, step{op: opMember, index: n.index})
		}
	}

	if p.leafKind != reflect.Pointer && !p.leafType.Implements(valuerIface) &&
		reflect.PointerTo(p.leafType).Implements(valuerIface) {
		p.addrValuer = true
		if def == nil {
			p.onBroken = reflect.New(p.leafType).Interface()
		}
	}
	return p.eval
}

func (p *program) eval(instance any) (any, error) {
	v := reflect.ValueOf(instance)
	switch {
	case !v.IsValid():
		return nil, fmt.Errorf("%w: nil %s record reading %s", ErrNilLink, p.rootType, p.path)
	case v.Type() == p.rootPtr:
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil %s record reading %s", ErrNilLink, p.rootType, p.path)
		}
		v = v.Elem()
	case v.Type() != p.rootType:
		return nil, fmt.Errorf("%w: got %T, want %s", ErrInstanceType, instance, p.rootType)
	}

	for _, s := range p.steps {
		switch s.op {
		case opMember:
			v = v.Field(s.index)
		case opGuard:
			if v.IsNil() {
				return p.onBroken, nil
			}
			v = v.Elem()
		case opDeref:
			if v.IsNil() {
				return nil, fmt.Errorf("%w: %s.%s", ErrNilLink, p.rootType, p.path)
			}
			v = v.Elem()
		}
	}
	return p.leafValue(v), nil
}

// leafValue converts the leaf field into the value handed to the loader.
func (p *program) leafValue(v reflect.Value) any {
	switch p.leafKind {
	case reflect.Pointer:
		if v.IsNil() {
			return p.onNil
		}
		if v.Type().Implements(valuerIface) && v.Elem().Kind() == reflect.Struct {
			return v.Interface()
		}
		return v.Elem().Interface()
	case reflect.Interface, reflect.Map:
		if v.IsNil() {
			return p.onNil
		}
	case reflect.Slice:
		if v.IsNil() {
			return p.onNil
		}
	}
	if p.addrValuer {
		if v.CanAddr() {
			return v.Addr().Interface()
		}
		cp := reflect.New(p.leafType)
		cp.Elem().Set(v)
		return cp.Interface()
	}
	return v.Interface()
}
