package bulkmap

import (
	"reflect"
	"strings"
)

// Path is a property path rooted at a record type: the root reference itself,
// or a chain of member accesses below it. Paths compare structurally.
type Path struct {
	root    reflect.Type
	members []string
}

// PathOf returns the path reaching members (field names, outermost first)
// from a value of type T.
func PathOf[T any](members ...string) Path {
	return NewPath(reflect.TypeOf((*T)(nil)).Elem(), members...)
}

// NewPath is the non-generic form of PathOf. Pointer root types are
// normalized to their struct type.
func NewPath(root reflect.Type, members ...string) Path {
	return Path{root: canonicalStructType(root), members: append([]string(nil), members...)}
}

// Root returns the record type the path starts from.
func (p Path) Root() reflect.Type { return p.root }

// Members returns a copy of the member chain.
func (p Path) Members() []string { return append([]string(nil), p.members...) }

// Depth is the number of member accesses; the root reference has depth 0.
func (p Path) Depth() int { return len(p.members) }

// Child returns the path extended by one member access.
func (p Path) Child(member string) Path {
	m := make([]string, len(p.members), len(p.members)+1)
	copy(m, p.members)
	return Path{root: p.root, members: append(m, member)}
}

// Equal reports structural equality: both are the root of the same type, or
// both access the same member of structurally equal parents.
func (p Path) Equal(o Path) bool {
	if p.root != o.root || len(p.members) != len(o.members) {
		return false
	}
	for i := range p.members {
		if p.members[i] != o.members[i] {
			return false
		}
	}
	return true
}

// String returns the dotted member chain, or "<root>" for the root reference.
func (p Path) String() string {
	if len(p.members) == 0 {
		return "<root>"
	}
	return strings.Join(p.members, ".")
}

// pathKey is a comparable form of Path used for map lookups. Members are
// joined with a byte that cannot occur in Go identifiers.
type pathKey struct {
	root reflect.Type
	sig  string
}

func (p Path) key() pathKey {
	return pathKey{root: p.root, sig: strings.Join(p.members, "\x1f")}
}

// canonicalStructType returns the underlying type for a possibly-pointer type.
func canonicalStructType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
