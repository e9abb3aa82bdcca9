package bulkmap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// schemaIndex provides the lookups reconciliation needs over a column list.
type schemaIndex struct {
	cols     []Column
	byOffset map[int]Column
	byName   map[string]Column
	byFold   map[string]Column
}

func newSchemaIndex(cols []Column) *schemaIndex {
	idx := &schemaIndex{
		cols:     cols,
		byOffset: make(map[int]Column, len(cols)),
		byName:   make(map[string]Column, len(cols)),
		byFold:   make(map[string]Column, len(cols)),
	}
	for _, c := range cols {
		if _, dup := idx.byOffset[c.Ordinal]; !dup {
			idx.byOffset[c.Ordinal] = c
		}
		if _, dup := idx.byName[c.Name]; !dup {
			idx.byName[c.Name] = c
		}
		folded := strings.ToLower(c.Name)
		if _, dup := idx.byFold[folded]; !dup {
			idx.byFold[folded] = c
		}
	}
	return idx
}

// lookupName prefers an exact match and falls back to a case-insensitive one.
func (idx *schemaIndex) lookupName(name string) (Column, bool) {
	if c, ok := idx.byName[name]; ok {
		return c, true
	}
	return idx.lookupFold(name)
}

func (idx *schemaIndex) lookupFold(name string) (Column, bool) {
	c, ok := idx.byFold[strings.ToLower(name)]
	return c, ok
}

// resolver reconciles the tree's candidate mappings against the destination
// schema. The schema is loaded on first need only.
type resolver struct {
	tree  *propertyTree
	load  func() ([]Column, error)
	idx   *schemaIndex
	diags *diagnostics
}

func (r *resolver) schema() (*schemaIndex, error) {
	if r.idx == nil {
		cols, err := r.load()
		if err != nil {
			return nil, err
		}
		r.idx = newSchemaIndex(cols)
	}
	return r.idx, nil
}

// resolve returns every resolved mapping in discovery order. Required
// mappings that cannot be reconciled are reported together.
func (r *resolver) resolve() ([]*mapping, error) {
	var (
		errs *multierror.Error
		out  []*mapping
	)
	for _, leaf := range r.tree.leaves {
		kept := leaf.candidates[:0]
		for _, m := range leaf.candidates {
			ok, err := r.reconcile(m)
			if err != nil {
				var cre *ColumnResolutionError
				if !errors.As(err, &cre) {
					return nil, err
				}
				errs = multierror.Append(errs, err)
				continue
			}
			if ok {
				kept = append(kept, m)
			}
		}
		leaf.candidates = kept
		out = append(out, kept...)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	if len(out) == 0 && len(r.tree.leaves) > 0 {
		var err error
		if out, err = r.fallback(); err != nil {
			return nil, err
		}
	}
	if len(out) == 0 {
		return nil, &NoMappingFoundError{Type: r.tree.typ, Table: r.tree.target, Leaves: len(r.tree.leaves)}
	}
	return out, nil
}

// reconcile matches m against the schema by whichever of name and offset are
// known. It reports whether m is now resolved; Optional misses are dropped.
func (r *resolver) reconcile(m *mapping) (bool, error) {
	idx, err := r.schema()
	if err != nil {
		return false, err
	}

	var (
		col    Column
		found  bool
		reason string
	)
	switch {
	case m.name != "" && m.offset >= 0:
		col, found = idx.byOffset[m.offset]
		if !found {
			reason = fmt.Sprintf("no column at offset %d", m.offset)
		} else if col.Name != m.name {
			found = false
			reason = fmt.Sprintf("column at offset %d is %q, not %q", m.offset, col.Name, m.name)
		}
	case m.offset >= 0:
		col, found = idx.byOffset[m.offset]
		reason = fmt.Sprintf("no column at offset %d", m.offset)
	case m.name != "":
		col, found = idx.lookupName(m.name)
		reason = fmt.Sprintf("no column named %q", m.name)
	default:
		col, found = idx.lookupFold(m.leaf.fieldName)
		reason = fmt.Sprintf("no column matching property name %q", m.leaf.fieldName)
	}
	if found && col.ReadOnly {
		found = false
		reason = fmt.Sprintf("column %q is read-only", col.Name)
	}

	if !found {
		m.offset = Unresolved
		if m.optionality == Required {
			return false, &ColumnResolutionError{
				Type:   r.tree.typ,
				Table:  r.tree.target,
				Path:   m.leaf.path.String(),
				Reason: reason,
			}
		}
		r.diags.add(OptionalDropped, m.leaf.path.String(), Unresolved, "%s", reason)
		return false, nil
	}
	m.name, m.offset = col.Name, col.Ordinal
	return true, nil
}

// fallback synthesizes Optional mappings for every writable column whose name
// matches a leaf property name case-insensitively.
func (r *resolver) fallback() ([]*mapping, error) {
	idx, err := r.schema()
	if err != nil {
		return nil, err
	}
	var out []*mapping
	for _, col := range idx.cols {
		if col.ReadOnly {
			continue
		}
		for _, leaf := range r.tree.leaves {
			if !strings.EqualFold(leaf.fieldName, col.Name) {
				continue
			}
			m := r.tree.newMapping(leaf, Declaration{name: col.Name, offset: col.Ordinal, optionality: Optional}, nil)
			m.implicit = true
			leaf.candidates = append(leaf.candidates, m)
			out = append(out, m)
			r.diags.add(FallbackApplied, leaf.path.String(), col.Ordinal, "matched column %q by property name", col.Name)
		}
	}
	return out, nil
}
