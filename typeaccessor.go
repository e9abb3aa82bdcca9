package bulkmap

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TypeAccessor holds the finalized column mappings of a record type for one
// destination table, with a compiled Accessor per column. It is immutable
// once built and safe for concurrent use.
type TypeAccessor struct {
	typ         reflect.Type
	target      TargetTable
	mappings    []ColumnMapping // ordered by offset
	accessors   map[int]Accessor
	byOffset    map[int]int    // offset -> index in mappings
	byName      map[string]int // lower-cased column name -> offset
	diagnostics []Diagnostic

	provider   SchemaProvider
	schemaOnce sync.Once
	schemaCols []Column
	schemaErr  error
}

// CopyMapping pairs a source row position with a destination column offset.
type CopyMapping struct {
	Source      int
	Destination int
}

// buildTypeAccessor runs traversal, resolution, deduplication and
// compilation for (t, target).
func buildTypeAccessor(ctx context.Context, t reflect.Type, target TargetTable, provider SchemaProvider, cfg config) (*TypeAccessor, error) {
	log := cfg.logger.With(zap.Stringer("type", t), zap.Stringer("table", target))
	diags := &diagnostics{logger: log}

	tree, err := buildTree(t, target, cfg.registry, diags)
	if err != nil {
		return nil, err
	}

	ta := &TypeAccessor{typ: tree.typ, target: target, provider: provider}
	r := &resolver{
		tree:  tree,
		diags: diags,
		load:  func() ([]Column, error) { return ta.Schema(ctx) },
	}
	resolved, err := r.resolve()
	if err != nil {
		return nil, err
	}
	final := deduplicate(resolved, diags)

	ta.mappings = make([]ColumnMapping, len(final))
	ta.accessors = make(map[int]Accessor, len(final))
	ta.byOffset = make(map[int]int, len(final))
	ta.byName = make(map[string]int, len(final))
	for i, m := range final {
		ta.mappings[i] = m.finalize()
		ta.accessors[m.offset] = compileAccessor(tree.typ, m.leaf, m.def)
		ta.byOffset[m.offset] = i
		if _, dup := ta.byName[strings.ToLower(m.name)]; !dup {
			ta.byName[strings.ToLower(m.name)] = m.offset
		}
	}
	ta.diagnostics = diags.list

	log.Info("type accessor built",
		zap.Int("leaves", len(tree.leaves)),
		zap.Int("columns", len(ta.mappings)),
		zap.Int("discarded", diags.count(DuplicateDiscarded)),
		zap.Int("dropped", diags.count(OptionalDropped)),
	)
	return ta, nil
}

// Type returns the record type.
func (ta *TypeAccessor) Type() reflect.Type { return ta.typ }

// Target returns the destination table.
func (ta *TypeAccessor) Target() TargetTable { return ta.target }

// FieldCount returns the number of mapped columns.
func (ta *TypeAccessor) FieldCount() int { return len(ta.mappings) }

// NameForOffset returns the column name mapped at offset.
func (ta *TypeAccessor) NameForOffset(offset int) (string, bool) {
	i, ok := ta.byOffset[offset]
	if !ok {
		return "", false
	}
	return ta.mappings[i].Name, true
}

// OffsetForName returns the offset of the mapped column name, ignoring case.
func (ta *TypeAccessor) OffsetForName(name string) (int, bool) {
	off, ok := ta.byName[strings.ToLower(name)]
	if !ok {
		return Unresolved, false
	}
	return off, true
}

// Mapping returns the finalized mapping at offset.
func (ta *TypeAccessor) Mapping(offset int) (ColumnMapping, bool) {
	i, ok := ta.byOffset[offset]
	if !ok {
		return ColumnMapping{}, false
	}
	return ta.mappings[i], true
}

// Accessor returns the compiled accessor for offset. Asking for an offset
// that was never mapped is a programming error.
func (ta *TypeAccessor) Accessor(offset int) (Accessor, error) {
	a, ok := ta.accessors[offset]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no column at offset %d for %s", ErrOffsetNotMapped, ta.typ, offset, ta.target)
	}
	return a, nil
}

// Mappings returns the finalized mappings ordered by offset.
func (ta *TypeAccessor) Mappings() []ColumnMapping {
	return append([]ColumnMapping(nil), ta.mappings...)
}

// CopyMappings returns the column mapping list for a bulk loader, on the
// convention that a row's source position equals its destination offset
// (see Row).
func (ta *TypeAccessor) CopyMappings() []CopyMapping {
	out := make([]CopyMapping, len(ta.mappings))
	for i, m := range ta.mappings {
		out[i] = CopyMapping{Source: m.Offset, Destination: m.Offset}
	}
	return out
}

// ColumnNames returns the mapped column names ordered by offset, matching
// the order of Values.
func (ta *TypeAccessor) ColumnNames() []string {
	out := make([]string, len(ta.mappings))
	for i, m := range ta.mappings {
		out[i] = m.Name
	}
	return out
}

// Values reads every mapped column of instance, ordered by offset.
func (ta *TypeAccessor) Values(instance any) ([]any, error) {
	out := make([]any, len(ta.mappings))
	for i, m := range ta.mappings {
		v, err := ta.accessors[m.Offset](instance)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Row reads instance into a row indexed by destination offset. Positions of
// unmapped columns are nil.
func (ta *TypeAccessor) Row(instance any) ([]any, error) {
	if len(ta.mappings) == 0 {
		return nil, nil
	}
	out := make([]any, ta.mappings[len(ta.mappings)-1].Offset+1)
	for _, m := range ta.mappings {
		v, err := ta.accessors[m.Offset](instance)
		if err != nil {
			return nil, err
		}
		out[m.Offset] = v
	}
	return out, nil
}

// Diagnostics returns the non-fatal conditions met while building.
func (ta *TypeAccessor) Diagnostics() []Diagnostic {
	return append([]Diagnostic(nil), ta.diagnostics...)
}

// Schema returns the destination column list. It is fetched at most once; a
// failed fetch is remembered and returned to every later caller.
func (ta *TypeAccessor) Schema(ctx context.Context) ([]Column, error) {
	ta.schemaOnce.Do(func() {
		if ta.provider == nil {
			return
		}
		cols, err := ta.provider.Columns(ctx, ta.target)
		if err != nil {
			ta.schemaErr = &SchemaUnavailableError{Type: ta.typ, Table: ta.target, Err: err}
			return
		}
		ta.schemaCols = cols
	})
	if ta.schemaErr != nil {
		return nil, ta.schemaErr
	}
	return append([]Column(nil), ta.schemaCols...), nil
}
