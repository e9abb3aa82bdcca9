package bulkmap

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrMappingDeclaration = errors.New("bulkmap: invalid mapping declaration")
	ErrColumnResolution   = errors.New("bulkmap: column resolution failed")
	ErrNoMappingFound     = errors.New("bulkmap: no mapping found")
	ErrSchemaUnavailable  = errors.New("bulkmap: schema unavailable")
	ErrOffsetNotMapped    = errors.New("bulkmap: offset not mapped")
	ErrInstanceType       = errors.New("bulkmap: instance has wrong type")
	ErrNilLink            = errors.New("bulkmap: nil value on non-nullable path")
	ErrNotStruct          = errors.New("bulkmap: record type must be a struct")
	ErrDriverUnavailable  = errors.New("bulkmap: no driver available for dialect")
	ErrEmptyRows          = errors.New("bulkmap: empty rows")
)

// MappingDeclarationError reports a declaration that cannot apply to its
// property, e.g. a default value of the wrong type.
type MappingDeclarationError struct {
	Type   reflect.Type
	Table  TargetTable
	Path   string
	Reason string
}

func (e *MappingDeclarationError) Error() string {
	return fmt.Sprintf("%v: %s.%s -> %s: %s", ErrMappingDeclaration, e.Type, e.Path, e.Table, e.Reason)
}

func (e *MappingDeclarationError) Is(target error) bool { return target == ErrMappingDeclaration }

// ColumnResolutionError reports a Required mapping that the destination schema
// does not satisfy.
type ColumnResolutionError struct {
	Type   reflect.Type
	Table  TargetTable
	Path   string
	Reason string
}

func (e *ColumnResolutionError) Error() string {
	return fmt.Sprintf("%v: %s.%s -> %s: %s", ErrColumnResolution, e.Type, e.Path, e.Table, e.Reason)
}

func (e *ColumnResolutionError) Is(target error) bool { return target == ErrColumnResolution }

// NoMappingFoundError reports a type for which neither declarations nor the
// schema fallback produced a single usable mapping.
type NoMappingFoundError struct {
	Type   reflect.Type
	Table  TargetTable
	Leaves int
}

func (e *NoMappingFoundError) Error() string {
	return fmt.Sprintf("%v: %s -> %s (%d leaf properties)", ErrNoMappingFound, e.Type, e.Table, e.Leaves)
}

func (e *NoMappingFoundError) Is(target error) bool { return target == ErrNoMappingFound }

// SchemaUnavailableError wraps a schema provider failure met while building
// the accessor of Type.
type SchemaUnavailableError struct {
	Type  reflect.Type
	Table TargetTable
	Err   error
}

func (e *SchemaUnavailableError) Error() string {
	return fmt.Sprintf("%v: %s -> %s: %v", ErrSchemaUnavailable, e.Type, e.Table, e.Err)
}

func (e *SchemaUnavailableError) Is(target error) bool { return target == ErrSchemaUnavailable }

func (e *SchemaUnavailableError) Unwrap() error { return e.Err }
