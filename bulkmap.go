package bulkmap

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Dialect identifies the destination database flavor. It drives catalog
// queries, placeholder rendering and per-dialect parameter limits.
type Dialect int

const (
	Postgres Dialect = iota
	MySQL
	SQLite
	SQLServer
)

// Unresolved marks a column offset that is not known (yet).
const Unresolved = -1

const defaultConnectTimeout = 30 * time.Second

// String returns the string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// ParseDialect is the inverse of Dialect.String.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	default:
		return 0, fmt.Errorf("bulkmap: unknown dialect %q", s)
	}
}

// MaxParams returns the number of bind parameters a single statement may carry.
func (d Dialect) MaxParams() int {
	switch d {
	case SQLServer:
		return 2100
	case SQLite:
		return 999
	default:
		return 65535
	}
}

// TargetTable identifies a destination table. It is a comparable value and is
// used, together with the record type, as the accessor cache key.
type TargetTable struct {
	// Label selects which declarations apply; declarations without a label
	// apply to every target.
	Label string
	// Connection names the database the table lives in. It is resolved by the
	// configured SchemaProvider.
	Connection string
	// Table is the (optionally schema-qualified) table name.
	Table string
}

func (t TargetTable) String() string {
	s := t.Table
	if t.Connection != "" {
		s = t.Connection + ":" + s
	}
	if t.Label != "" {
		s += "[" + t.Label + "]"
	}
	return s
}

// Optionality tells the resolver what to do when a mapping cannot be matched
// against the destination schema.
type Optionality uint8

const (
	Required Optionality = iota // unmatched mapping aborts construction
	Optional                    // unmatched mapping is dropped
)

func (o Optionality) String() string {
	if o == Optional {
		return "optional"
	}
	return "required"
}

// rank orders optionality for conflict resolution; Required wins.
func (o Optionality) rank() int {
	if o == Optional {
		return 1
	}
	return 0
}

// Declaration is an externally supplied column mapping for a leaf property.
// Build it with MapName, MapOffset, MapColumn or MapProperty.
type Declaration struct {
	label       string
	name        string
	offset      int
	def         any
	optionality Optionality
}

// MapName declares a mapping to the column with the given name.
func MapName(name string) Declaration {
	return Declaration{name: name, offset: Unresolved}
}

// MapOffset declares a mapping to the column at the given 0-based position.
func MapOffset(offset int) Declaration {
	return Declaration{offset: offset}
}

// MapColumn declares a mapping to a column by both name and position. The
// schema must agree on both.
func MapColumn(name string, offset int) Declaration {
	return Declaration{name: name, offset: offset}
}

// MapProperty declares a mapping whose column is found by the property name.
// It is mostly useful to attach a default or optionality.
func MapProperty() Declaration {
	return Declaration{offset: Unresolved}
}

// WithDefault sets the value substituted when the property, or any link on
// its path, is nil.
func (d Declaration) WithDefault(v any) Declaration {
	d.def = v
	return d
}

// AsOptional marks the mapping Optional.
func (d Declaration) AsOptional() Declaration {
	d.optionality = Optional
	return d
}

// ForLabel restricts the declaration to targets with the given label.
func (d Declaration) ForLabel(label string) Declaration {
	d.label = label
	return d
}

// Label returns the label the declaration is restricted to.
func (d Declaration) Label() string { return d.label }

func (d Declaration) String() string {
	return fmt.Sprintf("{name=%q offset=%d %s label=%q}", d.name, d.offset, d.optionality, d.label)
}

// ColumnMapping is a finalized association between a leaf property and a
// destination column.
type ColumnMapping struct {
	Label       string
	Name        string
	Offset      int
	Default     any
	Optionality Optionality
	// Path is the dotted property path from the record type, e.g. "Address.City".
	Path string
	// Implicit is set when the mapping was derived from the schema rather
	// than declared.
	Implicit bool
}

// PathOptions tune traversal for a single property path.
type PathOptions struct {
	// NoExpand stops traversal below the node.
	NoExpand bool
	// NoNullCheck asserts that the node is never nil, so no guard is compiled.
	NoNullCheck bool
}

// config defines behavior for a Cache and the accessors it builds.
type config struct {
	registry       *Registry
	logger         *zap.Logger
	connectTimeout time.Duration
	maxParams      int
}

// Option configures a Cache or a schema provider.
type Option func(*config)

// WithRegistry injects the override registry to use instead of DefaultRegistry.
func WithRegistry(r *Registry) Option {
	return func(c *config) {
		c.registry = r
	}
}

// WithLogger sets the logger used for build and diagnostic messages.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithConnectTimeout bounds how long OpenSchemaProvider waits for the database.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		c.connectTimeout = d
	}
}

// WithMaxParams overrides the per-dialect bind parameter limit used by
// InsertStatements. A negative value means unlimited.
func WithMaxParams(n int) Option {
	return func(c *config) {
		c.maxParams = n
	}
}

// newConfig merges options with defaults.
func newConfig(opts ...Option) config {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = defaultConnectTimeout
	}
	return c
}
