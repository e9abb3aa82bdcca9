package bulkmap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	mysqldriver "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite" // SQLite driver.
)

// Column describes one destination column. Ordinal is its 0-based position in
// the table's column list and is the offset mappings resolve to.
type Column struct {
	Ordinal  int
	Name     string
	ReadOnly bool
}

// SchemaProvider reports the columns of a destination table.
type SchemaProvider interface {
	Columns(ctx context.Context, table TargetTable) ([]Column, error)
}

// SchemaProviderFunc adapts a function to SchemaProvider.
type SchemaProviderFunc func(ctx context.Context, table TargetTable) ([]Column, error)

func (f SchemaProviderFunc) Columns(ctx context.Context, table TargetTable) ([]Column, error) {
	return f(ctx, table)
}

// StaticSchema serves fixed column lists keyed by table name. Unknown tables
// report an error.
type StaticSchema map[string][]Column

func (s StaticSchema) Columns(_ context.Context, table TargetTable) ([]Column, error) {
	cols, ok := s[table.Table]
	if !ok {
		return nil, fmt.Errorf("bulkmap: table %q not found", table.Table)
	}
	return append([]Column(nil), cols...), nil
}

// Connections routes a table to the provider registered for its connection.
// A connection without configuration reports an empty column list.
type Connections map[string]SchemaProvider

func (c Connections) Columns(ctx context.Context, table TargetTable) ([]Column, error) {
	p, ok := c[table.Connection]
	if !ok || p == nil {
		return nil, nil
	}
	return p.Columns(ctx, table)
}

// ColumnsOf builds a column list from names, assigning ordinals in order.
func ColumnsOf(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Ordinal: i, Name: n}
	}
	return cols
}

// SQLSchemaProvider reads column lists from a database catalog. Concurrent
// requests for the same table share one query.
type SQLSchemaProvider struct {
	db      *sql.DB
	dialect Dialect
	stbl    sq.StatementBuilderType
	logger  *zap.Logger
	group   singleflight.Group
}

// NewSQLSchemaProvider wraps an open database handle.
func NewSQLSchemaProvider(db *sql.DB, dialect Dialect, opts ...Option) *SQLSchemaProvider {
	cfg := newConfig(opts...)
	return &SQLSchemaProvider{
		db:      db,
		dialect: dialect,
		stbl:    sq.StatementBuilder.PlaceholderFormat(placeholderFormat(dialect)).RunWith(db),
		logger:  cfg.logger,
	}
}

// OpenSchemaProvider opens dsn with the driver registered for dialect and
// waits for the database to answer, backing off exponentially up to the
// configured connect timeout.
func OpenSchemaProvider(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*SQLSchemaProvider, error) {
	cfg := newConfig(opts...)

	var driver string
	switch dialect {
	case Postgres:
		driver = "pgx"
	case MySQL:
		driver = "mysql"
		if _, err := mysqldriver.ParseDSN(dsn); err != nil {
			return nil, fmt.Errorf("bulkmap: invalid mysql dsn: %w", err)
		}
	case SQLite:
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("%w: %s", ErrDriverUnavailable, dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("bulkmap: open %s connection: %w", dialect, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.connectTimeout
	attempt := 1
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			cfg.logger.Info("waiting for database", zap.Stringer("dialect", dialect), zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bulkmap: ping %s: %w", dialect, err)
	}
	return NewSQLSchemaProvider(db, dialect, opts...), nil
}

// DB returns the underlying database handle.
func (p *SQLSchemaProvider) DB() *sql.DB { return p.db }

// Close closes the underlying database handle.
func (p *SQLSchemaProvider) Close() error { return p.db.Close() }

// Columns queries the catalog for table.Table. Ordinals follow the catalog's
// column order. A table without columns is reported as not found.
func (p *SQLSchemaProvider) Columns(ctx context.Context, table TargetTable) ([]Column, error) {
	// The shared query runs detached; each caller only stops waiting on ctx.
	qctx := context.WithoutCancel(ctx)
	ch := p.group.DoChan(table.Table, func() (any, error) {
		return p.queryColumns(qctx, table.Table)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	cols := res.Val.([]Column)
	p.logger.Debug("schema columns loaded",
		zap.String("table", table.Table),
		zap.Int("columns", len(cols)),
		zap.Bool("shared", res.Shared),
	)
	return append([]Column(nil), cols...), nil
}

func (p *SQLSchemaProvider) queryColumns(ctx context.Context, table string) ([]Column, error) {
	start := time.Now()
	q := p.catalogQuery(table)

	rows, err := q.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("bulkmap: query columns of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name string
			flag sql.NullString
		)
		if err := rows.Scan(&name, &flag); err != nil {
			return nil, fmt.Errorf("bulkmap: scan columns of %q: %w", table, err)
		}
		cols = append(cols, Column{Ordinal: len(cols), Name: name, ReadOnly: p.readOnly(flag.String)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bulkmap: read columns of %q: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("bulkmap: table %q not found", table)
	}
	p.logger.Debug("catalog query", zap.String("table", table), zap.Duration("took", time.Since(start)))
	return cols, nil
}

// catalogQuery selects (column name, read-only indicator) in column order.
func (p *SQLSchemaProvider) catalogQuery(table string) sq.SelectBuilder {
	schema, name := splitTableName(table)
	switch p.dialect {
	case Postgres:
		b := p.stbl.Select("column_name", "is_generated").
			From("information_schema.columns").
			Where(sq.Eq{"table_name": name}).
			OrderBy("ordinal_position")
		if schema != "" {
			return b.Where(sq.Eq{"table_schema": schema})
		}
		return b.Where("table_schema = current_schema()")
	case MySQL:
		b := p.stbl.Select("column_name", "extra").
			From("information_schema.columns").
			Where(sq.Eq{"table_name": name}).
			OrderBy("ordinal_position")
		if schema != "" {
			return b.Where(sq.Eq{"table_schema": schema})
		}
		return b.Where("table_schema = DATABASE()")
	case SQLServer:
		return p.stbl.Select("name", "CASE WHEN is_computed = 1 THEN 'computed' ELSE '' END").
			From("sys.columns").
			Where(sq.Expr("object_id = OBJECT_ID(?)", table)).
			OrderBy("column_id")
	default: // SQLite
		b := p.stbl.Select("name", "CAST(hidden AS TEXT)").
			From("pragma_table_xinfo").
			Where(sq.Eq{"arg": name}).
			OrderBy("cid")
		if schema != "" {
			return b.Where(sq.Eq{"schema": schema})
		}
		return b
	}
}

// readOnly interprets the catalog indicator selected by catalogQuery.
func (p *SQLSchemaProvider) readOnly(flag string) bool {
	switch p.dialect {
	case Postgres:
		return strings.EqualFold(flag, "ALWAYS")
	case MySQL:
		return strings.Contains(strings.ToUpper(flag), "GENERATED")
	case SQLServer:
		return flag == "computed"
	default:
		return flag != "" && flag != "0"
	}
}

// splitTableName splits "schema.table" into its parts.
func splitTableName(table string) (string, string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// placeholderFormat returns the bind placeholder style for d.
func placeholderFormat(d Dialect) sq.PlaceholderFormat {
	switch d {
	case Postgres:
		return sq.Dollar
	case SQLServer:
		return sq.AtP
	default:
		return sq.Question
	}
}
