package bulkmap

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// Statement is a rendered SQL statement with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// InsertStatements renders rows as multi-row INSERT statements for dialect,
// splitting them so that no statement exceeds the dialect's bind parameter
// limit (see WithMaxParams). It is the fallback for drivers without a native
// bulk copy path.
func InsertStatements[T any](ta *TypeAccessor, dialect Dialect, rows []T, opts ...Option) ([]Statement, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyRows
	}
	cfg := newConfig(opts...)
	cols := ta.ColumnNames()

	limit := cfg.maxParams
	if limit == 0 {
		limit = dialect.MaxParams()
	}
	per := len(rows)
	if limit > 0 {
		per = limit / len(cols)
		if per < 1 {
			return nil, fmt.Errorf("bulkmap: a row of %d columns exceeds the %d parameter limit of %s", len(cols), limit, dialect)
		}
	}

	out := make([]Statement, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		b := sq.Insert(ta.target.Table).
			Columns(cols...).
			PlaceholderFormat(placeholderFormat(dialect))
		for i, r := range rows[start:end] {
			vals, err := ta.Values(r)
			if err != nil {
				return nil, fmt.Errorf("bulkmap: row %d: %w", start+i, err)
			}
			b = b.Values(vals...)
		}
		q, args, err := b.ToSql()
		if err != nil {
			return nil, fmt.Errorf("bulkmap: render insert into %s: %w", ta.target.Table, err)
		}
		out = append(out, Statement{SQL: q, Args: args})
	}
	return out, nil
}
