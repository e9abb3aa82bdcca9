package bulkmap

import (
	"strings"

	"github.com/jackc/pgx/v5"
)

// CopySource adapts rows to pgx.CopyFromSource using ta's accessors, so a
// batch can be streamed with
//
//	conn.CopyFrom(ctx, ta.Identifier(), ta.ColumnNames(), bulkmap.CopySource(ta, rows))
func CopySource[T any](ta *TypeAccessor, rows []T) pgx.CopyFromSource {
	return &copySource[T]{ta: ta, rows: rows, idx: -1}
}

type copySource[T any] struct {
	ta   *TypeAccessor
	rows []T
	idx  int
	err  error
}

func (s *copySource[T]) Next() bool {
	if s.err != nil {
		return false
	}
	s.idx++
	return s.idx < len(s.rows)
}

func (s *copySource[T]) Values() ([]any, error) {
	vals, err := s.ta.Values(s.rows[s.idx])
	if err != nil {
		s.err = err
		return nil, err
	}
	return vals, nil
}

func (s *copySource[T]) Err() error { return s.err }

// Identifier returns the destination table as a pgx identifier, splitting a
// schema-qualified name.
func (ta *TypeAccessor) Identifier() pgx.Identifier {
	return pgx.Identifier(strings.Split(ta.target.Table, "."))
}
