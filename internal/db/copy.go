package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using PostgreSQL COPY protocol.
func CopyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}

	return n, nil
}

// CopyFromChan streams items from a channel into a table with a single COPY,
// converting each item with values. The copy ends when items is closed or ctx
// is cancelled.
func CopyFromChan[T any](ctx context.Context, q Querier, table string, columns []string, items <-chan T, values func(T) []any) (int64, error) {
	src := &chanSource[T]{ctx: ctx, items: items, values: values}
	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	if src.err != nil {
		return 0, eris.Wrapf(src.err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// chanSource adapts a channel to pgx.CopyFromSource.
type chanSource[T any] struct {
	ctx    context.Context
	items  <-chan T
	values func(T) []any
	cur    T
	err    error
}

func (s *chanSource[T]) Next() bool {
	select {
	case <-s.ctx.Done():
		s.err = s.ctx.Err()
		return false
	case item, ok := <-s.items:
		if !ok {
			return false
		}
		s.cur = item
		return true
	}
}

func (s *chanSource[T]) Values() ([]any, error) { return s.values(s.cur), nil }

func (s *chanSource[T]) Err() error { return s.err }
