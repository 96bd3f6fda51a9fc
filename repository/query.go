/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/uptrace/bun"

	"github.com/tomoncle/dbctx/types"
)

type orderTerm struct {
	column    string
	ascending bool
}

// Query is a lazily evaluated query over the entities of a repository.
// Builder methods return a new Query and never modify the receiver; nothing
// reaches the database until List, First, Single, Count or Exists is called.
type Query[T any] struct {
	repo       *baseRepositoryImpl[T]
	filters    []*types.QueryFilter
	orders     []orderTerm
	mods       []func(*bun.SelectQuery) *bun.SelectQuery
	offset     int
	limit      int
	noTracking bool
	err        error
}

func newQuery[T any](repo *baseRepositoryImpl[T]) *Query[T] {
	return &Query[T]{repo: repo, limit: -1}
}

func (q *Query[T]) clone() *Query[T] {
	c := *q
	c.filters = append([]*types.QueryFilter(nil), q.filters...)
	c.orders = append([]orderTerm(nil), q.orders...)
	c.mods = append([]func(*bun.SelectQuery) *bun.SelectQuery(nil), q.mods...)
	return &c
}

func (q *Query[T]) fail(err error) *Query[T] {
	c := q.clone()
	if c.err == nil {
		c.err = err
	}
	return c
}

// Where narrows the query with filter. Successive calls are joined with AND.
func (q *Query[T]) Where(filter *types.QueryFilter) *Query[T] {
	if filter == nil {
		return q.fail(fmt.Errorf("%w: nil filter", ErrInvalidArgument))
	}
	c := q.clone()
	if !filter.IsEmpty() {
		c.filters = append(c.filters, filter)
	}
	return c
}

// OrderBy appends an ordering on a column of the entity's table.
func (q *Query[T]) OrderBy(column string, ascending bool) *Query[T] {
	if _, ok := q.repo.table.FieldMap[column]; !ok {
		return q.fail(fmt.Errorf("%w: unknown column %q", ErrInvalidArgument, column))
	}
	c := q.clone()
	c.orders = append(c.orders, orderTerm{column: column, ascending: ascending})
	return c
}

// Skip bypasses the first n entities.
func (q *Query[T]) Skip(n int) *Query[T] {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: negative skip %d", ErrInvalidArgument, n))
	}
	c := q.clone()
	c.offset = n
	return c
}

// Take limits the result to n entities.
func (q *Query[T]) Take(n int) *Query[T] {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: negative take %d", ErrInvalidArgument, n))
	}
	c := q.clone()
	c.limit = n
	return c
}

// Apply adds an arbitrary modification of the underlying select, such as a
// join or a relation to load.
func (q *Query[T]) Apply(fn func(*bun.SelectQuery) *bun.SelectQuery) *Query[T] {
	if fn == nil {
		return q
	}
	c := q.clone()
	c.mods = append(c.mods, fn)
	return c
}

// AsNoTracking returns entities without attaching them to the session.
func (q *Query[T]) AsNoTracking() *Query[T] {
	c := q.clone()
	c.noTracking = true
	return c
}

func (q *Query[T]) check() error {
	if q.err != nil {
		return q.err
	}
	if q.repo.sess.Closed() {
		return ErrSessionClosed
	}
	return nil
}

func (q *Query[T]) selectQuery(model any, paged bool) *bun.SelectQuery {
	sq := q.repo.db.NewSelect().Model(model)
	for _, f := range q.filters {
		sq = sq.Where(f.Schema, f.Args...)
	}
	for _, fn := range q.mods {
		sq = fn(sq)
	}
	if !paged {
		return sq
	}
	for _, o := range q.orders {
		if o.ascending {
			sq = sq.OrderExpr("?TableAlias.? ASC", bun.Ident(o.column))
		} else {
			sq = sq.OrderExpr("?TableAlias.? DESC", bun.Ident(o.column))
		}
	}
	if q.offset > 0 {
		sq = sq.Offset(q.offset)
	}
	switch {
	case q.limit > 0:
		sq = sq.Limit(q.limit)
	case q.offset > 0:
		// sqlite and mysql only accept OFFSET after a LIMIT
		sq = sq.Limit(math.MaxInt)
	}
	return sq
}

// atMost caps the limit at n without loosening a smaller Take.
func (q *Query[T]) atMost(n int) *Query[T] {
	if q.limit >= 0 && q.limit <= n {
		return q
	}
	return q.Take(n)
}

// List runs the query and returns every matching entity.
func (q *Query[T]) List(ctx context.Context) ([]*T, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	if q.limit == 0 {
		return []*T{}, nil
	}
	rows := make([]*T, 0)
	if err := q.selectQuery(&rows, true).Scan(ctx); err != nil {
		return nil, err
	}
	if q.noTracking {
		return rows, nil
	}
	return q.repo.track(rows)
}

// First returns the first matching entity, or nil when none matches.
func (q *Query[T]) First(ctx context.Context) (*T, error) {
	rows, err := q.atMost(1).List(ctx)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Single returns the only matching entity. It fails with ErrNotFound when
// nothing matches and with ErrMultipleResults when more than one does.
func (q *Query[T]) Single(ctx context.Context) (*T, error) {
	rows, err := q.atMost(2).AsNoTracking().List(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case len(rows) == 0:
		return nil, ErrNotFound
	case len(rows) > 1:
		return nil, ErrMultipleResults
	case q.noTracking:
		return rows[0], nil
	}
	tracked, err := q.repo.track(rows)
	if err != nil {
		return nil, err
	}
	return tracked[0], nil
}

// Count returns the number of matching rows, ignoring Skip and Take.
func (q *Query[T]) Count(ctx context.Context) (int, error) {
	if err := q.check(); err != nil {
		return 0, err
	}
	return q.selectQuery((*T)(nil), false).Count(ctx)
}

// Exists reports whether any row matches.
func (q *Query[T]) Exists(ctx context.Context) (bool, error) {
	if err := q.check(); err != nil {
		return false, err
	}
	return q.selectQuery((*T)(nil), false).Exists(ctx)
}
