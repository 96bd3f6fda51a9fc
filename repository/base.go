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
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/session"
	"github.com/tomoncle/dbctx/types"
)

type baseRepositoryImpl[T any] struct {
	sess  *session.Session
	db    *bun.DB
	table *schema.Table
}

// NewRepository returns a repository of T bound to s. T must be a Bun model
// struct; s must not be nil.
func NewRepository[T any](s *session.Session) Repository[T] {
	return newRepository[T](s)
}

func newRepository[T any](s *session.Session) *baseRepositoryImpl[T] {
	db := s.DB()
	return &baseRepositoryImpl[T]{
		sess:  s,
		db:    db,
		table: db.Table(reflect.TypeOf((*T)(nil)).Elem()),
	}
}

func (r *baseRepositoryImpl[T]) Session() *session.Session { return r.sess }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) KeyProperty() string {
	return session.KeyProperty(r.db, (*T)(nil))
}

func (r *baseRepositoryImpl[T]) KeyProperties() []string {
	return session.KeyProperties(r.db, (*T)(nil))
}

func (r *baseRepositoryImpl[T]) SaveChanges(ctx context.Context) (int64, error) {
	return r.sess.SaveChanges(ctx)
}

// commit saves the session when asked to and reports a commit that changed
// nothing as ErrNoRowsAffected.
func (r *baseRepositoryImpl[T]) commit(ctx context.Context, saveChange bool) error {
	if !saveChange {
		return nil
	}
	n, err := r.sess.SaveChanges(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *baseRepositoryImpl[T]) track(rows []*T) ([]*T, error) {
	if len(r.table.PKs) == 0 {
		return rows, nil
	}
	for i, row := range rows {
		tracked, err := r.sess.Attach(row)
		if err != nil {
			return nil, err
		}
		rows[i] = tracked.(*T)
	}
	return rows, nil
}

func (r *baseRepositoryImpl[T]) checkOpen() error {
	if r.sess.Closed() {
		return ErrSessionClosed
	}
	return nil
}

func (r *baseRepositoryImpl[T]) GetByKey(ctx context.Context, key ...any) (*T, error) {
	found, state, err := r.sess.Find((*T)(nil), key...)
	if err != nil {
		return nil, invalid(err)
	}
	if found != nil {
		if state == types.Deleted {
			return nil, nil
		}
		return found.(*T), nil
	}

	row := new(T)
	q := r.db.NewSelect().Model(row)
	for i, f := range r.table.PKs {
		q = q.Where("?TableAlias.? = ?", f.SQLName, key[i])
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	tracked, err := r.sess.Attach(row)
	if err != nil {
		return nil, err
	}
	return tracked.(*T), nil
}

// GetByKeys is not supported; it always returns ErrNotImplemented.
func (r *baseRepositoryImpl[T]) GetByKeys(_ context.Context, _ *T) (*T, error) {
	return nil, ErrNotImplemented
}

func (r *baseRepositoryImpl[T]) GetEntity(ctx context.Context, filter *types.QueryFilter) (*T, error) {
	if filter == nil {
		return nil, fmt.Errorf("%w: nil filter", ErrInvalidArgument)
	}
	return r.Where(filter).Single(ctx)
}

func (r *baseRepositoryImpl[T]) Where(filter *types.QueryFilter) *Query[T] {
	return newQuery(r).Where(filter)
}

func (r *baseRepositoryImpl[T]) GetList() *Query[T] {
	return newQuery(r)
}

func (r *baseRepositoryImpl[T]) GetTotal(ctx context.Context) (int, error) {
	return r.GetList().Count(ctx)
}

func (r *baseRepositoryImpl[T]) GetTotalWhere(ctx context.Context, filter *types.QueryFilter) (int, error) {
	return r.Where(filter).Count(ctx)
}

// Page returns one page of the entities matching filter, ordered by orderBy.
// A nil filter pages over every row; an empty orderBy orders by primary key.
func (r *baseRepositoryImpl[T]) Page(ctx context.Context, filter *types.QueryFilter, orderBy string, ascending bool, page *types.PageRequest) (*types.Pagination[T], error) {
	if page == nil {
		page = types.NewPageRequest(1, 10)
	}
	q := r.GetList()
	if filter != nil {
		q = q.Where(filter)
	}
	if orderBy != "" {
		q = q.OrderBy(orderBy, ascending)
	} else {
		for _, f := range r.table.PKs {
			q = q.OrderBy(f.Name, ascending)
		}
	}

	pagination := types.NewDefaultPagination[T](page.GetPage(), page.GetPageSize())
	total, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return pagination, nil
	}
	items, err := q.Skip(page.GetOffset()).Take(page.GetPageSize()).List(ctx)
	if err != nil {
		return nil, err
	}
	pagination.Total = total
	pagination.Items = items
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Add(ctx context.Context, entity *T, saveChange bool) error {
	if entity == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidArgument)
	}
	if err := r.sess.MarkAdded(entity); err != nil {
		return invalid(err)
	}
	return r.commit(ctx, saveChange)
}

func (r *baseRepositoryImpl[T]) AddRange(ctx context.Context, entities []*T, saveChange bool) error {
	if err := checkEntities(entities); err != nil {
		return err
	}
	for _, entity := range entities {
		if err := r.sess.MarkAdded(entity); err != nil {
			return invalid(err)
		}
	}
	return r.commit(ctx, saveChange)
}

// Update schedules an update of a tracked entity. Entities that were not
// loaded or added through the session fail with ErrDetachedEntity; use
// UpdateByKey for those.
func (r *baseRepositoryImpl[T]) Update(ctx context.Context, entity *T, saveChange bool) error {
	if entity == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidArgument)
	}
	if err := r.sess.MarkModified(entity); err != nil {
		return invalid(err)
	}
	return r.commit(ctx, saveChange)
}

// UpdateByKey schedules an update of the row with the given key. changes maps
// column names to new values.
func (r *baseRepositoryImpl[T]) UpdateByKey(ctx context.Context, changes map[string]any, saveChange bool, key ...any) error {
	if len(changes) == 0 {
		return fmt.Errorf("%w: no changes", ErrInvalidArgument)
	}
	err := r.sess.Enqueue(session.Operation{
		Kind:    session.OpUpdate,
		Model:   (*T)(nil),
		Key:     key,
		Changes: changes,
	})
	if err != nil {
		return invalid(err)
	}
	return r.commit(ctx, saveChange)
}

// Delete schedules the deletion of a tracked entity. An entity that is still
// pending insertion is simply dropped.
func (r *baseRepositoryImpl[T]) Delete(ctx context.Context, entity *T, saveChange bool) error {
	if entity == nil {
		return fmt.Errorf("%w: nil entity", ErrInvalidArgument)
	}
	if err := r.sess.MarkDeleted(entity); err != nil {
		return invalid(err)
	}
	return r.commit(ctx, saveChange)
}

// DeleteWhere loads the entities matching filter and schedules their deletion.
func (r *baseRepositoryImpl[T]) DeleteWhere(ctx context.Context, filter *types.QueryFilter, saveChange bool) error {
	if filter == nil {
		return fmt.Errorf("%w: nil filter", ErrInvalidArgument)
	}
	items, err := r.Where(filter).List(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := r.sess.MarkDeleted(item); err != nil {
			return invalid(err)
		}
	}
	return r.commit(ctx, saveChange)
}

// DeleteRange schedules the deletion of tracked entities. Nothing is marked
// when any of them is not tracked.
func (r *baseRepositoryImpl[T]) DeleteRange(ctx context.Context, entities []*T, saveChange bool) error {
	if err := checkEntities(entities); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}
	for _, entity := range entities {
		if r.sess.State(entity) == types.Detached {
			return ErrDetachedEntity
		}
	}
	for _, entity := range entities {
		if err := r.sess.MarkDeleted(entity); err != nil {
			return invalid(err)
		}
	}
	return r.commit(ctx, saveChange)
}

// DeleteByKey marks the tracked instance with the given key as deleted, or
// schedules a keyed delete when none is tracked.
func (r *baseRepositoryImpl[T]) DeleteByKey(ctx context.Context, saveChange bool, key ...any) error {
	found, state, err := r.sess.Find((*T)(nil), key...)
	if err != nil {
		return invalid(err)
	}
	switch {
	case found == nil:
		err = r.sess.Enqueue(session.Operation{Kind: session.OpDelete, Model: (*T)(nil), Key: key})
	case state != types.Deleted:
		err = r.sess.MarkDeleted(found)
	}
	if err != nil {
		return invalid(err)
	}
	return r.commit(ctx, saveChange)
}

// SqlQuery runs a raw query and maps the rows to T. The results are not
// tracked.
func (r *baseRepositoryImpl[T]) SqlQuery(ctx context.Context, query string, args ...any) ([]*T, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	rows := make([]*T, 0)
	if err := r.db.NewRaw(query, args...).Scan(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecuteSqlCommand runs a raw statement and returns the affected row count.
func (r *baseRepositoryImpl[T]) ExecuteSqlCommand(ctx context.Context, query string, args ...any) (int64, error) {
	if err := r.checkOpen(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(query) == "" {
		return 0, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *baseRepositoryImpl[T]) checkColumns(columns []string) error {
	for _, c := range columns {
		if _, ok := r.table.FieldMap[c]; !ok {
			return fmt.Errorf("%w: unknown column %q", ErrInvalidArgument, c)
		}
	}
	return nil
}

func checkEntities[T any](entities []*T) error {
	if entities == nil {
		return fmt.Errorf("%w: nil collection", ErrInvalidArgument)
	}
	for i, entity := range entities {
		if entity == nil {
			return fmt.Errorf("%w: nil entity at index %d", ErrInvalidArgument, i)
		}
	}
	return nil
}

// Upsert inserts entities or updates fields of the rows they collide with on
// duplicateKeys (the primary key when empty).
func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, fields []string, duplicateKeys []string, entities ...*T) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: fields cannot be empty", ErrInvalidArgument)
	}
	if err := r.checkColumns(fields); err != nil {
		return err
	}
	if err := r.checkColumns(duplicateKeys); err != nil {
		return err
	}
	if len(entities) == 0 {
		return nil
	}
	if err := checkEntities(entities); err != nil {
		return err
	}
	if err := r.checkOpen(); err != nil {
		return err
	}

	if r.db.HasFeature(feature.InsertOnConflict) {
		return r.upsertOnConflict(ctx, fields, duplicateKeys, entities)
	} else if r.db.HasFeature(feature.InsertOnDuplicateKey) {
		return r.upsertOnDuplicateKey(ctx, fields, entities)
	}
	return r.upsertFallback(ctx, entities)
}

func (r *baseRepositoryImpl[T]) upsertOnDuplicateKey(ctx context.Context, fields []string, entities []*T) error {
	var sets []string
	for _, field := range fields {
		sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", bun.Ident(field), bun.Ident(field)))
	}
	_, err := r.db.NewInsert().
		Model(&entities).
		On("DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")).
		Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertOnConflict(ctx context.Context, fields []string, duplicateKeys []string, entities []*T) error {
	var conflict []bun.Ident
	for _, key := range duplicateKeys {
		conflict = append(conflict, bun.Ident(key))
	}
	if len(conflict) == 0 {
		for _, f := range r.table.PKs {
			conflict = append(conflict, bun.Ident(f.Name))
		}
	}
	q := r.db.NewInsert().
		Model(&entities).
		On("CONFLICT (?) DO UPDATE", bun.In(conflict))
	for _, field := range fields {
		q = q.Set("? = EXCLUDED.?", bun.Ident(field), bun.Ident(field))
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) upsertFallback(ctx context.Context, entities []*T) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, entity := range entities {
			exists, err := tx.NewSelect().Model(entity).WherePK().Exists(ctx)
			if err != nil {
				return err
			}
			if exists {
				_, err = tx.NewUpdate().Model(entity).WherePK().Exec(ctx)
			} else {
				_, err = tx.NewInsert().Model(entity).Exec(ctx)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
