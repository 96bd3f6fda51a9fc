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

	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/dbctx/session"
	"github.com/tomoncle/dbctx/types"
)

// ReadRepository loads entities. Loaded entities are tracked by the session
// unless the query opts out with AsNoTracking.
type ReadRepository[T any] interface {
	GetByKey(ctx context.Context, key ...any) (*T, error)

	GetByKeys(ctx context.Context, entity *T) (*T, error)

	GetEntity(ctx context.Context, filter *types.QueryFilter) (*T, error)

	Where(filter *types.QueryFilter) *Query[T]

	GetList() *Query[T]

	GetTotal(ctx context.Context) (int, error)

	GetTotalWhere(ctx context.Context, filter *types.QueryFilter) (int, error)

	Page(ctx context.Context, filter *types.QueryFilter, orderBy string, ascending bool, page *types.PageRequest) (*types.Pagination[T], error)
}

// WriteRepository schedules changes on the session. With saveChange set the
// session is committed before returning.
type WriteRepository[T any] interface {
	Add(ctx context.Context, entity *T, saveChange bool) error
	AddRange(ctx context.Context, entities []*T, saveChange bool) error

	Update(ctx context.Context, entity *T, saveChange bool) error
	UpdateByKey(ctx context.Context, changes map[string]any, saveChange bool, key ...any) error

	Delete(ctx context.Context, entity *T, saveChange bool) error
	DeleteWhere(ctx context.Context, filter *types.QueryFilter, saveChange bool) error
	DeleteRange(ctx context.Context, entities []*T, saveChange bool) error
	DeleteByKey(ctx context.Context, saveChange bool, key ...any) error

	// Upsert writes entities immediately, outside the session's pending list.
	Upsert(ctx context.Context, fields []string, duplicateKeys []string, entities ...*T) error
}

// SqlRepository runs raw SQL against the session's database.
type SqlRepository[T any] interface {
	SqlQuery(ctx context.Context, query string, args ...any) ([]*T, error)
	ExecuteSqlCommand(ctx context.Context, query string, args ...any) (int64, error)
}

// Repository combines reads, writes and raw SQL for one entity type bound to
// one session.
type Repository[T any] interface {
	ReadRepository[T]
	WriteRepository[T]
	SqlRepository[T]

	SaveChanges(ctx context.Context) (int64, error)
	KeyProperty() string
	KeyProperties() []string
	Session() *session.Session
	Dialect() schema.Dialect
}
