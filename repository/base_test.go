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
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/session"
	"github.com/tomoncle/dbctx/types"
)

type product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID       int64  `bun:"id,pk,autoincrement"`
	Name     string `bun:"name,notnull,unique"`
	Category string `bun:"category"`
	Price    int    `bun:"price"`
}

type orderLine struct {
	bun.BaseModel `bun:"table:order_lines,alias:ol"`

	OrderID  int64 `bun:"order_id,pk"`
	LineNo   int   `bun:"line_no,pk"`
	Quantity int   `bun:"quantity"`
}

type logLine struct {
	bun.BaseModel `bun:"table:log_lines"`

	Message string `bun:"message"`
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = ":memory:"
	cfg.SlowQueryTime = 0

	m := database.NewDatabaseManager(cfg, database.WithLogger(database.NopLogger{}))
	require.NoError(t, m.Connect(context.Background()))
	t.Cleanup(func() { _ = m.Disconnect() })

	db := m.GetDB()
	for _, model := range []any{(*product)(nil), (*orderLine)(nil), (*logLine)(nil)} {
		_, err := db.NewCreateTable().Model(model).Exec(context.Background())
		require.NoError(t, err)
	}
	return db
}

func openSession(t *testing.T, db *bun.DB) *session.Session {
	t.Helper()
	s := session.New(db, session.WithLogger(database.NopLogger{}))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedProducts inserts n products named p01..pNN with alternating categories
// and price equal to the index.
func seedProducts(t *testing.T, db *bun.DB, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		category := "even"
		if i%2 == 1 {
			category = "odd"
		}
		_, err := db.NewInsert().Model(&product{Name: fmt.Sprintf("p%02d", i), Category: category, Price: i}).Exec(context.Background())
		require.NoError(t, err)
	}
}

func names(items []*product) []string {
	out := make([]string, len(items))
	for i, p := range items {
		out[i] = p.Name
	}
	return out
}

func TestAddThenGetByKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository[product](openSession(t, db))

	p := &product{Name: "lamp", Category: "home", Price: 30}
	require.NoError(t, repo.Add(ctx, p, true))
	require.NotZero(t, p.ID)

	got, err := repo.GetByKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Same(t, p, got)

	fresh, err := NewRepository[product](openSession(t, db)).GetByKey(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, *p, *fresh)
}

func TestAddWithoutSaveIsDeferred(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository[product](openSession(t, db))

	require.NoError(t, repo.Add(ctx, &product{Name: "a"}, false))
	require.NoError(t, repo.AddRange(ctx, []*product{{Name: "b"}, {Name: "c"}}, false))

	total, err := repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	n, err := repo.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	total, err = repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestGetByKeyAbsentAndInvalid(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := openSession(t, db)

	got, err := NewRepository[product](s).GetByKey(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = NewRepository[product](s).GetByKey(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewRepository[product](s).GetByKey(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewRepository[logLine](s).GetByKey(ctx, 1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, session.ErrNoPrimaryKey)
}

func TestGetByKeyComposite(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository[orderLine](openSession(t, db))

	require.NoError(t, repo.AddRange(ctx, []*orderLine{
		{OrderID: 1, LineNo: 1, Quantity: 5},
		{OrderID: 1, LineNo: 2, Quantity: 7},
	}, true))

	other := NewRepository[orderLine](openSession(t, db))
	got, err := other.GetByKey(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 7, got.Quantity)

	again, err := other.GetByKey(ctx, int64(1), 2)
	require.NoError(t, err)
	assert.Same(t, got, again)

	missing, err := other.GetByKey(ctx, 2, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Equal(t, "OrderID", other.KeyProperty())
	assert.Equal(t, []string{"OrderID", "LineNo"}, other.KeyProperties())
}

func TestGetByKeysIsNotImplemented(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository[orderLine](openSession(t, db))
	got, err := repo.GetByKeys(context.Background(), &orderLine{OrderID: 1, LineNo: 1})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = repo.GetByKeys(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestUpdatePersistsTrackedEntity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 3)
	repo := NewRepository[product](openSession(t, db))

	p, err := repo.GetEntity(ctx, types.NewQueryFilter("name = ?", "p02"))
	require.NoError(t, err)
	p.Price = 99
	p.Category = "sale"
	require.NoError(t, repo.Update(ctx, p, true))

	fresh, err := NewRepository[product](openSession(t, db)).GetByKey(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 99, fresh.Price)
	assert.Equal(t, "sale", fresh.Category)
}

func TestUpdateAndDeleteRejectDetached(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 1)
	repo := NewRepository[product](openSession(t, db))

	detached := &product{ID: 1, Name: "p01", Price: 500}
	assert.ErrorIs(t, repo.Update(ctx, detached, true), ErrDetachedEntity)
	assert.ErrorIs(t, repo.Delete(ctx, detached, true), ErrDetachedEntity)
	assert.ErrorIs(t, repo.DeleteRange(ctx, []*product{detached}, true), ErrDetachedEntity)

	stored, err := repo.GetByKey(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Price)
}

func TestUpdateByKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 2)
	repo := NewRepository[product](openSession(t, db))

	cached, err := repo.GetByKey(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateByKey(ctx, map[string]any{"price": 42, "category": "x"}, true, 1))

	reloaded, err := repo.GetByKey(ctx, 1)
	require.NoError(t, err)
	assert.NotSame(t, cached, reloaded)
	assert.Equal(t, 42, reloaded.Price)
	assert.Equal(t, "x", reloaded.Category)

	assert.ErrorIs(t, repo.UpdateByKey(ctx, map[string]any{"price": 1}, true, 404), ErrNoRowsAffected)
	assert.ErrorIs(t, repo.UpdateByKey(ctx, nil, true, 1), ErrInvalidArgument)
	assert.ErrorIs(t, repo.UpdateByKey(ctx, map[string]any{"nope": 1}, true, 1), ErrInvalidArgument)
	assert.ErrorIs(t, repo.UpdateByKey(ctx, map[string]any{"id": 7}, true, 1), ErrInvalidArgument)
	assert.ErrorIs(t, repo.UpdateByKey(ctx, map[string]any{"price": 1}, true), ErrInvalidArgument)
	assert.False(t, repo.Session().HasChanges())
}

func TestDeleteThenGetByKeyIsAbsent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 2)
	repo := NewRepository[product](openSession(t, db))

	p, err := repo.GetByKey(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, p, false))

	// pending delete already hides the entity from key lookups
	pending, err := repo.GetByKey(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, pending)

	_, err = repo.SaveChanges(ctx)
	require.NoError(t, err)

	gone, err := repo.GetByKey(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, gone)

	fresh, err := NewRepository[product](openSession(t, db)).GetByKey(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, fresh)
}

func TestDeleteAddedEntityIsDropped(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewRepository[product](openSession(t, db))

	p := &product{Name: "temp"}
	require.NoError(t, repo.Add(ctx, p, false))
	require.NoError(t, repo.Update(ctx, p, false))
	assert.Equal(t, types.Added, repo.Session().State(p))

	assert.ErrorIs(t, repo.Delete(ctx, p, true), ErrNoRowsAffected)
	assert.Equal(t, types.Detached, repo.Session().State(p))
	total, err := repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteWhere(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 6)
	repo := NewRepository[product](openSession(t, db))

	require.NoError(t, repo.DeleteWhere(ctx, types.NewQueryFilter("category = ?", "odd"), true))

	left, err := repo.GetList().OrderBy("id", true).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p02", "p04", "p06"}, names(left))

	assert.ErrorIs(t, repo.DeleteWhere(ctx, types.NewQueryFilter("category = ?", "none"), true), ErrNoRowsAffected)
	require.NoError(t, repo.DeleteWhere(ctx, types.NewQueryFilter("category = ?", "none"), false))
}

func TestDeleteRangeAndByKey(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 5)
	repo := NewRepository[product](openSession(t, db))

	items, err := repo.Where(types.NewQueryFilter("price <= ?", 2)).List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NoError(t, repo.DeleteRange(ctx, items, false))

	tracked, err := repo.GetByKey(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteByKey(ctx, false, 3))
	assert.Equal(t, types.Deleted, repo.Session().State(tracked))

	// untracked key goes through a keyed delete
	require.NoError(t, repo.DeleteByKey(ctx, false, 4))
	assert.Equal(t, 4, repo.Session().PendingCount())

	n, err := repo.SaveChanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	total, err := repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.ErrorIs(t, repo.DeleteByKey(ctx, true, 404), ErrNoRowsAffected)
	assert.ErrorIs(t, repo.DeleteByKey(ctx, true), ErrInvalidArgument)
}

func TestNullArgumentsFailBeforeTouchingStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := openSession(t, db)
	repo := NewRepository[product](s)

	assert.ErrorIs(t, repo.Add(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Update(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Delete(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.DeleteRange(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.DeleteRange(ctx, []*product{nil}, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.DeleteWhere(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.AddRange(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.AddRange(ctx, []*product{{Name: "ok"}, nil}, true), ErrInvalidArgument)
	assert.False(t, s.HasChanges())

	// a closed handle proves nothing reached the database
	require.NoError(t, db.Close())
	assert.ErrorIs(t, repo.Add(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Delete(ctx, nil, true), ErrInvalidArgument)
	assert.ErrorIs(t, repo.DeleteRange(ctx, nil, true), ErrInvalidArgument)
}

func TestGetEntityRequiresExactlyOneMatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 4)
	s := openSession(t, db)
	repo := NewRepository[product](s)

	one, err := repo.GetEntity(ctx, types.NewQueryFilter("name = ?", "p03"))
	require.NoError(t, err)
	assert.Equal(t, 3, one.Price)
	assert.Equal(t, types.Unchanged, s.State(one))
	assert.Equal(t, 1, s.TrackedCount())

	_, err = repo.GetEntity(ctx, types.NewQueryFilter("name = ?", "missing"))
	assert.ErrorIs(t, err, ErrNotFound)

	// rejected candidates are not tracked
	_, err = repo.GetEntity(ctx, types.NewQueryFilter("category = ?", "even"))
	assert.ErrorIs(t, err, ErrMultipleResults)
	assert.Equal(t, 1, s.TrackedCount())

	_, err = repo.GetEntity(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGetTotalMatchesEnumeration(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 9)
	repo := NewRepository[product](openSession(t, db))

	all, err := repo.GetList().List(ctx)
	require.NoError(t, err)
	total, err := repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(all), total)

	filters := []*types.QueryFilter{
		types.NewQueryFilter("category = ?", "odd"),
		types.NewQueryFilter("price > ?", 4),
		types.NewQueryFilter("price > ?", 100),
		types.And(types.NewQueryFilter("category = ?", "even"), types.NewQueryFilter("price < ?", 5)),
		types.Or(types.NewQueryFilter("price = ?", 1), types.NewQueryFilter("price = ?", 9)),
	}
	for _, f := range filters {
		t.Run(f.Schema, func(t *testing.T) {
			n, err := repo.GetTotalWhere(ctx, f)
			require.NoError(t, err)

			expected := 0
			for _, p := range all {
				if matches(f, p) {
					expected++
				}
			}
			assert.Equal(t, expected, n)

			items, err := repo.Where(f).List(ctx)
			require.NoError(t, err)
			assert.Len(t, items, n)
		})
	}

	_, err = repo.GetTotalWhere(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

// matches evaluates the fixed filters of TestGetTotalMatchesEnumeration in Go.
func matches(f *types.QueryFilter, p *product) bool {
	switch f.Schema {
	case "category = ?":
		return p.Category == f.Args[0]
	case "price > ?":
		return p.Price > f.Args[0].(int)
	case "(category = ?) AND (price < ?)":
		return p.Category == f.Args[0] && p.Price < f.Args[1].(int)
	case "(price = ?) OR (price = ?)":
		return p.Price == f.Args[0].(int) || p.Price == f.Args[1].(int)
	}
	return false
}

func TestPageReturnsWindowAndTotal(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 23)
	repo := NewRepository[product](openSession(t, db))
	odd := types.NewQueryFilter("category = ?", "odd")

	// odd prices: 1,3,...,23 -> 12 rows; descending by price
	var sorted []*product
	all, err := repo.Where(odd).OrderBy("price", true).AsNoTracking().List(ctx)
	require.NoError(t, err)
	for i := len(all) - 1; i >= 0; i-- {
		sorted = append(sorted, all[i])
	}

	for _, tc := range []struct{ page, size int }{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {1, 12}, {2, 20}} {
		t.Run(fmt.Sprintf("page=%d,size=%d", tc.page, tc.size), func(t *testing.T) {
			result, err := repo.Page(ctx, odd, "price", false, types.NewPageRequest(tc.page, tc.size))
			require.NoError(t, err)
			assert.Equal(t, 12, result.Total)
			assert.Equal(t, tc.page, result.Page)
			assert.Equal(t, tc.size, result.PageSize)

			lo := min((tc.page-1)*tc.size, len(sorted))
			hi := min(tc.page*tc.size, len(sorted))
			assert.Equal(t, names(sorted[lo:hi]), names(result.Items))
		})
	}

	asc, err := repo.Page(ctx, nil, "", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 23, asc.Total)
	assert.Equal(t, 1, asc.Page)
	assert.Equal(t, 10, asc.PageSize)
	assert.Equal(t, 3, asc.Pages())
	require.Len(t, asc.Items, 10)
	assert.Equal(t, "p01", asc.Items[0].Name)

	empty, err := repo.Page(ctx, types.NewQueryFilter("price > ?", 1000), "name", true, types.NewPageRequest(1, 5))
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Items)

	_, err = repo.Page(ctx, odd, "no_such_column", true, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQueryIsLazyAndImmutable(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 6)
	repo := NewRepository[product](openSession(t, db))

	base := repo.Where(types.NewQueryFilter("price > ?", 1))
	ordered := base.OrderBy("price", false)
	page := ordered.Skip(1).Take(2)

	// rows inserted after building are visible when the query runs
	_, err := db.NewInsert().Model(&product{Name: "late", Price: 100}).Exec(ctx)
	require.NoError(t, err)

	items, err := page.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p06", "p05"}, names(items))

	n, err := base.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = page.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n, "Count ignores Skip and Take")

	first, err := ordered.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", first.Name)

	none, err := repo.Where(types.NewQueryFilter("price < ?", 0)).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	exists, err := base.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	zero, err := base.Take(0).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, zero)

	single, err := ordered.Take(1).Single(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late", single.Name)

	applied, err := repo.GetList().Apply(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("category = ?", "even")
	}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	_, err = repo.Where(nil).List(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = base.Skip(-1).List(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = base.Take(-1).Count(ctx)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQueryTracking(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 3)
	s := openSession(t, db)
	repo := NewRepository[product](s)

	byKey, err := repo.GetByKey(ctx, 2)
	require.NoError(t, err)
	listed, err := repo.Where(types.NewQueryFilter("id = ?", 2)).List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Same(t, byKey, listed[0])

	untracked, err := repo.Where(types.NewQueryFilter("id = ?", 2)).AsNoTracking().List(ctx)
	require.NoError(t, err)
	assert.NotSame(t, byKey, untracked[0])
	assert.Equal(t, types.Detached, s.State(untracked[0]))

	// rows of key-less models are returned but never tracked
	_, err = db.NewInsert().Model(&logLine{Message: "hello"}).Exec(ctx)
	require.NoError(t, err)
	lines, err := NewRepository[logLine](s).GetList().List(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, types.Detached, s.State(lines[0]))
}

func TestRawSQL(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 4)
	s := openSession(t, db)
	repo := NewRepository[product](s)

	rows, err := repo.SqlQuery(ctx, "SELECT * FROM products WHERE price >= ? ORDER BY price", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"p03", "p04"}, names(rows))
	assert.Equal(t, types.Detached, s.State(rows[0]))

	n, err := repo.ExecuteSqlCommand(ctx, "UPDATE products SET category = ? WHERE price < ?", "cheap", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cheap, err := repo.GetTotalWhere(ctx, types.NewQueryFilter("category = ?", "cheap"))
	require.NoError(t, err)
	assert.Equal(t, 2, cheap)

	_, err = repo.SqlQuery(ctx, "SELECT * FROM nowhere")
	is, kind := database.IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, database.NoTableErr, kind)

	_, err = repo.SqlQuery(ctx, " ")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = repo.ExecuteSqlCommand(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

var errNoRowCount = errors.New("row count unavailable")

// rowCountlessConnector is a database/sql connector whose statements succeed
// without being able to report affected rows.
type rowCountlessConnector struct{}

func (c rowCountlessConnector) Connect(context.Context) (driver.Conn, error) { return c, nil }
func (c rowCountlessConnector) Driver() driver.Driver                        { return c }
func (c rowCountlessConnector) Open(string) (driver.Conn, error)             { return c, nil }
func (c rowCountlessConnector) Prepare(string) (driver.Stmt, error)          { return c, nil }
func (c rowCountlessConnector) Begin() (driver.Tx, error)                    { return nil, errNoRowCount }
func (c rowCountlessConnector) Close() error                                 { return nil }
func (c rowCountlessConnector) NumInput() int                                { return -1 }
func (c rowCountlessConnector) Exec([]driver.Value) (driver.Result, error)   { return c, nil }
func (c rowCountlessConnector) Query([]driver.Value) (driver.Rows, error)    { return nil, errNoRowCount }
func (c rowCountlessConnector) LastInsertId() (int64, error)                 { return 0, errNoRowCount }
func (c rowCountlessConnector) RowsAffected() (int64, error)                 { return 0, errNoRowCount }

func TestExecuteSqlCommandReportsRowCountFailure(t *testing.T) {
	sqldb := sql.OpenDB(rowCountlessConnector{})
	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })
	repo := NewRepository[product](openSession(t, db))

	n, err := repo.ExecuteSqlCommand(context.Background(), "UPDATE products SET price = 0")
	assert.ErrorIs(t, err, errNoRowCount)
	assert.Zero(t, n)
}

func TestSkipWithoutTake(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 5)
	repo := NewRepository[product](openSession(t, db))

	rows, err := repo.GetList().OrderBy("id", true).Skip(2).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p03", "p04", "p05"}, names(rows))

	rows, err = repo.Where(types.NewQueryFilter("category = ?", "odd")).OrderBy("price", false).Skip(1).List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p03", "p01"}, names(rows))

	first, err := repo.GetList().OrderBy("id", true).Skip(4).First(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "p05", first.Name)

	rows, err = repo.GetList().Skip(10).List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStoreErrorsPropagateUnchanged(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 1)
	repo := NewRepository[product](openSession(t, db))

	err := repo.Add(ctx, &product{Name: "p01"}, true)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidArgument)
	is, kind := database.IsSqlError(err)
	assert.True(t, is)
	assert.Equal(t, database.DuplicateKeyErr, kind)
	assert.True(t, repo.Session().HasChanges())
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 2)
	repo := NewRepository[product](openSession(t, db))

	err := repo.Upsert(ctx, []string{"price", "category"}, nil,
		&product{ID: 1, Name: "p01", Category: "updated", Price: 11},
		&product{ID: 3, Name: "p03", Category: "new", Price: 33},
	)
	require.NoError(t, err)

	fresh := NewRepository[product](openSession(t, db))
	p1, err := fresh.GetByKey(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 11, p1.Price)
	assert.Equal(t, "updated", p1.Category)
	p3, err := fresh.GetByKey(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 33, p3.Price)

	assert.ErrorIs(t, repo.Upsert(ctx, nil, nil, &product{ID: 1}), ErrInvalidArgument)
	assert.ErrorIs(t, repo.Upsert(ctx, []string{"price"}, nil, nil), ErrInvalidArgument)
	assert.NoError(t, repo.Upsert(ctx, []string{"price"}, nil))
}

func TestUpsertConflictColumns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 2)
	repo := NewRepository[product](openSession(t, db))

	// conflict on the unique name column instead of the primary key
	require.NoError(t, repo.Upsert(ctx, []string{"price"}, []string{"name"},
		&product{ID: 9, Name: "p02", Category: "even", Price: 200}))
	total, err := repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	p2, err := repo.GetEntity(ctx, types.NewQueryFilter("name = ?", "p02"))
	require.NoError(t, err)
	assert.Equal(t, 200, p2.Price)

	err = repo.Upsert(ctx, []string{"price"}, []string{"name) DO NOTHING; DROP TABLE products; --"},
		&product{ID: 1, Name: "p01", Price: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	err = repo.Upsert(ctx, []string{"no_such_column"}, nil, &product{ID: 1, Name: "p01", Price: 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	total, err = repo.GetTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestClosedSessionRejectsOperations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProducts(t, db, 1)
	s := session.New(db, session.WithLogger(database.NopLogger{}))
	repo := NewRepository[product](s)
	require.NoError(t, s.Close())

	_, err := repo.GetByKey(ctx, 1)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = repo.GetList().List(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = repo.GetTotal(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, repo.Add(ctx, &product{Name: "x"}, false), ErrSessionClosed)
	assert.ErrorIs(t, repo.DeleteRange(ctx, []*product{}, false), ErrSessionClosed)
	_, err = repo.SqlQuery(ctx, "SELECT * FROM products")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = repo.ExecuteSqlCommand(ctx, "DELETE FROM products")
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = repo.SaveChanges(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDialect(t *testing.T) {
	repo := NewRepository[product](openSession(t, newTestDB(t)))
	assert.Equal(t, "sqlite", repo.Dialect().Name().String())
}
