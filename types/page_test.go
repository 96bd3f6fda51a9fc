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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequestDefaults(t *testing.T) {
	p := NewPageRequest(0, 0)
	assert.Equal(t, 1, p.GetPage())
	assert.Equal(t, 10, p.GetPageSize())
	assert.Equal(t, 0, p.GetOffset())

	p = NewPageRequest(3, 25)
	assert.Equal(t, 50, p.GetOffset())
}

func TestPaginationPages(t *testing.T) {
	p := NewDefaultPagination[int](1, 10)
	assert.Equal(t, 0, p.Pages())
	p.Total = 21
	assert.Equal(t, 3, p.Pages())
	p.Total = 20
	assert.Equal(t, 2, p.Pages())
}

func TestFilterComposition(t *testing.T) {
	f := And(NewQueryFilter("age > ?", 18), nil, NewQueryFilter("name = ?", "bob"))
	assert.Equal(t, "(age > ?) AND (name = ?)", f.Schema)
	assert.Equal(t, []interface{}{18, "bob"}, f.Args)

	f = Or(NewQueryFilter("a = 1"), NewQueryFilter("  "))
	assert.Equal(t, "(a = 1)", f.Schema)
	assert.Empty(t, f.Args)

	assert.Nil(t, And())
	assert.True(t, (*QueryFilter)(nil).IsEmpty())
}

func TestEntityState(t *testing.T) {
	assert.Equal(t, "added", Added.String())
	assert.Equal(t, 4, Deleted.Number())
	assert.True(t, Modified.Pending())
	assert.False(t, Unchanged.Pending())
	assert.False(t, Detached.Pending())

	bogus := EntityState(42)
	assert.False(t, bogus.IsValid())
	assert.Equal(t, IllegalValue, bogus.Number())
	assert.Equal(t, IllegalName, bogus.Name())
	assert.Equal(t, IllegalDesc, bogus.Desc())
}

func TestJsonObjectScan(t *testing.T) {
	var obj JsonObject
	assert.NoError(t, obj.Scan(`{"k":"v"}`))
	assert.Equal(t, "v", obj["k"])

	var arr JsonArray
	assert.NoError(t, arr.Scan([]byte(`[{"a":1}]`)))
	assert.Len(t, arr, 1)

	assert.Error(t, obj.Scan(42))

	assert.NoError(t, obj.Scan(nil))
	assert.Empty(t, obj)

	v, err := JsonObject(nil).Value()
	assert.NoError(t, err)
	assert.Nil(t, v)
}
