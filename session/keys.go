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

package session

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// TableOf resolves the Bun table of model, which may be a struct, a struct
// pointer or a typed nil pointer.
func TableOf(db *bun.DB, model any) (*schema.Table, error) {
	typ := reflect.TypeOf(model)
	if typ == nil {
		return nil, ErrInvalidEntity
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s is not a struct", ErrInvalidEntity, typ)
	}
	return db.Table(typ), nil
}

// KeyProperty returns the Go field name of the first primary-key field of
// model, or "" when it has none.
func KeyProperty(db *bun.DB, model any) string {
	keys := KeyProperties(db, model)
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}

// KeyProperties returns the Go field names of the primary-key fields of model
// in declaration order.
func KeyProperties(db *bun.DB, model any) []string {
	table, err := TableOf(db, model)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(table.PKs))
	for _, f := range table.PKs {
		names = append(names, f.GoName)
	}
	return names
}

// KeyColumns returns the column names of the primary key of model.
func KeyColumns(db *bun.DB, model any) []string {
	table, err := TableOf(db, model)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(table.PKs))
	for _, f := range table.PKs {
		names = append(names, f.Name)
	}
	return names
}

// KeyValues returns the primary-key values of entity in declaration order.
func KeyValues(db *bun.DB, entity any) ([]any, error) {
	table, strct, err := structOf(db, entity)
	if err != nil {
		return nil, err
	}
	if len(table.PKs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, table.Type)
	}
	values := make([]any, len(table.PKs))
	for i, f := range table.PKs {
		values[i] = f.Value(strct).Interface()
	}
	return values, nil
}

func isStructPtr(entity any) bool {
	v := reflect.ValueOf(entity)
	return v.IsValid() && v.Kind() == reflect.Ptr && !v.IsNil() && v.Elem().Kind() == reflect.Struct
}

func structOf(db *bun.DB, entity any) (*schema.Table, reflect.Value, error) {
	if !isStructPtr(entity) {
		return nil, reflect.Value{}, ErrInvalidEntity
	}
	v := reflect.ValueOf(entity).Elem()
	return db.Table(v.Type()), v, nil
}

// hasKey reports whether every primary-key field of strct is set.
func hasKey(table *schema.Table, strct reflect.Value) bool {
	if len(table.PKs) == 0 {
		return false
	}
	for _, f := range table.PKs {
		if f.Value(strct).IsZero() {
			return false
		}
	}
	return true
}

func resetKey(table *schema.Table, strct reflect.Value) {
	for _, f := range table.PKs {
		fv := f.Value(strct)
		fv.Set(reflect.Zero(fv.Type()))
	}
}

func identityOf(table *schema.Table, key []any) string {
	var b strings.Builder
	b.WriteString(table.Name)
	for _, k := range key {
		b.WriteByte(0)
		fmt.Fprint(&b, k)
	}
	return b.String()
}

func entityIdentity(table *schema.Table, strct reflect.Value) string {
	key := make([]any, len(table.PKs))
	for i, f := range table.PKs {
		key[i] = f.Value(strct).Interface()
	}
	return identityOf(table, key)
}

func checkKey(table *schema.Table, key []any) error {
	if len(table.PKs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, table.Type)
	}
	if len(key) != len(table.PKs) {
		return fmt.Errorf("%w: %s expects %d key parts, got %d", ErrInvalidKey, table.Type, len(table.PKs), len(key))
	}
	for i, k := range key {
		if k == nil {
			return fmt.Errorf("%w: key part %d is nil", ErrInvalidKey, i)
		}
	}
	return nil
}
