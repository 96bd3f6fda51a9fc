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

// Package dbctx ties named databases, sessions and repositories together.
//
// A scope opens one session for a named database, carries it in the context
// and closes it when the scope returns:
//
//	err := dbctx.Scope(ctx, "main", func(ctx context.Context) error {
//		users, err := dbctx.Repo[User](ctx)
//		if err != nil {
//			return err
//		}
//		return users.Add(ctx, &User{Name: "ann"}, true)
//	})
package dbctx

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/repository"
	"github.com/tomoncle/dbctx/session"
)

// ErrNoSession is returned when the context carries no session.
var ErrNoSession = errors.New("dbctx: no session in context")

// Open returns a new session over the database registered as name in r.
// The caller owns the session and must close it.
func Open(r *database.Registry, name string, opts ...session.Option) (*session.Session, error) {
	db, err := r.DB(name)
	if err != nil {
		return nil, err
	}
	return session.New(db, opts...), nil
}

// Scope runs fn with a fresh session over the default registry's database
// name. Changes not saved by fn are dropped when the session closes.
func Scope(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return ScopeIn(ctx, database.Default(), name, fn)
}

// ScopeIn is Scope over an explicit registry.
func ScopeIn(ctx context.Context, r *database.Registry, name string, fn func(ctx context.Context) error) error {
	s, err := Open(r, name)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return fn(session.WithSession(ctx, s))
}

// UnitOfWork is like Scope but saves the session's pending changes when fn
// succeeds.
func UnitOfWork(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return UnitOfWorkIn(ctx, database.Default(), name, fn)
}

// UnitOfWorkIn is UnitOfWork over an explicit registry.
func UnitOfWorkIn(ctx context.Context, r *database.Registry, name string, fn func(ctx context.Context) error) error {
	return ScopeIn(ctx, r, name, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		s, _ := session.FromContext(ctx)
		if _, err := s.SaveChanges(ctx); err != nil {
			return fmt.Errorf("save changes: %w", err)
		}
		return nil
	})
}

// Repo returns a repository of T bound to the session carried by ctx.
func Repo[T any](ctx context.Context) (repository.Repository[T], error) {
	s, ok := session.FromContext(ctx)
	if !ok {
		return nil, ErrNoSession
	}
	return repository.NewRepository[T](s), nil
}
