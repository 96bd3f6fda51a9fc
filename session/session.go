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
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/types"
)

// OperationKind selects what a keyed Operation does.
type OperationKind int

const (
	OpUpdate OperationKind = iota + 1
	OpDelete
)

func (k OperationKind) String() string {
	switch k {
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is a write addressed by primary key rather than by a tracked
// instance. Model only selects the table and may be a typed nil pointer.
type Operation struct {
	Kind    OperationKind
	Model   any
	Key     []any
	Changes map[string]any
}

type entry struct {
	entity   any
	table    *schema.Table
	strct    reflect.Value
	state    types.EntityState
	identity string
	queued   bool
}

type keyedOp struct {
	Operation
	table    *schema.Table
	identity string
}

// change is one slot of the pending list; exactly one field is set.
type change struct {
	entry *entry
	op    *keyedOp
}

// Session is a unit of work over one database. It is not meant to be shared
// between goroutines; the internal lock only protects its own maps.
type Session struct {
	id     string
	db     *bun.DB
	logger database.Logger

	mu         sync.Mutex
	closed     bool
	byEntity   map[any]*entry
	byIdentity map[string]*entry
	pending    []*change
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l database.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// New opens a session over db.
func New(db *bun.DB, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		db:         db,
		logger:     database.GetLogger(),
		byEntity:   make(map[any]*entry),
		byIdentity: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("Session opened", "session", s.id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) DB() *bun.DB { return s.db }

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the unit of work. Pending changes are dropped.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if len(s.pending) > 0 {
		s.logger.Warn("Session closed with pending changes", "session", s.id, "pending", len(s.pending))
	}
	s.closed = true
	s.pending = nil
	s.byEntity = make(map[any]*entry)
	s.byIdentity = make(map[string]*entry)
	s.logger.Debug("Session closed", "session", s.id)
	return nil
}

// Attach starts tracking entity as Unchanged. When an instance with the same
// key is already tracked, that instance is returned instead and entity is
// ignored.
func (s *Session) Attach(entity any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	table, strct, err := structOf(s.db, entity)
	if err != nil {
		return nil, err
	}
	if len(table.PKs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPrimaryKey, table.Type)
	}
	if e, ok := s.byEntity[entity]; ok {
		return e.entity, nil
	}
	identity := entityIdentity(table, strct)
	if e, ok := s.byIdentity[identity]; ok {
		return e.entity, nil
	}
	e := &entry{
		entity:   entity,
		table:    table,
		strct:    strct,
		state:    types.Unchanged,
		identity: identity,
	}
	s.byEntity[entity] = e
	s.byIdentity[identity] = e
	return entity, nil
}

// Find returns the tracked instance of model with the given key and its
// state, or nil and Detached when none is tracked.
func (s *Session) Find(model any, key ...any) (any, types.EntityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, types.Detached, ErrSessionClosed
	}
	table, err := TableOf(s.db, model)
	if err != nil {
		return nil, types.Detached, err
	}
	if err := checkKey(table, key); err != nil {
		return nil, types.Detached, err
	}
	e, ok := s.byIdentity[identityOf(table, key)]
	if !ok {
		return nil, types.Detached, nil
	}
	return e.entity, e.state, nil
}

// State returns the tracking state of entity.
func (s *Session) State(entity any) types.EntityState {
	if !isStructPtr(entity) {
		return types.Detached
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byEntity[entity]; ok {
		return e.state
	}
	return types.Detached
}

// MarkAdded schedules entity for insertion, tracking it if necessary.
func (s *Session) MarkAdded(entity any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	table, strct, err := structOf(s.db, entity)
	if err != nil {
		return err
	}
	e, tracked := s.byEntity[entity]
	identity := ""
	if hasKey(table, strct) {
		identity = entityIdentity(table, strct)
		if other, ok := s.byIdentity[identity]; ok && other != e {
			return fmt.Errorf("%w: %s", ErrIdentityConflict, table.Type)
		}
	}
	if !tracked {
		e = &entry{entity: entity, table: table, strct: strct}
		s.byEntity[entity] = e
	}
	if identity != "" {
		e.identity = identity
		s.byIdentity[identity] = e
	}
	e.state = types.Added
	s.enqueue(e)
	return nil
}

// MarkModified schedules a tracked entity for update. Added entities stay
// Added.
func (s *Session) MarkModified(entity any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !isStructPtr(entity) {
		return ErrInvalidEntity
	}
	e, ok := s.byEntity[entity]
	if !ok {
		return ErrDetachedEntity
	}
	if e.state != types.Added {
		e.state = types.Modified
	}
	s.enqueue(e)
	return nil
}

// MarkDeleted schedules a tracked entity for deletion. Added entities are
// simply detached.
func (s *Session) MarkDeleted(entity any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !isStructPtr(entity) {
		return ErrInvalidEntity
	}
	e, ok := s.byEntity[entity]
	if !ok {
		return ErrDetachedEntity
	}
	if e.state == types.Added {
		s.detach(e)
		return nil
	}
	e.state = types.Deleted
	s.enqueue(e)
	return nil
}

// Enqueue schedules a keyed operation. After a successful commit the tracked
// instance with the same key, if any, is evicted.
func (s *Session) Enqueue(op Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	table, err := TableOf(s.db, op.Model)
	if err != nil {
		return err
	}
	if err := checkKey(table, op.Key); err != nil {
		return err
	}
	switch op.Kind {
	case OpUpdate:
		if len(op.Changes) == 0 {
			return fmt.Errorf("%w: no columns to update", ErrInvalidColumn)
		}
		for col := range op.Changes {
			f, ok := table.FieldMap[col]
			if !ok {
				return fmt.Errorf("%w: %s has no column %q", ErrInvalidColumn, table.Type, col)
			}
			if f.IsPK {
				return fmt.Errorf("%w: %q is part of the primary key", ErrInvalidColumn, col)
			}
		}
	case OpDelete:
	default:
		return fmt.Errorf("session: unknown operation kind %d", op.Kind)
	}
	op.Model = reflect.Zero(reflect.PointerTo(table.Type)).Interface()
	op.Key = append([]any(nil), op.Key...)
	s.pending = append(s.pending, &change{op: &keyedOp{
		Operation: op,
		table:     table,
		identity:  identityOf(table, op.Key),
	}})
	return nil
}

func (s *Session) HasChanges() bool {
	return s.PendingCount() > 0
}

// PendingCount returns the number of scheduled writes.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// TrackedCount returns the number of tracked instances.
func (s *Session) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byEntity)
}

// Discard drops every pending change: Added entities are detached, Modified
// and Deleted ones go back to Unchanged. Field values are left as they are.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.pending {
		if c.entry == nil {
			continue
		}
		c.entry.queued = false
		if c.entry.state == types.Added {
			s.forget(c.entry)
			continue
		}
		c.entry.state = types.Unchanged
	}
	s.pending = nil
}

// SaveChanges applies the pending changes in the order they were scheduled,
// inside one transaction, and returns the number of affected rows. On error
// nothing is committed, the pending changes are kept and the store error is
// returned unchanged.
func (s *Session) SaveChanges(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	if len(s.pending) == 0 {
		return 0, nil
	}

	var (
		affected  int64
		generated []*entry
	)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, c := range s.pending {
			if c.entry != nil {
				if c.entry.state == types.Added && !hasKey(c.entry.table, c.entry.strct) {
					generated = append(generated, c.entry)
				}
				n, err := applyEntry(ctx, tx, c.entry)
				if err != nil {
					return err
				}
				affected += n
				continue
			}
			n, err := applyKeyed(ctx, tx, c.op)
			if err != nil {
				return err
			}
			affected += n
		}
		return nil
	})
	if err != nil {
		for _, e := range generated {
			resetKey(e.table, e.strct)
		}
		s.logger.Warn("Session changes rolled back", "session", s.id, "pending", len(s.pending), "error", err)
		return 0, err
	}

	s.logger.Debug("Session changes saved", "session", s.id, "changes", len(s.pending), "rows_affected", affected)
	s.accept()
	return affected, nil
}

func applyEntry(ctx context.Context, tx bun.Tx, e *entry) (int64, error) {
	var (
		res sql.Result
		err error
	)
	switch e.state {
	case types.Added:
		res, err = tx.NewInsert().Model(e.entity).Exec(ctx)
	case types.Modified:
		res, err = tx.NewUpdate().Model(e.entity).WherePK().Exec(ctx)
	case types.Deleted:
		res, err = tx.NewDelete().Model(e.entity).WherePK().Exec(ctx)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func applyKeyed(ctx context.Context, tx bun.Tx, op *keyedOp) (int64, error) {
	var (
		res sql.Result
		err error
	)
	switch op.Kind {
	case OpUpdate:
		q := tx.NewUpdate().Model(op.Model)
		cols := make([]string, 0, len(op.Changes))
		for col := range op.Changes {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			q = q.Set("? = ?", bun.Ident(col), op.Changes[col])
		}
		for i, f := range op.table.PKs {
			q = q.Where("?TableAlias.? = ?", f.SQLName, op.Key[i])
		}
		res, err = q.Exec(ctx)
	case OpDelete:
		q := tx.NewDelete().Model(op.Model)
		for i, f := range op.table.PKs {
			q = q.Where("?TableAlias.? = ?", f.SQLName, op.Key[i])
		}
		res, err = q.Exec(ctx)
	}
	if err != nil {
		return 0, err
	}
	return rowsAffected(res), nil
}

func rowsAffected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// accept moves committed entries to their post-commit state. Keyed
// operations evict after all entries are settled.
func (s *Session) accept() {
	var evict []string
	for _, c := range s.pending {
		if c.op != nil {
			evict = append(evict, c.op.identity)
			continue
		}
		e := c.entry
		e.queued = false
		switch e.state {
		case types.Added, types.Modified:
			e.state = types.Unchanged
			if e.identity == "" && hasKey(e.table, e.strct) {
				e.identity = entityIdentity(e.table, e.strct)
				s.byIdentity[e.identity] = e
			}
		case types.Deleted:
			s.forget(e)
		}
	}
	for _, identity := range evict {
		if e, ok := s.byIdentity[identity]; ok {
			s.forget(e)
		}
	}
	s.pending = nil
}

func (s *Session) enqueue(e *entry) {
	if e.queued {
		return
	}
	e.queued = true
	s.pending = append(s.pending, &change{entry: e})
}

// detach forgets e and removes it from the pending list.
func (s *Session) detach(e *entry) {
	if e.queued {
		for i, c := range s.pending {
			if c.entry == e {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
		e.queued = false
	}
	s.forget(e)
}

func (s *Session) forget(e *entry) {
	e.state = types.Detached
	delete(s.byEntity, e.entity)
	if e.identity != "" && s.byIdentity[e.identity] == e {
		delete(s.byIdentity, e.identity)
	}
}
