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

import "errors"

var (
	// ErrSessionClosed is returned by every operation on a closed session.
	ErrSessionClosed = errors.New("session: closed")
	// ErrDetachedEntity is returned when an entity must be tracked but is not.
	ErrDetachedEntity = errors.New("session: entity is not tracked")
	// ErrNoPrimaryKey is returned for models without a primary key.
	ErrNoPrimaryKey = errors.New("session: model has no primary key")
	// ErrInvalidEntity is returned for nil entities or non struct pointers.
	ErrInvalidEntity = errors.New("session: invalid entity")
	// ErrInvalidKey is returned when key parts do not match the primary key.
	ErrInvalidKey = errors.New("session: invalid key")
)

var (
	// ErrIdentityConflict is returned when another instance with the same
	// primary key is already tracked.
	ErrIdentityConflict = errors.New("session: another instance with the same key is tracked")
	// ErrInvalidColumn is returned for keyed updates naming an unknown or
	// primary-key column.
	ErrInvalidColumn = errors.New("session: invalid column")
)
