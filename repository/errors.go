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
	"errors"
	"fmt"

	"github.com/tomoncle/dbctx/session"
)

var (
	ErrInvalidArgument = errors.New("repository: invalid argument")
	ErrNotImplemented  = errors.New("repository: not implemented")
	ErrNotFound        = errors.New("repository: entity not found")
	ErrMultipleResults = errors.New("repository: more than one entity matched")
	// ErrNoRowsAffected is returned by writes with saveChange set when the
	// commit changed no rows.
	ErrNoRowsAffected = errors.New("repository: no rows affected")

	ErrDetachedEntity = session.ErrDetachedEntity
	ErrSessionClosed  = session.ErrSessionClosed
)

// invalid marks argument errors raised by the session as ErrInvalidArgument
// while keeping the session sentinel in the chain.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, session.ErrInvalidEntity),
		errors.Is(err, session.ErrInvalidKey),
		errors.Is(err, session.ErrInvalidColumn),
		errors.Is(err, session.ErrNoPrimaryKey),
		errors.Is(err, session.ErrIdentityConflict):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
