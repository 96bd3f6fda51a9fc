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

// Package session implements a unit of work over a Bun database.
//
// A Session tracks the entities loaded or created through it in an identity
// map, records pending inserts, updates and deletes, and applies them in a
// single transaction when SaveChanges is called. A Session is owned by one
// caller; it is opened explicitly and must be closed when the unit of work
// ends.
package session
