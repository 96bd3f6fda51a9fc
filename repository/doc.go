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

// Package repository provides a generic repository over a session.
//
// A Repository[T] reads entities of type T through its session, tracking
// what it loads, and schedules inserts, updates and deletes on the session.
// Writes reach the store when SaveChanges runs, or immediately when the
// caller passes saveChange. Entity types are Bun models; their primary key is
// declared with the `pk` option of the bun struct tag.
package repository
