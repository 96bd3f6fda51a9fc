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

package database

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type recordingLogger struct {
	NopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(append([]interface{}{msg}, fields...)...))
}

func TestQueryHookPrintsFailuresUnlessVerbose(t *testing.T) {
	var buf bytes.Buffer
	h := NewQueryHook(WithQueryHookWriter(&buf), WithQueryHookEnv(""))
	ctx := context.Background()

	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Empty(t, buf.String())

	h.AfterQuery(ctx, &bun.QueryEvent{Query: "DELETE FROM gone", StartTime: time.Now(), Err: errors.New("no such table: gone")})
	assert.Contains(t, buf.String(), "[BUN]")
	assert.Contains(t, buf.String(), "DELETE FROM gone")
	assert.Contains(t, buf.String(), "no such table: gone")

	buf.Reset()
	verbose := NewQueryHook(WithQueryHookWriter(&buf), WithQueryHookEnv(""), WithQueryHookVerbose(true))
	verbose.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Contains(t, buf.String(), "SELECT 1")
}

func TestQueryHookEnvAndSilentMode(t *testing.T) {
	var buf bytes.Buffer
	h := NewQueryHook(WithQueryHookWriter(&buf), WithQueryHookEnv("DBCTX_TEST_BUNDEBUG"), WithQueryHookVerbose(true))
	ctx := context.Background()

	t.Setenv("DBCTX_TEST_BUNDEBUG", "0")
	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	assert.Empty(t, buf.String())

	t.Setenv("DBCTX_TEST_BUNDEBUG", "2")
	EnableBunSqlSilent(true)
	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	EnableBunSqlSilent(false)
	assert.Empty(t, buf.String())

	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 2", StartTime: time.Now()})
	assert.Contains(t, buf.String(), "SELECT 2")
}

func TestSlowQueryHook(t *testing.T) {
	logger := &recordingLogger{}
	h := &slowQueryHook{slowTime: 50 * time.Millisecond, logger: logger}
	ctx := context.Background()

	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT fast", StartTime: time.Now()})
	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT failed", StartTime: time.Now().Add(-time.Second), Err: errors.New("boom")})
	h.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT slow", StartTime: time.Now().Add(-time.Second)})

	require.Len(t, logger.warns, 1)
	assert.Contains(t, logger.warns[0], "SELECT slow")
}

type gadget struct {
	bun.BaseModel `bun:"table:gadgets"`

	ID    int64  `bun:"id,pk,autoincrement"`
	Label string `bun:"label"`
}

func TestDefaultModelRegistry(t *testing.T) {
	RegisterModel((*gadget)(nil), 5)
	RegisteredModel(NewModelAdapter((*gadget)(nil), 1))

	var found int
	for _, m := range GetRegisteredModels() {
		if _, ok := m.Instance().(*gadget); ok {
			found++
			assert.Equal(t, 5, m.Priority())
		}
	}
	assert.Equal(t, 1, found)
	assert.Contains(t, RegisteredModelInstances(), interface{}((*gadget)(nil)))

	// managers without WithModelRegistry migrate the default registry
	m := NewDatabaseManager(&memoryConfig().ConnectionConfig, WithLogger(NopLogger{}))
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })
	require.NoError(t, m.RunMigrations(ctx))

	_, err := m.GetDB().NewInsert().Model(&gadget{Label: "x"}).Exec(ctx)
	require.NoError(t, err)
}

func TestManagerQueryLogHooks(t *testing.T) {
	cfg := memoryConfig().ConnectionConfig
	cfg.EnableQueryLog = true
	cfg.SlowQueryTime = time.Hour

	m := NewDatabaseManager(&cfg, WithLogger(NopLogger{}))
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })

	// connecting twice is a no-op
	require.NoError(t, m.Connect(ctx))
	require.NoError(t, m.Ping(ctx))
	require.NoError(t, m.Reconnect(ctx))
	assert.True(t, m.HealthCheck(ctx).Healthy)
	assert.NotNil(t, m.GetSQLDB())
}
