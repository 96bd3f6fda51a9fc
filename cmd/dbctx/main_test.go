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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func sqliteArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--type", "sqlite", "--dbname", filepath.Join(t.TempDir(), "cli.db")}
}

func TestRunUsageErrors(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: dbctx")

	code, _, stderr = runCLI(t, "--type", "sqlite", "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, _, _ = runCLI(t, "--no-such-flag", "ping")
	assert.Equal(t, exitUsage, code)
}

func TestRunRequiresDatabaseType(t *testing.T) {
	t.Setenv("DBCTX_CONNECTION_TYPE", "")
	code, _, stderr := runCLI(t, "ping")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "database type is required")
}

func TestRunExecAndQuery(t *testing.T) {
	base := sqliteArgs(t)

	code, out, stderr := runCLI(t, append(base, "exec", "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Equal(t, "0 row(s) affected\n", out)

	code, out, stderr = runCLI(t, append(base, "exec", "INSERT INTO notes (body) VALUES (?)", "hi")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Equal(t, "1 row(s) affected\n", out)

	code, out, stderr = runCLI(t, append(base, "query", "SELECT body FROM notes WHERE body = ?", "hi")...)
	require.Equal(t, exitSuccess, code, stderr)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "hi", rows[0]["body"])

	code, _, stderr = runCLI(t, append(base, "query")...)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "query requires a SQL statement")

	code, _, _ = runCLI(t, append(base, "exec", "INSERT INTO missing VALUES (1)")...)
	assert.Equal(t, exitError, code)
}

func TestRunMigrateSeedsAndLists(t *testing.T) {
	dir := t.TempDir()
	sqlRoot := filepath.Join(dir, "sql")
	require.NoError(t, os.MkdirAll(filepath.Join(sqlRoot, "common"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sqlRoot, "common", "001_notes.sql"), []byte(
		"CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT);\nINSERT INTO notes (body) VALUES ('hello');\n"), 0o644))

	configFile := filepath.Join(dir, "dbctx.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(strings.Join([]string{
		"connection:",
		"  type: sqlite",
		"  dbname: " + filepath.Join(dir, "cli.db"),
		"init:",
		"  auto_init_on_migration: true",
		"  environment: test",
		"  filepath: " + sqlRoot,
		"",
	}, "\n")), 0o644))

	code, out, stderr := runCLI(t, "-c", configFile, "migrate")
	require.Equal(t, exitSuccess, code, stderr)
	assert.Equal(t, "migrations applied\n", out)

	code, out, stderr = runCLI(t, "-c", configFile, "migrations")
	require.Equal(t, exitSuccess, code, stderr)
	var page struct {
		Page  int `json:"page"`
		Total int `json:"total"`
		Items []struct {
			Version string
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "000_seed_initial_data", page.Items[0].Version)

	code, out, stderr = runCLI(t, "-c", configFile, "query", "SELECT body FROM notes")
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, `"body": "hello"`)
}

func TestRunSeedReportsFiles(t *testing.T) {
	sqlRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(sqlRoot, "environments", "dev"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sqlRoot, "environments", "dev", "001_t.sql"),
		[]byte("CREATE TABLE t (id INTEGER);\n"), 0o644))

	args := append(sqliteArgs(t), "--env", "dev", "--sql-path", sqlRoot, "seed")
	code, out, stderr := runCLI(t, args...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "001_t.sql")
}

func TestRunPingAndStats(t *testing.T) {
	base := sqliteArgs(t)

	code, out, stderr := runCLI(t, append(base, "ping")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, `"healthy": true`)

	code, out, stderr = runCLI(t, append(base, "stats")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, `"max_open_conns"`)

	code, out, stderr = runCLI(t, append(base, "--prometheus", "stats")...)
	require.Equal(t, exitSuccess, code, stderr)
	assert.Contains(t, out, "dbctx_pool_max_open_connections")
	assert.Contains(t, out, `db_name="cli"`)
}

func TestRunWritesDailyLogFiles(t *testing.T) {
	logDir := t.TempDir()
	code, _, stderr := runCLI(t, append(sqliteArgs(t), "--log-dir", logDir, "--log-max-age", "7", "ping")...)
	require.Equal(t, exitSuccess, code, stderr)

	b, err := os.ReadFile(filepath.Join(logDir, time.Now().Format("2006-01-02"), "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "Database connected successfully")
	assert.Contains(t, stderr, "Database connected successfully")
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("DBCTX_CONNECTION_HOST", "db.internal")
	t.Setenv("DBCTX_CONNECTION_MAX_OPEN_CONNS", "7")

	v := viper.New()
	fs := newFlagSet(v, &options{})
	require.NoError(t, fs.Parse([]string{"--type", "postgres", "--port", "6543"}))

	cfg, err := loadConfig(v, "")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.ConnectionConfig.Type)
	assert.Equal(t, "db.internal", cfg.ConnectionConfig.Host)
	assert.Equal(t, 6543, cfg.ConnectionConfig.Port)
	assert.Equal(t, 7, cfg.ConnectionConfig.MaxOpenConns)
	assert.Equal(t, time.Hour, cfg.ConnectionConfig.ConnMaxLifetime)
	assert.Equal(t, "prod", cfg.DataInitConfig.Environment)
}

func TestLoadConfigMissingFile(t *testing.T) {
	v := viper.New()
	_, err := loadConfig(v, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}
