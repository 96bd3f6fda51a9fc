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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/repository"
	"github.com/tomoncle/dbctx/session"
	"github.com/tomoncle/dbctx/types"
)

type commandEnv struct {
	ctx      context.Context
	registry *database.Registry
	opts     *options
	stdout   io.Writer
}

type commandFunc func(env *commandEnv, args []string) error

var commands = map[string]commandFunc{
	"ping":       cmdPing,
	"stats":      cmdStats,
	"migrate":    cmdMigrate,
	"migrations": cmdMigrations,
	"seed":       cmdSeed,
	"exec":       cmdExec,
	"query":      cmdQuery,
}

func (env *commandEnv) writeJSON(v any) error {
	enc := json.NewEncoder(env.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (env *commandEnv) manager() (database.AbstractDatabaseManager, error) {
	return env.registry.Manager(databaseName)
}

func cmdPing(env *commandEnv, _ []string) error {
	m, err := env.manager()
	if err != nil {
		return err
	}
	status := m.HealthCheck(env.ctx)
	if err := env.writeJSON(status); err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("database is unhealthy: %s", status.LastError)
	}
	return nil
}

func cmdStats(env *commandEnv, _ []string) error {
	if !env.opts.prometheus {
		m, err := env.manager()
		if err != nil {
			return err
		}
		return env.writeJSON(m.GetStats())
	}

	reg := prometheus.NewPedanticRegistry()
	if err := env.registry.RegisterCollectors(reg); err != nil {
		return err
	}
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(env.stdout, mf); err != nil {
			return err
		}
	}
	return nil
}

func cmdMigrate(env *commandEnv, _ []string) error {
	m, err := env.manager()
	if err != nil {
		return err
	}
	if err := m.RunMigrations(env.ctx); err != nil {
		return err
	}
	fmt.Fprintln(env.stdout, "migrations applied")
	return nil
}

// cmdMigrations pages through the migration journal with the generic
// repository, newest first.
func cmdMigrations(env *commandEnv, _ []string) error {
	db, err := env.registry.DB(databaseName)
	if err != nil {
		return err
	}
	s := session.New(db, session.WithLogger(database.GetLogger()))
	defer func() { _ = s.Close() }()

	repo := repository.NewRepository[database.Migration](s)
	page, err := repo.Page(env.ctx, nil, "applied_at", false,
		types.NewPageRequest(env.opts.page, env.opts.pageSize))
	if err != nil {
		return err
	}
	return env.writeJSON(page)
}

func cmdSeed(env *commandEnv, _ []string) error {
	db, err := env.registry.DB(databaseName)
	if err != nil {
		return err
	}
	cfg, err := env.registry.Config(databaseName)
	if err != nil {
		return err
	}
	seeder := database.NewSQLInitManager(db, cfg.DataInitConfig.Environment, database.GetLogger())
	seeder.SetSQLRootPath(cfg.DataInitConfig.Filepath)

	results, err := seeder.ExecuteInitialization(env.ctx)
	for _, r := range results {
		state := "ok"
		if !r.Success {
			state = "failed"
		}
		fmt.Fprintf(env.stdout, "%-6s %s rows=%d duration=%s\n", state, r.File, r.RowsAffected, r.Duration)
	}
	return err
}

func cmdExec(env *commandEnv, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("exec requires a SQL statement")
	}
	db, err := env.registry.DB(databaseName)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(env.ctx, args[0], sqlArgs(args[1:])...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%d row(s) affected\n", n)
	return nil
}

func cmdQuery(env *commandEnv, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("query requires a SQL statement")
	}
	db, err := env.registry.DB(databaseName)
	if err != nil {
		return err
	}
	var rows []map[string]interface{}
	if err := db.NewRaw(args[0], sqlArgs(args[1:])...).Scan(env.ctx, &rows); err != nil {
		return err
	}
	out := make(types.JsonArray, 0, len(rows))
	for _, row := range rows {
		for k, v := range row {
			// Text columns come back as []byte on some drivers.
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, types.JsonObject(row))
	}
	return env.writeJSON(out)
}

func sqlArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
