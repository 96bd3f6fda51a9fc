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

/*
Dbctx is an operator tool for databases managed by the dbctx module.

Usage:

	dbctx [flags] COMMAND [ARGS...]

The commands are:

	ping               check connectivity and print the health status
	stats              print connection pool statistics (JSON, or Prometheus
	                   text with --prometheus)
	migrate            create model tables and apply pending migrations
	migrations         list applied migrations
	seed               execute the seed SQL files of --env
	exec SQL [ARGS]    run a statement and print the affected row count
	query SQL [ARGS]   run a query and print the rows as a JSON array

With --log-dir, log entries are also written to <dir>/<YYYY-MM-DD>/<level>.log;
--log-max-age removes date directories older than that many days.

Configuration is read from the YAML file given with --config, then from
DBCTX_* environment variables (for example DBCTX_CONNECTION_HOST), then from
flags.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tomoncle/dbctx/database"
	"github.com/tomoncle/dbctx/utils"
)

const (
	exitSuccess = 0
	exitError   = 1
	exitUsage   = 2
)

const databaseName = "cli"

type options struct {
	configFile string
	prometheus bool
	page       int
	pageSize   int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(v *viper.Viper, opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("dbctx", pflag.ContinueOnError)
	fs.StringVarP(&opts.configFile, "config", "c", "", "Path to a YAML configuration file")
	fs.BoolVar(&opts.prometheus, "prometheus", false, "Print stats in Prometheus text format")
	fs.IntVar(&opts.page, "page", 1, "Page of applied migrations to list")
	fs.IntVar(&opts.pageSize, "page-size", 20, "Migrations per page")

	fs.String("type", "", "Database type: mysql, postgres or sqlite")
	fs.String("driver", "", "PostgreSQL driver: pq or pgx")
	fs.String("host", "", "Database host")
	fs.Int("port", 0, "Database port")
	fs.StringP("username", "u", "", "Database user")
	fs.String("password", "", "Database password")
	fs.StringP("dbname", "d", "", "Database name, or sqlite file")
	fs.Bool("query-log", false, "Log every query")
	fs.String("env", "prod", "Seed environment")
	fs.String("sql-path", "configs/sql", "Root directory of seed SQL files")
	fs.String("log-level", "info", "Log level")
	fs.String("log-dir", "", "Also write daily rolling log files under this directory")
	fs.Int("log-max-age", 0, "Days of log files to keep, 0 keeps all")
	fs.String("log-file-format", "text", "Log file format: text or json")

	bindings := map[string]string{
		"connection.type":             "type",
		"connection.driver":           "driver",
		"connection.host":             "host",
		"connection.port":             "port",
		"connection.username":         "username",
		"connection.password":         "password",
		"connection.dbname":           "dbname",
		"connection.enable_query_log": "query-log",
		"init.environment":            "env",
		"init.filepath":               "sql-path",
		"log_level":                   "log-level",
		"log.dir":                     "log-dir",
		"log.max_age_days":            "log-max-age",
		"log.file_format":             "log-file-format",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
	return fs
}

// loadConfig layers the YAML file, DBCTX_* environment and flags over the
// package defaults.
func loadConfig(v *viper.Viper, path string) (*database.Config, error) {
	v.SetEnvPrefix("DBCTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := database.DefaultConfig()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.ConnectionConfig.Type == "" {
		return nil, fmt.Errorf("database type is required (--type, connection.type or DBCTX_CONNECTION_TYPE)")
	}
	return cfg, nil
}

// setDefaults registers every tunable key so DBCTX_* variables reach
// Unmarshal even without a config file entry.
func setDefaults(v *viper.Viper, cfg *database.Config) {
	c := cfg.ConnectionConfig
	for key, value := range map[string]any{
		"connection.sslmode":                c.SSLMode,
		"connection.max_idle_conns":         c.MaxIdleConns,
		"connection.max_open_conns":         c.MaxOpenConns,
		"connection.conn_max_lifetime":      c.ConnMaxLifetime,
		"connection.conn_max_idle_time":     c.ConnMaxIdleTime,
		"connection.connect_timeout":        c.ConnectTimeout,
		"connection.read_timeout":           c.ReadTimeout,
		"connection.write_timeout":          c.WriteTimeout,
		"connection.enable_reconnect":       c.EnableReconnect,
		"connection.reconnect_interval":     c.ReconnectInterval,
		"connection.max_reconnect_tries":    c.MaxReconnectTries,
		"connection.health_check_interval":  c.HealthCheckInterval,
		"connection.query_log_verbose":      c.QueryLogVerbose,
		"connection.slow_query_time":        c.SlowQueryTime,
		"migrate.enable_migrate_on_startup": cfg.DataMigrateConfig.EnableMigrateOnStartup,
		"migrate.drop_tables_first":         cfg.DataMigrateConfig.DropTablesFirst,
		"init.environment":                  cfg.DataInitConfig.Environment,
		"init.filepath":                     cfg.DataInitConfig.Filepath,
		"init.auto_init_on_migration":       cfg.DataInitConfig.AutoInitOnMigration,
		"log_level":                         "info",
		"log.dir":                           "",
		"log.max_age_days":                  0,
		"log.file_format":                   "text",
	} {
		v.SetDefault(key, value)
	}
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: dbctx [flags] COMMAND [ARGS...]")
	fmt.Fprintln(w, "Commands: ping, stats, migrate, migrations, seed, exec, query")
	fmt.Fprintln(w, "Flags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	opts := &options{}
	fs := newFlagSet(v, opts)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		usage(stderr, fs)
		return exitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(stderr, fs)
		return exitUsage
	}
	cmd, cmdArgs := rest[0], rest[1:]
	handler, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "ERROR: unknown command %q\n", cmd)
		usage(stderr, fs)
		return exitUsage
	}

	cfg, err := loadConfig(v, opts.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		return exitError
	}

	utils.ConfigureConsoleOutput(stderr)
	utils.ConfigureLogLevel(v.GetString("log_level"))
	if dir := v.GetString("log.dir"); dir != "" {
		utils.ConfigureFileLogFormat(v.GetString("log.file_format"))
		if err := utils.ConfigureFileLog(dir, v.GetInt("log.max_age_days")); err != nil {
			fmt.Fprintf(stderr, "ERROR: %s\n", err)
			return exitError
		}
		defer utils.DisableFileLog()
	}

	registry := database.NewRegistry(database.GetLogger())
	defer func() { _ = registry.Close() }()
	if _, err := registry.Register(ctx, databaseName, cfg); err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		return exitError
	}

	env := &commandEnv{
		ctx:      ctx,
		registry: registry,
		opts:     opts,
		stdout:   stdout,
	}
	if err := handler(env, cmdArgs); err != nil {
		fmt.Fprintf(stderr, "ERROR: %s\n", err)
		return exitError
	}
	return exitSuccess
}
