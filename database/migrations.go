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
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/uptrace/bun"
)

// MigrationManager creates tables for registered models and applies
// versioned migration steps exactly once.
type MigrationManager struct {
	db       *bun.DB
	logger   Logger
	models   ModelRegistry
	migrate  DataMigrateConfig
	dataInit DataInitConfig
	extra    []MigrationItem
}

// Migration represents an applied migration record stored in the database.
type Migration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version     string    `bun:"version,pk"`
	Name        string    `bun:"name"`
	AppliedAt   time.Time `bun:"applied_at"`
	Description string    `bun:"description"`
}

// MigrationFunc is a migration step executed within a transaction.
type MigrationFunc func(ctx context.Context, db bun.IDB) error

// MigrationItem describes a single migration version. Down is optional;
// a step without it cannot be rolled back.
type MigrationItem struct {
	Version     string
	Name        string
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// MigrationOption customizes a MigrationManager.
type MigrationOption func(*MigrationManager)

func WithMigrationModels(r ModelRegistry) MigrationOption {
	return func(mm *MigrationManager) {
		if r != nil {
			mm.models = r
		}
	}
}

func WithMigrationConfig(c DataMigrateConfig) MigrationOption {
	return func(mm *MigrationManager) { mm.migrate = c }
}

func WithMigrationDataInit(c DataInitConfig) MigrationOption {
	return func(mm *MigrationManager) { mm.dataInit = c }
}

// WithMigrations appends versioned steps to the built-in ones.
func WithMigrations(items ...MigrationItem) MigrationOption {
	return func(mm *MigrationManager) { mm.extra = append(mm.extra, items...) }
}

// NewMigrationManager constructs a MigrationManager over the default model registry.
func NewMigrationManager(db *bun.DB, logger Logger, opts ...MigrationOption) *MigrationManager {
	if logger == nil {
		logger = GetLogger()
	}
	mm := &MigrationManager{
		db:     db,
		logger: logger,
		models: defaultRegistry,
	}
	for _, opt := range opts {
		opt(mm)
	}
	return mm
}

// RunMigrations creates the tracking table and the model tables, then runs
// pending versioned steps in ascending version order.
func (mm *MigrationManager) RunMigrations(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, ok := os.LookupEnv("BUNDEBUG_MIGRATION"); !ok {
		EnableBunSqlSilent(true)
		defer EnableBunSqlSilent(false)
	}

	if _, err := mm.db.NewCreateTable().Model((*Migration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	if mm.migrate.DropTablesFirst {
		if err := mm.DropTables(ctx); err != nil {
			return err
		}
	}
	if err := mm.CreateTables(ctx); err != nil {
		return err
	}

	migrations := mm.getAllMigrations()
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for _, migration := range migrations {
		if err := mm.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
		}
	}

	mm.logger.Info("Database migrations completed")
	return nil
}

// CreateTables creates a table for every registered model that does not have one.
func (mm *MigrationManager) CreateTables(ctx context.Context) error {
	for _, model := range mm.models.Instances() {
		if _, err := mm.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table %T: %w", model, err)
		}
	}
	return nil
}

// DropTables drops the tables of registered models in reverse priority order.
func (mm *MigrationManager) DropTables(ctx context.Context) error {
	models := mm.models.Instances()
	for i := len(models) - 1; i >= 0; i-- {
		if _, err := mm.db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop table %T: %w", models[i], err)
		}
	}
	return nil
}

func (mm *MigrationManager) getAllMigrations() []MigrationItem {
	migrations := make([]MigrationItem, 0, len(mm.extra)+1)
	migrations = append(migrations, mm.extra...)
	if mm.dataInit.AutoInitOnMigration {
		migrations = append(migrations, MigrationItem{
			Version:     "000_seed_initial_data",
			Name:        "seed_initial_data",
			Description: "Seed initial data",
			Up:          mm.seedInitialData,
		})
	}
	return migrations
}

func (mm *MigrationManager) runMigration(ctx context.Context, migration MigrationItem) error {
	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", migration.Version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := migration.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&Migration{
			Version:     migration.Version,
			Name:        migration.Name,
			AppliedAt:   time.Now(),
			Description: migration.Description,
		}).Exec(ctx)
		return err
	})
	if err != nil {
		return err
	}

	mm.logger.Info("Migration executed successfully", "version", migration.Version, "name", migration.Name)
	return nil
}

// RollbackMigration reverts one applied version by running its Down step and
// removing its journal record in the same transaction.
func (mm *MigrationManager) RollbackMigration(ctx context.Context, version string) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var item *MigrationItem
	for _, m := range mm.getAllMigrations() {
		if m.Version == version {
			m := m
			item = &m
			break
		}
	}
	if item == nil {
		return fmt.Errorf("unknown migration %s", version)
	}
	if item.Down == nil {
		return fmt.Errorf("migration %s has no rollback step", version)
	}

	exists, err := mm.db.NewSelect().
		Model((*Migration)(nil)).
		Where("version = ?", version).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("migration %s is not applied", version)
	}

	err = mm.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := item.Down(ctx, tx); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model((*Migration)(nil)).
			Where("version = ?", version).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to roll back migration %s: %w", version, err)
	}

	mm.logger.Info("Migration rolled back", "version", version, "name", item.Name)
	return nil
}

// InitData runs the SQL seed files outside of migration tracking.
func (mm *MigrationManager) InitData(ctx context.Context) error {
	if mm.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return mm.seedInitialData(ctx, mm.db)
}

func (mm *MigrationManager) seedInitialData(ctx context.Context, db bun.IDB) error {
	env := mm.dataInit.Environment
	if env == "" {
		env = "prod"
	}
	sqlManager := NewSQLInitManager(db, env, mm.logger)
	if mm.dataInit.Filepath != "" {
		sqlManager.SetSQLRootPath(mm.dataInit.Filepath)
	}
	if _, err := sqlManager.ExecuteInitialization(ctx); err != nil {
		return fmt.Errorf("SQL file initialization failed: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns migration records ordered by version.
func (mm *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]Migration, error) {
	var migrations []Migration
	err := mm.db.NewSelect().
		Model(&migrations).
		Order("version ASC").
		Scan(ctx)
	return migrations, err
}
