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
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/uptrace/bun"
)

// DefaultName is the registry name used by the package-level helpers.
const DefaultName = "default"

// ErrNotRegistered is returned when a named database is unknown.
var ErrNotRegistered = errors.New("database not registered")

// Registry holds named database connections, each owned by its own factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*BaseDatabaseFactory
	configs   map[string]*Config
	logger    Logger
}

// NewRegistry returns an empty registry logging through logger.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = GetLogger()
	}
	return &Registry{
		factories: make(map[string]*BaseDatabaseFactory),
		configs:   make(map[string]*Config),
		logger:    logger,
	}
}

// Register connects a database under name, running migrations when the
// config enables them on startup. An existing entry with the same name is
// closed and replaced.
func (r *Registry) Register(ctx context.Context, name string, cfg *Config, opts ...ManagerOption) (*bun.DB, error) {
	if name == "" {
		return nil, fmt.Errorf("database name cannot be empty")
	}
	factory := NewDatabaseFactory()
	factory.SetLogger(r.logger)
	if _, err := factory.CreateFromConfig(cfg, opts...); err != nil {
		return nil, fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := factory.InitializeDatabase(ctx, cfg.DataMigrateConfig.EnableMigrateOnStartup); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	r.mu.Lock()
	old := r.factories[name]
	r.factories[name] = factory
	r.configs[name] = cfg
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("Failed to close replaced database", "name", name, "error", err)
		}
	}
	r.logger.Debug("Database registered", "name", name, "type", cfg.ConnectionConfig.Type)
	return factory.GetDB(), nil
}

func (r *Registry) factory(name string) (*BaseDatabaseFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return f, nil
}

// DB returns the bun handle registered under name.
func (r *Registry) DB(name string) (*bun.DB, error) {
	f, err := r.factory(name)
	if err != nil {
		return nil, err
	}
	db := f.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database instance not initialized: %s", name)
	}
	return db, nil
}

// Manager returns the manager registered under name.
func (r *Registry) Manager(name string) (AbstractDatabaseManager, error) {
	f, err := r.factory(name)
	if err != nil {
		return nil, err
	}
	return f.GetManager(), nil
}

// Config returns the configuration a database was registered with.
func (r *Registry) Config(name string) (*Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return cfg, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister closes and removes the named database.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	f, ok := r.factories[name]
	delete(r.factories, name)
	delete(r.configs, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return f.Close()
}

// Close closes every registered database and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	factories := r.factories
	r.factories = make(map[string]*BaseDatabaseFactory)
	r.configs = make(map[string]*Config)
	r.mu.Unlock()

	var errs []error
	for name, f := range factories {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

var defaultDatabases = NewRegistry(nil)

// Default returns the process-wide registry used by the helpers below.
func Default() *Registry {
	return defaultDatabases
}

// GetDB returns the default Bun database instance, or nil before InitDB.
func GetDB() *bun.DB {
	db, err := defaultDatabases.DB(DefaultName)
	if err != nil {
		return nil
	}
	return db
}

// GetDatabaseManager returns the default database manager.
func GetDatabaseManager() AbstractDatabaseManager {
	m, err := defaultDatabases.Manager(DefaultName)
	if err != nil {
		return nil
	}
	return m
}

// InitDB initializes the default database using the provided configuration.
func InitDB(cfg *Config) (*bun.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	return defaultDatabases.Register(context.Background(), DefaultName, cfg)
}

// CloseDB closes the default database connection.
func CloseDB() error {
	err := defaultDatabases.Unregister(DefaultName)
	if errors.Is(err, ErrNotRegistered) {
		return nil
	}
	return err
}

// GetHealthStatus returns the health status of the default database.
func GetHealthStatus(ctx context.Context) *HealthStatus {
	f, err := defaultDatabases.factory(DefaultName)
	if err != nil {
		return &HealthStatus{
			Healthy:   false,
			Connected: false,
			LastError: "Database not initialized",
		}
	}
	return f.GetHealthStatus(ctx)
}

// GetDatabaseStats returns connection statistics of the default database.
func GetDatabaseStats() *DBStats {
	f, err := defaultDatabases.factory(DefaultName)
	if err != nil {
		return &DBStats{}
	}
	return f.GetStats()
}

// RunMigrations executes migrations on the default database.
func RunMigrations() error {
	manager := GetDatabaseManager()
	if manager == nil {
		return fmt.Errorf("database not initialized")
	}
	return manager.RunMigrations(context.Background())
}

// InitData runs the seed SQL files configured for the default database.
func InitData() error {
	manager := GetDatabaseManager()
	if manager == nil {
		return fmt.Errorf("database not initialized")
	}
	return manager.InitData(context.Background())
}
