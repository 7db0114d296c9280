package registry

import (
	"fmt"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/RahulRimal/omnitenant/logger"
)

// OpenFunc opens a database handle for a resolved configuration. Tests
// inject their own to avoid dialing a real server.
type OpenFunc func(cfg DBConfig) (*gorm.DB, error)

// DefaultOpen opens a gorm handle over the PostgreSQL driver with the pool
// settings from the configuration.
func DefaultOpen(cfg DBConfig) (*gorm.DB, error) {
	pgConfig := postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true, // Disables implicit prepared statement usage
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %q: %w", cfg.Name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

type entry struct {
	cfg DBConfig
	db  *gorm.DB
}

// Registry is the process-wide table of database aliases. It is shared
// between every execution context, so all mutation goes through the mutex;
// the per-request context stack, by contrast, is never shared.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*entry
	open  OpenFunc
}

// NewRegistry creates a registry. A nil open function means DefaultOpen.
func NewRegistry(open OpenFunc) *Registry {
	if open == nil {
		open = DefaultOpen
	}
	return &Registry{
		conns: make(map[string]*entry),
		open:  open,
	}
}

// Register records the configuration for an alias, overwriting any prior
// registration. A handle already open under that alias is closed so the next
// access opens against the new configuration. Registering the same alias
// twice is therefore idempotent, with the second configuration taking
// effect.
func (r *Registry) Register(alias string, cfg DBConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.conns[alias]; ok && prior.db != nil {
		closeHandle(prior.db)
	}
	r.conns[alias] = &entry{cfg: cfg}
	logger.GetLogger().Debug("registered database alias",
		zap.String("alias", alias), zap.String("db_name", cfg.Name))
}

// RegisterDB records an alias with an already-open handle (the master
// connection opened at startup, or a test double).
func (r *Registry) RegisterDB(alias string, db *gorm.DB, cfg DBConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prior, ok := r.conns[alias]; ok && prior.db != nil && prior.db != db {
		closeHandle(prior.db)
	}
	r.conns[alias] = &entry{cfg: cfg, db: db}
}

// Has reports whether the alias is registered.
func (r *Registry) Has(alias string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[alias]
	return ok
}

// Config returns the configuration registered for an alias.
func (r *Registry) Config(alias string) (DBConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[alias]
	if !ok {
		return DBConfig{}, false
	}
	return e.cfg, true
}

// DB returns the handle for an alias, opening it lazily on first access.
func (r *Registry) DB(alias string) (*gorm.DB, error) {
	r.mu.RLock()
	e, ok := r.conns[alias]
	var db *gorm.DB
	if ok {
		// Copy the handle out while still holding the lock: the slow path
		// writes e.db under the write lock.
		db = e.db
	}
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("database alias %q is not registered", alias)
	}
	if db != nil {
		return db, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another goroutine may have opened it while we waited.
	e, ok = r.conns[alias]
	if !ok {
		return nil, fmt.Errorf("database alias %q is not registered", alias)
	}
	if e.db == nil {
		db, err := r.open(e.cfg)
		if err != nil {
			return nil, err
		}
		e.db = db
	}
	return e.db, nil
}

// Remove closes and deregisters an alias. Removing an unknown alias is a
// no-op.
func (r *Registry) Remove(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[alias]; ok && e.db != nil {
		closeHandle(e.db)
	}
	delete(r.conns, alias)
}

// Reset closes the handle for an alias but keeps its configuration, so the
// connection is rebuilt lazily on next access. Close failures are
// suppressed: they only mean the old handle dies with its pool.
func (r *Registry) Reset(alias string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[alias]; ok {
		if e.db != nil {
			closeHandle(e.db)
		}
		e.db = nil
	}
}

// Aliases returns all registered aliases.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aliases := make([]string, 0, len(r.conns))
	for alias := range r.conns {
		aliases = append(aliases, alias)
	}
	return aliases
}

// SetSearchPath sets the active schema on the alias's connection. The schema
// name is identifier-quoted so a hostile tenant name cannot smuggle SQL into
// the statement.
func (r *Registry) SetSearchPath(alias, schema string) error {
	db, err := r.DB(alias)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schema))
	if err := db.Exec(stmt).Error; err != nil {
		return fmt.Errorf("failed to set search_path to %q on alias %q: %w", schema, alias, err)
	}
	return nil
}

func closeHandle(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	// Best effort: a failed close only means the pool dies on its own.
	_ = sqlDB.Close()
}
