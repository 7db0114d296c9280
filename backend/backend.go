// Package backend implements the per-isolation-strategy lifecycle contract:
// create, bind, activate, deactivate, migrate, delete. One variant exists
// per isolation type; ForTenant selects it with a single switch.
package backend

import (
	"context"
	"database/sql"
	"errors"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/config"
	"github.com/RahulRimal/omnitenant/events"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/router"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// Backend is the lifecycle contract every isolation strategy implements.
//
// Create and Delete perform DDL over the network and block; keep them out of
// request paths. Activate and Deactivate must always be paired; use
// WithTenant so the pairing is structural rather than a calling convention.
type Backend interface {
	// Create provisions the physical destination, registers it, emits
	// tenant_created and, when requested, immediately runs migrations.
	Create(ctx context.Context, runMigrations bool) error

	// Bind registers the tenant's resolved connection parameters in the
	// connection registry under the tenant's alias. Idempotent: a repeat
	// bind overwrites the prior registration.
	Bind() error

	// Activate pushes the tenant onto the stack, binding lazily if needed.
	Activate(s *tenantcontext.Stack) error

	// Deactivate pops the tenant, restoring the prior binding and schema.
	Deactivate(s *tenantcontext.Stack) error

	// Migrate activates the tenant, runs migrations scoped to its alias and
	// schema, deactivates on every path, and emits tenant_migrated.
	Migrate(ctx context.Context, s *tenantcontext.Stack, appLabel, target string) error

	// Delete optionally destroys the destination, deregisters it and emits
	// tenant_deleted. Destruction is irreversible.
	Delete(ctx context.Context, dropDestination bool) error
}

var errMasterNotRegistered = errors.New("master alias is not registered; bootstrap must run first")

// AdminConnFunc opens a raw administrative connection for DDL that cannot
// run against the database it targets. Tests inject their own.
type AdminConnFunc func(dsn string) (*sql.DB, error)

func defaultAdminConn(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// Deps carries the shared collaborators every backend needs.
type Deps struct {
	Config    *config.Config
	Registry  *registry.Registry
	Hub       *events.Hub
	Apps      *apps.Registry
	Router    *router.Router
	AdminConn AdminConnFunc
}

func (d Deps) adminConn(dsn string) (*sql.DB, error) {
	if d.AdminConn != nil {
		return d.AdminConn(dsn)
	}
	return defaultAdminConn(dsn)
}

// masterDBConfig returns the master configuration that tenant overrides
// resolve against: the registered master entry when present, else the
// startup configuration.
func (d Deps) masterDBConfig() registry.DBConfig {
	if cfg, ok := d.Registry.Config(d.Config.MasterDBAlias); ok {
		return cfg
	}
	return registry.DBConfig{
		Name:            d.Config.DB.Name,
		User:            d.Config.DB.User,
		Password:        d.Config.DB.Password,
		Host:            d.Config.DB.Host,
		Port:            d.Config.DB.Port,
		SSLMode:         d.Config.DB.SSLMode,
		TimeZone:        d.Config.DB.TimeZone,
		MaxIdleConns:    d.Config.DB.MaxIdleConns,
		MaxOpenConns:    d.Config.DB.MaxOpenConns,
		ConnMaxLifetime: d.Config.DB.ConnMaxLifetime,
	}
}

// ForTenant returns the backend variant for the tenant's isolation type.
func ForTenant(t *tenant.Tenant, deps Deps) Backend {
	switch t.IsolationType {
	case tenant.IsolationSchema:
		return NewSchemaBackend(t, deps)
	case tenant.IsolationTable:
		return NewTableBackend(t, deps)
	default:
		return NewDatabaseBackend(t, deps)
	}
}

// Binder returns the lazy-bind hook stacks use to register a destination on
// first activation.
func Binder(deps Deps) tenantcontext.Binder {
	return func(t *tenant.Tenant) error {
		return ForTenant(t, deps).Bind()
	}
}

// NewStack creates a context stack wired to the registry and the lazy
// binder. One stack per unit of work.
func NewStack(deps Deps) *tenantcontext.Stack {
	return tenantcontext.NewStack(deps.Config.MasterDBAlias, deps.Config.DefaultSchemaName,
		deps.Registry, Binder(deps))
}

// WithTenant runs fn with the tenant activated on the stack, guaranteeing
// deactivation on every exit path including panics.
func WithTenant(s *tenantcontext.Stack, b Backend, fn func() error) (err error) {
	if err = b.Activate(s); err != nil {
		return err
	}
	defer func() {
		if deactErr := b.Deactivate(s); deactErr != nil && err == nil {
			err = deactErr
		}
	}()
	return fn()
}

// RunInTenant resolves a tenant and runs fn inside its activated context on
// a fresh stack. The administrative entry point for "do this piece of work
// as tenant X".
func RunInTenant(ctx context.Context, store tenant.Store, deps Deps, tenantID string, fn func(ctx context.Context) error) error {
	t, err := store.ByTenantID(ctx, tenantID)
	if err != nil {
		return err
	}
	s := NewStack(deps)
	return WithTenant(s, ForTenant(t, deps), func() error {
		return fn(tenantcontext.NewContext(ctx, s))
	})
}
