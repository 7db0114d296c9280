package backend

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/metrics"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// DatabaseBackend isolates a tenant in its own database, possibly on its
// own server. Create and Delete connect to the server's administrative
// database with the tenant's configured credentials and issue raw
// CREATE/DROP DATABASE statements; those cannot run inside a transaction,
// so they go over a plain connection in autocommit mode.
type DatabaseBackend struct {
	tenant *tenant.Tenant
	deps   Deps
}

// NewDatabaseBackend constructs the backend for one tenant.
func NewDatabaseBackend(t *tenant.Tenant, deps Deps) *DatabaseBackend {
	return &DatabaseBackend{tenant: t, deps: deps}
}

// AliasAndConfig resolves the tenant's alias and full connection
// configuration, with every missing field falling back to the master
// configuration.
func (b *DatabaseBackend) AliasAndConfig() (string, registry.DBConfig) {
	tenantCfg := registry.ParseDBConfig(b.tenant.DBConfigMap())
	alias := registry.AliasFor(tenantCfg, b.deps.Config.MasterDBAlias)
	return alias, tenantCfg.Resolve(b.deps.masterDBConfig())
}

// Create provisions the tenant's database, binds its alias, emits
// tenant_created and optionally migrates immediately.
func (b *DatabaseBackend) Create(ctx context.Context, runMigrations bool) error {
	_, cfg := b.AliasAndConfig()
	log := logger.FromContext(ctx)

	if err := b.createDatabase(ctx, cfg); err != nil {
		metrics.RecordProvisioningFailure()
		return &tenant.ProvisioningError{
			TenantID:    b.tenant.TenantID,
			Destination: cfg.Name,
			Op:          "create database",
			Err:         err,
		}
	}
	log.Info("tenant database created",
		zap.String("tenant_id", b.tenant.TenantID),
		zap.String("db_name", cfg.Name),
		zap.String("host", cfg.Host))

	if err := b.Bind(); err != nil {
		// The database exists but is not registered: surface the partial
		// state instead of discarding it.
		return &tenant.ProvisioningError{
			TenantID:    b.tenant.TenantID,
			Destination: cfg.Name,
			Op:          "bind",
			Err:         err,
		}
	}

	b.deps.Hub.Publish("tenant_created", b.tenant)
	metrics.RecordTenantOperation("create", string(b.tenant.IsolationType))

	if runMigrations {
		s := NewStack(b.deps)
		if err := b.Migrate(ctx, s, "", ""); err != nil {
			return err
		}
	}
	return nil
}

// Bind registers the resolved connection parameters under the tenant's
// alias, overwriting any prior registration.
func (b *DatabaseBackend) Bind() error {
	alias, cfg := b.AliasAndConfig()
	b.deps.Registry.Register(alias, cfg)
	logger.GetLogger().Info("bound tenant to database alias",
		zap.String("tenant_id", b.tenant.TenantID),
		zap.String("alias", alias))
	return nil
}

// Activate binds the tenant's alias if it is not registered yet and pushes
// the tenant onto the stack.
func (b *DatabaseBackend) Activate(s *tenantcontext.Stack) error {
	alias, _ := b.AliasAndConfig()
	if !b.deps.Registry.Has(alias) {
		if err := b.Bind(); err != nil {
			return err
		}
	}
	if err := s.Push(b.tenant); err != nil {
		return err
	}
	metrics.RecordActivation()
	return nil
}

// Deactivate pops the tenant, restoring the prior binding.
func (b *DatabaseBackend) Deactivate(s *tenantcontext.Stack) error {
	return s.Pop()
}

// Migrate runs migrations against the tenant's database. The tenant context
// is released on every path, so a failed migration never leaves the stack
// unbalanced.
func (b *DatabaseBackend) Migrate(ctx context.Context, s *tenantcontext.Stack, appLabel, target string) error {
	alias, _ := b.AliasAndConfig()
	return migrateWithContext(ctx, b.deps, s, b, b.tenant, alias, appLabel, target)
}

// Delete drops the tenant's database when requested, always deregisters its
// alias and emits tenant_deleted. The drop uses IF EXISTS so repeated
// deletion attempts do not error.
func (b *DatabaseBackend) Delete(ctx context.Context, dropDestination bool) error {
	alias, cfg := b.AliasAndConfig()
	log := logger.FromContext(ctx)

	if dropDestination {
		if err := b.dropDatabase(ctx, cfg); err != nil {
			metrics.RecordProvisioningFailure()
			return &tenant.ProvisioningError{
				TenantID:    b.tenant.TenantID,
				Destination: cfg.Name,
				Op:          "drop database",
				Err:         err,
			}
		}
		log.Info("tenant database dropped",
			zap.String("tenant_id", b.tenant.TenantID),
			zap.String("db_name", cfg.Name))
	}

	b.deps.Registry.Remove(alias)
	b.deps.Hub.Publish("tenant_deleted", b.tenant)
	metrics.RecordTenantOperation("delete", string(b.tenant.IsolationType))
	return nil
}

// createDatabase issues CREATE DATABASE on the server's administrative
// database. The destination name is identifier-quoted: an injected name can
// never reach beyond the database being created.
func (b *DatabaseBackend) createDatabase(ctx context.Context, cfg registry.DBConfig) error {
	conn, err := b.deps.adminConn(cfg.AdminDSN())
	if err != nil {
		return fmt.Errorf("connecting to admin database on %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	defer conn.Close()

	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(cfg.Name))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return nil
}

func (b *DatabaseBackend) dropDatabase(ctx context.Context, cfg registry.DBConfig) error {
	conn, err := b.deps.adminConn(cfg.AdminDSN())
	if err != nil {
		return fmt.Errorf("connecting to admin database on %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	defer conn.Close()

	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s", pq.QuoteIdentifier(cfg.Name))
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return err
	}
	return nil
}
