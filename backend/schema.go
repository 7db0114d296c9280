package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/metrics"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

var invalidSchemaChars = regexp.MustCompile(`[^a-z0-9_]`)

// NormalizeSchemaName derives a valid PostgreSQL schema identifier from a
// tenant name: lowercased, non-alphanumerics replaced with underscores,
// capped at 63 bytes, the reserved "pg_" prefix rewritten, and never empty.
func NormalizeSchemaName(name string) string {
	name = invalidSchemaChars.ReplaceAllString(strings.ToLower(name), "_")

	if len(name) > 63 {
		name = name[:63]
	}

	if strings.HasPrefix(name, "pg_") {
		name = "x_" + name[3:]
	}

	if strings.Trim(name, "_") == "" {
		name = "default_schema"
	}

	return name
}

// SchemaBackend isolates a tenant in its own schema inside the shared
// master database. No separate server connection is involved: DDL runs over
// the master alias, and activation selects the tenant schema on it.
type SchemaBackend struct {
	tenant *tenant.Tenant
	deps   Deps
}

// NewSchemaBackend constructs the backend for one tenant.
func NewSchemaBackend(t *tenant.Tenant, deps Deps) *SchemaBackend {
	return &SchemaBackend{tenant: t, deps: deps}
}

// SchemaName returns the tenant's schema: the configured override when
// present, else a name derived from the tenant id.
func (b *SchemaBackend) SchemaName() string {
	if override := b.tenant.SchemaOverride(); override != "" {
		return NormalizeSchemaName(override)
	}
	return NormalizeSchemaName(b.tenant.TenantID)
}

// Create provisions the tenant's schema on the master database, emits
// tenant_created and optionally migrates immediately.
func (b *SchemaBackend) Create(ctx context.Context, runMigrations bool) error {
	schema := b.SchemaName()
	db, err := b.deps.Registry.DB(b.deps.Config.MasterDBAlias)
	if err != nil {
		return &tenant.ProvisioningError{
			TenantID:    b.tenant.TenantID,
			Destination: schema,
			Op:          "create schema",
			Err:         err,
		}
	}

	stmt := fmt.Sprintf("CREATE SCHEMA %s", pq.QuoteIdentifier(schema))
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		metrics.RecordProvisioningFailure()
		return &tenant.ProvisioningError{
			TenantID:    b.tenant.TenantID,
			Destination: schema,
			Op:          "create schema",
			Err:         err,
		}
	}
	logger.FromContext(ctx).Info("tenant schema created",
		zap.String("tenant_id", b.tenant.TenantID),
		zap.String("schema", schema))

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

// Bind has nothing new to register: schema tenants ride the master alias.
// It only verifies the master connection is registered.
func (b *SchemaBackend) Bind() error {
	if !b.deps.Registry.Has(b.deps.Config.MasterDBAlias) {
		return fmt.Errorf("master alias %q is not registered; bootstrap must run first",
			b.deps.Config.MasterDBAlias)
	}
	return nil
}

// Activate pushes the tenant (which forces the connection back to the
// default schema) and then selects the tenant's schema as the active one.
func (b *SchemaBackend) Activate(s *tenantcontext.Stack) error {
	if err := b.Bind(); err != nil {
		return err
	}
	if err := s.Push(b.tenant); err != nil {
		return err
	}
	if err := s.SetActiveSchema(b.SchemaName()); err != nil {
		// Keep push/pop balanced: undo the push before surfacing the error.
		if popErr := s.Pop(); popErr != nil {
			logger.GetLogger().Error("failed to unwind partial activation",
				zap.String("tenant_id", b.tenant.TenantID), zap.Error(popErr))
		}
		return err
	}
	metrics.RecordActivation()
	return nil
}

// Deactivate pops the tenant; the schema saved at push time is restored.
func (b *SchemaBackend) Deactivate(s *tenantcontext.Stack) error {
	return s.Pop()
}

// Migrate runs migrations on the master alias with the tenant's schema
// active.
func (b *SchemaBackend) Migrate(ctx context.Context, s *tenantcontext.Stack, appLabel, target string) error {
	return migrateWithContext(ctx, b.deps, s, b, b.tenant, b.deps.Config.MasterDBAlias, appLabel, target)
}

// Delete drops the tenant's schema when requested and emits tenant_deleted.
// The drop cascades and uses IF EXISTS so repeated deletions do not error.
func (b *SchemaBackend) Delete(ctx context.Context, dropDestination bool) error {
	schema := b.SchemaName()

	if dropDestination {
		db, err := b.deps.Registry.DB(b.deps.Config.MasterDBAlias)
		if err != nil {
			return &tenant.ProvisioningError{
				TenantID:    b.tenant.TenantID,
				Destination: schema,
				Op:          "drop schema",
				Err:         err,
			}
		}
		stmt := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(schema))
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			metrics.RecordProvisioningFailure()
			return &tenant.ProvisioningError{
				TenantID:    b.tenant.TenantID,
				Destination: schema,
				Op:          "drop schema",
				Err:         err,
			}
		}
		logger.FromContext(ctx).Info("tenant schema dropped",
			zap.String("tenant_id", b.tenant.TenantID),
			zap.String("schema", schema))
	}

	b.deps.Hub.Publish("tenant_deleted", b.tenant)
	metrics.RecordTenantOperation("delete", string(b.tenant.IsolationType))
	return nil
}
