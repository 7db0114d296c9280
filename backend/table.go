package backend

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/metrics"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// TableBackend keeps tenants in shared tables scoped by a tenant column.
// There is no physical destination to provision or drop; lifecycle events
// still fire so listeners observe the same transitions as for the other
// strategies.
type TableBackend struct {
	tenant *tenant.Tenant
	deps   Deps
}

// NewTableBackend constructs the backend for one tenant.
func NewTableBackend(t *tenant.Tenant, deps Deps) *TableBackend {
	return &TableBackend{tenant: t, deps: deps}
}

// Create is a provisioning no-op; it emits tenant_created and optionally
// migrates the shared tables.
func (b *TableBackend) Create(ctx context.Context, runMigrations bool) error {
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

// Bind verifies the shared master connection is registered.
func (b *TableBackend) Bind() error {
	if !b.deps.Registry.Has(b.deps.Config.MasterDBAlias) {
		return &tenant.ProvisioningError{
			TenantID:    b.tenant.TenantID,
			Destination: b.deps.Config.MasterDBAlias,
			Op:          "bind",
			Err:         errMasterNotRegistered,
		}
	}
	return nil
}

// Activate pushes the tenant; its operations route to the master alias.
func (b *TableBackend) Activate(s *tenantcontext.Stack) error {
	if err := b.Bind(); err != nil {
		return err
	}
	if err := s.Push(b.tenant); err != nil {
		return err
	}
	metrics.RecordActivation()
	return nil
}

// Deactivate pops the tenant.
func (b *TableBackend) Deactivate(s *tenantcontext.Stack) error {
	return s.Pop()
}

// Migrate migrates the shared tables on the master alias.
func (b *TableBackend) Migrate(ctx context.Context, s *tenantcontext.Stack, appLabel, target string) error {
	return migrateWithContext(ctx, b.deps, s, b, b.tenant, b.deps.Config.MasterDBAlias, appLabel, target)
}

// Delete has nothing to drop; it emits tenant_deleted. Row-level data
// removal is the application's decision, not an isolation concern.
func (b *TableBackend) Delete(ctx context.Context, dropDestination bool) error {
	if dropDestination {
		logger.FromContext(ctx).Warn("table-isolated tenant has no destination to drop",
			zap.String("tenant_id", b.tenant.TenantID))
	}
	b.deps.Hub.Publish("tenant_deleted", b.tenant)
	metrics.RecordTenantOperation("delete", string(b.tenant.IsolationType))
	return nil
}

// Scoped narrows a query to the rows belonging to the tenant active on the
// context. Shared-table models carry a tenant_id column; this is the single
// place that applies it.
func Scoped(ctx context.Context, db *gorm.DB) *gorm.DB {
	t := tenantcontext.CurrentTenant(ctx)
	if t == nil {
		return db
	}
	return db.Where("tenant_id = ?", t.TenantID)
}
