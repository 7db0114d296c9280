// Package orchestrator sequences multi-step tenant lifecycle operations:
// create→bind→migrate→notify and delete→drop→unbind→notify, plus batch
// operations that tolerate per-tenant failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/backend"
	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/tenant"
)

// Orchestrator drives administrative lifecycle flows over the tenant store
// and the isolation backends. Its operations perform DDL and are meant for
// administrative and background flows, not request paths.
type Orchestrator struct {
	store   tenant.Store
	deps    backend.Deps
	backend BackendFactory
}

// BackendFactory selects the backend for a tenant. The default is
// backend.ForTenant; tests substitute doubles.
type BackendFactory func(t *tenant.Tenant, deps backend.Deps) backend.Backend

// New creates an orchestrator.
func New(store tenant.Store, deps backend.Deps) *Orchestrator {
	return NewWithFactory(store, deps, backend.ForTenant)
}

// NewWithFactory creates an orchestrator with a custom backend factory.
func NewWithFactory(store tenant.Store, deps backend.Deps, factory BackendFactory) *Orchestrator {
	return &Orchestrator{store: store, deps: deps, backend: factory}
}

// MigrationResult records the outcome of one tenant's migration within a
// batch.
type MigrationResult struct {
	TenantID string
	Err      error
}

// Failed reports whether the result is a failure.
func (r MigrationResult) Failed() bool { return r.Err != nil }

// CreateTenant persists the tenant record, then provisions its destination.
// When provisioning fails the record is kept: the partial state (record
// without destination, or destination without registration) stays
// inspectable rather than being rolled back, since the DDL involved is not
// transactional.
func (o *Orchestrator) CreateTenant(ctx context.Context, t *tenant.Tenant, runMigrations bool) error {
	if !t.IsolationType.Valid() {
		return fmt.Errorf("invalid isolation type %q for tenant %q", t.IsolationType, t.TenantID)
	}

	if err := o.store.Create(ctx, t); err != nil {
		return fmt.Errorf("persisting tenant %q: %w", t.TenantID, err)
	}

	if err := o.backend(t, o.deps).Create(ctx, runMigrations); err != nil {
		logger.FromContext(ctx).Error("tenant provisioning failed after record creation",
			zap.String("tenant_id", t.TenantID), zap.Error(err))
		return err
	}
	return nil
}

// DeleteTenant tears the tenant down: optionally drops its destination,
// deregisters it, emits tenant_deleted, then removes the record. With
// dropDestination false the storage survives for a later hard delete.
func (o *Orchestrator) DeleteTenant(ctx context.Context, tenantID string, dropDestination bool) error {
	t, err := o.store.ByTenantID(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := o.backend(t, o.deps).Delete(ctx, dropDestination); err != nil {
		return err
	}
	return o.store.Delete(ctx, tenantID)
}

// UpdateTenant applies metadata changes. Isolation-type changes are rejected
// by the store.
func (o *Orchestrator) UpdateTenant(ctx context.Context, t *tenant.Tenant) error {
	return o.store.Update(ctx, t)
}

// MigrateTenant migrates one tenant, optionally scoped to an app and a
// target.
func (o *Orchestrator) MigrateTenant(ctx context.Context, tenantID, appLabel, target string) error {
	t, err := o.store.ByTenantID(ctx, tenantID)
	if err != nil {
		return err
	}
	s := backend.NewStack(o.deps)
	return o.backend(t, o.deps).Migrate(ctx, s, appLabel, target)
}

// MigrateAllTenants migrates every tenant independently. One tenant's
// failure is recorded and the batch continues; it never rolls back or
// blocks another tenant's migration. The error return covers only the
// tenant listing itself.
func (o *Orchestrator) MigrateAllTenants(ctx context.Context, appLabel, target string) ([]MigrationResult, error) {
	tenants, err := o.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	log := logger.FromContext(ctx)
	results := make([]MigrationResult, 0, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		s := backend.NewStack(o.deps)
		migErr := o.backend(t, o.deps).Migrate(ctx, s, appLabel, target)
		if migErr != nil {
			log.Error("tenant migration failed in batch",
				zap.String("tenant_id", t.TenantID), zap.Error(migErr))
		} else {
			log.Info("tenant migrated", zap.String("tenant_id", t.TenantID))
		}
		results = append(results, MigrationResult{TenantID: t.TenantID, Err: migErr})
	}
	return results, nil
}

// ResetAllTenants unapplies every app's schema for every tenant. Apps with
// no migrations registered are skipped without aborting the run; other
// failures are recorded per tenant and the batch continues.
func (o *Orchestrator) ResetAllTenants(ctx context.Context) ([]MigrationResult, error) {
	tenants, err := o.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	log := logger.FromContext(ctx)
	results := make([]MigrationResult, 0, len(tenants))
	for i := range tenants {
		t := &tenants[i]
		var tenantErr error
		for _, label := range o.deps.Apps.Labels() {
			s := backend.NewStack(o.deps)
			migErr := o.backend(t, o.deps).Migrate(ctx, s, label, backend.MigrationTargetZero)
			if migErr == nil {
				continue
			}
			if errors.Is(migErr, backend.ErrNoMigrations) {
				log.Debug("skipping app without migrations",
					zap.String("tenant_id", t.TenantID), zap.String("app", label))
				continue
			}
			tenantErr = migErr
			break
		}
		results = append(results, MigrationResult{TenantID: t.TenantID, Err: tenantErr})
	}
	return results, nil
}

// ListTenants returns the tenants, optionally filtered by isolation type.
func (o *Orchestrator) ListTenants(ctx context.Context, isolation tenant.IsolationType) ([]tenant.Tenant, error) {
	return o.store.List(ctx, isolation)
}
