package backend

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/events"
	"github.com/RahulRimal/omnitenant/metrics"
	"github.com/RahulRimal/omnitenant/tenant"
)

type ledgerEntry struct {
	ID uint
}

func (ledgerEntry) TenantScope() tenant.Scope { return tenant.ScopeMaster }

type auditLog struct {
	ID uint
}

func (auditLog) TenantScope() tenant.Scope { return tenant.ScopeMaster }

type orderRow struct {
	ID       uint
	TenantID string
}

func (orderRow) TenantScope() tenant.Scope { return tenant.ScopeTenant }

func tableTestTenant() *tenant.Tenant {
	return &tenant.Tenant{
		TenantID:      "acme",
		Name:          "Acme Corp",
		IsolationType: tenant.IsolationTable,
	}
}

func TestMigrateRejectsUnsupportedTarget(t *testing.T) {
	deps := newTestDeps(t, nil)
	registerMaster(t, deps)
	deps.Apps.MustRegister(apps.App{Label: "billing", Models: []interface{}{ledgerEntry{}}})

	b := NewTableBackend(tableTestTenant(), deps)
	err := b.Migrate(context.Background(), NewStack(deps), "billing", "0002_add_index")

	var migErr *tenant.MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "acme", migErr.TenantID)
	assert.ErrorContains(t, err, "unsupported migration target")
}

func TestMigrateUnknownApp(t *testing.T) {
	deps := newTestDeps(t, nil)
	registerMaster(t, deps)

	b := NewTableBackend(tableTestTenant(), deps)
	err := b.Migrate(context.Background(), NewStack(deps), "nonexistent", "")

	// The sentinel passes through unwrapped so batch callers can skip it.
	assert.ErrorIs(t, err, ErrNoMigrations)
}

func TestMigrateSkipIsNotAFailure(t *testing.T) {
	deps := newTestDeps(t, nil)
	registerMaster(t, deps)

	failures := testutil.ToFloat64(metrics.MigrationCounter.WithLabelValues("failure"))

	b := NewTableBackend(tableTestTenant(), deps)
	err := b.Migrate(context.Background(), NewStack(deps), "nonexistent", "")
	require.ErrorIs(t, err, ErrNoMigrations)

	// A skipped app leaves the failure counter alone.
	assert.Equal(t, failures,
		testutil.ToFloat64(metrics.MigrationCounter.WithLabelValues("failure")))
}

func TestMigrateAppWithoutModels(t *testing.T) {
	deps := newTestDeps(t, nil)
	registerMaster(t, deps)
	deps.Apps.MustRegister(apps.App{Label: "empty"})

	b := NewTableBackend(tableTestTenant(), deps)
	err := b.Migrate(context.Background(), NewStack(deps), "empty", "")
	assert.ErrorIs(t, err, ErrNoMigrations)
}

func TestMigrateZeroDropsInReverseOrder(t *testing.T) {
	deps := newTestDeps(t, nil)
	mock := registerMaster(t, deps)
	seen := capturedEvents(deps)
	deps.Apps.MustRegister(apps.App{
		Label:  "billing",
		Models: []interface{}{ledgerEntry{}, auditLog{}},
	})

	// Dependents drop before their dependencies: reverse registration order.
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "audit_logs" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "ledger_entries" CASCADE`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	b := NewTableBackend(tableTestTenant(), deps)
	s := NewStack(deps)
	require.NoError(t, b.Migrate(context.Background(), s, "billing", MigrationTargetZero))

	assert.Equal(t, 0, s.Depth())
	assert.Contains(t, *seen, events.TenantMigrated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateSkipsDisallowedModels(t *testing.T) {
	deps := newTestDeps(t, nil)
	mock := registerMaster(t, deps)
	seen := capturedEvents(deps)
	// Tenant-scoped rows do not belong on the master alias for a
	// database-style destination, so the model is filtered out before any
	// DDL runs.
	deps.Apps.MustRegister(apps.App{
		Label:  "orders",
		Models: []interface{}{orderRow{}},
	})

	b := NewTableBackend(tableTestTenant(), deps)
	err := b.Migrate(context.Background(), NewStack(deps), "orders", MigrationTargetZero)
	require.NoError(t, err)

	assert.Contains(t, *seen, events.TenantMigrated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateReleasesContextOnFailure(t *testing.T) {
	deps := newTestDeps(t, nil)
	mock := registerMaster(t, deps)
	deps.Apps.MustRegister(apps.App{
		Label:  "billing",
		Models: []interface{}{ledgerEntry{}},
	})

	mock.ExpectExec("DROP TABLE").WillReturnError(assert.AnError)

	b := NewTableBackend(tableTestTenant(), deps)
	s := NewStack(deps)
	err := b.Migrate(context.Background(), s, "billing", MigrationTargetZero)

	var migErr *tenant.MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "default", migErr.Alias)
	// The stack is balanced even though the migration failed.
	assert.Equal(t, 0, s.Depth())
}
