package backend

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulRimal/omnitenant/events"
	"github.com/RahulRimal/omnitenant/tenant"
)

func databaseTestTenant() *tenant.Tenant {
	return &tenant.Tenant{
		TenantID:      "acme",
		Name:          "Acme Corp",
		IsolationType: tenant.IsolationDatabase,
		Config: tenant.JSONMap{
			"db_config": map[string]interface{}{
				"NAME":     "acme_db",
				"HOST":     "h",
				"USER":     "u",
				"PASSWORD": "p",
				"PORT":     float64(5432),
			},
		},
	}
}

func TestAliasAndConfigResolvesAgainstMaster(t *testing.T) {
	deps := newTestDeps(t, nil)

	// Only NAME overridden: every other field comes from the master config.
	tn := &tenant.Tenant{
		TenantID:      "acme",
		IsolationType: tenant.IsolationDatabase,
		Config: tenant.JSONMap{
			"db_config": map[string]interface{}{"NAME": "acme_db"},
		},
	}
	alias, cfg := NewDatabaseBackend(tn, deps).AliasAndConfig()

	assert.Equal(t, "acme_db", alias)
	assert.Equal(t, "acme_db", cfg.Name)
	assert.Equal(t, "master.internal", cfg.Host)
	assert.Equal(t, "5432", cfg.Port)
	assert.Equal(t, "postgres", cfg.User)
	assert.Equal(t, "pw", cfg.Password)
}

func TestAliasAndConfigExplicitAlias(t *testing.T) {
	deps := newTestDeps(t, nil)
	tn := &tenant.Tenant{
		TenantID:      "acme",
		IsolationType: tenant.IsolationDatabase,
		Config: tenant.JSONMap{
			"db_config": map[string]interface{}{"NAME": "acme_db", "ALIAS": "acme_primary"},
		},
	}
	alias, _ := NewDatabaseBackend(tn, deps).AliasAndConfig()
	assert.Equal(t, "acme_primary", alias)
}

func TestDatabaseBackendCreate(t *testing.T) {
	admin, mocks := adminMock(t, 1)
	deps := newTestDeps(t, admin)
	seen := capturedEvents(deps)

	mocks[0].ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "acme_db"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mocks[0].ExpectClose()

	b := NewDatabaseBackend(databaseTestTenant(), deps)
	require.NoError(t, b.Create(context.Background(), false))

	// Create binds the alias so the tenant is routable immediately.
	assert.True(t, deps.Registry.Has("acme_db"))
	cfg, ok := deps.Registry.Config("acme_db")
	require.True(t, ok)
	assert.Equal(t, "acme_db", cfg.Name)
	assert.Equal(t, "h", cfg.Host)

	assert.Equal(t, []events.Event{events.TenantCreated}, *seen)
	require.NoError(t, mocks[0].ExpectationsWereMet())
}

func TestDatabaseBackendCreateFailure(t *testing.T) {
	admin, mocks := adminMock(t, 1)
	deps := newTestDeps(t, admin)
	seen := capturedEvents(deps)

	mocks[0].ExpectExec("CREATE DATABASE").WillReturnError(assert.AnError)
	mocks[0].ExpectClose()

	b := NewDatabaseBackend(databaseTestTenant(), deps)
	err := b.Create(context.Background(), false)

	var provErr *tenant.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "acme", provErr.TenantID)
	assert.Equal(t, "acme_db", provErr.Destination)
	assert.Equal(t, "create database", provErr.Op)
	assert.ErrorIs(t, err, assert.AnError)

	// Nothing was provisioned: no alias, no event.
	assert.False(t, deps.Registry.Has("acme_db"))
	assert.Empty(t, *seen)
}

func TestDatabaseBackendBindIdempotent(t *testing.T) {
	deps := newTestDeps(t, nil)
	b := NewDatabaseBackend(databaseTestTenant(), deps)

	require.NoError(t, b.Bind())
	require.NoError(t, b.Bind())
	assert.True(t, deps.Registry.Has("acme_db"))
}

func TestDatabaseBackendDeleteIdempotent(t *testing.T) {
	admin, mocks := adminMock(t, 2)
	deps := newTestDeps(t, admin)
	seen := capturedEvents(deps)

	for _, mock := range mocks {
		// IF EXISTS: dropping an already-absent database succeeds.
		mock.ExpectExec(regexp.QuoteMeta(`DROP DATABASE IF EXISTS "acme_db"`)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectClose()
	}

	b := NewDatabaseBackend(databaseTestTenant(), deps)
	require.NoError(t, b.Bind())

	require.NoError(t, b.Delete(context.Background(), true))
	assert.False(t, deps.Registry.Has("acme_db"))

	require.NoError(t, b.Delete(context.Background(), true))

	assert.Equal(t, []events.Event{events.TenantDeleted, events.TenantDeleted}, *seen)
	for _, mock := range mocks {
		require.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestDatabaseBackendDeleteWithoutDrop(t *testing.T) {
	deps := newTestDeps(t, nil)
	seen := capturedEvents(deps)

	b := NewDatabaseBackend(databaseTestTenant(), deps)
	require.NoError(t, b.Bind())
	require.NoError(t, b.Delete(context.Background(), false))

	// The alias is gone but no DDL was issued.
	assert.False(t, deps.Registry.Has("acme_db"))
	assert.Equal(t, []events.Event{events.TenantDeleted}, *seen)
}

// TestDatabaseTenantLifecycle walks one tenant through provision, activation,
// routing, deactivation and teardown.
func TestDatabaseTenantLifecycle(t *testing.T) {
	admin, mocks := adminMock(t, 2)
	deps := newTestDeps(t, admin)

	mocks[0].ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "acme_db"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mocks[0].ExpectClose()
	mocks[1].ExpectExec(regexp.QuoteMeta(`DROP DATABASE IF EXISTS "acme_db"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mocks[1].ExpectClose()

	tn := databaseTestTenant()
	b := ForTenant(tn, deps)
	require.IsType(t, &DatabaseBackend{}, b)

	require.NoError(t, b.Create(context.Background(), false))
	require.True(t, deps.Registry.Has("acme_db"))

	s := NewStack(deps)
	require.NoError(t, b.Activate(s))

	alias, err := deps.Router.ReadAlias(s, tenant.ScopeTenant)
	require.NoError(t, err)
	assert.Equal(t, "acme_db", alias)

	require.NoError(t, b.Deactivate(s))
	_, err = deps.Router.ReadAlias(s, tenant.ScopeTenant)
	assert.Error(t, err)

	require.NoError(t, b.Delete(context.Background(), true))
	assert.False(t, deps.Registry.Has("acme_db"))
}

func TestWithTenantDeactivatesOnPanic(t *testing.T) {
	deps := newTestDeps(t, nil)
	b := NewTableBackend(&tenant.Tenant{TenantID: "acme", IsolationType: tenant.IsolationTable}, deps)
	registerMaster(t, deps)

	s := NewStack(deps)
	assert.Panics(t, func() {
		_ = WithTenant(s, b, func() error { panic("boom") })
	})
	assert.Equal(t, 0, s.Depth())
}
