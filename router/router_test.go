package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

type stubConns struct{}

func (stubConns) Has(string) bool { return true }

func (stubConns) SetSearchPath(string, string) error { return nil }

type masterModel struct{}

func (masterModel) TenantScope() tenant.Scope { return tenant.ScopeMaster }

type sharedModel struct{}

func (sharedModel) TenantScope() tenant.Scope { return tenant.ScopeShared }

type plainModel struct{}

func testRegistry(t *testing.T) *apps.Registry {
	t.Helper()
	reg := apps.NewRegistry()
	require.NoError(t, reg.Register(apps.App{Label: "billing", Scope: tenant.ScopeTenant, Models: []interface{}{plainModel{}}}))
	require.NoError(t, reg.Register(apps.App{Label: "accounts", Scope: tenant.ScopeMaster, Models: []interface{}{masterModel{}}}))
	return reg
}

func newStack() *tenantcontext.Stack {
	return tenantcontext.NewStack("default", "public", stubConns{}, nil)
}

func activate(t *testing.T, s *tenantcontext.Stack, tn *tenant.Tenant, schema string) {
	t.Helper()
	require.NoError(t, s.Push(tn))
	if schema != "" {
		require.NoError(t, s.SetActiveSchema(schema))
	}
}

func databaseTenant() *tenant.Tenant {
	return &tenant.Tenant{
		TenantID:      "acme",
		IsolationType: tenant.IsolationDatabase,
		Config: tenant.JSONMap{
			"db_config": map[string]interface{}{"NAME": "acme_db"},
		},
	}
}

func schemaIsoTenant() *tenant.Tenant {
	return &tenant.Tenant{TenantID: "acme", IsolationType: tenant.IsolationSchema}
}

func TestReadAliasMasterScope(t *testing.T) {
	r := New("default", "public", testRegistry(t))

	s := newStack()
	alias, err := r.ReadAlias(s, tenant.ScopeMaster)
	require.NoError(t, err)
	assert.Equal(t, "default", alias)

	// Master scope ignores the active tenant.
	activate(t, s, databaseTenant(), "")
	alias, err = r.ReadAlias(s, tenant.ScopeMaster)
	require.NoError(t, err)
	assert.Equal(t, "default", alias)
}

func TestReadAliasTenantScope(t *testing.T) {
	r := New("default", "public", testRegistry(t))

	s := newStack()
	_, err := r.ReadAlias(s, tenant.ScopeTenant)
	var violation *Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, tenant.ScopeTenant, violation.Scope)

	activate(t, s, databaseTenant(), "")
	alias, err := r.ReadAlias(s, tenant.ScopeTenant)
	require.NoError(t, err)
	assert.Equal(t, "acme_db", alias)
}

func TestReadAliasSharedScope(t *testing.T) {
	r := New("default", "public", testRegistry(t))

	s := newStack()
	alias, err := r.ReadAlias(s, tenant.ScopeShared)
	require.NoError(t, err)
	assert.Equal(t, "default", alias)

	activate(t, s, databaseTenant(), "")
	alias, err = r.ReadAlias(s, tenant.ScopeShared)
	require.NoError(t, err)
	assert.Equal(t, "acme_db", alias)
}

func TestWriteAliasFollowsRead(t *testing.T) {
	r := New("default", "public", testRegistry(t))
	s := newStack()
	activate(t, s, databaseTenant(), "")

	read, err := r.ReadAlias(s, tenant.ScopeTenant)
	require.NoError(t, err)
	write, err := r.WriteAlias(s, tenant.ScopeTenant)
	require.NoError(t, err)
	assert.Equal(t, read, write)
}

func TestAllowRelation(t *testing.T) {
	r := New("default", "public", testRegistry(t))
	s := newStack()
	activate(t, s, databaseTenant(), "")

	assert.True(t, r.AllowRelation(s, tenant.ScopeTenant, tenant.ScopeTenant))
	assert.True(t, r.AllowRelation(s, tenant.ScopeMaster, tenant.ScopeMaster))
	// Tenant data on acme_db, master data on default: no cross-destination
	// relations.
	assert.False(t, r.AllowRelation(s, tenant.ScopeTenant, tenant.ScopeMaster))
	assert.False(t, r.AllowRelation(s, tenant.ScopeShared, tenant.ScopeMaster))
}

func TestScopeOf(t *testing.T) {
	r := New("default", "public", testRegistry(t))

	assert.Equal(t, tenant.ScopeMaster, r.ScopeOf(masterModel{}, "billing"))
	assert.Equal(t, tenant.ScopeTenant, r.ScopeOf(plainModel{}, "billing"))
	assert.Equal(t, tenant.ScopeMaster, r.ScopeOf(plainModel{}, "accounts"))
	assert.Equal(t, tenant.ScopeTenant, r.ScopeOf(plainModel{}, "unknown"))
}

// TestAllowMigrateMatrix asserts every cell of the migration permission
// matrix over {master alias, tenant alias} x {default schema, tenant
// schema} x {master, tenant, shared}, once with a database-isolated active
// tenant and once with a schema-isolated one.
func TestAllowMigrateMatrix(t *testing.T) {
	type cell struct {
		alias        string
		activeSchema string
		scope        tenant.Scope
		want         bool
	}

	t.Run("database isolated tenant", func(t *testing.T) {
		cells := []cell{
			{"default", "public", tenant.ScopeMaster, true},
			{"default", "acme", tenant.ScopeMaster, false},
			{"acme_db", "public", tenant.ScopeMaster, false},
			{"acme_db", "acme", tenant.ScopeMaster, false},

			{"default", "public", tenant.ScopeTenant, false},
			{"default", "acme", tenant.ScopeTenant, false},
			{"acme_db", "public", tenant.ScopeTenant, true},
			{"acme_db", "acme", tenant.ScopeTenant, false},

			{"default", "public", tenant.ScopeShared, true},
			{"default", "acme", tenant.ScopeShared, false},
			{"acme_db", "public", tenant.ScopeShared, true},
			{"acme_db", "acme", tenant.ScopeShared, true},
		}

		for _, c := range cells {
			r := New("default", "public", testRegistry(t))
			s := newStack()
			activate(t, s, databaseTenant(), "")
			if c.activeSchema != "public" {
				require.NoError(t, s.SetActiveSchema(c.activeSchema))
			}
			got := r.AllowMigrate(s, c.alias, "billing", c.scope)
			assert.Equalf(t, c.want, got, "alias=%s schema=%s scope=%s", c.alias, c.activeSchema, c.scope)
		}
	})

	t.Run("schema isolated tenant", func(t *testing.T) {
		// For schema-isolated tenants the "master alias" is the shared
		// server; tenant entities belong there with the tenant schema
		// active, never under the default schema.
		cells := []cell{
			{"default", "public", tenant.ScopeMaster, true},
			{"default", "acme", tenant.ScopeMaster, false},
			{"other_db", "public", tenant.ScopeMaster, false},
			{"other_db", "acme", tenant.ScopeMaster, false},

			{"default", "public", tenant.ScopeTenant, false},
			{"default", "acme", tenant.ScopeTenant, true},
			{"other_db", "public", tenant.ScopeTenant, false},
			{"other_db", "acme", tenant.ScopeTenant, false},

			{"default", "public", tenant.ScopeShared, true},
			{"default", "acme", tenant.ScopeShared, true},
			{"other_db", "public", tenant.ScopeShared, false},
			{"other_db", "acme", tenant.ScopeShared, false},
		}

		for _, c := range cells {
			r := New("default", "public", testRegistry(t))
			s := newStack()
			activate(t, s, schemaIsoTenant(), "")
			if c.activeSchema != "public" {
				require.NoError(t, s.SetActiveSchema(c.activeSchema))
			}
			got := r.AllowMigrate(s, c.alias, "billing", c.scope)
			assert.Equalf(t, c.want, got, "alias=%s schema=%s scope=%s", c.alias, c.activeSchema, c.scope)
		}
	})
}

func TestAllowMigrateUnmanagedAppBypass(t *testing.T) {
	r := New("default", "public", testRegistry(t))
	s := newStack()

	// Framework-internal namespaces are permitted everywhere.
	assert.True(t, r.AllowMigrate(s, "default", "framework_internal", tenant.ScopeMaster))
	assert.True(t, r.AllowMigrate(s, "anywhere", "framework_internal", tenant.ScopeTenant))
}

func TestAllowMigrateNoActiveTenant(t *testing.T) {
	r := New("default", "public", testRegistry(t))
	s := newStack()

	// With no tenant active, tenant entities belong only at a non-master
	// alias with the default schema (the database-isolation shape).
	assert.True(t, r.AllowMigrate(s, "acme_db", "billing", tenant.ScopeTenant))
	assert.False(t, r.AllowMigrate(s, "default", "billing", tenant.ScopeTenant))
	assert.True(t, r.AllowMigrate(s, "default", "billing", tenant.ScopeMaster))
}
