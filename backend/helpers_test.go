package backend

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/config"
	"github.com/RahulRimal/omnitenant/events"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/router"
	"github.com/RahulRimal/omnitenant/tenant"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:       "omnitenant_test",
		PublicHost:        "example.com",
		PublicTenantName:  "public_omnitenant",
		MasterTenantName:  "Master",
		MasterDBAlias:     "default",
		PublicDBAlias:     "public",
		MasterCacheAlias:  "default",
		DefaultSchemaName: "public",
		TenantResolver:    "domain",
		TenantHeader:      "X-Tenant-ID",
		DB: config.DBConfig{
			Host:     "master.internal",
			Port:     "5432",
			User:     "postgres",
			Password: "pw",
			Name:     "master_db",
			SSLMode:  "disable",
			TimeZone: "UTC",
		},
	}
}

func mockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return gdb, mock
}

// newTestDeps wires a deps bundle over fakes: a registry that never dials, an
// admin connection served by sqlmock, and an empty app registry.
func newTestDeps(t *testing.T, admin AdminConnFunc) Deps {
	t.Helper()
	cfg := testConfig()
	reg := registry.NewRegistry(func(registry.DBConfig) (*gorm.DB, error) {
		return &gorm.DB{}, nil
	})
	appReg := apps.NewRegistry()
	return Deps{
		Config:    cfg,
		Registry:  reg,
		Hub:       events.NewHub(),
		Apps:      appReg,
		Router:    router.New(cfg.MasterDBAlias, cfg.DefaultSchemaName, appReg),
		AdminConn: admin,
	}
}

// registerMaster puts a sqlmock-backed master connection in the registry so
// schema DDL and search_path statements have somewhere to land.
func registerMaster(t *testing.T, deps Deps) sqlmock.Sqlmock {
	t.Helper()
	gdb, mock := mockGorm(t)
	deps.Registry.RegisterDB(deps.Config.MasterDBAlias, gdb, registry.DBConfig{
		Name: deps.Config.DB.Name,
		Host: deps.Config.DB.Host,
		Port: deps.Config.DB.Port,
		User: deps.Config.DB.User,
	})
	return mock
}

// capturedEvents subscribes to every lifecycle event and records what fires.
func capturedEvents(deps Deps) *[]events.Event {
	var seen []events.Event
	record := func(evt events.Event, _ *tenant.Tenant) {
		seen = append(seen, evt)
	}
	deps.Hub.Subscribe(events.TenantCreated, record)
	deps.Hub.Subscribe(events.TenantMigrated, record)
	deps.Hub.Subscribe(events.TenantDeleted, record)
	return &seen
}

// adminMock returns an AdminConnFunc that hands out sqlmock connections, one
// per admin dial, and the expectation handles in dial order.
func adminMock(t *testing.T, dials int) (AdminConnFunc, []sqlmock.Sqlmock) {
	t.Helper()
	conns := make([]*sql.DB, dials)
	mocks := make([]sqlmock.Sqlmock, dials)
	for i := range conns {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		conns[i] = sqlDB
		mocks[i] = mock
	}
	var next int
	fn := func(dsn string) (*sql.DB, error) {
		require.Less(t, next, dials, "unexpected admin connection for %s", dsn)
		conn := conns[next]
		next++
		return conn, nil
	}
	return fn, mocks
}
