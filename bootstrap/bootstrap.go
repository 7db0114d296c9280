// Package bootstrap assembles the multi-tenancy layer in one explicit,
// ordered startup step: validate configuration, open the master connection,
// build the routing configuration once, and wire the lifecycle plumbing.
// Nothing here mutates after Run returns; a configuration problem aborts
// startup before any request is served.
package bootstrap

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/backend"
	"github.com/RahulRimal/omnitenant/config"
	"github.com/RahulRimal/omnitenant/events"
	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/metrics"
	"github.com/RahulRimal/omnitenant/orchestrator"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/resolver"
	"github.com/RahulRimal/omnitenant/router"
	"github.com/RahulRimal/omnitenant/tenant"
)

// Hook is an extension point that runs at the end of bootstrap, replacing
// the import-time side effects of plugin modules with an explicit, ordered
// list.
type Hook func(k *Kernel) error

// Options configures bootstrap. Apps is required; the injectable open/admin
// functions exist for tests.
type Options struct {
	Config    *config.Config
	Apps      *apps.Registry
	Open      registry.OpenFunc
	AdminConn backend.AdminConnFunc
	Hooks     []Hook

	// SkipMasterMigrate skips auto-migrating the tenant and domain tables
	// on the master database (useful when migrations are managed
	// externally).
	SkipMasterMigrate bool
}

// Kernel is the assembled multi-tenancy layer.
type Kernel struct {
	Config       *config.Config
	Registry     *registry.Registry
	Caches       *registry.CacheRegistry
	Apps         *apps.Registry
	Router       *router.Router
	Hub          *events.Hub
	Store        tenant.Store
	Deps         backend.Deps
	Orchestrator *orchestrator.Orchestrator
	Resolver     resolver.Resolver
}

// Run performs the ordered startup sequence and returns the kernel, or a
// *config.ConfigurationError (wrapped) when a required setting is missing.
func Run(opts Options) (*Kernel, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: Config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Apps == nil {
		return nil, fmt.Errorf("bootstrap: Apps registry is required")
	}

	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.GetLogger()
	log.Info("bootstrapping omnitenant", cfg.LogFields()...)

	metrics.Register()

	reg := registry.NewRegistry(opts.Open)
	masterCfg := registry.DBConfig{
		Name:            cfg.DB.Name,
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Host:            cfg.DB.Host,
		Port:            cfg.DB.Port,
		SSLMode:         cfg.DB.SSLMode,
		TimeZone:        cfg.DB.TimeZone,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}
	reg.Register(cfg.MasterDBAlias, masterCfg)
	if cfg.PublicDBAlias != cfg.MasterDBAlias {
		// The public tenant rides the master database under its own alias.
		reg.Register(cfg.PublicDBAlias, masterCfg)
	}

	// Open the master connection now so a bad database configuration fails
	// startup instead of the first request.
	masterDB, err := reg.DB(cfg.MasterDBAlias)
	if err != nil {
		return nil, fmt.Errorf("opening master database: %w", err)
	}

	caches := registry.NewCacheRegistry()
	caches.Register(cfg.MasterCacheAlias, &redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	rtr := router.New(cfg.MasterDBAlias, cfg.DefaultSchemaName, opts.Apps)

	hub := events.NewHub()
	hub.Subscribe(events.TenantDeleted, events.CacheInvalidationListener(caches, cfg.MasterCacheAlias))

	store := tenant.NewGormStore(masterDB)
	if !opts.SkipMasterMigrate {
		if err := masterDB.AutoMigrate(&tenant.Tenant{}, &tenant.Domain{}); err != nil {
			return nil, fmt.Errorf("migrating tenant tables on master: %w", err)
		}
	}

	deps := backend.Deps{
		Config:    cfg,
		Registry:  reg,
		Hub:       hub,
		Apps:      opts.Apps,
		Router:    rtr,
		AdminConn: opts.AdminConn,
	}

	res, err := resolver.ForConfig(cfg, store)
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		Config:       cfg,
		Registry:     reg,
		Caches:       caches,
		Apps:         opts.Apps,
		Router:       rtr,
		Hub:          hub,
		Store:        store,
		Deps:         deps,
		Orchestrator: orchestrator.New(store, deps),
		Resolver:     res,
	}

	for _, hook := range opts.Hooks {
		if err := hook(k); err != nil {
			return nil, fmt.Errorf("bootstrap hook failed: %w", err)
		}
	}

	log.Info("omnitenant ready",
		zap.Strings("apps", opts.Apps.Labels()),
		zap.String("master_alias", cfg.MasterDBAlias))
	return k, nil
}
