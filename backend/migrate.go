package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/metrics"
	tenantpkg "github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// ErrNoMigrations marks an app with nothing to migrate. Batch operations
// recognize it and skip the app instead of failing the run.
var ErrNoMigrations = errors.New("app does not have migrations")

// MigrationTargetZero unapplies an app's schema instead of advancing it.
const MigrationTargetZero = "zero"

// migrateWithContext is the shared migrate flow: activate the tenant, run
// the migration engine against its alias, deactivate on every path, then
// emit tenant_migrated. Failures are logged with the destination alias and
// re-raised as MigrationError; they are never swallowed.
func migrateWithContext(ctx context.Context, deps Deps, s *tenantcontext.Stack, b Backend, t *tenantpkg.Tenant, alias, appLabel, target string) error {
	log := logger.FromContext(ctx)

	err := WithTenant(s, b, func() error {
		return runMigrations(ctx, deps, s, alias, appLabel, target)
	})
	if errors.Is(err, ErrNoMigrations) {
		// Nothing to migrate is a skip, not a failure.
		log.Debug("skipping app without migrations",
			zap.String("tenant_id", t.TenantID),
			zap.String("alias", alias),
			zap.Error(err))
		return err
	}
	if err != nil {
		metrics.RecordMigration("failure")
		log.Error("tenant migration failed",
			zap.String("tenant_id", t.TenantID),
			zap.String("alias", alias),
			zap.Error(err))
		return &tenantpkg.MigrationError{TenantID: t.TenantID, Alias: alias, Err: err}
	}

	deps.Hub.Publish("tenant_migrated", t)
	metrics.RecordMigration("success")
	metrics.RecordTenantOperation("migrate", string(t.IsolationType))
	return nil
}

// runMigrations materializes (or, for the zero target, tears down) the
// schema of the selected apps on the given alias. It must run with the
// tenant already activated: the routing matrix is evaluated against the
// stack's live binding, so a disallowed (entity, destination, schema)
// combination is skipped before any DDL is issued.
func runMigrations(ctx context.Context, deps Deps, s *tenantcontext.Stack, alias, appLabel, target string) error {
	if target != "" && target != MigrationTargetZero {
		return fmt.Errorf("unsupported migration target %q (supported: latest, %q)", target, MigrationTargetZero)
	}

	var labels []string
	if appLabel != "" {
		if _, ok := deps.Apps.Get(appLabel); !ok {
			return fmt.Errorf("app %q: %w", appLabel, ErrNoMigrations)
		}
		labels = []string{appLabel}
	} else {
		labels = deps.Apps.Labels()
	}

	db, err := deps.Registry.DB(alias)
	if err != nil {
		return err
	}
	db = db.WithContext(ctx)
	log := logger.FromContext(ctx)

	for _, label := range labels {
		app, _ := deps.Apps.Get(label)
		if len(app.Models) == 0 {
			if appLabel != "" {
				return fmt.Errorf("app %q: %w", label, ErrNoMigrations)
			}
			continue
		}

		var allowed []interface{}
		for _, model := range app.Models {
			if deps.Router.AllowMigrateModel(s, alias, label, model) {
				allowed = append(allowed, model)
			} else {
				log.Debug("skipping model disallowed at destination",
					zap.String("app", label),
					zap.String("alias", alias),
					zap.String("schema", s.ActiveSchema()))
			}
		}
		if len(allowed) == 0 {
			continue
		}

		if target == MigrationTargetZero {
			// Unapply in reverse registration order so dependents drop
			// before their dependencies.
			for i := len(allowed) - 1; i >= 0; i-- {
				if err := db.Migrator().DropTable(allowed[i]); err != nil {
					return fmt.Errorf("unapplying app %q on alias %q: %w", label, alias, err)
				}
			}
			continue
		}

		if err := db.AutoMigrate(allowed...); err != nil {
			return fmt.Errorf("migrating app %q on alias %q: %w", label, alias, err)
		}
	}

	return nil
}
