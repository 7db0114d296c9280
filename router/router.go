// Package router implements the routing decision engine: given a model's
// scope and the active tenant context, it computes the database alias an
// operation must hit and decides whether a migration is permitted at a given
// destination. Every (scope, destination, schema) combination is an explicit
// decision here, never an implicit ordering effect.
package router

import (
	"fmt"

	"github.com/RahulRimal/omnitenant/apps"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// Violation reports an operation that the decision matrix disallows. It is
// produced before any I/O happens.
type Violation struct {
	Scope  tenant.Scope
	Reason string
}

func (e *Violation) Error() string {
	return fmt.Sprintf("routing violation for %s-scoped operation: %s", e.Scope, e.Reason)
}

// Router is assembled once at bootstrap and never mutated afterwards.
type Router struct {
	masterAlias   string
	defaultSchema string
	apps          *apps.Registry
}

// New creates a router over the given app registry.
func New(masterAlias, defaultSchema string, registry *apps.Registry) *Router {
	return &Router{
		masterAlias:   masterAlias,
		defaultSchema: defaultSchema,
		apps:          registry,
	}
}

// MasterAlias returns the master database alias the router falls back to.
func (r *Router) MasterAlias() string {
	return r.masterAlias
}

// ScopeOf resolves a model's scope: the model's own declaration wins, then
// the default scope of the app it belongs to, then tenant scope.
func (r *Router) ScopeOf(model interface{}, appLabel string) tenant.Scope {
	if scoped, ok := model.(tenant.Scoped); ok {
		return scoped.TenantScope()
	}
	if app, ok := r.apps.Get(appLabel); ok {
		return app.Scope
	}
	return tenant.ScopeTenant
}

// ReadAlias computes the alias a read of the given scope must hit.
// Master-scoped data always reads from the master alias. Shared data reads
// from the active tenant's alias, falling back to master when no tenant is
// active. Tenant-scoped data requires an active tenant: with none, the
// lookup is a Violation, never a silent fallback.
func (r *Router) ReadAlias(s *tenantcontext.Stack, scope tenant.Scope) (string, error) {
	switch scope {
	case tenant.ScopeMaster:
		return r.masterAlias, nil
	case tenant.ScopeShared:
		if alias, ok := s.CurrentAlias(); ok {
			return alias, nil
		}
		return r.masterAlias, nil
	default:
		if alias, ok := s.CurrentAlias(); ok {
			return alias, nil
		}
		return "", &Violation{Scope: scope, Reason: "no active tenant"}
	}
}

// WriteAlias computes the alias a write must hit. Writes follow reads: there
// is no separate write routing.
func (r *Router) WriteAlias(s *tenantcontext.Stack, scope tenant.Scope) (string, error) {
	return r.ReadAlias(s, scope)
}

// AllowRelation reports whether objects of the two scopes may be related:
// only when both resolve to the same alias. Cross-destination relations are
// disallowed.
func (r *Router) AllowRelation(s *tenantcontext.Stack, scopeA, scopeB tenant.Scope) bool {
	aliasA, _ := r.ReadAlias(s, scopeA)
	aliasB, _ := r.ReadAlias(s, scopeB)
	return aliasA == aliasB
}

// AllowMigrate decides whether an entity of the given scope may have its
// schema materialized at dbAlias while the stack's active schema is
// selected. Unmanaged app labels are always permitted everywhere.
//
// The matrix: master-scoped entities belong at the master alias with the
// default schema active. Tenant-scoped entities belong at the master alias
// with a non-default schema active when the active tenant is
// schema-isolated (the "master" alias is then the shared server with the
// tenant schema selected); otherwise at a non-master alias with the default
// schema active. Shared entities are permitted at either valid location.
func (r *Router) AllowMigrate(s *tenantcontext.Stack, dbAlias, appLabel string, scope tenant.Scope) bool {
	if !r.apps.IsManaged(appLabel) {
		return true
	}

	isMaster := dbAlias == r.masterAlias
	isPublicSchema := s.ActiveSchema() == r.defaultSchema

	activeTenant := s.CurrentTenant()
	isSchemaIsolated := activeTenant != nil && activeTenant.IsolationType == tenant.IsolationSchema

	switch scope {
	case tenant.ScopeMaster:
		return isMaster && isPublicSchema

	case tenant.ScopeTenant:
		if isSchemaIsolated {
			return isMaster && !isPublicSchema
		}
		return !isMaster && isPublicSchema

	case tenant.ScopeShared:
		isMasterLocation := isMaster && isPublicSchema
		var isTenantLocation bool
		if isSchemaIsolated {
			isTenantLocation = isMaster && !isPublicSchema
		} else {
			isTenantLocation = !isMaster
		}
		return isMasterLocation || isTenantLocation
	}

	return false
}

// AllowMigrateModel is AllowMigrate with the scope resolved from the model.
func (r *Router) AllowMigrateModel(s *tenantcontext.Stack, dbAlias, appLabel string, model interface{}) bool {
	return r.AllowMigrate(s, dbAlias, appLabel, r.ScopeOf(model, appLabel))
}
