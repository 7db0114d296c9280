// Package tenantcontext tracks which tenant, database alias and schema are
// active for one unit of work. A Stack is owned exclusively by the execution
// context that created it and is never shared between goroutines; the shared
// state (the connection registry) lives behind the ConnRegistry interface.
package tenantcontext

import (
	"errors"

	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/registry"
	"github.com/RahulRimal/omnitenant/tenant"
)

// ErrImbalance reports a pop with no matching push. It indicates a caller
// bug; use Use to make it structurally impossible.
var ErrImbalance = errors.New("tenant context imbalance: pop without matching push")

// Binder lazily registers a tenant's destination in the connection registry
// the first time it is activated. Wired to the tenant's backend at
// bootstrap.
type Binder func(t *tenant.Tenant) error

// ConnRegistry is the slice of the connection registry the stack needs.
type ConnRegistry interface {
	Has(alias string) bool
	SetSearchPath(alias, schema string) error
}

// Binding is one stack entry: the tenant, the database alias its operations
// route to, and the schema that was active before it was pushed.
type Binding struct {
	Tenant     *tenant.Tenant
	Alias      string
	PrevSchema string
}

// Stack is the scoped context stack. The zero value is not usable; create
// one per unit of work with NewStack.
type Stack struct {
	masterAlias   string
	defaultSchema string
	conns         ConnRegistry
	bind          Binder

	bindings     []Binding
	activeSchema string
}

// NewStack creates an empty stack. With no tenant active, routing falls back
// to the master alias and the default schema is considered active.
func NewStack(masterAlias, defaultSchema string, conns ConnRegistry, bind Binder) *Stack {
	return &Stack{
		masterAlias:   masterAlias,
		defaultSchema: defaultSchema,
		conns:         conns,
		bind:          bind,
		activeSchema:  defaultSchema,
	}
}

// AliasFor determines the database alias a tenant's operations route to.
// Database-isolated tenants get their explicit ALIAS, else their database
// NAME; schema- and table-isolated tenants multiplex the master alias.
func (s *Stack) AliasFor(t *tenant.Tenant) string {
	if t.IsolationType == tenant.IsolationDatabase {
		return registry.AliasFor(registry.ParseDBConfig(t.DBConfigMap()), s.masterAlias)
	}
	return s.masterAlias
}

// Push activates a tenant: resolves its alias, lazily binds the destination
// if it is not yet registered, and records the binding on top of the stack.
// For isolation strategies that multiplex tenants onto one database via
// schemas, the currently active schema is saved and the connection is forced
// back to the neutral default schema; the backend then selects the tenant
// schema explicitly.
func (s *Stack) Push(t *tenant.Tenant) error {
	alias := s.AliasFor(t)

	if !s.conns.Has(alias) && s.bind != nil {
		if err := s.bind(t); err != nil {
			return err
		}
	}

	s.bindings = append(s.bindings, Binding{Tenant: t, Alias: alias, PrevSchema: s.activeSchema})

	if t.IsolationType == tenant.IsolationSchema && s.activeSchema != s.defaultSchema {
		if err := s.conns.SetSearchPath(alias, s.defaultSchema); err != nil {
			// The binding stays on the stack so the matching pop still
			// restores the outer state.
			logger.GetLogger().Warn("failed to reset search_path on push",
				zap.String("alias", alias), zap.Error(err))
		}
		s.activeSchema = s.defaultSchema
	}

	return nil
}

// Pop deactivates the most recently pushed tenant and restores the schema
// saved at the matching push. The stack always shrinks, even when schema
// restoration fails; the restoration error is returned so callers see it.
func (s *Stack) Pop() error {
	if len(s.bindings) == 0 {
		return ErrImbalance
	}

	top := s.bindings[len(s.bindings)-1]
	s.bindings = s.bindings[:len(s.bindings)-1]

	var restoreErr error
	if s.activeSchema != top.PrevSchema {
		if err := s.conns.SetSearchPath(top.Alias, top.PrevSchema); err != nil {
			restoreErr = err
			logger.GetLogger().Error("failed to restore schema on pop",
				zap.String("alias", top.Alias),
				zap.String("schema", top.PrevSchema),
				zap.Error(err))
		}
	}
	s.activeSchema = top.PrevSchema

	return restoreErr
}

// CurrentTenant returns the active tenant, or nil when none is active.
func (s *Stack) CurrentTenant() *tenant.Tenant {
	if len(s.bindings) == 0 {
		return nil
	}
	return s.bindings[len(s.bindings)-1].Tenant
}

// CurrentAlias returns the active database alias. ok is false when no tenant
// is active; routing then falls back to the master alias where the scope
// permits it.
func (s *Stack) CurrentAlias() (alias string, ok bool) {
	if len(s.bindings) == 0 {
		return "", false
	}
	return s.bindings[len(s.bindings)-1].Alias, true
}

// ActiveSchema returns the schema currently selected on the active
// connection. Tracked as explicit stack state rather than re-derived from
// connection internals.
func (s *Stack) ActiveSchema() string {
	return s.activeSchema
}

// SetActiveSchema selects a schema on the active alias's connection and
// records it as the active schema. Only meaningful while a tenant is active.
func (s *Stack) SetActiveSchema(schema string) error {
	alias, ok := s.CurrentAlias()
	if !ok {
		return ErrImbalance
	}
	if err := s.conns.SetSearchPath(alias, schema); err != nil {
		return err
	}
	s.activeSchema = schema
	return nil
}

// MasterAlias returns the configured master alias.
func (s *Stack) MasterAlias() string {
	return s.masterAlias
}

// DefaultSchema returns the configured default schema name.
func (s *Stack) DefaultSchema() string {
	return s.defaultSchema
}

// Depth returns the number of active bindings.
func (s *Stack) Depth() int {
	return len(s.bindings)
}

// Use runs fn with the tenant active, guaranteeing the matching pop on every
// exit path, including panics. This is the only supported way to pair
// push/pop in application code.
func (s *Stack) Use(t *tenant.Tenant, fn func() error) (err error) {
	if err = s.Push(t); err != nil {
		return err
	}
	defer func() {
		if popErr := s.Pop(); popErr != nil && err == nil {
			err = popErr
		}
	}()
	return fn()
}
