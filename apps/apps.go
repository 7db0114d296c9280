// Package apps holds the registry of managed applications: named groups of
// models with a default tenant scope. The migration engine and the router
// consult it to decide where each app's tables may be materialized.
package apps

import (
	"fmt"
	"sort"

	"github.com/RahulRimal/omnitenant/tenant"
)

// App is one managed application: a label, the default scope of its models,
// and the models the migration engine materializes for it.
type App struct {
	Label  string
	Scope  tenant.Scope
	Models []interface{}
}

// Registry maps app labels to their registered apps. Populate it during
// startup, before the router is assembled; it is read-only afterwards.
type Registry struct {
	apps map[string]App
}

// NewRegistry creates an empty app registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]App)}
}

// Register adds an app. Registering a duplicate label is a startup bug.
func (r *Registry) Register(app App) error {
	if app.Label == "" {
		return fmt.Errorf("app label must not be empty")
	}
	if _, ok := r.apps[app.Label]; ok {
		return fmt.Errorf("app %q is already registered", app.Label)
	}
	if app.Scope == "" {
		app.Scope = tenant.ScopeTenant
	}
	r.apps[app.Label] = app
	return nil
}

// MustRegister is Register for startup wiring where failure is fatal.
func (r *Registry) MustRegister(app App) {
	if err := r.Register(app); err != nil {
		panic(err)
	}
}

// Get returns the app registered under label.
func (r *Registry) Get(label string) (App, bool) {
	app, ok := r.apps[label]
	return app, ok
}

// IsManaged reports whether the label belongs to a registered app. Unmanaged
// labels (framework-internal namespaces) bypass the migration matrix.
func (r *Registry) IsManaged(label string) bool {
	_, ok := r.apps[label]
	return ok
}

// Labels returns every registered label in sorted order.
func (r *Registry) Labels() []string {
	labels := make([]string, 0, len(r.apps))
	for label := range r.apps {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
