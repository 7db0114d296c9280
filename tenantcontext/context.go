package tenantcontext

import (
	"context"

	"github.com/RahulRimal/omnitenant/tenant"
)

type contextKey string

const stackKey contextKey = "tenant_stack"

// NewContext returns a context carrying the stack. The stack travels with
// the unit of work it belongs to and must not be handed to other goroutines.
func NewContext(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey, s)
}

// FromContext retrieves the stack from the context.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey).(*Stack)
	return s, ok
}

// CurrentTenant returns the tenant active on the context's stack, or nil
// when the context has no stack or no tenant is active.
func CurrentTenant(ctx context.Context) *tenant.Tenant {
	s, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return s.CurrentTenant()
}
