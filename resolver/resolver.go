// Package resolver maps an inbound request to the tenant it belongs to.
// This is the single externally-triggered entry point that leads to a
// context-stack push in request-driven deployments.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/RahulRimal/omnitenant/config"
	"github.com/RahulRimal/omnitenant/jwtutil"
	"github.com/RahulRimal/omnitenant/tenant"
)

// Resolver resolves a tenant from an inbound request. Implementations must
// fail with *tenant.NotFoundError rather than defaulting to another tenant.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*tenant.Tenant, error)
}

// ForConfig returns the resolver selected by the configuration.
func ForConfig(cfg *config.Config, store tenant.Store) (Resolver, error) {
	switch cfg.TenantResolver {
	case "domain":
		return NewDomainResolver(cfg, store), nil
	case "header":
		return NewHeaderResolver(cfg, store), nil
	case "jwt":
		return NewJWTResolver(cfg, store), nil
	}
	return nil, fmt.Errorf("unknown tenant resolver %q", cfg.TenantResolver)
}

// DomainResolver maps the request host to a tenant via the domain table.
// The configured public host resolves to the public tenant.
type DomainResolver struct {
	cfg   *config.Config
	store tenant.Store
}

// NewDomainResolver creates a domain-based resolver.
func NewDomainResolver(cfg *config.Config, store tenant.Store) *DomainResolver {
	return &DomainResolver{cfg: cfg, store: store}
}

// Resolve looks the request host up in the domain table; the public host
// falls back to the public tenant.
func (r *DomainResolver) Resolve(ctx context.Context, req *http.Request) (*tenant.Tenant, error) {
	host := hostname(req.Host)

	t, err := r.store.ByDomain(ctx, host)
	if err == nil {
		return t, nil
	}

	var notFound *tenant.NotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	if host == r.cfg.PublicHost {
		return publicTenant(ctx, r.cfg, r.store)
	}
	return nil, &tenant.NotFoundError{Ref: host}
}

// HeaderResolver reads the tenant id from a request header.
type HeaderResolver struct {
	cfg   *config.Config
	store tenant.Store
}

// NewHeaderResolver creates a header-based resolver.
func NewHeaderResolver(cfg *config.Config, store tenant.Store) *HeaderResolver {
	return &HeaderResolver{cfg: cfg, store: store}
}

// Resolve reads the configured tenant header and looks the tenant up by id.
func (r *HeaderResolver) Resolve(ctx context.Context, req *http.Request) (*tenant.Tenant, error) {
	tenantID := req.Header.Get(r.cfg.TenantHeader)
	if tenantID == "" {
		if hostname(req.Host) == r.cfg.PublicHost {
			return publicTenant(ctx, r.cfg, r.store)
		}
		return nil, &tenant.NotFoundError{Ref: r.cfg.TenantHeader + " header missing"}
	}
	return r.store.ByTenantID(ctx, tenantID)
}

// JWTResolver reads the tenant id from the request's bearer token claims,
// for service-to-service calls that carry tenant identity in the token.
type JWTResolver struct {
	cfg   *config.Config
	store tenant.Store
	jwt   *jwtutil.JWTUtil
}

// NewJWTResolver creates a token-based resolver.
func NewJWTResolver(cfg *config.Config, store tenant.Store) *JWTResolver {
	return &JWTResolver{cfg: cfg, store: store, jwt: jwtutil.NewJWTUtil(&cfg.JWT)}
}

// Resolve validates the bearer token and looks up the tenant named by its
// tenant_id claim.
func (r *JWTResolver) Resolve(ctx context.Context, req *http.Request) (*tenant.Tenant, error) {
	auth := req.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return nil, &tenant.NotFoundError{Ref: "bearer token missing"}
	}

	claims, err := r.jwt.ValidateToken(strings.TrimPrefix(auth, "Bearer "))
	if err != nil {
		return nil, &tenant.NotFoundError{Ref: "invalid bearer token"}
	}
	if claims.TenantID == "" {
		return nil, &tenant.NotFoundError{Ref: "tenant_id claim missing"}
	}
	return r.store.ByTenantID(ctx, claims.TenantID)
}

// publicTenant returns the well-known public tenant. When no record exists
// yet (fresh installs), a table-isolated stand-in routed to the master alias
// is used so the public site works before any tenant is provisioned.
func publicTenant(ctx context.Context, cfg *config.Config, store tenant.Store) (*tenant.Tenant, error) {
	t, err := store.ByTenantID(ctx, cfg.PublicTenantName)
	if err == nil {
		return t, nil
	}
	var notFound *tenant.NotFoundError
	if errors.As(err, &notFound) {
		return &tenant.Tenant{
			TenantID:      cfg.PublicTenantName,
			Name:          cfg.PublicTenantName,
			IsolationType: tenant.IsolationTable,
		}, nil
	}
	return nil, err
}

// hostname strips the port from a request host.
func hostname(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
