package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/backend"
	"github.com/RahulRimal/omnitenant/logger"
	"github.com/RahulRimal/omnitenant/resolver"
	"github.com/RahulRimal/omnitenant/tenant"
	"github.com/RahulRimal/omnitenant/tenantcontext"
)

// TenantMiddleware resolves the request's tenant, activates it on a fresh
// per-request stack, and guarantees deactivation after the handler runs.
// Each request owns its stack; nothing tenant-scoped leaks between
// concurrent requests.
func TenantMiddleware(res resolver.Resolver, deps backend.Deps) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			log := logger.FromEcho(c)

			t, err := res.Resolve(req.Context(), req)
			if err != nil {
				var notFound *tenant.NotFoundError
				if errors.As(err, &notFound) {
					log.Warn("tenant resolution failed", zap.String("host", req.Host))
					return c.JSON(http.StatusNotFound, echo.Map{"error": "tenant not found"})
				}
				log.Error("tenant resolution error", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant resolution failed"})
			}

			s := backend.NewStack(deps)
			c.Set("tenant_id", t.TenantID)
			c.Set("logger", log.With(zap.String("tenant_id", t.TenantID)))
			c.SetRequest(req.WithContext(tenantcontext.NewContext(req.Context(), s)))

			return backend.WithTenant(s, backend.ForTenant(t, deps), func() error {
				return next(c)
			})
		}
	}
}
