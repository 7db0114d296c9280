package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/RahulRimal/omnitenant/logger"
)

// RequestIDMiddleware tags every request with an ID so log lines can be
// correlated with the tenant resolution that follows. Runs before the
// tenant middleware, which enriches the same logger with tenant_id.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
				c.Request().Header.Set("X-Request-ID", requestID)
			}

			c.Response().Header().Set("X-Request-ID", requestID)

			// The tenant middleware picks this logger up and adds
			// tenant fields once resolution succeeds.
			ctxLogger := logger.GetLogger().With(zap.String("request_id", requestID))
			c.Set("logger", ctxLogger)

			return next(c)
		}
	}
}
