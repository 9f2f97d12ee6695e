package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// tenantHeader carries the tenant scope for every harvest route.
const tenantHeader = "X-Tenant-ID"

// tenantContextKey is the echo context key holding the resolved tenant ID.
const tenantContextKey = "tenant_id"

// TenantMiddleware rejects requests without a tenant header and stores the
// tenant ID on the request context for handlers.
func (c *Controller) TenantMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tenantID := ctx.Request().Header.Get(tenantHeader)
		if tenantID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing "+tenantHeader+" header")
		}
		ctx.Set(tenantContextKey, tenantID)
		return next(ctx)
	}
}

// tenantID reads the tenant resolved by TenantMiddleware.
func tenantID(ctx echo.Context) string {
	id, _ := ctx.Get(tenantContextKey).(string)
	return id
}
