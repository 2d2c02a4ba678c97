package handler

import (
	"github.com/labstack/echo/v4"

	"kubeware-go/internal/config"
	"kubeware-go/internal/middleware"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Admin
// routes live under config.AdminPrefix; every other path is proxied.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	admin := e.Group(config.AdminPrefix, middleware.SecurityHeaders())
	admin.GET("/healthz", health.Healthz)
	admin.GET("/status", health.Status)

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
