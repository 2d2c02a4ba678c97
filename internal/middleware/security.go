package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"

	"kubeware-go/internal/model"
)

// SecurityHeaders returns an Echo middleware that adds security headers.
// It is meant for the gateway's own routes; proxied responses are left as
// the chain produced them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return next(c)
		}
	}
}

// StripHopByHop returns an Echo middleware that drops hop-by-hop headers,
// including those named by Connection, from the inbound request before
// any handler or middleware sees them.
func StripHopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Request().Header
			for _, v := range h.Values("Connection") {
				for _, token := range strings.Split(v, ",") {
					if token = strings.TrimSpace(token); token != "" {
						h.Del(token)
					}
				}
			}
			for _, name := range model.HopByHopHeaders {
				h.Del(name)
			}
			return next(c)
		}
	}
}
