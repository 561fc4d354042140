package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	// HeaderBidderID carries the caller identity set by the gateway.
	HeaderBidderID = "X-Bidder-ID"

	callerKey = "caller"
)

// Identity rejects requests without a caller identity and stores it on the context.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller := strings.TrimSpace(c.Request().Header.Get(HeaderBidderID))
			if caller == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": HeaderBidderID + " header required"})
			}
			c.Set(callerKey, caller)
			return next(c)
		}
	}
}

// Caller returns the identity stored by Identity.
func Caller(c echo.Context) string {
	caller, _ := c.Get(callerKey).(string)
	return caller
}
