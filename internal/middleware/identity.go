package middleware

// identity.go provides the identity gate shared by every endpoint. The
// transport layer in front of this service authenticates the caller and
// forwards their identity in the X-User-ID header; a reservation or
// booking is mutable only by the identity that created it.

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HeaderUserID is the header carrying the caller's identity.
const HeaderUserID = "X-User-ID"

// RequireUser rejects requests without an X-User-ID header and stores
// the identity in the request context for handlers.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.Request().Header.Get(HeaderUserID)
			if user == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing " + HeaderUserID + " header"})
			}
			c.Set("user_id", user)
			return next(c)
		}
	}
}

// UserID returns the caller identity stored by RequireUser. It returns
// an empty string on routes that skipped the middleware.
func UserID(c echo.Context) string {
	if v := c.Get("user_id"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
