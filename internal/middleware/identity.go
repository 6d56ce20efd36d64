package middleware

// identity.go holds the accessors for what JWTAuth stored in the context.

import "github.com/labstack/echo/v4"

// UserID returns the authenticated subject, or "" when the request carries
// no token.
func UserID(c echo.Context) string {
	if v, ok := c.Get(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// Role returns the role claim of the authenticated caller.
func Role(c echo.Context) string {
	if v, ok := c.Get(ctxRole).(string); ok {
		return v
	}
	return ""
}
