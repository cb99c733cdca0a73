package middleware

import "github.com/labstack/echo/v4"

// Actor returns the authenticated staff member, or "anonymous" on routes
// that run without JWTAuth.
func Actor(c echo.Context) string {
    if s, ok := c.Get(CtxUserID).(string); ok && s != "" {
        return s
    }
    return "anonymous"
}
