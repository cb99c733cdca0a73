package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Health answers liveness checks with a plain "ok".
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// Check pings one dependency.
type Check func(ctx context.Context) error

// Ready returns a readiness handler that runs every check with a short
// timeout and answers 503 when any of them fails.
func Ready(checks map[string]Check) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()
        status := http.StatusOK
        out := make(map[string]string, len(checks))
        for name, check := range checks {
            if err := check(ctx); err != nil {
                out[name] = err.Error()
                status = http.StatusServiceUnavailable
                continue
            }
            out[name] = "ok"
        }
        return c.JSON(status, out)
    }
}
