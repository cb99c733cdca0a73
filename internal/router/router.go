package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4"

    "github.com/iliyamo/table-allocation/internal/handler"
    "github.com/iliyamo/table-allocation/internal/middleware"
)

// Roles allowed on the ops API.
var opsRoles = []string{"OWNER", "STAFF"}

// RegisterRoutes registers the unauthenticated health routes.
func RegisterRoutes(e *echo.Echo, ready echo.HandlerFunc) {
    e.GET("/healthz", handler.Health)
    if ready != nil {
        e.GET("/readyz", ready)
    }
}

// RegisterOps mounts the allocation ops API under /v1/ops.  Every route
// requires a valid access token with an OWNER or STAFF role; limiter, when
// non-nil, runs after authentication so buckets can be keyed per user.
func RegisterOps(e *echo.Echo, h *handler.OpsHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
    g := e.Group("/v1/ops", middleware.JWTAuth(jwtSecret), middleware.RequireRole(opsRoles...))
    if limiter != nil {
        g.Use(limiter)
    }

    b := g.Group("/bookings/:id")
    b.POST("/quote", h.Quote)
    b.POST("/confirm-hold", h.ConfirmHold)
    b.GET("/assignment-context", h.AssignmentContext)
    b.POST("/manual/validate", h.ValidateSelection)
    b.POST("/manual/hold", h.HoldSelection)
    b.POST("/manual/confirm", h.ConfirmSelection)
    b.POST("/auto-assign", h.TriggerAutoAssign)
    b.DELETE("/assignments", h.ClearAssignments)

    g.POST("/holds/sweep", h.SweepHolds)
}
