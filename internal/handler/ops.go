package handler // HTTP handlers for the allocation ops API

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/jobs"
    "github.com/iliyamo/table-allocation/internal/middleware"
)

// AutoAssignSubmitter queues an auto-assign run.  *jobs.Dispatcher
// satisfies it; it returns false when the request could not be queued.
type AutoAssignSubmitter interface {
    Submit(bookingID string, opts jobs.Options) bool
}

// OpsHandler exposes the allocator to staff tooling.  Every route expects
// JWTAuth and RequireRole to have run; the authenticated subject is
// recorded as the actor on holds, assignments and status history.
type OpsHandler struct {
    Alloc      *capacity.Allocator
    AutoAssign AutoAssignSubmitter
    Log        *logrus.Entry
}

// NewOpsHandler panics on a nil allocator; auto-assign may be nil, in which
// case the trigger route answers 503.
func NewOpsHandler(alloc *capacity.Allocator, auto AutoAssignSubmitter, log *logrus.Entry) *OpsHandler {
    if alloc == nil {
        panic("nil allocator passed to NewOpsHandler")
    }
    if log == nil {
        log = logrus.NewEntry(logrus.StandardLogger())
    }
    return &OpsHandler{Alloc: alloc, AutoAssign: auto, Log: log}
}

type quoteBody struct {
    HoldTTLSeconds   int   `json:"hold_ttl_seconds"`
    RequireAdjacency *bool `json:"require_adjacency"`
    MaxTables        *int  `json:"max_tables"`
}

// Quote handles POST /v1/ops/bookings/:id/quote.  A response without a
// hold is still 200; the body carries the reason and rejection kind.
func (h *OpsHandler) Quote(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body quoteBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    actor := middleware.Actor(c)
    res, err := h.Alloc.Quote(c.Request().Context(), capacity.QuoteRequest{
        BookingID:        id,
        CreatedBy:        &actor,
        HoldTTLSeconds:   body.HoldTTLSeconds,
        RequireAdjacency: body.RequireAdjacency,
        MaxTables:        body.MaxTables,
    })
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

type confirmBody struct {
    HoldID         string `json:"hold_id"`
    IdempotencyKey string `json:"idempotency_key"`
}

// ConfirmHold handles POST /v1/ops/bookings/:id/confirm-hold.
func (h *OpsHandler) ConfirmHold(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body confirmBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    body.HoldID = strings.TrimSpace(body.HoldID)
    if body.HoldID == "" {
        return badRequest(c, "hold_id is required")
    }
    if body.IdempotencyKey == "" {
        body.IdempotencyKey = capacity.DeriveIdempotencyKey("ops", id, body.HoldID)
    }
    actor := middleware.Actor(c)
    res, err := h.Alloc.AtomicConfirmAndTransition(c.Request().Context(), capacity.AtomicConfirmInput{
        BookingID:      id,
        HoldID:         body.HoldID,
        IdempotencyKey: body.IdempotencyKey,
        Actor:          &actor,
        Reason:         "hold confirmed by staff",
        Metadata:       map[string]string{"source": "ops_api"},
    })
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// AssignmentContext handles GET /v1/ops/bookings/:id/assignment-context.
// The manual session is created on first access.
func (h *OpsHandler) AssignmentContext(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    actor := middleware.Actor(c)
    res, err := h.Alloc.ManualContext(c.Request().Context(), id, &actor)
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

type selectionBody struct {
    TableIDs         []string `json:"table_ids"`
    HoldID           string   `json:"hold_id"`
    ContextVersion   string   `json:"context_version"`
    SelectionVersion *int64   `json:"selection_version"`
    HoldTTLSeconds   int      `json:"hold_ttl_seconds"`
    IdempotencyKey   string   `json:"idempotency_key"`
}

// ValidateSelection handles POST /v1/ops/bookings/:id/manual/validate.  It
// never writes; an invalid selection is reported in the body with 200.
func (h *OpsHandler) ValidateSelection(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body selectionBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    res, err := h.Alloc.ValidateSelection(c.Request().Context(), id, body.TableIDs)
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

// HoldSelection handles POST /v1/ops/bookings/:id/manual/hold.
func (h *OpsHandler) HoldSelection(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body selectionBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    actor := middleware.Actor(c)
    res, err := h.Alloc.HoldSelection(c.Request().Context(), capacity.ManualHoldRequest{
        BookingID:      id,
        TableIDs:       body.TableIDs,
        ContextVersion: body.ContextVersion,
        HoldTTLSeconds: body.HoldTTLSeconds,
        Actor:          &actor,
    })
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusCreated, res)
}

// ConfirmSelection handles POST /v1/ops/bookings/:id/manual/confirm.
func (h *OpsHandler) ConfirmSelection(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body selectionBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    if body.HoldID == "" && len(body.TableIDs) == 0 {
        return badRequest(c, "hold_id or table_ids is required")
    }
    if body.ContextVersion == "" {
        return badRequest(c, "context_version is required")
    }
    actor := middleware.Actor(c)
    res, err := h.Alloc.ConfirmSessionHold(c.Request().Context(), capacity.ManualConfirmRequest{
        BookingID:        id,
        HoldID:           body.HoldID,
        TableIDs:         body.TableIDs,
        ContextVersion:   body.ContextVersion,
        SelectionVersion: body.SelectionVersion,
        IdempotencyKey:   body.IdempotencyKey,
        Actor:            &actor,
    })
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, res)
}

type autoAssignBody struct {
    Reason           string `json:"reason"`
    RequireAdjacency *bool  `json:"require_adjacency"`
    MaxTables        *int   `json:"max_tables"`
}

// TriggerAutoAssign handles POST /v1/ops/bookings/:id/auto-assign.  The run
// happens in the background; 202 only means it was queued.
func (h *OpsHandler) TriggerAutoAssign(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    var body autoAssignBody
    if err := c.Bind(&body); err != nil {
        return badRequest(c, "invalid request body")
    }
    switch body.Reason {
    case "":
        body.Reason = jobs.ReasonCreation
    case jobs.ReasonCreation, jobs.ReasonModification:
    default:
        return badRequest(c, "reason must be creation or modification")
    }
    if h.AutoAssign == nil || !h.AutoAssign.Submit(id, jobs.Options{
        Reason:           body.Reason,
        RequireAdjacency: body.RequireAdjacency,
        MaxTables:        body.MaxTables,
    }) {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "auto-assign queue unavailable"})
    }
    h.Log.WithFields(logrus.Fields{"booking_id": id, "trigger": body.Reason, "actor": middleware.Actor(c)}).Info("auto-assign queued")
    return c.JSON(http.StatusAccepted, echo.Map{"booking_id": id, "status": "queued"})
}

// ClearAssignments handles DELETE /v1/ops/bookings/:id/assignments.
func (h *OpsHandler) ClearAssignments(c echo.Context) error {
    id, ok := bookingParam(c)
    if !ok {
        return badRequest(c, "invalid booking id")
    }
    n, err := h.Alloc.ClearAssignments(c.Request().Context(), id)
    if err != nil {
        return h.fail(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"booking_id": id, "removed": n})
}

// SweepHolds handles POST /v1/ops/holds/sweep.
func (h *OpsHandler) SweepHolds(c echo.Context) error {
    ids, err := h.Alloc.SweepExpiredHolds(c.Request().Context())
    if err != nil {
        return h.fail(c, err)
    }
    if ids == nil {
        ids = []string{}
    }
    return c.JSON(http.StatusOK, echo.Map{"deleted": ids})
}

func bookingParam(c echo.Context) (string, bool) {
    id := strings.TrimSpace(c.Param("id"))
    return id, id != ""
}

func badRequest(c echo.Context, msg string) error {
    return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
