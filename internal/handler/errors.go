package handler

import (
    "errors"
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/repository"
)

// fail maps allocator errors to HTTP responses.  Order matters: session
// conflicts wrap hold and assignment conflicts, and hold errors wrap the
// generic repository sentinels.
func (h *OpsHandler) fail(c echo.Context, err error) error {
    var (
        stale     *capacity.StaleContextError
        session   *capacity.SessionConflictError
        holdConf  *capacity.HoldConflictError
        assign    *capacity.AssignTablesConflictError
        confirm   *capacity.ConfirmConflictError
        notFound  *capacity.HoldNotFoundError
        input     *capacity.InputError
        overrun   *capacity.ServiceOverrunError
        statusErr *repository.TransitionConflictError
    )
    switch {
    case errors.As(err, &stale):
        return c.JSON(http.StatusConflict, echo.Map{
            "error": "STALE_CONTEXT", "message": err.Error(),
            "expected": stale.Expected, "provided": stale.Provided,
        })
    case errors.As(err, &session):
        return c.JSON(http.StatusConflict, echo.Map{
            "error": "SESSION_CONFLICT", "message": err.Error(),
            "hold_id": session.HoldID, "booking_id": session.BookingID,
        })
    case errors.As(err, &holdConf):
        return c.JSON(http.StatusConflict, echo.Map{"error": "HOLD_CONFLICT", "message": err.Error(), "conflicts": holdConf.Conflicts})
    case errors.As(err, &assign):
        return c.JSON(http.StatusConflict, echo.Map{"error": "ASSIGNMENT_CONFLICT", "message": err.Error(), "table_id": assign.TableID})
    case errors.As(err, &confirm):
        return c.JSON(http.StatusConflict, echo.Map{"error": "IDEMPOTENCY_CONFLICT", "message": err.Error()})
    case errors.As(err, &statusErr):
        return c.JSON(http.StatusConflict, echo.Map{"error": "STATUS_CONFLICT", "message": err.Error(), "status": statusErr.Actual})
    case errors.As(err, &notFound):
        code := http.StatusNotFound
        if notFound.Expired {
            code = http.StatusGone
        }
        return c.JSON(code, echo.Map{"error": "HOLD_NOT_FOUND", "message": err.Error()})
    case errors.Is(err, repository.ErrHoldNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "HOLD_NOT_FOUND", "message": err.Error()})
    case errors.As(err, &input):
        return c.JSON(http.StatusBadRequest, echo.Map{"error": input.Code, "message": input.Message})
    case errors.As(err, &overrun):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "SERVICE_OVERRUN", "message": err.Error()})
    case errors.Is(err, capacity.ErrServiceNotFound):
        return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "SERVICE_NOT_FOUND", "message": err.Error()})
    case errors.Is(err, repository.ErrNotFound):
        return c.JSON(http.StatusNotFound, echo.Map{"error": "NOT_FOUND", "message": err.Error()})
    case errors.Is(err, repository.ErrConflict):
        return c.JSON(http.StatusConflict, echo.Map{"error": "CONFLICT", "message": err.Error()})
    }
    h.Log.WithError(err).WithField("path", c.Path()).Error("ops: unexpected error")
    return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
