package capacity

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

// ErrHoldNotFound is the store sentinel re-exported for callers of this
// package.  Both a missing and an expired hold match it.
var ErrHoldNotFound = repository.ErrHoldNotFound

// ErrServiceNotFound is returned when no service window contains the
// booking start and the policy refuses to fall back.
var ErrServiceNotFound = errors.New("no service window matches booking start")

// InputError reports a booking that cannot be turned into a window or a
// selection that cannot be evaluated.  It is never retried.
type InputError struct {
    Code    string
    Message string
}

func (e *InputError) Error() string { return e.Code + ": " + e.Message }

// ServiceOverrunError is returned when a booking cannot fit into its
// service before closing.
type ServiceOverrunError struct {
    Service    ServiceKey
    Attempted  time.Time
    ServiceEnd time.Time
}

func (e *ServiceOverrunError) Error() string {
    return fmt.Sprintf("reservation would overrun %s service (end %s)", e.Service, e.ServiceEnd.Format("15:04"))
}

// HoldConflictInfo describes one hold that blocks a request.
type HoldConflictInfo struct {
    HoldID    string    `json:"hold_id"`
    BookingID *string   `json:"booking_id,omitempty"`
    TableIDs  []string  `json:"table_ids"`
    StartAt   time.Time `json:"start_at"`
    EndAt     time.Time `json:"end_at"`
    ExpiresAt time.Time `json:"expires_at"`
}

// HoldConflictError is an expected, recoverable condition: another active
// hold already covers one of the requested tables for an overlapping
// window, or the hold being confirmed belongs to someone else.
type HoldConflictError struct {
    Conflicts []HoldConflictInfo
}

func (e *HoldConflictError) Error() string {
    ids := make([]string, 0, len(e.Conflicts))
    for _, c := range e.Conflicts {
        ids = append(ids, c.HoldID)
    }
    return "hold conflict: " + strings.Join(ids, ",")
}

func (e *HoldConflictError) Unwrap() error { return repository.ErrHoldConflict }

// HoldNotFoundError is returned when the hold expired or was consumed.
type HoldNotFoundError struct {
    HoldID  string
    Expired bool
}

func (e *HoldNotFoundError) Error() string {
    if e.Expired {
        return fmt.Sprintf("hold %s expired", e.HoldID)
    }
    return fmt.Sprintf("hold %s not found", e.HoldID)
}

func (e *HoldNotFoundError) Unwrap() error { return repository.ErrHoldNotFound }

// ConfirmConflictError is returned when a hold was already confirmed
// under a different idempotency key.
type ConfirmConflictError struct {
    HoldID string
}

func (e *ConfirmConflictError) Error() string {
    return fmt.Sprintf("hold %s already confirmed with a different idempotency key", e.HoldID)
}

func (e *ConfirmConflictError) Unwrap() error { return repository.ErrIdempotencyMismatch }

// AssignTablesConflictError is returned when the store refused to write
// an assignment because it overlaps an existing one.
type AssignTablesConflictError struct {
    TableID   string
    BookingID string
    StartAt   time.Time
    EndAt     time.Time
}

func (e *AssignTablesConflictError) Error() string {
    return fmt.Sprintf("table %s is assigned to booking %s for an overlapping window", e.TableID, e.BookingID)
}

func (e *AssignTablesConflictError) Unwrap() error { return repository.ErrAssignmentConflict }

// StaleContextError trips when a manual confirmation was prepared
// against a context version that is no longer current.
type StaleContextError struct {
    Expected string
    Provided string
}

func (e *StaleContextError) Error() string {
    return fmt.Sprintf("stale context: expected version %s, provided %s", e.Expected, e.Provided)
}

func (e *StaleContextError) Unwrap() error { return repository.ErrVersionMismatch }

// SessionConflictError wraps the hold or assignment conflict hit by a
// manual confirmation.  BookingID names the booking that won, if known.
type SessionConflictError struct {
    HoldID    string
    BookingID string
    Cause     error
}

func (e *SessionConflictError) Error() string {
    if e.BookingID != "" {
        return fmt.Sprintf("session conflict with booking %s: %v", e.BookingID, e.Cause)
    }
    return fmt.Sprintf("session conflict: %v", e.Cause)
}

func (e *SessionConflictError) Unwrap() error { return e.Cause }

// conflictInfo converts store holds into the exported conflict view.
func conflictInfo(holds []model.TableHold) []HoldConflictInfo {
    out := make([]HoldConflictInfo, 0, len(holds))
    for _, h := range holds {
        ids := make([]string, len(h.TableIDs))
        copy(ids, h.TableIDs)
        out = append(out, HoldConflictInfo{
            HoldID:    h.ID,
            BookingID: h.BookingID,
            TableIDs:  ids,
            StartAt:   h.StartAt,
            EndAt:     h.EndAt,
            ExpiresAt: h.ExpiresAt,
        })
    }
    return out
}

// translateStoreError maps store sentinels onto this package's typed
// errors.  Unknown errors pass through untouched.
func translateStoreError(err error, holdID string) error {
    var hc *repository.HoldConflictError
    var ac *repository.AssignmentConflictError
    switch {
    case err == nil:
        return nil
    case errors.As(err, &hc):
        return &HoldConflictError{Conflicts: conflictInfo(hc.Conflicts)}
    case errors.As(err, &ac):
        return &AssignTablesConflictError{TableID: ac.TableID, BookingID: ac.BookingID, StartAt: ac.StartAt, EndAt: ac.EndAt}
    case errors.Is(err, repository.ErrHoldExpired):
        return &HoldNotFoundError{HoldID: holdID, Expired: true}
    case errors.Is(err, repository.ErrHoldNotFound):
        return &HoldNotFoundError{HoldID: holdID}
    case errors.Is(err, repository.ErrIdempotencyMismatch):
        return &ConfirmConflictError{HoldID: holdID}
    case errors.Is(err, repository.ErrHoldBookingMismatch):
        return &HoldConflictError{Conflicts: []HoldConflictInfo{{HoldID: holdID}}}
    }
    return err
}
