// Package repository defines error types that are reused across the
// store implementations. These sentinel values allow higher layers such
// as the allocator and the handlers to distinguish between different
// failure scenarios without knowing which store is in use. For example,
// ErrHoldNotFound indicates that a hold expired or was consumed
// elsewhere, while ErrAssignmentConflict signals that the store refused
// to write an assignment overlapping another booking's.
package repository

import (
    "errors"
    "fmt"
    "strings"
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource that belongs to another restaurant.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is the parent of every conflict sentinel below.  Handlers
// may check for it to produce a generic HTTP 409.
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when a booking, restaurant or session row does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrHoldNotFound is returned when a hold does not exist (never created,
// swept, or already consumed by a confirmation).
var ErrHoldNotFound = errors.New("table hold not found")

// ErrHoldExpired is returned when a hold exists but its expires_at has
// passed.  It wraps ErrHoldNotFound so callers may treat both alike.
var ErrHoldExpired = fmt.Errorf("table hold expired: %w", ErrHoldNotFound)

var (
    ErrHoldConflict        = fmt.Errorf("table hold conflict: %w", ErrConflict)
    ErrHoldBookingMismatch = fmt.Errorf("hold is linked to a different booking: %w", ErrConflict)
    ErrIdempotencyMismatch = fmt.Errorf("hold already confirmed under a different idempotency key: %w", ErrConflict)
    ErrAssignmentConflict  = fmt.Errorf("table assignment conflict: %w", ErrConflict)
    ErrTransitionConflict  = fmt.Errorf("booking status transition conflict: %w", ErrConflict)
    ErrVersionMismatch     = fmt.Errorf("session version mismatch: %w", ErrConflict)
)

// HoldConflictError lists the active holds that prevented a new hold from
// being created.  It unwraps to ErrHoldConflict.
type HoldConflictError struct {
    Conflicts []model.TableHold
}

func (e *HoldConflictError) Error() string {
    ids := make([]string, 0, len(e.Conflicts))
    for _, h := range e.Conflicts {
        ids = append(ids, h.ID)
    }
    return fmt.Sprintf("table hold conflict with %s", strings.Join(ids, ","))
}

func (e *HoldConflictError) Unwrap() error { return ErrHoldConflict }

// AssignmentConflictError names the assignment that overlaps the window
// being written.  It unwraps to ErrAssignmentConflict.
type AssignmentConflictError struct {
    TableID   string
    BookingID string
    StartAt   time.Time
    EndAt     time.Time
}

func (e *AssignmentConflictError) Error() string {
    return fmt.Sprintf("table %s already assigned to booking %s between %s and %s",
        e.TableID, e.BookingID, e.StartAt.UTC().Format(time.RFC3339), e.EndAt.UTC().Format(time.RFC3339))
}

func (e *AssignmentConflictError) Unwrap() error { return ErrAssignmentConflict }

// TransitionConflictError is returned when a booking is no longer in the
// expected "from" status and has not already reached the target.
type TransitionConflictError struct {
    Expected model.BookingStatus
    Actual   model.BookingStatus
}

func (e *TransitionConflictError) Error() string {
    return fmt.Sprintf("booking status is %q, expected %q", e.Actual, e.Expected)
}

func (e *TransitionConflictError) Unwrap() error { return ErrTransitionConflict }
