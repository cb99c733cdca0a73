package capacity

import (
    "context"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

// AtomicConfirmInput is the input of AtomicConfirmAndTransition.
type AtomicConfirmInput struct {
    BookingID      string
    HoldID         string
    IdempotencyKey string
    Actor          *string
    Reason         string
    Metadata       map[string]string
}

// AtomicConfirmResult reports the committed assignments and whether the
// booking status was changed by this call.
type AtomicConfirmResult struct {
    Assignments  []AssignmentResult  `json:"assignments"`
    Replayed     bool                `json:"replayed"`
    Transitioned bool                `json:"transitioned"`
    Status       model.BookingStatus `json:"status"`
}

// AtomicConfirmAndTransition commits the hold into assignment rows and
// moves the booking to confirmed in a single store operation.  The status
// update is keyed on the status read here: if another actor moved the
// booking in between, the whole unit is rolled back with a
// *repository.TransitionConflictError, unless the booking already reached
// confirmed, which is treated as success.  Retrying with the same
// idempotency key is safe and finishes a missing transition.
func (a *Allocator) AtomicConfirmAndTransition(ctx context.Context, in AtomicConfirmInput) (AtomicConfirmResult, error) {
    booking, err := a.store.GetBooking(ctx, in.BookingID)
    if err != nil {
        return AtomicConfirmResult{}, err
    }
    if booking.Status.Terminal() {
        return AtomicConfirmResult{}, &repository.TransitionConflictError{Expected: model.StatusPending, Actual: booking.Status}
    }

    confirmIn := ConfirmHoldInput{
        HoldID:         in.HoldID,
        BookingID:      in.BookingID,
        IdempotencyKey: in.IdempotencyKey,
        AssignedBy:     in.Actor,
    }
    if bc, err := a.loadBooking(ctx, in.BookingID); err == nil {
        block := bc.window.Block
        confirmIn.Window = &block
    } else {
        a.log.WithError(err).WithField("booking_id", in.BookingID).Warn("confirm: window unavailable, using hold window")
    }

    reason := in.Reason
    if reason == "" {
        reason = "table assignment confirmed"
    }
    transition := &repository.TransitionParams{
        From:      booking.Status,
        To:        model.StatusConfirmed,
        ChangedBy: in.Actor,
        Reason:    reason,
        Metadata:  in.Metadata,
    }
    res, err := a.holds.confirm(ctx, confirmIn, transition)
    if err != nil {
        return AtomicConfirmResult{}, err
    }
    a.log.WithFields(logrus.Fields{
        "booking_id":   in.BookingID,
        "hold_id":      in.HoldID,
        "assignments":  len(res.Assignments),
        "replayed":     res.Replayed,
        "transitioned": res.Transitioned,
    }).Info("confirm: hold committed")
    return AtomicConfirmResult{
        Assignments:  toAssignmentResults(res.Assignments),
        Replayed:     res.Replayed,
        Transitioned: res.Transitioned,
        Status:       res.Status,
    }, nil
}
