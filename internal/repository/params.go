package repository

import (
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
)

// TransitionParams describes the status change applied in the same unit
// as a hold confirmation.  The update is keyed on From so that a
// concurrent transition from an unexpected state is rejected rather than
// overwritten.
type TransitionParams struct {
    From      model.BookingStatus
    To        model.BookingStatus
    ChangedBy *string
    Reason    string
    Metadata  map[string]string
}

// ConfirmHoldParams is the input of the store's single atomic operation:
// insert assignment rows, update booking status, append a history row and
// consume the hold.  StartAt/EndAt override the hold window when set so
// that assignments carry the booking's actual window.
type ConfirmHoldParams struct {
    HoldID         string
    BookingID      string
    IdempotencyKey string
    AssignedBy     *string
    StartAt        *time.Time
    EndAt          *time.Time
    Transition     *TransitionParams
    Now            time.Time
}

// ConfirmHoldResult reports what the atomic operation did.  Replayed is
// true when the same hold was already confirmed with the same key and the
// stored rows were returned instead of new ones.
type ConfirmHoldResult struct {
    Assignments  []model.Assignment
    RestaurantID string
    Replayed     bool
    Transitioned bool
    Status       model.BookingStatus
}

// overlaps reports whether the half-open windows [aStart,aEnd) and
// [bStart,bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
    return aStart.Before(bEnd) && bStart.Before(aEnd)
}

func sharesTable(a, b []string) bool {
    set := make(map[string]struct{}, len(a))
    for _, id := range a {
        set[id] = struct{}{}
    }
    for _, id := range b {
        if _, ok := set[id]; ok {
            return true
        }
    }
    return false
}

// replaceable reports whether h is one of the holds the new hold replaces.
// Only holds of the same booking can be replaced.
func replaceable(h, next model.TableHold, replace []string) bool {
    if h.BookingID == nil || next.BookingID == nil || *h.BookingID != *next.BookingID {
        return false
    }
    for _, id := range replace {
        if id == h.ID {
            return true
        }
    }
    return false
}
