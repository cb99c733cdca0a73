package capacity

import (
    "context"
    "errors"
    "sort"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// HoldManager creates, confirms, releases and sweeps table holds.  It
// relies on the store for atomic conflict detection; it never inserts
// assignment rows except through Store.ConfirmHold.
type HoldManager struct {
    store  Store
    events telemetry.Emitter
    log    *logrus.Entry
    now    func() time.Time
    ttl    time.Duration
}

// CreateHoldInput describes a hold to place.  A zero TTL uses the
// manager's default.  Replace names earlier holds of the same booking that
// the new hold supersedes; they are dropped in the same store operation.
// Any other active hold on an overlapping table is a conflict.
type CreateHoldInput struct {
    BookingID    *string
    RestaurantID string
    ZoneID       string
    TableIDs     []string
    Window       Block
    TTL          time.Duration
    CreatedBy    *string
    Replace      []string
}

// AssignmentResult is one committed table assignment.
type AssignmentResult struct {
    TableID      string    `json:"table_id"`
    AssignmentID string    `json:"assignment_id"`
    StartAt      time.Time `json:"start_at"`
    EndAt        time.Time `json:"end_at"`
    MergeGroupID *string   `json:"merge_group_id"`
}

// ConfirmHoldInput identifies the hold to commit.  Window, when set,
// overrides the hold's own window on the assignment rows.
type ConfirmHoldInput struct {
    HoldID         string
    BookingID      string
    IdempotencyKey string
    AssignedBy     *string
    Window         *Block
}

// CreateHold validates the input and asks the store to check for
// conflicts and insert in one step.  On conflict nothing is persisted and
// a *HoldConflictError lists the blocking holds.
func (m *HoldManager) CreateHold(ctx context.Context, in CreateHoldInput) (model.TableHold, error) {
    if len(in.TableIDs) == 0 {
        return model.TableHold{}, &InputError{Code: "NO_TABLES", Message: "a hold needs at least one table"}
    }
    if !in.Window.End.After(in.Window.Start) {
        return model.TableHold{}, &InputError{Code: "INVALID_WINDOW", Message: "hold window must end after it starts"}
    }
    ttl := in.TTL
    if ttl <= 0 {
        ttl = m.ttl
    }
    now := m.now()
    ids := dedupeSorted(in.TableIDs)
    hold, err := m.store.CreateHold(ctx, model.TableHold{
        BookingID:    in.BookingID,
        RestaurantID: in.RestaurantID,
        ZoneID:       in.ZoneID,
        TableIDs:     ids,
        StartAt:      in.Window.Start.UTC(),
        EndAt:        in.Window.End.UTC(),
        ExpiresAt:    now.Add(ttl).UTC(),
        CreatedBy:    in.CreatedBy,
    }, in.Replace, now)
    if err != nil {
        err = translateStoreError(err, "")
        var hc *HoldConflictError
        if errors.As(err, &hc) {
            m.emit(ctx, telemetry.EventRPCConflict, in.RestaurantID, deref(in.BookingID), map[string]interface{}{
                "operation": "create_hold", "table_ids": ids, "conflicts": len(hc.Conflicts),
            })
        }
        return model.TableHold{}, err
    }
    m.emit(ctx, telemetry.EventHoldCreated, hold.RestaurantID, deref(hold.BookingID), map[string]interface{}{
        "hold_id": hold.ID, "table_ids": hold.TableIDs, "expires_at": hold.ExpiresAt,
    })
    for _, id := range in.Replace {
        m.emit(ctx, telemetry.EventHoldReleased, hold.RestaurantID, deref(hold.BookingID), map[string]interface{}{
            "hold_id": id, "replaced_by": hold.ID,
        })
    }
    return hold, nil
}

// FindConflicts lists active holds that share a table with tableIDs in an
// overlapping window, skipping the holds named in exclude.
func (m *HoldManager) FindConflicts(ctx context.Context, restaurantID string, exclude []string, tableIDs []string, window Block) ([]HoldConflictInfo, error) {
    holds, err := m.store.ListActiveHolds(ctx, restaurantID, window.Start, window.End, m.now())
    if err != nil {
        return nil, err
    }
    want := make(map[string]struct{}, len(tableIDs))
    for _, id := range tableIDs {
        want[id] = struct{}{}
    }
    skip := make(map[string]struct{}, len(exclude))
    for _, id := range exclude {
        skip[id] = struct{}{}
    }
    var conflicts []model.TableHold
    for _, h := range holds {
        if _, ok := skip[h.ID]; ok {
            continue
        }
        for _, id := range h.TableIDs {
            if _, ok := want[id]; ok {
                conflicts = append(conflicts, h)
                break
            }
        }
    }
    return conflictInfo(conflicts), nil
}

// ListActiveHolds returns the non-expired holds of a booking.
func (m *HoldManager) ListActiveHolds(ctx context.Context, bookingID string) ([]model.TableHold, error) {
    return m.store.ListHoldsForBooking(ctx, bookingID, m.now())
}

// ReleaseHold deletes a hold.  Releasing a hold that no longer exists is
// not an error.
func (m *HoldManager) ReleaseHold(ctx context.Context, hold model.TableHold) error {
    if err := m.store.DeleteHold(ctx, hold.ID); err != nil {
        return err
    }
    m.emit(ctx, telemetry.EventHoldReleased, hold.RestaurantID, deref(hold.BookingID), map[string]interface{}{"hold_id": hold.ID})
    return nil
}

// SweepExpired removes up to limit expired holds.  It is housekeeping:
// expired holds are already ignored by conflict checks.
func (m *HoldManager) SweepExpired(ctx context.Context, limit int) ([]string, error) {
    ids, err := m.store.SweepExpiredHolds(ctx, m.now(), limit)
    if err != nil {
        return nil, err
    }
    if len(ids) > 0 {
        m.emit(ctx, telemetry.EventHoldsSwept, "", "", map[string]interface{}{"count": len(ids)})
    }
    return ids, nil
}

// ConfirmHold commits a hold into assignments without touching booking
// status.  Repeating the call with the same key returns the stored rows.
func (m *HoldManager) ConfirmHold(ctx context.Context, in ConfirmHoldInput) ([]AssignmentResult, error) {
    res, err := m.confirm(ctx, in, nil)
    if err != nil {
        return nil, err
    }
    return toAssignmentResults(res.Assignments), nil
}

func (m *HoldManager) confirm(ctx context.Context, in ConfirmHoldInput, transition *repository.TransitionParams) (repository.ConfirmHoldResult, error) {
    if in.HoldID == "" || in.BookingID == "" || in.IdempotencyKey == "" {
        return repository.ConfirmHoldResult{}, &InputError{Code: "INVALID_CONFIRM", Message: "hold id, booking id and idempotency key are required"}
    }
    p := repository.ConfirmHoldParams{
        HoldID:         in.HoldID,
        BookingID:      in.BookingID,
        IdempotencyKey: in.IdempotencyKey,
        AssignedBy:     in.AssignedBy,
        Transition:     transition,
        Now:            m.now(),
    }
    if in.Window != nil {
        start, end := in.Window.Start.UTC(), in.Window.End.UTC()
        p.StartAt, p.EndAt = &start, &end
    }
    res, err := m.store.ConfirmHold(ctx, p)
    if err != nil {
        terr := translateStoreError(err, in.HoldID)
        if errors.Is(terr, repository.ErrConflict) {
            m.emit(ctx, telemetry.EventRPCConflict, "", in.BookingID, map[string]interface{}{
                "operation": "confirm_hold", "hold_id": in.HoldID, "error": terr.Error(),
            })
        }
        m.log.WithError(terr).WithFields(logrus.Fields{"hold_id": in.HoldID, "booking_id": in.BookingID}).Info("hold: confirm rejected")
        return repository.ConfirmHoldResult{}, terr
    }
    m.emit(ctx, telemetry.EventHoldConfirmed, res.RestaurantID, in.BookingID, map[string]interface{}{
        "hold_id": in.HoldID, "assignments": len(res.Assignments), "replayed": res.Replayed, "transitioned": res.Transitioned,
    })
    return res, nil
}

func (m *HoldManager) emit(ctx context.Context, name, restaurantID, bookingID string, fields map[string]interface{}) {
    m.events.Emit(ctx, telemetry.Event{Name: name, RestaurantID: restaurantID, BookingID: bookingID, At: m.now().UTC(), Fields: fields})
}

func toAssignmentResults(rows []model.Assignment) []AssignmentResult {
    out := make([]AssignmentResult, 0, len(rows))
    for _, a := range rows {
        out = append(out, AssignmentResult{
            TableID:      a.TableID,
            AssignmentID: a.ID,
            StartAt:      a.StartAt,
            EndAt:        a.EndAt,
            MergeGroupID: a.MergeGroupID,
        })
    }
    sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
    return out
}

func dedupeSorted(ids []string) []string {
    seen := make(map[string]struct{}, len(ids))
    out := make([]string, 0, len(ids))
    for _, id := range ids {
        if _, ok := seen[id]; ok || id == "" {
            continue
        }
        seen[id] = struct{}{}
        out = append(out, id)
    }
    sort.Strings(out)
    return out
}

func deref(s *string) string {
    if s == nil {
        return ""
    }
    return *s
}
