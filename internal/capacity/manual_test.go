package capacity

import (
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

func checkByName(res ValidationResult, name string) ValidationCheck {
    for _, c := range res.Checks {
        if c.Name == name {
            return c
        }
    }
    return ValidationCheck{}
}

func TestValidateSelection(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    res, err := a.ValidateSelection(ctx, "bk1", []string{"t-a2", "t-a1"})
    require.NoError(t, err)
    assert.True(t, res.OK)
    assert.True(t, res.AdjacencyOK)
    assert.Equal(t, []string{"t-a1", "t-a2"}, res.TableIDs)
    assert.Equal(t, 8, res.TotalCapacity)
    assert.Equal(t, 2, res.Slack)
    assert.Equal(t, "main", res.ZoneID)
    assert.NotEmpty(t, res.ContextVersion)

    res, err = a.ValidateSelection(ctx, "bk1", []string{"t-a1"})
    require.NoError(t, err)
    assert.False(t, res.OK)
    assert.False(t, checkByName(res, "capacity").OK)

    res, err = a.ValidateSelection(ctx, "bk1", []string{"t-a1", "t-c1"})
    require.NoError(t, err)
    assert.False(t, res.OK)
    assert.False(t, checkByName(res, "zone").OK)
    assert.False(t, res.AdjacencyOK)

    res, err = a.ValidateSelection(ctx, "bk1", []string{"t-b1", "t-zz"})
    require.NoError(t, err)
    assert.False(t, checkByName(res, "tables_exist").OK)

    assert.Empty(t, s.AllAssignments())
}

func TestContextVersionTracksOtherBookings(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6), dinnerBooking("bk2", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    before, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    assert.Len(t, before.Tables, 4)

    _, err = a.HoldSelection(ctx, ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-b1"}, ContextVersion: before.ContextVersion})
    require.NoError(t, err)
    own, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    assert.Equal(t, before.ContextVersion, own.ContextVersion)
    assert.Len(t, own.OwnHolds, 1)

    _, err = a.Quote(ctx, QuoteRequest{BookingID: "bk2"})
    require.NoError(t, err)
    after, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    assert.NotEqual(t, before.ContextVersion, after.ContextVersion)
    assert.Len(t, after.Holds, 1)
}

func TestConfirmSessionHoldRejectsStaleContext(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6), dinnerBooking("bk2", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    view, err := a.ManualContext(ctx, "bk1", strPtr("staff-1"))
    require.NoError(t, err)
    _, err = a.Quote(ctx, QuoteRequest{BookingID: "bk2"})
    require.NoError(t, err)

    req := ManualConfirmRequest{
        BookingID: "bk1", TableIDs: []string{"t-a1", "t-a2"},
        ContextVersion: view.ContextVersion, IdempotencyKey: "manual-1", Actor: strPtr("staff-1"),
    }
    _, err = a.ConfirmSessionHold(ctx, req)
    var stale *StaleContextError
    require.True(t, errors.As(err, &stale))
    assert.Equal(t, view.ContextVersion, stale.Provided)
    assert.True(t, errors.Is(err, repository.ErrVersionMismatch))
    assert.Empty(t, s.AllAssignments())

    fresh, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    req.ContextVersion = fresh.ContextVersion
    res, err := a.ConfirmSessionHold(ctx, req)
    require.NoError(t, err)
    assert.Len(t, res.Assignments, 2)
    assert.Equal(t, model.StatusConfirmed, res.Status)
    assert.Equal(t, int64(1), res.Session.SelectionVersion)

    replay, err := a.ConfirmSessionHold(ctx, req)
    require.NoError(t, err)
    assert.True(t, replay.Replayed)
    assert.Len(t, s.AllAssignments(), 2)
}

func TestHoldThenConfirmAdvancesSelectionVersion(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    view, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    assert.Equal(t, int64(0), view.SelectionVersion)

    held, err := a.HoldSelection(ctx, ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-b1"}, ContextVersion: view.ContextVersion})
    require.NoError(t, err)
    assert.Equal(t, int64(1), held.Session.SelectionVersion)

    wrong := int64(5)
    _, err = a.ConfirmSessionHold(ctx, ManualConfirmRequest{
        BookingID: "bk1", HoldID: held.Hold.ID, ContextVersion: view.ContextVersion, SelectionVersion: &wrong,
    })
    var stale *StaleContextError
    require.True(t, errors.As(err, &stale))
    assert.Equal(t, "1", stale.Expected)

    version := held.Session.SelectionVersion
    res, err := a.ConfirmSessionHold(ctx, ManualConfirmRequest{
        BookingID: "bk1", HoldID: held.Hold.ID, ContextVersion: view.ContextVersion, SelectionVersion: &version,
    })
    require.NoError(t, err)
    assert.Equal(t, held.Hold.ID, res.HoldID)
    assert.Equal(t, int64(2), res.Session.SelectionVersion)
    require.Len(t, res.Assignments, 1)
    assert.Equal(t, "t-b1", res.Assignments[0].TableID)
}

func TestHoldSelectionRejectsInvalidSelection(t *testing.T) {
    a := newTestAllocator(t, seedFloor(dinnerBooking("bk1", 6)))
    res, err := a.HoldSelection(context.Background(), ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-c1"}})
    var inErr *InputError
    require.True(t, errors.As(err, &inErr))
    assert.Equal(t, "INVALID_SELECTION", inErr.Code)
    assert.False(t, res.Validation.OK)
}

func TestConfirmSessionHoldInvalidSelectionKeepsVersion(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    view, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    version := view.SelectionVersion

    _, err = a.ConfirmSessionHold(ctx, ManualConfirmRequest{
        BookingID: "bk1", TableIDs: []string{"t-c1"}, ContextVersion: view.ContextVersion, SelectionVersion: &version,
    })
    var inErr *InputError
    require.True(t, errors.As(err, &inErr))
    assert.Equal(t, "INVALID_SELECTION", inErr.Code)

    sess, err := a.GetOrCreateManualSession(ctx, "bk1", nil)
    require.NoError(t, err)
    assert.Equal(t, version, sess.SelectionVersion)

    res, err := a.ConfirmSessionHold(ctx, ManualConfirmRequest{
        BookingID: "bk1", TableIDs: []string{"t-b1"}, ContextVersion: view.ContextVersion, SelectionVersion: &version,
    })
    require.NoError(t, err)
    assert.Equal(t, version+1, res.Session.SelectionVersion)
    assert.Equal(t, model.StatusConfirmed, res.Status)
}

func TestConfirmSessionHoldReplayMatchesConfirmedHold(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    view, err := a.ManualContext(ctx, "bk1", nil)
    require.NoError(t, err)
    held, err := a.HoldSelection(ctx, ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-b1"}, ContextVersion: view.ContextVersion})
    require.NoError(t, err)

    req := ManualConfirmRequest{BookingID: "bk1", HoldID: held.Hold.ID, ContextVersion: view.ContextVersion, IdempotencyKey: "staff-k1"}
    first, err := a.ConfirmSessionHold(ctx, req)
    require.NoError(t, err)
    assert.False(t, first.Replayed)

    replay, err := a.ConfirmSessionHold(ctx, req)
    require.NoError(t, err)
    assert.True(t, replay.Replayed)
    assert.Equal(t, held.Hold.ID, replay.HoldID)
    assert.Len(t, replay.Assignments, 1)

    byTables, err := a.ConfirmSessionHold(ctx, ManualConfirmRequest{
        BookingID: "bk1", TableIDs: []string{"t-b1"}, ContextVersion: view.ContextVersion, IdempotencyKey: "staff-k1",
    })
    require.NoError(t, err)
    assert.True(t, byTables.Replayed)
    assert.Equal(t, held.Hold.ID, byTables.HoldID)

    req.HoldID = "some-other-hold"
    _, err = a.ConfirmSessionHold(ctx, req)
    var cc *ConfirmConflictError
    require.True(t, errors.As(err, &cc))
    assert.Equal(t, "some-other-hold", cc.HoldID)
    assert.True(t, errors.Is(err, repository.ErrIdempotencyMismatch))
    assert.Len(t, s.AllAssignments(), 1)
}

func TestHoldSelectionReplacesOwnEarlierHold(t *testing.T) {
    s := seedFloor(dinnerBooking("bk1", 6))
    a := newTestAllocator(t, s)
    ctx := context.Background()

    first, err := a.HoldSelection(ctx, ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-b1"}})
    require.NoError(t, err)
    second, err := a.HoldSelection(ctx, ManualHoldRequest{BookingID: "bk1", TableIDs: []string{"t-a1", "t-a2"}})
    require.NoError(t, err)

    holds, err := a.Holds().ListActiveHolds(ctx, "bk1")
    require.NoError(t, err)
    require.Len(t, holds, 1)
    assert.Equal(t, second.Hold.ID, holds[0].ID)
    _, err = s.GetHold(ctx, first.Hold.ID)
    assert.True(t, errors.Is(err, repository.ErrHoldNotFound))
    assert.Equal(t, int64(2), second.Session.SelectionVersion)
}

func TestSessionConflictWrapsCause(t *testing.T) {
    other := "bk9"
    err := sessionConflict(&HoldConflictError{Conflicts: []HoldConflictInfo{{HoldID: "h9", BookingID: &other}}}, "")
    var sc *SessionConflictError
    require.True(t, errors.As(err, &sc))
    assert.Equal(t, "bk9", sc.BookingID)
    assert.Equal(t, "h9", sc.HoldID)
    assert.True(t, errors.Is(err, repository.ErrHoldConflict))

    err = sessionConflict(&AssignTablesConflictError{TableID: "t1", BookingID: "bk8"}, "h1")
    require.True(t, errors.As(err, &sc))
    assert.Equal(t, "bk8", sc.BookingID)
    assert.True(t, errors.Is(err, repository.ErrAssignmentConflict))

    plain := errors.New("boom")
    assert.Equal(t, plain, sessionConflict(plain, "h1"))
}

func TestDeriveIdempotencyKeyIsStable(t *testing.T) {
    a := DeriveIdempotencyKey("auto", "bk1", "h1")
    assert.Equal(t, a, DeriveIdempotencyKey("auto", "bk1", "h1"))
    assert.NotEqual(t, a, DeriveIdempotencyKey("auto", "bk1", "h2"))
    assert.Contains(t, a, "auto:")
}
