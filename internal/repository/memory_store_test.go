package repository

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/table-allocation/internal/model"
)

var base = time.Date(2025, 3, 14, 18, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func seedStore() *MemoryStore {
    s := NewMemoryStore()
    s.PutRestaurant(model.Restaurant{ID: "r1", Name: "Test", Timezone: "UTC"})
    for _, t := range []model.Table{
        {ID: "t1", RestaurantID: "r1", TableNumber: "A1", Capacity: 4, ZoneID: "main", Status: model.TableStatusAvailable, Active: true},
        {ID: "t2", RestaurantID: "r1", TableNumber: "A2", Capacity: 4, ZoneID: "main", Status: model.TableStatusAvailable, Active: true},
    } {
        s.PutTable(t)
    }
    s.PutBooking(model.Booking{ID: "b1", RestaurantID: "r1", PartySize: 6, Status: model.StatusPending})
    s.PutBooking(model.Booking{ID: "b2", RestaurantID: "r1", PartySize: 4, Status: model.StatusPending})
    return s
}

func newHold(booking string, tables ...string) model.TableHold {
    return model.TableHold{
        BookingID:    strPtr(booking),
        RestaurantID: "r1",
        ZoneID:       "main",
        TableIDs:     tables,
        StartAt:      base,
        EndAt:        base.Add(90 * time.Minute),
        ExpiresAt:    base.Add(3 * time.Minute),
    }
}

func TestCreateHoldRejectsOverlap(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    first, err := s.CreateHold(ctx, newHold("b1", "t1", "t2"), nil, base)
    require.NoError(t, err)
    require.NotEmpty(t, first.ID)

    _, err = s.CreateHold(ctx, newHold("b2", "t2"), nil, base)
    var conflict *HoldConflictError
    require.True(t, errors.As(err, &conflict))
    assert.Equal(t, first.ID, conflict.Conflicts[0].ID)
    assert.True(t, errors.Is(err, ErrConflict))

    // an expired hold no longer counts
    _, err = s.CreateHold(ctx, newHold("b2", "t2"), nil, base.Add(4*time.Minute))
    assert.NoError(t, err)
}

func TestCreateHoldSameBookingConflictsUnlessReplaced(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    first, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)

    _, err = s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    var conflict *HoldConflictError
    require.True(t, errors.As(err, &conflict))
    assert.Equal(t, first.ID, conflict.Conflicts[0].ID)
    active, err := s.ListHoldsForBooking(ctx, "b1", base)
    require.NoError(t, err)
    assert.Len(t, active, 1)

    // another booking cannot replace b1's hold
    _, err = s.CreateHold(ctx, newHold("b2", "t1"), []string{first.ID}, base)
    require.True(t, errors.As(err, &conflict))

    second, err := s.CreateHold(ctx, newHold("b1", "t1", "t2"), []string{first.ID}, base)
    require.NoError(t, err)
    active, err = s.ListHoldsForBooking(ctx, "b1", base)
    require.NoError(t, err)
    require.Len(t, active, 1)
    assert.Equal(t, second.ID, active[0].ID)
    _, err = s.GetHold(ctx, first.ID)
    assert.True(t, errors.Is(err, ErrHoldNotFound))
}

func TestCreateHoldConcurrentSameBookingSingleWinner(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    var wg sync.WaitGroup
    var mu sync.Mutex
    wins := 0
    for i := 0; i < 10; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            if _, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base); err == nil {
                mu.Lock()
                wins++
                mu.Unlock()
            }
        }()
    }
    wg.Wait()
    assert.Equal(t, 1, wins)
}

func TestCreateHoldConcurrentSingleWinner(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    var wg sync.WaitGroup
    var mu sync.Mutex
    wins := 0
    for i := 0; i < 20; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            booking := "b1"
            if i%2 == 1 {
                booking = "b2"
            }
            if _, err := s.CreateHold(ctx, newHold(booking+"-"+string(rune('a'+i)), "t1"), nil, base); err == nil {
                mu.Lock()
                wins++
                mu.Unlock()
            }
        }(i)
    }
    wg.Wait()
    assert.Equal(t, 1, wins)
}

func TestConfirmHoldReplayAndMismatch(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    hold, err := s.CreateHold(ctx, newHold("b1", "t1", "t2"), nil, base)
    require.NoError(t, err)

    p := ConfirmHoldParams{HoldID: hold.ID, BookingID: "b1", IdempotencyKey: "k1", Now: base.Add(time.Minute),
        Transition: &TransitionParams{From: model.StatusPending, To: model.StatusConfirmed, Reason: "test"}}
    res, err := s.ConfirmHold(ctx, p)
    require.NoError(t, err)
    require.Len(t, res.Assignments, 2)
    assert.True(t, res.Transitioned)
    require.NotNil(t, res.Assignments[0].MergeGroupID)
    assert.Equal(t, *res.Assignments[0].MergeGroupID, *res.Assignments[1].MergeGroupID)

    replay, err := s.ConfirmHold(ctx, p)
    require.NoError(t, err)
    assert.True(t, replay.Replayed)
    assert.False(t, replay.Transitioned)
    assert.ElementsMatch(t, res.Assignments, replay.Assignments)
    assert.Len(t, s.AllAssignments(), 2)
    assert.Len(t, s.History("b1"), 1)

    p.IdempotencyKey = "other"
    _, err = s.ConfirmHold(ctx, p)
    assert.ErrorIs(t, err, ErrIdempotencyMismatch)
}

func TestConfirmHoldTransitionConflictRollsBack(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    hold, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)
    s.SetBookingStatus("b1", model.StatusCancelled)

    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: hold.ID, BookingID: "b1", IdempotencyKey: "k", Now: base,
        Transition: &TransitionParams{From: model.StatusPending, To: model.StatusConfirmed}})
    var tc *TransitionConflictError
    require.True(t, errors.As(err, &tc))
    assert.Equal(t, model.StatusCancelled, tc.Actual)
    assert.Empty(t, s.AllAssignments())
    _, err = s.GetHold(ctx, hold.ID)
    assert.NoError(t, err)
}

func TestConfirmHoldExpiredAndMissing(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    hold, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)

    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: hold.ID, BookingID: "b1", IdempotencyKey: "k", Now: base.Add(time.Hour)})
    assert.ErrorIs(t, err, ErrHoldExpired)
    assert.ErrorIs(t, err, ErrHoldNotFound)

    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: "missing", BookingID: "b1", IdempotencyKey: "k", Now: base})
    assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestConfirmHoldAssignmentOverlap(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    h1, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)
    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: h1.ID, BookingID: "b1", IdempotencyKey: "k1", Now: base})
    require.NoError(t, err)

    // hold rows are gone after confirm, so a second hold on t1 can be created
    h2, err := s.CreateHold(ctx, newHold("b2", "t1"), nil, base)
    require.NoError(t, err)
    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: h2.ID, BookingID: "b2", IdempotencyKey: "k2", Now: base})
    var ac *AssignmentConflictError
    require.True(t, errors.As(err, &ac))
    assert.Equal(t, "b1", ac.BookingID)
    assert.Len(t, s.AllAssignments(), 1)
}

func TestGetConfirmationByKey(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    h, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)
    _, err = s.ConfirmHold(ctx, ConfirmHoldParams{HoldID: h.ID, BookingID: "b1", IdempotencyKey: "k1", Now: base})
    require.NoError(t, err)

    conf, err := s.GetConfirmation(ctx, "b1", "k1")
    require.NoError(t, err)
    assert.Equal(t, h.ID, conf.HoldID)

    _, err = s.GetConfirmation(ctx, "b1", "k2")
    assert.ErrorIs(t, err, ErrNotFound)
    _, err = s.GetConfirmation(ctx, "b2", "k1")
    assert.ErrorIs(t, err, ErrNotFound)
}

func TestBumpSessionVersionCAS(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    sess, err := s.GetOrCreateSession(ctx, model.ManualSession{BookingID: "b1", RestaurantID: "r1"})
    require.NoError(t, err)
    again, err := s.GetOrCreateSession(ctx, model.ManualSession{BookingID: "b1", RestaurantID: "r1"})
    require.NoError(t, err)
    assert.Equal(t, sess.ID, again.ID)

    bumped, err := s.BumpSessionVersion(ctx, sess.ID, 0, "ctx")
    require.NoError(t, err)
    assert.EqualValues(t, 1, bumped.SelectionVersion)

    _, err = s.BumpSessionVersion(ctx, sess.ID, 0, "ctx")
    assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestSweepExpiredHolds(t *testing.T) {
    s := seedStore()
    ctx := context.Background()
    _, err := s.CreateHold(ctx, newHold("b1", "t1"), nil, base)
    require.NoError(t, err)
    ids, err := s.SweepExpiredHolds(ctx, base.Add(time.Minute), 10)
    require.NoError(t, err)
    assert.Empty(t, ids)
    ids, err = s.SweepExpiredHolds(ctx, base.Add(time.Hour), 10)
    require.NoError(t, err)
    assert.Len(t, ids, 1)
}
