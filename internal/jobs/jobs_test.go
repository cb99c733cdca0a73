package jobs

import (
    "context"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// Thursday 2026-03-12; London is on UTC until the end of March.
var morning = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

type recorder struct {
    mu     sync.Mutex
    events []telemetry.Event
}

func (r *recorder) Emit(_ context.Context, e telemetry.Event) {
    r.mu.Lock()
    defer r.mu.Unlock()
    r.events = append(r.events, e)
}

func (r *recorder) names() []string {
    r.mu.Lock()
    defer r.mu.Unlock()
    out := make([]string, 0, len(r.events))
    for _, e := range r.events {
        out = append(out, e.Name)
    }
    return out
}

func (r *recorder) last(name string) (telemetry.Event, bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    for i := len(r.events) - 1; i >= 0; i-- {
        if r.events[i].Name == name {
            return r.events[i], true
        }
    }
    return telemetry.Event{}, false
}

type panicEmitter struct{}

func (panicEmitter) Emit(context.Context, telemetry.Event) { panic("sink exploded") }

func seat(id string, capacity int, status string) model.Table {
    return model.Table{
        ID: id, RestaurantID: "r1", TableNumber: id, Capacity: capacity, ZoneID: "main",
        Status: status, Active: true, Mobility: model.MobilityMovable,
    }
}

func newStore(tables []model.Table, bookings ...model.Booking) *repository.MemoryStore {
    s := repository.NewMemoryStore()
    s.PutRestaurant(model.Restaurant{ID: "r1", Name: "Test Kitchen", Timezone: "Europe/London"})
    for _, t := range tables {
        s.PutTable(t)
    }
    for _, b := range bookings {
        s.PutBooking(b)
    }
    return s
}

func booking(id string, party int, status model.BookingStatus) model.Booking {
    return model.Booking{
        ID: id, RestaurantID: "r1", BookingDate: "2026-03-12", StartTime: "19:00",
        PartySize: party, Status: status,
    }
}

type sleeps struct {
    mu  sync.Mutex
    got []time.Duration
}

func (s *sleeps) record(_ context.Context, d time.Duration) bool {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.got = append(s.got, d)
    return true
}

func newAssigner(store *repository.MemoryStore, cfg Config, now time.Time, rec *recorder, sl *sleeps, allocOpts ...capacity.Option) *AutoAssigner {
    clock := func() time.Time { return now }
    allocOpts = append([]capacity.Option{capacity.WithClock(clock)}, allocOpts...)
    alloc := capacity.New(store, capacity.DefaultConfig(), allocOpts...)
    return NewAutoAssigner(alloc, cfg, WithClock(clock), WithEmitter(rec), WithSleep(sl.record))
}

func TestRunSeatsBookingOnFirstAttempt(t *testing.T) {
    store := newStore([]model.Table{
        seat("t-a1", 4, model.TableStatusAvailable),
        seat("t-b1", 6, model.TableStatusAvailable),
    }, booking("b-1", 6, model.StatusPending))
    rec := &recorder{}
    sl := &sleeps{}
    a := newAssigner(store, DefaultConfig(), morning, rec, sl)

    out := a.Run(context.Background(), "b-1", Options{Reason: ReasonCreation})
    require.Equal(t, ResultSucceeded, out.Result)
    assert.Equal(t, 1, out.Attempts)
    require.Len(t, out.Assignments, 1)
    assert.Equal(t, "t-b1", out.Assignments[0].TableID)
    assert.NotEmpty(t, out.HoldID)
    assert.Empty(t, sl.got)

    b, err := store.GetBooking(context.Background(), "b-1")
    require.NoError(t, err)
    assert.Equal(t, model.StatusConfirmed, b.Status)

    assert.Equal(t, []string{
        telemetry.EventAutoAssignStarted,
        telemetry.EventAutoAssignAttempt,
        telemetry.EventAutoAssignSucceeded,
        telemetry.EventAutoAssignSummary,
    }, rec.names())
    sum, ok := rec.last(telemetry.EventAutoAssignSummary)
    require.True(t, ok)
    assert.Equal(t, "succeeded", sum.Fields["result"])
    assert.Equal(t, 1, sum.Fields["attempts"])
}

func TestRunRetriesOnScheduleThenFails(t *testing.T) {
    store := newStore([]model.Table{seat("t-x", 4, model.TableStatusOutOfService)}, booking("b-1", 2, model.StatusPending))
    rec := &recorder{}
    sl := &sleeps{}
    cfg := Config{MaxRetries: 3, RetryDelays: []time.Duration{time.Second, 2 * time.Second}, StartCutoff: 10 * time.Minute}
    a := newAssigner(store, cfg, morning, rec, sl)

    out := a.Run(context.Background(), "b-1", Options{Reason: ReasonModification})
    assert.Equal(t, ResultFailed, out.Result)
    assert.Equal(t, 4, out.Attempts)
    assert.NotEmpty(t, out.LastReason)
    // the last configured delay is reused
    assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, sl.got)

    _, ok := rec.last(telemetry.EventAutoAssignFailed)
    assert.True(t, ok)
    attempts := 0
    for _, n := range rec.names() {
        if n == telemetry.EventAutoAssignAttempt {
            attempts++
        }
    }
    assert.Equal(t, 4, attempts)

    b, err := store.GetBooking(context.Background(), "b-1")
    require.NoError(t, err)
    assert.Equal(t, model.StatusPending, b.Status)
}

func TestRunInsideCutoffMakesNoAttempt(t *testing.T) {
    store := newStore([]model.Table{seat("t-c1", 2, model.TableStatusAvailable)}, booking("b-1", 2, model.StatusPending))
    rec := &recorder{}
    sl := &sleeps{}
    justBefore := time.Date(2026, 3, 12, 18, 55, 0, 0, time.UTC)
    a := newAssigner(store, DefaultConfig(), justBefore, rec, sl)

    out := a.Run(context.Background(), "b-1", Options{})
    assert.Equal(t, ResultCutoffSkipped, out.Result)
    assert.Zero(t, out.Attempts)
    assert.Empty(t, out.HoldID)
    assert.Empty(t, sl.got)
    assert.Empty(t, store.AllAssignments())
    holds, err := store.ListHoldsForBooking(context.Background(), "b-1", justBefore)
    require.NoError(t, err)
    assert.Empty(t, holds)

    b, err := store.GetBooking(context.Background(), "b-1")
    require.NoError(t, err)
    assert.Equal(t, model.StatusPending, b.Status)

    assert.Equal(t, []string{
        telemetry.EventAutoAssignStarted,
        telemetry.EventAutoAssignCutoffSkipped,
        telemetry.EventAutoAssignSummary,
    }, rec.names())
    sum, ok := rec.last(telemetry.EventAutoAssignSummary)
    require.True(t, ok)
    assert.Equal(t, "cutoff_skipped", sum.Fields["result"])
    assert.Equal(t, 0, sum.Fields["attempts"])
}

func TestRunStopsRetryingOnceCutoffIsReached(t *testing.T) {
    store := newStore([]model.Table{seat("t-x", 4, model.TableStatusOutOfService)}, booking("b-1", 2, model.StatusPending))
    rec := &recorder{}
    var mu sync.Mutex
    now := time.Date(2026, 3, 12, 18, 40, 0, 0, time.UTC)
    clock := func() time.Time {
        mu.Lock()
        defer mu.Unlock()
        return now
    }
    advance := func(_ context.Context, d time.Duration) bool {
        mu.Lock()
        defer mu.Unlock()
        now = now.Add(d)
        return true
    }
    alloc := capacity.New(store, capacity.DefaultConfig(), capacity.WithClock(clock))
    cfg := Config{MaxRetries: 5, RetryDelays: []time.Duration{6 * time.Minute}, StartCutoff: 10 * time.Minute}
    a := NewAutoAssigner(alloc, cfg, WithClock(clock), WithEmitter(rec), WithSleep(advance))

    out := a.Run(context.Background(), "b-1", Options{})
    // 18:40 and 18:46 run; the retry due at 18:52 falls inside the cutoff
    assert.Equal(t, ResultCutoffSkipped, out.Result)
    assert.Equal(t, 2, out.Attempts)
    _, failed := rec.last(telemetry.EventAutoAssignFailed)
    assert.False(t, failed)
}

func TestRunStatusGates(t *testing.T) {
    tables := []model.Table{seat("t-a1", 4, model.TableStatusAvailable)}
    cases := []struct {
        status model.BookingStatus
        want   Result
    }{
        {model.StatusConfirmed, ResultAlreadyConfirmed},
        {model.StatusCancelled, ResultSkippedStatus},
        {model.StatusNoShow, ResultSkippedStatus},
    }
    for _, tc := range cases {
        t.Run(string(tc.status), func(t *testing.T) {
            store := newStore(tables, booking("b-1", 2, tc.status))
            rec := &recorder{}
            a := newAssigner(store, DefaultConfig(), morning, rec, &sleeps{})
            out := a.Run(context.Background(), "b-1", Options{})
            assert.Equal(t, tc.want, out.Result)
            assert.Zero(t, out.Attempts)
            assert.Empty(t, store.AllAssignments())
        })
    }
}

func TestRunMissingBooking(t *testing.T) {
    store := newStore(nil)
    rec := &recorder{}
    a := newAssigner(store, DefaultConfig(), morning, rec, &sleeps{})
    out := a.Run(context.Background(), "nope", Options{})
    assert.Equal(t, ResultLookupFailed, out.Result)
    assert.NotEmpty(t, out.LastReason)
    assert.Equal(t, []string{telemetry.EventAutoAssignSummary}, rec.names())
}

func TestRunRecoversPanickingAttempt(t *testing.T) {
    store := newStore([]model.Table{seat("t-x", 4, model.TableStatusOutOfService)}, booking("b-1", 2, model.StatusPending))
    rec := &recorder{}
    cfg := DefaultConfig()
    cfg.MaxRetries = 0
    a := newAssigner(store, cfg, morning, rec, &sleeps{}, capacity.WithEmitter(panicEmitter{}))

    var out Outcome
    require.NotPanics(t, func() { out = a.Run(context.Background(), "b-1", Options{}) })
    assert.Equal(t, ResultFailed, out.Result)
    assert.Contains(t, out.LastReason, "panicked")
    _, ok := rec.last(telemetry.EventAutoAssignAttemptError)
    assert.True(t, ok)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
    store := newStore([]model.Table{seat("t-x", 4, model.TableStatusOutOfService)}, booking("b-1", 2, model.StatusPending))
    clock := func() time.Time { return morning }
    alloc := capacity.New(store, capacity.DefaultConfig(), capacity.WithClock(clock))
    a := NewAutoAssigner(alloc, DefaultConfig(), WithClock(clock))

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    out := a.Run(ctx, "b-1", Options{})
    assert.Equal(t, ResultFailed, out.Result)
    assert.Equal(t, 1, out.Attempts)
    assert.Contains(t, out.LastReason, "cancelled")
}

func TestConfigSchedule(t *testing.T) {
    c := Config{MaxRetries: 50}
    assert.Equal(t, 11, c.maxAttempts())
    c.MaxRetries = -4
    assert.Equal(t, 1, c.maxAttempts())
    assert.Equal(t, time.Duration(0), c.delay(1))

    d := DefaultConfig()
    assert.Equal(t, 4, d.maxAttempts())
    assert.Equal(t, 5*time.Second, d.delay(1))
    assert.Equal(t, 30*time.Second, d.delay(3))
    assert.Equal(t, 30*time.Second, d.delay(9))
}

type stubRunner struct {
    started chan string
    release chan struct{}
    panicOn string
}

func (s *stubRunner) Run(_ context.Context, bookingID string, _ Options) Outcome {
    if bookingID == s.panicOn {
        panic("boom")
    }
    if s.started != nil {
        s.started <- bookingID
    }
    if s.release != nil {
        <-s.release
    }
    return Outcome{BookingID: bookingID, Result: ResultSucceeded, Attempts: 1}
}

func TestDispatcherRejectsWhenFullAndAfterClose(t *testing.T) {
    r := &stubRunner{started: make(chan string, 4), release: make(chan struct{})}
    d := NewDispatcher(r, 1, 1, time.Minute, nil)
    var mu sync.Mutex
    var done []string
    d.OnDone = func(o Outcome) {
        mu.Lock()
        done = append(done, o.BookingID)
        mu.Unlock()
    }

    require.True(t, d.Submit("b-1", Options{}))
    assert.Equal(t, "b-1", <-r.started)
    require.True(t, d.Submit("b-2", Options{}))
    assert.False(t, d.Submit("b-3", Options{}))

    close(r.release)
    d.Close()
    assert.False(t, d.Submit("b-4", Options{}))
    d.Close()

    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, []string{"b-1", "b-2"}, done)
}

func TestDispatcherSurvivesPanickingRun(t *testing.T) {
    r := &stubRunner{panicOn: "bad"}
    d := NewDispatcher(r, 1, 4, time.Minute, nil)
    var mu sync.Mutex
    var done []string
    d.OnDone = func(o Outcome) {
        mu.Lock()
        done = append(done, o.BookingID)
        mu.Unlock()
    }
    require.True(t, d.Submit("bad", Options{}))
    require.True(t, d.Submit("good", Options{}))
    d.Close()

    mu.Lock()
    defer mu.Unlock()
    assert.Equal(t, []string{"good"}, done)
}
