// Package jobs runs background allocation work: the auto-assign retry loop
// and the bounded worker pool that feeds it.
package jobs

import (
    "context"
    "errors"
    "fmt"
    "io"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// maxAttemptsCap bounds a run to ten retries after the first attempt.
const maxAttemptsCap = 11

// Config drives the auto-assign loop.
type Config struct {
    MaxRetries  int
    RetryDelays []time.Duration
    StartCutoff time.Duration
    HoldTTL     time.Duration
}

// DefaultConfig retries three times after 5s, 15s and 30s and stops ten
// minutes before the booking starts.
func DefaultConfig() Config {
    return Config{
        MaxRetries:  3,
        RetryDelays: []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second},
        StartCutoff: 10 * time.Minute,
        HoldTTL:     60 * time.Second,
    }
}

// maxAttempts is MaxRetries+1 clamped to [1, 11].
func (c Config) maxAttempts() int {
    n := c.MaxRetries + 1
    if n < 1 {
        n = 1
    }
    if n > maxAttemptsCap {
        n = maxAttemptsCap
    }
    return n
}

// delay returns the wait after the given 1-based attempt; the last
// configured delay is reused once the schedule runs out.
func (c Config) delay(attempt int) time.Duration {
    if len(c.RetryDelays) == 0 {
        return 0
    }
    i := attempt - 1
    if i >= len(c.RetryDelays) {
        i = len(c.RetryDelays) - 1
    }
    if i < 0 {
        i = 0
    }
    return c.RetryDelays[i]
}

// Trigger reasons.
const (
    ReasonCreation     = "creation"
    ReasonModification = "modification"
)

// Options are per-run planner overrides.
type Options struct {
    Reason           string
    RequireAdjacency *bool
    MaxTables        *int
}

// Result classifies how a run ended.
type Result string

const (
    ResultSucceeded        Result = "succeeded"
    ResultFailed           Result = "failed"
    ResultCutoffSkipped    Result = "cutoff_skipped"
    ResultAlreadyConfirmed Result = "already_confirmed"
    ResultSkippedStatus    Result = "skipped_status"
    ResultLookupFailed     Result = "lookup_failed"
)

// Outcome is what Run reports back.
type Outcome struct {
    BookingID   string                      `json:"booking_id"`
    Result      Result                      `json:"result"`
    Attempts    int                         `json:"attempts"`
    LastReason  string                      `json:"last_reason,omitempty"`
    HoldID      string                      `json:"hold_id,omitempty"`
    Assignments []capacity.AssignmentResult `json:"assignments,omitempty"`
}

// AutoAssigner seats a booking without staff involvement, retrying on a
// schedule until it succeeds, runs out of attempts, or the booking gets
// too close to its start.  Overlapping runs for the same booking are safe:
// hold conflicts and confirm idempotency keys arbitrate at the store.
type AutoAssigner struct {
    alloc  *capacity.Allocator
    cfg    Config
    events telemetry.Emitter
    log    *logrus.Entry
    now    func() time.Time
    sleep  func(ctx context.Context, d time.Duration) bool
}

// AutoAssignerOption customises an AutoAssigner.
type AutoAssignerOption func(*AutoAssigner)

// WithEmitter sets the telemetry sink.
func WithEmitter(e telemetry.Emitter) AutoAssignerOption {
    return func(a *AutoAssigner) { a.events = e }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) AutoAssignerOption { return func(a *AutoAssigner) { a.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AutoAssignerOption { return func(a *AutoAssigner) { a.now = now } }

// WithSleep overrides the wait between attempts.  The function returns
// false when the wait was interrupted.
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) AutoAssignerOption {
    return func(a *AutoAssigner) { a.sleep = sleep }
}

// NewAutoAssigner builds an AutoAssigner around alloc.
func NewAutoAssigner(alloc *capacity.Allocator, cfg Config, opts ...AutoAssignerOption) *AutoAssigner {
    a := &AutoAssigner{alloc: alloc, cfg: cfg, events: telemetry.Noop{}, now: time.Now, sleep: sleepCtx}
    for _, o := range opts {
        o(a)
    }
    if a.log == nil {
        l := logrus.New()
        l.SetOutput(io.Discard)
        a.log = logrus.NewEntry(l)
    }
    return a
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
    if d <= 0 {
        return ctx.Err() == nil
    }
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

// Run executes the retry loop for one booking.  It never returns an
// error; failures are reported through the Outcome and telemetry.
func (a *AutoAssigner) Run(ctx context.Context, bookingID string, opts Options) Outcome {
    out := Outcome{BookingID: bookingID}
    log := a.log.WithFields(logrus.Fields{"booking_id": bookingID, "trigger": opts.Reason})

    booking, window, err := a.alloc.BookingWindow(ctx, bookingID)
    if err != nil {
        out.Result = ResultLookupFailed
        out.LastReason = err.Error()
        log.WithError(err).Warn("auto-assign: booking lookup failed")
        a.summary(ctx, booking.RestaurantID, out)
        return out
    }
    rid := booking.RestaurantID
    a.emit(ctx, telemetry.EventAutoAssignStarted, rid, bookingID, map[string]interface{}{
        "status": string(booking.Status), "trigger": opts.Reason,
    })
    if r, stop := statusGate(booking.Status); stop {
        out.Result = r
        a.summary(ctx, rid, out)
        return out
    }

    maxAttempts := a.cfg.maxAttempts()
    cutoffAt := window.Dining.Start.Add(-a.cfg.StartCutoff)
    for attempt := 1; attempt <= maxAttempts; attempt++ {
        if !a.now().Before(cutoffAt) {
            out.Result = ResultCutoffSkipped
            a.emit(ctx, telemetry.EventAutoAssignCutoffSkipped, rid, bookingID, map[string]interface{}{
                "attempt": attempt, "cutoff_minutes": a.cfg.StartCutoff.Minutes(),
            })
            log.WithField("attempt", attempt).Info("auto-assign: inside start cutoff, leaving for staff")
            break
        }

        out.Attempts = attempt
        ok, reason, err := a.attempt(ctx, bookingID, opts, &out)
        fields := map[string]interface{}{"attempt": attempt, "success": ok, "trigger": opts.Reason}
        if reason != "" {
            fields["reason"] = reason
            out.LastReason = reason
        }
        a.emit(ctx, telemetry.EventAutoAssignAttempt, rid, bookingID, fields)
        if err != nil {
            out.LastReason = err.Error()
            a.emit(ctx, telemetry.EventAutoAssignAttemptError, rid, bookingID, map[string]interface{}{
                "attempt": attempt, "error": err.Error(),
            })
            log.WithError(err).WithField("attempt", attempt).Warn("auto-assign: attempt failed")
        }
        if ok {
            out.Result = ResultSucceeded
            break
        }
        if attempt == maxAttempts {
            out.Result = ResultFailed
            break
        }

        current, err := a.alloc.Booking(ctx, bookingID)
        if err == nil {
            if r, stop := statusGate(current.Status); stop {
                out.Result = r
                break
            }
        }
        if !a.sleep(ctx, a.cfg.delay(attempt)) {
            out.Result = ResultFailed
            out.LastReason = "cancelled: " + ctx.Err().Error()
            break
        }
    }
    if out.Result == "" {
        out.Result = ResultFailed
    }

    switch out.Result {
    case ResultSucceeded:
        a.emit(ctx, telemetry.EventAutoAssignSucceeded, rid, bookingID, map[string]interface{}{
            "attempts": out.Attempts, "hold_id": out.HoldID, "tables": len(out.Assignments),
        })
        log.WithFields(logrus.Fields{"attempts": out.Attempts, "hold_id": out.HoldID}).Info("auto-assign: booking seated")
    case ResultFailed:
        a.emit(ctx, telemetry.EventAutoAssignFailed, rid, bookingID, map[string]interface{}{
            "attempts": out.Attempts, "reason": out.LastReason,
        })
        log.WithFields(logrus.Fields{"attempts": out.Attempts, "reason": out.LastReason}).Warn("auto-assign: giving up")
    }
    a.summary(ctx, rid, out)
    return out
}

// statusGate stops a run for bookings that are already seated or no
// longer allocatable.
func statusGate(s model.BookingStatus) (Result, bool) {
    switch {
    case s == model.StatusConfirmed:
        return ResultAlreadyConfirmed, true
    case !s.Allocatable():
        return ResultSkippedStatus, true
    }
    return "", false
}

// attempt is one quote plus confirm.  A panic inside is turned into an
// error so one bad booking cannot take the worker down.
func (a *AutoAssigner) attempt(ctx context.Context, bookingID string, opts Options, out *Outcome) (ok bool, reason string, err error) {
    defer func() {
        if r := recover(); r != nil {
            ok, reason, err = false, "panic", fmt.Errorf("auto-assign attempt panicked: %v", r)
        }
    }()

    ttl := 0
    if a.cfg.HoldTTL > 0 {
        ttl = int(a.cfg.HoldTTL / time.Second)
    }
    quote, err := a.alloc.Quote(ctx, capacity.QuoteRequest{
        BookingID:        bookingID,
        CreatedBy:        strPtr("auto-assign"),
        HoldTTLSeconds:   ttl,
        RequireAdjacency: opts.RequireAdjacency,
        MaxTables:        opts.MaxTables,
    })
    if err != nil {
        return false, "quote_error", err
    }
    if quote.Hold == nil {
        return false, quote.Reason, nil
    }

    hold := *quote.Hold
    res, err := a.alloc.AtomicConfirmAndTransition(ctx, capacity.AtomicConfirmInput{
        BookingID:      bookingID,
        HoldID:         hold.ID,
        IdempotencyKey: fmt.Sprintf("auto:%s:%s", bookingID, hold.ID),
        Actor:          strPtr("auto-assign"),
        Reason:         "automatic table assignment",
        Metadata:       map[string]string{"source": "auto_assign", "trigger": opts.Reason},
    })
    if err != nil {
        if !errors.Is(err, capacity.ErrHoldNotFound) {
            if rerr := a.alloc.Holds().ReleaseHold(ctx, hold); rerr != nil {
                a.log.WithError(rerr).WithField("hold_id", hold.ID).Debug("auto-assign: release after failed confirm")
            }
        }
        return false, "confirm_error", err
    }
    out.HoldID = hold.ID
    out.Assignments = res.Assignments
    return true, "", nil
}

func (a *AutoAssigner) summary(ctx context.Context, rid string, out Outcome) {
    a.emit(ctx, telemetry.EventAutoAssignSummary, rid, out.BookingID, map[string]interface{}{
        "result": string(out.Result), "attempts": out.Attempts, "reason": out.LastReason,
    })
}

func (a *AutoAssigner) emit(ctx context.Context, name, rid, bookingID string, fields map[string]interface{}) {
    a.events.Emit(ctx, telemetry.Event{Name: name, RestaurantID: rid, BookingID: bookingID, At: a.now().UTC(), Fields: fields})
}

func strPtr(s string) *string { return &s }
