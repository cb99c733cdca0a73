// Package telemetry carries allocation events to best-effort sinks: the
// log, Prometheus counters and the message broker.  Emitting never fails
// from the caller's point of view.
package telemetry

import (
    "context"
    "time"

    "github.com/sirupsen/logrus"
)

// Event names emitted by the allocation core.
const (
    EventHoldCreated     = "hold.created"
    EventHoldConfirmed   = "hold.confirmed"
    EventHoldReleased    = "hold.released"
    EventHoldsSwept      = "hold.swept"
    EventSelectorQuote   = "selector.quote"
    EventSelectorSkipped = "selector.skipped"
    EventRPCConflict     = "rpc.conflict"

    EventAutoAssignStarted       = "auto_assign.started"
    EventAutoAssignAttempt       = "auto_assign.attempt"
    EventAutoAssignAttemptError  = "auto_assign.attempt_error"
    EventAutoAssignCutoffSkipped = "auto_assign.cutoff_skipped"
    EventAutoAssignSucceeded     = "auto_assign.succeeded"
    EventAutoAssignFailed        = "auto_assign.failed"
    EventAutoAssignSummary       = "auto_assign.summary"
)

// Event is one structured allocation event.
type Event struct {
    Name         string                 `json:"event"`
    RestaurantID string                 `json:"restaurant_id,omitempty"`
    BookingID    string                 `json:"booking_id,omitempty"`
    At           time.Time              `json:"at"`
    Fields       map[string]interface{} `json:"fields,omitempty"`
}

// Emitter delivers events.  Implementations must not block for long and
// must swallow their own failures.
type Emitter interface {
    Emit(ctx context.Context, e Event)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(context.Context, Event) {}

// Multi fans an event out to several emitters.  A panicking sink is
// logged and skipped so the others still receive the event.
type Multi struct {
    Sinks []Emitter
    Log   *logrus.Entry
}

// NewMulti returns a fan-out emitter over the non-nil sinks.
func NewMulti(log *logrus.Entry, sinks ...Emitter) *Multi {
    m := &Multi{Log: log}
    for _, s := range sinks {
        if s != nil {
            m.Sinks = append(m.Sinks, s)
        }
    }
    return m
}

func (m *Multi) Emit(ctx context.Context, e Event) {
    if e.At.IsZero() {
        e.At = time.Now().UTC()
    }
    for _, s := range m.Sinks {
        m.emitOne(ctx, s, e)
    }
}

func (m *Multi) emitOne(ctx context.Context, s Emitter, e Event) {
    defer func() {
        if r := recover(); r != nil && m.Log != nil {
            m.Log.WithField("event", e.Name).Errorf("telemetry: sink panicked: %v", r)
        }
    }()
    s.Emit(ctx, e)
}

// LogEmitter writes every event as one structured log line.
type LogEmitter struct {
    Log *logrus.Entry
}

func (l LogEmitter) Emit(_ context.Context, e Event) {
    if l.Log == nil {
        return
    }
    fields := logrus.Fields{"event": e.Name}
    if e.RestaurantID != "" {
        fields["restaurant_id"] = e.RestaurantID
    }
    if e.BookingID != "" {
        fields["booking_id"] = e.BookingID
    }
    for k, v := range e.Fields {
        fields[k] = v
    }
    entry := l.Log.WithFields(fields)
    switch e.Name {
    case EventRPCConflict, EventAutoAssignAttemptError, EventAutoAssignFailed:
        entry.Warn("allocation event")
    default:
        entry.Info("allocation event")
    }
}
