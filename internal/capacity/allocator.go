package capacity

import (
    "context"
    "errors"
    "io"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// Config is the allocator configuration.  It is built once at start-up
// (see config.LoadAllocatorConfig) and passed in explicitly.
type Config struct {
    Policy            VenuePolicy
    Selector          SelectorConfig
    HoldTTL           time.Duration
    QuoteHoldAttempts int
    ScarcityTTL       time.Duration
    DemandTTL         time.Duration
    SweepLimit        int
}

// DefaultConfig returns the default policy and selector with a 180s hold
// TTL, three hold attempts per quote and five minute cache TTLs.
func DefaultConfig() Config {
    return Config{
        Policy:            DefaultPolicy(),
        Selector:          DefaultSelectorConfig(),
        HoldTTL:           180 * time.Second,
        QuoteHoldAttempts: 3,
        ScarcityTTL:       defaultCacheTTL,
        DemandTTL:         defaultCacheTTL,
        SweepLimit:        100,
    }
}

// Allocator exposes the allocation operations: quote, confirm, manual
// sessions and hold housekeeping.
type Allocator struct {
    store  Store
    cfg    Config
    cache  Cache
    events telemetry.Emitter
    log    *logrus.Entry
    now    func() time.Time
    holds  *HoldManager
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithCache enables the shared cache for scarcity and demand lookups.
func WithCache(c Cache) Option { return func(a *Allocator) { a.cache = c } }

// WithEmitter sets the telemetry sink.
func WithEmitter(e telemetry.Emitter) Option { return func(a *Allocator) { a.events = e } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option { return func(a *Allocator) { a.log = l } }

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(a *Allocator) { a.now = now } }

// New builds an Allocator over store.
func New(store Store, cfg Config, opts ...Option) *Allocator {
    def := DefaultConfig()
    if cfg.HoldTTL <= 0 {
        cfg.HoldTTL = def.HoldTTL
    }
    if cfg.QuoteHoldAttempts <= 0 {
        cfg.QuoteHoldAttempts = def.QuoteHoldAttempts
    }
    if cfg.ScarcityTTL <= 0 {
        cfg.ScarcityTTL = def.ScarcityTTL
    }
    if cfg.DemandTTL <= 0 {
        cfg.DemandTTL = def.DemandTTL
    }
    if cfg.SweepLimit <= 0 {
        cfg.SweepLimit = def.SweepLimit
    }
    if len(cfg.Policy.Services) == 0 {
        cfg.Policy = def.Policy
    }
    if cfg.Policy.Weights != nil {
        cfg.Selector.Weights = *cfg.Policy.Weights
    }
    a := &Allocator{store: store, cfg: cfg, events: telemetry.Noop{}, now: time.Now}
    for _, o := range opts {
        o(a)
    }
    if a.log == nil {
        l := logrus.New()
        l.SetOutput(io.Discard)
        a.log = logrus.NewEntry(l)
    }
    if a.events == nil {
        a.events = telemetry.Noop{}
    }
    a.holds = &HoldManager{store: store, events: a.events, log: a.log, now: a.now, ttl: cfg.HoldTTL}
    return a
}

// Holds returns the hold manager sharing this allocator's store and
// telemetry.
func (a *Allocator) Holds() *HoldManager { return a.holds }

// Config returns the effective configuration.
func (a *Allocator) Config() Config { return a.cfg }

func (a *Allocator) emit(ctx context.Context, name, restaurantID, bookingID string, fields map[string]interface{}) {
    a.events.Emit(ctx, telemetry.Event{
        Name:         name,
        RestaurantID: restaurantID,
        BookingID:    bookingID,
        At:           a.now().UTC(),
        Fields:       fields,
    })
}

// bookingContext is the per-call snapshot most operations start from.
type bookingContext struct {
    booking model.Booking
    policy  VenuePolicy
    window  BookingWindow
}

func (a *Allocator) loadBooking(ctx context.Context, bookingID string) (bookingContext, error) {
    booking, err := a.store.GetBooking(ctx, bookingID)
    if err != nil {
        return bookingContext{}, err
    }
    policy := a.cfg.Policy
    restaurant, err := a.store.GetRestaurant(ctx, booking.RestaurantID)
    switch {
    case err == nil:
        policy = policy.WithTimezone(restaurant.Timezone)
    case errors.Is(err, repository.ErrNotFound):
    default:
        return bookingContext{}, err
    }
    window, err := ComputeWindow(WindowInput{
        BookingDate:     booking.BookingDate,
        StartTime:       booking.StartTime,
        StartAt:         booking.StartAt,
        DurationMinutes: booking.DurationMinutes,
        PartySize:       booking.PartySize,
    }, policy)
    if err != nil {
        return bookingContext{}, err
    }
    if window.DurationClamped {
        a.log.WithFields(logrus.Fields{"booking_id": booking.ID, "requested_minutes": booking.DurationMinutes, "clamped_minutes": window.DurationMinutes}).
            Warn("window: booking duration clamped")
    }
    if window.UsedFallbackService {
        a.log.WithFields(logrus.Fields{"booking_id": booking.ID, "service": window.Service}).
            Warn("window: no service matched start, using fallback service")
    }
    return bookingContext{booking: booking, policy: policy, window: window}, nil
}

// Booking reads a booking straight from the store.
func (a *Allocator) Booking(ctx context.Context, bookingID string) (model.Booking, error) {
    return a.store.GetBooking(ctx, bookingID)
}

// BookingWindow returns the booking and its derived window under the
// restaurant's policy.
func (a *Allocator) BookingWindow(ctx context.Context, bookingID string) (model.Booking, BookingWindow, error) {
    bc, err := a.loadBooking(ctx, bookingID)
    if err != nil {
        return model.Booking{}, BookingWindow{}, err
    }
    return bc.booking, bc.window, nil
}

// occupancy returns the active holds of other bookings and every
// assignment overlapping the block, plus the set of tables they cover.
func (a *Allocator) occupancy(ctx context.Context, booking model.Booking, block Block) ([]model.TableHold, []model.Assignment, map[string]struct{}, error) {
    holds, err := a.store.ListActiveHolds(ctx, booking.RestaurantID, block.Start, block.End, a.now())
    if err != nil {
        return nil, nil, nil, err
    }
    assignments, err := a.store.ListAssignments(ctx, booking.RestaurantID, block.Start, block.End)
    if err != nil {
        return nil, nil, nil, err
    }
    busy := make(map[string]struct{})
    others := holds[:0:0]
    for _, h := range holds {
        if h.BookingID != nil && *h.BookingID == booking.ID {
            continue
        }
        others = append(others, h)
        for _, id := range h.TableIDs {
            busy[id] = struct{}{}
        }
    }
    for _, as := range assignments {
        busy[as.TableID] = struct{}{}
    }
    return others, assignments, busy, nil
}

// SweepExpiredHolds deletes up to the configured number of expired holds.
func (a *Allocator) SweepExpiredHolds(ctx context.Context) ([]string, error) {
    return a.holds.SweepExpired(ctx, a.cfg.SweepLimit)
}

// ClearAssignments removes every assignment of a booking; used when the
// booking is modified or cancelled.
func (a *Allocator) ClearAssignments(ctx context.Context, bookingID string) (int, error) {
    n, err := a.store.ClearAssignments(ctx, bookingID)
    if err != nil {
        return 0, err
    }
    a.log.WithFields(logrus.Fields{"booking_id": bookingID, "removed": n}).Info("assignments cleared")
    return n, nil
}
