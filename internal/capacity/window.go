package capacity

import (
    "fmt"
    "math"
    "strings"
    "time"
)

// Block is a half-open time interval [Start, End).
type Block struct {
    Start time.Time `json:"start"`
    End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open blocks intersect.
func (b Block) Overlaps(o Block) bool {
    return b.Start.Before(o.End) && o.Start.Before(b.End)
}

// BookingWindow is the derived reservation window of a booking.  Dining
// is the guest's seated time; Block is Dining widened by the service
// buffers and is what holds and assignments reserve.
type BookingWindow struct {
    Service             ServiceKey `json:"service"`
    DurationMinutes     int        `json:"duration_minutes"`
    Dining              Block      `json:"dining"`
    Block               Block      `json:"block"`
    ClampedToServiceEnd bool       `json:"clamped_to_service_end"`
    DurationClamped     bool       `json:"duration_clamped"`
    UsedFallbackService bool       `json:"used_fallback_service"`
}

// WindowInput carries the booking fields the window depends on.  StartAt
// wins over BookingDate/StartTime when set.  A zero DurationMinutes means
// "use the service turn band".
type WindowInput struct {
    BookingDate     string
    StartTime       string
    StartAt         *time.Time
    DurationMinutes int
    PartySize       int
    ServiceHint     ServiceKey
}

// ComputeWindow derives the reserved block for a booking under policy.
// Unparsable input yields an *InputError; a booking that cannot fit
// before service end yields a *ServiceOverrunError.
func ComputeWindow(in WindowInput, policy VenuePolicy) (BookingWindow, error) {
    loc, err := time.LoadLocation(policy.Timezone)
    if err != nil {
        return BookingWindow{}, &InputError{Code: "INVALID_TIMEZONE", Message: fmt.Sprintf("unknown timezone %q", policy.Timezone)}
    }
    start, err := resolveStart(in, loc)
    if err != nil {
        return BookingWindow{}, err
    }

    service, fallback, err := resolveService(start, in.ServiceHint, policy)
    if err != nil {
        return BookingWindow{}, err
    }

    w := BookingWindow{Service: service.Key, UsedFallbackService: fallback}

    minutes := in.DurationMinutes
    if minutes <= 0 {
        minutes = service.bandDuration(in.PartySize)
    }
    if minutes <= 0 {
        minutes = policy.DefaultDurationMinutes
    }
    if policy.MaxDurationMinutes > 0 && minutes > policy.MaxDurationMinutes && policy.ClampedDurationMinutes > 0 {
        minutes = policy.ClampedDurationMinutes
        w.DurationClamped = true
    }

    _, serviceEnd, err := service.bounds(start)
    if err != nil {
        return BookingWindow{}, err
    }
    if service.LastSeatingBufferMinutes > 0 && !service.AllowOverrun {
        lastSeating := serviceEnd.Add(-time.Duration(service.LastSeatingBufferMinutes) * time.Minute)
        if start.After(lastSeating) {
            return BookingWindow{}, &ServiceOverrunError{Service: service.Key, Attempted: start, ServiceEnd: serviceEnd}
        }
    }

    pre := time.Duration(service.BufferPreMinutes) * time.Minute
    post := time.Duration(service.BufferPostMinutes) * time.Minute
    diningEnd := start.Add(time.Duration(minutes) * time.Minute)
    blockStart := start.Add(-pre)
    blockEnd := diningEnd.Add(post)

    if !service.AllowOverrun && blockEnd.After(serviceEnd) {
        attempted := blockEnd
        blockEnd = serviceEnd
        diningEnd = blockEnd.Add(-post)
        if !diningEnd.After(start) {
            return BookingWindow{}, &ServiceOverrunError{Service: service.Key, Attempted: attempted, ServiceEnd: serviceEnd}
        }
        w.ClampedToServiceEnd = true
    }

    w.Dining = Block{Start: start, End: diningEnd}
    w.Block = Block{Start: blockStart, End: blockEnd}
    w.DurationMinutes = int(math.Max(1, math.Round(diningEnd.Sub(start).Minutes())))
    return w, nil
}

func resolveStart(in WindowInput, loc *time.Location) (time.Time, error) {
    if in.StartAt != nil && !in.StartAt.IsZero() {
        return in.StartAt.In(loc), nil
    }
    date := strings.TrimSpace(in.BookingDate)
    clock := strings.TrimSpace(in.StartTime)
    if date == "" || clock == "" {
        return time.Time{}, &InputError{Code: "START_TIME_REQUIRED", Message: "booking date and start time are required"}
    }
    layout := "2006-01-02 15:04"
    if strings.Count(clock, ":") == 2 {
        layout = "2006-01-02 15:04:05"
    }
    t, err := time.ParseInLocation(layout, date+" "+clock, loc)
    if err != nil {
        return time.Time{}, &InputError{Code: "INVALID_START", Message: fmt.Sprintf("invalid booking date/time %q %q", date, clock)}
    }
    return t, nil
}

// resolveService returns the hinted service, the first service whose
// window contains start, or (unless the policy fails hard) the first
// configured service as a fallback.
func resolveService(start time.Time, hint ServiceKey, policy VenuePolicy) (ServicePolicy, bool, error) {
    if hint != "" {
        if s, ok := policy.Service(hint); ok {
            return s, false, nil
        }
    }
    for _, s := range policy.Services {
        from, to, err := s.bounds(start)
        if err != nil {
            return ServicePolicy{}, false, err
        }
        if !start.Before(from) && start.Before(to) {
            return s, false, nil
        }
    }
    if policy.FailHardOnMissingService || len(policy.Services) == 0 {
        return ServicePolicy{}, false, fmt.Errorf("%w: %s", ErrServiceNotFound, start.Format(time.RFC3339))
    }
    return policy.Services[0], true, nil
}
