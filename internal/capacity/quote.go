package capacity

import (
    "context"
    "errors"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// QuoteRequest asks for a seating plan and a hold on it.  Nil pointers
// keep the configured defaults.
type QuoteRequest struct {
    BookingID        string
    CreatedBy        *string
    HoldTTLSeconds   int
    RequireAdjacency *bool
    MaxTables        *int
}

// QuoteResult carries the held plan, if any, the remaining ranked plans
// and, when nothing could be held, the reason and its classification.
type QuoteResult struct {
    Hold        *model.TableHold `json:"hold,omitempty"`
    Plan        *CandidatePlan   `json:"plan,omitempty"`
    Alternates  []CandidatePlan  `json:"alternates"`
    Reason      string           `json:"reason,omitempty"`
    Rejection   RejectionKind    `json:"rejection"`
    Diagnostics PlanDiagnostics  `json:"diagnostics"`
    Window      BookingWindow    `json:"window"`
    Demand      DemandResult     `json:"demand"`
}

const reasonHoldConflicts = "Every candidate plan is currently held."

// Quote plans seating for a booking and tries to hold the best plan,
// moving down the ranking when a plan's tables were just taken.  The new
// hold replaces the booking's existing holds in the same store operation.
func (a *Allocator) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
    bc, err := a.loadBooking(ctx, req.BookingID)
    if err != nil {
        return QuoteResult{}, err
    }
    booking := bc.booking
    tables, err := a.store.ListTables(ctx, booking.RestaurantID)
    if err != nil {
        return QuoteResult{}, err
    }
    edges, err := a.store.ListAdjacency(ctx, booking.RestaurantID)
    if err != nil {
        return QuoteResult{}, err
    }
    _, _, busy, err := a.occupancy(ctx, booking, bc.window.Block)
    if err != nil {
        return QuoteResult{}, err
    }

    cfg := a.cfg.Selector
    if req.RequireAdjacency != nil {
        cfg.RequireAdjacency = *req.RequireAdjacency
    }
    if req.MaxTables != nil && *req.MaxTables > 0 {
        cfg.MaxTables = *req.MaxTables
    }
    demand := a.demandMultiplier(ctx, booking.RestaurantID, bc.policy, bc.window)
    plan := PlanCandidates(PlannerInput{
        PartySize:        booking.PartySize,
        Tables:           tables,
        Adjacency:        NewAdjacencyGraph(edges),
        Busy:             busy,
        Scarcity:         a.scarcityScores(ctx, booking.RestaurantID, tables),
        DemandMultiplier: demand.Multiplier,
        Config:           cfg,
        Clock:            a.now,
    })

    res := QuoteResult{
        Alternates:  plan.Plans,
        Rejection:   plan.Rejection,
        Reason:      plan.Reason,
        Diagnostics: plan.Diagnostics,
        Window:      bc.window,
        Demand:      demand,
    }
    fields := map[string]interface{}{
        "party_size":      booking.PartySize,
        "service":         string(bc.window.Service),
        "plans":           len(plan.Plans),
        "planner_seconds": plan.Diagnostics.Elapsed.Seconds(),
        "truncated":       plan.Diagnostics.Truncated,
        "demand":          demand.Multiplier,
    }
    if len(plan.Plans) == 0 {
        fields["rejection"] = string(plan.Rejection)
        fields["reason"] = plan.Reason
        fields["skipped"] = plan.Diagnostics.Skipped
        a.emit(ctx, telemetry.EventSelectorSkipped, booking.RestaurantID, booking.ID, fields)
        return res, nil
    }

    ttl := a.cfg.HoldTTL
    if req.HoldTTLSeconds > 0 {
        ttl = secondsDuration(req.HoldTTLSeconds)
    }
    bookingID := booking.ID
    replace, err := a.ownHoldIDs(ctx, booking.ID)
    if err != nil {
        return QuoteResult{}, err
    }
    attempts := a.cfg.QuoteHoldAttempts
    for i := 0; i < len(plan.Plans) && i < attempts; i++ {
        candidate := plan.Plans[i]
        hold, err := a.holds.CreateHold(ctx, CreateHoldInput{
            BookingID:    &bookingID,
            RestaurantID: booking.RestaurantID,
            ZoneID:       candidate.ZoneID,
            TableIDs:     candidate.TableIDs,
            Window:       bc.window.Block,
            TTL:          ttl,
            CreatedBy:    req.CreatedBy,
            Replace:      replace,
        })
        var conflict *HoldConflictError
        if errors.As(err, &conflict) {
            a.log.WithFields(logrus.Fields{"booking_id": booking.ID, "plan": candidate.Key}).Debug("quote: plan held elsewhere, trying next")
            continue
        }
        if err != nil {
            return QuoteResult{}, err
        }
        res.Hold = &hold
        res.Plan = &candidate
        res.Alternates = withoutPlan(plan.Plans, candidate.Key)
        res.Reason = ""
        res.Rejection = RejectionNone
        fields["hold_id"] = hold.ID
        fields["plan"] = candidate.Key
        fields["score"] = candidate.Score
        a.emit(ctx, telemetry.EventSelectorQuote, booking.RestaurantID, booking.ID, fields)
        return res, nil
    }

    res.Reason = reasonHoldConflicts
    res.Rejection = RejectionStrategic
    fields["rejection"] = string(res.Rejection)
    fields["reason"] = res.Reason
    a.emit(ctx, telemetry.EventSelectorSkipped, booking.RestaurantID, booking.ID, fields)
    return res, nil
}

// ownHoldIDs lists the booking's active holds.  A new quote or manual hold
// replaces exactly these; a hold placed concurrently after this read is
// not touched and conflicts if it covers the same tables.
func (a *Allocator) ownHoldIDs(ctx context.Context, bookingID string) ([]string, error) {
    holds, err := a.holds.ListActiveHolds(ctx, bookingID)
    if err != nil {
        return nil, err
    }
    ids := make([]string, 0, len(holds))
    for _, h := range holds {
        ids = append(ids, h.ID)
    }
    return ids, nil
}

func withoutPlan(plans []CandidatePlan, key string) []CandidatePlan {
    out := make([]CandidatePlan, 0, len(plans))
    for _, p := range plans {
        if p.Key != key {
            out = append(out, p)
        }
    }
    return out
}

func secondsDuration(n int) time.Duration { return time.Duration(n) * time.Second }
