package capacity

import (
    "context"
    "fmt"
    "sort"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
)

const minutesPerDay = 24 * 60

// Sources a demand multiplier can come from, in lookup order.
const (
    DemandSourceRestaurant = "restaurant"
    DemandSourcePolicy     = "policy"
    DemandSourceDefault    = "default"
    DemandSourceFallback   = "fallback"
)

// embeddedDemandRules apply when neither the restaurant nor the policy
// file defines a matching rule.
var embeddedDemandRules = []DemandRuleConfig{
    {Label: "weekday-lunch", Service: "lunch", Days: []string{"monday", "tuesday", "wednesday", "thursday", "friday"}, Start: "11:30", End: "14:30", Multiplier: 0.85},
    {Label: "weekday-dinner", Service: "dinner", Days: []string{"monday", "tuesday", "wednesday", "thursday"}, Start: "17:30", End: "21:30", Multiplier: 1.15},
    {Label: "weekend-dinner-peak", Service: "dinner", Days: []string{"friday", "saturday"}, Start: "18:00", End: "22:30", Multiplier: 1.35},
    {Label: "weekend-brunch", Service: "lunch", Days: []string{"saturday", "sunday"}, Start: "10:00", End: "13:00", Multiplier: 1.1},
}

// DemandResult is a resolved multiplier with the rule that produced it.
type DemandResult struct {
    Multiplier float64 `json:"multiplier"`
    Label      string  `json:"label,omitempty"`
    Source     string  `json:"source"`
}

var weekdayNames = map[string]int{
    "sunday": 0, "sun": 0,
    "monday": 1, "mon": 1,
    "tuesday": 2, "tue": 2,
    "wednesday": 3, "wed": 3,
    "thursday": 4, "thu": 4,
    "friday": 5, "fri": 5,
    "saturday": 6, "sat": 6,
}

func (r DemandRuleConfig) toModel() (model.DemandRule, error) {
    out := model.DemandRule{Label: r.Label, Service: strings.ToLower(r.Service), Multiplier: r.Multiplier, Priority: r.Priority}
    for _, d := range r.Days {
        n, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
        if !ok {
            return model.DemandRule{}, fmt.Errorf("unknown weekday %q", d)
        }
        out.Days = append(out.Days, n)
    }
    out.StartMinute, out.EndMinute = 0, minutesPerDay
    if r.Start != "" {
        m, err := parseClock(r.Start)
        if err != nil {
            return model.DemandRule{}, err
        }
        out.StartMinute = m
    }
    if r.End != "" {
        m, err := parseClock(r.End)
        if err != nil {
            return model.DemandRule{}, err
        }
        out.EndMinute = m
    }
    // an end at or before start covers the rest of the day
    if out.EndMinute <= out.StartMinute {
        out.EndMinute = minutesPerDay
    }
    if r.Multiplier <= 0 {
        return model.DemandRule{}, fmt.Errorf("multiplier must be positive")
    }
    return out, nil
}

func convertRules(in []DemandRuleConfig) []model.DemandRule {
    out := make([]model.DemandRule, 0, len(in))
    for _, r := range in {
        if m, err := r.toModel(); err == nil {
            out = append(out, m)
        }
    }
    return out
}

// MatchDemandRule picks the best rule for a service at a local instant:
// highest priority first, then the narrowest window, then the earliest
// start.
func MatchDemandRule(rules []model.DemandRule, service ServiceKey, at time.Time) (model.DemandRule, bool) {
    dow := int(at.Weekday())
    minute := at.Hour()*60 + at.Minute()
    var matching []model.DemandRule
    for _, r := range rules {
        if r.Service != "" && !strings.EqualFold(r.Service, string(service)) {
            continue
        }
        if len(r.Days) > 0 && !containsInt(r.Days, dow) {
            continue
        }
        if minute < r.StartMinute || minute >= r.EndMinute {
            continue
        }
        matching = append(matching, r)
    }
    if len(matching) == 0 {
        return model.DemandRule{}, false
    }
    sort.SliceStable(matching, func(i, j int) bool {
        a, b := matching[i], matching[j]
        if a.Priority != b.Priority {
            return a.Priority > b.Priority
        }
        if da, db := a.EndMinute-a.StartMinute, b.EndMinute-b.StartMinute; da != db {
            return da < db
        }
        return a.StartMinute < b.StartMinute
    })
    return matching[0], true
}

// demandMultiplier resolves the multiplier for a window from restaurant
// rules, then policy rules, then the embedded defaults, caching the
// answer per restaurant, weekday, service and minute.
func (a *Allocator) demandMultiplier(ctx context.Context, restaurantID string, policy VenuePolicy, w BookingWindow) DemandResult {
    at := w.Dining.Start
    key := fmt.Sprintf("demand:%s|%d|%s|%d", restaurantID, int(at.Weekday()), w.Service, at.Hour()*60+at.Minute())
    if a.cache != nil {
        var cached DemandResult
        if hit, err := a.cache.GetJSON(ctx, key, &cached); err == nil && hit {
            return cached
        }
    }

    res := DemandResult{Multiplier: 1, Source: DemandSourceFallback}
    rules, err := a.store.ListDemandRules(ctx, restaurantID)
    if err != nil {
        a.log.WithError(err).WithField("restaurant_id", restaurantID).Warn("demand: failed to load restaurant rules")
    }
    if r, ok := MatchDemandRule(rules, w.Service, at); ok {
        res = DemandResult{Multiplier: r.Multiplier, Label: r.Label, Source: DemandSourceRestaurant}
    } else if r, ok := MatchDemandRule(convertRules(policy.DemandRules), w.Service, at); ok {
        res = DemandResult{Multiplier: r.Multiplier, Label: r.Label, Source: DemandSourcePolicy}
    } else if r, ok := MatchDemandRule(convertRules(embeddedDemandRules), w.Service, at); ok {
        res = DemandResult{Multiplier: r.Multiplier, Label: r.Label, Source: DemandSourceDefault}
    }

    if a.cache != nil {
        if err := a.cache.SetJSON(ctx, key, res, a.cfg.DemandTTL); err != nil {
            a.log.WithError(err).Debug("demand: cache write failed")
        }
    }
    a.log.WithFields(logrus.Fields{"restaurant_id": restaurantID, "service": w.Service, "multiplier": res.Multiplier, "source": res.Source}).
        Debug("demand: multiplier resolved")
    return res
}

func containsInt(xs []int, v int) bool {
    for _, x := range xs {
        if x == v {
            return true
        }
    }
    return false
}
