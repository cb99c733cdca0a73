package capacity

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
)

// TableType is the key scarcity metrics are stored under:
// "capacity:N|category:x|seating:y".
func TableType(t model.Table) string {
    category := strings.ToLower(strings.TrimSpace(t.Category))
    if category == "" {
        category = "uncategorized"
    }
    seating := strings.ToLower(strings.TrimSpace(t.SeatingType))
    if seating == "" {
        seating = "standard"
    }
    return fmt.Sprintf("capacity:%d|category:%s|seating:%s", maxInt(t.Capacity, 0), category, seating)
}

// scarcityDemandWeight is the heuristic demand weight of a capacity
// bracket; small tables are in the highest demand.
func scarcityDemandWeight(capacity int) float64 {
    switch {
    case capacity <= 0:
        return 0.1
    case capacity <= 2:
        return 1.6
    case capacity <= 4:
        return 0.18
    case capacity <= 6:
        return 0.12
    default:
        return 0.08
    }
}

// HeuristicScarcity scores each table by demandWeight/seatSupply where
// seatSupply is the total seats offered by tables of the same capacity.
// Stored metrics, keyed by TableType, win when positive.
func HeuristicScarcity(tables []model.Table, metrics map[string]float64) map[string]float64 {
    supply := make(map[int]int)
    for _, t := range tables {
        if t.Capacity > 0 {
            supply[t.Capacity] += t.Capacity
        }
    }
    scores := make(map[string]float64, len(tables))
    for _, t := range tables {
        if m, ok := metrics[TableType(t)]; ok && m > 0 {
            scores[t.ID] = round4(m)
            continue
        }
        seats := supply[t.Capacity]
        if seats < 1 {
            seats = 1
        }
        scores[t.ID] = round4(scarcityDemandWeight(t.Capacity) / float64(seats))
    }
    return scores
}

// scarcityScores loads stored metrics through the cache and combines them
// with the heuristic.  A store failure falls back to the heuristic alone.
func (a *Allocator) scarcityScores(ctx context.Context, restaurantID string, tables []model.Table) map[string]float64 {
    key := "scarcity:" + restaurantID
    var metrics map[string]float64
    hit := false
    if a.cache != nil {
        var err error
        hit, err = a.cache.GetJSON(ctx, key, &metrics)
        if err != nil {
            a.log.WithError(err).WithField("restaurant_id", restaurantID).Warn("scarcity: cache read failed")
            hit = false
        }
    }
    if !hit {
        loaded, err := a.store.ListScarcityMetrics(ctx, restaurantID)
        if err != nil {
            a.log.WithError(err).WithField("restaurant_id", restaurantID).Warn("scarcity: failed to load metrics, using heuristic")
            loaded = nil
        } else if a.cache != nil {
            if err := a.cache.SetJSON(ctx, key, loaded, a.cfg.ScarcityTTL); err != nil {
                a.log.WithError(err).Debug("scarcity: cache write failed")
            }
        }
        metrics = loaded
    }
    scores := HeuristicScarcity(tables, metrics)
    a.log.WithFields(logrus.Fields{"restaurant_id": restaurantID, "tables": len(tables), "stored_metrics": len(metrics)}).
        Debug("scarcity: scores resolved")
    return scores
}

// defaultCacheTTL is used when the allocator config leaves a TTL unset.
const defaultCacheTTL = 5 * time.Minute
