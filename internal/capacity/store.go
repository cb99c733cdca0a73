// Package capacity is the table allocation core: it turns a booking and
// a restaurant's table inventory into ranked seating plans, reserves a
// plan with a short-lived hold and commits the hold into permanent
// assignments together with the booking's status change.
//
// All coordination between concurrent callers happens in the Store.  The
// package keeps no locks of its own beyond small caches.
package capacity

import (
    "context"
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

// Store is the transactional store used by the allocator.  CreateHold,
// ConfirmHold and BumpSessionVersion must each be atomic; everything else
// is a plain read or a best-effort delete.
type Store interface {
    GetBooking(ctx context.Context, id string) (model.Booking, error)
    GetRestaurant(ctx context.Context, id string) (model.Restaurant, error)
    ListTables(ctx context.Context, restaurantID string) ([]model.Table, error)
    ListAdjacency(ctx context.Context, restaurantID string) ([]model.AdjacencyEdge, error)
    ListDemandRules(ctx context.Context, restaurantID string) ([]model.DemandRule, error)
    ListScarcityMetrics(ctx context.Context, restaurantID string) (map[string]float64, error)

    ListActiveHolds(ctx context.Context, restaurantID string, start, end, now time.Time) ([]model.TableHold, error)
    ListHoldsForBooking(ctx context.Context, bookingID string, now time.Time) ([]model.TableHold, error)
    GetHold(ctx context.Context, holdID string) (model.TableHold, error)
    CreateHold(ctx context.Context, hold model.TableHold, replace []string, now time.Time) (model.TableHold, error)
    DeleteHold(ctx context.Context, holdID string) error
    SweepExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error)

    ListAssignments(ctx context.Context, restaurantID string, start, end time.Time) ([]model.Assignment, error)
    ListAssignmentsForBooking(ctx context.Context, bookingID string) ([]model.Assignment, error)
    ConfirmHold(ctx context.Context, p repository.ConfirmHoldParams) (repository.ConfirmHoldResult, error)
    GetConfirmation(ctx context.Context, bookingID, idempotencyKey string) (model.HoldConfirmation, error)
    ClearAssignments(ctx context.Context, bookingID string) (int, error)

    GetOrCreateSession(ctx context.Context, sess model.ManualSession) (model.ManualSession, error)
    BumpSessionVersion(ctx context.Context, sessionID string, expected int64, contextVersion string) (model.ManualSession, error)
}

// Cache is the optional shared cache for derived inputs such as scarcity
// scores and demand multipliers.  A miss is reported as (false, nil).
type Cache interface {
    GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
    SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}
