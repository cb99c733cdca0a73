package model

import "time"

// ManualSession is the per-booking workspace used by staff when choosing
// tables by hand.  SelectionVersion only ever increases; it is advanced
// with a compare-and-swap at the store so that two staff members acting on
// the same booking cannot both win.
type ManualSession struct {
    ID               string    `json:"id"`                // manual_assignment_sessions.id
    BookingID        string    `json:"booking_id"`        // manual_assignment_sessions.booking_id
    RestaurantID     string    `json:"restaurant_id"`     // manual_assignment_sessions.restaurant_id
    SelectionVersion int64     `json:"selection_version"` // manual_assignment_sessions.selection_version
    ContextVersion   string    `json:"context_version"`   // manual_assignment_sessions.context_version
    CreatedBy        *string   `json:"created_by"`        // manual_assignment_sessions.created_by (nullable)
    CreatedAt        time.Time `json:"created_at"`        // manual_assignment_sessions.created_at
    UpdatedAt        time.Time `json:"updated_at"`        // manual_assignment_sessions.updated_at
}
