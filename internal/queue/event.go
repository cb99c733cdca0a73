// Package queue defines message payloads exchanged over the message broker
// and the consumers that process them.
package queue

import (
    "time"

    "github.com/iliyamo/table-allocation/internal/telemetry"
)

// Queue names.  Both are durable.
const (
    EventsQueue     = "allocation.events"
    AutoAssignQueue = "allocation.auto_assign"
)

// AllocationEvent is the broker form of a telemetry event.  It carries
// enough for downstream consumers to log or aggregate without querying
// the primary database.
type AllocationEvent struct {
    Name         string                 `json:"name"`
    RestaurantID string                 `json:"restaurant_id,omitempty"`
    BookingID    string                 `json:"booking_id,omitempty"`
    At           string                 `json:"at"`
    Fields       map[string]interface{} `json:"fields,omitempty"`
}

// FromTelemetry converts an in-process event for publishing.
func FromTelemetry(ev telemetry.Event) AllocationEvent {
    at := ev.At
    if at.IsZero() {
        at = time.Now()
    }
    return AllocationEvent{
        Name:         ev.Name,
        RestaurantID: ev.RestaurantID,
        BookingID:    ev.BookingID,
        At:           at.UTC().Format(time.RFC3339Nano),
        Fields:       ev.Fields,
    }
}

// AutoAssignRequest asks the worker pool to seat a booking.  Reason is
// "creation" or "modification".
type AutoAssignRequest struct {
    BookingID        string `json:"booking_id"`
    Reason           string `json:"reason"`
    RequireAdjacency *bool  `json:"require_adjacency,omitempty"`
    MaxTables        *int   `json:"max_tables,omitempty"`
    RequestedBy      string `json:"requested_by,omitempty"`
    RequestedAt      string `json:"requested_at"`
}
