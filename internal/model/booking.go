package model

import "time"

// BookingStatus is the lifecycle state of a booking.  The allocator reads
// it and moves pending bookings to confirmed; other transitions belong to
// the booking lifecycle outside this service.
type BookingStatus string

const (
    StatusPending           BookingStatus = "pending"
    StatusPendingAllocation BookingStatus = "pending_allocation"
    StatusConfirmed         BookingStatus = "confirmed"
    StatusCompleted         BookingStatus = "completed"
    StatusCancelled         BookingStatus = "cancelled"
    StatusNoShow            BookingStatus = "no_show"
)

// Allocatable reports whether a booking in this status may still receive
// an automatic table assignment.
func (s BookingStatus) Allocatable() bool {
    return s == StatusPending || s == StatusPendingAllocation
}

// Terminal reports whether the status ends the booking lifecycle.
func (s BookingStatus) Terminal() bool {
    return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Booking is the subset of a booking record consumed by the allocator.
//
// Fields:
//  ID                – primary key identifier.
//  RestaurantID      – restaurant the booking belongs to.
//  BookingDate       – local date, YYYY-MM-DD.
//  StartTime         – local start time, HH:MM (seconds tolerated).
//  DurationMinutes   – requested duration; 0 means use policy.
//  PartySize         – number of guests.
//  SeatingPreference – guest preference (any, indoor, ...).
//  Status            – current lifecycle status.
//  StartAt           – absolute start instant when already resolved.
//  CheckedInAt       – check-in timestamp (nullable).
//  CheckedOutAt      – check-out timestamp (nullable).
type Booking struct {
    ID                string        // bookings.id
    RestaurantID      string        // bookings.restaurant_id
    BookingDate       string        // bookings.booking_date
    StartTime         string        // bookings.start_time
    DurationMinutes   int           // bookings.duration_minutes
    PartySize         int           // bookings.party_size
    SeatingPreference string        // bookings.seating_preference
    Status            BookingStatus // bookings.status
    StartAt           *time.Time    // bookings.start_at (nullable)
    CheckedInAt       *time.Time    // bookings.checked_in_at (nullable)
    CheckedOutAt      *time.Time    // bookings.checked_out_at (nullable)
    UpdatedAt         time.Time     // bookings.updated_at
}

// StatusHistory is one row of the booking state history log.
type StatusHistory struct {
    ID         uint64            // booking_state_history.id
    BookingID  string            // booking_state_history.booking_id
    FromStatus BookingStatus     // booking_state_history.from_status
    ToStatus   BookingStatus     // booking_state_history.to_status
    ChangedBy  *string           // booking_state_history.changed_by (nullable)
    ChangedAt  time.Time         // booking_state_history.changed_at
    Reason     string            // booking_state_history.reason
    Metadata   map[string]string // booking_state_history.metadata (JSON)
}
