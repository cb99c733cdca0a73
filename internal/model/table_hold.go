package model

import "time"

// TableHold is a short-lived claim on a set of tables for a time window.
// Holds stop concurrent allocations from grabbing the same tables while a
// staff member or the auto-assign job finishes confirming.  A hold is
// ignored by conflict checks once ExpiresAt has passed.
//
// Fields:
//  ID           – primary key identifier (UUID).
//  BookingID    – booking the hold was made for (nullable until attached).
//  RestaurantID – restaurant owning the tables.
//  ZoneID       – zone of the held tables.
//  TableIDs     – member tables (table_hold_members rows).
//  StartAt      – start of the reserved block.
//  EndAt        – end of the reserved block (exclusive).
//  ExpiresAt    – when the hold stops counting.
//  CreatedBy    – actor that created the hold (nullable).
//  CreatedAt    – creation timestamp.
type TableHold struct {
    ID           string    `json:"id"`            // table_holds.id
    BookingID    *string   `json:"booking_id"`    // table_holds.booking_id (nullable)
    RestaurantID string    `json:"restaurant_id"` // table_holds.restaurant_id
    ZoneID       string    `json:"zone_id"`       // table_holds.zone_id
    TableIDs     []string  `json:"table_ids"`     // table_hold_members.table_id
    StartAt      time.Time `json:"start_at"`      // table_holds.start_at
    EndAt        time.Time `json:"end_at"`        // table_holds.end_at
    ExpiresAt    time.Time `json:"expires_at"`    // table_holds.expires_at
    CreatedBy    *string   `json:"created_by"`    // table_holds.created_by (nullable)
    CreatedAt    time.Time `json:"created_at"`    // table_holds.created_at
}

// ActiveAt reports whether the hold still counts at instant now.
func (h TableHold) ActiveAt(now time.Time) bool {
    return h.ExpiresAt.After(now)
}

// HoldConfirmation records that a hold was turned into assignments.  It is
// the replay ledger used to make confirmation idempotent after the hold
// row itself has been deleted.
type HoldConfirmation struct {
    HoldID         string    // hold_confirmations.hold_id
    BookingID      string    // hold_confirmations.booking_id
    IdempotencyKey string    // hold_confirmations.idempotency_key
    MergeGroupID   *string   // hold_confirmations.merge_group_id (nullable)
    ConfirmedAt    time.Time // hold_confirmations.confirmed_at
}
