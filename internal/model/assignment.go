package model

import "time"

// Assignment permanently links a table to a booking for a time window.
// Tables assigned together to one party share a MergeGroupID; a single
// table assignment has none.  Rows are written only by hold confirmation.
type Assignment struct {
    ID             string    // booking_table_assignments.id
    BookingID      string    // booking_table_assignments.booking_id
    TableID        string    // booking_table_assignments.table_id
    StartAt        time.Time // booking_table_assignments.start_at
    EndAt          time.Time // booking_table_assignments.end_at
    MergeGroupID   *string   // booking_table_assignments.merge_group_id (nullable)
    IdempotencyKey string    // booking_table_assignments.idempotency_key
    AssignedBy     *string   // booking_table_assignments.assigned_by (nullable)
    CreatedAt      time.Time // booking_table_assignments.created_at
}
