package model

import "time"

// Table status and mobility values as stored in restaurant_tables.
const (
    TableStatusAvailable    = "available"
    TableStatusOutOfService = "out_of_service"

    MobilityFixed   = "fixed"
    MobilityMovable = "movable"
)

// Table describes a physical table in a restaurant.  Tables are owned by
// restaurant configuration and are read-only to the allocator.  Party size
// bounds are optional; a nil pointer means the bound is not enforced.
//
// Fields:
//  ID           – primary key identifier.
//  RestaurantID – restaurant owning the table.
//  TableNumber  – human label shown to staff (e.g. "A1").
//  Capacity     – number of seats.
//  MinPartySize – smallest party the table may seat (nullable).
//  MaxPartySize – largest party the table may seat (nullable).
//  ZoneID       – floor zone the table belongs to.
//  Mobility     – fixed or movable.
//  Status       – available, out_of_service, ...
//  Active       – whether the table is in use at all.
//  Category     – free-form category used for scarcity typing.
//  SeatingType  – free-form seating type used for scarcity typing.
type Table struct {
    ID           string    // restaurant_tables.id
    RestaurantID string    // restaurant_tables.restaurant_id
    TableNumber  string    // restaurant_tables.table_number
    Capacity     int       // restaurant_tables.capacity
    MinPartySize *int      // restaurant_tables.min_party_size (nullable)
    MaxPartySize *int      // restaurant_tables.max_party_size (nullable)
    ZoneID       string    // restaurant_tables.zone_id
    Mobility     string    // restaurant_tables.mobility
    Status       string    // restaurant_tables.status
    Active       bool      // restaurant_tables.active
    Category     string    // restaurant_tables.category
    SeatingType  string    // restaurant_tables.seating_type
    UpdatedAt    time.Time // restaurant_tables.updated_at
}

// Label returns the table number when set, otherwise the ID.
func (t Table) Label() string {
    if t.TableNumber != "" {
        return t.TableNumber
    }
    return t.ID
}

// AdjacencyEdge records that two tables may be physically merged.  The
// store may hold only one direction; loaders mirror it.
type AdjacencyEdge struct {
    TableA string // table_adjacencies.table_a
    TableB string // table_adjacencies.table_b
}

// Restaurant carries the settings the allocator needs from a venue.
type Restaurant struct {
    ID       string // restaurants.id
    Name     string // restaurants.name
    Timezone string // restaurants.timezone (IANA name)
}

// DemandRule is a restaurant-specific demand multiplier row.  StartMinute
// and EndMinute are minutes after local midnight; Days holds time.Weekday
// numbers (0 = Sunday).
type DemandRule struct {
    Label       string  // demand_profiles.label
    Service     string  // demand_profiles.service_window
    Days        []int   // demand_profiles.days
    StartMinute int     // demand_profiles.start_minute
    EndMinute   int     // demand_profiles.end_minute
    Multiplier  float64 // demand_profiles.multiplier
    Priority    int     // demand_profiles.priority
}
