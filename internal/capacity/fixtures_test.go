package capacity

import (
    "testing"
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

var (
    _ Store = (*repository.MemoryStore)(nil)
    _ Store = (*repository.MySQLStore)(nil)
)

// fixedNow is a Thursday morning; bookings below are for dinner the same
// day in Europe/London, which is UTC in March before the clocks change.
var fixedNow = time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func table(id, label string, capacity int, zone string) model.Table {
    return model.Table{
        ID: id, RestaurantID: "r1", TableNumber: label, Capacity: capacity,
        ZoneID: zone, Status: model.TableStatusAvailable, Active: true, Mobility: model.MobilityMovable,
    }
}

// floorTables is two adjacent four-tops, a six-top and a two-top on the
// patio.
func floorTables() []model.Table {
    return []model.Table{
        table("t-a1", "A1", 4, "main"),
        table("t-a2", "A2", 4, "main"),
        table("t-b1", "B1", 6, "main"),
        table("t-c1", "C1", 2, "patio"),
    }
}

func dinnerBooking(id string, party int) model.Booking {
    return model.Booking{
        ID: id, RestaurantID: "r1", BookingDate: "2026-03-12", StartTime: "19:00",
        PartySize: party, Status: model.StatusPending,
    }
}

func seedFloor(bookings ...model.Booking) *repository.MemoryStore {
    s := repository.NewMemoryStore()
    s.PutRestaurant(model.Restaurant{ID: "r1", Name: "Test Kitchen", Timezone: "Europe/London"})
    for _, t := range floorTables() {
        s.PutTable(t)
    }
    s.PutAdjacency("t-a1", "t-a2")
    for _, b := range bookings {
        s.PutBooking(b)
    }
    return s
}

func newTestAllocator(t *testing.T, s Store) *Allocator {
    t.Helper()
    return New(s, DefaultConfig(), WithClock(func() time.Time { return fixedNow }))
}
