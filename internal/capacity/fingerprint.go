package capacity

import (
    "encoding/hex"
    "fmt"
    "sort"
    "strings"
    "time"

    "golang.org/x/crypto/blake2b"

    "github.com/iliyamo/table-allocation/internal/model"
)

// contextFingerprint hashes everything a manual selection depends on:
// table availability, other bookings' holds and assignments in the
// window, and the booking's own status.  Holds of the booking itself are
// left out so that a staff member's own hold does not invalidate the
// view it was made from.
func contextFingerprint(booking model.Booking, tables []model.Table, holds []model.TableHold, assignments []model.Assignment) string {
    var lines []string
    lines = append(lines, "booking|"+booking.ID+"|"+string(booking.Status)+"|"+fmt.Sprint(booking.PartySize))
    for _, t := range tables {
        lines = append(lines, fmt.Sprintf("table|%s|%d|%s|%t|%s", t.ID, t.Capacity, t.Status, t.Active, t.ZoneID))
    }
    for _, h := range holds {
        if h.BookingID != nil && *h.BookingID == booking.ID {
            continue
        }
        ids := append([]string(nil), h.TableIDs...)
        sort.Strings(ids)
        lines = append(lines, fmt.Sprintf("hold|%s|%s|%s|%s", h.ID, strings.Join(ids, ","), stamp(h.StartAt), stamp(h.EndAt)))
    }
    for _, a := range assignments {
        if a.BookingID == booking.ID {
            continue
        }
        lines = append(lines, fmt.Sprintf("assignment|%s|%s|%s|%s", a.ID, a.TableID, stamp(a.StartAt), stamp(a.EndAt)))
    }
    sort.Strings(lines[1:])
    sum := blake2b.Sum256([]byte(strings.Join(lines, "\n")))
    return hex.EncodeToString(sum[:16])
}

// DeriveIdempotencyKey builds a stable key from its parts, for callers
// that do not supply their own.
func DeriveIdempotencyKey(prefix string, parts ...string) string {
    sum := blake2b.Sum256([]byte(strings.Join(parts, "\x00")))
    return prefix + ":" + hex.EncodeToString(sum[:12])
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }
