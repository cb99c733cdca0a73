package repository

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/go-sql-driver/mysql"
    "github.com/google/uuid"

    "github.com/iliyamo/table-allocation/internal/model"
)

// mysqlDuplicateEntry is the server error number for a unique key violation.
const mysqlDuplicateEntry = 1062

// querier is satisfied by both *sql.DB and *sql.Tx so read helpers can be
// shared between plain reads and transactional paths.
type querier interface {
    ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
    QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
    QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// MySQLStore persists tables, holds, assignments and sessions in MySQL.
// Every mutating operation runs inside a single transaction and locks the
// member restaurant_tables rows (in ID order) before checking for
// conflicts, which serialises competing writers on the same tables.
type MySQLStore struct {
    db *sql.DB
}

// NewMySQLStore returns a MySQLStore bound to the given database.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// DB exposes the underlying handle for health checks.
func (s *MySQLStore) DB() *sql.DB { return s.db }

// inTx runs fn inside a transaction.  The transaction is rolled back
// unless fn returns nil and the commit succeeds.
func (s *MySQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if err := fn(tx); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

func (s *MySQLStore) GetBooking(ctx context.Context, id string) (model.Booking, error) {
    return getBooking(ctx, s.db, id, false)
}

func getBooking(ctx context.Context, q querier, id string, forUpdate bool) (model.Booking, error) {
    query := `SELECT id, restaurant_id, booking_date, start_time, duration_minutes, party_size,
                     seating_preference, status, start_at, checked_in_at, checked_out_at, updated_at
              FROM bookings WHERE id = ?`
    if forUpdate {
        query += " FOR UPDATE"
    }
    var b model.Booking
    var status string
    var startAt, checkedIn, checkedOut sql.NullTime
    err := q.QueryRowContext(ctx, query, id).Scan(
        &b.ID, &b.RestaurantID, &b.BookingDate, &b.StartTime, &b.DurationMinutes, &b.PartySize,
        &b.SeatingPreference, &status, &startAt, &checkedIn, &checkedOut, &b.UpdatedAt,
    )
    if errors.Is(err, sql.ErrNoRows) {
        return model.Booking{}, ErrNotFound
    }
    if err != nil {
        return model.Booking{}, err
    }
    b.Status = model.BookingStatus(status)
    b.StartAt = nullTimePtr(startAt)
    b.CheckedInAt = nullTimePtr(checkedIn)
    b.CheckedOutAt = nullTimePtr(checkedOut)
    return b, nil
}

func (s *MySQLStore) GetRestaurant(ctx context.Context, id string) (model.Restaurant, error) {
    var r model.Restaurant
    err := s.db.QueryRowContext(ctx, `SELECT id, name, timezone FROM restaurants WHERE id = ?`, id).
        Scan(&r.ID, &r.Name, &r.Timezone)
    if errors.Is(err, sql.ErrNoRows) {
        return model.Restaurant{}, ErrNotFound
    }
    return r, err
}

func (s *MySQLStore) ListTables(ctx context.Context, restaurantID string) ([]model.Table, error) {
    const q = `SELECT id, restaurant_id, table_number, capacity, min_party_size, max_party_size,
                      zone_id, mobility, status, active, category, seating_type, updated_at
               FROM restaurant_tables WHERE restaurant_id = ? ORDER BY id`
    rows, err := s.db.QueryContext(ctx, q, restaurantID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Table
    for rows.Next() {
        var t model.Table
        var minParty, maxParty sql.NullInt64
        if err := rows.Scan(&t.ID, &t.RestaurantID, &t.TableNumber, &t.Capacity, &minParty, &maxParty,
            &t.ZoneID, &t.Mobility, &t.Status, &t.Active, &t.Category, &t.SeatingType, &t.UpdatedAt); err != nil {
            return nil, err
        }
        t.MinPartySize = nullIntPtr(minParty)
        t.MaxPartySize = nullIntPtr(maxParty)
        out = append(out, t)
    }
    return out, rows.Err()
}

func (s *MySQLStore) ListAdjacency(ctx context.Context, restaurantID string) ([]model.AdjacencyEdge, error) {
    const q = `SELECT a.table_a, a.table_b
               FROM table_adjacencies a
               JOIN restaurant_tables t ON t.id = a.table_a
               WHERE t.restaurant_id = ?`
    rows, err := s.db.QueryContext(ctx, q, restaurantID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.AdjacencyEdge
    for rows.Next() {
        var e model.AdjacencyEdge
        if err := rows.Scan(&e.TableA, &e.TableB); err != nil {
            return nil, err
        }
        out = append(out, e)
    }
    return out, rows.Err()
}

func (s *MySQLStore) ListDemandRules(ctx context.Context, restaurantID string) ([]model.DemandRule, error) {
    const q = `SELECT label, service_window, days, start_minute, end_minute, multiplier, priority
               FROM demand_profiles WHERE restaurant_id = ? ORDER BY priority DESC, id`
    rows, err := s.db.QueryContext(ctx, q, restaurantID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.DemandRule
    for rows.Next() {
        var r model.DemandRule
        var days string
        if err := rows.Scan(&r.Label, &r.Service, &days, &r.StartMinute, &r.EndMinute, &r.Multiplier, &r.Priority); err != nil {
            return nil, err
        }
        r.Days = parseDays(days)
        out = append(out, r)
    }
    return out, rows.Err()
}

func (s *MySQLStore) ListScarcityMetrics(ctx context.Context, restaurantID string) (map[string]float64, error) {
    rows, err := s.db.QueryContext(ctx,
        `SELECT table_type, scarcity_score FROM table_scarcity_metrics WHERE restaurant_id = ?`, restaurantID)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make(map[string]float64)
    for rows.Next() {
        var typ string
        var score float64
        if err := rows.Scan(&typ, &score); err != nil {
            return nil, err
        }
        out[typ] = score
    }
    return out, rows.Err()
}

const holdColumns = `h.id, h.booking_id, h.restaurant_id, h.zone_id, h.start_at, h.end_at, h.expires_at, h.created_by, h.created_at`

func (s *MySQLStore) ListActiveHolds(ctx context.Context, restaurantID string, start, end, now time.Time) ([]model.TableHold, error) {
    q := `SELECT ` + holdColumns + ` FROM table_holds h
          WHERE h.restaurant_id = ? AND h.expires_at > ? AND h.start_at < ? AND h.end_at > ?
          ORDER BY h.start_at, h.id`
    return scanHolds(ctx, s.db, q, restaurantID, now.UTC(), end.UTC(), start.UTC())
}

func (s *MySQLStore) ListHoldsForBooking(ctx context.Context, bookingID string, now time.Time) ([]model.TableHold, error) {
    q := `SELECT ` + holdColumns + ` FROM table_holds h
          WHERE h.booking_id = ? AND h.expires_at > ? ORDER BY h.start_at, h.id`
    return scanHolds(ctx, s.db, q, bookingID, now.UTC())
}

func (s *MySQLStore) GetHold(ctx context.Context, holdID string) (model.TableHold, error) {
    holds, err := scanHolds(ctx, s.db, `SELECT `+holdColumns+` FROM table_holds h WHERE h.id = ?`, holdID)
    if err != nil {
        return model.TableHold{}, err
    }
    if len(holds) == 0 {
        return model.TableHold{}, ErrHoldNotFound
    }
    return holds[0], nil
}

// scanHolds runs a hold query and attaches the member table IDs.
func scanHolds(ctx context.Context, q querier, query string, args ...interface{}) ([]model.TableHold, error) {
    rows, err := q.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    var holds []model.TableHold
    for rows.Next() {
        var h model.TableHold
        var bookingID, createdBy sql.NullString
        if err := rows.Scan(&h.ID, &bookingID, &h.RestaurantID, &h.ZoneID, &h.StartAt, &h.EndAt,
            &h.ExpiresAt, &createdBy, &h.CreatedAt); err != nil {
            rows.Close()
            return nil, err
        }
        h.BookingID = nullStringPtr(bookingID)
        h.CreatedBy = nullStringPtr(createdBy)
        holds = append(holds, h)
    }
    if err := rows.Close(); err != nil {
        return nil, err
    }
    if len(holds) == 0 {
        return nil, nil
    }
    ids := make([]interface{}, len(holds))
    index := make(map[string]int, len(holds))
    for i, h := range holds {
        ids[i] = h.ID
        index[h.ID] = i
    }
    mrows, err := q.QueryContext(ctx,
        `SELECT hold_id, table_id FROM table_hold_members WHERE hold_id IN (`+placeholders(len(ids))+`) ORDER BY table_id`,
        ids...)
    if err != nil {
        return nil, err
    }
    defer mrows.Close()
    for mrows.Next() {
        var holdID, tableID string
        if err := mrows.Scan(&holdID, &tableID); err != nil {
            return nil, err
        }
        i := index[holdID]
        holds[i].TableIDs = append(holds[i].TableIDs, tableID)
    }
    return holds, mrows.Err()
}

func (s *MySQLStore) ListAssignments(ctx context.Context, restaurantID string, start, end time.Time) ([]model.Assignment, error) {
    q := `SELECT ` + assignmentColumns + ` FROM booking_table_assignments a
          JOIN restaurant_tables t ON t.id = a.table_id
          WHERE t.restaurant_id = ? AND a.start_at < ? AND a.end_at > ?
          ORDER BY a.start_at, a.id`
    return scanAssignments(ctx, s.db, q, restaurantID, end.UTC(), start.UTC())
}

func (s *MySQLStore) ListAssignmentsForBooking(ctx context.Context, bookingID string) ([]model.Assignment, error) {
    q := `SELECT ` + assignmentColumns + ` FROM booking_table_assignments a WHERE a.booking_id = ? ORDER BY a.table_id`
    return scanAssignments(ctx, s.db, q, bookingID)
}

const assignmentColumns = `a.id, a.booking_id, a.table_id, a.start_at, a.end_at, a.merge_group_id, a.idempotency_key, a.assigned_by, a.created_at`

func scanAssignments(ctx context.Context, q querier, query string, args ...interface{}) ([]model.Assignment, error) {
    rows, err := q.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var out []model.Assignment
    for rows.Next() {
        var a model.Assignment
        var merge, assignedBy sql.NullString
        if err := rows.Scan(&a.ID, &a.BookingID, &a.TableID, &a.StartAt, &a.EndAt, &merge,
            &a.IdempotencyKey, &assignedBy, &a.CreatedAt); err != nil {
            return nil, err
        }
        a.MergeGroupID = nullStringPtr(merge)
        a.AssignedBy = nullStringPtr(assignedBy)
        out = append(out, a)
    }
    return out, rows.Err()
}

// lockTables takes row locks on the given restaurant tables in ID order so
// that two writers touching overlapping sets always lock in the same order.
func lockTables(ctx context.Context, tx *sql.Tx, tableIDs []string) error {
    if len(tableIDs) == 0 {
        return nil
    }
    ids := sortedIDs(tableIDs)
    args := make([]interface{}, len(ids))
    for i, id := range ids {
        args[i] = id
    }
    rows, err := tx.QueryContext(ctx,
        `SELECT id FROM restaurant_tables WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id FOR UPDATE`, args...)
    if err != nil {
        return err
    }
    return rows.Close()
}

// CreateHold checks for conflicting active holds and inserts the hold in
// one transaction.  Holds named in replace that belong to the same booking
// are deleted first, inside the transaction, so they neither conflict nor
// survive a successful insert; a conflict rolls the deletion back.
func (s *MySQLStore) CreateHold(ctx context.Context, hold model.TableHold, replace []string, now time.Time) (model.TableHold, error) {
    hold.ID = uuid.NewString()
    hold.CreatedAt = now.UTC()
    err := s.inTx(ctx, func(tx *sql.Tx) error {
        if err := lockTables(ctx, tx, hold.TableIDs); err != nil {
            return err
        }
        if err := deleteReplaced(ctx, tx, hold.BookingID, replace); err != nil {
            return err
        }
        args := []interface{}{hold.RestaurantID, now.UTC(), hold.EndAt.UTC(), hold.StartAt.UTC()}
        for _, id := range hold.TableIDs {
            args = append(args, id)
        }
        q := `SELECT DISTINCT ` + holdColumns + ` FROM table_holds h
              JOIN table_hold_members m ON m.hold_id = h.id
              WHERE h.restaurant_id = ? AND h.expires_at > ? AND h.start_at < ? AND h.end_at > ?
                AND m.table_id IN (` + placeholders(len(hold.TableIDs)) + `)`
        q += ` ORDER BY h.start_at, h.id`
        conflicts, err := scanHolds(ctx, tx, q, args...)
        if err != nil {
            return err
        }
        if len(conflicts) > 0 {
            return &HoldConflictError{Conflicts: conflicts}
        }
        _, err = tx.ExecContext(ctx,
            `INSERT INTO table_holds (id, booking_id, restaurant_id, zone_id, start_at, end_at, expires_at, created_by, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
            hold.ID, hold.BookingID, hold.RestaurantID, hold.ZoneID, hold.StartAt.UTC(), hold.EndAt.UTC(),
            hold.ExpiresAt.UTC(), hold.CreatedBy, hold.CreatedAt)
        if err != nil {
            return err
        }
        query := `INSERT INTO table_hold_members (hold_id, table_id) VALUES `
        margs := make([]interface{}, 0, len(hold.TableIDs)*2)
        for i, id := range hold.TableIDs {
            if i > 0 {
                query += ","
            }
            query += "(?, ?)"
            margs = append(margs, hold.ID, id)
        }
        _, err = tx.ExecContext(ctx, query, margs...)
        return err
    })
    if err != nil {
        return model.TableHold{}, err
    }
    return hold, nil
}

// deleteReplaced removes the listed holds of bookingID.  IDs that belong
// to another booking are left alone and will show up as conflicts.
func deleteReplaced(ctx context.Context, tx *sql.Tx, bookingID *string, replace []string) error {
    if bookingID == nil || len(replace) == 0 {
        return nil
    }
    args := []interface{}{*bookingID}
    for _, id := range replace {
        args = append(args, id)
    }
    rows, err := tx.QueryContext(ctx,
        `SELECT id FROM table_holds WHERE booking_id = ? AND id IN (`+placeholders(len(replace))+`) FOR UPDATE`, args...)
    if err != nil {
        return err
    }
    var ids []string
    for rows.Next() {
        var id string
        if err := rows.Scan(&id); err != nil {
            rows.Close()
            return err
        }
        ids = append(ids, id)
    }
    if err := rows.Close(); err != nil {
        return err
    }
    for _, id := range ids {
        if err := deleteHold(ctx, tx, id); err != nil {
            return err
        }
    }
    return nil
}

// GetConfirmation looks up the ledger row written when a hold of the
// booking was confirmed under key.
func (s *MySQLStore) GetConfirmation(ctx context.Context, bookingID, key string) (model.HoldConfirmation, error) {
    var c model.HoldConfirmation
    err := s.db.QueryRowContext(ctx,
        `SELECT hold_id, booking_id, idempotency_key, merge_group_id, confirmed_at
         FROM hold_confirmations WHERE booking_id = ? AND idempotency_key = ?
         ORDER BY confirmed_at LIMIT 1`, bookingID, key).
        Scan(&c.HoldID, &c.BookingID, &c.IdempotencyKey, &c.MergeGroupID, &c.ConfirmedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return model.HoldConfirmation{}, ErrNotFound
    }
    return c, err
}

func (s *MySQLStore) DeleteHold(ctx context.Context, holdID string) error {
    return s.inTx(ctx, func(tx *sql.Tx) error {
        return deleteHold(ctx, tx, holdID)
    })
}

func deleteHold(ctx context.Context, tx *sql.Tx, holdID string) error {
    if _, err := tx.ExecContext(ctx, `DELETE FROM table_hold_members WHERE hold_id = ?`, holdID); err != nil {
        return err
    }
    _, err := tx.ExecContext(ctx, `DELETE FROM table_holds WHERE id = ?`, holdID)
    return err
}

func (s *MySQLStore) SweepExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
    var ids []string
    err := s.inTx(ctx, func(tx *sql.Tx) error {
        rows, err := tx.QueryContext(ctx,
            `SELECT id FROM table_holds WHERE expires_at <= ? ORDER BY expires_at LIMIT ? FOR UPDATE`,
            now.UTC(), limit)
        if err != nil {
            return err
        }
        for rows.Next() {
            var id string
            if err := rows.Scan(&id); err != nil {
                rows.Close()
                return err
            }
            ids = append(ids, id)
        }
        if err := rows.Close(); err != nil {
            return err
        }
        for _, id := range ids {
            if err := deleteHold(ctx, tx, id); err != nil {
                return err
            }
        }
        return nil
    })
    if err != nil {
        return nil, err
    }
    return ids, nil
}

// ConfirmHold converts a hold into assignment rows, applies the optional
// status transition, records the confirmation and deletes the hold, all in
// one transaction.
func (s *MySQLStore) ConfirmHold(ctx context.Context, p ConfirmHoldParams) (ConfirmHoldResult, error) {
    var res ConfirmHoldResult
    err := s.inTx(ctx, func(tx *sql.Tx) error {
        res = ConfirmHoldResult{}
        booking, err := getBooking(ctx, tx, p.BookingID, true)
        if err != nil {
            return err
        }
        res.Status = booking.Status

        var confBooking, confKey string
        err = tx.QueryRowContext(ctx,
            `SELECT booking_id, idempotency_key FROM hold_confirmations WHERE hold_id = ? FOR UPDATE`, p.HoldID).
            Scan(&confBooking, &confKey)
        switch {
        case err == nil:
            if confBooking != p.BookingID {
                return ErrHoldBookingMismatch
            }
            if confKey != p.IdempotencyKey {
                return ErrIdempotencyMismatch
            }
            res.Replayed = true
            res.RestaurantID = booking.RestaurantID
            res.Assignments, err = scanAssignments(ctx, tx,
                `SELECT `+assignmentColumns+` FROM booking_table_assignments a
                 WHERE a.booking_id = ? AND a.idempotency_key = ? ORDER BY a.table_id`,
                p.BookingID, p.IdempotencyKey)
            if err != nil {
                return err
            }
            return applyTransitionTx(ctx, tx, booking, p, &res)
        case !errors.Is(err, sql.ErrNoRows):
            return err
        }

        holds, err := scanHolds(ctx, tx, `SELECT `+holdColumns+` FROM table_holds h WHERE h.id = ? FOR UPDATE`, p.HoldID)
        if err != nil {
            return err
        }
        if len(holds) == 0 {
            return ErrHoldNotFound
        }
        hold := holds[0]
        if !hold.ActiveAt(p.Now) {
            return ErrHoldExpired
        }
        if hold.BookingID != nil && *hold.BookingID != p.BookingID {
            return ErrHoldBookingMismatch
        }
        res.RestaurantID = hold.RestaurantID
        start, end := hold.StartAt, hold.EndAt
        if p.StartAt != nil {
            start = *p.StartAt
        }
        if p.EndAt != nil {
            end = *p.EndAt
        }

        if err := lockTables(ctx, tx, hold.TableIDs); err != nil {
            return err
        }
        existing, err := scanAssignments(ctx, tx,
            `SELECT `+assignmentColumns+` FROM booking_table_assignments a WHERE a.booking_id = ? LIMIT 1`, p.BookingID)
        if err != nil {
            return err
        }
        if len(existing) > 0 {
            a := existing[0]
            return &AssignmentConflictError{TableID: a.TableID, BookingID: a.BookingID, StartAt: a.StartAt, EndAt: a.EndAt}
        }
        args := []interface{}{end.UTC(), start.UTC()}
        for _, id := range hold.TableIDs {
            args = append(args, id)
        }
        overlapping, err := scanAssignments(ctx, tx,
            `SELECT `+assignmentColumns+` FROM booking_table_assignments a
             WHERE a.start_at < ? AND a.end_at > ? AND a.table_id IN (`+placeholders(len(hold.TableIDs))+`)
             ORDER BY a.table_id LIMIT 1`, args...)
        if err != nil {
            return err
        }
        if len(overlapping) > 0 {
            a := overlapping[0]
            return &AssignmentConflictError{TableID: a.TableID, BookingID: a.BookingID, StartAt: a.StartAt, EndAt: a.EndAt}
        }

        if p.Transition != nil {
            if _, _, err := checkTransition(booking.Status, *p.Transition); err != nil {
                return err
            }
        }

        var mergeGroupID *string
        if len(hold.TableIDs) > 1 {
            id := uuid.NewString()
            mergeGroupID = &id
        }
        for _, tableID := range sortedIDs(hold.TableIDs) {
            a := model.Assignment{
                ID:             uuid.NewString(),
                BookingID:      p.BookingID,
                TableID:        tableID,
                StartAt:        start.UTC(),
                EndAt:          end.UTC(),
                MergeGroupID:   mergeGroupID,
                IdempotencyKey: p.IdempotencyKey,
                AssignedBy:     p.AssignedBy,
                CreatedAt:      p.Now.UTC(),
            }
            _, err := tx.ExecContext(ctx,
                `INSERT INTO booking_table_assignments
                 (id, booking_id, table_id, start_at, end_at, merge_group_id, idempotency_key, assigned_by, created_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
                a.ID, a.BookingID, a.TableID, a.StartAt, a.EndAt, a.MergeGroupID, a.IdempotencyKey, a.AssignedBy, a.CreatedAt)
            if isDuplicate(err) {
                return &AssignmentConflictError{TableID: tableID, BookingID: p.BookingID, StartAt: a.StartAt, EndAt: a.EndAt}
            }
            if err != nil {
                return err
            }
            res.Assignments = append(res.Assignments, a)
        }
        _, err = tx.ExecContext(ctx,
            `INSERT INTO hold_confirmations (hold_id, booking_id, idempotency_key, merge_group_id, confirmed_at)
             VALUES (?, ?, ?, ?, ?)`,
            p.HoldID, p.BookingID, p.IdempotencyKey, mergeGroupID, p.Now.UTC())
        if isDuplicate(err) {
            return ErrIdempotencyMismatch
        }
        if err != nil {
            return err
        }
        if err := deleteHold(ctx, tx, p.HoldID); err != nil {
            return err
        }
        return applyTransitionTx(ctx, tx, booking, p, &res)
    })
    if err != nil {
        return ConfirmHoldResult{}, err
    }
    return res, nil
}

// applyTransitionTx performs the keyed status update and appends the
// history row.  The update matches on the expected status; zero affected
// rows means another writer moved the booking first.
func applyTransitionTx(ctx context.Context, tx *sql.Tx, booking model.Booking, p ConfirmHoldParams, res *ConfirmHoldResult) error {
    if p.Transition == nil {
        return nil
    }
    next, changed, err := checkTransition(booking.Status, *p.Transition)
    if err != nil || !changed {
        return err
    }
    result, err := tx.ExecContext(ctx,
        `UPDATE bookings SET status = ?, checked_in_at = NULL, checked_out_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
        string(next), p.Now.UTC(), booking.ID, string(p.Transition.From))
    if err != nil {
        return err
    }
    if n, err := result.RowsAffected(); err != nil {
        return err
    } else if n == 0 {
        return &TransitionConflictError{Expected: p.Transition.From, Actual: booking.Status}
    }
    var meta interface{}
    if len(p.Transition.Metadata) > 0 {
        b, err := json.Marshal(p.Transition.Metadata)
        if err != nil {
            return err
        }
        meta = string(b)
    }
    _, err = tx.ExecContext(ctx,
        `INSERT INTO booking_state_history (booking_id, from_status, to_status, changed_by, changed_at, reason, metadata)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
        booking.ID, string(booking.Status), string(next), p.Transition.ChangedBy, p.Now.UTC(), p.Transition.Reason, meta)
    if err != nil {
        return err
    }
    res.Transitioned = true
    res.Status = next
    return nil
}

func (s *MySQLStore) ClearAssignments(ctx context.Context, bookingID string) (int, error) {
    var removed int64
    err := s.inTx(ctx, func(tx *sql.Tx) error {
        result, err := tx.ExecContext(ctx, `DELETE FROM booking_table_assignments WHERE booking_id = ?`, bookingID)
        if err != nil {
            return err
        }
        if removed, err = result.RowsAffected(); err != nil {
            return err
        }
        _, err = tx.ExecContext(ctx, `DELETE FROM hold_confirmations WHERE booking_id = ?`, bookingID)
        return err
    })
    return int(removed), err
}

func (s *MySQLStore) GetOrCreateSession(ctx context.Context, sess model.ManualSession) (model.ManualSession, error) {
    now := time.Now().UTC()
    _, err := s.db.ExecContext(ctx,
        `INSERT INTO manual_assignment_sessions
         (id, booking_id, restaurant_id, selection_version, context_version, created_by, created_at, updated_at)
         VALUES (?, ?, ?, 0, ?, ?, ?, ?)
         ON DUPLICATE KEY UPDATE id = id`,
        uuid.NewString(), sess.BookingID, sess.RestaurantID, sess.ContextVersion, sess.CreatedBy, now, now)
    if err != nil {
        return model.ManualSession{}, err
    }
    return s.sessionWhere(ctx, "booking_id", sess.BookingID)
}

// BumpSessionVersion advances selection_version only when it still equals
// expected.
func (s *MySQLStore) BumpSessionVersion(ctx context.Context, sessionID string, expected int64, contextVersion string) (model.ManualSession, error) {
    result, err := s.db.ExecContext(ctx,
        `UPDATE manual_assignment_sessions
         SET selection_version = selection_version + 1, context_version = ?, updated_at = ?
         WHERE id = ? AND selection_version = ?`,
        contextVersion, time.Now().UTC(), sessionID, expected)
    if err != nil {
        return model.ManualSession{}, err
    }
    n, err := result.RowsAffected()
    if err != nil {
        return model.ManualSession{}, err
    }
    sess, err := s.sessionWhere(ctx, "id", sessionID)
    if err != nil {
        return model.ManualSession{}, err
    }
    if n == 0 {
        return model.ManualSession{}, ErrVersionMismatch
    }
    return sess, nil
}

func (s *MySQLStore) sessionWhere(ctx context.Context, column, value string) (model.ManualSession, error) {
    var m model.ManualSession
    var createdBy sql.NullString
    err := s.db.QueryRowContext(ctx,
        `SELECT id, booking_id, restaurant_id, selection_version, context_version, created_by, created_at, updated_at
         FROM manual_assignment_sessions WHERE `+column+` = ?`, value).
        Scan(&m.ID, &m.BookingID, &m.RestaurantID, &m.SelectionVersion, &m.ContextVersion, &createdBy, &m.CreatedAt, &m.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return model.ManualSession{}, ErrNotFound
    }
    if err != nil {
        return model.ManualSession{}, err
    }
    m.CreatedBy = nullStringPtr(createdBy)
    return m, nil
}

func isDuplicate(err error) bool {
    var me *mysql.MySQLError
    return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func placeholders(n int) string {
    if n <= 0 {
        return ""
    }
    return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// parseDays reads the comma separated weekday list stored in
// demand_profiles.days ("5,6").
func parseDays(s string) []int {
    var out []int
    for _, part := range strings.Split(s, ",") {
        if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n >= 0 && n <= 6 {
            out = append(out, n)
        }
    }
    sort.Ints(out)
    return out
}

func nullTimePtr(v sql.NullTime) *time.Time {
    if !v.Valid {
        return nil
    }
    t := v.Time
    return &t
}

func nullStringPtr(v sql.NullString) *string {
    if !v.Valid {
        return nil
    }
    s := v.String
    return &s
}

func nullIntPtr(v sql.NullInt64) *int {
    if !v.Valid {
        return nil
    }
    n := int(v.Int64)
    return &n
}
