package repository

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "github.com/iliyamo/table-allocation/internal/model"
)

// MemoryStore is an in-process store with the same semantics as MySQLStore.
// Every mutating method runs under one mutex, which gives it the same
// all-or-nothing behaviour the MySQL store gets from a transaction.  It is
// used by the tests and by APP_STORE=memory for local runs.
type MemoryStore struct {
    mu            sync.Mutex
    restaurants   map[string]model.Restaurant
    tables        map[string]model.Table
    adjacency     []model.AdjacencyEdge
    bookings      map[string]model.Booking
    holds         map[string]model.TableHold
    assignments   []model.Assignment
    confirmations map[string]model.HoldConfirmation
    sessions      map[string]model.ManualSession // keyed by booking ID
    history       []model.StatusHistory
    demandRules   map[string][]model.DemandRule
    scarcity      map[string]map[string]float64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
    return &MemoryStore{
        restaurants:   make(map[string]model.Restaurant),
        tables:        make(map[string]model.Table),
        bookings:      make(map[string]model.Booking),
        holds:         make(map[string]model.TableHold),
        confirmations: make(map[string]model.HoldConfirmation),
        sessions:      make(map[string]model.ManualSession),
        demandRules:   make(map[string][]model.DemandRule),
        scarcity:      make(map[string]map[string]float64),
    }
}

// PutRestaurant inserts or replaces a restaurant.
func (s *MemoryStore) PutRestaurant(r model.Restaurant) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.restaurants[r.ID] = r
}

// PutTable inserts or replaces a table.
func (s *MemoryStore) PutTable(t model.Table) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.tables[t.ID] = t
}

// PutAdjacency records a (directed) adjacency edge.
func (s *MemoryStore) PutAdjacency(a, b string) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.adjacency = append(s.adjacency, model.AdjacencyEdge{TableA: a, TableB: b})
}

// PutBooking inserts or replaces a booking.
func (s *MemoryStore) PutBooking(b model.Booking) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.bookings[b.ID] = b
}

// PutDemandRule appends a restaurant demand rule.
func (s *MemoryStore) PutDemandRule(restaurantID string, rule model.DemandRule) {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.demandRules[restaurantID] = append(s.demandRules[restaurantID], rule)
}

// PutScarcityMetric stores a scarcity score for a table type.
func (s *MemoryStore) PutScarcityMetric(restaurantID, tableType string, score float64) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.scarcity[restaurantID] == nil {
        s.scarcity[restaurantID] = make(map[string]float64)
    }
    s.scarcity[restaurantID][tableType] = score
}

// SetBookingStatus overwrites a booking's status without history; tests
// use it to simulate another actor.
func (s *MemoryStore) SetBookingStatus(bookingID string, status model.BookingStatus) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if b, ok := s.bookings[bookingID]; ok {
        b.Status = status
        s.bookings[bookingID] = b
    }
}

// AllAssignments returns a copy of every assignment row.
func (s *MemoryStore) AllAssignments() []model.Assignment {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]model.Assignment, len(s.assignments))
    copy(out, s.assignments)
    return out
}

// History returns the status history rows of a booking.
func (s *MemoryStore) History(bookingID string) []model.StatusHistory {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.StatusHistory
    for _, h := range s.history {
        if h.BookingID == bookingID {
            out = append(out, h)
        }
    }
    return out
}

func (s *MemoryStore) GetBooking(ctx context.Context, id string) (model.Booking, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    b, ok := s.bookings[id]
    if !ok {
        return model.Booking{}, ErrNotFound
    }
    return b, nil
}

func (s *MemoryStore) GetRestaurant(ctx context.Context, id string) (model.Restaurant, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.restaurants[id]
    if !ok {
        return model.Restaurant{}, ErrNotFound
    }
    return r, nil
}

func (s *MemoryStore) ListTables(ctx context.Context, restaurantID string) ([]model.Table, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.Table
    for _, t := range s.tables {
        if t.RestaurantID == restaurantID {
            out = append(out, t)
        }
    }
    sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
    return out, nil
}

func (s *MemoryStore) ListAdjacency(ctx context.Context, restaurantID string) ([]model.AdjacencyEdge, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.AdjacencyEdge
    for _, e := range s.adjacency {
        if t, ok := s.tables[e.TableA]; ok && t.RestaurantID == restaurantID {
            out = append(out, e)
        }
    }
    return out, nil
}

func (s *MemoryStore) ListDemandRules(ctx context.Context, restaurantID string) ([]model.DemandRule, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make([]model.DemandRule, len(s.demandRules[restaurantID]))
    copy(out, s.demandRules[restaurantID])
    return out, nil
}

func (s *MemoryStore) ListScarcityMetrics(ctx context.Context, restaurantID string) (map[string]float64, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    out := make(map[string]float64, len(s.scarcity[restaurantID]))
    for k, v := range s.scarcity[restaurantID] {
        out[k] = v
    }
    return out, nil
}

func (s *MemoryStore) ListActiveHolds(ctx context.Context, restaurantID string, start, end, now time.Time) ([]model.TableHold, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.TableHold
    for _, h := range s.holds {
        if h.RestaurantID != restaurantID || !h.ActiveAt(now) {
            continue
        }
        if overlaps(h.StartAt, h.EndAt, start, end) {
            out = append(out, copyHold(h))
        }
    }
    sortHolds(out)
    return out, nil
}

func (s *MemoryStore) ListHoldsForBooking(ctx context.Context, bookingID string, now time.Time) ([]model.TableHold, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.TableHold
    for _, h := range s.holds {
        if h.BookingID != nil && *h.BookingID == bookingID && h.ActiveAt(now) {
            out = append(out, copyHold(h))
        }
    }
    sortHolds(out)
    return out, nil
}

func (s *MemoryStore) GetHold(ctx context.Context, holdID string) (model.TableHold, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    h, ok := s.holds[holdID]
    if !ok {
        return model.TableHold{}, ErrHoldNotFound
    }
    return copyHold(h), nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, restaurantID string, start, end time.Time) ([]model.Assignment, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.Assignment
    for _, a := range s.assignments {
        t, ok := s.tables[a.TableID]
        if !ok || t.RestaurantID != restaurantID {
            continue
        }
        if overlaps(a.StartAt, a.EndAt, start, end) {
            out = append(out, a)
        }
    }
    return out, nil
}

func (s *MemoryStore) ListAssignmentsForBooking(ctx context.Context, bookingID string) ([]model.Assignment, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var out []model.Assignment
    for _, a := range s.assignments {
        if a.BookingID == bookingID {
            out = append(out, a)
        }
    }
    return out, nil
}

// CreateHold checks for conflicting active holds and inserts the hold in
// one critical section.  Holds named in replace that belong to the same
// booking are exempt from the check and deleted together with the insert;
// every other active hold, including other holds of the same booking,
// conflicts.
func (s *MemoryStore) CreateHold(ctx context.Context, hold model.TableHold, replace []string, now time.Time) (model.TableHold, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var conflicts []model.TableHold
    var replaced []string
    for _, h := range s.holds {
        if replaceable(h, hold, replace) {
            replaced = append(replaced, h.ID)
            continue
        }
        if h.RestaurantID != hold.RestaurantID || !h.ActiveAt(now) {
            continue
        }
        if sharesTable(h.TableIDs, hold.TableIDs) && overlaps(h.StartAt, h.EndAt, hold.StartAt, hold.EndAt) {
            conflicts = append(conflicts, copyHold(h))
        }
    }
    if len(conflicts) > 0 {
        sortHolds(conflicts)
        return model.TableHold{}, &HoldConflictError{Conflicts: conflicts}
    }
    for _, id := range replaced {
        delete(s.holds, id)
    }
    hold.ID = uuid.NewString()
    hold.CreatedAt = now
    s.holds[hold.ID] = copyHold(hold)
    return copyHold(hold), nil
}

func (s *MemoryStore) DeleteHold(ctx context.Context, holdID string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    delete(s.holds, holdID)
    return nil
}

func (s *MemoryStore) SweepExpiredHolds(ctx context.Context, now time.Time, limit int) ([]string, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    var expired []model.TableHold
    for _, h := range s.holds {
        if !h.ActiveAt(now) {
            expired = append(expired, h)
        }
    }
    sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
    if limit > 0 && len(expired) > limit {
        expired = expired[:limit]
    }
    ids := make([]string, 0, len(expired))
    for _, h := range expired {
        delete(s.holds, h.ID)
        ids = append(ids, h.ID)
    }
    return ids, nil
}

// GetConfirmation looks up the ledger row written when a hold of the
// booking was confirmed under key.
func (s *MemoryStore) GetConfirmation(ctx context.Context, bookingID, key string) (model.HoldConfirmation, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for _, c := range s.confirmations {
        if c.BookingID == bookingID && c.IdempotencyKey == key {
            return c, nil
        }
    }
    return model.HoldConfirmation{}, ErrNotFound
}

// ConfirmHold is the atomic confirm operation.  All checks run before the
// first write so a failure leaves the store untouched.
func (s *MemoryStore) ConfirmHold(ctx context.Context, p ConfirmHoldParams) (ConfirmHoldResult, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    booking, ok := s.bookings[p.BookingID]
    if !ok {
        return ConfirmHoldResult{}, ErrNotFound
    }

    if conf, done := s.confirmations[p.HoldID]; done {
        if conf.BookingID != p.BookingID {
            return ConfirmHoldResult{}, ErrHoldBookingMismatch
        }
        if conf.IdempotencyKey != p.IdempotencyKey {
            return ConfirmHoldResult{}, ErrIdempotencyMismatch
        }
        res := ConfirmHoldResult{RestaurantID: booking.RestaurantID, Replayed: true, Status: booking.Status}
        for _, a := range s.assignments {
            if a.BookingID == p.BookingID && a.IdempotencyKey == p.IdempotencyKey {
                res.Assignments = append(res.Assignments, a)
            }
        }
        if p.Transition != nil {
            next, changed, err := checkTransition(booking.Status, *p.Transition)
            if err != nil {
                return ConfirmHoldResult{}, err
            }
            if changed {
                s.applyTransition(&booking, next, *p.Transition, p.Now)
                res.Transitioned = true
                res.Status = next
            }
        }
        return res, nil
    }

    hold, ok := s.holds[p.HoldID]
    if !ok {
        return ConfirmHoldResult{}, ErrHoldNotFound
    }
    if !hold.ActiveAt(p.Now) {
        return ConfirmHoldResult{}, ErrHoldExpired
    }
    if hold.BookingID != nil && *hold.BookingID != p.BookingID {
        return ConfirmHoldResult{}, ErrHoldBookingMismatch
    }
    start, end := hold.StartAt, hold.EndAt
    if p.StartAt != nil {
        start = *p.StartAt
    }
    if p.EndAt != nil {
        end = *p.EndAt
    }

    for _, a := range s.assignments {
        if a.BookingID == p.BookingID {
            return ConfirmHoldResult{}, &AssignmentConflictError{TableID: a.TableID, BookingID: a.BookingID, StartAt: a.StartAt, EndAt: a.EndAt}
        }
        for _, tableID := range hold.TableIDs {
            if a.TableID == tableID && overlaps(a.StartAt, a.EndAt, start, end) {
                return ConfirmHoldResult{}, &AssignmentConflictError{TableID: a.TableID, BookingID: a.BookingID, StartAt: a.StartAt, EndAt: a.EndAt}
            }
        }
    }

    var next model.BookingStatus
    var changed bool
    if p.Transition != nil {
        var err error
        next, changed, err = checkTransition(booking.Status, *p.Transition)
        if err != nil {
            return ConfirmHoldResult{}, err
        }
    }

    var mergeGroupID *string
    if len(hold.TableIDs) > 1 {
        id := uuid.NewString()
        mergeGroupID = &id
    }
    res := ConfirmHoldResult{RestaurantID: hold.RestaurantID, Status: booking.Status}
    for _, tableID := range sortedIDs(hold.TableIDs) {
        a := model.Assignment{
            ID:             uuid.NewString(),
            BookingID:      p.BookingID,
            TableID:        tableID,
            StartAt:        start,
            EndAt:          end,
            MergeGroupID:   mergeGroupID,
            IdempotencyKey: p.IdempotencyKey,
            AssignedBy:     p.AssignedBy,
            CreatedAt:      p.Now,
        }
        s.assignments = append(s.assignments, a)
        res.Assignments = append(res.Assignments, a)
    }
    s.confirmations[p.HoldID] = model.HoldConfirmation{
        HoldID:         p.HoldID,
        BookingID:      p.BookingID,
        IdempotencyKey: p.IdempotencyKey,
        MergeGroupID:   mergeGroupID,
        ConfirmedAt:    p.Now,
    }
    if changed {
        s.applyTransition(&booking, next, *p.Transition, p.Now)
        res.Transitioned = true
        res.Status = next
    }
    delete(s.holds, p.HoldID)
    return res, nil
}

func (s *MemoryStore) applyTransition(b *model.Booking, next model.BookingStatus, t TransitionParams, now time.Time) {
    s.history = append(s.history, model.StatusHistory{
        ID:         uint64(len(s.history) + 1),
        BookingID:  b.ID,
        FromStatus: b.Status,
        ToStatus:   next,
        ChangedBy:  t.ChangedBy,
        ChangedAt:  now,
        Reason:     t.Reason,
        Metadata:   t.Metadata,
    })
    b.Status = next
    b.CheckedInAt = nil
    b.CheckedOutAt = nil
    b.UpdatedAt = now
    s.bookings[b.ID] = *b
}

func (s *MemoryStore) ClearAssignments(ctx context.Context, bookingID string) (int, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    kept := s.assignments[:0]
    removed := 0
    for _, a := range s.assignments {
        if a.BookingID == bookingID {
            removed++
            continue
        }
        kept = append(kept, a)
    }
    s.assignments = kept
    for id, c := range s.confirmations {
        if c.BookingID == bookingID {
            delete(s.confirmations, id)
        }
    }
    return removed, nil
}

func (s *MemoryStore) GetOrCreateSession(ctx context.Context, sess model.ManualSession) (model.ManualSession, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    if existing, ok := s.sessions[sess.BookingID]; ok {
        return existing, nil
    }
    sess.ID = uuid.NewString()
    sess.CreatedAt = time.Now().UTC()
    sess.UpdatedAt = sess.CreatedAt
    s.sessions[sess.BookingID] = sess
    return sess, nil
}

func (s *MemoryStore) BumpSessionVersion(ctx context.Context, sessionID string, expected int64, contextVersion string) (model.ManualSession, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    for bookingID, sess := range s.sessions {
        if sess.ID != sessionID {
            continue
        }
        if sess.SelectionVersion != expected {
            return model.ManualSession{}, ErrVersionMismatch
        }
        sess.SelectionVersion++
        sess.ContextVersion = contextVersion
        sess.UpdatedAt = time.Now().UTC()
        s.sessions[bookingID] = sess
        return sess, nil
    }
    return model.ManualSession{}, ErrNotFound
}

// checkTransition decides what a keyed transition does against the
// current status: move to To, do nothing because To is already reached,
// or fail because another actor moved the booking elsewhere.
func checkTransition(current model.BookingStatus, t TransitionParams) (model.BookingStatus, bool, error) {
    switch current {
    case t.To:
        return current, false, nil
    case t.From:
        return t.To, true, nil
    default:
        return current, false, &TransitionConflictError{Expected: t.From, Actual: current}
    }
}

func copyHold(h model.TableHold) model.TableHold {
    ids := make([]string, len(h.TableIDs))
    copy(ids, h.TableIDs)
    h.TableIDs = ids
    return h
}

func sortHolds(hs []model.TableHold) {
    sort.Slice(hs, func(i, j int) bool {
        if !hs[i].StartAt.Equal(hs[j].StartAt) {
            return hs[i].StartAt.Before(hs[j].StartAt)
        }
        return hs[i].ID < hs[j].ID
    })
}

func sortedIDs(ids []string) []string {
    out := make([]string, len(ids))
    copy(out, ids)
    sort.Strings(out)
    return out
}
