package capacity

import (
    "context"
    "errors"
    "fmt"
    "strconv"
    "strings"

    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/model"
    "github.com/iliyamo/table-allocation/internal/repository"
)

// ContextTable is one table as seen from a manual assignment screen.
type ContextTable struct {
    ID        string `json:"id"`
    Label     string `json:"label"`
    Capacity  int    `json:"capacity"`
    ZoneID    string `json:"zone_id"`
    Status    string `json:"status"`
    Active    bool   `json:"active"`
    Available bool   `json:"available"`
}

// ManualContext is the state a staff member chooses tables against.
// ContextVersion changes whenever anything that could invalidate a
// selection changes; SelectionVersion counts accepted manual actions.
type ManualContext struct {
    SessionID        string              `json:"session_id"`
    BookingID        string              `json:"booking_id"`
    BookingStatus    model.BookingStatus `json:"booking_status"`
    PartySize        int                 `json:"party_size"`
    Window           BookingWindow       `json:"window"`
    Tables           []ContextTable      `json:"tables"`
    Holds            []HoldConflictInfo  `json:"holds"`
    OwnHolds         []HoldConflictInfo  `json:"own_holds"`
    Assignments      []AssignmentResult  `json:"assignments"`
    ContextVersion   string              `json:"context_version"`
    SelectionVersion int64               `json:"selection_version"`
}

// ValidationCheck is a single rule evaluated against a selection.  Only
// checks with severity "error" make a selection invalid.
type ValidationCheck struct {
    Name     string `json:"name"`
    OK       bool   `json:"ok"`
    Severity string `json:"severity"`
    Message  string `json:"message,omitempty"`
}

const (
    severityError = "error"
    severityWarn  = "warn"
)

// ValidationResult is the outcome of ValidateSelection.
type ValidationResult struct {
    TableIDs         []string          `json:"table_ids"`
    TotalCapacity    int               `json:"total_capacity"`
    Slack            int               `json:"slack"`
    ZoneID           string            `json:"zone_id,omitempty"`
    AdjacencyOK      bool              `json:"adjacency_ok"`
    Checks           []ValidationCheck `json:"checks"`
    OK               bool              `json:"ok"`
    ContextVersion   string            `json:"context_version"`
    SelectionVersion int64             `json:"selection_version"`
}

// ManualHoldRequest holds a staff selection.
type ManualHoldRequest struct {
    BookingID      string
    TableIDs       []string
    ContextVersion string
    HoldTTLSeconds int
    Actor          *string
}

// ManualHoldResult is returned by HoldSelection.
type ManualHoldResult struct {
    Hold       model.TableHold     `json:"hold"`
    Validation ValidationResult    `json:"validation"`
    Session    model.ManualSession `json:"session"`
}

// ManualConfirmRequest confirms a staff selection.  Either HoldID or
// TableIDs must be set; with TableIDs a hold is placed first.
type ManualConfirmRequest struct {
    BookingID        string
    HoldID           string
    TableIDs         []string
    ContextVersion   string
    SelectionVersion *int64
    IdempotencyKey   string
    Actor            *string
}

// ManualConfirmResult is returned by ConfirmSessionHold.
type ManualConfirmResult struct {
    HoldID       string              `json:"hold_id"`
    Assignments  []AssignmentResult  `json:"assignments"`
    Replayed     bool                `json:"replayed"`
    Transitioned bool                `json:"transitioned"`
    Status       model.BookingStatus `json:"status"`
    Session      model.ManualSession `json:"session"`
}

// snapshot is everything a manual operation reads before acting.
type snapshot struct {
    bookingContext
    tables      []model.Table
    graph       *AdjacencyGraph
    holds       []model.TableHold
    ownHolds    []model.TableHold
    assignments []model.Assignment
    busy        map[string]struct{}
    version     string
}

func (a *Allocator) takeSnapshot(ctx context.Context, bookingID string) (snapshot, error) {
    bc, err := a.loadBooking(ctx, bookingID)
    if err != nil {
        return snapshot{}, err
    }
    rid := bc.booking.RestaurantID
    tables, err := a.store.ListTables(ctx, rid)
    if err != nil {
        return snapshot{}, err
    }
    edges, err := a.store.ListAdjacency(ctx, rid)
    if err != nil {
        return snapshot{}, err
    }
    others, assignments, busy, err := a.occupancy(ctx, bc.booking, bc.window.Block)
    if err != nil {
        return snapshot{}, err
    }
    own, err := a.store.ListHoldsForBooking(ctx, bookingID, a.now())
    if err != nil {
        return snapshot{}, err
    }
    return snapshot{
        bookingContext: bc,
        tables:         tables,
        graph:          NewAdjacencyGraph(edges),
        holds:          others,
        ownHolds:       own,
        assignments:    assignments,
        busy:           busy,
        version:        contextFingerprint(bc.booking, tables, others, assignments),
    }, nil
}

// GetOrCreateManualSession returns the booking's session, creating it on
// first use.
func (a *Allocator) GetOrCreateManualSession(ctx context.Context, bookingID string, actor *string) (model.ManualSession, error) {
    booking, err := a.store.GetBooking(ctx, bookingID)
    if err != nil {
        return model.ManualSession{}, err
    }
    return a.store.GetOrCreateSession(ctx, model.ManualSession{
        BookingID:    booking.ID,
        RestaurantID: booking.RestaurantID,
        CreatedBy:    actor,
    })
}

// ManualContext returns the current view for manual assignment together
// with its version stamps.
func (a *Allocator) ManualContext(ctx context.Context, bookingID string, actor *string) (ManualContext, error) {
    snap, err := a.takeSnapshot(ctx, bookingID)
    if err != nil {
        return ManualContext{}, err
    }
    sess, err := a.GetOrCreateManualSession(ctx, bookingID, actor)
    if err != nil {
        return ManualContext{}, err
    }
    out := ManualContext{
        SessionID:        sess.ID,
        BookingID:        snap.booking.ID,
        BookingStatus:    snap.booking.Status,
        PartySize:        snap.booking.PartySize,
        Window:           snap.window,
        Holds:            conflictInfo(snap.holds),
        OwnHolds:         conflictInfo(snap.ownHolds),
        ContextVersion:   snap.version,
        SelectionVersion: sess.SelectionVersion,
    }
    for _, t := range sortTables(snap.tables) {
        _, busy := snap.busy[t.ID]
        out.Tables = append(out.Tables, ContextTable{
            ID:        t.ID,
            Label:     t.Label(),
            Capacity:  t.Capacity,
            ZoneID:    t.ZoneID,
            Status:    t.Status,
            Active:    t.Active,
            Available: t.Active && t.Status != model.TableStatusOutOfService && !busy,
        })
    }
    out.Assignments = toAssignmentResults(snap.assignments)
    return out, nil
}

// ValidateSelection checks a staff selection without changing anything.
func (a *Allocator) ValidateSelection(ctx context.Context, bookingID string, tableIDs []string) (ValidationResult, error) {
    snap, err := a.takeSnapshot(ctx, bookingID)
    if err != nil {
        return ValidationResult{}, err
    }
    res := a.validate(snap, tableIDs)
    sess, err := a.GetOrCreateManualSession(ctx, bookingID, nil)
    if err != nil {
        return ValidationResult{}, err
    }
    res.SelectionVersion = sess.SelectionVersion
    return res, nil
}

func (a *Allocator) validate(snap snapshot, selection []string) ValidationResult {
    ids := dedupeSorted(selection)
    res := ValidationResult{TableIDs: ids, ContextVersion: snap.version}
    byID := make(map[string]model.Table, len(snap.tables))
    for _, t := range snap.tables {
        byID[t.ID] = t
    }
    add := func(name string, ok bool, severity, msg string) {
        c := ValidationCheck{Name: name, OK: ok, Severity: severity}
        if !ok {
            c.Message = msg
        }
        res.Checks = append(res.Checks, c)
    }

    add("selection", len(ids) > 0, severityError, "select at least one table")

    var selected []model.Table
    var missing, unavailable []string
    zones := map[string]struct{}{}
    for _, id := range ids {
        t, ok := byID[id]
        if !ok {
            missing = append(missing, id)
            continue
        }
        selected = append(selected, t)
        res.TotalCapacity += t.Capacity
        zones[t.ZoneID] = struct{}{}
        _, busy := snap.busy[id]
        if !t.Active || t.Status == model.TableStatusOutOfService || busy {
            unavailable = append(unavailable, t.Label())
        }
    }
    add("tables_exist", len(missing) == 0, severityError, "unknown tables: "+strings.Join(missing, ", "))
    add("tables_available", len(unavailable) == 0, severityError, "not available in this window: "+strings.Join(unavailable, ", "))

    party := snap.booking.PartySize
    res.Slack = res.TotalCapacity - party
    add("capacity", res.TotalCapacity >= party, severityError,
        fmt.Sprintf("selected capacity %d is below party size %d", res.TotalCapacity, party))

    cfg := a.cfg.Selector
    add("overage", res.Slack <= cfg.MaxOverage, severityWarn,
        fmt.Sprintf("%d spare seats exceeds the preferred maximum of %d", res.Slack, cfg.MaxOverage))
    add("table_count", cfg.MaxTables <= 0 || len(ids) <= cfg.MaxTables, severityWarn,
        fmt.Sprintf("%d tables exceeds the usual maximum of %d", len(ids), cfg.MaxTables))

    add("zone", len(zones) <= 1, severityError, "tables span more than one zone")
    if len(zones) == 1 {
        for z := range zones {
            res.ZoneID = z
        }
    }

    res.AdjacencyOK = true
    if len(selected) > 1 {
        connected, _ := snap.graph.Connected(tableIDs(selected))
        res.AdjacencyOK = connected
    }
    severity := severityWarn
    if cfg.adjacencyRequired(party) {
        severity = severityError
    }
    add("adjacency", res.AdjacencyOK, severity, "selected tables are not adjacent")

    res.OK = true
    for _, c := range res.Checks {
        if !c.OK && c.Severity == severityError {
            res.OK = false
        }
    }
    return res
}

func invalidSelection(res ValidationResult) error {
    var msgs []string
    for _, c := range res.Checks {
        if !c.OK && c.Severity == severityError {
            msgs = append(msgs, c.Message)
        }
    }
    return &InputError{Code: "INVALID_SELECTION", Message: strings.Join(msgs, "; ")}
}

// HoldSelection validates a selection against a fresh context and holds
// it.  The session's selection version advances on success.
func (a *Allocator) HoldSelection(ctx context.Context, req ManualHoldRequest) (ManualHoldResult, error) {
    snap, err := a.takeSnapshot(ctx, req.BookingID)
    if err != nil {
        return ManualHoldResult{}, err
    }
    if req.ContextVersion != "" && req.ContextVersion != snap.version {
        return ManualHoldResult{}, &StaleContextError{Expected: snap.version, Provided: req.ContextVersion}
    }
    res := a.validate(snap, req.TableIDs)
    sess, err := a.GetOrCreateManualSession(ctx, req.BookingID, req.Actor)
    if err != nil {
        return ManualHoldResult{}, err
    }
    res.SelectionVersion = sess.SelectionVersion
    if !res.OK {
        return ManualHoldResult{Validation: res, Session: sess}, invalidSelection(res)
    }

    hold, err := a.holdFor(ctx, snap, res, req.HoldTTLSeconds, req.Actor)
    if err != nil {
        return ManualHoldResult{}, err
    }
    sess, err = a.bumpSession(ctx, sess, snap.version)
    if err != nil {
        return ManualHoldResult{}, err
    }
    res.SelectionVersion = sess.SelectionVersion
    return ManualHoldResult{Hold: hold, Validation: res, Session: sess}, nil
}

func (a *Allocator) holdFor(ctx context.Context, snap snapshot, res ValidationResult, ttlSeconds int, actor *string) (model.TableHold, error) {
    bookingID := snap.booking.ID
    in := CreateHoldInput{
        BookingID:    &bookingID,
        RestaurantID: snap.booking.RestaurantID,
        ZoneID:       res.ZoneID,
        TableIDs:     res.TableIDs,
        Window:       snap.window.Block,
        CreatedBy:    actor,
        Replace:      holdIDs(snap.ownHolds),
    }
    if ttlSeconds > 0 {
        in.TTL = secondsDuration(ttlSeconds)
    }
    hold, err := a.holds.CreateHold(ctx, in)
    if err != nil {
        return model.TableHold{}, sessionConflict(err, "")
    }
    return hold, nil
}

func (a *Allocator) bumpSession(ctx context.Context, sess model.ManualSession, contextVersion string) (model.ManualSession, error) {
    next, err := a.store.BumpSessionVersion(ctx, sess.ID, sess.SelectionVersion, contextVersion)
    if errors.Is(err, repository.ErrVersionMismatch) {
        return model.ManualSession{}, &StaleContextError{
            Expected: strconv.FormatInt(sess.SelectionVersion+1, 10),
            Provided: strconv.FormatInt(sess.SelectionVersion, 10),
        }
    }
    return next, err
}

// ConfirmSessionHold confirms a manual selection.  The caller's context
// version must match the live one and the session's selection version is
// advanced with a compare-and-swap before anything is written, so of two
// staff members confirming from the same view only one proceeds.
func (a *Allocator) ConfirmSessionHold(ctx context.Context, req ManualConfirmRequest) (ManualConfirmResult, error) {
    if req.HoldID == "" && len(req.TableIDs) == 0 {
        return ManualConfirmResult{}, &InputError{Code: "INVALID_CONFIRM", Message: "hold id or table ids are required"}
    }
    if res, ok, err := a.replayedConfirm(ctx, req); err != nil || ok {
        return res, err
    }

    snap, err := a.takeSnapshot(ctx, req.BookingID)
    if err != nil {
        return ManualConfirmResult{}, err
    }
    if req.ContextVersion != snap.version {
        return ManualConfirmResult{}, &StaleContextError{Expected: snap.version, Provided: req.ContextVersion}
    }
    sess, err := a.GetOrCreateManualSession(ctx, req.BookingID, req.Actor)
    if err != nil {
        return ManualConfirmResult{}, err
    }
    if req.SelectionVersion != nil && *req.SelectionVersion != sess.SelectionVersion {
        return ManualConfirmResult{}, &StaleContextError{
            Expected: strconv.FormatInt(sess.SelectionVersion, 10),
            Provided: strconv.FormatInt(*req.SelectionVersion, 10),
        }
    }
    var selection ValidationResult
    if req.HoldID == "" {
        selection = a.validate(snap, req.TableIDs)
        if !selection.OK {
            return ManualConfirmResult{}, invalidSelection(selection)
        }
    }
    sess, err = a.bumpSession(ctx, sess, snap.version)
    if err != nil {
        return ManualConfirmResult{}, err
    }

    holdID := req.HoldID
    if holdID == "" {
        hold, err := a.holdFor(ctx, snap, selection, 0, req.Actor)
        if err != nil {
            return ManualConfirmResult{}, err
        }
        holdID = hold.ID
    }
    key := req.IdempotencyKey
    if key == "" {
        key = DeriveIdempotencyKey("manual", req.BookingID, holdID, strconv.FormatInt(sess.SelectionVersion, 10))
    }

    out, err := a.AtomicConfirmAndTransition(ctx, AtomicConfirmInput{
        BookingID:      req.BookingID,
        HoldID:         holdID,
        IdempotencyKey: key,
        Actor:          req.Actor,
        Reason:         "manual table assignment",
        Metadata:       map[string]string{"source": "manual", "session_id": sess.ID},
    })
    if err != nil {
        return ManualConfirmResult{}, sessionConflict(err, holdID)
    }
    a.log.WithFields(logrus.Fields{
        "booking_id":        req.BookingID,
        "hold_id":           holdID,
        "selection_version": sess.SelectionVersion,
    }).Info("manual: selection confirmed")
    return ManualConfirmResult{
        HoldID:       holdID,
        Assignments:  out.Assignments,
        Replayed:     out.Replayed,
        Transitioned: out.Transitioned,
        Status:       out.Status,
        Session:      sess,
    }, nil
}

// replayedConfirm answers a repeated confirmation from the stored rows.
// A successful confirm changes the booking's status and therefore the
// context version, so the normal stale check would reject the retry.  The
// key is matched through the confirmation ledger; a retry naming a
// different hold than the one confirmed under the key is a conflict.
func (a *Allocator) replayedConfirm(ctx context.Context, req ManualConfirmRequest) (ManualConfirmResult, bool, error) {
    if req.IdempotencyKey == "" {
        return ManualConfirmResult{}, false, nil
    }
    conf, err := a.store.GetConfirmation(ctx, req.BookingID, req.IdempotencyKey)
    if errors.Is(err, repository.ErrNotFound) {
        return ManualConfirmResult{}, false, nil
    }
    if err != nil {
        return ManualConfirmResult{}, false, err
    }
    if req.HoldID != "" && req.HoldID != conf.HoldID {
        return ManualConfirmResult{}, false, &ConfirmConflictError{HoldID: req.HoldID}
    }
    rows, err := a.store.ListAssignmentsForBooking(ctx, req.BookingID)
    if err != nil {
        return ManualConfirmResult{}, false, err
    }
    var matched []model.Assignment
    for _, r := range rows {
        if r.IdempotencyKey == req.IdempotencyKey {
            matched = append(matched, r)
        }
    }
    booking, err := a.store.GetBooking(ctx, req.BookingID)
    if err != nil {
        return ManualConfirmResult{}, false, err
    }
    sess, err := a.GetOrCreateManualSession(ctx, req.BookingID, req.Actor)
    if err != nil {
        return ManualConfirmResult{}, false, err
    }
    return ManualConfirmResult{
        HoldID:      conf.HoldID,
        Assignments: toAssignmentResults(matched),
        Replayed:    true,
        Status:      booking.Status,
        Session:     sess,
    }, true, nil
}

// sessionConflict wraps hold and assignment conflicts so the caller can
// tell "someone else just took that table" apart from other failures.
func sessionConflict(err error, holdID string) error {
    var hc *HoldConflictError
    var ac *AssignTablesConflictError
    switch {
    case errors.As(err, &hc):
        sc := &SessionConflictError{HoldID: holdID, Cause: err}
        for _, c := range hc.Conflicts {
            if c.BookingID != nil {
                sc.BookingID = *c.BookingID
                break
            }
        }
        if sc.HoldID == "" && len(hc.Conflicts) > 0 {
            sc.HoldID = hc.Conflicts[0].HoldID
        }
        return sc
    case errors.As(err, &ac):
        return &SessionConflictError{HoldID: holdID, BookingID: ac.BookingID, Cause: err}
    }
    return err
}

func holdIDs(holds []model.TableHold) []string {
    ids := make([]string, len(holds))
    for i, h := range holds {
        ids[i] = h.ID
    }
    return ids
}
