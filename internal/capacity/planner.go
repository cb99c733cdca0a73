package capacity

import (
    "math"
    "sort"
    "strings"
    "time"

    "github.com/iliyamo/table-allocation/internal/model"
)

// AdjacencyStatus classifies how the tables of a plan relate.
type AdjacencyStatus string

const (
    AdjacencySingle   AdjacencyStatus = "single"
    AdjacencyAdjacent AdjacencyStatus = "adjacent"
    AdjacencyViolated AdjacencyStatus = "violated"
)

// RejectionKind is returned by the planner with every result.  Hard means
// there is not enough free capacity at all; Strategic means capacity
// exists but policy or search limits excluded every plan.
type RejectionKind string

const (
    RejectionNone      RejectionKind = "none"
    RejectionHard      RejectionKind = "hard"
    RejectionStrategic RejectionKind = "strategic"
)

// SkipReason labels why a table or a combination was discarded.
type SkipReason string

const (
    SkipInactive     SkipReason = "inactive"
    SkipOutOfService SkipReason = "out_of_service"
    SkipBusy         SkipReason = "busy"
    SkipCapacity     SkipReason = "capacity"
    SkipOverage      SkipReason = "overage"
    SkipAdjacency    SkipReason = "adjacency"
    SkipKMax         SkipReason = "kmax"
    SkipZone         SkipReason = "zone"
    SkipLimit        SkipReason = "limit"
    SkipBucket       SkipReason = "bucket"
    SkipTimeout      SkipReason = "timeout"
)

const (
    reasonNoCapacity = "No tables meet the capacity requirements for this party size."
    reasonStrategic  = "Capacity exists but no table plan satisfies the seating policy."
)

// PlanMetrics are the raw cost terms of a plan before weighting.
type PlanMetrics struct {
    Overage       int     `json:"overage"`
    TableCount    int     `json:"table_count"`
    Fragmentation int     `json:"fragmentation"`
    ZoneBalance   int     `json:"zone_balance"`
    AdjacencyCost int     `json:"adjacency_cost"`
    Scarcity      float64 `json:"scarcity"`
    Demand        float64 `json:"demand"`
}

// CandidatePlan is one ranked seating option.
type CandidatePlan struct {
    Tables          []model.Table   `json:"-"`
    TableIDs        []string        `json:"table_ids"`
    TotalCapacity   int             `json:"total_capacity"`
    Slack           int             `json:"slack"`
    AdjacencyStatus AdjacencyStatus `json:"adjacency_status"`
    ZoneID          string          `json:"zone_id"`
    Metrics         PlanMetrics     `json:"metrics"`
    Score           float64         `json:"score"`
    Key             string          `json:"key"`
}

// PlanDiagnostics explains what the planner looked at and why it dropped
// what it dropped.
type PlanDiagnostics struct {
    SinglesConsidered      int                `json:"singles_considered"`
    CombinationsEnumerated int                `json:"combinations_enumerated"`
    CombinationsAccepted   int                `json:"combinations_accepted"`
    Evaluations            int                `json:"evaluations"`
    AvailableTables        int                `json:"available_tables"`
    AvailableSeats         int                `json:"available_seats"`
    Skipped                map[SkipReason]int `json:"skipped"`
    KMax                   int                `json:"k_max"`
    Budget                 SearchBudget       `json:"budget"`
    Truncated              bool               `json:"truncated"`
    Elapsed                time.Duration      `json:"elapsed"`
}

// PlanResult is the planner output.
type PlanResult struct {
    Plans       []CandidatePlan `json:"plans"`
    Rejection   RejectionKind   `json:"rejection"`
    Reason      string          `json:"reason,omitempty"`
    Diagnostics PlanDiagnostics `json:"diagnostics"`
}

// PlannerInput is everything one planner run needs.  Busy holds the IDs
// of tables already claimed for the window by other holds or
// assignments; Scarcity is keyed by table ID.
type PlannerInput struct {
    PartySize        int
    Tables           []model.Table
    Adjacency        *AdjacencyGraph
    Busy             map[string]struct{}
    Scarcity         map[string]float64
    DemandMultiplier float64
    Config           SelectorConfig
    Clock            func() time.Time
}

// PlanCandidates filters tables, enumerates singles and bounded adjacent
// merges, scores them and returns them best first.  The output depends
// only on the input (apart from a timeout truncation), so repeated runs
// produce identical orderings.
func PlanCandidates(in PlannerInput) PlanResult {
    clock := in.Clock
    if clock == nil {
        clock = time.Now
    }
    started := clock()
    cfg := in.Config
    graph := in.Adjacency
    if graph == nil {
        graph = NewAdjacencyGraph(nil)
    }
    demand := in.DemandMultiplier
    if demand <= 0 {
        demand = 1
    }
    kMax := cfg.MaxTables
    if kMax < 1 {
        kMax = 1
    }
    budget := cfg.Budget
    def := DefaultSearchBudget()
    if budget.MaxPlansPerSlack < 1 {
        budget.MaxPlansPerSlack = def.MaxPlansPerSlack
    }
    if budget.MaxEvaluations < 1 {
        budget.MaxEvaluations = def.MaxEvaluations
    }

    p := &planner{
        party:       in.PartySize,
        maxCapacity: in.PartySize + maxInt(cfg.MaxOverage, 0),
        kMax:        kMax,
        requireAdj:  cfg.adjacencyRequired(in.PartySize),
        weights:     cfg.Weights,
        demand:      demand,
        scarcity:    in.Scarcity,
        graph:       graph,
        tracker:     newBudgetTracker(budget, started, clock),
        seen:        make(map[string]struct{}),
        buckets:     make(map[int][]CandidatePlan),
        diag: PlanDiagnostics{
            Skipped: make(map[SkipReason]int),
            KMax:    kMax,
            Budget:  budget,
        },
    }

    var singles, pool []model.Table
    for _, t := range sortTables(in.Tables) {
        if !t.Active {
            p.skip(SkipInactive)
            continue
        }
        if t.Status == model.TableStatusOutOfService {
            p.skip(SkipOutOfService)
            continue
        }
        if _, busy := in.Busy[t.ID]; busy {
            p.skip(SkipBusy)
            continue
        }
        if t.Capacity <= 0 {
            p.skip(SkipCapacity)
            continue
        }
        p.diag.AvailableTables++
        p.diag.AvailableSeats += t.Capacity

        if t.MinPartySize != nil && *t.MinPartySize > 0 && in.PartySize < *t.MinPartySize {
            p.skip(SkipCapacity)
            continue
        }
        if t.Capacity > p.maxCapacity {
            p.skip(SkipOverage)
            continue
        }
        withinMax := t.MaxPartySize == nil || *t.MaxPartySize <= 0 || in.PartySize <= *t.MaxPartySize
        if !withinMax && !(cfg.AllowMaxPartyBypass && cfg.EnableCombinations) {
            p.skip(SkipCapacity)
            continue
        }
        pool = append(pool, t)
        if withinMax && t.Capacity >= in.PartySize {
            singles = append(singles, t)
        }
    }
    p.pool = pool
    p.diag.SinglesConsidered = len(singles)

    plans := make([]CandidatePlan, 0, len(singles))
    for _, t := range singles {
        plans = append(plans, p.build([]model.Table{t}, map[string]int{t.ID: 0}, AdjacencySingle))
    }
    if cfg.EnableCombinations && kMax > 1 && len(pool) > 1 {
        plans = append(plans, p.combinations()...)
    }
    sort.SliceStable(plans, func(i, j int) bool { return lessPlan(plans[i], plans[j]) })

    res := PlanResult{Plans: plans, Rejection: RejectionNone}
    if len(plans) == 0 {
        if p.diag.AvailableTables == 0 || p.diag.AvailableSeats < in.PartySize {
            res.Rejection = RejectionHard
            res.Reason = reasonNoCapacity
        } else {
            res.Rejection = RejectionStrategic
            res.Reason = reasonStrategic
        }
    }
    p.diag.Truncated = p.tracker.stopped != "" || p.diag.Skipped[SkipBucket] > 0
    p.diag.Elapsed = clock().Sub(started)
    res.Diagnostics = p.diag
    return res
}

// budgetTracker is the single place where enumeration decides to stop.
type budgetTracker struct {
    budget      SearchBudget
    deadline    time.Time
    clock       func() time.Time
    evaluations int
    stopped     SkipReason
}

func newBudgetTracker(b SearchBudget, started time.Time, clock func() time.Time) *budgetTracker {
    t := &budgetTracker{budget: b, clock: clock}
    if b.Timeout > 0 {
        t.deadline = started.Add(b.Timeout)
    }
    return t
}

// exhausted reports whether the search must stop before visiting another
// node.
func (t *budgetTracker) exhausted() bool {
    if t.stopped != "" {
        return true
    }
    if !t.deadline.IsZero() && t.clock().After(t.deadline) {
        t.stopped = SkipTimeout
        return true
    }
    return false
}

// spend records one evaluated combination.
func (t *budgetTracker) spend() {
    t.evaluations++
    if t.evaluations >= t.budget.MaxEvaluations && t.stopped == "" {
        t.stopped = SkipLimit
    }
}

type planner struct {
    party       int
    maxCapacity int
    kMax        int
    requireAdj  bool
    weights     ScoringWeights
    demand      float64
    scarcity    map[string]float64
    graph       *AdjacencyGraph
    pool        []model.Table
    tracker     *budgetTracker
    seen        map[string]struct{}
    buckets     map[int][]CandidatePlan
    diag        PlanDiagnostics
}

func (p *planner) skip(r SkipReason) { p.diag.Skipped[r]++ }

// combinations runs the bounded depth-first search.  The pool is sorted by
// ascending capacity, so once adding a table overshoots the capacity cap
// every later table would too.  With adjacency required, growth may pick
// any later table touching the selection, not only those after the last
// pick, so connected sets are found whatever their index order.
func (p *planner) combinations() []CandidatePlan {
    for i := range p.pool {
        if p.tracker.exhausted() {
            break
        }
        base := p.pool[i]
        p.grow(i, i+1, []model.Table{base}, base.Capacity, base.ZoneID)
    }
    if p.tracker.stopped != "" {
        p.skip(p.tracker.stopped)
    }
    p.diag.Evaluations = p.tracker.evaluations

    var out []CandidatePlan
    slacks := make([]int, 0, len(p.buckets))
    for s := range p.buckets {
        slacks = append(slacks, s)
    }
    sort.Ints(slacks)
    for _, s := range slacks {
        out = append(out, p.buckets[s]...)
    }
    return out
}

func (p *planner) grow(baseIdx, from int, sel []model.Table, capSum int, zone string) {
    if p.tracker.exhausted() {
        return
    }
    if len(sel) >= 2 && capSum >= p.party {
        p.diag.CombinationsEnumerated++
        p.evaluate(sel)
        p.tracker.spend()
        if p.tracker.exhausted() {
            return
        }
    }
    if len(sel) >= p.kMax {
        p.skip(SkipKMax)
        return
    }
    start := from
    if p.requireAdj {
        start = baseIdx + 1
    }
    for i := start; i < len(p.pool); i++ {
        if p.tracker.exhausted() {
            return
        }
        c := p.pool[i]
        if containsTable(sel, c.ID) {
            continue
        }
        if zone != "" && c.ZoneID != "" && c.ZoneID != zone {
            p.skip(SkipZone)
            continue
        }
        next := capSum + c.Capacity
        if next > p.maxCapacity {
            p.skip(SkipOverage)
            break
        }
        if p.requireAdj && !p.graph.adjacentToAny(c.ID, sel) {
            p.skip(SkipAdjacency)
            continue
        }
        nz := zone
        if nz == "" {
            nz = c.ZoneID
        }
        grown := make([]model.Table, len(sel), len(sel)+1)
        copy(grown, sel)
        p.grow(baseIdx, i+1, append(grown, c), next, nz)
    }
}

func (p *planner) evaluate(sel []model.Table) {
    key := planKey(sel)
    if _, dup := p.seen[key]; dup {
        return
    }
    p.seen[key] = struct{}{}
    connected, depths := p.graph.Connected(tableIDs(sel))
    if !connected && p.requireAdj {
        p.skip(SkipAdjacency)
        return
    }
    status := AdjacencyAdjacent
    if !connected {
        status = AdjacencyViolated
    }
    plan := p.build(sel, depths, status)
    bucket := append(p.buckets[plan.Slack], plan)
    sort.SliceStable(bucket, func(i, j int) bool { return lessPlan(bucket[i], bucket[j]) })
    if len(bucket) > p.tracker.budget.MaxPlansPerSlack {
        bucket = bucket[:p.tracker.budget.MaxPlansPerSlack]
        p.skip(SkipBucket)
    }
    p.buckets[plan.Slack] = bucket
    p.diag.CombinationsAccepted++
}

// build computes metrics and the weighted score of a table set.
func (p *planner) build(sel []model.Table, depths map[string]int, status AdjacencyStatus) CandidatePlan {
    tables := make([]model.Table, len(sel))
    copy(tables, sel)
    sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })

    total, largest := 0, 0
    zones := make(map[string]struct{})
    scarcity := 0.0
    for _, t := range tables {
        total += t.Capacity
        if t.Capacity > largest {
            largest = t.Capacity
        }
        zones[t.ZoneID] = struct{}{}
        scarcity += p.scarcity[t.ID]
    }
    depth := 0
    for _, d := range depths {
        if d > depth {
            depth = d
        }
    }
    if len(depths) < len(tables) && len(tables) > depth {
        depth = len(tables)
    }
    m := PlanMetrics{
        Overage:       maxInt(total-p.party, 0),
        TableCount:    len(tables),
        Fragmentation: maxInt(total-largest, 0),
        ZoneBalance:   maxInt(len(zones)-1, 0),
        AdjacencyCost: depth,
        Scarcity:      round4(scarcity),
        Demand:        p.demand,
    }
    w := p.weights
    score := float64(m.Overage)*w.Overage*p.demand +
        float64(m.TableCount-1)*w.TableCount +
        float64(m.Fragmentation)*w.Fragmentation +
        float64(m.ZoneBalance)*w.ZoneBalance +
        float64(m.AdjacencyCost)*w.AdjacencyCost +
        m.Scarcity*w.Scarcity*p.demand

    return CandidatePlan{
        Tables:          tables,
        TableIDs:        tableIDs(tables),
        TotalCapacity:   total,
        Slack:           total - p.party,
        AdjacencyStatus: status,
        ZoneID:          tables[0].ZoneID,
        Metrics:         m,
        Score:           round4(score),
        Key:             planKey(tables),
    }
}

// lessPlan orders plans by score, then fewer tables, then lower total
// capacity, then plan key and finally joined IDs.
func lessPlan(a, b CandidatePlan) bool {
    if a.Score != b.Score {
        return a.Score < b.Score
    }
    if a.Metrics.TableCount != b.Metrics.TableCount {
        return a.Metrics.TableCount < b.Metrics.TableCount
    }
    if a.TotalCapacity != b.TotalCapacity {
        return a.TotalCapacity < b.TotalCapacity
    }
    if a.Key != b.Key {
        return a.Key < b.Key
    }
    return strings.Join(a.TableIDs, ",") < strings.Join(b.TableIDs, ",")
}

// planKey is the sorted table labels joined by "+", e.g. "A1+A2".
func planKey(tables []model.Table) string {
    labels := make([]string, len(tables))
    for i, t := range tables {
        labels[i] = t.Label()
    }
    sort.Strings(labels)
    return strings.Join(labels, "+")
}

func sortTables(in []model.Table) []model.Table {
    out := make([]model.Table, len(in))
    copy(out, in)
    sort.SliceStable(out, func(i, j int) bool {
        if out[i].Capacity != out[j].Capacity {
            return out[i].Capacity < out[j].Capacity
        }
        if out[i].Label() != out[j].Label() {
            return out[i].Label() < out[j].Label()
        }
        return out[i].ID < out[j].ID
    })
    return out
}

func tableIDs(tables []model.Table) []string {
    ids := make([]string, len(tables))
    for i, t := range tables {
        ids[i] = t.ID
    }
    return ids
}

func containsTable(tables []model.Table, id string) bool {
    for _, t := range tables {
        if t.ID == id {
            return true
        }
    }
    return false
}

func maxInt(a, b int) int {
    if a > b {
        return a
    }
    return b
}

func round4(v float64) float64 {
    return math.Round(v*1e4) / 1e4
}
