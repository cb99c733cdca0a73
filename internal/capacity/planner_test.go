package capacity

import (
    "math/rand"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/table-allocation/internal/model"
)

func planFor(party int, tables []model.Table, edges []model.AdjacencyEdge, mutate func(*PlannerInput)) PlanResult {
    in := PlannerInput{
        PartySize: party,
        Tables:    tables,
        Adjacency: NewAdjacencyGraph(edges),
        Scarcity:  HeuristicScarcity(tables, nil),
        Config:    DefaultSelectorConfig(),
    }
    if mutate != nil {
        mutate(&in)
    }
    return PlanCandidates(in)
}

var floorEdges = []model.AdjacencyEdge{{TableA: "t-a1", TableB: "t-a2"}}

func TestPlanPrefersExactSingleOverMerge(t *testing.T) {
    res := planFor(6, floorTables(), floorEdges, nil)
    require.Len(t, res.Plans, 2)
    assert.Equal(t, RejectionNone, res.Rejection)

    best, merge := res.Plans[0], res.Plans[1]
    assert.Equal(t, "B1", best.Key)
    assert.Equal(t, AdjacencySingle, best.AdjacencyStatus)
    assert.Equal(t, 0, best.Slack)

    assert.Equal(t, "A1+A2", merge.Key)
    assert.Equal(t, []string{"t-a1", "t-a2"}, merge.TableIDs)
    assert.Equal(t, AdjacencyAdjacent, merge.AdjacencyStatus)
    assert.Equal(t, 2, merge.Metrics.Overage)
    assert.Equal(t, 4, merge.Metrics.Fragmentation)
    assert.Equal(t, 1, merge.Metrics.AdjacencyCost)
    assert.Greater(t, merge.Score, best.Score)
}

func TestPlanIsDeterministicUnderInputOrder(t *testing.T) {
    tables := []model.Table{
        table("t1", "T1", 2, "main"), table("t2", "T2", 2, "main"), table("t3", "T3", 2, "main"),
        table("t4", "T4", 4, "main"), table("t5", "T5", 4, "main"), table("t6", "T6", 6, "main"),
    }
    edges := []model.AdjacencyEdge{
        {TableA: "t1", TableB: "t2"}, {TableA: "t2", TableB: "t3"}, {TableA: "t3", TableB: "t4"},
        {TableA: "t4", TableB: "t5"}, {TableA: "t5", TableB: "t6"},
    }
    first := planFor(6, tables, edges, nil)
    require.NotEmpty(t, first.Plans)

    rng := rand.New(rand.NewSource(7))
    for i := 0; i < 10; i++ {
        shuffled := append([]model.Table(nil), tables...)
        rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
        again := planFor(6, shuffled, edges, nil)
        require.Len(t, again.Plans, len(first.Plans))
        for j := range first.Plans {
            assert.Equal(t, first.Plans[j].Key, again.Plans[j].Key)
            assert.Equal(t, first.Plans[j].Score, again.Plans[j].Score)
        }
    }
}

func TestPlanCombinationsRespectBounds(t *testing.T) {
    tables := []model.Table{
        table("t1", "T1", 2, "main"), table("t2", "T2", 2, "main"), table("t3", "T3", 2, "main"),
        table("t4", "T4", 2, "main"), table("t5", "T5", 4, "main"), table("t6", "T6", 2, "bar"),
    }
    edges := []model.AdjacencyEdge{
        {TableA: "t1", TableB: "t2"}, {TableA: "t2", TableB: "t3"}, {TableA: "t3", TableB: "t4"},
        {TableA: "t1", TableB: "t5"}, {TableA: "t4", TableB: "t6"},
    }
    res := planFor(6, tables, edges, nil)
    require.NotEmpty(t, res.Plans)

    graph := NewAdjacencyGraph(edges)
    for _, p := range res.Plans {
        assert.GreaterOrEqual(t, p.TotalCapacity, 6, p.Key)
        assert.LessOrEqual(t, p.TotalCapacity, 8, p.Key)
        assert.LessOrEqual(t, len(p.TableIDs), 3, p.Key)
        connected, _ := graph.Connected(p.TableIDs)
        assert.True(t, connected, p.Key)
        for _, tb := range p.Tables {
            assert.Equal(t, p.ZoneID, tb.ZoneID, p.Key)
        }
    }
    keys := make([]string, 0, len(res.Plans))
    for _, p := range res.Plans {
        keys = append(keys, p.Key)
    }
    assert.Contains(t, keys, "T1+T2+T3")
    assert.Contains(t, keys, "T2+T3+T4")
    assert.Contains(t, keys, "T1+T5")
    assert.NotContains(t, keys, "T1+T3+T5")
}

func TestPlanWithoutAdjacencyFlagsViolation(t *testing.T) {
    tables := []model.Table{table("t1", "T1", 4, "main"), table("t2", "T2", 4, "main")}

    strict := planFor(8, tables, nil, nil)
    assert.Empty(t, strict.Plans)
    assert.Equal(t, RejectionStrategic, strict.Rejection)
    assert.NotEmpty(t, strict.Reason)

    loose := planFor(8, tables, nil, func(in *PlannerInput) { in.Config.RequireAdjacency = false })
    require.Len(t, loose.Plans, 1)
    assert.Equal(t, AdjacencyViolated, loose.Plans[0].AdjacencyStatus)
    assert.Equal(t, 2, loose.Plans[0].Metrics.AdjacencyCost)
}

func TestPlanHardRejection(t *testing.T) {
    res := planFor(4, nil, nil, nil)
    assert.Empty(t, res.Plans)
    assert.Equal(t, RejectionHard, res.Rejection)

    busy := map[string]struct{}{"t-a1": {}, "t-a2": {}, "t-b1": {}}
    res = planFor(6, floorTables(), floorEdges, func(in *PlannerInput) { in.Busy = busy })
    assert.Empty(t, res.Plans)
    assert.Equal(t, RejectionHard, res.Rejection)
    assert.Equal(t, 3, res.Diagnostics.Skipped[SkipBusy])
    assert.Equal(t, 1, res.Diagnostics.AvailableTables)
}

func TestPlanSkipsUnavailableTables(t *testing.T) {
    tables := floorTables()
    tables[2].Status = model.TableStatusOutOfService
    tables[0].Active = false
    res := planFor(6, tables, floorEdges, nil)
    assert.Empty(t, res.Plans)
    assert.Equal(t, 1, res.Diagnostics.Skipped[SkipInactive])
    assert.Equal(t, 1, res.Diagnostics.Skipped[SkipOutOfService])
}

func TestPlanPartyBounds(t *testing.T) {
    minSix, maxTwo := 6, 2
    tables := []model.Table{table("t1", "T1", 8, "main"), table("t2", "T2", 4, "main")}
    tables[0].MinPartySize = &minSix
    tables[1].MaxPartySize = &maxTwo

    res := planFor(4, tables, nil, func(in *PlannerInput) { in.Config.MaxOverage = 4 })
    assert.Empty(t, res.Plans)
    assert.Equal(t, 2, res.Diagnostics.Skipped[SkipCapacity])
}

func TestPlanEvaluationBudgetTruncates(t *testing.T) {
    tables := []model.Table{
        table("t1", "T1", 2, "main"), table("t2", "T2", 2, "main"), table("t3", "T3", 2, "main"),
        table("t4", "T4", 2, "main"),
    }
    edges := []model.AdjacencyEdge{
        {TableA: "t1", TableB: "t2"}, {TableA: "t2", TableB: "t3"}, {TableA: "t3", TableB: "t4"},
    }
    res := planFor(4, tables, edges, func(in *PlannerInput) { in.Config.Budget.MaxEvaluations = 1 })
    assert.True(t, res.Diagnostics.Truncated)
    assert.Equal(t, 1, res.Diagnostics.Evaluations)
    assert.Equal(t, 1, res.Diagnostics.Skipped[SkipLimit])
    assert.Len(t, res.Plans, 1)
}

func TestPlanDemandScalesOverage(t *testing.T) {
    calm := planFor(6, floorTables(), floorEdges, func(in *PlannerInput) { in.DemandMultiplier = 1 })
    busy := planFor(6, floorTables(), floorEdges, func(in *PlannerInput) { in.DemandMultiplier = 2 })
    require.Len(t, calm.Plans, 2)
    require.Len(t, busy.Plans, 2)
    assert.Greater(t, busy.Plans[1].Score, calm.Plans[1].Score)
}

func TestAdjacencyGraphMirrorsEdges(t *testing.T) {
    g := NewAdjacencyGraph([]model.AdjacencyEdge{{TableA: "a", TableB: "b"}, {TableA: "c", TableB: "b"}})
    assert.True(t, g.Adjacent("b", "a"))
    assert.Equal(t, []string{"a", "c"}, g.Neighbors("b"))

    ok, depths := g.Connected([]string{"a", "b", "c"})
    assert.True(t, ok)
    assert.Equal(t, 2, depths["c"])

    ok, _ = g.Connected([]string{"a", "c"})
    assert.False(t, ok)
}
