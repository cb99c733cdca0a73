package capacity

import (
    "sort"

    "github.com/iliyamo/table-allocation/internal/model"
)

// AdjacencyGraph is the undirected "may be merged" relation over table
// IDs.  Edges are mirrored on load so a store that keeps only one
// direction still yields a symmetric graph.
type AdjacencyGraph struct {
    edges map[string]map[string]struct{}
}

// NewAdjacencyGraph builds a graph from stored edges.  Self-loops are
// dropped.
func NewAdjacencyGraph(edges []model.AdjacencyEdge) *AdjacencyGraph {
    g := &AdjacencyGraph{edges: make(map[string]map[string]struct{})}
    for _, e := range edges {
        g.Add(e.TableA, e.TableB)
    }
    return g
}

// Add inserts the edge a-b in both directions.
func (g *AdjacencyGraph) Add(a, b string) {
    if a == "" || b == "" || a == b {
        return
    }
    g.link(a, b)
    g.link(b, a)
}

func (g *AdjacencyGraph) link(a, b string) {
    if g.edges[a] == nil {
        g.edges[a] = make(map[string]struct{})
    }
    g.edges[a][b] = struct{}{}
}

// Adjacent reports whether a and b share an edge.
func (g *AdjacencyGraph) Adjacent(a, b string) bool {
    if g == nil {
        return false
    }
    _, ok := g.edges[a][b]
    return ok
}

// Neighbors returns the sorted neighbour IDs of id.
func (g *AdjacencyGraph) Neighbors(id string) []string {
    if g == nil {
        return nil
    }
    out := make([]string, 0, len(g.edges[id]))
    for n := range g.edges[id] {
        out = append(out, n)
    }
    sort.Strings(out)
    return out
}

// adjacentToAny reports whether candidate touches any table of selection.
func (g *AdjacencyGraph) adjacentToAny(candidate string, selection []model.Table) bool {
    for _, t := range selection {
        if g.Adjacent(t.ID, candidate) {
            return true
        }
    }
    return false
}

// Connected runs a BFS from the first ID restricted to ids and reports
// whether every ID was reached, together with each reached ID's hop
// depth from the start.
func (g *AdjacencyGraph) Connected(ids []string) (bool, map[string]int) {
    depths := make(map[string]int, len(ids))
    if len(ids) == 0 {
        return true, depths
    }
    members := make(map[string]struct{}, len(ids))
    for _, id := range ids {
        members[id] = struct{}{}
    }
    depths[ids[0]] = 0
    queue := []string{ids[0]}
    for len(queue) > 0 {
        cur := queue[0]
        queue = queue[1:]
        for _, n := range g.Neighbors(cur) {
            if _, ok := members[n]; !ok {
                continue
            }
            if _, seen := depths[n]; seen {
                continue
            }
            depths[n] = depths[cur] + 1
            queue = append(queue, n)
        }
    }
    return len(depths) == len(members), depths
}
