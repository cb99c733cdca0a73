package capacity

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// ServiceKey names a service period such as lunch or dinner.
type ServiceKey string

const (
    ServiceLunch  ServiceKey = "lunch"
    ServiceDinner ServiceKey = "dinner"
    ServiceDrinks ServiceKey = "drinks"
)

// TurnBand maps a party-size ceiling to a dining duration.
type TurnBand struct {
    MaxPartySize    int `yaml:"max_party_size" json:"max_party_size"`
    DurationMinutes int `yaml:"duration_minutes" json:"duration_minutes"`
}

// ServicePolicy describes one service period.  Start and End are local
// "HH:MM" clock times; an End at or before Start rolls into the next day.
type ServicePolicy struct {
    Key                      ServiceKey `yaml:"key" json:"key"`
    Label                    string     `yaml:"label" json:"label"`
    Start                    string     `yaml:"start" json:"start"`
    End                      string     `yaml:"end" json:"end"`
    BufferPreMinutes         int        `yaml:"buffer_pre_minutes" json:"buffer_pre_minutes"`
    BufferPostMinutes        int        `yaml:"buffer_post_minutes" json:"buffer_post_minutes"`
    LastSeatingBufferMinutes int        `yaml:"last_seating_buffer_minutes" json:"last_seating_buffer_minutes"`
    AllowOverrun             bool       `yaml:"allow_overrun" json:"allow_overrun"`
    TurnBands                []TurnBand `yaml:"turn_bands" json:"turn_bands"`
}

// DemandRuleConfig is a demand rule as written in the policy file.
// Days are English weekday names; Start/End are "HH:MM".
type DemandRuleConfig struct {
    Label      string   `yaml:"label"`
    Service    string   `yaml:"service"`
    Days       []string `yaml:"days"`
    Start      string   `yaml:"start"`
    End        string   `yaml:"end"`
    Multiplier float64  `yaml:"multiplier"`
    Priority   int      `yaml:"priority"`
}

// VenuePolicy carries everything the window calculator and the demand
// resolver need to know about how a venue runs its services.  Services
// are tried in slice order when resolving which one a start time falls in.
type VenuePolicy struct {
    Timezone                 string             `yaml:"timezone"`
    Services                 []ServicePolicy    `yaml:"services"`
    DefaultDurationMinutes   int                `yaml:"default_duration_minutes"`
    MaxDurationMinutes       int                `yaml:"max_duration_minutes"`
    ClampedDurationMinutes   int                `yaml:"clamped_duration_minutes"`
    FailHardOnMissingService bool               `yaml:"fail_hard_on_missing_service"`
    DemandRules              []DemandRuleConfig `yaml:"demand_rules"`
    Weights                  *ScoringWeights    `yaml:"weights,omitempty"`
}

// DefaultPolicy returns the built-in venue policy: Europe/London, lunch
// 12:00-15:00 and dinner 17:00-22:00 with a five minute post buffer.
func DefaultPolicy() VenuePolicy {
    return VenuePolicy{
        Timezone: "Europe/London",
        Services: []ServicePolicy{
            {
                Key: ServiceLunch, Label: "Lunch", Start: "12:00", End: "15:00",
                BufferPostMinutes: 5,
                TurnBands: []TurnBand{
                    {MaxPartySize: 2, DurationMinutes: 60},
                    {MaxPartySize: 4, DurationMinutes: 75},
                    {MaxPartySize: 6, DurationMinutes: 85},
                    {MaxPartySize: 8, DurationMinutes: 85},
                },
            },
            {
                Key: ServiceDinner, Label: "Dinner", Start: "17:00", End: "22:00",
                BufferPostMinutes: 5,
                TurnBands: []TurnBand{
                    {MaxPartySize: 2, DurationMinutes: 60},
                    {MaxPartySize: 4, DurationMinutes: 75},
                    {MaxPartySize: 6, DurationMinutes: 85},
                    {MaxPartySize: 8, DurationMinutes: 90},
                },
            },
        },
        DefaultDurationMinutes: 90,
        MaxDurationMinutes:     300,
        ClampedDurationMinutes: 80,
    }
}

// Service returns the service with the given key.
func (p VenuePolicy) Service(key ServiceKey) (ServicePolicy, bool) {
    for _, s := range p.Services {
        if s.Key == key {
            return s, true
        }
    }
    return ServicePolicy{}, false
}

// WithTimezone returns a copy of the policy using tz when tz is non-empty.
func (p VenuePolicy) WithTimezone(tz string) VenuePolicy {
    if tz != "" {
        p.Timezone = tz
    }
    return p
}

// Validate checks that clock times parse and that every service has at
// least one turn band.
func (p VenuePolicy) Validate() error {
    if _, err := time.LoadLocation(p.Timezone); err != nil {
        return fmt.Errorf("policy: timezone %q: %w", p.Timezone, err)
    }
    if len(p.Services) == 0 {
        return fmt.Errorf("policy: no services configured")
    }
    for _, s := range p.Services {
        if _, err := parseClock(s.Start); err != nil {
            return fmt.Errorf("policy: service %s start: %w", s.Key, err)
        }
        if _, err := parseClock(s.End); err != nil {
            return fmt.Errorf("policy: service %s end: %w", s.Key, err)
        }
        if len(s.TurnBands) == 0 {
            return fmt.Errorf("policy: service %s has no turn bands", s.Key)
        }
    }
    for _, r := range p.DemandRules {
        if _, err := r.toModel(); err != nil {
            return fmt.Errorf("policy: demand rule %s: %w", r.Label, err)
        }
    }
    return nil
}

// bandDuration picks the first band whose ceiling fits the party, or the
// last band when the party is larger than all of them.
func (s ServicePolicy) bandDuration(partySize int) int {
    if len(s.TurnBands) == 0 {
        return 0
    }
    if partySize <= 0 {
        return s.TurnBands[0].DurationMinutes
    }
    for _, b := range s.TurnBands {
        if partySize <= b.MaxPartySize {
            return b.DurationMinutes
        }
    }
    return s.TurnBands[len(s.TurnBands)-1].DurationMinutes
}

// bounds resolves the service's [start, end) on the local date of day.
func (s ServicePolicy) bounds(day time.Time) (time.Time, time.Time, error) {
    startMin, err := parseClock(s.Start)
    if err != nil {
        return time.Time{}, time.Time{}, err
    }
    endMin, err := parseClock(s.End)
    if err != nil {
        return time.Time{}, time.Time{}, err
    }
    y, m, d := day.Date()
    midnight := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
    start := midnight.Add(time.Duration(startMin) * time.Minute)
    end := midnight.Add(time.Duration(endMin) * time.Minute)
    if !end.After(start) {
        end = end.AddDate(0, 0, 1)
    }
    return start, end, nil
}

// parseClock converts "HH:MM" (or "HH:MM:SS") into minutes after midnight.
func parseClock(v string) (int, error) {
    parts := strings.Split(strings.TrimSpace(v), ":")
    if len(parts) < 2 || len(parts) > 3 {
        return 0, fmt.Errorf("invalid clock time %q", v)
    }
    h, err := strconv.Atoi(parts[0])
    if err != nil || h < 0 || h > 24 {
        return 0, fmt.Errorf("invalid clock time %q", v)
    }
    m, err := strconv.Atoi(parts[1])
    if err != nil || m < 0 || m > 59 {
        return 0, fmt.Errorf("invalid clock time %q", v)
    }
    if h == 24 && m != 0 {
        return 0, fmt.Errorf("invalid clock time %q", v)
    }
    return h*60 + m, nil
}

// ScoringWeights are the planner's cost weights.  Every term is a cost, so
// a lower total score is a better plan.
type ScoringWeights struct {
    Overage       float64 `yaml:"overage" json:"overage"`
    TableCount    float64 `yaml:"table_count" json:"table_count"`
    Fragmentation float64 `yaml:"fragmentation" json:"fragmentation"`
    ZoneBalance   float64 `yaml:"zone_balance" json:"zone_balance"`
    AdjacencyCost float64 `yaml:"adjacency_cost" json:"adjacency_cost"`
    Scarcity      float64 `yaml:"scarcity" json:"scarcity"`
}

// SearchBudget bounds combination enumeration.  Reaching any of the three
// limits stops the search and marks the result as truncated; it never
// turns into an error.  A zero Timeout disables the wall-clock limit.
type SearchBudget struct {
    MaxPlansPerSlack int
    MaxEvaluations   int
    Timeout          time.Duration
}

// DefaultSearchBudget returns 50 plans per slack bucket, 500 evaluations
// and a 250ms enumeration timeout.
func DefaultSearchBudget() SearchBudget {
    return SearchBudget{MaxPlansPerSlack: 50, MaxEvaluations: 500, Timeout: 250 * time.Millisecond}
}

// SelectorConfig is the complete, explicit configuration of one planner
// run.
type SelectorConfig struct {
    Weights            ScoringWeights
    MaxOverage         int
    MaxTables          int
    EnableCombinations bool
    RequireAdjacency   bool
    // AdjacencyMinPartySize gates RequireAdjacency: smaller parties may
    // be seated at non-adjacent merges.  Zero means always enforced.
    AdjacencyMinPartySize int
    // AllowMaxPartyBypass lets a table whose max party size is below the
    // party still join a merge.  Singles always respect the bound.
    AllowMaxPartyBypass bool
    Budget              SearchBudget
}

// DefaultSelectorConfig returns weights 5/3/2/4/1 with scarcity 2, a
// maximum overage of two seats and merges of up to three tables.
func DefaultSelectorConfig() SelectorConfig {
    return SelectorConfig{
        Weights: ScoringWeights{
            Overage:       5,
            TableCount:    3,
            Fragmentation: 2,
            ZoneBalance:   4,
            AdjacencyCost: 1,
            Scarcity:      2,
        },
        MaxOverage:         2,
        MaxTables:          3,
        EnableCombinations: true,
        RequireAdjacency:   true,
        Budget:             DefaultSearchBudget(),
    }
}

func (c SelectorConfig) adjacencyRequired(partySize int) bool {
    if !c.RequireAdjacency {
        return false
    }
    return c.AdjacencyMinPartySize <= 0 || partySize >= c.AdjacencyMinPartySize
}
