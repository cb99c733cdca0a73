package config

import (
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/iliyamo/table-allocation/internal/capacity"
)

func TestLoadMemoryStoreSkipsDatabaseVars(t *testing.T) {
    t.Setenv("JWT_SECRET", "s3cret")
    t.Setenv("APP_STORE", "memory")
    t.Setenv("APP_ENV", "prod")
    t.Setenv("AUTO_ASSIGN_WORKERS", "8")
    t.Setenv("HOLD_SWEEP_INTERVAL", "30")

    cfg := Load()
    assert.Equal(t, "memory", cfg.Store)
    assert.Equal(t, "json", cfg.LogFormat)
    assert.Equal(t, 8, cfg.Workers)
    assert.Equal(t, 30*time.Second, cfg.SweepInterval)
    assert.Empty(t, cfg.DBHost)

    log := cfg.NewLogger()
    assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestLoadAllocatorConfig(t *testing.T) {
    t.Setenv("HOLD_TTL", "90s")
    t.Setenv("SELECTOR_MAX_TABLES", "0")
    t.Setenv("SELECTOR_REQUIRE_ADJACENCY", "false")
    t.Setenv("PLANNER_MAX_EVALUATIONS", "42")
    t.Setenv("QUOTE_HOLD_ATTEMPTS", "not-a-number")

    policy := capacity.DefaultPolicy()
    policy.Weights = &capacity.ScoringWeights{Overage: 9}
    cfg := LoadAllocatorConfig(policy)

    assert.Equal(t, 90*time.Second, cfg.HoldTTL)
    assert.Equal(t, 1, cfg.Selector.MaxTables)
    assert.False(t, cfg.Selector.RequireAdjacency)
    assert.Equal(t, 42, cfg.Selector.Budget.MaxEvaluations)
    assert.Equal(t, 3, cfg.QuoteHoldAttempts)
    assert.Equal(t, 9.0, cfg.Selector.Weights.Overage)
    assert.Equal(t, 2, cfg.Selector.MaxOverage)
}

func TestLoadAutoAssignConfig(t *testing.T) {
    t.Setenv("AUTO_ASSIGN_RETRY_DELAYS", "1s, 2, 500ms")
    t.Setenv("AUTO_ASSIGN_START_CUTOFF", "15m")
    cfg := LoadAutoAssignConfig()
    assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 500 * time.Millisecond}, cfg.RetryDelays)
    assert.Equal(t, 15*time.Minute, cfg.StartCutoff)
    assert.Equal(t, 3, cfg.MaxRetries)

    t.Setenv("AUTO_ASSIGN_RETRY_DELAYS", "1s,soon")
    cfg = LoadAutoAssignConfig()
    assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, cfg.RetryDelays)
}

func TestRateLimitConfigFloors(t *testing.T) {
    t.Setenv("RATE_LIMIT_CAPACITY", "0")
    t.Setenv("RATE_LIMIT_REFILL_EVERY", "10s")
    t.Setenv("RATE_LIMIT_TTL", "1s")
    cfg := LoadRateLimitConfig()
    assert.Equal(t, 1, cfg.Capacity)
    assert.Equal(t, 1, cfg.RefillTokens)
    assert.Equal(t, 10*time.Second, cfg.RefillInterval)
    assert.Equal(t, 50*time.Second, cfg.TTL)
}

func TestNewRedisClientDisabled(t *testing.T) {
    t.Setenv("REDIS_ENABLED", "false")
    assert.Nil(t, NewRedisClient(nil))
}

const policyYAML = `
timezone: America/New_York
max_duration_minutes: 240
services:
  - key: dinner
    start: "17:00"
    end: "23:00"
    buffer_post_minutes: 10
    last_seating_buffer_minutes: 30
    turn_bands:
      - {max_party_size: 2, duration_minutes: 70}
      - {max_party_size: 8, duration_minutes: 110}
demand_rules:
  - label: friday rush
    service: dinner
    days: [friday]
    start: "18:00"
    end: "21:00"
    multiplier: 1.5
    priority: 10
weights:
  overage: 6
  table_count: 3
  fragmentation: 2
  zone_balance: 4
  adjacency_cost: 1
  scarcity: 2
`

func TestLoadPolicyFromYAML(t *testing.T) {
    path := filepath.Join(t.TempDir(), "policy.yaml")
    require.NoError(t, os.WriteFile(path, []byte(policyYAML), 0o600))

    p, err := LoadPolicy(path)
    require.NoError(t, err)
    assert.Equal(t, "America/New_York", p.Timezone)
    assert.Equal(t, 240, p.MaxDurationMinutes)
    assert.Equal(t, 80, p.ClampedDurationMinutes)
    require.Len(t, p.Services, 1)
    assert.Equal(t, capacity.ServiceDinner, p.Services[0].Key)
    assert.Equal(t, 110, p.Services[0].TurnBands[1].DurationMinutes)
    require.Len(t, p.DemandRules, 1)
    assert.Equal(t, 1.5, p.DemandRules[0].Multiplier)
    require.NotNil(t, p.Weights)
    assert.Equal(t, 6.0, p.Weights.Overage)
}

func TestLoadPolicyDefaultsAndErrors(t *testing.T) {
    p, err := LoadPolicy("")
    require.NoError(t, err)
    assert.Equal(t, capacity.DefaultPolicy().Timezone, p.Timezone)

    _, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
    assert.Error(t, err)

    _, err = ParsePolicy([]byte("timezone: Mars/Olympus\n"))
    assert.Error(t, err)

    _, err = ParsePolicy([]byte("services:\n  - key: lunch\n    start: \"25:00\"\n    end: \"15:00\"\n    turn_bands: [{max_party_size: 4, duration_minutes: 60}]\n"))
    assert.Error(t, err)
}
