package config // package config loads application configuration from environment variables

import (
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/table-allocation/internal/capacity"
    "github.com/iliyamo/table-allocation/internal/jobs"
)

// Config holds the process-level settings.  Each field corresponds to an
// environment variable; allocator and auto-assign tuning live in their own
// loaders below so each component receives an explicit struct.
type Config struct {
    Env        string // application environment (dev, test, prod)
    Port       string // HTTP port to listen on
    Store      string // "mysql" or "memory"
    DBUser     string
    DBPass     string // may be empty
    DBHost     string
    DBPort     string
    DBName     string
    JWTSecret  string // secret used to verify ops tokens
    PolicyFile string // optional YAML venue policy
    LogLevel   string
    LogFormat  string // "json" or "text"
    AMQPURL    string // empty disables the broker

    SweepInterval   time.Duration // expired hold housekeeping period
    Workers         int           // auto-assign workers
    QueueSize       int           // auto-assign backlog
    JobTimeout      time.Duration // per auto-assign run
    EventBuffer     int           // AMQP telemetry buffer
    ConsumeEvents   bool          // run the allocation.events consumer in-process
    ConsumeRequests bool          // run the allocation.auto_assign consumer in-process
}

// Load reads a .env file when present, then the environment.  Database
// variables are required only when the MySQL store is selected; a missing
// required variable stops the process.
func Load() Config {
    _ = godotenv.Load()

    cfg := Config{
        Env:        envStr("APP_ENV", "dev"),
        Port:       envStr("APP_PORT", "8080"),
        Store:      strings.ToLower(envStr("APP_STORE", "mysql")),
        JWTSecret:  must("JWT_SECRET"),
        PolicyFile: os.Getenv("POLICY_FILE"),
        LogLevel:   envStr("LOG_LEVEL", "info"),
        LogFormat:  envStr("LOG_FORMAT", ""),
        AMQPURL:    envStr("RABBITMQ_URL", os.Getenv("AMQP_URL")),

        SweepInterval:   envDur("HOLD_SWEEP_INTERVAL", time.Minute),
        Workers:         envInt("AUTO_ASSIGN_WORKERS", 4),
        QueueSize:       envInt("AUTO_ASSIGN_QUEUE_SIZE", 256),
        JobTimeout:      envDur("AUTO_ASSIGN_JOB_TIMEOUT", 10*time.Minute),
        EventBuffer:     envInt("EVENT_BUFFER", 1024),
        ConsumeEvents:   envBool("CONSUME_EVENTS", true),
        ConsumeRequests: envBool("CONSUME_AUTO_ASSIGN", true),
    }
    if cfg.LogFormat == "" {
        cfg.LogFormat = "text"
        if cfg.Env == "prod" {
            cfg.LogFormat = "json"
        }
    }
    if cfg.Store == "mysql" {
        cfg.DBUser = must("DB_USER")
        cfg.DBPass = os.Getenv("DB_PASS")
        cfg.DBHost = must("DB_HOST")
        cfg.DBPort = envStr("DB_PORT", "3306")
        cfg.DBName = must("DB_NAME")
    }
    return cfg
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger() *logrus.Logger {
    log := logrus.New()
    if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
        log.SetLevel(lvl)
    }
    if c.LogFormat == "json" {
        log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
    } else {
        log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
    }
    return log
}

// LoadAllocatorConfig builds the allocator configuration on top of the
// given venue policy.
func LoadAllocatorConfig(policy capacity.VenuePolicy) capacity.Config {
    def := capacity.DefaultConfig()
    sel := def.Selector
    if policy.Weights != nil {
        sel.Weights = *policy.Weights
    }
    sel.MaxOverage = envInt("SELECTOR_MAX_OVERAGE", sel.MaxOverage)
    sel.MaxTables = envInt("SELECTOR_MAX_TABLES", sel.MaxTables)
    sel.EnableCombinations = envBool("SELECTOR_ENABLE_COMBINATIONS", sel.EnableCombinations)
    sel.RequireAdjacency = envBool("SELECTOR_REQUIRE_ADJACENCY", sel.RequireAdjacency)
    sel.AdjacencyMinPartySize = envInt("SELECTOR_ADJACENCY_MIN_PARTY", sel.AdjacencyMinPartySize)
    sel.AllowMaxPartyBypass = envBool("SELECTOR_ALLOW_MAX_PARTY_BYPASS", sel.AllowMaxPartyBypass)
    sel.Budget.MaxPlansPerSlack = envInt("PLANNER_MAX_PLANS_PER_SLACK", sel.Budget.MaxPlansPerSlack)
    sel.Budget.MaxEvaluations = envInt("PLANNER_MAX_EVALUATIONS", sel.Budget.MaxEvaluations)
    sel.Budget.Timeout = envDur("PLANNER_TIMEOUT", sel.Budget.Timeout)
    if sel.MaxTables < 1 {
        sel.MaxTables = 1
    }
    if sel.MaxOverage < 0 {
        sel.MaxOverage = 0
    }

    return capacity.Config{
        Policy:            policy,
        Selector:          sel,
        HoldTTL:           envDur("HOLD_TTL", def.HoldTTL),
        QuoteHoldAttempts: envInt("QUOTE_HOLD_ATTEMPTS", def.QuoteHoldAttempts),
        ScarcityTTL:       envDur("SCARCITY_CACHE_TTL", def.ScarcityTTL),
        DemandTTL:         envDur("DEMAND_CACHE_TTL", def.DemandTTL),
        SweepLimit:        envInt("HOLD_SWEEP_LIMIT", def.SweepLimit),
    }
}

// LoadAutoAssignConfig reads the auto-assign retry schedule.
// AUTO_ASSIGN_RETRY_DELAYS is a comma separated list of durations ("5s,15s")
// or plain seconds ("5,15").
func LoadAutoAssignConfig() jobs.Config {
    def := jobs.DefaultConfig()
    return jobs.Config{
        MaxRetries:  envInt("AUTO_ASSIGN_MAX_RETRIES", def.MaxRetries),
        RetryDelays: envDurList("AUTO_ASSIGN_RETRY_DELAYS", def.RetryDelays),
        StartCutoff: envDur("AUTO_ASSIGN_START_CUTOFF", def.StartCutoff),
        HoldTTL:     envDur("AUTO_ASSIGN_HOLD_TTL", def.HoldTTL),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty the process exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        logrus.Fatalf("missing required env var: %s", key)
    }
    return v
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    switch strings.ToLower(os.Getenv(k)) {
    case "1", "true", "yes", "on":
        return true
    case "0", "false", "no", "off":
        return false
    }
    return d
}

func envInt(k string, d int) int {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if n, err := strconv.Atoi(v); err == nil {
        return n
    }
    return d
}

func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    if dur, err := parseDuration(v); err == nil {
        return dur
    }
    return d
}

// envDurList falls back to d when any element fails to parse.
func envDurList(k string, d []time.Duration) []time.Duration {
    v := os.Getenv(k)
    if v == "" {
        return d
    }
    var out []time.Duration
    for _, p := range strings.Split(v, ",") {
        p = strings.TrimSpace(p)
        if p == "" {
            continue
        }
        dur, err := parseDuration(p)
        if err != nil || dur < 0 {
            return d
        }
        out = append(out, dur)
    }
    if len(out) == 0 {
        return d
    }
    return out
}

// parseDuration accepts Go durations and bare integers as seconds.
func parseDuration(s string) (time.Duration, error) {
    if n, err := strconv.Atoi(s); err == nil {
        return time.Duration(n) * time.Second, nil
    }
    return time.ParseDuration(s)
}
