package telemetry

import (
    "context"
    "fmt"

    "github.com/prometheus/client_golang/prometheus"
)

// PrometheusEmitter counts events and records planner and auto-assign
// observations carried in event fields.
type PrometheusEmitter struct {
    events       *prometheus.CounterVec
    planDuration prometheus.Histogram
    planCount    prometheus.Histogram
    attempts     *prometheus.HistogramVec
}

// NewPrometheusEmitter creates the collectors and registers them with reg.
func NewPrometheusEmitter(reg prometheus.Registerer) (*PrometheusEmitter, error) {
    p := &PrometheusEmitter{
        events: prometheus.NewCounterVec(
            prometheus.CounterOpts{
                Name: "allocation_events_total",
                Help: "Allocation events emitted, by event name",
            },
            []string{"event"},
        ),
        planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
            Name:    "allocation_planner_duration_seconds",
            Help:    "Time spent enumerating and scoring table plans",
            Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
        }),
        planCount: prometheus.NewHistogram(prometheus.HistogramOpts{
            Name:    "allocation_planner_plans",
            Help:    "Number of candidate plans returned per quote",
            Buckets: prometheus.LinearBuckets(0, 5, 10),
        }),
        attempts: prometheus.NewHistogramVec(
            prometheus.HistogramOpts{
                Name:    "allocation_auto_assign_attempts",
                Help:    "Attempts used by finished auto-assign runs, by result",
                Buckets: prometheus.LinearBuckets(0, 1, 12),
            },
            []string{"result"},
        ),
    }
    for _, c := range []prometheus.Collector{p.events, p.planDuration, p.planCount, p.attempts} {
        if err := reg.Register(c); err != nil {
            return nil, fmt.Errorf("telemetry: register collector: %w", err)
        }
    }
    return p, nil
}

func (p *PrometheusEmitter) Emit(_ context.Context, e Event) {
    p.events.WithLabelValues(e.Name).Inc()
    switch e.Name {
    case EventSelectorQuote, EventSelectorSkipped:
        if v, ok := number(e.Fields["planner_seconds"]); ok {
            p.planDuration.Observe(v)
        }
        if v, ok := number(e.Fields["plans"]); ok {
            p.planCount.Observe(v)
        }
    case EventAutoAssignSummary:
        result, _ := e.Fields["result"].(string)
        if v, ok := number(e.Fields["attempts"]); ok {
            p.attempts.WithLabelValues(result).Observe(v)
        }
    }
}

func number(v interface{}) (float64, bool) {
    switch n := v.(type) {
    case int:
        return float64(n), true
    case int64:
        return float64(n), true
    case float64:
        return n, true
    }
    return 0, false
}
