// Package telemetry provides the OpenTelemetry bootstrap and the decision
// metrics the engine emits.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	decisionCounter  metric.Int64Counter
	cacheHitCounter  metric.Int64Counter
	degradedCounter  metric.Int64Counter
	latencyHistogram metric.Float64Histogram
)

// DecisionMetrics captures the fields recorded per evaluation.
type DecisionMetrics struct {
	Outcome  domain.Outcome
	Cached   bool
	Degraded bool
	Duration time.Duration
}

// RecordDecision emits the counters and latency histogram for one decision.
func RecordDecision(ctx context.Context, m DecisionMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("decision.outcome", string(m.Outcome)),
		attribute.Bool("decision.cached", m.Cached),
	}

	decisionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Cached {
		cacheHitCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Degraded {
		degradedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.Duration > 0 {
		latencyHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("decision.engine")

		decisionCounter, metricsInitErr = meter.Int64Counter(
			"engine.decisions_total",
			metric.WithDescription("Decisions partitioned by outcome and cache status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		cacheHitCounter, metricsInitErr = meter.Int64Counter(
			"engine.cache_hits_total",
			metric.WithDescription("Decisions served from the fingerprint cache"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		degradedCounter, metricsInitErr = meter.Int64Counter(
			"engine.degraded_decisions_total",
			metric.WithDescription("Decisions produced under partial failure"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		latencyHistogram, metricsInitErr = meter.Float64Histogram(
			"engine.decision_duration_ms",
			metric.WithDescription("End-to-end evaluation latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}
