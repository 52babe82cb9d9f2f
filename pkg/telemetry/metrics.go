package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal         = "signal_trader_signals_total"
	MetricOrdersPlacedTotal    = "signal_trader_orders_placed_total"
	MetricCleanupFailuresTotal = "signal_trader_cleanup_failures_total"
	MetricGatewayLatency       = "signal_trader_gateway_latency_ms"
)

// MetricsHolder holds the domain instruments
type MetricsHolder struct {
	SignalsTotal         metric.Int64Counter
	OrdersPlacedTotal    metric.Int64Counter
	CleanupFailuresTotal metric.Int64Counter
	GatewayLatency       metric.Float64Histogram
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide instruments.
// They are created on the global meter provider, which delegates to whatever Setup installs later.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = NewMetricsHolder(GetMeter("signal_trader"))
	})
	return globalMetrics
}

// NewMetricsHolder creates the instruments on meter
func NewMetricsHolder(meter metric.Meter) *MetricsHolder {
	m := &MetricsHolder{}
	m.SignalsTotal, _ = meter.Int64Counter(MetricSignalsTotal,
		metric.WithDescription("Signals processed by outcome"))
	m.OrdersPlacedTotal, _ = meter.Int64Counter(MetricOrdersPlacedTotal,
		metric.WithDescription("Orders accepted by the gateway by kind"))
	m.CleanupFailuresTotal, _ = meter.Int64Counter(MetricCleanupFailuresTotal,
		metric.WithDescription("Best-effort cancel/close calls that failed"))
	m.GatewayLatency, _ = meter.Float64Histogram(MetricGatewayLatency,
		metric.WithDescription("Gateway call latency in milliseconds"),
		metric.WithUnit("ms"))
	return m
}

// RecordSignal counts a handled signal
func (m *MetricsHolder) RecordSignal(ctx context.Context, outcome string) {
	if m.SignalsTotal != nil {
		m.SignalsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordOrderPlaced counts an accepted placement. kind is principal, trailing or dca.
func (m *MetricsHolder) RecordOrderPlaced(ctx context.Context, kind string) {
	if m.OrdersPlacedTotal != nil {
		m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordCleanupFailure counts a failed best-effort action
func (m *MetricsHolder) RecordCleanupFailure(ctx context.Context, action string) {
	if m.CleanupFailuresTotal != nil {
		m.CleanupFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
	}
}

// RecordGatewayLatency observes how long a gateway call took
func (m *MetricsHolder) RecordGatewayLatency(ctx context.Context, op string, ms float64) {
	if m.GatewayLatency != nil {
		m.GatewayLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("op", op)))
	}
}
