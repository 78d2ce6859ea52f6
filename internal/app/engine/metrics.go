package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/infra/telemetry"
)

type engineMetrics struct {
	environment string
	venue       string
	symbol      string

	ordersPlaced  metric.Int64Counter
	placeLatency  metric.Float64Histogram
	ordersRecover metric.Int64Counter
	ordersLost    metric.Int64Counter
	cancels       metric.Int64Counter
	fills         metric.Int64Counter
	escalations   metric.Int64Counter
	bufferedFills metric.Int64Counter
	position      metric.Int64ObservableGauge
	exposure      metric.Int64ObservableGauge
	registration  metric.Registration
}

func newEngineMetrics(cfg Config, l *Ledger) *engineMetrics {
	meter := otel.Meter("engine")
	m := &engineMetrics{
		environment: telemetry.Environment(),
		venue:       cfg.Venue,
		symbol:      cfg.Symbol,
	}

	m.ordersPlaced, _ = meter.Int64Counter("marketmaker_orders_placed",
		metric.WithDescription("Placement attempts by outcome"),
		metric.WithUnit("{order}"))
	m.placeLatency, _ = meter.Float64Histogram("marketmaker_order_place_latency",
		metric.WithDescription("Round trip of the placement call"),
		metric.WithUnit("ms"))
	m.ordersRecover, _ = meter.Int64Counter("marketmaker_orders_recovered",
		metric.WithDescription("Orders whose remote id was recovered after a failed placement"),
		metric.WithUnit("{order}"))
	m.ordersLost, _ = meter.Int64Counter("marketmaker_orders_lost",
		metric.WithDescription("Orders whose recovery window elapsed without a match"),
		metric.WithUnit("{order}"))
	m.cancels, _ = meter.Int64Counter("marketmaker_cancels",
		metric.WithDescription("Cancel requests by outcome"),
		metric.WithUnit("{cancel}"))
	m.fills, _ = meter.Int64Counter("marketmaker_fills",
		metric.WithDescription("Distinct fills merged into the ledger"),
		metric.WithUnit("{fill}"))
	m.escalations, _ = meter.Int64Counter("marketmaker_escalations",
		metric.WithDescription("Circuit breaker openings"),
		metric.WithUnit("{escalation}"))
	m.bufferedFills, _ = meter.Int64Counter("marketmaker_executions_buffered",
		metric.WithDescription("Executions received before their order id was known"),
		metric.WithUnit("{execution}"))
	m.position, _ = meter.Int64ObservableGauge("marketmaker_position",
		metric.WithDescription("Net filled position"),
		metric.WithUnit("{share}"))
	m.exposure, _ = meter.Int64ObservableGauge("marketmaker_exposure",
		metric.WithDescription("Position plus outstanding quantity on one side"),
		metric.WithUnit("{share}"))

	if l != nil && m.position != nil && m.exposure != nil {
		m.registration, _ = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			base := m.base()
			o.ObserveInt64(m.position, l.Position(), metric.WithAttributes(base...))
			for _, side := range []schema.Side{schema.SideBuy, schema.SideSell} {
				attrs := append(m.base(), telemetry.AttrOrderSide.String(string(side)))
				o.ObserveInt64(m.exposure, l.Exposure(side), metric.WithAttributes(attrs...))
			}
			return nil
		}, m.position, m.exposure)
	}
	return m
}

func (m *engineMetrics) base() []attribute.KeyValue {
	return telemetry.OrderAttributes(m.environment, m.venue, m.symbol, "", "")
}

func (m *engineMetrics) close() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}

func (m *engineMetrics) recordPlacement(ctx context.Context, req schema.OrderRequest, result string, latency time.Duration) {
	if m == nil || m.ordersPlaced == nil {
		return
	}
	attrs := telemetry.OrderAttributes(m.environment, m.venue, req.Symbol, string(req.Side), string(req.Kind))
	m.ordersPlaced.Add(ctx, 1, metric.WithAttributes(append(attrs, telemetry.AttrResult.String(result))...))
	if m.placeLatency != nil {
		m.placeLatency.Record(ctx, float64(latency.Milliseconds()), metric.WithAttributes(attrs...))
	}
}

func (m *engineMetrics) recordRecovered(ctx context.Context, via string) {
	if m == nil || m.ordersRecover == nil {
		return
	}
	m.ordersRecover.Add(ctx, 1, metric.WithAttributes(append(m.base(), telemetry.AttrReason.String(via))...))
}

func (m *engineMetrics) recordLost(ctx context.Context) {
	if m == nil || m.ordersLost == nil {
		return
	}
	m.ordersLost.Add(ctx, 1, metric.WithAttributes(m.base()...))
}

func (m *engineMetrics) recordCancel(ctx context.Context, result string) {
	if m == nil || m.cancels == nil {
		return
	}
	m.cancels.Add(ctx, 1, metric.WithAttributes(append(m.base(), telemetry.AttrResult.String(result))...))
}

func (m *engineMetrics) recordFills(ctx context.Context, side schema.Side, n int) {
	if m == nil || m.fills == nil || n == 0 {
		return
	}
	m.fills.Add(ctx, int64(n), metric.WithAttributes(append(m.base(), telemetry.AttrOrderSide.String(string(side)))...))
}

func (m *engineMetrics) recordBuffered(ctx context.Context) {
	if m == nil || m.bufferedFills == nil {
		return
	}
	m.bufferedFills.Add(ctx, 1, metric.WithAttributes(m.base()...))
}

func (m *engineMetrics) recordEscalation(ctx context.Context, op string) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.Add(ctx, 1, metric.WithAttributes(append(m.base(), telemetry.AttrOperation.String(op))...))
}
