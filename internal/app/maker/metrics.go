package maker

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/marketmaker/internal/infra/telemetry"
)

type feedMetrics struct {
	environment string
	venue       string
	symbol      string

	reconnects metric.Int64Counter
	events     metric.Int64Counter
}

func newFeedMetrics(venue, symbol string) *feedMetrics {
	meter := otel.Meter("maker")
	m := &feedMetrics{
		environment: telemetry.Environment(),
		venue:       venue,
		symbol:      symbol,
	}
	m.reconnects, _ = meter.Int64Counter("marketmaker_feed_reconnects",
		metric.WithDescription("Feed connections lost or refused"),
		metric.WithUnit("{reconnect}"))
	m.events, _ = meter.Int64Counter("marketmaker_feed_events",
		metric.WithDescription("Events delivered by a feed"),
		metric.WithUnit("{event}"))
	return m
}

func (m *feedMetrics) recordReconnect(ctx context.Context, feed, state string) {
	if m == nil || m.reconnects == nil {
		return
	}
	attrs := append(telemetry.OrderAttributes(m.environment, m.venue, m.symbol, "", ""),
		telemetry.AttrFeed.String(feed),
		telemetry.AttrConnectionState.String(state))
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *feedMetrics) recordEvent(ctx context.Context, feed string) {
	if m == nil || m.events == nil {
		return
	}
	attrs := append(telemetry.OrderAttributes(m.environment, m.venue, m.symbol, "", ""),
		telemetry.AttrFeed.String(feed))
	m.events.Add(ctx, 1, metric.WithAttributes(attrs...))
}
