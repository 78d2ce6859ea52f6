// Package telemetry provides OpenTelemetry wiring and attribute conventions for the market maker.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	// AttrEnvironment annotates every instrument with the deployment environment.
	AttrEnvironment = attribute.Key("environment")
	// AttrVenue identifies the venue the engine trades on.
	AttrVenue = attribute.Key("venue")
	// AttrSymbol identifies the instrument.
	AttrSymbol = attribute.Key("symbol")
	// AttrOrderSide annotates order metrics with buy/sell.
	AttrOrderSide = attribute.Key("order.side")
	// AttrOrderType annotates order metrics with the order type.
	AttrOrderType = attribute.Key("order.type")
	// AttrOrderState annotates lifecycle transitions.
	AttrOrderState = attribute.Key("order.state")
	// AttrOperation names a gateway operation (place, cancel, query, ...).
	AttrOperation = attribute.Key("operation")
	// AttrResult classifies an operation outcome.
	AttrResult = attribute.Key("result")
	// AttrReason carries a short machine-friendly cause.
	AttrReason = attribute.Key("reason")
	// AttrFeed names a push subscription (quotes, executions).
	AttrFeed = attribute.Key("feed")
	// AttrConnectionState annotates feed connection transitions.
	AttrConnectionState = attribute.Key("connection.state")
)

// Result values shared by operation metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// OrderAttributes returns attributes for order-related metrics.
func OrderAttributes(environment, venue, symbol, side, orderType string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
	}
	if symbol != "" {
		attrs = append(attrs, AttrSymbol.String(symbol))
	}
	if side != "" {
		attrs = append(attrs, AttrOrderSide.String(side))
	}
	if orderType != "" {
		attrs = append(attrs, AttrOrderType.String(orderType))
	}
	return attrs
}

// OperationResultAttributes returns attributes for gateway operations with result classification.
func OperationResultAttributes(environment, venue, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}

// ConnectionAttributes returns attributes for feed connection metrics.
func ConnectionAttributes(environment, venue, feed, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrVenue.String(venue),
		AttrFeed.String(feed),
		AttrConnectionState.String(state),
	}
}
