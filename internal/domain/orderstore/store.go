// Package orderstore defines the audit journal contract for order lifecycle state.
//
// The journal is write-mostly: the engine never reads it back to rebuild
// state, recovery always goes to the venue.
package orderstore

import (
	"context"
	"time"
)

// Order is the journal row written when the engine registers a new order.
type Order struct {
	ID       string    `json:"id"`
	Venue    string    `json:"venue"`
	Account  string    `json:"account"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Kind     string    `json:"kind"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	State    string    `json:"state"`
	PlacedAt time.Time `json:"placedAt"`
}

// OrderUpdate captures a lifecycle transition of an existing order.
type OrderUpdate struct {
	ID        string         `json:"id"`
	State     string         `json:"state"`
	RemoteID  *int64         `json:"remoteId,omitempty"`
	Filled    int64          `json:"filled"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Fill is one execution merged into an order.
type Fill struct {
	OrderID  string    `json:"orderId"`
	RemoteID int64     `json:"remoteId"`
	Price    int64     `json:"price"`
	Quantity int64     `json:"quantity"`
	TradedAt time.Time `json:"tradedAt"`
}

// OrderRecord is a stored order enriched with its latest state.
type OrderRecord struct {
	Order
	RemoteID  *int64    `json:"remoteId,omitempty"`
	Filled    int64     `json:"filled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OrderQuery scopes order lookups.
type OrderQuery struct {
	Symbol string   `json:"symbol,omitempty"`
	States []string `json:"states,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// Journal receives lifecycle events from the engine.
type Journal interface {
	CreateOrder(ctx context.Context, order Order) error
	UpdateOrder(ctx context.Context, update OrderUpdate) error
	RecordFill(ctx context.Context, fill Fill) error
}

// Store is a journal that can also be queried for audits.
type Store interface {
	Journal
	ListOrders(ctx context.Context, query OrderQuery) ([]OrderRecord, error)
	ListFills(ctx context.Context, orderID string) ([]Fill, error)
}
