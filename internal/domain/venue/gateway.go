// Package venue defines the contract between the engine and an exchange.
package venue

import (
	"context"
	"errors"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// ErrStreamClosed is returned by Stream.Next after Close or when the venue ends the feed.
var ErrStreamClosed = errors.New("venue stream closed")

// Stream delivers validated push events in arrival order.
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

// Gateway is bound to one account and one instrument at construction.
//
// Place is never retried by implementations: a failed placement may still have
// reached the book. Every other call is safe to repeat.
type Gateway interface {
	Name() string
	Place(ctx context.Context, req schema.OrderRequest) (schema.OrderSnapshot, error)
	Query(ctx context.Context, id int64) (schema.OrderSnapshot, error)
	Cancel(ctx context.Context, id int64) (schema.OrderSnapshot, error)
	OpenOrders(ctx context.Context) ([]schema.OrderSnapshot, error)
	Quote(ctx context.Context) (schema.Quote, error)
	DialQuotes(ctx context.Context) (Stream[schema.Quote], error)
	DialExecutions(ctx context.Context) (Stream[schema.Execution], error)
}
