// Package postgres implements the order journal on PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/marketmaker/internal/domain/orderstore"
)

// OrderStore persists order lifecycle information.
type OrderStore struct {
	pool *pgxpool.Pool
}

var _ orderstore.Store = (*OrderStore)(nil)

// NewOrderStore constructs an OrderStore backed by the provided pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const (
	orderInsertSQL = `
INSERT INTO orders (
    id,
    venue,
    account,
    symbol,
    side,
    kind,
    price,
    price_usd,
    quantity,
    state,
    placed_at,
    updated_at
)
VALUES (
    @id,
    @venue,
    @account,
    @symbol,
    @side,
    @kind,
    @price,
    @price_usd,
    @quantity,
    @state,
    @placed_at,
    @placed_at
)
ON CONFLICT (id) DO NOTHING;
`

	orderUpdateSQL = `
UPDATE orders
SET state = @state,
    remote_id = COALESCE(@remote_id, remote_id),
    filled = GREATEST(filled, @filled),
    metadata = metadata || @metadata::jsonb,
    updated_at = @updated_at
WHERE id = @id;
`

	fillInsertSQL = `
INSERT INTO fills (
    order_id,
    remote_id,
    price,
    quantity,
    notional_usd,
    traded_at
)
VALUES (
    @order_id,
    @remote_id,
    @price,
    @quantity,
    @notional_usd,
    @traded_at
)
ON CONFLICT (order_id, traded_at, price, quantity) DO NOTHING;
`

	orderSelectBase = `
SELECT
    id::text,
    venue,
    account,
    symbol,
    side,
    kind,
    price,
    quantity,
    state,
    remote_id,
    filled,
    placed_at,
    updated_at
FROM orders
`

	fillSelectSQL = `
SELECT
    order_id::text,
    remote_id,
    price,
    quantity,
    traded_at
FROM fills
WHERE order_id = $1
ORDER BY traded_at, created_at
`

	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *OrderStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("order store: nil pool")
	}
	return s.pool, nil
}

// CreateOrder inserts a new order. Replays of the same id are ignored.
func (s *OrderStore) CreateOrder(ctx context.Context, order orderstore.Order) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return fmt.Errorf("order store: order id required")
	}
	priceUSD, err := centsToDollars(order.Price)
	if err != nil {
		return fmt.Errorf("order store: %w", err)
	}
	args := pgx.NamedArgs{
		"id":        order.ID,
		"venue":     strings.TrimSpace(order.Venue),
		"account":   strings.TrimSpace(order.Account),
		"symbol":    strings.TrimSpace(order.Symbol),
		"side":      strings.ToLower(strings.TrimSpace(order.Side)),
		"kind":      strings.TrimSpace(order.Kind),
		"price":     order.Price,
		"price_usd": priceUSD,
		"quantity":  order.Quantity,
		"state":     strings.TrimSpace(order.State),
		"placed_at": timestampOrNow(order.PlacedAt),
	}
	return execNamed(ctx, pool, orderInsertSQL, args, "insert order")
}

// UpdateOrder applies a lifecycle transition. Metadata is merged into the
// stored object and the filled quantity never decreases.
func (s *OrderStore) UpdateOrder(ctx context.Context, update orderstore.OrderUpdate) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(update.ID) == "" {
		return fmt.Errorf("order store: order id required")
	}
	metadata, err := encodeMetadata(update.Metadata)
	if err != nil {
		return err
	}
	args := pgx.NamedArgs{
		"id":         strings.TrimSpace(update.ID),
		"state":      strings.TrimSpace(update.State),
		"remote_id":  nullableInt64(update.RemoteID),
		"filled":     update.Filled,
		"metadata":   metadata,
		"updated_at": timestampOrNow(update.UpdatedAt),
	}
	return execNamed(ctx, pool, orderUpdateSQL, args, "update order")
}

// RecordFill stores a fill. Fills are keyed like the engine dedupes them, so
// replays are ignored.
func (s *OrderStore) RecordFill(ctx context.Context, fill orderstore.Fill) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(fill.OrderID) == "" {
		return fmt.Errorf("order store: fill order id required")
	}
	notional, err := notionalDollars(fill.Price, fill.Quantity)
	if err != nil {
		return fmt.Errorf("order store: %w", err)
	}
	args := pgx.NamedArgs{
		"order_id":     strings.TrimSpace(fill.OrderID),
		"remote_id":    fill.RemoteID,
		"price":        fill.Price,
		"quantity":     fill.Quantity,
		"notional_usd": notional,
		"traded_at":    timestampOrNow(fill.TradedAt),
	}
	return execNamed(ctx, pool, fillInsertSQL, args, "insert fill")
}

// ListOrders retrieves persisted orders matching the supplied query filters,
// newest first.
func (s *OrderStore) ListOrders(ctx context.Context, query orderstore.OrderQuery) ([]orderstore.OrderRecord, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	limit := clampLimit(query.Limit, defaultOrderLimit, maxOrderLimit)

	builder := strings.Builder{}
	builder.WriteString(orderSelectBase)
	builder.WriteString(" WHERE 1=1")

	args := make([]any, 0, 3)
	argPos := 1

	if trimmed := strings.ToUpper(strings.TrimSpace(query.Symbol)); trimmed != "" {
		fmt.Fprintf(&builder, " AND symbol = $%d", argPos)
		args = append(args, trimmed)
		argPos++
	}
	if states := normalizedStates(query.States); len(states) > 0 {
		fmt.Fprintf(&builder, " AND state = ANY($%d)", argPos)
		args = append(args, states)
		argPos++
	}
	fmt.Fprintf(&builder, " ORDER BY placed_at DESC, id LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := pool.Query(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("order store: list orders: %w", err)
	}
	defer rows.Close()

	var records []orderstore.OrderRecord
	for rows.Next() {
		var (
			record   orderstore.OrderRecord
			remoteID pgtype.Int8
		)
		if err := rows.Scan(
			&record.ID,
			&record.Venue,
			&record.Account,
			&record.Symbol,
			&record.Side,
			&record.Kind,
			&record.Price,
			&record.Quantity,
			&record.State,
			&remoteID,
			&record.Filled,
			&record.PlacedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("order store: scan order: %w", err)
		}
		if remoteID.Valid {
			id := remoteID.Int64
			record.RemoteID = &id
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order store: iterate orders: %w", err)
	}
	return records, nil
}

// ListFills returns the fills recorded for an order in trade order.
func (s *OrderStore) ListFills(ctx context.Context, orderID string) ([]orderstore.Fill, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(orderID)
	if trimmed == "" {
		return nil, fmt.Errorf("order store: order id required")
	}
	rows, err := pool.Query(ctx, fillSelectSQL, trimmed)
	if err != nil {
		return nil, fmt.Errorf("order store: list fills: %w", err)
	}
	fills, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orderstore.Fill, error) {
		var fill orderstore.Fill
		err := row.Scan(&fill.OrderID, &fill.RemoteID, &fill.Price, &fill.Quantity, &fill.TradedAt)
		return fill, err
	})
	if err != nil {
		return nil, fmt.Errorf("order store: scan fills: %w", err)
	}
	return fills, nil
}

func execNamed(ctx context.Context, exec execer, sql string, args pgx.NamedArgs, what string) error {
	if _, err := exec.Exec(ctx, sql, args); err != nil {
		return fmt.Errorf("order store: %s: %w", what, err)
	}
	return nil
}

func encodeMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("order store: encode metadata: %w", err)
	}
	return data, nil
}

func nullableInt64(ptr *int64) any {
	if ptr == nil {
		return nil
	}
	return *ptr
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

func clampLimit(value, fallback, maximum int) int {
	if value <= 0 {
		return fallback
	}
	if value > maximum {
		return maximum
	}
	return value
}

func normalizedStates(states []string) []string {
	if len(states) == 0 {
		return nil
	}
	out := make([]string, 0, len(states))
	for _, state := range states {
		trimmed := strings.ToUpper(strings.TrimSpace(state))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
