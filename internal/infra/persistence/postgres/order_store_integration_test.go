//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coachpo/marketmaker/internal/domain/orderstore"
	"github.com/coachpo/marketmaker/internal/infra/persistence/migrations"
)

var (
	testPool *pgxpool.Pool
	setupErr error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "marketmaker"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	setupErr = initialiseDatabase(ctx, container)
	exitCode := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	_ = container.Terminate(ctx)
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context, container testcontainers.Container) error {
	host, err := container.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/marketmaker?sslmode=disable", host, port.Port())

	// Postgres restarts once during initialisation; retry until it settles.
	deadline := time.Now().Add(30 * time.Second)
	for {
		err = migrations.Apply(ctx, dsn, migrations.Embedded, nil)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := Connect(ctx, PoolOptions{DSN: dsn, MaxConns: 4})
	if err != nil {
		return err
	}
	testPool = pool
	return nil
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if setupErr != nil {
		t.Skipf("postgres setup unavailable: %v", setupErr)
	}
}

func TestOrderLifecycleRoundTrip(t *testing.T) {
	requireDatabase(t)
	ctx := context.Background()
	store := NewOrderStore(testPool)

	placed := time.Now().UTC().Truncate(time.Microsecond)
	order := orderstore.Order{
		ID:       uuid.NewString(),
		Venue:    "TESTEX",
		Account:  "EXB123456",
		Symbol:   "FOOBAR",
		Side:     "buy",
		Kind:     "limit",
		Price:    5012,
		Quantity: 10,
		State:    "PLACING",
		PlacedAt: placed,
	}
	require.NoError(t, store.CreateOrder(ctx, order))
	// Replays are ignored.
	require.NoError(t, store.CreateOrder(ctx, order))

	remote := int64(9001)
	require.NoError(t, store.UpdateOrder(ctx, orderstore.OrderUpdate{
		ID:        order.ID,
		State:     "OPEN",
		RemoteID:  &remote,
		UpdatedAt: placed.Add(time.Second),
		Metadata:  map[string]any{"from": "PLACING"},
	}))

	fill := orderstore.Fill{OrderID: order.ID, RemoteID: remote, Price: 5010, Quantity: 4, TradedAt: placed.Add(2 * time.Second)}
	require.NoError(t, store.RecordFill(ctx, fill))
	require.NoError(t, store.RecordFill(ctx, fill))
	require.NoError(t, store.UpdateOrder(ctx, orderstore.OrderUpdate{ID: order.ID, State: "OPEN", Filled: 4}))
	// A stale update cannot shrink the filled quantity.
	require.NoError(t, store.UpdateOrder(ctx, orderstore.OrderUpdate{ID: order.ID, State: "CLOSED", Filled: 0}))

	records, err := store.ListOrders(ctx, orderstore.OrderQuery{Symbol: "foobar", States: []string{"closed"}})
	require.NoError(t, err)
	var found *orderstore.OrderRecord
	for i := range records {
		if records[i].ID == order.ID {
			found = &records[i]
		}
	}
	require.NotNil(t, found)
	require.Equal(t, "CLOSED", found.State)
	require.EqualValues(t, 4, found.Filled)
	require.NotNil(t, found.RemoteID)
	require.Equal(t, remote, *found.RemoteID)
	require.True(t, placed.Equal(found.PlacedAt))

	fills, err := store.ListFills(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.EqualValues(t, 5010, fills[0].Price)
	require.EqualValues(t, 4, fills[0].Quantity)

	var priceUSD, notional string
	require.NoError(t, testPool.QueryRow(ctx, `SELECT price_usd::text FROM orders WHERE id = $1`, order.ID).Scan(&priceUSD))
	require.Equal(t, "50.12", priceUSD)
	require.NoError(t, testPool.QueryRow(ctx, `SELECT notional_usd::text FROM fills WHERE order_id = $1`, order.ID).Scan(&notional))
	require.Equal(t, "200.40", notional)
}

func TestRecordFillRequiresKnownOrder(t *testing.T) {
	requireDatabase(t)
	store := NewOrderStore(testPool)
	err := store.RecordFill(context.Background(), orderstore.Fill{OrderID: uuid.NewString(), RemoteID: 1, Price: 1, Quantity: 1, TradedAt: time.Now()})
	require.Error(t, err)
}
