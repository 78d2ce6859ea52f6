package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

func TestSweepWalksPricesUntilFilled(t *testing.T) {
	g := newStub()
	g.place = func(req schema.OrderRequest) (schema.OrderSnapshot, error) {
		switch req.Price {
		case 101:
			return g.rest(req, schema.Fill{Price: 101, Qty: 4, TS: time.Now()}), nil
		case 102:
			return g.rest(req, schema.Fill{Price: 102, Qty: req.Qty, TS: time.Now()}), nil
		default:
			return g.rest(req), nil
		}
	}
	l := newTestLedger(t, g, testConfig())

	res, err := l.Sweep(context.Background(), SweepRequest{
		Side:         schema.SideBuy,
		Amount:       10,
		Low:          100,
		High:         103,
		Step:         1,
		TimeBox:      30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Filled)
	require.Len(t, res.Steps, 3)
	require.Equal(t, []int64{100, 101, 102}, []int64{res.Steps[0].Price, res.Steps[1].Price, res.Steps[2].Price})
	require.Equal(t, int64(6), res.Steps[2].Requested)
	require.True(t, res.Notional.Equal(decimal.RequireFromString("10.16")), "notional %s", res.Notional)
	require.True(t, res.AveragePrice.Equal(decimal.RequireFromString("1.016")), "average %s", res.AveragePrice)
	require.Equal(t, 2, g.cancelCount())
	require.Empty(t, l.Open())
	require.Equal(t, int64(10), l.Position())
}

func TestSweepExhaustsRange(t *testing.T) {
	g := newStub()
	l := newTestLedger(t, g, testConfig())

	res, err := l.Sweep(context.Background(), SweepRequest{
		Side:         schema.SideSell,
		Amount:       5,
		Low:          100,
		High:         104,
		Step:         2,
		TimeBox:      10 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Zero(t, res.Filled)
	require.True(t, res.AveragePrice.IsZero())
	require.Len(t, res.Steps, 3)
	require.Equal(t, int64(104), res.Steps[0].Price)
	require.Equal(t, int64(100), res.Steps[2].Price)
	for _, step := range res.Steps {
		require.Equal(t, StateClosed, step.State)
	}
}

func TestSweepRejectsInvalidRequest(t *testing.T) {
	l := newTestLedger(t, newStub(), testConfig())
	bad := []SweepRequest{
		{Side: "hold", Amount: 1, Low: 1, High: 2, Step: 1, TimeBox: time.Second},
		{Side: schema.SideBuy, Amount: 0, Low: 1, High: 2, Step: 1, TimeBox: time.Second},
		{Side: schema.SideBuy, Amount: 1, Low: 3, High: 2, Step: 1, TimeBox: time.Second},
		{Side: schema.SideBuy, Amount: 1, Low: 1, High: 2, Step: 0, TimeBox: time.Second},
		{Side: schema.SideBuy, Amount: 1, Low: 1, High: 2, Step: 1},
	}
	for i, req := range bad {
		if _, err := l.Sweep(context.Background(), req); !errors.Is(err, ErrInvalidSweep) {
			t.Fatalf("case %d: err = %v, want ErrInvalidSweep", i, err)
		}
	}
}
