package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

const testSymbol = "FOOBAR"

// stubGateway is a scripted venue. By default every placement rests on its
// book and every cancel closes the order; tests override place and cancel to
// inject faults.
type stubGateway struct {
	mu      sync.Mutex
	nextID  int64
	book    map[int64]schema.OrderSnapshot
	placed  []schema.OrderRequest
	cancels []int64

	place  func(req schema.OrderRequest) (schema.OrderSnapshot, error)
	cancel func(ctx context.Context, id int64) (schema.OrderSnapshot, error)
}

func newStub() *stubGateway {
	return &stubGateway{book: make(map[int64]schema.OrderSnapshot)}
}

// rest books req with optional immediate fills and returns the snapshot.
func (g *stubGateway) rest(req schema.OrderRequest, fills ...schema.Fill) schema.OrderSnapshot {
	return g.restAt(req, time.Now(), fills...)
}

func (g *stubGateway) restAt(req schema.OrderRequest, ts time.Time, fills ...schema.Fill) schema.OrderSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	snap := schema.OrderSnapshot{
		ID:          g.nextID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		Price:       req.Price,
		OriginalQty: req.Qty,
		Qty:         req.Qty,
		Open:        true,
		Fills:       fills,
		Timestamp:   ts,
	}
	snap.TotalFilled = snap.Filled()
	snap.Qty = req.Qty - snap.TotalFilled
	if snap.Qty <= 0 {
		snap.Qty = 0
		snap.Open = false
	}
	g.book[snap.ID] = snap
	return snap
}

// fill executes qty against a resting order.
func (g *stubGateway) fill(id, qty int64) schema.Execution {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.book[id]
	f := schema.Fill{Price: snap.Price, Qty: qty, TS: time.Now()}
	snap.Fills = append(append([]schema.Fill(nil), snap.Fills...), f)
	snap.TotalFilled += qty
	snap.Qty -= qty
	if snap.Qty <= 0 {
		snap.Open = false
	}
	g.book[id] = snap
	return schema.Execution{Symbol: snap.Symbol, Order: snap, Price: f.Price, Filled: qty, FilledAt: f.TS}
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Place(_ context.Context, req schema.OrderRequest) (schema.OrderSnapshot, error) {
	g.mu.Lock()
	g.placed = append(g.placed, req)
	place := g.place
	g.mu.Unlock()
	if place != nil {
		return place(req)
	}
	return g.rest(req), nil
}

func (g *stubGateway) Query(_ context.Context, id int64) (schema.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.book[id]
	if !ok {
		return schema.OrderSnapshot{}, errs.New("stub", errs.CodeNotFound, errs.WithOp("query"))
	}
	return snap, nil
}

func (g *stubGateway) Cancel(ctx context.Context, id int64) (schema.OrderSnapshot, error) {
	g.mu.Lock()
	g.cancels = append(g.cancels, id)
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		return cancel(ctx, id)
	}
	return g.closeOrder(id)
}

func (g *stubGateway) closeOrder(id int64) (schema.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap, ok := g.book[id]
	if !ok {
		return schema.OrderSnapshot{}, errs.New("stub", errs.CodeNotFound, errs.WithOp("cancel"))
	}
	snap.Open = false
	snap.Qty = 0
	g.book[id] = snap
	return snap, nil
}

func (g *stubGateway) OpenOrders(context.Context) ([]schema.OrderSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]schema.OrderSnapshot, 0, len(g.book))
	for _, snap := range g.book {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *stubGateway) Quote(context.Context) (schema.Quote, error) {
	return schema.Quote{Symbol: testSymbol}, nil
}

func (g *stubGateway) DialQuotes(context.Context) (venue.Stream[schema.Quote], error) {
	return nil, errors.New("stub: no quote stream")
}

func (g *stubGateway) DialExecutions(context.Context) (venue.Stream[schema.Execution], error) {
	return nil, errors.New("stub: no execution stream")
}

func (g *stubGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

func (g *stubGateway) cancelCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cancels)
}

func testConfig() Config {
	cfg := DefaultConfig(testSymbol)
	cfg.Venue = "TESTEX"
	cfg.Account = "EXB123456"
	cfg.RecoveryWindow = 200 * time.Millisecond
	cfg.RecoveryInterval = 5 * time.Millisecond
	cfg.Retry = RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2,
		EscalateAfter:   3,
	}
	return cfg
}

func newTestLedger(t *testing.T, gw venue.Gateway, cfg Config) *Ledger {
	t.Helper()
	l := NewLedger(gw, cfg, log.New(io.Discard, "", 0))
	t.Cleanup(func() {
		l.Wait()
		l.Close()
	})
	return l
}

func waitDone(t *testing.T, o *Order) {
	t.Helper()
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("order %s did not settle (state %s)", o.ID(), o.State())
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func networkErr() error {
	return errs.New("stub", errs.CodeNetwork, errs.WithMessage("connection reset"))
}
