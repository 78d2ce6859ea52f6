package fake

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

// Venue is a single-instrument matching engine that speaks the gateway
// contract. Orders from other accounts act as counterparties.
type Venue struct {
	opts   Options
	quotes *hub[schema.Quote]
	execs  *hub[schema.Execution]

	rngMu sync.Mutex
	rng   *rand.Rand

	mu           sync.Mutex
	behavior     VenueBehavior
	nextID       int64
	book         *book
	orders       map[int64]*restingOrder
	last         *int64
	lastSize     int64
	lastTrade    time.Time
	dialFailures int
	mid          int64
	noise        []int64
}

var _ venue.Gateway = (*Venue)(nil)

// New creates an empty venue.
func New(opts Options) *Venue {
	opts = opts.withDefaults()
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Venue{
		opts:     opts,
		quotes:   newHub[schema.Quote](opts.StreamBuffer),
		execs:    newHub[schema.Execution](opts.StreamBuffer),
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
		behavior: opts.Behavior,
		book:     newBook(),
		orders:   make(map[int64]*restingOrder),
		mid:      opts.Noise.StartPrice,
	}
}

// Name identifies the venue in errors and logs.
func (v *Venue) Name() string { return v.opts.Name }

// Account returns the account the gateway trades for.
func (v *Venue) Account() string { return v.opts.Account }

// Symbol returns the instrument the venue lists.
func (v *Venue) Symbol() string { return v.opts.Symbol }

// SetBehavior replaces the fault profile.
func (v *Venue) SetBehavior(b VenueBehavior) {
	v.mu.Lock()
	v.behavior = b
	v.mu.Unlock()
}

// FailDials makes the next n stream dials fail.
func (v *Venue) FailDials(n int) {
	v.mu.Lock()
	v.dialFailures = n
	v.mu.Unlock()
}

// Disconnect closes every open stream and reports how many were closed.
func (v *Venue) Disconnect() int {
	return v.quotes.closeAll() + v.execs.closeAll()
}

// Subscribers reports the open quote and execution streams.
func (v *Venue) Subscribers() (int, int) {
	return v.quotes.size(), v.execs.size()
}

func (v *Venue) Place(ctx context.Context, req schema.OrderRequest) (schema.OrderSnapshot, error) {
	if err := req.Validate(); err != nil {
		return schema.OrderSnapshot{}, v.fail("place", errs.CodeInvalid, err.Error())
	}
	if req.Symbol != v.opts.Symbol {
		return schema.OrderSnapshot{}, v.fail("place", errs.CodeInvalid, fmt.Sprintf("unknown symbol %s", req.Symbol))
	}
	if err := v.delay(ctx, "place"); err != nil {
		return schema.OrderSnapshot{}, err
	}
	b := v.currentBehavior()
	if v.chance(b.PlaceRejected) {
		return schema.OrderSnapshot{}, v.fail("place", errs.CodeUnavailable, "order gateway busy")
	}
	snap, execs, quote := v.submit(v.opts.Account, req)
	v.broadcast(execs, quote)
	if v.chance(b.PlaceAmbiguous) {
		return schema.OrderSnapshot{}, v.fail("place", errs.CodeNetwork, "connection reset before response")
	}
	return snap, nil
}

// Submit enters an order for another account, as a counterparty would.
func (v *Venue) Submit(account string, req schema.OrderRequest) schema.OrderSnapshot {
	snap, execs, quote := v.submit(account, req)
	v.broadcast(execs, quote)
	return snap
}

func (v *Venue) Query(ctx context.Context, id int64) (schema.OrderSnapshot, error) {
	if err := v.transient(ctx, "query"); err != nil {
		return schema.OrderSnapshot{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok || o.snap.Account != v.opts.Account {
		return schema.OrderSnapshot{}, v.fail("query", errs.CodeNotFound, fmt.Sprintf("no order %d", id))
	}
	return copySnapshot(o.snap), nil
}

func (v *Venue) Cancel(ctx context.Context, id int64) (schema.OrderSnapshot, error) {
	if err := v.transient(ctx, "cancel"); err != nil {
		return schema.OrderSnapshot{}, err
	}
	v.mu.Lock()
	o, ok := v.orders[id]
	if !ok || o.snap.Account != v.opts.Account {
		v.mu.Unlock()
		return schema.OrderSnapshot{}, v.fail("cancel", errs.CodeNotFound, fmt.Sprintf("no order %d", id))
	}
	v.cancelLocked(o)
	snap := copySnapshot(o.snap)
	quote := v.quoteLocked(time.Now())
	v.mu.Unlock()
	v.broadcast(nil, quote)
	return snap, nil
}

// OpenOrders lists every order of the account, closed ones included.
func (v *Venue) OpenOrders(ctx context.Context) ([]schema.OrderSnapshot, error) {
	if err := v.transient(ctx, "list"); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]schema.OrderSnapshot, 0, len(v.orders))
	for _, o := range v.orders {
		if o.snap.Account == v.opts.Account {
			out = append(out, copySnapshot(o.snap))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *Venue) Quote(ctx context.Context) (schema.Quote, error) {
	if err := v.transient(ctx, "quote"); err != nil {
		return schema.Quote{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.quoteLocked(time.Now()), nil
}

func (v *Venue) DialQuotes(ctx context.Context) (venue.Stream[schema.Quote], error) {
	if err := v.dial(ctx, "tickertape"); err != nil {
		return nil, err
	}
	return v.quotes.subscribe(), nil
}

func (v *Venue) DialExecutions(ctx context.Context) (venue.Stream[schema.Execution], error) {
	if err := v.dial(ctx, "executions"); err != nil {
		return nil, err
	}
	return v.execs.subscribe(), nil
}

func (v *Venue) dial(ctx context.Context, feed string) error {
	if err := ctx.Err(); err != nil {
		return v.fail("dial "+feed, errs.CodeNetwork, err.Error())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dialFailures > 0 {
		v.dialFailures--
		return v.fail("dial "+feed, errs.CodeUnavailable, "handshake refused")
	}
	return nil
}

func (v *Venue) submit(account string, req schema.OrderRequest) (schema.OrderSnapshot, []schema.Execution, schema.Quote) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := time.Now()
	v.nextID++
	incoming := &restingOrder{snap: &schema.OrderSnapshot{
		ID:          v.nextID,
		Account:     account,
		Venue:       v.opts.Venue,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Kind:        req.Kind,
		Price:       req.Price,
		OriginalQty: req.Qty,
		Qty:         req.Qty,
		Open:        true,
		Timestamp:   now,
	}}
	v.orders[incoming.snap.ID] = incoming

	hasLimit := req.Kind != schema.KindMarket
	var execs []schema.Execution
	if req.Kind == schema.KindFillOrKill && v.book.available(req.Side, req.Price, true) < req.Qty {
		incoming.snap.Qty = 0
		incoming.snap.Open = false
	} else {
		for _, f := range v.book.consume(req.Side, req.Qty, req.Price, hasLimit, now) {
			incoming.recordFill(f.qty, f.price, f.ts)
			price := f.price
			v.last = &price
			v.lastSize = f.qty
			v.lastTrade = f.ts
			execs = append(execs, v.executionsLocked(f, incoming)...)
		}
		if incoming.snap.Open {
			if req.Kind == schema.KindLimit {
				v.book.rest(incoming)
			} else {
				incoming.snap.Qty = 0
				incoming.snap.Open = false
			}
		}
	}
	return copySnapshot(incoming.snap), execs, v.quoteLocked(now)
}

func (v *Venue) executionsLocked(f orderFill, incoming *restingOrder) []schema.Execution {
	var out []schema.Execution
	for _, o := range []*restingOrder{f.standing, incoming} {
		if o.snap.Account != v.opts.Account {
			continue
		}
		out = append(out, schema.Execution{
			Account:          o.snap.Account,
			Venue:            v.opts.Venue,
			Symbol:           v.opts.Symbol,
			Order:            copySnapshot(o.snap),
			StandingID:       f.standing.snap.ID,
			IncomingID:       incoming.snap.ID,
			Price:            f.price,
			Filled:           f.qty,
			FilledAt:         f.ts,
			StandingComplete: !f.standing.snap.Open,
			IncomingComplete: !incoming.snap.Open,
		})
	}
	return out
}

func (v *Venue) cancelLocked(o *restingOrder) {
	if !o.snap.Open {
		return
	}
	v.book.remove(o)
	o.snap.Open = false
	o.snap.Qty = 0
}

func (v *Venue) quoteLocked(now time.Time) schema.Quote {
	q := schema.Quote{
		Symbol:    v.opts.Symbol,
		Venue:     v.opts.Venue,
		LastSize:  v.lastSize,
		LastTrade: v.lastTrade,
		QuoteTime: now,
	}
	q.Bid, q.BidSize, q.BidDepth = v.book.top(schema.SideBuy)
	q.Ask, q.AskSize, q.AskDepth = v.book.top(schema.SideSell)
	if v.last != nil {
		last := *v.last
		q.Last = &last
	}
	return q
}

func (v *Venue) broadcast(execs []schema.Execution, quote schema.Quote) {
	b := v.currentBehavior()
	for _, e := range execs {
		if v.chance(b.DropExecution) {
			continue
		}
		v.execs.publish(e)
	}
	v.quotes.publish(quote)
	if v.chance(b.DisconnectChance) {
		v.Disconnect()
	}
}

func (v *Venue) currentBehavior() VenueBehavior {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.behavior
}

func (v *Venue) transient(ctx context.Context, op string) error {
	if err := v.delay(ctx, op); err != nil {
		return err
	}
	if v.chance(v.currentBehavior().TransientError) {
		return v.fail(op, errs.CodeUnavailable, "service temporarily unavailable")
	}
	return nil
}

func (v *Venue) delay(ctx context.Context, op string) error {
	b := v.currentBehavior()
	d := b.LatencyMin
	if spread := b.LatencyMax - b.LatencyMin; spread > 0 {
		v.rngMu.Lock()
		d += time.Duration(v.rng.Int64N(int64(spread)))
		v.rngMu.Unlock()
	}
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return v.fail(op, errs.CodeNetwork, err.Error())
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errs.New(v.opts.Name, errs.CodeNetwork, errs.WithOp(op), errs.WithCause(ctx.Err()))
	case <-timer.C:
		return nil
	}
}

func (v *Venue) chance(p float64) bool {
	if p <= 0 {
		return false
	}
	v.rngMu.Lock()
	defer v.rngMu.Unlock()
	return v.rng.Float64() < p
}

func (v *Venue) fail(op string, code errs.Code, msg string) error {
	return errs.New(v.opts.Name, code, errs.WithOp(op), errs.WithMessage(msg))
}

func copySnapshot(s *schema.OrderSnapshot) schema.OrderSnapshot {
	out := *s
	out.Fills = append([]schema.Fill(nil), s.Fills...)
	return out
}
