package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/orderstore"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
	"github.com/coachpo/marketmaker/internal/infra/telemetry"
)

// maxPending bounds the snapshots buffered for ids the ledger does not know.
const maxPending = 4096

// ExecOutcome reports what ApplyExecution did with an execution.
type ExecOutcome int

const (
	// ExecMerged means the execution belonged to a known order.
	ExecMerged ExecOutcome = iota
	// ExecAdopted means the execution identified a recovering or lost order.
	ExecAdopted
	// ExecBuffered means the order id is not known yet; the snapshot is held
	// until a placement or recovery claims it.
	ExecBuffered
)

// Ledger owns every order of one instrument. A single mutex guards all order
// state; it is never held across a gateway call.
type Ledger struct {
	cfg     Config
	gateway venue.Gateway
	logger  *log.Logger
	breaker *Breaker
	retry   *retrier
	journal orderstore.Journal
	metrics *engineMetrics
	wg      conc.WaitGroup

	// halt ends deferred cancels that outlive their order's context.
	halt     context.Context
	stopHalt context.CancelFunc

	mu       sync.Mutex
	orders   []*Order
	byRemote map[int64]*Order
	pending  map[int64]*schema.OrderSnapshot
}

// LedgerOption customises a Ledger.
type LedgerOption func(*Ledger)

// WithJournal records lifecycle events. The journal is called with the ledger
// lock held and must not block.
func WithJournal(j orderstore.Journal) LedgerOption {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithBreaker shares a breaker between components.
func WithBreaker(b *Breaker) LedgerOption {
	return func(l *Ledger) {
		l.breaker = b
	}
}

// NewLedger creates an empty ledger trading through gw.
func NewLedger(gw venue.Gateway, cfg Config, logger *log.Logger, opts ...LedgerOption) *Ledger {
	if logger == nil {
		logger = log.Default()
	}
	l := &Ledger{
		cfg:      cfg,
		gateway:  gw,
		logger:   logger,
		byRemote: make(map[int64]*Order),
		pending:  make(map[int64]*schema.OrderSnapshot),
	}
	l.halt, l.stopHalt = context.WithCancel(context.Background())
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.breaker == nil {
		l.breaker = NewBreaker(cfg.Retry.EscalateAfter, logger)
	}
	l.metrics = newEngineMetrics(cfg, l)
	if l.breaker.metrics == nil {
		l.breaker.metrics = l.metrics
	}
	l.retry = &retrier{policy: cfg.Retry, breaker: l.breaker, logger: logger}
	return l
}

// Breaker exposes the ledger's circuit breaker.
func (l *Ledger) Breaker() *Breaker { return l.breaker }

// NewOrder registers an order and starts placing it in the background.
// ctx bounds the placement and its recovery. A cancel deferred until the
// order is known runs past ctx, until it succeeds or the ledger drains.
func (l *Ledger) NewOrder(ctx context.Context, side schema.Side, kind schema.OrderKind, amount, price int64) *Order {
	l.mu.Lock()
	o := l.registerLocked(ctx, schema.OrderRequest{Symbol: l.cfg.Symbol, Side: side, Kind: kind, Price: price, Qty: amount})
	l.mu.Unlock()
	l.wg.Go(o.run)
	return o
}

// placeWithinLimit computes the quantity side may still add without breaching
// limit and registers one order for it, atomically.
func (l *Ledger) placeWithinLimit(ctx context.Context, side schema.Side, price, limit int64) (*Order, int64) {
	l.mu.Lock()
	amount := l.permittedLocked(side, limit)
	if amount <= 0 {
		l.mu.Unlock()
		return nil, amount
	}
	o := l.registerLocked(ctx, schema.OrderRequest{Symbol: l.cfg.Symbol, Side: side, Kind: schema.KindLimit, Price: price, Qty: amount})
	l.mu.Unlock()
	l.wg.Go(o.run)
	return o, amount
}

func (l *Ledger) registerLocked(ctx context.Context, req schema.OrderRequest) *Order {
	if ctx == nil {
		ctx = context.Background()
	}
	o := &Order{
		ledger:     l,
		id:         uuid.New(),
		req:        req,
		createdAt:  time.Now(),
		ctx:       ctx,
		settled:   make(chan struct{}),
		state:     StatePlacing,
	}
	l.orders = append(l.orders, o)
	l.logger.Printf("[ORDER] %s new %s %s %d@%d", o.id, req.Kind, req.Side, req.Qty, req.Price)
	if l.journal != nil {
		_ = l.journal.CreateOrder(ctx, orderstore.Order{
			ID:       o.id.String(),
			Venue:    l.cfg.Venue,
			Account:  l.cfg.Account,
			Symbol:   req.Symbol,
			Side:     string(req.Side),
			Kind:     string(req.Kind),
			Price:    req.Price,
			Quantity: req.Qty,
			State:    o.state.String(),
			PlacedAt: o.createdAt,
		})
	}
	return o
}

// FindByRemoteID returns the order the venue knows as id.
func (l *Ledger) FindByRemoteID(id int64) (*Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.byRemote[id]
	return o, ok
}

// Orders returns every order in insertion order, closed ones included.
func (l *Ledger) Orders() []*Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Order(nil), l.orders...)
}

// Open returns the orders that may still trade.
func (l *Ledger) Open() []*Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Order
	for _, o := range l.orders {
		if o.isOpenLocked() {
			out = append(out, o)
		}
	}
	return out
}

// Wait blocks until background placements, recoveries and deferred cancels finish.
func (l *Ledger) Wait() {
	l.wg.Wait()
}

// Drain waits like Wait. If ctx ends first, deferred cancels still retrying
// are stopped and Drain returns ctx's error once they have exited.
func (l *Ledger) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.stopHalt()
		<-done
		return ctx.Err()
	}
}

// Close stops deferred cancels and releases metric callbacks.
func (l *Ledger) Close() {
	l.stopHalt()
	l.metrics.close()
}

// confirm adopts the snapshot returned by a successful placement. If a
// recovering order claimed the same id first, the confirmed placement wins.
func (l *Ledger) confirm(o *Order, snap schema.OrderSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if other, ok := l.byRemote[snap.ID]; ok && other != o {
		l.logger.Printf("[ORDER] remote id %d was claimed by %s; reassigning to %s", snap.ID, other.id, o.id)
		if other.snapshot != nil {
			snap.Fills, _ = schema.MergeFills(append([]schema.Fill(nil), snap.Fills...), other.snapshot.Fills)
			snap.Open = snap.Open && other.snapshot.Open
		}
		other.snapshot = nil
		delete(l.byRemote, snap.ID)
		l.transitionLocked(other, StateLost)
	}
	if o.snapshot != nil {
		l.mergeLocked(o, snap)
		return
	}
	l.adoptLocked(o, snap, "placed")
}

// adoptFromList picks the venue order a failed placement most likely created.
func (l *Ledger) adoptFromList(o *Order, remote []schema.OrderSnapshot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.snapshot != nil {
		return true
	}
	var candidates []schema.OrderSnapshot
	for _, snap := range remote {
		if _, known := l.byRemote[snap.ID]; known {
			continue
		}
		if snap.Matches(o.req) {
			candidates = append(candidates, snap)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	if len(candidates) > 1 {
		if l.cfg.TieBreak == TieBreakReject {
			l.logger.Printf("[RECOVERY] %s: %d venue orders match; not adopting while ambiguous", o.id, len(candidates))
			return false
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			return a.ID < b.ID
		})
		l.logger.Printf("[RECOVERY] %s: %d venue orders match; adopting earliest id=%d", o.id, len(candidates), candidates[0].ID)
	}
	l.adoptLocked(o, candidates[0], "list")
	return true
}

func (l *Ledger) adoptLocked(o *Order, snap schema.OrderSnapshot, via string) {
	adopted := snap
	adopted.Fills = nil
	o.snapshot = &adopted
	l.byRemote[snap.ID] = o
	added := o.addFillsLocked(snap.Fills)
	if buffered, ok := l.pending[snap.ID]; ok {
		delete(l.pending, snap.ID)
		added = append(added, o.addFillsLocked(buffered.Fills)...)
		if !buffered.Open {
			o.snapshot.Open = false
		}
		if buffered.Qty < o.snapshot.Qty {
			o.snapshot.Qty = buffered.Qty
		}
	}
	if via != "placed" {
		l.logger.Printf("[RECOVERY] %s adopted remote order %d via %s", o.id, snap.ID, via)
		l.metrics.recordRecovered(o.ctx, via)
	}
	next := StateOpen
	if !o.snapshot.Open {
		next = StateClosed
	}
	l.transitionLocked(o, next)
	l.recordFillsLocked(o, added)

	if o.cancelRequested && o.cancelDeferred && o.snapshot.Open {
		o.cancelDeferred = false
		o.cancelResolved = false
		l.resumeCancelLocked(o)
	}
}

// mergeLocked is the single merge path for every snapshot of a known order.
// Fills are a multiset union keyed by identity, open only moves from true to
// false and remaining quantity only shrinks, so merging is commutative and
// idempotent.
func (l *Ledger) mergeLocked(o *Order, snap schema.OrderSnapshot) {
	added := o.addFillsLocked(snap.Fills)
	if !snap.Open {
		o.snapshot.Open = false
	}
	if snap.Qty < o.snapshot.Qty {
		o.snapshot.Qty = snap.Qty
	}
	if !o.snapshot.Open && o.state != StateClosed {
		l.transitionLocked(o, StateClosed)
	}
	l.recordFillsLocked(o, added)
}

func (l *Ledger) mergeSnapshot(o *Order, snap schema.OrderSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.snapshot == nil {
		l.adoptLocked(o, snap, "query")
		return
	}
	l.mergeLocked(o, snap)
}

func (l *Ledger) recordFillsLocked(o *Order, added []schema.Fill) {
	if len(added) == 0 {
		return
	}
	l.metrics.recordFills(o.ctx, o.req.Side, len(added))
	for _, fill := range added {
		l.logger.Printf("[FILL] %s %s %d@%d (order %d, filled %d/%d)", o.id, o.req.Side, fill.Qty, fill.Price, o.snapshot.ID, o.snapshot.TotalFilled, o.req.Qty)
		if l.journal != nil {
			_ = l.journal.RecordFill(o.ctx, orderstore.Fill{
				OrderID:  o.id.String(),
				RemoteID: o.snapshot.ID,
				Price:    fill.Price,
				Quantity: fill.Qty,
				TradedAt: fill.TS,
			})
		}
	}
}

func (l *Ledger) transitionLocked(o *Order, next OrderState) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next
	if l.journal == nil {
		return
	}
	update := orderstore.OrderUpdate{
		ID:        o.id.String(),
		State:     next.String(),
		Filled:    o.filledLocked(),
		UpdatedAt: time.Now(),
		Metadata:  map[string]any{"from": prev.String()},
	}
	if o.snapshot != nil {
		id := o.snapshot.ID
		update.RemoteID = &id
	}
	_ = l.journal.UpdateOrder(o.ctx, update)
}

func (l *Ledger) setState(o *Order, next OrderState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitionLocked(o, next)
}

func (l *Ledger) hasSnapshot(o *Order) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return o.snapshot != nil
}

func (l *Ledger) markLost(o *Order, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.snapshot != nil {
		return
	}
	l.transitionLocked(o, StateLost)
	l.logger.Printf("[RECOVERY] WARN %s %s %d@%d lost (%s); exposure may be under-counted if the venue accepted it",
		o.id, o.req.Side, o.req.Qty, o.req.Price, reason)
	l.metrics.recordLost(o.ctx)
}

func (l *Ledger) deferCancel(o *Order) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.snapshot != nil && o.snapshot.Open {
		l.resumeCancelLocked(o)
		return
	}
	o.cancelDeferred = true
}

// resumeCancelLocked finishes a cancel in the background. The order's own
// context may already be done, typically at shutdown, so the cancel runs on a
// detached context that only the ledger's halt ends.
func (l *Ledger) resumeCancelLocked(o *Order) {
	l.wg.Go(func() {
		ctx, cancel := context.WithCancel(context.WithoutCancel(o.ctx))
		stop := context.AfterFunc(l.halt, cancel)
		defer func() {
			stop()
			cancel()
		}()
		if err := o.Cancel(ctx); err != nil {
			l.logger.Printf("[ORDER] %s deferred cancel failed: %v", o.id, err)
		}
	})
}

// cancelRemote sends the venue cancel for o, retrying until the venue
// reports the order closed or ctx ends.
func (l *Ledger) cancelRemote(ctx context.Context, o *Order) error {
	l.mu.Lock()
	if o.snapshot == nil {
		o.cancelDeferred = true
		state := o.state
		l.mu.Unlock()
		l.logger.Printf("[ORDER] %s cancel: no remote id known (%s)", o.id, state)
		return nil
	}
	id, open := o.snapshot.ID, o.snapshot.Open
	l.mu.Unlock()
	if !open {
		return nil
	}

	result, err := retryCall(ctx, l.retry, "cancel", func(ctx context.Context) (schema.OrderSnapshot, error) {
		return l.gateway.Cancel(ctx, id)
	})
	if err != nil && !errs.Retryable(err) && ctx.Err() == nil {
		l.logger.Printf("[ORDER] %s cancel of %d refused: %v; querying", o.id, id, err)
		result, err = retryCall(ctx, l.retry, "query", func(ctx context.Context) (schema.OrderSnapshot, error) {
			return l.gateway.Query(ctx, id)
		})
	}
	if err != nil {
		l.metrics.recordCancel(ctx, telemetry.ResultFailure)
		return fmt.Errorf("cancel order %d: %w", id, err)
	}
	l.mergeSnapshot(o, result)
	if result.Open {
		l.metrics.recordCancel(ctx, telemetry.ResultFailure)
		return fmt.Errorf("cancel order %d: venue still reports it open", id)
	}
	l.metrics.recordCancel(ctx, telemetry.ResultSuccess)
	l.logger.Printf("[ORDER] %s cancelled remote %d (filled %d/%d)", o.id, id, result.Filled(), o.req.Qty)
	return nil
}

// ApplyExecution merges an execution report. Executions for unknown ids are
// buffered; if one matches an order that failed to place, that order adopts it.
func (l *Ledger) ApplyExecution(e schema.Execution) ExecOutcome {
	snap := e.Order
	if len(snap.Fills) == 0 {
		snap.Fills = []schema.Fill{e.Fill()}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if o, ok := l.byRemote[snap.ID]; ok {
		l.mergeLocked(o, snap)
		return ExecMerged
	}

	buffered := l.bufferLocked(snap)
	if o := l.matchExecutionLocked(snap); o != nil {
		delete(l.pending, snap.ID)
		wasLost := o.state == StateLost
		l.adoptLocked(o, buffered, "executions")
		if wasLost {
			l.logger.Printf("[RECOVERY] %s resurfaced after its recovery window as remote order %d", o.id, snap.ID)
		}
		return ExecAdopted
	}
	l.metrics.recordBuffered(context.Background())
	l.logger.Printf("[LEDGER] execution for unknown order %d buffered", snap.ID)
	return ExecBuffered
}

func (l *Ledger) bufferLocked(snap schema.OrderSnapshot) schema.OrderSnapshot {
	held, ok := l.pending[snap.ID]
	if !ok {
		if len(l.pending) >= maxPending {
			l.logger.Printf("[LEDGER] pending buffer full; not holding order %d", snap.ID)
			return snap
		}
		cp := snap
		cp.Fills = append([]schema.Fill(nil), snap.Fills...)
		l.pending[snap.ID] = &cp
		return cp
	}
	held.Fills, _ = schema.MergeFills(held.Fills, snap.Fills)
	held.Open = held.Open && snap.Open
	if snap.Qty < held.Qty {
		held.Qty = snap.Qty
	}
	return *held
}

// matchExecutionLocked finds the earliest order without a remote id, whose
// placement failed, that has the shape of snap.
func (l *Ledger) matchExecutionLocked(snap schema.OrderSnapshot) *Order {
	var candidates []*Order
	for _, o := range l.orders {
		if o.snapshot != nil || (o.state != StateRecovering && o.state != StateLost) {
			continue
		}
		if snap.Matches(o.req) {
			candidates = append(candidates, o)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if len(candidates) > 1 && l.cfg.TieBreak == TieBreakReject {
		l.logger.Printf("[RECOVERY] execution for %d matches %d local orders; not adopting while ambiguous", snap.ID, len(candidates))
		return nil
	}
	return candidates[0]
}

// Refresh queries every open order with a known id and merges the answers.
// It is the pull path that complements the execution feed.
func (l *Ledger) Refresh(ctx context.Context) error {
	type target struct {
		order *Order
		id    int64
	}
	l.mu.Lock()
	var targets []target
	for _, o := range l.orders {
		if o.snapshot != nil && o.snapshot.Open {
			targets = append(targets, target{order: o, id: o.snapshot.ID})
		}
	}
	l.mu.Unlock()

	p := pool.New().WithErrors().WithMaxGoroutines(4)
	for _, t := range targets {
		p.Go(func() error {
			snap, err := l.gateway.Query(ctx, t.id)
			if err != nil {
				if errs.Retryable(err) {
					l.breaker.Failure("query", err)
				}
				return fmt.Errorf("query order %d: %w", t.id, err)
			}
			l.breaker.Success("query")
			l.mergeSnapshot(t.order, snap)
			return nil
		})
	}
	return p.Wait()
}

// CancelAll cancels every open order concurrently.
func (l *Ledger) CancelAll(ctx context.Context) error {
	open := l.Open()
	p := pool.New().WithErrors()
	for _, o := range open {
		p.Go(func() error {
			return o.Cancel(ctx)
		})
	}
	return p.Wait()
}

// Position is the signed sum of filled quantity, buys positive.
func (l *Ledger) Position() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionLocked()
}

// Cost is the signed sum of filled quantity times fill price.
func (l *Ledger) Cost() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var cost int64
	for _, o := range l.orders {
		if o.snapshot == nil {
			continue
		}
		sign := o.req.Side.Sign()
		for _, f := range o.snapshot.Fills {
			cost += sign * f.Qty * f.Price
		}
	}
	return cost
}

// Cash is what past trades did to the account balance.
func (l *Ledger) Cash() int64 {
	return -l.Cost()
}

// Value marks the position at price.
func (l *Ledger) Value(price int64) int64 {
	return l.Position() * price
}

// Profit is value at price plus cash.
func (l *Ledger) Profit(price int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var position, cost int64
	for _, o := range l.orders {
		if o.snapshot == nil {
			continue
		}
		sign := o.req.Side.Sign()
		for _, f := range o.snapshot.Fills {
			position += sign * f.Qty
			cost += sign * f.Qty * f.Price
		}
	}
	return position*price - cost
}

// Summary renders the aggregates in dollars, marked at price cents.
type Summary struct {
	Position int64
	Cost     decimal.Decimal
	Cash     decimal.Decimal
	Value    decimal.Decimal
	Profit   decimal.Decimal
}

// Summarize returns the ledger aggregates marked at price.
func (l *Ledger) Summarize(price int64) Summary {
	position := l.Position()
	cost := l.Cost()
	value := position * price
	return Summary{
		Position: position,
		Cost:     cents(cost),
		Cash:     cents(-cost),
		Value:    cents(value),
		Profit:   cents(value - cost),
	}
}

func cents(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func (l *Ledger) positionLocked() int64 {
	var position int64
	for _, o := range l.orders {
		if o.snapshot == nil {
			continue
		}
		position += o.req.Side.Sign() * o.snapshot.Filled()
	}
	return position
}

func (l *Ledger) outstandingLocked(side schema.Side) int64 {
	var total int64
	for _, o := range l.orders {
		if o.req.Side == side {
			total += o.outstandingLocked()
		}
	}
	return total
}

// Outstanding sums the exposed quantity of open orders on side.
func (l *Ledger) Outstanding(side schema.Side) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outstandingLocked(side)
}

// Exposure is the quantity side would hold if every open order on it filled:
// position plus outstanding buys, or short position plus outstanding sells.
func (l *Ledger) Exposure(side schema.Side) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return side.Sign()*l.positionLocked() + l.outstandingLocked(side)
}

func (l *Ledger) permittedLocked(side schema.Side, limit int64) int64 {
	return limit - l.outstandingLocked(side) - side.Sign()*l.positionLocked()
}

// RestingAt sums the requested size of open orders on side at price.
func (l *Ledger) RestingAt(side schema.Side, price int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, o := range l.orders {
		if o.req.Side == side && o.req.Price == price && o.isOpenLocked() {
			total += o.req.Qty
		}
	}
	return total
}

func (l *Ledger) staleOrders(side schema.Side, price int64) []*Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Order
	for _, o := range l.orders {
		if o.req.Side == side && o.req.Price != price && o.isOpenLocked() {
			out = append(out, o)
		}
	}
	return out
}
