package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/infra/telemetry"
)

// OrderState is the local lifecycle position of an order.
type OrderState int

const (
	// StatePlacing means the placement call is in flight.
	StatePlacing OrderState = iota
	// StateOpen means the venue confirmed the order and it is resting.
	StateOpen
	// StateRecovering means placement failed and the venue is being searched for the order.
	StateRecovering
	// StateLost means recovery gave up; the order is assumed never to have rested.
	StateLost
	// StateClosed means the venue reports the order filled or cancelled.
	StateClosed
)

func (s OrderState) String() string {
	switch s {
	case StatePlacing:
		return "PLACING"
	case StateOpen:
		return "OPEN"
	case StateRecovering:
		return "RECOVERING"
	case StateLost:
		return "LOST"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("OrderState(%d)", int(s))
	}
}

// Order is the local projection of one order. Its mutable fields are guarded
// by the owning ledger's mutex.
type Order struct {
	ledger    *Ledger
	id        uuid.UUID
	req       schema.OrderRequest
	createdAt time.Time
	ctx       context.Context

	// settled closes once placement, and recovery if any, has resolved.
	settled chan struct{}

	state    OrderState
	snapshot *schema.OrderSnapshot

	cancelRequested bool
	// cancelling is non-nil while one caller is talking to the venue; others
	// wait on it and then re-check.
	cancelling chan struct{}
	// cancelResolved is set once an attempt finished without error. An
	// attempt cut short by its context leaves it unset so the next Cancel
	// resumes the venue call.
	cancelResolved bool
	// cancelDeferred marks a requested cancel that could not be sent because
	// no remote id was known yet.
	cancelDeferred bool
}

// ID returns the local identifier, stable for the life of the process.
func (o *Order) ID() uuid.UUID { return o.id }

// Request returns what was asked of the venue.
func (o *Order) Request() schema.OrderRequest { return o.req }

// Side returns the order direction.
func (o *Order) Side() schema.Side { return o.req.Side }

// Price returns the requested limit price.
func (o *Order) Price() int64 { return o.req.Price }

// Amount returns the requested quantity.
func (o *Order) Amount() int64 { return o.req.Qty }

// CreatedAt returns when the order was registered locally.
func (o *Order) CreatedAt() time.Time { return o.createdAt }

// Done closes when placement and any recovery have resolved.
func (o *Order) Done() <-chan struct{} { return o.settled }

// State returns the current lifecycle state.
func (o *Order) State() OrderState {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	return o.state
}

// RemoteID returns the venue id once one is known.
func (o *Order) RemoteID() (int64, bool) {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	if o.snapshot == nil {
		return 0, false
	}
	return o.snapshot.ID, true
}

// Snapshot returns a copy of the merged remote view.
func (o *Order) Snapshot() (schema.OrderSnapshot, bool) {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	if o.snapshot == nil {
		return schema.OrderSnapshot{}, false
	}
	out := *o.snapshot
	out.Fills = append([]schema.Fill(nil), o.snapshot.Fills...)
	return out, true
}

// Filled returns the quantity filled so far.
func (o *Order) Filled() int64 {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	return o.filledLocked()
}

// IsOpen reports whether the order may still trade.
func (o *Order) IsOpen() bool {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	return o.isOpenLocked()
}

// Outstanding returns the quantity still exposed on the book.
func (o *Order) Outstanding() int64 {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	return o.outstandingLocked()
}

func (o *Order) filledLocked() int64 {
	if o.snapshot == nil {
		return 0
	}
	return o.snapshot.Filled()
}

// isOpenLocked treats an order without a snapshot as open until placement or
// recovery proves otherwise.
func (o *Order) isOpenLocked() bool {
	switch o.state {
	case StatePlacing, StateRecovering, StateOpen:
		return true
	default:
		return false
	}
}

func (o *Order) outstandingLocked() int64 {
	if !o.isOpenLocked() {
		return 0
	}
	if o.snapshot == nil {
		return o.req.Qty
	}
	left := o.req.Qty - o.filledLocked()
	if left < 0 {
		return 0
	}
	return left
}

// addFillsLocked merges fills as a multiset and returns the ones it added.
func (o *Order) addFillsLocked(fills []schema.Fill) []schema.Fill {
	merged, added := schema.MergeFills(o.snapshot.Fills, fills)
	o.snapshot.Fills = merged
	o.snapshot.TotalFilled = o.snapshot.Filled()
	return added
}

func (o *Order) run() {
	defer close(o.settled)
	l := o.ledger

	start := time.Now()
	snap, err := l.gateway.Place(o.ctx, o.req)
	latency := time.Since(start)
	if err == nil {
		l.metrics.recordPlacement(o.ctx, o.req, telemetry.ResultSuccess, latency)
		l.breaker.Success("place")
		l.confirm(o, snap)
		return
	}

	l.metrics.recordPlacement(o.ctx, o.req, telemetry.ResultFailure, latency)
	if errs.Retryable(err) {
		l.breaker.Failure("place", err)
	}
	l.logger.Printf("[ORDER] %s place %s %d@%d failed: %v; recovering", o.id, o.req.Side, o.req.Qty, o.req.Price, err)
	l.setState(o, StateRecovering)
	o.recover()
}

// recover polls the venue's order list for an order this placement may have
// created, until one is adopted or the recovery window closes.
func (o *Order) recover() {
	l := o.ledger
	window := time.NewTimer(l.cfg.RecoveryWindow)
	defer window.Stop()
	ticker := time.NewTicker(l.cfg.RecoveryInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-o.ctx.Done():
			l.markLost(o, "context done")
			return
		case <-window.C:
			l.markLost(o, fmt.Sprintf("no match after %d polls", polls))
			return
		case <-ticker.C:
		}
		if l.hasSnapshot(o) {
			return
		}
		polls++
		remote, err := l.gateway.OpenOrders(o.ctx)
		if err != nil {
			if errs.Retryable(err) {
				l.breaker.Failure("list", err)
			}
			l.logger.Printf("[RECOVERY] %s list orders failed: %v", o.id, err)
			continue
		}
		l.breaker.Success("list")
		if l.adoptFromList(o, remote) {
			return
		}
	}
}

// Cancel requests cancellation of the order. It waits for an in-flight
// placement or recovery first, then retries the venue cancel until the venue
// reports the order closed. Concurrent calls share one venue attempt. If that
// attempt fails, its context included, the next call starts over; a resolved
// cancel is never sent twice.
func (o *Order) Cancel(ctx context.Context) error {
	l := o.ledger
	for {
		l.mu.Lock()
		o.cancelRequested = true
		if o.cancelResolved {
			l.mu.Unlock()
			return nil
		}
		inflight := o.cancelling
		if inflight == nil {
			attempt := make(chan struct{})
			o.cancelling = attempt
			l.mu.Unlock()
			return o.attemptCancel(ctx, attempt)
		}
		l.mu.Unlock()
		select {
		case <-inflight:
		case <-ctx.Done():
			return fmt.Errorf("cancel %s: %w", o.id, ctx.Err())
		}
	}
}

func (o *Order) attemptCancel(ctx context.Context, attempt chan struct{}) error {
	l := o.ledger
	err := o.sendCancel(ctx)

	l.mu.Lock()
	o.cancelling = nil
	if err == nil {
		o.cancelResolved = true
	}
	l.mu.Unlock()
	close(attempt)
	return err
}

func (o *Order) sendCancel(ctx context.Context) error {
	select {
	case <-o.settled:
	case <-ctx.Done():
		o.ledger.deferCancel(o)
		return fmt.Errorf("cancel %s: waiting for placement: %w", o.id, ctx.Err())
	}
	return o.ledger.cancelRemote(ctx, o)
}
