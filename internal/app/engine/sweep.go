package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// ErrInvalidSweep reports a sweep request that cannot be walked.
var ErrInvalidSweep = errors.New("engine: invalid sweep request")

// SweepRequest describes a time-boxed walk across a price range.
type SweepRequest struct {
	Side   schema.Side
	Amount int64
	Low    int64
	High   int64
	Step   int64
	// TimeBox bounds how long each price level is given to fill.
	TimeBox      time.Duration
	PollInterval time.Duration
}

// SweepStep records what happened at one price level.
type SweepStep struct {
	Price     int64
	Requested int64
	Filled    int64
	State     OrderState
}

// SweepResult summarises a sweep. Notional and AveragePrice are in dollars.
type SweepResult struct {
	Filled       int64
	Notional     decimal.Decimal
	AveragePrice decimal.Decimal
	Steps        []SweepStep
}

func (r SweepRequest) validate() error {
	switch {
	case !r.Side.Valid():
		return fmt.Errorf("%w: side %q", ErrInvalidSweep, r.Side)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be >0", ErrInvalidSweep)
	case r.Low <= 0 || r.High < r.Low:
		return fmt.Errorf("%w: price range [%d,%d]", ErrInvalidSweep, r.Low, r.High)
	case r.Step <= 0:
		return fmt.Errorf("%w: step must be >0", ErrInvalidSweep)
	case r.TimeBox <= 0:
		return fmt.Errorf("%w: time box must be >0", ErrInvalidSweep)
	}
	return nil
}

// prices lists the levels from most to least favourable for the side.
func (r SweepRequest) prices() []int64 {
	var out []int64
	for p := r.Low; p <= r.High; p += r.Step {
		out = append(out, p)
	}
	if r.Side == schema.SideSell {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Sweep places the remaining amount at each price in turn, gives each order
// its time box, cancels whatever is still resting and moves on until the
// amount is filled or the range is exhausted.
func (l *Ledger) Sweep(ctx context.Context, req SweepRequest) (SweepResult, error) {
	var res SweepResult
	if err := req.validate(); err != nil {
		return res, err
	}
	if req.PollInterval <= 0 {
		req.PollInterval = 250 * time.Millisecond
	}

	var notional int64
	remaining := req.Amount
	for _, price := range req.prices() {
		if remaining <= 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return res.finish(notional), fmt.Errorf("sweep: %w", err)
		}

		o := l.NewOrder(ctx, req.Side, schema.KindLimit, remaining, price)
		stepCtx, cancel := context.WithTimeout(ctx, req.TimeBox)
		l.awaitClosed(stepCtx, o, req.PollInterval)
		cancel()

		if o.IsOpen() {
			if err := o.Cancel(ctx); err != nil {
				l.logger.Printf("[SWEEP] cancel at %d: %v", price, err)
			}
		}

		filled, cost := o.fillTotals()
		notional += cost
		remaining -= filled
		res.Filled += filled
		res.Steps = append(res.Steps, SweepStep{Price: price, Requested: o.Amount(), Filled: filled, State: o.State()})
		l.logger.Printf("[SWEEP] %s %d@%d filled %d, %d left", req.Side, o.Amount(), price, filled, remaining)
	}
	return res.finish(notional), nil
}

func (r SweepResult) finish(notional int64) SweepResult {
	r.Notional = cents(notional)
	if r.Filled > 0 {
		r.AveragePrice = r.Notional.Div(decimal.NewFromInt(r.Filled))
	}
	return r
}

// awaitClosed waits for placement to settle and then polls the venue until
// the order closes or ctx ends.
func (l *Ledger) awaitClosed(ctx context.Context, o *Order, every time.Duration) {
	select {
	case <-o.Done():
	case <-ctx.Done():
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for o.IsOpen() {
		id, ok := o.RemoteID()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		snap, err := l.gateway.Query(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Printf("[SWEEP] query %d: %v", id, err)
			}
			continue
		}
		l.mergeSnapshot(o, snap)
	}
}

// fillTotals returns filled quantity and Σ price×qty over the order's fills.
func (o *Order) fillTotals() (int64, int64) {
	o.ledger.mu.Lock()
	defer o.ledger.mu.Unlock()
	if o.snapshot == nil {
		return 0, 0
	}
	var qty, cost int64
	for _, f := range o.snapshot.Fills {
		qty += f.Qty
		cost += f.Qty * f.Price
	}
	return qty, cost
}
