package engine

import (
	"context"
	"log"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// Spread is the (bid, ask) pair the engine quotes.
type Spread struct {
	Bid int64
	Ask int64
}

// SpreadState reprices the two-sided quote while keeping, on each side,
// position plus outstanding quantity within the position limit.
type SpreadState struct {
	ledger *Ledger
	limit  int64
	logger *log.Logger

	// passMu serialises repricing passes.
	passMu sync.Mutex

	mu      sync.Mutex
	current *Spread
}

// NewSpreadState binds a spread state to ledger.
func NewSpreadState(ledger *Ledger, limit int64, logger *log.Logger) *SpreadState {
	if logger == nil {
		logger = log.Default()
	}
	return &SpreadState{ledger: ledger, limit: limit, logger: logger}
}

// Current returns the last spread applied, if any.
func (s *SpreadState) Current() (Spread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Spread{}, false
	}
	return *s.current, true
}

// Limit returns the per-side exposure ceiling.
func (s *SpreadState) Limit() int64 { return s.limit }

// UpdateSpread moves both sides of the quote to sp. On each side it cancels
// every open order at another price, waits for all of those cancels, and only
// then places one order for whatever the limit still permits.
func (s *SpreadState) UpdateSpread(ctx context.Context, sp Spread) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.mu.Lock()
	next := sp
	s.current = &next
	s.mu.Unlock()

	var wg conc.WaitGroup
	wg.Go(func() { s.updatePrice(ctx, schema.SideBuy, sp.Bid) })
	wg.Go(func() { s.updatePrice(ctx, schema.SideSell, sp.Ask) })
	wg.Wait()
}

// Reprice re-applies the current spread, typically after a fill changed the position.
func (s *SpreadState) Reprice(ctx context.Context) {
	sp, ok := s.Current()
	if !ok {
		return
	}
	s.UpdateSpread(ctx, sp)
}

func (s *SpreadState) updatePrice(ctx context.Context, side schema.Side, price int64) {
	stale := s.ledger.staleOrders(side, price)
	if len(stale) > 0 {
		var wg conc.WaitGroup
		for _, o := range stale {
			wg.Go(func() {
				if err := o.Cancel(ctx); err != nil {
					s.logger.Printf("[SPREAD] cancel %s %d@%d: %v", side, o.Amount(), o.Price(), err)
				}
			})
		}
		wg.Wait()
	}
	if ctx.Err() != nil {
		return
	}
	if s.ledger.breaker.Open() {
		s.logger.Printf("[SPREAD] breaker open; not placing %s at %d", side, price)
		return
	}
	if o, amount := s.ledger.placeWithinLimit(ctx, side, price, s.limit); o != nil {
		s.logger.Printf("[SPREAD] %s %d@%d", side, amount, price)
	}
}
