package engine

import (
	"context"
	"log"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// RestingBook reports how much of our own size rests at a price.
type RestingBook interface {
	RestingAt(side schema.Side, price int64) int64
}

// Plan turns a quote into the spread to quote next. It steps inside the
// touch by one tick on each side where our own resting size does not already
// make up the displayed size. ok is false when the quote is one-sided or the
// market is narrower than minEdge ticks.
func Plan(q schema.Quote, book RestingBook, minEdge, tick int64) (Spread, bool) {
	if q.Bid == nil || q.Ask == nil {
		return Spread{}, false
	}
	bid, ask := *q.Bid, *q.Ask
	if ask-bid < minEdge*tick {
		return Spread{}, false
	}
	sp := Spread{Bid: bid, Ask: ask}
	if book.RestingAt(schema.SideBuy, bid) < q.BidSize {
		sp.Bid = bid + tick
	}
	if book.RestingAt(schema.SideSell, ask) < q.AskSize {
		sp.Ask = ask - tick
	}
	return sp, true
}

// Planner reacts to quotes by repricing the spread state.
type Planner struct {
	ledger  *Ledger
	spread  *SpreadState
	minEdge int64
	tick    int64
	logger  *log.Logger

	last int64
}

// NewPlanner wires a planner to the ledger and spread state it drives.
func NewPlanner(cfg Config, ledger *Ledger, spread *SpreadState, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	return &Planner{
		ledger:  ledger,
		spread:  spread,
		minEdge: cfg.MinEdge,
		tick:    cfg.Tick,
		logger:  logger,
	}
}

// OnQuote logs the book status and reprices if the quote leaves room.
// It is called from a single goroutine.
func (p *Planner) OnQuote(ctx context.Context, q schema.Quote) {
	if q.Last != nil {
		p.last = *q.Last
	}
	sum := p.ledger.Summarize(p.last)
	p.logger.Printf("[PLANNER] bid=%s ask=%s position=%d cash=%s profit=%s",
		fmtPrice(q.Bid), fmtPrice(q.Ask), sum.Position, sum.Cash.StringFixed(2), sum.Profit.StringFixed(2))

	sp, ok := Plan(q, p.ledger, p.minEdge, p.tick)
	if !ok {
		return
	}
	p.spread.UpdateSpread(ctx, sp)
}

// OnExecution re-applies the current spread so the side that just traded is
// topped back up to the limit.
func (p *Planner) OnExecution(ctx context.Context) {
	p.spread.Reprice(ctx)
}

func fmtPrice(v *int64) string {
	if v == nil {
		return "-"
	}
	return cents(*v).StringFixed(2)
}
