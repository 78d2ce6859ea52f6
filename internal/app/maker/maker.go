package maker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketmaker/internal/app/engine"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

// Maker wires the venue feeds to the engine. Quotes are conflated so the
// planner only ever sees the latest one; executions are never dropped.
type Maker struct {
	gateway venue.Gateway
	ledger  *engine.Ledger
	spread  *engine.SpreadState
	planner *engine.Planner
	opts    Options
	logger  *log.Logger
	metrics *feedMetrics

	quotes     chan schema.Quote
	executions chan schema.Execution
	reprice    chan struct{}
}

// New builds a maker around an existing ledger.
func New(gw venue.Gateway, ledger *engine.Ledger, cfg engine.Config, opts Options, logger *log.Logger) (*Maker, error) {
	if gw == nil || ledger == nil {
		return nil, errors.New("maker: gateway and ledger required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	opts = opts.withDefaults()
	if _, err := ParseQuoteSource(string(opts.QuoteSource)); err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	spread := engine.NewSpreadState(ledger, cfg.PositionLimit, logger)
	return &Maker{
		gateway:    gw,
		ledger:     ledger,
		spread:     spread,
		planner:    engine.NewPlanner(cfg, ledger, spread, logger),
		opts:       opts,
		logger:     logger,
		metrics:    newFeedMetrics(cfg.Venue, cfg.Symbol),
		quotes:     make(chan schema.Quote, 1),
		executions: make(chan schema.Execution, opts.ExecutionBuffer),
		reprice:    make(chan struct{}, 1),
	}, nil
}

// Ledger returns the order ledger the maker trades through.
func (m *Maker) Ledger() *engine.Ledger { return m.ledger }

// Spread returns the spread state the planner drives.
func (m *Maker) Spread() *engine.SpreadState { return m.spread }

// Run trades until ctx ends, then optionally cancels resting orders and waits
// for background order work, both bounded by one fresh shutdown context.
func (m *Maker) Run(ctx context.Context) error {
	m.logger.Printf("[MAKER] starting on %s (quotes via %s)", m.gateway.Name(), m.opts.QuoteSource)

	var wg conc.WaitGroup
	if m.opts.QuoteSource == QuoteSourcePoll {
		wg.Go(func() { m.pollQuotes(ctx) })
	} else {
		wg.Go(func() { supervise(ctx, m, feedQuotes, m.gateway.DialQuotes, m.offerQuote) })
	}
	wg.Go(func() { supervise(ctx, m, feedExecutions, m.gateway.DialExecutions, m.pushExecution) })
	wg.Go(func() { m.consumeExecutions(ctx) })
	wg.Go(func() { m.strategyLoop(ctx) })
	wg.Go(func() { m.watchEscalations(ctx) })
	if m.opts.ReconcileInterval > 0 {
		wg.Go(func() { m.reconcileLoop(ctx) })
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.opts.ShutdownTimeout)
	defer cancel()
	var shutdownErr error
	if m.opts.CancelOnShutdown {
		shutdownErr = m.cancelResting(shutdownCtx)
	}
	if err := m.ledger.Drain(shutdownCtx); err != nil {
		m.logger.Printf("[MAKER] background order work abandoned: %v", err)
	}
	summary := m.ledger.Summarize(0)
	m.logger.Printf("[MAKER] stopped: position=%d cash=%s", summary.Position, summary.Cash.StringFixed(2))
	return shutdownErr
}

// offerQuote replaces any quote the strategy loop has not taken yet.
func (m *Maker) offerQuote(_ context.Context, q schema.Quote) bool {
	for {
		select {
		case m.quotes <- q:
			return true
		default:
		}
		select {
		case <-m.quotes:
		default:
		}
	}
}

func (m *Maker) pushExecution(ctx context.Context, e schema.Execution) bool {
	select {
	case m.executions <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Maker) signalReprice() {
	select {
	case m.reprice <- struct{}{}:
	default:
	}
}

func (m *Maker) pollQuotes(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		q, err := m.gateway.Quote(ctx)
		switch {
		case err == nil:
			m.metrics.recordEvent(ctx, feedQuotes)
			m.offerQuote(ctx, q)
		case ctx.Err() != nil:
			return
		default:
			m.logger.Printf("[FEED] quote poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// consumeExecutions merges executions as soon as they arrive, then asks the
// strategy loop to reprice.
func (m *Maker) consumeExecutions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-m.executions:
			m.ledger.ApplyExecution(e)
			m.signalReprice()
		}
	}
}

// strategyLoop is the only caller of the planner, so spread updates never overlap.
func (m *Maker) strategyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-m.quotes:
			m.planner.OnQuote(ctx, q)
		case <-m.reprice:
			m.planner.OnExecution(ctx)
		}
	}
}

func (m *Maker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(m.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := m.ledger.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.logger.Printf("[MAKER] reconcile: %v", err)
		}
	}
}

func (m *Maker) watchEscalations(ctx context.Context) {
	signals := m.ledger.Breaker().Signals()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-signals:
			if e.Cleared {
				m.logger.Printf("[MAKER] escalation cleared: %s recovered", e.Op)
				continue
			}
			m.logger.Printf("[MAKER] ESCALATION: %s failed %d times in a row (last: %v); placements suspended", e.Op, e.Failures, e.Err)
		}
	}
}

// cancelResting cancels every open order, resuming cancels that an earlier
// context cut short.
func (m *Maker) cancelResting(ctx context.Context) error {
	open := m.ledger.Open()
	if len(open) == 0 {
		return nil
	}
	m.logger.Printf("[MAKER] cancelling %d resting orders", len(open))
	if err := m.ledger.CancelAll(ctx); err != nil {
		return fmt.Errorf("cancel on shutdown: %w", err)
	}
	return nil
}
