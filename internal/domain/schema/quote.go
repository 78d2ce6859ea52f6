package schema

import (
	"fmt"
	"strings"
	"time"
)

// Quote is a top-of-book observation. Bid, Ask and Last are absent when the
// venue has no such level.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Venue     string    `json:"venue"`
	Bid       *int64    `json:"bid,omitempty"`
	Ask       *int64    `json:"ask,omitempty"`
	BidSize   int64     `json:"bidSize"`
	AskSize   int64     `json:"askSize"`
	BidDepth  int64     `json:"bidDepth"`
	AskDepth  int64     `json:"askDepth"`
	Last      *int64    `json:"last,omitempty"`
	LastSize  int64     `json:"lastSize"`
	LastTrade time.Time `json:"lastTrade"`
	QuoteTime time.Time `json:"quoteTime"`
}

// Validate rejects quotes that cannot be interpreted.
func (q Quote) Validate() error {
	if strings.TrimSpace(q.Symbol) == "" {
		return fmt.Errorf("quote: symbol required")
	}
	for name, v := range map[string]*int64{"bid": q.Bid, "ask": q.Ask, "last": q.Last} {
		if v != nil && *v < 0 {
			return fmt.Errorf("quote %s: negative %s", q.Symbol, name)
		}
	}
	if q.BidSize < 0 || q.AskSize < 0 || q.BidDepth < 0 || q.AskDepth < 0 || q.LastSize < 0 {
		return fmt.Errorf("quote %s: negative size", q.Symbol)
	}
	return nil
}

// Price returns a pointer to v, for building quotes with optional levels.
func Price(v int64) *int64 {
	return &v
}

// Execution reports a trade against one of the account's orders.
type Execution struct {
	Account          string        `json:"account"`
	Venue            string        `json:"venue"`
	Symbol           string        `json:"symbol"`
	Order            OrderSnapshot `json:"order"`
	StandingID       int64         `json:"standingId"`
	IncomingID       int64         `json:"incomingId"`
	Price            int64         `json:"price"`
	Filled           int64         `json:"filled"`
	FilledAt         time.Time     `json:"filledAt"`
	StandingComplete bool          `json:"standingComplete"`
	IncomingComplete bool          `json:"incomingComplete"`
}

// Validate checks the embedded order and the reported fill.
func (e Execution) Validate() error {
	if err := e.Order.Validate(); err != nil {
		return fmt.Errorf("execution: %w", err)
	}
	if e.Filled <= 0 {
		return fmt.Errorf("execution for order %d: filled must be >0", e.Order.ID)
	}
	if e.Price < 0 {
		return fmt.Errorf("execution for order %d: negative price", e.Order.ID)
	}
	return nil
}

// Fill returns the trade described by the execution.
func (e Execution) Fill() Fill {
	return Fill{Price: e.Price, Qty: e.Filled, TS: e.FilledAt}
}
