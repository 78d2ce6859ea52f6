package stockfighter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// Every numeric field is a pointer so a missing field is distinguishable
// from zero. Conversion to schema types validates before anything else sees
// the data.

type envelope struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

type placeRequest struct {
	Account   string `json:"account"`
	Venue     string `json:"venue"`
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Direction string `json:"direction"`
	OrderType string `json:"orderType"`
}

type wireFill struct {
	Price *int64 `json:"price"`
	Qty   *int64 `json:"qty"`
	TS    string `json:"ts"`
}

type wireOrder struct {
	ID          *int64     `json:"id"`
	Account     string     `json:"account"`
	Venue       string     `json:"venue"`
	Symbol      string     `json:"symbol"`
	Direction   string     `json:"direction"`
	OrderType   string     `json:"orderType"`
	Price       *int64     `json:"price"`
	OriginalQty *int64     `json:"originalQty"`
	Qty         *int64     `json:"qty"`
	TotalFilled *int64     `json:"totalFilled"`
	Open        *bool      `json:"open"`
	Fills       []wireFill `json:"fills"`
	TS          string     `json:"ts"`
}

type ordersResponse struct {
	Venue  string      `json:"venue"`
	Orders []wireOrder `json:"orders"`
}

type wireQuote struct {
	Symbol    string `json:"symbol"`
	Venue     string `json:"venue"`
	Bid       *int64 `json:"bid"`
	Ask       *int64 `json:"ask"`
	BidSize   *int64 `json:"bidSize"`
	AskSize   *int64 `json:"askSize"`
	BidDepth  *int64 `json:"bidDepth"`
	AskDepth  *int64 `json:"askDepth"`
	Last      *int64 `json:"last"`
	LastSize  *int64 `json:"lastSize"`
	LastTrade string `json:"lastTrade"`
	QuoteTime string `json:"quoteTime"`
}

type tickertapeMessage struct {
	envelope
	Quote *wireQuote `json:"quote"`
}

type executionMessage struct {
	envelope
	Account          string     `json:"account"`
	Venue            string     `json:"venue"`
	Symbol           string     `json:"symbol"`
	Order            *wireOrder `json:"order"`
	StandingID       *int64     `json:"standingId"`
	IncomingID       *int64     `json:"incomingId"`
	Price            *int64     `json:"price"`
	Filled           *int64     `json:"filled"`
	FilledAt         string     `json:"filledAt"`
	StandingComplete bool       `json:"standingComplete"`
	IncomingComplete bool       `json:"incomingComplete"`
}

func (w wireOrder) toSnapshot() (schema.OrderSnapshot, error) {
	switch {
	case w.ID == nil:
		return schema.OrderSnapshot{}, errors.New("order: id missing")
	case w.OriginalQty == nil:
		return schema.OrderSnapshot{}, fmt.Errorf("order %d: originalQty missing", *w.ID)
	case w.Open == nil:
		return schema.OrderSnapshot{}, fmt.Errorf("order %d: open missing", *w.ID)
	}
	side, err := schema.ParseSide(w.Direction)
	if err != nil {
		return schema.OrderSnapshot{}, fmt.Errorf("order %d: %w", *w.ID, err)
	}
	ts, err := parseTime(w.TS)
	if err != nil {
		return schema.OrderSnapshot{}, fmt.Errorf("order %d: ts: %w", *w.ID, err)
	}
	snap := schema.OrderSnapshot{
		ID:          *w.ID,
		Account:     w.Account,
		Venue:       w.Venue,
		Symbol:      w.Symbol,
		Side:        side,
		Kind:        schema.OrderKind(strings.ToLower(strings.TrimSpace(w.OrderType))),
		Price:       deref(w.Price),
		OriginalQty: *w.OriginalQty,
		Open:        *w.Open,
		Timestamp:   ts,
	}
	for i, f := range w.Fills {
		if f.Price == nil || f.Qty == nil {
			return schema.OrderSnapshot{}, fmt.Errorf("order %d: fill %d incomplete", snap.ID, i)
		}
		at, err := parseTime(f.TS)
		if err != nil {
			return schema.OrderSnapshot{}, fmt.Errorf("order %d: fill %d ts: %w", snap.ID, i, err)
		}
		snap.Fills = append(snap.Fills, schema.Fill{Price: *f.Price, Qty: *f.Qty, TS: at})
	}
	snap.TotalFilled = snap.Filled()
	if w.TotalFilled != nil {
		snap.TotalFilled = *w.TotalFilled
	}
	snap.Qty = snap.OriginalQty - snap.TotalFilled
	if w.Qty != nil {
		snap.Qty = *w.Qty
	}
	if err := snap.Validate(); err != nil {
		return schema.OrderSnapshot{}, err
	}
	return snap, nil
}

func (w wireQuote) toQuote() (schema.Quote, error) {
	lastTrade, err := parseTime(w.LastTrade)
	if err != nil {
		return schema.Quote{}, fmt.Errorf("quote lastTrade: %w", err)
	}
	quoteTime, err := parseTime(w.QuoteTime)
	if err != nil {
		return schema.Quote{}, fmt.Errorf("quote quoteTime: %w", err)
	}
	q := schema.Quote{
		Symbol:    w.Symbol,
		Venue:     w.Venue,
		Bid:       w.Bid,
		Ask:       w.Ask,
		BidSize:   deref(w.BidSize),
		AskSize:   deref(w.AskSize),
		BidDepth:  deref(w.BidDepth),
		AskDepth:  deref(w.AskDepth),
		Last:      w.Last,
		LastSize:  deref(w.LastSize),
		LastTrade: lastTrade,
		QuoteTime: quoteTime,
	}
	if err := q.Validate(); err != nil {
		return schema.Quote{}, err
	}
	return q, nil
}

func (m executionMessage) toExecution() (schema.Execution, error) {
	if m.Order == nil {
		return schema.Execution{}, errors.New("execution: order missing")
	}
	if m.Price == nil || m.Filled == nil {
		return schema.Execution{}, errors.New("execution: price or filled missing")
	}
	snap, err := m.Order.toSnapshot()
	if err != nil {
		return schema.Execution{}, fmt.Errorf("execution: %w", err)
	}
	filledAt, err := parseTime(m.FilledAt)
	if err != nil {
		return schema.Execution{}, fmt.Errorf("execution filledAt: %w", err)
	}
	e := schema.Execution{
		Account:          m.Account,
		Venue:            m.Venue,
		Symbol:           m.Symbol,
		Order:            snap,
		StandingID:       deref(m.StandingID),
		IncomingID:       deref(m.IncomingID),
		Price:            *m.Price,
		Filled:           *m.Filled,
		FilledAt:         filledAt,
		StandingComplete: m.StandingComplete,
		IncomingComplete: m.IncomingComplete,
	}
	if err := e.Validate(); err != nil {
		return schema.Execution{}, err
	}
	return e, nil
}

// parseTime accepts RFC 3339 with or without fractional seconds; an empty
// string is the zero time.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func newPlaceRequest(cfg Config, req schema.OrderRequest) placeRequest {
	return placeRequest{
		Account:   cfg.Account,
		Venue:     cfg.Venue,
		Symbol:    req.Symbol,
		Price:     req.Price,
		Qty:       req.Qty,
		Direction: string(req.Side),
		OrderType: string(req.Kind),
	}
}
