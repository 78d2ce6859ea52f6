// Package schema defines the venue records exchanged between the engine and its gateways.
//
// Prices are integer cents and quantities are whole shares. Records are
// validated once, at the gateway boundary; the engine trusts them afterwards.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Side captures the direction of an order.
type Side string

const (
	// SideBuy bids for shares.
	SideBuy Side = "buy"
	// SideSell offers shares.
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Valid reports whether s names a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide normalises a wire or CLI side value.
func ParseSide(raw string) (Side, error) {
	side := Side(strings.ToLower(strings.TrimSpace(raw)))
	if !side.Valid() {
		return "", fmt.Errorf("unknown side %q", raw)
	}
	return side, nil
}

// OrderKind enumerates supported order types.
type OrderKind string

const (
	// KindLimit rests on the book at its price.
	KindLimit OrderKind = "limit"
	// KindMarket crosses the book immediately.
	KindMarket OrderKind = "market"
	// KindFillOrKill fills completely on arrival or not at all.
	KindFillOrKill OrderKind = "fill-or-kill"
	// KindImmediateOrCancel fills what it can on arrival and cancels the rest.
	KindImmediateOrCancel OrderKind = "immediate-or-cancel"
)

// Valid reports whether k names a known order type.
func (k OrderKind) Valid() bool {
	switch k {
	case KindLimit, KindMarket, KindFillOrKill, KindImmediateOrCancel:
		return true
	default:
		return false
	}
}

// OrderRequest describes a single placement.
type OrderRequest struct {
	Symbol string    `json:"symbol"`
	Side   Side      `json:"direction"`
	Kind   OrderKind `json:"orderType"`
	Price  int64     `json:"price"`
	Qty    int64     `json:"qty"`
}

// Validate checks the request before it leaves the process.
func (r OrderRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Symbol) == "":
		return errors.New("order request: symbol required")
	case !r.Side.Valid():
		return fmt.Errorf("order request: invalid side %q", r.Side)
	case !r.Kind.Valid():
		return fmt.Errorf("order request: invalid order type %q", r.Kind)
	case r.Qty <= 0:
		return fmt.Errorf("order request: qty must be >0, got %d", r.Qty)
	case r.Price < 0:
		return fmt.Errorf("order request: price must be >=0, got %d", r.Price)
	}
	return nil
}

// Fill is a single execution against an order.
type Fill struct {
	Price int64     `json:"price"`
	Qty   int64     `json:"qty"`
	TS    time.Time `json:"ts"`
}

// FillKey identifies a fill across deliveries.
type FillKey struct {
	Price int64
	Qty   int64
	TS    int64
}

// Key returns the identity used for deduplication. One match can produce
// several fills with the same key, so keys are counted, not collected.
func (f Fill) Key() FillKey {
	return FillKey{Price: f.Price, Qty: f.Qty, TS: f.TS.UnixNano()}
}

// MergeFills folds incoming into held as a multiset: each key is kept as many
// times as the larger of the two lists carries it. It returns the merged list
// and the fills it added. Merging the same list twice adds nothing, and the
// result does not depend on the order lists arrive in.
func MergeFills(held, incoming []Fill) (merged, added []Fill) {
	have := make(map[FillKey]int, len(held))
	for _, f := range held {
		have[f.Key()]++
	}
	merged = held
	want := make(map[FillKey]int, len(incoming))
	for _, f := range incoming {
		key := f.Key()
		want[key]++
		if want[key] > have[key] {
			merged = append(merged, f)
			added = append(added, f)
		}
	}
	return merged, added
}

// OrderSnapshot is the venue's view of one order at one instant.
type OrderSnapshot struct {
	ID          int64     `json:"id"`
	Account     string    `json:"account"`
	Venue       string    `json:"venue"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"direction"`
	Kind        OrderKind `json:"orderType"`
	Price       int64     `json:"price"`
	OriginalQty int64     `json:"originalQty"`
	Qty         int64     `json:"qty"`
	TotalFilled int64     `json:"totalFilled"`
	Open        bool      `json:"open"`
	Fills       []Fill    `json:"fills"`
	Timestamp   time.Time `json:"ts"`
}

// Validate enforces the invariants every snapshot must satisfy before the engine sees it.
func (s OrderSnapshot) Validate() error {
	switch {
	case s.ID < 0:
		return fmt.Errorf("order snapshot: negative id %d", s.ID)
	case strings.TrimSpace(s.Symbol) == "":
		return fmt.Errorf("order snapshot %d: symbol required", s.ID)
	case !s.Side.Valid():
		return fmt.Errorf("order snapshot %d: invalid direction %q", s.ID, s.Side)
	case !s.Kind.Valid():
		return fmt.Errorf("order snapshot %d: invalid order type %q", s.ID, s.Kind)
	case s.OriginalQty <= 0:
		return fmt.Errorf("order snapshot %d: originalQty must be >0", s.ID)
	case s.Price < 0:
		return fmt.Errorf("order snapshot %d: negative price", s.ID)
	}
	var filled int64
	for i, fill := range s.Fills {
		if fill.Qty <= 0 {
			return fmt.Errorf("order snapshot %d: fill %d has qty %d", s.ID, i, fill.Qty)
		}
		if fill.Price < 0 {
			return fmt.Errorf("order snapshot %d: fill %d has negative price", s.ID, i)
		}
		filled += fill.Qty
	}
	if filled > s.OriginalQty {
		return fmt.Errorf("order snapshot %d: fills %d exceed originalQty %d", s.ID, filled, s.OriginalQty)
	}
	return nil
}

// Filled sums the quantity of the snapshot's fills.
func (s OrderSnapshot) Filled() int64 {
	var total int64
	for _, fill := range s.Fills {
		total += fill.Qty
	}
	return total
}

// Matches reports whether the snapshot carries the shape of req.
func (s OrderSnapshot) Matches(req OrderRequest) bool {
	return s.Symbol == req.Symbol &&
		s.Side == req.Side &&
		s.Kind == req.Kind &&
		s.Price == req.Price &&
		s.OriginalQty == req.Qty
}
