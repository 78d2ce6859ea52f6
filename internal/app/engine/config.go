// Package engine keeps a locally consistent view of the orders resting on an
// unreliable venue and reprices a two-sided quote without exceeding a
// position limit.
package engine

import (
	"fmt"
	"strings"
	"time"
)

// TieBreak selects how recovery chooses between several remote orders that
// match the same lost placement.
type TieBreak string

const (
	// TieBreakEarliest adopts the candidate with the earliest venue timestamp,
	// then the lowest id.
	TieBreakEarliest TieBreak = "earliest"
	// TieBreakReject refuses to adopt while more than one candidate matches.
	TieBreakReject TieBreak = "reject"
)

// ParseTieBreak normalises a configured policy name.
func ParseTieBreak(raw string) (TieBreak, error) {
	switch policy := TieBreak(strings.ToLower(strings.TrimSpace(raw))); policy {
	case "":
		return TieBreakEarliest, nil
	case TieBreakEarliest, TieBreakReject:
		return policy, nil
	default:
		return "", fmt.Errorf("unknown tie-break policy %q", raw)
	}
}

// RetryPolicy bounds the backoff applied to repeatable gateway calls.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// EscalateAfter consecutive failures open the circuit breaker.
	EscalateAfter int
}

// Config carries everything the engine needs about the instrument it trades.
type Config struct {
	Venue            string
	Account          string
	Symbol           string
	PositionLimit    int64
	MinEdge          int64
	Tick             int64
	RecoveryWindow   time.Duration
	RecoveryInterval time.Duration
	TieBreak         TieBreak
	Retry            RetryPolicy
}

// DefaultConfig returns the engine defaults for symbol.
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:           symbol,
		PositionLimit:    100,
		MinEdge:          3,
		Tick:             1,
		RecoveryWindow:   30 * time.Second,
		RecoveryInterval: time.Second,
		TieBreak:         TieBreakEarliest,
		Retry: RetryPolicy{
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
			EscalateAfter:   5,
		},
	}
}

// Validate checks the configuration before the engine starts.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Symbol) == "":
		return fmt.Errorf("engine: symbol required")
	case c.PositionLimit <= 0:
		return fmt.Errorf("engine: position limit must be >0")
	case c.MinEdge < 0:
		return fmt.Errorf("engine: min edge must be >=0")
	case c.Tick <= 0:
		return fmt.Errorf("engine: tick must be >0")
	case c.RecoveryWindow <= 0 || c.RecoveryInterval <= 0:
		return fmt.Errorf("engine: recovery window and interval must be >0")
	case c.TieBreak != TieBreakEarliest && c.TieBreak != TieBreakReject:
		return fmt.Errorf("engine: unknown tie-break policy %q", c.TieBreak)
	case c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval:
		return fmt.Errorf("engine: retry intervals invalid")
	case c.Retry.Multiplier < 1:
		return fmt.Errorf("engine: retry multiplier must be >=1")
	case c.Retry.EscalateAfter <= 0:
		return fmt.Errorf("engine: escalateAfter must be >0")
	}
	return nil
}
