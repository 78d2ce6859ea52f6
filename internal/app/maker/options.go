// Package maker runs the market-making loop: it keeps the quote and execution
// feeds alive, feeds them to the planner and reconciles the ledger.
package maker

import (
	"fmt"
	"strings"
	"time"
)

// QuoteSource selects how quotes reach the planner.
type QuoteSource string

const (
	// QuoteSourceStream subscribes to the venue's tickertape.
	QuoteSourceStream QuoteSource = "ws"
	// QuoteSourcePoll requests a quote on a fixed interval.
	QuoteSourcePoll QuoteSource = "poll"
)

// ParseQuoteSource normalises a configured source name.
func ParseQuoteSource(raw string) (QuoteSource, error) {
	switch src := QuoteSource(strings.ToLower(strings.TrimSpace(raw))); src {
	case "":
		return QuoteSourceStream, nil
	case QuoteSourceStream, QuoteSourcePoll:
		return src, nil
	default:
		return "", fmt.Errorf("unknown quote source %q", raw)
	}
}

// Options tunes the runtime around the engine.
type Options struct {
	QuoteSource  QuoteSource
	PollInterval time.Duration
	// ReconcileInterval queries open orders periodically; zero disables it.
	ReconcileInterval time.Duration
	CancelOnShutdown  bool
	ShutdownTimeout   time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	ExecutionBuffer  int
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		QuoteSource:       QuoteSourceStream,
		PollInterval:      time.Second,
		ReconcileInterval: 5 * time.Second,
		CancelOnShutdown:  true,
		ShutdownTimeout:   10 * time.Second,
		ReconnectInitial:  500 * time.Millisecond,
		ReconnectMax:      30 * time.Second,
		ExecutionBuffer:   256,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.QuoteSource == "" {
		o.QuoteSource = def.QuoteSource
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = def.ReconnectInitial
	}
	if o.ReconnectMax < o.ReconnectInitial {
		o.ReconnectMax = max(def.ReconnectMax, o.ReconnectInitial)
	}
	if o.ExecutionBuffer <= 0 {
		o.ExecutionBuffer = def.ExecutionBuffer
	}
	return o
}
