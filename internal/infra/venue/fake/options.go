// Package fake implements an in-memory matching venue with configurable
// latency and failure injection, for paper trading and tests.
package fake

import (
	"strings"
	"time"
)

const (
	defaultName         = "fake"
	defaultVenue        = "TESTEX"
	defaultAccount      = "EXB123456"
	defaultSymbol       = "FOOBAR"
	defaultStreamBuffer = 256
	noiseAccount        = "NOISE"
)

// VenueBehavior injects the failures the engine has to survive. Chances are
// probabilities in [0,1].
type VenueBehavior struct {
	LatencyMin time.Duration
	LatencyMax time.Duration
	// TransientError fails query, cancel, list and quote calls.
	TransientError float64
	// PlaceRejected fails a placement before it reaches the book.
	PlaceRejected float64
	// PlaceAmbiguous books the order but reports a failure to the caller.
	PlaceAmbiguous float64
	// DropExecution silently skips an execution report.
	DropExecution float64
	// DisconnectChance closes every open stream after a publish.
	DisconnectChance float64
}

// NoiseModel drives the simulated counterparties used by Simulate.
type NoiseModel struct {
	StartPrice  int64
	MaxQuantity int64
	// Width is how far from the mid noise orders are placed, in ticks.
	Width int64
	// MaxResting bounds the noise orders left on the book.
	MaxResting int
}

// Options configures a Venue.
type Options struct {
	Name         string
	Venue        string
	Account      string
	Symbol       string
	StreamBuffer int
	Seed         uint64
	Behavior     VenueBehavior
	Noise        NoiseModel
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Name) == "" {
		o.Name = defaultName
	}
	if strings.TrimSpace(o.Venue) == "" {
		o.Venue = defaultVenue
	}
	if strings.TrimSpace(o.Account) == "" {
		o.Account = defaultAccount
	}
	if strings.TrimSpace(o.Symbol) == "" {
		o.Symbol = defaultSymbol
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = defaultStreamBuffer
	}
	if o.Behavior.LatencyMax < o.Behavior.LatencyMin {
		o.Behavior.LatencyMax = o.Behavior.LatencyMin
	}
	if o.Noise.StartPrice <= 0 {
		o.Noise.StartPrice = 5000
	}
	if o.Noise.MaxQuantity <= 0 {
		o.Noise.MaxQuantity = 50
	}
	if o.Noise.Width <= 0 {
		o.Noise.Width = 20
	}
	if o.Noise.MaxResting <= 0 {
		o.Noise.MaxResting = 40
	}
	return o
}
