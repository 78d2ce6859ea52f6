// Package stockfighter adapts the Stockfighter REST and WebSocket API to the
// venue gateway contract.
package stockfighter

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.stockfighter.io/ob/api"
	defaultWSURL       = "wss://api.stockfighter.io/ob/api/ws"
	defaultHTTPTimeout = 10 * time.Second
	defaultRate        = 10
	defaultBurst       = 5
	defaultReadLimit   = 1 << 20
	authHeader         = "X-Starfighter-Authorization"
	venueName          = "stockfighter"
)

// Config binds a client to one account and one instrument.
type Config struct {
	BaseURL     string
	WSURL       string
	APIKey      string
	Venue       string
	Account     string
	Symbol      string
	HTTPTimeout time.Duration
	// RequestsPerSecond throttles REST calls client-side.
	RequestsPerSecond float64
	Burst             int
	ReadLimit         int64
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.WSURL) == "" {
		c.WSURL = defaultWSURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.WSURL = strings.TrimRight(c.WSURL, "/")
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = defaultRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	return c
}

func (c Config) validate() error {
	switch {
	case strings.TrimSpace(c.Venue) == "":
		return errors.New("stockfighter: venue required")
	case strings.TrimSpace(c.Account) == "":
		return errors.New("stockfighter: account required")
	case strings.TrimSpace(c.Symbol) == "":
		return errors.New("stockfighter: symbol required")
	}
	return nil
}

func (c Config) ordersPath() string {
	return "/venues/" + url.PathEscape(c.Venue) + "/stocks/" + url.PathEscape(c.Symbol) + "/orders"
}

func (c Config) accountOrdersPath() string {
	return "/venues/" + url.PathEscape(c.Venue) + "/accounts/" + url.PathEscape(c.Account) +
		"/stocks/" + url.PathEscape(c.Symbol) + "/orders"
}

func (c Config) quotePath() string {
	return "/venues/" + url.PathEscape(c.Venue) + "/stocks/" + url.PathEscape(c.Symbol) + "/quote"
}

func (c Config) tickertapeURL() string {
	return c.WSURL + "/" + url.PathEscape(c.Account) + "/venues/" + url.PathEscape(c.Venue) +
		"/tickertape/stocks/" + url.PathEscape(c.Symbol)
}

func (c Config) executionsURL() string {
	return c.WSURL + "/" + url.PathEscape(c.Account) + "/venues/" + url.PathEscape(c.Venue) +
		"/executions/stocks/" + url.PathEscape(c.Symbol)
}
