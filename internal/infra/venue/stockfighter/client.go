package stockfighter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

const maxBodyBytes = 1 << 20

// Client is a venue.Gateway backed by the Stockfighter API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

var _ venue.Gateway = (*Client)(nil)

// New validates cfg and returns a client. A nil logger uses the standard logger.
func New(cfg Config, logger *log.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// Name identifies the venue in errors and logs.
func (c *Client) Name() string { return venueName }

// Place submits req once. Failures are never retried here: the order may
// have reached the book even when the response did not arrive.
func (c *Client) Place(ctx context.Context, req schema.OrderRequest) (schema.OrderSnapshot, error) {
	if err := req.Validate(); err != nil {
		return schema.OrderSnapshot{}, errs.New(venueName, errs.CodeInvalid, errs.WithOp("place"), errs.WithCause(err))
	}
	var out wireOrder
	if err := c.do(ctx, "place", http.MethodPost, c.cfg.ordersPath(), newPlaceRequest(c.cfg, req), &out); err != nil {
		return schema.OrderSnapshot{}, err
	}
	return c.snapshot("place", out)
}

func (c *Client) Query(ctx context.Context, id int64) (schema.OrderSnapshot, error) {
	var out wireOrder
	if err := c.do(ctx, "query", http.MethodGet, c.orderPath(id), nil, &out); err != nil {
		return schema.OrderSnapshot{}, err
	}
	return c.snapshot("query", out)
}

func (c *Client) Cancel(ctx context.Context, id int64) (schema.OrderSnapshot, error) {
	var out wireOrder
	if err := c.do(ctx, "cancel", http.MethodDelete, c.orderPath(id), nil, &out); err != nil {
		return schema.OrderSnapshot{}, err
	}
	return c.snapshot("cancel", out)
}

// OpenOrders lists the account's orders on the symbol. Stockfighter includes
// closed orders. Entries that fail validation are logged and skipped.
func (c *Client) OpenOrders(ctx context.Context) ([]schema.OrderSnapshot, error) {
	var out ordersResponse
	if err := c.do(ctx, "list", http.MethodGet, c.cfg.accountOrdersPath(), nil, &out); err != nil {
		return nil, err
	}
	snaps := make([]schema.OrderSnapshot, 0, len(out.Orders))
	for _, w := range out.Orders {
		snap, err := w.toSnapshot()
		if err != nil {
			c.logger.Printf("[VENUE] list: skipping malformed order: %v", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (c *Client) Quote(ctx context.Context) (schema.Quote, error) {
	var out wireQuote
	if err := c.do(ctx, "quote", http.MethodGet, c.cfg.quotePath(), nil, &out); err != nil {
		return schema.Quote{}, err
	}
	q, err := out.toQuote()
	if err != nil {
		return schema.Quote{}, errs.New(venueName, errs.CodeMalformed, errs.WithOp("quote"), errs.WithCause(err))
	}
	return q, nil
}

func (c *Client) orderPath(id int64) string {
	return c.cfg.ordersPath() + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) snapshot(op string, w wireOrder) (schema.OrderSnapshot, error) {
	snap, err := w.toSnapshot()
	if err != nil {
		return schema.OrderSnapshot{}, errs.New(venueName, errs.CodeMalformed, errs.WithOp(op), errs.WithCause(err))
	}
	return snap, nil
}

// do performs one REST call and decodes the body into out. Every failure is
// returned as an *errs.E so callers can classify it.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.New(venueName, errs.CodeRateLimited, errs.WithOp(op), errs.WithCause(err))
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errs.New(venueName, errs.CodeInvalid, errs.WithOp(op), errs.WithCause(err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errs.New(venueName, errs.CodeInvalid, errs.WithOp(op), errs.WithCause(err))
	}
	req.Header.Set(authHeader, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errs.New(venueName, errs.CodeNetwork, errs.WithOp(op), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return errs.New(venueName, errs.CodeNetwork, errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithCause(err))
	}

	var env envelope
	envErr := json.Unmarshal(data, &env)
	if resp.StatusCode != http.StatusOK {
		raw := env.Error
		if envErr != nil || raw == "" {
			raw = strings.TrimSpace(string(data))
		}
		return errs.New(venueName, codeForStatus(resp.StatusCode), errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithRawMessage(raw))
	}
	if envErr != nil {
		return errs.New(venueName, errs.CodeMalformed, errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithCause(envErr))
	}
	if env.OK == nil {
		return errs.New(venueName, errs.CodeMalformed, errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithMessage("response without ok flag"))
	}
	if !*env.OK {
		return errs.New(venueName, errs.CodeRejected, errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithRawMessage(env.Error))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errs.New(venueName, errs.CodeMalformed, errs.WithOp(op), errs.WithHTTP(resp.StatusCode), errs.WithCause(err))
	}
	return nil
}

func codeForStatus(status int) errs.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.CodeAuth
	case status == http.StatusNotFound:
		return errs.CodeNotFound
	case status == http.StatusTooManyRequests:
		return errs.CodeRateLimited
	case status >= 500:
		return errs.CodeUnavailable
	case status >= 400:
		return errs.CodeInvalid
	default:
		return errs.CodeExchange
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("stockfighter(%s/%s/%s)", c.cfg.Venue, c.cfg.Account, c.cfg.Symbol)
}
