package stockfighter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

// DialQuotes opens the tickertape feed for the configured symbol.
func (c *Client) DialQuotes(ctx context.Context) (venue.Stream[schema.Quote], error) {
	conn, err := c.dial(ctx, "tickertape", c.cfg.tickertapeURL())
	if err != nil {
		return nil, err
	}
	return newWSStream(conn, "tickertape", decodeTickertape, c.logger), nil
}

// DialExecutions opens the account's execution feed for the configured symbol.
func (c *Client) DialExecutions(ctx context.Context) (venue.Stream[schema.Execution], error) {
	conn, err := c.dial(ctx, "executions", c.cfg.executionsURL())
	if err != nil {
		return nil, err
	}
	return newWSStream(conn, "executions", decodeExecution, c.logger), nil
}

func (c *Client) dial(ctx context.Context, op, url string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set(authHeader, c.cfg.APIKey)
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: c.http,
	})
	if err != nil {
		opts := []errs.Option{errs.WithOp("dial " + op), errs.WithCause(err)}
		code := errs.CodeNetwork
		if resp != nil {
			opts = append(opts, errs.WithHTTP(resp.StatusCode))
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				code = errs.CodeAuth
			}
		}
		return nil, errs.New(venueName, code, opts...)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)
	return conn, nil
}

type wsStream[T any] struct {
	conn   *websocket.Conn
	feed   string
	decode func([]byte) (T, error)
	logger *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSStream[T any](conn *websocket.Conn, feed string, decode func([]byte) (T, error), logger *log.Logger) *wsStream[T] {
	return &wsStream[T]{
		conn:   conn,
		feed:   feed,
		decode: decode,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// Next blocks until a valid event arrives. Frames that fail validation are
// logged and skipped so one bad message does not end the feed.
func (s *wsStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case <-s.closed:
			return zero, venue.ErrStreamClosed
		default:
		}
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return zero, ctxErr
			}
			return zero, fmt.Errorf("%w: %s: %v", venue.ErrStreamClosed, s.feed, err)
		}
		if typ != websocket.MessageText {
			continue
		}
		event, err := s.decode(data)
		if err != nil {
			s.logger.Printf("[FEED] %s: dropping malformed message: %v", s.feed, err)
			continue
		}
		return event, nil
	}
}

func (s *wsStream[T]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close(websocket.StatusNormalClosure, "")
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	})
	return err
}

func decodeTickertape(data []byte) (schema.Quote, error) {
	var msg tickertapeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Quote{}, err
	}
	if msg.OK != nil && !*msg.OK {
		return schema.Quote{}, fmt.Errorf("venue error: %s", msg.Error)
	}
	if msg.Quote == nil {
		return schema.Quote{}, errors.New("quote missing")
	}
	return msg.Quote.toQuote()
}

func decodeExecution(data []byte) (schema.Execution, error) {
	var msg executionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return schema.Execution{}, err
	}
	if msg.OK != nil && !*msg.OK {
		return schema.Execution{}, fmt.Errorf("venue error: %s", msg.Error)
	}
	return msg.toExecution()
}
