package stockfighter

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/schema"
)

const orderJSON = `{"ok":true,"symbol":"FOOBAR","venue":"TESTEX","direction":"buy","originalQty":100,
"qty":80,"price":5100,"orderType":"limit","id":12,"account":"EXB123456","ts":"2015-07-05T22:16:18.179631732Z",
"fills":[{"price":5050,"qty":20,"ts":"2015-07-05T22:16:18.179638144Z"}],"totalFilled":20,"open":true}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	var logs bytes.Buffer
	c, err := New(Config{
		BaseURL:           srv.URL,
		WSURL:             "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:            "secret",
		Venue:             "TESTEX",
		Account:           "EXB123456",
		Symbol:            "FOOBAR",
		RequestsPerSecond: 1000,
		Burst:             100,
	}, log.New(&logs, "", 0))
	require.NoError(t, err)
	return c, &logs
}

func TestNewRequiresBinding(t *testing.T) {
	_, err := New(Config{Venue: "TESTEX", Symbol: "FOOBAR"}, nil)
	require.ErrorContains(t, err, "account required")
}

func TestPlaceSendsOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/venues/TESTEX/stocks/FOOBAR/orders", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get(authHeader))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal(body, &got))
		require.Equal(t, "EXB123456", got["account"])
		require.Equal(t, "TESTEX", got["venue"])
		require.Equal(t, "FOOBAR", got["symbol"])
		require.Equal(t, "buy", got["direction"])
		require.Equal(t, "limit", got["orderType"])
		require.EqualValues(t, 5100, got["price"])
		require.EqualValues(t, 100, got["qty"])
		_, _ = w.Write([]byte(orderJSON))
	})

	snap, err := c.Place(context.Background(), schema.OrderRequest{
		Symbol: "FOOBAR", Side: schema.SideBuy, Kind: schema.KindLimit, Price: 5100, Qty: 100,
	})
	require.NoError(t, err)
	require.Equal(t, int64(12), snap.ID)
	require.True(t, snap.Open)
	require.Equal(t, int64(80), snap.Qty)
	require.Equal(t, int64(20), snap.TotalFilled)
	require.Len(t, snap.Fills, 1)
	require.Equal(t, int64(5050), snap.Fills[0].Price)
	require.False(t, snap.Timestamp.IsZero())
}

func TestPlaceRejectsInvalidRequestLocally(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("invalid request reached the venue")
	})
	_, err := c.Place(context.Background(), schema.OrderRequest{Symbol: "FOOBAR", Side: schema.SideBuy, Kind: schema.KindLimit, Qty: 0})
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestQueryAndCancelPaths(t *testing.T) {
	var seen []string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(orderJSON))
	})
	ctx := context.Background()
	_, err := c.Query(ctx, 12)
	require.NoError(t, err)
	_, err = c.Cancel(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, []string{
		"GET /venues/TESTEX/stocks/FOOBAR/orders/12",
		"DELETE /venues/TESTEX/stocks/FOOBAR/orders/12",
	}, seen)
}

func TestOpenOrdersSkipsMalformedEntries(t *testing.T) {
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/venues/TESTEX/accounts/EXB123456/stocks/FOOBAR/orders", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"venue":"TESTEX","orders":[` + orderJSON + `,
			{"id":13,"symbol":"FOOBAR","direction":"sideways","originalQty":1,"open":true,"orderType":"limit"}]}`))
	})
	snaps, err := c.OpenOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, int64(12), snaps[0].ID)
	require.Contains(t, logs.String(), "skipping malformed order")
}

func TestQuoteDecodesOptionalPrices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/venues/TESTEX/stocks/FOOBAR/quote", r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true,"symbol":"FOOBAR","venue":"TESTEX","bid":5100,"bidSize":392,
			"askSize":0,"bidDepth":2748,"askDepth":0,"last":5100,"lastSize":10,
			"lastTrade":"2015-07-13T05:38:17.33640392Z","quoteTime":"2015-07-13T05:38:17.33640392Z"}`))
	})
	q, err := c.Quote(context.Background())
	require.NoError(t, err)
	require.NotNil(t, q.Bid)
	require.Equal(t, int64(5100), *q.Bid)
	require.Nil(t, q.Ask)
	require.Equal(t, int64(392), q.BidSize)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		code   errs.Code
		raw    string
	}{
		{"not found", http.StatusNotFound, `{"ok":false,"error":"No order 99"}`, errs.CodeNotFound, "No order 99"},
		{"auth", http.StatusUnauthorized, `{"ok":false,"error":"bad key"}`, errs.CodeAuth, "bad key"},
		{"throttled", http.StatusTooManyRequests, `slow down`, errs.CodeRateLimited, "slow down"},
		{"server", http.StatusBadGateway, `<html>oops</html>`, errs.CodeUnavailable, "<html>oops</html>"},
		{"bad request", http.StatusBadRequest, `{"ok":false,"error":"qty"}`, errs.CodeInvalid, "qty"},
		{"venue says no", http.StatusOK, `{"ok":false,"error":"venue closed"}`, errs.CodeRejected, "venue closed"},
		{"no ok flag", http.StatusOK, `{"id":1}`, errs.CodeMalformed, ""},
		{"not json", http.StatusOK, `nope`, errs.CodeMalformed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Query(context.Background(), 99)
			require.Error(t, err)
			require.Equal(t, tc.code, errs.CodeOf(err))
			var e *errs.E
			require.ErrorAs(t, err, &e)
			require.Equal(t, "query", e.Op)
			if tc.raw != "" {
				require.Equal(t, tc.raw, e.RawMsg)
			}
		})
	}
}

func TestMalformedOrderBodyIsMalformed(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"id":4,"symbol":"FOOBAR","direction":"buy","orderType":"limit","open":true}`))
	})
	_, err := c.Query(context.Background(), 4)
	require.True(t, errs.Is(err, errs.CodeMalformed))
	require.ErrorContains(t, err, "originalQty missing")
}

func TestTransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{BaseURL: url, Venue: "TESTEX", Account: "A", Symbol: "FOOBAR"}, nil)
	require.NoError(t, err)
	_, err = c.OpenOrders(context.Background())
	require.True(t, errs.Is(err, errs.CodeNetwork))
	require.True(t, errs.Retryable(err))
}
