package stockfighter

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/marketmaker/errs"
	"github.com/coachpo/marketmaker/internal/domain/venue"
)

// serveFrames accepts one websocket, writes frames in order and closes normally.
func serveFrames(t *testing.T, wantPath string, frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath || r.Header.Get(authHeader) != "secret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}
}

func TestTickertapeSkipsBadFramesAndEndsOnClose(t *testing.T) {
	c, logs := newTestClient(t, serveFrames(t, "/EXB123456/venues/TESTEX/tickertape/stocks/FOOBAR",
		`not json`,
		`{"ok":false,"error":"hiccup"}`,
		`{"ok":true,"quote":{"symbol":"FOOBAR","venue":"TESTEX","bid":100,"ask":105,"bidSize":3,"askSize":4}}`,
	))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.DialQuotes(ctx)
	require.NoError(t, err)
	defer stream.Close()

	q, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), *q.Bid)
	require.Equal(t, int64(105), *q.Ask)
	require.Contains(t, logs.String(), "hiccup")

	_, err = stream.Next(ctx)
	require.True(t, errors.Is(err, venue.ErrStreamClosed))
}

func TestExecutionsFeed(t *testing.T) {
	c, _ := newTestClient(t, serveFrames(t, "/EXB123456/venues/TESTEX/executions/stocks/FOOBAR",
		`{"ok":true,"account":"EXB123456","venue":"TESTEX","symbol":"FOOBAR","order":`+orderJSON+
			`,"standingId":12,"incomingId":40,"price":5050,"filled":20,"filledAt":"2015-07-05T22:16:18.179638144Z",
			"standingComplete":false,"incomingComplete":true}`,
	))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.DialExecutions(ctx)
	require.NoError(t, err)
	defer stream.Close()

	e, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(12), e.Order.ID)
	require.Equal(t, int64(20), e.Filled)
	require.True(t, e.IncomingComplete)
}

func TestDialFailureIsClassified(t *testing.T) {
	c, _ := newTestClient(t, serveFrames(t, "/somewhere/else"))
	_, err := c.DialQuotes(context.Background())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeAuth))
}

func TestNextAfterCloseIsClosed(t *testing.T) {
	block := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		<-block
	})
	t.Cleanup(func() { close(block) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := c.DialQuotes(ctx)
	require.NoError(t, err)

	readCtx, stop := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stop()
	_, err = stream.Next(readCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_ = stream.Close()
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, venue.ErrStreamClosed)
}
