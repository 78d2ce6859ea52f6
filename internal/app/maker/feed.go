package maker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/marketmaker/internal/domain/venue"
)

const (
	feedQuotes     = "quotes"
	feedExecutions = "executions"
)

// supervise keeps one push subscription alive until ctx ends. Each event is
// handed to deliver; a false return stops the feed. The backoff resets once a
// connection has delivered anything.
func supervise[T any](
	ctx context.Context,
	m *Maker,
	feed string,
	dial func(context.Context) (venue.Stream[T], error),
	deliver func(context.Context, T) bool,
) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.ReconnectInitial
	bo.MaxInterval = m.opts.ReconnectMax
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}
		stream, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.metrics.recordReconnect(ctx, feed, "dial_failed")
			sleep := nextBackOff(bo, m.opts.ReconnectMax)
			m.logger.Printf("[FEED] %s dial failed: %v; retrying in %s", feed, err, sleep)
			if !sleepCtx(ctx, sleep) {
				return
			}
			continue
		}
		m.logger.Printf("[FEED] %s connected", feed)

		delivered, err := consume(ctx, m, feed, stream, deliver)
		_ = stream.Close()
		if ctx.Err() != nil || errors.Is(err, errStopFeed) {
			return
		}
		if delivered > 0 {
			bo.Reset()
		}
		m.metrics.recordReconnect(ctx, feed, "dropped")
		sleep := nextBackOff(bo, m.opts.ReconnectMax)
		m.logger.Printf("[FEED] %s dropped after %d events: %v; reconnecting in %s", feed, delivered, err, sleep)
		if !sleepCtx(ctx, sleep) {
			return
		}
	}
}

var errStopFeed = errors.New("feed stopped by consumer")

func consume[T any](
	ctx context.Context,
	m *Maker,
	feed string,
	stream venue.Stream[T],
	deliver func(context.Context, T) bool,
) (int, error) {
	delivered := 0
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return delivered, err
		}
		delivered++
		m.metrics.recordEvent(ctx, feed)
		if !deliver(ctx, event) {
			return delivered, errStopFeed
		}
	}
}

func nextBackOff(bo *backoff.ExponentialBackOff, ceiling time.Duration) time.Duration {
	sleep := bo.NextBackOff()
	if sleep == backoff.Stop {
		sleep = ceiling
	}
	return sleep
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
