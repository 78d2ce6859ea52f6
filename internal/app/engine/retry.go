package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/marketmaker/errs"
)

// Escalation is published when repeated gateway failures open the breaker,
// and again when the breaker closes.
type Escalation struct {
	Op       string
	Failures int
	Err      error
	At       time.Time
	Cleared  bool
}

// Breaker counts consecutive failures of repeatable gateway calls. While it
// is open the spread state stops placing new orders; cancels still go out.
type Breaker struct {
	threshold int
	logger    *log.Logger
	metrics   *engineMetrics
	signals   chan Escalation

	mu       sync.Mutex
	failures int
	open     bool
}

// NewBreaker opens after threshold consecutive failures.
func NewBreaker(threshold int, logger *log.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Breaker{
		threshold: threshold,
		logger:    logger,
		signals:   make(chan Escalation, 16),
	}
}

// Signals delivers escalations to the operator. Signals are dropped, not
// queued, when nobody drains the channel.
func (b *Breaker) Signals() <-chan Escalation {
	return b.signals
}

// Open reports whether new placements are suspended.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Success resets the failure streak and closes the breaker.
func (b *Breaker) Success(op string) {
	b.mu.Lock()
	wasOpen := b.open
	b.failures = 0
	b.open = false
	b.mu.Unlock()
	if wasOpen {
		b.logger.Printf("[RETRY] breaker closed after %s succeeded", op)
		b.publish(Escalation{Op: op, At: time.Now(), Cleared: true})
	}
}

// Failure records one failed attempt.
func (b *Breaker) Failure(op string, err error) {
	b.mu.Lock()
	b.failures++
	failures := b.failures
	opened := !b.open && failures >= b.threshold
	if opened {
		b.open = true
	}
	b.mu.Unlock()
	if opened {
		b.logger.Printf("[RETRY] breaker open: %s failed %d times in a row: %v", op, failures, err)
		b.metrics.recordEscalation(context.Background(), op)
		b.publish(Escalation{Op: op, Failures: failures, Err: err, At: time.Now()})
	}
}

func (b *Breaker) publish(e Escalation) {
	select {
	case b.signals <- e:
	default:
		b.logger.Printf("[RETRY] escalation channel full; dropped signal for %s", e.Op)
	}
}

type retrier struct {
	policy  RetryPolicy
	breaker *Breaker
	logger  *log.Logger
}

func (r *retrier) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		b.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	if r.policy.Multiplier >= 1 {
		b.Multiplier = r.policy.Multiplier
	}
	return b
}

// retryCall repeats fn until it succeeds, fails permanently or ctx ends.
// There is no elapsed-time limit; the breaker is the escalation path.
func retryCall[T any](ctx context.Context, r *retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			r.breaker.Success(op)
			return v, nil
		}
		if !errs.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		r.breaker.Failure(op, err)
		return v, err
	},
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Printf("[RETRY] %s failed: %v; retrying in %s", op, err, next.Round(time.Millisecond))
		}),
	)
}
