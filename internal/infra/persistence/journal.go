// Package persistence adapts database-backed order stores to the engine's
// non-blocking journal contract.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"

	"github.com/coachpo/marketmaker/internal/domain/orderstore"
	"github.com/coachpo/marketmaker/lib/async"
)

// AsyncJournal hands journal writes to bounded worker pools so the engine
// never waits on the database. Writes that do not fit the queue are dropped
// and logged.
//
// Each order hashes to a single-worker lane, so the writes of one order are
// applied in submission order while distinct orders proceed in parallel.
type AsyncJournal struct {
	store  orderstore.Journal
	lanes  []*async.Pool
	logger *log.Logger
}

// NewAsyncJournal wraps store with the given number of lanes sharing a queue
// of the given total depth.
func NewAsyncJournal(store orderstore.Journal, lanes, queue int, logger *log.Logger) (*AsyncJournal, error) {
	if store == nil {
		return nil, fmt.Errorf("async journal: store required")
	}
	if lanes <= 0 {
		return nil, fmt.Errorf("async journal: lanes must be >0")
	}
	if logger == nil {
		logger = log.Default()
	}
	perLane := queue / lanes
	if perLane < 1 {
		perLane = 1
	}
	j := &AsyncJournal{store: store, logger: logger}
	for i := 0; i < lanes; i++ {
		pool, err := async.NewPool(1, perLane, func(err error) {
			logger.Printf("[JOURNAL] write failed: %v", err)
		})
		if err != nil {
			return nil, fmt.Errorf("async journal: %w", err)
		}
		j.lanes = append(j.lanes, pool)
	}
	return j, nil
}

// CreateOrder queues the insert of a new order.
func (j *AsyncJournal) CreateOrder(ctx context.Context, order orderstore.Order) error {
	return j.submit(ctx, order.ID, "create", func(ctx context.Context) error {
		return j.store.CreateOrder(ctx, order)
	})
}

// UpdateOrder queues a lifecycle transition.
func (j *AsyncJournal) UpdateOrder(ctx context.Context, update orderstore.OrderUpdate) error {
	return j.submit(ctx, update.ID, "update", func(ctx context.Context) error {
		return j.store.UpdateOrder(ctx, update)
	})
}

// RecordFill queues a fill.
func (j *AsyncJournal) RecordFill(ctx context.Context, fill orderstore.Fill) error {
	return j.submit(ctx, fill.OrderID, "fill", func(ctx context.Context) error {
		return j.store.RecordFill(ctx, fill)
	})
}

// Close flushes queued writes, giving up when ctx expires.
func (j *AsyncJournal) Close(ctx context.Context) error {
	var errList []error
	for _, lane := range j.lanes {
		if err := lane.Shutdown(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func (j *AsyncJournal) submit(ctx context.Context, orderID, what string, task async.Task) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Writes outlive the order's own context.
	if err := j.lane(orderID).Submit(context.WithoutCancel(ctx), task); err != nil {
		j.logger.Printf("[JOURNAL] dropped %s %s: %v", what, orderID, err)
		return err
	}
	return nil
}

func (j *AsyncJournal) lane(orderID string) *async.Pool {
	if len(j.lanes) == 1 {
		return j.lanes[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(orderID))
	return j.lanes[h.Sum32()%uint32(len(j.lanes))]
}
