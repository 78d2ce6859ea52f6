package fake

import (
	"sort"
	"time"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

type restingOrder struct {
	snap *schema.OrderSnapshot
}

func (o *restingOrder) recordFill(qty, price int64, ts time.Time) {
	o.snap.Fills = append(o.snap.Fills, schema.Fill{Price: price, Qty: qty, TS: ts})
	o.snap.TotalFilled += qty
	o.snap.Qty -= qty
	if o.snap.Qty <= 0 {
		o.snap.Qty = 0
		o.snap.Open = false
	}
}

type orderFill struct {
	standing *restingOrder
	qty      int64
	price    int64
	ts       time.Time
}

// book keeps price-time priority queues per side.
type book struct {
	bids map[int64][]*restingOrder
	asks map[int64][]*restingOrder
}

func newBook() *book {
	return &book{
		bids: make(map[int64][]*restingOrder),
		asks: make(map[int64][]*restingOrder),
	}
}

func (b *book) levels(side schema.Side) map[int64][]*restingOrder {
	if side == schema.SideSell {
		return b.asks
	}
	return b.bids
}

func (b *book) rest(o *restingOrder) {
	levels := b.levels(o.snap.Side)
	levels[o.snap.Price] = append(levels[o.snap.Price], o)
}

func (b *book) remove(o *restingOrder) {
	levels := b.levels(o.snap.Side)
	queue := levels[o.snap.Price]
	for i, candidate := range queue {
		if candidate == o {
			queue = append(queue[:i], queue[i+1:]...)
			break
		}
	}
	if len(queue) == 0 {
		delete(levels, o.snap.Price)
		return
	}
	levels[o.snap.Price] = queue
}

// available sums what an incoming order on side could take at or better than limit.
func (b *book) available(side schema.Side, limit int64, hasLimit bool) int64 {
	var total int64
	for price, queue := range b.levels(side.Opposite()) {
		if hasLimit && !crosses(side, price, limit) {
			continue
		}
		for _, o := range queue {
			total += o.snap.Qty
		}
	}
	return total
}

// consume matches an incoming order against the opposite side, best price
// first and oldest order first within a price. Fills of one sweep are a
// nanosecond apart so each keeps a distinct identity.
func (b *book) consume(side schema.Side, qty, limit int64, hasLimit bool, ts time.Time) []orderFill {
	levels := b.levels(side.Opposite())
	var fills []orderFill
	for _, price := range orderedPrices(levels, side == schema.SideBuy) {
		if qty <= 0 {
			break
		}
		if hasLimit && !crosses(side, price, limit) {
			break
		}
		queue := levels[price]
		for len(queue) > 0 && qty > 0 {
			standing := queue[0]
			take := min(qty, standing.snap.Qty)
			at := ts.Add(time.Duration(len(fills)))
			standing.recordFill(take, price, at)
			fills = append(fills, orderFill{standing: standing, qty: take, price: price, ts: at})
			qty -= take
			if !standing.snap.Open {
				queue = queue[1:]
			}
		}
		if len(queue) == 0 {
			delete(levels, price)
		} else {
			levels[price] = queue
		}
	}
	return fills
}

func crosses(side schema.Side, price, limit int64) bool {
	if side == schema.SideBuy {
		return price <= limit
	}
	return price >= limit
}

func orderedPrices(levels map[int64][]*restingOrder, ascending bool) []int64 {
	prices := make([]int64, 0, len(levels))
	for price, queue := range levels {
		if len(queue) > 0 {
			prices = append(prices, price)
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		if ascending {
			return prices[i] < prices[j]
		}
		return prices[i] > prices[j]
	})
	return prices
}

// top returns the best price, the size resting there and the side's total depth.
func (b *book) top(side schema.Side) (*int64, int64, int64) {
	levels := b.levels(side)
	prices := orderedPrices(levels, side == schema.SideSell)
	if len(prices) == 0 {
		return nil, 0, 0
	}
	var size, depth int64
	for price, queue := range levels {
		for _, o := range queue {
			depth += o.snap.Qty
			if price == prices[0] {
				size += o.snap.Qty
			}
		}
	}
	best := prices[0]
	return &best, size, depth
}
