package fake

import (
	"context"
	"time"

	"github.com/coachpo/marketmaker/internal/domain/schema"
)

// Simulate runs noise traders around a drifting mid price until ctx ends.
// Most noise orders rest away from the mid; some cross it and trade against
// whatever is quoted there.
func (v *Venue) Simulate(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = 100 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.noiseStep()
		}
	}
}

func (v *Venue) noiseStep() {
	model := v.opts.Noise
	v.rngMu.Lock()
	drift := v.rng.Int64N(3) - 1
	side := schema.SideBuy
	if v.rng.IntN(2) == 1 {
		side = schema.SideSell
	}
	offset := v.rng.Int64N(model.Width) + 1
	aggressive := v.rng.Float64() < 0.2
	qty := v.rng.Int64N(model.MaxQuantity) + 1
	v.rngMu.Unlock()

	v.mu.Lock()
	v.mid = max(v.mid+drift, model.Width+1)
	mid := v.mid
	v.mu.Unlock()

	price := mid - offset
	if side == schema.SideSell {
		price = mid + offset
	}
	if aggressive {
		price = mid + side.Sign()*offset
	}
	snap := v.Submit(noiseAccount, schema.OrderRequest{
		Symbol: v.opts.Symbol,
		Side:   side,
		Kind:   schema.KindLimit,
		Price:  price,
		Qty:    qty,
	})
	if snap.Open {
		v.trimNoise(snap.ID, model.MaxResting)
	}
}

// trimNoise cancels the oldest noise orders beyond the resting budget.
func (v *Venue) trimNoise(id int64, keep int) {
	v.mu.Lock()
	v.noise = append(v.noise, id)
	for len(v.noise) > keep {
		if o, ok := v.orders[v.noise[0]]; ok {
			v.cancelLocked(o)
		}
		v.noise = v.noise[1:]
	}
	quote := v.quoteLocked(time.Now())
	v.mu.Unlock()
	v.quotes.publish(quote)
}
