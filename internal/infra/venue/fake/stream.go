package fake

import (
	"context"
	"sync"

	"github.com/coachpo/marketmaker/internal/domain/venue"
)

// hub fans events out to channel-backed streams. Slow subscribers lose events
// instead of stalling the matching loop, like a real push feed.
type hub[T any] struct {
	buffer int

	mu   sync.Mutex
	subs map[*chanStream[T]]struct{}
}

func newHub[T any](buffer int) *hub[T] {
	return &hub[T]{buffer: buffer, subs: make(map[*chanStream[T]]struct{})}
}

func (h *hub[T]) subscribe() *chanStream[T] {
	s := &chanStream[T]{
		ch:   make(chan T, h.buffer),
		done: make(chan struct{}),
		hub:  h,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// publish reports how many subscribers missed the event.
func (h *hub[T]) publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for s := range h.subs {
		select {
		case s.ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub[T]) closeAll() int {
	h.mu.Lock()
	subs := make([]*chanStream[T], 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	return len(subs)
}

func (h *hub[T]) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type chanStream[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
	hub  *hub[T]
}

var _ venue.Stream[int] = (*chanStream[int])(nil)

func (s *chanStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-s.done:
		return zero, venue.ErrStreamClosed
	default:
	}
	select {
	case v := <-s.ch:
		return v, nil
	case <-s.done:
		return zero, venue.ErrStreamClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (s *chanStream[T]) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.done)
	})
	return nil
}
