// Package progress fans dispatch telemetry out to any number of observers.
//
// Contract:
//   - Publish never blocks. Each subscriber owns a buffered channel; when it is
//     full the event is dropped for that subscriber only.
//   - Events are not queued or replayed for late subscribers.
package progress

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
)

// Publisher is what producers depend on. Hub and RedisRelay implement it.
type Publisher interface {
	Publish(e model.Event)
}

type Subscription struct {
	id      uint64
	ch      chan model.Event
	dropped atomic.Uint64
}

// C delivers events until the subscription is removed, then it is closed.
func (s *Subscription) C() <-chan model.Event { return s.ch }

// Dropped reports how many events this subscriber missed because its buffer was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	seq    atomic.Uint64
	buffer int
}

func NewHub(defaultBuffer int) *Hub {
	if defaultBuffer <= 0 {
		defaultBuffer = 64
	}
	return &Hub{subs: map[uint64]*Subscription{}, buffer: defaultBuffer}
}

func (h *Hub) Publish(e model.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Sends happen under the read lock so Unsubscribe (write lock) can never
	// close a channel mid-send; the sends themselves never block.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			metrics.ProgressDropped.Inc()
		}
	}
}

// Subscribe registers an observer. buffer <= 0 uses the hub default.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = h.buffer
	}
	s := &Subscription{id: h.seq.Add(1), ch: make(chan model.Event, buffer)}

	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	metrics.ProgressSubscribers.Inc()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	metrics.ProgressSubscribers.Dec()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var _ Publisher = (*Hub)(nil)
