// Package eventbus is the in-process publish/subscribe channel for change
// events. Delivery is asynchronous, at-least-once, and ordered per target:
// each subscriber drains its own FIFO queue, so a later version of a target
// is never seen before an earlier one. Slow subscribers do not block the
// publisher; once a subscriber's bounded queue is full the oldest undelivered
// event is dropped and counted, and the subscriber is expected to detect the
// gap through version numbers.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/raysh454/spyglass/internal/logging"
	"github.com/raysh454/spyglass/internal/model"
)

// DefaultBufferSize bounds a subscriber queue when the bus is built with a
// non-positive size.
const DefaultBufferSize = 1024

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus is closed")

// Bus fans change events out to registered subscribers.
type Bus struct {
	bufferSize int
	logger     logging.Logger

	mu     sync.Mutex
	subs   []*Subscription
	closed bool
}

// New creates a Bus whose subscribers each get a queue of bufferSize events.
func New(bufferSize int, logger logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{bufferSize: bufferSize, logger: logging.OrNop(logger)}
}

// Subscription is one subscriber's view of the bus. Consume from Events until
// it closes; the channel closes after the bus is closed and the queue drained.
type Subscription struct {
	name string
	max  int

	mu     sync.Mutex
	queue  []model.ChangeEvent
	notify chan struct{}
	done   chan struct{}

	out chan model.ChangeEvent

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Subscribe registers a named subscriber. Subscribers register once at
// startup; subscribing to a closed bus returns an already-closed subscription.
func (b *Bus) Subscribe(name string) *Subscription {
	sub := &Subscription{
		name:   name,
		max:    b.bufferSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan model.ChangeEvent),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		close(sub.out)
		return sub
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Publish enqueues the event for every subscriber and returns immediately.
func (b *Bus) Publish(ev model.ChangeEvent) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if dropped := sub.enqueue(ev); dropped {
			b.logger.Warn("subscriber queue overflow, dropped oldest event",
				logging.F("subscriber", sub.name),
				logging.F("target_id", ev.TargetID))
		}
	}
	return nil
}

// Close stops the bus. Pending events still drain to their subscribers, after
// which each subscriber's Events channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}

// SubscriberStats is a point-in-time counter snapshot for one subscriber.
type SubscriberStats struct {
	Name      string `json:"name"`
	Queued    int    `json:"queued"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

// Stats reports queue depth and delivery counters per subscriber.
func (b *Bus) Stats() []SubscriberStats {
	b.mu.Lock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	out := make([]SubscriberStats, 0, len(subs))
	for _, sub := range subs {
		sub.mu.Lock()
		queued := len(sub.queue)
		sub.mu.Unlock()
		out = append(out, SubscriberStats{
			Name:      sub.name,
			Queued:    queued,
			Delivered: sub.delivered.Load(),
			Dropped:   sub.dropped.Load(),
		})
	}
	return out
}

// Events is the subscriber's delivery channel.
func (s *Subscription) Events() <-chan model.ChangeEvent { return s.out }

// Name returns the subscriber name given at registration.
func (s *Subscription) Name() string { return s.name }

// Dropped returns how many events were lost to queue overflow.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// enqueue appends to the subscriber queue, evicting the oldest entry when the
// queue is full. Reports whether an eviction happened.
func (s *Subscription) enqueue(ev model.ChangeEvent) bool {
	s.mu.Lock()
	evicted := false
	if len(s.queue) >= s.max {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
		evicted = true
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pump moves events from the queue to the out channel, one at a time, in
// order. It keeps draining after done closes so shutdown loses nothing that
// was already queued.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		ev, ok := s.dequeue()
		if ok {
			s.out <- ev
			s.delivered.Add(1)
			continue
		}
		select {
		case <-s.notify:
		case <-s.done:
			// Final drain; anything enqueued before Close still goes out.
			for {
				ev, ok := s.dequeue()
				if !ok {
					return
				}
				s.out <- ev
				s.delivered.Add(1)
			}
		}
	}
}

func (s *Subscription) dequeue() (model.ChangeEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return model.ChangeEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}
