// Package bus is the in-process fan-out from the ingest loop to live
// subscribers. Delivery is per-subscriber bounded: a subscriber that stops
// draining loses its oldest pending batches, never the publisher's time.
package bus

import (
	"log/slog"
	"sync"

	"nsefeed/internal/domain"
)

// DefaultBuffer is the per-subscriber channel depth used by Subscribe.
const DefaultBuffer = 64

// Subscription is one subscriber's view of the bus. C carries published
// batches in publish order and is closed by Unsubscribe or Bus.Close.
type Subscription struct {
	C chan domain.Batch

	bus *Bus
	id  int
}

// Unsubscribe detaches the subscription and closes its channel. It is
// idempotent; batches already buffered remain readable until drained.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
}

// Dropped returns how many batches were dropped for this subscriber.
func (s *Subscription) Dropped() uint64 {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.bus.dropped[s.id]
}

// Bus fans decoded batches out to subscribers. Publish never blocks: when a
// subscriber's buffer is full, its oldest pending batch is dropped to make
// room, so every subscriber always sees the most recent data in order.
type Bus struct {
	log *slog.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]*Subscription
	dropped map[int]uint64
	closed  bool
}

// New creates a Bus.
func New(log *slog.Logger) *Bus {
	return &Bus{
		log:     log,
		subs:    make(map[int]*Subscription),
		dropped: make(map[int]uint64),
	}
}

// Subscribe registers a new subscriber with the default buffer depth.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffer(DefaultBuffer)
}

// SubscribeBuffer registers a new subscriber with an explicit buffer depth.
// Subscribing on a closed bus returns an already-closed subscription.
func (b *Bus) SubscribeBuffer(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: make(chan domain.Batch, buffer), bus: b, id: b.nextID}
	b.nextID++
	if b.closed {
		close(sub.C)
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers batch to every subscriber. Per subscriber, a full buffer
// drops the oldest pending batch; drops are counted and logged.
func (b *Bus) Publish(batch domain.Batch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, sub := range b.subs {
		for {
			select {
			case sub.C <- batch:
			default:
				// Buffer full: evict the oldest and retry. A concurrent
				// receive can drain the slot first, hence the loop.
				select {
				case <-sub.C:
					b.dropped[id]++
					b.log.Warn("subscriber lagging, dropped oldest batch",
						"subscriber", id, "kind", batch.Kind, "total_dropped", b.dropped[id])
				default:
				}
				continue
			}
			break
		}
	}
}

// Close detaches every subscriber and closes their channels. Publish and
// Subscribe after Close are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.C)
		delete(b.subs, id)
	}
}

// remove is idempotent: a subscription still in the map is detached and its
// channel closed; anything else is a no-op.
func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.C)
}
