package progress

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 64

// Bus is a non-blocking publish/subscribe hub for progress events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
}

// NewBus creates a bus whose subscribers buffer up to buffer events.
// Non-positive values use the default.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{subs: make(map[uint64]*Subscription), buffer: buffer}
}

// Subscribe registers a new observer. Events published before this call are
// never delivered to it.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		bus:    b,
		events: make(chan Event, b.buffer),
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers the event to every current subscriber without blocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.deliver(evt)
	}
}

// Count returns the number of live subscribers.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one observer's view of the bus.
//
// The events channel is never closed; observers select on Done to learn that
// the subscription ended.
type Subscription struct {
	id      uint64
	bus     *Bus
	events  chan Event
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	// mu serializes deliveries so a final event can make room in a full buffer.
	mu sync.Mutex
}

// Events returns the receive side of the subscriber buffer.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once Close has been called.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped reports how many events were discarded because the buffer was full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close detaches the subscription from the bus. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s.id)
	})
}

// deliver enqueues evt without blocking. When the buffer is full an ordinary
// update is dropped, but a final update evicts the oldest buffered ordinary
// update so observers always learn that an item finished.
func (s *Subscription) deliver(evt Event) {
	select {
	case <-s.done:
		return
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case s.events <- evt:
		return
	default:
	}
	if !evt.Final() || !s.evictOrdinary() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- evt:
	default:
		s.dropped.Add(1)
	}
}

// evictOrdinary removes the oldest buffered event that is not final, keeping
// the order of the rest. It reports whether room was made.
func (s *Subscription) evictOrdinary() bool {
	pending := make([]Event, 0, len(s.events))
	for len(pending) < cap(s.events) {
		select {
		case e := <-s.events:
			pending = append(pending, e)
			continue
		default:
		}
		break
	}
	evicted := false
	for _, e := range pending {
		if !evicted && !e.Final() {
			evicted = true
			s.dropped.Add(1)
			continue
		}
		select {
		case s.events <- e:
		default:
			s.dropped.Add(1)
		}
	}
	return evicted || len(pending) < cap(s.events)
}
