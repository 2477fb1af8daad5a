package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Message
	all  []chan Message

	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message), now: time.Now}
}

// Subscribe registers a listener for one event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.subs[e] = append(b.subs[e], ch)

	return ch, b.unsubscribe(func() {
		b.subs[e] = remove(b.subs[e], ch)
	}, ch)
}

// SubscribeAll registers a listener for every event.
func (b *Bus) SubscribeAll(buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.all = append(b.all, ch)

	return ch, b.unsubscribe(func() {
		b.all = remove(b.all, ch)
	}, ch)
}

func (b *Bus) unsubscribe(detach func(), ch chan Message) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			detach()
			close(ch)
		})
	}
}

// Publish fans the payload out without blocking; slow subscribers miss it.
func (b *Bus) Publish(e Event, payload any) {
	msg := Message{Type: e, Time: b.now().UTC(), Data: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		b.offer(ch, msg)
	}
	for _, ch := range b.all {
		b.offer(ch, msg)
	}
}

func (b *Bus) offer(ch chan Message, msg Message) {
	select {
	case ch <- msg:
	default:
		b.dropped.Add(1)
	}
}

// Dropped counts messages not delivered to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active channels.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := len(b.all)
	for _, subs := range b.subs {
		n += len(subs)
	}
	return n
}

func remove(subs []chan Message, ch chan Message) []chan Message {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
