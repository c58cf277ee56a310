package events

import (
	"sync"
)

// subscription is one consumer's buffered channel plus its type filter.
type subscription struct {
	ch    chan Event
	types []Type
}

// Bus fans published events out to subscribers. Sends never block: a
// subscriber that falls behind loses events rather than stalling the
// publisher.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events matching the given types.
// Nil or empty types means every event.
func (b *Bus) Subscribe(types ...Type) <-chan Event {
	sub := &subscription{
		ch:    make(chan Event, 100),
		types: types,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.ch == ch {
			close(sub.ch)
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every matching subscriber without
// blocking.
func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !matches(event.Type, sub.types) {
			continue
		}
		select {
		case sub.ch <- *event:
		default:
			// Subscriber buffer full, drop.
		}
	}
}

func matches(eventType Type, filter []Type) bool {
	if len(filter) == 0 {
		return true
	}
	for _, t := range filter {
		if t == eventType {
			return true
		}
	}
	return false
}
