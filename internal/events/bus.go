package events

import (
	"context"
	"sync"
	"time"
)

// Reason says why the session changed. Listeners should not depend on it for
// correctness: the signal itself is the contract.
type Reason string

const (
	ReasonLogin    Reason = "login"
	ReasonLogout   Reason = "logout"
	ReasonExpired  Reason = "expired"
	ReasonExternal Reason = "external"
)

// Event is a session-changed notification.
type Event struct {
	Reason Reason    `json:"reason"`
	At     time.Time `json:"at"`
}

// Publisher is the publishing half of the bus.
type Publisher interface {
	Publish(evt Event)
}

// Bus fans session-changed events out to all active subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when ctx ends.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// SubscribeFunc calls fn for every event until ctx ends. fn runs on a
// dedicated goroutine, so it never blocks Publish.
func (b *Bus) SubscribeFunc(ctx context.Context, fn func(Event)) {
	ch := b.Subscribe(ctx)
	go func() {
		for evt := range ch {
			fn(evt)
		}
	}()
}

// Publish fans the event out to all subscribers. Delivery order between
// subscribers is unspecified.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
