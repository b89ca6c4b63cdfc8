package events

import "sync"

// subscriberBuffer bounds how far a slow subscriber can lag before events are
// dropped for it; it does not throttle the publisher.
const subscriberBuffer = 256

// Bus fans a single stream of published events out to any number of
// subscribers. Publish never blocks on a slow subscriber: a full subscriber
// channel drops the event rather than stall every other caller of Publish.
type Bus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel along with an
// unsubscribe function the caller must invoke when done listening.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish delivers e to every current subscriber. Publishers for a single
// download must call Publish from one goroutine (or otherwise serialize
// their own calls) to preserve the per-id ordering guarantee across
// queue_download / download_progress / download_complete.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Subscriber is behind; drop rather than block the publisher.
		}
	}
}

// SubscriberCount reports how many listeners are currently attached, mostly
// useful for tests and metrics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
