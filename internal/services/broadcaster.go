package services

import (
	"sync"
	"time"

	"github.com/irfndi/flashloan-arb-go/internal/models"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Broadcaster fans events out to subscribers. Publish never blocks: a
// subscriber whose queue is full is dropped and its channel closed.
// Publish must not log, since the logging hook publishes through it.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]chan models.Event
	nextID uint64
	buffer int
	now    func() time.Time
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[uint64]chan models.Event), buffer: buffer, now: time.Now}
}

// Subscription is one consumer of the event stream.
type Subscription struct {
	id uint64
	C  <-chan models.Event
	b  *Broadcaster
}

func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan models.Event, b.buffer)
	b.subs[b.nextID] = ch
	return &Subscription{id: b.nextID, C: ch, b: b}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.b.remove(s.id)
}

func (b *Broadcaster) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers an event to every subscriber that has room for it.
func (b *Broadcaster) Publish(eventType models.EventType, data interface{}) {
	event := models.Event{Type: eventType, Data: data, Timestamp: b.now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
