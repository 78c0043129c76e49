// Package eventbus is the room-scoped publish/subscribe fabric that
// carries lifecycle, status, and intervention events to external
// observers. Rooms are named swarm-{id}; subscribers may filter by event
// field and are isolated from backpressure on other subscribers.
package eventbus

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Filter decides whether a subscriber wants to see an event. A filter
// that rejects an event still advances the subscriber's delivery
// sequence — the drop counts as delivered for ordering purposes.
type Filter func(Event) bool

// Subscription is one session's membership in a room.
type Subscription struct {
	ID     string
	Room   string
	Ch     chan Event
	Filter Filter
}

// Store receives a copy of every published event. The bus never reads
// stored events back, so late joiners get no replay.
type Store interface {
	Save(event *Event) error
}

// Backpressure configuration, same shape as the single-target bus this
// generalizes: a few quick retries, then drop with a counter bump.
const (
	MaxBackpressureRetries = 3
	BackpressureRetryDelay = 10 * time.Millisecond
)

// Bus is the room-scoped event fabric.
type Bus struct {
	mu            sync.Mutex
	rooms         map[string][]*Subscription
	publisherSeq  map[string]map[string]uint64 // room -> publisher -> next seq
	store         Store
	droppedEvents uint64
	nextSubID     uint64
}

// New creates an event bus. store may be nil.
func New(store Store) *Bus {
	return &Bus{
		rooms:        make(map[string][]*Subscription),
		publisherSeq: make(map[string]map[string]uint64),
		store:        store,
	}
}

// Subscribe joins a room with an optional filter, returning a receive-only
// channel of matching events and the subscription id (for Unsubscribe).
func (b *Bus) Subscribe(room string, bufferSize int, filter Filter) (string, <-chan Event) {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		ID:     subIDFor(b.nextSubID),
		Room:   room,
		Ch:     make(chan Event, bufferSize),
		Filter: filter,
	}
	b.rooms[room] = append(b.rooms[room], sub)
	return sub.ID, sub.Ch
}

func subIDFor(n uint64) string {
	const hex = "0123456789abcdef"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append([]byte{hex[n%16]}, buf...)
		n /= 16
	}
	return string(buf)
}

// Unsubscribe removes a subscription from a room and closes its channel.
func (b *Bus) Unsubscribe(room, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[room]
	if !ok {
		return
	}

	for i, sub := range subs {
		if sub.ID == subID {
			close(sub.Ch)
			b.rooms[room] = append(subs[:i], subs[i+1:]...)
			if len(b.rooms[room]) == 0 {
				delete(b.rooms, room)
			}
			return
		}
	}
}

// Publish sends an event to every subscriber of event.SwarmID's room. The
// whole operation runs under the bus lock so that concurrent publishers
// cannot interleave and break per-publisher ordering as observed by any
// single subscriber.
func (b *Bus) Publish(event *Event) {
	room := Room(event.SwarmID)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.publisherSeq[room] == nil {
		b.publisherSeq[room] = make(map[string]uint64)
	}
	b.publisherSeq[room][event.Publisher]++
	event.Seq = b.publisherSeq[room][event.Publisher]

	if b.store != nil {
		if err := b.store.Save(event); err != nil {
			log.Printf("[EVENTBUS] ERROR: failed to persist event: type=%s, room=%s, id=%s, error=%v",
				event.Type, room, event.ID, err)
		}
	}

	for _, sub := range b.rooms[room] {
		if sub.Filter != nil && !sub.Filter(*event) {
			continue // dropped by filter; still counted as delivered for ordering
		}
		b.sendWithBackpressure(sub, *event)
	}
}

// sendWithBackpressure attempts delivery with a few quick retries before
// dropping and bumping the dropped-event counter.
func (b *Bus) sendWithBackpressure(sub *Subscription, event Event) {
	select {
	case sub.Ch <- event:
		return
	default:
	}

	for retry := 1; retry <= MaxBackpressureRetries; retry++ {
		time.Sleep(BackpressureRetryDelay)
		select {
		case sub.Ch <- event:
			return
		default:
		}
	}

	dropped := atomic.AddUint64(&b.droppedEvents, 1)
	log.Printf("[EVENTBUS] WARNING: dropped event after %d retries: type=%s, room=%s, id=%s (total dropped: %d)",
		MaxBackpressureRetries, event.Type, Room(event.SwarmID), event.ID, dropped)
}

// DroppedEventCount returns the total number of events dropped due to
// full subscriber channels.
func (b *Bus) DroppedEventCount() uint64 {
	return atomic.LoadUint64(&b.droppedEvents)
}

// RoomSize returns the number of subscriptions currently in a room.
func (b *Bus) RoomSize(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}
