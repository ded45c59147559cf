package events

import (
	"sync"
	"time"

	goevents "github.com/docker/go-events"
	"github.com/google/uuid"

	"github.com/cuemby/netledger/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventResourceAdded     EventType = "resource.added"
	EventResourceRemoved   EventType = "resource.removed"
	EventResourceAllocated EventType = "resource.allocated"
	EventResourceReleased  EventType = "resource.released"
)

// Event is a ledger change, published only after the transaction that made
// it has committed
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	TxID      string
	Resource  types.Resource
	// Consumer is set for allocation and release events
	Consumer types.ConsumerID
}

// Broker fans events out to subscribers. Every subscriber has its own
// unbounded queue, so Publish never blocks on a slow reader and no event is
// dropped while the subscription is open.
type Broker struct {
	broadcast *goevents.Broadcaster

	mu            sync.Mutex
	subscriptions map[uint64]func()
	nextID        uint64
	stopped       bool
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		broadcast:     goevents.NewBroadcaster(),
		subscriptions: make(map[uint64]func()),
	}
}

// Stop ends every open subscription, dropping events nobody has read, then
// closes the broker. Subscriptions are ended first: a queue being closed
// waits for its channel to be drained or closed.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancels := make([]func(), 0, len(b.subscriptions))
	for _, cancel := range b.subscriptions {
		cancels = append(cancels, cancel)
	}
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	_ = b.broadcast.Close()
}

// Subscribe returns a channel receiving the events of the given types, or all
// events when no type is given. The returned func ends the subscription and
// closes the channel. After Stop the channel is returned closed.
func (b *Broker) Subscribe(filter ...EventType) (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		out := make(chan *Event)
		close(out)
		return out, func() {}
	}

	ch := goevents.NewChannel(0)
	sink := goevents.Sink(goevents.NewQueue(ch))
	if len(filter) > 0 {
		wanted := make(map[EventType]struct{}, len(filter))
		for _, t := range filter {
			wanted[t] = struct{}{}
		}
		sink = goevents.NewFilter(sink, goevents.MatcherFunc(func(e goevents.Event) bool {
			ev, ok := e.(*Event)
			if !ok {
				return false
			}
			_, ok = wanted[ev.Type]
			return ok
		}))
	}
	_ = b.broadcast.Add(sink)

	out := make(chan *Event)
	go func() {
		defer close(out)
		for {
			select {
			case e := <-ch.C:
				select {
				case out <- e.(*Event):
				case <-ch.Done():
					return
				}
			case <-ch.Done():
				return
			}
		}
	}()

	id := b.nextID
	b.nextID++

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscriptions, id)
			b.mu.Unlock()

			_ = b.broadcast.Remove(sink)
			ch.Close()
			_ = sink.Close()
		})
	}
	b.subscriptions[id] = cancel
	return out, cancel
}

// Publish sends event to every subscriber. ID and Timestamp are filled in
// when unset.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = b.broadcast.Write(event)
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}
