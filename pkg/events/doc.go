/*
Package events provides the in-memory broker that announces committed ledger
changes.

The ledger publishes one event per resource after a transaction commits:

	resource.added       a resource was registered
	resource.removed     a resource was unregistered
	resource.allocated   a consumer allocated a resource (or an amount of it)
	resource.released    a consumer released an allocation

Nothing is published for aborted or conflicting transactions, so subscribers
only ever see state that is durable in the store.

# Architecture

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                         │
	│  Publish(event)                                         │
	│       │                                                 │
	│  ┌────▼────────────────────────┐                        │
	│  │  go-events Broadcaster      │                        │
	│  └────┬──────────────┬─────────┘                        │
	│       │              │                                  │
	│  ┌────▼─────┐   ┌────▼─────┐   Filter (by EventType)   │
	│  │  Queue   │   │  Queue   │   unbounded, per subscriber│
	│  └────┬─────┘   └────┬─────┘                            │
	│  ┌────▼─────┐   ┌────▼─────┐                            │
	│  │ Channel  │   │ Channel  │   <-chan *Event            │
	│  └──────────┘   └──────────┘                            │
	└─────────────────────────────────────────────────────────┘

Each subscription gets its own queue, so a slow subscriber delays only
itself. Events are not persisted: a subscriber sees what is published while
it is subscribed. Consumers should treat delivery as idempotent.

# Usage

	broker := events.NewBroker()
	defer broker.Stop()

	ch, cancel := broker.Subscribe(events.EventResourceAllocated)
	defer cancel()

	for ev := range ch {
		fmt.Printf("%s allocated %s\n", ev.Consumer, ev.Resource)
	}
*/
package events
