/*
Package ledger tracks network resources (ports, VLAN ids, MPLS labels,
wavelengths, link bandwidth) and arbitrates their registration, allocation
and release across every node sharing the same store.

# Architecture

	┌────────────────────────── LEDGER ──────────────────────────────┐
	│                                                                  │
	│  ┌────────────────────────────────────────────┐                 │
	│  │                  Ledger                      │                 │
	│  │  Register / Unregister / Allocate / Release  │                 │
	│  │  IsAvailable / Get* queries                  │                 │
	│  └──────────────────┬─────────────────────────┘                 │
	│                     │ one storage.Tx per call                    │
	│  ┌──────────────────▼─────────────────────────┐                 │
	│  │                txStores                      │                 │
	│  │  ┌──────────────────┐ ┌──────────────────┐  │                 │
	│  │  │ discreteTxStore  │ │continuousTxStore │  │                 │
	│  │  │ children + owner │ │children + records│  │                 │
	│  │  └──────────────────┘ └──────────────────┘  │                 │
	│  └──────────────────┬─────────────────────────┘                 │
	│                     │ canonical bytes (resource.Serializer)      │
	│  ┌──────────────────▼─────────────────────────┐                 │
	│  │             storage.Store                    │                 │
	│  │  MemoryStore │ BoltStore │ manager.Manager   │                 │
	│  └────────────────────────────────────────────┘                 │
	│                                                                  │
	│  after commit: events.Broker ── resource.* events                │
	│                metrics      ── operations, refusals, durations   │
	└──────────────────────────────────────────────────────────────────┘

# Model

Resources form a tree rooted at types.Root. A resource only exists once it is
registered under a registered parent. Discrete resources have a single owner;
continuous resources (quantities such as bandwidth) admit several partial
allocations whose sum never exceeds the registered capacity.

	of:1                          discrete, opaque segment
	of:1/port:3                   discrete, encoded (port codec)
	of:1/port:3/vlan:100          discrete, encoded (VLAN codec)
	of:1/port:3/lambda:7          discrete, generic (no codec)
	of:1/port:3/@bandwidth=1000   continuous, capacity 1000

# Persisted layout

	discrete.children      parent id    -> children container (generic ids + encoded ranges)
	discrete.consumers     resource id  -> consumer id
	continuous.children    parent id    -> registered quantities
	continuous.consumers   quantity id  -> capacity and ordered reservations

The root's discrete container is seeded by New. A parent without children
has no container at all, or an empty one once its last child is removed.

# Operations

Register:
  - Groups resources by parent, keeping the order parents first appear
  - Each parent must be registered already or earlier in the same call
  - Registering an existing resource is a no-op and publishes nothing
  - A quantity registered again with another capacity is refused

Unregister:
  - Every id must be registered and free
  - A discrete id takes everything below it along: the child containers of
    the resource and of its descendants are removed, so nothing below a
    forgotten resource can be found, allocated or brought back by
    registering it again
  - Refused when the resource or anything below it is allocated
  - Every container and allocation below is read inside the transaction, so
    an allocation or registration below the resource that commits first
    makes the unregister conflict, and the other way round

Allocate:
  - Discrete: the resource must be registered and have no owner
  - Continuous: the request's value is the amount; the remaining capacity
    must cover it
  - All resources of the call are allocated or none is

Release:
  - Discrete: only the owner releases; anyone else is refused
  - Continuous: removes one reservation of exactly that amount made by
    that consumer; releasing a reservation the consumer does not hold
    changes nothing and succeeds
  - All allocations of the call are released or none is

IsAvailable:
  - Read-only transaction, always aborted
  - false for unregistered resources
  - May be stale by the time Allocate runs; Allocate checks again

Queries:
  - GetResource, GetResourceAllocations, GetChildResources
  - GetAvailableResources: free discrete children, and quantities with
    the amount left as their value
  - GetAllocatedResources: allocated discrete children of one segment kind
  - GetResources: everything a consumer holds

# Transactions

Every public operation opens one storage transaction, performs its reads and
conditional writes through the discrete and continuous sub-stores, and
commits. The store re-validates every key the transaction read, so two
callers that read the same free capacity cannot both commit: the second one
is refused with a concurrent-modification reason and nothing it wrote is
applied.

A request is refused (false, nil) when:

	parent_not_registered   a parent is unknown
	not_registered          the resource is unknown
	already_allocated       a discrete resource has another owner
	foreign_allocation      releasing a discrete resource held by someone else
	not_allocated           releasing a discrete resource nobody holds
	insufficient_capacity   not enough of a quantity left
	allocation_exists       unregistering something in use
	capacity_mismatch       re-registering a quantity with another capacity
	concurrent_conflict     another transaction committed first
	invalid_resource_kind   an id of a kind the ledger does not store

Any other error comes from the store (I/O, raft, a follower asked to write)
and is returned to the caller wrapped.

The ledger does not retry. Callers re-issue the whole request if they want
to, possibly with different resources.

Precondition violations are programming errors and panic: a nil resource,
the root resource as an argument, an empty consumer, or a negative, NaN or
infinite amount.

# Notifications

With WithBroker, every committed change publishes one event per resource:

	resource.added       Register, new resources only
	resource.removed     Unregister, including everything removed below
	resource.allocated   Allocate
	resource.released    Release, actual releases only

Events carry the transaction id and are published only after the commit
succeeded. A refused call publishes nothing.

# Usage

	l, err := ledger.New(store, codec.NewRegistry(), ledger.WithBroker(broker))
	if err != nil {
		return err
	}

	device := types.Discrete(types.Opaque("of:1"))
	port := device.Child(types.Port(3))
	vlan := port.Child(types.VLAN(100))
	ok, err := l.Register([]types.Resource{device, port, vlan, port.Quantity("bandwidth", 1000)})

	ok, err = l.Allocate("tunnel-7", vlan, port.Quantity("bandwidth", 600))
	if err != nil {
		return err // the store failed
	}
	if !ok {
		// refused: the reason is logged at debug level and counted in
		// netledger_ledger_failures_total
	}

	held, err := l.GetResources("tunnel-7")

	ok, err = l.Release([]types.Allocation{
		{Resource: vlan, Consumer: "tunnel-7"},
		{Resource: port.Quantity("bandwidth", 600), Consumer: "tunnel-7"},
	})

	ok, err = l.Unregister([]types.ResourceID{device.ID})

# Integration Points

This package integrates with:

  - pkg/storage: the transaction substrate
  - pkg/manager: a replicated storage.Store; on a follower mutations fail
    with an error wrapping storage.ErrReadOnly
  - pkg/resource and pkg/codec: container values and their encoding
  - pkg/events: post-commit notifications
  - pkg/metrics: netledger_ledger_operations_total,
    netledger_ledger_failures_total and operation durations
  - pkg/api: the HTTP surface over every public operation

# Performance Characteristics

  - A container read decodes the whole child set of one parent; encoded
    ranges keep label pools of thousands of values to a few bytes
  - GetResources and GetAllocatedResources scan a consumers table
  - Unregistering a device visits every resource below it
  - Contention is per parent container and per quantity: allocations under
    different parents never conflict with each other

# Troubleshooting

Requests refused with concurrent_conflict:
  - Several callers allocate under the same parent at once
  - Re-issue the request; the ledger never retries on its own

Unregister refused with allocation_exists:
  - Something below the resource is still held
  - GetResources for the consumer, or GetAllocatedResources per kind, shows
    what is in use
*/
package ledger
