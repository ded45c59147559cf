package ledger

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/events"
	"github.com/cuemby/netledger/pkg/metrics"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

var (
	device   = types.Discrete(types.Opaque("of:1"))
	port1    = device.Child(types.Port(1))
	port2    = device.Child(types.Port(2))
	link     = types.Discrete(types.Opaque("link-1"))
	bwID     = link.ID.Continuous("bandwidth")
	capacity = bwID.Resource(1000)
)

func bw(v float64) types.ContinuousResource {
	return bwID.Resource(v)
}

func label(v int64) types.DiscreteResource {
	return device.Child(types.MPLSLabel(v))
}

// forEachStore runs fn against a fresh ledger on every backend
func forEachStore(t *testing.T, fn func(t *testing.T, l *Ledger)) {
	backends := map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store {
			return storage.NewMemoryStore()
		},
		"bolt": func(t *testing.T) storage.Store {
			s, err := storage.NewBoltStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			l, err := New(open(t), codec.NewRegistry())
			require.NoError(t, err)
			fn(t, l)
		})
	}
}

func mustRegister(t *testing.T, l *Ledger, rs ...types.Resource) {
	t.Helper()
	ok, err := l.Register(rs)
	require.NoError(t, err)
	require.True(t, ok)
}

func allocate(t *testing.T, l *Ledger, consumer types.ConsumerID, rs ...types.Resource) bool {
	t.Helper()
	ok, err := l.Allocate(consumer, rs...)
	require.NoError(t, err)
	return ok
}

func release(t *testing.T, l *Ledger, rs types.Resource, consumer types.ConsumerID) bool {
	t.Helper()
	ok, err := l.Release([]types.Allocation{{Resource: rs, Consumer: consumer}})
	require.NoError(t, err)
	return ok
}

func available(t *testing.T, l *Ledger, r types.Resource) bool {
	t.Helper()
	ok, err := l.IsAvailable(r)
	require.NoError(t, err)
	return ok
}

func TestRegisterRequiresParent(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		ok, err := l.Register([]types.Resource{port1})
		require.NoError(t, err)
		assert.False(t, ok)

		_, found, err := l.GetResource(port1.ID)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestRegisterParentAndChildrenTogether(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, device, port1, port2, port1.Quantity("bandwidth", 10))

		children, err := l.GetChildResources(device.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{port1, port2}, children)

		children, err = l.GetChildResources(port1.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{port1.Quantity("bandwidth", 10)}, children)
	})
}

func TestRegisterIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		orphan := types.Discrete(types.Opaque("of:9"), types.Port(1))

		ok, err := l.Register([]types.Resource{device, port1, orphan})
		require.NoError(t, err)
		assert.False(t, ok)

		_, found, err := l.GetResource(device.ID)
		require.NoError(t, err)
		assert.False(t, found, "nothing from a refused call may be registered")
	})
}

func TestRegisterIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		broker := events.NewBroker()
		defer broker.Stop()
		l.broker = broker
		ch, cancel := broker.Subscribe(events.EventResourceAdded)
		defer cancel()

		mustRegister(t, l, link, capacity)
		mustRegister(t, l, link, capacity)

		for i := 0; i < 2; i++ {
			select {
			case ev := <-ch:
				assert.Equal(t, events.EventResourceAdded, ev.Type)
			case <-time.After(2 * time.Second):
				t.Fatal("missing resource.added event")
			}
		}
		select {
		case ev := <-ch:
			t.Fatalf("unexpected event for repeated registration: %s", ev.Resource)
		case <-time.After(50 * time.Millisecond):
		}

		r, found, err := l.GetResource(bwID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, capacity, r)
	})
}

func TestRegisterRejectsCapacityChange(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)

		before := testutil.ToFloat64(metrics.LedgerFailures.WithLabelValues("register", "capacity_mismatch"))
		ok, err := l.Register([]types.Resource{bw(2000)})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.LedgerFailures.WithLabelValues("register", "capacity_mismatch")))

		r, _, err := l.GetResource(bwID)
		require.NoError(t, err)
		assert.Equal(t, capacity, r)
	})
}

// Scenario: partial allocations of a continuous resource
func TestBandwidthAllocation(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)

		assert.True(t, allocate(t, l, "A", bw(600)))
		assert.False(t, available(t, l, bw(500)))
		assert.True(t, available(t, l, bw(400)), "exactly the remaining capacity fits")
		assert.False(t, allocate(t, l, "B", bw(500)))

		assert.True(t, release(t, l, bw(600), "A"))
		assert.True(t, allocate(t, l, "B", bw(500)))

		allocs, err := l.GetResourceAllocations(bwID)
		require.NoError(t, err)
		assert.Equal(t, []types.Allocation{{Resource: bw(500), Consumer: "B"}}, allocs)
	})
}

// Scenario: a range of MPLS labels with single-owner semantics
func TestLabelAllocation(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		labels := []types.Resource{device}
		for v := int64(16); v <= 239; v++ {
			labels = append(labels, label(v))
		}
		mustRegister(t, l, labels...)

		children, err := l.GetChildResources(device.ID)
		require.NoError(t, err)
		assert.Len(t, children, 224)

		before := testutil.ToFloat64(metrics.LedgerFailures.WithLabelValues("allocate", "already_allocated"))
		assert.True(t, allocate(t, l, "A", label(100)))
		assert.False(t, allocate(t, l, "B", label(100)))
		assert.Equal(t, before+1, testutil.ToFloat64(metrics.LedgerFailures.WithLabelValues("allocate", "already_allocated")))

		assert.False(t, release(t, l, label(100), "B"), "B does not hold the label")
		assert.True(t, release(t, l, label(100), "A"))
		assert.True(t, allocate(t, l, "B", label(100)))

		assert.False(t, allocate(t, l, "B", label(240)), "never registered")
	})
}

// Scenario: a multi-resource allocation fails as a whole
func TestAllocateIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, device, port1)
		vlan := port1.Child(types.VLAN(100))

		assert.False(t, allocate(t, l, "path-1", port1, vlan))

		held, err := l.GetResources("path-1")
		require.NoError(t, err)
		assert.Empty(t, held)
		assert.True(t, available(t, l, port1))
	})
}

// Scenario: unregister is refused while something is allocated
func TestUnregisterGuard(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, device, label(16), label(17))
		require.True(t, allocate(t, l, "A", label(16)))

		before, err := l.GetChildResources(device.ID)
		require.NoError(t, err)

		for _, id := range []types.ResourceID{label(16).ID, device.ID} {
			ok, err := l.Unregister([]types.ResourceID{id})
			require.NoError(t, err)
			assert.False(t, ok, "unregister %s", id)
		}

		after, err := l.GetChildResources(device.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		ok, err := l.Unregister([]types.ResourceID{label(17).ID})
		require.NoError(t, err)
		assert.True(t, ok)

		require.True(t, release(t, l, label(16), "A"))
		ok, err = l.Unregister([]types.ResourceID{label(16).ID})
		require.NoError(t, err)
		assert.True(t, ok)

		children, err := l.GetChildResources(device.ID)
		require.NoError(t, err)
		assert.Empty(t, children)
	})
}

func TestUnregisterContinuous(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)
		require.True(t, allocate(t, l, "A", bw(1)))

		ok, err := l.Unregister([]types.ResourceID{bwID})
		require.NoError(t, err)
		assert.False(t, ok)

		require.True(t, release(t, l, bw(1), "A"))
		ok, err = l.Unregister([]types.ResourceID{bwID})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.Unregister([]types.ResourceID{bwID})
		require.NoError(t, err)
		assert.False(t, ok, "already gone")

		mustRegister(t, l, bw(2000))
		r, _, err := l.GetResource(bwID)
		require.NoError(t, err)
		assert.Equal(t, bw(2000), r)
	})
}

func TestUnregisterForgetsDescendants(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		broker := events.NewBroker()
		defer broker.Stop()
		l.broker = broker

		portBW := port1.Quantity("bandwidth", 10)
		vlan := port1.Child(types.VLAN(100))
		mustRegister(t, l, device, port1, label(100), portBW, vlan)

		ch, cancel := broker.Subscribe(events.EventResourceRemoved)
		defer cancel()

		ok, err := l.Unregister([]types.ResourceID{device.ID, vlan.ID})
		require.NoError(t, err)
		require.True(t, ok)

		gone := []types.Resource{device, port1, label(100), portBW, vlan}
		for _, r := range gone {
			_, found, err := l.GetResource(r.ResourceID())
			require.NoError(t, err)
			assert.False(t, found, "%s", r)
			assert.False(t, available(t, l, r), "%s", r)
		}
		assert.False(t, allocate(t, l, "A", label(100)))

		var removed []types.Resource
		for len(removed) < len(gone) {
			select {
			case ev := <-ch:
				removed = append(removed, ev.Resource)
			case <-time.After(2 * time.Second):
				t.Fatal("missing resource.removed event")
			}
		}
		assert.ElementsMatch(t, gone, removed)

		mustRegister(t, l, device)
		children, err := l.GetChildResources(device.ID)
		require.NoError(t, err)
		assert.Empty(t, children, "children of a forgotten resource must not come back")
	})
}

func TestUnregisterRefusedByAllocationDeepBelow(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		vlan := port1.Child(types.VLAN(100))
		mustRegister(t, l, device, port1, vlan)
		require.True(t, allocate(t, l, "A", vlan))

		ok, err := l.Unregister([]types.ResourceID{device.ID})
		require.NoError(t, err)
		assert.False(t, ok)

		_, found, err := l.GetResource(vlan.ID)
		require.NoError(t, err)
		assert.True(t, found)
	})
}

// Scenario: an allocation below a device commits while the device is being
// unregistered, in either order
func TestInterleavedUnregisterAndAllocationConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, device, label(100))

		un := l.begin()
		defer un.tx.Abort()
		_, _, err := un.lookup(device.ID)
		require.NoError(t, err)

		require.True(t, allocate(t, l, "A", label(100)))

		_, err = un.unregister([]types.ResourceID{device.ID})
		require.NoError(t, err)
		assert.ErrorIs(t, un.tx.Commit(), storage.ErrConflict)

		_, found, err := l.GetResource(device.ID)
		require.NoError(t, err)
		assert.True(t, found, "the device must survive while its label is held")
	})

	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, device, label(100))

		alloc := l.begin()
		defer alloc.tx.Abort()
		require.NoError(t, alloc.discrete.allocate("A", label(100)))

		ok, err := l.Unregister([]types.ResourceID{device.ID})
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, alloc.tx.Commit(), storage.ErrConflict)

		allocs, err := l.GetResourceAllocations(label(100).ID)
		require.NoError(t, err)
		assert.Empty(t, allocs)
	})
}

func TestRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		for _, r := range []types.Resource{port1, bw(300)} {
			parent, _ := types.ParentOf(r)
			mustRegister(t, l, parent.Resource(), r)
			require.True(t, allocate(t, l, "c", r))
			require.True(t, release(t, l, r, "c"))
			assert.True(t, available(t, l, r), "%s", r)
		}
	})
}

func TestReleaseOneReservationAtATime(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)
		require.True(t, allocate(t, l, "A", bw(100), bw(100)))

		// Releasing a reservation nobody made is a no-op
		assert.True(t, release(t, l, bw(150), "A"))
		assert.True(t, release(t, l, bw(100), "B"))
		allocs, err := l.GetResourceAllocations(bwID)
		require.NoError(t, err)
		assert.Len(t, allocs, 2)

		assert.True(t, release(t, l, bw(100), "A"))
		held, err := l.GetResources("A")
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{bw(100)}, held)

		assert.True(t, release(t, l, bw(100), "A"))
		assert.True(t, release(t, l, bw(100), "A"), "releasing twice is a no-op")
		assert.True(t, available(t, l, capacity))
	})
}

func TestQueries(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		vlan10 := port1.Child(types.VLAN(10))
		vlan20 := port1.Child(types.VLAN(20))
		lambda := port1.Child(types.Lambda(3))
		portBW := port1.Quantity("bandwidth", 100)
		mustRegister(t, l, device, port1, vlan10, vlan20, lambda, portBW)

		require.True(t, allocate(t, l, "t1", vlan10, port1.Quantity("bandwidth", 40)))
		require.True(t, allocate(t, l, "t2", lambda, port1.Quantity("bandwidth", 60)))

		avail, err := l.GetAvailableResources(port1.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{vlan20}, avail, "bandwidth is exhausted")

		allocated, err := l.GetAllocatedResources(port1.ID, types.SegmentVLAN)
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{vlan10}, allocated)

		held, err := l.GetResources("t1")
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{port1.Quantity("bandwidth", 40), vlan10}, held)

		allocs, err := l.GetResourceAllocations(lambda.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.Allocation{{Resource: lambda, Consumer: "t2"}}, allocs)

		require.True(t, release(t, l, port1.Quantity("bandwidth", 60), "t2"))
		avail, err = l.GetAvailableResources(port1.ID)
		require.NoError(t, err)
		assert.Equal(t, []types.Resource{port1.Quantity("bandwidth", 60), vlan20}, avail)
	})
}

func TestEventsFollowCommits(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		broker := events.NewBroker()
		defer broker.Stop()
		l.broker = broker

		mustRegister(t, l, device, port1)
		ch, cancel := broker.Subscribe(events.EventResourceAllocated, events.EventResourceReleased)
		defer cancel()

		require.False(t, allocate(t, l, "x", port1, port2))
		require.True(t, allocate(t, l, "x", port1))
		require.True(t, release(t, l, port1, "x"))

		var got []events.EventType
		for len(got) < 2 {
			select {
			case ev := <-ch:
				assert.Equal(t, port1, ev.Resource)
				assert.Equal(t, types.ConsumerID("x"), ev.Consumer)
				assert.NotEmpty(t, ev.TxID)
				got = append(got, ev.Type)
			case <-time.After(2 * time.Second):
				t.Fatal("timed out waiting for events")
			}
		}
		assert.Equal(t, []events.EventType{events.EventResourceAllocated, events.EventResourceReleased}, got)
	})
}

// Scenario: two callers read the same free capacity before either writes
func TestInterleavedAllocationsConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)

		first := l.begin()
		second := l.begin()
		defer first.tx.Abort()
		defer second.tx.Abort()

		require.NoError(t, first.continuous.allocate("A", bw(700)))
		require.NoError(t, second.continuous.allocate("B", bw(700)))

		require.NoError(t, first.tx.Commit())
		assert.ErrorIs(t, second.tx.Commit(), storage.ErrConflict)

		allocs, err := l.GetResourceAllocations(bwID)
		require.NoError(t, err)
		assert.Equal(t, []types.Allocation{{Resource: bw(700), Consumer: "A"}}, allocs)
	})
}

func TestConcurrentAllocationsNeverOvercommit(t *testing.T) {
	forEachStore(t, func(t *testing.T, l *Ledger) {
		mustRegister(t, l, link, capacity)

		var wins atomic.Int32
		var g errgroup.Group
		for i := 0; i < 8; i++ {
			consumer := types.ConsumerID(string(rune('a' + i)))
			g.Go(func() error {
				ok, err := l.Allocate(consumer, bw(700))
				if ok {
					wins.Add(1)
				}
				return err
			})
		}
		require.NoError(t, g.Wait())
		assert.Equal(t, int32(1), wins.Load())

		allocs, err := l.GetResourceAllocations(bwID)
		require.NoError(t, err)
		assert.Len(t, allocs, 1)
	})
}

func TestPreconditions(t *testing.T) {
	l, err := New(storage.NewMemoryStore(), codec.NewRegistry())
	require.NoError(t, err)

	assert.Panics(t, func() { _, _ = l.Allocate("", port1) })
	assert.Panics(t, func() { _, _ = l.Allocate("a", nil) })
	assert.Panics(t, func() { _, _ = l.Allocate("a", bw(-1)) })
	assert.Panics(t, func() { _, _ = l.Register([]types.Resource{types.RootResource}) })
	assert.Panics(t, func() { _, _ = l.Unregister([]types.ResourceID{types.Root}) })
	assert.Panics(t, func() { _, _ = l.Release([]types.Allocation{{Resource: port1}}) })
}

func TestSeedIsShared(t *testing.T) {
	store := storage.NewMemoryStore()
	_, err := New(store, codec.NewRegistry())
	require.NoError(t, err)
	rev := store.Revision()

	_, err = New(store, codec.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, rev, store.Revision(), "second ledger must not rewrite the root")
}
