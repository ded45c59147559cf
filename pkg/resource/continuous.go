package resource

import (
	"fmt"
	"sort"

	"github.com/cuemby/netledger/pkg/types"
)

// ContinuousResources is the immutable set of quantities registered under
// one parent, keyed by id
type ContinuousResources struct {
	parent    types.DiscreteResourceID
	resources map[types.ContinuousResourceID]types.ContinuousResource
}

// NewContinuousResources builds the set of quantities of parent
func NewContinuousResources(parent types.DiscreteResourceID, values ...types.ContinuousResource) ContinuousResources {
	m := make(map[types.ContinuousResourceID]types.ContinuousResource, len(values))
	for _, v := range values {
		if p, _ := v.ID.Parent(); p != parent {
			panic(fmt.Sprintf("resource: %s is not a child of %s", v.ID, parent))
		}
		m[v.ID] = v
	}
	return ContinuousResources{parent: parent, resources: m}
}

// Parent returns the id the quantities belong to
func (c ContinuousResources) Parent() types.DiscreteResourceID {
	return c.parent
}

// Lookup returns the registered quantity with the given id
func (c ContinuousResources) Lookup(id types.ContinuousResourceID) (types.ContinuousResource, bool) {
	r, ok := c.resources[id]
	return r, ok
}

// Add returns a set that also holds values. Existing entries with the same
// id are replaced; callers reject conflicting capacities beforehand.
func (c ContinuousResources) Add(values ...types.ContinuousResource) ContinuousResources {
	m := make(map[types.ContinuousResourceID]types.ContinuousResource, len(c.resources)+len(values))
	for id, r := range c.resources {
		m[id] = r
	}
	for _, v := range values {
		if p, _ := v.ID.Parent(); p != c.parent {
			panic(fmt.Sprintf("resource: %s is not a child of %s", v.ID, c.parent))
		}
		m[v.ID] = v
	}
	return ContinuousResources{parent: c.parent, resources: m}
}

// Remove returns a set without the given ids
func (c ContinuousResources) Remove(ids ...types.ContinuousResourceID) ContinuousResources {
	m := make(map[types.ContinuousResourceID]types.ContinuousResource, len(c.resources))
	for id, r := range c.resources {
		m[id] = r
	}
	for _, id := range ids {
		delete(m, id)
	}
	return ContinuousResources{parent: c.parent, resources: m}
}

// IsEmpty reports whether no quantity is registered
func (c ContinuousResources) IsEmpty() bool {
	return len(c.resources) == 0
}

// Values returns the registered quantities sorted by id
func (c ContinuousResources) Values() []types.ContinuousResource {
	values := make([]types.ContinuousResource, 0, len(c.resources))
	for _, r := range c.resources {
		values = append(values, r)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].ID.String() < values[j].ID.String() })
	return values
}

// holder is one partial allocation of a continuous resource
type holder struct {
	Value    float64          `json:"value"`
	Consumer types.ConsumerID `json:"consumer"`
}

// ContinuousAllocation binds a continuous resource's registered capacity to
// the ordered list of allocations currently held against it
type ContinuousAllocation struct {
	original types.ContinuousResource
	holders  []holder
}

// NewContinuousAllocation returns a record with no allocations
func NewContinuousAllocation(original types.ContinuousResource) ContinuousAllocation {
	return ContinuousAllocation{original: original}
}

// Original returns the resource with its registered capacity
func (a ContinuousAllocation) Original() types.ContinuousResource {
	return a.original
}

// Allocations returns the current allocations in allocation order
func (a ContinuousAllocation) Allocations() []types.Allocation {
	allocs := make([]types.Allocation, len(a.holders))
	for i, h := range a.holders {
		allocs[i] = types.Allocation{
			Resource: a.original.ID.Resource(h.Value),
			Consumer: h.Consumer,
		}
	}
	return allocs
}

// IsEmpty reports whether nothing is allocated
func (a ContinuousAllocation) IsEmpty() bool {
	return len(a.holders) == 0
}

// Allocated returns the sum of all allocated amounts
func (a ContinuousAllocation) Allocated() float64 {
	var sum float64
	for _, h := range a.holders {
		sum += h.Value
	}
	return sum
}

// Remaining returns the capacity still available
func (a ContinuousAllocation) Remaining() float64 {
	return a.original.Value - a.Allocated()
}

// HasEnoughResource reports whether request fits in the remaining capacity.
// A request equal to the remaining capacity fits.
func (a ContinuousAllocation) HasEnoughResource(request types.ContinuousResource) bool {
	return a.Remaining() >= request.Value
}

// Allocate returns a record with alloc appended. It does not check capacity:
// call HasEnoughResource on the same record first.
func (a ContinuousAllocation) Allocate(alloc types.Allocation) ContinuousAllocation {
	r, ok := alloc.Resource.(types.ContinuousResource)
	if !ok || r.ID != a.original.ID {
		panic(fmt.Sprintf("resource: allocation %s does not target %s", alloc, a.original.ID))
	}
	holders := make([]holder, len(a.holders), len(a.holders)+1)
	copy(holders, a.holders)
	holders = append(holders, holder{Value: r.Value, Consumer: alloc.Consumer})
	return ContinuousAllocation{original: a.original, holders: holders}
}

// Release removes the first allocation held by consumer with exactly
// resource's amount. If there is none the record is returned unchanged.
func (a ContinuousAllocation) Release(resource types.ContinuousResource, consumer types.ConsumerID) ContinuousAllocation {
	for i, h := range a.holders {
		if h.Consumer != consumer || h.Value != resource.Value {
			continue
		}
		holders := make([]holder, 0, len(a.holders)-1)
		holders = append(holders, a.holders[:i]...)
		holders = append(holders, a.holders[i+1:]...)
		return ContinuousAllocation{original: a.original, holders: holders}
	}
	return a
}
