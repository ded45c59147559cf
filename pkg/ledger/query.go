package ledger

import (
	"fmt"
	"sort"

	"github.com/cuemby/netledger/pkg/resource"
	"github.com/cuemby/netledger/pkg/types"
)

// view runs fn in a transaction that is always aborted
func (l *Ledger) view(fn func(s *txStores) error) error {
	s := l.begin()
	defer s.tx.Abort()
	return fn(s)
}

func sortResources(rs []types.Resource) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].String() < rs[j].String() })
}

// GetResource returns the registered resource with the given id. Continuous
// resources are returned with their registered capacity.
func (l *Ledger) GetResource(id types.ResourceID) (types.Resource, bool, error) {
	var (
		r  types.Resource
		ok bool
	)
	err := l.view(func(s *txStores) error {
		var err error
		r, ok, err = s.lookup(id)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", id, err)
	}
	return r, ok, nil
}

// GetResourceAllocations returns the live allocations of a resource. A
// discrete resource has at most one; continuous allocations are returned in
// the order they were made.
func (l *Ledger) GetResourceAllocations(id types.ResourceID) ([]types.Allocation, error) {
	var allocs []types.Allocation
	err := l.view(func(s *txStores) error {
		switch id := id.(type) {
		case types.DiscreteResourceID:
			consumer, _, ok, err := s.discrete.consumer(id)
			if err != nil || !ok {
				return err
			}
			allocs = []types.Allocation{{Resource: id.Resource(), Consumer: consumer}}
		case types.ContinuousResourceID:
			a, _, ok, err := s.continuous.allocation(id)
			if err != nil || !ok {
				return err
			}
			allocs = a.Allocations()
		default:
			return fmt.Errorf("%w: %T", ErrInvalidResourceKind, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get allocations of %s: %w", id, err)
	}
	return allocs, nil
}

func (s *txStores) childResources(parent types.DiscreteResourceID) ([]types.Resource, error) {
	discrete, _, _, err := s.discrete.children(parent)
	if err != nil {
		return nil, err
	}
	continuous, _, _, err := s.continuous.children(parent)
	if err != nil {
		return nil, err
	}

	var rs []types.Resource
	for _, r := range discrete.Values() {
		rs = append(rs, r)
	}
	for _, r := range continuous.Values() {
		rs = append(rs, r)
	}
	return rs, nil
}

// GetChildResources returns the resources registered directly under parent,
// sorted by id
func (l *Ledger) GetChildResources(parent types.DiscreteResourceID) ([]types.Resource, error) {
	var rs []types.Resource
	err := l.view(func(s *txStores) error {
		var err error
		rs, err = s.childResources(parent)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get children of %s: %w", parent, err)
	}
	sortResources(rs)
	return rs, nil
}

// GetAvailableResources returns the children of parent that can still be
// allocated: unallocated discrete resources, and continuous resources with
// capacity left, carrying the amount that remains
func (l *Ledger) GetAvailableResources(parent types.DiscreteResourceID) ([]types.Resource, error) {
	var available []types.Resource
	err := l.view(func(s *txStores) error {
		children, err := s.childResources(parent)
		if err != nil {
			return err
		}
		for _, child := range children {
			switch r := child.(type) {
			case types.DiscreteResource:
				allocated, err := s.discrete.isAllocated(r.ID)
				if err != nil {
					return err
				}
				if !allocated {
					available = append(available, r)
				}
			case types.ContinuousResource:
				a, _, ok, err := s.continuous.allocation(r.ID)
				if err != nil {
					return err
				}
				if !ok {
					a = resource.NewContinuousAllocation(r)
				}
				if left := a.Remaining(); left > 0 {
					available = append(available, r.ID.Resource(left))
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get available resources of %s: %w", parent, err)
	}
	sortResources(available)
	return available, nil
}

// GetAllocatedResources returns the allocated discrete children of parent
// whose last segment is of the given kind
func (l *Ledger) GetAllocatedResources(parent types.DiscreteResourceID, kind types.SegmentKind) ([]types.Resource, error) {
	var allocated []types.Resource
	err := l.view(func(s *txStores) error {
		children, _, _, err := s.discrete.children(parent)
		if err != nil {
			return err
		}
		for _, r := range children.Values() {
			if r.ID.Last().Kind != kind {
				continue
			}
			ok, err := s.discrete.isAllocated(r.ID)
			if err != nil {
				return err
			}
			if ok {
				allocated = append(allocated, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get allocated %s resources of %s: %w", kind, parent, err)
	}
	return allocated, nil
}

// GetResources returns everything consumer holds. A continuous resource
// appears once per reservation, carrying the reserved amount. This scans
// every allocation.
func (l *Ledger) GetResources(consumer types.ConsumerID) ([]types.Resource, error) {
	var held []types.Resource
	err := l.view(func(s *txStores) error {
		err := s.discrete.allocations(func(id types.DiscreteResourceID, c types.ConsumerID) error {
			if c == consumer {
				held = append(held, id.Resource())
			}
			return nil
		})
		if err != nil {
			return err
		}
		return s.continuous.allocations(func(a resource.ContinuousAllocation) error {
			for _, alloc := range a.Allocations() {
				if alloc.Consumer == consumer {
					held = append(held, alloc.Resource)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get resources of %s: %w", consumer, err)
	}
	sortResources(held)
	return held, nil
}
