package ledger

import (
	"fmt"

	"github.com/cuemby/netledger/pkg/resource"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

// continuousTxStore reads and writes continuous resources within one
// transaction
type continuousTxStore struct {
	tx  storage.Tx
	ser *resource.Serializer
}

func (s *continuousTxStore) children(parent types.DiscreteResourceID) (resource.ContinuousResources, []byte, bool, error) {
	raw, ok, err := s.tx.Get(tableContinuousChildren, key(parent))
	if err != nil || !ok {
		return resource.NewContinuousResources(parent), nil, false, err
	}
	c, err := s.ser.DecodeContinuous(raw)
	if err != nil {
		return resource.ContinuousResources{}, nil, false, err
	}
	return c, raw, true, nil
}

func (s *continuousTxStore) write(parent types.DiscreteResourceID, raw []byte, next resource.ContinuousResources) error {
	data, err := s.ser.EncodeContinuous(next)
	if err != nil {
		return err
	}
	var ok bool
	if raw == nil {
		var exists bool
		_, exists, err = s.tx.PutIfAbsent(tableContinuousChildren, key(parent), data)
		ok = !exists
	} else {
		ok, err = s.tx.Replace(tableContinuousChildren, key(parent), raw, data)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: quantities of %s", ErrConcurrentConflict, parent)
	}
	return nil
}

// lookup returns the resource with its registered capacity
func (s *continuousTxStore) lookup(id types.ContinuousResourceID) (types.ContinuousResource, bool, error) {
	parent, _ := id.Parent()
	children, _, ok, err := s.children(parent)
	if err != nil || !ok {
		return types.ContinuousResource{}, false, err
	}
	r, found := children.Lookup(id)
	return r, found, nil
}

// register adds values under parent and returns the ones that were new. A
// value already registered with another capacity is refused.
func (s *continuousTxStore) register(parent types.DiscreteResourceID, values []types.ContinuousResource) ([]types.ContinuousResource, error) {
	if len(values) == 0 {
		return nil, nil
	}

	old, raw, _, err := s.children(parent)
	if err != nil {
		return nil, err
	}
	var added []types.ContinuousResource
	pending := make(map[types.ContinuousResourceID]float64, len(values))
	for _, v := range values {
		if cur, ok := old.Lookup(v.ID); ok {
			if cur.Value != v.Value {
				return nil, fmt.Errorf("%w: %s is registered as %s", ErrCapacityMismatch, v, cur)
			}
			continue
		}
		if prev, ok := pending[v.ID]; ok {
			if prev != v.Value {
				return nil, fmt.Errorf("%w: %s requested twice with different values", ErrCapacityMismatch, v.ID)
			}
			continue
		}
		pending[v.ID] = v.Value
		added = append(added, v)
	}
	if len(added) == 0 {
		return nil, nil
	}

	if err := s.write(parent, raw, old.Add(added...)); err != nil {
		return nil, err
	}
	return added, nil
}

// unregister removes values from parent. Each value must match the
// registered capacity and have no allocation.
func (s *continuousTxStore) unregister(parent types.DiscreteResourceID, values []types.ContinuousResource) error {
	if len(values) == 0 {
		return nil
	}

	old, raw, _, err := s.children(parent)
	if err != nil {
		return err
	}
	ids := make([]types.ContinuousResourceID, 0, len(values))
	for _, v := range values {
		if cur, ok := old.Lookup(v.ID); !ok || cur.Value != v.Value {
			return fmt.Errorf("%w: %s", ErrNotRegistered, v)
		}
		allocated, err := s.isAllocated(v.ID)
		if err != nil {
			return err
		}
		if allocated {
			return fmt.Errorf("%w: %s", ErrAllocationExists, v.ID)
		}
		ids = append(ids, v.ID)
	}

	return s.write(parent, raw, old.Remove(ids...))
}

func (s *continuousTxStore) drop(parent types.DiscreteResourceID, raw []byte) error {
	ok, err := s.tx.Remove(tableContinuousChildren, key(parent), raw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: quantities of %s", ErrConcurrentConflict, parent)
	}
	return nil
}

func (s *continuousTxStore) allocation(id types.ContinuousResourceID) (resource.ContinuousAllocation, []byte, bool, error) {
	raw, ok, err := s.tx.Get(tableContinuousConsumers, key(id))
	if err != nil || !ok {
		return resource.ContinuousAllocation{}, nil, false, err
	}
	a, err := s.ser.DecodeAllocation(raw)
	if err != nil {
		return resource.ContinuousAllocation{}, nil, false, err
	}
	return a, raw, true, nil
}

func (s *continuousTxStore) isAllocated(id types.ContinuousResourceID) (bool, error) {
	a, _, ok, err := s.allocation(id)
	if err != nil || !ok {
		return false, err
	}
	return !a.IsEmpty(), nil
}

// writeAllocation stores next, removing the record once it is empty
func (s *continuousTxStore) writeAllocation(id types.ContinuousResourceID, raw []byte, next resource.ContinuousAllocation) error {
	var (
		ok  bool
		err error
	)
	switch {
	case next.IsEmpty() && raw != nil:
		ok, err = s.tx.Remove(tableContinuousConsumers, key(id), raw)
	case raw == nil:
		var data []byte
		if data, err = s.ser.EncodeAllocation(next); err != nil {
			return err
		}
		var exists bool
		_, exists, err = s.tx.PutIfAbsent(tableContinuousConsumers, key(id), data)
		ok = !exists
	default:
		var data []byte
		if data, err = s.ser.EncodeAllocation(next); err != nil {
			return err
		}
		ok, err = s.tx.Replace(tableContinuousConsumers, key(id), raw, data)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: allocations of %s", ErrConcurrentConflict, id)
	}
	return nil
}

// allocate reserves r.Value of a registered resource for consumer
func (s *continuousTxStore) allocate(consumer types.ConsumerID, r types.ContinuousResource) error {
	original, ok, err := s.lookup(r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, r.ID)
	}

	current, raw, ok, err := s.allocation(r.ID)
	if err != nil {
		return err
	}
	if !ok {
		current = resource.NewContinuousAllocation(original)
	}
	if !current.HasEnoughResource(r) {
		return fmt.Errorf("%w: %s requested, %g of %g left", ErrInsufficientCapacity, r, current.Remaining(), original.Value)
	}
	return s.writeAllocation(r.ID, raw, current.Allocate(types.Allocation{Resource: r, Consumer: consumer}))
}

// release drops one allocation of exactly r.Value held by consumer. When
// there is none it succeeds without writing and reports false.
func (s *continuousTxStore) release(consumer types.ConsumerID, r types.ContinuousResource) (bool, error) {
	current, raw, ok, err := s.allocation(r.ID)
	if err != nil || !ok {
		return false, err
	}

	next := current.Release(r, consumer)
	if len(next.Allocations()) == len(current.Allocations()) {
		return false, nil
	}
	return true, s.writeAllocation(r.ID, raw, next)
}

// allocations scans every continuous allocation record
func (s *continuousTxStore) allocations(fn func(a resource.ContinuousAllocation) error) error {
	return s.tx.Scan(tableContinuousConsumers, func(k string, v []byte) error {
		a, err := s.ser.DecodeAllocation(v)
		if err != nil {
			return err
		}
		return fn(a)
	})
}
