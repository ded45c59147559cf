package ledger

import (
	"fmt"

	"github.com/cuemby/netledger/pkg/resource"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

// discreteTxStore reads and writes discrete resources within one transaction
type discreteTxStore struct {
	tx  storage.Tx
	ser *resource.Serializer
}

// children returns the child container of parent and the raw bytes it was
// read from, for use as the expected value of a conditional write
func (s *discreteTxStore) children(parent types.DiscreteResourceID) (resource.DiscreteResources, []byte, bool, error) {
	raw, ok, err := s.tx.Get(tableDiscreteChildren, key(parent))
	if err != nil || !ok {
		return resource.EmptyDiscreteResources(s.ser.Codecs(), parent), nil, false, err
	}
	d, err := s.ser.DecodeDiscrete(raw)
	if err != nil {
		return resource.DiscreteResources{}, nil, false, err
	}
	return d, raw, true, nil
}

// write stores next as the container of parent. raw is the value previously
// read, nil if there was none.
func (s *discreteTxStore) write(parent types.DiscreteResourceID, raw []byte, next resource.DiscreteResources) error {
	data, err := s.ser.EncodeDiscrete(next)
	if err != nil {
		return err
	}
	if raw == nil {
		if _, exists, err := s.tx.PutIfAbsent(tableDiscreteChildren, key(parent), data); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: children of %s", ErrConcurrentConflict, parent)
		}
		return nil
	}
	ok, err := s.tx.Replace(tableDiscreteChildren, key(parent), raw, data)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: children of %s", ErrConcurrentConflict, parent)
	}
	return nil
}

// lookup resolves a registered discrete resource. The root always exists.
func (s *discreteTxStore) lookup(id types.DiscreteResourceID) (types.DiscreteResource, bool, error) {
	if id.IsRoot() {
		return types.RootResource, true, nil
	}
	parent, _ := id.Parent()
	children, _, ok, err := s.children(parent)
	if err != nil || !ok {
		return types.DiscreteResource{}, false, err
	}
	r, found := children.Lookup(id)
	return r, found, nil
}

// register adds ids under parent and returns the ones that were new
func (s *discreteTxStore) register(parent types.DiscreteResourceID, ids []types.DiscreteResourceID) ([]types.DiscreteResourceID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	old, raw, _, err := s.children(parent)
	if err != nil {
		return nil, err
	}
	var added []types.DiscreteResourceID
	seen := make(map[types.DiscreteResourceID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := old.Lookup(id); !ok {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return nil, nil
	}

	next := old.Add(resource.NewDiscreteResources(s.ser.Codecs(), parent, added...))
	if err := s.write(parent, raw, next); err != nil {
		return nil, err
	}
	return added, nil
}

// unregister removes ids from the container of parent. Every id must be
// registered and free of allocations.
func (s *discreteTxStore) unregister(parent types.DiscreteResourceID, ids []types.DiscreteResourceID) error {
	if len(ids) == 0 {
		return nil
	}

	old, raw, ok, err := s.children(parent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, ids[0])
	}
	for _, id := range ids {
		if _, found := old.Lookup(id); !found {
			return fmt.Errorf("%w: %s", ErrNotRegistered, id)
		}
		allocated, err := s.isAllocated(id)
		if err != nil {
			return err
		}
		if allocated {
			return fmt.Errorf("%w: %s", ErrAllocationExists, id)
		}
	}

	return s.write(parent, raw, old.Remove(ids))
}

// drop deletes the container of parent. raw is the value previously read.
func (s *discreteTxStore) drop(parent types.DiscreteResourceID, raw []byte) error {
	ok, err := s.tx.Remove(tableDiscreteChildren, key(parent), raw)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: children of %s", ErrConcurrentConflict, parent)
	}
	return nil
}

func (s *discreteTxStore) consumer(id types.DiscreteResourceID) (types.ConsumerID, []byte, bool, error) {
	raw, ok, err := s.tx.Get(tableDiscreteConsumers, key(id))
	if err != nil || !ok {
		return "", nil, false, err
	}
	c, err := s.ser.DecodeConsumer(raw)
	if err != nil {
		return "", nil, false, err
	}
	return c, raw, true, nil
}

func (s *discreteTxStore) isAllocated(id types.DiscreteResourceID) (bool, error) {
	_, _, ok, err := s.consumer(id)
	return ok, err
}

// allocate binds a registered, unallocated resource to consumer
func (s *discreteTxStore) allocate(consumer types.ConsumerID, r types.DiscreteResource) error {
	if r.ID.IsRoot() {
		return fmt.Errorf("%w: the root cannot be allocated", ErrNotRegistered)
	}
	if _, ok, err := s.lookup(r.ID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, r.ID)
	}

	data, err := s.ser.EncodeConsumer(consumer)
	if err != nil {
		return err
	}
	prev, exists, err := s.tx.PutIfAbsent(tableDiscreteConsumers, key(r.ID), data)
	if err != nil {
		return err
	}
	if exists {
		holder, _ := s.ser.DecodeConsumer(prev)
		return fmt.Errorf("%w: %s held by %s", ErrAlreadyAllocated, r.ID, holder)
	}
	return nil
}

// release frees a resource held by consumer
func (s *discreteTxStore) release(consumer types.ConsumerID, r types.DiscreteResource) error {
	holder, raw, ok, err := s.consumer(r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAllocated, r.ID)
	}
	if holder != consumer {
		return fmt.Errorf("%w: %s held by %s", ErrForeignAllocation, r.ID, holder)
	}
	removed, err := s.tx.Remove(tableDiscreteConsumers, key(r.ID), raw)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%w: allocation of %s", ErrConcurrentConflict, r.ID)
	}
	return nil
}

// allocations scans every discrete allocation
func (s *discreteTxStore) allocations(fn func(id types.DiscreteResourceID, consumer types.ConsumerID) error) error {
	return s.tx.Scan(tableDiscreteConsumers, func(k string, v []byte) error {
		id, err := types.ParseDiscreteResourceID(k)
		if err != nil {
			return fmt.Errorf("corrupt consumer key %q: %w", k, err)
		}
		c, err := s.ser.DecodeConsumer(v)
		if err != nil {
			return err
		}
		return fn(id, c)
	})
}
