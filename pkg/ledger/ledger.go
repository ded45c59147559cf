package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/events"
	"github.com/cuemby/netledger/pkg/log"
	"github.com/cuemby/netledger/pkg/metrics"
	"github.com/cuemby/netledger/pkg/resource"
	"github.com/cuemby/netledger/pkg/storage"
	"github.com/cuemby/netledger/pkg/types"
)

// Ledger registers network resources and arbitrates their allocation.
// Each call runs in its own transaction and either applies completely or
// not at all. Expected refusals (already allocated, insufficient capacity,
// lost race, ...) are reported as false with a nil error; the error is only
// set when the store itself failed. The ledger never retries: callers
// re-issue the whole request.
type Ledger struct {
	store  storage.Store
	ser    *resource.Serializer
	broker *events.Broker
	logger zerolog.Logger
}

// Option configures a Ledger
type Option func(*Ledger)

// WithBroker publishes committed changes on b
func WithBroker(b *events.Broker) Option {
	return func(l *Ledger) {
		l.broker = b
	}
}

// WithLogger replaces the default component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New returns a ledger on store and seeds the root's empty child container.
// On a node that cannot commit (storage.ErrReadOnly) seeding is left to the
// node that can.
func New(store storage.Store, codecs *codec.Registry, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		store:  store,
		ser:    resource.NewSerializer(codecs),
		logger: log.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.seed(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) seed() error {
	tx := l.store.Begin()
	defer tx.Abort()

	data, err := l.ser.EncodeDiscrete(resource.EmptyDiscreteResources(l.ser.Codecs(), types.Root))
	if err != nil {
		return err
	}
	if _, exists, err := tx.PutIfAbsent(tableDiscreteChildren, key(types.Root), data); err != nil {
		return fmt.Errorf("failed to read root: %w", err)
	} else if exists {
		return nil
	}

	err = tx.Commit()
	switch {
	case err == nil:
		l.logger.Debug().Msg("seeded root container")
		return nil
	case errors.Is(err, storage.ErrConflict):
		// another node seeded first
		return nil
	case errors.Is(err, storage.ErrReadOnly):
		l.logger.Debug().Err(err).Msg("root not seeded on this node")
		return nil
	}
	return fmt.Errorf("failed to seed root: %w", err)
}

// txStores are the two sub-stores bound to one transaction
type txStores struct {
	tx         storage.Tx
	discrete   *discreteTxStore
	continuous *continuousTxStore
}

func (l *Ledger) begin() *txStores {
	tx := l.store.Begin()
	return &txStores{
		tx:         tx,
		discrete:   &discreteTxStore{tx: tx, ser: l.ser},
		continuous: &continuousTxStore{tx: tx, ser: l.ser},
	}
}

// lookup resolves any resource id to the registered resource
func (s *txStores) lookup(id types.ResourceID) (types.Resource, bool, error) {
	switch id := id.(type) {
	case types.DiscreteResourceID:
		r, ok, err := s.discrete.lookup(id)
		return r, ok, err
	case types.ContinuousResourceID:
		r, ok, err := s.continuous.lookup(id)
		return r, ok, err
	}
	return nil, false, fmt.Errorf("%w: %T", ErrInvalidResourceKind, id)
}

// mutate runs fn in a transaction and commits it when fn succeeds. Events
// returned by fn are published only once the commit is applied.
func (l *Ledger) mutate(op string, fn func(s *txStores) ([]*events.Event, error)) (bool, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LedgerOperationDuration, op)

	s := l.begin()
	defer s.tx.Abort()
	logger := log.WithTxID(l.logger, s.tx.ID())

	evs, err := fn(s)
	if err == nil {
		if err = s.tx.Commit(); errors.Is(err, storage.ErrConflict) {
			err = fmt.Errorf("%w: %v", ErrConcurrentConflict, err)
		}
	}

	if err != nil {
		return l.fail(op, logger, err)
	}

	metrics.LedgerOperations.WithLabelValues(op, metrics.ResultSuccess).Inc()
	logger.Debug().Str("op", op).Int("changes", len(evs)).Msg("committed")
	l.publish(s.tx.ID(), evs)
	return true, nil
}

func (l *Ledger) fail(op string, logger zerolog.Logger, err error) (bool, error) {
	if reason, ok := refusal(err); ok {
		metrics.LedgerOperations.WithLabelValues(op, metrics.ResultRefused).Inc()
		metrics.LedgerFailures.WithLabelValues(op, reason).Inc()
		logger.Debug().Str("op", op).Str("reason", reason).Err(err).Msg("request refused")
		return false, nil
	}
	metrics.LedgerOperations.WithLabelValues(op, metrics.ResultError).Inc()
	logger.Error().Str("op", op).Err(err).Msg("transaction failed")
	return false, fmt.Errorf("failed to %s: %w", op, err)
}

func (l *Ledger) publish(txID string, evs []*events.Event) {
	for _, ev := range evs {
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
		if l.broker == nil {
			continue
		}
		ev.TxID = txID
		l.broker.Publish(ev)
	}
}

// group is the resources of one parent, in input order
type group struct {
	parent     types.DiscreteResourceID
	discrete   []types.DiscreteResource
	continuous []types.ContinuousResource
}

// groupByParent splits resources per parent keeping the order in which
// parents first appear
func groupByParent(resources []types.Resource) []*group {
	var groups []*group
	index := make(map[types.DiscreteResourceID]*group)
	for _, r := range resources {
		parent, _ := types.ParentOf(r)
		g, ok := index[parent]
		if !ok {
			g = &group{parent: parent}
			index[parent] = g
			groups = append(groups, g)
		}
		switch r := r.(type) {
		case types.DiscreteResource:
			g.discrete = append(g.discrete, r)
		case types.ContinuousResource:
			g.continuous = append(g.continuous, r)
		}
	}
	return groups
}

func discreteIDs(rs []types.DiscreteResource) []types.DiscreteResourceID {
	ids := make([]types.DiscreteResourceID, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// checkResource panics on arguments no caller should ever pass
func checkResource(r types.Resource) {
	switch r := r.(type) {
	case types.DiscreteResource:
		if r.ID.IsRoot() {
			panic("ledger: the root resource cannot be passed")
		}
	case types.ContinuousResource:
		if r.Value < 0 || math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
			panic(fmt.Sprintf("ledger: invalid amount for %s", r.ID))
		}
	case nil:
		panic("ledger: nil resource")
	default:
		panic(fmt.Sprintf("ledger: unsupported resource type %T", r))
	}
}

// Register adds resources under their parents. Every parent must already be
// registered, or be registered by an earlier group of the same call.
// Registering a resource twice is a no-op that succeeds; registering a
// continuous resource again with another capacity is refused.
func (l *Ledger) Register(resources []types.Resource) (bool, error) {
	for _, r := range resources {
		checkResource(r)
	}

	return l.mutate("register", func(s *txStores) ([]*events.Event, error) {
		var evs []*events.Event
		for _, g := range groupByParent(resources) {
			if _, ok, err := s.discrete.lookup(g.parent); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("%w: %s", ErrParentNotRegistered, g.parent)
			}

			added, err := s.discrete.register(g.parent, discreteIDs(g.discrete))
			if err != nil {
				return nil, err
			}
			for _, id := range added {
				evs = append(evs, &events.Event{Type: events.EventResourceAdded, Resource: id.Resource()})
			}

			quantities, err := s.continuous.register(g.parent, g.continuous)
			if err != nil {
				return nil, err
			}
			for _, r := range quantities {
				evs = append(evs, &events.Event{Type: events.EventResourceAdded, Resource: r})
			}
		}
		return evs, nil
	})
}

// Unregister removes resources. Unregistering a discrete resource also
// forgets everything registered below it. It is refused when any of the
// resources removed is still allocated.
func (l *Ledger) Unregister(ids []types.ResourceID) (bool, error) {
	for _, id := range ids {
		switch id := id.(type) {
		case types.DiscreteResourceID:
			checkResource(id.Resource())
		case types.ContinuousResourceID:
		case nil:
			panic("ledger: nil resource id")
		default:
			panic(fmt.Sprintf("ledger: unsupported resource id type %T", id))
		}
	}

	return l.mutate("unregister", func(s *txStores) ([]*events.Event, error) {
		return s.unregister(ids)
	})
}

func (s *txStores) unregister(ids []types.ResourceID) ([]*events.Event, error) {
	resources := make([]types.Resource, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r, ok, err := s.lookup(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, id)
		}
		if _, dup := seen[key(id)]; dup || coveredBy(id, ids) {
			continue
		}
		seen[key(id)] = struct{}{}
		resources = append(resources, r)
	}

	var evs []*events.Event
	removed := func(r types.Resource) {
		evs = append(evs, &events.Event{Type: events.EventResourceRemoved, Resource: r})
	}
	for _, g := range groupByParent(resources) {
		if err := s.discrete.unregister(g.parent, discreteIDs(g.discrete)); err != nil {
			return nil, err
		}
		if err := s.continuous.unregister(g.parent, g.continuous); err != nil {
			return nil, err
		}
		for _, r := range g.discrete {
			removed(r)
			below, err := s.purge(r.ID)
			if err != nil {
				return nil, err
			}
			for _, b := range below {
				removed(b)
			}
		}
		for _, r := range g.continuous {
			removed(r)
		}
	}
	return evs, nil
}

// coveredBy reports whether id lies below one of the discrete ids
func coveredBy(id types.ResourceID, ids []types.ResourceID) bool {
	for _, other := range ids {
		if ancestor, ok := other.(types.DiscreteResourceID); ok && isDescendantKey(key(id), ancestor) {
			return true
		}
	}
	return false
}

// purge deletes the child containers of id and of every resource below it
// and returns the resources they held. Every container and allocation is
// read through the transaction, so an allocation or registration below id
// that commits first makes the removal conflict, and the other way round.
func (s *txStores) purge(id types.DiscreteResourceID) ([]types.Resource, error) {
	var removed []types.Resource

	quantities, raw, ok, err := s.continuous.children(id)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, q := range quantities.Values() {
			if allocated, err := s.continuous.isAllocated(q.ID); err != nil {
				return nil, err
			} else if allocated {
				return nil, fmt.Errorf("%w: %s", ErrAllocationExists, q.ID)
			}
			removed = append(removed, q)
		}
		if err := s.continuous.drop(id, raw); err != nil {
			return nil, err
		}
	}

	children, raw, ok, err := s.discrete.children(id)
	if err != nil {
		return nil, err
	}
	if ok {
		for _, child := range children.Values() {
			if allocated, err := s.discrete.isAllocated(child.ID); err != nil {
				return nil, err
			} else if allocated {
				return nil, fmt.Errorf("%w: %s", ErrAllocationExists, child.ID)
			}
			removed = append(removed, child)

			below, err := s.purge(child.ID)
			if err != nil {
				return nil, err
			}
			removed = append(removed, below...)
		}
		if err := s.discrete.drop(id, raw); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// Allocate binds every resource to consumer. Continuous resources carry the
// amount requested. If one resource cannot be allocated nothing is.
func (l *Ledger) Allocate(consumer types.ConsumerID, resources ...types.Resource) (bool, error) {
	if consumer == "" {
		panic("ledger: empty consumer")
	}
	for _, r := range resources {
		checkResource(r)
	}

	return l.mutate("allocate", func(s *txStores) ([]*events.Event, error) {
		evs := make([]*events.Event, 0, len(resources))
		for _, r := range resources {
			var err error
			switch r := r.(type) {
			case types.DiscreteResource:
				err = s.discrete.allocate(consumer, r)
			case types.ContinuousResource:
				err = s.continuous.allocate(consumer, r)
			}
			if err != nil {
				return nil, err
			}
			evs = append(evs, &events.Event{Type: events.EventResourceAllocated, Resource: r, Consumer: consumer})
		}
		return evs, nil
	})
}

// Release frees allocations. A discrete resource is only released by the
// consumer holding it; a continuous allocation is released by amount, one
// reservation at a time, and releasing a reservation the consumer does not
// hold changes nothing. If one allocation cannot be released nothing is.
func (l *Ledger) Release(allocations []types.Allocation) (bool, error) {
	for _, a := range allocations {
		if a.Consumer == "" {
			panic("ledger: empty consumer")
		}
		checkResource(a.Resource)
	}

	return l.mutate("release", func(s *txStores) ([]*events.Event, error) {
		evs := make([]*events.Event, 0, len(allocations))
		for _, a := range allocations {
			var (
				released = true
				err      error
			)
			switch r := a.Resource.(type) {
			case types.DiscreteResource:
				err = s.discrete.release(a.Consumer, r)
			case types.ContinuousResource:
				released, err = s.continuous.release(a.Consumer, r)
			}
			if err != nil {
				return nil, err
			}
			if released {
				evs = append(evs, &events.Event{Type: events.EventResourceReleased, Resource: a.Resource, Consumer: a.Consumer})
			}
		}
		return evs, nil
	})
}

// IsAvailable reports whether r could be allocated right now: a discrete
// resource must be registered and free, a continuous one must be registered
// with at least r.Value left. The answer may be stale by the time Allocate
// runs; Allocate checks again.
func (l *Ledger) IsAvailable(r types.Resource) (bool, error) {
	checkResource(r)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LedgerOperationDuration, "is_available")

	s := l.begin()
	defer s.tx.Abort()

	ok, err := s.isAvailable(r)
	if err != nil {
		return false, fmt.Errorf("failed to check availability of %s: %w", r, err)
	}
	return ok, nil
}

func (s *txStores) isAvailable(r types.Resource) (bool, error) {
	switch r := r.(type) {
	case types.DiscreteResource:
		if _, ok, err := s.discrete.lookup(r.ID); err != nil || !ok {
			return false, err
		}
		allocated, err := s.discrete.isAllocated(r.ID)
		return !allocated, err
	case types.ContinuousResource:
		original, ok, err := s.continuous.lookup(r.ID)
		if err != nil || !ok {
			return false, err
		}
		current, _, found, err := s.continuous.allocation(r.ID)
		if err != nil {
			return false, err
		}
		if !found {
			current = resource.NewContinuousAllocation(original)
		}
		return current.HasEnoughResource(r), nil
	}
	return false, nil
}
