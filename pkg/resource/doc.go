/*
Package resource implements the immutable values the ledger stores per parent
resource.

# Architecture

	┌──────────────────────── RESOURCE ──────────────────────────┐
	│                                                              │
	│  ┌───────────────────────┐   ┌──────────────────────────┐   │
	│  │  DiscreteResources    │   │  ContinuousResources     │   │
	│  │  children of a parent │   │  quantities of a parent  │   │
	│  │  generic set + bitsets│   │  name -> capacity        │   │
	│  └───────────┬───────────┘   └─────────────┬────────────┘   │
	│              │                             │                 │
	│              │          ┌──────────────────┴──────────┐     │
	│              │          │  ContinuousAllocation        │     │
	│              │          │  capacity + ordered holders  │     │
	│              │          └──────────────────┬──────────┘     │
	│              │                             │                 │
	│  ┌───────────▼─────────────────────────────▼────────────┐   │
	│  │                     Serializer                         │   │
	│  │  canonical JSON, bitsets written as closed ranges      │   │
	│  └──────────────────────────┬───────────────────────────┘   │
	│                             │ codec.Registry                 │
	└─────────────────────────────┴────────────────────────────────┘

# Core Components

DiscreteResources:
  - The discrete children of one parent
  - Children whose last segment has a codec (ports, VLAN ids, MPLS labels)
    are kept as one bitset of encoded integers per segment kind
  - Everything else (devices, wavelengths, ports beyond the codec range) is
    kept as a set of ids
  - Variant reports which of the two representations are in use:

	Empty       no children
	Generic     ids without a codec
	Encodable   one bitset per codec kind
	Unified     both of the above under the same parent

ContinuousResources:
  - The named quantities registered under one parent, each with its
    capacity
  - Adding a quantity that already exists replaces it; the ledger refuses
    a different capacity before it gets here

ContinuousAllocation:
  - The registered capacity of one quantity and the reservations held
    against it, in allocation order
  - A consumer may hold several reservations, even of the same amount
  - The sum of the reservations never exceeds the capacity as long as
    callers check HasEnoughResource before Allocate

Serializer:
  - Turns the three values and discrete owners into bytes and back
  - Bound to one codec.Registry; decoding an encoded set with a registry
    that lacks its codec fails

# Operations

DiscreteResources:
  - Lookup: a child by id, answered from the bitset or the generic set
  - ContainsAny: whether any of several ids is a child
  - Add, Difference, Remove: set algebra returning a new container
  - Values: every child, decoded and sorted by id
  - Equal: same parent and same children, whatever the representation

ContinuousResources:
  - Lookup, Add, Remove, Values, IsEmpty

ContinuousAllocation:
  - Allocate: appends a reservation; capacity is not checked here
  - Release: drops the first reservation of that consumer with exactly
    that amount, or returns the record unchanged when there is none
  - Allocated, Remaining, HasEnoughResource

# Immutability

None of these values is ever modified in place. Operations return new
values and never share a bitset or map with their receiver, so a container
read inside one transaction can be kept and compared after another one
changed the store.

Combining containers of different parents, or adding a quantity to the
set of another parent, is a programming error and panics.

# Canonical encoding

The store compares raw bytes when it replaces or removes a value, so the
Serializer writes equal values as identical bytes:

	generic ids        sorted by their string form
	encoded kinds      sorted by segment kind
	bitsets            sorted closed ranges, [[1,4094]] for a full VLAN pool
	quantities         sorted by id
	reservations       kept in allocation order

A VLAN pool of 4094 ids is a handful of bytes; a port with sparse labels
costs one range per gap.

# Usage

	codecs := codec.NewRegistry()
	s := resource.NewSerializer(codecs)

	port := types.Discrete(types.Opaque("of:1"), types.Port(3)).ID
	pool := resource.NewDiscreteResources(codecs, port,
		port.Child(types.VLAN(100)),
		port.Child(types.VLAN(101)),
		port.Child(types.Lambda(7)),
	)
	pool.Variant() // Unified

	raw, err := s.EncodeDiscrete(pool)
	back, err := s.DecodeDiscrete(raw)
	back.Equal(pool) // true

	bw := port.Continuous("bandwidth")
	rec := resource.NewContinuousAllocation(bw.Resource(1000))
	if rec.HasEnoughResource(bw.Resource(600)) {
		rec = rec.Allocate(types.Allocation{Resource: bw.Resource(600), Consumer: "tunnel-7"})
	}
	rec.Remaining() // 400
	rec = rec.Release(bw.Resource(600), "tunnel-7")

# Integration Points

This package integrates with:

  - pkg/types: ids, segments and resources held in the containers
  - pkg/codec: which segment kinds are stored as bitsets
  - pkg/ledger: reads and writes these values through its sub-stores
  - github.com/bits-and-blooms/bitset: the encoded sets

# Performance Characteristics

  - Lookup of an encoded child: one bit test
  - Lookup of a generic child: one map lookup
  - Add and Remove copy the container: O(children) per call
  - Encoding walks each bitset once; a contiguous range costs two integers
*/
package resource
