package resource

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/types"
)

// Variant tells which payloads a DiscreteResources value carries
type Variant uint8

const (
	// VariantEmpty holds no children
	VariantEmpty Variant = iota
	// VariantGeneric holds ids that have no codec
	VariantGeneric
	// VariantEncodable holds only codec-encoded children
	VariantEncodable
	// VariantUnified holds both generic and encoded children
	VariantUnified
)

func (v Variant) String() string {
	switch v {
	case VariantEmpty:
		return "empty"
	case VariantGeneric:
		return "generic"
	case VariantEncodable:
		return "encodable"
	case VariantUnified:
		return "unified"
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// DiscreteResources is the immutable set of discrete children registered
// under one parent. Every operation that changes membership returns a new
// value; the receiver is never modified, so a value read from the store can
// be used as the expected value of a compare-and-swap.
type DiscreteResources struct {
	parent  types.DiscreteResourceID
	codecs  *codec.Registry
	variant Variant

	// generic children, valid for VariantGeneric and VariantUnified
	generic map[types.DiscreteResourceID]struct{}
	// encoded children per codec kind, valid for VariantEncodable and
	// VariantUnified. Bitsets are never mutated once stored here.
	encoded map[types.SegmentKind]*bitset.BitSet
}

// EmptyDiscreteResources returns the container of a parent with no children
func EmptyDiscreteResources(codecs *codec.Registry, parent types.DiscreteResourceID) DiscreteResources {
	return DiscreteResources{parent: parent, codecs: codecs, variant: VariantEmpty}
}

// NewDiscreteResources builds a container for the given children of parent,
// choosing the variant from the children's codecs. Every id must be a direct
// child of parent.
func NewDiscreteResources(codecs *codec.Registry, parent types.DiscreteResourceID, ids ...types.DiscreteResourceID) DiscreteResources {
	generic := make(map[types.DiscreteResourceID]struct{})
	encoded := make(map[types.SegmentKind]*bitset.BitSet)
	for _, id := range ids {
		if p, ok := id.Parent(); !ok || p != parent {
			panic(fmt.Sprintf("resource: %s is not a child of %s", id, parent))
		}
		if kind, v, ok := codecs.Encode(id); ok {
			b, exists := encoded[kind]
			if !exists {
				b = bitset.New(uint(v) + 1)
				encoded[kind] = b
			}
			b.Set(uint(v))
			continue
		}
		generic[id] = struct{}{}
	}
	return compose(codecs, parent, generic, encoded)
}

// compose picks the variant matching the non-empty payloads
func compose(codecs *codec.Registry, parent types.DiscreteResourceID,
	generic map[types.DiscreteResourceID]struct{}, encoded map[types.SegmentKind]*bitset.BitSet) DiscreteResources {

	for kind, b := range encoded {
		if b == nil || b.None() {
			delete(encoded, kind)
		}
	}

	d := DiscreteResources{parent: parent, codecs: codecs}
	switch {
	case len(generic) == 0 && len(encoded) == 0:
		d.variant = VariantEmpty
	case len(encoded) == 0:
		d.variant = VariantGeneric
		d.generic = generic
	case len(generic) == 0:
		d.variant = VariantEncodable
		d.encoded = encoded
	default:
		d.variant = VariantUnified
		d.generic = generic
		d.encoded = encoded
	}
	return d
}

// Parent returns the id the children belong to
func (d DiscreteResources) Parent() types.DiscreteResourceID {
	return d.parent
}

// Variant returns the representation currently in use
func (d DiscreteResources) Variant() Variant {
	return d.variant
}

func (d DiscreteResources) lookupGeneric(id types.DiscreteResourceID) bool {
	_, ok := d.generic[id]
	return ok
}

func (d DiscreteResources) lookupEncoded(id types.DiscreteResourceID) bool {
	kind, v, ok := d.codecs.Encode(id)
	if !ok {
		return false
	}
	b, ok := d.encoded[kind]
	return ok && b.Test(uint(v))
}

// Lookup returns the child with the given id if it is registered
func (d DiscreteResources) Lookup(id types.DiscreteResourceID) (types.DiscreteResource, bool) {
	if p, ok := id.Parent(); !ok || p != d.parent {
		return types.DiscreteResource{}, false
	}

	var found bool
	switch d.variant {
	case VariantEmpty:
		found = false
	case VariantGeneric:
		found = d.lookupGeneric(id)
	case VariantEncodable:
		found = d.lookupEncoded(id)
	case VariantUnified:
		found = d.lookupGeneric(id) || d.lookupEncoded(id)
	}
	if !found {
		return types.DiscreteResource{}, false
	}
	return id.Resource(), true
}

// ContainsAny reports whether at least one of ids is registered
func (d DiscreteResources) ContainsAny(ids []types.DiscreteResourceID) bool {
	if d.variant == VariantEmpty {
		return false
	}
	for _, id := range ids {
		if _, ok := d.Lookup(id); ok {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no child is registered
func (d DiscreteResources) IsEmpty() bool {
	switch d.variant {
	case VariantEmpty:
		return true
	case VariantGeneric:
		return len(d.generic) == 0
	case VariantEncodable:
		return encodedCount(d.encoded) == 0
	default:
		return len(d.generic) == 0 && encodedCount(d.encoded) == 0
	}
}

// Len returns the number of registered children
func (d DiscreteResources) Len() int {
	switch d.variant {
	case VariantEmpty:
		return 0
	case VariantGeneric:
		return len(d.generic)
	case VariantEncodable:
		return encodedCount(d.encoded)
	default:
		return len(d.generic) + encodedCount(d.encoded)
	}
}

func encodedCount(encoded map[types.SegmentKind]*bitset.BitSet) int {
	n := 0
	for _, b := range encoded {
		n += int(b.Count())
	}
	return n
}

// Add returns the union of d and other. If other adds nothing new, d itself
// is returned so callers can skip the write.
func (d DiscreteResources) Add(other DiscreteResources) DiscreteResources {
	d.checkSibling(other)
	if other.IsEmpty() {
		return d
	}

	generic := copyGeneric(d.generic)
	changed := false
	for id := range other.generic {
		if _, ok := generic[id]; !ok {
			generic[id] = struct{}{}
			changed = true
		}
	}

	encoded := copyEncoded(d.encoded)
	for kind, b := range other.encoded {
		cur, ok := encoded[kind]
		if !ok {
			encoded[kind] = b
			changed = true
			continue
		}
		if b.DifferenceCardinality(cur) == 0 {
			continue
		}
		encoded[kind] = cur.Union(b)
		changed = true
	}

	if !changed {
		return d
	}
	return compose(d.codecs, d.parent, generic, encoded)
}

// Difference returns the children of d that are not in other
func (d DiscreteResources) Difference(other DiscreteResources) DiscreteResources {
	d.checkSibling(other)
	if d.IsEmpty() || other.IsEmpty() {
		return d
	}

	generic := copyGeneric(d.generic)
	changed := false
	for id := range other.generic {
		if _, ok := generic[id]; ok {
			delete(generic, id)
			changed = true
		}
	}

	encoded := copyEncoded(d.encoded)
	for kind, b := range other.encoded {
		cur, ok := encoded[kind]
		if !ok || cur.IntersectionCardinality(b) == 0 {
			continue
		}
		encoded[kind] = cur.Difference(b)
		changed = true
	}

	if !changed {
		return d
	}
	return compose(d.codecs, d.parent, generic, encoded)
}

// Remove returns d without the given children
func (d DiscreteResources) Remove(ids []types.DiscreteResourceID) DiscreteResources {
	return d.Difference(NewDiscreteResources(d.codecs, d.parent, ids...))
}

// Values expands every child, decoding encoded entries through their codec.
// The result is sorted by id.
func (d DiscreteResources) Values() []types.DiscreteResource {
	ids := d.ids()
	values := make([]types.DiscreteResource, len(ids))
	for i, id := range ids {
		values[i] = id.Resource()
	}
	return values
}

func (d DiscreteResources) ids() []types.DiscreteResourceID {
	ids := make([]types.DiscreteResourceID, 0, d.Len())
	for id := range d.generic {
		ids = append(ids, id)
	}
	for kind, b := range d.encoded {
		for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
			id, err := d.codecs.Decode(d.parent, kind, int32(i))
			if err != nil {
				panic(fmt.Sprintf("resource: %v", err))
			}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// Equal reports whether both containers hold the same children
func (d DiscreteResources) Equal(other DiscreteResources) bool {
	if d.parent != other.parent || d.Len() != other.Len() {
		return false
	}
	for id := range d.generic {
		if _, ok := other.generic[id]; !ok {
			return false
		}
	}
	for kind, b := range d.encoded {
		o, ok := other.encoded[kind]
		if !ok || b.SymmetricDifferenceCardinality(o) != 0 {
			return false
		}
	}
	return true
}

func (d DiscreteResources) checkSibling(other DiscreteResources) {
	if other.variant != VariantEmpty && other.parent != d.parent {
		panic(fmt.Sprintf("resource: cannot combine children of %s and %s", d.parent, other.parent))
	}
}

func copyGeneric(src map[types.DiscreteResourceID]struct{}) map[types.DiscreteResourceID]struct{} {
	dst := make(map[types.DiscreteResourceID]struct{}, len(src))
	for id := range src {
		dst[id] = struct{}{}
	}
	return dst
}

// copyEncoded copies the map only; bitsets are shared because they are
// treated as immutable
func copyEncoded(src map[types.SegmentKind]*bitset.BitSet) map[types.SegmentKind]*bitset.BitSet {
	dst := make(map[types.SegmentKind]*bitset.BitSet, len(src))
	for kind, b := range src {
		dst[kind] = b
	}
	return dst
}
