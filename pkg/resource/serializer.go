package resource

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"
	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/types"
)

// Serializer converts containers and records to their persisted form. The
// output is canonical: equal values always produce identical bytes, which is
// what the store's compare-and-swap compares.
type Serializer struct {
	codecs *codec.Registry
}

// NewSerializer returns a serializer decoding encoded sets with codecs
func NewSerializer(codecs *codec.Registry) *Serializer {
	return &Serializer{codecs: codecs}
}

// Codecs returns the registry the serializer is bound to
func (s *Serializer) Codecs() *codec.Registry {
	return s.codecs
}

type discreteRecord struct {
	Parent  types.DiscreteResourceID   `json:"parent"`
	Generic []types.DiscreteResourceID `json:"generic,omitempty"`
	Encoded []encodedRecord            `json:"encoded,omitempty"`
}

// encodedRecord stores a bitset as sorted closed ranges
type encodedRecord struct {
	Kind   string     `json:"kind"`
	Ranges [][2]int32 `json:"ranges"`
}

// EncodeDiscrete serializes a discrete container
func (s *Serializer) EncodeDiscrete(d DiscreteResources) ([]byte, error) {
	rec := discreteRecord{Parent: d.parent}
	for id := range d.generic {
		rec.Generic = append(rec.Generic, id)
	}
	sort.Slice(rec.Generic, func(i, j int) bool { return rec.Generic[i].String() < rec.Generic[j].String() })

	kinds := make([]types.SegmentKind, 0, len(d.encoded))
	for kind := range d.encoded {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		rec.Encoded = append(rec.Encoded, encodedRecord{
			Kind:   kind.String(),
			Ranges: toRanges(d.encoded[kind]),
		})
	}
	return json.Marshal(rec)
}

// DecodeDiscrete restores a discrete container written by EncodeDiscrete
func (s *Serializer) DecodeDiscrete(data []byte) (DiscreteResources, error) {
	var rec discreteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return DiscreteResources{}, fmt.Errorf("failed to decode discrete resources: %w", err)
	}

	generic := make(map[types.DiscreteResourceID]struct{}, len(rec.Generic))
	for _, id := range rec.Generic {
		generic[id] = struct{}{}
	}
	encoded := make(map[types.SegmentKind]*bitset.BitSet, len(rec.Encoded))
	for _, e := range rec.Encoded {
		kind, err := types.ParseSegmentKind(e.Kind)
		if err != nil {
			return DiscreteResources{}, err
		}
		if _, ok := s.codecs.Lookup(kind); !ok {
			return DiscreteResources{}, fmt.Errorf("no codec for encoded kind %s", kind)
		}
		b, err := fromRanges(e.Ranges)
		if err != nil {
			return DiscreteResources{}, fmt.Errorf("kind %s: %w", kind, err)
		}
		encoded[kind] = b
	}
	return compose(s.codecs, rec.Parent, generic, encoded), nil
}

func toRanges(b *bitset.BitSet) [][2]int32 {
	var ranges [][2]int32
	for lo, ok := b.NextSet(0); ok; lo, ok = b.NextSet(lo + 1) {
		hi := b.Len() - 1
		if next, found := b.NextClear(lo); found {
			hi = next - 1
		}
		ranges = append(ranges, [2]int32{int32(lo), int32(hi)})
		lo = hi
	}
	return ranges
}

func fromRanges(ranges [][2]int32) (*bitset.BitSet, error) {
	b := bitset.New(0)
	for _, r := range ranges {
		if r[0] < 0 || r[1] < r[0] {
			return nil, fmt.Errorf("invalid range [%d, %d]", r[0], r[1])
		}
		for v := r[0]; ; v++ {
			b.Set(uint(v))
			if v == r[1] {
				break
			}
		}
	}
	return b, nil
}

type continuousRecord struct {
	Parent    types.DiscreteResourceID   `json:"parent"`
	Resources []types.ContinuousResource `json:"resources,omitempty"`
}

// EncodeContinuous serializes the quantities of one parent
func (s *Serializer) EncodeContinuous(c ContinuousResources) ([]byte, error) {
	return json.Marshal(continuousRecord{Parent: c.parent, Resources: c.Values()})
}

// DecodeContinuous restores a set written by EncodeContinuous
func (s *Serializer) DecodeContinuous(data []byte) (ContinuousResources, error) {
	var rec continuousRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ContinuousResources{}, fmt.Errorf("failed to decode continuous resources: %w", err)
	}
	return NewContinuousResources(rec.Parent, rec.Resources...), nil
}

type allocationRecord struct {
	Original    types.ContinuousResource `json:"original"`
	Allocations []holder                 `json:"allocations,omitempty"`
}

// EncodeAllocation serializes a continuous allocation record
func (s *Serializer) EncodeAllocation(a ContinuousAllocation) ([]byte, error) {
	return json.Marshal(allocationRecord{Original: a.original, Allocations: a.holders})
}

// DecodeAllocation restores a record written by EncodeAllocation
func (s *Serializer) DecodeAllocation(data []byte) (ContinuousAllocation, error) {
	var rec allocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ContinuousAllocation{}, fmt.Errorf("failed to decode allocation: %w", err)
	}
	return ContinuousAllocation{original: rec.Original, holders: rec.Allocations}, nil
}

// EncodeConsumer serializes the owner of a discrete resource
func (s *Serializer) EncodeConsumer(c types.ConsumerID) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeConsumer restores a consumer written by EncodeConsumer
func (s *Serializer) DecodeConsumer(data []byte) (types.ConsumerID, error) {
	var c types.ConsumerID
	if err := json.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("failed to decode consumer: %w", err)
	}
	return c, nil
}
