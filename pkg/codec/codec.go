package codec

import (
	"fmt"

	"github.com/cuemby/netledger/pkg/types"
)

const (
	// MaxPort is the largest port number stored in encoded form; larger
	// (logical) port numbers fall back to generic storage
	MaxPort = 1<<16 - 1
	// MaxVLAN is the largest VLAN id (4095 is reserved but still encodable)
	MaxVLAN = 4095
	// MaxMPLSLabel is the largest 20-bit MPLS label
	MaxMPLSLabel = 1<<20 - 1
)

// Codec maps segments of one kind to a compact non-negative integer and back
type Codec struct {
	Kind   types.SegmentKind
	Encode func(types.Segment) (int32, error)
	Decode func(int32) types.Segment
}

// Registry holds the codecs available to the encoded containers.
// It is built once at startup and never mutated afterwards.
type Registry struct {
	codecs map[types.SegmentKind]Codec
}

// NewRegistry returns a registry with the port, VLAN and MPLS label codecs
// plus any extra codecs supplied by the caller
func NewRegistry(extra ...Codec) *Registry {
	r := &Registry{codecs: make(map[types.SegmentKind]Codec)}
	for _, c := range []Codec{
		rangeCodec(types.SegmentPort, MaxPort, types.Port),
		rangeCodec(types.SegmentVLAN, MaxVLAN, types.VLAN),
		rangeCodec(types.SegmentMPLSLabel, MaxMPLSLabel, types.MPLSLabel),
	} {
		r.codecs[c.Kind] = c
	}
	for _, c := range extra {
		if c.Kind == types.SegmentOpaque {
			panic("codec: opaque segments cannot be encoded")
		}
		r.codecs[c.Kind] = c
	}
	return r
}

// Lookup returns the codec for a segment kind
func (r *Registry) Lookup(kind types.SegmentKind) (Codec, bool) {
	c, ok := r.codecs[kind]
	return c, ok
}

// IsEncodable reports whether the last segment of id has a codec that
// accepts its value. The root is never encodable.
func (r *Registry) IsEncodable(id types.DiscreteResourceID) bool {
	_, _, ok := r.Encode(id)
	return ok
}

// Encode returns the codec kind and encoded value of the last segment of id
func (r *Registry) Encode(id types.DiscreteResourceID) (types.SegmentKind, int32, bool) {
	if id.IsRoot() {
		return 0, 0, false
	}
	last := id.Last()
	c, ok := r.codecs[last.Kind]
	if !ok {
		return 0, 0, false
	}
	v, err := c.Encode(last)
	if err != nil {
		return 0, 0, false
	}
	return last.Kind, v, true
}

// Decode rebuilds the child id of parent from an encoded value
func (r *Registry) Decode(parent types.DiscreteResourceID, kind types.SegmentKind, v int32) (types.DiscreteResourceID, error) {
	c, ok := r.codecs[kind]
	if !ok {
		return types.Root, fmt.Errorf("no codec for %s", kind)
	}
	return parent.Child(c.Decode(v)), nil
}

// Kinds returns the kinds with a registered codec
func (r *Registry) Kinds() []types.SegmentKind {
	kinds := make([]types.SegmentKind, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	return kinds
}

// rangeCodec encodes numeric segments whose value lies in [0, max] as the
// value itself
func rangeCodec(kind types.SegmentKind, max int64, build func(int64) types.Segment) Codec {
	return Codec{
		Kind: kind,
		Encode: func(s types.Segment) (int32, error) {
			if s.Kind != kind {
				return 0, fmt.Errorf("codec %s: unexpected segment kind %s", kind, s.Kind)
			}
			if s.Value < 0 || s.Value > max {
				return 0, fmt.Errorf("codec %s: value %d out of range [0, %d]", kind, s.Value, max)
			}
			return int32(s.Value), nil
		},
		Decode: func(v int32) types.Segment {
			return build(int64(v))
		},
	}
}
