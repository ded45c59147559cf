package codec

import (
	"testing"

	"github.com/cuemby/netledger/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name      string
		id        types.DiscreteResourceID
		encodable bool
	}{
		{name: "root", id: types.Root, encodable: false},
		{name: "device", id: types.NewDiscreteResourceID(types.Opaque("of:1")), encodable: false},
		{name: "port", id: types.NewDiscreteResourceID(types.Opaque("of:1"), types.Port(1)), encodable: true},
		{name: "vlan", id: types.NewDiscreteResourceID(types.Opaque("of:1"), types.Port(1), types.VLAN(10)), encodable: true},
		{name: "mpls", id: types.NewDiscreteResourceID(types.Opaque("of:1"), types.MPLSLabel(16)), encodable: true},
		{name: "lambda", id: types.NewDiscreteResourceID(types.Opaque("of:1"), types.Lambda(3)), encodable: false},
		{name: "logical port", id: types.NewDiscreteResourceID(types.Opaque("of:1"), types.Port(0xfffffffe)), encodable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.encodable, r.IsEncodable(tt.id))
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	r := NewRegistry()

	for _, seg := range []types.Segment{types.Port(0), types.Port(65535), types.VLAN(4094), types.MPLSLabel(1048575)} {
		c, ok := r.Lookup(seg.Kind)
		require.True(t, ok)
		v, err := c.Encode(seg)
		require.NoError(t, err)
		assert.Equal(t, int32(seg.Value), v)
		assert.Equal(t, seg, c.Decode(v))
	}
}

func TestCodecRejectsOutOfRange(t *testing.T) {
	r := NewRegistry()

	vlan, _ := r.Lookup(types.SegmentVLAN)
	_, err := vlan.Encode(types.VLAN(4096))
	assert.Error(t, err)

	_, err = vlan.Encode(types.Port(1))
	assert.Error(t, err)

	port, _ := r.Lookup(types.SegmentPort)
	_, err = port.Encode(types.Port(MaxPort + 1))
	assert.Error(t, err)

	mpls, _ := r.Lookup(types.SegmentMPLSLabel)
	_, err = mpls.Encode(types.MPLSLabel(MaxMPLSLabel + 1))
	assert.Error(t, err)
}

func TestExtraCodec(t *testing.T) {
	r := NewRegistry(rangeCodec(types.SegmentLambda, 96, types.Lambda))

	assert.True(t, r.IsEncodable(types.NewDiscreteResourceID(types.Opaque("roadm"), types.Lambda(5))))
	assert.Len(t, r.Kinds(), 4)

	assert.Panics(t, func() { NewRegistry(Codec{Kind: types.SegmentOpaque}) })
}

func TestEncodeDecodeID(t *testing.T) {
	r := NewRegistry()
	parent := types.NewDiscreteResourceID(types.Opaque("of:1"), types.Port(2))

	kind, v, ok := r.Encode(parent.Child(types.VLAN(100)))
	require.True(t, ok)
	assert.Equal(t, types.SegmentVLAN, kind)
	assert.Equal(t, int32(100), v)

	id, err := r.Decode(parent, kind, v)
	require.NoError(t, err)
	assert.Equal(t, parent.Child(types.VLAN(100)), id)

	_, err = r.Decode(parent, types.SegmentLambda, 1)
	assert.Error(t, err)
}
