/*
Package codec maps numeric resource segments (ports, VLAN ids, MPLS labels)
to compact integers so that large discrete ranges can be stored as bitsets
instead of individual ids.

# Built-in codecs

	port     0 .. MaxPort        (65535)
	vlan     0 .. MaxVLAN        (4095)
	mpls     0 .. MaxMPLSLabel   (1048575)

A segment outside its codec's range is not an error for the containers:
Registry.IsEncodable reports false and the child is kept as a generic id.
Opaque segments are never encoded, and NewRegistry panics when asked to
register a codec for them.

# Usage

	codecs := codec.NewRegistry()
	id := types.NewDiscreteResourceID(types.Opaque("of:1"), types.Port(3), types.VLAN(100))

	kind, v, ok := codecs.Encode(id) // vlan, 100, true
	parent, _ := id.Parent()
	back, err := codecs.Decode(parent, kind, v) // back == id

The registry is built once at startup and shared read-only by every
container, serializer and ledger of the process. Every node of a cluster
must use the same codecs: a container written with a codec decodes only
where that codec is registered.
*/
package codec
