/*
Package types defines the resource model shared by every netledger package.

A resource is addressed by a path that starts at the implicit Root and walks
through typed segments:

	of:0000000000000001                     device (opaque segment)
	of:0000000000000001/port:3              port under the device
	of:0000000000000001/port:3/vlan:100     VLAN id on the port
	of:0000000000000001/port:3/@bandwidth   bandwidth quantity of the port

Discrete resources (devices, ports, VLAN ids, MPLS labels, wavelengths) are
identified by their exact path and can be held by a single consumer at a
time. Continuous resources are named quantities hanging off a discrete
parent ("@bandwidth") and carry a value; they admit several partial
allocations whose sum never exceeds the registered capacity.

Ids are plain comparable values. Parent/child relations are derived from the
path itself, never stored as references.

# Usage

	port := types.Discrete(types.Opaque("of:1"), types.Port(3))
	vlan := port.Child(types.VLAN(100))
	bw := port.Quantity("bandwidth", 1000)

	r, err := types.ParseResource("of:1/port:3/@bandwidth=600")
*/
package types
