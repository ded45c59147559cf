/*
Package api serves a ledger over HTTP with JSON bodies.

Mutations are POST requests and return whether the ledger accepted them. A
refused request is not an HTTP error: it answers 200 with {"ok": false} and
changes nothing.

	POST /v1/register     {"resources": ["of:1", "of:1/port:1", "of:1/port:1/@bandwidth=1000"]}
	POST /v1/unregister   {"ids": ["of:1/port:1/@bandwidth"]}
	POST /v1/allocate     {"consumer": "tunnel-7", "resources": ["of:1/port:1/vlan:100"]}
	POST /v1/release      {"consumer": "tunnel-7", "resources": ["of:1/port:1/vlan:100"]}

Queries read the local copy of the store:

	GET /v1/resource?id=of:1/port:1/@bandwidth
	GET /v1/children?parent=of:1
	GET /v1/available?parent=of:1/port:1
	GET /v1/allocated?parent=of:1/port:1&kind=vlan
	GET /v1/availability?resource=of:1/port:1/@bandwidth=200
	GET /v1/consumers/tunnel-7

When the ledger runs on a replicated store, mutations reaching a follower are
answered with 421 Misdirected Request and the address of the Raft leader.
Malformed input is answered with 400, storage failures with 500.

The same server also exposes /metrics, and /health and /ready when a health
checker is given.
*/
package api
