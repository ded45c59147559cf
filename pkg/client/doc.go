/*
Package client is a Go client for a netledger node's HTTP API.

Resources are passed in their canonical path form, the same syntax the CLI
accepts:

	c, err := client.NewClient("127.0.0.1:9090")
	if err != nil {
		return err
	}
	defer c.Close()

	ok, err := c.Allocate(ctx, "tunnel-7", []string{
		"of:1/port:3/vlan:100",
		"of:1/port:3/@bandwidth=600",
	})

A refused request returns false with a nil error. A mutation sent to a
follower fails with an error matching ErrNotLeader; the StatusError carries
the leader's Raft address.
*/
package client
