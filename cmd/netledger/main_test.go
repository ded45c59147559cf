package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/netledger/pkg/storage"
)

func TestInventoryResources(t *testing.T) {
	inv, err := ParseInventory([]byte(`
devices:
  - id: of:1
    ports:
      - number: 1
        bandwidth: 1000
        vlans: ["100-102"]
        mpls: ["16"]
      - number: 2
        lambdas: ["1", "3-4"]
resources:
  - link-1
  - link-1/@bandwidth=40000
`))
	require.NoError(t, err)

	rs, err := inv.Resources()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"of:1",
		"of:1/port:1",
		"of:1/port:1/vlan:100",
		"of:1/port:1/vlan:101",
		"of:1/port:1/vlan:102",
		"of:1/port:1/mpls:16",
		"of:1/port:1/@bandwidth=1000",
		"of:1/port:2",
		"of:1/port:2/lambda:1",
		"of:1/port:2/lambda:3",
		"of:1/port:2/lambda:4",
		"link-1",
		"link-1/@bandwidth=40000",
	}, rs)
}

func TestInventoryErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"nested device id", "devices:\n  - id: of:1/port:1\n"},
		{"inverted range", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        vlans: [\"200-100\"]\n"},
		{"bad value", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        mpls: [\"x\"]\n"},
		{"vlan out of range", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        vlans: [\"4096\"]\n"},
		{"range too wide", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        mpls: [\"0-2000000000\"]\n"},
		{"repeated ranges", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        vlans: [\"0-4095\", \"0-4095\"]\n"},
		{"negative bandwidth", "devices:\n  - id: of:1\n    ports:\n      - number: 1\n        bandwidth: -5\n"},
		{"bad resource", "resources:\n  - link-1/@bandwidth\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := ParseInventory([]byte(tt.doc))
			require.NoError(t, err)
			_, err = inv.Resources()
			assert.Error(t, err)
		})
	}

	_, err := ParseInventory([]byte("devices: {"))
	assert.Error(t, err)
}

func TestExpandRanges(t *testing.T) {
	values, err := expandRanges([]string{"0-4095"}, 4095)
	require.NoError(t, err)
	assert.Len(t, values, 4096)

	values, err = expandRanges([]string{" 7 ", "1-2"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 1, 2}, values)

	_, err = expandRanges([]string{"0-10", "5"}, 10)
	assert.Error(t, err)
}

func TestParsePeers(t *testing.T) {
	peers, err := parsePeers([]string{"node-2=10.0.0.2:7946", "node-3=10.0.0.3:7946"})
	require.NoError(t, err)
	assert.Equal(t, []raft.Server{
		{ID: "node-2", Address: "10.0.0.2:7946"},
		{ID: "node-3", Address: "10.0.0.3:7946"},
	}, peers)

	for _, bad := range []string{"node-2", "=10.0.0.2:7946", "node-2="} {
		_, err := parsePeers([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestWriteDump(t *testing.T) {
	entries := []storage.Entry{
		{Table: "discrete.consumers", Key: "of:1/port:1/vlan:100", Value: []byte(`"tunnel-1"`), Version: 2},
		{Table: "raw", Key: "k", Value: []byte("not json"), Version: 3},
	}

	var buf bytes.Buffer
	require.NoError(t, writeDump(&buf, entries, 3))

	var doc storeDump
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, uint64(3), doc.Revision)
	assert.JSONEq(t, `"tunnel-1"`, string(doc.Tables["discrete.consumers"]["of:1/port:1/vlan:100"]))
	assert.Contains(t, doc.Tables, "raw")
}
