package dht

import (
	"net"
	"testing"

	"github.com/lvbealr/torrentd/ids"
	"github.com/stretchr/testify/require"
)

func nodeWithID(b0 byte) *Node {
	var id ids.NodeID
	id[0] = b0
	return NewNode(id, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881})
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	var local ids.NodeID
	table := NewTable(local)
	n := nodeWithID(0x80)
	table.Insert(n)

	found := table.Find(n.ID)
	require.NotNil(t, found)
	require.Equal(t, n.ID, found.ID)
}

func TestInsertRejectsBadNode(t *testing.T) {
	var local ids.NodeID
	table := NewTable(local)
	n := nodeWithID(0x80)
	n.status = Bad
	table.Insert(n)
	require.Nil(t, table.Find(n.ID))
}

func TestBucketSplitsOnOverflowOfLastBucket(t *testing.T) {
	var local ids.NodeID // all-zero local id
	table := NewTable(local)

	// All these nodes share 0 leading bits with local id 0x00... when
	// their own first bit is 1, so they land in bucket 0. Actually we
	// want distinct node ids in the SAME current bucket (the lone
	// assorted bucket) so overflow forces a split.
	for i := 0; i < BucketSize+1; i++ {
		var id ids.NodeID
		id[0] = byte(0x80) // first bit set: leading_zero_bits(local^id) == 0
		id[19] = byte(i)   // keep ids distinct
		table.Insert(NewNode(id, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881 + i}))
	}

	require.Greater(t, table.NumBuckets(), 1)
}

func TestClosestNodesOrdersByBucketDistance(t *testing.T) {
	var local ids.NodeID
	table := NewTable(local)

	var target ids.NodeID
	target[0] = 0x08 // leading_zero_bits(local^target) == 4

	far := nodeWithID(0x04)  // leading_zero_bits == 5
	near := nodeWithID(0x80) // leading_zero_bits == 0
	for i := 0; i < 3; i++ {
		table.Insert(far)
		table.Insert(near)
	}

	closest := table.ClosestNodes(target, 10)
	require.NotEmpty(t, closest)
	// The walk visits bucket 4, then 5 (far), ..., and reaches 0 (near) last.
	require.Equal(t, []*Node{far, near}, closest)
}

func TestGoodCountReflectsStatus(t *testing.T) {
	var local ids.NodeID
	table := NewTable(local)
	n := nodeWithID(0x80)
	table.Insert(n)
	require.Equal(t, 1, table.GoodCount())

	n.status = Bad
	require.Equal(t, 0, table.GoodCount())
}

func TestParseCompactNodesRoundTrip(t *testing.T) {
	n := nodeWithID(0x55)
	blob := n.CompactNodeInfo()
	parsed := ParseCompactNodes(blob)
	require.Len(t, parsed, 1)
	require.Equal(t, n.ID, parsed[0].ID)
	require.Equal(t, n.Addr.Port, parsed[0].Addr.Port)
}
