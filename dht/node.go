// Package dht implements the Kademlia-style routing table and the
// bootstrap/lookup/refresh actions spec.md §3/§4.2/§4.3 describe,
// grounded on original_source/bip_dht/src/routing/{table,bucket,node}.rs
// for the routing-table shape and other_examples'
// 36818e66_compasses-Taipei-Torrent__taipei-dht.go.go for the Go
// message-passing idiom (one owning goroutine, public channels as the
// only external entry points).
package dht

import (
	"net"
	"time"

	"github.com/lvbealr/torrentd/ids"
)

// Status is a routing-table node's reachability classification.
type Status int

const (
	// Good nodes have answered a query recently and are pingable.
	Good Status = iota
	// Questionable nodes have gone quiet but are still pingable.
	Questionable
	// Bad nodes have failed repeatedly and are never pingable.
	Bad
)

func (s Status) String() string {
	switch s {
	case Good:
		return "good"
	case Questionable:
		return "questionable"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// questionableAfter is how long a node may go unqueried before it
// downgrades from Good to Questionable.
const questionableAfter = 15 * time.Minute

// Node is one entry in the routing table.
type Node struct {
	ID          ids.NodeID
	Addr        *net.UDPAddr
	status      Status
	lastSeen    time.Time
	lastQueried time.Time
	failures    int
}

// NewNode creates a fresh node recorded as having just answered.
func NewNode(id ids.NodeID, addr *net.UDPAddr) *Node {
	return &Node{ID: id, Addr: addr, status: Good, lastSeen: time.Now()}
}

// Status reports the node's current classification, downgrading Good
// to Questionable on the fly if it has gone quiet too long.
func (n *Node) Status() Status {
	if n.status == Good && time.Since(n.lastSeen) > questionableAfter {
		return Questionable
	}
	return n.status
}

// Pingable reports whether the node may be queried: Good or
// Questionable, per spec.md §3.
func (n *Node) Pingable() bool {
	s := n.Status()
	return s == Good || s == Questionable
}

// MarkResponded records that the node just answered a query, resetting
// its failure count and promoting it back to Good.
func (n *Node) MarkResponded() {
	n.status = Good
	n.lastSeen = time.Now()
	n.failures = 0
}

// MarkQueried records that we just sent this node a query.
func (n *Node) MarkQueried() {
	n.lastQueried = time.Now()
}

// MarkFailed records a failed query attempt; after repeated failures
// the node becomes Bad and is no longer pingable.
func (n *Node) MarkFailed() {
	n.failures++
	if n.failures >= 3 {
		n.status = Bad
	} else if n.status == Good {
		n.status = Questionable
	}
}

// CompactNodeInfo is the 26-byte (20-byte id + 4-byte IPv4 + 2-byte
// port) encoding used in KRPC "nodes" strings.
func (n *Node) CompactNodeInfo() []byte {
	buf := make([]byte, 26)
	copy(buf[:20], n.ID[:])
	ip4 := n.Addr.IP.To4()
	if ip4 == nil {
		ip4 = make([]byte, 4)
	}
	copy(buf[20:24], ip4)
	buf[24] = byte(n.Addr.Port >> 8)
	buf[25] = byte(n.Addr.Port)
	return buf
}

// ParseCompactNodes decodes a KRPC "nodes" byte string into Nodes,
// ignoring any trailing partial entry.
func ParseCompactNodes(data []byte) []*Node {
	var nodes []*Node
	for off := 0; off+26 <= len(data); off += 26 {
		var id ids.NodeID
		copy(id[:], data[off:off+20])
		ip := net.IPv4(data[off+20], data[off+21], data[off+22], data[off+23])
		port := int(data[off+24])<<8 | int(data[off+25])
		nodes = append(nodes, NewNode(id, &net.UDPAddr{IP: ip, Port: port}))
		nodes[len(nodes)-1].status = Questionable
	}
	return nodes
}
