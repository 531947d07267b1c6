package dht

// BucketSize is K, the maximum number of nodes a bucket holds, per
// spec.md §3.
const BucketSize = 8

// bucket is a bounded multiset of nodes.
type bucket struct {
	nodes []*Node
}

// find returns the node with the given id, if present.
func (b *bucket) find(id [20]byte) *Node {
	for _, n := range b.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// add inserts node, replacing any existing entry with the same id.
// Returns false if the bucket is full and has no room.
func (b *bucket) add(n *Node) bool {
	for i, existing := range b.nodes {
		if existing.ID == n.ID {
			b.nodes[i] = n
			return true
		}
	}
	if len(b.nodes) >= BucketSize {
		return false
	}
	b.nodes = append(b.nodes, n)
	return true
}

// remove deletes the node with the given id, if present.
func (b *bucket) remove(id [20]byte) {
	for i, n := range b.nodes {
		if n.ID == id {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			return
		}
	}
}

// pingable returns the Good/Questionable nodes in the bucket, in
// insertion order.
func (b *bucket) pingable() []*Node {
	out := make([]*Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		if n.Pingable() {
			out = append(out, n)
		}
	}
	return out
}
