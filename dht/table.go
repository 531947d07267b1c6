package dht

import "github.com/lvbealr/torrentd/ids"

// MaxBuckets is the total number of buckets a routing table can ever
// hold: one per bit of the 160-bit id space.
const MaxBuckets = 160

// Table is the Kademlia-style routing table: a slice of buckets
// indexed by shared-prefix length with the local node id. The last
// bucket is the "assorted" bucket, per spec.md §3, holding nodes whose
// ideal bucket has not yet been split into existence.
type Table struct {
	local   ids.NodeID
	buckets []*bucket
}

// NewTable creates a routing table for the given local node id, with a
// single assorted bucket.
func NewTable(local ids.NodeID) *Table {
	return &Table{local: local, buckets: []*bucket{{}}}
}

// LocalID returns the table's own node id.
func (t *Table) LocalID() ids.NodeID { return t.local }

func (t *Table) lastIndex() int { return len(t.buckets) - 1 }

func (t *Table) bucketIndex(id ids.NodeID) int {
	shared := ids.LeadingZeroBits(ids.XorNode(t.local, id))
	if shared > t.lastIndex() {
		return t.lastIndex()
	}
	return shared
}

// Insert places node into the table per the rule in spec.md §4.2:
// rejected outright if Bad; placed by shared-prefix length, capped at
// the last bucket; on overflow, the last bucket is split once and
// insertion retried; if the final bucket is saturated and cannot
// split, the node is dropped silently.
func (t *Table) Insert(n *Node) {
	if n.Status() == Bad {
		return
	}
	t.insertAt(n, t.bucketIndex(n.ID))
}

func (t *Table) insertAt(n *Node, index int) {
	if t.buckets[index].add(n) {
		return
	}
	if t.splitBucket(index) {
		t.insertAt(n, t.bucketIndex(n.ID))
	}
	// else: saturated and unsplittable, drop silently.
}

// splitBucket implements spec.md's split rule: a bucket at index i may
// split iff i is the last index and i < 159. On success the last
// bucket is replaced with two empty ones and its former contents are
// reinserted.
func (t *Table) splitBucket(index int) bool {
	if index != t.lastIndex() || index >= MaxBuckets-1 {
		return false
	}
	old := t.buckets[t.lastIndex()]
	t.buckets = t.buckets[:t.lastIndex()]
	t.buckets = append(t.buckets, &bucket{}, &bucket{})
	for _, n := range old.nodes {
		t.Insert(n)
	}
	return true
}

// Find returns the node with the given id, checking the sorted bucket
// first and falling back to a scan of the assorted bucket.
func (t *Table) Find(id ids.NodeID) *Node {
	index := ids.LeadingZeroBits(ids.XorNode(t.local, id))
	if index <= t.lastIndex() {
		if n := t.buckets[index].find(id); n != nil {
			return n
		}
	}
	return t.buckets[t.lastIndex()].find(id)
}

// Remove deletes the node with the given id from whichever bucket
// holds it.
func (t *Table) Remove(id ids.NodeID) {
	index := t.bucketIndex(id)
	t.buckets[index].remove(id)
	if index != t.lastIndex() {
		t.buckets[t.lastIndex()].remove(id)
	}
}

// GoodCount returns the number of currently Good nodes across the
// whole table, used to decide whether bootstrap succeeded.
func (t *Table) GoodCount() int {
	count := 0
	for _, b := range t.buckets {
		for _, n := range b.nodes {
			if n.Status() == Good {
				count++
			}
		}
	}
	return count
}

// NumBuckets reports how many buckets currently exist (sorted buckets
// plus the trailing assorted bucket).
func (t *Table) NumBuckets() int { return len(t.buckets) }

// EmptyBucketIndices returns the indices of sorted buckets (excluding
// the assorted bucket) that currently hold no nodes, used by bootstrap
// phase 2 to pick synthetic refresh targets.
func (t *Table) EmptyBucketIndices() []int {
	var out []int
	for i := 0; i < t.lastIndex(); i++ {
		if len(t.buckets[i].nodes) == 0 {
			out = append(out, i)
		}
	}
	return out
}

// ClosestNodes returns up to n Good/Questionable nodes ordered by
// closeness to target, implementing spec.md's closeness-iterator
// algorithm: starting at start = leading_zero_bits(local xor target),
// visiting indices start, start+1, start-1, start+2, start-2, ...,
// and at each visited index interleaving the assorted bucket's nodes
// whose ideal bucket equals that index.
func (t *Table) ClosestNodes(target ids.NodeID, n int) []*Node {
	// While an assorted bucket exists its nodes may belong to any
	// not-yet-split index, so the walk spans every possible index.
	span := t.lastIndex() + 1
	assortedUsed := make([]bool, 0)
	var assorted []*Node
	if t.lastIndex() < MaxBuckets-1 {
		assorted = t.buckets[t.lastIndex()].pingable()
		assortedUsed = make([]bool, len(assorted))
		span = MaxBuckets
	}

	start := ids.LeadingZeroBits(ids.XorNode(t.local, target))
	if start > span-1 {
		start = span - 1
	}

	visited := map[int]bool{}
	var out []*Node
	emit := func(index int) {
		if index >= 0 && index < t.lastIndex() {
			out = append(out, t.buckets[index].pingable()...)
		} else if index == t.lastIndex() && t.lastIndex() == MaxBuckets-1 {
			out = append(out, t.buckets[index].pingable()...)
		}
		for i, a := range assorted {
			if assortedUsed[i] {
				continue
			}
			aIndex := ids.LeadingZeroBits(ids.XorNode(t.local, a.ID))
			if aIndex > span-1 {
				aIndex = span - 1
			}
			if aIndex == index {
				out = append(out, a)
				assortedUsed[i] = true
			}
		}
	}

	index := start
	for {
		if !visited[index] {
			visited[index] = true
			emit(index)
		}
		if len(out) >= n {
			break
		}
		next, ok := nextBucketIndex(span, start, index, visited)
		if !ok {
			break
		}
		index = next
	}

	if len(out) > n {
		out = out[:n]
	}
	return out
}

// nextBucketIndex computes the next index to visit in the
// start, start+1, start-1, start+2, start-2, ... sequence, skipping
// indices already visited or out of [0, numBuckets).
func nextBucketIndex(numBuckets, start, current int, visited map[int]bool) (int, bool) {
	for offset := 1; offset < 2*numBuckets; offset++ {
		right := start + offset
		left := start - offset
		if right < numBuckets && !visited[right] {
			return right, true
		}
		if left >= 0 && !visited[left] {
			return left, true
		}
		if (right >= numBuckets || visited[right]) && (left < 0 || visited[left]) && offset > numBuckets {
			break
		}
	}
	return 0, false
}
