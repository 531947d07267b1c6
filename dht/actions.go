// Bootstrap, lookup and refresh are the DHT's three long-running
// actions (spec.md §4.3), each owning a transaction-registry action id.
// Grounded on original_source/bip_dht/src/worker/handler.rs's
// DhtHandler (MAX_BOOTSTRAP_ATTEMPTS, BOOTSTRAP_GOOD_NODE_THRESHOLD)
// and worker/lookup.rs's candidate-list/round/endgame shape, adapted
// from mio event-loop callbacks into direct Go closures invoked from
// Engine's own run-loop goroutine.
package dht

import (
	"net"
	"sort"
	"time"

	"github.com/lvbealr/torrentd/ids"
)

const (
	alpha                   = 4
	lookupRoundTimeout      = 600 * time.Millisecond
	lookupEndgameTimeout    = 1500 * time.Millisecond
	bootstrapGoodNodeThresh = 10
	maxBootstrapAttempts    = 3
)

// Bootstrap seeds the routing table from router/seed addresses plus an
// optional warm-start node list, per spec.md's two-phase algorithm. It
// blocks until the bootstrap completes, fails, or exhausts its retry
// budget.
func (e *Engine) Bootstrap(seeds []*net.UDPAddr, warmStart []*Node) {
	for _, n := range warmStart {
		e.submit(func() { e.table.Insert(n) })
	}

	for attempt := 0; attempt < maxBootstrapAttempts; attempt++ {
		e.runBootstrapPhase1(seeds)
		e.runBootstrapPhase2()

		good := 0
		e.submit(func() { good = e.table.GoodCount() })
		if good >= bootstrapGoodNodeThresh {
			e.emit(Event{Kind: EventBootstrapCompleted})
			return
		}
	}

	good := 0
	e.submit(func() { good = e.table.GoodCount() })
	if good == 0 {
		e.emit(Event{Kind: EventShuttingDown, Cause: CauseBootstrapFailed})
		return
	}
	e.emit(Event{Kind: EventBootstrapCompleted})
}

// runBootstrapPhase1 sends find_node(local) to every seed and inserts
// responders (skipping the seeds themselves, which are routers rather
// than DHT participants worth keeping) and any referenced nodes as
// Questionable.
func (e *Engine) runBootstrapPhase1(seeds []*net.UDPAddr) {
	action := e.tx.NewAction()
	type result struct{}
	done := make(chan result, len(seeds))

	for _, addr := range seeds {
		addr := addr
		e.submit(func() {
			e.query(action, addr, "find_node", NodesArg(e.local, e.local), lookupRoundTimeout, func(resp *responseCtx, ok bool) {
				if ok {
					// handleResponse has already inserted the responding
					// router; take it back out.
					if idStr, _ := resp.ret.GetString("id"); len(idStr) == ids.Size {
						var routerID ids.NodeID
						copy(routerID[:], idStr)
						e.table.Remove(routerID)
					}
					nodesStr, _ := resp.ret.GetString("nodes")
					for _, n := range ParseCompactNodes([]byte(nodesStr)) {
						e.table.Insert(n)
					}
				}
				done <- result{}
			})
		})
	}
	for range seeds {
		<-done
	}
	e.submit(func() { e.tx.CancelAction(action) })
}

// runBootstrapPhase2 issues find_node queries for synthetic targets
// designed to fill each currently empty bucket, up to MAX_BUCKETS.
func (e *Engine) runBootstrapPhase2() {
	var targets []ids.NodeID
	e.submit(func() {
		for _, idx := range e.table.EmptyBucketIndices() {
			targets = append(targets, syntheticTarget(e.local, idx))
		}
	})
	if len(targets) == 0 {
		return
	}

	action := e.tx.NewAction()
	done := make(chan struct{}, len(targets))
	for _, target := range targets {
		target := target
		var closest []*Node
		e.submit(func() { closest = e.table.ClosestNodes(target, alpha) })
		if len(closest) == 0 {
			done <- struct{}{}
			continue
		}
		addr := closest[0].Addr
		e.submit(func() {
			e.query(action, addr, "find_node", NodesArg(e.local, target), lookupRoundTimeout, func(resp *responseCtx, ok bool) {
				if ok {
					nodesStr, _ := resp.ret.GetString("nodes")
					for _, n := range ParseCompactNodes([]byte(nodesStr)) {
						e.table.Insert(n)
					}
				}
				done <- struct{}{}
			})
		})
	}
	for range targets {
		<-done
	}
	e.submit(func() { e.tx.CancelAction(action) })
}

// syntheticTarget builds a node id sharing exactly bucketIndex leading
// bits with local, landing queries meant to populate that bucket.
func syntheticTarget(local ids.NodeID, bucketIndex int) ids.NodeID {
	target := local
	byteIdx := bucketIndex / 8
	bitIdx := 7 - uint(bucketIndex%8)
	if byteIdx < len(target) {
		target[byteIdx] ^= 1 << bitIdx
	}
	return target
}

// emit pushes ev onto Events, dropping it if the channel is full
// rather than blocking the calling goroutine forever.
func (e *Engine) emit(ev Event) {
	select {
	case e.Events <- ev:
	default:
	}
}

// lookupCandidate is one entry in a Lookup's sorted-by-distance
// candidate list.
type lookupCandidate struct {
	node    *Node
	queried bool
}

// Lookup performs an iterative get_peers search for target, per
// spec.md's alpha-parallel round/endgame algorithm, returning every
// distinct peer contact discovered.
func (e *Engine) Lookup(target ids.InfoHash) []PeerContact {
	targetNode := ids.NodeID(target)
	action := e.tx.NewAction()

	var candidates []*lookupCandidate
	e.submit(func() {
		for _, n := range e.table.ClosestNodes(targetNode, alpha) {
			candidates = append(candidates, &lookupCandidate{node: n})
		}
	})

	seenPeers := map[string]bool{}
	var peers []PeerContact
	bestDist := ids.NodeID{}
	for i := range bestDist {
		bestDist[i] = 0xff
	}

	round := func(timeout time.Duration, onlyUnqueried bool) int {
		var toQuery []*lookupCandidate
		for _, c := range candidates {
			if !c.queried {
				toQuery = append(toQuery, c)
				if !onlyUnqueried && len(toQuery) >= alpha {
					break
				}
			}
		}
		if len(toQuery) == 0 {
			return 0
		}

		done := make(chan struct{}, len(toQuery))
		for _, c := range toQuery {
			c.queried = true
			addr := c.node.Addr
			e.submit(func() {
				e.query(action, addr, "get_peers", GetPeersArg(e.local, target), timeout, func(resp *responseCtx, ok bool) {
					if ok {
						if valuesStr, hasValues := resp.ret.Get("values"); hasValues {
							list, _ := valuesStr.AsList()
							var raw [][]byte
							for _, v := range list {
								b, _ := v.AsBytes()
								raw = append(raw, b)
							}
							for _, p := range ParseCompactPeers(raw) {
								key := p.String()
								if !seenPeers[key] {
									seenPeers[key] = true
									peers = append(peers, p)
									select {
									case e.Peers <- PeerFound{InfoHash: target, Peer: p}:
									default:
									}
								}
							}
						}
						if nodesStr, hasNodes := resp.ret.GetString("nodes"); hasNodes {
							for _, n := range ParseCompactNodes([]byte(nodesStr)) {
								if n.ID == e.local {
									continue
								}
								candidates = append(candidates, &lookupCandidate{node: n})
							}
						}
						dist := ids.XorNode(targetNode, c.node.ID)
						if lessID(dist, bestDist) {
							bestDist = dist
						}
					}
					done <- struct{}{}
				})
			})
		}
		for range toQuery {
			<-done
		}
		sortCandidatesByDistance(candidates, targetNode)
		return len(toQuery)
	}

	prevBest := bestDist
	for {
		queried := round(lookupRoundTimeout, false)
		if queried == 0 {
			break
		}
		if lessID(bestDist, prevBest) {
			prevBest = bestDist
			continue
		}
		round(lookupEndgameTimeout, true)
		break
	}

	e.submit(func() { e.tx.CancelAction(action) })
	e.emit(Event{Kind: EventLookupCompleted, InfoHash: target})
	return peers
}

func lessID(a, b ids.NodeID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sortCandidatesByDistance(candidates []*lookupCandidate, target ids.NodeID) {
	sort.Slice(candidates, func(i, j int) bool {
		di := ids.XorNode(target, candidates[i].node.ID)
		dj := ids.XorNode(target, candidates[j].node.ID)
		return lessID(di, dj)
	})
}

// Refresh sends one find_node per call, for the synthetic target of the
// lowest-index sorted bucket for which ClosestNodes returns any pingable
// node, addressed to that node, keeping the table populated between
// lookups. It does not check whether that bucket is itself empty or
// when it was last queried, and it does nothing while the table has
// only the assorted bucket.
func (e *Engine) Refresh() {
	action := e.tx.NewAction()
	var target ids.NodeID
	var addr *net.UDPAddr
	e.submit(func() {
		for i := 0; i < e.table.NumBuckets()-1; i++ {
			closest := e.table.ClosestNodes(syntheticTarget(e.local, i), 1)
			if len(closest) > 0 {
				target = syntheticTarget(e.local, i)
				addr = closest[0].Addr
				break
			}
		}
	})
	if addr == nil {
		return
	}

	done := make(chan struct{}, 1)
	e.submit(func() {
		e.query(action, addr, "find_node", NodesArg(e.local, target), lookupRoundTimeout, func(resp *responseCtx, ok bool) {
			if ok {
				nodesStr, _ := resp.ret.GetString("nodes")
				for _, n := range ParseCompactNodes([]byte(nodesStr)) {
					e.table.Insert(n)
				}
			}
			done <- struct{}{}
		})
	})
	<-done
	e.submit(func() { e.tx.CancelAction(action) })
}
