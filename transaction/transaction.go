// Package transaction implements the transaction registry shared by
// the DHT and the UDP tracker client (spec.md §2 "Transaction
// registry", §3 "Transaction ID", §5 "Cancellation & timeouts"). A
// transaction ID is a fixed-width integer split into an action id
// (the namespace — one bootstrap, refresh, or lookup) and a message id
// (one outbound query within that action). Responses and timeouts are
// routed by matching the full (action, message) pair, mirroring
// original_source/bip_utracker/src/client/dispatcher.rs and the
// PendingQueries map on other_examples' Taipei-Torrent dht.RemoteNode.
package transaction

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ID is a transaction identifier: the high 16 bits are the action id,
// the low 16 bits are the message id within that action.
type ID uint32

// Action returns the action-id component of a transaction ID.
func (t ID) Action() uint16 { return uint16(t >> 16) }

// Message returns the message-id component of a transaction ID.
func (t ID) Message() uint16 { return uint16(t) }

func (t ID) String() string { return fmt.Sprintf("%04x:%04x", t.Action(), t.Message()) }

func makeID(action, message uint16) ID { return ID(uint32(action)<<16 | uint32(message)) }

// Entry is a pending transaction. Callback is invoked at most once:
// either with a response (ok=true) or on timeout/cancel (ok=false).
type Entry struct {
	ID       ID
	Callback func(response interface{}, ok bool)
	cancel   func()
}

// Cancel releases this entry's slot and scheduled deadline without
// invoking Callback. Safe to call more than once.
func (e *Entry) Cancel() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Registry allocates transaction IDs and dispatches responses/timeouts
// to the registered callback. One Registry instance is owned by a
// single DHT or tracker-client task; it is not safe to share across
// tasks that don't serialize access to it themselves (see spec.md §5,
// "Shared-resource policy").
type Registry struct {
	mu       sync.Mutex
	nextMsg  map[uint16]uint32
	pending  map[ID]*Entry
	nextAct  uint32
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nextMsg: make(map[uint16]uint32),
		pending: make(map[ID]*Entry),
	}
}

// NewAction allocates a fresh action id, the namespace for one
// bootstrap, refresh, or lookup operation.
func (r *Registry) NewAction() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAct++
	action := uint16(r.nextAct)
	return action
}

// Open allocates a new transaction under action and registers a
// callback to receive its eventual response or timeout. armTimeout, if
// non-nil, is called with the ID so the caller can schedule a
// deadline; it should return a cancel function, invoked when the
// transaction is resolved before the deadline.
func (r *Registry) Open(action uint16, armTimeout func(ID) func(), callback func(response interface{}, ok bool)) *Entry {
	r.mu.Lock()
	r.nextMsg[action]++
	msg := uint16(r.nextMsg[action])
	id := makeID(action, msg)
	entry := &Entry{ID: id, Callback: callback}
	r.pending[id] = entry
	r.mu.Unlock()

	if armTimeout != nil {
		timeoutCancel := armTimeout(id)
		entry.cancel = func() {
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
			if timeoutCancel != nil {
				timeoutCancel()
			}
		}
	} else {
		entry.cancel = func() {
			r.mu.Lock()
			delete(r.pending, id)
			r.mu.Unlock()
		}
	}
	return entry
}

// Resolve matches an inbound response against its transaction ID. Late
// responses (ID no longer pending, because it already timed out or was
// cancelled) and duplicate responses (second response to an already
// resolved ID) are both silently dropped, per spec.md §4.3's "Duplicate-
// response and late-response handling".
func (r *Registry) Resolve(id ID, response interface{}) bool {
	r.mu.Lock()
	entry, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.Callback(response, true)
	return true
}

// Timeout fires the synthetic Timeout(transaction) event for id, if it
// is still pending, and frees its slot.
func (r *Registry) Timeout(id ID) {
	r.mu.Lock()
	entry, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	entry.Callback(nil, false)
}

// CancelAction drops every transaction under action and calls each
// entry's cancel function, which clears its scheduled deadline — the
// behavior spec.md §5 requires when an operation (e.g. a lookup) is
// cancelled.
func (r *Registry) CancelAction(action uint16) {
	r.mu.Lock()
	var victims []*Entry
	for id, e := range r.pending {
		if id.Action() == action {
			victims = append(victims, e)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()
	for _, e := range victims {
		if e.cancel != nil {
			e.cancel()
		}
	}
}

// Pending reports how many transactions are currently outstanding,
// useful for tests and metrics.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// RandomUint32 returns the next value of a process-wide counter (1, 2,
// 3, ...), for callers (e.g. the UDP tracker client) that need a
// transaction identifier outside of Registry's own action/message
// scheme. The values are unique within a process but not random.
func RandomUint32() uint32 {
	return uint32(atomic.AddUint64(&seq, 1))
}

var seq uint64
