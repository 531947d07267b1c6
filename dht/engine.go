package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"net"
	"time"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/timer"
	"github.com/lvbealr/torrentd/transaction"
	"github.com/sirupsen/logrus"
)

// EventKind discriminates the events an Engine emits on its Events
// mailbox, per spec.md §4.3's "Event contract".
type EventKind int

const (
	EventBootstrapCompleted EventKind = iota
	EventLookupCompleted
	EventShuttingDown
)

// ShutdownCause explains an EventShuttingDown event.
type ShutdownCause int

const (
	CauseUnspecified ShutdownCause = iota
	CauseBootstrapFailed
)

// Event is one item the Engine delivers on its Events channel.
type Event struct {
	Kind     EventKind
	InfoHash ids.InfoHash
	Cause    ShutdownCause
}

// Engine is the DHT node: it owns the routing table, the UDP socket,
// and every in-flight transaction. All of its state is touched only by
// its own run loop goroutine, per spec.md §5's "Shared-resource
// policy" — Bootstrap/Lookup/Refresh are dispatched to that goroutine
// through the commands channel rather than mutating the table
// directly, mirroring the single-owning-goroutine discipline of
// other_examples' Taipei-Torrent DhtEngine.
type Engine struct {
	local  ids.NodeID
	table  *Table
	conn   *net.UDPConn
	tx     *transaction.Registry
	sched  *timer.Scheduler
	log    *logrus.Entry
	secret []byte

	Events chan Event
	Peers  chan PeerFound

	commands chan func()
	closed   chan struct{}
}

// PeerFound is emitted on Engine.Peers whenever a lookup receives
// compact peer contacts for the info hash being sought.
type PeerFound struct {
	InfoHash ids.InfoHash
	Peer     PeerContact
}

// New creates an Engine bound to conn, using local as this node's own
// id.
func New(local ids.NodeID, conn *net.UDPConn, log *logrus.Entry) *Engine {
	secret := make([]byte, 20)
	_, _ = rand.Read(secret)
	return &Engine{
		local:    local,
		table:    NewTable(local),
		conn:     conn,
		tx:       transaction.New(),
		sched:    timer.New(),
		log:      log,
		secret:   secret,
		Events:   make(chan Event, 8),
		Peers:    make(chan PeerFound, 64),
		commands: make(chan func(), 64),
		closed:   make(chan struct{}),
	}
}

// Run is the Engine's owning goroutine: it reads datagrams, decodes
// them, and drains the commands channel until Close is called. It
// blocks and should be run in its own goroutine by the caller.
func (e *Engine) Run() {
	packets := make(chan udpPacket, 64)
	go e.readLoop(packets)

	for {
		select {
		case pkt := <-packets:
			e.handlePacket(pkt.addr, pkt.data)
		case cmd := <-e.commands:
			cmd()
		case <-e.closed:
			e.sched.CancelAll()
			return
		}
	}
}

// Close stops the Engine's run loop.
func (e *Engine) Close() {
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
}

// submit runs fn on the owning goroutine and blocks until it returns.
func (e *Engine) submit(fn func()) {
	done := make(chan struct{})
	e.commands <- func() {
		fn()
		close(done)
	}
	<-done
}

type udpPacket struct {
	addr *net.UDPAddr
	data []byte
}

func (e *Engine) readLoop(out chan<- udpPacket) {
	buf := make([]byte, 4096)
	for {
		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- udpPacket{addr: addr, data: cp}:
		case <-e.closed:
			return
		}
	}
}

func (e *Engine) handlePacket(addr *net.UDPAddr, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).WithField("addr", addr).Debug("dropping malformed krpc datagram")
		}
		return
	}
	switch m := msg.(type) {
	case *Query:
		e.handleQuery(addr, m)
	case *Response:
		e.handleResponse(addr, m)
	case *ErrorMsg:
		e.handleError(m)
	}
}

func (e *Engine) handleQuery(addr *net.UDPAddr, q *Query) {
	idStr, _ := q.Args.GetString("id")
	var remoteID ids.NodeID
	copy(remoteID[:], idStr)
	e.table.Insert(NewNode(remoteID, addr))

	switch q.Method {
	case "ping":
		e.reply(addr, q.TxID, PingArg(e.local))
	case "find_node":
		targetStr, _ := q.Args.GetString("target")
		var target ids.NodeID
		copy(target[:], targetStr)
		nodes := e.table.ClosestNodes(target, BucketSize)
		e.reply(addr, q.TxID, nodesResponse(e.local, nodes))
	case "get_peers":
		ihStr, _ := q.Args.GetString("info_hash")
		var ih ids.NodeID
		copy(ih[:], ihStr)
		token := e.tokenFor(addr)
		ret := bencode.NewDict([]bencode.DictEntry{
			{Key: []byte("id"), Value: bencode.NewBytes(e.local[:])},
			{Key: []byte("token"), Value: bencode.NewBytes(token)},
			{Key: []byte("nodes"), Value: compactNodesValue(e.table.ClosestNodes(ih, BucketSize))},
		})
		e.replyValue(addr, q.TxID, ret)
	case "announce_peer":
		token, _ := q.Args.GetString("token")
		if token == string(e.tokenFor(addr)) {
			e.reply(addr, q.TxID, PingArg(e.local))
		} else {
			e.sendError(addr, q.TxID, ErrProtocol, "bad token")
		}
	default:
		e.sendError(addr, q.TxID, ErrMethodUnknown, "unknown method")
	}
}

func (e *Engine) tokenFor(addr *net.UDPAddr) []byte {
	h := sha1.New()
	h.Write(e.secret)
	h.Write([]byte(addr.String()))
	return h.Sum(nil)[:8]
}

func (e *Engine) reply(addr *net.UDPAddr, txID []byte, args bencode.Value) {
	e.replyValue(addr, txID, args)
}

func (e *Engine) replyValue(addr *net.UDPAddr, txID []byte, ret bencode.Value) {
	_, _ = e.conn.WriteToUDP(EncodeResponse(txID, ret), addr)
}

func (e *Engine) sendError(addr *net.UDPAddr, txID []byte, code int64, msg string) {
	_, _ = e.conn.WriteToUDP(EncodeError(txID, code, msg), addr)
}

func (e *Engine) handleResponse(addr *net.UDPAddr, r *Response) {
	id, ok := txIDFromBytes(r.TxID)
	if !ok {
		return
	}
	idStr, _ := r.Ret.GetString("id")
	if len(idStr) == ids.Size {
		var remoteID ids.NodeID
		copy(remoteID[:], idStr)
		if n := e.table.Find(remoteID); n != nil {
			n.MarkResponded()
		} else {
			n := NewNode(remoteID, addr)
			e.table.Insert(n)
		}
	}
	e.tx.Resolve(id, responseCtx{addr: addr, ret: r.Ret})
}

func (e *Engine) handleError(m *ErrorMsg) {
	id, ok := txIDFromBytes(m.TxID)
	if !ok {
		return
	}
	e.tx.Timeout(id)
}

type responseCtx struct {
	addr *net.UDPAddr
	ret  bencode.Value
}

func txIDToBytes(id transaction.ID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return b
}

func txIDFromBytes(b []byte) (transaction.ID, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return transaction.ID(binary.BigEndian.Uint32(b)), true
}

func nodesResponse(local ids.NodeID, nodes []*Node) bencode.Value {
	buf := make([]byte, 0, len(nodes)*26)
	for _, n := range nodes {
		buf = append(buf, n.CompactNodeInfo()...)
	}
	return bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.NewBytes(local[:])},
		{Key: []byte("nodes"), Value: bencode.NewBytes(buf)},
	})
}

func compactNodesValue(nodes []*Node) bencode.Value {
	buf := make([]byte, 0, len(nodes)*26)
	for _, n := range nodes {
		buf = append(buf, n.CompactNodeInfo()...)
	}
	return bencode.NewBytes(buf)
}

// query sends a KRPC query to addr under the given action, registering
// a timeout and dispatching the eventual response/timeout to callback.
// callback runs on the Engine's owning goroutine.
func (e *Engine) query(action uint16, addr *net.UDPAddr, method string, args bencode.Value, timeout time.Duration, callback func(resp *responseCtx, ok bool)) transaction.ID {
	entry := e.tx.Open(action, func(id transaction.ID) func() {
		tok := e.sched.After(timeout, func() {
			e.submit(func() { e.tx.Timeout(id) })
		})
		return func() { e.sched.Cancel(tok) }
	}, func(response interface{}, ok bool) {
		if !ok {
			callback(nil, false)
			return
		}
		rc := response.(responseCtx)
		callback(&rc, true)
	})
	payload := EncodeQuery(txIDToBytes(entry.ID), method, args)
	_, _ = e.conn.WriteToUDP(payload, addr)
	return entry.ID
}
