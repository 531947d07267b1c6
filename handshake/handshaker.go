package handshake

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/mailbox"
	"github.com/sirupsen/logrus"
)

// Session is a completed handshake, ready for the caller to hand off
// to a peer session (peerconn).
type Session struct {
	Conn       net.Conn
	InfoHash   ids.InfoHash
	PeerID     ids.PeerID
	Extensions bool
}

// initiation is one pending outbound handshake request.
type initiation struct {
	addr           string
	infoHash       ids.InfoHash
	expectedPeerID *ids.PeerID
	extensions     bool
}

// result pairs a completed (or failed) handshake with its originating
// address, so a consumer waiting on Next can tell what happened.
type result struct {
	session *Session
	addr    string
	err     error
}

// Handshaker runs the initiator and responder flows of spec.md §4.5
// behind two bounded mailboxes: wait (pending initiations) and done
// (completed sessions awaiting consumption). Both default to small
// capacities so a slow consumer throttles how many handshakes are
// started, the system's primary admission-control knob.
type Handshaker struct {
	local       ids.PeerID
	readTimeout time.Duration
	log         *logrus.Entry

	mu       sync.RWMutex
	accepted map[ids.InfoHash]struct{}

	wait *mailbox.Mailbox
	done *mailbox.Mailbox

	workers int
	closed  chan struct{}
}

// New creates a Handshaker. waitCap/doneCap are the bounded-buffer
// sizes spec.md §4.5 calls out (0-1 in production); workers is the
// number of concurrent dials drained from the wait buffer.
func New(local ids.PeerID, waitCap, doneCap, workers int, readTimeout time.Duration, log *logrus.Entry) *Handshaker {
	if workers < 1 {
		workers = 1
	}
	h := &Handshaker{
		local:       local,
		readTimeout: readTimeout,
		log:         log,
		accepted:    make(map[ids.InfoHash]struct{}),
		wait:        mailbox.New(waitCap, 0),
		done:        mailbox.New(doneCap, 0),
		workers:     workers,
		closed:      make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go h.initiatorLoop()
	}
	return h
}

// Register marks infoHash as one this client will respond to in
// Accept and will dial out for in Initiate.
func (h *Handshaker) Register(infoHash ids.InfoHash) {
	h.mu.Lock()
	h.accepted[infoHash] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes infoHash from the accepted set.
func (h *Handshaker) Unregister(infoHash ids.InfoHash) {
	h.mu.Lock()
	delete(h.accepted, infoHash)
	h.mu.Unlock()
}

func (h *Handshaker) isRegistered(infoHash ids.InfoHash) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.accepted[infoHash]
	return ok
}

// Close stops accepting new initiations and releases the mailboxes.
func (h *Handshaker) Close() {
	select {
	case <-h.closed:
		return
	default:
		close(h.closed)
	}
	h.wait.Close()
	h.done.Close()
}

// Initiate enqueues an outbound handshake request, blocking if the
// wait buffer is saturated. The actual dial happens on a worker
// goroutine; the result (success or failure) is delivered via Next.
func (h *Handshaker) Initiate(addr string, infoHash ids.InfoHash, expectedPeerID *ids.PeerID, extensions bool) error {
	return h.wait.Send(initiation{
		addr:           addr,
		infoHash:       infoHash,
		expectedPeerID: expectedPeerID,
		extensions:     extensions,
	})
}

// Next blocks until a completed (or failed) handshake is available.
func (h *Handshaker) Next() (*Session, string, error) {
	v, err := h.done.Receive()
	if err != nil {
		return nil, "", err
	}
	r := v.(result)
	return r.session, r.addr, r.err
}

func (h *Handshaker) initiatorLoop() {
	for {
		v, err := h.wait.Receive()
		if err != nil {
			return
		}
		in := v.(initiation)
		sess, err := h.dial(in)
		if h.log != nil {
			entry := h.log.WithField("addr", in.addr)
			if err != nil {
				entry.WithError(err).Debug("handshake failed")
			} else {
				entry.Info("handshake completed")
			}
		}
		if sendErr := h.done.Send(result{session: sess, addr: in.addr, err: err}); sendErr != nil {
			return
		}
	}
}

// dial performs the initiator flow: open TCP, write our payload, read
// the peer's payload, verify protocol/info-hash/peer-id.
func (h *Handshaker) dial(in initiation) (*Session, error) {
	conn, err := net.DialTimeout("tcp", in.addr, h.readTimeout)
	if err != nil {
		return nil, fmt.Errorf("handshake: dialing %s: %w", in.addr, err)
	}

	msg := newMessage(in.infoHash, h.local, in.extensions)
	if err := setReadDeadline(conn, h.readTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(msg.encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: writing to %s: %w", in.addr, err)
	}

	peer, err := h.readFull(conn, in.addr)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if peer.Protocol != DefaultProtocol {
		conn.Close()
		return nil, newError(ErrProtocolMismatch, in.addr)
	}
	if peer.InfoHash != in.infoHash || !h.isRegistered(peer.InfoHash) {
		conn.Close()
		return nil, newError(ErrUnregisteredInfoHash, in.addr)
	}
	if in.expectedPeerID != nil && peer.PeerID != *in.expectedPeerID {
		conn.Close()
		return nil, newError(ErrPeerIDMismatch, in.addr)
	}

	return &Session{Conn: conn, InfoHash: peer.InfoHash, PeerID: peer.PeerID, Extensions: peer.HasExtension()}, nil
}

// readFull reads the complete 68-byte handshake message from conn.
func (h *Handshaker) readFull(conn net.Conn, addr string) (Message, error) {
	head, err := readExact(conn, headLen(len(DefaultProtocol)), h.readTimeout)
	if err != nil {
		return Message{}, newError(ErrTimeout, addr)
	}
	protocol, reserved, infoHash, err := decodeHead(head)
	if err != nil {
		return Message{}, err
	}
	peerIDBytes, err := readExact(conn, ids.Size, h.readTimeout)
	if err != nil {
		return Message{}, newError(ErrTimeout, addr)
	}
	var peerID ids.PeerID
	copy(peerID[:], peerIDBytes)
	return Message{Protocol: protocol, Reserved: reserved, InfoHash: infoHash, PeerID: peerID}, nil
}

// Accept runs the responder flow on an already-accepted TCP
// connection: read the head, check the info-hash is registered,
// reply, then read the trailing peer-id.
func (h *Handshaker) Accept(conn net.Conn, extensions bool) (*Session, error) {
	addr := conn.RemoteAddr().String()

	head, err := readExact(conn, headLen(len(DefaultProtocol)), h.readTimeout)
	if err != nil {
		conn.Close()
		return nil, newError(ErrTimeout, addr)
	}
	protocol, reserved, infoHash, err := decodeHead(head)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if protocol != DefaultProtocol {
		conn.Close()
		return nil, newError(ErrProtocolMismatch, addr)
	}
	if !h.isRegistered(infoHash) {
		conn.Close()
		return nil, newError(ErrUnregisteredInfoHash, addr)
	}

	reply := newMessage(infoHash, h.local, extensions)
	if err := setReadDeadline(conn, h.readTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Write(reply.encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: writing reply to %s: %w", addr, err)
	}

	peerIDBytes, err := readExact(conn, ids.Size, h.readTimeout)
	if err != nil {
		conn.Close()
		return nil, newError(ErrTimeout, addr)
	}
	var peerID ids.PeerID
	copy(peerID[:], peerIDBytes)

	var theirReserved [8]byte
	copy(theirReserved[:], reserved[:])
	peerMsg := Message{Reserved: theirReserved}

	return &Session{Conn: conn, InfoHash: infoHash, PeerID: peerID, Extensions: peerMsg.HasExtension()}, nil
}
