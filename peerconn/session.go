package peerconn

import (
	"net"
	"sync"
	"time"

	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/mailbox"
	"github.com/sirupsen/logrus"
)

// keepAliveIdle is how long the write half may sit idle before a
// keep-alive is written, per spec.md §4.6.
const keepAliveIdle = 90 * time.Second

// peerIdleLimit is how long we tolerate a peer sending nothing before
// disconnecting it. The read half's deadline is peerIdleLimit, so a
// silent peer is normally dropped after 2 minutes; keepAliveLoop's
// check, run every tickInterval, drops it no later than
// peerIdleLimit + tickInterval (2:30).
const peerIdleLimit = 2 * time.Minute

const tickInterval = 30 * time.Second

// State is the per-peer choke/interest state, initialized to all-choked/uninterested per spec.md §4.6.
type State struct {
	WeChoked       bool
	WeInterested   bool
	TheyChoked     bool
	TheyInterested bool
}

func initialState() State {
	return State{WeChoked: true, TheyChoked: true}
}

// EventKind discriminates the events a Session forwards to the
// selection layer.
type EventKind int

const (
	EventMessage EventKind = iota
	EventDisconnected
)

// Event is one notification a Session emits on its Events channel.
type Event struct {
	Kind    EventKind
	Message Message
	Err     error
}

// Session is one peer's post-handshake connection: a read half
// blocked on length-then-payload, a write half draining a bounded
// outbound queue, and a keep-alive/idle-timeout ticker, matching the
// framing-level state spec.md §4.6 describes.
type Session struct {
	conn      net.Conn
	PeerID    ids.PeerID
	InfoHash  ids.InfoHash
	numPieces int
	log       *logrus.Entry

	mu    sync.Mutex
	state State

	sawHave     bool
	sawBitField bool

	outbound *mailbox.Mailbox
	Events   chan Event

	closed    chan struct{}
	closeOnce sync.Once

	lastWriteMu sync.Mutex
	lastWrite   time.Time
	lastReadMu  sync.Mutex
	lastRead    time.Time
}

// New creates a Session for an already-handshaken connection and
// starts its read, write and keep-alive loops.
func New(conn net.Conn, peerID ids.PeerID, infoHash ids.InfoHash, numPieces, outboundCap int, log *logrus.Entry) *Session {
	now := time.Now()
	s := &Session{
		conn:      conn,
		PeerID:    peerID,
		InfoHash:  infoHash,
		numPieces: numPieces,
		log:       log,
		state:     initialState(),
		outbound:  mailbox.New(outboundCap, 1),
		Events:    make(chan Event, 64),
		closed:    make(chan struct{}),
		lastWrite: now,
		lastRead:  now,
	}
	go s.readLoop()
	go s.writeLoop()
	go s.keepAliveLoop()
	return s
}

// State returns a snapshot of the current choke/interest state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setWeChoked(v bool)       { s.mu.Lock(); s.state.WeChoked = v; s.mu.Unlock() }
func (s *Session) setWeInterested(v bool)   { s.mu.Lock(); s.state.WeInterested = v; s.mu.Unlock() }
func (s *Session) setTheyChoked(v bool)     { s.mu.Lock(); s.state.TheyChoked = v; s.mu.Unlock() }
func (s *Session) setTheyInterested(v bool) { s.mu.Lock(); s.state.TheyInterested = v; s.mu.Unlock() }

// Send enqueues an outbound message, blocking if the outbound queue is
// saturated — the session's backpressure mechanism on its producer.
func (s *Session) Send(msg Message) error {
	switch msg.ID {
	case Choke:
		s.setWeChoked(true)
	case Unchoke:
		s.setWeChoked(false)
	case Interested:
		s.setWeInterested(true)
	case NotInterested:
		s.setWeInterested(false)
	}
	return s.outbound.Send(msg)
}

// SendPriority enqueues an urgent outbound message (e.g. a Cancel)
// ahead of queued normal traffic.
func (s *Session) SendPriority(msg Message) error {
	return s.outbound.SendPriority(msg)
}

// Close tears down the connection and stops all loops. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
		s.outbound.Close()
	})
}

func (s *Session) touchWrite() {
	s.lastWriteMu.Lock()
	s.lastWrite = time.Now()
	s.lastWriteMu.Unlock()
}

func (s *Session) touchRead() {
	s.lastReadMu.Lock()
	s.lastRead = time.Now()
	s.lastReadMu.Unlock()
}

func (s *Session) idleSince(mu *sync.Mutex, t *time.Time) time.Duration {
	mu.Lock()
	defer mu.Unlock()
	return time.Since(*t)
}

func (s *Session) emit(ev Event) {
	select {
	case s.Events <- ev:
	case <-s.closed:
	}
}

func (s *Session) fail(err error) {
	s.emit(Event{Kind: EventDisconnected, Err: err})
	s.Close()
}

func (s *Session) readLoop() {
	for {
		select {
		case <-s.closed:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(peerIdleLimit))
		msg, err := readMessage(s.conn)
		if err != nil {
			s.fail(err)
			return
		}
		s.touchRead()

		if msg.IsKeepAlive {
			continue
		}
		if err := s.validate(msg); err != nil {
			s.fail(err)
			return
		}
		s.applyIncomingState(msg)
		s.emit(Event{Kind: EventMessage, Message: msg})
	}
}

// validate enforces the protocol-violation rules spec.md §4.6 names.
// A piece count of 0 (unknown) rejects every Have, Request and Cancel.
func (s *Session) validate(msg Message) error {
	switch msg.ID {
	case Have:
		index, err := msg.DecodeHave()
		if err != nil {
			return err
		}
		if int(index) >= s.numPieces {
			return newError(ErrPieceIndexOutOfRange, "have")
		}
		s.sawHave = true
	case BitField:
		if s.sawHave {
			return newError(ErrBitFieldAfterHave, "")
		}
		s.sawBitField = true
	case Request, Cancel:
		req, err := msg.DecodeRequest()
		if err != nil {
			return err
		}
		if int(req.Index) >= s.numPieces {
			return newError(ErrPieceIndexOutOfRange, msg.ID.String())
		}
	case Piece:
		p, err := msg.DecodePiece()
		if err != nil {
			return err
		}
		if s.numPieces > 0 && int(p.Index) >= s.numPieces {
			return newError(ErrPieceIndexOutOfRange, "piece")
		}
	case Extended:
		if len(msg.Payload) < 1 {
			return newError(ErrEmptyExtendedPayload, "")
		}
	case Choke, Unchoke, Interested, NotInterested:
	default:
		return newError(ErrUnknownMessageID, msg.ID.String())
	}
	return nil
}

func (s *Session) applyIncomingState(msg Message) {
	switch msg.ID {
	case Choke:
		s.setTheyChoked(true)
	case Unchoke:
		s.setTheyChoked(false)
	case Interested:
		s.setTheyInterested(true)
	case NotInterested:
		s.setTheyInterested(false)
	}
}

func (s *Session) writeLoop() {
	for {
		v, err := s.outbound.Receive()
		if err != nil {
			return
		}
		msg := v.(Message)
		s.conn.SetWriteDeadline(time.Now().Add(peerIdleLimit))
		if _, err := s.conn.Write(msg.encode()); err != nil {
			s.fail(err)
			return
		}
		s.touchWrite()
	}
}

func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if s.idleSince(&s.lastReadMu, &s.lastRead) > peerIdleLimit {
				s.fail(newError(ErrTruncatedRead, "peer idle timeout"))
				return
			}
			if s.idleSince(&s.lastWriteMu, &s.lastWrite) > keepAliveIdle {
				s.outbound.TrySend(KeepAlive)
			}
		}
	}
}
