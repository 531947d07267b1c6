package extension

import (
	"crypto/sha1"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/timer"
)

// PieceSize is the fixed UtMetadata block size spec.md §4.6 names.
const PieceSize = 16 * 1024

// RequestTimeout is how long an in-flight request waits before being requeued.
const RequestTimeout = 2 * time.Second

// MaxInFlight bounds concurrent outstanding requests across all peers.
const MaxInFlight = 100

// MaxPeerRequests is the per-session limit on accepted incoming
// requests. Nothing in this module applies it: Requester only sends
// requests, and incoming requests are answered without a count.
const MaxPeerRequests = 100

// MessageKind discriminates the three UtMetadata message variants.
type MessageKind int

const (
	MsgRequest MessageKind = iota
	MsgData
	MsgReject
)

// WireMessage is one UtMetadata sub-protocol message.
type WireMessage struct {
	Kind  MessageKind
	Piece int64
	Total int64
	Bytes []byte
}

// EncodeMessage serializes msg to the bencoded-dict-plus-trailer
// format UtMetadata uses: a dict header followed, for Data, by the
// raw piece bytes appended after the dict.
func EncodeMessage(msg WireMessage) []byte {
	entries := []bencode.DictEntry{
		{Key: []byte("msg_type"), Value: bencode.NewInt(int64(msg.Kind))},
		{Key: []byte("piece"), Value: bencode.NewInt(msg.Piece)},
	}
	if msg.Kind == MsgData {
		entries = append(entries, bencode.DictEntry{Key: []byte("total_size"), Value: bencode.NewInt(msg.Total)})
	}
	header := bencode.Encode(bencode.NewDict(entries))
	if msg.Kind != MsgData {
		return header
	}
	out := make([]byte, len(header)+len(msg.Bytes))
	copy(out, header)
	copy(out[len(header):], msg.Bytes)
	return out
}

// DecodeMessage parses a UtMetadata wire payload.
func DecodeMessage(payload []byte) (WireMessage, error) {
	v, n, err := bencode.Decode(payload)
	if err != nil {
		return WireMessage{}, fmt.Errorf("extension: decoding ut_metadata message: %w", err)
	}
	kind, ok := v.GetInt("msg_type")
	if !ok {
		return WireMessage{}, fmt.Errorf("extension: ut_metadata message missing msg_type")
	}
	piece, _ := v.GetInt("piece")
	msg := WireMessage{Kind: MessageKind(kind), Piece: piece}
	if msg.Kind == MsgData {
		total, _ := v.GetInt("total_size")
		msg.Total = total
		msg.Bytes = payload[n:]
	}
	return msg, nil
}

type pendingPiece struct {
	index    int64
	inFlight bool
}

type inFlightRequest struct {
	piece  int64
	peer   ids.PeerID
	tok    timer.Token
	armed  time.Time
}

// SendFunc delivers an encoded UtMetadata message to a specific peer.
type SendFunc func(peer ids.PeerID, payload []byte) error

// Requester drives the UtMetadata fetch algorithm of spec.md §4.6:
// it tracks pending pieces, in-flight requests and active peers, and
// reassembles the info dictionary, verifying it against an expected
// info hash once complete.
type Requester struct {
	infoHash     ids.InfoHash
	numPieces    int64
	metadataSize int64
	send         SendFunc
	sched        *timer.Scheduler

	mu          sync.Mutex
	buffer      []byte
	pending     map[int64]*pendingPiece
	inFlight    map[int64]*inFlightRequest
	activePeers map[ids.PeerID]struct{}

	Done chan Result
}

// Result is delivered on Requester.Done once the metadata is fully
// fetched and verified. Requester never abandons a fetch (a hash
// mismatch resets and refetches), so it never sets Err.
type Result struct {
	Bytes []byte
	Err   error
}

// NewRequester creates a Requester for a torrent whose info dictionary
// is metadataSize bytes, verified against infoHash on completion.
func NewRequester(infoHash ids.InfoHash, metadataSize int64, send SendFunc, sched *timer.Scheduler) *Requester {
	numPieces := (metadataSize + PieceSize - 1) / PieceSize
	r := &Requester{
		infoHash:     infoHash,
		numPieces:    numPieces,
		metadataSize: metadataSize,
		send:         send,
		sched:        sched,
		buffer:       make([]byte, metadataSize),
		pending:      make(map[int64]*pendingPiece),
		inFlight:     make(map[int64]*inFlightRequest),
		activePeers:  make(map[ids.PeerID]struct{}),
		Done:         make(chan Result, 1),
	}
	for i := int64(0); i < numPieces; i++ {
		r.pending[i] = &pendingPiece{index: i}
	}
	return r
}

// AddPeer registers a peer as eligible to serve requests.
func (r *Requester) AddPeer(peer ids.PeerID) {
	r.mu.Lock()
	r.activePeers[peer] = struct{}{}
	r.mu.Unlock()
	r.pump()
}

// RemovePeer drops a peer from the eligible set; any request in
// flight to it is requeued.
func (r *Requester) RemovePeer(peer ids.PeerID) {
	r.mu.Lock()
	delete(r.activePeers, peer)
	for piece, req := range r.inFlight {
		if req.peer == peer {
			r.sched.Cancel(req.tok)
			delete(r.inFlight, piece)
			r.pending[piece] = &pendingPiece{index: piece}
		}
	}
	r.mu.Unlock()
	r.pump()
}

func (r *Requester) randomPeer() (ids.PeerID, bool) {
	if len(r.activePeers) == 0 {
		return ids.PeerID{}, false
	}
	idx := rand.Intn(len(r.activePeers))
	i := 0
	for p := range r.activePeers {
		if i == idx {
			return p, true
		}
		i++
	}
	return ids.PeerID{}, false
}

// pump sends requests for missing pieces, up to MaxInFlight globally,
// one randomly-chosen active peer per request.
func (r *Requester) pump() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for piece := range r.pending {
		if len(r.inFlight) >= MaxInFlight {
			return
		}
		peer, ok := r.randomPeer()
		if !ok {
			return
		}
		delete(r.pending, piece)
		req := &inFlightRequest{piece: piece, peer: peer, armed: time.Now()}
		req.tok = r.sched.After(RequestTimeout, func() { r.onTimeout(piece) })
		r.inFlight[piece] = req
		go r.send(peer, EncodeMessage(WireMessage{Kind: MsgRequest, Piece: piece}))
	}
}

func (r *Requester) onTimeout(piece int64) {
	r.mu.Lock()
	if _, ok := r.inFlight[piece]; ok {
		delete(r.inFlight, piece)
		r.pending[piece] = &pendingPiece{index: piece}
	}
	r.mu.Unlock()
	r.pump()
}

// HandleData processes an incoming Data message.
func (r *Requester) HandleData(from ids.PeerID, msg WireMessage) {
	r.mu.Lock()
	req, ok := r.inFlight[msg.Piece]
	if !ok || req.peer != from {
		r.mu.Unlock()
		return
	}
	r.sched.Cancel(req.tok)
	delete(r.inFlight, msg.Piece)

	offset := msg.Piece * PieceSize
	end := offset + int64(len(msg.Bytes))
	if end > int64(len(r.buffer)) {
		end = int64(len(r.buffer))
	}
	copy(r.buffer[offset:end], msg.Bytes)
	complete := len(r.pending) == 0 && len(r.inFlight) == 0
	r.mu.Unlock()

	if complete {
		r.finish()
		return
	}
	r.pump()
}

// HandleReject requeues the piece when a peer declines our request.
func (r *Requester) HandleReject(from ids.PeerID, msg WireMessage) {
	r.mu.Lock()
	if req, ok := r.inFlight[msg.Piece]; ok && req.peer == from {
		r.sched.Cancel(req.tok)
		delete(r.inFlight, msg.Piece)
		r.pending[msg.Piece] = &pendingPiece{index: msg.Piece}
	}
	r.mu.Unlock()
	r.pump()
}

func (r *Requester) finish() {
	r.mu.Lock()
	buf := make([]byte, len(r.buffer))
	copy(buf, r.buffer)
	r.mu.Unlock()

	sum := sha1.Sum(buf)
	if ids.InfoHash(sum) != r.infoHash {
		// A mismatch is retried, not reported: Done is single-buffered
		// and must stay empty for the eventual successful completion.
		r.reset()
		return
	}
	select {
	case r.Done <- Result{Bytes: buf}:
	default:
	}
}

// reset puts every piece back into the pending set and retries, used
// when the reassembled buffer fails its hash check.
func (r *Requester) reset() {
	r.mu.Lock()
	for i := int64(0); i < r.numPieces; i++ {
		r.pending[i] = &pendingPiece{index: i}
	}
	r.mu.Unlock()
	r.pump()
}
