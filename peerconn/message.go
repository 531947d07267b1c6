// Package peerconn implements the post-handshake peer wire protocol
// and per-peer session state machine of spec.md §4.6, generalized
// from the teacher's torrent/p2p.go (Message, MessageID, SendMessage,
// ReceiveMessage) to the full message table, a read-half/write-half
// split, and keep-alive/timeout handling, following the state shape of
// original_source/bip_peer/src/protocol/tcp/peer.rs.
package peerconn

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ID identifies a wire message type.
type ID uint8

const (
	Choke         ID = 0
	Unchoke       ID = 1
	Interested    ID = 2
	NotInterested ID = 3
	Have          ID = 4
	BitField      ID = 5
	Request       ID = 6
	Piece         ID = 7
	Cancel        ID = 8
	Extended      ID = 20
)

func (id ID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case BitField:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// MaxPayload is the maximum accepted message payload; connections
// whose length prefix exceeds this are protocol violations.
const MaxPayload = 24 * 1024

// Message is one parsed peer-wire message. IsKeepAlive is true for a
// zero-length message, in which case ID/Payload are meaningless.
type Message struct {
	IsKeepAlive bool
	ID          ID
	Payload     []byte
}

// KeepAlive is the canonical zero-length message.
var KeepAlive = Message{IsKeepAlive: true}

// RequestPayload decodes a Request/Cancel payload.
type RequestPayload struct {
	Index, Offset, Length uint32
}

// PiecePayload decodes a Piece payload (the header only; Data aliases
// into the message's original buffer).
type PiecePayload struct {
	Index, Offset uint32
	Data          []byte
}

// EncodeRequest builds a Request message.
func EncodeRequest(index, offset, length uint32) Message {
	return encodeIndexed(Request, index, offset, length)
}

// EncodeCancel builds a Cancel message.
func EncodeCancel(index, offset, length uint32) Message {
	return encodeIndexed(Cancel, index, offset, length)
}

func encodeIndexed(id ID, index, offset, length uint32) Message {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], offset)
	binary.BigEndian.PutUint32(payload[8:12], length)
	return Message{ID: id, Payload: payload}
}

// EncodeHave builds a Have message.
func EncodeHave(index uint32) Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)
	return Message{ID: Have, Payload: payload}
}

// EncodeBitField builds a BitField message.
func EncodeBitField(bits []byte) Message {
	return Message{ID: BitField, Payload: bits}
}

// EncodePiece builds a Piece message.
func EncodePiece(index, offset uint32, data []byte) Message {
	payload := make([]byte, 8+len(data))
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], offset)
	copy(payload[8:], data)
	return Message{ID: Piece, Payload: payload}
}

// EncodeExtended builds an Extended message envelope.
func EncodeExtended(subID uint8, payload []byte) Message {
	buf := make([]byte, 1+len(payload))
	buf[0] = subID
	copy(buf[1:], payload)
	return Message{ID: Extended, Payload: buf}
}

// Simple builds a zero-payload message (Choke/Unchoke/Interested/NotInterested).
func Simple(id ID) Message {
	return Message{ID: id}
}

// DecodeRequest parses a Request/Cancel payload.
func (m Message) DecodeRequest() (RequestPayload, error) {
	if len(m.Payload) != 12 {
		return RequestPayload{}, fmt.Errorf("peerconn: request payload must be 12 bytes, got %d", len(m.Payload))
	}
	return RequestPayload{
		Index:  binary.BigEndian.Uint32(m.Payload[0:4]),
		Offset: binary.BigEndian.Uint32(m.Payload[4:8]),
		Length: binary.BigEndian.Uint32(m.Payload[8:12]),
	}, nil
}

// DecodeHave parses a Have payload.
func (m Message) DecodeHave() (uint32, error) {
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("peerconn: have payload must be 4 bytes, got %d", len(m.Payload))
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// DecodePiece parses a Piece payload.
func (m Message) DecodePiece() (PiecePayload, error) {
	if len(m.Payload) < 8 {
		return PiecePayload{}, fmt.Errorf("peerconn: piece payload must be at least 8 bytes, got %d", len(m.Payload))
	}
	return PiecePayload{
		Index:  binary.BigEndian.Uint32(m.Payload[0:4]),
		Offset: binary.BigEndian.Uint32(m.Payload[4:8]),
		Data:   m.Payload[8:],
	}, nil
}

// DecodeExtended splits an Extended message into its sub-id and payload.
func (m Message) DecodeExtended() (uint8, []byte, error) {
	if len(m.Payload) < 1 {
		return 0, nil, fmt.Errorf("peerconn: extended payload must carry a sub-id")
	}
	return m.Payload[0], m.Payload[1:], nil
}

// encode serializes m to the wire: 4-byte length + optional id + payload.
func (m Message) encode() []byte {
	if m.IsKeepAlive {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+len(m.Payload)+1)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// readMessage reads one framed message from r, enforcing MaxPayload.
func readMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return KeepAlive, nil
	}
	if length > MaxPayload {
		return Message{}, newError(ErrOversizedMessage, fmt.Sprintf("length %d exceeds max %d", length, MaxPayload))
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, newError(ErrTruncatedRead, err.Error())
	}
	return Message{ID: ID(body[0]), Payload: body[1:]}, nil
}
