// Package handshake implements the fixed-framing peer handshake of
// spec.md §4.5, generalized from the teacher's torrent/p2p.go
// (Handshake struct, PerformHandshake) to carry typed ids.InfoHash /
// ids.PeerID and to run both the initiator and responder sides behind
// bounded mailboxes instead of a raw sync.WaitGroup fan-out.
package handshake

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lvbealr/torrentd/ids"
)

// DefaultProtocol is the ASCII protocol string every peer advertises.
const DefaultProtocol = "BitTorrent protocol"

// ExtensionBit is the reserved-byte bit (of reserved[5], the
// convention the real BitTorrent extension protocol uses) that
// signals "extension protocol supported".
const ExtensionBit = byte(1 << 4)

// ProductionReadTimeout and TestReadTimeout are the two read deadlines
// spec.md §4.5 names; callers in test code should pass TestReadTimeout
// to New instead of the production default.
const (
	ProductionReadTimeout = 3 * time.Second
	TestReadTimeout       = 100 * time.Millisecond
)

// Message is the 68-byte wire handshake: 1-byte protocol length,
// protocol bytes, 8 reserved bytes, info hash, peer id.
type Message struct {
	Protocol string
	Reserved [8]byte
	InfoHash ids.InfoHash
	PeerID   ids.PeerID
}

// HasExtension reports whether the extension bit is set in Reserved.
func (m Message) HasExtension() bool {
	return m.Reserved[5]&ExtensionBit != 0
}

func newMessage(infoHash ids.InfoHash, peerID ids.PeerID, extensions bool) Message {
	m := Message{Protocol: DefaultProtocol, InfoHash: infoHash, PeerID: peerID}
	if extensions {
		m.Reserved[5] |= ExtensionBit
	}
	return m
}

// encode serializes m to the wire format.
func (m Message) encode() []byte {
	buf := make([]byte, 1+len(m.Protocol)+8+ids.Size+ids.Size)
	buf[0] = byte(len(m.Protocol))
	off := 1
	off += copy(buf[off:], m.Protocol)
	off += copy(buf[off:], m.Reserved[:])
	off += copy(buf[off:], m.InfoHash.Bytes())
	copy(buf[off:], m.PeerID.Bytes())
	return buf
}

// headLen is the number of bytes read before the peer-id in the
// responder flow: 1 + len(protocol) + 8 + 20.
func headLen(protocolLen int) int {
	return 1 + protocolLen + 8 + ids.Size
}

func setReadDeadline(conn net.Conn, d time.Duration) error {
	return conn.SetReadDeadline(time.Now().Add(d))
}

func readExact(conn net.Conn, n int, timeout time.Duration) ([]byte, error) {
	if err := setReadDeadline(conn, timeout); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("handshake: reading %d bytes: %w", n, err)
	}
	return buf, nil
}

// decodeHead parses the protocol-length/protocol/reserved/info-hash
// prefix, leaving the caller to read the trailing peer-id separately.
func decodeHead(head []byte) (protocol string, reserved [8]byte, infoHash ids.InfoHash, err error) {
	protoLen := int(head[0])
	if len(head) < 1+protoLen+8+ids.Size {
		err = fmt.Errorf("handshake: truncated head")
		return
	}
	protocol = string(head[1 : 1+protoLen])
	copy(reserved[:], head[1+protoLen:1+protoLen+8])
	copy(infoHash[:], head[1+protoLen+8:1+protoLen+8+ids.Size])
	return
}
