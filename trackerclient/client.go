package trackerclient

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/lvbealr/torrentd/transaction"
	"github.com/sirupsen/logrus"
)

const (
	protocolMagic = 0x41727101980
	maxDatagram   = 1400
)

// Client is a UDP tracker client for one tracker address. Each Client
// caches its own connection-id, refreshing it on expiry, per spec.md
// §4.4.
type Client struct {
	addr *net.UDPAddr
	log  *logrus.Entry

	connID     uint64
	connIDSet  time.Time
	haveConnID bool
}

// New creates a Client for the tracker at addr.
func New(addr *net.UDPAddr, log *logrus.Entry) *Client {
	return &Client{addr: addr, log: log}
}

// retransmitWait returns the wait before attempt n, per spec.md's
// 15·2ⁿ ladder.
func retransmitWait(attempt int) time.Duration {
	return time.Duration(15<<uint(attempt)) * time.Second
}

// roundTrip sends payload to the tracker over conn and retries per the
// retransmit ladder until a response of at least minLen bytes arrives
// or the ladder (9 attempts, n=0..8) is exhausted.
func roundTrip(conn *net.UDPConn, payload []byte, minLen int) ([]byte, error) {
	if len(payload) > maxDatagram {
		return nil, newError(ErrMaxLength, "request exceeds datagram buffer")
	}
	buf := make([]byte, 2048)
	for attempt := 0; attempt <= 8; attempt++ {
		if err := conn.SetDeadline(time.Now().Add(retransmitWait(attempt))); err != nil {
			return nil, err
		}
		if _, err := conn.Write(payload); err != nil {
			continue
		}
		n, err := conn.Read(buf)
		if err != nil {
			continue
		}
		if n < minLen {
			continue
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, nil
	}
	return nil, newError(ErrMaxTimeout, "")
}

func (c *Client) dial() (*net.UDPConn, error) {
	if c.addr.IP.To4() == nil {
		return nil, newError(ErrIPVersionMismatch, "IPv6 trackers are not supported")
	}
	conn, err := net.DialUDP("udp4", nil, c.addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect obtains (or reuses, if still within its 60-second lifetime)
// a connection-id from the tracker.
func (c *Client) Connect(conn *net.UDPConn) (uint64, error) {
	if c.haveConnID && time.Since(c.connIDSet) < connectionLifetime*time.Second {
		return c.connID, nil
	}

	txID := transaction.RandomUint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], protocolMagic)
	binary.BigEndian.PutUint32(req[8:12], uint32(ActionConnect))
	binary.BigEndian.PutUint32(req[12:16], txID)

	if c.log != nil {
		c.log.WithField("addr", c.addr).Debug("sending connect")
	}
	resp, err := roundTrip(conn, req, 16)
	if err != nil {
		return 0, err
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	if Action(action) != ActionConnect {
		return 0, newError(ErrServerError, "unexpected action in connect response")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return 0, newError(ErrServerError, "transaction id mismatch")
	}

	c.connID = binary.BigEndian.Uint64(resp[8:16])
	c.connIDSet = time.Now()
	c.haveConnID = true
	return c.connID, nil
}

// Announce performs a connect (if needed) followed by an announce
// request, returning the parsed peer list.
func (c *Client) Announce(req AnnounceRequest) (*AnnounceResponse, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := c.Connect(conn)
	if err != nil {
		return nil, err
	}

	txID := transaction.RandomUint32()
	payload := make([]byte, 98)
	binary.BigEndian.PutUint64(payload[0:8], connID)
	binary.BigEndian.PutUint32(payload[8:12], uint32(ActionAnnounce))
	binary.BigEndian.PutUint32(payload[12:16], txID)
	copy(payload[16:36], req.InfoHash[:])
	copy(payload[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(payload[56:64], req.Downloaded)
	binary.BigEndian.PutUint64(payload[64:72], req.Left)
	binary.BigEndian.PutUint64(payload[72:80], req.Uploaded)
	binary.BigEndian.PutUint32(payload[80:84], uint32(req.Event))
	binary.BigEndian.PutUint32(payload[84:88], req.IP)
	binary.BigEndian.PutUint32(payload[88:92], req.Key)
	binary.BigEndian.PutUint32(payload[92:96], uint32(req.NumWant))
	binary.BigEndian.PutUint16(payload[96:98], req.Port)

	resp, err := roundTrip(conn, payload, 20)
	if err != nil {
		return nil, err
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if Action(action) == ActionError {
		return nil, newError(ErrServerMessage, string(resp[8:]))
	}
	if Action(action) != ActionAnnounce {
		return nil, newError(ErrServerError, "unexpected action in announce response")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return nil, newError(ErrServerError, "transaction id mismatch")
	}

	out := &AnnounceResponse{
		Interval: int(binary.BigEndian.Uint32(resp[8:12])),
		Leechers: binary.BigEndian.Uint32(resp[12:16]),
		Seeders:  binary.BigEndian.Uint32(resp[16:20]),
	}
	peers := resp[20:]
	for i := 0; i+6 <= len(peers); i += 6 {
		ip := net.IPv4(peers[i], peers[i+1], peers[i+2], peers[i+3])
		port := int(binary.BigEndian.Uint16(peers[i+4 : i+6]))
		out.Peers = append(out.Peers, net.TCPAddr{IP: ip, Port: port})
	}
	return out, nil
}

// Scrape queries seeder/completed/leecher counts for one or more info
// hashes, grounded on bip_utracker/src/scrape.rs's request/response
// shape.
func (c *Client) Scrape(infoHashes [][20]byte) ([]ScrapeResult, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := c.Connect(conn)
	if err != nil {
		return nil, err
	}

	txID := transaction.RandomUint32()
	payload := make([]byte, 16+20*len(infoHashes))
	binary.BigEndian.PutUint64(payload[0:8], connID)
	binary.BigEndian.PutUint32(payload[8:12], uint32(ActionScrape))
	binary.BigEndian.PutUint32(payload[12:16], txID)
	for i, ih := range infoHashes {
		copy(payload[16+i*20:16+(i+1)*20], ih[:])
	}

	resp, err := roundTrip(conn, payload, 8+12*len(infoHashes))
	if err != nil {
		return nil, err
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if Action(action) == ActionError {
		return nil, newError(ErrServerMessage, string(resp[8:]))
	}
	if Action(action) != ActionScrape {
		return nil, newError(ErrServerError, "unexpected action in scrape response")
	}
	if binary.BigEndian.Uint32(resp[4:8]) != txID {
		return nil, newError(ErrServerError, "transaction id mismatch")
	}

	results := make([]ScrapeResult, 0, len(infoHashes))
	body := resp[8:]
	for i := 0; i+12 <= len(body); i += 12 {
		results = append(results, ScrapeResult{
			Seeders:   binary.BigEndian.Uint32(body[i : i+4]),
			Completed: binary.BigEndian.Uint32(body[i+4 : i+8]),
			Leechers:  binary.BigEndian.Uint32(body[i+8 : i+12]),
		})
	}
	return results, nil
}
