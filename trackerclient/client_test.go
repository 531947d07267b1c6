package trackerclient

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTracker answers connect requests until it has answered one
// announce (or, with handleScrape, one scrape) request, then stops;
// enough to exercise Client.Announce and Client.Scrape end to end.
func fakeTracker(t *testing.T, handleScrape bool) *net.UDPAddr {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)

	go func() {
		defer conn.Close()
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := make([]byte, n)
			copy(req, buf[:n])
			action := binary.BigEndian.Uint32(req[8:12])
			txID := req[12:16]

			switch Action(action) {
			case ActionConnect:
				resp := make([]byte, 16)
				binary.BigEndian.PutUint32(resp[0:4], uint32(ActionConnect))
				copy(resp[4:8], txID)
				binary.BigEndian.PutUint64(resp[8:16], 0xfeedface)
				conn.WriteToUDP(resp, addr)
			case ActionAnnounce:
				resp := make([]byte, 26)
				binary.BigEndian.PutUint32(resp[0:4], uint32(ActionAnnounce))
				copy(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 1800)
				binary.BigEndian.PutUint32(resp[12:16], 2)
				binary.BigEndian.PutUint32(resp[16:20], 5)
				copy(resp[20:24], net.IPv4(10, 0, 0, 1).To4())
				binary.BigEndian.PutUint16(resp[24:26], 6881)
				conn.WriteToUDP(resp, addr)
				return
			case ActionScrape:
				if !handleScrape {
					return
				}
				resp := make([]byte, 20)
				binary.BigEndian.PutUint32(resp[0:4], uint32(ActionScrape))
				copy(resp[4:8], txID)
				binary.BigEndian.PutUint32(resp[8:12], 7)
				binary.BigEndian.PutUint32(resp[12:16], 3)
				binary.BigEndian.PutUint32(resp[16:20], 1)
				conn.WriteToUDP(resp, addr)
				return
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr)
}

func TestAnnounceHappyPath(t *testing.T) {
	addr := fakeTracker(t, false)
	c := New(addr, nil)

	resp, err := c.Announce(AnnounceRequest{Event: EventStarted, NumWant: -1, Port: 6881})
	require.NoError(t, err)
	require.Equal(t, 1800, resp.Interval)
	require.Equal(t, uint32(2), resp.Leechers)
	require.Equal(t, uint32(5), resp.Seeders)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, 6881, resp.Peers[0].Port)
}

func TestScrapeHappyPath(t *testing.T) {
	addr := fakeTracker(t, true)
	c := New(addr, nil)

	results, err := c.Scrape([][20]byte{{1, 2, 3}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint32(7), results[0].Seeders)
	require.Equal(t, uint32(3), results[0].Completed)
	require.Equal(t, uint32(1), results[0].Leechers)
}

func TestConnectReusesConnectionIDWithinLifetime(t *testing.T) {
	addr := fakeTracker(t, false)
	c := New(addr, nil)
	c.connID = 0xaa
	c.connIDSet = time.Now()
	c.haveConnID = true

	conn, err := c.dial()
	require.NoError(t, err)
	defer conn.Close()

	id, err := c.Connect(conn)
	require.NoError(t, err)
	require.Equal(t, uint64(0xaa), id)
}

func TestRetransmitWaitDoubles(t *testing.T) {
	require.Equal(t, 15*time.Second, retransmitWait(0))
	require.Equal(t, 30*time.Second, retransmitWait(1))
	require.Equal(t, 60*time.Second, retransmitWait(2))
}

func TestRoundTripRejectsOversizedPayload(t *testing.T) {
	addr := fakeTracker(t, false)
	conn, err := net.DialUDP("udp4", nil, addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = roundTrip(conn, make([]byte, maxDatagram+1), 16)
	require.Error(t, err)
	trkErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrMaxLength, trkErr.Kind)
}
