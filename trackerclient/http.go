package trackerclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	bencodego "github.com/jackpal/bencode-go"
	"github.com/sirupsen/logrus"
)

// httpTrackerResponse mirrors the bencoded dict an HTTP tracker
// returns, marshaled via the same github.com/jackpal/bencode-go struct
// path the metainfo parser uses.
type httpTrackerResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// AnnounceHTTP performs a GET-based HTTP/HTTPS tracker announce,
// generalized from the teacher's SendHTTPTrackerRequest.
func AnnounceHTTP(announceURL string, req AnnounceRequest, log *logrus.Entry) (*AnnounceResponse, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: parsing announce url: %w", err)
	}

	q := url.Values{}
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", string(req.PeerID[:]))
	q.Set("port", fmt.Sprintf("%d", req.Port))
	q.Set("uploaded", fmt.Sprintf("%d", req.Uploaded))
	q.Set("downloaded", fmt.Sprintf("%d", req.Downloaded))
	q.Set("left", fmt.Sprintf("%d", req.Left))
	q.Set("compact", "1")
	switch req.Event {
	case EventStarted:
		q.Set("event", "started")
	case EventStopped:
		q.Set("event", "stopped")
	case EventCompleted:
		q.Set("event", "completed")
	}
	u.RawQuery = q.Encode()

	client := &http.Client{Timeout: 15 * time.Second}
	httpReq, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: building http request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "torrentd/1.0")

	if log != nil {
		log.WithField("url", u.String()).Debug("announcing to http tracker")
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(ErrServerError, fmt.Sprintf("http status %d", resp.StatusCode))
	}

	var parsed httpTrackerResponse
	if err := bencodego.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("trackerclient: decoding tracker response: %w", err)
	}
	if parsed.Failure != "" {
		return nil, newError(ErrServerMessage, parsed.Failure)
	}

	out := &AnnounceResponse{Interval: parsed.Interval}
	peerBytes := []byte(parsed.Peers)
	for i := 0; i+6 <= len(peerBytes); i += 6 {
		ip := net.IPv4(peerBytes[i], peerBytes[i+1], peerBytes[i+2], peerBytes[i+3])
		port := int(peerBytes[i+4])<<8 | int(peerBytes[i+5])
		out.Peers = append(out.Peers, net.TCPAddr{IP: ip, Port: port})
	}
	return out, nil
}
