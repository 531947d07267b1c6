// Package trackerclient implements the UDP tracker client protocol
// spec.md §4.4 describes (connect/announce/scrape, the 15·2ⁿ
// retransmit ladder, the 60-second connection-id lifetime) plus an
// HTTP tracker fallback, generalized from the teacher's
// torrent/tracker.go (SendUDPTrackerRequest/SendHTTPTrackerRequest) and
// its retry loop, with scrape support grounded on
// original_source/bip_utracker/src/scrape.rs.
package trackerclient

import "net"

// Action identifies a UDP tracker protocol action.
type Action uint32

const (
	ActionConnect  Action = 0
	ActionAnnounce Action = 1
	ActionScrape   Action = 2
	ActionError    Action = 3
)

// Event is the announce event code sent in an Announce request.
type Event uint32

const (
	EventNone      Event = 0
	EventCompleted Event = 1
	EventStarted   Event = 2
	EventStopped   Event = 3
)

// AnnounceRequest carries the parameters of one announce call.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded uint64
	Left       uint64
	Uploaded   uint64
	Event      Event
	IP         uint32
	Key        uint32
	NumWant    int32
	Port       uint16
}

// AnnounceResponse is the parsed result of a successful announce.
type AnnounceResponse struct {
	Interval int
	Leechers uint32
	Seeders  uint32
	Peers    []net.TCPAddr
}

// ScrapeResult is the per-info-hash result of a scrape.
type ScrapeResult struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

// connectionLifetime is how long a connection-id remains valid once
// obtained, per spec.md §4.4.
const connectionLifetime = 60
