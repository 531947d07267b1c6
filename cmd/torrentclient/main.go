// Command torrentclient wires together every subsystem this
// repository specifies — tracker announce, DHT bootstrap/lookup, the
// peer handshaker, peer sessions, the extension/UtMetadata
// sub-protocol, and disk verification — into a single runnable
// client, the Go-native successor to the teacher's bare main.go (which
// only fetched a tracker response and printed it).
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/dht"
	"github.com/lvbealr/torrentd/diskverify"
	"github.com/lvbealr/torrentd/extension"
	"github.com/lvbealr/torrentd/handshake"
	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/mailbox"
	"github.com/lvbealr/torrentd/metainfo"
	"github.com/lvbealr/torrentd/peerconn"
	"github.com/lvbealr/torrentd/timer"
	"github.com/lvbealr/torrentd/trackerclient"
	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

const clientPrefix = "-TD0100-"

// localPeerID builds a BEP-20-style 20-byte peer-id: an 8-byte client
// identifier followed by 12 random bytes drawn from a fresh uuid.
func localPeerID() ids.PeerID {
	var id ids.PeerID
	copy(id[:], clientPrefix)
	u := uuid.New()
	copy(id[len(clientPrefix):], u[:])
	return id
}

func main() {
	torrentPath := flag.String("torrent", "", "path to a .torrent file")
	magnetHash := flag.String("magnet", "", "40-char hex info-hash to fetch (no .torrent file; metadata is fetched from peers over ut_metadata)")
	downloadDir := flag.String("dir", ".", "directory to download/verify into")
	listenPort := flag.Int("port", 6881, "TCP port to listen for incoming peers on")
	dhtPort := flag.Int("dht-port", 6881, "UDP port for the DHT node")
	enableDHT := flag.Bool("dht", true, "bootstrap the DHT and look up peers for this torrent")
	maxPeers := flag.Int("max-peers", 30, "maximum number of peer sessions to open")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	log.SetFormatter(&logrus.TextFormatter{ForceColors: term.IsTerminal(int(os.Stdout.Fd())), FullTimestamp: true})

	if *torrentPath == "" && *magnetHash == "" {
		fmt.Fprintln(os.Stderr, "torrentclient: one of -torrent or -magnet is required")
		os.Exit(2)
	}

	var file *metainfo.File
	switch {
	case *torrentPath != "":
		var err error
		file, err = metainfo.Parse(*torrentPath)
		if err != nil {
			log.WithError(err).Fatal("parsing torrent file")
		}
	default:
		raw, err := hex.DecodeString(*magnetHash)
		if err != nil || len(raw) != ids.Size {
			log.WithField("magnet", *magnetHash).Fatal("magnet hash must be 40 hex characters")
		}
		h, err := ids.InfoHashFromBytes(raw)
		if err != nil {
			log.WithError(err).Fatal("parsing magnet hash")
		}
		file = &metainfo.File{InfoHash: h}
	}
	colorstring.Println(fmt.Sprintf("[green]loaded[reset] %s info-hash [cyan]%s[reset]", describeFile(file), file.InfoHash))

	sched := timer.New()
	defer sched.CancelAll()

	hub := newExtensionHub(file, *downloadDir, sched, log)
	if hub.haveInfo {
		if err := verifyOnDisk(file, *downloadDir, log); err != nil {
			log.WithError(err).Fatal("validating on-disk layout")
		}
	}

	local := localPeerID()
	colorstring.Println(fmt.Sprintf("local peer-id: [cyan]%s[reset]", local))

	hs := handshake.New(local, 1, 1, 4, 3*time.Second, log.WithField("component", "handshake"))
	hs.Register(file.InfoHash)
	defer hs.Close()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", *listenPort))
	if err != nil {
		log.WithError(err).Fatal("listening for incoming peers")
	}
	defer listener.Close()
	go acceptLoop(listener, hs, log)

	peerAddrs := gatherPeers(file, *dhtPort, *enableDHT, local, log)
	colorstring.Println(fmt.Sprintf("[green]discovered[reset] %d candidate peers", len(peerAddrs)))

	initiated := 0
	for _, addr := range peerAddrs {
		if initiated >= *maxPeers {
			break
		}
		if err := hs.Initiate(addr, file.InfoHash, nil, true); err != nil {
			log.WithError(err).WithField("addr", addr).Debug("failed to enqueue handshake")
			continue
		}
		initiated++
	}

	go func() {
		for {
			sess, addr, err := hs.Next()
			if err == mailbox.ErrClosed {
				return
			}
			if err != nil || sess == nil {
				log.WithField("addr", addr).WithError(err).Debug("handshake did not complete")
				continue
			}
			log.WithField("addr", addr).WithField("peer_id", sess.PeerID).Info("handshake completed")
			session := peerconn.New(sess.Conn, sess.PeerID, sess.InfoHash, file.NumPieces(), 64, log.WithField("component", "peerconn"))
			hub.registerSession(session, sess.Extensions)
			go pumpSession(session, hub, log)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	colorstring.Println("[yellow]shutting down[reset]")
	hub.closeAll()
}

func describeFile(file *metainfo.File) string {
	if file.Info.Name != "" {
		return file.Info.Name
	}
	return "(metadata not yet fetched)"
}

// acceptLoop runs the responder half of the handshake for incoming
// connections, per spec.md §4.5.
func acceptLoop(listener net.Listener, hs *handshake.Handshaker, log *logrus.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go func() {
			sess, err := hs.Accept(conn, true)
			if err != nil {
				log.WithError(err).Debug("inbound handshake failed")
				return
			}
			log.WithField("peer_id", sess.PeerID).Info("accepted inbound peer")
		}()
	}
}

// pumpSession forwards every session event to the selection layer's
// stand-in (logging) and, for Extended messages, to the extension hub.
func pumpSession(s *peerconn.Session, hub *extensionHub, log *logrus.Logger) {
	defer hub.unregisterSession(s.PeerID)
	for ev := range s.Events {
		switch ev.Kind {
		case peerconn.EventDisconnected:
			log.WithField("peer_id", s.PeerID).WithError(ev.Err).Debug("peer disconnected")
			return
		case peerconn.EventMessage:
			if ev.Message.ID == peerconn.Extended {
				hub.handleExtended(s, ev.Message)
				continue
			}
			log.WithFields(logrus.Fields{"peer_id": s.PeerID, "message": ev.Message.ID}).Debug("peer message")
		}
	}
}

// extensionHub owns the extension/UtMetadata state shared by every
// peer session: each peer's advertised extension ids, and (when this
// torrent's metadata isn't already known, the -magnet flow) the single
// Requester fetching it, per spec.md §4.6.
type extensionHub struct {
	mu          sync.Mutex
	file        *metainfo.File
	downloadDir string
	sched       *timer.Scheduler
	log         *logrus.Logger
	ours        extension.Handshake
	peers       map[ids.PeerID]*extension.PeerInfo
	sessions    map[ids.PeerID]*peerconn.Session
	haveInfo    bool
	infoBytes   []byte
	requester   *extension.Requester
}

func newExtensionHub(file *metainfo.File, downloadDir string, sched *timer.Scheduler, log *logrus.Logger) *extensionHub {
	ours := extension.NewHandshake()
	ours.SubIDs[extension.UtMetadata] = 1

	haveInfo := file.Info.Pieces != ""
	var infoBytes []byte
	if haveInfo {
		infoBytes = file.InfoBytes()
		ours.MetadataSize = int64(len(infoBytes))
	}

	return &extensionHub{
		file:        file,
		downloadDir: downloadDir,
		sched:       sched,
		log:         log,
		ours:        ours,
		peers:       make(map[ids.PeerID]*extension.PeerInfo),
		sessions:    make(map[ids.PeerID]*peerconn.Session),
		haveInfo:    haveInfo,
		infoBytes:   infoBytes,
	}
}

// registerSession records a newly-handshaken session and, if the
// session negotiated extensions, sends our extended handshake.
func (h *extensionHub) registerSession(s *peerconn.Session, extensionsSupported bool) {
	h.mu.Lock()
	ours := h.ours
	h.peers[s.PeerID] = extension.NewPeerInfo(ours)
	h.sessions[s.PeerID] = s
	h.mu.Unlock()

	if !extensionsSupported {
		return
	}
	if err := s.Send(peerconn.EncodeExtended(0, ours.Encode())); err != nil {
		h.log.WithError(err).WithField("peer_id", s.PeerID).Debug("sending extended handshake")
	}
}

func (h *extensionHub) unregisterSession(peer ids.PeerID) {
	h.mu.Lock()
	delete(h.peers, peer)
	delete(h.sessions, peer)
	requester := h.requester
	h.mu.Unlock()
	if requester != nil {
		requester.RemovePeer(peer)
	}
}

// send implements extension.SendFunc: it tags the outgoing ut_metadata
// payload with the sub-id the target peer told us to use, per BEP-10.
func (h *extensionHub) send(peer ids.PeerID, payload []byte) error {
	h.mu.Lock()
	info, ok := h.peers[peer]
	session := h.sessions[peer]
	h.mu.Unlock()
	if !ok || session == nil {
		return fmt.Errorf("extension hub: peer %s not connected", peer)
	}
	subID, ok := info.TheirSubID(extension.UtMetadata)
	if !ok {
		return fmt.Errorf("extension hub: peer %s does not advertise ut_metadata", peer)
	}
	return session.Send(peerconn.EncodeExtended(subID, payload))
}

func (h *extensionHub) handleExtended(s *peerconn.Session, msg peerconn.Message) {
	subID, payload, err := msg.DecodeExtended()
	if err != nil {
		h.log.WithError(err).WithField("peer_id", s.PeerID).Debug("decoding extended message")
		return
	}

	if subID == 0 {
		hs, err := extension.DecodeHandshake(payload)
		if err != nil {
			h.log.WithError(err).WithField("peer_id", s.PeerID).Debug("decoding extended handshake")
			return
		}
		h.mu.Lock()
		info, ok := h.peers[s.PeerID]
		h.mu.Unlock()
		if !ok {
			return
		}
		info.MergeTheirs(hs)
		h.maybeStartRequester(s.PeerID, info)
		return
	}

	h.mu.Lock()
	_, ok := h.peers[s.PeerID]
	ourUtMetadataID, haveID := h.ours.SubIDs[extension.UtMetadata]
	h.mu.Unlock()
	if !ok || !haveID || subID != ourUtMetadataID {
		return
	}

	wire, err := extension.DecodeMessage(payload)
	if err != nil {
		h.log.WithError(err).WithField("peer_id", s.PeerID).Debug("decoding ut_metadata message")
		return
	}

	h.mu.Lock()
	requester := h.requester
	h.mu.Unlock()

	switch wire.Kind {
	case extension.MsgRequest:
		h.serveMetadataRequest(s.PeerID, wire.Piece)
	case extension.MsgData:
		if requester != nil {
			requester.HandleData(s.PeerID, wire)
		}
	case extension.MsgReject:
		if requester != nil {
			requester.HandleReject(s.PeerID, wire)
		}
	}
}

// serveMetadataRequest answers a peer's ut_metadata request with our
// own info dictionary, when we have it; otherwise it rejects.
func (h *extensionHub) serveMetadataRequest(peer ids.PeerID, piece int64) {
	h.mu.Lock()
	haveInfo := h.haveInfo
	data := h.infoBytes
	h.mu.Unlock()

	offset := piece * extension.PieceSize
	if !haveInfo || offset >= int64(len(data)) {
		_ = h.send(peer, extension.EncodeMessage(extension.WireMessage{Kind: extension.MsgReject, Piece: piece}))
		return
	}
	end := offset + extension.PieceSize
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	_ = h.send(peer, extension.EncodeMessage(extension.WireMessage{
		Kind: extension.MsgData, Piece: piece, Total: int64(len(data)), Bytes: data[offset:end],
	}))
}

// maybeStartRequester lazily creates the Requester the first time a
// peer's merged handshake reveals a usable metadata size — the
// no-metadata (-magnet) flow spec.md §4.6 describes — and enrolls
// every already-eligible peer, not just the one that triggered it.
func (h *extensionHub) maybeStartRequester(triggering ids.PeerID, info *extension.PeerInfo) {
	if !info.SupportsUtMetadata() {
		return
	}

	h.mu.Lock()
	if h.haveInfo || h.requester != nil {
		r := h.requester
		h.mu.Unlock()
		if r != nil {
			r.AddPeer(triggering)
		}
		return
	}
	size := info.TheirMetadataSize()
	r := extension.NewRequester(h.file.InfoHash, size, h.send, h.sched)
	h.requester = r
	var eligible []ids.PeerID
	for peer, pinfo := range h.peers {
		if pinfo.SupportsUtMetadata() {
			eligible = append(eligible, peer)
		}
	}
	h.mu.Unlock()

	go h.awaitMetadata(r)
	for _, peer := range eligible {
		r.AddPeer(peer)
	}
}

// awaitMetadata blocks for the Requester's single completion, then
// installs the fetched info dictionary and kicks off disk verification
// the same way the -torrent flow does up front.
func (h *extensionHub) awaitMetadata(r *extension.Requester) {
	result := <-r.Done
	if result.Err != nil {
		h.log.WithError(result.Err).Error("fetching metadata over ut_metadata")
		return
	}

	var info metainfo.Info
	if err := bencode.UnmarshalStruct(bytes.NewReader(result.Bytes), &info); err != nil {
		h.log.WithError(err).Error("decoding fetched metadata")
		return
	}

	h.mu.Lock()
	h.file.Info = info
	h.haveInfo = true
	h.infoBytes = result.Bytes
	h.ours.MetadataSize = int64(len(result.Bytes))
	h.mu.Unlock()

	colorstring.Println(fmt.Sprintf("[green]fetched metadata[reset] %s (%d pieces)", info.Name, h.file.NumPieces()))
	if err := verifyOnDisk(h.file, h.downloadDir, h.log); err != nil {
		h.log.WithError(err).Error("verifying fetched torrent's on-disk layout")
	}
}

func (h *extensionHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		s.Close()
	}
}

// verifyOnDisk opens/creates the torrent's files and validates any
// pre-existing piece data, reporting progress the way torrentcreate
// reports hashing progress.
func verifyOnDisk(file *metainfo.File, downloadDir string, log *logrus.Logger) error {
	specs := diskverify.BuildFileSpecs(file, downloadDir)
	accessor := diskverify.NewAccessor(specs)
	if err := accessor.ValidateAndOpen(); err != nil {
		return err
	}

	checker := diskverify.NewChecker(file, file.InfoHash, accessor, file.NumPieces(), log.WithField("component", "diskverify"))
	bar := progressbar.NewOptions(file.NumPieces(),
		progressbar.OptionSetDescription("verifying pieces"), progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(), progressbar.OptionThrottle(100*time.Millisecond))
	if err := checker.ValidateExisting(); err != nil {
		return err
	}
	goodCount := 0
	for i := 0; i < file.NumPieces(); i++ {
		ev := <-checker.Events()
		_ = bar.Add(1)
		if ev.Good {
			goodCount++
		}
	}
	_ = bar.Finish()
	colorstring.Println(fmt.Sprintf("[yellow]have[reset] %d/%d pieces on disk already", goodCount, file.NumPieces()))
	return nil
}

// gatherPeers announces to every tracker the torrent names and, if
// enabled, bootstraps a DHT node and looks up peers for this
// info-hash, merging every address found.
func gatherPeers(file *metainfo.File, dhtPort int, enableDHT bool, local ids.PeerID, log *logrus.Logger) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(addr string) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	req := trackerclient.AnnounceRequest{
		InfoHash: [20]byte(file.InfoHash),
		PeerID:   [20]byte(local),
		Left:     uint64(file.TotalLength()),
		Event:    trackerclient.EventStarted,
		NumWant:  50,
		Port:     uint16(dhtPort),
	}

	for _, url := range file.TrackerURLs() {
		switch {
		case strings.HasPrefix(url, "udp://"):
			addr, err := net.ResolveUDPAddr("udp4", strings.TrimPrefix(strings.TrimSuffix(url, "/announce"), "udp://"))
			if err != nil {
				log.WithError(err).WithField("tracker", url).Debug("resolving udp tracker")
				continue
			}
			resp, err := trackerclient.New(addr, log.WithField("component", "trackerclient")).Announce(req)
			if err != nil {
				log.WithError(err).WithField("tracker", url).Debug("udp announce failed")
				continue
			}
			for _, p := range resp.Peers {
				add(p.String())
			}
		case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
			resp, err := trackerclient.AnnounceHTTP(url, req, log.WithField("component", "trackerclient"))
			if err != nil {
				log.WithError(err).WithField("tracker", url).Debug("http announce failed")
				continue
			}
			for _, p := range resp.Peers {
				add(p.String())
			}
		}
	}

	if enableDHT {
		for _, addr := range dhtPeers(file, dhtPort, log) {
			add(addr)
		}
	}

	return out
}

// dhtPeers bootstraps a short-lived DHT node against the well-known
// router bootstrap hosts, then runs a single get_peers lookup for the
// torrent's info-hash.
func dhtPeers(file *metainfo.File, dhtPort int, log *logrus.Logger) []string {
	localID, err := ids.Random()
	if err != nil {
		log.WithError(err).Debug("generating dht node id")
		return nil
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: dhtPort})
	if err != nil {
		log.WithError(err).Debug("opening dht socket")
		return nil
	}
	defer conn.Close()

	engine := dht.New(localID, conn, log.WithField("component", "dht"))
	go engine.Run()
	defer engine.Close()

	routers := []string{"router.bittorrent.com:6881", "dht.transmissionbt.com:6881", "router.utorrent.com:6881"}
	var seeds []*net.UDPAddr
	for _, r := range routers {
		if addr, err := net.ResolveUDPAddr("udp4", r); err == nil {
			seeds = append(seeds, addr)
		}
	}

	engine.Bootstrap(seeds, nil)

	contacts := engine.Lookup(file.InfoHash)

	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.String())
	}
	return out
}
