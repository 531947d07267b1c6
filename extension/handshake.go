// Package extension implements the extension-message subsystem of
// spec.md §4.6: the extended-handshake dict (sub-id 0) and a
// per-peer registry of advertised sub-ids, plus (in utmetadata.go) the
// UtMetadata sub-protocol used to transfer the info dictionary.
// Grounded on original_source/bip_peer/src/message/bits_ext/handshake.rs
// (the `m` dict / ExtendedMessageBuilder shape) and
// original_source/bip_select/src/discovery/ut_metadata.rs.
package extension

import (
	"fmt"
	"sync"

	"github.com/lvbealr/torrentd/bencode"
)

// Well-known extension names, matching the `m` dict keys real clients use.
const (
	UtMetadata = "ut_metadata"
	UtPex      = "ut_pex"
)

const (
	mapKey          = "m"
	metadataSizeKey = "metadata_size"
)

// Handshake is a decoded or to-be-encoded extended-handshake dictionary.
type Handshake struct {
	// SubIDs maps an extension name to the sub-id this side wants
	// messages of that extension tagged with.
	SubIDs map[string]uint8
	// MetadataSize is the local info-dictionary size in bytes, 0 if
	// not yet known or not being served.
	MetadataSize int64
	// Custom holds any additional top-level entries beyond "m" and
	// "metadata_size", preserved verbatim as bencode values.
	Custom map[string]bencode.Value
}

// NewHandshake creates an empty Handshake.
func NewHandshake() Handshake {
	return Handshake{SubIDs: map[string]uint8{}, Custom: map[string]bencode.Value{}}
}

// Encode serializes h to its bencoded dict form.
func (h Handshake) Encode() []byte {
	mEntries := make([]bencode.DictEntry, 0, len(h.SubIDs))
	for name, id := range h.SubIDs {
		mEntries = append(mEntries, bencode.DictEntry{Key: []byte(name), Value: bencode.NewInt(int64(id))})
	}

	entries := []bencode.DictEntry{
		{Key: []byte(mapKey), Value: bencode.NewDict(mEntries)},
	}
	if h.MetadataSize > 0 {
		entries = append(entries, bencode.DictEntry{Key: []byte(metadataSizeKey), Value: bencode.NewInt(h.MetadataSize)})
	}
	for key, v := range h.Custom {
		entries = append(entries, bencode.DictEntry{Key: []byte(key), Value: v})
	}

	return bencode.Encode(bencode.NewDict(entries))
}

// DecodeHandshake parses a peer's extended-handshake payload.
func DecodeHandshake(payload []byte) (Handshake, error) {
	v, err := bencode.DecodeFull(payload)
	if err != nil {
		return Handshake{}, fmt.Errorf("extension: decoding handshake: %w", err)
	}
	dict, ok := v.AsDict()
	if !ok {
		return Handshake{}, fmt.Errorf("extension: handshake is not a dict")
	}

	h := NewHandshake()
	for _, entry := range dict {
		switch string(entry.Key) {
		case mapKey:
			mDict, ok := entry.Value.AsDict()
			if !ok {
				return Handshake{}, fmt.Errorf("extension: m field is not a dict")
			}
			for _, m := range mDict {
				id, ok := m.Value.AsInt()
				if !ok {
					continue
				}
				h.SubIDs[string(m.Key)] = uint8(id)
			}
		case metadataSizeKey:
			size, _ := entry.Value.AsInt()
			h.MetadataSize = size
		default:
			h.Custom[string(entry.Key)] = entry.Value
		}
	}
	return h, nil
}

// PeerInfo is the narrow, read-only-to-outsiders per-peer extension
// state spec.md §5 calls out: "the extended-peer-info table, owned by
// the extension module and accessed by discovery modules through a
// narrow read-only ... trait".
type PeerInfo struct {
	mu    sync.RWMutex
	ours  Handshake
	their Handshake
}

// NewPeerInfo creates an empty PeerInfo, recording our own advertised handshake.
func NewPeerInfo(ours Handshake) *PeerInfo {
	return &PeerInfo{ours: ours, their: NewHandshake()}
}

// MergeTheirs applies a newly-received extended handshake, updating
// (not replacing) the peer's advertised sub-ids: re-sending a new
// extended handshake merges keys rather than clearing prior state.
func (p *PeerInfo) MergeTheirs(h Handshake) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, id := range h.SubIDs {
		p.their.SubIDs[name] = id
	}
	if h.MetadataSize > 0 {
		p.their.MetadataSize = h.MetadataSize
	}
	for key, v := range h.Custom {
		p.their.Custom[key] = v
	}
}

// TheirSubID returns the sub-id the peer last advertised for name.
func (p *PeerInfo) TheirSubID(name string) (uint8, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.their.SubIDs[name]
	return id, ok
}

// OurSubID returns the sub-id we advertise for name.
func (p *PeerInfo) OurSubID(name string) (uint8, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.ours.SubIDs[name]
	return id, ok
}

// TheirMetadataSize returns the peer's advertised info-dictionary size.
func (p *PeerInfo) TheirMetadataSize() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.their.MetadataSize
}

// SupportsUtMetadata reports whether both sides advertise ut_metadata
// and the peer has told us a metadata size, the precondition
// spec.md §4.6 requires before a UtMetadata exchange can begin.
func (p *PeerInfo) SupportsUtMetadata() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, weSupport := p.ours.SubIDs[UtMetadata]
	_, theySupport := p.their.SubIDs[UtMetadata]
	return weSupport && theySupport && p.their.MetadataSize > 0
}
