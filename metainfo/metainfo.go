// Package metainfo parses and represents .torrent files, per spec.md
// §6's "Torrent metainfo (selected keys)". It is a direct
// generalization of the teacher's torrent.go: the same struct tags,
// widened to the full selected-key set (multi-file entries, DHT
// bootstrap nodes, v2 piece-layers fields) and with the final
// InfoHash computed from the info dictionary's own encoding rather
// than a hand-rolled byte scan.
package metainfo

import "github.com/lvbealr/torrentd/ids"

// FileEntry is one entry of a multi-file torrent's "files" list.
type FileEntry struct {
	Length     int64                  `bencode:"length"`
	Path       []string               `bencode:"path"`
	MD5Sum     string                 `bencode:"md5sum,omitempty"`
	PiecesRoot string                 `bencode:"pieces root,omitempty"`
	Custom     map[string]interface{} `bencode:"-"`
}

// Info is the torrent's "info" dictionary — the part that is hashed to
// produce the torrent's identity.
type Info struct {
	PieceLength int64                  `bencode:"piece length"`
	Pieces      string                 `bencode:"pieces"`
	Name        string                 `bencode:"name"`
	Length      int64                  `bencode:"length,omitempty"`
	Files       []FileEntry            `bencode:"files,omitempty"`
	MD5Sum      string                 `bencode:"md5sum,omitempty"`
	Private     int                    `bencode:"private,omitempty"`
	Source      string                 `bencode:"source,omitempty"`
	MetaVersion int                    `bencode:"meta version,omitempty"`
	PieceLayers map[string]string      `bencode:"piece layers,omitempty"`
	PiecesRoot  string                 `bencode:"pieces root,omitempty"`
	Custom      map[string]interface{} `bencode:"-"`
}

// File is the root dictionary of a .torrent file.
type File struct {
	Announce     string          `bencode:"announce,omitempty"`
	AnnounceList [][]string      `bencode:"announce-list,omitempty"`
	Comment      string          `bencode:"comment,omitempty"`
	CreatedBy    string          `bencode:"created by,omitempty"`
	CreationDate int64           `bencode:"creation date,omitempty"`
	Encoding     string          `bencode:"encoding,omitempty"`
	Info         Info            `bencode:"info"`
	Nodes        [][]interface{} `bencode:"nodes,omitempty"`
	URLList      []string        `bencode:"url-list,omitempty"`
	HTTPSeeds    []string        `bencode:"httpseeds,omitempty"`
	Publisher    string          `bencode:"publisher,omitempty"`
	PublisherURL string          `bencode:"publisher-url,omitempty"`
	Source       string          `bencode:"source,omitempty"`

	// InfoHash is not a wire field; it is computed by Parse/ParseBytes and Encode from
	// the encoded info dictionary.
	InfoHash ids.InfoHash `bencode:"-"`
}

// IsMultiFile reports whether this torrent uses the multi-file layout.
func (f *File) IsMultiFile() bool { return len(f.Info.Files) > 0 }

// TotalLength returns the sum of all file lengths described by the
// torrent, regardless of single- or multi-file layout.
func (f *File) TotalLength() int64 {
	if !f.IsMultiFile() {
		return f.Info.Length
	}
	var total int64
	for _, fe := range f.Info.Files {
		total += fe.Length
	}
	return total
}

// NumPieces returns the number of pieces described by Info.Pieces.
func (f *File) NumPieces() int { return len(f.Info.Pieces) / ids.Size }

// PieceHash returns the expected sha1 digest of piece i.
func (f *File) PieceHash(i int) (ids.InfoHash, bool) {
	if i < 0 || i >= f.NumPieces() {
		return ids.InfoHash{}, false
	}
	start := i * ids.Size
	h, _ := ids.InfoHashFromBytes([]byte(f.Info.Pieces[start : start+ids.Size]))
	return h, true
}

// PieceSize returns the length of piece i, accounting for the final,
// possibly short, piece.
func (f *File) PieceSize(i int) int64 {
	n := f.NumPieces()
	if i < n-1 {
		return f.Info.PieceLength
	}
	total := f.TotalLength()
	last := total - int64(n-1)*f.Info.PieceLength
	if last <= 0 {
		return f.Info.PieceLength
	}
	return last
}

// TrackerURLs returns every distinct tracker URL named by the torrent's
// announce/announce-list fields, in first-seen order — the same
// flatten-and-dedupe approach as the teacher's SendTrackerResponse
// (see DESIGN.md's Open Question #4).
func (f *File) TrackerURLs() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	add(f.Announce)
	for _, tier := range f.AnnounceList {
		for _, u := range tier {
			add(u)
		}
	}
	return out
}
