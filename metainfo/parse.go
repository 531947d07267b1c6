package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/ids"
)

// Parse loads and parses a .torrent file from path. It generalizes the
// teacher's Parse/computeInfoHash/extractInfoBytes: rather than
// scanning for a literal "4:info" prefix, it decodes the whole file
// into a bencode.Value tree (which already enforces canonical,
// sorted-key bencode per spec.md §9) and re-encodes the "info" entry's
// own subtree to obtain the exact bytes whose sha1 is the torrent's
// identity.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory .torrent file.
func ParseBytes(data []byte) (*File, error) {
	root, err := bencode.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: decoding: %w", err)
	}

	infoVal, ok := root.Get("info")
	if !ok {
		return nil, fmt.Errorf("metainfo: missing %q key", "info")
	}

	var file File
	if err := bencode.UnmarshalStruct(bytes.NewReader(data), &file); err != nil {
		return nil, fmt.Errorf("metainfo: decoding struct: %w", err)
	}

	infoBytes := bencode.Encode(infoVal)
	sum := sha1.Sum(infoBytes)
	h, err := ids.InfoHashFromBytes(sum[:])
	if err != nil {
		return nil, err
	}
	file.InfoHash = h

	return &file, nil
}
