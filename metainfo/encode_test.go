package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/lvbealr/torrentd/ids"
	"github.com/stretchr/testify/require"
)

func TestEncodeRoundTripsThroughParse(t *testing.T) {
	piece := []byte("hello world, this is a single piece torrent")
	sum := sha1.Sum(piece)
	f := &File{
		Announce:  "udp://tracker.example:80/announce",
		CreatedBy: "torrentd",
		Info: Info{
			PieceLength: int64(len(piece)),
			Pieces:      string(sum[:]),
			Name:        "file.bin",
			Length:      int64(len(piece)),
		},
	}

	encoded, err := f.Encode()
	require.NoError(t, err)
	require.NotEqual(t, ids.InfoHash{}, f.InfoHash)

	got, err := ParseBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, f.InfoHash, got.InfoHash)
	require.Equal(t, "file.bin", got.Info.Name)
	require.Equal(t, "udp://tracker.example:80/announce", got.Announce)
	require.Equal(t, "torrentd", got.CreatedBy)
	require.Equal(t, 1, got.NumPieces())

	h, ok := got.PieceHash(0)
	require.True(t, ok)
	require.Equal(t, sum[:], h.Bytes())
}

func TestEncodeMultiFileLayout(t *testing.T) {
	f := &File{
		Info: Info{
			PieceLength: 16,
			Pieces:      string(make([]byte, 20)),
			Name:        "bundle",
			Files: []FileEntry{
				{Length: 10, Path: []string{"a.txt"}},
				{Length: 20, Path: []string{"sub", "b.txt"}},
			},
		},
	}

	encoded, err := f.Encode()
	require.NoError(t, err)

	got, err := ParseBytes(encoded)
	require.NoError(t, err)
	require.True(t, got.IsMultiFile())
	require.Equal(t, int64(30), got.TotalLength())
	require.Len(t, got.Info.Files, 2)
	require.Equal(t, []string{"sub", "b.txt"}, got.Info.Files[1].Path)
}
