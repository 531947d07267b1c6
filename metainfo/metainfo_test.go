package metainfo

import (
	"crypto/sha1"
	"testing"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/stretchr/testify/require"
)

func buildTorrentBytes(t *testing.T, piece []byte) []byte {
	t.Helper()
	sum := sha1.Sum(piece)
	info := bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("length"), Value: bencode.NewInt(int64(len(piece)))},
		{Key: []byte("name"), Value: bencode.NewBytes([]byte("file.bin"))},
		{Key: []byte("piece length"), Value: bencode.NewInt(int64(len(piece)))},
		{Key: []byte("pieces"), Value: bencode.NewBytes(sum[:])},
	})
	root := bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("announce"), Value: bencode.NewBytes([]byte("udp://tracker.example:80/announce"))},
		{Key: []byte("info"), Value: info},
	})
	return bencode.Encode(root)
}

func TestParseComputesInfoHash(t *testing.T) {
	piece := []byte("hello world, this is a single piece torrent")
	data := buildTorrentBytes(t, piece)

	f, err := ParseBytes(data)
	require.NoError(t, err)
	require.Equal(t, "file.bin", f.Info.Name)
	require.Equal(t, int64(len(piece)), f.TotalLength())
	require.Equal(t, 1, f.NumPieces())

	h, ok := f.PieceHash(0)
	require.True(t, ok)
	sum := sha1.Sum(piece)
	require.Equal(t, sum[:], h.Bytes())

	require.Equal(t, []string{"udp://tracker.example:80/announce"}, f.TrackerURLs())
}

func TestTrackerURLsDedupesAnnounceList(t *testing.T) {
	f := &File{
		Announce:     "udp://a:1/announce",
		AnnounceList: [][]string{{"udp://a:1/announce", "udp://b:2/announce"}},
	}
	require.Equal(t, []string{"udp://a:1/announce", "udp://b:2/announce"}, f.TrackerURLs())
}
