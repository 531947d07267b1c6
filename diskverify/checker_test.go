package diskverify

import (
	"crypto/sha1"
	"path/filepath"
	"testing"
	"time"

	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/metainfo"
	"github.com/stretchr/testify/require"
)

func singlePieceFile(piece []byte) *metainfo.File {
	sum := sha1.Sum(piece)
	return &metainfo.File{
		Info: metainfo.Info{
			PieceLength: int64(len(piece)),
			Pieces:      string(sum[:]),
			Name:        "file.bin",
			Length:      int64(len(piece)),
		},
	}
}

func newTestChecker(t *testing.T, f *metainfo.File) (*Checker, *Accessor) {
	t.Helper()
	dir := t.TempDir()
	specs := BuildFileSpecs(f, dir)
	accessor := NewAccessor(specs)
	require.NoError(t, accessor.ValidateAndOpen())
	t.Cleanup(accessor.Close)

	var infoHash ids.InfoHash
	return NewChecker(f, infoHash, accessor, 4, nil), accessor
}

func TestCheckerEmitsGoodOnce(t *testing.T) {
	piece := []byte("0123456789abcdef0123456789abcdef")
	f := singlePieceFile(piece)
	checker, accessor := newTestChecker(t, f)

	require.NoError(t, accessor.WriteRange(0, piece))
	require.NoError(t, checker.Insert(BlockMetadata{PieceIndex: 0, BlockOffset: 0, BlockLength: len(piece)}))

	select {
	case ev := <-checker.Events():
		require.Equal(t, 0, ev.PieceIndex)
		require.True(t, ev.Good)
	case <-time.After(time.Second):
		t.Fatal("expected a Good event")
	}

	// Re-ingesting the same complete piece must not re-hash or
	// re-emit: the piece is already in the old-good set.
	require.NoError(t, checker.Insert(BlockMetadata{PieceIndex: 0, BlockOffset: 0, BlockLength: len(piece)}))
	select {
	case ev := <-checker.Events():
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestCheckerEmitsBadThenGoodOnRetry(t *testing.T) {
	piece := []byte("0123456789abcdef0123456789abcdef")
	f := singlePieceFile(piece)
	checker, accessor := newTestChecker(t, f)

	corrupted := append([]byte(nil), piece...)
	corrupted[0] ^= 0xFF
	require.NoError(t, accessor.WriteRange(0, corrupted))
	require.NoError(t, checker.Insert(BlockMetadata{PieceIndex: 0, BlockOffset: 0, BlockLength: len(piece)}))

	select {
	case ev := <-checker.Events():
		require.Equal(t, 0, ev.PieceIndex)
		require.False(t, ev.Good)
	case <-time.After(time.Second):
		t.Fatal("expected a Bad event")
	}
	require.False(t, checker.IsGood(0))

	require.NoError(t, accessor.WriteRange(0, piece))
	require.NoError(t, checker.Insert(BlockMetadata{PieceIndex: 0, BlockOffset: 0, BlockLength: len(piece)}))

	select {
	case ev := <-checker.Events():
		require.True(t, ev.Good)
	case <-time.After(time.Second):
		t.Fatal("expected a Good event on retry")
	}
}

func TestCheckerInitialValidation(t *testing.T) {
	pieceA := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	pieceB := []byte("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	sumA := sha1.Sum(pieceA)
	sumB := sha1.Sum(pieceB)

	f := &metainfo.File{
		Info: metainfo.Info{
			PieceLength: int64(len(pieceA)),
			Pieces:      string(sumA[:]) + string(sumB[:]),
			Name:        "full.bin",
			Length:      int64(len(pieceA) + len(pieceB)),
		},
	}

	dir := t.TempDir()
	specs := BuildFileSpecs(f, dir)
	accessor := NewAccessor(specs)
	require.NoError(t, accessor.ValidateAndOpen())
	defer accessor.Close()
	require.NoError(t, accessor.WriteRange(0, append(append([]byte{}, pieceA...), pieceB...)))

	var infoHash ids.InfoHash
	checker := NewChecker(f, infoHash, accessor, 4, nil)
	require.NoError(t, checker.ValidateExisting())

	seen := map[int]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-checker.Events():
			require.True(t, ev.Good)
			seen[ev.PieceIndex] = true
		case <-time.After(time.Second):
			t.Fatal("expected two Good events")
		}
	}
	require.True(t, seen[0])
	require.True(t, seen[1])
	require.True(t, checker.IsGood(0))
	require.True(t, checker.IsGood(1))
	require.FileExists(t, filepath.Join(dir, "full.bin"))
}
