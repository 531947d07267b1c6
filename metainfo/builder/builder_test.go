package builder

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSingleFileHashesMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := make([]byte, 5*1024) // spans multiple 2KB pieces
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	const pieceLen = 2048
	file, err := Build(path, Options{PieceLength: pieceLen, NumWorkers: 2})
	require.NoError(t, err)

	require.Equal(t, int64(len(data)), file.Info.Length)
	require.Equal(t, (len(data)+pieceLen-1)/pieceLen, file.NumPieces())

	for i := 0; i < file.NumPieces(); i++ {
		start := i * pieceLen
		end := start + pieceLen
		if end > len(data) {
			end = len(data)
		}
		want := sha1.Sum(data[start:end])
		got, ok := file.PieceHash(i)
		require.True(t, ok)
		require.Equal(t, want[:], got.Bytes())
	}
}

func TestBuildReportsProgress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))

	var calls []int
	_, err := Build(path, Options{
		PieceLength: 1024,
		NumWorkers:  1,
		Progress:    func(done, total int) { calls = append(calls, done) },
	})
	require.NoError(t, err)
	require.Len(t, calls, 4)
}
