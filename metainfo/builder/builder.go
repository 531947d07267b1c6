// Package builder constructs a torrent's metainfo from a filesystem
// tree: it walks the files, slices them into piece-length regions, and
// hashes each piece on a worker pool, the Go shape of
// bip_metainfo/src/builder/worker.rs's start_hasher_workers/
// start_hash_master/start_hash_worker pipeline (an mpsc-queue fan-out
// in the original; here a buffered channel of work items consumed by
// a fixed goroutine pool, each reporting its result on a second
// channel the master collects and reorders by piece index).
package builder

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/lvbealr/torrentd/metainfo"
)

// Options configures a Build.
type Options struct {
	PieceLength int64
	Name        string
	Announce    string
	Comment     string
	CreatedBy   string
	NumWorkers  int
	// Progress, if non-nil, is called with the number of pieces hashed
	// so far after each piece completes.
	Progress func(done, total int)
}

type fileSpan struct {
	path   string
	length int64
	offset int64 // offset within the virtual concatenation of all files
}

type pieceWork struct {
	index  int
	data   []byte
}

type pieceResult struct {
	index int
	sum   [sha1.Size]byte
	err   error
}

// Build walks root (a single file or a directory tree) and produces a
// metainfo.File describing it, hashing every piece across Options.NumWorkers
// goroutines (defaulting to runtime.NumCPU()).
func Build(root string, opts Options) (*metainfo.File, error) {
	if opts.PieceLength <= 0 {
		return nil, fmt.Errorf("builder: piece length must be positive")
	}
	workers := opts.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("builder: stat %q: %w", root, err)
	}

	var spans []fileSpan
	var offset int64
	if info.IsDir() {
		err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			spans = append(spans, fileSpan{path: path, length: fi.Size(), offset: offset})
			offset += fi.Size()
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		spans = append(spans, fileSpan{path: root, length: info.Size(), offset: 0})
		offset = info.Size()
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].path < spans[j].path })

	total := offset
	numPieces := int((total + opts.PieceLength - 1) / opts.PieceLength)
	if total == 0 {
		numPieces = 0
	}

	hashes := make([][sha1.Size]byte, numPieces)
	work := make(chan pieceWork, workers*2)
	results := make(chan pieceResult, workers*2)

	for w := 0; w < workers; w++ {
		go hashWorker(work, results)
	}

	done := make(chan error, 1)
	go func() {
		done <- feedPieces(spans, opts.PieceLength, numPieces, work)
	}()

	received := 0
	var firstErr error
	for received < numPieces {
		r := <-results
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			received++
			continue
		}
		hashes[r.index] = r.sum
		received++
		if opts.Progress != nil {
			opts.Progress(received, numPieces)
		}
	}
	if err := <-done; err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	piecesBlob := make([]byte, 0, numPieces*sha1.Size)
	for _, h := range hashes {
		piecesBlob = append(piecesBlob, h[:]...)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(root)
	}

	file := &metainfo.File{
		Announce:  opts.Announce,
		Comment:   opts.Comment,
		CreatedBy: opts.CreatedBy,
		Info: metainfo.Info{
			PieceLength: opts.PieceLength,
			Pieces:      string(piecesBlob),
			Name:        name,
		},
	}

	if len(spans) == 1 && !info.IsDir() {
		file.Info.Length = spans[0].length
	} else {
		for _, s := range spans {
			rel, _ := filepath.Rel(root, s.path)
			file.Info.Files = append(file.Info.Files, metainfo.FileEntry{
				Length: s.length,
				Path:   strings.Split(filepath.ToSlash(rel), "/"),
			})
		}
	}

	return file, nil
}

// hashWorker is the Go analogue of start_hash_worker: it pulls whole
// piece buffers off work and reports their sha1 digest.
func hashWorker(work <-chan pieceWork, results chan<- pieceResult) {
	for w := range work {
		sum := sha1.Sum(w.data)
		results <- pieceResult{index: w.index, sum: sum}
	}
}

// feedPieces is the Go analogue of start_hash_master: it reads each
// file in span order, coalescing bytes into piece-length buffers and
// handing whole pieces to the worker pool — including the final,
// possibly short, piece.
func feedPieces(spans []fileSpan, pieceLength int64, numPieces int, work chan<- pieceWork) error {
	defer close(work)
	if numPieces == 0 {
		return nil
	}

	buf := make([]byte, 0, pieceLength)
	index := 0
	flush := func() {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		work <- pieceWork{index: index, data: cp}
		index++
		buf = buf[:0]
	}

	for _, span := range spans {
		f, err := os.Open(span.path)
		if err != nil {
			return fmt.Errorf("builder: opening %q: %w", span.path, err)
		}
		chunk := make([]byte, 1<<20)
		for {
			n, rerr := f.Read(chunk)
			if n > 0 {
				remaining := chunk[:n]
				for len(remaining) > 0 {
					space := int(pieceLength) - len(buf)
					take := space
					if take > len(remaining) {
						take = len(remaining)
					}
					buf = append(buf, remaining[:take]...)
					remaining = remaining[take:]
					if len(buf) == int(pieceLength) {
						flush()
					}
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				f.Close()
				return fmt.Errorf("builder: reading %q: %w", span.path, rerr)
			}
		}
		f.Close()
	}
	if len(buf) > 0 {
		flush()
	}
	return nil
}
