// Package diskverify implements the piece verifier of spec.md §4.7:
// block coalescing/merging, the validation cycle, and initial file
// validation, ported from
// original_source/bip_disk/src/disk/tasks/helpers/piece_checker.rs
// (PieceCheckerState, merge_piece_messages, run_with_whole_pieces).
package diskverify

import "sort"

// BlockMetadata describes one received block of piece data: where it
// sits within its piece, and how long it is. Bytes themselves are read
// back from a PieceAccessor when a piece becomes complete, not stored
// in the pending map.
type BlockMetadata struct {
	PieceIndex  int64
	BlockOffset int64
	BlockLength int
}

func (b BlockMetadata) end() int64 { return b.BlockOffset + int64(b.BlockLength) }

// mergeBlocks merges a with b if they are the same piece and overlap
// or touch end-to-end, per piece_checker.rs's merge_piece_messages.
func mergeBlocks(a, b BlockMetadata) (BlockMetadata, bool) {
	if a.PieceIndex != b.PieceIndex {
		return BlockMetadata{}, false
	}
	startA, endA := a.BlockOffset, a.end()
	startB, endB := b.BlockOffset, b.end()

	if startB >= startA && startB <= endA {
		end := endA
		if endB > end {
			end = endB
		}
		return BlockMetadata{PieceIndex: a.PieceIndex, BlockOffset: startA, BlockLength: int(end - startA)}, true
	}
	if startA >= startB && startA <= endB {
		end := endA
		if endB > end {
			end = endB
		}
		return BlockMetadata{PieceIndex: a.PieceIndex, BlockOffset: startB, BlockLength: int(end - startB)}, true
	}
	return BlockMetadata{}, false
}

// mergeList sorts msgs by block offset and repeatedly merges adjacent
// entries, matching PieceCheckerState.merge_pieces's single-pass
// pop-two-push-one algorithm.
func mergeList(msgs []BlockMetadata) []BlockMetadata {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].BlockOffset < msgs[j].BlockOffset })

	for {
		if len(msgs) < 2 {
			return msgs
		}
		last := msgs[len(msgs)-1]
		secondLast := msgs[len(msgs)-2]
		merged, ok := mergeBlocks(secondLast, last)
		if !ok {
			return msgs
		}
		msgs = msgs[:len(msgs)-2]
		msgs = append(msgs, merged)
	}
}

// pieceIsComplete reports whether msgs, after merging, amount to
// exactly one block spanning the whole piece (or the whole last
// piece, which may be shorter).
func pieceIsComplete(totalPieces int, lastPieceSize int, pieceLength int, msgs []BlockMetadata) bool {
	if len(msgs) != 1 {
		return false
	}
	m := msgs[0]
	if m.BlockLength == pieceLength {
		return true
	}
	isLastPiece := m.PieceIndex == int64(totalPieces-1)
	return isLastPiece && m.BlockLength == lastPieceSize
}
