package extension

import (
	"crypto/sha1"
	"testing"
	"time"

	"github.com/lvbealr/torrentd/ids"
	"github.com/lvbealr/torrentd/timer"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	msg := WireMessage{Kind: MsgData, Piece: 2, Total: 40000, Bytes: []byte("hello metadata")}
	decoded, err := DecodeMessage(EncodeMessage(msg))
	require.NoError(t, err)
	require.Equal(t, MsgData, decoded.Kind)
	require.Equal(t, int64(2), decoded.Piece)
	require.Equal(t, []byte("hello metadata"), decoded.Bytes)
}

func TestEncodeDecodeRequestMessage(t *testing.T) {
	msg := WireMessage{Kind: MsgRequest, Piece: 7}
	decoded, err := DecodeMessage(EncodeMessage(msg))
	require.NoError(t, err)
	require.Equal(t, MsgRequest, decoded.Kind)
	require.Equal(t, int64(7), decoded.Piece)
}

func TestRequesterFetchesAndVerifiesMetadata(t *testing.T) {
	data := make([]byte, PieceSize*2+100)
	for i := range data {
		data[i] = byte(i)
	}
	infoHash := ids.InfoHash(sha1.Sum(data))

	peer, err := ids.Random()
	require.NoError(t, err)

	sched := timer.New()
	defer sched.CancelAll()

	var sentPieces []int64
	send := func(to ids.PeerID, payload []byte) error {
		msg, err := DecodeMessage(payload)
		require.NoError(t, err)
		require.Equal(t, MsgRequest, msg.Kind)
		sentPieces = append(sentPieces, msg.Piece)
		return nil
	}

	r := NewRequester(infoHash, int64(len(data)), send, sched)
	r.AddPeer(ids.PeerID(peer))

	require.Eventually(t, func() bool { return len(sentPieces) == 3 }, time.Second, time.Millisecond)

	for _, piece := range sentPieces {
		start := piece * PieceSize
		end := start + PieceSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		r.HandleData(ids.PeerID(peer), WireMessage{Kind: MsgData, Piece: piece, Total: int64(len(data)), Bytes: data[start:end]})
	}

	select {
	case result := <-r.Done:
		require.NoError(t, result.Err)
		require.Equal(t, data, result.Bytes)
	case <-time.After(time.Second):
		t.Fatal("requester never completed")
	}
}

func TestRequesterRetriesOnHashMismatchWithoutConsumingDone(t *testing.T) {
	data := make([]byte, PieceSize)
	for i := range data {
		data[i] = byte(i)
	}
	// infoHash deliberately does not match data, forcing finish() down
	// the mismatch path the first time the buffer fills.
	wrongHash := ids.InfoHash(sha1.Sum(append([]byte{0xFF}, data...)))

	peer, err := ids.Random()
	require.NoError(t, err)

	sched := timer.New()
	defer sched.CancelAll()

	var sentPieces []int64
	send := func(to ids.PeerID, payload []byte) error {
		msg, err := DecodeMessage(payload)
		require.NoError(t, err)
		sentPieces = append(sentPieces, msg.Piece)
		return nil
	}

	r := NewRequester(wrongHash, int64(len(data)), send, sched)
	r.AddPeer(ids.PeerID(peer))

	require.Eventually(t, func() bool { return len(sentPieces) >= 1 }, time.Second, time.Millisecond)
	r.HandleData(ids.PeerID(peer), WireMessage{Kind: MsgData, Piece: 0, Total: int64(len(data)), Bytes: data})

	select {
	case <-r.Done:
		t.Fatal("a hash mismatch must retry silently, not report on Done")
	case <-time.After(100 * time.Millisecond):
	}

	// The piece was put back into pending/retried, not dropped.
	require.Eventually(t, func() bool { return len(sentPieces) >= 2 }, time.Second, time.Millisecond)
}

func TestRequesterRequeuesOnReject(t *testing.T) {
	data := make([]byte, PieceSize)
	infoHash := ids.InfoHash(sha1.Sum(data))

	peerA, err := ids.Random()
	require.NoError(t, err)

	sched := timer.New()
	defer sched.CancelAll()

	attempts := 0
	send := func(to ids.PeerID, payload []byte) error {
		attempts++
		return nil
	}

	r := NewRequester(infoHash, int64(len(data)), send, sched)
	r.AddPeer(ids.PeerID(peerA))

	require.Eventually(t, func() bool { return attempts >= 1 }, time.Second, time.Millisecond)

	r.HandleReject(ids.PeerID(peerA), WireMessage{Kind: MsgReject, Piece: 0})

	require.Eventually(t, func() bool { return attempts >= 2 }, time.Second, time.Millisecond)
}
